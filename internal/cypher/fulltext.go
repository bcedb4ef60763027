package cypher

// FullTextQueryNodes renders a call to db.index.fulltext.queryNodes that binds
// each hit to Target and its relevance to Score. Predicates added with Where
// may reference either.
type FullTextQueryNodes struct {
	Target *Node
	Index  string
	Phrase Expr
	Score  Variable
	where  []Expr
}

// Where conjoins predicates onto the clause.
func (f *FullTextQueryNodes) Where(preds ...Expr) *FullTextQueryNodes {
	f.where = append(f.where, filterNilExprs(preds)...)
	return f
}

func (f *FullTextQueryNodes) clause() {}

// Cypher renders the call.
func (f *FullTextQueryNodes) Cypher(env *Environment) string {
	s := "CALL db.index.fulltext.queryNodes(" + quoteString(f.Index) + ", " + f.Phrase.Cypher(env) + ")"
	env.bind(f.Target)
	yield := []YieldItem{{Field: "node", As: f.Target}}
	if f.Score != nil {
		yield = append(yield, YieldItem{Field: "score", As: f.Score})
	}
	s += " YIELD " + renderYield(env, yield)
	var preds []Expr
	if len(f.Target.Labels) > 0 {
		labels := make([]Expr, len(f.Target.Labels))
		for i, l := range f.Target.Labels {
			labels[i] = In{Left: Lit(l), Right: Func{Name: "labels", Args: []Expr{f.Target}}}
		}
		preds = append(preds, labels...)
	}
	preds = append(preds, f.where...)
	if pred := And(preds...); pred != nil {
		s += "\nWHERE " + pred.Cypher(env)
	}
	return s
}
