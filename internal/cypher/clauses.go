package cypher

import (
	"strings"
)

// Clause is a statement part rendered on its own line(s).
type Clause interface {
	Cypher(env *Environment) string
	clause()
}

// =============================================================================
// Reading and writing
// =============================================================================

// Match renders MATCH (or OPTIONAL MATCH) with an optional WHERE.
type Match struct {
	Pattern  *Pattern
	Optional bool
	where    []Expr
}

// NewMatch creates a MATCH clause for p.
func NewMatch(p *Pattern) *Match {
	return &Match{Pattern: p}
}

// NewOptionalMatch creates an OPTIONAL MATCH clause for p.
func NewOptionalMatch(p *Pattern) *Match {
	return &Match{Pattern: p, Optional: true}
}

// Where conjoins predicates onto the clause. Nil predicates are ignored.
func (m *Match) Where(preds ...Expr) *Match {
	m.where = append(m.where, filterNilExprs(preds)...)
	return m
}

func (m *Match) clause() {}

// Cypher renders the clause.
func (m *Match) Cypher(env *Environment) string {
	kw := "MATCH "
	if m.Optional {
		kw = "OPTIONAL MATCH "
	}
	s := kw + m.Pattern.Cypher(env)
	if pred := And(m.where...); pred != nil {
		s += "\nWHERE " + pred.Cypher(env)
	}
	return s
}

// SetItem assigns a value to a property.
type SetItem struct {
	Property PropertyRef
	Value    Expr
}

func (s SetItem) render(env *Environment) string {
	return s.Property.Cypher(env) + " = " + s.Value.Cypher(env)
}

func renderSetItems(env *Environment, items []SetItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.render(env)
	}
	return strings.Join(parts, ", ")
}

// Create renders CREATE with an optional SET.
type Create struct {
	Pattern *Pattern
	Set     []SetItem
}

func (c *Create) clause() {}

// Cypher renders the clause.
func (c *Create) Cypher(env *Environment) string {
	s := "CREATE " + c.Pattern.Cypher(env)
	if len(c.Set) > 0 {
		s += "\nSET " + renderSetItems(env, c.Set)
	}
	return s
}

// Merge renders MERGE with independent ON CREATE / ON MATCH sets. Items may
// target either endpoint node or the relationship of the pattern.
type Merge struct {
	Pattern  *Pattern
	OnCreate []SetItem
	OnMatch  []SetItem
}

func (m *Merge) clause() {}

// Cypher renders the clause.
func (m *Merge) Cypher(env *Environment) string {
	s := "MERGE " + m.Pattern.Cypher(env)
	if len(m.OnCreate) > 0 {
		s += "\nON CREATE SET " + renderSetItems(env, m.OnCreate)
	}
	if len(m.OnMatch) > 0 {
		s += "\nON MATCH SET " + renderSetItems(env, m.OnMatch)
	}
	return s
}

// PropertySet builds SET items for target from values, one Param each, with
// keys sorted.
func PropertySet(target Variable, values map[string]any) []SetItem {
	m := MapFromValues(values)
	items := make([]SetItem, len(m.Entries))
	for i, e := range m.Entries {
		items[i] = SetItem{Property: PropertyRef{Target: target, Property: e.Key}, Value: e.Value}
	}
	return items
}

// Set renders a standalone SET.
type Set struct {
	Items []SetItem
}

func (s *Set) clause() {}

// Cypher renders the clause.
func (s *Set) Cypher(env *Environment) string {
	return "SET " + renderSetItems(env, s.Items)
}

// Delete renders DELETE or DETACH DELETE.
type Delete struct {
	Targets []Variable
	Detach  bool
}

func (d *Delete) clause() {}

// Cypher renders the clause.
func (d *Delete) Cypher(env *Environment) string {
	names := make([]string, len(d.Targets))
	for i, t := range d.Targets {
		names[i] = t.Cypher(env)
	}
	kw := "DELETE "
	if d.Detach {
		kw = "DETACH DELETE "
	}
	return kw + strings.Join(names, ", ")
}

// Unwind renders UNWIND expr AS var.
type Unwind struct {
	Expr Expr
	As   Variable
}

func (u *Unwind) clause() {}

// Cypher renders the clause.
func (u *Unwind) Cypher(env *Environment) string {
	s := "UNWIND " + u.Expr.Cypher(env) + " AS "
	env.bind(u.As)
	return s + env.VariableName(u.As)
}

// =============================================================================
// Projection
// =============================================================================

// Item is one projected expression, optionally aliased.
type Item struct {
	Expr Expr
	As   Variable
}

// SortItem orders by an expression.
type SortItem struct {
	Expr       Expr
	Descending bool
}

type projection struct {
	Items    []Item
	Distinct bool
	OrderBy  []SortItem
	Skip     Expr
	Limit    Expr
}

func (p projection) render(env *Environment, kw string) string {
	var b strings.Builder
	b.WriteString(kw)
	if p.Distinct {
		b.WriteString(" DISTINCT")
	}
	parts := make([]string, len(p.Items))
	for i, item := range p.Items {
		s := item.Expr.Cypher(env)
		if item.As != nil {
			env.bind(item.As)
			if name := env.VariableName(item.As); name != s {
				s += " AS " + name
			}
		} else if v, ok := item.Expr.(Variable); ok {
			env.bind(v)
		}
		parts[i] = s
	}
	if len(parts) == 0 {
		parts = []string{"*"}
	}
	b.WriteString(" ")
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(p.tail(env))
	return b.String()
}

// tail renders ORDER BY, SKIP and LIMIT.
func (p projection) tail(env *Environment) string {
	var b strings.Builder
	if len(p.OrderBy) > 0 {
		order := make([]string, len(p.OrderBy))
		for i, o := range p.OrderBy {
			order[i] = o.Expr.Cypher(env)
			if o.Descending {
				order[i] += " DESC"
			} else {
				order[i] += " ASC"
			}
		}
		b.WriteString("\nORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	}
	if p.Skip != nil {
		b.WriteString("\nSKIP ")
		b.WriteString(p.Skip.Cypher(env))
	}
	if p.Limit != nil {
		b.WriteString("\nLIMIT ")
		b.WriteString(p.Limit.Cypher(env))
	}
	return b.String()
}

// With renders WITH. WHERE follows ORDER BY/SKIP/LIMIT, as Cypher requires.
type With struct {
	Items    []Item
	Distinct bool
	Where    Expr
	OrderBy  []SortItem
	Skip     Expr
	Limit    Expr
}

// NewWith carries the given variables forward unchanged.
func NewWith(vars ...Variable) *With {
	w := &With{Items: make([]Item, len(vars))}
	for i, v := range vars {
		w.Items[i] = Item{Expr: v}
	}
	return w
}

func (w *With) clause() {}

// Cypher renders the clause.
func (w *With) Cypher(env *Environment) string {
	s := projection{
		Items:    w.Items,
		Distinct: w.Distinct,
		OrderBy:  w.OrderBy,
		Skip:     w.Skip,
		Limit:    w.Limit,
	}.render(env, "WITH")
	if w.Where != nil {
		s += "\nWHERE " + w.Where.Cypher(env)
	}
	return s
}

// Return renders RETURN.
type Return struct {
	Items    []Item
	Distinct bool
	OrderBy  []SortItem
	Skip     Expr
	Limit    Expr
}

// ReturnProjection returns target with a shorthand projection of fields,
// aliased as alias when it is non-nil.
func ReturnProjection(target Variable, fields []string, alias Variable) *Return {
	entries := make([]ProjectionEntry, len(fields))
	for i, f := range fields {
		entries[i] = ProjectionEntry{Key: f}
	}
	return &Return{Items: []Item{{Expr: MapProjection{Target: target, Entries: entries}, As: alias}}}
}

func (r *Return) clause() {}

// Cypher renders the clause.
func (r *Return) Cypher(env *Environment) string {
	return projection{
		Items:    r.Items,
		Distinct: r.Distinct,
		OrderBy:  r.OrderBy,
		Skip:     r.Skip,
		Limit:    r.Limit,
	}.render(env, "RETURN")
}

// =============================================================================
// Composition
// =============================================================================

// Query is a sequence of clauses rendered one after another.
type Query struct {
	Clauses []Clause
}

// Concat joins clauses into a Query, skipping nil entries and flattening
// nested queries.
func Concat(clauses ...Clause) *Query {
	q := &Query{}
	for _, c := range clauses {
		switch v := c.(type) {
		case nil:
			continue
		case *Query:
			if v == nil {
				continue
			}
			q.Clauses = append(q.Clauses, v.Clauses...)
		default:
			q.Clauses = append(q.Clauses, c)
		}
	}
	return q
}

func (q *Query) clause() {}

// Cypher renders every clause on its own line(s).
func (q *Query) Cypher(env *Environment) string {
	parts := make([]string, 0, len(q.Clauses))
	for _, c := range q.Clauses {
		if s := c.Cypher(env); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Call renders a CALL { ... } sub-query. Import lists the outer variables the
// sub-query reads. When the inner query does not end in RETURN, a counting
// return is appended so the sub-query runs once per outer row.
type Call struct {
	Import []Variable
	Inner  Clause
}

func (c *Call) clause() {}

// Cypher renders the sub-query.
func (c *Call) Cypher(env *Environment) string {
	var lines []string
	if len(c.Import) > 0 {
		names := make([]string, len(c.Import))
		for i, v := range c.Import {
			names[i] = v.Cypher(env)
		}
		lines = append(lines, "WITH "+strings.Join(names, ", "))
	}
	if c.Inner != nil {
		lines = append(lines, c.Inner.Cypher(env))
	}
	if !returns(c.Inner) {
		lines = append(lines, "RETURN count(*) AS _")
	}
	return "CALL {\n" + indent(strings.Join(lines, "\n")) + "\n}"
}

func returns(c Clause) bool {
	switch v := c.(type) {
	case *Return:
		return true
	case *Query:
		if v == nil || len(v.Clauses) == 0 {
			return false
		}
		return returns(v.Clauses[len(v.Clauses)-1])
	}
	return false
}

// YieldItem names a procedure output column.
type YieldItem struct {
	Field string
	As    Variable
}

// CallProcedure renders CALL name(args) [YIELD ...].
type CallProcedure struct {
	Name  string
	Args  []Expr
	Yield []YieldItem
}

func (c *CallProcedure) clause() {}

// Cypher renders the procedure call.
func (c *CallProcedure) Cypher(env *Environment) string {
	s := "CALL " + c.Name + "(" + joinRendered(env, c.Args, ", ") + ")"
	if len(c.Yield) == 0 {
		return s
	}
	return s + " YIELD " + renderYield(env, c.Yield)
}

func renderYield(env *Environment, items []YieldItem) string {
	parts := make([]string, len(items))
	for i, y := range items {
		env.bind(y.As)
		name := env.VariableName(y.As)
		if name == y.Field {
			parts[i] = name
		} else {
			parts[i] = y.Field + " AS " + name
		}
	}
	return strings.Join(parts, ", ")
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "\t" + l
	}
	return strings.Join(lines, "\n")
}
