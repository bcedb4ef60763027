package translate

import (
	"fmt"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/connection"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/projection"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

func (t *translator) read(entity *schema.ConcreteEntity, f *selection.Field) (statement, error) {
	node := cypher.NamedNode("this", entity.Labels...)
	r, err := t.rootRules(entity, node, schema.OperationRead, f.Args["where"])
	if err != nil {
		return statement{}, err
	}
	res, err := projection.Compose(t.request(entity, node, f))
	if err != nil {
		return statement{}, err
	}
	opts, err := projection.ParseOptions(f.Args)
	if err != nil {
		return statement{}, err
	}
	opts.Limit = entity.QueryOptions.Limit(opts.Limit)

	guard := authz.Guard(cypher.And(append([]cypher.Expr{r.guard}, res.Guards...)...))
	source, err := t.source(entity, node, f.Args["fulltext"], r.where, r.filter, res.Filter(), guard)
	if err != nil {
		return statement{}, err
	}
	connections, err := t.materialize(entity, node, res.Meta)
	if err != nil {
		return statement{}, err
	}

	ret := &cypher.Return{Items: []cypher.Item{{Expr: res.Projection, As: node}}}
	for _, s := range opts.Sort {
		ret.OrderBy = append(ret.OrderBy, cypher.SortItem{Expr: node.Property(s.Field), Descending: s.Descending})
	}
	if opts.Offset > 0 {
		ret.Skip = cypher.NewParam(opts.Offset)
	}
	if opts.Limit > 0 {
		ret.Limit = cypher.NewParam(opts.Limit)
	}

	clauses := []cypher.Clause{source}
	clauses = append(clauses, res.Subqueries...)
	clauses = append(clauses, connections...)
	clauses = append(clauses, ret)
	return statement{query: cypher.Concat(clauses...), column: ColumnThis, meta: res.Meta}, nil
}

// source binds node: a MATCH on its labels, or a full-text query when the
// fulltext argument is present. preds go into its WHERE.
func (t *translator) source(entity *schema.ConcreteEntity, node *cypher.Node, raw any, preds ...cypher.Expr) (cypher.Clause, error) {
	if raw == nil {
		return cypher.NewMatch(cypher.NewPattern(node)).Where(preds...), nil
	}
	m, ok := raw.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("%w: fulltext takes exactly one index", where.ErrInvalidArgument)
	}
	for name, rawIdx := range m {
		idx, ok := entity.FullTextIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no full-text index %s", where.ErrUnknownField, entity.Name, name)
		}
		args, ok := rawIdx.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: fulltext %s must be an object", where.ErrInvalidArgument, name)
		}
		phrase, ok := args["phrase"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: fulltext %s needs a phrase", where.ErrInvalidArgument, name)
		}
		score := cypher.NamedVariable("score")
		if raw, ok := args["score"]; ok && raw != nil {
			bounds, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: fulltext score must be an object", where.ErrInvalidArgument)
			}
			if v, ok := bounds["min"]; ok && v != nil {
				preds = append(preds, cypher.Gte{Left: score, Right: cypher.NewParam(v)})
			}
			if v, ok := bounds["max"]; ok && v != nil {
				preds = append(preds, cypher.Lte{Left: score, Right: cypher.NewParam(v)})
			}
		}
		ft := &cypher.FullTextQueryNodes{Target: node, Index: idx.Name, Phrase: cypher.NewParam(phrase), Score: score}
		return ft.Where(preds...), nil
	}
	return nil, nil
}

func (t *translator) aggregate(entity *schema.ConcreteEntity, f *selection.Field) (statement, error) {
	node := cypher.NamedNode("this", entity.Labels...)
	r, err := t.rootRules(entity, node, schema.OperationAggregate, f.Args["where"])
	if err != nil {
		return statement{}, err
	}
	agg, err := projection.Aggregate(t.request(entity, node, f))
	if err != nil {
		return statement{}, err
	}
	guard := authz.Guard(cypher.And(append([]cypher.Expr{r.guard}, agg.Guards...)...))
	source, err := t.source(entity, node, f.Args["fulltext"], r.where, r.filter, agg.Filter(), guard)
	if err != nil {
		return statement{}, err
	}
	ret := &cypher.Return{Items: []cypher.Item{{Expr: agg.Object, As: cypher.NamedVariable(ColumnThis)}}}
	return statement{query: cypher.Concat(source, ret), column: ColumnThis}, nil
}

// connection compiles a root connection: the matched nodes are collected
// as edges and paged by the connection package.
func (t *translator) connection(entity *schema.ConcreteEntity, f *selection.Field) (statement, error) {
	node := cypher.NamedNode("this", entity.Labels...)
	args, err := connection.ParseArgs(f.Args)
	if err != nil {
		return statement{}, err
	}
	var rawWhere any
	for key, v := range args.Where {
		if key != "node" {
			return statement{}, fmt.Errorf("%w: root connection where accepts node, got %s", where.ErrUnknownField, key)
		}
		rawWhere = v
	}
	r, err := t.rootRules(entity, node, schema.OperationRead, rawWhere)
	if err != nil {
		return statement{}, err
	}

	req := t.request(entity, node, connection.NodeSelection(f))
	req.ConnectionRoot = true
	res, err := projection.Compose(req)
	if err != nil {
		return statement{}, err
	}

	var entries []cypher.MapEntry
	for _, sub := range connection.EdgeFields(f) {
		switch sub.Name {
		case "node":
			entries = append(entries, cypher.MapEntry{Key: sub.Key(), Value: res.Projection})
		case "cursor", "__typename":
		default:
			return statement{}, fmt.Errorf("%w: %s edges have no field %s", where.ErrUnknownField, entity.Name, sub.Name)
		}
	}

	var order []cypher.SortItem
	for _, s := range args.Sort {
		attr, ok := entity.Attribute(s.Field)
		if s.Edge || !ok {
			return statement{}, fmt.Errorf("%w: cannot sort %s by %s", where.ErrInvalidArgument, entity.Plural, s.Field)
		}
		order = append(order, cypher.SortItem{Expr: node.Property(attr.Property()), Descending: s.Descending})
	}

	guard := authz.Guard(cypher.And(append([]cypher.Expr{r.guard}, res.Guards...)...))
	clauses := []cypher.Clause{cypher.NewMatch(cypher.NewPattern(node)).Where(r.where, r.filter, res.Filter(), guard)}
	clauses = append(clauses, res.Subqueries...)
	if len(order) > 0 {
		clauses = append(clauses, &cypher.With{OrderBy: order})
	}
	edges := cypher.NamedVariable("edges")
	clauses = append(clauses, &cypher.With{Items: []cypher.Item{{Expr: cypher.Collect(cypher.Map{Entries: entries}), As: edges}}})
	page, err := connection.Page(edges, args, f, cypher.NamedVariable(ColumnThis))
	if err != nil {
		return statement{}, err
	}
	clauses = append(clauses, page...)
	return statement{query: cypher.Concat(clauses...), column: ColumnThis, meta: res.Meta}, nil
}
