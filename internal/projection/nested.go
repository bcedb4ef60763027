package projection

import (
	"fmt"
	"sort"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/connection"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

// target is a compiled entity-valued position: the value projected for a
// bound node, the predicate that admits the node and the guard every
// admitted node must pass.
type target struct {
	value cypher.Expr
	pred  cypher.Expr
	guard cypher.Expr
	subs  []cypher.Clause
	meta  Meta
}

// concrete composes entity at node under its READ rules.
func (c *composer) concrete(entity *schema.ConcreteEntity, node *cypher.Node, sel *selection.Field, path []string, resolveType bool) (target, error) {
	filter, guard, err := c.ev.Rules(entity.Annotations, schema.OperationRead, authz.Target{Entity: entity, Node: node})
	if err != nil {
		return target{}, err
	}
	res, err := c.compose(scope{
		entity:      entity,
		node:        node,
		sel:         sel,
		path:        path,
		inline:      true,
		resolveType: resolveType,
	})
	if err != nil {
		return target{}, err
	}
	return target{
		value: res.Projection,
		pred:  cypher.And(filter, res.Filter()),
		guard: cypher.And(append([]cypher.Expr{guard}, res.Guards...)...),
		subs:  res.Subqueries,
		meta:  res.Meta,
	}, nil
}

// composite composes every member of a union or interface at node. Each
// member contributes a label-guarded CASE branch. When filters is non-nil
// only the members it names are admitted, each narrowed by its predicate.
func (c *composer) composite(members []*schema.ConcreteEntity, node *cypher.Node, sel *selection.Field, path []string, filters map[string]cypher.Expr) (target, error) {
	var (
		out      target
		branches []cypher.When
		admits   []cypher.Expr
		guards   []cypher.Expr
	)
	for _, m := range members {
		filter, ok := filters[m.Name]
		if filters != nil && !ok {
			continue
		}
		t, err := c.concrete(m, node, sel, path, true)
		if err != nil {
			return target{}, err
		}
		label := cypher.HasLabels(node, m.Labels...)
		admits = append(admits, cypher.And(label, filter, t.pred))
		if t.guard != nil {
			guards = append(guards, cypher.Or(cypher.Not(label), t.guard))
		}
		branches = append(branches, cypher.When{Cond: label, Result: t.value})
		out.subs = append(out.subs, t.subs...)
		out.meta.merge(t.meta)
	}
	if len(branches) == 0 {
		out.value = cypher.Null
		out.pred = cypher.False
		return out, nil
	}
	out.value = cypher.Case{Branches: branches}
	out.pred = cypher.Or(admits...)
	out.guard = cypher.And(guards...)
	return out, nil
}

// memberFilters compiles a where argument keyed by member type names. A nil
// or empty argument yields a nil map, admitting every member.
func (c *composer) memberFilters(members []*schema.ConcreteEntity, node *cypher.Node, raw any) (map[string]cypher.Expr, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: where must be an object", ErrInvalidArgument)
	}
	if len(m) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	filters := make(map[string]cypher.Expr, len(m))
	for _, name := range names {
		var member *schema.ConcreteEntity
		for _, candidate := range members {
			if candidate.Name == name {
				member = candidate
			}
		}
		if member == nil {
			return nil, fmt.Errorf("%w: %s is not a member type", ErrUnknownField, name)
		}
		pred, err := where.Input(c.model, member, node, m[name])
		if err != nil {
			return nil, err
		}
		filters[name] = pred
	}
	return filters, nil
}

// nested is a CALL sub-query that reads one entity-valued field per parent
// row.
type nested struct {
	parent *cypher.Node
	source cypher.Clause // binds node: a MATCH or an UNWIND
	node   *cypher.Node
	where  cypher.Expr
	list   bool
	opts   Options
}

// build renders the sub-query around t and returns it with the variable
// holding the collected values.
func (q nested) build(t target) (*cypher.Call, *cypher.Var) {
	pred := cypher.And(q.where, t.pred, authz.Guard(t.guard))
	clauses := []cypher.Clause{q.source}
	if m, ok := q.source.(*cypher.Match); ok {
		m.Where(pred)
	} else if pred != nil {
		clauses = append(clauses, &cypher.With{Items: []cypher.Item{{Expr: q.node}}, Where: pred})
	}
	clauses = append(clauses, t.subs...)

	with := &cypher.With{Items: []cypher.Item{{Expr: t.value, As: q.node}}}
	for _, s := range q.opts.Sort {
		with.OrderBy = append(with.OrderBy, cypher.SortItem{Expr: q.node.Property(s.Field), Descending: s.Descending})
	}
	if q.opts.Offset > 0 {
		with.Skip = cypher.NewParam(q.opts.Offset)
	}
	if q.opts.Limit > 0 {
		with.Limit = cypher.NewParam(q.opts.Limit)
	}
	clauses = append(clauses, with)

	out := cypher.NewVariable()
	var collected cypher.Expr = cypher.Collect(q.node)
	if !q.list {
		collected = cypher.Head(collected)
	}
	clauses = append(clauses, &cypher.Return{Items: []cypher.Item{{Expr: collected, As: out}}})
	return &cypher.Call{Import: []cypher.Variable{q.parent}, Inner: cypher.Concat(clauses...)}, out
}

func (c *composer) relationship(res *Result, s scope, f *selection.Field, rel *schema.RelationshipField) error {
	opts, err := ParseOptions(f.Args)
	if err != nil {
		return err
	}
	path := s.child(f.Key())

	var (
		t       target
		pattern *cypher.Pattern
		node    *cypher.Node
		pred    cypher.Expr
	)
	if rel.TargetKind == schema.TargetConcrete {
		entity, _ := c.model.Entity(rel.Target)
		pattern, _, node = where.Pattern(s.node, rel, entity.Labels)
		if pred, err = where.Input(c.model, entity, node, f.Args["where"]); err != nil {
			return err
		}
		if t, err = c.concrete(entity, node, f, path, false); err != nil {
			return err
		}
		if rel.List {
			opts.Limit = entity.QueryOptions.Limit(opts.Limit)
		}
	} else {
		members := c.model.Targets(rel.Target)
		if err := sortable(rel, members, opts.Sort); err != nil {
			return err
		}
		pattern, _, node = where.Pattern(s.node, rel, nil)
		filters, err := c.memberFilters(members, node, f.Args["where"])
		if err != nil {
			return err
		}
		if t, err = c.composite(members, node, f, path, filters); err != nil {
			return err
		}
		if rel.TargetKind == schema.TargetInterface {
			res.Meta.InterfaceFields = append(res.Meta.InterfaceFields, Deferred{Path: path, Field: f})
		}
	}

	call, out := nested{
		parent: s.node,
		source: cypher.NewMatch(pattern),
		node:   node,
		where:  pred,
		list:   rel.List,
		opts:   opts,
	}.build(t)
	res.Subqueries = append(res.Subqueries, call)
	res.Meta.merge(t.meta)
	res.entry(f.Key(), out)
	return nil
}

// sortable checks the sort keys of a relationship to a union or interface.
// Interface targets sort on the projected member maps, which carry every
// sort key, so each key must be an attribute of every member. Union members
// share no fields to sort on.
func sortable(rel *schema.RelationshipField, members []*schema.ConcreteEntity, keys []connection.Sort) error {
	if len(keys) == 0 {
		return nil
	}
	if rel.TargetKind == schema.TargetUnion {
		return fmt.Errorf("%w: %s targets union %s and cannot be sorted", ErrInvalidArgument, rel.Name, rel.Target)
	}
	for _, k := range keys {
		for _, m := range members {
			if _, ok := m.Attribute(k.Field); !ok {
				return fmt.Errorf("%w: cannot sort %s by %s, %s has no such attribute", ErrInvalidArgument, rel.Name, k.Field, m.Name)
			}
		}
	}
	return nil
}

func (c *composer) computed(res *Result, s scope, f *selection.Field, cf *schema.ComputedField) error {
	args, err := c.computedArgs(s.node, f, cf)
	if err != nil {
		return err
	}
	call := cypher.RunFirstColumn(cf.Statement, args, cf.Type.List)
	if cf.TargetKind == schema.TargetNone {
		res.entry(f.Key(), call)
		return nil
	}

	var source cypher.Expr = call
	if !cf.Type.List {
		source = cypher.List{Items: []cypher.Expr{call}}
	}
	node := cypher.NewNode()
	path := s.child(f.Key())

	var t target
	if cf.TargetKind == schema.TargetConcrete {
		entity, _ := c.model.Entity(cf.Target)
		t, err = c.concrete(entity, node, f, path, false)
	} else {
		t, err = c.composite(c.model.Targets(cf.Target), node, f, path, nil)
	}
	if err != nil {
		return err
	}

	sub, out := nested{
		parent: s.node,
		source: &cypher.Unwind{Expr: source, As: node},
		node:   node,
		list:   cf.Type.List,
	}.build(t)
	res.Subqueries = append(res.Subqueries, sub)
	res.Meta.merge(t.meta)
	res.entry(f.Key(), out)
	return nil
}

// computedArgs builds the parameter map of a @cypher statement: the parent
// node as this, the claims as jwt, and every declared argument. Omitted
// arguments take their default or null.
func (c *composer) computedArgs(node *cypher.Node, f *selection.Field, cf *schema.ComputedField) (cypher.Map, error) {
	args := cypher.Map{Entries: []cypher.MapEntry{{Key: "this", Value: node}}}
	if c.ev.Claims.Authenticated() {
		args.Entries = append(args.Entries, cypher.MapEntry{Key: "jwt", Value: cypher.NewParam(map[string]any(c.ev.Claims))})
	}
	declared := make(map[string]bool, len(cf.Arguments))
	for _, a := range cf.Arguments {
		declared[a.Name] = true
		v, ok := f.Args[a.Name]
		if !ok && a.HasDefault {
			v = a.Default
		}
		args.Entries = append(args.Entries, cypher.MapEntry{Key: a.Name, Value: cypher.NewParam(v)})
	}
	for name := range f.Args {
		if !declared[name] {
			return cypher.Map{}, fmt.Errorf("%w: %s does not accept argument %s", ErrInvalidArgument, cf.Name, name)
		}
	}
	return args, nil
}
