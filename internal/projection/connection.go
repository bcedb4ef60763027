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

// Materialize compiles a connection field that Compose deferred. req must
// describe the entity the field was selected on, bound at the same node.
// The returned sub-query binds d.Var.
func Materialize(req Request, d Deferred) (cypher.Clause, error) {
	c, err := newComposer(req)
	if err != nil {
		return nil, err
	}
	ef, ok := req.Entity.Field(d.Field.Name)
	if !ok || ef.Kind != schema.FieldConnection {
		return nil, fmt.Errorf("%w: %s.%s is not a connection", ErrUnknownField, req.Entity.Name, d.Field.Name)
	}
	s := c.scope(req)
	s.inline = true
	if len(d.Path) > 0 {
		s.path = d.Path[:len(d.Path)-1]
	}
	return c.connection(s, d.Field, ef.Relationship, d.Var)
}

// connection compiles a relationship connection into a sub-query that binds
// out to {edges, totalCount, pageInfo}.
func (c *composer) connection(s scope, f *selection.Field, rel *schema.RelationshipField, out cypher.Variable) (*cypher.Call, error) {
	args, err := connection.ParseArgs(f.Args)
	if err != nil {
		return nil, err
	}

	var (
		entity  *schema.ConcreteEntity
		labels  []string
		members = c.model.Targets(rel.Target)
	)
	if rel.TargetKind == schema.TargetConcrete {
		entity = members[0]
		labels = entity.Labels
	}
	pattern, edge, node := where.Pattern(s.node, rel, labels)

	var props *schema.ConcreteEntity
	if rel.Properties != "" {
		props, _ = c.model.Edge(rel.Properties)
	}

	var (
		preds   []cypher.Expr
		filters map[string]cypher.Expr
	)
	keys := make([]string, 0, len(args.Where))
	for k := range args.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		raw := args.Where[key]
		switch key {
		case "node":
			if entity == nil {
				if filters, err = c.memberFilters(members, node, raw); err != nil {
					return nil, err
				}
				continue
			}
			p, err := where.Input(c.model, entity, node, raw)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		case "edge":
			if props == nil {
				return nil, fmt.Errorf("%w: %s.%s has no edge properties", ErrUnknownField, s.entity.Name, rel.Name)
			}
			ef, ok, err := where.ParseInput(raw)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			p, err := (&where.Compiler{Model: c.model, Resolve: where.Literals}).Edge(props, edge, ef)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		default:
			return nil, fmt.Errorf("%w: connection where accepts node and edge, got %s", ErrUnknownField, key)
		}
	}

	nodeSel := connection.NodeSelection(f)

	path := s.child(f.Key())
	var t target
	if entity != nil {
		t, err = c.concrete(entity, node, nodeSel, append(path, "edges", "node"), false)
	} else {
		t, err = c.composite(members, node, nodeSel, append(path, "edges", "node"), filters)
	}
	if err != nil {
		return nil, err
	}

	var entries []cypher.MapEntry
	for _, sub := range connection.EdgeFields(f) {
		switch sub.Name {
		case "cursor", "__typename":
			continue
		case "node":
			entries = append(entries, cypher.MapEntry{Key: sub.Key(), Value: t.value})
			continue
		}
		if props == nil {
			return nil, fmt.Errorf("%w: %s.%s has no edge properties", ErrUnknownField, s.entity.Name, rel.Name)
		}
		attr, ok := props.Attribute(sub.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, props.Name, sub.Name)
		}
		v, err := element(edge, attr, sub)
		if err != nil {
			return nil, err
		}
		entries = append(entries, cypher.MapEntry{Key: sub.Key(), Value: v})
	}

	order, err := connectionOrder(args.Sort, entity, props, node, edge)
	if err != nil {
		return nil, err
	}

	match := cypher.NewMatch(pattern).Where(append(preds, t.pred, authz.Guard(t.guard))...)
	clauses := []cypher.Clause{match}
	clauses = append(clauses, t.subs...)
	if len(order) > 0 {
		clauses = append(clauses, &cypher.With{OrderBy: order})
	}
	edges := cypher.NewVariable()
	clauses = append(clauses, &cypher.With{Items: []cypher.Item{{Expr: cypher.Collect(cypher.Map{Entries: entries}), As: edges}}})
	page, err := connection.Page(edges, args, f, out)
	if err != nil {
		return nil, err
	}
	clauses = append(clauses, page...)
	return &cypher.Call{Import: []cypher.Variable{s.node}, Inner: cypher.Concat(clauses...)}, nil
}

// connectionOrder resolves connection sort keys to stored properties.
func connectionOrder(sorts []connection.Sort, entity, props *schema.ConcreteEntity, node *cypher.Node, edge *cypher.Relationship) ([]cypher.SortItem, error) {
	var order []cypher.SortItem
	for _, s := range sorts {
		owner, target := entity, cypher.Expr(node)
		if s.Edge {
			owner, target = props, edge
		}
		if owner == nil {
			return nil, fmt.Errorf("%w: cannot sort by %s", ErrInvalidArgument, s.Field)
		}
		attr, ok := owner.Attribute(s.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, owner.Name, s.Field)
		}
		order = append(order, cypher.SortItem{
			Expr:       cypher.PropertyRef{Target: target, Property: attr.Property()},
			Descending: s.Descending,
		})
	}
	return order, nil
}
