package projection

import (
	"fmt"
	"strings"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

var aggregateFuncs = map[string]string{
	"min":     "min",
	"max":     "max",
	"average": "avg",
	"sum":     "sum",
}

// Aggregation is a compiled aggregate selection. Filters come from the
// rules of the aggregated fields and narrow the rows the aggregate runs
// over; Guards must hold for every one of those rows.
type Aggregation struct {
	Object  cypher.Map
	Filters []cypher.Expr
	Guards  []cypher.Expr
}

// Filter returns the conjunction of the filters, or nil.
func (a Aggregation) Filter() cypher.Expr {
	return cypher.And(a.Filters...)
}

// Aggregate compiles the selection of a top-level aggregate over the rows
// bound to req.Node.
func Aggregate(req Request) (Aggregation, error) {
	c, err := newComposer(req)
	if err != nil {
		return Aggregation{}, err
	}
	if req.Selection == nil {
		return Aggregation{}, nil
	}
	return c.aggregation(req.Entity, req.Node, req.Selection.Fields(req.Selection.TypeNames()...), true)
}

func (c *composer) aggregateField(res *Result, s scope, f *selection.Field, rel *schema.RelationshipField) error {
	entity, _ := c.model.Entity(rel.Target)
	pattern, edge, node := where.Pattern(s.node, rel, entity.Labels)
	pred, err := where.Input(c.model, entity, node, f.Args["where"])
	if err != nil {
		return err
	}
	filter, guard, err := c.ev.Rules(entity.Annotations, schema.OperationAggregate, authz.Target{Entity: entity, Node: node})
	if err != nil {
		return err
	}

	obj := cypher.Map{}
	filters := []cypher.Expr{pred, filter}
	guards := []cypher.Expr{guard}
	for _, sub := range f.Fields(f.TypeNames()...) {
		switch sub.Name {
		case "__typename":
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: sub.Key(), Value: cypher.Lit(s.entity.Name + upperFirst(rel.Name) + "Aggregate")})
		case "count":
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: sub.Key(), Value: cypher.Count(node)})
		case "node":
			agg, err := c.aggregation(entity, node, sub.Fields(sub.TypeNames()...), false)
			if err != nil {
				return err
			}
			filters = append(filters, agg.Filters...)
			guards = append(guards, agg.Guards...)
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: sub.Key(), Value: agg.Object})
		case "edge":
			props, ok := c.model.Edge(rel.Properties)
			if !ok {
				return fmt.Errorf("%w: %s.%s has no edge properties", ErrUnknownField, s.entity.Name, f.Name)
			}
			agg, err := c.aggregation(props, edge, sub.Fields(sub.TypeNames()...), false)
			if err != nil {
				return err
			}
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: sub.Key(), Value: agg.Object})
		default:
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, f.Name, sub.Name)
		}
	}

	out := cypher.NewVariable()
	match := cypher.NewMatch(pattern).Where(append(filters, authz.Guard(cypher.And(guards...)))...)
	res.Subqueries = append(res.Subqueries, &cypher.Call{
		Import: []cypher.Variable{s.node},
		Inner:  cypher.Concat(match, &cypher.Return{Items: []cypher.Item{{Expr: obj, As: out}}}),
	})
	res.entry(f.Key(), out)
	return nil
}

// aggregation maps each selected numeric attribute to its min, max, average
// and sum over target. Node attributes apply their AGGREGATE rules: filters
// drop the rows the caller may not see, guards reject the request.
func (c *composer) aggregation(entity *schema.ConcreteEntity, target cypher.Variable, fields []*selection.Field, withCount bool) (Aggregation, error) {
	var agg Aggregation
	obj := &agg.Object
	node, isNode := target.(*cypher.Node)
	for _, f := range fields {
		switch {
		case f.Name == "__typename":
			continue
		case f.Name == "count" && withCount:
			obj.Entries = append(obj.Entries, cypher.MapEntry{Key: f.Key(), Value: cypher.Count(target)})
			continue
		}
		attr, ok := entity.Attribute(f.Name)
		if !ok {
			return Aggregation{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, entity.Name, f.Name)
		}
		if !attr.Type.Kind.Numeric() || attr.Type.List {
			return Aggregation{}, fmt.Errorf("%w: %s.%s cannot be aggregated", ErrUnknownField, entity.Name, f.Name)
		}
		if isNode {
			filter, guard, err := c.ev.Rules(attr.Annotations, schema.OperationAggregate, authz.Target{Entity: entity, Node: node})
			if err != nil {
				return Aggregation{}, err
			}
			if filter != nil {
				agg.Filters = append(agg.Filters, filter)
			}
			if guard != nil {
				agg.Guards = append(agg.Guards, guard)
			}
		}

		prop := cypher.PropertyRef{Target: target, Property: attr.Property()}
		var inner cypher.Map
		for _, op := range f.Fields(f.TypeNames()...) {
			if op.Name == "__typename" {
				continue
			}
			fn, ok := aggregateFuncs[op.Name]
			if !ok {
				return Aggregation{}, fmt.Errorf("%w: %s.%s.%s", ErrUnknownField, entity.Name, f.Name, op.Name)
			}
			inner.Entries = append(inner.Entries, cypher.MapEntry{Key: op.Key(), Value: cypher.Func{Name: fn, Args: []cypher.Expr{prop}}})
		}
		obj.Entries = append(obj.Entries, cypher.MapEntry{Key: f.Key(), Value: inner})
	}
	return agg, nil
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
