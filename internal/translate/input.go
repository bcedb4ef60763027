package translate

import (
	"fmt"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/schema"
)

// input is a decoded mutation input object.
type input struct {
	// values holds the written attributes keyed by stored property. It is
	// sent as a single map parameter.
	values map[string]any
	// attrs are the written attributes in declaration order.
	attrs []*schema.Attribute
	// nested holds relationship operations keyed by field name.
	nested map[string]any
}

// parseInput splits raw into attribute writes and relationship operations.
// With defaults set, attributes absent from raw that declare a default are
// written too.
func parseInput(entity *schema.ConcreteEntity, raw any, defaults bool) (input, error) {
	in := input{values: map[string]any{}, nested: map[string]any{}}
	var m map[string]any
	if raw != nil {
		var ok bool
		if m, ok = raw.(map[string]any); !ok {
			return input{}, fmt.Errorf("%w: %s input must be an object", where.ErrInvalidArgument, entity.Name)
		}
	}
	for key, v := range m {
		if _, ok := entity.Attribute(key); ok {
			continue
		}
		if _, ok := entity.Relationship(key); ok {
			in.nested[key] = v
			continue
		}
		return input{}, fmt.Errorf("%w: %s.%s is not writable", where.ErrUnknownField, entity.Name, key)
	}
	for _, attr := range entity.Attributes {
		v, ok := m[attr.Name]
		if !ok {
			if !defaults || attr.Default == nil {
				continue
			}
			v = attr.Default
		}
		in.values[attr.Property()] = v
		in.attrs = append(in.attrs, attr)
	}
	return in, nil
}

// without drops the attributes whose property is a key of props.
func without(attrs []*schema.Attribute, props map[string]any) []*schema.Attribute {
	out := attrs[:0:0]
	for _, attr := range attrs {
		if _, ok := props[attr.Property()]; !ok {
			out = append(out, attr)
		}
	}
	return out
}

// objects accepts a list of objects or a single object.
func objects(name string, raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be an object", where.ErrInvalidArgument, name, i)
			}
			out[i] = m
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s must be an object or a list of objects", where.ErrInvalidArgument, name)
}

var conversions = map[schema.ScalarKind]string{
	schema.KindDateTime:       "datetime",
	schema.KindDate:           "date",
	schema.KindTime:           "time",
	schema.KindLocalTime:      "localtime",
	schema.KindLocalDateTime:  "localdatetime",
	schema.KindDuration:       "duration",
	schema.KindPoint:          "point",
	schema.KindCartesianPoint: "point",
}

// assign sets every attr on target from the map parameter values.
func assign(target cypher.Expr, attrs []*schema.Attribute, values *cypher.Param) []cypher.SetItem {
	items := make([]cypher.SetItem, 0, len(attrs))
	for _, attr := range attrs {
		prop := attr.Property()
		items = append(items, cypher.SetItem{
			Property: cypher.PropertyRef{Target: target, Property: prop},
			Value:    convert(attr.Type, cypher.PropertyRef{Target: values, Property: prop}),
		})
	}
	return items
}

// convert wraps v in the constructor of a temporal or spatial type, per
// element for lists.
func convert(t schema.TypeRef, v cypher.Expr) cypher.Expr {
	fn, ok := conversions[t.Kind]
	if !ok {
		return v
	}
	if t.List {
		x := cypher.NewVariable()
		return cypher.ListComprehension{Var: x, Source: v, Map: cypher.Func{Name: fn, Args: []cypher.Expr{x}}}
	}
	return cypher.Func{Name: fn, Args: []cypher.Expr{v}}
}

// nested compiles the relationship operations of a create or update input.
// Disconnect is only valid on update, where the relationships exist.
func (t *translator) nested(entity *schema.ConcreteEntity, n *cypher.Node, ops map[string]any, update bool) ([]cypher.Clause, error) {
	var calls []cypher.Clause
	for _, rel := range entity.Relationships {
		raw, ok := ops[rel.Name]
		if !ok || raw == nil {
			continue
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s input must be an object", where.ErrInvalidArgument, entity.Name, rel.Name)
		}
		for key := range m {
			if key != "connect" && !(update && key == "disconnect") {
				return nil, fmt.Errorf("%w: %s.%s does not support %s here", where.ErrInvalidArgument, entity.Name, rel.Name, key)
			}
		}
		target, err := t.concreteTarget(entity, rel)
		if err != nil {
			return nil, err
		}
		connects, err := objects(rel.Name+".connect", m["connect"])
		if err != nil {
			return nil, err
		}
		for _, c := range connects {
			call, err := t.connect(entity, n, rel, target, c)
			if err != nil {
				return nil, err
			}
			calls = append(calls, call)
		}
		disconnects, err := objects(rel.Name+".disconnect", m["disconnect"])
		if err != nil {
			return nil, err
		}
		for _, d := range disconnects {
			call, err := t.disconnect(entity, n, rel, target, d)
			if err != nil {
				return nil, err
			}
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return nil, nil
	}
	return append([]cypher.Clause{cypher.NewWith(n)}, calls...), nil
}

func (t *translator) concreteTarget(entity *schema.ConcreteEntity, rel *schema.RelationshipField) (*schema.ConcreteEntity, error) {
	if rel.TargetKind != schema.TargetConcrete {
		return nil, fmt.Errorf("%w: %s.%s targets an abstract type and cannot be connected", where.ErrInvalidArgument, entity.Name, rel.Name)
	}
	target, ok := t.model.Entity(rel.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", where.ErrUnknownField, rel.Target)
	}
	return target, nil
}

// endpoint holds the rules of one relationship operation.
type endpoint struct {
	filter cypher.Expr
	before cypher.Expr
	after  cypher.Expr
}

// relationshipRules evaluates op for the source entity, the relationship
// field and the target entity.
func (t *translator) relationshipRules(entity, target *schema.ConcreteEntity, rel *schema.RelationshipField, n, tn *cypher.Node, op schema.Operation) (endpoint, error) {
	var (
		e       endpoint
		filters []cypher.Expr
		before  []cypher.Expr
		after   []cypher.Expr
	)
	scopes := []struct {
		ann schema.Annotations
		t   authz.Target
	}{
		{entity.Annotations, authz.Target{Entity: entity, Node: n}},
		{rel.Annotations, authz.Target{Entity: entity, Node: n}},
		{target.Annotations, authz.Target{Entity: target, Node: tn}},
	}
	for i, s := range scopes {
		filter, guard, err := t.ev.Rules(s.ann, op, s.t)
		if err != nil {
			return e, err
		}
		// The source node is already matched under its own operation.
		if i > 0 {
			filters = append(filters, filter)
		}
		before = append(before, guard)
		g, err := t.ev.Validate(s.ann, op, schema.PhaseAfter, s.t)
		if err != nil {
			return e, err
		}
		after = append(after, g)
	}
	e.filter = cypher.And(filters...)
	e.before = cypher.And(before...)
	e.after = cypher.And(after...)
	return e, nil
}

// connect merges a relationship from n to every target node matching the
// connect where.
func (t *translator) connect(entity *schema.ConcreteEntity, n *cypher.Node, rel *schema.RelationshipField, target *schema.ConcreteEntity, raw map[string]any) (*cypher.Call, error) {
	tn := cypher.NewNode(target.Labels...)
	r := cypher.NewRelationship(rel.Type)
	var match cypher.Expr
	var edge input
	for key, v := range raw {
		switch key {
		case "where":
			w, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: connect where must be an object", where.ErrInvalidArgument)
			}
			for k := range w {
				if k != "node" {
					return nil, fmt.Errorf("%w: connect where accepts node, got %s", where.ErrUnknownField, k)
				}
			}
			p, err := where.Input(t.model, target, tn, w["node"])
			if err != nil {
				return nil, err
			}
			match = p
		case "edge":
			props, err := t.edgeProperties(entity, rel)
			if err != nil {
				return nil, err
			}
			if edge, err = parseInput(props, v, true); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: connect accepts where and edge, got %s", where.ErrInvalidArgument, key)
		}
	}

	rules, err := t.relationshipRules(entity, target, rel, n, tn, schema.OperationCreateRelationship)
	if err != nil {
		return nil, err
	}

	dir := cypher.Outgoing
	if rel.Direction == schema.DirectionIn {
		dir = cypher.Incoming
	}
	merge := &cypher.Merge{Pattern: cypher.NewPattern(n).Related(r, dir, tn)}
	clauses := []cypher.Clause{
		cypher.NewMatch(cypher.NewPattern(tn)).Where(match, rules.filter),
		authz.GuardClause(rules.before),
		merge,
	}
	if len(edge.attrs) > 0 {
		set := assign(r, edge.attrs, cypher.NewParam(edge.values))
		merge.OnCreate = set
		merge.OnMatch = set
	}
	if rules.after != nil {
		clauses = append(clauses, cypher.NewWith(n, tn), authz.GuardClause(rules.after))
	}
	return &cypher.Call{Import: []cypher.Variable{n}, Inner: cypher.Concat(clauses...)}, nil
}

// disconnect deletes the relationships from n to the targets matching the
// disconnect where.
func (t *translator) disconnect(entity *schema.ConcreteEntity, n *cypher.Node, rel *schema.RelationshipField, target *schema.ConcreteEntity, raw map[string]any) (*cypher.Call, error) {
	pattern, r, tn := where.Pattern(n, rel, target.Labels)
	var preds []cypher.Expr
	for key, v := range raw {
		if key != "where" {
			return nil, fmt.Errorf("%w: disconnect accepts where, got %s", where.ErrInvalidArgument, key)
		}
		w, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: disconnect where must be an object", where.ErrInvalidArgument)
		}
		for _, k := range []string{"node", "edge"} {
			if w[k] == nil {
				continue
			}
			if k == "node" {
				p, err := where.Input(t.model, target, tn, w[k])
				if err != nil {
					return nil, err
				}
				preds = append(preds, p)
				continue
			}
			props, err := t.edgeProperties(entity, rel)
			if err != nil {
				return nil, err
			}
			f, ok, err := where.ParseInput(w[k])
			if err != nil {
				return nil, err
			}
			if ok {
				p, err := (&where.Compiler{Model: t.model, Resolve: where.Literals}).Edge(props, r, f)
				if err != nil {
					return nil, err
				}
				preds = append(preds, p)
			}
		}
		for k := range w {
			if k != "node" && k != "edge" {
				return nil, fmt.Errorf("%w: disconnect where accepts node and edge, got %s", where.ErrUnknownField, k)
			}
		}
	}

	rules, err := t.relationshipRules(entity, target, rel, n, tn, schema.OperationDeleteRelationship)
	if err != nil {
		return nil, err
	}
	clauses := []cypher.Clause{
		cypher.NewMatch(pattern).Where(append(preds, rules.filter)...),
		authz.GuardClause(rules.before),
		&cypher.Delete{Targets: []cypher.Variable{r}},
	}
	if rules.after != nil {
		clauses = append(clauses, cypher.NewWith(n, tn), authz.GuardClause(rules.after))
	}
	return &cypher.Call{Import: []cypher.Variable{n}, Inner: cypher.Concat(clauses...)}, nil
}

func (t *translator) edgeProperties(entity *schema.ConcreteEntity, rel *schema.RelationshipField) (*schema.ConcreteEntity, error) {
	if rel.Properties == "" {
		return nil, fmt.Errorf("%w: %s.%s has no edge properties", where.ErrUnknownField, entity.Name, rel.Name)
	}
	props, ok := t.model.Edge(rel.Properties)
	if !ok {
		return nil, fmt.Errorf("%w: %s", where.ErrUnknownField, rel.Properties)
	}
	return props, nil
}
