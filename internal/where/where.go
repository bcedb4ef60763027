// Package where compiles filter trees into Cypher predicates and evaluates
// them in memory.
//
// The same schema.Filter shape serves two callers: authorization rules,
// whose values may reference the claim set, and the where argument of a
// request, whose values are always literals. Both differ only in the
// Resolver they pass.
package where

import (
	"errors"
	"fmt"

	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/schema"
)

var (
	// ErrUnknownField is returned when a filter or selection names a field
	// the entity does not declare.
	ErrUnknownField = errors.New("quince: unknown field")
	// ErrInvalidArgument is returned for request arguments of the wrong shape.
	ErrInvalidArgument = errors.New("quince: invalid argument")
)

// Resolver turns a condition value into an expression. It reports false when
// the value refers to a claim that is absent, in which case the condition
// cannot hold.
type Resolver func(v schema.Value) (cypher.Expr, bool)

// Literals resolves every value to a parameter. Claim references are not
// followed: a request cannot read the claim set through its own filters.
func Literals(v schema.Value) (cypher.Expr, bool) {
	if v.IsClaim() {
		return cypher.NewParam(schema.ClaimPrefix + v.Claim), true
	}
	return cypher.NewParam(v.Literal), true
}

// Claims resolves literals to parameters and claim references to the
// claim's value, also as a parameter.
func Claims(claims authn.Claims) Resolver {
	return func(v schema.Value) (cypher.Expr, bool) {
		if !v.IsClaim() {
			return cypher.NewParam(v.Literal), true
		}
		val, ok := claims.Get(v.Claim)
		if !ok || val == nil {
			return nil, false
		}
		return cypher.NewParam(val), true
	}
}

// Compiler compiles filters against one model.
type Compiler struct {
	Model   *schema.Model
	Resolve Resolver
}

// Node compiles f evaluated against node, an instance of entity. A nil
// result means the filter has no conditions.
func (c *Compiler) Node(entity *schema.ConcreteEntity, node *cypher.Node, f schema.Filter) (cypher.Expr, error) {
	return c.filter(entity, node, node, f)
}

// Edge compiles f against the properties of rel, described by edge.
func (c *Compiler) Edge(edge *schema.ConcreteEntity, rel *cypher.Relationship, f schema.Filter) (cypher.Expr, error) {
	return c.filter(edge, rel, nil, f)
}

// Value compiles f against a map-valued expression holding the properties of
// an entity that is not yet stored, such as create input.
func (c *Compiler) Value(entity *schema.ConcreteEntity, v cypher.Expr, f schema.Filter) (cypher.Expr, error) {
	return c.filter(entity, v, nil, f)
}

// Input parses the where argument of a request and compiles it against
// node with Literals. A nil raw value yields a nil predicate.
func Input(model *schema.Model, entity *schema.ConcreteEntity, node *cypher.Node, raw any) (cypher.Expr, error) {
	f, ok, err := ParseInput(raw)
	if err != nil || !ok {
		return nil, err
	}
	c := &Compiler{Model: model, Resolve: Literals}
	return c.Node(entity, node, f)
}

// ParseInput parses a request filter argument. It reports false when raw is
// nil or empty.
func ParseInput(raw any) (schema.Filter, bool, error) {
	if raw == nil {
		return schema.Filter{}, false, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return schema.Filter{}, false, fmt.Errorf("%w: where must be an object", ErrInvalidArgument)
	}
	if len(m) == 0 {
		return schema.Filter{}, false, nil
	}
	f, err := schema.ParseFilter(m)
	if err != nil {
		return schema.Filter{}, false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return f, true, nil
}

func (c *Compiler) filter(entity *schema.ConcreteEntity, target cypher.Expr, node *cypher.Node, f schema.Filter) (cypher.Expr, error) {
	var preds []cypher.Expr
	for _, cond := range f.Conditions {
		p, err := c.condition(entity, target, node, cond)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	for _, sub := range f.And {
		p, err := c.filter(entity, target, node, sub)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(f.Or) > 0 {
		alts := make([]cypher.Expr, 0, len(f.Or))
		always := false
		for _, sub := range f.Or {
			p, err := c.filter(entity, target, node, sub)
			if err != nil {
				return nil, err
			}
			if p == nil {
				always = true
			}
			alts = append(alts, p)
		}
		if !always {
			preds = append(preds, cypher.Or(alts...))
		}
	}
	if f.Not != nil {
		p, err := c.filter(entity, target, node, *f.Not)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return cypher.False, nil
		}
		preds = append(preds, cypher.Not(p))
	}
	return cypher.And(preds...), nil
}

func (c *Compiler) condition(entity *schema.ConcreteEntity, target cypher.Expr, node *cypher.Node, cond schema.Condition) (cypher.Expr, error) {
	if rel, ok := entity.Relationship(cond.Field); ok {
		if node == nil {
			return nil, fmt.Errorf("%w: relationship %s.%s cannot be filtered here", ErrUnknownField, entity.Name, cond.Field)
		}
		return c.relationship(node, rel, cond)
	}

	attr, ok := entity.Attribute(cond.Field)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, entity.Name, cond.Field)
	}
	if cond.IsRelationship() {
		return nil, fmt.Errorf("%w: %s.%s is not a relationship", ErrUnknownField, entity.Name, cond.Field)
	}

	var prop cypher.Expr = cypher.PropertyRef{Target: target, Property: attr.Property()}
	if attr.Coalesce != nil {
		prop = cypher.Coalesce(prop, cypher.NewParam(attr.Coalesce))
	}

	if cond.Operator == schema.OpEquals && !cond.Value.IsClaim() && cond.Value.Literal == nil {
		if cond.Negate {
			return cypher.IsNotNull{Expr: prop}, nil
		}
		return cypher.IsNull{Expr: prop}, nil
	}

	value, ok := c.Resolve(cond.Value)
	if !ok {
		return cypher.False, nil
	}
	pred := compare(cond.Operator, prop, value)
	if cond.Negate {
		return cypher.Not(pred), nil
	}
	return pred, nil
}

func compare(op schema.Operator, prop, value cypher.Expr) cypher.Expr {
	switch op {
	case schema.OpIn:
		return cypher.In{Left: prop, Right: value}
	case schema.OpLt:
		return cypher.Lt{Left: prop, Right: value}
	case schema.OpLte:
		return cypher.Lte{Left: prop, Right: value}
	case schema.OpGt:
		return cypher.Gt{Left: prop, Right: value}
	case schema.OpGte:
		return cypher.Gte{Left: prop, Right: value}
	case schema.OpContains:
		return cypher.Contains{Left: prop, Right: value}
	case schema.OpStartsWith:
		return cypher.StartsWith{Left: prop, Right: value}
	case schema.OpEndsWith:
		return cypher.EndsWith{Left: prop, Right: value}
	case schema.OpIncludes:
		return cypher.In{Left: value, Right: prop}
	default:
		return cypher.Eq{Left: prop, Right: value}
	}
}

// Pattern returns the pattern from node across rel to a fresh target node.
func Pattern(node *cypher.Node, rel *schema.RelationshipField, labels []string) (*cypher.Pattern, *cypher.Relationship, *cypher.Node) {
	edge := cypher.NewRelationship(rel.Type)
	to := cypher.NewNode(labels...)
	dir := cypher.Outgoing
	if rel.Direction == schema.DirectionIn {
		dir = cypher.Incoming
	}
	return cypher.NewPattern(node).Related(edge, dir, to), edge, to
}

func (c *Compiler) relationship(node *cypher.Node, rel *schema.RelationshipField, cond schema.Condition) (cypher.Expr, error) {
	// {creator: null} tests for the absence of the relationship
	if !cond.IsRelationship() {
		if cond.Operator != schema.OpEquals || cond.Value.IsClaim() || cond.Value.Literal != nil {
			return nil, fmt.Errorf("%w: relationship %s only compares with null", ErrUnknownField, rel.Name)
		}
		pattern, _, _ := Pattern(node, rel, nil)
		exists := cypher.Exists{Query: cypher.NewMatch(pattern)}
		if cond.Negate {
			return exists, nil
		}
		return cypher.Not(exists), nil
	}

	targets := c.Model.Targets(rel.Target)
	var (
		pattern *cypher.Pattern
		to      *cypher.Node
		inner   cypher.Expr
		err     error
	)
	if rel.TargetKind == schema.TargetConcrete {
		pattern, _, to = Pattern(node, rel, targets[0].Labels)
		inner, err = c.Node(targets[0], to, *cond.Nested)
	} else {
		pattern, _, to = Pattern(node, rel, nil)
		inner, err = c.members(targets, to, *cond.Nested)
	}
	if err != nil {
		return nil, err
	}

	switch cond.Quantifier {
	case schema.QuantifierNone:
		return cypher.Not(cypher.Exists{Query: cypher.NewMatch(pattern).Where(inner)}), nil
	case schema.QuantifierAll:
		if inner == nil {
			return nil, nil
		}
		return cypher.Not(cypher.Exists{Query: cypher.NewMatch(pattern).Where(cypher.Not(inner))}), nil
	case schema.QuantifierSingle:
		return cypher.Eq{
			Left:  cypher.Size(cypher.PatternComprehension{Pattern: pattern, Where: inner, Map: cypher.Lit(1)}),
			Right: cypher.Lit(1),
		}, nil
	default:
		return cypher.Exists{Query: cypher.NewMatch(pattern).Where(inner)}, nil
	}
}

// members compiles a filter over a union or interface target. Its keys are
// member type names; each applies to nodes carrying that member's labels.
func (c *Compiler) members(targets []*schema.ConcreteEntity, to *cypher.Node, f schema.Filter) (cypher.Expr, error) {
	var branches []cypher.Expr
	for _, cond := range f.Conditions {
		var member *schema.ConcreteEntity
		for _, t := range targets {
			if t.Name == cond.Field {
				member = t
			}
		}
		if member == nil || cond.Nested == nil {
			return nil, fmt.Errorf("%w: %s is not a member type", ErrUnknownField, cond.Field)
		}
		inner, err := c.Node(member, to, *cond.Nested)
		if err != nil {
			return nil, err
		}
		branches = append(branches, cypher.And(cypher.HasLabels(to, member.Labels...), inner))
	}
	return cypher.Or(branches...), nil
}
