// Package authz evaluates authentication and authorization annotations.
//
// An Evaluator is created per request from the model and the request's
// claims. It turns the rules that apply to an operation into Cypher
// predicates, folding every part that depends only on the claims into a
// constant first:
//
//   - Filter rules narrow what an operation sees. They are OR'd and
//     conjoined with the structural predicates of the query.
//   - Validate rules reject the whole operation. They are AND'd; a rule
//     that is statically false fails immediately with ErrForbidden, and the
//     rest become a guard the database enforces with apoc.util.validate.
//   - Authentication annotations only require a claim set, optionally
//     matching a claim filter.
//
// Guards raise ForbiddenMessage inside the database; callers executing the
// query map that message back to ErrForbidden.
package authz

import (
	"errors"

	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/schema"
)

// ErrForbidden is returned when a validate rule cannot hold for the request.
var ErrForbidden = errors.New("quince/authz: forbidden")

// ForbiddenMessage is the error text raised by guards in the database.
const ForbiddenMessage = "@quince/FORBIDDEN"

// Decision overrides rule evaluation, for admin tooling and tests.
type Decision int

const (
	// DecisionUnset evaluates rules normally.
	DecisionUnset Decision = iota
	// DecisionAllow skips every rule.
	DecisionAllow
	// DecisionDeny forbids every operation.
	DecisionDeny
)

// Target is what a rule's node predicate is evaluated against: a bound node,
// or a map-valued expression holding properties that are not stored yet.
type Target struct {
	Entity *schema.ConcreteEntity
	Node   *cypher.Node
	Value  cypher.Expr
}

// Evaluator evaluates annotations for one request.
type Evaluator struct {
	Model    *schema.Model
	Claims   authn.Claims
	Decision Decision
}

// Authenticate checks an authentication annotation for op.
func (e *Evaluator) Authenticate(ann schema.Annotations, op schema.Operation) error {
	a := ann.Authentication
	if e.Decision == DecisionAllow || a == nil || !a.Applies(op) {
		return nil
	}
	if !e.Claims.Authenticated() {
		return authn.ErrUnauthenticated
	}
	if a.JWT != nil && !where.Evaluate(*a.JWT, e.Claims.Get, e.Claims) {
		return authn.ErrUnauthenticated
	}
	return nil
}

// Filter returns the predicate narrowing op to rows allowed by the filter
// rules of ann, or nil when nothing is filtered.
func (e *Evaluator) Filter(ann schema.Annotations, op schema.Operation, t Target) (cypher.Expr, error) {
	switch e.Decision {
	case DecisionAllow:
		return nil, nil
	case DecisionDeny:
		return cypher.False, nil
	}
	if ann.Authorization == nil {
		return nil, nil
	}

	var alts []cypher.Expr
	applied := false
	for _, r := range ann.Authorization.Filter {
		if !r.Applies(op) {
			continue
		}
		applied = true
		if r.RequireAuthentication && !e.Claims.Authenticated() {
			return nil, authn.ErrUnauthenticated
		}
		p, err := e.predicate(r.Where, t)
		if err != nil {
			return nil, err
		}
		switch p {
		case cypher.True:
			return nil, nil
		case cypher.False:
			continue
		}
		alts = append(alts, p)
	}
	if !applied {
		return nil, nil
	}
	if len(alts) == 0 {
		return cypher.False, nil
	}
	return cypher.Or(alts...), nil
}

// Validate returns the guard predicate for the validate rules of ann that
// apply to op at phase, or nil when none remain after constant folding.
func (e *Evaluator) Validate(ann schema.Annotations, op schema.Operation, phase schema.Phase, t Target) (cypher.Expr, error) {
	switch e.Decision {
	case DecisionAllow:
		return nil, nil
	case DecisionDeny:
		return nil, ErrForbidden
	}
	if ann.Authorization == nil {
		return nil, nil
	}

	var guards []cypher.Expr
	for _, r := range ann.Authorization.Validate {
		if !r.Applies(op, phase) {
			continue
		}
		if r.RequireAuthentication && !e.Claims.Authenticated() {
			return nil, authn.ErrUnauthenticated
		}
		p, err := e.predicate(r.Where, t)
		if err != nil {
			return nil, err
		}
		switch p {
		case cypher.True:
			continue
		case cypher.False:
			return nil, ErrForbidden
		}
		guards = append(guards, p)
	}
	return cypher.And(guards...), nil
}

// Rules applies ann to a read-like operation on t: it authenticates, then
// returns the filter predicate and the before-phase guard. Either may be nil.
func (e *Evaluator) Rules(ann schema.Annotations, op schema.Operation, t Target) (filter, guard cypher.Expr, err error) {
	if err := e.Authenticate(ann, op); err != nil {
		return nil, nil, err
	}
	if filter, err = e.Filter(ann, op, t); err != nil {
		return nil, nil, err
	}
	if guard, err = e.Validate(ann, op, schema.PhaseBefore, t); err != nil {
		return nil, nil, err
	}
	return filter, guard, nil
}

// MatchEvent reports whether a subscription event with the given node
// properties passes the subscriptions filter rules of ann.
func (e *Evaluator) MatchEvent(ann schema.Annotations, ev schema.Event, props map[string]any) bool {
	switch e.Decision {
	case DecisionAllow:
		return true
	case DecisionDeny:
		return false
	}
	sa := ann.SubscriptionsAuthorization
	if sa == nil {
		return true
	}
	get := func(field string) (any, bool) {
		v, ok := props[field]
		return v, ok
	}
	applied := false
	for _, r := range sa.Filter {
		if !r.Applies(ev) {
			continue
		}
		applied = true
		if r.RequireAuthentication && !e.Claims.Authenticated() {
			continue
		}
		if e.evaluate(r.Where, get) {
			return true
		}
	}
	return !applied
}

func (e *Evaluator) evaluate(p schema.Predicate, get where.Getter) bool {
	if p.Node != nil && !where.Evaluate(*p.Node, get, e.Claims) {
		return false
	}
	if p.JWT != nil && !where.Evaluate(*p.JWT, e.Claims.Get, e.Claims) {
		return false
	}
	for _, sub := range p.And {
		if !e.evaluate(sub, get) {
			return false
		}
	}
	if len(p.Or) > 0 {
		matched := false
		for _, sub := range p.Or {
			if e.evaluate(sub, get) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if p.Not != nil && e.evaluate(*p.Not, get) {
		return false
	}
	return true
}

// predicate compiles a rule predicate. Claim-only parts fold to cypher.True
// or cypher.False, and so does the whole predicate when every part does.
func (e *Evaluator) predicate(p schema.Predicate, t Target) (cypher.Expr, error) {
	var parts []cypher.Expr

	if p.JWT != nil {
		parts = append(parts, constant(where.Evaluate(*p.JWT, e.Claims.Get, e.Claims)))
	}
	if p.Node != nil {
		c := &where.Compiler{Model: e.Model, Resolve: where.Claims(e.Claims)}
		var (
			node cypher.Expr
			err  error
		)
		if t.Node != nil {
			node, err = c.Node(t.Entity, t.Node, *p.Node)
		} else {
			node, err = c.Value(t.Entity, t.Value, *p.Node)
		}
		if err != nil {
			return nil, err
		}
		if node == nil {
			node = cypher.True
		}
		parts = append(parts, node)
	}
	for _, sub := range p.And {
		s, err := e.predicate(sub, t)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	if len(p.Or) > 0 {
		alts := make([]cypher.Expr, 0, len(p.Or))
		for _, sub := range p.Or {
			s, err := e.predicate(sub, t)
			if err != nil {
				return nil, err
			}
			alts = append(alts, s)
		}
		parts = append(parts, foldOr(alts))
	}
	if p.Not != nil {
		s, err := e.predicate(*p.Not, t)
		if err != nil {
			return nil, err
		}
		parts = append(parts, foldNot(s))
	}
	return foldAnd(parts), nil
}

func constant(b bool) cypher.Expr {
	if b {
		return cypher.True
	}
	return cypher.False
}

func foldAnd(parts []cypher.Expr) cypher.Expr {
	var rest []cypher.Expr
	for _, p := range parts {
		switch p {
		case cypher.False:
			return cypher.False
		case cypher.True:
			continue
		}
		rest = append(rest, p)
	}
	if len(rest) == 0 {
		return cypher.True
	}
	return cypher.And(rest...)
}

func foldOr(parts []cypher.Expr) cypher.Expr {
	var rest []cypher.Expr
	for _, p := range parts {
		switch p {
		case cypher.True:
			return cypher.True
		case cypher.False:
			continue
		}
		rest = append(rest, p)
	}
	if len(rest) == 0 {
		return cypher.False
	}
	return cypher.Or(rest...)
}

func foldNot(p cypher.Expr) cypher.Expr {
	switch p {
	case cypher.True:
		return cypher.False
	case cypher.False:
		return cypher.True
	}
	return cypher.Not(p)
}

// Guard wraps pred for use inside WHERE: it holds when pred holds and raises
// ForbiddenMessage otherwise.
func Guard(pred cypher.Expr) cypher.Expr {
	if pred == nil {
		return nil
	}
	return cypher.ValidatePredicate(pred, ForbiddenMessage)
}

// GuardClause is Guard as a standalone clause.
func GuardClause(pred cypher.Expr) cypher.Clause {
	if pred == nil {
		return nil
	}
	return cypher.Validate(pred, ForbiddenMessage)
}
