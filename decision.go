package quince

import (
	"context"

	"github.com/pthm/quince/internal/authz"
)

// Decision allows bypassing authorization rules for admin tools and tests.
// Decisions are set at Translator construction time via WithDecision,
// making the bypass explicit and visible in code.
type Decision = authz.Decision

const (
	// DecisionUnset means no override: rules are evaluated normally.
	DecisionUnset = authz.DecisionUnset

	// DecisionAllow compiles statements without authorization rules.
	// Use for admin tools, background jobs, or testing authorized code paths.
	DecisionAllow = authz.DecisionAllow

	// DecisionDeny rejects every request with ErrForbidden.
	// Use for testing unauthorized code paths.
	DecisionDeny = authz.DecisionDeny
)

type decisionKey struct{}

// WithDecisionContext returns a new context with the given decision.
//
// The Translator consults it only when built with WithContextDecision.
func WithDecisionContext(ctx context.Context, decision Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, decision)
}

// GetDecisionContext retrieves the decision from context.
// Returns DecisionUnset if no decision is set.
func GetDecisionContext(ctx context.Context) Decision {
	if decision, ok := ctx.Value(decisionKey{}).(Decision); ok {
		return decision
	}
	return DecisionUnset
}
