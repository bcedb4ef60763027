package schema

// ScopeKey names one annotation rule kind in the scope table.
type ScopeKey string

const (
	ScopeAuthentication        ScopeKey = "authentication"
	ScopeAuthorizationFilter   ScopeKey = "authorization.filter"
	ScopeAuthorizationValidate ScopeKey = "authorization.validate"
	ScopeSubscriptionsFilter   ScopeKey = "subscriptionsAuthorization.filter"
)

// Scope is the default applied to a rule that omits its scope arguments.
type Scope struct {
	Operations            []Operation
	Events                []Event
	When                  []Phase
	RequireAuthentication bool
}

// ScopeTable maps every rule kind to its defaults. The kinds do
// not share a default: a validate rule also guards CREATE, a filter rule does
// not, and authentication alone covers SUBSCRIBE.
type ScopeTable map[ScopeKey]Scope

// DefaultScopes returns a fresh copy of the built-in scope table.
func DefaultScopes() ScopeTable {
	return ScopeTable{
		ScopeAuthentication: {
			Operations: []Operation{
				OperationRead, OperationAggregate, OperationCreate, OperationUpdate,
				OperationDelete, OperationCreateRelationship, OperationDeleteRelationship,
				OperationSubscribe,
			},
			RequireAuthentication: true,
		},
		ScopeAuthorizationFilter: {
			Operations: []Operation{
				OperationRead, OperationAggregate, OperationUpdate, OperationDelete,
				OperationCreateRelationship, OperationDeleteRelationship,
			},
			RequireAuthentication: true,
		},
		ScopeAuthorizationValidate: {
			Operations: []Operation{
				OperationRead, OperationAggregate, OperationCreate, OperationUpdate,
				OperationDelete, OperationCreateRelationship, OperationDeleteRelationship,
			},
			When:                  []Phase{PhaseBefore, PhaseAfter},
			RequireAuthentication: true,
		},
		ScopeSubscriptionsFilter: {
			Events: []Event{
				EventCreated, EventUpdated, EventDeleted,
				EventRelationshipCreated, EventRelationshipDeleted,
			},
			RequireAuthentication: true,
		},
	}
}

// lookup returns the scope for key, falling back to the built-in table when a
// caller-supplied table leaves it out.
func (t ScopeTable) lookup(key ScopeKey) Scope {
	if s, ok := t[key]; ok {
		return s
	}
	return DefaultScopes()[key]
}
