package schema

// Operation is a kind of request an annotation can be scoped to.
type Operation string

// Operations recognised in authentication and authorization rules.
const (
	OperationRead               Operation = "READ"
	OperationAggregate          Operation = "AGGREGATE"
	OperationCreate             Operation = "CREATE"
	OperationUpdate             Operation = "UPDATE"
	OperationDelete             Operation = "DELETE"
	OperationCreateRelationship Operation = "CREATE_RELATIONSHIP"
	OperationDeleteRelationship Operation = "DELETE_RELATIONSHIP"
	OperationSubscribe          Operation = "SUBSCRIBE"
)

var knownOperations = map[Operation]bool{
	OperationRead: true, OperationAggregate: true, OperationCreate: true,
	OperationUpdate: true, OperationDelete: true, OperationCreateRelationship: true,
	OperationDeleteRelationship: true, OperationSubscribe: true,
}

// Event is a subscription event kind.
type Event string

// Events recognised in subscriptions authorization rules.
const (
	EventCreated             Event = "CREATED"
	EventUpdated             Event = "UPDATED"
	EventDeleted             Event = "DELETED"
	EventRelationshipCreated Event = "RELATIONSHIP_CREATED"
	EventRelationshipDeleted Event = "RELATIONSHIP_DELETED"
)

var knownEvents = map[Event]bool{
	EventCreated: true, EventUpdated: true, EventDeleted: true,
	EventRelationshipCreated: true, EventRelationshipDeleted: true,
}

// Phase says when a validate rule runs relative to the mutation it guards.
type Phase string

const (
	// PhaseBefore rules run before the mutating clause.
	PhaseBefore Phase = "BEFORE"
	// PhaseAfter rules run after it, so a failure rolls the write back.
	PhaseAfter Phase = "AFTER"
)

// AnnotationKind tags the variants of Annotation.
type AnnotationKind string

const (
	KindAuthentication             AnnotationKind = "authentication"
	KindAuthorization              AnnotationKind = "authorization"
	KindSubscriptionsAuthorization AnnotationKind = "subscriptionsAuthorization"
)

// Annotation is implemented by every annotation variant.
type Annotation interface {
	AnnotationKind() AnnotationKind
}

// Annotations holds at most one annotation of each kind. It is attached to the
// schema, to entities, and to individual fields.
type Annotations struct {
	Authentication             *Authentication
	Authorization              *Authorization
	SubscriptionsAuthorization *SubscriptionsAuthorization
}

// All returns the present annotations in a fixed order.
func (a Annotations) All() []Annotation {
	var out []Annotation
	if a.Authentication != nil {
		out = append(out, a.Authentication)
	}
	if a.Authorization != nil {
		out = append(out, a.Authorization)
	}
	if a.SubscriptionsAuthorization != nil {
		out = append(out, a.SubscriptionsAuthorization)
	}
	return out
}

// Empty reports whether no annotation is attached.
func (a Annotations) Empty() bool {
	return len(a.All()) == 0
}

// Authentication requires a claim set for the listed operations, and
// optionally that the claims satisfy JWT.
type Authentication struct {
	Operations []Operation
	JWT        *Filter
}

func (*Authentication) AnnotationKind() AnnotationKind { return KindAuthentication }

// Applies reports whether op is in scope.
func (a *Authentication) Applies(op Operation) bool {
	return containsOperation(a.Operations, op)
}

// Authorization holds filter and validate rules.
type Authorization struct {
	Filter   []FilterRule
	Validate []ValidateRule
}

func (*Authorization) AnnotationKind() AnnotationKind { return KindAuthorization }

// FilterRule narrows the rows an operation can see.
type FilterRule struct {
	Operations            []Operation
	RequireAuthentication bool
	Where                 Predicate
}

// Applies reports whether op is in scope.
func (r FilterRule) Applies(op Operation) bool {
	return containsOperation(r.Operations, op)
}

// ValidateRule rejects the whole operation when its predicate fails at one of
// its phases.
type ValidateRule struct {
	Operations            []Operation
	When                  []Phase
	RequireAuthentication bool
	Where                 Predicate
}

// Applies reports whether op and phase are in scope.
func (r ValidateRule) Applies(op Operation, phase Phase) bool {
	if !containsOperation(r.Operations, op) {
		return false
	}
	for _, p := range r.When {
		if p == phase {
			return true
		}
	}
	return false
}

// SubscriptionsAuthorization holds filter rules for subscription events.
type SubscriptionsAuthorization struct {
	Filter []SubscriptionsFilterRule
}

func (*SubscriptionsAuthorization) AnnotationKind() AnnotationKind {
	return KindSubscriptionsAuthorization
}

// SubscriptionsFilterRule hides events that do not satisfy Where.
type SubscriptionsFilterRule struct {
	Events                []Event
	RequireAuthentication bool
	Where                 Predicate
}

// Applies reports whether ev is in scope.
func (r SubscriptionsFilterRule) Applies(ev Event) bool {
	for _, e := range r.Events {
		if e == ev {
			return true
		}
	}
	return false
}

func containsOperation(ops []Operation, op Operation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
