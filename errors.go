package quince

import (
	"errors"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

// Sentinel errors returned by translation. Use the Is*Err helpers to
// classify them; the returned errors usually wrap these with detail.
//
// ErrUnauthenticated and ErrForbidden are request-scoped: they describe
// the caller, and map naturally to 401 and 403 responses. The others
// describe the schema or the request shape and point at a bug in the
// schema, the client or quince itself.
var (
	// ErrUnauthenticated is returned when credentials cannot be verified, or
	// when a rule requires a claim set the request does not have.
	ErrUnauthenticated = authn.ErrUnauthenticated

	// ErrForbidden is returned when a validate rule can never hold for the
	// request. Guards that fail in the database raise ForbiddenMessage
	// instead; runners map it back to this error.
	ErrForbidden = authz.ErrForbidden

	// ErrInvalidSchema is returned when type definitions cannot be compiled
	// into a schema model.
	ErrInvalidSchema = schema.ErrInvalidSchema

	// ErrUnboundVariable is returned when a composed statement references a
	// variable no clause binds. It always indicates a bug in quince.
	ErrUnboundVariable = cypher.ErrUnboundVariable

	// ErrUnknownField is returned when a request selects or filters on a
	// field the schema does not declare.
	ErrUnknownField = where.ErrUnknownField

	// ErrInvalidArgument is returned when an argument has the wrong shape.
	ErrInvalidArgument = where.ErrInvalidArgument

	// ErrInvalidOperation is returned when a GraphQL operation cannot be
	// parsed.
	ErrInvalidOperation = selection.ErrInvalidOperation
)

// IsUnauthenticatedErr returns true if err is or wraps ErrUnauthenticated.
func IsUnauthenticatedErr(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsForbiddenErr returns true if err is or wraps ErrForbidden.
func IsForbiddenErr(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInvalidSchemaErr returns true if err is or wraps ErrInvalidSchema.
func IsInvalidSchemaErr(err error) bool {
	return errors.Is(err, ErrInvalidSchema)
}

// IsCompositionErr returns true if err reports a request that could not be
// composed: an unknown field, a malformed argument or operation, or an
// unbound variable.
func IsCompositionErr(err error) bool {
	return errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrUnboundVariable)
}
