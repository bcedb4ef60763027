package schema

import "errors"

// ErrInvalidSchema is returned when type definitions or their directives cannot
// be turned into a model: malformed directive arguments, references to
// undeclared types or fields, and field-name collisions.
var ErrInvalidSchema = errors.New("quince/schema: invalid schema")

// IsInvalidSchemaErr returns true if err is or wraps ErrInvalidSchema.
func IsInvalidSchemaErr(err error) bool {
	return errors.Is(err, ErrInvalidSchema)
}
