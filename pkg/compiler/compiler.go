// Package compiler provides the pure compile step: a schema model, a
// decoded claim set and a selection in, Cypher and parameters out.
//
// This is a thin wrapper around internal/translate for callers that verify
// credentials themselves and need no logging, metrics or schema reloads.
// Most applications should use quince.Translator instead.
package compiler

import (
	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/translate"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

// Result is a compiled root field.
type Result = translate.Result

// Columns holding the response of a statement.
const (
	ColumnThis = translate.ColumnThis
	ColumnData = translate.ColumnData
)

// Compile compiles one root field for a request holding claims. Nil claims
// compile an unauthenticated request.
func Compile(model *schema.Model, claims authn.Claims, field *selection.Field) (Result, error) {
	return translate.Translate(translate.Request{
		Model:     model,
		Evaluator: &authz.Evaluator{Model: model, Claims: claims},
		Field:     field,
	})
}

// CompileOperation parses a GraphQL operation and compiles each of its
// root fields.
func CompileOperation(model *schema.Model, claims authn.Claims, query, operationName string, variables map[string]any) ([]Result, error) {
	op, err := selection.Parse(query, operationName, variables)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(op.Fields))
	for _, f := range op.Fields {
		res, err := Compile(model, claims, f)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
