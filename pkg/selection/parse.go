package selection

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ErrInvalidOperation is returned when an operation cannot be parsed or
// references an unknown fragment or operation.
var ErrInvalidOperation = errors.New("quince/selection: invalid operation")

// Operation is a parsed GraphQL operation.
type Operation struct {
	Kind   string // query, mutation or subscription
	Name   string
	Fields []*Field
}

// Parse parses a GraphQL operation and returns its root fields. The named
// operation is selected when the document holds several; variables fill
// argument values, falling back to declared defaults. Fields under a false
// @include or a true @skip are dropped.
func Parse(query, operationName string, variables map[string]any) (*Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation.graphql", Input: query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	op, err := pickOperation(doc.Operations, operationName)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(variables)+len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		if def.DefaultValue == nil {
			continue
		}
		v, err := def.DefaultValue.Value(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: default for $%s: %v", ErrInvalidOperation, def.Variable, err)
		}
		vars[def.Variable] = v
	}
	for k, v := range variables {
		vars[k] = v
	}

	c := &converter{fragments: doc.Fragments, vars: vars}
	root := &Field{}
	if err := c.selections(root, Untyped, op.SelectionSet, nil); err != nil {
		return nil, err
	}
	return &Operation{Kind: string(op.Operation), Name: op.Name, Fields: root.Fields()}, nil
}

func pickOperation(ops ast.OperationList, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(ops) != 1 {
			return nil, fmt.Errorf("%w: document has %d operations, name one", ErrInvalidOperation, len(ops))
		}
		return ops[0], nil
	}
	for _, op := range ops {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: operation %q not found", ErrInvalidOperation, name)
}

type converter struct {
	fragments ast.FragmentDefinitionList
	vars      map[string]any
}

// selections appends the fields of set to parent under typeName. visiting
// guards against fragment spreads that include themselves.
func (c *converter) selections(parent *Field, typeName string, set ast.SelectionSet, visiting map[string]bool) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			ok, err := c.included(s.Directives)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			f, err := c.field(s, visiting)
			if err != nil {
				return err
			}
			parent.On(typeName, f)
		case *ast.InlineFragment:
			ok, err := c.included(s.Directives)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := c.selections(parent, c.scope(typeName, s.TypeCondition), s.SelectionSet, visiting); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			ok, err := c.included(s.Directives)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			def := c.fragments.ForName(s.Name)
			if def == nil {
				return fmt.Errorf("%w: unknown fragment %q", ErrInvalidOperation, s.Name)
			}
			if visiting[s.Name] {
				return fmt.Errorf("%w: fragment %q spreads itself", ErrInvalidOperation, s.Name)
			}
			next := make(map[string]bool, len(visiting)+1)
			for k := range visiting {
				next[k] = true
			}
			next[s.Name] = true
			if err := c.selections(parent, c.scope(typeName, def.TypeCondition), def.SelectionSet, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// scope keeps the enclosing type condition when a fragment has none.
func (c *converter) scope(outer, condition string) string {
	if condition == "" {
		return outer
	}
	return condition
}

func (c *converter) field(s *ast.Field, visiting map[string]bool) (*Field, error) {
	f := &Field{Name: s.Name}
	if s.Alias != "" && s.Alias != s.Name {
		f.Alias = s.Alias
	}
	if len(s.Arguments) > 0 {
		f.Args = make(map[string]any, len(s.Arguments))
		for _, a := range s.Arguments {
			v, err := a.Value.Value(c.vars)
			if err != nil {
				return nil, fmt.Errorf("%w: argument %s.%s: %v", ErrInvalidOperation, s.Name, a.Name, err)
			}
			f.Args[a.Name] = v
		}
	}
	if err := c.selections(f, Untyped, s.SelectionSet, visiting); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *converter) included(dirs ast.DirectiveList) (bool, error) {
	for _, d := range dirs {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil {
			return false, fmt.Errorf("%w: @%s needs an if argument", ErrInvalidOperation, d.Name)
		}
		v, err := arg.Value.Value(c.vars)
		if err != nil {
			return false, fmt.Errorf("%w: @%s: %v", ErrInvalidOperation, d.Name, err)
		}
		b, _ := v.(bool)
		if d.Name == "skip" && b {
			return false, nil
		}
		if d.Name == "include" && !b {
			return false, nil
		}
	}
	return true, nil
}
