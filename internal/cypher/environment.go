package cypher

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnboundVariable is returned by BuildChecked when an expression references
// a node or variable that no preceding clause binds.
var ErrUnboundVariable = errors.New("cypher: reference to unbound variable")

// Environment assigns names to parameters and variables during rendering.
// A fresh Environment is created for every Build; it is never shared.
type Environment struct {
	params     map[*Param]string
	paramOrder []*Param
	vars       map[Variable]string
	bound      map[Variable]bool
	nextVar    int
	unbound    []string
}

// NewEnvironment returns an empty rendering environment.
func NewEnvironment() *Environment {
	return &Environment{
		params: make(map[*Param]string),
		vars:   make(map[Variable]string),
		bound:  make(map[Variable]bool),
	}
}

// ParamName returns the placeholder name for p, assigning the next free name
// the first time p is seen.
func (e *Environment) ParamName(p *Param) string {
	if name, ok := e.params[p]; ok {
		return name
	}
	name := "param" + strconv.Itoa(len(e.paramOrder))
	e.params[p] = name
	e.paramOrder = append(e.paramOrder, p)
	return name
}

// VariableName returns the rendered name of v. Named variables keep their
// name; anonymous ones are numbered in first-encounter order.
func (e *Environment) VariableName(v Variable) string {
	if name, ok := e.vars[v]; ok {
		return name
	}
	name := v.fixedName()
	if name == "" {
		name = "this" + strconv.Itoa(e.nextVar)
		e.nextVar++
	}
	e.vars[v] = name
	return name
}

// Params returns the parameter map collected so far.
func (e *Environment) Params() map[string]any {
	out := make(map[string]any, len(e.paramOrder))
	for _, p := range e.paramOrder {
		out[e.params[p]] = p.Value
	}
	return out
}

// bind marks v as introduced by a clause.
func (e *Environment) bind(v Variable) {
	e.bound[v] = true
}

func (e *Environment) isBound(v Variable) bool {
	return e.bound[v]
}

// reference renders v as a use site, recording it when nothing bound it.
func (e *Environment) reference(v Variable) string {
	name := e.VariableName(v)
	if !e.bound[v] {
		e.unbound = append(e.unbound, name)
	}
	return name
}

func (e *Environment) err() error {
	if len(e.unbound) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnboundVariable, e.unbound[0])
}
