// Package selection describes the fields a request asks for.
//
// A Field mirrors one GraphQL field in an operation: its name, optional
// alias, decoded arguments and nested selections. Nested selections are
// bucketed by the type condition they were requested under, so the
// compiler can pick the fields that apply to a concrete entity without
// knowing how the request was written:
//
//	{ favourite { __typename ... on Post { title } ... on User { name } } }
//
// puts __typename under Untyped, title under "Post" and name under "User".
//
// Fields are usually built with Parse from an operation string, or
// programmatically with NewField for embedding.
package selection

import "sort"

// Untyped is the bucket for fields selected without a type condition.
const Untyped = ""

// Field is one selected field.
type Field struct {
	Name             string
	Alias            string
	Args             map[string]any
	FieldsByTypeName map[string][]*Field
}

// NewField returns a field selecting children without a type condition.
func NewField(name string, children ...*Field) *Field {
	f := &Field{Name: name}
	if len(children) > 0 {
		f.FieldsByTypeName = map[string][]*Field{Untyped: children}
	}
	return f
}

// As sets the alias.
func (f *Field) As(alias string) *Field {
	f.Alias = alias
	return f
}

// WithArgs sets the arguments.
func (f *Field) WithArgs(args map[string]any) *Field {
	f.Args = args
	return f
}

// On adds children selected under a type condition.
func (f *Field) On(typeName string, children ...*Field) *Field {
	if f.FieldsByTypeName == nil {
		f.FieldsByTypeName = make(map[string][]*Field)
	}
	f.FieldsByTypeName[typeName] = append(f.FieldsByTypeName[typeName], children...)
	return f
}

// Key returns the response key: the alias when set, otherwise the name.
func (f *Field) Key() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// Arg returns an argument value.
func (f *Field) Arg(name string) (any, bool) {
	v, ok := f.Args[name]
	return v, ok
}

// HasSelection reports whether any nested field is selected.
func (f *Field) HasSelection() bool {
	for _, children := range f.FieldsByTypeName {
		if len(children) > 0 {
			return true
		}
	}
	return false
}

// Fields returns the untyped children plus those selected under any of
// typeNames, in selection order. Fields sharing a response key are merged
// into one, combining their nested selections.
func (f *Field) Fields(typeNames ...string) []*Field {
	if f == nil {
		return nil
	}
	var all []*Field
	all = append(all, f.FieldsByTypeName[Untyped]...)
	for _, name := range typeNames {
		if name == Untyped {
			continue
		}
		all = append(all, f.FieldsByTypeName[name]...)
	}
	return Merge(all)
}

// Merge collapses fields that share a response key. The inputs are not
// modified.
func Merge(fields []*Field) []*Field {
	out := make([]*Field, 0, len(fields))
	index := make(map[string]int, len(fields))
	for _, field := range fields {
		i, seen := index[field.Key()]
		if !seen {
			index[field.Key()] = len(out)
			out = append(out, field)
			continue
		}
		out[i] = mergeTwo(out[i], field)
	}
	return out
}

func mergeTwo(a, b *Field) *Field {
	if !b.HasSelection() {
		return a
	}
	merged := &Field{
		Name:             a.Name,
		Alias:            a.Alias,
		Args:             a.Args,
		FieldsByTypeName: make(map[string][]*Field, len(a.FieldsByTypeName)+len(b.FieldsByTypeName)),
	}
	for k, v := range a.FieldsByTypeName {
		merged.FieldsByTypeName[k] = append([]*Field(nil), v...)
	}
	for k, v := range b.FieldsByTypeName {
		merged.FieldsByTypeName[k] = append(merged.FieldsByTypeName[k], v...)
	}
	return merged
}

// TypeNames returns the type conditions present in the selection, sorted.
func (f *Field) TypeNames() []string {
	var names []string
	for k, v := range f.FieldsByTypeName {
		if k != Untyped && len(v) > 0 {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}
