package cypher

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Expr is the interface that all inline Cypher expressions implement.
type Expr interface {
	Cypher(env *Environment) string
}

// Variable is an expression that names a value in the query: a node, a
// relationship, or a plain variable introduced by WITH/UNWIND/comprehensions.
type Variable interface {
	Expr
	fixedName() string
}

// =============================================================================
// Parameters and constants
// =============================================================================

// Param is a boxed value rendered as a named placeholder. Identity matters:
// the Environment names each *Param once.
type Param struct {
	Value any
}

// NewParam boxes v in a new parameter.
func NewParam(v any) *Param {
	return &Param{Value: v}
}

// Cypher renders the placeholder.
func (p *Param) Cypher(env *Environment) string {
	return "$" + env.ParamName(p)
}

// Literal is a constant rendered inline. It is reserved for values the
// compiler owns (type tags, procedure markers, booleans); request values go
// through Param.
type Literal struct {
	Value any
}

// Lit creates a Literal.
func Lit(v any) Literal {
	return Literal{Value: v}
}

// Common constants.
var (
	True  = Lit(true)
	False = Lit(false)
	Null  = Lit(nil)
)

// Cypher renders the literal.
func (l Literal) Cypher(env *Environment) string {
	return renderLiteral(l.Value)
}

func renderLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return quoteString(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = renderLiteral(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "NULL"
	}
}

func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// escapeName quotes labels, types and keys that are not plain identifiers.
func escapeName(name string) string {
	if identPattern.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// =============================================================================
// Variables
// =============================================================================

// Var is a plain variable. Anonymous vars are numbered by the Environment.
type Var struct {
	name string
}

// NewVariable creates an anonymous variable.
func NewVariable() *Var {
	return &Var{}
}

// NamedVariable creates a variable with a fixed name.
func NamedVariable(name string) *Var {
	return &Var{name: name}
}

func (v *Var) fixedName() string { return v.name }

// Cypher renders the variable name.
func (v *Var) Cypher(env *Environment) string {
	return env.reference(v)
}

// Property returns a reference to a property of the variable.
func (v *Var) Property(name string) PropertyRef {
	return PropertyRef{Target: v, Property: name}
}

// PropertyRef reads a property: target.property.
type PropertyRef struct {
	Target   Expr
	Property string
}

// Cypher renders the property access.
func (p PropertyRef) Cypher(env *Environment) string {
	return p.Target.Cypher(env) + "." + escapeName(p.Property)
}

// =============================================================================
// Functions and collections
// =============================================================================

// Func is a function call.
type Func struct {
	Name string
	Args []Expr
}

// Cypher renders the call.
func (f Func) Cypher(env *Environment) string {
	return f.Name + "(" + joinRendered(env, f.Args, ", ") + ")"
}

// Count renders count(e).
func Count(e Expr) Func { return Func{Name: "count", Args: []Expr{e}} }

// Collect renders collect(e).
func Collect(e Expr) Func { return Func{Name: "collect", Args: []Expr{e}} }

// Head renders head(e).
func Head(e Expr) Func { return Func{Name: "head", Args: []Expr{e}} }

// Size renders size(e).
func Size(e Expr) Func { return Func{Name: "size", Args: []Expr{e}} }

// Coalesce renders coalesce(args...).
func Coalesce(args ...Expr) Func { return Func{Name: "coalesce", Args: args} }

// CountAll renders count(*).
type CountAll struct{}

// Cypher renders count(*).
func (CountAll) Cypher(env *Environment) string { return "count(*)" }

// List is a list literal whose items are expressions.
type List struct {
	Items []Expr
}

// Cypher renders [a, b, ...].
func (l List) Cypher(env *Environment) string {
	return "[" + joinRendered(env, l.Items, ", ") + "]"
}

// MapEntry is one key of a map or map projection.
type MapEntry struct {
	Key   string
	Value Expr
}

// Map is an ordered map literal.
type Map struct {
	Entries []MapEntry
}

// Cypher renders { k: v, ... }.
func (m Map) Cypher(env *Environment) string {
	if len(m.Entries) == 0 {
		return "{}"
	}
	parts := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		parts[i] = escapeName(e.Key) + ": " + e.Value.Cypher(env)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// MapFromValues builds a Map with one Param per entry, keys sorted.
func MapFromValues(values map[string]any) Map {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := Map{Entries: make([]MapEntry, len(keys))}
	for i, k := range keys {
		m.Entries[i] = MapEntry{Key: k, Value: NewParam(values[k])}
	}
	return m
}

// ProjectionEntry is one element of a map projection. A nil Value renders the
// shorthand .key form.
type ProjectionEntry struct {
	Key   string
	Value Expr
}

// MapProjection renders target { .a, b: expr }.
type MapProjection struct {
	Target  Variable
	Entries []ProjectionEntry
}

// Cypher renders the projection.
func (m MapProjection) Cypher(env *Environment) string {
	parts := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		if e.Value == nil {
			parts[i] = "." + escapeName(e.Key)
			continue
		}
		parts[i] = escapeName(e.Key) + ": " + e.Value.Cypher(env)
	}
	target := m.Target.Cypher(env)
	if len(parts) == 0 {
		return target + " { }"
	}
	return target + " { " + strings.Join(parts, ", ") + " }"
}

// ListComprehension renders [v IN source WHERE where | mapping].
type ListComprehension struct {
	Var    Variable
	Source Expr
	Where  Expr
	Map    Expr
}

// Cypher renders the comprehension.
func (l ListComprehension) Cypher(env *Environment) string {
	env.bind(l.Var)
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(env.VariableName(l.Var))
	b.WriteString(" IN ")
	b.WriteString(l.Source.Cypher(env))
	if l.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(l.Where.Cypher(env))
	}
	if l.Map != nil {
		b.WriteString(" | ")
		b.WriteString(l.Map.Cypher(env))
	}
	b.WriteString("]")
	return b.String()
}

// PatternComprehension renders [pattern WHERE where | mapping].
type PatternComprehension struct {
	Pattern *Pattern
	Where   Expr
	Map     Expr
}

// Cypher renders the comprehension.
func (p PatternComprehension) Cypher(env *Environment) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(p.Pattern.Cypher(env))
	if p.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(p.Where.Cypher(env))
	}
	b.WriteString(" | ")
	b.WriteString(p.Map.Cypher(env))
	b.WriteString("]")
	return b.String()
}

// Exists renders an EXISTS { ... } sub-query predicate.
type Exists struct {
	Query Clause
}

// Cypher renders the sub-query.
func (e Exists) Cypher(env *Environment) string {
	return "EXISTS {\n" + indent(e.Query.Cypher(env)) + "\n}"
}

// When is one CASE branch.
type When struct {
	Cond   Expr
	Result Expr
}

// Case renders CASE WHEN ... THEN ... ELSE ... END.
type Case struct {
	Branches []When
	Else     Expr
}

// Cypher renders the CASE expression.
func (c Case) Cypher(env *Environment) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, w := range c.Branches {
		b.WriteString(" WHEN ")
		b.WriteString(w.Cond.Cypher(env))
		b.WriteString(" THEN ")
		b.WriteString(w.Result.Cypher(env))
	}
	if c.Else != nil {
		b.WriteString(" ELSE ")
		b.WriteString(c.Else.Cypher(env))
	}
	b.WriteString(" END")
	return b.String()
}

// Index renders list[index].
type Index struct {
	List  Expr
	Index Expr
}

// Cypher renders the subscript.
func (i Index) Cypher(env *Environment) string {
	return i.List.Cypher(env) + "[" + i.Index.Cypher(env) + "]"
}

// HasLabel renders target:Label.
type HasLabel struct {
	Target Expr
	Label  string
}

// Cypher renders the label check.
func (h HasLabel) Cypher(env *Environment) string {
	return h.Target.Cypher(env) + ":" + escapeName(h.Label)
}

// HasLabels checks every label of a label set.
func HasLabels(target Expr, labels ...string) Expr {
	exprs := make([]Expr, len(labels))
	for i, l := range labels {
		exprs[i] = HasLabel{Target: target, Label: l}
	}
	return And(exprs...)
}

func joinRendered(env *Environment, exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.Cypher(env)
	}
	return strings.Join(parts, sep)
}
