// Package parser loads GraphQL type definitions into a quince schema model.
//
// This package wraps vektah/gqlparser to read SDL annotated with the quince
// directives (@relationship, @authorization, @cypher, ...) and converts the
// result into schema.Model values. It isolates the GraphQL parser dependency
// from the compiler packages, which only see the schema package.
//
// # Basic Usage
//
// Parse a schema file:
//
//	model, err := parser.ParseSchema("schema.graphql")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse schema from a string:
//
//	model, err := parser.ParseSchemaString(typeDefs)
//
// # Directives
//
// The directive declarations are prepended automatically, together with the
// temporal, spatial and BigInt scalars when the SDL does not declare them
// itself. Authorization rules that omit their scope arguments receive the
// defaults from schema.DefaultScopes, or from the table passed with
// WithScopeDefaults.
package parser

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	gqlsyntax "github.com/vektah/gqlparser/v2/parser"

	"github.com/pthm/quince/schema"
)

//go:embed directives.graphql
var directivesSDL string

// scalars that type definitions may use without declaring.
var implicitScalars = []string{
	"BigInt", "DateTime", "Date", "Time", "LocalTime", "LocalDateTime",
	"Duration", "Point", "CartesianPoint",
}

// root operation types are not entities.
var operationTypes = map[string]bool{"Query": true, "Mutation": true, "Subscription": true}

// Option configures parsing.
type Option func(*options)

type options struct {
	scopes schema.ScopeTable
	name   string
}

// WithScopeDefaults replaces the default rule scopes used for annotations
// that omit operations, events or when.
func WithScopeDefaults(t schema.ScopeTable) Option {
	return func(o *options) { o.scopes = t }
}

// WithSourceName sets the source name reported in parse errors.
func WithSourceName(name string) Option {
	return func(o *options) { o.name = name }
}

// ParseSchema reads an SDL file and builds the schema model.
func ParseSchema(path string, opts ...Option) (*schema.Model, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path is from trusted source
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseSchemaString(string(content), append([]Option{WithSourceName(path)}, opts...)...)
}

// ParseSchemaString parses SDL content and builds the schema model.
func ParseSchemaString(sdl string, opts ...Option) (*schema.Model, error) {
	o := options{scopes: schema.DefaultScopes(), name: "schema.graphql"}
	for _, opt := range opts {
		opt(&o)
	}

	source := &ast.Source{Name: o.name, Input: sdl}
	doc, err := gqlsyntax.ParseSchema(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidSchema, err)
	}

	prelude := &ast.Source{Name: "quince-directives.graphql", Input: preludeFor(doc), BuiltIn: true}
	loaded, err := gqlparser.LoadSchema(prelude, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidSchema, err)
	}

	b := &builder{schema: loaded, scopes: o.scopes}
	return b.build(doc)
}

// preludeFor returns the directive declarations plus any implicit scalar the
// document does not declare.
func preludeFor(doc *ast.SchemaDocument) string {
	var sb strings.Builder
	sb.WriteString(directivesSDL)
	for _, name := range implicitScalars {
		if doc.Definitions.ForName(name) == nil {
			fmt.Fprintf(&sb, "\nscalar %s", name)
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

type builder struct {
	schema *ast.Schema
	scopes schema.ScopeTable
}

func (b *builder) build(doc *ast.SchemaDocument) (*schema.Model, error) {
	var (
		entities   []*schema.ConcreteEntity
		edges      []*schema.ConcreteEntity
		composites []*schema.CompositeEntity
	)

	for _, d := range doc.Definitions {
		def := b.schema.Types[d.Name]
		if def == nil || def.BuiltIn || operationTypes[def.Name] {
			continue
		}
		switch def.Kind {
		case ast.Object:
			e, err := b.entity(def)
			if err != nil {
				return nil, err
			}
			if def.Directives.ForName("relationshipProperties") != nil {
				edges = append(edges, e)
			} else {
				entities = append(entities, e)
			}
		case ast.Interface:
			composites = append(composites, &schema.CompositeEntity{Name: def.Name, Kind: schema.CompositeInterface})
		case ast.Union:
			composites = append(composites, &schema.CompositeEntity{
				Name:        def.Name,
				Kind:        schema.CompositeUnion,
				MemberNames: append([]string(nil), def.Types...),
			})
		}
	}

	var schemaDirectives ast.DirectiveList
	for _, sd := range doc.Schema {
		schemaDirectives = append(schemaDirectives, sd.Directives...)
	}
	for _, sd := range doc.SchemaExtension {
		schemaDirectives = append(schemaDirectives, sd.Directives...)
	}
	annotations, err := b.annotations(schemaDirectives, "schema")
	if err != nil {
		return nil, err
	}

	return schema.NewModel(entities, edges, composites, annotations)
}

func (b *builder) entity(def *ast.Definition) (*schema.ConcreteEntity, error) {
	e := &schema.ConcreteEntity{
		Name:       def.Name,
		Labels:     []string{def.Name},
		Interfaces: append([]string(nil), def.Interfaces...),
	}

	if d := def.Directives.ForName("node"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return nil, err
		}
		if labels, ok := args["labels"].([]any); ok && len(labels) > 0 {
			e.Labels = e.Labels[:0]
			for _, l := range labels {
				s, ok := l.(string)
				if !ok {
					return nil, fmt.Errorf("%w: @node labels on %s must be strings", schema.ErrInvalidSchema, def.Name)
				}
				e.Labels = append(e.Labels, s)
			}
		}
	}
	if d := def.Directives.ForName("plural"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return nil, err
		}
		e.Plural, _ = args["value"].(string)
	}
	if d := def.Directives.ForName("queryOptions"); d != nil {
		q, err := queryOptions(def.Name, d)
		if err != nil {
			return nil, err
		}
		e.QueryOptions = q
	}
	if d := def.Directives.ForName("fulltext"); d != nil {
		idx, err := fullTextIndexes(def.Name, d)
		if err != nil {
			return nil, err
		}
		e.FullText = idx
	}

	ann, err := b.annotations(def.Directives, def.Name)
	if err != nil {
		return nil, err
	}
	e.Annotations = ann

	for _, f := range def.Fields {
		if strings.HasPrefix(f.Name, "__") {
			continue
		}
		if err := b.field(e, def, f); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (b *builder) field(e *schema.ConcreteEntity, def *ast.Definition, f *ast.FieldDefinition) error {
	where := def.Name + "." + f.Name
	ann, err := b.annotations(f.Directives, where)
	if err != nil {
		return err
	}
	typ := b.typeRef(f.Type)

	if d := b.fieldDirective(def, f, "relationship"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return err
		}
		relType, _ := args["type"].(string)
		dir, _ := args["direction"].(string)
		if relType == "" || (dir != string(schema.DirectionIn) && dir != string(schema.DirectionOut)) {
			return fmt.Errorf("%w: @relationship on %s needs type and direction IN or OUT", schema.ErrInvalidSchema, where)
		}
		props, _ := args["properties"].(string)
		e.Relationships = append(e.Relationships, &schema.RelationshipField{
			Name:        f.Name,
			Type:        relType,
			Direction:   schema.Direction(dir),
			Target:      f.Type.Name(),
			List:        typ.List,
			NonNull:     typ.NonNull,
			Properties:  props,
			Annotations: ann,
		})
		return nil
	}

	if d := b.fieldDirective(def, f, "cypher"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return err
		}
		statement, _ := args["statement"].(string)
		if statement == "" {
			return fmt.Errorf("%w: @cypher on %s needs a statement", schema.ErrInvalidSchema, where)
		}
		column, _ := args["columnName"].(string)
		c := &schema.ComputedField{
			Name:        f.Name,
			Statement:   statement,
			ColumnName:  column,
			Type:        typ,
			Annotations: ann,
		}
		if b.isEntityType(f.Type.Name()) {
			c.Target = f.Type.Name()
		}
		for _, a := range f.Arguments {
			arg := schema.Argument{Name: a.Name, Type: b.typeRef(a.Type)}
			if a.DefaultValue != nil {
				v, err := a.DefaultValue.Value(nil)
				if err != nil {
					return fmt.Errorf("%w: default of %s(%s): %v", schema.ErrInvalidSchema, where, a.Name, err)
				}
				arg.Default, arg.HasDefault = v, true
			}
			c.Arguments = append(c.Arguments, arg)
		}
		e.Computed = append(e.Computed, c)
		return nil
	}

	if d := f.Directives.ForName("customResolver"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return err
		}
		requires, _ := args["requires"].(string)
		e.CustomResolved = append(e.CustomResolved, &schema.CustomResolvedField{
			Name:     f.Name,
			Type:     typ,
			Requires: strings.Fields(strings.NewReplacer("{", " ", "}", " ", ",", " ").Replace(requires)),
		})
		return nil
	}

	a := &schema.Attribute{Name: f.Name, Type: typ, Annotations: ann}
	if d := b.fieldDirective(def, f, "alias"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return err
		}
		a.DBName, _ = args["property"].(string)
	}
	if d := f.Directives.ForName("default"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return err
		}
		a.Default = args["value"]
	}
	if d := f.Directives.ForName("coalesce"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return err
		}
		a.Coalesce = args["value"]
	}
	if f.Directives.ForName("relayId") != nil {
		if e.GlobalID != nil {
			return fmt.Errorf("%w: %s declares more than one @relayId field", schema.ErrInvalidSchema, def.Name)
		}
		a.GlobalID = true
		e.GlobalID = &schema.GlobalIDConfig{Field: f.Name}
	}
	e.Attributes = append(e.Attributes, a)
	return nil
}

// fieldDirective returns the named directive from the field, or from the
// same field on an implemented interface.
func (b *builder) fieldDirective(def *ast.Definition, f *ast.FieldDefinition, name string) *ast.Directive {
	if d := f.Directives.ForName(name); d != nil {
		return d
	}
	for _, iface := range def.Interfaces {
		idef := b.schema.Types[iface]
		if idef == nil {
			continue
		}
		if inf := idef.Fields.ForName(f.Name); inf != nil {
			if d := inf.Directives.ForName(name); d != nil {
				return d
			}
		}
	}
	return nil
}

func (b *builder) typeRef(t *ast.Type) schema.TypeRef {
	name := t.Name()
	def := b.schema.Types[name]
	isEnum := def != nil && def.Kind == ast.Enum
	return schema.TypeRef{
		Name:    name,
		Kind:    schema.ScalarKindOf(name, isEnum),
		List:    t.Elem != nil,
		NonNull: t.NonNull,
	}
}

func (b *builder) isEntityType(name string) bool {
	def := b.schema.Types[name]
	if def == nil || def.BuiltIn {
		return false
	}
	return def.Kind == ast.Object || def.Kind == ast.Interface || def.Kind == ast.Union
}

func (b *builder) annotations(dirs ast.DirectiveList, where string) (schema.Annotations, error) {
	var ann schema.Annotations
	wrap := func(err error) error {
		return fmt.Errorf("%w (on %s)", err, where)
	}

	if d := dirs.ForName("authentication"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return ann, wrap(err)
		}
		if ann.Authentication, err = schema.ParseAuthentication(args, b.scopes); err != nil {
			return ann, wrap(err)
		}
	}
	if d := dirs.ForName("authorization"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return ann, wrap(err)
		}
		if ann.Authorization, err = schema.ParseAuthorization(args, b.scopes); err != nil {
			return ann, wrap(err)
		}
	}
	if d := dirs.ForName("subscriptionsAuthorization"); d != nil {
		args, err := arguments(d)
		if err != nil {
			return ann, wrap(err)
		}
		if ann.SubscriptionsAuthorization, err = schema.ParseSubscriptionsAuthorization(args, b.scopes); err != nil {
			return ann, wrap(err)
		}
	}
	return ann, nil
}

// arguments decodes directive arguments into plain Go values. Enum values
// decode to their names.
func arguments(d *ast.Directive) (map[string]any, error) {
	out := make(map[string]any, len(d.Arguments))
	for _, a := range d.Arguments {
		v, err := a.Value.Value(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: @%s(%s): %v", schema.ErrInvalidSchema, d.Name, a.Name, err)
		}
		out[a.Name] = v
	}
	return out, nil
}

func queryOptions(entity string, d *ast.Directive) (*schema.QueryOptions, error) {
	args, err := arguments(d)
	if err != nil {
		return nil, err
	}
	limit, ok := args["limit"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: @queryOptions on %s needs limit", schema.ErrInvalidSchema, entity)
	}
	q := &schema.QueryOptions{}
	if q.DefaultLimit, err = intArg(limit["default"]); err != nil {
		return nil, fmt.Errorf("%w: @queryOptions default on %s: %v", schema.ErrInvalidSchema, entity, err)
	}
	if q.MaxLimit, err = intArg(limit["max"]); err != nil {
		return nil, fmt.Errorf("%w: @queryOptions max on %s: %v", schema.ErrInvalidSchema, entity, err)
	}
	if q.MaxLimit > 0 && q.DefaultLimit > q.MaxLimit {
		return nil, fmt.Errorf("%w: @queryOptions on %s has default above max", schema.ErrInvalidSchema, entity)
	}
	return q, nil
}

func intArg(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		if n <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("must be an integer, got %v", v)
}

func fullTextIndexes(entity string, d *ast.Directive) ([]schema.FullTextIndex, error) {
	args, err := arguments(d)
	if err != nil {
		return nil, err
	}
	raw, ok := args["indexes"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: @fulltext on %s needs indexes", schema.ErrInvalidSchema, entity)
	}
	var out []schema.FullTextIndex
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: @fulltext index on %s must be an object", schema.ErrInvalidSchema, entity)
		}
		name, _ := m["indexName"].(string)
		if name == "" {
			name, _ = m["name"].(string)
		}
		fields, _ := m["fields"].([]any)
		if name == "" || len(fields) == 0 {
			return nil, fmt.Errorf("%w: @fulltext index on %s needs indexName and fields", schema.ErrInvalidSchema, entity)
		}
		idx := schema.FullTextIndex{Name: name}
		for _, f := range fields {
			s, ok := f.(string)
			if !ok {
				return nil, fmt.Errorf("%w: @fulltext fields on %s must be strings", schema.ErrInvalidSchema, entity)
			}
			idx.Fields = append(idx.Fields, s)
		}
		out = append(out, idx)
	}
	return out, nil
}
