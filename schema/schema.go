// Package schema holds the read-only model that query compilation runs against.
//
// A Model is built once from GraphQL type definitions (see pkg/parser) and is
// never modified afterwards; concurrent requests share it freely. Reloading a
// schema means building a new Model and swapping it into a Store.
//
// # Key Types
//
// ConcreteEntity is an object type stored as graph nodes. Its fields fall into
// a closed set of kinds (attribute, relationship, computed, ...) recorded in a
// per-entity index when the model is built, so compilation dispatches on a
// field with a single map lookup:
//
//	type User @authorization(filter: [{ where: { node: { id: { equals: "$jwt.sub" } } } }]) {
//	  id: ID!
//	  name: String! @alias(property: "displayName")
//	  posts: [Post!]! @relationship(type: "HAS_POST", direction: OUT)
//	}
//
// CompositeEntity is a union or interface; its members are the concrete
// entities it can resolve to.
//
// Annotations carry the authentication and authorization rules attached to
// the schema, to an entity, or to a single field. Omitted rule scopes are
// filled from a ScopeTable at parse time, so every rule in a Model lists its
// operations, events and phases explicitly.
//
// # Relationship to Other Packages
//
// The schema package is dependency-free (stdlib only). pkg/parser turns SDL
// into the values defined here; the internal compiler packages only read them.
package schema

import (
	"fmt"
	"sort"
)

// ScalarKind classifies attribute types by how they are read and filtered.
type ScalarKind int

const (
	KindScalar ScalarKind = iota // String, ID, Boolean and custom scalars
	KindInt
	KindFloat
	KindBigInt
	KindEnum
	KindDateTime
	KindDate
	KindTime
	KindLocalTime
	KindLocalDateTime
	KindDuration
	KindPoint
	KindCartesianPoint
)

var scalarKinds = map[string]ScalarKind{
	"Int":            KindInt,
	"Float":          KindFloat,
	"BigInt":         KindBigInt,
	"DateTime":       KindDateTime,
	"Date":           KindDate,
	"Time":           KindTime,
	"LocalTime":      KindLocalTime,
	"LocalDateTime":  KindLocalDateTime,
	"Duration":       KindDuration,
	"Point":          KindPoint,
	"CartesianPoint": KindCartesianPoint,
}

// ScalarKindOf returns the kind of a named scalar or enum type.
func ScalarKindOf(typeName string, isEnum bool) ScalarKind {
	if isEnum {
		return KindEnum
	}
	if k, ok := scalarKinds[typeName]; ok {
		return k
	}
	return KindScalar
}

// Numeric reports whether min/max/average aggregations apply.
func (k ScalarKind) Numeric() bool {
	return k == KindInt || k == KindFloat || k == KindBigInt
}

// Temporal reports whether the kind is a date or time type.
func (k ScalarKind) Temporal() bool {
	return k >= KindDateTime && k <= KindDuration
}

// Spatial reports whether the kind is a point type.
func (k ScalarKind) Spatial() bool {
	return k == KindPoint || k == KindCartesianPoint
}

// TypeRef is a field's declared type.
type TypeRef struct {
	Name    string
	Kind    ScalarKind
	List    bool
	NonNull bool
}

// Attribute is a field stored as a node (or edge) property.
type Attribute struct {
	Name        string
	DBName      string // property name when aliased with @alias
	Type        TypeRef
	Default     any // @default value, applied on create
	Coalesce    any // @coalesce value, substituted for null in filters
	GlobalID    bool
	Annotations Annotations
}

// Property returns the database property the attribute reads.
func (a *Attribute) Property() string {
	if a.DBName != "" {
		return a.DBName
	}
	return a.Name
}

// Direction is the stored orientation of a relationship.
type Direction string

const (
	DirectionOut Direction = "OUT"
	DirectionIn  Direction = "IN"
)

// TargetKind classifies what a relationship or computed field points at.
type TargetKind int

const (
	TargetNone TargetKind = iota // scalar or enum result
	TargetConcrete
	TargetUnion
	TargetInterface
)

// RelationshipField is a field backed by graph relationships.
type RelationshipField struct {
	Name        string
	Type        string // relationship type label
	Direction   Direction
	Target      string
	TargetKind  TargetKind
	List        bool
	NonNull     bool
	Properties  string // edge-property entity, empty when the edge carries none
	Annotations Annotations
}

// Argument is a declared field argument.
type Argument struct {
	Name       string
	Type       TypeRef
	Default    any
	HasDefault bool
}

// ComputedField is a field whose value comes from running a Cypher
// statement (@cypher).
type ComputedField struct {
	Name        string
	Statement   string
	ColumnName  string
	Type        TypeRef
	Target      string
	TargetKind  TargetKind
	Arguments   []Argument
	Annotations Annotations
}

// CustomResolvedField is resolved outside the database; Requires lists the
// fields its resolver reads, which must be projected alongside it.
type CustomResolvedField struct {
	Name     string
	Type     TypeRef
	Requires []string
}

// GlobalIDConfig marks the attribute backing the relay id field.
type GlobalIDConfig struct {
	Field string
}

// QueryOptions caps how many rows a read of the entity returns.
type QueryOptions struct {
	DefaultLimit int
	MaxLimit     int
}

// Limit applies the default and ceiling to a requested limit. A zero result
// means unlimited.
func (q *QueryOptions) Limit(requested int) int {
	if q == nil {
		return requested
	}
	limit := requested
	if limit <= 0 {
		limit = q.DefaultLimit
	}
	if q.MaxLimit > 0 && (limit <= 0 || limit > q.MaxLimit) {
		limit = q.MaxLimit
	}
	return limit
}

// FullTextIndex is a full-text index declared on an entity.
type FullTextIndex struct {
	Name   string
	Fields []string
}

// FieldKind tags every selectable field of an entity.
type FieldKind int

const (
	FieldUnknown FieldKind = iota
	FieldComputed
	FieldRelationship
	FieldAggregate
	FieldConnection
	FieldAttribute
	FieldCustomResolved
	FieldGlobalID
)

// Field is the index entry for one field name. Exactly one of the pointers is
// set, according to Kind.
type Field struct {
	Kind         FieldKind
	Attribute    *Attribute
	Relationship *RelationshipField
	Computed     *ComputedField
	Custom       *CustomResolvedField
}

// ConcreteEntity is an object type stored as graph nodes.
type ConcreteEntity struct {
	Name           string
	Labels         []string
	Plural         string
	Interfaces     []string
	Attributes     []*Attribute
	Relationships  []*RelationshipField
	Computed       []*ComputedField
	CustomResolved []*CustomResolvedField
	Annotations    Annotations
	GlobalID       *GlobalIDConfig
	QueryOptions   *QueryOptions
	FullText       []FullTextIndex

	fields map[string]Field
}

// Field looks up a selectable field by name.
func (e *ConcreteEntity) Field(name string) (Field, bool) {
	f, ok := e.fields[name]
	return f, ok
}

// Attribute returns the named attribute.
func (e *ConcreteEntity) Attribute(name string) (*Attribute, bool) {
	f, ok := e.fields[name]
	if !ok || f.Kind != FieldAttribute {
		return nil, false
	}
	return f.Attribute, true
}

// Relationship returns the named relationship field.
func (e *ConcreteEntity) Relationship(name string) (*RelationshipField, bool) {
	f, ok := e.fields[name]
	if !ok || f.Kind != FieldRelationship {
		return nil, false
	}
	return f.Relationship, true
}

// GlobalIDAttribute returns the attribute backing the relay id, if any.
func (e *ConcreteEntity) GlobalIDAttribute() (*Attribute, bool) {
	if e.GlobalID == nil {
		return nil, false
	}
	return e.Attribute(e.GlobalID.Field)
}

// FullTextIndex returns the named full-text index.
func (e *ConcreteEntity) FullTextIndex(name string) (FullTextIndex, bool) {
	for _, idx := range e.FullText {
		if idx.Name == name {
			return idx, true
		}
	}
	return FullTextIndex{}, false
}

// CompositeKind distinguishes unions from interfaces.
type CompositeKind int

const (
	CompositeUnion CompositeKind = iota
	CompositeInterface
)

// CompositeEntity is a union or interface over concrete entities.
type CompositeEntity struct {
	Name    string
	Kind    CompositeKind
	Members []*ConcreteEntity

	// MemberNames lists union members as declared. Interface members are
	// derived from the entities that implement the interface.
	MemberNames []string
}

// Member returns the member entity with the given name.
func (c *CompositeEntity) Member(name string) (*ConcreteEntity, bool) {
	for _, m := range c.Members {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// RootKind is the operation a root field name resolves to.
type RootKind int

const (
	RootRead RootKind = iota
	RootConnection
	RootAggregate
	RootCreate
	RootUpdate
	RootDelete
	RootMerge
)

var rootKindNames = [...]string{"read", "connection", "aggregate", "create", "update", "delete", "merge"}

func (k RootKind) String() string {
	if int(k) < len(rootKindNames) {
		return rootKindNames[k]
	}
	return "unknown"
}

// RootField is a resolved top-level field.
type RootField struct {
	Entity *ConcreteEntity
	Kind   RootKind
}

// Model is the compiled schema.
type Model struct {
	Entities    []*ConcreteEntity
	Composites  []*CompositeEntity
	Edges       []*ConcreteEntity // @relationshipProperties types
	Annotations Annotations       // schema-level (extend schema @authentication)

	entities   map[string]*ConcreteEntity
	composites map[string]*CompositeEntity
	edges      map[string]*ConcreteEntity
	roots      map[string]RootField
}

// Entity returns the named concrete entity.
func (m *Model) Entity(name string) (*ConcreteEntity, bool) {
	e, ok := m.entities[name]
	return e, ok
}

// Composite returns the named union or interface.
func (m *Model) Composite(name string) (*CompositeEntity, bool) {
	c, ok := m.composites[name]
	return c, ok
}

// Edge returns the named edge-property entity.
func (m *Model) Edge(name string) (*ConcreteEntity, bool) {
	e, ok := m.edges[name]
	return e, ok
}

// Root resolves a top-level field name such as "users" or "createUsers".
func (m *Model) Root(name string) (RootField, bool) {
	r, ok := m.roots[name]
	return r, ok
}

// RootNames returns the top-level field names of the model, sorted.
func (m *Model) RootNames() []string {
	names := make([]string, 0, len(m.roots))
	for name := range m.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Targets returns the concrete entities a relationship or computed field can
// resolve to, in declaration order.
func (m *Model) Targets(name string) []*ConcreteEntity {
	if e, ok := m.entities[name]; ok {
		return []*ConcreteEntity{e}
	}
	if c, ok := m.composites[name]; ok {
		return c.Members
	}
	return nil
}

// NewModel validates the entities and composites and builds the lookup
// indexes. Entities must not be modified after they are passed in.
func NewModel(entities, edges []*ConcreteEntity, composites []*CompositeEntity, annotations Annotations) (*Model, error) {
	m := &Model{
		Entities:    entities,
		Composites:  composites,
		Edges:       edges,
		Annotations: annotations,
		entities:    make(map[string]*ConcreteEntity, len(entities)),
		composites:  make(map[string]*CompositeEntity, len(composites)),
		edges:       make(map[string]*ConcreteEntity, len(edges)),
		roots:       make(map[string]RootField),
	}

	for _, e := range entities {
		if _, dup := m.entities[e.Name]; dup {
			return nil, fmt.Errorf("%w: type %s declared twice", ErrInvalidSchema, e.Name)
		}
		m.entities[e.Name] = e
	}
	for _, e := range edges {
		if _, dup := m.entities[e.Name]; dup {
			return nil, fmt.Errorf("%w: type %s declared twice", ErrInvalidSchema, e.Name)
		}
		m.edges[e.Name] = e
	}
	for _, c := range composites {
		if _, dup := m.entities[c.Name]; dup {
			return nil, fmt.Errorf("%w: type %s declared twice", ErrInvalidSchema, c.Name)
		}
		m.composites[c.Name] = c
	}

	if err := m.resolveComposites(); err != nil {
		return nil, err
	}
	for _, e := range entities {
		if err := m.indexEntity(e); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		if err := m.indexEntity(e); err != nil {
			return nil, err
		}
	}
	if err := m.indexRoots(); err != nil {
		return nil, err
	}
	if err := m.validateAnnotations(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) resolveComposites() error {
	for _, c := range m.composites {
		c.Members = nil
		if c.Kind == CompositeUnion {
			for _, name := range c.MemberNames {
				e, ok := m.entities[name]
				if !ok {
					return fmt.Errorf("%w: union %s references undeclared type %s", ErrInvalidSchema, c.Name, name)
				}
				c.Members = append(c.Members, e)
			}
			if len(c.Members) == 0 {
				return fmt.Errorf("%w: union %s has no members", ErrInvalidSchema, c.Name)
			}
		}
	}
	for _, e := range m.Entities {
		for _, iface := range e.Interfaces {
			c, ok := m.composites[iface]
			if !ok || c.Kind != CompositeInterface {
				return fmt.Errorf("%w: type %s implements undeclared interface %s", ErrInvalidSchema, e.Name, iface)
			}
			c.Members = append(c.Members, e)
			c.MemberNames = appendUnique(c.MemberNames, e.Name)
		}
	}
	return nil
}

func (m *Model) indexEntity(e *ConcreteEntity) error {
	e.fields = make(map[string]Field)
	add := func(name string, f Field) error {
		if _, dup := e.fields[name]; dup {
			return fmt.Errorf("%w: field %s.%s declared twice", ErrInvalidSchema, e.Name, name)
		}
		e.fields[name] = f
		return nil
	}

	properties := make(map[string]string)
	for _, a := range e.Attributes {
		if other, dup := properties[a.Property()]; dup {
			return fmt.Errorf("%w: fields %s.%s and %s.%s map to the same property %q",
				ErrInvalidSchema, e.Name, other, e.Name, a.Name, a.Property())
		}
		properties[a.Property()] = a.Name
		if err := add(a.Name, Field{Kind: FieldAttribute, Attribute: a}); err != nil {
			return err
		}
	}
	for _, r := range e.Relationships {
		if err := m.checkTarget(e, r.Name, r.Target, &r.TargetKind); err != nil {
			return err
		}
		if r.Properties != "" {
			if _, ok := m.edges[r.Properties]; !ok {
				return fmt.Errorf("%w: %s.%s references undeclared relationship properties %s",
					ErrInvalidSchema, e.Name, r.Name, r.Properties)
			}
		}
		if err := add(r.Name, Field{Kind: FieldRelationship, Relationship: r}); err != nil {
			return err
		}
		if err := add(r.Name+"Connection", Field{Kind: FieldConnection, Relationship: r}); err != nil {
			return err
		}
		if r.TargetKind == TargetConcrete {
			if err := add(r.Name+"Aggregate", Field{Kind: FieldAggregate, Relationship: r}); err != nil {
				return err
			}
		}
	}
	for _, c := range e.Computed {
		if c.Target != "" {
			if err := m.checkTarget(e, c.Name, c.Target, &c.TargetKind); err != nil {
				return err
			}
		}
		if err := add(c.Name, Field{Kind: FieldComputed, Computed: c}); err != nil {
			return err
		}
	}
	for _, c := range e.CustomResolved {
		if err := add(c.Name, Field{Kind: FieldCustomResolved, Custom: c}); err != nil {
			return err
		}
	}
	for _, c := range e.CustomResolved {
		for _, req := range c.Requires {
			if _, ok := e.fields[req]; !ok {
				return fmt.Errorf("%w: %s.%s requires unknown field %s", ErrInvalidSchema, e.Name, c.Name, req)
			}
		}
	}

	if e.GlobalID != nil {
		if _, ok := e.Attribute(e.GlobalID.Field); !ok {
			return fmt.Errorf("%w: %s global id field %s is not an attribute", ErrInvalidSchema, e.Name, e.GlobalID.Field)
		}
		if err := add("id", Field{Kind: FieldGlobalID}); err != nil {
			return fmt.Errorf("%w: type %s uses @relayId and cannot declare its own id field", ErrInvalidSchema, e.Name)
		}
	}
	for _, idx := range e.FullText {
		for _, f := range idx.Fields {
			if _, ok := e.Attribute(f); !ok {
				return fmt.Errorf("%w: full-text index %s references unknown field %s.%s", ErrInvalidSchema, idx.Name, e.Name, f)
			}
		}
	}
	return nil
}

func (m *Model) checkTarget(e *ConcreteEntity, field, target string, kind *TargetKind) error {
	if _, ok := m.entities[target]; ok {
		*kind = TargetConcrete
		return nil
	}
	if c, ok := m.composites[target]; ok {
		if c.Kind == CompositeUnion {
			*kind = TargetUnion
		} else {
			*kind = TargetInterface
		}
		return nil
	}
	return fmt.Errorf("%w: %s.%s references undeclared type %s", ErrInvalidSchema, e.Name, field, target)
}

func (m *Model) indexRoots() error {
	for _, e := range m.Entities {
		plural := lowerFirst(e.Plural)
		if plural == "" {
			plural = Pluralize(lowerFirst(e.Name))
		}
		e.Plural = plural
		upper := upperFirst(plural)
		names := map[string]RootKind{
			plural:                RootRead,
			plural + "Connection": RootConnection,
			plural + "Aggregate":  RootAggregate,
			"create" + upper:      RootCreate,
			"update" + upper:      RootUpdate,
			"delete" + upper:      RootDelete,
			"merge" + upper:       RootMerge,
		}
		keys := make([]string, 0, len(names))
		for k := range names {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, name := range keys {
			if other, dup := m.roots[name]; dup {
				return fmt.Errorf("%w: root field %s is generated for both %s and %s",
					ErrInvalidSchema, name, other.Entity.Name, e.Name)
			}
			m.roots[name] = RootField{Entity: e, Kind: names[name]}
		}
	}
	return nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
