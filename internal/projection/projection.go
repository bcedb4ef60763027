// Package projection turns a selection tree into the Cypher that reads it.
//
// Compose walks the fields selected on one entity and produces a map
// projection of the bound node, plus the CALL sub-queries that feed nested
// relationship, aggregate, computed and connection fields. Every nested
// entity brings its own READ authorization: filters narrow the rows a
// sub-query matches and guards abort the whole query when a matched row is
// not allowed.
//
// # Completion
//
// The fields projected for an entity are the selected ones plus any field
// the request sorts on and any field a custom resolver requires. Completed
// fields are added under their own name so the caller can always find them.
//
// # Deferred fields
//
// Connection fields on the outermost entity are not compiled inline: they
// are reported in Meta with a fresh variable that the projection already
// reads, and the caller binds that variable with Materialize after it has
// narrowed and paged the outer rows.
package projection

import (
	"errors"
	"fmt"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

var (
	// ErrUnknownField is returned when a selection or argument names a field
	// the entity does not declare.
	ErrUnknownField = where.ErrUnknownField

	// ErrInvalidArgument is returned for malformed field arguments.
	ErrInvalidArgument = where.ErrInvalidArgument
)

// Request describes one entity-valued position in a selection tree.
type Request struct {
	Model     *schema.Model
	Evaluator *authz.Evaluator
	Entity    *schema.ConcreteEntity
	Node      *cypher.Node
	Selection *selection.Field
	Path      []string

	// InRelationship and ConnectionRoot compile connection fields inline
	// instead of deferring them.
	InRelationship bool
	ConnectionRoot bool

	// ResolveType adds a __resolveType entry naming the entity.
	ResolveType bool
}

// Deferred is a field left for the caller to compile.
type Deferred struct {
	Path  []string
	Field *selection.Field

	// Var is read by the projection and must be bound by the caller. It is
	// nil for interface fields, which are reported for information only.
	Var *cypher.Var
}

// Meta reports the fields of a projection that need the caller's attention.
type Meta struct {
	ConnectionFields []Deferred
	InterfaceFields  []Deferred
}

func (m *Meta) merge(o Meta) {
	m.ConnectionFields = append(m.ConnectionFields, o.ConnectionFields...)
	m.InterfaceFields = append(m.InterfaceFields, o.InterfaceFields...)
}

// Result is a composed projection.
type Result struct {
	Projection cypher.MapProjection

	// Subqueries bind the variables the projection reads. They must run
	// after the node is matched and before the projection is returned.
	Subqueries []cypher.Clause

	// Guards must hold for every row; Filters narrow the rows.
	Guards  []cypher.Expr
	Filters []cypher.Expr

	Meta Meta
}

// Guard returns the guards folded into one aborting predicate, or nil.
func (r Result) Guard() cypher.Expr {
	return authz.Guard(cypher.And(r.Guards...))
}

// Filter returns the conjunction of the filters, or nil.
func (r Result) Filter() cypher.Expr {
	return cypher.And(r.Filters...)
}

func (r *Result) entry(key string, value cypher.Expr) {
	r.Projection.Entries = append(r.Projection.Entries, cypher.ProjectionEntry{Key: key, Value: value})
}

// Compose projects the selection of req.Entity at req.Node.
func Compose(req Request) (Result, error) {
	c, err := newComposer(req)
	if err != nil {
		return Result{}, err
	}
	return c.compose(c.scope(req))
}

type composer struct {
	model *schema.Model
	ev    *authz.Evaluator
}

func newComposer(req Request) (*composer, error) {
	if req.Model == nil || req.Entity == nil || req.Node == nil {
		return nil, errors.New("projection: request needs a model, an entity and a node")
	}
	ev := req.Evaluator
	if ev == nil {
		ev = &authz.Evaluator{Model: req.Model}
	}
	return &composer{model: req.Model, ev: ev}, nil
}

// scope is the entity being projected and where it sits in the request.
type scope struct {
	entity      *schema.ConcreteEntity
	node        *cypher.Node
	sel         *selection.Field
	path        []string
	inline      bool
	resolveType bool
}

func (c *composer) scope(req Request) scope {
	return scope{
		entity:      req.Entity,
		node:        req.Node,
		sel:         req.Selection,
		path:        req.Path,
		inline:      req.InRelationship || req.ConnectionRoot,
		resolveType: req.ResolveType,
	}
}

func (s scope) child(key string) []string {
	path := make([]string, len(s.path), len(s.path)+1)
	copy(path, s.path)
	return append(path, key)
}

func (c *composer) compose(s scope) (Result, error) {
	res := Result{Projection: cypher.MapProjection{Target: s.node}}
	if s.resolveType {
		res.entry("__resolveType", cypher.Lit(s.entity.Name))
	}
	fields, err := complete(s.entity, s.sel)
	if err != nil {
		return Result{}, err
	}
	for _, f := range fields {
		if err := c.field(&res, s, f); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// complete returns the fields to project for entity: the selection under
// the entity and its interfaces, plus the sort keys and the fields custom
// resolvers require.
func complete(entity *schema.ConcreteEntity, sel *selection.Field) ([]*selection.Field, error) {
	typeNames := append([]string{entity.Name}, entity.Interfaces...)
	fields := sel.Fields(typeNames...)

	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f.Key()] = true
	}
	add := func(name string) {
		if !have[name] {
			have[name] = true
			fields = append(fields, selection.NewField(name))
		}
	}

	if sel != nil {
		opts, err := ParseOptions(sel.Args)
		if err != nil {
			return nil, err
		}
		for _, s := range opts.Sort {
			add(s.Field)
		}
	}
	for _, f := range fields {
		if ef, ok := entity.Field(f.Name); ok && ef.Kind == schema.FieldCustomResolved {
			for _, name := range ef.Custom.Requires {
				add(name)
			}
		}
	}
	return fields, nil
}

func (c *composer) field(res *Result, s scope, f *selection.Field) error {
	if f.Name == "__typename" {
		res.entry(f.Key(), cypher.Lit(s.entity.Name))
		return nil
	}
	ef, ok := s.entity.Field(f.Name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.entity.Name, f.Name)
	}
	if err := c.fieldRules(res, s, ef); err != nil {
		return err
	}

	switch ef.Kind {
	case schema.FieldComputed:
		return c.computed(res, s, f, ef.Computed)
	case schema.FieldRelationship:
		return c.relationship(res, s, f, ef.Relationship)
	case schema.FieldAggregate:
		return c.aggregateField(res, s, f, ef.Relationship)
	case schema.FieldConnection:
		v := cypher.NewVariable()
		if !s.inline {
			res.Meta.ConnectionFields = append(res.Meta.ConnectionFields, Deferred{Path: s.child(f.Key()), Field: f, Var: v})
			res.entry(f.Key(), v)
			return nil
		}
		call, err := c.connection(s, f, ef.Relationship, v)
		if err != nil {
			return err
		}
		res.Subqueries = append(res.Subqueries, call)
		res.entry(f.Key(), v)
	case schema.FieldGlobalID:
		attr, _ := s.entity.GlobalIDAttribute()
		res.entry(f.Key(), globalID(s.entity, s.node, attr))
	case schema.FieldCustomResolved:
		// resolved by the caller from the required fields
	case schema.FieldAttribute:
		if shorthand(ef.Attribute, f) {
			res.entry(f.Key(), nil)
			return nil
		}
		v, err := element(s.node, ef.Attribute, f)
		if err != nil {
			return err
		}
		res.entry(f.Key(), v)
	}
	return nil
}

// fieldRules applies the READ annotations of a single field.
func (c *composer) fieldRules(res *Result, s scope, ef schema.Field) error {
	var ann schema.Annotations
	switch ef.Kind {
	case schema.FieldAttribute:
		ann = ef.Attribute.Annotations
	case schema.FieldRelationship, schema.FieldAggregate, schema.FieldConnection:
		ann = ef.Relationship.Annotations
	case schema.FieldComputed:
		ann = ef.Computed.Annotations
	default:
		return nil
	}
	filter, guard, err := c.ev.Rules(ann, schema.OperationRead, authz.Target{Entity: s.entity, Node: s.node})
	if err != nil {
		return err
	}
	if filter != nil {
		res.Filters = append(res.Filters, filter)
	}
	if guard != nil {
		res.Guards = append(res.Guards, guard)
	}
	return nil
}
