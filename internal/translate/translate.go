// Package translate compiles one root field of a request into a Cypher
// statement.
//
// The root field name selects the operation ("users", "usersConnection",
// "createUsers", ...). Reads match the root entity as this, weave the
// entity's READ rules into the WHERE clause and hand the selection to the
// projection composer. Mutations run the write first, guarded by the
// before- and after-phase validate rules of the operation, and then project
// the touched nodes the same way a read does.
//
// Every statement is rendered with cypher.BuildChecked, so a composition
// bug that references an unbound variable surfaces as an error instead of
// as invalid Cypher at execution time.
package translate

import (
	"errors"
	"fmt"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/projection"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

// Columns holding the response of a statement.
const (
	ColumnThis = "this"
	ColumnData = "data"
)

// Request is one root field to compile.
type Request struct {
	Model     *schema.Model
	Evaluator *authz.Evaluator
	Field     *selection.Field
}

// Result is a compiled statement.
type Result struct {
	Cypher string
	Params map[string]any

	// Column names the returned column holding the response, empty when the
	// statement returns nothing (deletes).
	Column string

	// Deferred lists the connection fields compiled at the root and the
	// interface fields the caller may need to resolve types for.
	Deferred projection.Meta

	Kind schema.RootKind
}

// Translate compiles req.
func Translate(req Request) (Result, error) {
	if req.Model == nil || req.Field == nil {
		return Result{}, errors.New("translate: request needs a model and a field")
	}
	root, ok := req.Model.Root(req.Field.Name)
	if !ok {
		return Result{}, fmt.Errorf("%w: root field %s", where.ErrUnknownField, req.Field.Name)
	}
	ev := req.Evaluator
	if ev == nil {
		ev = &authz.Evaluator{Model: req.Model}
	}
	t := &translator{model: req.Model, ev: ev}

	var (
		st  statement
		err error
	)
	switch root.Kind {
	case schema.RootRead:
		st, err = t.read(root.Entity, req.Field)
	case schema.RootConnection:
		st, err = t.connection(root.Entity, req.Field)
	case schema.RootAggregate:
		st, err = t.aggregate(root.Entity, req.Field)
	case schema.RootCreate:
		st, err = t.create(root.Entity, req.Field)
	case schema.RootUpdate:
		st, err = t.update(root.Entity, req.Field)
	case schema.RootDelete:
		st, err = t.delete(root.Entity, req.Field)
	case schema.RootMerge:
		st, err = t.merge(root.Entity, req.Field)
	default:
		err = fmt.Errorf("%w: root field %s", where.ErrUnknownField, req.Field.Name)
	}
	if err != nil {
		return Result{}, err
	}

	out, err := cypher.BuildChecked(st.query)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Cypher:   out.Cypher,
		Params:   out.Params,
		Column:   st.column,
		Deferred: st.meta,
		Kind:     root.Kind,
	}, nil
}

// statement is a composed query before rendering.
type statement struct {
	query  cypher.Clause
	column string
	meta   projection.Meta
}

type translator struct {
	model *schema.Model
	ev    *authz.Evaluator
}

func (t *translator) request(entity *schema.ConcreteEntity, node *cypher.Node, sel *selection.Field) projection.Request {
	return projection.Request{
		Model:     t.model,
		Evaluator: t.ev,
		Entity:    entity,
		Node:      node,
		Selection: sel,
	}
}

// rules are the predicates a root operation places on its matched node.
type rules struct {
	where  cypher.Expr
	filter cypher.Expr
	guard  cypher.Expr
}

// rootRules authenticates op against the schema and the entity, then
// compiles the where argument and the entity's filter and before-phase
// validate rules.
func (t *translator) rootRules(entity *schema.ConcreteEntity, node *cypher.Node, op schema.Operation, rawWhere any) (rules, error) {
	if err := t.ev.Authenticate(t.model.Annotations, op); err != nil {
		return rules{}, err
	}
	filter, guard, err := t.ev.Rules(entity.Annotations, op, authz.Target{Entity: entity, Node: node})
	if err != nil {
		return rules{}, err
	}
	w, err := where.Input(t.model, entity, node, rawWhere)
	if err != nil {
		return rules{}, err
	}
	return rules{where: w, filter: filter, guard: guard}, nil
}

// materialize compiles the connection fields Compose deferred at the root.
func (t *translator) materialize(entity *schema.ConcreteEntity, node *cypher.Node, meta projection.Meta) ([]cypher.Clause, error) {
	var out []cypher.Clause
	for _, d := range meta.ConnectionFields {
		c, err := projection.Materialize(t.request(entity, node, nil), d)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
