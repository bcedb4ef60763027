package translate

import (
	"fmt"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/projection"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

func (t *translator) create(entity *schema.ConcreteEntity, f *selection.Field) (statement, error) {
	if err := t.authenticate(entity, schema.OperationCreate); err != nil {
		return statement{}, err
	}
	inputs, err := objects("input", f.Args["input"])
	if err != nil {
		return statement{}, err
	}
	if len(inputs) == 0 {
		return statement{}, fmt.Errorf("%w: %s needs at least one input", where.ErrInvalidArgument, f.Name)
	}

	var (
		clauses []cypher.Clause
		created []cypher.Expr
	)
	for _, raw := range inputs {
		n := cypher.NewNode(entity.Labels...)
		call, err := t.createOne(entity, n, raw)
		if err != nil {
			return statement{}, err
		}
		clauses = append(clauses, call)
		created = append(created, n)
	}

	node := cypher.NamedNode("this", entity.Labels...)
	clauses = append(clauses, &cypher.Unwind{Expr: cypher.List{Items: created}, As: node})
	resp, meta, err := t.response(entity, node, f)
	if err != nil {
		return statement{}, err
	}
	clauses = append(clauses, resp...)
	return statement{query: cypher.Concat(clauses...), column: ColumnData, meta: meta}, nil
}

// createOne compiles one create input into a sub-query returning the new
// node. Before-phase rules see the input as a map parameter; after-phase
// rules see the stored node and any relationships connected with it.
func (t *translator) createOne(entity *schema.ConcreteEntity, n *cypher.Node, raw map[string]any) (*cypher.Call, error) {
	in, err := parseInput(entity, raw, true)
	if err != nil {
		return nil, err
	}
	values := cypher.NewParam(in.values)
	pending := authz.Target{Entity: entity, Value: values}
	stored := authz.Target{Entity: entity, Node: n}

	before, err := t.guards(entity, in.attrs, schema.OperationCreate, schema.PhaseBefore, pending)
	if err != nil {
		return nil, err
	}
	nested, err := t.nested(entity, n, in.nested, false)
	if err != nil {
		return nil, err
	}
	after, err := t.guards(entity, in.attrs, schema.OperationCreate, schema.PhaseAfter, stored)
	if err != nil {
		return nil, err
	}

	clauses := []cypher.Clause{
		authz.GuardClause(before),
		&cypher.Create{Pattern: cypher.NewPattern(n), Set: assign(n, in.attrs, values)},
	}
	clauses = append(clauses, nested...)
	if after != nil {
		clauses = append(clauses, cypher.NewWith(n), authz.GuardClause(after))
	}
	clauses = append(clauses, &cypher.Return{Items: []cypher.Item{{Expr: n}}})
	return &cypher.Call{Inner: cypher.Concat(clauses...)}, nil
}

func (t *translator) update(entity *schema.ConcreteEntity, f *selection.Field) (statement, error) {
	node := cypher.NamedNode("this", entity.Labels...)
	r, err := t.rootRules(entity, node, schema.OperationUpdate, f.Args["where"])
	if err != nil {
		return statement{}, err
	}
	in, err := parseInput(entity, f.Args["update"], false)
	if err != nil {
		return statement{}, err
	}
	values := cypher.NewParam(in.values)
	stored := authz.Target{Entity: entity, Node: node}

	before, err := t.fieldGuards(in.attrs, schema.OperationUpdate, schema.PhaseBefore, stored)
	if err != nil {
		return statement{}, err
	}
	after, err := t.guards(entity, in.attrs, schema.OperationUpdate, schema.PhaseAfter, stored)
	if err != nil {
		return statement{}, err
	}
	nested, err := t.nested(entity, node, in.nested, true)
	if err != nil {
		return statement{}, err
	}

	clauses := []cypher.Clause{
		cypher.NewMatch(cypher.NewPattern(node)).Where(r.where, r.filter),
		authz.GuardClause(cypher.And(r.guard, before)),
	}
	if len(in.attrs) > 0 {
		clauses = append(clauses, &cypher.Set{Items: assign(node, in.attrs, values)})
	}
	clauses = append(clauses, nested...)
	if after != nil {
		clauses = append(clauses, cypher.NewWith(node), authz.GuardClause(after))
	}
	resp, meta, err := t.response(entity, node, f)
	if err != nil {
		return statement{}, err
	}
	clauses = append(clauses, resp...)
	return statement{query: cypher.Concat(clauses...), column: ColumnData, meta: meta}, nil
}

// delete detaches and removes the matched nodes. It returns no column.
func (t *translator) delete(entity *schema.ConcreteEntity, f *selection.Field) (statement, error) {
	node := cypher.NamedNode("this", entity.Labels...)
	r, err := t.rootRules(entity, node, schema.OperationDelete, f.Args["where"])
	if err != nil {
		return statement{}, err
	}
	return statement{query: cypher.Concat(
		cypher.NewMatch(cypher.NewPattern(node)).Where(r.where, r.filter),
		authz.GuardClause(r.guard),
		&cypher.Delete{Targets: []cypher.Variable{node}, Detach: true},
	)}, nil
}

// merge upserts one node per input item. The where object names the key
// properties the node is merged on; onCreate and onMatch are set
// independently.
func (t *translator) merge(entity *schema.ConcreteEntity, f *selection.Field) (statement, error) {
	if err := t.authenticate(entity, schema.OperationCreate, schema.OperationUpdate); err != nil {
		return statement{}, err
	}
	inputs, err := objects("input", f.Args["input"])
	if err != nil {
		return statement{}, err
	}
	if len(inputs) == 0 {
		return statement{}, fmt.Errorf("%w: %s needs at least one input", where.ErrInvalidArgument, f.Name)
	}

	var (
		clauses []cypher.Clause
		merged  []cypher.Expr
	)
	for _, raw := range inputs {
		n := cypher.NewNode(entity.Labels...)
		call, err := t.mergeOne(entity, n, raw)
		if err != nil {
			return statement{}, err
		}
		clauses = append(clauses, call)
		merged = append(merged, n)
	}

	node := cypher.NamedNode("this", entity.Labels...)
	clauses = append(clauses, &cypher.Unwind{Expr: cypher.List{Items: merged}, As: node})
	resp, meta, err := t.response(entity, node, f)
	if err != nil {
		return statement{}, err
	}
	clauses = append(clauses, resp...)
	return statement{query: cypher.Concat(clauses...), column: ColumnData, meta: meta}, nil
}

func (t *translator) mergeOne(entity *schema.ConcreteEntity, n *cypher.Node, raw map[string]any) (*cypher.Call, error) {
	for key := range raw {
		switch key {
		case "where", "onCreate", "onMatch":
		default:
			return nil, fmt.Errorf("%w: merge input accepts where, onCreate and onMatch, got %s", where.ErrInvalidArgument, key)
		}
	}
	keys, err := parseInput(entity, raw["where"], false)
	if err != nil {
		return nil, err
	}
	if len(keys.attrs) == 0 {
		return nil, fmt.Errorf("%w: merge needs at least one key in where", where.ErrInvalidArgument)
	}
	onCreate, err := parseInput(entity, raw["onCreate"], true)
	if err != nil {
		return nil, err
	}
	onMatch, err := parseInput(entity, raw["onMatch"], false)
	if err != nil {
		return nil, err
	}
	if len(keys.nested)+len(onCreate.nested)+len(onMatch.nested) > 0 {
		return nil, fmt.Errorf("%w: merge cannot connect relationships", where.ErrInvalidArgument)
	}
	onCreate.attrs = without(onCreate.attrs, keys.values)

	n.Properties = make(map[string]cypher.Expr, len(keys.values))
	for prop, v := range keys.values {
		n.Properties[prop] = cypher.NewParam(v)
	}
	// existing is matched on the same key parameters before the MERGE, so
	// after-phase rules apply only to the branch that fired.
	existing := cypher.NewNode(entity.Labels...)
	existing.Properties = n.Properties

	createValues := make(map[string]any, len(keys.values)+len(onCreate.values))
	for k, v := range onCreate.values {
		createValues[k] = v
	}
	for k, v := range keys.values {
		createValues[k] = v
	}
	createParam := cypher.NewParam(createValues)
	matchParam := cypher.NewParam(onMatch.values)

	before, err := t.guards(entity, onCreate.attrs, schema.OperationCreate, schema.PhaseBefore, authz.Target{Entity: entity, Value: createParam})
	if err != nil {
		return nil, err
	}
	stored := authz.Target{Entity: entity, Node: n}
	afterCreate, err := t.guards(entity, onCreate.attrs, schema.OperationCreate, schema.PhaseAfter, stored)
	if err != nil {
		return nil, err
	}
	afterUpdate, err := t.guards(entity, onMatch.attrs, schema.OperationUpdate, schema.PhaseAfter, stored)
	if err != nil {
		return nil, err
	}

	merge := &cypher.Merge{
		Pattern:  cypher.NewPattern(n),
		OnCreate: assign(n, onCreate.attrs, createParam),
		OnMatch:  assign(n, onMatch.attrs, matchParam),
	}
	clauses := []cypher.Clause{authz.GuardClause(before)}
	if afterCreate == nil && afterUpdate == nil {
		clauses = append(clauses, merge)
	} else {
		existed := cypher.NewVariable()
		after := cypher.Or(
			cypher.And(existed, orTrue(afterUpdate)),
			cypher.And(cypher.Not(existed), orTrue(afterCreate)),
		)
		clauses = append(clauses,
			cypher.NewOptionalMatch(cypher.NewPattern(existing)),
			&cypher.With{Items: []cypher.Item{{Expr: cypher.Gt{Left: cypher.Count(existing), Right: cypher.Lit(0)}, As: existed}}},
			merge,
			cypher.NewWith(n, existed),
			authz.GuardClause(after),
		)
	}
	clauses = append(clauses, &cypher.Return{Items: []cypher.Item{{Expr: n}}})
	return &cypher.Call{Inner: cypher.Concat(clauses...)}, nil
}

// response projects the nodes a mutation touched, bound to node, into the
// data column. The projection is read through the entity's READ rules. When
// the payload list is not selected only the number of touched nodes is
// returned.
func (t *translator) response(entity *schema.ConcreteEntity, node *cypher.Node, f *selection.Field) ([]cypher.Clause, projection.Meta, error) {
	data := cypher.NamedVariable(ColumnData)
	var payload *selection.Field
	for _, sub := range f.Fields(f.TypeNames()...) {
		switch sub.Name {
		case entity.Plural:
			payload = sub
		case "info", "__typename":
		default:
			return nil, projection.Meta{}, fmt.Errorf("%w: %s has no field %s", where.ErrUnknownField, f.Name, sub.Name)
		}
	}
	if payload == nil {
		return []cypher.Clause{&cypher.Return{Items: []cypher.Item{{Expr: cypher.Count(node), As: data}}}}, projection.Meta{}, nil
	}

	filter, guard, err := t.ev.Rules(entity.Annotations, schema.OperationRead, authz.Target{Entity: entity, Node: node})
	if err != nil {
		return nil, projection.Meta{}, err
	}
	res, err := projection.Compose(t.request(entity, node, payload))
	if err != nil {
		return nil, projection.Meta{}, err
	}
	connections, err := t.materialize(entity, node, res.Meta)
	if err != nil {
		return nil, projection.Meta{}, err
	}

	pred := cypher.And(filter, res.Filter(), authz.Guard(cypher.And(append([]cypher.Expr{guard}, res.Guards...)...)))
	clauses := []cypher.Clause{&cypher.With{Items: []cypher.Item{{Expr: node}}, Where: pred}}
	clauses = append(clauses, res.Subqueries...)
	clauses = append(clauses, connections...)
	clauses = append(clauses, &cypher.Return{Items: []cypher.Item{{Expr: cypher.Collect(res.Projection), As: data}}})
	return clauses, res.Meta, nil
}

// authenticate checks the schema-wide and entity authentication
// annotations for every op.
func (t *translator) authenticate(entity *schema.ConcreteEntity, ops ...schema.Operation) error {
	for _, op := range ops {
		if err := t.ev.Authenticate(t.model.Annotations, op); err != nil {
			return err
		}
		if err := t.ev.Authenticate(entity.Annotations, op); err != nil {
			return err
		}
	}
	return nil
}

// guards conjoins the entity's validate rules for op at phase with those of
// every written attribute.
func (t *translator) guards(entity *schema.ConcreteEntity, attrs []*schema.Attribute, op schema.Operation, phase schema.Phase, target authz.Target) (cypher.Expr, error) {
	g, err := t.ev.Validate(entity.Annotations, op, phase, target)
	if err != nil {
		return nil, err
	}
	fg, err := t.fieldGuards(attrs, op, phase, target)
	if err != nil {
		return nil, err
	}
	return cypher.And(g, fg), nil
}

func (t *translator) fieldGuards(attrs []*schema.Attribute, op schema.Operation, phase schema.Phase, target authz.Target) (cypher.Expr, error) {
	var out []cypher.Expr
	for _, attr := range attrs {
		if attr.Annotations.Empty() {
			continue
		}
		if err := t.ev.Authenticate(attr.Annotations, op); err != nil {
			return nil, err
		}
		g, err := t.ev.Validate(attr.Annotations, op, phase, target)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return cypher.And(out...), nil
}

// orTrue stands in for an absent rule, which always holds.
func orTrue(e cypher.Expr) cypher.Expr {
	if e == nil {
		return cypher.True
	}
	return e
}
