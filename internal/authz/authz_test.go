package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/parser"
	"github.com/pthm/quince/schema"
)

const typeDefs = `
type User @authorization(
  filter: [{ where: { node: { id: "$jwt.sub" } } }]
  validate: [
    { operations: [UPDATE], when: [BEFORE], where: { node: { id: "$jwt.sub" } } }
    { operations: [DELETE], where: { jwt: { roles_INCLUDES: "admin" } } }
    { operations: [CREATE], when: [AFTER], where: { OR: [{ jwt: { roles_INCLUDES: "admin" } }, { node: { name: "$jwt.name" } }] } }
  ]
) @subscriptionsAuthorization(filter: [{ events: [CREATED], where: { node: { name_STARTS_WITH: "a" } } }]) {
  id: ID!
  name: String
}

type Post @authentication(operations: [CREATE], jwt: { roles_INCLUDES: "writer" }) @authorization(filter: [
  { requireAuthentication: false, where: { jwt: { public: true } } }
  { where: { node: { owner: "$jwt.sub" } } }
]) {
  owner: ID
}
`

func setup(t *testing.T, claims authn.Claims) (*authz.Evaluator, *schema.ConcreteEntity, *schema.ConcreteEntity) {
	t.Helper()
	m, err := parser.ParseSchemaString(typeDefs)
	require.NoError(t, err)
	user, _ := m.Entity("User")
	post, _ := m.Entity("Post")
	return &authz.Evaluator{Model: m, Claims: claims}, user, post
}

func render(t *testing.T, node *cypher.Node, pred cypher.Expr) cypher.Result {
	t.Helper()
	res, err := cypher.BuildChecked(cypher.NewMatch(cypher.NewPattern(node)).Where(pred))
	require.NoError(t, err)
	return res
}

func TestFilter(t *testing.T) {
	ev, user, _ := setup(t, authn.Claims{"sub": "user1"})
	node := cypher.NamedNode("this", "User")

	pred, err := ev.Filter(user.Annotations, schema.OperationRead, authz.Target{Entity: user, Node: node})
	require.NoError(t, err)
	res := render(t, node, pred)
	assert.Equal(t, "MATCH (this:User)\nWHERE this.id = $param0", res.Cypher)
	assert.Equal(t, map[string]any{"param0": "user1"}, res.Params)
	assert.NotContains(t, res.Cypher, "user1")
}

func TestFilterNotInScope(t *testing.T) {
	ev, user, _ := setup(t, authn.Claims{"sub": "user1"})
	pred, err := ev.Filter(user.Annotations, schema.OperationCreate, authz.Target{Entity: user, Node: cypher.NewNode("User")})
	require.NoError(t, err)
	assert.Nil(t, pred)
}

func TestFilterUnauthenticated(t *testing.T) {
	ev, user, _ := setup(t, nil)
	_, err := ev.Filter(user.Annotations, schema.OperationRead, authz.Target{Entity: user, Node: cypher.NewNode("User")})
	assert.ErrorIs(t, err, authn.ErrUnauthenticated)
}

func TestFilterMissingClaim(t *testing.T) {
	ev, user, _ := setup(t, authn.Claims{"name": "x"})
	pred, err := ev.Filter(user.Annotations, schema.OperationRead, authz.Target{Entity: user, Node: cypher.NewNode("User")})
	require.NoError(t, err)
	assert.Equal(t, cypher.False, pred)
}

func TestFilterStaticRules(t *testing.T) {
	t.Run("claim-only rule holds", func(t *testing.T) {
		ev, _, post := setup(t, authn.Claims{"public": true})
		pred, err := ev.Filter(post.Annotations, schema.OperationRead, authz.Target{Entity: post, Node: cypher.NewNode("Post")})
		require.NoError(t, err)
		assert.Nil(t, pred)
	})

	t.Run("unauthenticated with an optional rule", func(t *testing.T) {
		ev, _, post := setup(t, nil)
		_, err := ev.Filter(post.Annotations, schema.OperationRead, authz.Target{Entity: post, Node: cypher.NewNode("Post")})
		assert.ErrorIs(t, err, authn.ErrUnauthenticated)
	})

	t.Run("claim-only rule fails", func(t *testing.T) {
		ev, _, post := setup(t, authn.Claims{"sub": "u"})
		node := cypher.NamedNode("this", "Post")
		pred, err := ev.Filter(post.Annotations, schema.OperationRead, authz.Target{Entity: post, Node: node})
		require.NoError(t, err)
		res := render(t, node, pred)
		assert.Equal(t, "MATCH (this:Post)\nWHERE this.owner = $param0", res.Cypher)
	})
}

func TestValidate(t *testing.T) {
	t.Run("node predicate becomes a guard", func(t *testing.T) {
		ev, user, _ := setup(t, authn.Claims{"sub": "user1"})
		node := cypher.NamedNode("this", "User")
		pred, err := ev.Validate(user.Annotations, schema.OperationUpdate, schema.PhaseBefore, authz.Target{Entity: user, Node: node})
		require.NoError(t, err)
		res := render(t, node, authz.Guard(pred))
		assert.Equal(t,
			`MATCH (this:User)
WHERE apoc.util.validatePredicate(NOT (this.id = $param0), "@quince/FORBIDDEN", [0])`, res.Cypher)
	})

	t.Run("phase out of scope", func(t *testing.T) {
		ev, user, _ := setup(t, authn.Claims{"sub": "user1"})
		pred, err := ev.Validate(user.Annotations, schema.OperationUpdate, schema.PhaseAfter, authz.Target{Entity: user, Node: cypher.NewNode("User")})
		require.NoError(t, err)
		assert.Nil(t, pred)
	})

	t.Run("static failure is forbidden", func(t *testing.T) {
		ev, user, _ := setup(t, authn.Claims{"roles": []any{"reader"}})
		_, err := ev.Validate(user.Annotations, schema.OperationDelete, schema.PhaseBefore, authz.Target{Entity: user, Node: cypher.NewNode("User")})
		assert.ErrorIs(t, err, authz.ErrForbidden)
	})

	t.Run("static success drops the rule", func(t *testing.T) {
		ev, user, _ := setup(t, authn.Claims{"roles": []any{"admin"}})
		pred, err := ev.Validate(user.Annotations, schema.OperationDelete, schema.PhaseBefore, authz.Target{Entity: user, Node: cypher.NewNode("User")})
		require.NoError(t, err)
		assert.Nil(t, pred)
	})

	t.Run("or folds against a value", func(t *testing.T) {
		ev, user, _ := setup(t, authn.Claims{"roles": []any{"reader"}, "name": "ann"})
		input := cypher.NamedVariable("input")
		pred, err := ev.Validate(user.Annotations, schema.OperationCreate, schema.PhaseAfter, authz.Target{Entity: user, Value: input})
		require.NoError(t, err)
		require.NotNil(t, pred)
		env := cypher.NewEnvironment()
		assert.Equal(t, "input.name = $param0", pred.Cypher(env))
		assert.Equal(t, map[string]any{"param0": "ann"}, env.Params())
	})
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		claims  authn.Claims
		op      schema.Operation
		wantErr bool
	}{
		{"out of scope", nil, schema.OperationRead, false},
		{"no claims", nil, schema.OperationCreate, true},
		{"claim filter fails", authn.Claims{"roles": []any{"reader"}}, schema.OperationCreate, true},
		{"claim filter holds", authn.Claims{"roles": []any{"writer"}}, schema.OperationCreate, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, _, post := setup(t, tt.claims)
			err := ev.Authenticate(post.Annotations, tt.op)
			if tt.wantErr {
				assert.ErrorIs(t, err, authn.ErrUnauthenticated)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDecision(t *testing.T) {
	ev, user, _ := setup(t, nil)
	target := authz.Target{Entity: user, Node: cypher.NewNode("User")}

	ev.Decision = authz.DecisionAllow
	pred, err := ev.Filter(user.Annotations, schema.OperationRead, target)
	require.NoError(t, err)
	assert.Nil(t, pred)
	pred, err = ev.Validate(user.Annotations, schema.OperationDelete, schema.PhaseBefore, target)
	require.NoError(t, err)
	assert.Nil(t, pred)

	ev.Decision = authz.DecisionDeny
	pred, err = ev.Filter(user.Annotations, schema.OperationRead, target)
	require.NoError(t, err)
	assert.Equal(t, cypher.False, pred)
	_, err = ev.Validate(user.Annotations, schema.OperationRead, schema.PhaseBefore, target)
	assert.ErrorIs(t, err, authz.ErrForbidden)
	assert.False(t, ev.MatchEvent(user.Annotations, schema.EventCreated, nil))
}

func TestMatchEvent(t *testing.T) {
	ev, user, _ := setup(t, authn.Claims{"sub": "u"})
	assert.True(t, ev.MatchEvent(user.Annotations, schema.EventCreated, map[string]any{"name": "alice"}))
	assert.False(t, ev.MatchEvent(user.Annotations, schema.EventCreated, map[string]any{"name": "bob"}))
	assert.True(t, ev.MatchEvent(user.Annotations, schema.EventDeleted, map[string]any{"name": "bob"}))

	anon := &authz.Evaluator{Model: ev.Model}
	assert.False(t, anon.MatchEvent(user.Annotations, schema.EventCreated, map[string]any{"name": "alice"}))
}

func TestGuardNil(t *testing.T) {
	assert.Nil(t, authz.Guard(nil))
	assert.Nil(t, authz.GuardClause(nil))
}
