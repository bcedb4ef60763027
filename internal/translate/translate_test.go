package translate_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/translate"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/parser"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

const typeDefs = `
interface Production {
  title: String
}

type User @authorization(validate: [{ when: [BEFORE], where: { node: { id: "$jwt.sub" } } }]) {
  id: ID!
  name: String!
}

type Movie implements Production @fulltext(indexes: [{ indexName: "MovieTitle", fields: ["title"] }]) @authorization(validate: [
  { operations: [CREATE], when: [BEFORE], where: { node: { owner: "$jwt.sub" } } }
  { operations: [CREATE], when: [AFTER], where: { node: { owner: "$jwt.sub" } } }
]) {
  id: ID!
  title: String
  owner: ID
  rating: Int
  actors: [Actor!]! @relationship(type: "ACTED_IN", direction: IN, properties: "ActedIn")
}

type Actor {
  name: String!
  born: Int
  movies: [Movie!]! @relationship(type: "ACTED_IN", direction: OUT, properties: "ActedIn")
}

type ActedIn @relationshipProperties {
  role: String
}
`

func translateField(t *testing.T, claims authn.Claims, f *selection.Field) (translate.Result, error) {
	t.Helper()
	return translateSDL(t, typeDefs, claims, f)
}

func translateSDL(t *testing.T, sdl string, claims authn.Claims, f *selection.Field) (translate.Result, error) {
	t.Helper()
	m, err := parser.ParseSchemaString(sdl)
	require.NoError(t, err)
	return translate.Translate(translate.Request{
		Model:     m,
		Evaluator: &authz.Evaluator{Model: m, Claims: claims},
		Field:     f,
	})
}

func assertGolden(t *testing.T, name string, res translate.Result) {
	t.Helper()
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, name, []byte(res.Cypher+"\n"))
}

func TestReadBeforeGuard(t *testing.T) {
	sel := selection.NewField("users", selection.NewField("id"), selection.NewField("name"))
	res, err := translateField(t, authn.Claims{"sub": "user1"}, sel)
	require.NoError(t, err)

	assertGolden(t, "read_before_guard", res)
	assert.Equal(t, map[string]any{"param0": "user1"}, res.Params)
	assert.NotContains(t, res.Cypher, "user1")
	assert.Equal(t, translate.ColumnThis, res.Column)
	assert.Equal(t, schema.RootRead, res.Kind)
}

func TestReadRequiresClaims(t *testing.T) {
	sel := selection.NewField("users", selection.NewField("id"))
	_, err := translateField(t, nil, sel)
	assert.ErrorIs(t, err, authn.ErrUnauthenticated)
}

func TestReadSortCompletion(t *testing.T) {
	sel := selection.NewField("movies", selection.NewField("title")).WithArgs(map[string]any{
		"options": map[string]any{
			"sort":  []any{map[string]any{"rating": "DESC"}},
			"limit": 5,
		},
	})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "read_sort_completion", res)
	assert.Equal(t, map[string]any{"param0": 5}, res.Params)
}

func TestReadInterfaceFragment(t *testing.T) {
	sel := selection.NewField("movies", selection.NewField("id")).On("Production", selection.NewField("title"))
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)
	assertGolden(t, "read_interface_fragment", res)
}

func TestReadFullText(t *testing.T) {
	sel := selection.NewField("movies", selection.NewField("title")).WithArgs(map[string]any{
		"fulltext": map[string]any{
			"MovieTitle": map[string]any{"phrase": "alien", "score": map[string]any{"min": 0.5}},
		},
	})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "read_fulltext", res)
	assert.Equal(t, map[string]any{"param0": "alien", "param1": 0.5}, res.Params)
}

func TestReadFullTextErrors(t *testing.T) {
	tests := []struct {
		name     string
		fulltext any
		want     error
	}{
		{"unknown index", map[string]any{"Other": map[string]any{"phrase": "x"}}, where.ErrUnknownField},
		{"missing phrase", map[string]any{"MovieTitle": map[string]any{}}, where.ErrInvalidArgument},
		{"two indexes", map[string]any{"A": map[string]any{}, "B": map[string]any{}}, where.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := selection.NewField("movies", selection.NewField("title")).WithArgs(map[string]any{"fulltext": tt.fulltext})
			_, err := translateField(t, nil, sel)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadDeferredConnection(t *testing.T) {
	sel := selection.NewField("actors", selection.NewField("moviesConnection", selection.NewField("totalCount")))
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "read_deferred_connection", res)
	require.Len(t, res.Deferred.ConnectionFields, 1)
	assert.Equal(t, []string{"moviesConnection"}, res.Deferred.ConnectionFields[0].Path)
}

func TestAggregate(t *testing.T) {
	sel := selection.NewField("moviesAggregate",
		selection.NewField("count"),
		selection.NewField("rating", selection.NewField("max"), selection.NewField("average")),
	).WithArgs(map[string]any{"where": map[string]any{"title": "Alien"}})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "aggregate", res)
	assert.Equal(t, map[string]any{"param0": "Alien"}, res.Params)
}

func TestAggregateFieldFilter(t *testing.T) {
	sdl := `
type Movie {
  title: String
  owner: ID
  rating: Int @authorization(filter: [{ where: { node: { owner: "$jwt.sub" } } }])
}
`
	sel := selection.NewField("moviesAggregate",
		selection.NewField("rating", selection.NewField("max")),
	).WithArgs(map[string]any{"where": map[string]any{"title": "Alien"}})
	res, err := translateSDL(t, sdl, authn.Claims{"sub": "u1"}, sel)
	require.NoError(t, err)

	assertGolden(t, "aggregate_field_filter", res)
	assert.Equal(t, map[string]any{"param0": "Alien", "param1": "u1"}, res.Params)

	_, err = translateSDL(t, sdl, nil, sel)
	assert.ErrorIs(t, err, authn.ErrUnauthenticated)
}

func TestRootConnection(t *testing.T) {
	sel := selection.NewField("moviesConnection",
		selection.NewField("totalCount"),
		selection.NewField("edges", selection.NewField("node", selection.NewField("title"))),
	).WithArgs(map[string]any{
		"first": 2,
		"sort":  []any{map[string]any{"node": map[string]any{"title": "ASC"}}},
	})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "root_connection", res)
	assert.Equal(t, map[string]any{"param0": 2}, res.Params)
}

func TestRootConnectionRejectsEdgeWhere(t *testing.T) {
	sel := selection.NewField("moviesConnection", selection.NewField("totalCount")).WithArgs(map[string]any{
		"where": map[string]any{"edge": map[string]any{"role": "x"}},
	})
	_, err := translateField(t, nil, sel)
	assert.ErrorIs(t, err, where.ErrUnknownField)
}

func TestCreateGuardPlacement(t *testing.T) {
	sel := selection.NewField("createMovies", selection.NewField("movies", selection.NewField("title"))).WithArgs(map[string]any{
		"input": []any{map[string]any{"title": "Alien", "owner": "u1"}},
	})
	res, err := translateField(t, authn.Claims{"sub": "u1"}, sel)
	require.NoError(t, err)

	assertGolden(t, "create_guards", res)
	assert.Equal(t, translate.ColumnData, res.Column)
	assert.Equal(t, map[string]any{
		"param0": map[string]any{"title": "Alien", "owner": "u1"},
		"param1": "u1",
		"param2": "u1",
	}, res.Params)

	before := strings.Index(res.Cypher, "NOT ($param0.owner = $param1)")
	create := strings.Index(res.Cypher, "CREATE (this0:Movie)")
	after := strings.Index(res.Cypher, "NOT (this0.owner = $param2)")
	require.True(t, before >= 0 && create >= 0 && after >= 0)
	assert.Less(t, before, create)
	assert.Less(t, create, after)
}

func TestCreateRequiresClaims(t *testing.T) {
	sel := selection.NewField("createMovies").WithArgs(map[string]any{
		"input": []any{map[string]any{"title": "Alien"}},
	})
	_, err := translateField(t, nil, sel)
	assert.ErrorIs(t, err, authn.ErrUnauthenticated)
}

func TestCreateConnect(t *testing.T) {
	sel := selection.NewField("createActors", selection.NewField("actors", selection.NewField("name"))).WithArgs(map[string]any{
		"input": []any{map[string]any{
			"name": "Sigourney",
			"movies": map[string]any{"connect": []any{map[string]any{
				"where": map[string]any{"node": map[string]any{"title": "Alien"}},
				"edge":  map[string]any{"role": "Ripley"},
			}}},
		}},
	})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "create_connect", res)
	assert.Equal(t, map[string]any{
		"param0": map[string]any{"name": "Sigourney"},
		"param1": "Alien",
		"param2": map[string]any{"role": "Ripley"},
	}, res.Params)
}

func TestCreateWithoutPayload(t *testing.T) {
	sel := selection.NewField("createActors").WithArgs(map[string]any{
		"input": map[string]any{"name": "Sigourney"},
	})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Cypher, "UNWIND [this0] AS this\nRETURN count(this) AS data"), res.Cypher)
}

func TestCreateErrors(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  error
	}{
		{"no input", nil, where.ErrInvalidArgument},
		{"not an object", []any{"x"}, where.ErrInvalidArgument},
		{"unknown field", map[string]any{"age": 3}, where.ErrUnknownField},
		{"disconnect on create", map[string]any{"movies": map[string]any{"disconnect": map[string]any{}}}, where.ErrInvalidArgument},
		{"connect with unknown key", map[string]any{"movies": map[string]any{"connect": map[string]any{"node": map[string]any{}}}}, where.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := selection.NewField("createActors").WithArgs(map[string]any{"input": tt.input})
			_, err := translateField(t, nil, sel)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdate(t *testing.T) {
	sel := selection.NewField("updateUsers", selection.NewField("users", selection.NewField("name"))).WithArgs(map[string]any{
		"where":  map[string]any{"id": "u1"},
		"update": map[string]any{"name": "Ann"},
	})
	res, err := translateField(t, authn.Claims{"sub": "u1"}, sel)
	require.NoError(t, err)

	assertGolden(t, "update", res)
	assert.Equal(t, map[string]any{
		"param0": "u1",
		"param1": "u1",
		"param2": map[string]any{"name": "Ann"},
		"param3": "u1",
	}, res.Params)
}

func TestUpdateDisconnect(t *testing.T) {
	sel := selection.NewField("updateActors").WithArgs(map[string]any{
		"where": map[string]any{"name": "Sigourney"},
		"update": map[string]any{"movies": map[string]any{
			"disconnect": map[string]any{"where": map[string]any{"node": map[string]any{"title": "Alien"}}},
		}},
	})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "update_disconnect", res)
	assert.Equal(t, map[string]any{"param0": "Sigourney", "param1": "Alien"}, res.Params)
}

func TestDelete(t *testing.T) {
	sel := selection.NewField("deleteUsers").WithArgs(map[string]any{"where": map[string]any{"id": "u1"}})
	res, err := translateField(t, authn.Claims{"sub": "u1"}, sel)
	require.NoError(t, err)

	assertGolden(t, "delete", res)
	assert.Empty(t, res.Column)
	assert.Equal(t, schema.RootDelete, res.Kind)
}

func TestMerge(t *testing.T) {
	sel := selection.NewField("mergeActors", selection.NewField("actors", selection.NewField("name"))).WithArgs(map[string]any{
		"input": []any{map[string]any{
			"where":    map[string]any{"name": "Sigourney"},
			"onCreate": map[string]any{"born": 1949},
			"onMatch":  map[string]any{"born": 1949},
		}},
	})
	res, err := translateField(t, nil, sel)
	require.NoError(t, err)

	assertGolden(t, "merge", res)
	assert.Equal(t, map[string]any{
		"param0": "Sigourney",
		"param1": map[string]any{"name": "Sigourney", "born": 1949},
		"param2": map[string]any{"born": 1949},
	}, res.Params)
}

func TestMergeNeedsKey(t *testing.T) {
	sel := selection.NewField("mergeActors").WithArgs(map[string]any{
		"input": []any{map[string]any{"onCreate": map[string]any{"born": 1949}}},
	})
	_, err := translateField(t, nil, sel)
	assert.ErrorIs(t, err, where.ErrInvalidArgument)
}

func TestMergeScopesAfterRules(t *testing.T) {
	sel := selection.NewField("mergeMovies", selection.NewField("movies", selection.NewField("title"))).WithArgs(map[string]any{
		"input": []any{map[string]any{
			"where":    map[string]any{"title": "Alien"},
			"onCreate": map[string]any{"owner": "u1"},
			"onMatch":  map[string]any{"rating": 5},
		}},
	})
	res, err := translateField(t, authn.Claims{"sub": "u1"}, sel)
	require.NoError(t, err)

	assert.Contains(t, res.Cypher, "OPTIONAL MATCH (")
	m := regexp.MustCompile(`WITH count\((this\d+)\) > 0 AS (this\d+)`).FindStringSubmatch(res.Cypher)
	require.Len(t, m, 3, res.Cypher)
	existed := m[2]
	// The CREATE AFTER rule only applies when the MERGE created the node.
	assert.Contains(t, res.Cypher, "("+existed+" AND true) OR (NOT ("+existed+") AND ")
	assert.Less(t, strings.Index(res.Cypher, "OPTIONAL MATCH"), strings.Index(res.Cypher, "MERGE"))
}

func TestUnknownRoot(t *testing.T) {
	_, err := translateField(t, nil, selection.NewField("films"))
	assert.ErrorIs(t, err, where.ErrUnknownField)
}

func TestDecisionDeny(t *testing.T) {
	m, err := parser.ParseSchemaString(typeDefs)
	require.NoError(t, err)
	_, err = translate.Translate(translate.Request{
		Model:     m,
		Evaluator: &authz.Evaluator{Model: m, Decision: authz.DecisionDeny},
		Field:     selection.NewField("actors", selection.NewField("name")),
	})
	assert.ErrorIs(t, err, authz.ErrForbidden)
}
