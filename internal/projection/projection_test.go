package projection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quince/internal/authz"
	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/projection"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/parser"
	"github.com/pthm/quince/pkg/selection"
	"github.com/pthm/quince/schema"
)

const typeDefs = `
type User @authorization(filter: [{ where: { node: { id: "$jwt.sub" } } }]) {
  id: ID!
  name: String! @alias(property: "displayName")
  slug: String @customResolver(requires: "name id")
  posts: [Post!]! @relationship(type: "HAS_POST", direction: OUT)
}

type Post @queryOptions(limit: { default: 10, max: 100 }) {
  id: ID!
  title: String
  created: DateTime
  owner: ID
  score: Int @authorization(filter: [{ where: { node: { owner: "$jwt.sub" } } }])
  author: User! @relationship(type: "HAS_POST", direction: IN)
  tools: [Tool!]! @relationship(type: "USES", direction: OUT)
  subjects: [Production!]! @relationship(type: "ABOUT", direction: OUT)
  related(limit: Int = 3): [Post!]! @cypher(statement: "MATCH (this)-[:RELATED]->(p) RETURN p LIMIT $limit", columnName: "p")
  wordCount: Int @cypher(statement: "RETURN size(this.body) AS c", columnName: "c")
}

type Screwdriver {
  length: Int
}

type Pencil {
  colour: String
}

union Tool = Screwdriver | Pencil

interface Production {
  title: String
}

type Film implements Production {
  title: String
  runtime: Int
}

type Series implements Production {
  title: String
  episodes: Int
}
`

type fixture struct {
	model *schema.Model
	ev    *authz.Evaluator
}

func setup(t *testing.T, claims authn.Claims) fixture {
	t.Helper()
	m, err := parser.ParseSchemaString(typeDefs)
	require.NoError(t, err)
	return fixture{model: m, ev: &authz.Evaluator{Model: m, Claims: claims}}
}

// compose projects sel on a root node named this and renders the read.
func (f fixture) compose(t *testing.T, entity string, sel *selection.Field) (projection.Result, cypher.Result, error) {
	t.Helper()
	e, ok := f.model.Entity(entity)
	require.True(t, ok)
	node := cypher.NamedNode("this", e.Labels...)
	res, err := projection.Compose(projection.Request{
		Model:     f.model,
		Evaluator: f.ev,
		Entity:    e,
		Node:      node,
		Selection: sel,
	})
	if err != nil {
		return res, cypher.Result{}, err
	}
	clauses := []cypher.Clause{cypher.NewMatch(cypher.NewPattern(node)).Where(res.Filter(), res.Guard())}
	clauses = append(clauses, res.Subqueries...)
	clauses = append(clauses, &cypher.Return{Items: []cypher.Item{{Expr: res.Projection, As: node}}})
	out, err := cypher.BuildChecked(cypher.Concat(clauses...))
	return res, out, err
}

func TestComposeRelationship(t *testing.T) {
	f := setup(t, authn.Claims{"sub": "u1"})
	sel := selection.NewField("posts",
		selection.NewField("title"),
		selection.NewField("author", selection.NewField("name")),
	)

	_, out, err := f.compose(t, "Post", sel)
	require.NoError(t, err)
	assert.Equal(t, `MATCH (this:Post)
CALL {
	WITH this
	MATCH (this)<-[this0:HAS_POST]-(this1:User)
	WHERE this1.id = $param0
	WITH this1 { name: this1.displayName } AS this1
	RETURN head(collect(this1)) AS this2
}
RETURN this { .title, author: this2 } AS this`, out.Cypher)
	assert.Equal(t, map[string]any{"param0": "u1"}, out.Params)
}

func TestComposeRequiresAuthentication(t *testing.T) {
	f := setup(t, nil)
	sel := selection.NewField("posts", selection.NewField("author", selection.NewField("name")))
	_, _, err := f.compose(t, "Post", sel)
	assert.ErrorIs(t, err, authn.ErrUnauthenticated)
}

func TestComposeSortKeyCompletion(t *testing.T) {
	f := setup(t, nil)
	sel := selection.NewField("posts", selection.NewField("title")).WithArgs(map[string]any{
		"options": map[string]any{"sort": []any{map[string]any{"id": "DESC"}}},
	})
	_, out, err := f.compose(t, "Post", sel)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (this:Post)\nRETURN this { .title, .id } AS this", out.Cypher)
}

func TestComposeCustomResolverRequires(t *testing.T) {
	f := setup(t, authn.Claims{"sub": "u1"})
	sel := selection.NewField("users", selection.NewField("slug"))
	res, _, err := f.compose(t, "User", sel)
	require.NoError(t, err)

	out := cypher.Build(&cypher.Return{Items: []cypher.Item{{Expr: res.Projection}}})
	assert.Equal(t, "RETURN this { name: this.displayName, .id }", out.Cypher)
}

func TestComposeTypename(t *testing.T) {
	f := setup(t, nil)
	sel := selection.NewField("posts", selection.NewField("__typename"), selection.NewField("id").As("key"))
	_, out, err := f.compose(t, "Post", sel)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (this:Post)\nRETURN this { __typename: \"Post\", key: this.id } AS this", out.Cypher)
}

func TestComposeUnknownField(t *testing.T) {
	f := setup(t, nil)
	_, _, err := f.compose(t, "Post", selection.NewField("posts", selection.NewField("nope")))
	assert.ErrorIs(t, err, projection.ErrUnknownField)
}

func TestComposeDateTime(t *testing.T) {
	f := setup(t, nil)
	_, out, err := f.compose(t, "Post", selection.NewField("posts", selection.NewField("created")))
	require.NoError(t, err)
	assert.Contains(t, out.Cypher,
		`created: apoc.date.convertFormat(toString(this.created), "iso_zoned_date_time", "iso_offset_date_time")`)
}

func TestComposeUnion(t *testing.T) {
	f := setup(t, nil)
	sel := selection.NewField("posts",
		selection.NewField("tools", selection.NewField("__typename")).
			On("Pencil", selection.NewField("colour")),
	)
	_, out, err := f.compose(t, "Post", sel)
	require.NoError(t, err)
	assert.Contains(t, out.Cypher, "MATCH (this)-[this0:USES]->(this1)\n\tWHERE this1:Screwdriver OR this1:Pencil")
	assert.Contains(t, out.Cypher,
		`WITH CASE WHEN this1:Screwdriver THEN this1 { __resolveType: "Screwdriver", __typename: "Screwdriver" } `+
			`WHEN this1:Pencil THEN this1 { __resolveType: "Pencil", __typename: "Pencil", .colour } END AS this1`)
	assert.Contains(t, out.Cypher, "RETURN collect(this1) AS this2")
}

func TestComposeUnionWhere(t *testing.T) {
	f := setup(t, nil)
	sel := selection.NewField("posts",
		selection.NewField("tools", selection.NewField("__typename")).WithArgs(map[string]any{
			"where": map[string]any{"Pencil": map[string]any{"colour": "red"}},
		}),
	)
	_, out, err := f.compose(t, "Post", sel)
	require.NoError(t, err)
	assert.Contains(t, out.Cypher, "WHERE this1:Pencil AND this1.colour = $param0")
	assert.NotContains(t, out.Cypher, "Screwdriver")

	sel.FieldsByTypeName[selection.Untyped][0].Args = map[string]any{"where": map[string]any{"Hammer": map[string]any{}}}
	_, _, err = f.compose(t, "Post", sel)
	assert.ErrorIs(t, err, projection.ErrUnknownField)
}

func TestComposeInterfaceSort(t *testing.T) {
	f := setup(t, nil)
	sel := selection.NewField("posts",
		selection.NewField("subjects", selection.NewField("__typename")).WithArgs(map[string]any{
			"options": map[string]any{"sort": []any{map[string]any{"title": "DESC"}}, "limit": 2},
		}),
	)
	_, out, err := f.compose(t, "Post", sel)
	require.NoError(t, err)
	assert.Contains(t, out.Cypher, `WHEN this1:Film THEN this1 { __resolveType: "Film", __typename: "Film", .title }`)
	assert.Contains(t, out.Cypher, `WHEN this1:Series THEN this1 { __resolveType: "Series", __typename: "Series", .title }`)
	assert.Contains(t, out.Cypher, "ORDER BY this1.title DESC")
	assert.Equal(t, 2, out.Params["param0"])

	sel.FieldsByTypeName[selection.Untyped][0].Args = map[string]any{"sort": []any{map[string]any{"runtime": "ASC"}}}
	_, _, err = f.compose(t, "Post", sel)
	assert.ErrorIs(t, err, projection.ErrInvalidArgument)
}

func TestComposeUnionSortRejected(t *testing.T) {
	f := setup(t, nil)
	sel := selection.NewField("posts",
		selection.NewField("tools", selection.NewField("__typename")).WithArgs(map[string]any{
			"sort": []any{map[string]any{"colour": "ASC"}},
		}),
	)
	_, _, err := f.compose(t, "Post", sel)
	assert.ErrorIs(t, err, projection.ErrInvalidArgument)
}

func TestComposeQueryOptionsLimit(t *testing.T) {
	f := setup(t, authn.Claims{"sub": "u1"})
	sel := selection.NewField("users",
		selection.NewField("posts", selection.NewField("title")).WithArgs(map[string]any{"limit": 500}),
	)
	_, out, err := f.compose(t, "User", sel)
	require.NoError(t, err)
	assert.Contains(t, out.Cypher, "LIMIT $param0")
	assert.Equal(t, 100, out.Params["param0"])
}

func TestComposeComputed(t *testing.T) {
	f := setup(t, nil)

	t.Run("scalar", func(t *testing.T) {
		_, out, err := f.compose(t, "Post", selection.NewField("posts", selection.NewField("wordCount")))
		require.NoError(t, err)
		assert.Contains(t, out.Cypher,
			`wordCount: apoc.cypher.runFirstColumnSingle("RETURN size(this.body) AS c", { this: this })`)
	})

	t.Run("entity list with default argument", func(t *testing.T) {
		_, out, err := f.compose(t, "Post", selection.NewField("posts", selection.NewField("related", selection.NewField("title"))))
		require.NoError(t, err)
		assert.Contains(t, out.Cypher, `UNWIND apoc.cypher.runFirstColumnMany("MATCH (this)-[:RELATED]->(p) RETURN p LIMIT $limit", { this: this, limit: $param0 }) AS this0`)
		assert.Contains(t, out.Cypher, "RETURN collect(this0) AS this1")
		assert.Equal(t, int64(3), out.Params["param0"])
	})

	t.Run("claims are passed as jwt", func(t *testing.T) {
		g := setup(t, authn.Claims{"sub": "u1"})
		_, out, err := g.compose(t, "Post", selection.NewField("posts", selection.NewField("wordCount")))
		require.NoError(t, err)
		assert.Contains(t, out.Cypher, "{ this: this, jwt: $param0 }")
		assert.Equal(t, map[string]any{"sub": "u1"}, out.Params["param0"])
	})

	t.Run("undeclared argument", func(t *testing.T) {
		sel := selection.NewField("posts", selection.NewField("wordCount").WithArgs(map[string]any{"x": 1}))
		_, _, err := f.compose(t, "Post", sel)
		assert.ErrorIs(t, err, projection.ErrInvalidArgument)
	})
}

func TestComposeAggregateField(t *testing.T) {
	f := setup(t, authn.Claims{"sub": "u1"})
	sel := selection.NewField("users",
		selection.NewField("postsAggregate",
			selection.NewField("count"),
			selection.NewField("node", selection.NewField("score", selection.NewField("max"), selection.NewField("average"))),
		),
	)
	_, out, err := f.compose(t, "User", sel)
	require.NoError(t, err)
	assert.Contains(t, out.Cypher,
		"RETURN { count: count(this1), node: { score: { max: max(this1.score), average: avg(this1.score) } } } AS this2")
	assert.Contains(t, out.Cypher, "postsAggregate: this2")
	assert.Contains(t, out.Cypher, "MATCH (this)-[this0:HAS_POST]->(this1:Post)\n\tWHERE this1.owner = $param1")
	assert.Equal(t, "u1", out.Params["param1"])

	bad := selection.NewField("users",
		selection.NewField("postsAggregate", selection.NewField("node", selection.NewField("title", selection.NewField("max")))),
	)
	_, _, err = f.compose(t, "User", bad)
	assert.ErrorIs(t, err, projection.ErrUnknownField)
}

func TestComposeDeferredConnection(t *testing.T) {
	f := setup(t, authn.Claims{"sub": "u1"})
	user, _ := f.model.Entity("User")
	node := cypher.NamedNode("this", "User")
	req := projection.Request{
		Model:     f.model,
		Evaluator: f.ev,
		Entity:    user,
		Node:      node,
		Selection: selection.NewField("users",
			selection.NewField("postsConnection", selection.NewField("totalCount")).WithArgs(map[string]any{"first": 5}),
		),
	}
	res, err := projection.Compose(req)
	require.NoError(t, err)
	require.Len(t, res.Meta.ConnectionFields, 1)
	d := res.Meta.ConnectionFields[0]
	assert.Equal(t, []string{"postsConnection"}, d.Path)
	assert.Empty(t, res.Subqueries)

	call, err := projection.Materialize(req, d)
	require.NoError(t, err)
	out, err := cypher.BuildChecked(cypher.Concat(
		cypher.NewMatch(cypher.NewPattern(node)).Where(res.Filter()),
		call,
		&cypher.Return{Items: []cypher.Item{{Expr: res.Projection, As: node}}},
	))
	require.NoError(t, err)
	assert.Contains(t, out.Cypher, "MATCH (this)-[this0:HAS_POST]->(this1:Post)")
	assert.Contains(t, out.Cypher, "WITH collect({}) AS this2")
	assert.Contains(t, out.Cypher, "WITH this2, size(this2) AS this3")
	assert.Contains(t, out.Cypher, "RETURN { totalCount: this3 } AS this4")
	assert.Contains(t, out.Cypher, "RETURN this { postsConnection: this4 } AS this")
}

func TestComposeInlineConnection(t *testing.T) {
	f := setup(t, authn.Claims{"sub": "u1"})
	post, _ := f.model.Entity("Post")
	node := cypher.NamedNode("this", "Post")
	res, err := projection.Compose(projection.Request{
		Model:          f.model,
		Evaluator:      f.ev,
		Entity:         post,
		Node:           node,
		InRelationship: true,
		Selection: selection.NewField("posts",
			selection.NewField("toolsConnection", selection.NewField("totalCount")),
		),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Meta.ConnectionFields)
	require.Len(t, res.Subqueries, 1)
}

func TestComposeInterfaceFieldsReported(t *testing.T) {
	m, err := parser.ParseSchemaString(`
interface Production { title: String }
type Movie implements Production { title: String runtime: Int }
type Actor {
  name: String
  actedIn: [Production!]! @relationship(type: "ACTED_IN", direction: OUT)
}`)
	require.NoError(t, err)
	actor, _ := m.Entity("Actor")
	res, err := projection.Compose(projection.Request{
		Model:  m,
		Entity: actor,
		Node:   cypher.NamedNode("this", "Actor"),
		Selection: selection.NewField("actors",
			selection.NewField("actedIn", selection.NewField("title")).On("Movie", selection.NewField("runtime")),
		),
	})
	require.NoError(t, err)
	require.Len(t, res.Meta.InterfaceFields, 1)
	assert.Equal(t, []string{"actedIn"}, res.Meta.InterfaceFields[0].Path)

	out := cypher.Build(cypher.Concat(res.Subqueries...))
	assert.Contains(t, out.Cypher, `this1 { __resolveType: "Movie", .title, .runtime }`)
}

func TestParseOptions(t *testing.T) {
	opts, err := projection.ParseOptions(map[string]any{
		"options": map[string]any{"limit": 5, "offset": int64(2), "sort": map[string]any{"title": "ASC"}},
		"limit":   float64(7),
	})
	require.NoError(t, err)
	assert.Equal(t, 7, opts.Limit)
	assert.Equal(t, 2, opts.Offset)
	require.Len(t, opts.Sort, 1)
	assert.Equal(t, "title", opts.Sort[0].Field)
	assert.False(t, opts.Sort[0].Descending)

	for _, args := range []map[string]any{
		{"limit": -1},
		{"offset": "x"},
		{"limit": 1.5},
		{"options": "x"},
	} {
		_, err := projection.ParseOptions(args)
		assert.ErrorIs(t, err, projection.ErrInvalidArgument, "%v", args)
	}
}
