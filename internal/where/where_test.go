package where_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quince/internal/cypher"
	"github.com/pthm/quince/internal/where"
	"github.com/pthm/quince/pkg/authn"
	"github.com/pthm/quince/pkg/parser"
	"github.com/pthm/quince/schema"
)

const typeDefs = `
type User {
  id: ID!
  name: String
  score: Int @coalesce(value: 0)
  roles: [String!]
  posts: [Post!]! @relationship(type: "HAS_POST", direction: OUT)
  manager: User @relationship(type: "MANAGES", direction: IN)
  liked: [Likeable!]! @relationship(type: "LIKES", direction: OUT)
}

type Post {
  title: String
}

type Photo {
  url: String
}

union Likeable = Post | Photo
`

func compile(t *testing.T, resolve where.Resolver, raw map[string]any) (cypher.Result, error) {
	t.Helper()
	m, err := parser.ParseSchemaString(typeDefs)
	require.NoError(t, err)
	user, _ := m.Entity("User")

	f, err := schema.ParseFilter(raw)
	require.NoError(t, err)

	node := cypher.NamedNode("this", "User")
	c := &where.Compiler{Model: m, Resolve: resolve}
	pred, err := c.Node(user, node, f)
	if err != nil {
		return cypher.Result{}, err
	}
	return cypher.BuildChecked(cypher.NewMatch(cypher.NewPattern(node)).Where(pred))
}

func TestCompile(t *testing.T) {
	claims := authn.Claims{"sub": "user1"}

	tests := []struct {
		name       string
		resolve    where.Resolver
		filter     map[string]any
		wantCypher string
		wantParams map[string]any
	}{
		{
			name:       "claim equality",
			resolve:    where.Claims(claims),
			filter:     map[string]any{"id": map[string]any{"equals": "$jwt.sub"}},
			wantCypher: "MATCH (this:User)\nWHERE this.id = $param0",
			wantParams: map[string]any{"param0": "user1"},
		},
		{
			name:       "missing claim",
			resolve:    where.Claims(claims),
			filter:     map[string]any{"id": "$jwt.org"},
			wantCypher: "MATCH (this:User)\nWHERE false",
			wantParams: map[string]any{},
		},
		{
			name:       "claim not followed for request filters",
			resolve:    where.Literals,
			filter:     map[string]any{"id": "$jwt.sub"},
			wantCypher: "MATCH (this:User)\nWHERE this.id = $param0",
			wantParams: map[string]any{"param0": "$jwt.sub"},
		},
		{
			name:       "null",
			resolve:    where.Literals,
			filter:     map[string]any{"name": nil},
			wantCypher: "MATCH (this:User)\nWHERE this.name IS NULL",
			wantParams: map[string]any{},
		},
		{
			name:       "coalesce",
			resolve:    where.Literals,
			filter:     map[string]any{"score_GT": 3},
			wantCypher: "MATCH (this:User)\nWHERE coalesce(this.score, $param0) > $param1",
			wantParams: map[string]any{"param0": int64(0), "param1": 3},
		},
		{
			name:    "logical",
			resolve: where.Literals,
			filter: map[string]any{
				"roles_INCLUDES": "admin",
				"OR":             []any{map[string]any{"id": "a"}, map[string]any{"name_NOT": "b"}},
			},
			wantCypher: "MATCH (this:User)\nWHERE $param0 IN this.roles AND (this.id = $param1 OR NOT (this.name = $param2))",
			wantParams: map[string]any{"param0": "admin", "param1": "a", "param2": "b"},
		},
		{
			name:       "some",
			resolve:    where.Literals,
			filter:     map[string]any{"posts": map[string]any{"some": map[string]any{"title": "x"}}},
			wantCypher: "MATCH (this:User)\nWHERE EXISTS {\n\tMATCH (this)-[this0:HAS_POST]->(this1:Post)\n\tWHERE this1.title = $param0\n}",
			wantParams: map[string]any{"param0": "x"},
		},
		{
			name:       "all",
			resolve:    where.Literals,
			filter:     map[string]any{"posts_ALL": map[string]any{"title": "x"}},
			wantCypher: "MATCH (this:User)\nWHERE NOT (EXISTS {\n\tMATCH (this)-[this0:HAS_POST]->(this1:Post)\n\tWHERE NOT (this1.title = $param0)\n})",
			wantParams: map[string]any{"param0": "x"},
		},
		{
			name:       "none",
			resolve:    where.Literals,
			filter:     map[string]any{"posts": map[string]any{"none": map[string]any{"title": "x"}}},
			wantCypher: "MATCH (this:User)\nWHERE NOT (EXISTS {\n\tMATCH (this)-[this0:HAS_POST]->(this1:Post)\n\tWHERE this1.title = $param0\n})",
			wantParams: map[string]any{"param0": "x"},
		},
		{
			name:       "single",
			resolve:    where.Literals,
			filter:     map[string]any{"posts_SINGLE": map[string]any{"title": "x"}},
			wantCypher: "MATCH (this:User)\nWHERE size([(this)-[this0:HAS_POST]->(this1:Post) WHERE this1.title = $param0 | 1]) = 1",
			wantParams: map[string]any{"param0": "x"},
		},
		{
			name:       "to-one direct",
			resolve:    where.Literals,
			filter:     map[string]any{"manager": map[string]any{"id": "m1"}},
			wantCypher: "MATCH (this:User)\nWHERE EXISTS {\n\tMATCH (this)<-[this0:MANAGES]-(this1:User)\n\tWHERE this1.id = $param0\n}",
			wantParams: map[string]any{"param0": "m1"},
		},
		{
			name:       "relationship absent",
			resolve:    where.Literals,
			filter:     map[string]any{"manager": nil},
			wantCypher: "MATCH (this:User)\nWHERE NOT (EXISTS {\n\tMATCH (this)<-[this0:MANAGES]-(this1)\n})",
			wantParams: map[string]any{},
		},
		{
			name:       "union members",
			resolve:    where.Literals,
			filter:     map[string]any{"liked_SOME": map[string]any{"Photo": map[string]any{"url": "u"}}},
			wantCypher: "MATCH (this:User)\nWHERE EXISTS {\n\tMATCH (this)-[this0:LIKES]->(this1)\n\tWHERE this1:Photo AND this1.url = $param0\n}",
			wantParams: map[string]any{"param0": "u"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := compile(t, tt.resolve, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCypher, res.Cypher)
			assert.Equal(t, tt.wantParams, res.Params)
		})
	}
}

func TestCompileUnknownField(t *testing.T) {
	_, err := compile(t, where.Literals, map[string]any{"email": "x"})
	assert.ErrorIs(t, err, where.ErrUnknownField)

	_, err = compile(t, where.Literals, map[string]any{"liked_SOME": map[string]any{"Video": map[string]any{"url": "u"}}})
	assert.ErrorIs(t, err, where.ErrUnknownField)
}

func TestEvaluate(t *testing.T) {
	props := map[string]any{"id": "u1", "age": int64(30), "tags": []any{"a", "b"}, "name": "Ada Lovelace"}
	get := func(field string) (any, bool) {
		v, ok := props[field]
		return v, ok
	}
	claims := authn.Claims{"sub": "u1", "limits": map[string]any{"age": 40}}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"claim equality", map[string]any{"id": "$jwt.sub"}, true},
		{"missing claim", map[string]any{"id": "$jwt.nope"}, false},
		{"negated missing claim", map[string]any{"id_NOT": "$jwt.nope"}, false},
		{"numeric across types", map[string]any{"age_LT": "$jwt.limits.age"}, true},
		{"in", map[string]any{"id_IN": []any{"u0", "u1"}}, true},
		{"includes", map[string]any{"tags_INCLUDES": "b"}, true},
		{"starts with", map[string]any{"name_STARTS_WITH": "Ada"}, true},
		{"or", map[string]any{"OR": []any{map[string]any{"id": "x"}, map[string]any{"age_GTE": 30}}}, true},
		{"not", map[string]any{"NOT": map[string]any{"id": "u1"}}, false},
		{"null", map[string]any{"missing": nil}, true},
		{"relationship", map[string]any{"posts": map[string]any{"some": map[string]any{"id": "p"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := schema.ParseFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, where.Evaluate(f, get, claims))
		})
	}
}
