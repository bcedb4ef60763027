package parser_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quince/pkg/parser"
	"github.com/pthm/quince/schema"
)

const blogSDL = `
extend schema @authentication(operations: [CREATE, UPDATE, DELETE])

interface Content {
  id: ID!
  title: String
}

type User @authorization(filter: [{ where: { node: { id: { equals: "$jwt.sub" } } } }]) @plural(value: "people") {
  id: ID!
  name: String! @alias(property: "displayName")
  joined: DateTime
  score: Int @coalesce(value: 0)
  role: Role @default(value: READER)
  posts: [Post!]! @relationship(type: "HAS_POST", direction: OUT, properties: "Authored")
  favourite: Searchable @relationship(type: "LIKES", direction: OUT)
  postCount(minScore: Int = 0, tag: String): Int @cypher(statement: "MATCH (this)-[:HAS_POST]->(p) RETURN count(p) AS c", columnName: "c")
  slug: String @customResolver(requires: "name id")
}

type Post implements Content @node(labels: ["Post", "Published"]) @queryOptions(limit: { default: 10, max: 100 }) @fulltext(indexes: [{ indexName: "PostTitle", fields: ["title"] }]) {
  id: ID!
  title: String
  secret: String @authorization(validate: [{ when: BEFORE, where: { jwt: { roles: { includes: "admin" } } } }])
  author: User! @relationship(type: "HAS_POST", direction: IN)
}

type Authored @relationshipProperties {
  position: Int
}

enum Role {
  READER
  WRITER
}

union Searchable = Post | User
`

func TestParseSchemaString(t *testing.T) {
	m, err := parser.ParseSchemaString(blogSDL)
	require.NoError(t, err)

	require.Len(t, m.Entities, 2)
	require.Len(t, m.Edges, 1)
	require.Len(t, m.Composites, 2)

	t.Run("schema annotations", func(t *testing.T) {
		require.NotNil(t, m.Annotations.Authentication)
		assert.Equal(t, []schema.Operation{schema.OperationCreate, schema.OperationUpdate, schema.OperationDelete},
			m.Annotations.Authentication.Operations)
	})

	t.Run("entity", func(t *testing.T) {
		user, ok := m.Entity("User")
		require.True(t, ok)
		assert.Equal(t, []string{"User"}, user.Labels)
		assert.Equal(t, "people", user.Plural)
		require.NotNil(t, user.Annotations.Authorization)
		assert.Len(t, user.Annotations.Authorization.Filter, 1)

		_, ok = m.Root("people")
		assert.True(t, ok)
		_, ok = m.Root("createPeople")
		assert.True(t, ok)
	})

	t.Run("attributes", func(t *testing.T) {
		user, _ := m.Entity("User")
		name, ok := user.Attribute("name")
		require.True(t, ok)
		assert.Equal(t, "displayName", name.Property())
		assert.True(t, name.Type.NonNull)

		joined, _ := user.Attribute("joined")
		assert.Equal(t, schema.KindDateTime, joined.Type.Kind)

		score, _ := user.Attribute("score")
		assert.Equal(t, int64(0), score.Coalesce)
		assert.True(t, score.Type.Kind.Numeric())

		role, _ := user.Attribute("role")
		assert.Equal(t, schema.KindEnum, role.Type.Kind)
		assert.Equal(t, "READER", role.Default)
	})

	t.Run("relationships", func(t *testing.T) {
		user, _ := m.Entity("User")
		posts, ok := user.Relationship("posts")
		require.True(t, ok)
		assert.Equal(t, "HAS_POST", posts.Type)
		assert.Equal(t, schema.DirectionOut, posts.Direction)
		assert.True(t, posts.List)
		assert.Equal(t, "Authored", posts.Properties)
		assert.Equal(t, schema.TargetConcrete, posts.TargetKind)

		fav, _ := user.Relationship("favourite")
		assert.Equal(t, schema.TargetUnion, fav.TargetKind)
		assert.False(t, fav.List)

		post, _ := m.Entity("Post")
		author, _ := post.Relationship("author")
		assert.Equal(t, schema.DirectionIn, author.Direction)
	})

	t.Run("computed and custom resolved", func(t *testing.T) {
		user, _ := m.Entity("User")
		f, ok := user.Field("postCount")
		require.True(t, ok)
		require.Equal(t, schema.FieldComputed, f.Kind)
		assert.Equal(t, "c", f.Computed.ColumnName)
		require.Len(t, f.Computed.Arguments, 2)
		assert.Equal(t, int64(0), f.Computed.Arguments[0].Default)
		assert.True(t, f.Computed.Arguments[0].HasDefault)
		assert.False(t, f.Computed.Arguments[1].HasDefault)

		slug, ok := user.Field("slug")
		require.True(t, ok)
		assert.Equal(t, schema.FieldCustomResolved, slug.Kind)
		assert.Equal(t, []string{"name", "id"}, slug.Custom.Requires)
	})

	t.Run("entity directives", func(t *testing.T) {
		post, _ := m.Entity("Post")
		assert.Equal(t, []string{"Post", "Published"}, post.Labels)
		require.NotNil(t, post.QueryOptions)
		assert.Equal(t, 10, post.QueryOptions.DefaultLimit)
		assert.Equal(t, 100, post.QueryOptions.MaxLimit)
		idx, ok := post.FullTextIndex("PostTitle")
		require.True(t, ok)
		assert.Equal(t, []string{"title"}, idx.Fields)

		secret, _ := post.Attribute("secret")
		require.NotNil(t, secret.Annotations.Authorization)
		rule := secret.Annotations.Authorization.Validate[0]
		assert.Equal(t, []schema.Phase{schema.PhaseBefore}, rule.When)
		assert.NotNil(t, rule.Where.JWT)
	})

	t.Run("composites", func(t *testing.T) {
		content, ok := m.Composite("Content")
		require.True(t, ok)
		assert.Equal(t, []string{"Post"}, content.MemberNames)

		search, _ := m.Composite("Searchable")
		assert.Equal(t, []string{"Post", "User"}, search.MemberNames)
	})
}

func TestParseSchemaRelayID(t *testing.T) {
	m, err := parser.ParseSchemaString(`
type Movie {
  dbId: ID! @relayId
  title: String
}`)
	require.NoError(t, err)
	movie, _ := m.Entity("Movie")
	attr, ok := movie.GlobalIDAttribute()
	require.True(t, ok)
	assert.Equal(t, "dbId", attr.Name)
	f, ok := movie.Field("id")
	require.True(t, ok)
	assert.Equal(t, schema.FieldGlobalID, f.Kind)
}

func TestParseSchemaScopeDefaults(t *testing.T) {
	scopes := schema.DefaultScopes()
	scopes[schema.ScopeAuthorizationFilter] = schema.Scope{Operations: []schema.Operation{schema.OperationRead}}

	m, err := parser.ParseSchemaString(`
type User @authorization(filter: [{ where: { node: { id: "$jwt.sub" } } }]) {
  id: ID!
}`, parser.WithScopeDefaults(scopes))
	require.NoError(t, err)
	user, _ := m.Entity("User")
	rule := user.Annotations.Authorization.Filter[0]
	assert.Equal(t, []schema.Operation{schema.OperationRead}, rule.Operations)
	assert.False(t, rule.RequireAuthentication)
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		sdl  string
	}{
		{"syntax", `type User {`},
		{"unknown directive", `type User @secret { id: ID! }`},
		{"undeclared target", `type User { posts: [Post!]! @relationship(type: "X", direction: OUT) }`},
		{"bad direction", `type Post { id: ID! } type User { posts: [Post!]! @relationship(type: "X", direction: SIDEWAYS) }`},
		{"unknown operation", `type User @authentication(operations: [FLY]) { id: ID! }`},
		{"unknown field in rule", `type User @authorization(filter: [{ where: { node: { owner: "$jwt.sub" } } }]) { id: ID! }`},
		{"relayId with id", `type User { id: ID! key: ID! @relayId }`},
		{"alias collision", `type User { name: String a: String @alias(property: "name") }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.ParseSchemaString(tt.sdl)
			require.Error(t, err)
			assert.True(t, schema.IsInvalidSchemaErr(err), "got %v", err)
		})
	}
}

func TestParseSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte(blogSDL), 0o600))

	m, err := parser.ParseSchema(path)
	require.NoError(t, err)
	assert.Len(t, m.Entities, 2)

	_, err = parser.ParseSchema(filepath.Join(t.TempDir(), "missing.graphql"))
	assert.Error(t, err)
}
