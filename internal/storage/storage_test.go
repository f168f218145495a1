package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcidb/internal/codec"
	"marcidb/internal/schema"
)

func openTestEngine(t *testing.T, src string) *Engine {
	t.Helper()
	sch, err := schema.ParseSchema(src)
	require.NoError(t, err)

	e, err := Open(filepath.Join(t.TempDir(), "test.db"), sch)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestInsertAndGetAll_Primitives(t *testing.T) {
	e := openTestEngine(t, `
model User {
  name String
  age Int
}
`)
	id, err := e.Insert("User", map[string]any{"name": "Ann", "age": float64(20)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	id2, err := e.Insert("User", map[string]any{"name": "Ben", "age": float64(25)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id2)

	model, _ := e.Schema.ModelByName("User")
	rows, err := e.GetAll("User", codec.All(model))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ann", rows[0]["name"])
	assert.Equal(t, uint64(1), rows[0]["id"])
}

func TestInsert_ForeignKeyViolation(t *testing.T) {
	e := openTestEngine(t, `
model Org {
  name String
}
model User {
  name String
  org Org
}
`)
	_, err := e.Insert("User", map[string]any{"name": "Ann", "org": map[string]any{"id": float64(99)}})
	require.Error(t, err)
	var fk *ForeignKeyViolationError
	assert.ErrorAs(t, err, &fk)
}

func TestInsert_ModelRefResolvesViaBindOne(t *testing.T) {
	e := openTestEngine(t, `
model Org {
  name String
}
model User {
  name String
  org Org
}
`)
	orgID, err := e.Insert("Org", map[string]any{"name": "Acme"})
	require.NoError(t, err)

	_, err = e.Insert("User", map[string]any{"name": "Ann", "org": map[string]any{"id": float64(orgID)}})
	require.NoError(t, err)

	model, sch := func() (*schema.Model, *schema.Schema) { m, _ := e.Schema.ModelByName("User"); return m, e.Schema }()
	sel, err := codec.Parse(model, sch, map[string]any{"name": true, "org": true})
	require.NoError(t, err)

	rows, err := e.GetAll("User", sel)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	org, ok := rows[0]["org"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Acme", org["name"])
}

func TestInsert_ModelRefListAndDerivedBindMany(t *testing.T) {
	e := openTestEngine(t, `
model User {
  name String
  posts Post[]
}
model Post {
  title String
  author User @derived(User.posts)
}
`)
	userID, err := e.Insert("User", map[string]any{"name": "Ann"})
	require.NoError(t, err)

	_, err = e.Insert("Post", map[string]any{
		"title":  "Hello",
		"author": map[string]any{"id": float64(userID)},
	})
	require.NoError(t, err)

	userModel, _ := e.Schema.ModelByName("User")
	sel, err := codec.Parse(userModel, e.Schema, map[string]any{"name": true, "posts": true})
	require.NoError(t, err)

	rows, err := e.GetAll("User", sel)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	posts, ok := rows[0]["posts"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, posts, 1)
	assert.Equal(t, "Hello", posts[0]["title"])
}

func TestUpdate_GrowsFieldAndPreservesOthers(t *testing.T) {
	e := openTestEngine(t, `
model User {
  name String
  age Int
}
`)
	id, err := e.Insert("User", map[string]any{"name": "Al", "age": float64(9)})
	require.NoError(t, err)

	err = e.Update("User", id, map[string]any{"name": "Alexandria"})
	require.NoError(t, err)

	doc, found, err := e.GetRaw("User", id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Alexandria", doc["name"])
	assert.Equal(t, int64(9), doc["age"])
}

func TestUpdate_RelinksModelRefList(t *testing.T) {
	e := openTestEngine(t, `
model User {
  name String
  posts Post[]
}
model Post {
  title String
  author User @derived(User.posts)
}
`)
	userA, err := e.Insert("User", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	userB, err := e.Insert("User", map[string]any{"name": "Bea"})
	require.NoError(t, err)
	postID, err := e.Insert("Post", map[string]any{
		"title":  "Hello",
		"author": map[string]any{"id": float64(userA)},
	})
	require.NoError(t, err)

	err = e.Update("User", userA, map[string]any{
		"posts": []any{},
	})
	require.NoError(t, err)
	err = e.Update("User", userB, map[string]any{
		"posts": []any{map[string]any{"id": float64(postID)}},
	})
	require.NoError(t, err)

	userModel, _ := e.Schema.ModelByName("User")
	selA, err := codec.Parse(userModel, e.Schema, map[string]any{"name": true, "posts": true})
	require.NoError(t, err)
	rows, err := e.GetAll("User", selA)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		if row["id"] == userA {
			assert.Empty(t, row["posts"], "userA's old connection should have been removed")
		}
		if row["id"] == userB {
			posts := row["posts"].([]map[string]any)
			require.Len(t, posts, 1)
			assert.Equal(t, "Hello", posts[0]["title"])
		}
	}

	postModel, _ := e.Schema.ModelByName("Post")
	selPost, err := codec.Parse(postModel, e.Schema, map[string]any{"title": true, "author": true})
	require.NoError(t, err)
	postRows, err := e.GetAll("Post", selPost)
	require.NoError(t, err)
	require.Len(t, postRows, 1)
	author, ok := postRows[0]["author"].(map[string]any)
	require.True(t, ok, "author should resolve via BindDerivedOne after the relink")
	assert.Equal(t, uint64(userB), author["id"])
}

func TestUpdate_EmbeddedStructMergesRatherThanOverwrites(t *testing.T) {
	e := openTestEngine(t, `
struct Address {
  street String
  city String
}
model User {
  name String
  home Address
}
`)
	id, err := e.Insert("User", map[string]any{
		"name": "Ann",
		"home": map[string]any{"street": "1 Main St", "city": "Oslo"},
	})
	require.NoError(t, err)

	err = e.Update("User", id, map[string]any{
		"home": map[string]any{"city": "Bergen"},
	})
	require.NoError(t, err)

	model, _ := e.Schema.ModelByName("User")
	sel, err := codec.Parse(model, e.Schema, map[string]any{"home": true})
	require.NoError(t, err)
	rows, err := e.GetAll("User", sel)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	home := rows[0]["home"].(map[string]any)
	assert.Equal(t, "Bergen", home["city"])
	assert.Equal(t, "1 Main St", home["street"], "fields absent from the update doc must survive the merge")
}

func TestUpdate_ItemNotFound(t *testing.T) {
	e := openTestEngine(t, `
model User {
  name String
}
`)
	err := e.Update("User", 42, map[string]any{"name": "x"})
	require.Error(t, err)
	var nf *ItemNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDelete(t *testing.T) {
	e := openTestEngine(t, `
model User {
  name String
}
`)
	id, err := e.Insert("User", map[string]any{"name": "Ann"})
	require.NoError(t, err)

	ok, err := e.Delete("User", id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Delete("User", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsert_EmbeddedStruct(t *testing.T) {
	e := openTestEngine(t, `
struct Address {
  city String
}
model User {
  name String
  home Address
}
`)
	id, err := e.Insert("User", map[string]any{
		"name": "Ann",
		"home": map[string]any{"city": "Oslo"},
	})
	require.NoError(t, err)

	model, _ := e.Schema.ModelByName("User")
	sel, err := codec.Parse(model, e.Schema, map[string]any{"name": true, "home": true})
	require.NoError(t, err)

	rows, err := e.GetAll("User", sel)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(id), rows[0]["id"])
	home, ok := rows[0]["home"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Oslo", home["city"])
}
