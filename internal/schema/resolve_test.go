package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchema_PrimitivesAndOffsets(t *testing.T) {
	src := `
model User {
  name String
  age Int
  bio String?
}
`
	s, err := ParseSchema(src)
	require.NoError(t, err)
	require.Len(t, s.Models, 1)

	u, ok := s.ModelByName("User")
	require.True(t, ok)
	require.Len(t, u.Fields, 3)

	assert.Equal(t, 0, u.Fields[0].OffsetIndex)
	assert.Equal(t, 3, u.Fields[0].OffsetPos)
	assert.Equal(t, 1, u.Fields[1].OffsetIndex)
	assert.Equal(t, 7, u.Fields[1].OffsetPos)
	assert.True(t, u.Fields[2].Nullable)
	assert.Equal(t, 3+3*4, u.PayloadOffset)
}

func TestParseSchema_ModelRefAndEmbeddedStruct(t *testing.T) {
	src := `
struct Address {
  street String
  city String
}

model User {
  name String
  home Address
  bestFriend User?
}
`
	s, err := ParseSchema(src)
	require.NoError(t, err)

	u, ok := s.ModelByName("User")
	require.True(t, ok)

	home := u.Fields[1]
	require.Equal(t, KindStruct, home.Type.Kind)
	assert.Equal(t, "User.home", home.Type.Struct.Name)
	assert.True(t, home.HasSlot())

	friend := u.Fields[2]
	require.Equal(t, KindModelRef, friend.Type.Kind)
	assert.Equal(t, 0, friend.Type.ModelIndex)
	assert.True(t, friend.Nullable)
}

func TestParseSchema_ModelRefListCreatesDirectIndexAndSelectIndex(t *testing.T) {
	src := `
model User {
  name String
  posts Post[]
}

model Post {
  title String
}
`
	s, err := ParseSchema(src)
	require.NoError(t, err)

	u, _ := s.ModelByName("User")
	posts := u.Fields[1]

	require.Equal(t, KindModelRefList, posts.Type.Kind)
	assert.False(t, posts.HasSlot(), "list-of-model fields are virtual and own no header slot")
	require.Len(t, posts.InsertedIndexes, 1)
	assert.Equal(t, Direct, posts.InsertedIndexes[0].Kind)
	assert.Equal(t, "User.posts", posts.InsertedIndexes[0].TreeName)
	assert.Equal(t, "User.posts", posts.SelectIndex)
}

func TestParseSchema_DerivedBindsReciprocalRevIndex(t *testing.T) {
	src := `
model User {
  name String
  posts Post[]
}

model Post {
  title String
  author User @derived(User.posts)
}
`
	s, err := ParseSchema(src)
	require.NoError(t, err)

	user, _ := s.ModelByName("User")
	post, _ := s.ModelByName("Post")

	posts := user.Fields[1]
	require.Len(t, posts.InsertedIndexes, 2)
	kinds := map[IndexKind]bool{}
	for _, idx := range posts.InsertedIndexes {
		kinds[idx.Kind] = true
		assert.Equal(t, "User.posts", idx.TreeName)
	}
	assert.True(t, kinds[Direct])
	assert.True(t, kinds[Rev])

	author := post.Fields[1]
	assert.False(t, author.HasSlot(), "derived fields are computed, never stored inline")
	require.Len(t, author.InsertedIndexes, 1)
	assert.Equal(t, Rev, author.InsertedIndexes[0].Kind)
	assert.Equal(t, "User.posts", author.InsertedIndexes[0].TreeName)
	require.NotNil(t, author.DerivedFrom)
	assert.Equal(t, 0, author.DerivedFrom.ModelIndex)
	assert.Equal(t, 1, author.DerivedFrom.FieldIndex)
}

func TestParseSchema_PrimitiveListOwnsSlot(t *testing.T) {
	src := `
model User {
  tags String[]
}
`
	s, err := ParseSchema(src)
	require.NoError(t, err)
	u, _ := s.ModelByName("User")
	tags := u.Fields[0]
	require.Equal(t, KindPrimitiveList, tags.Type.Kind)
	assert.True(t, tags.HasSlot(), "primitive lists resolve immediately and keep a header slot")
}

func TestParseSchema_UnknownTypeIsAnError(t *testing.T) {
	_, err := ParseSchema(`
model User {
  home Address
}
`)
	require.Error(t, err)
	var unk *UnknownTypeError
	assert.ErrorAs(t, err, &unk)
}

func TestParseSchema_DerivedOnPrimitiveIsAnError(t *testing.T) {
	_, err := ParseSchema(`
model User {
  name String
}
model Post {
  title String
  author String @derived(User.name)
}
`)
	require.Error(t, err)
	var inc *IncompatibleDerivedError
	assert.ErrorAs(t, err, &inc)
}

func TestParseSchema_DerivedNotPointingBackIsAnError(t *testing.T) {
	_, err := ParseSchema(`
model Org {
  name String
}
model User {
  name String
  posts Post[]
}
model Post {
  title String
  author Org @derived(User.posts)
}
`)
	require.Error(t, err)
	var inc *IncompatibleDerivedError
	assert.ErrorAs(t, err, &inc)
}

func TestParseSchema_DuplicateModelNameIsAnError(t *testing.T) {
	_, err := ParseSchema(`
model User {
  name String
}
model User {
  name String
}
`)
	require.Error(t, err)
	var dup *DuplicateNameError
	assert.ErrorAs(t, err, &dup)
}

func TestSchema_TreeNames(t *testing.T) {
	src := `
model User {
  name String
  posts Post[]
}

model Post {
  title String
  author User @derived(User.posts)
}
`
	s, err := ParseSchema(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"Post", "User", "User.posts"}, s.TreeNames())
}
