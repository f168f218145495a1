package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcidb/internal/schema"
)

func mustSchema(t *testing.T, src string) *schema.Schema {
	t.Helper()
	s, err := schema.ParseSchema(src)
	require.NoError(t, err)
	return s
}

func TestEncode_SimpleDocument(t *testing.T) {
	s := mustSchema(t, `
model User {
  name String
  age Int
}
`)
	user, ok := s.ModelByName("User")
	require.True(t, ok)

	doc := map[string]any{
		"name": "Alice",
		"age":  float64(30),
	}
	data, mask, structs, err := Encode(user, doc)
	require.NoError(t, err)
	assert.Empty(t, structs)
	assert.True(t, mask[0])
	assert.True(t, mask[1])

	assert.Equal(t, Version, data[0])

	nameOffset := int(ReadOffset(data, user.Fields[0].OffsetPos))
	ageOffset := int(ReadOffset(data, user.Fields[1].OffsetPos))
	assert.Equal(t, user.PayloadOffset, nameOffset)

	nameEnd := GetEnd(data, user.Fields[0].OffsetPos, user.PayloadOffset)
	assert.Equal(t, "Alice", string(data[nameOffset:nameEnd]))

	ageEnd := GetEnd(data, user.Fields[1].OffsetPos, user.PayloadOffset)
	v, err := decodeValue(schema.Int64, data[ageOffset:ageEnd])
	require.NoError(t, err)
	assert.Equal(t, int64(30), v)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := mustSchema(t, `
model User {
  name String
  age Int
  active Bool
  tags String[]
}
`)
	user, _ := s.ModelByName("User")

	doc := map[string]any{
		"name":   "Bob",
		"age":    float64(42),
		"active": true,
		"tags":   []any{"a", "bb", "ccc"},
	}
	data, _, _, err := Encode(user, doc)
	require.NoError(t, err)

	sel := All(user)
	out, err := Decode(data, user.Fields, user.PayloadOffset, 7, sel.Bits, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), out["id"])
	assert.Equal(t, "Bob", out["name"])
	assert.Equal(t, int64(42), out["age"])
	assert.Equal(t, true, out["active"])
	assert.Equal(t, []any{"a", "bb", "ccc"}, out["tags"])
}

func TestEncode_NullPrimitiveKeepsOffsetZero(t *testing.T) {
	s := mustSchema(t, `
model User {
  name String
  bio String?
}
`)
	user, _ := s.ModelByName("User")
	data, mask, _, err := Encode(user, map[string]any{"name": "Eve", "bio": nil})
	require.NoError(t, err)
	assert.True(t, mask[1])
	assert.Equal(t, uint32(0), ReadOffset(data, user.Fields[1].OffsetPos))
}

func TestApplyUpdate_SameLengthOverwrite(t *testing.T) {
	s := mustSchema(t, `
model User {
  name String
  age Int
}
`)
	user, _ := s.ModelByName("User")
	old, _, _, err := Encode(user, map[string]any{"name": "Carl", "age": float64(1)})
	require.NoError(t, err)

	patch, mask, _, err := Encode(user, map[string]any{"age": float64(2)})
	require.NoError(t, err)

	updated := ApplyUpdate(old, patch, mask, user.Fields, user.PayloadOffset)
	assert.Equal(t, len(old), len(updated), "same-width primitive update must not change buffer length")

	sel := All(user)
	out, err := Decode(updated, user.Fields, user.PayloadOffset, 1, sel.Bits, nil)
	require.NoError(t, err)
	assert.Equal(t, "Carl", out["name"])
	assert.Equal(t, int64(2), out["age"])
}

func TestApplyUpdate_GrowingFieldShiftsSuffixAndRewiresOffsets(t *testing.T) {
	s := mustSchema(t, `
model User {
  name String
  age Int
}
`)
	user, _ := s.ModelByName("User")
	old, _, _, err := Encode(user, map[string]any{"name": "Al", "age": float64(9)})
	require.NoError(t, err)

	patch, mask, _, err := Encode(user, map[string]any{"name": "Alexandria"})
	require.NoError(t, err)

	updated := ApplyUpdate(old, patch, mask, user.Fields, user.PayloadOffset)
	assert.Equal(t, len(old)+len("Alexandria")-len("Al"), len(updated))

	sel := All(user)
	out, err := Decode(updated, user.Fields, user.PayloadOffset, 1, sel.Bits, nil)
	require.NoError(t, err)
	assert.Equal(t, "Alexandria", out["name"])
	assert.Equal(t, int64(9), out["age"], "fields after the grown one must stay intact once offsets are rewired")
}

func TestParseSelect_ExcludesFieldByDefault(t *testing.T) {
	s := mustSchema(t, `
model User {
  name String
  age Int
}
`)
	user, _ := s.ModelByName("User")
	sel, err := Parse(user, s, map[string]any{"name": true})
	require.NoError(t, err)
	assert.True(t, sel.Bits[1])
	assert.False(t, sel.Bits[2])
}

func TestParseSelect_ModelRefInclude(t *testing.T) {
	s := mustSchema(t, `
model Org {
  name String
}
model User {
  name String
  org Org
}
`)
	user, _ := s.ModelByName("User")
	sel, err := Parse(user, s, map[string]any{"org": true})
	require.NoError(t, err)
	require.Len(t, sel.Includes, 1)
	assert.Equal(t, BindOne, sel.Includes[0].Binding)
}

func TestParseSelect_ModelRefListUsesBindMany(t *testing.T) {
	s := mustSchema(t, `
model User {
  name String
  posts Post[]
}
model Post {
  title String
}
`)
	user, _ := s.ModelByName("User")
	sel, err := Parse(user, s, map[string]any{"posts": true})
	require.NoError(t, err)
	require.Len(t, sel.Includes, 1)
	assert.Equal(t, BindMany, sel.Includes[0].Binding)
	assert.Equal(t, "User.posts", sel.Includes[0].TreeName)
}
