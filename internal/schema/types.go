// Package schema parses the line-oriented model/struct/enum schema language
// and resolves it into a fully linked in-memory graph: numeric model and
// field indices, embedded struct tables, and the set of index writes each
// field triggers on insert and update.
package schema

import "fmt"

// PrimitiveType enumerates the scalar field kinds the codec knows how to
// read and write without relying on a nested shape.
type PrimitiveType int

const (
	String PrimitiveType = iota
	Int64
	UInt64
	Float
	Double
	Bool
	DateTime
)

func (p PrimitiveType) String() string {
	switch p {
	case String:
		return "String"
	case Int64:
		return "Int"
	case UInt64:
		return "UInt"
	case Float:
		return "Float"
	case Double:
		return "Double"
	case Bool:
		return "Bool"
	case DateTime:
		return "DateTime"
	default:
		return fmt.Sprintf("PrimitiveType(%d)", int(p))
	}
}

// Kind discriminates the variants of FieldType. Go has no sum types, so a
// resolved Field carries a Kind plus whichever of FieldType's other members
// apply to that kind.
type Kind int

const (
	KindPrimitive Kind = iota
	KindPrimitiveList
	KindModelRef
	KindModelRefList
	KindStruct
	KindStructList

	// kindRefUnresolved and kindRefListUnresolved only ever appear between
	// the parse and link passes; linkTypes always replaces them.
	kindRefUnresolved
	kindRefListUnresolved
)

// FieldType is the resolved (or, transiently, unresolved) type of a Field.
type FieldType struct {
	Kind Kind

	// Primitive is valid for KindPrimitive and KindPrimitiveList.
	Primitive PrimitiveType

	// ModelIndex is valid for KindModelRef and KindModelRefList: the index
	// into Schema.Models of the referenced model.
	ModelIndex int

	// Struct is valid for KindStruct and KindStructList: the embedded
	// struct shape, already carrying its own resolved tree name.
	Struct *Struct

	// StructCounterIdx is valid for KindStructList: the index into the
	// process-wide counter array used to assign local IDs to list elements.
	StructCounterIdx int

	unresolvedName string
}

// IndexKind distinguishes the two halves of a join-tree entry.
type IndexKind int

const (
	// Direct keys an entry parent_id ++ child_id.
	Direct IndexKind = iota
	// Rev keys an entry child_id ++ parent_id.
	Rev
)

// InsertedIndex names one tree write a field triggers on insert/update.
type InsertedIndex struct {
	Kind     IndexKind
	TreeName string
}

// Attribute is a recognized field modifier other than nullability and
// @derived (which is tracked separately via Field.DerivedFrom).
type Attribute int

const (
	AttrIndex Attribute = iota
)

// ModelFieldRef addresses a field by its resolved numeric position.
type ModelFieldRef struct {
	ModelIndex int
	FieldIndex int
}

// Field is one member of a Model or Struct.
type Field struct {
	Name string
	Type FieldType

	// OffsetIndex is this field's 0-based position among the sibling
	// fields that own a header slot; -1 if this field owns no slot
	// (derived fields and list-of-ref/struct fields never do).
	OffsetIndex int
	// OffsetPos is the byte position of this field's offset slot in the
	// document header: 3 + OffsetIndex*4. Meaningless when OffsetIndex<0.
	OffsetPos int

	Nullable        bool
	Attributes      []Attribute
	InsertedIndexes []InsertedIndex

	// SelectIndex names the join tree used to resolve a many-sided include
	// for this field. Only set for KindModelRefList fields.
	SelectIndex string

	// DerivedFrom is set when this field carries @derived(Model.field); it
	// names the field on the other side of the relationship.
	DerivedFrom *ModelFieldRef

	// pendingDerivedModel/Field hold the raw @derived(...) target for the
	// bind pass; empty for fields without @derived. They are left in place
	// after resolution.
	pendingDerivedModel string
	pendingDerivedField string
}

// HasSlot reports whether this field owns a header offset slot.
func (f *Field) HasSlot() bool { return f.OffsetIndex >= 0 }

// WithFields is implemented by both Model and Struct so read/write paths
// can treat either uniformly.
type WithFields interface {
	TreeName() string
	FieldList() []Field
	PayloadOffsetBytes() int
	IsModel() bool
}

// Model is a top-level record type: its own tree, its own ID space.
type Model struct {
	Name          string
	Fields        []Field
	PayloadOffset int
	// CounterIdx indexes into the storage layer's counter array; filled in
	// at startup, not by the resolver (spec.md §3, Model).
	CounterIdx int
}

func (m *Model) TreeName() string         { return m.Name }
func (m *Model) FieldList() []Field       { return m.Fields }
func (m *Model) PayloadOffsetBytes() int  { return m.PayloadOffset }
func (m *Model) IsModel() bool            { return true }

// Struct is a record shape embedded under a parent model or struct; it has
// no identity of its own. Name is the dotted tree name ("Model.field") once
// resolved under a parent field.
type Struct struct {
	Name          string
	Fields        []Field
	PayloadOffset int
}

func (s *Struct) TreeName() string        { return s.Name }
func (s *Struct) FieldList() []Field      { return s.Fields }
func (s *Struct) PayloadOffsetBytes() int { return s.PayloadOffset }
func (s *Struct) IsModel() bool           { return false }

// Enum is a named set of string values. The current resolver accepts enum
// blocks for forward compatibility with the schema language but, like the
// implementation it was distilled from, does not bind them to any field
// type: no [MODULE] in spec.md gives fields an enum type.
type Enum struct {
	Name   string
	Values []string
}

// Schema is the root of the resolved model graph.
type Schema struct {
	Models []*Model
	Enums  []*Enum

	modelByName map[string]int
	fieldByName []map[string]int // indexed by model index
}

// ModelByName returns the model with the given name, or false if absent.
func (s *Schema) ModelByName(name string) (*Model, bool) {
	idx, ok := s.modelByName[name]
	if !ok {
		return nil, false
	}
	return s.Models[idx], true
}

func (s *Schema) field(ref ModelFieldRef) *Field {
	return &s.Models[ref.ModelIndex].Fields[ref.FieldIndex]
}
