package codec

import "marcidb/internal/schema"

// BindingKind distinguishes how an Include's value is looked up at read
// time, mirroring the four shapes a field's relation can take.
type BindingKind int

const (
	// BindOne resolves a ModelRef by reading the 8-byte id stored inline
	// at OffsetPos and looking it up in the target model's own tree.
	BindOne BindingKind = iota
	// BindMany resolves a ModelRefList by scanning a join tree keyed
	// "parent_id ++ child_id" for every key with this row's id prefix.
	BindMany
	// BindOneStruct resolves an embedded Struct by looking up this row's
	// id directly in the struct's own tree.
	BindOneStruct
	// BindManyStruct resolves an embedded StructList by scanning the
	// struct's own tree for every key prefixed with this row's id.
	BindManyStruct
	// BindDerivedOne resolves a @derived ModelRef (no header slot of its
	// own) by prefix-scanning its Rev half of the join index for this row's
	// id and taking the one match, the singular counterpart to BindMany.
	BindDerivedOne
)

// Include is one relation or embedded-struct field selected for inclusion.
type Include struct {
	FieldIndex int
	Binding    BindingKind

	// OffsetPos is valid for BindOne: the header slot holding the related
	// row's id.
	OffsetPos int
	// TreeName is valid for BindMany: the join index to scan.
	TreeName string

	// Shape is the related model or struct's field list, payload offset,
	// and tree name, needed to decode what comes back.
	Shape schema.WithFields

	Select *Select
}

// Select is a compiled field mask plus the set of relations/embedded
// structs to resolve alongside it. Bits[0] selects "id"; Bits[i+1]
// corresponds to fields[i].
type Select struct {
	Bits     []bool
	Includes []Include
}

// All returns a Select that includes every primitive field and id, but no
// relation or embedded-struct includes — the selection GET /model/findMany
// uses when the caller supplies no selection tree of its own.
func All(shape schema.WithFields) *Select {
	fields := shape.FieldList()
	bits := make([]bool, len(fields)+1)
	for i := range bits {
		bits[i] = true
	}
	return &Select{Bits: bits}
}

// Parse compiles a client-supplied selection document into a Select. doc
// maps field name to either `true` (include, using All for relations) or
// `{"select": {...}}` (include, recursing Parse for the nested shape).
// `false` or an absent key excludes a field. "id" is included only when
// doc["id"] is literally `true`.
func Parse(shape schema.WithFields, sch *schema.Schema, doc map[string]any) (*Select, error) {
	fields := shape.FieldList()
	bits := make([]bool, len(fields)+1)
	var includes []Include

	if id, ok := doc["id"]; ok {
		if b, ok := id.(bool); ok && b {
			bits[0] = true
		}
	}

	for i := range fields {
		f := &fields[i]
		val, ok := doc[f.Name]
		if !ok {
			continue
		}
		if b, isBool := val.(bool); isBool && !b {
			continue
		}

		switch f.Type.Kind {
		case schema.KindModelRef:
			target := sch.Models[f.Type.ModelIndex]
			childSelect, err := childSelectFor(target, sch, val, f.Name)
			if err != nil {
				return nil, err
			}
			if !f.HasSlot() {
				includes = append(includes, Include{
					FieldIndex: i, Binding: BindDerivedOne, TreeName: revTreeOf(f),
					Shape: target, Select: childSelect,
				})
				continue
			}
			includes = append(includes, Include{
				FieldIndex: i, Binding: BindOne, OffsetPos: f.OffsetPos,
				Shape: target, Select: childSelect,
			})

		case schema.KindModelRefList:
			target := sch.Models[f.Type.ModelIndex]
			childSelect, err := childSelectFor(target, sch, val, f.Name)
			if err != nil {
				return nil, err
			}
			includes = append(includes, Include{
				FieldIndex: i, Binding: BindMany, TreeName: f.SelectIndex,
				Shape: target, Select: childSelect,
			})

		case schema.KindStruct:
			target := f.Type.Struct
			childSelect, err := childSelectFor(target, sch, val, f.Name)
			if err != nil {
				return nil, err
			}
			includes = append(includes, Include{
				FieldIndex: i, Binding: BindOneStruct,
				Shape: target, Select: childSelect,
			})

		case schema.KindStructList:
			target := f.Type.Struct
			childSelect, err := childSelectFor(target, sch, val, f.Name)
			if err != nil {
				return nil, err
			}
			includes = append(includes, Include{
				FieldIndex: i, Binding: BindManyStruct,
				Shape: target, Select: childSelect,
			})

		default:
			bits[i+1] = true
		}
	}

	return &Select{Bits: bits, Includes: includes}, nil
}

// revTreeOf returns the join tree a @derived field's Rev half lives in.
// checkDerivedCompatible guarantees bindDerived gave every derived field at
// least one Rev entry, so the zero-value fallback never actually fires.
func revTreeOf(f *schema.Field) string {
	for _, idx := range f.InsertedIndexes {
		if idx.Kind == schema.Rev {
			return idx.TreeName
		}
	}
	return ""
}

func childSelectFor(target schema.WithFields, sch *schema.Schema, val any, fieldName string) (*Select, error) {
	if b, ok := val.(bool); ok && b {
		return All(target), nil
	}
	m, ok := val.(map[string]any)
	if !ok {
		return nil, &EncodeError{Field: fieldName, Msg: "expected true or {\"select\": {...}}"}
	}
	selRaw, ok := m["select"]
	if !ok {
		return nil, &EncodeError{Field: fieldName, Msg: "missing \"select\""}
	}
	selMap, ok := selRaw.(map[string]any)
	if !ok {
		return nil, &EncodeError{Field: fieldName, Msg: "\"select\" must be an object"}
	}
	return Parse(target, sch, selMap)
}
