package schema

import "sort"

// ParseSchema parses and fully resolves a schema source file: the line
// scanner (parse), type-name linking with auto-created join indexes (link),
// and @derived back-reference binding (bind). Errors from any pass abort
// resolution.
func ParseSchema(input string) (*Schema, error) {
	pi, err := parseSchemaText(input)
	if err != nil {
		return nil, err
	}

	s := &Schema{modelByName: make(map[string]int)}
	for _, rb := range pi.models {
		m := &Model{Name: rb.name}
		m.Fields, m.PayloadOffset = assignOffsets(rb.fields)
		s.Models = append(s.Models, m)
	}
	s.Enums = pi.enums

	for i, m := range s.Models {
		s.modelByName[m.Name] = i
	}
	s.fieldByName = make([]map[string]int, len(s.Models))
	for i, m := range s.Models {
		fm := make(map[string]int, len(m.Fields))
		for j, f := range m.Fields {
			fm[f.Name] = j
		}
		s.fieldByName[i] = fm
	}

	structByName := make(map[string]rawBlock, len(pi.structs))
	for name, rb := range pi.structs {
		structByName[name] = rb
	}

	if err := s.linkTypes(pi, structByName); err != nil {
		return nil, err
	}
	if err := s.bindDerived(pi); err != nil {
		return nil, err
	}

	return s, nil
}

// assignOffsets mirrors the distilled offset-assignment rule: a field owns
// a header slot unless it is virtual (a list of models/structs) or derived
// (@derived fields are computed from the other side of a relationship and
// never stored on this one).
func assignOffsets(raw []rawField) ([]Field, int) {
	fields := make([]Field, len(raw))
	offsetIndex := 0
	for i, rf := range raw {
		f := Field{
			Name:     rf.name,
			Nullable: rf.nullable,
		}
		if rf.attrIndex {
			f.Attributes = append(f.Attributes, AttrIndex)
		}

		switch {
		case rf.isPrimitive && rf.isList:
			f.Type = FieldType{Kind: KindPrimitiveList, Primitive: rf.primitive}
		case rf.isPrimitive:
			f.Type = FieldType{Kind: KindPrimitive, Primitive: rf.primitive}
		case rf.isList:
			f.Type = FieldType{Kind: kindRefListUnresolved, unresolvedName: rf.listElem}
		default:
			f.Type = FieldType{Kind: kindRefUnresolved, unresolvedName: rf.listElem}
		}

		isDerived := rf.hasDerived
		isVirtual := rf.isVirtual()

		f.OffsetIndex = -1
		if !isVirtual && !isDerived {
			f.OffsetIndex = offsetIndex
			f.OffsetPos = 3 + offsetIndex*4
			offsetIndex++
		}

		fields[i] = f
		fields[i].pendingDerivedModel, fields[i].pendingDerivedField = rf.derivedModel, rf.derivedField
	}
	payloadOffset := 3 + offsetIndex*4
	return fields, payloadOffset
}

// linkTypes resolves kindRefUnresolved/kindRefListUnresolved type names into
// Struct/ModelRef/StructList/ModelRefList, naming embedded struct trees
// "Model.field" and auto-creating the Direct join index (plus its
// SelectIndex) a ModelRefList field needs to resolve its many-side include.
func (s *Schema) linkTypes(pi *parseInput, structs map[string]rawBlock) error {
	structCounter := 0
	for mi, m := range s.Models {
		for fi := range m.Fields {
			f := &m.Fields[fi]
			switch f.Type.Kind {
			case kindRefUnresolved:
				name := f.Type.unresolvedName
				if rb, ok := structs[name]; ok {
					st, err := s.buildStruct(rb, m.Name+"."+f.Name)
					if err != nil {
						return err
					}
					f.Type = FieldType{Kind: KindStruct, Struct: st}
				} else if idx, ok := s.modelByName[name]; ok {
					f.Type = FieldType{Kind: KindModelRef, ModelIndex: idx}
				} else {
					return &UnknownTypeError{Model: m.Name, Field: f.Name, Type: name}
				}
			case kindRefListUnresolved:
				name := f.Type.unresolvedName
				if rb, ok := structs[name]; ok {
					st, err := s.buildStruct(rb, m.Name+"."+f.Name)
					if err != nil {
						return err
					}
					f.Type = FieldType{Kind: KindStructList, Struct: st, StructCounterIdx: structCounter}
					structCounter++
				} else if idx, ok := s.modelByName[name]; ok {
					treeName := m.Name + "." + f.Name
					f.Type = FieldType{Kind: KindModelRefList, ModelIndex: idx}
					f.InsertedIndexes = append(f.InsertedIndexes, InsertedIndex{Kind: Direct, TreeName: treeName})
					f.SelectIndex = treeName
				} else {
					return &UnknownTypeError{Model: m.Name, Field: f.Name, Type: name}
				}
			}
			_ = mi
		}
	}
	return nil
}

// buildStruct resolves the fields of one embedded struct placed under
// treeName. Only references to models are resolved here: a struct field
// whose type names another struct (single or list) is reported as an
// UnknownTypeError, so embedded structs are never nested inside each other.
func (s *Schema) buildStruct(rb rawBlock, treeName string) (*Struct, error) {
	fields, payloadOffset := assignOffsets(rb.fields)
	for i := range fields {
		f := &fields[i]
		switch f.Type.Kind {
		case kindRefUnresolved:
			name := f.Type.unresolvedName
			if idx, ok := s.modelByName[name]; ok {
				f.Type = FieldType{Kind: KindModelRef, ModelIndex: idx}
			} else {
				return nil, &UnknownTypeError{Model: treeName, Field: f.Name, Type: name}
			}
		case kindRefListUnresolved:
			name := f.Type.unresolvedName
			if idx, ok := s.modelByName[name]; ok {
				innerTree := treeName + "." + f.Name
				f.Type = FieldType{Kind: KindModelRefList, ModelIndex: idx}
				f.InsertedIndexes = append(f.InsertedIndexes, InsertedIndex{Kind: Direct, TreeName: innerTree})
				f.SelectIndex = innerTree
			} else {
				return nil, &UnknownTypeError{Model: treeName, Field: f.Name, Type: name}
			}
		}
	}
	return &Struct{Name: treeName, Fields: fields, PayloadOffset: payloadOffset}, nil
}

// bindDerived resolves every @derived(Model.field) attribute into a
// ModelFieldRef, then, for each distinct field pair bound this way, mirrors
// each side's Direct inserted indexes onto the other side as Rev indexes:
// a ModelRefList field's Direct(parent_id++child_id) index lets its
// @derived counterpart look up the parent via Rev(child_id++parent_id) on
// the very same tree, with no extra storage.
func (s *Schema) bindDerived(pi *parseInput) error {
	type pair struct{ a, b ModelFieldRef }
	seen := make(map[pair]bool)
	var pairs []pair

	for mi, m := range s.Models {
		for fi := range m.Fields {
			f := &m.Fields[fi]
			if f.pendingDerivedModel == "" {
				continue
			}
			targetModelIdx, ok := s.modelByName[f.pendingDerivedModel]
			if !ok {
				return &UnknownDerivedTargetError{Model: m.Name, Field: f.Name, Ref: f.pendingDerivedModel + "." + f.pendingDerivedField}
			}
			targetFieldIdx, ok := s.fieldByName[targetModelIdx][f.pendingDerivedField]
			if !ok {
				return &UnknownDerivedTargetError{Model: m.Name, Field: f.Name, Ref: f.pendingDerivedModel + "." + f.pendingDerivedField}
			}
			targetField := &s.Models[targetModelIdx].Fields[targetFieldIdx]
			if err := checkDerivedCompatible(m.Name, f, targetModelIdx, mi, targetField); err != nil {
				return err
			}
			here := ModelFieldRef{ModelIndex: mi, FieldIndex: fi}
			there := ModelFieldRef{ModelIndex: targetModelIdx, FieldIndex: targetFieldIdx}
			f.DerivedFrom = &there

			p := canonicalPair(here, there)
			if !seen[p] {
				seen[p] = true
				pairs = append(pairs, p)
			}
		}
	}

	for _, p := range pairs {
		fa := s.field(p.a)
		fb := s.field(p.b)
		// Mirror BOTH sides' Direct indexes, as Rev, onto BOTH fields. A plain
		// ModelRefList side already owns a Direct entry and needs the Rev
		// mirror of itself too: writing a connect from that side must leave
		// behind both physical key orientations (parent++child and
		// child++parent) in the same tree, so either side can prefix-scan
		// straight to a match without a secondary index or table scan.
		revBoth := append(revOf(fa.InsertedIndexes), revOf(fb.InsertedIndexes)...)
		fa.InsertedIndexes = append(fa.InsertedIndexes, revBoth...)
		fb.InsertedIndexes = append(fb.InsertedIndexes, revBoth...)
	}

	return nil
}

// checkDerivedCompatible verifies that f (on the model named mName, owned by
// model index mIdx) and its @derived target targetField can form a
// Direct/Rev join-index pair: both ends must reference a model (a scalar
// ModelRef or a ModelRefList, never a primitive or an embedded struct),
// each end's ModelIndex must point back at the other's owning model, and at
// least one end must be a ModelRefList, whose Direct index is the join tree
// the pair shares.
func checkDerivedCompatible(mName string, f *Field, targetModelIdx, mIdx int, targetField *Field) error {
	if !isModelReference(f.Type.Kind) || !isModelReference(targetField.Type.Kind) {
		return &IncompatibleDerivedError{Model: mName, Field: f.Name, Msg: "@derived requires both ends to reference a model, not a primitive or struct"}
	}
	if f.Type.ModelIndex != targetModelIdx {
		return &IncompatibleDerivedError{Model: mName, Field: f.Name, Msg: "@derived field does not reference the target's model"}
	}
	if targetField.Type.ModelIndex != mIdx {
		return &IncompatibleDerivedError{Model: mName, Field: f.Name, Msg: "@derived target does not reference this field's model back"}
	}
	if f.Type.Kind == KindModelRef && targetField.Type.Kind == KindModelRef {
		return &IncompatibleDerivedError{Model: mName, Field: f.Name, Msg: "@derived between two scalar refs has no join index to share; one end must be a list"}
	}
	return nil
}

func isModelReference(k Kind) bool {
	return k == KindModelRef || k == KindModelRefList
}

func canonicalPair(a, b ModelFieldRef) struct{ a, b ModelFieldRef } {
	if less(b, a) {
		a, b = b, a
	}
	return struct{ a, b ModelFieldRef }{a, b}
}

func less(x, y ModelFieldRef) bool {
	if x.ModelIndex != y.ModelIndex {
		return x.ModelIndex < y.ModelIndex
	}
	return x.FieldIndex < y.FieldIndex
}

func revOf(indexes []InsertedIndex) []InsertedIndex {
	var out []InsertedIndex
	for _, idx := range indexes {
		if idx.Kind == Direct {
			out = append(out, InsertedIndex{Kind: Rev, TreeName: idx.TreeName})
		}
	}
	return out
}

// TreeNames returns every tree name the schema will create, sorted: one per
// model, one per struct encountered as a nested field, and one per join
// index. Used by the "schema trees" CLI subcommand.
func (s *Schema) TreeNames() []string {
	set := make(map[string]bool)
	for _, m := range s.Models {
		set[m.Name] = true
		collectTreeNames(m.Fields, set)
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func collectTreeNames(fields []Field, set map[string]bool) {
	for _, f := range fields {
		for _, idx := range f.InsertedIndexes {
			set[idx.TreeName] = true
		}
		switch f.Type.Kind {
		case KindStruct, KindStructList:
			if f.Type.Struct != nil {
				set[f.Type.Struct.Name] = true
				collectTreeNames(f.Type.Struct.Fields, set)
			}
		}
	}
}
