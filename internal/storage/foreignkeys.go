package storage

import (
	"encoding/binary"

	"marcidb/internal/codec"
	"marcidb/internal/schema"
)

// foreignKey is one reference this row's data makes into another model's
// tree; Insert and Update verify every one exists before committing.
type foreignKey struct {
	modelIndex int
	field      string
	id         uint64
}

// collectForeignKeys finds every non-derived ModelRef field that actually
// stored an id (derived fields never store their own foreign key, they
// read it from the other side's index).
func collectForeignKeys(data []byte, fields []schema.Field) []foreignKey {
	var out []foreignKey
	for i := range fields {
		f := &fields[i]
		if f.DerivedFrom != nil || f.Type.Kind != schema.KindModelRef {
			continue
		}
		offset := int(codec.ReadOffset(data, f.OffsetPos))
		if offset == 0 {
			continue
		}
		id := binary.BigEndian.Uint64(data[offset : offset+8])
		out = append(out, foreignKey{modelIndex: f.Type.ModelIndex, field: f.Name, id: id})
	}
	return out
}

// collectStructForeignKeys walks Encode's deferred struct writes the same
// way Insert's own foreign-key pass does: a Connect effect references its
// ids directly, a One/Many effect's own body can reference further models.
func collectStructForeignKeys(structs []codec.StructWrite) []foreignKey {
	var out []foreignKey
	for _, sw := range structs {
		switch sw.Kind {
		case codec.WriteConnect:
			for _, id := range sw.RefIDs {
				out = append(out, foreignKey{modelIndex: sw.RefModelIndex, field: sw.Field.Name, id: id})
			}
		case codec.WriteOne:
			out = append(out, collectForeignKeys(sw.Data, sw.Struct.Fields)...)
		case codec.WriteMany:
			for _, itemData := range sw.ManyData {
				out = append(out, collectForeignKeys(itemData, sw.Struct.Fields)...)
			}
		}
	}
	return out
}

// indexWrite is one join-tree entry Insert must write once the row's id is
// known.
type indexWrite struct {
	treeName string
	key      []byte
}

// collectIndexWrites mirrors every InsertedIndex attached to a field that
// actually stores a value inline: a Direct entry keys itemID++value, a Rev
// entry keys value++itemID, reconstructing the same parent++child layout a
// ModelRefList's explicit connect list would have produced from the other
// side of the relationship.
func collectIndexWrites(data []byte, itemID uint64, shape schema.WithFields) []indexWrite {
	fields := shape.FieldList()
	payloadOffset := shape.PayloadOffsetBytes()
	var out []indexWrite

	for i := range fields {
		f := &fields[i]
		if !f.HasSlot() || len(f.InsertedIndexes) == 0 {
			continue
		}
		offset := int(codec.ReadOffset(data, f.OffsetPos))
		if offset == 0 {
			continue
		}
		end := codec.GetEnd(data, f.OffsetPos, payloadOffset)
		value := data[offset:end]
		itemIDB := idBytes(itemID)

		for _, idx := range f.InsertedIndexes {
			switch idx.Kind {
			case schema.Direct:
				key := make([]byte, 0, len(itemIDB)+len(value))
				key = append(key, itemIDB...)
				key = append(key, value...)
				out = append(out, indexWrite{treeName: idx.TreeName, key: key})
			case schema.Rev:
				key := make([]byte, 0, len(value)+len(itemIDB))
				key = append(key, value...)
				key = append(key, itemIDB...)
				out = append(out, indexWrite{treeName: idx.TreeName, key: key})
			}
		}
	}
	return out
}

// collectIndexWritesMasked is collectIndexWrites restricted to the fields
// changedMask marks as touched: Update diffs the result of calling this
// against the old row and the new partial row to find exactly which index
// entries to drop and which to add, leaving fields the caller didn't touch
// alone.
func collectIndexWritesMasked(data []byte, itemID uint64, shape schema.WithFields, changedMask []bool) []indexWrite {
	fields := shape.FieldList()
	var masked []schema.Field
	for i := range fields {
		f := fields[i]
		if f.HasSlot() && f.OffsetIndex < len(changedMask) && changedMask[f.OffsetIndex] {
			masked = append(masked, f)
		}
	}
	return collectIndexWrites(data, itemID, maskedShape{fields: masked, payloadOffset: shape.PayloadOffsetBytes(), treeName: shape.TreeName(), isModel: shape.IsModel()})
}

// maskedShape adapts a field subset to schema.WithFields so
// collectIndexWrites can be reused unchanged against it.
type maskedShape struct {
	fields        []schema.Field
	payloadOffset int
	treeName      string
	isModel       bool
}

func (m maskedShape) FieldList() []schema.Field { return m.fields }
func (m maskedShape) PayloadOffsetBytes() int   { return m.payloadOffset }
func (m maskedShape) TreeName() string          { return m.treeName }
func (m maskedShape) IsModel() bool             { return m.isModel }
