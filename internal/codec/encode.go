package codec

import (
	"encoding/binary"
	"math"
	"time"

	"marcidb/internal/schema"
)

// WriteKind discriminates the variants of StructWrite, one per shape a
// field's nested data can take once it has been pulled out of the parent
// buffer (embedded structs and relation lists are never stored inline).
type WriteKind int

const (
	WriteNone WriteKind = iota
	WriteEmpty
	WriteOne
	WriteMany
	WriteConnect
)

// StructWrite is one deferred write Encode produces alongside the parent
// buffer: an embedded struct's own row, a list of them, or the set of ids a
// relation-list field should connect via its join index. The storage layer
// applies these after verifying foreign keys.
type StructWrite struct {
	Kind WriteKind

	Struct *schema.Struct // None, Empty, One, Many

	Data         []byte   // One
	Mask         []bool   // One: which of Struct's header slots Data actually set
	ManyData     [][]byte // Many, one encoded row per element
	CounterIdx   int      // Many

	Field         *schema.Field // Connect
	RefModelIndex int           // Connect
	RefIDs        []uint64      // Connect
}

// Encode renders doc into shape's binary layout: a version byte, a
// big-endian payload-offset, one big-endian offset slot per header field,
// then the field payload appended in field order. Fields absent from doc,
// or explicitly null, are left at offset 0. Embedded structs and relation
// lists never write payload into this buffer (an embedded struct's header
// slot stays 0); they come back as StructWrite entries for the caller to
// persist in their own trees.
//
// changedMask has one entry per header slot (indexed by Field.OffsetIndex)
// and records which slots Encode actually touched; Update uses it to tell
// "explicitly set to null" apart from "absent from the partial document".
func Encode(shape schema.WithFields, doc map[string]any) ([]byte, []bool, []StructWrite, error) {
	fields := shape.FieldList()
	payloadOffset := shape.PayloadOffsetBytes()

	buf := make([]byte, payloadOffset, payloadOffset+128)
	buf[0] = Version
	binary.BigEndian.PutUint16(buf[1:3], uint16(payloadOffset))

	initialSize := len(buf)

	numSlots := 0
	for _, f := range fields {
		if f.HasSlot() && f.OffsetIndex+1 > numSlots {
			numSlots = f.OffsetIndex + 1
		}
	}
	changedMask := make([]bool, numSlots)

	var structs []StructWrite

	for i := range fields {
		f := &fields[i]
		val, present := doc[f.Name]
		if !present {
			continue
		}

		if val == nil {
			switch f.Type.Kind {
			case schema.KindStruct:
				structs = append(structs, StructWrite{Kind: WriteNone, Struct: f.Type.Struct})
			case schema.KindStructList:
				return nil, nil, nil, errTypeMismatch(f.Name, "Array")
			case schema.KindModelRefList:
				return nil, nil, nil, errTypeMismatch(f.Name, "Array<{id: uint64}>")
			default:
				if f.HasSlot() {
					changedMask[f.OffsetIndex] = true
				}
			}
			continue
		}

		switch f.Type.Kind {
		case schema.KindPrimitive:
			changedMask[f.OffsetIndex] = true
			writeOffsetAt(buf, f.OffsetPos, len(buf))
			if err := encodeValue(&buf, f.Type.Primitive, f.Name, val); err != nil {
				return nil, nil, nil, err
			}

		case schema.KindPrimitiveList:
			changedMask[f.OffsetIndex] = true
			arr, ok := val.([]any)
			if !ok {
				return nil, nil, nil, errTypeMismatch(f.Name, "Array")
			}
			writeOffsetAt(buf, f.OffsetPos, len(buf))
			if err := encodeList(&buf, f.Type.Primitive, f.Name, arr); err != nil {
				return nil, nil, nil, err
			}

		case schema.KindModelRef:
			obj, ok := val.(map[string]any)
			if !ok {
				return nil, nil, nil, errTypeMismatch(f.Name, "object")
			}
			idVal, ok := obj["id"]
			if !ok {
				return nil, nil, nil, errTypeMismatch(f.Name, "{id: uint64}")
			}
			if !f.HasSlot() {
				// A @derived ModelRef never stores its own id inline; it is
				// resolved by reading the Rev side of its join index. Setting
				// it is a one-element connect against that index, the same
				// way a ModelRefList field connects many.
				refID, ok := asUint64(idVal)
				if !ok {
					return nil, nil, nil, errTypeMismatch(f.Name, "{id: uint64}")
				}
				structs = append(structs, StructWrite{Kind: WriteConnect, Field: f, RefModelIndex: f.Type.ModelIndex, RefIDs: []uint64{refID}})
				continue
			}
			changedMask[f.OffsetIndex] = true
			writeOffsetAt(buf, f.OffsetPos, len(buf))
			if err := encodeValue(&buf, schema.UInt64, f.Name, idVal); err != nil {
				return nil, nil, nil, err
			}

		case schema.KindModelRefList:
			arr, ok := val.([]any)
			if !ok {
				return nil, nil, nil, errTypeMismatch(f.Name, "Array<{id: uint64}>")
			}
			ids := make([]uint64, len(arr))
			for idx, item := range arr {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, nil, nil, errTypeMismatch(f.Name, "{id: uint64}")
				}
				id, ok := asUint64(obj["id"])
				if !ok {
					return nil, nil, nil, errTypeMismatch(f.Name, "{id: uint64}")
				}
				ids[idx] = id
			}
			structs = append(structs, StructWrite{Kind: WriteConnect, Field: f, RefModelIndex: f.Type.ModelIndex, RefIDs: ids})

		case schema.KindStruct:
			obj, ok := val.(map[string]any)
			if !ok {
				return nil, nil, nil, errTypeMismatch(f.Name, "object")
			}
			data, innerMask, childStructs, err := Encode(f.Type.Struct, obj)
			if err != nil {
				return nil, nil, nil, err
			}
			structs = append(structs, childStructs...)
			structs = append(structs, StructWrite{Kind: WriteOne, Struct: f.Type.Struct, Data: data, Mask: innerMask})

		case schema.KindStructList:
			arr, ok := val.([]any)
			if !ok {
				return nil, nil, nil, errTypeMismatch(f.Name, "Array")
			}
			if len(arr) == 0 {
				structs = append(structs, StructWrite{Kind: WriteEmpty, Struct: f.Type.Struct})
				continue
			}
			manyData := make([][]byte, 0, len(arr))
			for _, item := range arr {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, nil, nil, errTypeMismatch(f.Name, "Array<object>")
				}
				data, _, childStructs, err := Encode(f.Type.Struct, obj)
				if err != nil {
					return nil, nil, nil, err
				}
				structs = append(structs, childStructs...)
				manyData = append(manyData, data)
			}
			structs = append(structs, StructWrite{Kind: WriteMany, Struct: f.Type.Struct, ManyData: manyData, CounterIdx: f.Type.StructCounterIdx})
		}
	}

	if len(buf) == initialSize && len(structs) == 0 {
		return nil, nil, nil, errEmptyObject()
	}

	return buf, changedMask, structs, nil
}

func writeOffsetAt(buf []byte, pos, value int) {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(value))
}

func encodeList(buf *[]byte, prim schema.PrimitiveType, fieldName string, arr []any) error {
	countPos := len(*buf)
	*buf = append(*buf, 0, 0, 0, 0)
	binary.BigEndian.PutUint32((*buf)[countPos:countPos+4], uint32(len(arr)))
	for _, v := range arr {
		if prim == schema.String {
			s, ok := v.(string)
			if !ok {
				return errTypeMismatch(fieldName, "string")
			}
			lenPos := len(*buf)
			*buf = append(*buf, 0, 0, 0, 0)
			binary.BigEndian.PutUint32((*buf)[lenPos:lenPos+4], uint32(len(s)))
			*buf = append(*buf, s...)
			continue
		}
		if err := encodeValue(buf, prim, fieldName, v); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(buf *[]byte, prim schema.PrimitiveType, fieldName string, v any) error {
	switch prim {
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return errTypeMismatch(fieldName, "string")
		}
		*buf = append(*buf, s...)
	case schema.DateTime:
		epoch, ok := asEpochMillis(v)
		if !ok {
			return errTypeMismatch(fieldName, "int64 (epoch ms) or ISO-8601 string")
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(epoch))
		*buf = append(*buf, tmp[:]...)
	case schema.Int64:
		n, ok := asInt64(v)
		if !ok {
			return errTypeMismatch(fieldName, "int64")
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(n))
		*buf = append(*buf, tmp[:]...)
	case schema.UInt64:
		n, ok := asUint64(v)
		if !ok {
			return errTypeMismatch(fieldName, "uint64")
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], n)
		*buf = append(*buf, tmp[:]...)
	case schema.Float:
		f, ok := asFloat64(v)
		if !ok {
			return errTypeMismatch(fieldName, "float")
		}
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], math.Float32bits(float32(f)))
		*buf = append(*buf, tmp[:]...)
	case schema.Double:
		f, ok := asFloat64(v)
		if !ok {
			return errTypeMismatch(fieldName, "double")
		}
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
		*buf = append(*buf, tmp[:]...)
	case schema.Bool:
		b, ok := v.(bool)
		if !ok {
			return errTypeMismatch(fieldName, "bool")
		}
		if b {
			*buf = append(*buf, 1)
		} else {
			*buf = append(*buf, 0)
		}
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asEpochMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		t, err := time.Parse(time.RFC3339, n)
		if err != nil {
			return 0, false
		}
		return t.UnixMilli(), true
	default:
		return 0, false
	}
}
