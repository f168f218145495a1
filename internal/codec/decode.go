package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"marcidb/internal/schema"
)

// IncludeKind discriminates the outcome of resolving one Select.Include.
type IncludeKind int

const (
	IncludeNone IncludeKind = iota
	IncludeOne
	IncludeMany
)

// IncludeResult is one resolved relation or embedded-struct include, ready
// to be spliced into the decoded document under its field name. The
// storage layer builds these by walking Select.Includes and reading the
// related trees; Decode itself never touches storage.
type IncludeResult struct {
	FieldIndex int
	Kind       IncludeKind
	One        map[string]any
	Many       []map[string]any
}

// ReadOffset reads the big-endian offset slot at pos. Exported so the
// storage layer's update and foreign-key-collection passes can read header
// slots without reaching into codec internals.
func ReadOffset(data []byte, pos int) uint32 {
	return binary.BigEndian.Uint32(data[pos : pos+4])
}

// GetEnd returns the end of the field whose offset slot sits at offsetPos:
// the next non-zero offset slot before payloadOffset, or len(data) if none.
// Because the wire format carries no length prefix for variable-length
// fields, this is the only way to know where one ends.
func GetEnd(data []byte, offsetPos, payloadOffset int) int {
	for j := offsetPos + offsetWidth; j < payloadOffset; j += offsetWidth {
		if off := ReadOffset(data, j); off != 0 {
			return int(off)
		}
	}
	return len(data)
}

// Decode renders data (one model or struct row) back into a JSON-shaped
// document. selectBits has one entry per field plus a leading entry for
// "id" (selectBits[0]); fields whose bit is unset are omitted. includes
// carries already-resolved relation/embedded-struct values keyed by field
// index, supplied by the storage layer's read path.
func Decode(data []byte, fields []schema.Field, payloadOffset int, id uint64, selectBits []bool, includes []IncludeResult) (map[string]any, error) {
	if len(data) < headerBase {
		return nil, errBufferTooSmall
	}
	if data[0] != Version {
		return nil, errWrongVersion
	}
	if int(binary.BigEndian.Uint16(data[1:3])) != payloadOffset {
		return nil, errFieldCountMismatch
	}
	if len(data) < payloadOffset {
		return nil, errBufferTooSmall
	}

	obj := make(map[string]any, len(fields)+1)
	if len(selectBits) > 0 && selectBits[0] {
		obj["id"] = id
	}

	for i := range fields {
		f := &fields[i]
		if i+1 < len(selectBits) && !selectBits[i+1] {
			continue
		}
		if f.Type.Kind != schema.KindPrimitive && f.Type.Kind != schema.KindPrimitiveList {
			continue
		}

		offset := int(ReadOffset(data, f.OffsetPos))
		if offset == 0 {
			obj[f.Name] = nil
			continue
		}
		if offset > len(data) {
			return nil, errOffsetOutOfRange
		}

		end := GetEnd(data, f.OffsetPos, payloadOffset)
		if end < offset || end > len(data) {
			return nil, errOffsetOutOfRange
		}

		var (
			val any
			err error
		)
		if f.Type.Kind == schema.KindPrimitiveList {
			val, err = decodeList(f.Type.Primitive, data[offset:end])
		} else {
			val, err = decodeValue(f.Type.Primitive, data[offset:end])
		}
		if err != nil {
			return nil, err
		}
		obj[f.Name] = val
	}

	for _, inc := range includes {
		name := fields[inc.FieldIndex].Name
		switch inc.Kind {
		case IncludeNone:
			obj[name] = nil
		case IncludeOne:
			obj[name] = inc.One
		case IncludeMany:
			if inc.Many == nil {
				obj[name] = []any{}
			} else {
				obj[name] = inc.Many
			}
		}
	}

	return obj, nil
}

func decodeList(prim schema.PrimitiveType, slice []byte) ([]any, error) {
	if len(slice) < 4 {
		return nil, errBufferTooSmall
	}
	count := int(binary.BigEndian.Uint32(slice[0:4]))
	rest := slice[4:]
	out := make([]any, 0, count)

	for i := 0; i < count; i++ {
		if prim == schema.String {
			if len(rest) < 4 {
				return nil, errBufferTooSmall
			}
			elemLen := int(binary.BigEndian.Uint32(rest[0:4]))
			if len(rest) < 4+elemLen {
				return nil, errBufferTooSmall
			}
			v, err := decodeValue(prim, rest[4:4+elemLen])
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			rest = rest[4+elemLen:]
			continue
		}

		width := primitiveWidth(prim)
		if len(rest) < width {
			return nil, errBufferTooSmall
		}
		v, err := decodeValue(prim, rest[:width])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		rest = rest[width:]
	}
	return out, nil
}

func primitiveWidth(prim schema.PrimitiveType) int {
	switch prim {
	case schema.Bool:
		return 1
	case schema.Float:
		return 4
	default:
		return 8
	}
}

func decodeValue(prim schema.PrimitiveType, slice []byte) (any, error) {
	switch prim {
	case schema.String:
		if !utf8.Valid(slice) {
			return nil, errUTF8
		}
		return string(slice), nil
	case schema.DateTime:
		if len(slice) < 8 {
			return nil, errBufferTooSmall
		}
		return int64(binary.BigEndian.Uint64(slice[:8])), nil
	case schema.Int64:
		if len(slice) < 8 {
			return nil, errBufferTooSmall
		}
		return int64(binary.BigEndian.Uint64(slice[:8])), nil
	case schema.UInt64:
		if len(slice) < 8 {
			return nil, errBufferTooSmall
		}
		return binary.BigEndian.Uint64(slice[:8]), nil
	case schema.Float:
		if len(slice) < 4 {
			return nil, errBufferTooSmall
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(slice[:4]))), nil
	case schema.Double:
		if len(slice) < 8 {
			return nil, errBufferTooSmall
		}
		return math.Float64frombits(binary.BigEndian.Uint64(slice[:8])), nil
	case schema.Bool:
		if len(slice) < 1 {
			return nil, errBufferTooSmall
		}
		return slice[0] != 0, nil
	default:
		return nil, errBufferTooSmall
	}
}
