package codec

import (
	"encoding/binary"

	"marcidb/internal/schema"
)

// ApplyUpdate merges a partial encode (newData, changedMask from Encode)
// into an existing row (old) field by field: unchanged slots are left
// alone, a changed slot's payload is shifted in place and every downstream
// header offset is rewired by the same diff. The result's length is always
// old's length plus the sum of each changed field's length delta (I3: the
// offset table stays monotonically non-decreasing throughout).
func ApplyUpdate(old []byte, newData []byte, changedMask []bool, fields []schema.Field, payloadOffset int) []byte {
	data := append([]byte(nil), old...)

	for i := range fields {
		f := &fields[i]
		if !f.HasSlot() || f.OffsetIndex >= len(changedMask) || !changedMask[f.OffsetIndex] {
			continue
		}
		j := f.OffsetPos

		updateOffset := int(ReadOffset(newData, j))
		offset := int(ReadOffset(data, j))

		if offset == 0 && updateOffset == 0 {
			continue
		}

		end := 0
		if offset != 0 {
			end = GetEnd(data, j, payloadOffset)
		}
		updateEnd := 0
		if updateOffset != 0 {
			updateEnd = GetEnd(newData, j, payloadOffset)
		}
		updateLen := updateEnd - updateOffset
		diff := (updateEnd - updateOffset) - (end - offset)

		if diff == 0 {
			switch {
			case updateOffset == 0:
				clearOffset(data, j)
			case offset == 0:
				// null to a zero-length value: point the slot at its
				// insertion point so it no longer reads as null.
				binary.BigEndian.PutUint32(data[j:j+4], uint32(GetEnd(data, j, payloadOffset)))
			default:
				copy(data[offset:end], newData[updateOffset:updateEnd])
			}
			continue
		}

		end = GetEnd(data, j, payloadOffset)
		newOffset := offset
		if offset == 0 {
			newOffset = end
		}
		newEnd := newOffset + updateLen

		if diff > 0 {
			oldLen := len(data)
			data = append(data, make([]byte, diff)...)
			copy(data[newEnd:], data[end:oldLen])
		} else {
			copy(data[newEnd:], data[end:])
			data = data[:len(data)+diff]
		}

		if updateOffset != updateEnd {
			copy(data[newOffset:newEnd], newData[updateOffset:updateEnd])
		}

		switch {
		case updateOffset == 0:
			clearOffset(data, j)
		case offset == 0:
			binary.BigEndian.PutUint32(data[j:j+4], uint32(newOffset))
		}

		for j2 := j + offsetWidth; j2 < payloadOffset; j2 += offsetWidth {
			if off := ReadOffset(data, j2); off != 0 {
				binary.BigEndian.PutUint32(data[j2:j2+4], uint32(int(off)+diff))
			}
		}
	}

	return data
}

func clearOffset(data []byte, pos int) {
	data[pos], data[pos+1], data[pos+2], data[pos+3] = 0, 0, 0, 0
}
