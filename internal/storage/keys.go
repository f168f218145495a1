package storage

import (
	"encoding/binary"

	"go.etcd.io/bbolt"
)

// idBytes renders a row id as the big-endian 8-byte key models and struct
// trees use.
func idBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

// compositeKey renders a join-tree or struct-list key: two 8-byte
// big-endian components concatenated, "a ++ b".
func compositeKey(a, b uint64) []byte {
	var k [16]byte
	binary.BigEndian.PutUint64(k[0:8], a)
	binary.BigEndian.PutUint64(k[8:16], b)
	return k[:]
}

// maxLocalID returns one past the largest id already present in a bucket,
// or 1 for an empty bucket. Bucket keys are either a flat 8-byte id (model
// and embedded-struct trees) or a 16-byte composite key (struct-list
// trees), where the counter tracks the second component.
func maxLocalID(b *bbolt.Bucket) uint64 {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 1
	}
	if len(k) == 16 {
		// Local ids come from one counter shared by every parent, so the
		// last key (highest parent) need not carry the highest local id.
		var highest uint64
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if local := binary.BigEndian.Uint64(k[8:16]); local > highest {
				highest = local
			}
		}
		return highest + 1
	}
	return binary.BigEndian.Uint64(k[:8]) + 1
}
