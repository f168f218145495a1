package storage

import (
	"bytes"
	"encoding/binary"

	"go.etcd.io/bbolt"

	"marcidb/internal/codec"
	"marcidb/internal/schema"
)

// Update applies a partial document to an existing row: it re-encodes doc
// against the model's shape, verifies any newly referenced foreign keys,
// shifts and rewires the stored buffer in place via codec.ApplyUpdate, and
// maintains every join index and embedded-struct effect the changed fields
// touch. Index maintenance mirrors Insert's own collectForeignKeys /
// collectIndexWrites, restricted to the changed mask and diffed against the
// row's prior bytes per spec.md §4.6's Update algorithm.
func (e *Engine) Update(modelName string, id uint64, doc map[string]any) error {
	model, ok := e.Schema.ModelByName(modelName)
	if !ok {
		return &UnknownModelError{Name: modelName}
	}

	newData, mask, structs, err := codec.Encode(model, doc)
	if err != nil {
		return err
	}
	foreignKeys := append(collectForeignKeys(newData, model.Fields), collectStructForeignKeys(structs)...)

	return e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(model.Name))
		old := b.Get(idBytes(id))
		if old == nil {
			return &ItemNotFoundError{ID: id}
		}

		for _, fk := range foreignKeys {
			fb := tx.Bucket([]byte(e.Schema.Models[fk.modelIndex].Name))
			if fb.Get(idBytes(fk.id)) == nil {
				return &ForeignKeyViolationError{Field: fk.field, ID: fk.id}
			}
		}

		oldWrites := collectIndexWritesMasked(old, id, model, mask)
		newWrites := collectIndexWritesMasked(newData, id, model, mask)

		merged := codec.ApplyUpdate(old, newData, mask, model.Fields, model.PayloadOffset)
		if err := b.Put(idBytes(id), merged); err != nil {
			return err
		}

		if err := applyIndexDiff(tx, oldWrites, newWrites); err != nil {
			return err
		}

		for _, sw := range structs {
			if err := e.applyStructUpdate(tx, id, sw); err != nil {
				return err
			}
		}

		return nil
	})
}

// applyIndexDiff deletes every old entry not also present in newWrites, then
// puts every new entry; an entry unchanged between old and new is simply
// rewritten, which is harmless since these are presence markers.
func applyIndexDiff(tx *bbolt.Tx, oldWrites, newWrites []indexWrite) error {
	newSet := make(map[string]map[string]bool, len(newWrites))
	for _, w := range newWrites {
		m, ok := newSet[w.treeName]
		if !ok {
			m = make(map[string]bool)
			newSet[w.treeName] = m
		}
		m[string(w.key)] = true
	}

	for _, w := range oldWrites {
		if newSet[w.treeName][string(w.key)] {
			continue
		}
		if err := tx.Bucket([]byte(w.treeName)).Delete(w.key); err != nil {
			return err
		}
	}
	for _, w := range newWrites {
		if err := tx.Bucket([]byte(w.treeName)).Put(w.key, []byte{1}); err != nil {
			return err
		}
	}
	return nil
}

// applyStructUpdate applies one of Encode's deferred struct effects against
// an existing row's embedded-struct/relation trees, mirroring what Insert
// does for a fresh row but merging or diffing against whatever is already
// stored at id instead of writing blind.
func (e *Engine) applyStructUpdate(tx *bbolt.Tx, id uint64, sw codec.StructWrite) error {
	switch sw.Kind {
	case codec.WriteNone:
		return tx.Bucket([]byte(sw.Struct.Name)).Delete(idBytes(id))

	case codec.WriteEmpty:
		return deleteRange(tx.Bucket([]byte(sw.Struct.Name)), idBytes(id))

	case codec.WriteOne:
		sb := tx.Bucket([]byte(sw.Struct.Name))
		old := sb.Get(idBytes(id))

		var oldWrites []indexWrite
		data := sw.Data
		if old != nil {
			oldWrites = collectIndexWritesMasked(old, id, sw.Struct, sw.Mask)
			data = codec.ApplyUpdate(old, sw.Data, sw.Mask, sw.Struct.Fields, sw.Struct.PayloadOffset)
		}
		if err := sb.Put(idBytes(id), data); err != nil {
			return err
		}
		newWrites := collectIndexWritesMasked(data, id, sw.Struct, sw.Mask)
		return applyIndexDiff(tx, oldWrites, newWrites)

	case codec.WriteMany:
		sb := tx.Bucket([]byte(sw.Struct.Name))
		if err := deleteRange(sb, idBytes(id)); err != nil {
			return err
		}
		for _, itemData := range sw.ManyData {
			itemID := e.NextID(sw.CounterIdx)
			if err := sb.Put(compositeKey(id, itemID), itemData); err != nil {
				return err
			}
			for _, iw := range collectIndexWrites(itemData, itemID, sw.Struct) {
				if err := tx.Bucket([]byte(iw.treeName)).Put(iw.key, []byte{1}); err != nil {
					return err
				}
			}
		}
		return nil

	case codec.WriteConnect:
		if err := removeStaleConnections(tx, sw.Field, id); err != nil {
			return err
		}
		return writeConnectEntries(tx, id, sw)
	}
	return nil
}

// writeConnectEntries puts one join-index entry per (index, referenced id)
// pair a Connect effect names — the same Direct/Rev key rule Insert uses.
func writeConnectEntries(tx *bbolt.Tx, id uint64, sw codec.StructWrite) error {
	for _, idx := range sw.Field.InsertedIndexes {
		ib := tx.Bucket([]byte(idx.TreeName))
		for _, cid := range sw.RefIDs {
			var key []byte
			switch idx.Kind {
			case schema.Direct:
				key = compositeKey(id, cid)
			case schema.Rev:
				key = compositeKey(cid, id)
			}
			if err := ib.Put(key, []byte{1}); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeStaleConnections deletes every join-index entry field previously
// wrote for id, across each distinct tree its InsertedIndexes touch. A
// prefix scan on id always finds the physical key with id in the leading
// 8 bytes, regardless of whether this field owns the Direct or the Rev half
// of the pair; the entry's trailing component gives the exact reciprocal
// key to remove too (spec.md §4.6: "remove matching rev keys found through
// the direct scan"), so no tree needs more than one scan and no full-bucket
// scan is ever required.
func removeStaleConnections(tx *bbolt.Tx, field *schema.Field, id uint64) error {
	prefix := idBytes(id)
	seen := make(map[string]bool, len(field.InsertedIndexes))

	for _, idx := range field.InsertedIndexes {
		if seen[idx.TreeName] {
			continue
		}
		seen[idx.TreeName] = true

		ib := tx.Bucket([]byte(idx.TreeName))
		var stale [][]byte
		c := ib.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			other := binary.BigEndian.Uint64(k[8:16])
			stale = append(stale, append([]byte(nil), k...))
			stale = append(stale, compositeKey(other, id))
		}
		for _, key := range stale {
			if err := ib.Delete(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteRange removes every key in b carrying the given 8-byte id prefix:
// every element row a struct-list field owns for one parent.
func deleteRange(b *bbolt.Bucket, prefix []byte) error {
	var stale [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
