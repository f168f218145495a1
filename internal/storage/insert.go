package storage

import (
	"go.etcd.io/bbolt"

	"marcidb/internal/codec"
)

// Insert encodes doc against modelName's shape, verifies every foreign key
// it and its embedded structs reference, then commits the row plus its
// embedded-struct rows and join-index entries in one write transaction.
func (e *Engine) Insert(modelName string, doc map[string]any) (uint64, error) {
	model, ok := e.Schema.ModelByName(modelName)
	if !ok {
		return 0, &UnknownModelError{Name: modelName}
	}

	data, _, structs, err := codec.Encode(model, doc)
	if err != nil {
		return 0, err
	}

	foreignKeys := append(collectForeignKeys(data, model.Fields), collectStructForeignKeys(structs)...)

	var id uint64
	err = e.db.Update(func(tx *bbolt.Tx) error {
		for _, fk := range foreignKeys {
			b := tx.Bucket([]byte(e.Schema.Models[fk.modelIndex].Name))
			if b.Get(idBytes(fk.id)) == nil {
				return &ForeignKeyViolationError{Field: fk.field, ID: fk.id}
			}
		}

		id = e.NextID(model.CounterIdx)
		indexWrites := collectIndexWrites(data, id, model)

		b := tx.Bucket([]byte(model.Name))
		if err := b.Put(idBytes(id), data); err != nil {
			return err
		}

		for _, sw := range structs {
			switch sw.Kind {
			case codec.WriteOne:
				sb := tx.Bucket([]byte(sw.Struct.Name))
				if err := sb.Put(idBytes(id), sw.Data); err != nil {
					return err
				}
				indexWrites = append(indexWrites, collectIndexWrites(sw.Data, id, sw.Struct)...)

			case codec.WriteMany:
				sb := tx.Bucket([]byte(sw.Struct.Name))
				for _, itemData := range sw.ManyData {
					itemID := e.NextID(sw.CounterIdx)
					if err := sb.Put(compositeKey(id, itemID), itemData); err != nil {
						return err
					}
					indexWrites = append(indexWrites, collectIndexWrites(itemData, itemID, sw.Struct)...)
				}

			case codec.WriteConnect:
				if err := writeConnectEntries(tx, id, sw); err != nil {
					return err
				}

			case codec.WriteNone, codec.WriteEmpty:
				// nothing stored: a null embedded struct or an empty list
				// leaves no row behind for this id.
			}
		}

		for _, iw := range indexWrites {
			ib := tx.Bucket([]byte(iw.treeName))
			if err := ib.Put(iw.key, []byte{1}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}
