package storage

import "go.etcd.io/bbolt"

// Delete removes a row from modelName's tree by id, reporting whether a
// row was actually present. It does not cascade: embedded-struct rows,
// join-index entries, and rows in other models that reference this one are
// left behind. See DESIGN.md for why cascading delete was decided against.
func (e *Engine) Delete(modelName string, id uint64) (bool, error) {
	model, ok := e.Schema.ModelByName(modelName)
	if !ok {
		return false, &UnknownModelError{Name: modelName}
	}

	var existed bool
	err := e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(model.Name))
		existed = b.Get(idBytes(id)) != nil
		if !existed {
			return nil
		}
		return b.Delete(idBytes(id))
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}
