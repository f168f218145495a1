package storage

import (
	"bytes"
	"encoding/binary"

	"go.etcd.io/bbolt"

	"marcidb/internal/codec"
	"marcidb/internal/schema"
)

// GetAll scans modelName's entire tree, resolving sel's includes for every
// row, inside a single read (snapshot) transaction.
func (e *Engine) GetAll(modelName string, sel *codec.Select) ([]map[string]any, error) {
	model, ok := e.Schema.ModelByName(modelName)
	if !ok {
		return nil, &UnknownModelError{Name: modelName}
	}

	results := make([]map[string]any, 0)
	err := e.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(model.Name))
		return b.ForEach(func(k, v []byte) error {
			id := binary.BigEndian.Uint64(k)
			doc, err := e.processRow(tx, id, v, sel, model)
			if err != nil {
				return err
			}
			results = append(results, doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetRaw looks up a single row by id and decodes only the row's own
// primitive fields, without resolving any relation or embedded-struct
// include. The HTTP façade does not call it.
func (e *Engine) GetRaw(modelName string, id uint64) (map[string]any, bool, error) {
	model, ok := e.Schema.ModelByName(modelName)
	if !ok {
		return nil, false, &UnknownModelError{Name: modelName}
	}

	var (
		doc   map[string]any
		found bool
		err   error
	)
	txErr := e.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(model.Name))
		v := b.Get(idBytes(id))
		if v == nil {
			return nil
		}
		found = true
		doc, err = codec.Decode(v, model.Fields, model.PayloadOffset, id, codec.All(model).Bits, nil)
		return err
	})
	if txErr != nil {
		return nil, false, txErr
	}
	return doc, found, nil
}

// processRow decodes one row's own fields and recursively resolves every
// include sel names, reading whatever trees each include needs from the
// same transaction.
func (e *Engine) processRow(tx *bbolt.Tx, id uint64, data []byte, sel *codec.Select, shape schema.WithFields) (map[string]any, error) {
	includes := make([]codec.IncludeResult, 0, len(sel.Includes))

	for _, inc := range sel.Includes {
		switch inc.Binding {
		case codec.BindOne:
			res, err := e.resolveOne(tx, data, inc)
			if err != nil {
				return nil, err
			}
			includes = append(includes, res)

		case codec.BindMany:
			res, err := e.resolveMany(tx, id, inc)
			if err != nil {
				return nil, err
			}
			includes = append(includes, res)

		case codec.BindDerivedOne:
			res, err := e.resolveDerivedOne(tx, id, inc)
			if err != nil {
				return nil, err
			}
			includes = append(includes, res)

		case codec.BindOneStruct:
			res, err := e.resolveOneStruct(tx, id, inc)
			if err != nil {
				return nil, err
			}
			includes = append(includes, res)

		case codec.BindManyStruct:
			res, err := e.resolveManyStruct(tx, id, inc)
			if err != nil {
				return nil, err
			}
			includes = append(includes, res)
		}
	}

	return codec.Decode(data, shape.FieldList(), shape.PayloadOffsetBytes(), id, sel.Bits, includes)
}

func (e *Engine) resolveOne(tx *bbolt.Tx, data []byte, inc codec.Include) (codec.IncludeResult, error) {
	offset := int(codec.ReadOffset(data, inc.OffsetPos))
	if offset == 0 {
		return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeNone}, nil
	}
	refID := binary.BigEndian.Uint64(data[offset : offset+8])

	b := tx.Bucket([]byte(inc.Shape.TreeName()))
	v := b.Get(idBytes(refID))
	if v == nil {
		return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeNone}, nil
	}
	child, err := e.processRow(tx, refID, v, inc.Select, inc.Shape)
	if err != nil {
		return codec.IncludeResult{}, err
	}
	return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeOne, One: child}, nil
}

func (e *Engine) resolveMany(tx *bbolt.Tx, id uint64, inc codec.Include) (codec.IncludeResult, error) {
	prefix := idBytes(id)
	ib := tx.Bucket([]byte(inc.TreeName))
	nb := tx.Bucket([]byte(inc.Shape.TreeName()))

	var many []map[string]any
	c := ib.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		childID := binary.BigEndian.Uint64(k[8:16])
		v := nb.Get(idBytes(childID))
		if v == nil {
			continue
		}
		child, err := e.processRow(tx, childID, v, inc.Select, inc.Shape)
		if err != nil {
			return codec.IncludeResult{}, err
		}
		many = append(many, child)
	}
	return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeMany, Many: many}, nil
}

// resolveDerivedOne is BindMany's scan with the cardinality a @derived
// ModelRef field actually has: one match at most, since the key this row's
// id prefixes is the Rev half an owning ModelRefList wrote on connect.
func (e *Engine) resolveDerivedOne(tx *bbolt.Tx, id uint64, inc codec.Include) (codec.IncludeResult, error) {
	prefix := idBytes(id)
	ib := tx.Bucket([]byte(inc.TreeName))
	nb := tx.Bucket([]byte(inc.Shape.TreeName()))

	c := ib.Cursor()
	k, _ := c.Seek(prefix)
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeNone}, nil
	}
	parentID := binary.BigEndian.Uint64(k[8:16])

	v := nb.Get(idBytes(parentID))
	if v == nil {
		return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeNone}, nil
	}
	parent, err := e.processRow(tx, parentID, v, inc.Select, inc.Shape)
	if err != nil {
		return codec.IncludeResult{}, err
	}
	return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeOne, One: parent}, nil
}

func (e *Engine) resolveOneStruct(tx *bbolt.Tx, id uint64, inc codec.Include) (codec.IncludeResult, error) {
	b := tx.Bucket([]byte(inc.Shape.TreeName()))
	v := b.Get(idBytes(id))
	if v == nil {
		return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeNone}, nil
	}
	child, err := e.processRow(tx, id, v, inc.Select, inc.Shape)
	if err != nil {
		return codec.IncludeResult{}, err
	}
	return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeOne, One: child}, nil
}

func (e *Engine) resolveManyStruct(tx *bbolt.Tx, id uint64, inc codec.Include) (codec.IncludeResult, error) {
	prefix := idBytes(id)
	b := tx.Bucket([]byte(inc.Shape.TreeName()))

	var many []map[string]any
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		localID := binary.BigEndian.Uint64(k[8:16])
		child, err := e.processRow(tx, localID, v, inc.Select, inc.Shape)
		if err != nil {
			return codec.IncludeResult{}, err
		}
		many = append(many, child)
	}
	return codec.IncludeResult{FieldIndex: inc.FieldIndex, Kind: codec.IncludeMany, Many: many}, nil
}
