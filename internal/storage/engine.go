// Package storage is the bbolt-backed collaborator that turns a resolved
// schema into live buckets, seeds per-model/struct id counters from
// whatever is already on disk, and implements insert/update/delete/read
// with foreign-key verification and join-index maintenance inside a single
// write transaction per operation.
package storage

import (
	"sync/atomic"

	"go.etcd.io/bbolt"

	"marcidb/internal/schema"
)

// Engine owns one bbolt database file for a single resolved schema.
type Engine struct {
	db       *bbolt.DB
	Schema   *schema.Schema
	counters []*atomic.Uint64
}

// Open opens (creating if necessary) the bbolt file at path, then creates
// every tree the schema names — one per model, one per embedded struct,
// one per join index — and seeds each model's and each struct-list's id
// counter from the highest key already stored there.
func Open(path string, sch *schema.Schema) (*Engine, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	e := &Engine{db: db, Schema: sch}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, m := range sch.Models {
			b, err := tx.CreateBucketIfNotExists([]byte(m.Name))
			if err != nil {
				return err
			}
			m.CounterIdx = e.addCounter(maxLocalID(b))

			if err := e.openFieldTrees(tx, m.Fields); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return e, nil
}

// openFieldTrees creates the join-index bucket for every Direct inserted
// index and the tree for every embedded struct or struct-list field,
// recursing into each embedded struct's own field list. The resolver never
// nests one struct inside another, so the recursion stops there.
func (e *Engine) openFieldTrees(tx *bbolt.Tx, fields []schema.Field) error {
	for i := range fields {
		f := &fields[i]
		for _, idx := range f.InsertedIndexes {
			if idx.Kind != schema.Direct {
				continue
			}
			if _, err := tx.CreateBucketIfNotExists([]byte(idx.TreeName)); err != nil {
				return err
			}
		}

		switch f.Type.Kind {
		case schema.KindStruct:
			if _, err := tx.CreateBucketIfNotExists([]byte(f.Type.Struct.Name)); err != nil {
				return err
			}
			if err := e.openFieldTrees(tx, f.Type.Struct.Fields); err != nil {
				return err
			}
		case schema.KindStructList:
			b, err := tx.CreateBucketIfNotExists([]byte(f.Type.Struct.Name))
			if err != nil {
				return err
			}
			f.Type.StructCounterIdx = e.addCounter(maxLocalID(b))
			if err := e.openFieldTrees(tx, f.Type.Struct.Fields); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) addCounter(seed uint64) int {
	c := &atomic.Uint64{}
	c.Store(seed)
	e.counters = append(e.counters, c)
	return len(e.counters) - 1
}

// NextID returns the next id for the counter at idx and advances it.
func (e *Engine) NextID(idx int) uint64 {
	return e.counters[idx].Add(1) - 1
}

// Close closes the underlying database file.
func (e *Engine) Close() error {
	return e.db.Close()
}
