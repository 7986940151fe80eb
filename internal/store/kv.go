package store

import (
	"context"
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// KV is a flat key/value bucket stored alongside the collections but outside
// the schema, so ClearAll and backups leave it alone.
type KV struct {
	db   *bolt.DB
	name []byte
}

// KV opens (creating if needed) the named bucket.
func (s *Store) KV(name string) (*KV, error) {
	if name == "" || name == metaBucket || strings.HasPrefix(name, "idx/") {
		return nil, fmt.Errorf("bucket name %q is reserved", name)
	}
	if _, ok := s.schema.Collection(name); ok {
		return nil, fmt.Errorf("bucket name %q is a collection", name)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &KV{db: s.db, name: []byte(name)}, nil
}

// Get returns the stored value or nil.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	defer observeDB(ctx, "kv.get")()
	var out []byte
	err := kv.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(kv.name).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Set stores value under key.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	defer observeDB(ctx, "kv.set")()
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kv.name).Put([]byte(key), append([]byte(nil), value...))
	})
}

// Delete removes key.
func (kv *KV) Delete(ctx context.Context, key string) error {
	defer observeDB(ctx, "kv.delete")()
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kv.name).Delete([]byte(key))
	})
}
