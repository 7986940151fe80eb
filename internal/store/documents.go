package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/jw6ventures/studydesk/internal/migrations"
)

// Add inserts doc into collection and returns the stored document, which
// carries the generated id for auto-increment collections.
func (s *Store) Add(ctx context.Context, collection string, doc json.RawMessage) (json.RawMessage, error) {
	defer observeDB(ctx, "db.add")()
	return s.write(ctx, collection, doc, true)
}

// Put inserts or replaces doc by its key.
func (s *Store) Put(ctx context.Context, collection string, doc json.RawMessage) (json.RawMessage, error) {
	defer observeDB(ctx, "db.put")()
	return s.write(ctx, collection, doc, false)
}

func (s *Store) write(ctx context.Context, collection string, doc json.RawMessage, insertOnly bool) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	fields, err := parseDocument(doc)
	if err != nil {
		return nil, err
	}

	var stored json.RawMessage
	err = s.db.Update(func(tx *bolt.Tx) error {
		var err error
		stored, err = putDocument(tx, c, fields, doc, insertOnly)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// putDocument writes one record inside tx and keeps its indexes in step.
func putDocument(tx *bolt.Tx, c migrations.Collection, fields document, doc []byte, insertOnly bool) (json.RawMessage, error) {
	b := tx.Bucket([]byte(c.Name))
	key, seq, err := recordKey(c, fields)
	if err != nil {
		return nil, err
	}

	if c.AutoIncrement {
		if key == nil {
			seq, err = b.NextSequence()
			if err != nil {
				return nil, err
			}
			key = seqKey(seq)
			fields[c.Key] = json.RawMessage(fmt.Sprintf("%d", seq))
			if doc, err = json.Marshal(fields); err != nil {
				return nil, err
			}
		} else if seq > b.Sequence() {
			if err := b.SetSequence(seq); err != nil {
				return nil, err
			}
		}
	}

	if old := b.Get(key); old != nil {
		if insertOnly {
			return nil, fmt.Errorf("%w: %s[%s]", ErrDuplicateKey, c.Name, displayKey(c, key))
		}
		if err := unindex(tx, c, key, old); err != nil {
			return nil, err
		}
	}

	stored := append(json.RawMessage(nil), doc...)
	if err := b.Put(key, stored); err != nil {
		return nil, err
	}
	for _, ix := range c.Indexes {
		if val, ok := indexValue(fields[ix.Field]); ok {
			if err := tx.Bucket(indexBucketName(c.Name, ix.Name)).Put(indexEntry(val, key), nil); err != nil {
				return nil, err
			}
		}
	}
	return stored, nil
}

func unindex(tx *bolt.Tx, c migrations.Collection, key, old []byte) error {
	if len(c.Indexes) == 0 {
		return nil
	}
	fields, err := parseDocument(old)
	if err != nil {
		return err
	}
	for _, ix := range c.Indexes {
		if val, ok := indexValue(fields[ix.Field]); ok {
			if err := tx.Bucket(indexBucketName(c.Name, ix.Name)).Delete(indexEntry(val, key)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns the record stored under id, or nil when there is none.
func (s *Store) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	defer observeDB(ctx, "db.get")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	key, ok := lookupKey(c, id)
	if !ok {
		return nil, nil
	}

	var out json.RawMessage
	err = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(c.Name)).Get(key); v != nil {
			out = append(json.RawMessage(nil), v...)
		}
		return nil
	})
	return out, err
}

// GetAll returns every record in key order.
func (s *Store) GetAll(ctx context.Context, collection string) ([]json.RawMessage, error) {
	defer observeDB(ctx, "db.get_all")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	out := []json.RawMessage{}
	err = s.db.View(func(tx *bolt.Tx) error {
		out, err = allDocuments(tx, c.Name)
		return err
	})
	return out, err
}

func allDocuments(tx *bolt.Tx, name string) ([]json.RawMessage, error) {
	out := []json.RawMessage{}
	err := tx.Bucket([]byte(name)).ForEach(func(_, v []byte) error {
		out = append(out, append(json.RawMessage(nil), v...))
		return nil
	})
	return out, err
}

// GetAllByIndex returns the records whose indexed field equals value, in key order.
func (s *Store) GetAllByIndex(ctx context.Context, collection, index string, value any) ([]json.RawMessage, error) {
	defer observeDB(ctx, "db.get_all_by_index")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if !c.HasIndex(index) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}
	val, err := queryValue(value)
	if err != nil {
		return nil, err
	}

	out := []json.RawMessage{}
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(c.Name))
		for _, key := range indexedKeys(tx, c.Name, index, val) {
			if v := data.Get(key); v != nil {
				out = append(out, append(json.RawMessage(nil), v...))
			}
		}
		return nil
	})
	return out, err
}

func indexedKeys(tx *bolt.Tx, collection, index string, val []byte) [][]byte {
	prefix := indexPrefix(val)
	var keys [][]byte
	cur := tx.Bucket(indexBucketName(collection, index)).Cursor()
	for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
		keys = append(keys, append([]byte(nil), k[len(prefix):]...))
	}
	return keys
}

// Delete removes the record stored under id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	defer observeDB(ctx, "db.delete")()
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	key, ok := lookupKey(c, id)
	if !ok {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteKey(tx, c, key)
	})
}

func deleteKey(tx *bolt.Tx, c migrations.Collection, key []byte) error {
	b := tx.Bucket([]byte(c.Name))
	old := b.Get(key)
	if old == nil {
		return nil
	}
	if err := unindex(tx, c, key, old); err != nil {
		return err
	}
	return b.Delete(key)
}

// DeleteAllByIndex removes every record whose indexed field equals value.
func (s *Store) DeleteAllByIndex(ctx context.Context, collection, index string, value any) error {
	defer observeDB(ctx, "db.delete_all_by_index")()
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if !c.HasIndex(index) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}
	val, err := queryValue(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, key := range indexedKeys(tx, c.Name, index, val) {
			if err := deleteKey(tx, c, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every record of collection. The auto-increment sequence is
// kept so identifiers are never reused.
func (s *Store) Clear(ctx context.Context, collection string) error {
	defer observeDB(ctx, "db.clear")()
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return clearCollection(tx, c)
	})
}

// ClearAll wipes every collection. Preferences are not touched.
func (s *Store) ClearAll(ctx context.Context) error {
	defer observeDB(ctx, "db.clear_all")()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, c := range s.schema.Collections {
			if err := clearCollection(tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func clearCollection(tx *bolt.Tx, c migrations.Collection) error {
	b := tx.Bucket([]byte(c.Name))
	var keys [][]byte
	if err := b.ForEach(func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	for _, ix := range c.Indexes {
		name := indexBucketName(c.Name, ix.Name)
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(name); err != nil {
			return err
		}
	}
	return nil
}

func displayKey(c migrations.Collection, key []byte) string {
	if c.AutoIncrement && len(key) == 8 {
		var n uint64
		for _, b := range key {
			n = n<<8 | uint64(b)
		}
		return fmt.Sprintf("%d", n)
	}
	return string(key)
}
