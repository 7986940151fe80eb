package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// collection implements Repository by encoding T as JSON documents.
type collection[T any] struct {
	store *Store
	name  string
}

func newCollection[T any](s *Store, name string) *collection[T] {
	c := &collection[T]{store: s, name: name}
	s.checks[name] = c.check
	return c
}

// check reports whether doc decodes into T without unknown fields and
// passes its Validate.
func (c *collection[T]) check(doc []byte) error {
	rec, err := decode[T](doc)
	if err != nil {
		return err
	}
	return validate(rec)
}

func validate(rec any) error {
	if v, ok := rec.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}
	return nil
}

func (c *collection[T]) Add(ctx context.Context, rec T) (T, error) {
	return c.write(ctx, rec, c.store.Add)
}

func (c *collection[T]) Put(ctx context.Context, rec T) (T, error) {
	return c.write(ctx, rec, c.store.Put)
}

func (c *collection[T]) write(ctx context.Context, rec T, fn func(context.Context, string, json.RawMessage) (json.RawMessage, error)) (T, error) {
	var zero T
	if err := validate(rec); err != nil {
		return zero, err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	stored, err := fn(ctx, c.name, doc)
	if err != nil {
		return zero, err
	}
	return decode[T](stored)
}

func (c *collection[T]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil || doc == nil {
		return nil, err
	}
	rec, err := decode[T](doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *collection[T]) List(ctx context.Context) ([]T, error) {
	docs, err := c.store.GetAll(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](docs)
}

func (c *collection[T]) ListByIndex(ctx context.Context, index string, value any) ([]T, error) {
	docs, err := c.store.GetAllByIndex(ctx, c.name, index, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](docs)
}

func (c *collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.name, id)
}

func (c *collection[T]) DeleteByIndex(ctx context.Context, index string, value any) error {
	return c.store.DeleteAllByIndex(ctx, c.name, index, value)
}

func (c *collection[T]) Clear(ctx context.Context) error {
	return c.store.Clear(ctx, c.name)
}

// decode rejects fields the record type does not declare.
func decode[T any](doc []byte) (T, error) {
	var rec T
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return rec, nil
}

func decodeAll[T any](docs []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
