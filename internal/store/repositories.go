package store

import "context"

// Repository is the typed view of one collection.
type Repository[T any] interface {
	Add(ctx context.Context, rec T) (T, error)
	Put(ctx context.Context, rec T) (T, error)
	Get(ctx context.Context, id string) (*T, error)
	List(ctx context.Context) ([]T, error)
	ListByIndex(ctx context.Context, index string, value any) ([]T, error)
	Delete(ctx context.Context, id string) error
	DeleteByIndex(ctx context.Context, index string, value any) error
	Clear(ctx context.Context) error
}

// Validator is implemented by record types checked at the storage boundary.
type Validator interface {
	Validate() error
}
