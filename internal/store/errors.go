package store

import "errors"

var (
	// ErrStorageUnavailable indicates the underlying database could not be opened or upgraded.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrDuplicateKey is returned by Add when a record with the same key already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrUnknownCollection indicates a collection name outside the schema.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownIndex indicates an index the collection does not declare.
	ErrUnknownIndex = errors.New("unknown index")
	// ErrInvalidRecord indicates a record that is not a JSON object, lacks a usable key, or fails validation.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrImportFailed wraps malformed backup content or a storage failure during import.
	ErrImportFailed = errors.New("import failed")
	// ErrExportFailed wraps a storage failure during export.
	ErrExportFailed = errors.New("export failed")
)
