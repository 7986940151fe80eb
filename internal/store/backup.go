package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Snapshot is the backup file format: collection name to its records.
type Snapshot map[string][]json.RawMessage

// ExportData snapshots every collection in one read transaction.
func (s *Store) ExportData(ctx context.Context) (Snapshot, error) {
	defer observeDB(ctx, "db.export")()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	snap := make(Snapshot, len(s.schema.Collections))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, c := range s.schema.Collections {
			docs, err := allDocuments(tx, c.Name)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			snap[c.Name] = docs
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return snap, nil
}

// ImportData overwrites each collection named in snap with its records.
// Unknown collection names are skipped. Records must decode into their
// collection's type and validate. The import is all-or-nothing.
func (s *Store) ImportData(ctx context.Context, snap Snapshot) error {
	defer observeDB(ctx, "db.import")()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrImportFailed, err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		for name, docs := range snap {
			c, ok := s.schema.Collection(name)
			if !ok {
				s.log.Warn("skipping unknown collection in backup", zap.String("collection", name))
				continue
			}
			if err := clearCollection(tx, c); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
			check := s.checks[name]
			for i, doc := range docs {
				if check != nil {
					if err := check(doc); err != nil {
						return fmt.Errorf("%s[%d]: %w", name, i, err)
					}
				}
				fields, err := parseDocument(doc)
				if err != nil {
					return fmt.Errorf("%s[%d]: %w", name, i, err)
				}
				if _, err := putDocument(tx, c, fields, doc, false); err != nil {
					return fmt.Errorf("%s[%d]: %w", name, i, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	return nil
}

// WriteBackup encodes an export as indented JSON.
func (s *Store) WriteBackup(ctx context.Context, w io.Writer) error {
	snap, err := s.ExportData(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return nil
}

// ReadBackup decodes a backup document and imports it.
func (s *Store) ReadBackup(ctx context.Context, r io.Reader) error {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("%w: malformed backup: %w", ErrImportFailed, err)
	}
	return s.ImportData(ctx, snap)
}
