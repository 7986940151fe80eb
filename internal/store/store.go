package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/migrations"
)

// Options tunes Open.
type Options struct {
	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
	Logger  *zap.Logger
	// Schema overrides the embedded collection schema (tests).
	Schema *migrations.Schema
}

// Store aggregates typed collections backed by a single bbolt file.
type Store struct {
	db     *bolt.DB
	schema *migrations.Schema
	log    *zap.Logger
	// checks holds the strict decode and validation of each typed collection.
	checks map[string]func([]byte) error

	Users     Repository[User]
	Subjects  Repository[Subject]
	Tasks     Repository[Task]
	Classes   Repository[ClassSession]
	Goals     Repository[Goal]
	Pomodoro  Repository[FocusSession]
	SyncQueue Repository[PendingChange]
}

// Open opens or creates the database at path and brings its buckets up to
// the current schema version.
func Open(path string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	schema := opts.Schema
	if schema == nil {
		var err error
		schema, err = migrations.Load()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %w", ErrStorageUnavailable, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageUnavailable, path, err)
	}

	s := newStore(db, schema, opts.Logger)
	if err := s.upgrade(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return s, nil
}

func newStore(db *bolt.DB, schema *migrations.Schema, log *zap.Logger) *Store {
	s := &Store{db: db, schema: schema, log: log, checks: make(map[string]func([]byte) error)}
	s.Users = newCollection[User](s, CollectionUsers)
	s.Subjects = newCollection[Subject](s, CollectionSubjects)
	s.Tasks = newCollection[Task](s, CollectionTasks)
	s.Classes = newCollection[ClassSession](s, CollectionClasses)
	s.Goals = newCollection[Goal](s, CollectionGoals)
	s.Pomodoro = newCollection[FocusSession](s, CollectionPomodoro)
	s.SyncQueue = newCollection[PendingChange](s, CollectionSyncQueue)
	return s
}

// upgrade creates missing collection and index buckets. Indexes added by a
// newer schema version are built from the records already present.
func (s *Store) upgrade() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		stored := 0
		if v := meta.Get(schemaVersionKey); v != nil {
			stored, err = strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("corrupt schema version %q", v)
			}
		}
		if stored > s.schema.Version {
			return fmt.Errorf("database schema version %d is newer than supported version %d", stored, s.schema.Version)
		}

		for _, c := range s.schema.Collections {
			data, err := tx.CreateBucketIfNotExists([]byte(c.Name))
			if err != nil {
				return fmt.Errorf("create collection %s: %w", c.Name, err)
			}
			for _, ix := range c.Indexes {
				name := indexBucketName(c.Name, ix.Name)
				if tx.Bucket(name) != nil {
					continue
				}
				idx, err := tx.CreateBucket(name)
				if err != nil {
					return fmt.Errorf("create index %s.%s: %w", c.Name, ix.Name, err)
				}
				built := 0
				err = data.ForEach(func(k, v []byte) error {
					fields, err := parseDocument(v)
					if err != nil {
						return err
					}
					if val, ok := indexValue(fields[ix.Field]); ok {
						built++
						return idx.Put(indexEntry(val, k), nil)
					}
					return nil
				})
				if err != nil {
					return fmt.Errorf("build index %s.%s: %w", c.Name, ix.Name, err)
				}
				if stored > 0 {
					s.log.Info("built index", zap.String("collection", c.Name), zap.String("index", ix.Name), zap.Int("entries", built))
				}
			}
		}

		if stored != s.schema.Version {
			s.log.Info("schema upgraded", zap.Int("from", stored), zap.Int("to", s.schema.Version))
		}
		return meta.Put(schemaVersionKey, []byte(strconv.Itoa(s.schema.Version)))
	})
}

// Schema returns the collection schema the store was opened with.
func (s *Store) Schema() *migrations.Schema {
	return s.schema
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck verifies that the underlying database is readable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(metaBucket)) == nil {
			return errors.New("meta bucket missing")
		}
		return nil
	})
}

func (s *Store) collection(name string) (migrations.Collection, error) {
	c, ok := s.schema.Collection(name)
	if !ok {
		return migrations.Collection{}, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}
