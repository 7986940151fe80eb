package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Files contains the collection schema embedded into the binary.
//
// Each file describes one schema version using a flat naming convention
// (e.g., 001_init.yaml). Later versions may add collections or indexes to
// collections declared earlier; they never remove either.
//
//go:embed *.yaml
var Files embed.FS

// Index declares a non-unique secondary index over a top-level record field.
type Index struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
}

// Collection declares a named record collection.
type Collection struct {
	Name          string  `yaml:"name"`
	Key           string  `yaml:"key"`
	AutoIncrement bool    `yaml:"auto_increment"`
	Indexes       []Index `yaml:"indexes"`
}

// Schema is the merged result of every embedded version.
type Schema struct {
	Version     int
	Collections []Collection
}

type versionFile struct {
	Version     int          `yaml:"version"`
	Collections []Collection `yaml:"collections"`
}

// Load parses and merges all embedded schema versions in file order.
func Load() (*Schema, error) {
	return load(Files)
}

func load(fsys fs.FS) (*Schema, error) {
	names, err := listFiles(fsys)
	if err != nil {
		return nil, err
	}

	schema := &Schema{}
	byName := make(map[string]int)
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var vf versionFile
		if err := yaml.Unmarshal(data, &vf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if vf.Version <= schema.Version {
			return nil, fmt.Errorf("%s: version %d must be greater than %d", name, vf.Version, schema.Version)
		}
		schema.Version = vf.Version

		for _, c := range vf.Collections {
			if c.Name == "" {
				return nil, fmt.Errorf("%s: collection without name", name)
			}
			idx, exists := byName[c.Name]
			if !exists {
				if c.Key == "" {
					c.Key = "id"
				}
				byName[c.Name] = len(schema.Collections)
				schema.Collections = append(schema.Collections, c)
				continue
			}
			existing := &schema.Collections[idx]
			for _, ix := range c.Indexes {
				if existing.HasIndex(ix.Name) {
					return nil, fmt.Errorf("%s: index %s.%s declared twice", name, c.Name, ix.Name)
				}
				existing.Indexes = append(existing.Indexes, ix)
			}
		}
	}
	return schema, nil
}

// Collection returns the declaration for name.
func (s *Schema) Collection(name string) (Collection, bool) {
	for _, c := range s.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Names lists collection names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Collections))
	for _, c := range s.Collections {
		names = append(names, c.Name)
	}
	return names
}

// HasIndex reports whether the collection declares the named index.
func (c Collection) HasIndex(name string) bool {
	_, ok := c.Index(name)
	return ok
}

// Index returns the named index declaration.
func (c Collection) Index(name string) (Index, bool) {
	for _, ix := range c.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

func listFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
