package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestMigrationsEmbedded(t *testing.T) {
	data, err := Files.ReadFile("001_init.yaml")
	if err != nil {
		t.Fatalf("expected embedded schema, got error: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("embedded schema is empty")
	}
}

func TestLoadDeclaresEveryCollection(t *testing.T) {
	schema, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"users", "subjects", "tasks", "classes", "goals", "pomodoro", "syncQueue"}
	got := schema.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("collections = %v, want %v", got, want)
	}

	tasks, ok := schema.Collection("tasks")
	if !ok {
		t.Fatal("tasks collection missing")
	}
	for _, idx := range []string{"userId", "subjectId", "dueDate", "status"} {
		if !tasks.HasIndex(idx) {
			t.Errorf("tasks missing index %q", idx)
		}
	}

	queue, _ := schema.Collection("syncQueue")
	if !queue.AutoIncrement {
		t.Error("syncQueue should be auto-increment")
	}
}

func TestLoadMergesLaterVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_init.yaml": {Data: []byte("version: 1\ncollections:\n  - name: notes\n    indexes:\n      - {name: userId, field: userId}\n")},
		"002_tags.yaml": {Data: []byte("version: 2\ncollections:\n  - name: notes\n    indexes:\n      - {name: tag, field: tag}\n  - name: tags\n")},
	}

	schema, err := load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if schema.Version != 2 {
		t.Fatalf("version = %d, want 2", schema.Version)
	}
	notes, _ := schema.Collection("notes")
	if notes.Key != "id" {
		t.Errorf("default key = %q, want id", notes.Key)
	}
	if !notes.HasIndex("userId") || !notes.HasIndex("tag") {
		t.Errorf("notes indexes = %+v", notes.Indexes)
	}
	if _, ok := schema.Collection("tags"); !ok {
		t.Error("tags collection missing")
	}
}

func TestLoadRejectsOutOfOrderVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.yaml": {Data: []byte("version: 2\n")},
		"002_b.yaml": {Data: []byte("version: 1\n")},
	}
	if _, err := load(fsys); err == nil {
		t.Fatal("expected error for non-increasing versions")
	}
}
