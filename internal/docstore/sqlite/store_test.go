package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/onnwee/panotour/internal/docstore"
	"github.com/onnwee/panotour/internal/docstore/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store {
		store, err := Open(filepath.Join(t.TempDir(), "tour.db"))
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestBuildFind(t *testing.T) {
	sql, args, err := buildFind(docstore.Query{
		Collection: "hotspots",
		Where: []docstore.Filter{
			{Field: "scenarioId", Value: "s"},
			{Field: "visible", Value: true},
		},
		OrderBy:    "text",
		Descending: true,
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("buildFind() error: %v", err)
	}

	want := `SELECT id, data FROM documents WHERE collection = ? AND json_extract(data, ?) = ? AND json_extract(data, ?) = ? ORDER BY json_extract(data, ?) DESC, id LIMIT 5`
	if sql != want {
		t.Errorf("sql:\n got  %s\n want %s", sql, want)
	}
	wantArgs := []any{"hotspots", `$."scenarioId"`, "s", `$."visible"`, 1, `$."text"`}
	if len(args) != len(wantArgs) {
		t.Fatalf("got %d args, want %d", len(args), len(wantArgs))
	}
	for i := range args {
		if args[i] != wantArgs[i] {
			t.Errorf("arg %d: got %v (%T), want %v (%T)", i, args[i], args[i], wantArgs[i], wantArgs[i])
		}
	}
}

func TestSQLValue_RejectsNull(t *testing.T) {
	if _, err := sqlValue(nil); err == nil {
		t.Fatal("expected error for null filter value")
	}
}
