// Package storetest holds behaviour tests shared by every docstore.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/panotour/internal/docstore"
)

// Factory returns an empty store for one sub-test.
type Factory func(t *testing.T) docstore.Store

// Run exercises the docstore.Store contract against the factory's store.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Get(context.Background(), docstore.CollectionScenes, "missing"); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AddThenGet", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		id, err := store.Add(ctx, docstore.CollectionHotspots, map[string]any{
			"text":         "Go to Bedroom",
			"coordination": map[string]any{"yaw": 12.5, "pitch": -3, "radius": 10},
		})
		if err != nil {
			t.Fatalf("Add() error: %v", err)
		}
		doc, err := store.Get(ctx, docstore.CollectionHotspots, id)
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		coordination, ok := doc.Data["coordination"].(map[string]any)
		if !ok {
			t.Fatalf("coordination has type %T", doc.Data["coordination"])
		}
		if coordination["yaw"] != 12.5 {
			t.Errorf("expected yaw 12.5, got %v", coordination["yaw"])
		}
	})

	t.Run("UpdateMergesAndMissingFails", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		if err := store.Set(ctx, docstore.CollectionScenes, "s1", map[string]any{"name": "a", "image": "a.jpg"}); err != nil {
			t.Fatalf("Set() error: %v", err)
		}
		if err := store.Update(ctx, docstore.CollectionScenes, "s1", map[string]any{"name": "b"}); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
		doc, err := store.Get(ctx, docstore.CollectionScenes, "s1")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if doc.Data["name"] != "b" || doc.Data["image"] != "a.jpg" {
			t.Errorf("unexpected merge result: %v", doc.Data)
		}
		if err := store.Update(ctx, docstore.CollectionScenes, "nope", map[string]any{"name": "x"}); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FindFiltersOrdersLimits", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		docs := map[string]map[string]any{
			"a": {"scenarioId": "x", "sceneId": "2"},
			"b": {"scenarioId": "x", "sceneId": "1"},
			"c": {"scenarioId": "y", "sceneId": "1"},
			"d": {"scenarioId": "x", "sceneId": "3"},
		}
		for id, data := range docs {
			if err := store.Set(ctx, docstore.CollectionScenes, id, data); err != nil {
				t.Fatalf("Set() error: %v", err)
			}
		}

		got, err := store.Find(ctx, docstore.Query{
			Collection: docstore.CollectionScenes,
			Where:      []docstore.Filter{{Field: "scenarioId", Value: "x"}},
			OrderBy:    "sceneId",
		})
		if err != nil {
			t.Fatalf("Find() error: %v", err)
		}
		want := []string{"b", "a", "d"}
		if len(got) != len(want) {
			t.Fatalf("got %d docs, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].ID != want[i] {
				t.Errorf("position %d: got %s, want %s", i, got[i].ID, want[i])
			}
		}

		limited, err := store.Find(ctx, docstore.Query{
			Collection: docstore.CollectionScenes,
			Where:      []docstore.Filter{{Field: "scenarioId", Value: "x"}, {Field: "sceneId", Value: "3"}},
			Limit:      1,
		})
		if err != nil {
			t.Fatalf("Find() error: %v", err)
		}
		if len(limited) != 1 || limited[0].ID != "d" {
			t.Errorf("unexpected result: %+v", limited)
		}
	})

	t.Run("CommitIsAtomic", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, id := range []string{"h1", "h2", "h3"} {
			if err := store.Set(ctx, docstore.CollectionHotspots, id, map[string]any{"size": 0.2}); err != nil {
				t.Fatalf("Set() error: %v", err)
			}
		}

		err := store.Commit(ctx, []docstore.Write{
			{Op: docstore.OpUpdate, Collection: docstore.CollectionHotspots, ID: "h1", Data: map[string]any{"size": 0.9}},
			{Op: docstore.OpUpdate, Collection: docstore.CollectionHotspots, ID: "h2", Data: map[string]any{"size": 0.9}},
			{Op: docstore.OpUpdate, Collection: docstore.CollectionHotspots, ID: "gone", Data: map[string]any{"size": 0.9}},
		})
		if !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		for _, id := range []string{"h1", "h2", "h3"} {
			doc, err := store.Get(ctx, docstore.CollectionHotspots, id)
			if err != nil {
				t.Fatalf("Get(%s) error: %v", id, err)
			}
			if doc.Data["size"] != 0.2 {
				t.Errorf("%s changed by failed batch: %v", id, doc.Data)
			}
		}

		err = store.Commit(ctx, []docstore.Write{
			{Op: docstore.OpUpdate, Collection: docstore.CollectionHotspots, ID: "h1", Data: map[string]any{"size": 0.9}},
			{Op: docstore.OpDelete, Collection: docstore.CollectionHotspots, ID: "h2"},
		})
		if err != nil {
			t.Fatalf("Commit() error: %v", err)
		}
		doc, _ := store.Get(ctx, docstore.CollectionHotspots, "h1")
		if doc == nil || doc.Data["size"] != 0.9 {
			t.Errorf("h1 not updated: %+v", doc)
		}
		if _, err := store.Get(ctx, docstore.CollectionHotspots, "h2"); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("h2 not deleted: %v", err)
		}
	})
}
