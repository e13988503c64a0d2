package scene

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/panotour/internal/docstore"
)

// DemoScenarioID is the document id of the demo tour written by SeedDemo.
const DemoScenarioID = "demo"

type demoScene struct {
	id, name string
}

type demoHotspot struct {
	source, target, coordination string
}

var (
	demoScenes = []demoScene{
		{"1", "Living Room"},
		{"2", "Bedroom"},
		{"3", "Bathroom"},
	}
	demoHotspots = []demoHotspot{
		{"1", "2", "-4.2 1.5 -2"},
		{"1", "3", "-1.75 1.5 -4"},
		{"2", "1", "4 1.5 1.1"},
		{"3", "1", "3.5 1.5 2.25"},
	}
)

// SeedDemo writes a three-room demo tour in a single batch. Images are
// resolved as imageBase + "/<sceneId>.jpg". It returns false without writing
// when the demo scenario already exists.
func (r *Repository) SeedDemo(ctx context.Context, imageBase string) (bool, error) {
	_, err := r.store.Get(ctx, docstore.CollectionScenarios, DemoScenarioID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return false, fmt.Errorf("failed to check demo scenario: %w", err)
	}

	imageBase = strings.TrimRight(imageBase, "/")
	names := make(map[string]string, len(demoScenes))
	writes := []docstore.Write{{
		Op:         docstore.OpSet,
		Collection: docstore.CollectionScenarios,
		ID:         DemoScenarioID,
		Data: map[string]any{
			"name":      "Apartment",
			"createdAt": r.now().UTC().Format(createdAtLayout),
		},
	}}
	for _, s := range demoScenes {
		names[s.id] = s.name
		writes = append(writes, docstore.Write{
			Op:         docstore.OpSet,
			Collection: docstore.CollectionScenes,
			ID:         DemoScenarioID + "-scene-" + s.id,
			Data: map[string]any{
				"scenarioId": DemoScenarioID,
				"sceneId":    s.id,
				"name":       s.name,
				"image":      imageBase + "/" + s.id + ".jpg",
			},
		})
	}
	for i, h := range demoHotspots {
		writes = append(writes, docstore.Write{
			Op:         docstore.OpSet,
			Collection: docstore.CollectionHotspots,
			ID:         fmt.Sprintf("%s-hotspot-%d", DemoScenarioID, i+1),
			Data: map[string]any{
				"scenarioId":    DemoScenarioID,
				"sourceSceneId": h.source,
				"targetSceneId": h.target,
				"text":          "Go to " + names[h.target],
				"coordination":  h.coordination,
			},
		})
	}

	if err := r.store.Commit(ctx, writes); err != nil {
		return false, fmt.Errorf("failed to seed demo tour: %w", err)
	}
	return true, nil
}
