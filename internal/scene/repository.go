package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/panotour/internal/coord"
	"github.com/onnwee/panotour/internal/docstore"
)

var (
	// ErrScenarioNotFound is returned when a scenario does not exist.
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrSceneNotFound is returned when no scene matches the scenario and scene id.
	ErrSceneNotFound = errors.New("scene not found")

	// ErrHotspotNotFound is returned when a hotspot does not exist.
	ErrHotspotNotFound = errors.New("hotspot not found")

	// ErrInvalidScene is returned when a scene is missing required fields.
	ErrInvalidScene = errors.New("invalid scene")

	// ErrInvalidHotspot is returned when a hotspot is missing required fields.
	ErrInvalidHotspot = errors.New("invalid hotspot")
)

// createdAtLayout is fixed-width so lexical order matches chronological order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// Repository reads and writes tour records through a document store.
// Records that cannot be decoded are skipped with a warning.
type Repository struct {
	store  docstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository creates a repository over the given store.
func NewRepository(store docstore.Store, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{store: store, logger: logger, now: time.Now}
}

// Store returns the underlying document store.
func (r *Repository) Store() docstore.Store {
	return r.store
}

// ListScenarios returns every scenario, oldest first.
func (r *Repository) ListScenarios(ctx context.Context) ([]Scenario, error) {
	docs, err := r.store.Find(ctx, docstore.Query{
		Collection: docstore.CollectionScenarios,
		OrderBy:    "createdAt",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	out := make([]Scenario, 0, len(docs))
	for _, doc := range docs {
		s, err := decodeScenario(doc)
		if err != nil {
			r.logger.Warn("skipping undecodable scenario", slog.String("id", doc.ID), slog.String("error", err.Error()))
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// GetScenario returns one scenario.
func (r *Repository) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionScenarios, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrScenarioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scenario %s: %w", id, err)
	}
	s, err := decodeScenario(*doc)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateScenario stores a new scenario with the given name.
func (r *Repository) CreateScenario(ctx context.Context, name string) (*Scenario, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidScene)
	}
	created := r.now().UTC()
	id, err := r.store.Add(ctx, docstore.CollectionScenarios, map[string]any{
		"name":      name,
		"createdAt": created.Format(createdAtLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario: %w", err)
	}
	return &Scenario{ID: id, Name: name, CreatedAt: created}, nil
}

// FindScene returns the scene with the given scene id inside a scenario.
func (r *Repository) FindScene(ctx context.Context, scenarioID, sceneID string) (*Scene, error) {
	docs, err := r.store.Find(ctx, docstore.Query{
		Collection: docstore.CollectionScenes,
		Where: []docstore.Filter{
			{Field: "scenarioId", Value: scenarioID},
			{Field: "sceneId", Value: sceneID},
		},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find scene %s: %w", sceneID, err)
	}
	if len(docs) == 0 {
		return nil, ErrSceneNotFound
	}
	s, err := decodeScene(docs[0])
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListScenes returns the scenario's scenes in scene id order (numeric ids
// compare numerically).
func (r *Repository) ListScenes(ctx context.Context, scenarioID string) ([]Scene, error) {
	docs, err := r.store.Find(ctx, docstore.Query{
		Collection: docstore.CollectionScenes,
		Where:      []docstore.Filter{{Field: "scenarioId", Value: scenarioID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	out := make([]Scene, 0, len(docs))
	for _, doc := range docs {
		s, err := decodeScene(doc)
		if err != nil {
			r.logger.Warn("skipping undecodable scene", slog.String("id", doc.ID), slog.String("error", err.Error()))
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b Scene) int {
		return CompareSceneIDs(a.SceneID, b.SceneID)
	})
	return out, nil
}

// NextSceneID returns one more than the largest numeric scene id in the
// scenario, or "1" when there is none.
func (r *Repository) NextSceneID(ctx context.Context, scenarioID string) (string, error) {
	scenes, err := r.ListScenes(ctx, scenarioID)
	if err != nil {
		return "", err
	}
	maxID := 0
	for _, s := range scenes {
		if n, err := strconv.Atoi(s.SceneID); err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1), nil
}

// CreateScene stores a scene. An empty SceneID is assigned the next free id.
func (r *Repository) CreateScene(ctx context.Context, s Scene) (*Scene, error) {
	s.Name = strings.TrimSpace(s.Name)
	switch {
	case s.ScenarioID == "":
		return nil, fmt.Errorf("%w: scenarioId is required", ErrInvalidScene)
	case s.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidScene)
	case s.Image == "":
		return nil, fmt.Errorf("%w: image is required", ErrInvalidScene)
	}

	if s.SceneID == "" {
		next, err := r.NextSceneID(ctx, s.ScenarioID)
		if err != nil {
			return nil, err
		}
		s.SceneID = next
	}

	id, err := r.store.Add(ctx, docstore.CollectionScenes, map[string]any{
		"scenarioId": s.ScenarioID,
		"sceneId":    s.SceneID,
		"name":       s.Name,
		"image":      s.Image,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scene: %w", err)
	}
	s.ID = id
	return &s, nil
}

// RenameScene changes a scene's display name.
func (r *Repository) RenameScene(ctx context.Context, scenarioID, sceneID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScene)
	}
	s, err := r.FindScene(ctx, scenarioID, sceneID)
	if err != nil {
		return err
	}
	if err := r.store.Update(ctx, docstore.CollectionScenes, s.ID, map[string]any{"name": name}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrSceneNotFound
		}
		return fmt.Errorf("failed to rename scene %s: %w", sceneID, err)
	}
	return nil
}

// DeleteScene removes a scene together with every hotspot placed on it or
// leading to it, in one batch. It returns the number of hotspots removed.
func (r *Repository) DeleteScene(ctx context.Context, scenarioID, sceneID string) (int, error) {
	s, err := r.FindScene(ctx, scenarioID, sceneID)
	if err != nil {
		return 0, err
	}

	seen := map[string]bool{}
	writes := []docstore.Write{{Op: docstore.OpDelete, Collection: docstore.CollectionScenes, ID: s.ID}}
	for _, field := range []string{"sourceSceneId", "targetSceneId"} {
		docs, err := r.store.Find(ctx, docstore.Query{
			Collection: docstore.CollectionHotspots,
			Where: []docstore.Filter{
				{Field: "scenarioId", Value: scenarioID},
				{Field: field, Value: sceneID},
			},
		})
		if err != nil {
			return 0, fmt.Errorf("failed to find hotspots for scene %s: %w", sceneID, err)
		}
		for _, doc := range docs {
			if seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			writes = append(writes, docstore.Write{Op: docstore.OpDelete, Collection: docstore.CollectionHotspots, ID: doc.ID})
		}
	}

	if err := r.store.Commit(ctx, writes); err != nil {
		return 0, fmt.Errorf("failed to delete scene %s: %w", sceneID, err)
	}
	return len(seen), nil
}

// ListHotspots returns the hotspots placed on a source scene.
func (r *Repository) ListHotspots(ctx context.Context, scenarioID, sourceSceneID string) ([]Hotspot, error) {
	docs, err := r.store.Find(ctx, docstore.Query{
		Collection: docstore.CollectionHotspots,
		Where: []docstore.Filter{
			{Field: "scenarioId", Value: scenarioID},
			{Field: "sourceSceneId", Value: sourceSceneID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list hotspots: %w", err)
	}
	out := make([]Hotspot, 0, len(docs))
	for _, doc := range docs {
		h, err := decodeHotspot(doc)
		if err != nil {
			r.logger.Warn("skipping undecodable hotspot", slog.String("id", doc.ID), slog.String("error", err.Error()))
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// GetHotspot returns one hotspot.
func (r *Repository) GetHotspot(ctx context.Context, id string) (*Hotspot, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionHotspots, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrHotspotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hotspot %s: %w", id, err)
	}
	h, err := decodeHotspot(*doc)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateHotspot stores a new hotspot and returns it with its id.
func (r *Repository) CreateHotspot(ctx context.Context, h Hotspot) (*Hotspot, error) {
	switch {
	case h.ScenarioID == "":
		return nil, fmt.Errorf("%w: scenarioId is required", ErrInvalidHotspot)
	case h.SourceSceneID == "":
		return nil, fmt.Errorf("%w: sourceSceneId is required", ErrInvalidHotspot)
	case h.TargetSceneID == "":
		return nil, fmt.Errorf("%w: targetSceneId is required", ErrInvalidHotspot)
	}

	id, err := r.store.Add(ctx, docstore.CollectionHotspots, hotspotFields(h))
	if err != nil {
		return nil, fmt.Errorf("failed to create hotspot: %w", err)
	}
	h.ID = id
	return &h, nil
}

// UpdatePlacement writes a hotspot's position (object form) and size.
func (r *Repository) UpdatePlacement(ctx context.Context, p Placement) error {
	err := r.store.Update(ctx, docstore.CollectionHotspots, p.HotspotID, placementFields(p))
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrHotspotNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update hotspot %s: %w", p.HotspotID, err)
	}
	return nil
}

// CommitPlacements writes several placements atomically.
func (r *Repository) CommitPlacements(ctx context.Context, placements []Placement) error {
	if len(placements) == 0 {
		return nil
	}
	writes := make([]docstore.Write, 0, len(placements))
	for _, p := range placements {
		writes = append(writes, docstore.Write{
			Op:         docstore.OpUpdate,
			Collection: docstore.CollectionHotspots,
			ID:         p.HotspotID,
			Data:       placementFields(p),
		})
	}
	err := r.store.Commit(ctx, writes)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrHotspotNotFound, err)
	}
	if err != nil {
		return fmt.Errorf("failed to commit %d placements: %w", len(placements), err)
	}
	return nil
}

// DeleteHotspot removes a hotspot.
func (r *Repository) DeleteHotspot(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, docstore.CollectionHotspots, id); err != nil {
		return fmt.Errorf("failed to delete hotspot %s: %w", id, err)
	}
	return nil
}

func placementFields(p Placement) map[string]any {
	return map[string]any{
		"coordination": SphericalCoordination(p.Position).Value(),
		"size":         p.Size,
	}
}

func hotspotFields(h Hotspot) map[string]any {
	fields := map[string]any{
		"scenarioId":    h.ScenarioID,
		"sourceSceneId": h.SourceSceneID,
		"targetSceneId": h.TargetSceneID,
		"text":          h.Text,
		"coordination":  h.Coordination.Value(),
	}
	if h.Size > 0 {
		fields["size"] = float64(h.Size)
	}
	return fields
}

func decodeScenario(doc docstore.Document) (Scenario, error) {
	var raw struct {
		Name      string `json:"name"`
		CreatedAt string `json:"createdAt"`
	}
	if err := doc.Decode(&raw); err != nil {
		return Scenario{}, err
	}
	s := Scenario{ID: doc.ID, Name: raw.Name}
	if raw.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %s: bad createdAt: %w", doc.ID, err)
		}
		s.CreatedAt = t
	}
	return s, nil
}

func decodeScene(doc docstore.Document) (Scene, error) {
	var s Scene
	if err := doc.Decode(&s); err != nil {
		return Scene{}, err
	}
	s.ID = doc.ID
	return s, nil
}

func decodeHotspot(doc docstore.Document) (Hotspot, error) {
	var h Hotspot
	if err := doc.Decode(&h); err != nil {
		return Hotspot{}, err
	}
	h.ID = doc.ID
	return h, nil
}

// Rounded returns the placement with position and size rounded for storage.
func (p Placement) Rounded() Placement {
	p.Position = p.Position.Rounded()
	p.Size = coord.Round2(p.Size)
	return p
}
