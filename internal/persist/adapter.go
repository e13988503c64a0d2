// Package persist writes tour edits to the document store. Every write is
// attempted once; its outcome is reported to a Notifier as a user-facing
// notice and returned so callers keep their local state on failure.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/panotour/internal/coord"
	"github.com/onnwee/panotour/internal/docstore"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/tracing"
)

var (
	// ErrImageRequired is returned when a scene is created without an image.
	ErrImageRequired = errors.New("scene image is required")

	// ErrNameRequired is returned when a scene or scenario has no name.
	ErrNameRequired = errors.New("name is required")
)

// Write operation labels used in metrics and logs.
const (
	OpSavePlacement  = "save_placement"
	OpSaveAll        = "save_all"
	OpCreateHotspot  = "create_hotspot"
	OpDeleteHotspot  = "delete_hotspot"
	OpCreateScene    = "create_scene"
	OpRenameScene    = "rename_scene"
	OpDeleteScene    = "delete_scene"
	OpCreateScenario = "create_scenario"
)

// Writer is the write side of the scene repository.
type Writer interface {
	UpdatePlacement(ctx context.Context, p scene.Placement) error
	CommitPlacements(ctx context.Context, placements []scene.Placement) error
	CreateHotspot(ctx context.Context, h scene.Hotspot) (*scene.Hotspot, error)
	DeleteHotspot(ctx context.Context, id string) error
	CreateScene(ctx context.Context, s scene.Scene) (*scene.Scene, error)
	RenameScene(ctx context.Context, scenarioID, sceneID, name string) error
	DeleteScene(ctx context.Context, scenarioID, sceneID string) (int, error)
	CreateScenario(ctx context.Context, name string) (*scene.Scenario, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Adapter is the persistence adapter.
type Adapter struct {
	store    Writer
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger
}

// New creates an adapter. notifier may be nil.
func New(store Writer, notifier Notifier, opts ...Option) *Adapter {
	a := &Adapter{
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithNotifier returns a copy of the adapter reporting to n.
func (a *Adapter) WithNotifier(n Notifier) *Adapter {
	cp := *a
	cp.notifier = n
	return &cp
}

func (a *Adapter) notify(level Level, format string, args ...any) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(Notice{Level: level, Message: fmt.Sprintf(format, args...)})
}

// run wraps one store write with a span, a metric and a log line.
func (a *Adapter) run(ctx context.Context, op, collection string, storeOp tracing.StoreOperation, fn func(ctx context.Context) error) error {
	ctx, endSpan := tracing.StartStoreSpan(ctx, collection, storeOp)
	err := fn(ctx)
	endSpan(err)
	a.metrics.observe(op, err)
	if err != nil {
		a.logger.ErrorContext(ctx, "store write failed", "op", op, "error", err)
	}
	return err
}

// Save writes one placement, rounded to two decimals. Legacy coordinations
// are replaced by the object form.
func (a *Adapter) Save(ctx context.Context, p scene.Placement) error {
	p = p.Rounded()
	err := a.run(ctx, OpSavePlacement, docstore.CollectionHotspots, tracing.StoreOperationWrite, func(ctx context.Context) error {
		return a.store.UpdatePlacement(ctx, p)
	})
	if err != nil {
		a.notify(LevelError, "Could not save hotspot position: %v", err)
		return err
	}
	a.notify(LevelSuccess, "Hotspot position saved")
	return nil
}

// SavePlacement implements editor.Persister.
func (a *Adapter) SavePlacement(ctx context.Context, p scene.Placement) error {
	return a.Save(ctx, p)
}

// SaveAll writes several placements in one atomic batch.
func (a *Adapter) SaveAll(ctx context.Context, placements []scene.Placement) error {
	if len(placements) == 0 {
		a.notify(LevelSuccess, "No hotspot positions to save")
		return nil
	}
	rounded := make([]scene.Placement, len(placements))
	for i, p := range placements {
		rounded[i] = p.Rounded()
	}
	err := a.run(ctx, OpSaveAll, docstore.CollectionHotspots, tracing.StoreOperationCommit, func(ctx context.Context) error {
		return a.store.CommitPlacements(ctx, rounded)
	})
	if err != nil {
		a.notify(LevelError, "Could not save hotspot positions, nothing was changed: %v", err)
		return err
	}
	a.notify(LevelSuccess, "Saved %d hotspot positions", len(rounded))
	return nil
}

// CreateHotspot stores a new hotspot. Without a position it is placed straight
// ahead at the default radius and size.
func (a *Adapter) CreateHotspot(ctx context.Context, h scene.Hotspot) (*scene.Hotspot, error) {
	if h.Coordination.Kind() == scene.KindUnset {
		h.Coordination = scene.SphericalCoordination(coord.Spherical{Radius: scene.DefaultPlacementRadius})
	}
	if s, ok := h.Coordination.Spherical(); ok {
		h.Coordination = scene.SphericalCoordination(s.Rounded())
	}
	if h.Size <= 0 {
		h.Size = scene.DefaultMarkerSize
	}
	h.Text = strings.TrimSpace(h.Text)

	var created *scene.Hotspot
	err := a.run(ctx, OpCreateHotspot, docstore.CollectionHotspots, tracing.StoreOperationWrite, func(ctx context.Context) error {
		var err error
		created, err = a.store.CreateHotspot(ctx, h)
		return err
	})
	if err != nil {
		a.notify(LevelError, "Could not create hotspot: %v", err)
		return nil, err
	}
	a.notify(LevelSuccess, "Hotspot created")
	return created, nil
}

// DeleteHotspot removes a hotspot.
func (a *Adapter) DeleteHotspot(ctx context.Context, id string) error {
	err := a.run(ctx, OpDeleteHotspot, docstore.CollectionHotspots, tracing.StoreOperationWrite, func(ctx context.Context) error {
		return a.store.DeleteHotspot(ctx, id)
	})
	if err != nil {
		a.notify(LevelError, "Could not delete hotspot: %v", err)
		return err
	}
	a.notify(LevelSuccess, "Hotspot deleted")
	return nil
}

// CreateScene stores a new scene with the next free scene id. The image and
// name are checked before anything is written.
func (a *Adapter) CreateScene(ctx context.Context, scenarioID, name, image string) (*scene.Scene, error) {
	name = strings.TrimSpace(name)
	image = strings.TrimSpace(image)
	if image == "" {
		a.notify(LevelError, "Please upload an image for the new scene")
		return nil, ErrImageRequired
	}
	if name == "" {
		a.notify(LevelError, "Please enter a name for the new scene")
		return nil, ErrNameRequired
	}

	var created *scene.Scene
	err := a.run(ctx, OpCreateScene, docstore.CollectionScenes, tracing.StoreOperationWrite, func(ctx context.Context) error {
		var err error
		created, err = a.store.CreateScene(ctx, scene.Scene{ScenarioID: scenarioID, Name: name, Image: image})
		return err
	})
	if err != nil {
		a.notify(LevelError, "Could not create scene: %v", err)
		return nil, err
	}
	a.notify(LevelSuccess, "Scene %q created", created.Name)
	return created, nil
}

// RenameScene changes a scene's name.
func (a *Adapter) RenameScene(ctx context.Context, scenarioID, sceneID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		a.notify(LevelError, "Please enter a name for the scene")
		return ErrNameRequired
	}
	err := a.run(ctx, OpRenameScene, docstore.CollectionScenes, tracing.StoreOperationWrite, func(ctx context.Context) error {
		return a.store.RenameScene(ctx, scenarioID, sceneID, name)
	})
	if err != nil {
		a.notify(LevelError, "Could not rename scene: %v", err)
		return err
	}
	a.notify(LevelSuccess, "Scene renamed to %q", name)
	return nil
}

// DeleteScene removes a scene and the hotspots that reference it.
func (a *Adapter) DeleteScene(ctx context.Context, scenarioID, sceneID string) error {
	var removed int
	err := a.run(ctx, OpDeleteScene, docstore.CollectionScenes, tracing.StoreOperationCommit, func(ctx context.Context) error {
		var err error
		removed, err = a.store.DeleteScene(ctx, scenarioID, sceneID)
		return err
	})
	if err != nil {
		a.notify(LevelError, "Could not delete scene: %v", err)
		return err
	}
	a.notify(LevelSuccess, "Scene deleted along with %d hotspots", removed)
	return nil
}

// CreateScenario stores a new scenario.
func (a *Adapter) CreateScenario(ctx context.Context, name string) (*scene.Scenario, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		a.notify(LevelError, "Please enter a name for the scenario")
		return nil, ErrNameRequired
	}
	var created *scene.Scenario
	err := a.run(ctx, OpCreateScenario, docstore.CollectionScenarios, tracing.StoreOperationWrite, func(ctx context.Context) error {
		var err error
		created, err = a.store.CreateScenario(ctx, name)
		return err
	})
	if err != nil {
		a.notify(LevelError, "Could not create scenario: %v", err)
		return nil, err
	}
	a.notify(LevelSuccess, "Scenario %q created", created.Name)
	return created, nil
}
