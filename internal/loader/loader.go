// Package loader resolves the scene to show and rebuilds the display for it.
//
// Resolution order: the requested scene, then the first scene of the scenario
// (numeric-aware sceneId order), then a placeholder panorama with no markers.
// Store failures never surface to the caller; they are logged and the next
// fallback is tried.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onnwee/panotour/internal/hotspot"
	"github.com/onnwee/panotour/internal/render"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/tracing"
)

// Outcome describes how a load was resolved.
type Outcome string

const (
	OutcomeRequested   Outcome = "requested"
	OutcomeDefault     Outcome = "default"
	OutcomeFallback    Outcome = "fallback"
	OutcomePlaceholder Outcome = "placeholder"
	OutcomeStale       Outcome = "stale"
)

// Source is the read side of the scene repository.
type Source interface {
	FindScene(ctx context.Context, scenarioID, sceneID string) (*scene.Scene, error)
	ListScenes(ctx context.Context, scenarioID string) ([]scene.Scene, error)
	ListHotspots(ctx context.Context, scenarioID, sourceSceneID string) ([]scene.Hotspot, error)
}

// Request asks for a scene to be displayed.
type Request struct {
	ScenarioID string
	SceneID    string
	Edit       bool
}

// Result reports what was displayed. A stale result was superseded by a
// newer load and did not touch the display.
type Result struct {
	Token   uint64
	Scene   *scene.Scene
	Markers []hotspot.Marker
	Outcome Outcome
	Stale   bool
}

// SceneID returns the displayed scene id, or "" for the placeholder.
func (r Result) SceneID() string {
	if r.Scene == nil {
		return ""
	}
	return r.Scene.SceneID
}

// Option configures a Loader.
type Option func(*Loader)

// WithPlaceholder sets the panorama shown when no scene exists.
func WithPlaceholder(image string) Option {
	return func(l *Loader) { l.placeholder = image }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// Loader loads scenes into one scene graph.
type Loader struct {
	source      Source
	graph       render.SceneGraph
	handler     hotspot.ClickHandler
	placeholder string
	metrics     *Metrics
	logger      *slog.Logger

	token   atomic.Uint64
	applyMu sync.Mutex
}

// New creates a loader. Marker clicks are routed to handler.
func New(source Source, graph render.SceneGraph, handler hotspot.ClickHandler, opts ...Option) *Loader {
	l := &Loader{
		source:  source,
		graph:   graph,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves and displays a scene. Only the most recently issued load is
// applied; earlier loads that finish later are discarded.
func (l *Loader) Load(ctx context.Context, req Request) Result {
	token := l.token.Add(1)

	ctx, endSpan := tracing.StartSceneLoad(ctx, req.ScenarioID, req.SceneID, req.Edit)
	defer endSpan(nil)

	sc, outcome := l.resolve(ctx, req)

	var hotspots []scene.Hotspot
	if sc != nil {
		var err error
		hotspots, err = l.source.ListHotspots(ctx, req.ScenarioID, sc.SceneID)
		if err != nil {
			l.logger.WarnContext(ctx, "failed to list hotspots",
				"scenario_id", req.ScenarioID,
				"scene_id", sc.SceneID,
				"error", err,
			)
			hotspots = nil
		}
	}
	markers := hotspot.NewBuilder(l.handler, req.Edit).BuildAll(hotspots)

	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	if token != l.token.Load() {
		l.metrics.observe(OutcomeStale)
		tracing.AddEvent(ctx, "load_discarded", tracing.AttrLoadToken.Int64(int64(token)))
		l.logger.DebugContext(ctx, "discarding stale scene load", "token", token)
		return Result{Token: token, Outcome: OutcomeStale, Stale: true}
	}

	image := l.placeholder
	if sc != nil {
		image = sc.Image
	}
	l.graph.SetSky(image)
	l.graph.ClearMarkers()
	for _, m := range markers {
		l.graph.AddMarker(m)
	}

	l.metrics.observe(outcome)
	tracing.SetAttributes(ctx,
		tracing.AttrLoadOutcome.String(string(outcome)),
		tracing.AttrLoadMarkers.Int(len(markers)),
	)
	return Result{Token: token, Scene: sc, Markers: markers, Outcome: outcome}
}

func (l *Loader) resolve(ctx context.Context, req Request) (*scene.Scene, Outcome) {
	if req.SceneID != "" {
		sc, err := l.source.FindScene(ctx, req.ScenarioID, req.SceneID)
		switch {
		case err == nil:
			return sc, OutcomeRequested
		case errors.Is(err, scene.ErrSceneNotFound):
			l.logger.InfoContext(ctx, "requested scene not found, falling back",
				"scenario_id", req.ScenarioID,
				"scene_id", req.SceneID,
			)
		default:
			l.logger.WarnContext(ctx, "failed to read requested scene, falling back",
				"scenario_id", req.ScenarioID,
				"scene_id", req.SceneID,
				"error", err,
			)
		}
	}

	scenes, err := l.source.ListScenes(ctx, req.ScenarioID)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to list scenes, showing placeholder",
			"scenario_id", req.ScenarioID,
			"error", err,
		)
		return nil, OutcomePlaceholder
	}
	if len(scenes) == 0 {
		l.logger.InfoContext(ctx, "scenario has no scenes, showing placeholder",
			"scenario_id", req.ScenarioID,
		)
		return nil, OutcomePlaceholder
	}

	first := scenes[0]
	if req.SceneID == "" {
		return &first, OutcomeDefault
	}
	return &first, OutcomeFallback
}
