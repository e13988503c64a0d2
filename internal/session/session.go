// Package session ties one user's tour view together: the scenario and scene
// being shown, edit mode, the display frame and the editor acting on it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/panotour/internal/coord"
	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/hotspot"
	"github.com/onnwee/panotour/internal/loader"
	"github.com/onnwee/panotour/internal/persist"
	"github.com/onnwee/panotour/internal/render"
	"github.com/onnwee/panotour/internal/scene"
)

var (
	// ErrEditModeRequired is returned by authoring operations in view mode.
	ErrEditModeRequired = errors.New("edit mode required")

	// ErrMarkerNotFound is returned when a marker id is not on display.
	ErrMarkerNotFound = errors.New("marker not found")

	// ErrNoScene is returned when an operation needs a displayed scene.
	ErrNoScene = errors.New("no scene displayed")
)

// Catalog is the read side of the scene repository used by a session.
type Catalog interface {
	loader.Source
	ListScenarios(ctx context.Context) ([]scene.Scenario, error)
	GetScenario(ctx context.Context, id string) (*scene.Scenario, error)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Catalog     Catalog
	Adapter     *persist.Adapter
	Metrics     *loader.Metrics
	Placeholder string
	Policy      editor.ReselectPolicy
	Logger      *slog.Logger
}

// Stage is a partial update of the staged placement.
type Stage struct {
	Position *coord.Spherical `json:"position,omitempty"`
	Size     *float64         `json:"size,omitempty"`
}

// View is what a client needs to draw the tour.
type View struct {
	ScenarioID  string          `json:"scenarioId"`
	SceneID     string          `json:"sceneId"`
	SceneName   string          `json:"sceneName,omitempty"`
	Edit        bool            `json:"edit"`
	Display     render.View     `json:"display"`
	EditorState string          `json:"editorState"`
	Editor      editor.Snapshot `json:"editor"`
}

// Session is one user's tour context. It is safe for concurrent use.
type Session struct {
	id      string
	catalog Catalog
	logger  *slog.Logger

	frame   *render.Frame
	loader  *loader.Loader
	editor  *editor.Editor
	adapter *persist.Adapter
	alerts  *persist.Alerts

	mu         sync.Mutex
	scenarioID string
	sceneID    string
	sceneName  string
	loadToken  uint64 // token of the load that set sceneID
	edit       bool
	lastSeen   time.Time
}

// New creates a session rendering to sink. sink may be nil.
func New(id string, deps Deps, sink render.Sink) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	s := &Session{
		id:       id,
		catalog:  deps.Catalog,
		logger:   logger,
		frame:    render.NewFrame(sink),
		alerts:   &persist.Alerts{},
		lastSeen: time.Now(),
	}
	s.adapter = deps.Adapter.WithNotifier(s.alerts)
	s.loader = loader.New(deps.Catalog, s.frame, s,
		loader.WithPlaceholder(deps.Placeholder),
		loader.WithMetrics(deps.Metrics),
		loader.WithLogger(logger),
	)
	s.editor = editor.New(s.frame, s.adapter,
		editor.WithReselectPolicy(deps.Policy),
		editor.WithLogger(logger),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Frame returns the session's display.
func (s *Session) Frame() *render.Frame {
	return s.frame
}

// Alerts returns the session's pending notices.
func (s *Session) Alerts() *persist.Alerts {
	return s.alerts
}

// State returns the persistable part of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ScenarioID: s.scenarioID,
		SceneID:    s.sceneID,
		Edit:       s.edit,
		UpdatedAt:  s.lastSeen,
	}
}

// Restore applies previously persisted state without loading anything.
func (s *Session) Restore(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarioID = st.ScenarioID
	s.sceneID = st.SceneID
	s.edit = st.Edit
}

// Edit reports whether edit mode is on.
func (s *Session) Edit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit
}

// ScenarioID returns the selected scenario.
func (s *Session) ScenarioID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenarioID
}

// SceneID returns the displayed scene, or "" for the placeholder.
func (s *Session) SceneID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sceneID
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) requireEdit() error {
	if !s.Edit() {
		return ErrEditModeRequired
	}
	return nil
}

// Open shows sceneID (or the scenario's first scene when empty) with the given
// mode. Without a selected scenario the first stored scenario is used.
func (s *Session) Open(ctx context.Context, sceneID string, edit bool) loader.Result {
	s.touch()
	s.mu.Lock()
	s.edit = edit
	scenarioID := s.scenarioID
	s.mu.Unlock()

	if scenarioID == "" {
		scenarioID = s.defaultScenario(ctx)
		s.mu.Lock()
		s.scenarioID = scenarioID
		s.mu.Unlock()
	}
	return s.load(ctx, scenarioID, sceneID, edit)
}

func (s *Session) defaultScenario(ctx context.Context) string {
	scenarios, err := s.catalog.ListScenarios(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list scenarios", "error", err)
		return ""
	}
	if len(scenarios) == 0 {
		return ""
	}
	return scenarios[0].ID
}

func (s *Session) load(ctx context.Context, scenarioID, sceneID string, edit bool) loader.Result {
	s.editor.Reset()
	res := s.loader.Load(ctx, loader.Request{ScenarioID: scenarioID, SceneID: sceneID, Edit: edit})
	s.record(res)
	return res
}

// record adopts the scene of an applied load. Loads apply in token order, so
// a result older than the one already recorded is ignored.
func (s *Session) record(res loader.Result) {
	if res.Stale {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Token < s.loadToken {
		return
	}
	s.loadToken = res.Token
	s.sceneID = res.SceneID()
	s.sceneName = ""
	if res.Scene != nil {
		s.sceneName = res.Scene.Name
	}
}

// Reload rebuilds the current scene from the store.
func (s *Session) Reload(ctx context.Context) loader.Result {
	s.mu.Lock()
	scenarioID, sceneID, edit := s.scenarioID, s.sceneID, s.edit
	s.mu.Unlock()
	return s.load(ctx, scenarioID, sceneID, edit)
}

// Navigate shows another scene of the current scenario. A staged edit is
// dropped. It implements hotspot.ClickHandler.
func (s *Session) Navigate(ctx context.Context, sceneID string) error {
	s.touch()
	s.mu.Lock()
	scenarioID, edit := s.scenarioID, s.edit
	s.mu.Unlock()
	s.load(ctx, scenarioID, sceneID, edit)
	return nil
}

// Select makes m the edited marker. The marker is re-read from the display so
// a stale copy never becomes the edit baseline. It implements
// hotspot.ClickHandler.
func (s *Session) Select(ctx context.Context, m hotspot.Marker) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	current, ok := s.frame.Marker(m.ID)
	if !ok {
		return ErrMarkerNotFound
	}
	return s.editor.Select(ctx, current)
}

// SelectMarker selects a displayed marker by id.
func (s *Session) SelectMarker(ctx context.Context, markerID string) error {
	return s.Select(ctx, hotspot.Marker{ID: markerID})
}

// Click runs a displayed marker's click behaviour.
func (s *Session) Click(ctx context.Context, markerID string) error {
	s.touch()
	m, ok := s.frame.Marker(markerID)
	if !ok {
		return ErrMarkerNotFound
	}
	return m.Click(ctx)
}

// Stage changes the staged position and/or size.
func (s *Session) Stage(ctx context.Context, st Stage) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	if st.Position != nil {
		if err := s.editor.SetPosition(ctx, *st.Position); err != nil {
			return err
		}
	}
	if st.Size != nil {
		if err := s.editor.SetSize(ctx, *st.Size); err != nil {
			return err
		}
	}
	return nil
}

// Pick stages the direction of a picked scene point.
func (s *Session) Pick(ctx context.Context, v coord.Vec3) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	return s.editor.Pick(ctx, v)
}

// SaveEdit persists the staged edit and reloads the scene on success. On
// failure the edit stays staged.
func (s *Session) SaveEdit(ctx context.Context) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	if err := s.editor.Save(ctx); err != nil {
		return err
	}
	s.Reload(ctx)
	return nil
}

// CancelEdit reverts the selected marker to its last saved placement.
func (s *Session) CancelEdit(ctx context.Context) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	return s.editor.Cancel(ctx)
}

// EditorSnapshot returns the editor state.
func (s *Session) EditorSnapshot() editor.Snapshot {
	return s.editor.Snapshot()
}

// SaveAllPositions persists the displayed placement of every marker in one
// batch, including a staged edit.
func (s *Session) SaveAllPositions(ctx context.Context) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	markers := s.frame.Markers()
	placements := make([]scene.Placement, 0, len(markers))
	for _, m := range markers {
		placements = append(placements, m.Placement())
	}
	if err := s.adapter.SaveAll(ctx, placements); err != nil {
		return err
	}
	s.Reload(ctx)
	return nil
}

// SelectScenario switches to another scenario and shows its first scene.
func (s *Session) SelectScenario(ctx context.Context, scenarioID string) (loader.Result, error) {
	s.touch()
	if _, err := s.catalog.GetScenario(ctx, scenarioID); err != nil {
		return loader.Result{}, err
	}
	s.mu.Lock()
	s.scenarioID = scenarioID
	edit := s.edit
	s.mu.Unlock()
	return s.load(ctx, scenarioID, "", edit), nil
}

// CreateHotspot adds a hotspot on the displayed scene linking to
// targetSceneID and reloads the scene.
func (s *Session) CreateHotspot(ctx context.Context, targetSceneID, text string) (*scene.Hotspot, error) {
	if err := s.requireEdit(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	scenarioID, sceneID := s.scenarioID, s.sceneID
	s.mu.Unlock()
	if sceneID == "" {
		return nil, ErrNoScene
	}

	created, err := s.adapter.CreateHotspot(ctx, scene.Hotspot{
		ScenarioID:    scenarioID,
		SourceSceneID: sceneID,
		TargetSceneID: strings.TrimSpace(targetSceneID),
		Text:          text,
	})
	if err != nil {
		return nil, err
	}
	s.Reload(ctx)
	return created, nil
}

// DeleteHotspot removes a hotspot and reloads the scene.
func (s *Session) DeleteHotspot(ctx context.Context, id string) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	if err := s.adapter.DeleteHotspot(ctx, id); err != nil {
		return err
	}
	s.Reload(ctx)
	return nil
}

// ListScenes returns the scenes of the selected scenario.
func (s *Session) ListScenes(ctx context.Context) ([]scene.Scene, error) {
	return s.catalog.ListScenes(ctx, s.ScenarioID())
}

// CreateScene adds a scene to the selected scenario.
func (s *Session) CreateScene(ctx context.Context, name, image string) (*scene.Scene, error) {
	if err := s.requireEdit(); err != nil {
		return nil, err
	}
	return s.adapter.CreateScene(ctx, s.ScenarioID(), name, image)
}

// RenameScene renames a scene of the selected scenario.
func (s *Session) RenameScene(ctx context.Context, sceneID, name string) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	if err := s.adapter.RenameScene(ctx, s.ScenarioID(), sceneID, name); err != nil {
		return err
	}
	if sceneID == s.SceneID() {
		s.mu.Lock()
		s.sceneName = strings.TrimSpace(name)
		s.mu.Unlock()
	}
	return nil
}

// DeleteScene removes a scene and the hotspots referencing it, then reloads
// the display.
func (s *Session) DeleteScene(ctx context.Context, sceneID string) error {
	if err := s.requireEdit(); err != nil {
		return err
	}
	if err := s.adapter.DeleteScene(ctx, s.ScenarioID(), sceneID); err != nil {
		return err
	}
	s.Reload(ctx)
	return nil
}

// CreateScenario adds a scenario. The session stays on its current one.
func (s *Session) CreateScenario(ctx context.Context, name string) (*scene.Scenario, error) {
	if err := s.requireEdit(); err != nil {
		return nil, err
	}
	return s.adapter.CreateScenario(ctx, name)
}

// Snapshot returns the current view.
func (s *Session) Snapshot() View {
	snap := s.editor.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ScenarioID:  s.scenarioID,
		SceneID:     s.sceneID,
		SceneName:   s.sceneName,
		Edit:        s.edit,
		Display:     s.frame.Snapshot(),
		EditorState: snap.State.String(),
		Editor:      snap,
	}
}
