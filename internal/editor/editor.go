// Package editor holds the staged edit of a single marker. A marker is
// selected, its placement is changed locally (and re-rendered immediately),
// and the change is either saved through a Persister or cancelled back to the
// last persisted placement.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/panotour/internal/coord"
	"github.com/onnwee/panotour/internal/hotspot"
	"github.com/onnwee/panotour/internal/render"
	"github.com/onnwee/panotour/internal/scene"
)

// ErrNothingSelected is returned by operations that need a selected marker.
var ErrNothingSelected = errors.New("no marker selected")

// State is the editor state.
type State int

const (
	// Idle means no marker is selected.
	Idle State = iota
	// Selected means one marker has a staged edit.
	Selected
)

func (s State) String() string {
	if s == Selected {
		return "selected"
	}
	return "idle"
}

// ReselectPolicy decides what happens to a pending edit when another marker
// is selected.
type ReselectPolicy int

const (
	// DiscardPrevious reverts the previous marker to its last saved placement.
	DiscardPrevious ReselectPolicy = iota
	// SavePrevious persists the previous edit first and aborts the new
	// selection if that save fails.
	SavePrevious
)

// ParseReselectPolicy maps a configuration value to a policy.
func ParseReselectPolicy(s string) (ReselectPolicy, error) {
	switch s {
	case "", "discard":
		return DiscardPrevious, nil
	case "save":
		return SavePrevious, nil
	default:
		return DiscardPrevious, fmt.Errorf("unknown reselect policy %q", s)
	}
}

// Staged is the local, not yet persisted placement of the selected marker.
type Staged struct {
	MarkerID string          `json:"markerId"`
	Position coord.Spherical `json:"position"`
	Size     float64         `json:"size"`
}

// Placement converts the staged edit for persistence.
func (s Staged) Placement() scene.Placement {
	return scene.Placement{HotspotID: s.MarkerID, Position: s.Position, Size: s.Size}
}

// Persister writes a placement to durable storage.
type Persister interface {
	SavePlacement(ctx context.Context, p scene.Placement) error
}

// EventKind identifies an editor event.
type EventKind int

const (
	EventSelect EventKind = iota
	EventSetPosition
	EventSetSize
	EventPick
	EventSave
	EventCancel
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventSelect:
		return "select"
	case EventSetPosition:
		return "set_position"
	case EventSetSize:
		return "set_size"
	case EventPick:
		return "pick"
	case EventSave:
		return "save"
	case EventCancel:
		return "cancel"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an input to Apply. Only the fields relevant to Kind are read.
type Event struct {
	Kind     EventKind
	Marker   hotspot.Marker  // EventSelect
	Position coord.Spherical // EventSetPosition
	Size     float64         // EventSetSize
	Point    coord.Vec3      // EventPick
}

// Snapshot is the externally visible editor state.
type Snapshot struct {
	State  State   `json:"-"`
	Staged *Staged `json:"staged,omitempty"`
}

// Option configures an Editor.
type Option func(*Editor)

// WithReselectPolicy sets the reselect policy.
func WithReselectPolicy(p ReselectPolicy) Option {
	return func(e *Editor) { e.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) { e.logger = l }
}

// Editor is the staged-edit state machine. At most one edit is staged at a
// time. It is safe for concurrent use; transitions are serialised.
type Editor struct {
	mu        sync.Mutex
	graph     render.SceneGraph
	persister Persister
	policy    ReselectPolicy
	logger    *slog.Logger

	state    State
	staged   Staged
	baseline Staged
}

// New creates an idle editor rendering to graph and saving through persister.
func New(graph render.SceneGraph, persister Persister, opts ...Option) *Editor {
	e := &Editor{
		graph:     graph,
		persister: persister,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Staged returns the staged edit, if any.
func (e *Editor) Staged() (Staged, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged, e.state == Selected
}

// Snapshot returns the current state and staged edit.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{State: e.state}
	if e.state == Selected {
		staged := e.staged
		snap.Staged = &staged
	}
	return snap
}

// Apply runs one transition.
func (e *Editor) Apply(ctx context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case EventSelect:
		return e.selectLocked(ctx, ev.Marker)
	case EventSetPosition:
		return e.stageLocked(ev.Position, e.staged.Size)
	case EventSetSize:
		return e.stageLocked(e.staged.Position, ev.Size)
	case EventPick:
		return e.stageLocked(coord.ToSpherical(ev.Point).Rounded(), e.staged.Size)
	case EventSave:
		return e.saveLocked(ctx)
	case EventCancel:
		e.cancelLocked()
		return nil
	case EventReset:
		e.resetLocked()
		return nil
	default:
		return fmt.Errorf("unknown editor event %s", ev.Kind)
	}
}

// Select makes m the edited marker.
func (e *Editor) Select(ctx context.Context, m hotspot.Marker) error {
	return e.Apply(ctx, Event{Kind: EventSelect, Marker: m})
}

// SetPosition stages new angles for the selected marker.
func (e *Editor) SetPosition(ctx context.Context, s coord.Spherical) error {
	return e.Apply(ctx, Event{Kind: EventSetPosition, Position: s})
}

// SetSize stages a new size for the selected marker.
func (e *Editor) SetSize(ctx context.Context, size float64) error {
	return e.Apply(ctx, Event{Kind: EventSetSize, Size: size})
}

// Pick stages the angles of a picked scene point.
func (e *Editor) Pick(ctx context.Context, v coord.Vec3) error {
	return e.Apply(ctx, Event{Kind: EventPick, Point: v})
}

// Save persists the staged edit.
func (e *Editor) Save(ctx context.Context) error {
	return e.Apply(ctx, Event{Kind: EventSave})
}

// Cancel reverts the selected marker to its last saved placement.
func (e *Editor) Cancel(ctx context.Context) error {
	return e.Apply(ctx, Event{Kind: EventCancel})
}

// Reset drops the staged edit without touching the display.
func (e *Editor) Reset() {
	_ = e.Apply(context.Background(), Event{Kind: EventReset})
}

func (e *Editor) selectLocked(ctx context.Context, m hotspot.Marker) error {
	if e.state == Selected {
		if e.staged.MarkerID == m.ID {
			return nil
		}
		switch e.policy {
		case SavePrevious:
			if err := e.saveLocked(ctx); err != nil {
				return fmt.Errorf("save previous edit: %w", err)
			}
		default:
			e.cancelLocked()
		}
	}

	e.baseline = Staged{MarkerID: m.ID, Position: m.Angles, Size: m.Size}
	e.staged = e.baseline
	e.state = Selected
	e.graph.Highlight(m.ID, true)
	e.logger.Debug("marker selected", slog.String("marker_id", m.ID))
	return nil
}

func (e *Editor) stageLocked(pos coord.Spherical, size float64) error {
	if e.state != Selected {
		return ErrNothingSelected
	}
	e.staged.Position = pos
	e.staged.Size = size
	e.graph.PlaceMarker(e.staged.MarkerID, pos, size)
	return nil
}

func (e *Editor) saveLocked(ctx context.Context) error {
	if e.state != Selected {
		return ErrNothingSelected
	}
	if err := e.persister.SavePlacement(ctx, e.staged.Placement()); err != nil {
		// staged edit is kept so the user can retry
		return err
	}
	e.graph.Highlight(e.staged.MarkerID, false)
	e.baseline = e.staged
	e.state = Idle
	e.staged = Staged{}
	return nil
}

func (e *Editor) cancelLocked() {
	if e.state != Selected {
		return
	}
	e.graph.PlaceMarker(e.baseline.MarkerID, e.baseline.Position, e.baseline.Size)
	e.graph.Highlight(e.baseline.MarkerID, false)
	e.resetLocked()
}

func (e *Editor) resetLocked() {
	e.state = Idle
	e.staged = Staged{}
	e.baseline = Staged{}
}
