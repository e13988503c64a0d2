// Package render is the boundary to the browser's scene graph. Frame keeps
// the server-side view of what is displayed and mirrors every command to a
// Sink, normally a websocket Hub that the browser replays.
package render

import (
	"sync"

	"github.com/onnwee/panotour/internal/coord"
	"github.com/onnwee/panotour/internal/hotspot"
)

// SceneGraph is the set of display commands the tour issues.
type SceneGraph interface {
	SetSky(image string)
	ClearMarkers()
	AddMarker(m hotspot.Marker)
	PlaceMarker(id string, angles coord.Spherical, size float64)
	Highlight(id string, on bool)
}

// Command ops.
const (
	OpSky       = "sky"
	OpClear     = "clear"
	OpAdd       = "add"
	OpPlace     = "place"
	OpHighlight = "highlight"
)

// Command is one scene-graph instruction as sent to the browser.
type Command struct {
	Op       string           `json:"op"`
	Image    string           `json:"image,omitempty"`
	Marker   *hotspot.Marker  `json:"marker,omitempty"`
	ID       string           `json:"id,omitempty"`
	Position *coord.Vec3      `json:"position,omitempty"`
	Angles   *coord.Spherical `json:"angles,omitempty"`
	Size     float64          `json:"size,omitempty"`
	On       *bool            `json:"on,omitempty"`
}

// Sink receives mirrored commands.
type Sink interface {
	Send(cmd Command)
}

// LabelStyle describes how marker labels are drawn.
type LabelStyle struct {
	Offset coord.Vec3 `json:"offset"`
	Scale  float64    `json:"scale"`
}

// View is a point-in-time copy of the display.
type View struct {
	Sky         string           `json:"sky"`
	Markers     []hotspot.Marker `json:"markers"`
	Highlighted string           `json:"highlighted,omitempty"`
	Label       LabelStyle       `json:"label"`
}

// Frame is an in-memory SceneGraph. It is safe for concurrent use.
type Frame struct {
	mu          sync.RWMutex
	sky         string
	order       []string
	markers     map[string]hotspot.Marker
	highlighted string
	sink        Sink
}

// NewFrame creates an empty frame. sink may be nil.
func NewFrame(sink Sink) *Frame {
	return &Frame{
		markers: make(map[string]hotspot.Marker),
		sink:    sink,
	}
}

func (f *Frame) emit(cmd Command) {
	if f.sink != nil {
		f.sink.Send(cmd)
	}
}

// SetSky swaps the panorama image.
func (f *Frame) SetSky(image string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sky = image
	f.emit(Command{Op: OpSky, Image: image})
}

// ClearMarkers removes every marker and any highlight.
func (f *Frame) ClearMarkers() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.order = nil
	f.markers = make(map[string]hotspot.Marker)
	f.highlighted = ""
	f.emit(Command{Op: OpClear})
}

// AddMarker adds a marker, replacing one with the same id.
func (f *Frame) AddMarker(m hotspot.Marker) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.markers[m.ID]; !exists {
		f.order = append(f.order, m.ID)
	}
	f.markers[m.ID] = m
	f.emit(Command{Op: OpAdd, Marker: &m})
}

// PlaceMarker moves and resizes a marker. Unknown ids are ignored.
func (f *Frame) PlaceMarker(id string, angles coord.Spherical, size float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.markers[id]
	if !ok {
		return
	}
	m.Angles = angles
	m.Position = coord.ToCartesian(angles)
	m.Size = size
	f.markers[id] = m

	pos := m.Position
	f.emit(Command{Op: OpPlace, ID: id, Position: &pos, Angles: &angles, Size: size})
}

// Highlight toggles the selection highlight. At most one marker is
// highlighted; turning off a marker that is not highlighted is a no-op.
func (f *Frame) Highlight(id string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case on:
		f.highlighted = id
	case f.highlighted == id:
		f.highlighted = ""
	default:
		return
	}
	f.emit(Command{Op: OpHighlight, ID: id, On: &on})
}

// Sky returns the current panorama image.
func (f *Frame) Sky() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sky
}

// Highlighted returns the highlighted marker id, or "".
func (f *Frame) Highlighted() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.highlighted
}

// Marker returns the displayed marker with the given id.
func (f *Frame) Marker(id string) (hotspot.Marker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.markers[id]
	return m, ok
}

// Markers returns the displayed markers in insertion order.
func (f *Frame) Markers() []hotspot.Marker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.markersLocked()
}

func (f *Frame) markersLocked() []hotspot.Marker {
	out := make([]hotspot.Marker, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.markers[id])
	}
	return out
}

// Snapshot copies the current display.
func (f *Frame) Snapshot() View {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return View{
		Sky:         f.sky,
		Markers:     f.markersLocked(),
		Highlighted: f.highlighted,
		Label:       LabelStyle{Offset: hotspot.LabelOffset, Scale: hotspot.LabelScale},
	}
}
