// Package hotspot turns stored hotspot records into placed, clickable markers.
package hotspot

import (
	"context"

	"github.com/onnwee/panotour/internal/coord"
	"github.com/onnwee/panotour/internal/scene"
)

// Marker appearance defaults.
const (
	DefaultRadius = scene.DefaultPlacementRadius
	DefaultSize   = scene.DefaultMarkerSize

	// LabelScale is the text scale of the label drawn above a marker.
	LabelScale = 0.5
)

// LabelOffset is where the label sits relative to its marker.
var LabelOffset = coord.Vec3{Y: 0.4}

// ClickHandler receives marker clicks. In view mode a click navigates to the
// target scene; in edit mode it selects the marker for editing.
type ClickHandler interface {
	Navigate(ctx context.Context, sceneID string) error
	Select(ctx context.Context, m Marker) error
}

// Marker is a hotspot resolved for display.
type Marker struct {
	ID            string          `json:"id"`
	TargetSceneID string          `json:"targetSceneId"`
	Label         string          `json:"label"`
	Position      coord.Vec3      `json:"position"`
	Angles        coord.Spherical `json:"angles"`
	Size          float64         `json:"size"`

	OnClick func(ctx context.Context) error `json:"-"`
}

// Placement returns the marker's current angles and size as a storable placement.
func (m Marker) Placement() scene.Placement {
	return scene.Placement{HotspotID: m.ID, Position: m.Angles, Size: m.Size}
}

// Click invokes the marker's click behaviour, if any.
func (m Marker) Click(ctx context.Context) error {
	if m.OnClick == nil {
		return nil
	}
	return m.OnClick(ctx)
}

// Resolve returns the display position and authoring angles for a stored
// coordination. Legacy cartesian positions are kept as given and their angles
// derived; unset coordinations fall back to straight ahead at DefaultRadius.
func Resolve(c scene.Coordination) (coord.Vec3, coord.Spherical) {
	if s, ok := c.Spherical(); ok {
		return coord.ToCartesian(s), s
	}
	if v, ok := c.Cartesian(); ok {
		return v, coord.ToSpherical(v).Rounded()
	}
	s := coord.Spherical{Radius: DefaultRadius}
	return coord.ToCartesian(s), s
}

// Builder builds markers for one scene load.
type Builder struct {
	handler ClickHandler
	edit    bool
}

// NewBuilder creates a builder. Clicks are routed to handler, which may be nil
// for non-interactive rendering.
func NewBuilder(handler ClickHandler, edit bool) *Builder {
	return &Builder{handler: handler, edit: edit}
}

// Build resolves a hotspot into a marker. It never fails.
func (b *Builder) Build(h scene.Hotspot) Marker {
	pos, angles := Resolve(h.Coordination)
	m := Marker{
		ID:            h.ID,
		TargetSceneID: h.TargetSceneID,
		Label:         h.Text,
		Position:      pos,
		Angles:        angles,
		Size:          h.Size.OrDefault(),
	}

	if b.handler == nil {
		return m
	}
	if b.edit {
		selected := m
		m.OnClick = func(ctx context.Context) error {
			return b.handler.Select(ctx, selected)
		}
	} else {
		target := h.TargetSceneID
		m.OnClick = func(ctx context.Context) error {
			return b.handler.Navigate(ctx, target)
		}
	}
	return m
}

// BuildAll builds a marker for every hotspot, preserving order.
func (b *Builder) BuildAll(hotspots []scene.Hotspot) []Marker {
	out := make([]Marker, 0, len(hotspots))
	for _, h := range hotspots {
		out = append(out, b.Build(h))
	}
	return out
}
