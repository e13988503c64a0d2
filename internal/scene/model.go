// Package scene provides the tour data model (scenarios, scenes, hotspots)
// and a typed repository over the document store.
package scene

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/panotour/internal/coord"
)

// Placement defaults applied when a record carries no usable position.
const (
	DefaultPlacementRadius = 10.0
	DefaultMarkerSize      = 0.2
)

// Scenario is a namespace grouping a related set of scenes and hotspots.
type Scenario struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Scene is one panorama of a scenario. SceneID is unique within the scenario
// and is what hotspots reference.
type Scene struct {
	ID         string `json:"id"`
	ScenarioID string `json:"scenarioId"`
	SceneID    string `json:"sceneId"`
	Name       string `json:"name"`
	Image      string `json:"image"`
}

// Hotspot is a navigation marker placed on a source scene.
type Hotspot struct {
	ID            string       `json:"id"`
	ScenarioID    string       `json:"scenarioId"`
	SourceSceneID string       `json:"sourceSceneId"`
	TargetSceneID string       `json:"targetSceneId"`
	Text          string       `json:"text"`
	Coordination  Coordination `json:"coordination"`
	Size          Length       `json:"size"`
}

// Placement is a hotspot position and size ready to be persisted.
type Placement struct {
	HotspotID string          `json:"hotspotId"`
	Position  coord.Spherical `json:"position"`
	Size      float64         `json:"size"`
}

// Kind tags which encoding a Coordination holds.
type Kind int

const (
	// KindUnset means the record has no usable position.
	KindUnset Kind = iota
	// KindSpherical is the {yaw, pitch, radius} object form.
	KindSpherical
	// KindLegacyCartesian is the "x y z" string form written by older tours.
	KindLegacyCartesian
)

func (k Kind) String() string {
	switch k {
	case KindSpherical:
		return "spherical"
	case KindLegacyCartesian:
		return "legacy_cartesian"
	default:
		return "unset"
	}
}

// Coordination is the stored position of a hotspot. Exactly one encoding is
// active; it is decided once when the record is decoded.
type Coordination struct {
	kind      Kind
	spherical coord.Spherical
	cartesian coord.Vec3
}

// SphericalCoordination wraps a spherical placement.
func SphericalCoordination(s coord.Spherical) Coordination {
	return Coordination{kind: KindSpherical, spherical: s}
}

// LegacyCoordination wraps a cartesian "x y z" position.
func LegacyCoordination(v coord.Vec3) Coordination {
	return Coordination{kind: KindLegacyCartesian, cartesian: v}
}

// Unset returns the empty coordination.
func Unset() Coordination {
	return Coordination{}
}

// Kind reports the active encoding.
func (c Coordination) Kind() Kind {
	return c.kind
}

// Spherical returns the spherical placement if that is the active encoding.
func (c Coordination) Spherical() (coord.Spherical, bool) {
	return c.spherical, c.kind == KindSpherical
}

// Cartesian returns the legacy position if that is the active encoding.
func (c Coordination) Cartesian() (coord.Vec3, bool) {
	return c.cartesian, c.kind == KindLegacyCartesian
}

// Value returns the representation written to the document store.
func (c Coordination) Value() any {
	switch c.kind {
	case KindSpherical:
		return map[string]any{
			"yaw":    c.spherical.Yaw,
			"pitch":  c.spherical.Pitch,
			"radius": c.spherical.Radius,
		}
	case KindLegacyCartesian:
		return c.cartesian.String()
	default:
		return nil
	}
}

// MarshalJSON writes the active encoding.
func (c Coordination) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Value())
}

// UnmarshalJSON sniffs the stored shape. It never fails: anything that is not
// a usable object or "x y z" string decodes as Unset.
func (c *Coordination) UnmarshalJSON(data []byte) error {
	*c = Unset()

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		v, err := coord.ParseVec3(s)
		if err != nil {
			return nil
		}
		*c = LegacyCoordination(v)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		s := coord.Spherical{Radius: DefaultPlacementRadius}
		for key, dst := range map[string]*float64{"yaw": &s.Yaw, "pitch": &s.Pitch, "radius": &s.Radius} {
			raw, ok := obj[key]
			if !ok || isNull(raw) {
				continue
			}
			f, ok := coerceFloat(raw)
			if !ok {
				return nil
			}
			*dst = f
		}
		*c = SphericalCoordination(s)
	}
	return nil
}

// Length is a non-negative scene-unit measure decoded with numeric coercion.
// Zero means "not set".
type Length float64

// UnmarshalJSON accepts numbers and numeric strings; anything else is zero.
func (l *Length) UnmarshalJSON(data []byte) error {
	*l = 0
	f, ok := coerceFloat(data)
	if ok && f > 0 {
		*l = Length(f)
	}
	return nil
}

// OrDefault returns the length, or the default marker size when unset.
func (l Length) OrDefault() float64 {
	if l <= 0 {
		return DefaultMarkerSize
	}
	return float64(l)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// coerceFloat reads a JSON number or a string holding a number.
func coerceFloat(raw []byte) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || f != f {
			return 0, false
		}
		return f, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// CompareSceneIDs orders scene ids numerically when both are integers, puts
// numeric ids before non-numeric ones, and falls back to string order.
func CompareSceneIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
