// Package coord converts marker placements between the spherical form used for
// authoring (yaw/pitch/radius in degrees and scene units) and the cartesian
// form used by the scene graph.
//
// Conventions: yaw=0, pitch=0 points down the -Z axis (the camera's forward
// direction), yaw increases clockwise when seen from above, and pitch is
// positive above the horizon.
package coord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidVec3 is returned when a cartesian string cannot be parsed.
var ErrInvalidVec3 = errors.New("invalid cartesian coordinate")

// poleEpsilon is the horizontal magnitude below which yaw is undefined.
const poleEpsilon = 1e-9

// Spherical is an authoring placement: angles in degrees, radius in scene units.
type Spherical struct {
	Yaw    float64 `json:"yaw"`
	Pitch  float64 `json:"pitch"`
	Radius float64 `json:"radius"`
}

// Vec3 is a scene-graph position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ToCartesian converts a spherical placement to a scene-graph position.
func ToCartesian(s Spherical) Vec3 {
	yaw := s.Yaw * math.Pi / 180
	pitch := s.Pitch * math.Pi / 180
	return Vec3{
		X: s.Radius * math.Cos(pitch) * math.Sin(yaw),
		Y: s.Radius * math.Sin(pitch),
		Z: -s.Radius * math.Cos(pitch) * math.Cos(yaw),
	}
}

// ToSpherical converts a scene-graph position back to a spherical placement.
// The origin maps to the zero placement. At the poles yaw is reported as 0.
func ToSpherical(v Vec3) Spherical {
	radius := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	if radius == 0 {
		return Spherical{}
	}

	pitch := math.Asin(clamp(v.Y/radius, -1, 1))

	yaw := 0.0
	if math.Hypot(v.X, v.Z) > poleEpsilon*radius {
		yaw = math.Atan2(v.X, -v.Z)
	}

	return Spherical{
		Yaw:    yaw * 180 / math.Pi,
		Pitch:  pitch * 180 / math.Pi,
		Radius: radius,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round2 rounds to two decimal places, the precision used for display and
// storage. Negative zero is normalised to zero.
func Round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}

// Rounded returns the placement with every component rounded to two decimals.
func (s Spherical) Rounded() Spherical {
	return Spherical{Yaw: Round2(s.Yaw), Pitch: Round2(s.Pitch), Radius: Round2(s.Radius)}
}

// Rounded returns the position with every component rounded to two decimals.
func (v Vec3) Rounded() Vec3 {
	return Vec3{X: Round2(v.X), Y: Round2(v.Y), Z: Round2(v.Z)}
}

// String renders the position as an A-Frame attribute value, e.g. "-4.2 1.5 -2".
func (v Vec3) String() string {
	r := v.Rounded()
	return formatFloat(r.X) + " " + formatFloat(r.Y) + " " + formatFloat(r.Z)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ParseVec3 parses a whitespace separated "x y z" triple. Commas are accepted
// as separators as well.
func ParseVec3(s string) (Vec3, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})
	if len(fields) != 3 {
		return Vec3{}, fmt.Errorf("%w: want 3 components, got %d", ErrInvalidVec3, len(fields))
	}

	var out [3]float64
	for i, f := range fields {
		// U+2212 shows up in hand-edited records.
		f = strings.ReplaceAll(f, "−", "-")
		val, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
			return Vec3{}, fmt.Errorf("%w: component %d is %q", ErrInvalidVec3, i, f)
		}
		out[i] = val
	}
	return Vec3{X: out[0], Y: out[1], Z: out[2]}, nil
}
