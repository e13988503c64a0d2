package coord

import (
	"errors"
	"math"
	"testing"
)

func angleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d > 180 {
		d -= 360
	}
	if d < -180 {
		d += 360
	}
	return math.Abs(d)
}

// TestToCartesian_Axes checks the orientation conventions.
func TestToCartesian_Axes(t *testing.T) {
	tests := []struct {
		name string
		in   Spherical
		want Vec3
	}{
		{name: "forward", in: Spherical{Yaw: 0, Pitch: 0, Radius: 10}, want: Vec3{X: 0, Y: 0, Z: -10}},
		{name: "right", in: Spherical{Yaw: 90, Pitch: 0, Radius: 10}, want: Vec3{X: 10, Y: 0, Z: 0}},
		{name: "behind", in: Spherical{Yaw: 180, Pitch: 0, Radius: 10}, want: Vec3{X: 0, Y: 0, Z: 10}},
		{name: "left", in: Spherical{Yaw: -90, Pitch: 0, Radius: 10}, want: Vec3{X: -10, Y: 0, Z: 0}},
		{name: "up", in: Spherical{Yaw: 0, Pitch: 90, Radius: 5}, want: Vec3{X: 0, Y: 5, Z: 0}},
		{name: "down", in: Spherical{Yaw: 45, Pitch: -90, Radius: 5}, want: Vec3{X: 0, Y: -5, Z: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToCartesian(tt.in).Rounded()
			if got != tt.want {
				t.Errorf("ToCartesian(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

// TestRoundTrip sweeps the authoring range and checks the inverse transform
// reproduces the input after 2-decimal rounding.
func TestRoundTrip(t *testing.T) {
	for yaw := -179.0; yaw <= 180; yaw += 7 {
		for pitch := -89.0; pitch <= 89; pitch += 11 {
			for _, radius := range []float64{0.5, 1, 10, 42.25, 100} {
				in := Spherical{Yaw: yaw, Pitch: pitch, Radius: radius}
				out := ToSpherical(ToCartesian(in)).Rounded()

				if math.Abs(out.Radius-radius) > 0.01 {
					t.Fatalf("radius: in=%+v out=%+v", in, out)
				}
				if math.Abs(out.Pitch-pitch) > 0.01 {
					t.Fatalf("pitch: in=%+v out=%+v", in, out)
				}
				if angleDiff(out.Yaw, yaw) > 0.01 {
					t.Fatalf("yaw: in=%+v out=%+v", in, out)
				}
			}
		}
	}
}

// TestRoundTrip_Boundaries covers the ends of the authoring range explicitly.
func TestRoundTrip_Boundaries(t *testing.T) {
	cases := []Spherical{
		{Yaw: 180, Pitch: 0, Radius: 10},
		{Yaw: -179, Pitch: 89, Radius: 100},
		{Yaw: 12.34, Pitch: -56.78, Radius: 0.01},
	}
	for _, in := range cases {
		out := ToSpherical(ToCartesian(in)).Rounded()
		if angleDiff(out.Yaw, in.Yaw) > 0.01 || math.Abs(out.Pitch-in.Pitch) > 0.01 || math.Abs(out.Radius-in.Radius) > 0.01 {
			t.Errorf("round trip of %+v gave %+v", in, out)
		}
	}
}

// TestToSpherical_Poles checks that the degenerate pole case yields finite values.
func TestToSpherical_Poles(t *testing.T) {
	tests := []struct {
		name      string
		in        Vec3
		wantPitch float64
	}{
		{name: "north pole", in: Vec3{X: 0, Y: 10, Z: 0}, wantPitch: 90},
		{name: "south pole", in: Vec3{X: 0, Y: -10, Z: 0}, wantPitch: -90},
		{name: "near north pole", in: Vec3{X: 1e-12, Y: 10, Z: -1e-12}, wantPitch: 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToSpherical(tt.in)
			if math.IsNaN(got.Yaw) || math.IsInf(got.Yaw, 0) {
				t.Fatalf("yaw is not finite: %v", got.Yaw)
			}
			if math.IsNaN(got.Pitch) {
				t.Fatalf("pitch is NaN")
			}
			if Round2(got.Pitch) != tt.wantPitch {
				t.Errorf("pitch = %v, want %v", got.Pitch, tt.wantPitch)
			}
			if Round2(got.Radius) != 10 {
				t.Errorf("radius = %v, want 10", got.Radius)
			}
		})
	}
}

// TestToSpherical_Origin checks the zero-radius special case.
func TestToSpherical_Origin(t *testing.T) {
	got := ToSpherical(Vec3{})
	if got != (Spherical{}) {
		t.Errorf("ToSpherical(origin) = %+v, want zero value", got)
	}
}

// TestToSpherical_ClampsDomain guards against y/r drifting past 1.
func TestToSpherical_ClampsDomain(t *testing.T) {
	v := Vec3{X: 0, Y: 1.0000000000000002, Z: 0}
	got := ToSpherical(v)
	if math.IsNaN(got.Pitch) {
		t.Fatal("pitch is NaN")
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.234, 1.23},
		{1.236, 1.24},
		{-4.2000001, -4.2},
		{-0.001, 0},
		{0, 0},
	}
	for _, tt := range tests {
		got := Round2(tt.in)
		if got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got == 0 && math.Signbit(got) {
			t.Errorf("Round2(%v) returned negative zero", tt.in)
		}
	}
}

func TestParseVec3(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Vec3
		wantErr bool
	}{
		{name: "plain", in: "-4.20 1.50 -2.00", want: Vec3{X: -4.2, Y: 1.5, Z: -2}},
		{name: "integers", in: "4 1.5 1.1", want: Vec3{X: 4, Y: 1.5, Z: 1.1}},
		{name: "extra whitespace", in: "  -2   1.5\t4 ", want: Vec3{X: -2, Y: 1.5, Z: 4}},
		{name: "commas", in: "1,2,3", want: Vec3{X: 1, Y: 2, Z: 3}},
		{name: "unicode minus", in: "−4.20 1.50 −2.00", want: Vec3{X: -4.2, Y: 1.5, Z: -2}},
		{name: "too few", in: "1 2", wantErr: true},
		{name: "too many", in: "1 2 3 4", wantErr: true},
		{name: "not numbers", in: "a b c", wantErr: true},
		{name: "nan", in: "NaN 0 0", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVec3(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVec3) {
					t.Fatalf("expected ErrInvalidVec3, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseVec3(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestVec3_String(t *testing.T) {
	v := Vec3{X: -4.2000001, Y: 1.5, Z: -2}
	if got := v.String(); got != "-4.2 1.5 -2" {
		t.Errorf("String() = %q, want %q", got, "-4.2 1.5 -2")
	}
}
