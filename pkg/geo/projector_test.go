package geo

import (
	"errors"
	"math"
	"testing"
)

func TestProject(t *testing.T) {
	tests := []struct {
		lat, lon, radius float64
		want             Vec3
	}{
		{0, 0, 50, Vec3{X: 50, Y: 0, Z: 0}},
		{90, 0, 50, Vec3{X: 0, Y: 50, Z: 0}},
		{-90, 0, 50, Vec3{X: 0, Y: -50, Z: 0}},
		{0, 90, 50, Vec3{X: 0, Y: 0, Z: -50}},
		{0, -90, 50, Vec3{X: 0, Y: 0, Z: 50}},
		{0, 180, 10, Vec3{X: -10, Y: 0, Z: 0}},
	}

	for _, tt := range tests {
		got, err := Project(tt.lat, tt.lon, tt.radius)
		if err != nil {
			t.Fatalf("Project(%f, %f) failed: %v", tt.lat, tt.lon, err)
		}
		if math.Abs(got.X-tt.want.X) > 1e-9 || math.Abs(got.Y-tt.want.Y) > 1e-9 || math.Abs(got.Z-tt.want.Z) > 1e-9 {
			t.Errorf("Project(%f, %f, %f) = %+v; want %+v", tt.lat, tt.lon, tt.radius, got, tt.want)
		}
	}
}

func TestProjectStaysOnSphere(t *testing.T) {
	for lat := -90.0; lat <= 90; lat += 7.5 {
		for lon := -180.0; lon <= 180; lon += 11.25 {
			v, err := Project(lat, lon, 51)
			if err != nil {
				t.Fatalf("Project(%f, %f) failed: %v", lat, lon, err)
			}
			if math.Abs(v.Length()-51) > 1e-9 {
				t.Errorf("Project(%f, %f) length = %f; want 51", lat, lon, v.Length())
			}
			again, _ := Project(lat, lon, 51)
			if again != v {
				t.Errorf("Project(%f, %f) not deterministic: %+v vs %+v", lat, lon, v, again)
			}
		}
	}
}

func TestProjectRejectsOutOfRange(t *testing.T) {
	tests := []struct{ lat, lon float64 }{
		{90.0001, 0},
		{-91, 0},
		{0, 180.5},
		{0, -181},
		{math.NaN(), 0},
		{0, math.NaN()},
	}

	for _, tt := range tests {
		if _, err := Project(tt.lat, tt.lon, 50); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("Project(%f, %f) error = %v; want ErrInvalidCoordinate", tt.lat, tt.lon, err)
		}
	}
}

func TestOrthographic(t *testing.T) {
	v, _ := Project(0, 0, 50)

	x, y, front := Orthographic(v, 0, 2, 400, 300)
	if math.Abs(x-500) > 1e-9 || math.Abs(y-300) > 1e-9 || !front {
		t.Errorf("Orthographic(no rotation) = (%f, %f, %v); want (500, 300, true)", x, y, front)
	}

	// A quarter turn moves the meridian to the far side.
	_, _, front = Orthographic(v, math.Pi/2, 2, 400, 300)
	if front {
		t.Errorf("expected point to be hidden after a quarter turn")
	}
}

func TestArc(t *testing.T) {
	from, _ := Project(40.71, -74.0, 50)
	to, _ := Project(51.5, -0.12, 50)

	pts := Arc(from, to, 0.2, 16)
	if len(pts) != 17 {
		t.Fatalf("Expected 17 points, got %d", len(pts))
	}
	if math.Abs(pts[0].Length()-50) > 1e-9 || math.Abs(pts[16].Length()-50) > 1e-9 {
		t.Errorf("Expected arc ends on the sphere, got %f and %f", pts[0].Length(), pts[16].Length())
	}
	if mid := pts[8].Length(); math.Abs(mid-60) > 1e-9 {
		t.Errorf("Expected midpoint at radius 60, got %f", mid)
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].Length() < 50-1e-9 {
			t.Errorf("Point %d dips below the surface: %f", i, pts[i].Length())
		}
	}

	if n := len(Arc(from, to, 0, 0)); n != 2 {
		t.Errorf("Expected steps to be clamped to 1, got %d points", n)
	}
}
