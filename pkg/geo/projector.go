// Package geo converts geographic coordinates into positions on a sphere.
package geo

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Vec3 is a point in globe space. Y points at the north pole.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Validate reports whether lat/lon are usable for projection.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidCoordinate, lon)
	}
	return nil
}

// Project maps latitude/longitude onto a sphere of the given radius.
// The polar angle comes from the latitude and the azimuth is the longitude offset by 180 degrees,
// so longitude 0 always lands on the same meridian of the globe mesh.
func Project(lat, lon, radius float64) (Vec3, error) {
	if err := Validate(lat, lon); err != nil {
		return Vec3{}, err
	}
	phi := (90 - lat) * math.Pi / 180
	theta := (lon + 180) * math.Pi / 180

	sinPhi := math.Sin(phi)
	return Vec3{
		X: -radius * sinPhi * math.Cos(theta),
		Y: radius * math.Cos(phi),
		Z: radius * sinPhi * math.Sin(theta),
	}, nil
}

// Orthographic rotates v about the Y axis by rotation radians and flattens it onto the screen
// plane centred at (cx, cy). scale is pixels per globe unit. front is false when the point sits
// on the far side of the globe.
func Orthographic(v Vec3, rotation, scale, cx, cy float64) (x, y float64, front bool) {
	sin, cos := math.Sincos(rotation)
	rx := v.X*cos + v.Z*sin
	rz := -v.X*sin + v.Z*cos
	x = cx + rx*scale
	y = cy - v.Y*scale
	return x, y, rz >= 0
}

// Arc samples steps+1 points along the path between from and to, bowed outward so that the
// midpoint sits lift times the radius above the surface. Both ends stay on the sphere.
func Arc(from, to Vec3, lift float64, steps int) []Vec3 {
	if steps < 1 {
		steps = 1
	}
	radius := (from.Length() + to.Length()) / 2
	out := make([]Vec3, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := Vec3{
			X: from.X + (to.X-from.X)*t,
			Y: from.Y + (to.Y-from.Y)*t,
			Z: from.Z + (to.Z-from.Z)*t,
		}
		l := p.Length()
		if l == 0 {
			out = append(out, p)
			continue
		}
		h := radius * (1 + lift*math.Sin(math.Pi*t)) / l
		out = append(out, Vec3{X: p.X * h, Y: p.Y * h, Z: p.Z * h})
	}
	return out
}
