// Package trafficengine keeps the bounded, time-decaying set of points and connections that
// represent live traffic on the globe, and derives per-frame opacity and visibility for them.
package trafficengine

import (
	"fmt"
	"time"

	"github.com/sudorandom/traffic-globe/pkg/geo"
)

// Endpoint is one end of a traffic flow.
type Endpoint struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// TrafficEvent is a single classified flow delivered by a source.
type TrafficEvent struct {
	Source      Endpoint  `json:"source"`
	Destination Endpoint  `json:"destination"`
	Suspicious  bool      `json:"suspicious"`
	Protocol    string    `json:"protocol"`
	SizeBytes   int       `json:"size"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

type EntityID uint64

type Kind string

const (
	KindPoint      Kind = "point"
	KindConnection Kind = "connection"
)

// Base opacities. Connections render dimmer than points.
const (
	PointBaseOpacity      = 1.0
	ConnectionBaseOpacity = 0.6
)

func (k Kind) BaseOpacity() float64 {
	if k == KindConnection {
		return ConnectionBaseOpacity
	}
	return PointBaseOpacity
}

// VisualEntity is a point or a connection. Position is set for points, From/To for connections.
type VisualEntity struct {
	ID         EntityID  `json:"id"`
	Kind       Kind      `json:"kind"`
	Position   geo.Vec3  `json:"position,omitzero"`
	From       geo.Vec3  `json:"from,omitzero"`
	To         geo.Vec3  `json:"to,omitzero"`
	Suspicious bool      `json:"suspicious"`
	CreatedAt  time.Time `json:"created_at"`
	Opacity    float64   `json:"opacity"`
	Visible    bool      `json:"visible"`

	// Lifetime parameters captured from the engine config when the entity was created.
	FadeDuration time.Duration `json:"fade_duration"`
	GraceWindow  time.Duration `json:"grace_window,omitempty"`

	Label     string `json:"label,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	SizeBytes int    `json:"size,omitempty"`
}

// NewPoint builds a point entity. The ID is assigned by the Store on insert.
func NewPoint(pos geo.Vec3, label string, suspicious bool, createdAt time.Time, fade, grace time.Duration) VisualEntity {
	return VisualEntity{
		Kind:         KindPoint,
		Position:     pos,
		Suspicious:   suspicious,
		CreatedAt:    createdAt,
		Opacity:      PointBaseOpacity,
		FadeDuration: fade,
		GraceWindow:  grace,
		Label:        label,
	}
}

// NewConnection builds a connection entity between two projected endpoints.
func NewConnection(from, to geo.Vec3, ev TrafficEvent, createdAt time.Time, fade, grace time.Duration) VisualEntity {
	return VisualEntity{
		Kind:         KindConnection,
		From:         from,
		To:           to,
		Suspicious:   ev.Suspicious,
		CreatedAt:    createdAt,
		Opacity:      ConnectionBaseOpacity,
		FadeDuration: fade,
		GraceWindow:  grace,
		Label:        fmt.Sprintf("%s -> %s", ev.Source.Name, ev.Destination.Name),
		Protocol:     ev.Protocol,
		SizeBytes:    ev.SizeBytes,
	}
}

// Lifetime is how long the entity stays in the store after creation.
func (e VisualEntity) Lifetime() time.Duration {
	return e.FadeDuration + e.GraceWindow
}

func (e VisualEntity) check() error {
	switch e.Kind {
	case KindPoint, KindConnection:
	default:
		return fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	if e.FadeDuration <= 0 {
		return fmt.Errorf("entity fade duration must be positive, got %v", e.FadeDuration)
	}
	return nil
}
