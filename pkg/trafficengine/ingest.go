package trafficengine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sudorandom/traffic-globe/pkg/geo"
)

// IngestResult names the entities created for one event. Evicted lists every entity the
// inserts pushed out, including ones from this same event when the store is tiny.
type IngestResult struct {
	SourceID     EntityID   `json:"source_id"`
	DestID       EntityID   `json:"dest_id"`
	ConnectionID EntityID   `json:"connection_id"`
	Evicted      []EntityID `json:"evicted,omitempty"`
}

// NormalizeEvent trims names, upper-cases the protocol and checks every field.
func NormalizeEvent(ev TrafficEvent) (TrafficEvent, error) {
	ev.Source.Name = strings.TrimSpace(ev.Source.Name)
	ev.Destination.Name = strings.TrimSpace(ev.Destination.Name)
	ev.Protocol = strings.ToUpper(strings.TrimSpace(ev.Protocol))

	if ev.Source.Name == "" {
		return ev, fmt.Errorf("%w: missing source endpoint", ErrInvalidTrafficEvent)
	}
	if ev.Destination.Name == "" {
		return ev, fmt.Errorf("%w: missing destination endpoint", ErrInvalidTrafficEvent)
	}
	if ev.Protocol == "" {
		return ev, fmt.Errorf("%w: missing protocol", ErrInvalidTrafficEvent)
	}
	if ev.SizeBytes < 0 {
		return ev, fmt.Errorf("%w: negative size %d", ErrInvalidTrafficEvent, ev.SizeBytes)
	}
	if err := geo.Validate(ev.Source.Latitude, ev.Source.Longitude); err != nil {
		return ev, fmt.Errorf("%w: source %q: %w", ErrInvalidTrafficEvent, ev.Source.Name, err)
	}
	if err := geo.Validate(ev.Destination.Latitude, ev.Destination.Longitude); err != nil {
		return ev, fmt.Errorf("%w: destination %q: %w", ErrInvalidTrafficEvent, ev.Destination.Name, err)
	}
	return ev, nil
}

// buildEntities projects both endpoints and returns source point, destination point and the
// connection, all sharing createdAt. Nothing is returned unless all three could be built.
func buildEntities(ev TrafficEvent, cfg Config, createdAt time.Time) ([3]VisualEntity, error) {
	var out [3]VisualEntity
	src, err := geo.Project(ev.Source.Latitude, ev.Source.Longitude, cfg.Radius)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidTrafficEvent, err)
	}
	dst, err := geo.Project(ev.Destination.Latitude, ev.Destination.Longitude, cfg.Radius)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrInvalidTrafficEvent, err)
	}

	out[0] = NewPoint(src, ev.Source.Name, ev.Suspicious, createdAt, cfg.FadeDuration, cfg.GraceWindow)
	out[1] = NewPoint(dst, ev.Destination.Name, ev.Suspicious, createdAt, cfg.FadeDuration, cfg.GraceWindow)
	out[2] = NewConnection(src, dst, ev, createdAt, cfg.FadeDuration, cfg.GraceWindow)
	for _, e := range out {
		if err := e.check(); err != nil {
			return out, fmt.Errorf("%w: %w", ErrInvalidTrafficEvent, err)
		}
	}
	return out, nil
}

func rejectReason(err error) string {
	if errors.Is(err, geo.ErrInvalidCoordinate) {
		return "invalid_coordinate"
	}
	return "malformed"
}

// AlertMessage is the human-readable notice shown for suspicious traffic.
func AlertMessage(ev TrafficEvent) string {
	return fmt.Sprintf("Suspicious %s traffic detected from %s to %s", ev.Protocol, ev.Source.Name, ev.Destination.Name)
}
