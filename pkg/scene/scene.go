// Package scene mirrors the server's entity set on the viewer side. It is fed wire messages
// from the network goroutine and read by the render loop.
package scene

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

const (
	maxAlerts = 5
	alertTTL  = 10 * time.Second

	maxHeatSpots = 1000
	heatPurge    = 200
)

type Alert struct {
	Message string
	Packet  trafficengine.TrafficEvent
	At      time.Time
}

// HeatSpot counts traffic seen at one endpoint since the viewer connected.
type HeatSpot struct {
	Name       string
	Lat, Lon   float64
	Hits       int
	Suspicious int
}

type Scene struct {
	mu sync.Mutex

	entities map[trafficengine.EntityID]trafficengine.VisualEntity
	// server clock minus local clock, measured from the last snapshot
	offset time.Duration

	total, suspicious uint64
	cfg               wire.ConfigView
	alerts            []Alert
	heat              map[string]*HeatSpot
	diagnostic        string
}

func New() *Scene {
	return &Scene{
		entities: make(map[trafficengine.EntityID]trafficengine.VisualEntity),
		heat:     make(map[string]*HeatSpot),
		cfg:      wire.NewConfigView(trafficengine.DefaultConfig()),
	}
}

// Apply decodes one frame and applies it. now is the local receive time.
func (s *Scene) Apply(msg []byte, now time.Time) error {
	env, err := wire.Decode(msg)
	if err != nil {
		return err
	}
	return s.ApplyEnvelope(env, now)
}

func (s *Scene) ApplyEnvelope(env wire.Envelope, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Type {
	case wire.TypeSnapshot:
		snap, err := wire.DecodeData[wire.Snapshot](env)
		if err != nil {
			return err
		}
		clear(s.entities)
		for _, e := range snap.Entities {
			s.entities[e.ID] = e
		}
		if !snap.ServerTime.IsZero() {
			s.offset = snap.ServerTime.Sub(now)
		}
		s.cfg = snap.Config
		s.raiseTotals(snap.Stats.TotalPackets, snap.Stats.SuspiciousPackets)
	case wire.TypeCreated:
		c, err := wire.DecodeData[wire.Created](env)
		if err != nil {
			return err
		}
		for _, e := range c.Entities {
			s.entities[e.ID] = e
		}
	case wire.TypeExpired, wire.TypeEvicted, wire.TypeRemoved:
		ids, err := wire.DecodeData[wire.IDs](env)
		if err != nil {
			return err
		}
		for _, id := range ids.IDs {
			delete(s.entities, id)
		}
	case wire.TypeCleared:
		clear(s.entities)
	case wire.TypeNewTraffic:
		ev, err := wire.DecodeData[trafficengine.TrafficEvent](env)
		if err != nil {
			return err
		}
		s.total++
		if ev.Suspicious {
			s.suspicious++
		}
		s.addHeat(ev.Source, ev.Suspicious)
		s.addHeat(ev.Destination, ev.Suspicious)
	case wire.TypeAlert:
		a, err := wire.DecodeData[wire.Alert](env)
		if err != nil {
			return err
		}
		s.alerts = append(s.alerts, Alert{Message: a.Message, Packet: a.Packet, At: now})
		if len(s.alerts) > maxAlerts {
			s.alerts = slices.Delete(s.alerts, 0, len(s.alerts)-maxAlerts)
		}
	case wire.TypeDiagnostic:
		d, err := wire.DecodeData[wire.Diagnostic](env)
		if err != nil {
			return err
		}
		s.diagnostic = d.Message
	case wire.TypeStatsUpdate:
		st, err := wire.DecodeData[trafficengine.Snapshot](env)
		if err != nil {
			return err
		}
		s.raiseTotals(st.TotalPackets, st.SuspiciousPackets)
	case wire.TypeConfig:
		cfg, err := wire.DecodeData[wire.ConfigView](env)
		if err != nil {
			return err
		}
		s.cfg = cfg
	default:
		return fmt.Errorf("%w: %q", wire.ErrUnknownType, env.Type)
	}
	return nil
}

func (s *Scene) raiseTotals(total, suspicious uint64) {
	s.total = max(s.total, total)
	s.suspicious = max(s.suspicious, suspicious)
}

func (s *Scene) addHeat(ep trafficengine.Endpoint, suspicious bool) {
	h, ok := s.heat[ep.Name]
	if !ok {
		if len(s.heat) >= maxHeatSpots {
			s.purgeHeat()
		}
		h = &HeatSpot{Name: ep.Name, Lat: ep.Latitude, Lon: ep.Longitude}
		s.heat[ep.Name] = h
	}
	h.Hits++
	if suspicious {
		h.Suspicious++
	}
}

// purgeHeat drops the least-hit spots to make room for new endpoints.
func (s *Scene) purgeHeat() {
	spots := make([]*HeatSpot, 0, len(s.heat))
	for _, h := range s.heat {
		spots = append(spots, h)
	}
	slices.SortFunc(spots, func(a, b *HeatSpot) int {
		if c := cmp.Compare(a.Hits, b.Hits); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	for _, h := range spots[:min(heatPurge, len(spots))] {
		delete(s.heat, h.Name)
	}
}

// Tick recomputes opacity and visibility with the same law the server uses and drops entities
// that have faded out, so the picture stays smooth between server messages.
func (s *Scene) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	serverNow := now.Add(s.offset)
	for id, e := range s.entities {
		op := trafficengine.Opacity(e.Kind, serverNow.Sub(e.CreatedAt), e.FadeDuration, e.GraceWindow)
		if op <= 0 {
			delete(s.entities, id)
			continue
		}
		e.Opacity = op
		e.Visible = s.visible(e)
		s.entities[id] = e
	}

	for len(s.alerts) > 0 && now.Sub(s.alerts[0].At) > alertTTL {
		s.alerts = s.alerts[1:]
	}
}

func (s *Scene) visible(e trafficengine.VisualEntity) bool {
	return e.Opacity > 0 && (!e.Suspicious || s.cfg.ShowSuspicious)
}

// Entities returns every mirrored entity ordered by ID.
func (s *Scene) Entities() []trafficengine.VisualEntity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]trafficengine.VisualEntity, 0, len(s.entities))
	for _, e := range s.entities {
		e.Visible = s.visible(e)
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b trafficengine.VisualEntity) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Scene) Stats() trafficengine.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := 0
	for _, e := range s.entities {
		if s.visible(e) {
			visible++
		}
	}
	return trafficengine.Snapshot{
		TotalPackets:      s.total,
		SuspiciousPackets: s.suspicious,
		VisibleItems:      visible,
		Population:        len(s.entities),
	}
}

func (s *Scene) Config() wire.ConfigView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Alerts returns the alerts still on screen, oldest first.
func (s *Scene) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.alerts)
}

// Diagnostic is the last diagnostic the server sent.
func (s *Scene) Diagnostic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnostic
}

// Heat returns the endpoints seen so far, busiest first.
func (s *Scene) Heat() []HeatSpot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]HeatSpot, 0, len(s.heat))
	for _, h := range s.heat {
		out = append(out, *h)
	}
	slices.SortFunc(out, func(a, b HeatSpot) int {
		if c := cmp.Compare(b.Hits, a.Hits); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
