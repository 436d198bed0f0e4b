package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/feed"
	"github.com/sudorandom/traffic-globe/pkg/hub"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) getEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Entities())
}

func (s *Server) getHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.History())
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, wire.NewConfigView(s.engine.Config()))
}

type configUpdate struct {
	FadeSeconds     *float64 `json:"fade_seconds"`
	ShowSuspicious  *bool    `json:"show_suspicious"`
	MaxVisibleItems *int     `json:"max_visible_items"`
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	var u configUpdate
	if err := decodeBody(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Nothing is applied unless every present field is valid.
	next := s.engine.Config()
	if u.FadeSeconds != nil {
		next.FadeDuration = wire.SetFade{Seconds: *u.FadeSeconds}.Duration()
	}
	if u.MaxVisibleItems != nil {
		next.MaxVisibleItems = *u.MaxVisibleItems
	}
	if err := next.Validate(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if u.FadeSeconds != nil {
		if err := s.engine.SetFadeDuration(next.FadeDuration); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if u.MaxVisibleItems != nil {
		if err := s.engine.SetMaxVisibleItems(next.MaxVisibleItems); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	if u.ShowSuspicious != nil {
		s.engine.SetSuspiciousFilterActive(*u.ShowSuspicious)
	}
	writeJSON(w, http.StatusOK, wire.NewConfigView(s.engine.Config()))
}

func (s *Server) clear(w http.ResponseWriter, _ *http.Request) {
	n := s.engine.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	n := defaultGenerate
	if q := r.URL.Query().Get("count"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: count must be a positive integer", errBadRequest))
			return
		}
		n = min(v, hub.MaxGenerate)
	}
	accepted, err := s.hub.Generate(n)
	if err != nil {
		s.logger.Warn("generated events rejected", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]int{"generated": accepted})
}

// postEvents accepts a single TrafficEvent or an array of them.
func (s *Server) postEvents(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var events []trafficengine.TrafficEvent
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
	} else {
		var ev trafficengine.TrafficEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		events = append(events, ev)
	}

	for i := range events {
		events[i] = s.classifyEvent(events[i])
	}
	accepted, err := s.engine.IngestBatch(events)
	if err != nil && accepted == 0 {
		writeError(w, statusFor(err), err)
		return
	}
	resp := map[string]any{"accepted": accepted, "rejected": len(events) - accepted}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// receive takes a sensor package. The package IP is the source; the configured sensor is the
// destination.
func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	var p feed.Package
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.IP == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: missing ip", errBadRequest))
		return
	}

	src := trafficengine.Endpoint{Name: p.IP}
	switch {
	case p.HasCoordinates():
		src.Latitude, src.Longitude = *p.Latitude, *p.Longitude
	case s.resolver != nil:
		ep, err := s.resolver.Resolve(p.IP)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		src = ep
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: package has no coordinates and no resolver is configured", errBadRequest))
		return
	}

	ev := s.classifyEvent(trafficengine.TrafficEvent{
		Source:      src,
		Destination: s.sensor,
		Suspicious:  p.Suspicious,
		Protocol:    s.protocol,
		Timestamp:   p.Time(),
	})
	res, err := s.engine.Ingest(ev)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) classifyEvent(ev trafficengine.TrafficEvent) trafficengine.TrafficEvent {
	if s.classify == nil {
		return ev
	}
	return s.classify.Classify(ev)
}
