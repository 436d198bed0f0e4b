package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sudorandom/traffic-globe/pkg/feed"
	"github.com/sudorandom/traffic-globe/pkg/hub"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

type stubResolver map[string]trafficengine.Endpoint

func (s stubResolver) Resolve(ip string) (trafficengine.Endpoint, error) {
	if ep, ok := s[ip]; ok {
		return ep, nil
	}
	return trafficengine.Endpoint{}, errors.New("not found")
}

type stubBatcher struct{}

func (stubBatcher) Batch(n int) []trafficengine.TrafficEvent {
	out := make([]trafficengine.TrafficEvent, n)
	for i := range out {
		out[i] = trafficengine.TrafficEvent{
			Source:      feed.Cities[0].Endpoint(),
			Destination: feed.Cities[1].Endpoint(),
			Protocol:    "HTTP",
		}
	}
	return out
}

func newTestServer(t *testing.T) (*trafficengine.Engine, *Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	engine, err := trafficengine.New(trafficengine.DefaultConfig(), trafficengine.WithMetrics(trafficengine.NewMetrics(reg)))
	if err != nil {
		t.Fatalf("trafficengine.New: %v", err)
	}
	h := hub.New(engine, hub.WithGenerator(stubBatcher{}), hub.WithMetrics(hub.NewMetrics(reg)))
	s := New(engine, h,
		WithGatherer(reg),
		WithResolver(stubResolver{"8.8.8.8": {Name: "Mountain View, United States", Latitude: 37.386, Longitude: -122.0838}}),
		WithClassifier(feed.NewWatchlist([]string{"moscow"})),
		WithSensor(trafficengine.Endpoint{Name: "HQ", Latitude: 38.9, Longitude: -77.03}, "TCP"),
	)
	return engine, s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
	return v
}

const nycLondon = `{"source":{"name":"New York","lat":40.7128,"lon":-74.0060},"destination":{"name":"London","lat":51.5074,"lon":-0.1278},"protocol":"HTTPS","size":100}`

func TestHealth(t *testing.T) {
	_, s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestPostEvents(t *testing.T) {
	engine, s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/events", nycLondon)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}

	moscow := strings.Replace(nycLondon, "New York", "Moscow", 1)
	bad := strings.Replace(nycLondon, "40.7128", "140", 1)
	rec = do(t, s, http.MethodPost, "/api/events", "["+moscow+","+bad+"]")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for a partially valid batch, got %d: %s", rec.Code, rec.Body)
	}
	resp := decode[map[string]any](t, rec)
	if resp["accepted"] != 1.0 || resp["rejected"] != 1.0 {
		t.Errorf("Unexpected response %v", resp)
	}

	st := engine.Stats()
	if st.TotalPackets != 2 || st.SuspiciousPackets != 1 {
		t.Errorf("Expected 2 packets with the watchlisted one suspicious, got %+v", st)
	}

	rec = do(t, s, http.MethodPost, "/api/events", bad)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an invalid event, got %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["error"]; got == "" {
		t.Error("Expected a JSON error body")
	}

	rec = do(t, s, http.MethodPost, "/api/events", "{nope")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestReceive(t *testing.T) {
	engine, s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/receive", `{"ip":"1.2.3.4","latitude":35.6,"longitude":139.6,"timestamp":1700000000,"suspicious":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodPost, "/receive", `{"ip":"8.8.8.8","timestamp":1700000001,"suspicious":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with a resolved IP, got %d: %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodPost, "/receive", `{"ip":"10.0.0.1","timestamp":1700000002}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unresolvable IP, got %d", rec.Code)
	}

	history := engine.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(history))
	}
	if history[0].Destination.Name != "HQ" || history[0].Source.Name != "1.2.3.4" {
		t.Errorf("Unexpected first event %+v", history[0])
	}
	if history[1].Source.Name != "Mountain View, United States" {
		t.Errorf("Expected resolved source name, got %q", history[1].Source.Name)
	}
	if st := engine.Stats(); st.SuspiciousPackets != 1 {
		t.Errorf("Expected 1 suspicious packet, got %d", st.SuspiciousPackets)
	}
}

func TestConfigEndpoints(t *testing.T) {
	engine, s := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/config", `{"fade_seconds":4,"show_suspicious":false,"max_visible_items":9}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	view := decode[wire.ConfigView](t, rec)
	if view.FadeSeconds != 4 || view.ShowSuspicious || view.MaxVisibleItems != 9 {
		t.Errorf("Unexpected config %+v", view)
	}
	if engine.Config().MaxVisibleItems != 9 {
		t.Errorf("Expected engine updated, got %d", engine.Config().MaxVisibleItems)
	}

	rec = do(t, s, http.MethodPut, "/api/config", `{"fade_seconds":0.2}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an out of range fade, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/config", "")
	if view := decode[wire.ConfigView](t, rec); view.FadeSeconds != 4 {
		t.Errorf("Expected fade to stay 4s, got %v", view.FadeSeconds)
	}
}

func TestConfigRejectedAsAWhole(t *testing.T) {
	engine, s := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/config", `{"fade_seconds":3,"show_suspicious":false,"max_visible_items":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body)
	}
	cfg := engine.Config()
	if cfg.FadeDuration != 10*time.Second {
		t.Errorf("Expected fade to stay 10s, got %v", cfg.FadeDuration)
	}
	if cfg.MaxVisibleItems != 100 {
		t.Errorf("Expected max visible items to stay 100, got %d", cfg.MaxVisibleItems)
	}
	if !cfg.ShowSuspicious {
		t.Error("Expected suspicious filter to stay on")
	}
}

func TestGenerateAndClear(t *testing.T) {
	engine, s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/generate", "")
	if got := decode[map[string]int](t, rec)["generated"]; got != defaultGenerate {
		t.Errorf("Expected %d generated, got %d", defaultGenerate, got)
	}
	rec = do(t, s, http.MethodPost, "/api/generate?count=9999", "")
	if got := decode[map[string]int](t, rec)["generated"]; got != hub.MaxGenerate {
		t.Errorf("Expected generate capped at %d, got %d", hub.MaxGenerate, got)
	}
	rec = do(t, s, http.MethodPost, "/api/generate?count=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad count, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if n := len(engine.Entities()); n != 0 {
		t.Errorf("Expected empty engine, got %d", n)
	}

	rec = do(t, s, http.MethodGet, "/api/stats", "")
	st := decode[trafficengine.Snapshot](t, rec)
	if st.TotalPackets != uint64(defaultGenerate+hub.MaxGenerate) {
		t.Errorf("Unexpected totals %+v", st)
	}
}

func TestMetrics(t *testing.T) {
	_, s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/events", nycLondon)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "traffic_events_ingested_total") {
		t.Error("Expected engine metrics in /metrics output")
	}
}
