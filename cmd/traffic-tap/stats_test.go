package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

func frame(t *testing.T, typ string, data any) []byte {
	t.Helper()
	b, err := wire.Encode(typ, data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func traffic(src, dst, proto string, suspicious bool) trafficengine.TrafficEvent {
	return trafficengine.TrafficEvent{
		Source:      trafficengine.Endpoint{Name: src},
		Destination: trafficengine.Endpoint{Name: dst},
		Protocol:    proto,
		Suspicious:  suspicious,
	}
}

func TestStatsRecord(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStats(start)

	frames := [][]byte{
		frame(t, wire.TypeSnapshot, wire.Snapshot{Config: wire.ConfigView{FadeSeconds: 10, MaxVisibleItems: 100}}),
		frame(t, wire.TypeNewTraffic, traffic("New York", "London", "TCP", false)),
		frame(t, wire.TypeNewTraffic, traffic("New York", "London", "TCP", true)),
		frame(t, wire.TypeNewTraffic, traffic("Tokyo", "Paris", "UDP", false)),
		frame(t, wire.TypeCreated, wire.Created{Entities: make([]trafficengine.VisualEntity, 3)}),
		frame(t, wire.TypeEvicted, wire.IDs{IDs: []trafficengine.EntityID{1, 2}}),
		frame(t, wire.TypeExpired, wire.IDs{IDs: []trafficengine.EntityID{3}}),
		frame(t, wire.TypeStatsUpdate, trafficengine.Snapshot{TotalPackets: 42, SuspiciousPackets: 7}),
	}
	for _, f := range frames {
		if err := s.Record(f); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if s.Traffic != 3 || s.Suspicious != 1 {
		t.Errorf("Expected 3 traffic with 1 suspicious, got %d/%d", s.Traffic, s.Suspicious)
	}
	if s.Created != 3 || s.Evicted != 2 || s.Expired != 1 {
		t.Errorf("Expected 3/2/1 created/evicted/expired, got %d/%d/%d", s.Created, s.Evicted, s.Expired)
	}
	if s.Server.TotalPackets != 42 {
		t.Errorf("Expected server total 42, got %d", s.Server.TotalPackets)
	}
	if s.Protocols["TCP"] != 2 || s.Protocols["UDP"] != 1 {
		t.Errorf("Unexpected protocol counts: %v", s.Protocols)
	}

	top := s.TopRoutes(1)
	if len(top) != 1 || top[0].Route != "New York -> London" || top[0].Count != 2 {
		t.Errorf("Expected New York -> London to top with 2, got %v", top)
	}

	conclusions := s.Analyze(start.Add(5 * time.Second))
	found := false
	for _, c := range conclusions {
		if strings.HasPrefix(c, "Scene saturated") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected saturation conclusion, got %v", conclusions)
	}

	var buf bytes.Buffer
	s.Report(&buf, start.Add(5*time.Second))
	if !strings.Contains(buf.String(), "New York -> London: 2") {
		t.Errorf("Expected report to list top route, got:\n%s", buf.String())
	}
}

func TestStatsRecordRejectsGarbage(t *testing.T) {
	s := NewStats(time.Now())
	if err := s.Record([]byte("not json")); err == nil {
		t.Error("Expected error for invalid frame")
	}
	if err := s.Record([]byte(`{"type":"new_traffic","data":[1]}`)); err == nil {
		t.Error("Expected error for malformed payload")
	}
}
