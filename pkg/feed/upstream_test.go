package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

func TestUpstreamRelaysTrafficAndStats(t *testing.T) {
	frames := [][]byte{
		mustEncode(t, wire.TypeStatsUpdate, trafficengine.Snapshot{TotalPackets: 12, SuspiciousPackets: 3}),
		[]byte(`{"type":"unknown_thing","data":1}`),
		[]byte(`garbage`),
		mustEncode(t, wire.TypeNewTraffic, event("Tokyo", "Seoul", "DNS", false)),
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for _, frame := range frames {
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	events := make(chan trafficengine.TrafficEvent, 1)
	var total, suspicious uint64
	u := NewUpstream("ws"+strings.TrimPrefix(srv.URL, "http"), func(ev trafficengine.TrafficEvent) {
		events <- ev
	}, func(tot, susp uint64) {
		total, suspicious = tot, susp
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Listen(ctx) }()

	select {
	case ev := <-events:
		if ev.Source.Name != "Tokyo" {
			t.Errorf("Expected event from Tokyo, got %s", ev.Source.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a relayed event")
	}
	if total != 12 || suspicious != 3 {
		t.Errorf("Expected totals 12/3, got %d/%d", total, suspicious)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil after cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected Listen to return after cancel")
	}
}

func mustEncode(t *testing.T, typ string, data any) []byte {
	t.Helper()
	b, err := wire.Encode(typ, data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}
