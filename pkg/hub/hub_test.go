package hub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

type staticBatcher struct{ ev trafficengine.TrafficEvent }

func (b staticBatcher) Batch(n int) []trafficengine.TrafficEvent {
	out := make([]trafficengine.TrafficEvent, n)
	for i := range out {
		out[i] = b.ev
	}
	return out
}

func sampleEvent() trafficengine.TrafficEvent {
	return trafficengine.TrafficEvent{
		Source:      trafficengine.Endpoint{Name: "Paris", Latitude: 48.8566, Longitude: 2.3522},
		Destination: trafficengine.Endpoint{Name: "Berlin", Latitude: 52.5200, Longitude: 13.4050},
		Protocol:    "DNS",
		SizeBytes:   90,
	}
}

func startHub(t *testing.T) (*trafficengine.Engine, *Hub, *websocket.Conn) {
	t.Helper()
	engine, err := trafficengine.New(trafficengine.DefaultConfig())
	if err != nil {
		t.Fatalf("trafficengine.New: %v", err)
	}
	if _, err := engine.Ingest(sampleEvent()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	h := New(engine, WithGenerator(staticBatcher{ev: sampleEvent()}))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return engine, h, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	env, err := wire.Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return env
}

// readUntil skips frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wire.Envelope {
	t.Helper()
	for range 50 {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("Expected a %s frame", typ)
	return wire.Envelope{}
}

func TestSnapshotOnConnect(t *testing.T) {
	_, _, conn := startHub(t)

	env := readEnvelope(t, conn)
	if env.Type != wire.TypeSnapshot {
		t.Fatalf("Expected first frame to be a snapshot, got %s", env.Type)
	}
	snap, err := wire.DecodeData[wire.Snapshot](env)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if len(snap.Entities) != 3 {
		t.Errorf("Expected 3 entities in snapshot, got %d", len(snap.Entities))
	}
	if snap.Stats.TotalPackets != 1 {
		t.Errorf("Expected 1 packet in snapshot stats, got %d", snap.Stats.TotalPackets)
	}
	if snap.Config.FadeSeconds != 10 {
		t.Errorf("Expected fade 10s in snapshot, got %v", snap.Config.FadeSeconds)
	}
	if snap.Config.Radius != 50 {
		t.Errorf("Expected radius 50 in snapshot, got %v", snap.Config.Radius)
	}
	if snap.ServerTime.IsZero() {
		t.Error("Expected snapshot to carry the server time")
	}
}

func TestNotificationsFollowSnapshot(t *testing.T) {
	engine, _, conn := startHub(t)
	readUntil(t, conn, wire.TypeSnapshot)

	ev := sampleEvent()
	ev.Suspicious = true
	if _, err := engine.Ingest(ev); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	created, err := wire.DecodeData[wire.Created](readUntil(t, conn, wire.TypeCreated))
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if len(created.Entities) != 3 {
		t.Errorf("Expected 3 created entities, got %d", len(created.Entities))
	}
	readUntil(t, conn, wire.TypeNewTraffic)
	alert, err := wire.DecodeData[wire.Alert](readUntil(t, conn, wire.TypeAlert))
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if !strings.Contains(alert.Message, "Paris") {
		t.Errorf("Expected alert to mention the source, got %q", alert.Message)
	}
}

func TestCommands(t *testing.T) {
	engine, _, conn := startHub(t)
	readUntil(t, conn, wire.TypeSnapshot)

	send := func(typ string, data any) {
		t.Helper()
		msg, err := wire.Encode(typ, data)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	send(wire.CmdSetFade, wire.SetFade{Seconds: 3})
	view, err := wire.DecodeData[wire.ConfigView](readUntil(t, conn, wire.TypeConfig))
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if view.FadeSeconds != 3 || engine.Config().FadeDuration != 3*time.Second {
		t.Errorf("Expected fade 3s, got %v", view.FadeSeconds)
	}

	send(wire.CmdSetFade, wire.SetFade{Seconds: 600})
	readUntil(t, conn, wire.TypeDiagnostic)

	send(wire.CmdGenerate, wire.Count{Count: 4})
	readUntil(t, conn, wire.TypeCreated)

	send(wire.CmdClear, nil)
	readUntil(t, conn, wire.TypeCleared)
	if n := len(engine.Entities()); n != 0 {
		t.Errorf("Expected clear to empty the engine, got %d", n)
	}
	if st := engine.Stats(); st.TotalPackets != 5 {
		t.Errorf("Expected 5 packets after generate, got %d", st.TotalPackets)
	}
}
