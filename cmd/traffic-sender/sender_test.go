package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sudorandom/traffic-globe/pkg/feed"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

func ptr(f float64) *float64 { return &f }

func fastTarget(url string) *HTTPTarget {
	t := NewHTTPTarget(url)
	t.delay = time.Millisecond
	return t
}

func TestHTTPTargetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p feed.Package
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.IP != "1.2.3.4" {
			t.Errorf("Unexpected body: %+v, %v", p, err)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := fastTarget(srv.URL).Send(context.Background(), feed.Package{IP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Expected 3 calls, got %d", n)
	}
}

func TestHTTPTargetDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad coordinates", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := fastTarget(srv.URL).Send(context.Background(), feed.Package{IP: "1.2.3.4"})
	if !errors.Is(err, errRejected) {
		t.Fatalf("Expected rejection error, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Expected a single call, got %d", n)
	}
}

type recordingTarget struct {
	sent []string
	fail string
}

func (r *recordingTarget) Send(_ context.Context, p feed.Package) error {
	if p.IP == r.fail {
		return errors.New("boom")
	}
	r.sent = append(r.sent, p.IP)
	return nil
}

func TestReplay(t *testing.T) {
	pkgs := []feed.Package{{IP: "a"}, {IP: "b"}, {IP: "c"}}
	target := &recordingTarget{fail: "b"}

	res, err := Replay(context.Background(), pkgs, target, rate.NewLimiter(rate.Inf, 1), zap.NewNop())
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if res.Sent != 2 || res.Failed != 1 {
		t.Errorf("Expected 2 sent and 1 failed, got %+v", res)
	}
	if len(target.sent) != 2 || target.sent[0] != "a" || target.sent[1] != "c" {
		t.Errorf("Expected [a c] in order, got %v", target.sent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Replay(ctx, pkgs, target, rate.NewLimiter(1, 1), zap.NewNop()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPackageEvent(t *testing.T) {
	sensor := trafficengine.Endpoint{Name: "Sensor", Latitude: 38.9, Longitude: -77.0}

	ev, err := packageEvent(feed.Package{IP: "8.8.8.8", Latitude: ptr(37.4), Longitude: ptr(-122.1), Timestamp: 1700000000, Suspicious: true}, sensor, "UDP")
	if err != nil {
		t.Fatalf("packageEvent failed: %v", err)
	}
	if ev.Source.Name != "8.8.8.8" || ev.Source.Latitude != 37.4 || ev.Destination != sensor {
		t.Errorf("Unexpected endpoints: %+v -> %+v", ev.Source, ev.Destination)
	}
	if !ev.Suspicious || ev.Protocol != "UDP" || ev.Timestamp.Unix() != 1700000000 {
		t.Errorf("Unexpected event: %+v", ev)
	}

	if _, err := packageEvent(feed.Package{IP: "8.8.8.8"}, sensor, "UDP"); !errors.Is(err, errNoCoordinates) {
		t.Errorf("Expected errNoCoordinates, got %v", err)
	}
}
