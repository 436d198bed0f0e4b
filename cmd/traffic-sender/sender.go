package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sudorandom/traffic-globe/pkg/feed"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

var (
	errRejected      = errors.New("package rejected by server")
	errNoCoordinates = errors.New("package has no coordinates")
)

// Target delivers one package.
type Target interface {
	Send(ctx context.Context, p feed.Package) error
}

// HTTPTarget posts packages to a traffic server's /receive endpoint. Transient failures are
// retried with backoff; a run of failures opens the breaker so a dead server is not hammered.
type HTTPTarget struct {
	url      string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
}

func NewHTTPTarget(url string) *HTTPTarget {
	return &HTTPTarget{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "receive",
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errRejected)
			},
		}),
		attempts: 4,
		delay:    200 * time.Millisecond,
	}
}

func (t *HTTPTarget) Send(ctx context.Context, p feed.Package) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(t.attempts),
		retry.Delay(t.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return r.Do(func() error {
		_, err := t.cb.Execute(func() (any, error) {
			return nil, t.post(ctx, body)
		})
		if errors.Is(err, errRejected) {
			return retry.Unrecoverable(err)
		}
		return err
	})
}

func (t *HTTPTarget) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: %s: %s", errRejected, resp.Status, bytes.TrimSpace(msg))
	}
	return fmt.Errorf("bad status: %s", resp.Status)
}

// RedisTarget publishes packages as traffic events. Only packages carrying coordinates can be
// published; resolving IPs is the server's job.
type RedisTarget struct {
	rdb      *redis.Client
	channel  string
	sensor   trafficengine.Endpoint
	protocol string
}

func NewRedisTarget(rdb *redis.Client, channel string, sensor trafficengine.Endpoint, protocol string) *RedisTarget {
	return &RedisTarget{rdb: rdb, channel: channel, sensor: sensor, protocol: protocol}
}

func (t *RedisTarget) Send(ctx context.Context, p feed.Package) error {
	ev, err := packageEvent(p, t.sensor, t.protocol)
	if err != nil {
		return err
	}
	return feed.Publish(ctx, t.rdb, t.channel, ev)
}

func packageEvent(p feed.Package, sensor trafficengine.Endpoint, protocol string) (trafficengine.TrafficEvent, error) {
	if !p.HasCoordinates() {
		return trafficengine.TrafficEvent{}, fmt.Errorf("%s: %w", p.IP, errNoCoordinates)
	}
	return trafficengine.TrafficEvent{
		Source:      trafficengine.Endpoint{Name: p.IP, Latitude: *p.Latitude, Longitude: *p.Longitude},
		Destination: sensor,
		Suspicious:  p.Suspicious,
		Protocol:    protocol,
		Timestamp:   p.Time(),
	}, nil
}

type Result struct {
	Sent   int
	Failed int
}

// Replay sends pkgs in order, paced by limiter. It stops early only when ctx is done.
func Replay(ctx context.Context, pkgs []feed.Package, target Target, limiter *rate.Limiter, logger *zap.Logger) (Result, error) {
	var res Result
	for i, p := range pkgs {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		if err := target.Send(ctx, p); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			logger.Warn("failed to send package", zap.String("ip", p.IP), zap.Error(err))
		} else {
			res.Sent++
			logger.Debug("sent package", zap.String("ip", p.IP))
		}
		if (i+1)%100 == 0 {
			logger.Info("progress", zap.Int("done", i+1), zap.Int("total", len(pkgs)))
		}
	}
	return res, nil
}
