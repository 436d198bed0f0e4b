package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

// StatsCallback receives totals pushed by an upstream server.
type StatsCallback func(total, suspicious uint64)

// Upstream follows another traffic server's websocket feed and relays its traffic.
type Upstream struct {
	url     string
	dialer  *websocket.Dialer
	onEvent EventCallback
	onStats StatsCallback
	logger  *zap.Logger

	initialDelay time.Duration
	maxDelay     time.Duration
}

func NewUpstream(url string, onEvent EventCallback, onStats StatsCallback, logger *zap.Logger) *Upstream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upstream{
		url:          url,
		dialer:       websocket.DefaultDialer,
		onEvent:      onEvent,
		onStats:      onStats,
		logger:       logger.Named("upstream"),
		initialDelay: time.Second,
		maxDelay:     60 * time.Second,
	}
}

// Listen keeps a connection to the upstream feed open until ctx is done, reconnecting with
// exponential backoff.
func (u *Upstream) Listen(ctx context.Context) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(u.initialDelay),
		retry.MaxDelay(u.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	err := r.Do(func() error {
		err := u.session(ctx)
		if ctx.Err() != nil {
			return retry.Unrecoverable(ctx.Err())
		}
		u.logger.Warn("upstream connection lost, reconnecting", zap.String("url", u.url), zap.Error(err))
		return err
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (u *Upstream) session(ctx context.Context) error {
	u.logger.Info("connecting to upstream", zap.String("url", u.url))
	c, _, err := u.dialer.DialContext(ctx, u.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.url, err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := u.handle(msg); err != nil {
			u.logger.Debug("skipping upstream message", zap.Error(err))
		}
	}
}

func (u *Upstream) handle(msg []byte) error {
	env, err := wire.Decode(msg)
	if err != nil {
		return err
	}
	switch env.Type {
	case wire.TypeNewTraffic:
		ev, err := wire.DecodeData[trafficengine.TrafficEvent](env)
		if err != nil {
			return err
		}
		if u.onEvent != nil {
			u.onEvent(ev)
		}
	case wire.TypeStatsUpdate:
		st, err := wire.DecodeData[trafficengine.Snapshot](env)
		if err != nil {
			return err
		}
		if u.onStats != nil {
			u.onStats(st.TotalPackets, st.SuspiciousPackets)
		}
	}
	return nil
}
