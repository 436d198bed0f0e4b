package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

const (
	DefaultEventsChannel = "traffic:events"
	DefaultStatsChannel  = "traffic:stats"
)

type statsMessage struct {
	TotalPackets      uint64 `json:"total_packets"`
	SuspiciousPackets uint64 `json:"suspicious_packets"`
}

// RedisSubscriber relays events published on a Redis channel.
type RedisSubscriber struct {
	rdb           *redis.Client
	eventsChannel string
	statsChannel  string
	onEvent       EventCallback
	onStats       StatsCallback
	logger        *zap.Logger
}

func NewRedisSubscriber(rdb *redis.Client, eventsChannel, statsChannel string, onEvent EventCallback, onStats StatsCallback, logger *zap.Logger) *RedisSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSubscriber{
		rdb:           rdb,
		eventsChannel: eventsChannel,
		statsChannel:  statsChannel,
		onEvent:       onEvent,
		onStats:       onStats,
		logger:        logger.Named("redis"),
	}
}

// Listen subscribes and resubscribes whenever the subscription drops, until ctx is done.
func (s *RedisSubscriber) Listen(ctx context.Context) {
	channels := []string{s.eventsChannel}
	if s.statsChannel != "" {
		channels = append(channels, s.statsChannel)
	}

	for {
		pubsub := s.rdb.Subscribe(ctx, channels...)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to subscribe", zap.Strings("channels", channels), zap.Error(err))
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}
		s.logger.Info("subscribed", zap.Strings("channels", channels))

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				if err := s.handle(msg.Channel, []byte(msg.Payload)); err != nil {
					s.logger.Warn("invalid message", zap.String("channel", msg.Channel), zap.Error(err))
				}
			}
		}

		pubsub.Close()
		if !sleep(ctx, time.Second) {
			return
		}
	}
}

func (s *RedisSubscriber) handle(channel string, payload []byte) error {
	if channel == s.statsChannel {
		var st statsMessage
		if err := json.Unmarshal(payload, &st); err != nil {
			return err
		}
		if s.onStats != nil {
			s.onStats(st.TotalPackets, st.SuspiciousPackets)
		}
		return nil
	}
	var ev trafficengine.TrafficEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
	return nil
}

// Publish sends ev to the events channel.
func Publish(ctx context.Context, rdb *redis.Client, channel string, ev trafficengine.TrafficEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
