package feed

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

const (
	DefaultSuspiciousRate = 0.15
	MinPacketSize         = 64
	MaxPacketSize         = 1500
)

// EventCallback receives each event a source produces.
type EventCallback func(trafficengine.TrafficEvent)

// Generate returns n synthetic events between distinct catalog cities.
func Generate(n int, rng *rand.Rand, suspiciousRate float64, now time.Time) []trafficengine.TrafficEvent {
	out := make([]trafficengine.TrafficEvent, 0, n)
	for range n {
		src := rng.IntN(len(Cities))
		dst := rng.IntN(len(Cities) - 1)
		if dst >= src {
			dst++
		}
		out = append(out, trafficengine.TrafficEvent{
			Source:      Cities[src].Endpoint(),
			Destination: Cities[dst].Endpoint(),
			Suspicious:  rng.Float64() < suspiciousRate,
			Protocol:    Protocols[rng.IntN(len(Protocols))],
			SizeBytes:   MinPacketSize + rng.IntN(MaxPacketSize-MinPacketSize+1),
			Timestamp:   now,
		})
	}
	return out
}

// Generator emits synthetic traffic continuously at a paced rate.
type Generator struct {
	mu             sync.Mutex
	rng            *rand.Rand
	suspiciousRate float64
	limiter        *rate.Limiter
	onEvent        EventCallback
	logger         *zap.Logger
}

// NewGenerator creates a generator emitting perSecond events on average. A seed of 0 picks a
// random one.
func NewGenerator(perSecond float64, suspiciousRate float64, seed uint64, onEvent EventCallback, logger *zap.Logger) *Generator {
	if seed == 0 {
		seed = rand.Uint64()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		rng:            rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		suspiciousRate: suspiciousRate,
		limiter:        rate.NewLimiter(rate.Limit(perSecond), 1),
		onEvent:        onEvent,
		logger:         logger.Named("generator"),
	}
}

// Batch returns n events. It is safe for concurrent use.
func (g *Generator) Batch(n int) []trafficengine.TrafficEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Generate(n, g.rng, g.suspiciousRate, time.Now())
}

// Run emits one event per limiter token until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	g.logger.Info("generating synthetic traffic", zap.Float64("per_second", float64(g.limiter.Limit())))
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}
		for _, ev := range g.Batch(1) {
			g.onEvent(ev)
		}
	}
}
