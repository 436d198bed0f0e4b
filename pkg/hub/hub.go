// Package hub fans engine notifications out to websocket clients and applies the commands
// they send back.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

// MaxGenerate caps how many synthetic events one generate command may ask for.
const MaxGenerate = 500

// Batcher produces synthetic traffic on demand.
type Batcher interface {
	Batch(n int) []trafficengine.TrafficEvent
}

type Metrics struct {
	Clients  prometheus.Gauge
	Dropped  prometheus.Counter
	Messages *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Name: "traffic_hub_clients",
			Help: "Connected websocket clients.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "traffic_hub_dropped_clients_total",
			Help: "Clients disconnected because their send queue was full.",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "traffic_hub_messages_total",
			Help: "Messages broadcast to clients, by type.",
		}, []string{"type"}),
	}
}

type Hub struct {
	engine  *trafficengine.Engine
	gen     Batcher
	logger  *zap.Logger
	metrics *Metrics

	upgrader      websocket.Upgrader
	statsInterval time.Duration

	mu      sync.Mutex
	clients map[uuid.UUID]*Client
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.logger = l } }

func WithMetrics(m *Metrics) Option { return func(h *Hub) { h.metrics = m } }

// WithGenerator enables the generate command.
func WithGenerator(g Batcher) Option { return func(h *Hub) { h.gen = g } }

func WithStatsInterval(d time.Duration) Option { return func(h *Hub) { h.statsInterval = d } }

// New creates a hub and subscribes it to the engine.
func New(engine *trafficengine.Engine, opts ...Option) *Hub {
	h := &Hub{
		engine:        engine,
		logger:        zap.NewNop(),
		statsInterval: time.Second,
		clients:       make(map[uuid.UUID]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	h.logger = h.logger.Named("hub")
	engine.Subscribe(h.onNotification)
	return h
}

// onNotification runs under the engine lock, so it only encodes and enqueues.
func (h *Hub) onNotification(n trafficengine.Notification) {
	msg, ok, err := wire.FromNotification(n)
	if err != nil {
		h.logger.Error("encoding notification", zap.String("type", string(n.Type)), zap.Error(err))
		return
	}
	if ok {
		h.broadcast(string(n.Type), msg)
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		ID:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
	if err := h.register(c); err != nil {
		h.logger.Error("sending snapshot", zap.Error(err))
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// register queues the snapshot and adds the client while holding the engine lock, so no
// notification lands between the two.
func (h *Hub) register(c *Client) error {
	var err error
	h.engine.View(func(ents []trafficengine.VisualEntity, st trafficengine.Snapshot, cfg trafficengine.Config) {
		var msg []byte
		msg, err = wire.Encode(wire.TypeSnapshot, wire.Snapshot{
			Entities:   ents,
			Stats:      st,
			Config:     wire.NewConfigView(cfg),
			ServerTime: h.engine.Now(),
		})
		if err != nil {
			return
		}
		c.send <- msg

		h.mu.Lock()
		h.clients[c.ID] = c
		n := len(h.clients)
		h.mu.Unlock()
		h.metrics.Clients.Set(float64(n))
	})
	if err == nil {
		h.logger.Info("client connected", zap.Stringer("client", c.ID))
	}
	return err
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.metrics.Clients.Set(float64(n))
		h.logger.Info("client disconnected", zap.Stringer("client", c.ID))
	}
}

// broadcast enqueues msg for every client. Clients whose queue is full are dropped.
func (h *Hub) broadcast(typ string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.metrics.Messages.WithLabelValues(typ).Inc()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, id)
			close(c.send)
			h.metrics.Dropped.Inc()
			h.logger.Warn("dropping slow client", zap.Stringer("client", id))
		}
	}
	h.metrics.Clients.Set(float64(len(h.clients)))
}

// Broadcast encodes data and sends it to every client.
func (h *Hub) Broadcast(typ string, data any) error {
	msg, err := wire.Encode(typ, data)
	if err != nil {
		return err
	}
	h.broadcast(typ, msg)
	return nil
}

func (h *Hub) reply(c *Client, typ string, data any) {
	msg, err := wire.Encode(typ, data)
	if err != nil {
		h.logger.Error("encoding reply", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) handleCommand(c *Client, env wire.Envelope) {
	log := h.logger.With(zap.Stringer("client", c.ID), zap.String("command", env.Type))
	var err error
	switch env.Type {
	case wire.CmdSetFade:
		var cmd wire.SetFade
		if cmd, err = wire.DecodeData[wire.SetFade](env); err == nil {
			err = h.engine.SetFadeDuration(cmd.Duration())
		}
	case wire.CmdSetSuspiciousFilter:
		var cmd wire.SetSuspiciousFilter
		if cmd, err = wire.DecodeData[wire.SetSuspiciousFilter](env); err == nil {
			h.engine.SetSuspiciousFilterActive(cmd.Active)
		}
	case wire.CmdClear:
		h.engine.Clear()
	case wire.CmdGenerate:
		var cmd wire.Count
		if cmd, err = wire.DecodeData[wire.Count](env); err == nil {
			_, err = h.Generate(cmd.Count)
		}
	case wire.CmdSetMaxItems:
		var cmd wire.Count
		if cmd, err = wire.DecodeData[wire.Count](env); err == nil {
			err = h.engine.SetMaxVisibleItems(cmd.Count)
		}
	default:
		err = wire.ErrUnknownType
	}
	if err != nil {
		log.Debug("command failed", zap.Error(err))
		h.reply(c, wire.TypeDiagnostic, wire.Diagnostic{Message: err.Error()})
		return
	}
	log.Debug("command applied")
}

// Generate ingests n synthetic events, clamped to [1, MaxGenerate]. Without a generator it does
// nothing.
func (h *Hub) Generate(n int) (int, error) {
	if h.gen == nil {
		return 0, nil
	}
	n = min(max(n, 1), MaxGenerate)
	return h.engine.IngestBatch(h.gen.Batch(n))
}

// Run broadcasts stats_update at the configured interval until ctx is done, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			if err := h.Broadcast(wire.TypeStatsUpdate, h.engine.Stats()); err != nil {
				h.logger.Error("encoding stats", zap.Error(err))
			}
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.metrics.Clients.Set(0)
}
