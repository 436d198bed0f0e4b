// Package server exposes the traffic engine over HTTP: the websocket feed, a small JSON API
// and Prometheus metrics.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/hub"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

const (
	defaultGenerate = 5
	maxBodyBytes    = 1 << 20
)

// Resolver turns a packet IP into an endpoint.
type Resolver interface {
	Resolve(ip string) (trafficengine.Endpoint, error)
}

// Classifier may mark an event suspicious before it is ingested.
type Classifier interface {
	Classify(trafficengine.TrafficEvent) trafficengine.TrafficEvent
}

type Server struct {
	router *chi.Mux
	logger *zap.Logger

	engine   *trafficengine.Engine
	hub      *hub.Hub
	gatherer prometheus.Gatherer
	resolver Resolver
	classify Classifier
	sensor   trafficengine.Endpoint
	protocol string
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

func WithResolver(r Resolver) Option { return func(s *Server) { s.resolver = r } }

func WithClassifier(c Classifier) Option { return func(s *Server) { s.classify = c } }

// WithSensor sets the destination endpoint and protocol used for packages posted to /receive.
func WithSensor(ep trafficengine.Endpoint, protocol string) Option {
	return func(s *Server) {
		s.sensor = ep
		s.protocol = protocol
	}
}

func New(engine *trafficengine.Engine, h *hub.Hub, opts ...Option) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   zap.NewNop(),
		engine:   engine,
		hub:      h,
		gatherer: prometheus.DefaultGatherer,
		sensor:   trafficengine.Endpoint{Name: "Sensor"},
		protocol: "TCP",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("http")
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "traffic-globe"})
	})
	r.Handle("/ws", s.hub)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/receive", s.receive)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Get("/entities", s.getEntities)
		r.Get("/history", s.getHistory)
		r.Get("/config", s.getConfig)
		r.Put("/config", s.putConfig)
		r.Post("/clear", s.clear)
		r.Post("/generate", s.generate)
		r.Post("/events", s.postEvents)
	})
}

// ServeHTTP lets Server be used as a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trafficengine.ErrInvalidTrafficEvent),
		errors.Is(err, trafficengine.ErrInvalidConfig),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
