package trafficengine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine serializes every store mutation, decay tick and stats read behind one mutex.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	store     *Store
	history   *History
	stats     Stats
	listeners []Listener

	now     func() time.Time
	logger  *zap.Logger
	metrics *Metrics
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		store:   NewStore(),
		history: NewHistory(cfg.HistorySize),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	e.logger = e.logger.Named("engine")
	e.store.SetSuspiciousFilterActive(cfg.ShowSuspicious)
	return e, nil
}

// Subscribe registers a listener for created/expired/evicted/cleared notifications.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) emit(n Notification) {
	for _, l := range e.listeners {
		l(n)
	}
}

// Ingest turns one event into a source point, a destination point and a connection. Either all
// three are inserted or, when the event is malformed, none are.
func (e *Engine) Ingest(ev TrafficEvent) (IngestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, err := NormalizeEvent(ev)
	var built [3]VisualEntity
	if err == nil {
		built, err = buildEntities(ev, e.cfg, e.now())
	}
	if err != nil {
		e.metrics.Rejected.WithLabelValues(rejectReason(err)).Inc()
		e.logger.Debug("dropping traffic event", zap.Error(err))
		e.emit(Notification{Type: NotifyDiagnostic, Message: err.Error()})
		return IngestResult{}, err
	}

	var ids [3]EntityID
	var evicted []EntityID
	for i, ent := range built {
		id, out := e.store.Insert(ent, e.cfg.MaxVisibleItems)
		ids[i] = id
		evicted = append(evicted, out...)
	}

	// Entities of this event that were pushed out straight away are never announced as created,
	// and only previously announced entities are reported as evicted.
	var created []VisualEntity
	for _, id := range ids {
		if ent, ok := e.store.Get(id); ok {
			created = append(created, ent)
		}
	}
	announced := slices.DeleteFunc(slices.Clone(evicted), func(id EntityID) bool {
		return slices.Contains(ids[:], id)
	})

	e.history.Push(ev)
	e.stats.record(ev)

	classification := "normal"
	if ev.Suspicious {
		classification = "suspicious"
	}
	e.metrics.Ingested.WithLabelValues(classification).Inc()
	e.metrics.Evicted.Add(float64(len(evicted)))
	e.observe()

	if len(announced) > 0 {
		e.logger.Debug("store full, evicting oldest", zap.Int("count", len(announced)), zap.NamedError("reason", ErrCapacityExceeded))
		e.emit(Notification{Type: NotifyEvicted, IDs: announced})
	}
	e.emit(Notification{Type: NotifyCreated, Entities: created})
	e.emit(Notification{Type: NotifyTraffic, Event: &ev})
	if ev.Suspicious {
		e.emit(Notification{Type: NotifyAlert, Event: &ev, Message: AlertMessage(ev)})
	}

	return IngestResult{SourceID: ids[0], DestID: ids[1], ConnectionID: ids[2], Evicted: evicted}, nil
}

// IngestBatch ingests every event, keeping going past bad ones. It returns how many were
// accepted and the joined errors of the rest.
func (e *Engine) IngestBatch(events []TrafficEvent) (int, error) {
	var errs []error
	accepted := 0
	for i, ev := range events {
		if _, err := e.Ingest(ev); err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		accepted++
	}
	return accepted, errors.Join(errs...)
}

// Tick fades every entity to now and drops the ones that have expired. It never fails.
func (e *Engine) Tick(now time.Time) TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	res := Tick(e.store, now)
	e.metrics.TickDuration.Observe(time.Since(start).Seconds())
	e.metrics.Expired.Add(float64(len(res.Expired)))
	e.observe()

	if len(res.Expired) > 0 {
		e.emit(Notification{Type: NotifyExpired, IDs: res.Expired})
	}
	return res
}

// Run ticks at the given interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(e.now())
		}
	}
}

// Clear empties the store in one step and emits a single cleared notification.
func (e *Engine) Clear() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.store.Clear()
	e.observe()
	e.emit(Notification{Type: NotifyCleared})
	e.logger.Info("cleared visualization", zap.Int("entities", n))
	return n
}

// Remove deletes one entity. Removing an unknown id does nothing.
func (e *Engine) Remove(id EntityID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.store.Remove(id) {
		return false
	}
	e.observe()
	e.emit(Notification{Type: NotifyRemoved, IDs: []EntityID{id}})
	return true
}

// SetSuspiciousFilterActive controls whether suspicious entities are shown.
func (e *Engine) SetSuspiciousFilterActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.ShowSuspicious = active
	e.store.SetSuspiciousFilterActive(active)
	e.observe()
	e.emitConfig()
}

// SetFadeDuration changes the fade duration for entities created from now on.
func (e *Engine) SetFadeDuration(d time.Duration) error {
	if err := validateFade(d); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.FadeDuration = d
	e.emitConfig()
	return nil
}

func (e *Engine) SetGraceWindow(d time.Duration) error {
	if d < 0 || d > MaxGraceWindow {
		return fmt.Errorf("%w: grace window %v outside [0, %v]", ErrInvalidConfig, d, MaxGraceWindow)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.GraceWindow = d
	e.emitConfig()
	return nil
}

// SetMaxVisibleItems changes the population bound, evicting straight away if the store is over it.
func (e *Engine) SetMaxVisibleItems(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: max visible items must not be negative, got %d", ErrInvalidConfig, n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.MaxVisibleItems = n
	if n > 0 {
		if evicted := e.store.Shrink(n); len(evicted) > 0 {
			e.metrics.Evicted.Add(float64(len(evicted)))
			e.emit(Notification{Type: NotifyEvicted, IDs: evicted})
		}
	}
	e.observe()
	e.emitConfig()
	return nil
}

func (e *Engine) emitConfig() {
	cfg := e.cfg
	e.emit(Notification{Type: NotifyConfig, Config: &cfg})
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Entities returns a copy of the current entities, oldest first.
func (e *Engine) Entities() []VisualEntity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.store.entities)
}

// View runs fn under the engine lock with the current entities, stats and config. Notifications
// cannot interleave with fn, which lets a subscriber pair a snapshot with the updates that follow.
// fn must not call back into the engine.
func (e *Engine) View(fn func(entities []VisualEntity, stats Snapshot, cfg Config)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(slices.Clone(e.store.entities), e.stats.snapshot(e.store), e.cfg)
}

// Iterate yields a snapshot taken atomically, so a concurrent tick is never observed half done.
func (e *Engine) Iterate() iter.Seq[VisualEntity] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.All()
}

func (e *Engine) Stats() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.snapshot(e.store)
}

// History returns the most recent events, oldest first.
func (e *Engine) History() []TrafficEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Events()
}

// ApplyServerTotals records counters pushed by an upstream server.
func (e *Engine) ApplyServerTotals(total, suspicious uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.applyServer(total, suspicious)
}

// Seed restores counters saved by a previous run.
func (e *Engine) Seed(total, suspicious uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.seed(total, suspicious)
}

// Now is the engine clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) observe() {
	e.metrics.Population.Set(float64(e.store.Len()))
	e.metrics.Visible.Set(float64(e.store.VisibleCount()))
	e.metrics.History.Set(float64(e.history.Len()))
}
