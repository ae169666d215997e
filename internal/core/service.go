// Package core implements the timeline engine: transactional CRUD over
// automation points, the mute-transition state machine, clip projection, and
// the playback emitter.
package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"liveline/pkg/domain"
)

// Service exposes the timeline operations over a persistent store. It is
// constructed once per session and passed explicitly to whatever needs it;
// there are no ambient globals.
type Service struct {
	store   domain.PersistentStore
	logger  Logger
	metrics MetricsRecorder
	nowFn   func() time.Time

	initializing atomic.Bool
	initialized  atomic.Bool
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithLogger wires a structured logger into the service.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires a metrics recorder observed around every operation.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithNowFunc overrides the clock, primarily for tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultRulesEngine returns an engine with the standard rule set registered:
// blocking value-bound and reference-integrity checks plus the warn-severity
// mute alternation audit.
func DefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(ValueBoundRule())
	engine.Register(ReferenceIntegrityRule())
	engine.Register(MuteAlternationRule())
	return engine
}

// ErrAlreadyInitializing is returned when a second initialization attempt
// arrives while one is in flight.
var ErrAlreadyInitializing = errors.New("store initialization already in progress")

// ErrAlreadyInitialized is returned when initialization is attempted twice.
var ErrAlreadyInitialized = errors.New("store already initialized")

// Initialize verifies the storage substrate is reachable and marks the
// service ready. Concurrent attempts are rejected rather than raced.
func (s *Service) Initialize(ctx context.Context) error {
	if s.initialized.Load() {
		return ErrAlreadyInitialized
	}
	if !s.initializing.CompareAndSwap(false, true) {
		return ErrAlreadyInitializing
	}
	defer s.initializing.Store(false)
	if err := s.store.View(ctx, func(domain.TransactionView) error { return nil }); err != nil {
		return err
	}
	s.initialized.Store(true)
	s.logger.Info("store initialized")
	return nil
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Close releases the underlying store.
func (s *Service) Close() error { return s.store.Close() }

// Devices returns all devices.
func (s *Service) Devices() []domain.Device { return s.store.ListDevices() }

// Tracks returns all tracks ordered by track number.
func (s *Service) Tracks() []domain.Track { return s.store.ListTracks() }

// Parameters returns all parameters.
func (s *Service) Parameters() []domain.Parameter { return s.store.ListParameters() }

// Device returns a device by id.
func (s *Service) Device(id string) (domain.Device, bool) { return s.store.GetDevice(id) }

// Track returns a track by id.
func (s *Service) Track(id string) (domain.Track, bool) { return s.store.GetTrack(id) }

// Parameter returns a parameter by id.
func (s *Service) Parameter(id string) (domain.Parameter, bool) { return s.store.GetParameter(id) }

// MuteParameterForTrack returns the parameter classified as the track's
// authoritative mute stream, if any.
func (s *Service) MuteParameterForTrack(trackID string) (domain.Parameter, bool) {
	for _, p := range s.store.ListParameters() {
		if p.TrackID == trackID && p.IsMute {
			return p, true
		}
	}
	return domain.Parameter{}, false
}

// observe reports one operation outcome to the metrics recorder.
func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}
