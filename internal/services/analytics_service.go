package services

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/session"
)

// InitOptions are applied by Initialize
type InitOptions struct {
	UserID        string
	ConsentStatus analytics.ConsentStatus
	DebugMode     bool
}

// Option configures an AnalyticsService
type Option func(*AnalyticsService)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *AnalyticsService) { s.logger = logger }
}

// WithClock sets the clock used for timestamps, timers and backoff
func WithClock(clock clockwork.Clock) Option {
	return func(s *AnalyticsService) { s.clock = clock }
}

// WithEnvironment sets the page and client context source
func WithEnvironment(env analytics.Environment) Option {
	return func(s *AnalyticsService) { s.env = env }
}

// WithProviderBuilder sets how configured providers are constructed
func WithProviderBuilder(build ProviderBuilder) Option {
	return func(s *AnalyticsService) { s.build = build }
}

// WithRegisterer registers the service metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *AnalyticsService) { s.registerer = reg }
}

// WithJourneyTracker sets the journey hook called after dispatch
func WithJourneyTracker(t analytics.JourneyTracker) Option {
	return func(s *AnalyticsService) { s.journeys = t }
}

// WithRandom sets the source used for non-consistent sampling
func WithRandom(random func() float64) Option {
	return func(s *AnalyticsService) { s.random = random }
}

// WithDispatchTimeout bounds each provider send
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *AnalyticsService) { s.dispatchTimeout = d }
}

// AnalyticsService tracks events for one client: it owns the session,
// identity and consent state, enriches and filters events, and hands them
// to the configured providers.
type AnalyticsService struct {
	config  analytics.ConfigProvider
	storage session.Storage

	logger          *zap.Logger
	clock           clockwork.Clock
	env             analytics.Environment
	build           ProviderBuilder
	registerer      prometheus.Registerer
	journeys        analytics.JourneyTracker
	random          func() float64
	dispatchTimeout time.Duration

	sessions   *SessionManager
	queue      *RetryQueue
	dispatcher *Dispatcher
	metrics    *Metrics

	initGroup   singleflight.Group
	initialized atomic.Bool
	closed      atomic.Bool

	mu          sync.RWMutex
	userID      string
	anonymousID string
	consent     analytics.ConsentStatus
	debug       bool
	unsubscribe []func()
}

// NewAnalyticsService creates a tracking service over config and storage
func NewAnalyticsService(config analytics.ConfigProvider, storage session.Storage, opts ...Option) *AnalyticsService {
	s := &AnalyticsService{
		config:          config,
		storage:         storage,
		dispatchTimeout: 5 * time.Second,
		consent:         analytics.ConsentStatus{analytics.ConsentNecessary: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.journeys == nil {
		s.journeys = analytics.NoopJourneyTracker{}
	}
	if s.random == nil {
		s.random = rand.Float64
	}
	if s.build == nil {
		s.build = func(cfg analytics.ProviderConfig) (analytics.Provider, error) {
			return nil, analytics.ErrProviderNotRegistered
		}
	}

	s.metrics = NewMetrics(s.registerer)
	s.sessions = NewSessionManager(storage, config, s.env, s.clock, s.logger.Named("session"))
	s.sessions.OnExpire(func(session.Session) { s.metrics.SessionsExpired.Inc() })
	s.queue = NewRetryQueue(config.RetryPolicy(), s.clock)
	s.dispatcher = NewDispatcher(config, s.queue, s.metrics, s.logger.Named("dispatch"), s.dispatchTimeout)
	return s
}

// Initialize prepares identity, session and providers. It is idempotent and
// concurrent callers share one in-flight initialization.
func (s *AnalyticsService) Initialize(ctx context.Context, opts InitOptions) error {
	if s.closed.Load() {
		return analytics.ErrServiceClosed
	}
	if s.initialized.Load() {
		return nil
	}

	_, err, _ := s.initGroup.Do("initialize", func() (interface{}, error) {
		if s.initialized.Load() {
			return nil, nil
		}

		s.mu.Lock()
		if opts.UserID != "" {
			s.userID = opts.UserID
		}
		if opts.ConsentStatus != nil {
			s.consent = s.consent.Merge(opts.ConsentStatus)
		}
		if opts.DebugMode {
			s.debug = true
		}
		s.mu.Unlock()

		s.loadAnonymousID(ctx)
		s.bindFlagIdentity(ctx)
		s.sessions.StartNewSession(ctx)
		s.dispatcher.InitializeProviders(ctx, s.build)

		if opts.UserID != "" {
			s.dispatcher.BindIdentity(ctx, opts.UserID)
		}

		s.initialized.Store(true)
		s.logger.Info("Analytics initialized",
			zap.Strings("providers", s.dispatcher.LiveProviders()),
			zap.Bool("debug", opts.DebugMode))

		s.ProcessEventQueue(ctx)
		return nil, nil
	})
	return err
}

// loadAnonymousID reads the durable anonymous id, creating one if missing.
// Without working storage the id lives only in memory.
func (s *AnalyticsService) loadAnonymousID(ctx context.Context) {
	id, ok, err := s.storage.Get(ctx, session.ScopeDurable, session.KeyAnonymousID)
	if err != nil {
		s.logger.Debug("Failed to read anonymous id", zap.Error(err))
	}
	if !ok || id == "" {
		id = uuid.NewString()
		if err := s.storage.Set(ctx, session.ScopeDurable, session.KeyAnonymousID, id); err != nil {
			s.logger.Debug("Failed to persist anonymous id", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.anonymousID = id
	s.mu.Unlock()
}

// SetUserID binds subsequent events to userID
func (s *AnalyticsService) SetUserID(ctx context.Context, userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	s.bindFlagIdentity(ctx)
	s.dispatcher.BindIdentity(ctx, userID)
}

// bindFlagIdentity hands the active identity to a config provider that
// evaluates per-identity flags. Anonymous visitors are keyed by anonymous id.
func (s *AnalyticsService) bindFlagIdentity(ctx context.Context) {
	binder, ok := s.config.(analytics.IdentityBinder)
	if !ok {
		return
	}

	s.mu.RLock()
	identity := s.userID
	if identity == "" {
		identity = s.anonymousID
	}
	s.mu.RUnlock()

	if err := binder.SetUserID(ctx, identity); err != nil {
		s.logger.Debug("Failed to bind flag identity", zap.Error(err))
	}
}

// ClearUserID reverts to anonymous tracking
func (s *AnalyticsService) ClearUserID(ctx context.Context) {
	s.SetUserID(ctx, "")
}

// SetConsentStatus merges partial consent flags into the current ones
func (s *AnalyticsService) SetConsentStatus(partial analytics.ConsentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = s.consent.Merge(partial)
}

// ConsentStatus returns a copy of the current consent flags
func (s *AnalyticsService) ConsentStatus() analytics.ConsentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consent.Merge(nil)
}

// SetDebugMode toggles logging of dropped events
func (s *AnalyticsService) SetDebugMode(debug bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = debug
}

// UserID returns the bound user id, if any
func (s *AnalyticsService) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// AnonymousID returns the durable anonymous id
func (s *AnalyticsService) AnonymousID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anonymousID
}

// TrackEvent enriches, filters and dispatches one event. It returns the
// event id and true when the event was tracked. Delivery failures do not
// affect the result.
func (s *AnalyticsService) TrackEvent(
	ctx context.Context,
	eventType analytics.EventType,
	properties map[string]interface{},
	dimensions map[analytics.Dimension]interface{},
	metrics map[analytics.Metric]float64,
) (string, bool) {
	if err := s.Initialize(ctx, InitOptions{}); err != nil {
		s.drop(eventType, DropReasonClosed)
		return "", false
	}
	s.sessions.Ensure(ctx)

	s.mu.RLock()
	consent := s.consent
	id := identity{userID: s.userID, anonymousID: s.anonymousID}
	s.mu.RUnlock()

	if !s.config.IsAnalyticsEnabled(consent) {
		s.drop(eventType, DropReasonDisabled)
		return "", false
	}
	if !s.config.IsEventTypeEnabled(eventType) {
		s.drop(eventType, DropReasonEventTypeDisabled)
		return "", false
	}

	limit := s.config.MaxEventsPerSession()
	sess, ok := s.sessions.ReserveEvent(ctx, limit)
	if !ok {
		s.logger.Warn("Max events per session reached",
			zap.String("session_id", sess.ID),
			zap.Int("max_events", limit))
		s.metrics.EventsDropped.WithLabelValues(DropReasonSessionCap).Inc()
		return "", false
	}

	sampleKey := id.userID
	if sampleKey == "" {
		sampleKey = id.anonymousID
	}
	if !shouldSample(s.config.SamplingSettings(), sampleKey, s.random) {
		s.drop(eventType, DropReasonSampledOut)
		return "", false
	}

	dims := defaultDimensions(sess, id, s.env)
	for k, v := range dimensions {
		dims[k] = v
	}

	event := &analytics.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  s.clock.Now().UTC(),
		UserID:     id.userID,
		SessionID:  sess.ID,
		Properties: copyProperties(properties),
		Dimensions: filterDimensions(dims, s.config),
		Metrics:    filterMetrics(metrics, s.config),
	}

	s.dispatcher.Dispatch(ctx, event)
	s.journeys.Update(ctx, event)
	s.metrics.EventsTracked.WithLabelValues(string(eventType)).Inc()

	return event.ID, true
}

func (s *AnalyticsService) drop(eventType analytics.EventType, reason string) {
	s.metrics.EventsDropped.WithLabelValues(reason).Inc()

	s.mu.RLock()
	debug := s.debug
	s.mu.RUnlock()
	if debug {
		s.logger.Info("Event not tracked",
			zap.String("event_type", string(eventType)),
			zap.String("reason", reason))
	}
}

// TrackPageView records the navigation in the session and tracks a page view
func (s *AnalyticsService) TrackPageView(ctx context.Context, path string, properties map[string]interface{}) (string, bool) {
	if err := s.Initialize(ctx, InitOptions{}); err != nil {
		s.drop(analytics.EventTypePageView, DropReasonClosed)
		return "", false
	}
	s.sessions.RecordPageView(ctx, path)

	props := make(map[string]interface{}, len(properties)+1)
	props["path"] = path
	for k, v := range properties {
		props[k] = v
	}
	return s.TrackEvent(ctx, analytics.EventTypePageView, props, pageDimensions(s.env, path), nil)
}

// TrackPageExit tracks leaving the current page with the time spent on it
func (s *AnalyticsService) TrackPageExit(ctx context.Context, properties map[string]interface{}) (string, bool) {
	if err := s.Initialize(ctx, InitOptions{}); err != nil {
		s.drop(analytics.EventTypePageExit, DropReasonClosed)
		return "", false
	}

	props := copyProperties(properties)
	var metrics map[analytics.Metric]float64
	if sess, ok := s.sessions.Current(); ok {
		if sess.CurrentPath != "" {
			props["path"] = sess.CurrentPath
		}
		if !sess.PageViewStartedAt.IsZero() {
			onPage := s.clock.Since(sess.PageViewStartedAt)
			metrics = map[analytics.Metric]float64{
				analytics.MetricTimeOnPage: float64(onPage.Milliseconds()),
			}
		}
	}
	return s.TrackEvent(ctx, analytics.EventTypePageExit, props, nil, metrics)
}

// HandleLocationChange is called by the host when the path changes.
// Repeated notifications for the current path are ignored.
func (s *AnalyticsService) HandleLocationChange(ctx context.Context, path string) {
	if sess, ok := s.sessions.Current(); ok && sess.CurrentPath == path {
		return
	}
	if follower, ok := s.env.(analytics.PathFollower); ok {
		follower.FollowPath(path)
	}
	s.TrackPageView(ctx, path, nil)
}

// HandlePageExit is called by the host when the page is being left
func (s *AnalyticsService) HandlePageExit(ctx context.Context) {
	s.TrackPageExit(ctx, nil)
}

// Subscribe registers the service for navigation notifications from nav.
// The subscription ends when the service is closed.
func (s *AnalyticsService) Subscribe(nav analytics.Navigator) {
	unsubscribe := nav.Subscribe(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe = append(s.unsubscribe, unsubscribe)
}

// ProcessEventQueue redelivers queued events whose backoff has elapsed
func (s *AnalyticsService) ProcessEventQueue(ctx context.Context) DeliveryReport {
	report := s.dispatcher.ProcessQueue(ctx, false)
	s.logQueueReport("Processed retry queue", report)
	return report
}

// Flush redelivers every queued event immediately
func (s *AnalyticsService) Flush(ctx context.Context) DeliveryReport {
	report := s.dispatcher.ProcessQueue(ctx, true)
	s.logQueueReport("Flushed retry queue", report)
	return report
}

func (s *AnalyticsService) logQueueReport(msg string, r DeliveryReport) {
	if r == (DeliveryReport{}) {
		return
	}
	s.logger.Info(msg,
		zap.Int("delivered", r.Delivered),
		zap.Int("requeued", r.Requeued),
		zap.Int("deferred", r.Deferred),
		zap.Int("exhausted", r.Exhausted),
		zap.Int("skipped", r.Skipped),
		zap.Int("queue_length", s.queue.Len()))
}

// Run drains the retry queue on every flush interval until ctx is done
func (s *AnalyticsService) Run(ctx context.Context) error {
	interval := s.config.RetryPolicy().FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if s.initialized.Load() && !s.closed.Load() {
				s.ProcessEventQueue(ctx)
			}
		}
	}
}

// Session returns a copy of the active session
func (s *AnalyticsService) Session() (session.Session, bool) {
	return s.sessions.Current()
}

// QueueLength returns the number of deliveries waiting for retry
func (s *AnalyticsService) QueueLength() int {
	return s.queue.Len()
}

// QueuedEntries lists deliveries waiting for retry
func (s *AnalyticsService) QueuedEntries() []QueuedEntry {
	return s.queue.Snapshot()
}

// LiveProviders returns the names of providers that initialized successfully
func (s *AnalyticsService) LiveProviders() []string {
	return s.dispatcher.LiveProviders()
}

// Initialized reports whether Initialize completed
func (s *AnalyticsService) Initialized() bool {
	return s.initialized.Load()
}

// Close stops timers, ends navigation subscriptions and closes providers.
// Tracking calls after Close are dropped.
func (s *AnalyticsService) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.sessions.Stop()

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	for _, fn := range unsubscribe {
		fn()
	}

	if pending := s.queue.Len(); pending > 0 {
		s.logger.Warn("Closing with undelivered events", zap.Int("queue_length", pending))
	}
	return s.dispatcher.Close(ctx)
}
