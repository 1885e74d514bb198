package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/session"
)

// SessionManager owns the single active session of the process. The
// session is resumed from storage when the continuity window has not
// elapsed, and cleared in memory by an inactivity timer.
type SessionManager struct {
	mu      sync.Mutex
	storage session.Storage
	config  analytics.ConfigProvider
	env     analytics.Environment
	clock   clockwork.Clock
	logger  *zap.Logger

	current    *session.Session
	timer      clockwork.Timer
	generation uint64
	onExpire   func(session.Session)
}

// NewSessionManager creates a session manager. env and logger may be nil.
func NewSessionManager(
	storage session.Storage,
	config analytics.ConfigProvider,
	env analytics.Environment,
	clock clockwork.Clock,
	logger *zap.Logger,
) *SessionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		storage: storage,
		config:  config,
		env:     env,
		clock:   clock,
		logger:  logger,
	}
}

// OnExpire registers a callback invoked when the inactivity timer clears a session
func (m *SessionManager) OnExpire(fn func(session.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

// StartNewSession resumes the persisted session if it is still fresh,
// otherwise starts a new one. The active session is returned.
func (m *SessionManager) StartNewSession(ctx context.Context) session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

// Ensure returns the active session, starting one if there is none
func (m *SessionManager) Ensure(ctx context.Context) session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return *m.current
	}
	return m.startLocked(ctx)
}

// Current returns a copy of the active session
func (m *SessionManager) Current() (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return session.Session{}, false
	}
	return *m.current, true
}

// Touch records activity now and re-arms the inactivity timer
func (m *SessionManager) Touch(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeLocked(ctx)
	m.touchLocked(ctx)
}

// IncrementEventCount bumps the event counter of the active session
func (m *SessionManager) IncrementEventCount(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeLocked(ctx)
	return m.countEventLocked(ctx)
}

// ReserveEvent checks the per-session cap and, when there is room, touches
// the session and counts one event. Both happen under one lock so
// concurrent trackers can never push the counter past limit.
func (m *SessionManager) ReserveEvent(ctx context.Context, limit int) (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeLocked(ctx)
	if m.current.EventCount >= limit {
		return *m.current, false
	}
	m.touchLocked(ctx)
	m.countEventLocked(ctx)
	return *m.current, true
}

// RecordPageView shifts the current path to previous, sets the new path
// and counts the view. It returns the session before the transition.
func (m *SessionManager) RecordPageView(ctx context.Context, path string) session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeLocked(ctx)
	before := *m.current
	m.current.RecordPageView(path, m.clock.Now())
	m.set(ctx, session.KeyCurrentPath, m.current.CurrentPath)
	m.set(ctx, session.KeyPreviousPath, m.current.PreviousPath)
	m.set(ctx, session.KeyPageViewCount, strconv.Itoa(m.current.PageViewCount))
	return before
}

// Stop disarms the inactivity timer
func (m *SessionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *SessionManager) startLocked(ctx context.Context) session.Session {
	now := m.clock.Now()
	settings := m.config.SessionSettings()

	if !settings.RefreshOnReload {
		if resumed, ok := m.resumeLocked(ctx, now, settings.Timeout); ok {
			m.current = resumed
			m.touchLocked(ctx)
			m.logger.Debug("Session resumed",
				zap.String("session_id", resumed.ID),
				zap.Int("event_count", resumed.EventCount))
			return *m.current
		}
	}

	hasHad, _ := m.get(ctx, session.ScopeDurable, session.KeyHasHadSession)
	if err := m.storage.Set(ctx, session.ScopeDurable, session.KeyHasHadSession, "true"); err != nil {
		m.logger.Debug("Failed to persist session marker", zap.Error(err))
	}

	var pageURL string
	if m.env != nil {
		pageURL = m.env.URL()
	}

	m.current = &session.Session{
		ID:             uuid.NewString(),
		StartedAt:      now,
		LastActivity:   now,
		IsFirstSession: hasHad != "true",
		UTM:            extractUTM(pageURL),
	}
	m.persistLocked(ctx)
	m.armLocked(settings.Timeout)

	m.logger.Debug("Session started",
		zap.String("session_id", m.current.ID),
		zap.Bool("first_session", m.current.IsFirstSession))
	return *m.current
}

func (m *SessionManager) resumeLocked(ctx context.Context, now time.Time, timeout time.Duration) (*session.Session, bool) {
	id, ok := m.get(ctx, session.ScopeSession, session.KeySessionID)
	if !ok || id == "" {
		return nil, false
	}
	lastRaw, ok := m.get(ctx, session.ScopeSession, session.KeyLastActivity)
	if !ok {
		return nil, false
	}
	last, err := parseMillis(lastRaw)
	if err != nil {
		return nil, false
	}
	s := &session.Session{ID: id, LastActivity: last}
	if s.IsExpired(now, timeout) {
		return nil, false
	}

	if raw, ok := m.get(ctx, session.ScopeSession, session.KeySessionStart); ok {
		if started, err := parseMillis(raw); err == nil {
			s.StartedAt = started
		}
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = last
	}
	if raw, ok := m.get(ctx, session.ScopeSession, session.KeyEventCount); ok {
		s.EventCount, _ = strconv.Atoi(raw)
	}
	if raw, ok := m.get(ctx, session.ScopeSession, session.KeyPageViewCount); ok {
		s.PageViewCount, _ = strconv.Atoi(raw)
	}
	if raw, ok := m.get(ctx, session.ScopeSession, session.KeyFirstSession); ok {
		s.IsFirstSession, _ = strconv.ParseBool(raw)
	}
	s.CurrentPath, _ = m.get(ctx, session.ScopeSession, session.KeyCurrentPath)
	s.PreviousPath, _ = m.get(ctx, session.ScopeSession, session.KeyPreviousPath)
	if raw, ok := m.get(ctx, session.ScopeSession, session.KeyUTM); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.UTM); err != nil {
			m.logger.Debug("Ignoring malformed persisted UTM", zap.Error(err))
		}
	}
	return s, true
}

// activeLocked starts a session when the previous one expired or none exists
func (m *SessionManager) activeLocked(ctx context.Context) {
	if m.current == nil {
		m.startLocked(ctx)
		return
	}
	if timeout := m.config.SessionSettings().Timeout; timeout > 0 && m.current.IsExpired(m.clock.Now(), timeout) {
		m.startLocked(ctx)
	}
}

func (m *SessionManager) countEventLocked(ctx context.Context) int {
	m.current.EventCount++
	m.set(ctx, session.KeyEventCount, strconv.Itoa(m.current.EventCount))
	return m.current.EventCount
}

func (m *SessionManager) touchLocked(ctx context.Context) {
	m.current.UpdateActivity(m.clock.Now())
	m.set(ctx, session.KeyLastActivity, formatMillis(m.current.LastActivity))
	m.armLocked(m.config.SessionSettings().Timeout)
}

// armLocked replaces the inactivity timer. A generation counter keeps a
// timer that already fired from clearing a newer session.
func (m *SessionManager) armLocked(timeout time.Duration) {
	m.generation++
	gen := m.generation
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(timeout, func() { m.expire(gen) })
}

func (m *SessionManager) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.current == nil {
		m.mu.Unlock()
		return
	}
	expired := *m.current
	m.current = nil
	m.timer = nil
	hook := m.onExpire
	m.mu.Unlock()

	m.logger.Debug("Session expired", zap.String("session_id", expired.ID))
	if hook != nil {
		hook(expired)
	}
}

func (m *SessionManager) persistLocked(ctx context.Context) {
	s := m.current
	m.set(ctx, session.KeySessionID, s.ID)
	m.set(ctx, session.KeySessionStart, formatMillis(s.StartedAt))
	m.set(ctx, session.KeyLastActivity, formatMillis(s.LastActivity))
	m.set(ctx, session.KeyEventCount, strconv.Itoa(s.EventCount))
	m.set(ctx, session.KeyPageViewCount, strconv.Itoa(s.PageViewCount))
	m.set(ctx, session.KeyFirstSession, strconv.FormatBool(s.IsFirstSession))
	m.set(ctx, session.KeyCurrentPath, s.CurrentPath)
	m.set(ctx, session.KeyPreviousPath, s.PreviousPath)
	if utm, err := json.Marshal(s.UTM); err == nil {
		m.set(ctx, session.KeyUTM, string(utm))
	}
}

// set writes a session-scoped key. Storage failures only cost continuity
// across restarts, so they are logged and otherwise ignored.
func (m *SessionManager) set(ctx context.Context, key, value string) {
	if err := m.storage.Set(ctx, session.ScopeSession, key, value); err != nil {
		m.logger.Debug("Failed to persist session field", zap.String("key", key), zap.Error(err))
	}
}

func (m *SessionManager) get(ctx context.Context, scope session.Scope, key string) (string, bool) {
	v, ok, err := m.storage.Get(ctx, scope, key)
	if err != nil {
		m.logger.Debug("Failed to read session field", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
