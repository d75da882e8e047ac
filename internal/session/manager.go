// Package session owns the authoritative session table. Every mutation
// goes through the Manager; nothing else holds a writable copy.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/go-common/logger"
	"github.com/google/uuid"

	"github.com/lanternbbs/lantern/internal/domain"
)

// TimeoutExiter runs an activity's graceful exit when the idle sweep
// evicts a session that is still inside one. It is invoked before the
// session is removed so the activity can persist state and say goodbye.
type TimeoutExiter interface {
	ExitOnTimeout(sess *domain.Session)
}

type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

type Manager struct {
	logger logger.Logger
	cfg    Config

	mu     sync.RWMutex
	byID   map[string]*domain.Session
	byConn map[string]string

	exiterMu sync.RWMutex
	exiter   TimeoutExiter
	observer func(*domain.Session)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(log logger.Logger, cfg Config) *Manager {
	return &Manager{
		logger: log.WithPrefix("[sessions]"),
		cfg:    cfg,
		byID:   make(map[string]*domain.Session),
		byConn: make(map[string]string),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetTimeoutExiter wires the activity handler in after construction;
// the dispatcher depends on the manager, so the reverse edge is late-bound.
func (m *Manager) SetTimeoutExiter(e TimeoutExiter) {
	m.exiterMu.Lock()
	defer m.exiterMu.Unlock()
	m.exiter = e
}

// SetEvictObserver registers a callback run after the sweep removes a
// session, so owners of per-session resources (synthetic connections,
// notify registrations) can release them. Close-path removals do not
// fire it; the close path already owns its cleanup.
func (m *Manager) SetEvictObserver(fn func(sess *domain.Session)) {
	m.exiterMu.Lock()
	defer m.exiterMu.Unlock()
	m.observer = fn
}

// Create makes a new session bound to connectionID. If the connection
// already has one (the REST loopback reuses a deterministic id), the
// existing session is returned instead; there is exactly one session
// per connection id.
func (m *Manager) Create(connectionID string) *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byConn[connectionID]; ok {
		if sess, ok := m.byID[id]; ok {
			return snapshot(sess)
		}
	}
	sess := &domain.Session{
		ID:           uuid.New().String(),
		ConnectionID: connectionID,
		State:        domain.StateConnected,
		CurrentMenu:  domain.MenuMain,
		LastActivity: time.Now(),
	}
	m.byID[sess.ID] = sess
	m.byConn[connectionID] = sess.ID
	return snapshot(sess)
}

// Get returns a copy of the session, or false if it does not exist.
// Missing ids are never an error here; callers check the bool.
func (m *Manager) Get(id string) (*domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return snapshot(sess), true
}

func (m *Manager) GetByConnection(connectionID string) (*domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byConn[connectionID]
	if !ok {
		return nil, false
	}
	sess, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return snapshot(sess), true
}

// Update applies the mutator under the table lock and refreshes
// LastActivity. Returns false if the session no longer exists.
func (m *Manager) Update(id string, mutate func(*domain.Session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[id]
	if !ok {
		return false
	}
	oldConn := sess.ConnectionID
	mutate(sess)
	sess.LastActivity = time.Now()
	if sess.ConnectionID != oldConn {
		delete(m.byConn, oldConn)
		m.byConn[sess.ConnectionID] = sess.ID
	}
	return true
}

// Touch refreshes LastActivity only.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[id]
	if !ok {
		return false
	}
	sess.LastActivity = time.Now()
	return true
}

// Remove deletes the session. Removing an id that is already gone is a
// no-op; the close path and the idle sweep may race here.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	if m.byConn[sess.ConnectionID] == id {
		delete(m.byConn, sess.ConnectionID)
	}
}

// RemoveByConnection is the close-path variant of Remove.
func (m *Manager) RemoveByConnection(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byConn[connectionID]
	if !ok {
		return
	}
	delete(m.byConn, connectionID)
	delete(m.byID, id)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *Manager) All() []*domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Session, 0, len(m.byID))
	for _, sess := range m.byID {
		out = append(out, snapshot(sess))
	}
	return out
}

// StartSweep runs the idle eviction loop until ctx is cancelled or
// StopSweep is called.
func (m *Manager) StartSweep(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Manager) StopSweep() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Sweep evicts every session idle past the timeout. Exported for tests;
// the ticker calls it on the configured interval.
func (m *Manager) Sweep() {
	m.sweep()
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	expired := make([]string, 0)
	for id, sess := range m.byID {
		if sess.LastActivity.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.evictIfIdle(id, cutoff)
	}
}

// evictIfIdle is the sweep's second phase for one candidate. Re-check
// both existence and idleness: a close event may have removed the
// session since the scan, and live traffic since the scan resets the
// clock.
func (m *Manager) evictIfIdle(id string, cutoff time.Time) {
	sess, ok := m.Get(id)
	if !ok || !sess.LastActivity.Before(cutoff) {
		return
	}
	m.exiterMu.RLock()
	exiter := m.exiter
	observer := m.observer
	m.exiterMu.RUnlock()
	if sess.State == domain.StateInActivity && exiter != nil {
		exiter.ExitOnTimeout(sess)
	}
	m.logger.Info("evicting idle session %s (connection %s)", id, sess.ConnectionID)
	m.Remove(id)
	if observer != nil {
		observer(sess)
	}
}

func snapshot(sess *domain.Session) *domain.Session {
	copied := *sess
	return &copied
}
