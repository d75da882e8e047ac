package connection

import (
	"sync"
	"time"

	"github.com/agentuity/go-common/logger"

	"github.com/lanternbbs/lantern/pkg/wire"
)

// Manager is the registry of live connections. It is bookkeeping only:
// no per-connection correctness depends on it beyond shutdown draining.
type Manager struct {
	logger logger.Logger

	mu    sync.RWMutex
	conns map[string]Connection
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger: log.WithPrefix("[connections]"),
		conns:  make(map[string]Connection),
	}
}

func (m *Manager) Add(conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID()] = conn
}

func (m *Manager) Remove(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connectionID)
}

func (m *Manager) Get(connectionID string) (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connectionID]
	return c, ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *Manager) All() []Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// CloseAll sends a final message to every connection, waits out the
// grace period so write pumps can flush, then closes each transport.
// Used only at shutdown.
func (m *Manager) CloseAll(goodbye string, grace time.Duration) {
	conns := m.All()
	for _, c := range conns {
		if err := c.Send(wire.ServerEnvelope{Type: wire.ServerMessageTypeGoodbye, Data: goodbye}); err != nil {
			m.logger.Debug("goodbye not delivered to %s: %v", c.ID(), err)
		}
	}
	time.Sleep(grace)
	for _, c := range conns {
		_ = c.Close()
	}
	m.mu.Lock()
	m.conns = make(map[string]Connection)
	m.mu.Unlock()
}
