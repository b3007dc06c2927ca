package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// Manager holds the registered brokers and the current primary selection.
// Components take the Manager by reference instead of consulting any global
// state; switching the primary re-routes all subsequent submissions.
type Manager struct {
	mu      sync.RWMutex
	brokers map[string]Broker
	primary string
	log     *slog.Logger
}

// NewManager creates an empty broker Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		brokers: make(map[string]Broker),
		log:     logger.With("component", "broker-manager"),
	}
}

// Register adds a broker under its own name. The first registered broker
// becomes the primary.
func (m *Manager) Register(b Broker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokers[b.Name()] = b
	if m.primary == "" {
		m.primary = b.Name()
	}
}

// Primary returns the currently selected broker, or nil when none is
// registered.
func (m *Manager) Primary() Broker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.brokers[m.primary]
}

// Get returns a registered broker by name.
func (m *Manager) Get(name string) (Broker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.brokers[name]
	return b, ok
}

// SwitchTo makes the named broker primary. Switching is only permitted to a
// broker that is currently connected.
func (m *Manager) SwitchTo(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.brokers[name]
	if !ok {
		return fmt.Errorf("broker %q is not registered", name)
	}
	if !b.IsConnected() {
		return fmt.Errorf("broker %q is not connected", name)
	}
	m.primary = name
	m.log.Info("switched primary broker", "broker", name)
	return nil
}

// Connected returns the names of all currently connected brokers.
func (m *Manager) Connected() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for name, b := range m.brokers {
		if b.IsConnected() {
			out = append(out, name)
		}
	}
	return out
}

// ConnectAll connects every registered broker concurrently. A broker that
// fails to connect is logged and left disconnected; the first error is
// returned after all attempts finish, leaving the remaining brokers
// operable.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	brokers := make([]Broker, 0, len(m.brokers))
	for _, b := range m.brokers {
		brokers = append(brokers, b)
	}
	m.mu.RUnlock()

	p := pool.New().WithErrors().WithMaxGoroutines(4)
	for _, b := range brokers {
		b := b
		p.Go(func() error {
			if err := b.Connect(ctx); err != nil {
				m.log.Error("broker connect failed", "broker", b.Name(), "error", err)
				return err
			}
			m.log.Info("broker connected", "broker", b.Name())
			return nil
		})
	}
	return p.Wait()
}
