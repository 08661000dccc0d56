// Package locks serializes thread creation per (customer, order).
package locks

import (
	"sync"
)

// Key identifies one creation attempt.
type Key struct {
	UserID  string
	OrderID string
}

func (k Key) String() string {
	return k.UserID + ":" + k.OrderID
}

// Manager is a non-blocking set of held keys.
type Manager struct {
	mu   sync.Mutex
	held map[Key]struct{}
}

func NewManager() *Manager {
	return &Manager{held: make(map[Key]struct{})}
}

// TryAcquire returns false when key is already held.
func (m *Manager) TryAcquire(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.held[key]; busy {
		return false
	}
	m.held[key] = struct{}{}
	return true
}

func (m *Manager) Release(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
}

// Held reports whether key is currently locked.
func (m *Manager) Held(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.held[key]
	return busy
}

// WithLock runs fn while holding key and always releases it, panics included.
// acquired is false when another attempt holds the key; fn is not run then.
func (m *Manager) WithLock(key Key, fn func() error) (acquired bool, err error) {
	if !m.TryAcquire(key) {
		return false, nil
	}
	defer m.Release(key)

	return true, fn()
}
