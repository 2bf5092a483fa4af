package chat

import (
	"sort"
	"sync"
)

// Manager keeps one Service per presentation key, e.g. a Telegram chat id.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Service
	newService func(key string) (*Service, error)
}

func NewManager(newService func(key string) (*Service, error)) *Manager {
	return &Manager{sessions: make(map[string]*Service), newService: newService}
}

// Get returns the service for key, creating it on first use.
func (m *Manager) Get(key string) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	s, err := m.newService(key)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = s
	return s, nil
}

// Each calls fn for every live session in key order. fn runs without the
// manager lock held.
func (m *Manager) Each(fn func(key string, s *Service)) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]*Service, len(keys))
	for i, k := range keys {
		list[i] = m.sessions[k]
	}
	m.mu.Unlock()

	for i, k := range keys {
		fn(k, list[i])
	}
}
