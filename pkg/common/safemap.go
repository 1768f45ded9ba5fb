package common

import "sync"

type SafeMap[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewSafeMap initializes a new SafeMap with the specified value type.
func NewSafeMap[V any]() *SafeMap[V] {
	return &SafeMap[V]{
		items: make(map[string]V),
	}
}

func (m *SafeMap[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *SafeMap[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, exists := m.items[key]
	return value, exists
}

func (m *SafeMap[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *SafeMap[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *SafeMap[V]) Range(f func(key string, value V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, value := range m.items {
		if !f(key, value) {
			return
		}
	}
}
