package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. It is what tests and local runs without
// MySQL use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]map[string]string)}
}

func (m *Memory) Get(_ context.Context, profileID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[profileID][key]
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, profileID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.values[profileID]
	if !ok {
		entries = make(map[string]string)
		m.values[profileID] = entries
	}
	entries[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, profileID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[profileID], key)
	return nil
}

// Store returns a fresh single-profile Store, handy when only one profile matters.
func (m *Memory) Store(profileID string) Store {
	return Scope(m, profileID)
}
