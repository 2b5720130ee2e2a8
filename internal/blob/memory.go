package blob

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"entityid/pkg/platform/sentinel"
)

type object struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store for tests and single-node setups.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: slices.Clone(data), contentType: contentType}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, sentinel.ErrNotFound)
	}
	return slices.Clone(obj.data), nil
}

// Keys lists stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
