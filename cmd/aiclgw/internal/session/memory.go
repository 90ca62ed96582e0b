package session

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryBackend keeps sessions in process memory. Sessions are lost on
// restart and are not shared between replicas.
type MemoryBackend struct {
	entries *expirable.LRU[string, map[string]json.RawMessage]
}

// NewMemoryBackend creates a backend holding at most size sessions, each
// expiring ttl after its last save.
func NewMemoryBackend(size int, ttl time.Duration) *MemoryBackend {
	if size <= 0 {
		size = 10000
	}
	return &MemoryBackend{entries: expirable.NewLRU[string, map[string]json.RawMessage](size, nil, ttl)}
}

// Load implements Backend.
func (m *MemoryBackend) Load(_ context.Context, id string) (map[string]json.RawMessage, error) {
	values, ok := m.entries.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(values), nil
}

// Save implements Backend. The backend-wide TTL applies; ttl is ignored.
func (m *MemoryBackend) Save(_ context.Context, id string, values map[string]json.RawMessage, _ time.Duration) error {
	m.entries.Add(id, maps.Clone(values))
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.entries.Remove(id)
	return nil
}
