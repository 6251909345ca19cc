// Package vars implements the per-instance variable store backing the
// get_agent_config and set_agent_config actions. Each store belongs to
// exactly one agent instance; values cross instance boundaries only through
// explicit spawn-time and completion-time label bindings.
package vars

import (
	"sort"
	"sync"

	"github.com/rendis/agentic/pkg/schema"
)

// Store is a mutable string-keyed value map scoped to one agent instance.
// Safe for concurrent use: background children write their output_label
// binding asynchronously while the parent may be executing actions.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Get returns the value stored under key, or a MISSING_KEY error.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeMissingKey, "key %q not set", key)
	}
	return v, nil
}

// Set stores value under key, overwriting any previous value.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Seed bulk-loads initial bindings. Used by the spawner before the child starts.
func (s *Store) Seed(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
}

// Snapshot returns a copy of the current contents.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
