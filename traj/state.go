package traj

import (
	"sort"
	"sync"
)

// ResultStore keeps the latest evaluation of each pair for HTTP and MQTT consumers
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]*Evaluation
}

// NewResultStore creates an empty store
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]*Evaluation),
	}
}

// Put stores ev as the latest result of its pair
func (rs *ResultStore) Put(ev *Evaluation) {
	if ev == nil {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.results[ev.Pair] = ev
}

// Get returns the latest evaluation of a pair
func (rs *ResultStore) Get(pair string) (*Evaluation, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	ev, ok := rs.results[pair]
	return ev, ok
}

// Names returns the stored pair names in sorted order
func (rs *ResultStore) Names() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	names := make([]string, 0, len(rs.results))
	for name := range rs.results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns a snapshot of the stored evaluations keyed by pair name.
// Evaluations are shared, callers must not modify them.
func (rs *ResultStore) All() map[string]*Evaluation {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make(map[string]*Evaluation, len(rs.results))
	for name, ev := range rs.results {
		out[name] = ev
	}
	return out
}

// Len returns the number of stored pairs
func (rs *ResultStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.results)
}
