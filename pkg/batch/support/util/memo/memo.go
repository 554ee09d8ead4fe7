// Package memo provides a concurrent key/value memo whose writes made inside a transaction
// only become visible to other callers once that transaction commits.
package memo

import (
	"context"
	"sync"

	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
)

// Staged is a concurrent memo. Entries put under a context carrying a transaction that implements
// tx.CompletionHooks are staged per transaction: the owning transaction sees them immediately,
// everybody else sees them after commit. A rollback discards them.
type Staged[K comparable, V any] struct {
	mu        sync.RWMutex
	committed map[K]V
	stages    map[tx.Tx]map[K]V
}

// New creates an empty memo.
func New[K comparable, V any]() *Staged[K, V] {
	return &Staged[K, V]{
		committed: make(map[K]V),
		stages:    make(map[tx.Tx]map[K]V),
	}
}

// Get looks key up, preferring entries staged by the transaction carried by ctx.
func (m *Staged[K, V]) Get(ctx context.Context, key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t, ok := tx.FromContext(ctx); ok {
		if stage, ok := m.stages[t]; ok {
			if v, ok := stage[key]; ok {
				return v, true
			}
		}
	}
	v, ok := m.committed[key]
	return v, ok
}

// Put records key. Without a hookable transaction in ctx the entry is published immediately.
func (m *Staged[K, V]) Put(ctx context.Context, key K, value V) {
	t, ok := tx.FromContext(ctx)
	if !ok {
		m.Publish(key, value)
		return
	}
	hooks, ok := t.(tx.CompletionHooks)
	if !ok {
		m.Publish(key, value)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stage, exists := m.stages[t]
	if !exists {
		stage = make(map[K]V)
		m.stages[t] = stage
		hooks.AfterCommit(func() { m.commit(t) })
		hooks.AfterRollback(func() { m.discard(t) })
	}
	stage[key] = value
}

// Publish records key as committed state, visible to every caller.
func (m *Staged[K, V]) Publish(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed[key] = value
}

// Forget removes key from committed state.
func (m *Staged[K, V]) Forget(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.committed, key)
}

// Reset drops every committed entry. Open stages are left to their transactions.
func (m *Staged[K, V]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = make(map[K]V)
}

// Len returns the number of committed entries.
func (m *Staged[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.committed)
}

func (m *Staged[K, V]) commit(t tx.Tx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.stages[t] {
		m.committed[k] = v
	}
	delete(m.stages, t)
}

func (m *Staged[K, V]) discard(t tx.Tx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stages, t)
}
