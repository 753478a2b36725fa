// Package rotate implements round-robin selection over a credential pool.
// Tie-breaks and starvation are not a concern: the gateway's retry loop
// provides its own fairness by advancing to a different credential on each
// retry attempt.
package rotate

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nullstream-labs/genai-rotator/internal/credstore"
)

// ErrPoolEmpty is returned by Next when the rotator has no credentials.
var ErrPoolEmpty = errors.New("rotate: credential pool is empty")

// GeminiRotator is a round-robin selector over the live Gemini key pool.
type GeminiRotator struct {
	mu     sync.Mutex
	cursor int
	store  *credstore.Store
}

// NewGeminiRotator returns a rotator backed by store's Gemini pool.
func NewGeminiRotator(store *credstore.Store) *GeminiRotator {
	return &GeminiRotator{store: store}
}

// Next returns the next credential in round-robin order.
func (r *GeminiRotator) Next() (*credstore.GeminiCredential, error) {
	pool := r.store.GeminiPool()
	if len(pool) == 0 {
		return nil, ErrPoolEmpty
	}
	r.mu.Lock()
	idx := r.cursor % len(pool)
	r.cursor++
	r.mu.Unlock()
	return pool[idx], nil
}

// Reset zeroes the cursor. Callers wire this to credstore.Store.OnReload so
// the pool always restarts from index 0 on every reload, not just ones that
// change the pool size.
func (r *GeminiRotator) Reset() {
	r.mu.Lock()
	r.cursor = 0
	r.mu.Unlock()
}

// Count returns the current Gemini pool size.
func (r *GeminiRotator) Count() int {
	return len(r.store.GeminiPool())
}

// VertexRotator is a round-robin selector over the live Vertex credential
// pool, with a direct lookup by project id for LRO affinity.
type VertexRotator struct {
	cursor atomic.Uint64
	store  *credstore.Store
}

// NewVertexRotator returns a rotator backed by store's Vertex pool.
func NewVertexRotator(store *credstore.Store) *VertexRotator {
	return &VertexRotator{store: store}
}

// Next returns the next credential in round-robin order.
func (r *VertexRotator) Next() (*credstore.VertexCredential, error) {
	pool := r.store.VertexPool()
	if len(pool) == 0 {
		return nil, ErrPoolEmpty
	}
	idx := r.cursor.Add(1) - 1
	return pool[int(idx%uint64(len(pool)))], nil
}

// ByProjectID looks up a credential directly, for LRO-affinity-pinned
// attempts. Returns nil, false when the project id is no longer in the
// pool — callers fall back to Next(); ByProjectID never performs that
// fallback itself.
func (r *VertexRotator) ByProjectID(projectID string) (*credstore.VertexCredential, bool) {
	for _, cred := range r.store.VertexPool() {
		if cred.ProjectID == projectID {
			return cred, true
		}
	}
	return nil, false
}

// Count returns the current Vertex pool size.
func (r *VertexRotator) Count() int {
	return len(r.store.VertexPool())
}

// Reset zeroes the cursor. Callers wire this to credstore.Store.OnReload so
// the pool always restarts from index 0 on every reload, not just ones that
// change the pool size.
func (r *VertexRotator) Reset() {
	r.cursor.Store(0)
}
