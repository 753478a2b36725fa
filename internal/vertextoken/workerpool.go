package vertextoken

import "context"

// workerPool is a bounded-concurrency dispatcher for token-refresh work,
// so a slow OAuth endpoint cannot monopolize the request-serving goroutines.
type workerPool struct {
	sem chan struct{}
}

func newWorkerPool(workers int) *workerPool {
	return &workerPool{sem: make(chan struct{}, workers)}
}

// Submit runs fn once a worker slot is free, blocking the caller until then
// or until ctx is cancelled.
func (p *workerPool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	go func() {
		defer func() { <-p.sem }()
		fn()
	}()
	return nil
}
