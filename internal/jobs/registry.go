package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Handle is the live execution unit of one job.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Finish marks the execution as exited. It is safe to call more than once.
func (h *Handle) Finish() {
	h.once.Do(func() { close(h.done) })
}

// Done is closed when the execution has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Registry maps job ids to their running drivers so removal can cancel them and
// wait for them to exit.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register records the driver for id. cancel stops it; the returned handle must
// be finished when the driver exits.
func (r *Registry) Register(id string, cancel context.CancelFunc) *Handle {
	handle := &Handle{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.handles[id] = handle
	r.mu.Unlock()

	return handle
}

// Unregister forgets the driver for id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

// Lookup returns the handle registered for id.
func (r *Registry) Lookup(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.handles[id]

	return handle, ok
}

// Cancel requests cancellation of the driver for id and waits until it exits or
// ctx ends. Ids without a running driver return nil immediately.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	handle, ok := r.Lookup(id)
	if !ok {
		return nil
	}

	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for job %s to stop: %w", id, ctx.Err())
	}
}

// CancelAll requests cancellation of every registered driver without waiting.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, handle := range r.handles {
		handle.cancel()
	}
}

// Len returns the number of registered drivers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.handles)
}
