package engine

import (
	"context"
	"sync"
)

// Holder points at the engine of the current watch cycle. Servers that
// outlive a reload keep one Holder and see each new engine through it.
type Holder struct {
	mu     sync.RWMutex
	engine *Engine
}

// Set replaces the current engine. nil means no cycle is running.
func (h *Holder) Set(e *Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = e
}

func (h *Holder) current() *Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// Status returns the status of the current engine, or a zero Status
// between cycles.
func (h *Holder) Status() Status {
	e := h.current()
	if e == nil {
		return Status{}
	}
	return e.Status()
}

// Trigger forwards to the current engine.
func (h *Holder) Trigger(ctx context.Context, name string) error {
	e := h.current()
	if e == nil {
		return ErrNotRunning
	}
	return e.Trigger(ctx, name)
}
