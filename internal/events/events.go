// Package events implements a small in-process event bus.  Handlers are
// bound by name; triggers run them synchronously, or through the worker
// pool for fire-and-forget notifications.
package events

import (
	"context"
	"sync"

	"image-annotation-service/internal/logger"
	"image-annotation-service/internal/worker"
)

// Event names emitted and consumed by the annotation store
const (
	AnnotationSave         = "annotation.save"
	AnnotationSaveHistory  = "annotation.save_history"
	AnnotationRemoveBefore = "annotation.remove.before"
	AnnotationRemoveAfter  = "annotation.remove.after"
	ItemRemove             = "item.remove"
	ItemCopy               = "item.copy"
)

// Info carries event payload fields
type Info map[string]any

// Handler receives a triggered event
type Handler func(ctx context.Context, name string, info Info)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	pool     *worker.WorkerPool
	log      *logger.Logger
}

// NewBus creates an event bus.  pool may be nil; async triggers then run
// in their own goroutine.
func NewBus(pool *worker.WorkerPool) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		pool:     pool,
		log:      logger.GetGlobalLogger().WithComponent("events"),
	}
}

// Bind registers a handler for an event name
func (b *Bus) Bind(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Trigger runs all handlers bound to name synchronously, in bind order
func (b *Bus) Trigger(ctx context.Context, name string, info Info) {
	for _, h := range b.bound(name) {
		h(ctx, name, info)
	}
}

// TriggerAsync dispatches handlers through the worker pool.  Failures are
// logged and never reach the caller.
func (b *Bus) TriggerAsync(name string, info Info) {
	handlers := b.bound(name)
	if len(handlers) == 0 {
		return
	}
	run := func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error().Str("event", name).Interface("panic", r).Msg("Event handler panicked")
			}
		}()
		for _, h := range handlers {
			h(ctx, name, info)
		}
		return nil
	}
	if b.pool != nil {
		b.pool.Submit(run)
		return
	}
	go run(context.Background())
}

func (b *Bus) bound(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[name]))
	copy(handlers, b.handlers[name])
	return handlers
}
