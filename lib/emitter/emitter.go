// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package emitter provides a small multi-subscriber event channel:
// subscribe with a handler, get an unsubscribe function back. This is
// the fan-out primitive behind every OnX method in the engine.
package emitter

import "sync"

// Emitter fans events out to subscribed handlers in subscription order.
// Safe for concurrent use. Handlers run synchronously in the goroutine
// that calls Emit; handlers must not block.
type Emitter[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers []subscription[T]
}

type subscription[T any] struct {
	id      int
	handler func(T)
}

// Subscribe registers handler and returns a function that removes it.
// Unsubscribing twice is a no-op.
func (e *Emitter[T]) Subscribe(handler func(T)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.handlers = append(e.handlers, subscription[T]{id: id, handler: handler})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.handlers {
			if s.id == id {
				e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every subscribed handler with value. The handler list is
// snapshotted first, so handlers may subscribe or unsubscribe from
// within a callback without corrupting the iteration.
func (e *Emitter[T]) Emit(value T) {
	e.mu.Lock()
	snapshot := make([]func(T), len(e.handlers))
	for i, s := range e.handlers {
		snapshot[i] = s.handler
	}
	e.mu.Unlock()

	for _, handler := range snapshot {
		handler(value)
	}
}

// Len returns the number of active subscriptions.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}
