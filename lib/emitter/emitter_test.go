// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package emitter

import "testing"

func TestEmitter_FanOutInSubscriptionOrder(t *testing.T) {
	var e Emitter[int]
	var order []string

	e.Subscribe(func(v int) { order = append(order, "first") })
	e.Subscribe(func(v int) { order = append(order, "second") })
	e.Emit(1)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestEmitter_UnsubscribeRemovesHandler(t *testing.T) {
	var e Emitter[struct{}]
	calls := 0
	unsubscribe := e.Subscribe(func(struct{}) { calls++ })

	e.Emit(struct{}{})
	unsubscribe()
	e.Emit(struct{}{})
	unsubscribe() // second call is a no-op

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if e.Len() != 0 {
		t.Errorf("Len() = %d, want 0", e.Len())
	}
}

func TestEmitter_UnsubscribeFromWithinHandler(t *testing.T) {
	var e Emitter[struct{}]
	calls := 0
	var unsubscribe func()
	unsubscribe = e.Subscribe(func(struct{}) {
		calls++
		unsubscribe()
	})

	e.Emit(struct{}{})
	e.Emit(struct{}{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
