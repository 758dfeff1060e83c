// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"reflect"
	"testing"

	"github.com/edsonmartins/archbase-collab/collab"
)

func windowState(id string, x, y float64) collab.SharedWindowState {
	return collab.SharedWindowState{
		ID: id, Title: "title-" + id, X: x, Y: y,
		Width: 640, Height: 480, State: "normal",
	}
}

func TestMemoryDocumentSyncTransfersState(t *testing.T) {
	a := NewMemoryDocument("actor-a")
	b := NewMemoryDocument("actor-b")

	a.Set(windowState("w1", 10, 20), OriginLocal)
	a.Set(windowState("w2", 30, 40), OriginLocal)

	// b declares what it knows; a answers with the rest.
	update := a.EncodeStateAsUpdate(b.EncodeStateVector())
	if err := b.ApplyUpdate(update, OriginRemote); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	if !reflect.DeepEqual(a.All(), b.All()) {
		t.Errorf("replicas diverged:\n a=%v\n b=%v", a.All(), b.All())
	}
	state, ok := b.Get("w1")
	if !ok || state.X != 10 || state.Y != 20 {
		t.Errorf("b's w1 = %+v, want geometry (10, 20)", state)
	}
}

func TestMemoryDocumentDuplicateDeliveryIsIdempotent(t *testing.T) {
	a := NewMemoryDocument("actor-a")
	b := NewMemoryDocument("actor-b")

	a.Set(windowState("w1", 10, 20), OriginLocal)
	update := a.EncodeStateAsUpdate(nil)

	updates := 0
	b.OnUpdate(func([]byte, string) { updates++ })

	for range 3 {
		if err := b.ApplyUpdate(update, OriginRemote); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
	}
	if updates != 1 {
		t.Errorf("update notifications = %d for triplicate delivery, want 1", updates)
	}
	if len(b.All()) != 1 {
		t.Errorf("b has %d windows, want 1", len(b.All()))
	}
}

func TestMemoryDocumentConvergesRegardlessOfOrder(t *testing.T) {
	a := NewMemoryDocument("actor-a")
	b := NewMemoryDocument("actor-b")

	// Concurrent writes to the same window on both replicas.
	a.Set(windowState("w1", 1, 1), OriginLocal)
	b.Set(windowState("w1", 2, 2), OriginLocal)
	b.Set(windowState("w2", 3, 3), OriginLocal)

	fromA := a.EncodeStateAsUpdate(nil)
	fromB := b.EncodeStateAsUpdate(nil)

	if err := b.ApplyUpdate(fromA, OriginRemote); err != nil {
		t.Fatalf("b.ApplyUpdate failed: %v", err)
	}
	if err := a.ApplyUpdate(fromB, OriginRemote); err != nil {
		t.Fatalf("a.ApplyUpdate failed: %v", err)
	}

	if !reflect.DeepEqual(a.All(), b.All()) {
		t.Errorf("replicas diverged after exchange:\n a=%v\n b=%v", a.All(), b.All())
	}
}

func TestMemoryDocumentLaterWriteWins(t *testing.T) {
	a := NewMemoryDocument("actor-a")
	b := NewMemoryDocument("actor-b")

	a.Set(windowState("w1", 1, 1), OriginLocal)
	if err := b.ApplyUpdate(a.EncodeStateAsUpdate(nil), OriginRemote); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	// b's write happens after seeing a's: its Lamport timestamp is
	// higher, so it must win on both replicas.
	b.Set(windowState("w1", 9, 9), OriginLocal)
	if err := a.ApplyUpdate(b.EncodeStateAsUpdate(a.EncodeStateVector()), OriginRemote); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	state, _ := a.Get("w1")
	if state.X != 9 || state.Y != 9 {
		t.Errorf("a's w1 = (%v, %v), want b's later write (9, 9)", state.X, state.Y)
	}
}

func TestMemoryDocumentDeleteReplicates(t *testing.T) {
	a := NewMemoryDocument("actor-a")
	b := NewMemoryDocument("actor-b")

	a.Set(windowState("w1", 1, 1), OriginLocal)
	if err := b.ApplyUpdate(a.EncodeStateAsUpdate(nil), OriginRemote); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	var removed []string
	b.OnChange(func(change WindowChange) {
		if change.Removed {
			removed = append(removed, change.WindowID)
		}
	})

	a.Delete("w1", OriginLocal)
	if err := b.ApplyUpdate(a.EncodeStateAsUpdate(b.EncodeStateVector()), OriginRemote); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	if _, ok := b.Get("w1"); ok {
		t.Error("w1 still present on b after replicated delete")
	}
	if len(removed) != 1 || removed[0] != "w1" {
		t.Errorf("removal changes = %v, want [w1]", removed)
	}
}

func TestMemoryDocumentUpdateCarriesOrigin(t *testing.T) {
	doc := NewMemoryDocument("actor-a")

	var origins []string
	doc.OnUpdate(func(_ []byte, origin string) { origins = append(origins, origin) })

	doc.Set(windowState("w1", 1, 1), OriginLocal)

	other := NewMemoryDocument("actor-b")
	other.Set(windowState("w2", 2, 2), OriginLocal)
	if err := doc.ApplyUpdate(other.EncodeStateAsUpdate(nil), OriginRemote); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	want := []string{OriginLocal, OriginRemote}
	if !reflect.DeepEqual(origins, want) {
		t.Errorf("update origins = %v, want %v", origins, want)
	}
}

func TestMemoryDocumentRejectsMalformedUpdate(t *testing.T) {
	doc := NewMemoryDocument("actor-a")
	if err := doc.ApplyUpdate([]byte{0xff, 0x00, 0x01}, OriginRemote); err == nil {
		t.Fatal("ApplyUpdate accepted garbage, want error")
	}
}
