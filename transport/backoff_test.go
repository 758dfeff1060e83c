// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"
	"time"
)

func TestReconnectDelayDoublesUntilCap(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := reconnectDelay(tc.attempt); got != tc.want {
			t.Errorf("reconnectDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestReconnectDelayNegativeAttempt(t *testing.T) {
	if got := reconnectDelay(-3); got != initialReconnectDelay {
		t.Errorf("reconnectDelay(-3) = %v, want %v", got, initialReconnectDelay)
	}
}

func TestSessionURL(t *testing.T) {
	got, err := sessionURL("ws://hub.local:8787/ws", "design-review", "maria", false)
	if err != nil {
		t.Fatalf("sessionURL failed: %v", err)
	}
	want := "ws://hub.local:8787/ws?room=design-review&user=maria"
	if got != want {
		t.Errorf("sessionURL = %q, want %q", got, want)
	}
}

func TestSessionURLMeshMarker(t *testing.T) {
	got, err := sessionURL("ws://hub.local:8787/ws", "r", "u", true)
	if err != nil {
		t.Fatalf("sessionURL failed: %v", err)
	}
	want := "ws://hub.local:8787/ws?mode=mesh&room=r&user=u"
	if got != want {
		t.Errorf("sessionURL = %q, want %q", got, want)
	}
}
