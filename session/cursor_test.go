// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"
	"time"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/lib/clock"
)

func TestCursorDirtyFlagSuppression(t *testing.T) {
	var sent []collab.CursorSample
	service := NewCursorService(clock.Fake(time.Unix(1000, 0)), func(sample collab.CursorSample) {
		sent = append(sent, sample)
	})

	// No sample yet: ticks send nothing.
	service.flush()
	if len(sent) != 0 {
		t.Fatalf("broadcasts before any sample = %d, want 0", len(sent))
	}

	service.SetLocal(collab.CursorSample{X: 100, Y: 200, Visible: true})
	service.flush()
	if len(sent) != 1 {
		t.Fatalf("broadcasts after first sample = %d, want 1", len(sent))
	}

	// Idle pointer: repeated ticks with an unchanged position are
	// suppressed.
	service.flush()
	service.flush()
	if len(sent) != 1 {
		t.Errorf("broadcasts with idle pointer = %d, want 1", len(sent))
	}

	service.SetLocal(collab.CursorSample{X: 101, Y: 200, Visible: true})
	service.flush()
	if len(sent) != 2 {
		t.Errorf("broadcasts after movement = %d, want 2", len(sent))
	}
	if sent[1].X != 101 {
		t.Errorf("second broadcast X = %v, want 101", sent[1].X)
	}
}

func TestCursorCoalescesToLatestSample(t *testing.T) {
	var sent []collab.CursorSample
	service := NewCursorService(clock.Fake(time.Unix(1000, 0)), func(sample collab.CursorSample) {
		sent = append(sent, sample)
	})

	// Many samples between ticks: only the latest goes out.
	for x := 0; x < 50; x++ {
		service.SetLocal(collab.CursorSample{X: float64(x), Y: 0, Visible: true})
	}
	service.flush()

	if len(sent) != 1 || sent[0].X != 49 {
		t.Errorf("broadcasts = %v, want single sample at X=49", sent)
	}
}

func TestCursorRemoteFanOut(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	service := NewCursorService(clk, func(collab.CursorSample) {})

	var updates []collab.RemoteCursor
	service.OnRemoteCursor(func(cursor collab.RemoteCursor) { updates = append(updates, cursor) })

	peer := collab.Participant{ID: "peer", DisplayName: "Peer", Color: collab.Palette[0]}
	sample := collab.CursorSample{X: 100, Y: 200, Visible: true}
	service.HandleRemoteSample(peer, sample, clk.Now())

	// Receive side has no rate limiting: every sample fans out.
	service.HandleRemoteSample(peer, sample, clk.Now())
	if len(updates) != 2 {
		t.Fatalf("remote updates = %d, want 2", len(updates))
	}
	if updates[0].Participant.ID != "peer" || updates[0].Cursor != sample {
		t.Errorf("update = %+v, want peer's sample", updates[0])
	}
	if !updates[0].LastUpdate.Equal(clk.Now()) {
		t.Errorf("lastUpdate = %v, want %v", updates[0].LastUpdate, clk.Now())
	}

	service.RemoveRemote("peer")
	if len(service.RemoteCursors()) != 0 {
		t.Error("remote cursor survived removal")
	}
}
