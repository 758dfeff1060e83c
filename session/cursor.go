// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/lib/clock"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
)

// cursorSampleInterval is the local sampling cadence, roughly 30 Hz.
const cursorSampleInterval = 33 * time.Millisecond

// CursorService broadcasts the local pointer position on a fixed
// cadence and mirrors remote cursors. Broadcasting is dirty-flagged:
// a tick sends only when the sampled position changed since the last
// send, so an idle pointer produces no traffic. Remote samples fan out
// to subscribers immediately, with no receive-side rate limiting.
type CursorService struct {
	clk       clock.Clock
	broadcast func(collab.CursorSample)

	mu         sync.Mutex
	running    bool
	stop       chan struct{}
	latest     collab.CursorSample
	haveSample bool
	lastSent   collab.CursorSample
	haveSent   bool
	remote     map[string]collab.RemoteCursor

	updates emitter.Emitter[collab.RemoteCursor]
}

// NewCursorService creates a cursor service. broadcast is invoked from
// the sampling loop with each position worth sending.
func NewCursorService(clk clock.Clock, broadcast func(collab.CursorSample)) *CursorService {
	return &CursorService{
		clk:       clk,
		broadcast: broadcast,
		remote:    make(map[string]collab.RemoteCursor),
	}
}

// Start begins the sampling loop. Idempotent.
func (c *CursorService) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	ticker := c.clk.NewTicker(cursorSampleInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.flush()
			}
		}
	}()
}

// Stop ends the sampling loop. Idempotent.
func (c *CursorService) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
}

// SetLocal records the most recent local pointer position. The next
// tick broadcasts it if it differs from the last broadcast value.
func (c *CursorService) SetLocal(sample collab.CursorSample) {
	c.mu.Lock()
	c.latest = sample
	c.haveSample = true
	c.mu.Unlock()
}

// flush is one sampling tick.
func (c *CursorService) flush() {
	c.mu.Lock()
	if !c.haveSample || (c.haveSent && c.latest == c.lastSent) {
		c.mu.Unlock()
		return
	}
	sample := c.latest
	c.lastSent = sample
	c.haveSent = true
	c.mu.Unlock()

	c.broadcast(sample)
}

// HandleRemoteSample stores a remote participant's cursor and fans it
// out immediately.
func (c *CursorService) HandleRemoteSample(participant collab.Participant, sample collab.CursorSample, now time.Time) {
	remote := collab.RemoteCursor{Participant: participant, Cursor: sample, LastUpdate: now}
	c.mu.Lock()
	c.remote[participant.ID] = remote
	c.mu.Unlock()
	c.updates.Emit(remote)
}

// RemoveRemote drops a departed participant's cursor.
func (c *CursorService) RemoveRemote(participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.remote, participantID)
}

// RemoteCursors returns a snapshot of the known remote cursors.
func (c *CursorService) RemoteCursors() map[string]collab.RemoteCursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]collab.RemoteCursor, len(c.remote))
	for id, cursor := range c.remote {
		snapshot[id] = cursor
	}
	return snapshot
}

// OnRemoteCursor registers a handler for remote cursor updates.
func (c *CursorService) OnRemoteCursor(handler func(collab.RemoteCursor)) func() {
	return c.updates.Subscribe(handler)
}
