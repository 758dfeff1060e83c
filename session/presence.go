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

const (
	// presenceCheckInterval is how often local idleness is evaluated.
	presenceCheckInterval = 10 * time.Second
	// idleThreshold moves active → idle.
	idleThreshold = 60 * time.Second
	// awayThreshold moves idle → away.
	awayThreshold = 300 * time.Second
)

// PresenceService runs the local idle-detection state machine and
// mirrors remote presence. The local side transitions active → idle →
// away on input silence and snaps back to active on any activity.
// The remote roster is a passive cache: it changes only on inbound
// events, never on a timer, so a participant that vanishes without a
// clean leave stays until the hub reports it gone.
type PresenceService struct {
	clk       clock.Clock
	self      func() collab.Participant
	broadcast func(status collab.PresenceState, focusedWindowID string)

	mu           sync.Mutex
	running      bool
	stop         chan struct{}
	status       collab.PresenceState
	lastActivity time.Time
	focused      string
	joinedAt     time.Time
	roster       map[string]collab.ParticipantPresence

	updates emitter.Emitter[collab.ParticipantPresence]
}

// NewPresenceService creates a presence service. self resolves the
// local participant at emit time, because the room authority may
// reassign the color after the service is constructed.
func NewPresenceService(clk clock.Clock, self func() collab.Participant, broadcast func(collab.PresenceState, string)) *PresenceService {
	now := clk.Now()
	return &PresenceService{
		clk:          clk,
		self:         self,
		broadcast:    broadcast,
		status:       collab.PresenceActive,
		lastActivity: now,
		joinedAt:     now,
		roster:       make(map[string]collab.ParticipantPresence),
	}
}

// Start begins the idle-check loop. Idempotent.
func (p *PresenceService) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	ticker := p.clk.NewTicker(presenceCheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.checkIdle()
			}
		}
	}()
}

// Stop ends the idle-check loop. Idempotent.
func (p *PresenceService) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
}

// Activity records local input. Any activity resets to active
// immediately, whatever the current state.
func (p *PresenceService) Activity() {
	p.mu.Lock()
	p.lastActivity = p.clk.Now()
	changed := p.status != collab.PresenceActive
	p.status = collab.PresenceActive
	status, focused := p.status, p.focused
	p.mu.Unlock()

	if changed {
		p.announce(status, focused)
	}
}

// SetFocusedWindow records which window the local participant has
// focused. Broadcast unconditionally: followers react to focus moves
// even when presence state is unchanged.
func (p *PresenceService) SetFocusedWindow(windowID string) {
	p.mu.Lock()
	p.focused = windowID
	status := p.status
	p.mu.Unlock()

	p.announce(status, windowID)
}

// checkIdle is one evaluation of the local idle state machine.
func (p *PresenceService) checkIdle() {
	p.mu.Lock()
	elapsed := p.clk.Now().Sub(p.lastActivity)
	next := p.status
	switch {
	case elapsed >= awayThreshold:
		next = collab.PresenceAway
	case elapsed >= idleThreshold:
		next = collab.PresenceIdle
	}
	changed := next != p.status
	p.status = next
	focused := p.focused
	p.mu.Unlock()

	if changed {
		p.announce(next, focused)
	}
}

// announce broadcasts the local presence and emits it to subscribers.
func (p *PresenceService) announce(status collab.PresenceState, focusedWindowID string) {
	p.broadcast(status, focusedWindowID)
	p.mu.Lock()
	joinedAt := p.joinedAt
	p.mu.Unlock()
	p.updates.Emit(collab.ParticipantPresence{
		Participant:     p.self(),
		Status:          status,
		FocusedWindowID: focusedWindowID,
		JoinedAt:        joinedAt,
	})
}

// Local returns the local presence state.
func (p *PresenceService) Local() collab.PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// AddParticipant registers a roster entry for a participant that
// joined. Re-adding an existing participant refreshes identity fields
// but keeps presence and join time.
func (p *PresenceService) AddParticipant(participant collab.Participant, joinedAt time.Time) {
	p.mu.Lock()
	entry, exists := p.roster[participant.ID]
	if exists {
		entry.Participant = participant
	} else {
		entry = collab.ParticipantPresence{
			Participant: participant,
			Status:      collab.PresenceActive,
			JoinedAt:    joinedAt,
		}
	}
	p.roster[participant.ID] = entry
	p.mu.Unlock()

	p.updates.Emit(entry)
}

// RemoveParticipant drops a roster entry.
func (p *PresenceService) RemoveParticipant(participantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.roster, participantID)
}

// ApplyRemote updates the mirrored presence for a remote participant.
func (p *PresenceService) ApplyRemote(participant collab.Participant, status collab.PresenceState, focusedWindowID string, now time.Time) {
	p.mu.Lock()
	entry, exists := p.roster[participant.ID]
	if !exists {
		entry = collab.ParticipantPresence{JoinedAt: now}
	}
	entry.Participant = participant
	entry.Status = status
	entry.FocusedWindowID = focusedWindowID
	p.roster[participant.ID] = entry
	p.mu.Unlock()

	p.updates.Emit(entry)
}

// Lookup returns one remote participant's roster entry.
func (p *PresenceService) Lookup(participantID string) (collab.ParticipantPresence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.roster[participantID]
	return entry, ok
}

// Roster returns a snapshot of the remote participants.
func (p *PresenceService) Roster() []collab.ParticipantPresence {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make([]collab.ParticipantPresence, 0, len(p.roster))
	for _, entry := range p.roster {
		snapshot = append(snapshot, entry)
	}
	return snapshot
}

// OnUpdate registers a handler for presence changes, local and remote.
func (p *PresenceService) OnUpdate(handler func(collab.ParticipantPresence)) func() {
	return p.updates.Subscribe(handler)
}
