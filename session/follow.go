// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
)

// FollowService tracks the single participant the local user is
// following and mirrors that participant's window focus. Follow and
// unfollow always notify, even when the target is unchanged, so UI
// layers can reconfirm state without diffing.
type FollowService struct {
	windows WindowManager

	mu     sync.Mutex
	target string

	changes emitter.Emitter[collab.FollowState]
}

// NewFollowService creates a follow service.
func NewFollowService(windows WindowManager) *FollowService {
	return &FollowService{windows: windows}
}

// Follow sets the followed participant.
func (f *FollowService) Follow(participantID string) {
	f.mu.Lock()
	f.target = participantID
	f.mu.Unlock()
	f.changes.Emit(collab.FollowState{FollowingParticipantID: participantID})
}

// Unfollow clears the followed participant.
func (f *FollowService) Unfollow() {
	f.mu.Lock()
	f.target = ""
	f.mu.Unlock()
	f.changes.Emit(collab.FollowState{})
}

// State returns the current follow target.
func (f *FollowService) State() collab.FollowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return collab.FollowState{FollowingParticipantID: f.target}
}

// HandleRemoteFocusChange mirrors a focus move by the followed
// participant. Focus changes from anyone else, or without a window id,
// are ignored.
func (f *FollowService) HandleRemoteFocusChange(participantID, windowID string) {
	f.mu.Lock()
	followed := f.target != "" && f.target == participantID
	f.mu.Unlock()
	if !followed || windowID == "" {
		return
	}
	f.windows.Focus(windowID)
}

// OnChange registers a handler for follow-state notifications.
func (f *FollowService) OnChange(handler func(collab.FollowState)) func() {
	return f.changes.Subscribe(handler)
}
