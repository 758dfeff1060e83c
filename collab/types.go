// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import "time"

// Participant identifies one member of a collaboration session.
// Identity is stable for the session; Color may be reassigned once per
// join when the room authority pushes its own assignment via room-info.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	Avatar      string `json:"avatar,omitempty"`
}

// RoomSnapshot is a derived, read-only view of a room's membership.
// Never persisted.
type RoomSnapshot struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// CursorSample is the most recent pointer position for one participant.
// Last-write-wins; only the latest value is ever held.
type CursorSample struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	WindowID string  `json:"windowId,omitempty"`
	Visible  bool    `json:"visible"`
}

// RemoteCursor is the externally observable projection of a remote
// participant's cursor.
type RemoteCursor struct {
	Participant Participant  `json:"participant"`
	Cursor      CursorSample `json:"cursor"`
	LastUpdate  time.Time    `json:"lastUpdate"`
}

// PresenceState classifies a participant's activity level.
type PresenceState string

const (
	// PresenceActive means input activity within the idle threshold.
	PresenceActive PresenceState = "active"
	// PresenceIdle means no input activity for at least 60 seconds.
	PresenceIdle PresenceState = "idle"
	// PresenceAway means no input activity for at least 300 seconds.
	PresenceAway PresenceState = "away"
)

// ParticipantPresence is one roster entry: who, their presence state,
// and which window they have focused (used by follow navigation).
type ParticipantPresence struct {
	Participant     Participant   `json:"participant"`
	Status          PresenceState `json:"status"`
	FocusedWindowID string        `json:"focusedWindowId,omitempty"`
	JoinedAt        time.Time     `json:"joinedAt"`
}

// ShareMode controls what remote participants may do with a shared window.
type ShareMode string

const (
	// ShareModeEdit grants remote participants full interaction.
	ShareModeEdit ShareMode = "edit"
	// ShareModeView grants read-only visibility.
	ShareModeView ShareMode = "view"
)

// SharedWindowInfo records that a window is shared and how. The window's
// replicated geometry lives in SharedWindowState.
type SharedWindowInfo struct {
	WindowID     string    `json:"windowId"`
	SharedBy     string    `json:"sharedBy"`
	Mode         ShareMode `json:"mode"`
	Participants []string  `json:"participants"`
}

// SharedWindowState is the serializable subset of window state mirrored
// into the replicated document — intentionally narrower than the local
// window manager's full state.
type SharedWindowState struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Width        float64   `json:"width"`
	Height       float64   `json:"height"`
	State        string    `json:"state"`
	ZIndex       int       `json:"zIndex"`
	SharedBy     string    `json:"sharedBy"`
	Mode         ShareMode `json:"mode"`
	Participants []string  `json:"participants"`
}

// FollowState holds the single participant currently being followed, or
// empty when not following anyone.
type FollowState struct {
	FollowingParticipantID string `json:"followingParticipantId,omitempty"`
}
