// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/edsonmartins/archbase-collab/collab"
)

// WindowManager is the local window system the engine bridges to. The
// engine reads and writes window state through this interface but does
// not own window semantics: placement, stacking, and rendering stay on
// the other side.
type WindowManager interface {
	// LocalWindows returns the current local windows in their
	// serializable form, keyed by window id.
	LocalWindows() map[string]collab.SharedWindowState

	// Focus brings the given window to the foreground. Unknown ids are
	// ignored.
	Focus(windowID string)

	// ApplyRemoteWindowUpdate installs replicated state for one window.
	ApplyRemoteWindowUpdate(windowID string, state collab.SharedWindowState)

	// RemoveRemoteWindow drops a window another participant unshared.
	RemoveRemoteWindow(windowID string)
}

// MemoryWindowManager is a map-backed WindowManager for tests and
// demos. It records focus calls and remote updates so scenarios can
// assert on them.
type MemoryWindowManager struct {
	mu      sync.Mutex
	windows map[string]collab.SharedWindowState
	focused []string
}

var _ WindowManager = (*MemoryWindowManager)(nil)

// NewMemoryWindowManager creates an empty window manager.
func NewMemoryWindowManager() *MemoryWindowManager {
	return &MemoryWindowManager{windows: make(map[string]collab.SharedWindowState)}
}

// SetWindow installs or replaces a local window.
func (m *MemoryWindowManager) SetWindow(state collab.SharedWindowState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[state.ID] = state
}

// LocalWindows returns a snapshot of the known windows.
func (m *MemoryWindowManager) LocalWindows() map[string]collab.SharedWindowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]collab.SharedWindowState, len(m.windows))
	for id, state := range m.windows {
		snapshot[id] = state
	}
	return snapshot
}

// Focus records the focus request.
func (m *MemoryWindowManager) Focus(windowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focused = append(m.focused, windowID)
}

// FocusCalls returns every window id Focus was called with, in order.
func (m *MemoryWindowManager) FocusCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.focused...)
}

// ApplyRemoteWindowUpdate installs replicated state as a local window.
func (m *MemoryWindowManager) ApplyRemoteWindowUpdate(windowID string, state collab.SharedWindowState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[windowID] = state
}

// RemoveRemoteWindow drops the window.
func (m *MemoryWindowManager) RemoveRemoteWindow(windowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, windowID)
}

// Window returns one window's state.
func (m *MemoryWindowManager) Window(windowID string) (collab.SharedWindowState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.windows[windowID]
	return state, ok
}
