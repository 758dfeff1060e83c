// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"sync"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
)

// WindowSyncService is the bidirectional bridge between the local
// window manager and the replicated window-state map. Two suppression
// flags guarantee a change never loops: applying a remote change sets
// suppressLocalEcho so the window manager's resulting callback does not
// propagate back out, and pushing a local change sets suppressRemoteEcho
// so the document's change notification does not re-apply it locally.
//
// Sharing is the sole gate for replication: SyncLocalWindow is a no-op
// for windows without a share record.
type WindowSyncService struct {
	logger  *slog.Logger
	windows WindowManager
	doc     WindowMap
	selfID  string

	mu                 sync.Mutex
	shares             map[string]collab.SharedWindowInfo
	knownRemote        map[string]bool
	suppressRemoteEcho bool
	suppressLocalEcho  bool
	unsubscribe        func()

	shared emitter.Emitter[collab.SharedWindowInfo]
}

// NewWindowSyncService creates a window-sync bridge.
func NewWindowSyncService(logger *slog.Logger, windows WindowManager, doc WindowMap, selfID string) *WindowSyncService {
	return &WindowSyncService{
		logger:      logger,
		windows:     windows,
		doc:         doc,
		selfID:      selfID,
		shares:      make(map[string]collab.SharedWindowInfo),
		knownRemote: make(map[string]bool),
	}
}

// Start subscribes to the replicated map. Idempotent.
func (w *WindowSyncService) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsubscribe != nil {
		return
	}
	w.unsubscribe = w.doc.OnChange(w.handleDocumentChange)
}

// Stop unsubscribes from the replicated map. Idempotent.
func (w *WindowSyncService) Stop() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// ShareWindow registers share metadata for a window and immediately
// pushes its current local snapshot into the replicated map.
func (w *WindowSyncService) ShareWindow(windowID, owner string, mode collab.ShareMode) {
	info := collab.SharedWindowInfo{
		WindowID:     windowID,
		SharedBy:     owner,
		Mode:         mode,
		Participants: []string{owner},
	}

	w.mu.Lock()
	w.shares[windowID] = info
	w.mu.Unlock()

	if state, ok := w.windows.LocalWindows()[windowID]; ok {
		state.ID = windowID
		state.SharedBy = owner
		state.Mode = mode
		state.Participants = info.Participants
		w.push(state)
	} else {
		w.logger.Warn("sharing unknown window", "window", windowID)
	}

	w.shared.Emit(info)
}

// UnshareWindow removes the share record and the replicated entry. The
// two go together: from the engine's perspective a window is replicated
// iff it is marked shared.
func (w *WindowSyncService) UnshareWindow(windowID string) {
	w.mu.Lock()
	_, wasShared := w.shares[windowID]
	delete(w.shares, windowID)
	if !wasShared {
		w.mu.Unlock()
		return
	}
	w.suppressRemoteEcho = true
	w.mu.Unlock()

	w.doc.Delete(windowID, OriginLocal)

	w.mu.Lock()
	w.suppressRemoteEcho = false
	w.mu.Unlock()
}

// SyncLocalWindow propagates a local window change into the replicated
// map. A no-op for unshared windows, and while a remote change is
// being applied.
func (w *WindowSyncService) SyncLocalWindow(windowID string, state collab.SharedWindowState) {
	w.mu.Lock()
	info, isShared := w.shares[windowID]
	suppressed := w.suppressLocalEcho
	w.mu.Unlock()
	if !isShared || suppressed {
		return
	}

	state.ID = windowID
	state.SharedBy = info.SharedBy
	state.Mode = info.Mode
	state.Participants = info.Participants
	w.push(state)
}

// SharedWindows returns the local share records.
func (w *WindowSyncService) SharedWindows() []collab.SharedWindowInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	snapshot := make([]collab.SharedWindowInfo, 0, len(w.shares))
	for _, info := range w.shares {
		snapshot = append(snapshot, info)
	}
	return snapshot
}

// OnWindowShared registers a handler fired when a window becomes
// shared, locally or by a remote participant.
func (w *WindowSyncService) OnWindowShared(handler func(collab.SharedWindowInfo)) func() {
	return w.shared.Subscribe(handler)
}

// push writes one state into the replicated map with the remote-echo
// guard raised.
func (w *WindowSyncService) push(state collab.SharedWindowState) {
	w.mu.Lock()
	w.suppressRemoteEcho = true
	w.mu.Unlock()

	w.doc.Set(state, OriginLocal)

	w.mu.Lock()
	w.suppressRemoteEcho = false
	w.mu.Unlock()
}

// handleDocumentChange applies a replicated change to the local window
// manager. Local-origin changes need no reapplication; remote changes
// are applied with the local-echo guard raised.
func (w *WindowSyncService) handleDocumentChange(change WindowChange) {
	if change.Origin != OriginRemote {
		return
	}

	w.mu.Lock()
	if w.suppressRemoteEcho {
		w.mu.Unlock()
		return
	}
	_, locallyShared := w.shares[change.WindowID]
	firstSighting := !change.Removed && !w.knownRemote[change.WindowID] && !locallyShared
	if change.Removed {
		delete(w.knownRemote, change.WindowID)
	} else {
		w.knownRemote[change.WindowID] = true
	}
	w.suppressLocalEcho = true
	w.mu.Unlock()

	if change.Removed {
		w.windows.RemoveRemoteWindow(change.WindowID)
	} else {
		w.windows.ApplyRemoteWindowUpdate(change.WindowID, change.State)
	}

	w.mu.Lock()
	w.suppressLocalEcho = false
	w.mu.Unlock()

	if firstSighting {
		w.shared.Emit(collab.SharedWindowInfo{
			WindowID:     change.WindowID,
			SharedBy:     change.State.SharedBy,
			Mode:         change.State.Mode,
			Participants: change.State.Participants,
		})
	}
}
