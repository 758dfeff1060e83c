// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/lib/clock"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
	"github.com/edsonmartins/archbase-collab/transport"
	"github.com/edsonmartins/archbase-collab/wire"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateJoining
	stateJoined
)

// Config assembles a Session. Transport, NewDocument, and Windows are
// required; the rest has defaults.
type Config struct {
	// Endpoint is the hub URL passed to the transport on join.
	Endpoint string

	// Self identifies the local participant. A missing ID gets a
	// generated one; a missing Color gets a random palette pick (the
	// room authority may override it via room-info).
	Self collab.Participant

	// Transport carries wire messages. Owned exclusively by the
	// session once passed in.
	Transport transport.Transport

	// NewDocument creates the replicated document. Called on every
	// join: no document state survives across sessions.
	NewDocument func() Document

	// Windows is the local window manager to bridge.
	Windows WindowManager

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Session is the orchestrator: a state machine over idle → joining →
// joined → idle that owns one transport and one document, dispatches
// inbound messages, and runs the sub-services. All methods are safe
// for concurrent use, though the engine's model is event-driven rather
// than parallel.
type Session struct {
	cfg    Config
	clk    clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	state    sessionState
	roomID   string
	joinedAt time.Time
	self     collab.Participant
	doc      Document
	cleanups []func()

	cursor     *CursorService
	presence   *PresenceService
	windowSync *WindowSyncService
	follow     *FollowService

	connected         emitter.Emitter[struct{}]
	disconnected      emitter.Emitter[struct{}]
	participantJoined emitter.Emitter[collab.Participant]
	participantLeft   emitter.Emitter[string]
	cursorUpdates     emitter.Emitter[collab.RemoteCursor]
	presenceUpdates   emitter.Emitter[collab.ParticipantPresence]
	windowShared      emitter.Emitter[collab.SharedWindowInfo]
	followChanges     emitter.Emitter[collab.FollowState]
}

// New creates a Session in the idle state.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session: Transport is required")
	}
	if cfg.NewDocument == nil {
		return nil, errors.New("session: NewDocument is required")
	}
	if cfg.Windows == nil {
		return nil, errors.New("session: Windows is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Self.ID == "" {
		cfg.Self.ID = uuid.NewString()
	}

	return &Session{
		cfg:    cfg,
		clk:    cfg.Clock,
		logger: cfg.Logger,
		self:   cfg.Self,
	}, nil
}

// Join connects to a room. A call while already joining is a no-op; a
// call while joined to a different room leaves that room first. On
// success the session is joined, an initial sync-request announcing
// the local state vector is on the wire, and the sub-services are
// running.
func (s *Session) Join(ctx context.Context, roomID string) error {
	s.mu.Lock()
	switch s.state {
	case stateJoining:
		s.mu.Unlock()
		return nil
	case stateJoined:
		if s.roomID == roomID {
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		s.Leave()
		s.mu.Lock()
	}
	s.state = stateJoining
	s.roomID = roomID
	self := s.cfg.Self
	if self.Color == "" {
		self.Color = collab.RandomColor()
	}
	s.self = self
	s.joinedAt = s.clk.Now()
	s.mu.Unlock()

	// Defensive double-cleanup: clear any residual subscriptions from
	// a prior join before re-subscribing.
	s.runCleanups()

	doc := s.cfg.NewDocument()
	cursor := NewCursorService(s.clk, s.broadcastCursor)
	presence := NewPresenceService(s.clk, s.Self, s.broadcastPresence)
	windowSync := NewWindowSyncService(s.logger, s.cfg.Windows, doc.Windows(), self.ID)
	follow := NewFollowService(s.cfg.Windows)

	s.mu.Lock()
	s.doc = doc
	s.cursor = cursor
	s.presence = presence
	s.windowSync = windowSync
	s.follow = follow
	s.mu.Unlock()

	s.addCleanup(s.cfg.Transport.OnMessage(s.handleMessage))
	s.addCleanup(s.cfg.Transport.OnDisconnect(s.handleTransportDisconnect))
	s.addCleanup(doc.OnUpdate(s.handleDocumentUpdate))
	s.addCleanup(cursor.OnRemoteCursor(s.cursorUpdates.Emit))
	s.addCleanup(presence.OnUpdate(s.presenceUpdates.Emit))
	s.addCleanup(windowSync.OnWindowShared(s.windowShared.Emit))
	s.addCleanup(follow.OnChange(s.followChanges.Emit))

	cursor.Start()
	presence.Start()
	windowSync.Start()
	s.addCleanup(cursor.Stop)
	s.addCleanup(presence.Stop)
	s.addCleanup(windowSync.Stop)

	if err := s.cfg.Transport.Connect(ctx, s.cfg.Endpoint, roomID, self.ID); err != nil {
		s.runCleanups()
		s.mu.Lock()
		s.state = stateIdle
		s.roomID = ""
		s.doc = nil
		s.cursor, s.presence, s.windowSync, s.follow = nil, nil, nil, nil
		s.mu.Unlock()
		return fmt.Errorf("session: joining room %s: %w", roomID, err)
	}

	s.send(&wire.Message{
		Type:     wire.TypeSyncRequest,
		RoomID:   roomID,
		SenderID: self.ID,
		Binary:   doc.EncodeStateVector(),
	})
	s.sendAwareness(map[string]any{
		"presence": map[string]any{"status": string(collab.PresenceActive)},
	})

	s.mu.Lock()
	s.state = stateJoined
	s.mu.Unlock()

	s.logger.Info("joined room", "room", roomID, "user", self.ID)
	s.connected.Emit(struct{}{})
	return nil
}

// Leave tears the session down: sub-services stopped, listeners
// unsubscribed, transport disconnected, document discarded. No state
// carries across sessions. Safe to call when not joined.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.state == stateIdle {
		s.mu.Unlock()
		return
	}
	roomID := s.roomID
	userID := s.self.ID
	s.state = stateIdle
	s.roomID = ""
	s.mu.Unlock()

	s.runCleanups()
	s.cfg.Transport.Disconnect()

	s.mu.Lock()
	s.doc = nil
	s.cursor, s.presence, s.windowSync, s.follow = nil, nil, nil, nil
	s.mu.Unlock()

	s.logger.Info("left room", "room", roomID, "user", userID)
	s.disconnected.Emit(struct{}{})
}

// Self returns the local participant, including any color the room
// authority assigned.
func (s *Session) Self() collab.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Joined reports whether the session is currently joined to a room.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateJoined
}

// Room returns the current room id, or "" when not joined.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Snapshot returns the room's membership as seen from this session.
func (s *Session) Snapshot() collab.RoomSnapshot {
	s.mu.Lock()
	roomID := s.roomID
	self := s.self
	joinedAt := s.joinedAt
	presence := s.presence
	s.mu.Unlock()

	snapshot := collab.RoomSnapshot{RoomID: roomID, CreatedAt: joinedAt}
	if roomID == "" {
		return snapshot
	}
	snapshot.Participants = append(snapshot.Participants, self)
	if presence != nil {
		for _, entry := range presence.Roster() {
			snapshot.Participants = append(snapshot.Participants, entry.Participant)
		}
	}
	return snapshot
}

// SetCursor records the local pointer position for the next cursor
// broadcast tick, and counts as input activity.
func (s *Session) SetCursor(sample collab.CursorSample) {
	s.mu.Lock()
	cursor, presence := s.cursor, s.presence
	s.mu.Unlock()
	if cursor == nil {
		return
	}
	cursor.SetLocal(sample)
	presence.Activity()
}

// Activity records local input activity for idle detection.
func (s *Session) Activity() {
	s.mu.Lock()
	presence := s.presence
	s.mu.Unlock()
	if presence != nil {
		presence.Activity()
	}
}

// SetFocusedWindow announces which window the local participant has
// focused, for followers.
func (s *Session) SetFocusedWindow(windowID string) {
	s.mu.Lock()
	presence := s.presence
	s.mu.Unlock()
	if presence != nil {
		presence.SetFocusedWindow(windowID)
	}
}

// ShareWindow shares a local window with the room.
func (s *Session) ShareWindow(windowID string, mode collab.ShareMode) {
	s.mu.Lock()
	windowSync := s.windowSync
	owner := s.self.ID
	s.mu.Unlock()
	if windowSync != nil {
		windowSync.ShareWindow(windowID, owner, mode)
	}
}

// UnshareWindow stops sharing a window.
func (s *Session) UnshareWindow(windowID string) {
	s.mu.Lock()
	windowSync := s.windowSync
	s.mu.Unlock()
	if windowSync != nil {
		windowSync.UnshareWindow(windowID)
	}
}

// SyncLocalWindow propagates a local window change to the room. A
// no-op unless the window is shared.
func (s *Session) SyncLocalWindow(windowID string, state collab.SharedWindowState) {
	s.mu.Lock()
	windowSync := s.windowSync
	s.mu.Unlock()
	if windowSync != nil {
		windowSync.SyncLocalWindow(windowID, state)
	}
}

// Follow starts following a participant's window focus.
func (s *Session) Follow(participantID string) {
	s.mu.Lock()
	follow := s.follow
	s.mu.Unlock()
	if follow != nil {
		follow.Follow(participantID)
	}
}

// Unfollow stops following.
func (s *Session) Unfollow() {
	s.mu.Lock()
	follow := s.follow
	s.mu.Unlock()
	if follow != nil {
		follow.Unfollow()
	}
}

// FollowState returns the current follow target.
func (s *Session) FollowState() collab.FollowState {
	s.mu.Lock()
	follow := s.follow
	s.mu.Unlock()
	if follow == nil {
		return collab.FollowState{}
	}
	return follow.State()
}

// Event subscriptions. Each returns an unsubscribe function.

func (s *Session) OnConnected(handler func()) func() {
	return s.connected.Subscribe(func(struct{}) { handler() })
}

func (s *Session) OnDisconnected(handler func()) func() {
	return s.disconnected.Subscribe(func(struct{}) { handler() })
}

func (s *Session) OnParticipantJoined(handler func(collab.Participant)) func() {
	return s.participantJoined.Subscribe(handler)
}

func (s *Session) OnParticipantLeft(handler func(participantID string)) func() {
	return s.participantLeft.Subscribe(handler)
}

func (s *Session) OnCursorUpdate(handler func(collab.RemoteCursor)) func() {
	return s.cursorUpdates.Subscribe(handler)
}

func (s *Session) OnPresenceUpdate(handler func(collab.ParticipantPresence)) func() {
	return s.presenceUpdates.Subscribe(handler)
}

func (s *Session) OnWindowShared(handler func(collab.SharedWindowInfo)) func() {
	return s.windowShared.Subscribe(handler)
}

func (s *Session) OnFollowChange(handler func(collab.FollowState)) func() {
	return s.followChanges.Subscribe(handler)
}

// handleMessage dispatches one inbound wire message. Late messages
// arriving after teardown are dropped by the state guard.
func (s *Session) handleMessage(message *wire.Message) {
	s.mu.Lock()
	if s.state == stateIdle {
		s.mu.Unlock()
		return
	}
	selfID := s.self.ID
	doc := s.doc
	s.mu.Unlock()

	if message.SenderID == selfID {
		return
	}

	switch message.Type {
	case wire.TypeSyncRequest:
		// Reply with our state beyond the sender's declared vector.
		// Never reply with another sync-request: that would loop.
		// Data-channel frames carry sync payloads verbatim and lose
		// the sender id; answer those untargeted — the broadcast is
		// harmless because the document merge is idempotent.
		if doc == nil {
			return
		}
		s.send(&wire.Message{
			Type:     wire.TypeSyncResponse,
			RoomID:   message.RoomID,
			SenderID: selfID,
			TargetID: message.SenderID,
			Binary:   doc.EncodeStateAsUpdate(message.Binary),
		})

	case wire.TypeSyncResponse, wire.TypeSyncDelta:
		if doc == nil {
			return
		}
		if err := doc.ApplyUpdate(message.Binary, OriginRemote); err != nil {
			s.logger.Warn("dropping bad document update", "from", message.SenderID, "error", err)
		}

	case wire.TypeAwarenessUpdate:
		s.handleAwareness(message)

	case wire.TypeParticipantJoined:
		s.handleParticipantJoined(message)

	case wire.TypeParticipantLeft:
		s.handleParticipantLeft(message)

	case wire.TypeRoomInfo:
		s.handleRoomInfo(message)

	case wire.TypeError:
		// Protocol errors are never fatal to the session.
		s.logger.Warn("room error",
			"room", message.RoomID,
			"message", wire.PayloadString(message.Payload, "message"))

	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICECandidate:
		// Connection negotiation is the transport's business.
	}
}

// handleAwareness demultiplexes one awareness update into cursor,
// presence, and follow-focus handling. All three may fire from one
// message.
func (s *Session) handleAwareness(message *wire.Message) {
	s.mu.Lock()
	selfID := s.self.ID
	cursor, presence, follow := s.cursor, s.presence, s.follow
	s.mu.Unlock()
	if presence == nil {
		return
	}

	sender := collab.Participant{ID: message.SenderID}
	if record := wire.PayloadRecord(message.Payload, "participant"); record != nil {
		if id := wire.PayloadString(record, "id"); id != "" {
			sender.ID = id
		}
		sender.DisplayName = wire.PayloadString(record, "displayName")
		sender.Color = wire.PayloadString(record, "color")
	}
	if sender.ID == "" || sender.ID == selfID {
		return
	}
	if known, ok := presence.Lookup(sender.ID); ok {
		if sender.DisplayName == "" {
			sender.DisplayName = known.Participant.DisplayName
		}
		if sender.Color == "" {
			sender.Color = known.Participant.Color
		}
	}

	now := s.clk.Now()
	if record := wire.PayloadRecord(message.Payload, "cursor"); record != nil && cursor != nil {
		cursor.HandleRemoteSample(sender, collab.CursorSample{
			X:        wire.PayloadFloat(record, "x"),
			Y:        wire.PayloadFloat(record, "y"),
			WindowID: wire.PayloadString(record, "windowId"),
			Visible:  wire.PayloadBool(record, "visible"),
		}, now)
	}
	if record := wire.PayloadRecord(message.Payload, "presence"); record != nil {
		status := collab.PresenceState(wire.PayloadString(record, "status"))
		focused := wire.PayloadString(record, "focusedWindowId")
		if status != "" {
			presence.ApplyRemote(sender, status, focused, now)
		}
		if focused != "" && follow != nil {
			follow.HandleRemoteFocusChange(sender.ID, focused)
		}
	}
}

func (s *Session) handleParticipantJoined(message *wire.Message) {
	participant := participantFromRecord(message.Payload)
	if participant.ID == "" {
		participant.ID = message.SenderID
	}

	s.mu.Lock()
	selfID := s.self.ID
	roomID := s.roomID
	presence := s.presence
	doc := s.doc
	s.mu.Unlock()
	if participant.ID == "" || participant.ID == selfID || presence == nil {
		return
	}

	presence.AddParticipant(participant, s.clk.Now())
	s.participantJoined.Emit(participant)

	// Ask the newcomer directly for whatever it has. Over the relay
	// this is a cheap extra handshake; over the mesh the join is only
	// announced once the data channel opens, so this request is the
	// first thing to travel on it and restores convergence for state
	// authored before the channel existed.
	if doc != nil {
		s.send(&wire.Message{
			Type:     wire.TypeSyncRequest,
			RoomID:   roomID,
			SenderID: selfID,
			TargetID: participant.ID,
			Binary:   doc.EncodeStateVector(),
		})
	}
}

func (s *Session) handleParticipantLeft(message *wire.Message) {
	participantID := wire.PayloadString(message.Payload, "id")
	if participantID == "" {
		participantID = message.SenderID
	}

	s.mu.Lock()
	selfID := s.self.ID
	cursor, presence := s.cursor, s.presence
	s.mu.Unlock()
	if participantID == "" || participantID == selfID || presence == nil {
		return
	}

	presence.RemoveParticipant(participantID)
	if cursor != nil {
		cursor.RemoveRemote(participantID)
	}
	s.participantLeft.Emit(participantID)
}

// handleRoomInfo applies a bulk roster. The local participant's entry
// contributes only the authoritative color assignment; everyone else
// is upserted into the roster.
func (s *Session) handleRoomInfo(message *wire.Message) {
	now := s.clk.Now()
	for _, record := range wire.PayloadRecordList(message.Payload, "participants") {
		participant := participantFromRecord(record)
		if participant.ID == "" {
			continue
		}

		s.mu.Lock()
		if participant.ID == s.self.ID {
			if participant.Color != "" {
				s.self.Color = participant.Color
			}
			s.mu.Unlock()
			continue
		}
		presence := s.presence
		s.mu.Unlock()

		if presence == nil {
			continue
		}
		_, known := presence.Lookup(participant.ID)
		presence.AddParticipant(participant, now)
		if !known {
			s.participantJoined.Emit(participant)
		}
	}
}

// handleDocumentUpdate rebroadcasts locally authored document updates.
// Remote-origin updates are already everyone else's; re-sending them
// would echo forever.
func (s *Session) handleDocumentUpdate(update []byte, origin string) {
	if origin == OriginRemote {
		return
	}
	s.mu.Lock()
	roomID := s.roomID
	selfID := s.self.ID
	s.mu.Unlock()

	s.send(&wire.Message{
		Type:     wire.TypeSyncDelta,
		RoomID:   roomID,
		SenderID: selfID,
		Binary:   update,
	})
}

func (s *Session) handleTransportDisconnect() {
	s.mu.Lock()
	joined := s.state == stateJoined
	roomID := s.roomID
	s.mu.Unlock()
	if !joined {
		return
	}
	s.logger.Warn("transport lost", "room", roomID)
	s.disconnected.Emit(struct{}{})
}

func (s *Session) broadcastCursor(sample collab.CursorSample) {
	payload := map[string]any{
		"x":       sample.X,
		"y":       sample.Y,
		"visible": sample.Visible,
	}
	if sample.WindowID != "" {
		payload["windowId"] = sample.WindowID
	}
	s.sendAwareness(map[string]any{"cursor": payload})
}

func (s *Session) broadcastPresence(status collab.PresenceState, focusedWindowID string) {
	payload := map[string]any{"status": string(status)}
	if focusedWindowID != "" {
		payload["focusedWindowId"] = focusedWindowID
	}
	s.sendAwareness(map[string]any{"presence": payload})
}

// sendAwareness sends an awareness update with the local participant's
// identity attached, so receivers can render cursors and rosters
// without a separate identity exchange.
func (s *Session) sendAwareness(fields map[string]any) {
	s.mu.Lock()
	self := s.self
	roomID := s.roomID
	s.mu.Unlock()
	if roomID == "" {
		return
	}

	payload := map[string]any{
		"participant": map[string]any{
			"id":          self.ID,
			"displayName": self.DisplayName,
			"color":       self.Color,
		},
	}
	for key, value := range fields {
		payload[key] = value
	}
	s.send(&wire.Message{
		Type:     wire.TypeAwarenessUpdate,
		RoomID:   roomID,
		SenderID: self.ID,
		Payload:  payload,
	})
}

func (s *Session) send(message *wire.Message) {
	s.cfg.Transport.Send(message)
}

func (s *Session) addCleanup(cleanup func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, cleanup)
}

func (s *Session) runCleanups() {
	s.mu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()
	for _, cleanup := range cleanups {
		cleanup()
	}
}

func participantFromRecord(record map[string]any) collab.Participant {
	return collab.Participant{
		ID:          wire.PayloadString(record, "id"),
		DisplayName: wire.PayloadString(record, "displayName"),
		Color:       wire.PayloadString(record, "color"),
		Avatar:      wire.PayloadString(record, "avatar"),
	}
}
