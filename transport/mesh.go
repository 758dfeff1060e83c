// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/edsonmartins/archbase-collab/lib/clock"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
	"github.com/edsonmartins/archbase-collab/wire"
)

// Compile-time interface check.
var _ Transport = (*Mesh)(nil)

// dataChannelLabel names the single ordered data channel each peer
// pair shares for session traffic.
const dataChannelLabel = "collab"

// Mesh is the peer-to-peer transport. The hub is used only for
// signaling (reached with the mode=mesh marker); session traffic flows
// over WebRTC data channels once negotiation completes.
//
// Negotiation is trickle ICE: candidates travel as individual
// ice-candidate messages and may race ahead of the offer/answer
// exchange, so candidates arriving before the remote description are
// buffered per peer and applied when the description lands. This
// buffering is mandatory — dropping early candidates stalls
// connectivity on exactly the networks that need candidates most.
//
// The mesh reports itself connected while at least one peer exists.
// When the last peer is removed — peer-left, a failed or closed
// connection, or explicit teardown — the disconnect event fires
// exactly once.
type Mesh struct {
	logger     *slog.Logger
	signal     *Relay
	iceServers []webrtc.ICEServer

	mu       sync.Mutex
	roomID   string
	selfID   string
	joined   bool
	peerSeen bool
	peers    map[string]*meshPeer

	// early buffers ICE candidates from senders with no peer entry
	// yet. Candidates can race ahead of the peer-joined announcement
	// and the offer; a sender known only by its candidates is not a
	// peer and never counts toward the connected state.
	early map[string][]webrtc.ICECandidateInit

	signalCleanup func()

	messages    emitter.Emitter[*wire.Message]
	disconnects emitter.Emitter[struct{}]
}

// meshPeer tracks one remote participant's connection state. Guarded
// by Mesh.mu. Candidates arriving before the remote description is
// installed collect in pending.
type meshPeer struct {
	id          string
	pc          *webrtc.PeerConnection
	channel     *webrtc.DataChannel
	channelOpen bool
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
}

// NewMesh creates a mesh transport. iceServers configures STUN/TURN
// for candidate gathering; empty means host candidates only, which is
// sufficient for same-LAN and test use.
func NewMesh(clk clock.Clock, logger *slog.Logger, iceServers []webrtc.ICEServer) *Mesh {
	return &Mesh{
		logger:     logger,
		signal:     newSignalingRelay(clk, logger),
		iceServers: iceServers,
		peers:      make(map[string]*meshPeer),
		early:      make(map[string][]webrtc.ICECandidateInit),
	}
}

// Connect opens the signaling channel. Peer connections form as the
// hub announces other mesh participants.
func (m *Mesh) Connect(ctx context.Context, endpoint, roomID, selfID string) error {
	m.Disconnect()

	m.mu.Lock()
	m.roomID = roomID
	m.selfID = selfID
	m.joined = true
	m.signalCleanup = m.signal.OnMessage(m.handleSignal)
	m.mu.Unlock()

	if err := m.signal.Connect(ctx, endpoint, roomID, selfID); err != nil {
		m.mu.Lock()
		m.joined = false
		if m.signalCleanup != nil {
			m.signalCleanup()
			m.signalCleanup = nil
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect tears down every peer connection and the signaling
// channel, and stops reconnection. Safe to call repeatedly.
func (m *Mesh) Disconnect() {
	m.mu.Lock()
	m.joined = false
	peers := m.peers
	m.peers = make(map[string]*meshPeer)
	m.early = make(map[string][]webrtc.ICECandidateInit)
	hadPeers := m.peerSeen
	m.peerSeen = false
	cleanup := m.signalCleanup
	m.signalCleanup = nil
	m.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	m.signal.Disconnect()

	for _, peer := range peers {
		closePeer(peer)
	}
	if hadPeers {
		m.disconnects.Emit(struct{}{})
	}
}

// Send encodes the message once and fans it out to every peer whose
// data channel is open. Channels still negotiating are skipped — no
// queuing.
func (m *Mesh) Send(message *wire.Message) {
	data, err := wire.EncodeFrame(message)
	if err != nil {
		m.logger.Warn("mesh frame encoding failed", "type", message.Type.String(), "error", err)
		return
	}

	m.mu.Lock()
	channels := make([]*webrtc.DataChannel, 0, len(m.peers))
	for _, peer := range m.peers {
		if peer.channelOpen && peer.channel != nil {
			channels = append(channels, peer.channel)
		}
	}
	m.mu.Unlock()

	for _, channel := range channels {
		if err := channel.Send(data); err != nil {
			m.logger.Debug("mesh send failed", "label", channel.Label(), "error", err)
		}
	}
}

// OnMessage registers an inbound message handler. Handlers receive
// data-channel traffic plus hub membership messages; negotiation
// signals are consumed internally.
func (m *Mesh) OnMessage(handler func(*wire.Message)) func() {
	return m.messages.Subscribe(handler)
}

// OnDisconnect registers a handler fired when the last peer is removed.
func (m *Mesh) OnDisconnect(handler func()) func() {
	return m.disconnects.Subscribe(func(struct{}) { handler() })
}

// Connected reports whether at least one peer connection exists.
func (m *Mesh) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers) > 0
}

// handleSignal processes one message from the signaling channel.
func (m *Mesh) handleSignal(message *wire.Message) {
	m.mu.Lock()
	joined := m.joined
	selfID := m.selfID
	m.mu.Unlock()
	if !joined {
		// Late signal after teardown.
		return
	}

	switch message.Type {
	case wire.TypeParticipantJoined:
		// Start negotiating, but do not surface the join yet: the
		// peer is announced to subscribers when its data channel
		// opens and traffic can actually reach it.
		peerID := wire.PayloadString(message.Payload, "id")
		if peerID != "" && peerID != selfID {
			m.initiatePeer(peerID)
		}

	case wire.TypeParticipantLeft:
		peerID := wire.PayloadString(message.Payload, "id")
		if peerID != "" {
			m.removePeer(peerID)
		}
		m.messages.Emit(message)

	case wire.TypeOffer:
		m.handleOffer(message)

	case wire.TypeAnswer:
		m.handleAnswer(message)

	case wire.TypeICECandidate:
		m.handleCandidate(message)

	default:
		// room-info, error, or traffic the hub relayed for us.
		m.messages.Emit(message)
	}
}

// initiatePeer starts negotiation toward a newly announced peer: this
// side creates the connection, opens the data channel, and sends the
// offer.
func (m *Mesh) initiatePeer(peerID string) {
	m.mu.Lock()
	if _, exists := m.peers[peerID]; exists {
		m.mu.Unlock()
		return
	}
	peer := &meshPeer{id: peerID, pending: m.early[peerID]}
	delete(m.early, peerID)
	m.peers[peerID] = peer
	m.peerSeen = true
	roomID := m.roomID
	selfID := m.selfID
	m.mu.Unlock()

	pc, err := m.newPeerConnection()
	if err != nil {
		m.logger.Error("creating peer connection failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}
	m.mu.Lock()
	peer.pc = pc
	m.mu.Unlock()
	m.wirePeer(peer, pc)

	ordered := true
	channel, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		m.logger.Error("creating data channel failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}
	m.attachChannel(peer, channel)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.logger.Error("creating offer failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.logger.Error("setting local description failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}

	m.signal.Send(&wire.Message{
		Type:     wire.TypeOffer,
		RoomID:   roomID,
		SenderID: selfID,
		TargetID: peerID,
		Payload:  map[string]any{"type": "offer", "sdp": offer.SDP},
	})
	m.logger.Info("mesh offer sent", "peer", peerID)
}

// handleOffer answers an inbound offer: create or reuse the peer
// connection, install the remote description, flush buffered
// candidates, and reply.
func (m *Mesh) handleOffer(message *wire.Message) {
	peerID := message.SenderID
	if peerID == "" {
		return
	}
	sdp := wire.PayloadString(message.Payload, "sdp")

	m.mu.Lock()
	peer, exists := m.peers[peerID]
	if !exists {
		peer = &meshPeer{id: peerID, pending: m.early[peerID]}
		delete(m.early, peerID)
		m.peers[peerID] = peer
		m.peerSeen = true
	}
	pc := peer.pc
	roomID := m.roomID
	selfID := m.selfID
	m.mu.Unlock()

	if pc == nil {
		created, err := m.newPeerConnection()
		if err != nil {
			m.logger.Error("creating peer connection failed", "peer", peerID, "error", err)
			m.removePeer(peerID)
			return
		}
		pc = created
		m.mu.Lock()
		peer.pc = pc
		m.mu.Unlock()
		m.wirePeer(peer, pc)
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(remote); err != nil {
		m.logger.Error("setting remote offer failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}
	m.mu.Lock()
	peer.remoteSet = true
	m.mu.Unlock()
	m.flushCandidates(peer)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.logger.Error("creating answer failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.logger.Error("setting local answer failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}

	m.signal.Send(&wire.Message{
		Type:     wire.TypeAnswer,
		RoomID:   roomID,
		SenderID: selfID,
		TargetID: peerID,
		Payload:  map[string]any{"type": "answer", "sdp": answer.SDP},
	})
	m.logger.Info("mesh answer sent", "peer", peerID)
}

// handleAnswer completes negotiation this side initiated.
func (m *Mesh) handleAnswer(message *wire.Message) {
	peerID := message.SenderID

	m.mu.Lock()
	peer, exists := m.peers[peerID]
	var pc *webrtc.PeerConnection
	if exists {
		pc = peer.pc
	}
	m.mu.Unlock()
	if pc == nil {
		m.logger.Debug("answer for unknown peer, dropping", "peer", peerID)
		return
	}

	remote := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  wire.PayloadString(message.Payload, "sdp"),
	}
	if err := pc.SetRemoteDescription(remote); err != nil {
		m.logger.Error("setting remote answer failed", "peer", peerID, "error", err)
		m.removePeer(peerID)
		return
	}
	m.mu.Lock()
	peer.remoteSet = true
	m.mu.Unlock()
	m.flushCandidates(peer)
}

// handleCandidate applies an ICE candidate, or buffers it when the
// sender's remote description — or the sender itself — is not known
// yet.
func (m *Mesh) handleCandidate(message *wire.Message) {
	peerID := message.SenderID
	if peerID == "" {
		return
	}

	candidate := webrtc.ICECandidateInit{
		Candidate: wire.PayloadString(message.Payload, "candidate"),
	}
	if mid := wire.PayloadString(message.Payload, "sdpMid"); mid != "" {
		candidate.SDPMid = &mid
	}
	if _, present := message.Payload["sdpMLineIndex"]; present {
		index := uint16(wire.PayloadInt(message.Payload, "sdpMLineIndex"))
		candidate.SDPMLineIndex = &index
	}

	m.mu.Lock()
	peer, exists := m.peers[peerID]
	if !exists {
		// No connection exists yet for this sender. Buffer aside, so
		// a candidate-only sender never looks like a live peer.
		m.early[peerID] = append(m.early[peerID], candidate)
		m.mu.Unlock()
		return
	}
	if !peer.remoteSet || peer.pc == nil {
		peer.pending = append(peer.pending, candidate)
		m.mu.Unlock()
		return
	}
	pc := peer.pc
	m.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		m.logger.Debug("applying ICE candidate failed", "peer", peerID, "error", err)
	}
}

// flushCandidates applies every buffered candidate for a peer whose
// remote description just landed, and clears the buffer.
func (m *Mesh) flushCandidates(peer *meshPeer) {
	m.mu.Lock()
	pending := peer.pending
	peer.pending = nil
	pc := peer.pc
	m.mu.Unlock()
	if pc == nil {
		return
	}

	for _, candidate := range pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			m.logger.Debug("applying buffered ICE candidate failed", "peer", peer.id, "error", err)
		}
	}
}

// wirePeer installs the connection-level callbacks: trickle candidate
// publishing, inbound data channels, and failure cleanup.
func (m *Mesh) wirePeer(peer *meshPeer, pc *webrtc.PeerConnection) {
	peerID := peer.id

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		m.mu.Lock()
		roomID := m.roomID
		selfID := m.selfID
		joined := m.joined
		m.mu.Unlock()
		if !joined {
			return
		}
		payload := candidate.ToJSON()
		record := map[string]any{"candidate": payload.Candidate}
		if payload.SDPMid != nil {
			record["sdpMid"] = *payload.SDPMid
		}
		if payload.SDPMLineIndex != nil {
			record["sdpMLineIndex"] = int(*payload.SDPMLineIndex)
		}
		m.signal.Send(&wire.Message{
			Type:     wire.TypeICECandidate,
			RoomID:   roomID,
			SenderID: selfID,
			TargetID: peerID,
			Payload:  record,
		})
	})

	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		m.attachChannel(peer, channel)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debug("peer connection state change", "peer", peerID, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.removePeer(peerID)
		}
	})
}

// attachChannel wires a data channel's open/message/close handlers.
func (m *Mesh) attachChannel(peer *meshPeer, channel *webrtc.DataChannel) {
	m.mu.Lock()
	peer.channel = channel
	m.mu.Unlock()

	channel.OnOpen(func() {
		m.logger.Info("mesh data channel open", "peer", peer.id)
		m.mu.Lock()
		peer.channelOpen = true
		roomID := m.roomID
		joined := m.joined
		m.mu.Unlock()
		if !joined {
			return
		}
		// The peer becomes visible to subscribers only now, so a
		// session reacting to the join (say, with a sync-request) has
		// an open channel to send it over.
		m.messages.Emit(&wire.Message{
			Type:     wire.TypeParticipantJoined,
			RoomID:   roomID,
			SenderID: peer.id,
			Payload:  map[string]any{"id": peer.id},
		})
	})

	channel.OnClose(func() {
		m.mu.Lock()
		peer.channelOpen = false
		m.mu.Unlock()
	})

	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		frame, err := wire.DecodeFrame(message.Data)
		if err != nil {
			m.logger.Debug("dropping malformed mesh frame", "peer", peer.id, "error", err)
			return
		}
		m.messages.Emit(frame)
	})
}

// removePeer closes and discards one peer's connection, data channel,
// and candidate buffer. Removing the last peer fires the disconnect
// event exactly once.
func (m *Mesh) removePeer(peerID string) {
	m.mu.Lock()
	delete(m.early, peerID)
	peer, exists := m.peers[peerID]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(m.peers, peerID)
	lastPeerGone := len(m.peers) == 0 && m.peerSeen
	if lastPeerGone {
		m.peerSeen = false
	}
	m.mu.Unlock()

	closePeer(peer)
	m.logger.Info("mesh peer removed", "peer", peerID)
	if lastPeerGone {
		m.disconnects.Emit(struct{}{})
	}
}

// closePeer releases a peer's channel and connection.
func closePeer(peer *meshPeer) {
	if peer.channel != nil {
		peer.channel.Close()
	}
	if peer.pc != nil {
		peer.pc.Close()
	}
}

// newPeerConnection creates a pion PeerConnection. Loopback candidates
// are enabled so same-machine sessions (and tests) connect without any
// external interface.
func (m *Mesh) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
}
