// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
	"github.com/edsonmartins/archbase-collab/wire"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// MemoryNetwork is an in-process fabric of transports that behaves
// like a hub: it tracks room membership, announces joins and leaves,
// answers each join with a room-info roster, and routes targeted
// messages to their recipient only. Delivery is synchronous — by the
// time Send returns, every recipient's handlers have run — which keeps
// multi-client tests free of sleeps and polling.
type MemoryNetwork struct {
	mu    sync.Mutex
	rooms map[string][]*MemoryTransport
}

// NewMemoryNetwork creates an empty fabric.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{rooms: make(map[string][]*MemoryTransport)}
}

// Transport creates a new unconnected transport on this fabric.
func (n *MemoryNetwork) Transport() *MemoryTransport {
	return &MemoryTransport{network: n}
}

func (n *MemoryNetwork) join(t *MemoryTransport, roomID, selfID string) {
	n.mu.Lock()
	members := n.rooms[roomID]
	// Roster colors follow join order, like the hub assigns them.
	roster := make([]map[string]any, 0, len(members)+1)
	for index, member := range members {
		roster = append(roster, map[string]any{
			"id":    member.selfID,
			"color": collab.ColorForIndex(index),
		})
	}
	roster = append(roster, map[string]any{
		"id":    selfID,
		"color": collab.ColorForIndex(len(members)),
	})
	n.rooms[roomID] = append(members, t)
	n.mu.Unlock()

	t.deliver(&wire.Message{
		Type:    wire.TypeRoomInfo,
		RoomID:  roomID,
		Payload: map[string]any{"participants": roster},
	})
	n.broadcast(t, &wire.Message{
		Type:     wire.TypeParticipantJoined,
		RoomID:   roomID,
		SenderID: selfID,
		Payload:  map[string]any{"id": selfID, "color": collab.ColorForIndex(len(members))},
	})
}

func (n *MemoryNetwork) leave(t *MemoryTransport, roomID, selfID string) {
	n.mu.Lock()
	members := n.rooms[roomID]
	for index, member := range members {
		if member == t {
			n.rooms[roomID] = append(members[:index:index], members[index+1:]...)
			break
		}
	}
	if len(n.rooms[roomID]) == 0 {
		delete(n.rooms, roomID)
	}
	n.mu.Unlock()

	n.broadcast(t, &wire.Message{
		Type:     wire.TypeParticipantLeft,
		RoomID:   roomID,
		SenderID: selfID,
		Payload:  map[string]any{"id": selfID},
	})
}

// broadcast routes a message from one transport to the rest of its
// room, honoring TargetID.
func (n *MemoryNetwork) broadcast(from *MemoryTransport, message *wire.Message) {
	n.mu.Lock()
	members := append([]*MemoryTransport(nil), n.rooms[message.RoomID]...)
	n.mu.Unlock()

	for _, member := range members {
		if member == from {
			continue
		}
		if message.Targeted() && member.selfID != message.TargetID {
			continue
		}
		member.deliver(message)
	}
}

// MemoryTransport is one endpoint on a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork

	mu        sync.Mutex
	connected bool
	roomID    string
	selfID    string

	messages    emitter.Emitter[*wire.Message]
	disconnects emitter.Emitter[struct{}]
}

// Connect joins the fabric's room. A transport already connected
// elsewhere leaves that room first.
func (t *MemoryTransport) Connect(_ context.Context, _ string, roomID, selfID string) error {
	t.Disconnect()

	t.mu.Lock()
	t.connected = true
	t.roomID = roomID
	t.selfID = selfID
	t.mu.Unlock()

	t.network.join(t, roomID, selfID)
	return nil
}

// Disconnect leaves the room and fires the disconnect event.
func (t *MemoryTransport) Disconnect() {
	t.mu.Lock()
	wasConnected := t.connected
	roomID := t.roomID
	selfID := t.selfID
	t.connected = false
	t.mu.Unlock()

	if !wasConnected {
		return
	}
	t.network.leave(t, roomID, selfID)
	t.disconnects.Emit(struct{}{})
}

// Send routes the message through the fabric. Messages sent while
// disconnected are dropped.
func (t *MemoryTransport) Send(message *wire.Message) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return
	}
	t.network.broadcast(t, message)
}

// OnMessage registers an inbound message handler.
func (t *MemoryTransport) OnMessage(handler func(*wire.Message)) func() {
	return t.messages.Subscribe(handler)
}

// OnDisconnect registers a disconnect handler.
func (t *MemoryTransport) OnDisconnect(handler func()) func() {
	return t.disconnects.Subscribe(func(struct{}) { handler() })
}

// Connected reports whether the transport is joined to a room.
func (t *MemoryTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *MemoryTransport) deliver(message *wire.Message) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return
	}
	t.messages.Emit(message)
}
