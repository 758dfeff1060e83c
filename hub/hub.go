// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/wire"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long a silent connection stays alive.
	pongWait = 60 * time.Second
	// pingPeriod must be under pongWait.
	pingPeriod = 54 * time.Second
	// sendQueueSize is the per-client outbound buffer. A client that
	// falls this far behind is dropped.
	sendQueueSize = 256
)

// Hub is the coordinating server. It implements http.Handler for the
// websocket endpoint.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	id          string
	clients     []*client
	joinCounter int
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	roomID string
	userID string
	color  string
	mesh   bool
	send   chan []byte
	once   sync.Once
}

// New creates a hub server.
func New(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		// The engine's clients are desktop processes, not browsers;
		// origin checking is not a meaningful boundary here.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		rooms:    make(map[string]*room),
	}
}

// ServeHTTP upgrades one session connection. The query carries room,
// user, and optionally mode=mesh. A missing user id gets a generated
// one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomID := query.Get("room")
	if roomID == "" {
		http.Error(w, "missing room parameter", http.StatusBadRequest)
		return
	}
	userID := query.Get("user")
	if userID == "" {
		userID = uuid.NewString()
	}
	mesh := query.Get("mode") == "mesh"

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "room", roomID, "user", userID, "error", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		roomID: roomID,
		userID: userID,
		mesh:   mesh,
		send:   make(chan []byte, sendQueueSize),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// register adds the client to its room, sends it the roster, and
// announces it to the rest of the room.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	rm, ok := h.rooms[c.roomID]
	if !ok {
		rm = &room{id: c.roomID}
		h.rooms[c.roomID] = rm
	}
	// Another live connection for the same user id is superseded.
	for _, existing := range rm.clients {
		if existing.userID == c.userID {
			h.removeLocked(rm, existing)
			existing.close()
			break
		}
	}
	c.color = collab.ColorForIndex(rm.joinCounter)
	rm.joinCounter++
	rm.clients = append(rm.clients, c)
	roster := make([]map[string]any, 0, len(rm.clients))
	for _, member := range rm.clients {
		roster = append(roster, map[string]any{"id": member.userID, "color": member.color})
	}
	h.mu.Unlock()

	h.logger.Info("participant joined", "room", c.roomID, "user", c.userID, "mesh", c.mesh)

	c.enqueueMessage(&wire.Message{
		Type:    wire.TypeRoomInfo,
		RoomID:  c.roomID,
		Payload: map[string]any{"participants": roster},
	})
	h.broadcastMessage(c, &wire.Message{
		Type:     wire.TypeParticipantJoined,
		RoomID:   c.roomID,
		SenderID: c.userID,
		Payload:  map[string]any{"id": c.userID, "color": c.color},
	})
}

// unregister removes the client and announces the leave. Safe to call
// more than once per client.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	rm, ok := h.rooms[c.roomID]
	if !ok || !h.removeLocked(rm, c) {
		h.mu.Unlock()
		return
	}
	if len(rm.clients) == 0 {
		delete(h.rooms, c.roomID)
	}
	h.mu.Unlock()

	h.logger.Info("participant left", "room", c.roomID, "user", c.userID)

	h.broadcastMessage(c, &wire.Message{
		Type:     wire.TypeParticipantLeft,
		RoomID:   c.roomID,
		SenderID: c.userID,
		Payload:  map[string]any{"id": c.userID},
	})
}

// removeLocked drops one client from a room. Caller holds h.mu.
// Reports whether the client was a member.
func (h *Hub) removeLocked(rm *room, c *client) bool {
	for i, member := range rm.clients {
		if member == c {
			rm.clients = append(rm.clients[:i:i], rm.clients[i+1:]...)
			return true
		}
	}
	return false
}

// route forwards one client's frame: targeted frames go to the named
// recipient only, everything else to the rest of the room. The sender
// never receives its own frame back.
func (h *Hub) route(from *client, targetID string, frame []byte) {
	h.mu.Lock()
	rm, ok := h.rooms[from.roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	recipients := make([]*client, 0, len(rm.clients))
	for _, member := range rm.clients {
		if member == from {
			continue
		}
		if targetID != "" && member.userID != targetID {
			continue
		}
		recipients = append(recipients, member)
	}
	h.mu.Unlock()

	for _, member := range recipients {
		member.enqueue(frame)
	}
}

// broadcastMessage encodes a hub-authored message and sends it to the
// room, excluding one client.
func (h *Hub) broadcastMessage(exclude *client, message *wire.Message) {
	frame, err := wire.EncodeRelay(message)
	if err != nil {
		h.logger.Error("encoding hub message failed", "type", message.Type.String(), "error", err)
		return
	}
	h.route(exclude, "", frame)
}

// RoomCount returns the number of active rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// readPump consumes the client's frames until the connection breaks.
// Every frame is decoded just enough to learn its routing, then
// forwarded verbatim: the hub relays, it does not interpret.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("read failed", "room", c.roomID, "user", c.userID, "error", err)
			}
			return
		}

		message, err := wire.DecodeRelay(frame)
		if err != nil {
			// Best-effort relay: drop and keep the connection.
			c.hub.logger.Debug("dropping malformed frame", "room", c.roomID, "user", c.userID, "error", err)
			continue
		}
		c.hub.route(c, message.TargetID, frame)
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a frame for delivery, dropping the client if its
// queue is full.
func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.hub.logger.Warn("slow client dropped", "room", c.roomID, "user", c.userID)
		c.close()
	}
}

func (c *client) enqueueMessage(message *wire.Message) {
	frame, err := wire.EncodeRelay(message)
	if err != nil {
		c.hub.logger.Error("encoding hub message failed", "type", message.Type.String(), "error", err)
		return
	}
	c.enqueue(frame)
}

func (c *client) close() {
	c.once.Do(func() { c.conn.Close() })
}
