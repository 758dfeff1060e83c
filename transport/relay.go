// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edsonmartins/archbase-collab/lib/clock"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
	"github.com/edsonmartins/archbase-collab/wire"
)

// Compile-time interface check.
var _ Transport = (*Relay)(nil)

// handshakeTimeout bounds the websocket upgrade during reconnect
// attempts, where no caller context is available.
const handshakeTimeout = 15 * time.Second

// Relay is the hub-and-spoke transport: one websocket connection to the
// coordinating server, which fans messages out to the rest of the room.
// Frames are the JSON encoding of wire.Message; document payloads
// travel base64-encoded. Malformed inbound frames are dropped silently.
type Relay struct {
	logger *slog.Logger
	clk    clock.Clock
	dialer *websocket.Dialer

	// mu guards connection state. generation invalidates stale read
	// loops and scheduled reconnects after Connect/Disconnect.
	mu          sync.Mutex
	conn        *websocket.Conn
	endpoint    string
	roomID      string
	selfID      string
	mesh        bool
	attempt     int
	generation  int
	reconnect   *clock.Timer
	intentional bool

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	messages    emitter.Emitter[*wire.Message]
	disconnects emitter.Emitter[struct{}]
}

// NewRelay creates a relay transport. The clock drives reconnect
// backoff timers.
func NewRelay(clk clock.Clock, logger *slog.Logger) *Relay {
	return &Relay{
		logger: logger,
		clk:    clk,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// newSignalingRelay creates the relay the mesh transport uses for
// connection negotiation. Identical wiring, but the session URL carries
// the mesh marker.
func newSignalingRelay(clk clock.Clock, logger *slog.Logger) *Relay {
	relay := NewRelay(clk, logger)
	relay.mesh = true
	return relay
}

// Connect dials the hub. A second call while connected tears down the
// prior connection first. The initial dial failure is returned to the
// caller; automatic reconnection only begins after a connection that
// was established is lost unexpectedly.
func (r *Relay) Connect(ctx context.Context, endpoint, roomID, selfID string) error {
	target, err := sessionURL(endpoint, roomID, selfID, r.mesh)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.teardownLocked()
	r.endpoint = endpoint
	r.roomID = roomID
	r.selfID = selfID
	r.intentional = false
	r.attempt = 0
	r.generation++
	generation := r.generation
	r.mu.Unlock()

	conn, _, err := r.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("transport: connecting to relay %s: %w", endpoint, err)
	}

	r.mu.Lock()
	if r.generation != generation || r.intentional {
		// Torn down while the dial was in flight.
		r.mu.Unlock()
		conn.Close()
		return fmt.Errorf("transport: connection torn down during dial")
	}
	r.conn = conn
	r.mu.Unlock()

	go r.readLoop(generation, conn)
	r.logger.Info("relay connected", "endpoint", endpoint, "room", roomID, "user", selfID)
	return nil
}

// Disconnect stops reconnection and closes the connection. The
// disconnect event fires if a live connection was closed.
func (r *Relay) Disconnect() {
	r.mu.Lock()
	r.intentional = true
	hadConn := r.conn != nil
	r.teardownLocked()
	r.mu.Unlock()

	if hadConn {
		r.disconnects.Emit(struct{}{})
	}
}

// teardownLocked closes the current connection and cancels any pending
// reconnect. Caller holds r.mu.
func (r *Relay) teardownLocked() {
	r.generation++
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Send transmits one message, or silently drops it when disconnected.
func (r *Relay) Send(m *wire.Message) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		r.logger.Debug("relay send while disconnected, dropping", "type", m.Type.String())
		return
	}

	data, err := wire.EncodeRelay(m)
	if err != nil {
		r.logger.Warn("relay frame encoding failed", "type", m.Type.String(), "error", err)
		return
	}

	r.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	r.writeMu.Unlock()
	if err != nil {
		// The read loop observes the broken connection and handles
		// reconnection; nothing more to do here.
		r.logger.Debug("relay write failed", "error", err)
	}
}

// OnMessage registers an inbound message handler.
func (r *Relay) OnMessage(handler func(*wire.Message)) func() {
	return r.messages.Subscribe(handler)
}

// OnDisconnect registers a connection-loss handler.
func (r *Relay) OnDisconnect(handler func()) func() {
	return r.disconnects.Subscribe(func(struct{}) { handler() })
}

// Connected reports whether the websocket is currently open.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// readLoop pumps inbound frames until the connection breaks, then
// hands off to failure handling. Stale loops (superseded by a newer
// Connect) exit without side effects.
func (r *Relay) readLoop(generation int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.handleReadFailure(generation)
			return
		}

		message, err := wire.DecodeRelay(data)
		if err != nil {
			// Best-effort channel: drop and continue.
			r.logger.Debug("dropping malformed relay frame", "error", err)
			continue
		}
		r.messages.Emit(message)
	}
}

// handleReadFailure reacts to a broken connection: emit the disconnect
// event and, unless Disconnect was called, schedule a reconnect.
func (r *Relay) handleReadFailure(generation int) {
	r.mu.Lock()
	if r.generation != generation {
		r.mu.Unlock()
		return
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	intentional := r.intentional
	roomID := r.roomID
	if !intentional {
		r.scheduleReconnectLocked()
	}
	r.mu.Unlock()

	if !intentional {
		r.logger.Warn("relay connection lost, reconnecting", "room", roomID)
		r.disconnects.Emit(struct{}{})
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt.
// Caller holds r.mu.
func (r *Relay) scheduleReconnectLocked() {
	delay := reconnectDelay(r.attempt)
	generation := r.generation
	r.logger.Info("scheduling relay reconnect", "attempt", r.attempt, "delay", delay)
	r.reconnect = r.clk.AfterFunc(delay, func() {
		r.tryReconnect(generation)
	})
}

// tryReconnect performs one reconnect attempt. On failure the attempt
// counter grows and the timer is rearmed; on success it resets to zero.
func (r *Relay) tryReconnect(generation int) {
	r.mu.Lock()
	if r.generation != generation || r.intentional {
		r.mu.Unlock()
		return
	}
	endpoint, roomID, selfID := r.endpoint, r.roomID, r.selfID
	r.mu.Unlock()

	target, err := sessionURL(endpoint, roomID, selfID, r.mesh)
	if err != nil {
		r.logger.Error("relay reconnect aborted: bad endpoint", "error", err)
		return
	}

	conn, _, err := r.dialer.Dial(target, nil)

	r.mu.Lock()
	if r.generation != generation || r.intentional {
		r.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		r.attempt++
		r.scheduleReconnectLocked()
		r.mu.Unlock()
		r.logger.Warn("relay reconnect failed", "attempt", r.attempt, "error", err)
		return
	}
	r.conn = conn
	r.attempt = 0
	r.reconnect = nil
	r.mu.Unlock()

	go r.readLoop(generation, conn)
	r.logger.Info("relay reconnected", "room", roomID)
}
