// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/edsonmartins/archbase-collab/wire"
)

// Transport moves wire messages between the local participant and the
// rest of the room. Implementations: Relay (hub-and-spoke), Mesh
// (peer-to-peer), Memory (in-process, for tests).
type Transport interface {
	// Connect opens the transport to the given endpoint for one room.
	// Idempotent: a second call while connected first tears down the
	// prior connection.
	Connect(ctx context.Context, endpoint, roomID, selfID string) error

	// Disconnect stops auto-reconnect and releases all resources.
	// Always succeeds; safe to call repeatedly.
	Disconnect()

	// Send transmits a message. Silently dropped when not connected —
	// there is no queuing.
	Send(m *wire.Message)

	// OnMessage registers a handler for inbound messages. Multiple
	// handlers receive every message; the returned function removes
	// the handler.
	OnMessage(handler func(*wire.Message)) (unsubscribe func())

	// OnDisconnect registers a handler invoked when the transport
	// loses its connection (or, for the mesh, its last peer).
	OnDisconnect(handler func()) (unsubscribe func())

	// Connected reports whether the transport can currently deliver.
	Connected() bool
}

// sessionURL appends the room and user query parameters (and the mesh
// marker) to a hub endpoint such as "ws://hub.local:8787/ws".
func sessionURL(endpoint, roomID, selfID string, mesh bool) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("transport: parsing endpoint %q: %w", endpoint, err)
	}
	query := parsed.Query()
	query.Set("room", roomID)
	query.Set("user", selfID)
	if mesh {
		query.Set("mode", "mesh")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
