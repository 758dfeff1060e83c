// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries wire messages between collaboration
// participants. Two implementations share one contract:
//
//   - Relay: a single websocket connection to the coordinating hub;
//     every message passes through the hub.
//   - Mesh: direct WebRTC data channels between peers, negotiated over
//     the hub's signaling channel, with session traffic flowing
//     peer-to-peer once established.
//
// Both reconnect automatically on unexpected disconnect with
// exponential backoff (1s doubling to a 30s cap, reset on success).
// Explicit Disconnect stops reconnection permanently.
//
// Send is fire-and-forget: messages sent while disconnected are
// silently dropped. Awareness data is ephemeral by definition, and
// document convergence is restored by the sync handshake on the next
// join, so nothing queues.
package transport
