// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub implements the coordinating server both transports
// connect to. For relay clients it fans room traffic out hub-and-spoke;
// for mesh clients it carries only the connection-negotiation signals.
// Either way it owns room membership: it assigns authoritative colors,
// answers every join with a room-info roster, and announces joins and
// leaves — including leaves caused by a dropped socket, which is the
// supervisory layer that keeps rosters from leaking entries.
package hub
