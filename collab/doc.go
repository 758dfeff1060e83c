// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package collab defines the data model shared by the collaboration
// engine: participants, rooms, cursors, presence, shared windows, and
// follow state.
//
// Durable shared state (window geometry) lives in the replicated
// document; everything else here is awareness data — ephemeral,
// last-write-wins, never persisted.
package collab
