// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// Type identifies a protocol message. The byte value doubles as the
// type code in the binary frame encoding; the ordering below is the
// wire contract and must never be reordered.
type Type byte

const (
	// TypeSyncRequest asks a peer for the document state we are
	// missing, carrying our state vector.
	TypeSyncRequest Type = iota
	// TypeSyncResponse answers a sync request with a document delta.
	TypeSyncResponse
	// TypeSyncDelta broadcasts an incremental document update.
	TypeSyncDelta
	// TypeAwarenessUpdate carries ephemeral per-participant data:
	// cursor position, presence status, focused window.
	TypeAwarenessUpdate
	// TypeOffer carries an SDP offer during mesh negotiation.
	TypeOffer
	// TypeAnswer carries an SDP answer during mesh negotiation.
	TypeAnswer
	// TypeICECandidate carries one ICE candidate during mesh negotiation.
	TypeICECandidate
	// TypeParticipantJoined announces a new room member.
	TypeParticipantJoined
	// TypeParticipantLeft announces a departed room member.
	TypeParticipantLeft
	// TypeRoomInfo delivers the bulk roster, optionally with
	// authoritative color assignments.
	TypeRoomInfo
	// TypeError reports a server-side protocol error. Never fatal.
	TypeError

	typeCount // sentinel; must remain last
)

var typeNames = [typeCount]string{
	TypeSyncRequest:       "sync-request",
	TypeSyncResponse:      "sync-response",
	TypeSyncDelta:         "sync-delta",
	TypeAwarenessUpdate:   "awareness-update",
	TypeOffer:             "offer",
	TypeAnswer:            "answer",
	TypeICECandidate:      "ice-candidate",
	TypeParticipantJoined: "participant-joined",
	TypeParticipantLeft:   "participant-left",
	TypeRoomInfo:          "room-info",
	TypeError:             "error",
}

// String returns the protocol name of the type as it appears in relay
// JSON frames.
func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("wire.Type(%d)", byte(t))
	}
	return typeNames[t]
}

// Valid reports whether t is a known type code.
func (t Type) Valid() bool { return t < typeCount }

// IsSync reports whether t carries a binary document payload
// (state vector or update bytes) rather than a structured record.
func (t Type) IsSync() bool {
	return t == TypeSyncRequest || t == TypeSyncResponse || t == TypeSyncDelta
}

// IsSignal reports whether t is a connection-negotiation message,
// consumed by the mesh transport itself and never surfaced to the
// session. Membership messages (participant-joined/-left) are not
// signals: the mesh transport acts on them and forwards them.
func (t Type) IsSignal() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// ParseType resolves a protocol name to its Type.
func ParseType(name string) (Type, error) {
	for code, candidate := range typeNames {
		if candidate == name {
			return Type(code), nil
		}
	}
	return 0, fmt.Errorf("wire: unknown message type %q", name)
}

// Message is the protocol envelope. Exactly one of Binary and Payload
// is meaningful: Binary for the three document-sync types, Payload for
// everything else. Payload is never nil after decoding — a missing or
// null payload decodes to an empty record.
type Message struct {
	Type     Type
	RoomID   string
	SenderID string
	TargetID string

	// Binary is the opaque replicated-document payload for sync types.
	Binary []byte

	// Payload is the structured record for non-sync types.
	Payload map[string]any
}

// Targeted reports whether the message is addressed to a single
// recipient rather than the whole room.
func (m *Message) Targeted() bool { return m.TargetID != "" }
