// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeFrame_SyncPayloadVerbatim(t *testing.T) {
	update := []byte{0xde, 0xad, 0xbe, 0xef}
	message := &Message{
		Type:   TypeSyncResponse,
		RoomID: "room-42",
		Binary: update,
	}

	frame, err := EncodeFrame(message)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	if frame[0] != byte(TypeSyncResponse) {
		t.Errorf("type code = %d, want %d", frame[0], byte(TypeSyncResponse))
	}
	roomLength := binary.BigEndian.Uint16(frame[1:3])
	if int(roomLength) != len("room-42") {
		t.Errorf("room length = %d, want %d", roomLength, len("room-42"))
	}
	if !bytes.Equal(frame[3+roomLength:], update) {
		t.Errorf("payload = %v, want verbatim %v", frame[3+roomLength:], update)
	}

	decoded, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if decoded.RoomID != "room-42" {
		t.Errorf("RoomID = %q, want %q", decoded.RoomID, "room-42")
	}
	if !bytes.Equal(decoded.Binary, update) {
		t.Errorf("Binary = %v, want %v", decoded.Binary, update)
	}
}

func TestEncodeFrame_SenderAndTargetFoldIntoPayload(t *testing.T) {
	message := &Message{
		Type:     TypeAwarenessUpdate,
		RoomID:   "r1",
		SenderID: "alice",
		TargetID: "bob",
		Payload:  map[string]any{"status": "idle"},
	}

	frame, err := EncodeFrame(message)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	decoded, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	if decoded.SenderID != "alice" {
		t.Errorf("SenderID = %q, want %q", decoded.SenderID, "alice")
	}
	if decoded.TargetID != "bob" {
		t.Errorf("TargetID = %q, want %q", decoded.TargetID, "bob")
	}
	// The reserved keys must be stripped back out of the record.
	if _, present := decoded.Payload["_senderId"]; present {
		t.Error("reserved sender key leaked into decoded payload")
	}
	if _, present := decoded.Payload["_targetId"]; present {
		t.Error("reserved target key leaked into decoded payload")
	}
	if got := PayloadString(decoded.Payload, "status"); got != "idle" {
		t.Errorf("status = %q, want %q", got, "idle")
	}
}

func TestDecodeFrame_Violations(t *testing.T) {
	if _, err := DecodeFrame([]byte{0x00, 0x00}); !errors.Is(err, ErrFrameTooShort) {
		t.Errorf("short frame error = %v, want ErrFrameTooShort", err)
	}

	if _, err := DecodeFrame([]byte{0xff, 0x00, 0x00}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type error = %v, want ErrUnknownType", err)
	}

	// Header claims a 10-byte room id but only 2 bytes follow.
	truncated := []byte{byte(TypeSyncDelta), 0x00, 0x0a, 'r', '1'}
	if _, err := DecodeFrame(truncated); !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("truncated frame error = %v, want ErrFrameTruncated", err)
	}
}

func TestDecodeFrame_EmptyStructuredPayload(t *testing.T) {
	message := &Message{Type: TypeParticipantLeft, RoomID: "r1"}
	frame, err := EncodeFrame(message)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	decoded, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if decoded.Payload == nil {
		t.Error("decoded payload is nil, want empty record")
	}
}
