// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeRelay_SyncPayloadIsBase64(t *testing.T) {
	message := &Message{
		Type:   TypeSyncDelta,
		RoomID: "r1",
		Binary: []byte{0x00, 0x01, 0xfe, 0xff},
	}
	data, err := EncodeRelay(message)
	if err != nil {
		t.Fatalf("EncodeRelay failed: %v", err)
	}

	// The payload on the wire must be a JSON string, never raw bytes.
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	var text string
	if err := json.Unmarshal(frame["payload"], &text); err != nil {
		t.Fatalf("payload is not a JSON string: %v", err)
	}
	if text != "AAH+/w==" {
		t.Errorf("payload = %q, want %q", text, "AAH+/w==")
	}

	decoded, err := DecodeRelay(data)
	if err != nil {
		t.Fatalf("DecodeRelay failed: %v", err)
	}
	if !bytes.Equal(decoded.Binary, message.Binary) {
		t.Errorf("Binary = %v, want %v", decoded.Binary, message.Binary)
	}
}

func TestDecodeRelay_StructuredRecord(t *testing.T) {
	data := []byte(`{"type":"awareness-update","roomId":"r1","senderId":"alice","payload":{"cursor":{"x":100,"y":200,"visible":true}}}`)

	message, err := DecodeRelay(data)
	if err != nil {
		t.Fatalf("DecodeRelay failed: %v", err)
	}
	if message.Type != TypeAwarenessUpdate {
		t.Errorf("Type = %v, want %v", message.Type, TypeAwarenessUpdate)
	}
	if message.SenderID != "alice" {
		t.Errorf("SenderID = %q, want %q", message.SenderID, "alice")
	}
	cursor := PayloadRecord(message.Payload, "cursor")
	if cursor == nil {
		t.Fatal("cursor record missing from payload")
	}
	if got := PayloadFloat(cursor, "x"); got != 100 {
		t.Errorf("cursor x = %v, want 100", got)
	}
	if !PayloadBool(cursor, "visible") {
		t.Error("cursor visible = false, want true")
	}
}

func TestDecodeRelay_MissingAndNullPayloadBecomeEmptyRecord(t *testing.T) {
	for _, frame := range []string{
		`{"type":"participant-left","roomId":"r1","senderId":"bob"}`,
		`{"type":"participant-left","roomId":"r1","senderId":"bob","payload":null}`,
	} {
		message, err := DecodeRelay([]byte(frame))
		if err != nil {
			t.Fatalf("DecodeRelay(%s) failed: %v", frame, err)
		}
		if message.Payload == nil {
			t.Errorf("DecodeRelay(%s) produced a nil payload", frame)
		}
		if len(message.Payload) != 0 {
			t.Errorf("DecodeRelay(%s) payload = %v, want empty", frame, message.Payload)
		}
	}
}

func TestDecodeRelay_MalformedFramesError(t *testing.T) {
	malformed := []string{
		`not json at all`,
		`{"type":"time-travel","roomId":"r1"}`,
		`{"type":"sync-delta","roomId":"r1","payload":{"not":"a string"}}`,
		`{"type":"sync-delta","roomId":"r1","payload":"!!! not base64 !!!"}`,
	}
	for _, frame := range malformed {
		if _, err := DecodeRelay([]byte(frame)); err == nil {
			t.Errorf("DecodeRelay(%s) succeeded, want error", frame)
		}
	}
}

func TestParseType_RoundTrip(t *testing.T) {
	for code := Type(0); code < typeCount; code++ {
		parsed, err := ParseType(code.String())
		if err != nil {
			t.Fatalf("ParseType(%q) failed: %v", code.String(), err)
		}
		if parsed != code {
			t.Errorf("ParseType(%q) = %v, want %v", code.String(), parsed, code)
		}
	}
	if _, err := ParseType("nonsense"); err == nil {
		t.Error("ParseType accepted an unknown name")
	}
}
