// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// relayFrame is the JSON shape of one relay message. Payload is raw so
// the envelope can be parsed before deciding whether the payload is a
// base64 string (sync types) or a structured record.
type relayFrame struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	SenderID string          `json:"senderId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// EncodeRelay serializes a message to the relay JSON frame. Binary
// document payloads are base64-encoded for text-safe transit.
func EncodeRelay(m *Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("wire: cannot encode invalid type %d", byte(m.Type))
	}

	frame := relayFrame{
		Type:     m.Type.String(),
		RoomID:   m.RoomID,
		SenderID: m.SenderID,
		TargetID: m.TargetID,
	}

	if m.Type.IsSync() {
		encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(m.Binary))
		if err != nil {
			return nil, fmt.Errorf("wire: encoding sync payload: %w", err)
		}
		frame.Payload = encoded
	} else {
		payload := m.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding payload record: %w", err)
		}
		frame.Payload = encoded
	}

	return json.Marshal(frame)
}

// DecodeRelay parses one relay JSON frame. Malformed frames return an
// error; the transport drops them without surfacing anything — the
// relay is a best-effort channel.
func DecodeRelay(data []byte) (*Message, error) {
	var frame relayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("wire: parsing relay frame: %w", err)
	}

	messageType, err := ParseType(frame.Type)
	if err != nil {
		return nil, err
	}

	message := &Message{
		Type:     messageType,
		RoomID:   frame.RoomID,
		SenderID: frame.SenderID,
		TargetID: frame.TargetID,
	}

	if messageType.IsSync() {
		var text string
		if err := json.Unmarshal(frame.Payload, &text); err != nil {
			return nil, fmt.Errorf("wire: sync payload is not a base64 string: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("wire: decoding sync payload: %w", err)
		}
		message.Binary = raw
		return message, nil
	}

	// A missing or null payload becomes an empty record so downstream
	// dispatch never sees nil.
	message.Payload = map[string]any{}
	if len(frame.Payload) > 0 && !bytes.Equal(frame.Payload, []byte("null")) {
		if err := json.Unmarshal(frame.Payload, &message.Payload); err != nil {
			return nil, fmt.Errorf("wire: parsing payload record: %w", err)
		}
	}
	return message, nil
}
