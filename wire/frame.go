// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/edsonmartins/archbase-collab/lib/codec"
)

// Reserved payload keys that carry the envelope's sender and target
// through the binary frame's structured payload. Stripped on decode;
// application payloads must not use them.
const (
	frameSenderKey = "_senderId"
	frameTargetKey = "_targetId"
)

// frameHeaderSize is the fixed prefix: 1-byte type code plus 2-byte
// big-endian room-id length.
const frameHeaderSize = 3

// Frame decode failures. Callers drop the frame and continue.
var (
	ErrFrameTooShort  = errors.New("wire: frame shorter than header")
	ErrUnknownType    = errors.New("wire: unknown frame type code")
	ErrFrameTruncated = errors.New("wire: frame truncated mid room-id")
)

// EncodeFrame serializes a message to the binary data-channel frame.
// Document-sync payloads are copied verbatim; all other payloads are
// CBOR records with senderId/targetId folded in under reserved keys.
func EncodeFrame(m *Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("wire: cannot encode invalid type %d", byte(m.Type))
	}
	room := []byte(m.RoomID)
	if len(room) > math.MaxUint16 {
		return nil, fmt.Errorf("wire: room id of %d bytes exceeds frame limit", len(room))
	}

	var payload []byte
	if m.Type.IsSync() {
		payload = m.Binary
	} else {
		record := make(map[string]any, len(m.Payload)+2)
		for key, value := range m.Payload {
			record[key] = value
		}
		if m.SenderID != "" {
			record[frameSenderKey] = m.SenderID
		}
		if m.TargetID != "" {
			record[frameTargetKey] = m.TargetID
		}
		encoded, err := codec.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding frame payload: %w", err)
		}
		payload = encoded
	}

	frame := make([]byte, frameHeaderSize+len(room)+len(payload))
	frame[0] = byte(m.Type)
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(room)))
	copy(frame[frameHeaderSize:], room)
	copy(frame[frameHeaderSize+len(room):], payload)
	return frame, nil
}

// DecodeFrame parses one binary data-channel frame. Violations — short
// frame, unknown type code, truncated room id — return an error and the
// caller drops the frame.
func DecodeFrame(data []byte) (*Message, error) {
	if len(data) < frameHeaderSize {
		return nil, ErrFrameTooShort
	}

	messageType := Type(data[0])
	if !messageType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}

	roomLength := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) < frameHeaderSize+roomLength {
		return nil, ErrFrameTruncated
	}

	message := &Message{
		Type:   messageType,
		RoomID: string(data[frameHeaderSize : frameHeaderSize+roomLength]),
	}
	payload := data[frameHeaderSize+roomLength:]

	if messageType.IsSync() {
		// Copy: the transport may reuse the receive buffer.
		message.Binary = append([]byte(nil), payload...)
		return message, nil
	}

	message.Payload = map[string]any{}
	if len(payload) > 0 {
		if err := codec.Unmarshal(payload, &message.Payload); err != nil {
			return nil, fmt.Errorf("wire: parsing frame payload: %w", err)
		}
	}
	if sender, ok := message.Payload[frameSenderKey].(string); ok {
		message.SenderID = sender
		delete(message.Payload, frameSenderKey)
	}
	if target, ok := message.Payload[frameTargetKey].(string); ok {
		message.TargetID = target
		delete(message.Payload, frameTargetKey)
	}
	return message, nil
}
