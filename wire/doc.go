// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the protocol envelope shared by both transports
// and the two encodings it travels in.
//
// The relay path uses a human-inspectable JSON frame with binary
// document payloads carried as base64 text. Peer data channels use a
// compact binary frame: a one-byte type code, a two-byte big-endian
// room-id length, the room id in UTF-8, and the payload bytes.
//
// The type table is closed and ordered. The byte value of each Type is
// part of the wire contract — both ends of a data channel must share
// the identical table, so new types may only ever be appended.
package wire
