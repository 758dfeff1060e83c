// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for structured payloads
// on mesh data channels.
//
// Encoding is Core Deterministic (RFC 8949 §4.2): the same logical
// record always produces identical bytes, which keeps frame contents
// comparable across peers. Decoding accepts standard CBOR and ignores
// unknown fields for forward compatibility.
package codec
