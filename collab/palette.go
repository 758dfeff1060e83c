// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import "math/rand/v2"

// Palette is the fixed set of participant colors. Clients pick one at
// random on join; the room authority may override the assignment via
// room-info, keyed by join order, so concurrent joiners converge on
// distinct colors.
var Palette = [8]string{
	"#e06c75",
	"#e5c07b",
	"#98c379",
	"#56b6c2",
	"#61afef",
	"#c678dd",
	"#d19a66",
	"#abb2bf",
}

// RandomColor returns a palette color chosen uniformly at random.
func RandomColor() string {
	return Palette[rand.IntN(len(Palette))]
}

// ColorForIndex returns the palette color for a join-order index,
// wrapping around when a room has more participants than colors.
func ColorForIndex(index int) string {
	if index < 0 {
		index = -index
	}
	return Palette[index%len(Palette)]
}
