// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "time"

// Reconnect backoff: delay doubles per consecutive failed attempt,
// capped, and resets to the initial delay after one success.
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// reconnectDelay returns the delay before reconnect attempt number
// attempt (zero-based): min(1s·2^attempt, 30s).
func reconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1s << 5 already exceeds the 30s cap; avoid shifting into overflow.
	if attempt > 5 {
		return maxReconnectDelay
	}
	delay := initialReconnectDelay << attempt
	if delay > maxReconnectDelay {
		return maxReconnectDelay
	}
	return delay
}
