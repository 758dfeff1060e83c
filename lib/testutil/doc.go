// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: channel operations with
// timeout safety valves and unique identifier generation.
package testutil
