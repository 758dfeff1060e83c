// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

// Package session orchestrates one participant's collaboration
// session: it owns a transport and a replicated document, dispatches
// inbound wire messages, and runs the cursor, presence, window-sync,
// and follow sub-services. Sub-services never talk to the transport
// directly; all outbound traffic flows through the orchestrator.
package session
