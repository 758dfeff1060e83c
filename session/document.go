// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/edsonmartins/archbase-collab/collab"
	"github.com/edsonmartins/archbase-collab/lib/codec"
	"github.com/edsonmartins/archbase-collab/lib/emitter"
)

// Origin tags attached to document updates. An update applied with
// OriginRemote is never re-broadcast; this is the mechanism that breaks
// echo loops between the transport and the document.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// Document is the causal-merge oracle the orchestrator replicates
// through. The engine does not implement or constrain the merge
// algorithm; it only requires the three sync primitives, an update
// subscription, and access to the replicated window-state map.
type Document interface {
	// EncodeStateVector returns a compact description of the state this
	// replica has already seen, for inclusion in a sync-request.
	EncodeStateVector() []byte

	// EncodeStateAsUpdate returns an update carrying everything this
	// replica knows beyond the given state vector. A nil or empty
	// vector yields the full state.
	EncodeStateAsUpdate(knownStateVector []byte) []byte

	// ApplyUpdate merges an update into this replica, tagging resulting
	// change notifications with origin.
	ApplyUpdate(update []byte, origin string) error

	// OnUpdate registers a handler receiving every applied update with
	// its origin tag, including updates authored locally.
	OnUpdate(handler func(update []byte, origin string)) (unsubscribe func())

	// Windows is the replicated window-state map.
	Windows() WindowMap
}

// WindowMap is the replicated map of shared window state inside the
// document.
type WindowMap interface {
	Set(state collab.SharedWindowState, origin string)
	Delete(windowID string, origin string)
	Get(windowID string) (collab.SharedWindowState, bool)
	All() map[string]collab.SharedWindowState
	OnChange(handler func(change WindowChange)) (unsubscribe func())
}

// WindowChange describes one applied mutation of the window map.
type WindowChange struct {
	WindowID string
	State    collab.SharedWindowState
	Removed  bool
	Origin   string
}

// windowOp is one replicated mutation. Seq is a Lamport timestamp:
// each replica's ops are numbered monotonically, and applying a remote
// op advances the local counter past it, so later writes always win
// last-write-wins comparison regardless of which replica authored them.
type windowOp struct {
	Actor    string                   `json:"actor"`
	Seq      uint64                   `json:"seq"`
	WindowID string                   `json:"windowId"`
	Remove   bool                     `json:"remove,omitempty"`
	State    collab.SharedWindowState `json:"state,omitempty"`
}

// opTag identifies the op that last wrote a window, for LWW conflict
// resolution: higher Seq wins, ties broken by actor id.
type opTag struct {
	seq   uint64
	actor string
}

func (t opTag) before(op windowOp) bool {
	if op.Seq != t.seq {
		return op.Seq > t.seq
	}
	return op.Actor > t.actor
}

type documentUpdate struct {
	bytes  []byte
	origin string
}

// MemoryDocument is the reference Document: an op-log CRDT over the
// window-state map. State vectors are per-actor high-water marks;
// updates are batches of ops the receiver has not seen. It converges
// for any delivery order because ops are idempotent (filtered by the
// vector) and conflicts resolve by Lamport-timestamp LWW.
//
// It exists so the engine is testable and runnable without an external
// CRDT; production deployments supply their own Document.
type MemoryDocument struct {
	actor string

	mu      sync.Mutex
	seq     uint64
	vector  map[string]uint64
	log     []windowOp
	windows map[string]collab.SharedWindowState
	tags    map[string]opTag

	updates emitter.Emitter[documentUpdate]
	changes emitter.Emitter[WindowChange]
}

var _ Document = (*MemoryDocument)(nil)
var _ WindowMap = (*MemoryDocument)(nil)

// NewMemoryDocument creates an empty document for the given actor id.
func NewMemoryDocument(actor string) *MemoryDocument {
	return &MemoryDocument{
		actor:   actor,
		vector:  make(map[string]uint64),
		windows: make(map[string]collab.SharedWindowState),
		tags:    make(map[string]opTag),
	}
}

// EncodeStateVector returns the per-actor high-water marks.
func (d *MemoryDocument) EncodeStateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := codec.Marshal(d.vector)
	if err != nil {
		return nil
	}
	return data
}

// EncodeStateAsUpdate returns every op beyond the given state vector.
func (d *MemoryDocument) EncodeStateAsUpdate(knownStateVector []byte) []byte {
	known := make(map[string]uint64)
	if len(knownStateVector) > 0 {
		// A malformed vector degrades to the full state.
		_ = codec.Unmarshal(knownStateVector, &known)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	missing := make([]windowOp, 0, len(d.log))
	for _, op := range d.log {
		if op.Seq > known[op.Actor] {
			missing = append(missing, op)
		}
	}
	data, err := codec.Marshal(missing)
	if err != nil {
		return nil
	}
	return data
}

// ApplyUpdate merges a batch of ops. Ops already covered by the local
// state vector are skipped, so duplicate delivery is harmless. Change
// notifications fire per materialized window mutation; the update
// notification fires once with exactly the newly applied ops.
func (d *MemoryDocument) ApplyUpdate(update []byte, origin string) error {
	var ops []windowOp
	if err := codec.Unmarshal(update, &ops); err != nil {
		return fmt.Errorf("session: decoding document update: %w", err)
	}
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Actor != ops[j].Actor {
			return ops[i].Actor < ops[j].Actor
		}
		return ops[i].Seq < ops[j].Seq
	})

	d.mu.Lock()
	applied := make([]windowOp, 0, len(ops))
	changes := make([]WindowChange, 0, len(ops))
	for _, op := range ops {
		if op.Actor == "" || op.Seq == 0 || op.Seq <= d.vector[op.Actor] {
			continue
		}
		d.vector[op.Actor] = op.Seq
		if op.Seq > d.seq {
			d.seq = op.Seq
		}
		d.log = append(d.log, op)
		applied = append(applied, op)
		if change, ok := d.materializeLocked(op, origin); ok {
			changes = append(changes, change)
		}
	}
	d.mu.Unlock()

	for _, change := range changes {
		d.changes.Emit(change)
	}
	if len(applied) > 0 {
		if data, err := codec.Marshal(applied); err == nil {
			d.updates.Emit(documentUpdate{bytes: data, origin: origin})
		}
	}
	return nil
}

// OnUpdate registers a handler for applied updates.
func (d *MemoryDocument) OnUpdate(handler func(update []byte, origin string)) func() {
	return d.updates.Subscribe(func(u documentUpdate) { handler(u.bytes, u.origin) })
}

// Windows returns the replicated window-state map.
func (d *MemoryDocument) Windows() WindowMap { return d }

// Set authors a new op writing the window's state.
func (d *MemoryDocument) Set(state collab.SharedWindowState, origin string) {
	d.author(windowOp{WindowID: state.ID, State: state}, origin)
}

// Delete authors a new op removing the window.
func (d *MemoryDocument) Delete(windowID string, origin string) {
	d.author(windowOp{WindowID: windowID, Remove: true}, origin)
}

func (d *MemoryDocument) author(op windowOp, origin string) {
	if op.WindowID == "" {
		return
	}

	d.mu.Lock()
	d.seq++
	op.Actor = d.actor
	op.Seq = d.seq
	d.vector[d.actor] = d.seq
	d.log = append(d.log, op)
	change, changed := d.materializeLocked(op, origin)
	d.mu.Unlock()

	if changed {
		d.changes.Emit(change)
	}
	if data, err := codec.Marshal([]windowOp{op}); err == nil {
		d.updates.Emit(documentUpdate{bytes: data, origin: origin})
	}
}

// materializeLocked applies one op to the window map under LWW.
// Caller holds d.mu.
func (d *MemoryDocument) materializeLocked(op windowOp, origin string) (WindowChange, bool) {
	if !d.tags[op.WindowID].before(op) {
		return WindowChange{}, false
	}
	d.tags[op.WindowID] = opTag{seq: op.Seq, actor: op.Actor}

	if op.Remove {
		if _, exists := d.windows[op.WindowID]; !exists {
			return WindowChange{}, false
		}
		delete(d.windows, op.WindowID)
		return WindowChange{WindowID: op.WindowID, Removed: true, Origin: origin}, true
	}
	d.windows[op.WindowID] = op.State
	return WindowChange{WindowID: op.WindowID, State: op.State, Origin: origin}, true
}

// Get returns the current state of one window.
func (d *MemoryDocument) Get(windowID string) (collab.SharedWindowState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.windows[windowID]
	return state, ok
}

// All returns a snapshot of the window map.
func (d *MemoryDocument) All() map[string]collab.SharedWindowState {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := make(map[string]collab.SharedWindowState, len(d.windows))
	for id, state := range d.windows {
		snapshot[id] = state
	}
	return snapshot
}

// OnChange registers a handler for materialized window mutations.
func (d *MemoryDocument) OnChange(handler func(change WindowChange)) func() {
	return d.changes.Subscribe(handler)
}
