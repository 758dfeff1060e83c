// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edsonmartins/archbase-collab/lib/clock"
	"github.com/edsonmartins/archbase-collab/lib/testutil"
	"github.com/edsonmartins/archbase-collab/wire"
)

// relayServer is a minimal hub endpoint: it upgrades every request and
// hands the resulting connections (and their query parameters) to the
// test over channels. While rejecting is set, requests are refused
// before the upgrade, which makes dial attempts fail.
type relayServer struct {
	*httptest.Server
	conns     chan *websocket.Conn
	queries   chan url.Values
	rejecting atomic.Bool
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	server := &relayServer{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan url.Values, 4),
	}
	upgrader := websocket.Upgrader{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if server.rejecting.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		server.queries <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server.conns <- conn
	}))
	t.Cleanup(server.Close)
	return server
}

func (s *relayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRelayConnectSendsSessionParams(t *testing.T) {
	server := newRelayServer(t)
	relay := NewRelay(clock.Real(), testLogger())
	defer relay.Disconnect()

	if err := relay.Connect(context.Background(), server.wsURL(), "design-review", "maria"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	query := testutil.RequireReceive(t, server.queries, time.Second, "handshake query")
	if got := query.Get("room"); got != "design-review" {
		t.Errorf("room = %q, want %q", got, "design-review")
	}
	if got := query.Get("user"); got != "maria" {
		t.Errorf("user = %q, want %q", got, "maria")
	}
	if query.Has("mode") {
		t.Errorf("relay handshake carries mode=%q, want none", query.Get("mode"))
	}
	if !relay.Connected() {
		t.Error("Connected() = false after successful Connect")
	}
}

func TestRelaySendAndReceive(t *testing.T) {
	server := newRelayServer(t)
	relay := NewRelay(clock.Real(), testLogger())
	defer relay.Disconnect()

	received := make(chan *wire.Message, 4)
	relay.OnMessage(func(m *wire.Message) { received <- m })

	if err := relay.Connect(context.Background(), server.wsURL(), "room-1", "alice"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := testutil.RequireReceive(t, server.conns, time.Second, "server connection")

	relay.Send(&wire.Message{
		Type:     wire.TypeSyncDelta,
		RoomID:   "room-1",
		SenderID: "alice",
		Binary:   []byte{0x01, 0x02, 0x03},
	})
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	sent, err := wire.DecodeRelay(data)
	if err != nil {
		t.Fatalf("decoding client frame: %v", err)
	}
	if sent.Type != wire.TypeSyncDelta || string(sent.Binary) != "\x01\x02\x03" {
		t.Errorf("server saw %+v, want sync-delta with original bytes", sent)
	}

	inbound, err := wire.EncodeRelay(&wire.Message{
		Type:     wire.TypeAwarenessUpdate,
		RoomID:   "room-1",
		SenderID: "bob",
		Payload:  map[string]any{"cursor": map[string]any{"x": 10.0, "y": 20.0}},
	})
	if err != nil {
		t.Fatalf("encoding server frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, inbound); err != nil {
		t.Fatalf("server write failed: %v", err)
	}

	message := testutil.RequireReceive(t, received, time.Second, "relayed message")
	if message.Type != wire.TypeAwarenessUpdate || message.SenderID != "bob" {
		t.Errorf("received %+v, want awareness-update from bob", message)
	}
}

func TestRelayDropsMalformedFrames(t *testing.T) {
	server := newRelayServer(t)
	relay := NewRelay(clock.Real(), testLogger())
	defer relay.Disconnect()

	received := make(chan *wire.Message, 4)
	relay.OnMessage(func(m *wire.Message) { received <- m })

	if err := relay.Connect(context.Background(), server.wsURL(), "room-1", "alice"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := testutil.RequireReceive(t, server.conns, time.Second, "server connection")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
	valid, err := wire.EncodeRelay(&wire.Message{Type: wire.TypeRoomInfo, RoomID: "room-1"})
	if err != nil {
		t.Fatalf("encoding frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, valid); err != nil {
		t.Fatalf("server write failed: %v", err)
	}

	// The malformed frame is dropped; only the valid one arrives.
	message := testutil.RequireReceive(t, received, time.Second, "valid frame after garbage")
	if message.Type != wire.TypeRoomInfo {
		t.Errorf("received type %v, want room-info", message.Type)
	}
	testutil.RequireNoReceive(t, received, 50*time.Millisecond, "no message for the malformed frame")
}

func TestRelayDisconnectEmitsEventAndStopsReconnect(t *testing.T) {
	server := newRelayServer(t)
	clk := clock.Fake(time.Unix(1000, 0))
	relay := NewRelay(clk, testLogger())

	disconnected := make(chan struct{}, 4)
	relay.OnDisconnect(func() { disconnected <- struct{}{} })

	if err := relay.Connect(context.Background(), server.wsURL(), "room-1", "alice"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	relay.Disconnect()
	testutil.RequireReceive(t, disconnected, time.Second, "disconnect event")
	if relay.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if n := clk.PendingCount(); n != 0 {
		t.Errorf("%d reconnect timers pending after intentional disconnect, want 0", n)
	}

	// Repeated Disconnect is a no-op.
	relay.Disconnect()
	testutil.RequireNoReceive(t, disconnected, 50*time.Millisecond, "no second disconnect event")
}

func TestRelayReconnectsAfterConnectionLoss(t *testing.T) {
	server := newRelayServer(t)
	clk := clock.Fake(time.Unix(1000, 0))
	relay := NewRelay(clk, testLogger())
	defer relay.Disconnect()

	disconnected := make(chan struct{}, 4)
	relay.OnDisconnect(func() { disconnected <- struct{}{} })

	if err := relay.Connect(context.Background(), server.wsURL(), "room-1", "alice"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := testutil.RequireReceive(t, server.conns, time.Second, "first connection")

	// Server-side close breaks the read loop; the hub refuses the
	// first reconnect attempt so the backoff escalates.
	server.rejecting.Store(true)
	conn.Close()
	testutil.RequireReceive(t, disconnected, time.Second, "disconnect event after connection loss")

	// The first attempt is due 1s out. It fails, which doubles the
	// next delay: advancing 1s more fires nothing.
	clk.WaitForTimers(1)
	clk.Advance(initialReconnectDelay)
	server.rejecting.Store(false)
	clk.Advance(initialReconnectDelay)
	testutil.RequireNoReceive(t, server.conns, 50*time.Millisecond, "no reconnect before the doubled delay elapses")

	clk.Advance(initialReconnectDelay)
	conn = testutil.RequireReceive(t, server.conns, time.Second, "reconnected connection")
	testutil.RequireReceive(t, server.queries, time.Second, "first handshake query")
	query := testutil.RequireReceive(t, server.queries, time.Second, "reconnect handshake query")
	if got := query.Get("room"); got != "room-1" {
		t.Errorf("reconnect room = %q, want %q", got, "room-1")
	}

	waitConnected(t, relay)

	// The successful reconnect reset the backoff: after a second loss
	// the next attempt is due at the initial delay again, not the
	// escalated one.
	conn.Close()
	testutil.RequireReceive(t, disconnected, time.Second, "disconnect event after second loss")
	clk.WaitForTimers(1)
	clk.Advance(initialReconnectDelay)
	testutil.RequireReceive(t, server.conns, time.Second, "second reconnect after the initial delay")
	waitConnected(t, relay)
}

// waitConnected polls until the relay reports connected; the read loop
// hand-off after a reconnect is asynchronous.
func waitConnected(t *testing.T, relay *Relay) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !relay.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("relay never reported connected after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelaySendWhileDisconnectedDrops(t *testing.T) {
	relay := NewRelay(clock.Real(), testLogger())
	// Must not panic or block.
	relay.Send(&wire.Message{Type: wire.TypeAwarenessUpdate, RoomID: "room-1"})
}

func TestRelayConnectFailureReturnsError(t *testing.T) {
	relay := NewRelay(clock.Real(), testLogger())
	err := relay.Connect(context.Background(), "ws://127.0.0.1:1/ws", "room-1", "alice")
	if err == nil {
		t.Fatal("Connect to dead endpoint succeeded, want error")
	}
	if relay.Connected() {
		t.Error("Connected() = true after failed Connect")
	}
}
