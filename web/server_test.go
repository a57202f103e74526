// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/gorilla/websocket"

	"github.com/nyanstream/nyanstream/lib/clock"
	"github.com/nyanstream/nyanstream/lib/testutil"
	"github.com/nyanstream/nyanstream/stream"
)

const (
	testTick    = 90 * time.Millisecond
	testTimeout = 5 * time.Second
)

type testServer struct {
	manager   *stream.Manager
	server    *Server
	fakeClock *clock.FakeClock
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	manager := stream.NewManager(stream.Config{
		Clock:        fakeClock,
		TickInterval: testTick,
		Logger:       logger,
	})
	server := NewServer(ServerConfig{
		Address: "127.0.0.1:0",
		Manager: manager,
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	managerDone := make(chan error, 1)
	serverDone := make(chan error, 1)
	go func() { managerDone <- manager.Run(ctx) }()
	go func() { serverDone <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, managerDone, testTimeout, "manager shutdown")
		testutil.RequireReceive(t, serverDone, testTimeout, "server shutdown")
	})

	testutil.RequireClosed(t, server.Ready(), testTimeout, "server ready")
	return &testServer{manager: manager, server: server, fakeClock: fakeClock}
}

// dialSocket connects a websocket client and consumes the ready
// message.
func (ts *testServer) dialSocket(t *testing.T) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", ts.server.Addr())
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	ready := readMessage(t, conn)
	if ready.Code != codeReady {
		t.Fatalf("first message: got code %d, want %d", ready.Code, codeReady)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return msg
}

func announce(t *testing.T, conn *websocket.Conn, width, height int) {
	t.Helper()
	if err := conn.WriteJSON(message{Code: codeFrame, Width: width, Height: height}); err != nil {
		t.Fatalf("sending viewport announce: %v", err)
	}
}

func (ts *testServer) waitForSessions(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for ts.manager.SessionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sessions, have %d", want, ts.manager.SessionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// frameRows splits a code-1 payload into rows with escape sequences
// stripped.
func frameRows(t *testing.T, msg message) []string {
	t.Helper()
	if msg.Code != codeFrame {
		t.Fatalf("got code %d, want %d", msg.Code, codeFrame)
	}
	rows := strings.Split(msg.Frame, "\r\n")
	for i, row := range rows {
		rows[i] = ansi.Strip(row)
	}
	return rows
}

func TestFrameAtAnnouncedSize(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dialSocket(t)

	announce(t, conn, 40, 10)
	ts.waitForSessions(t, 1)

	ts.fakeClock.Advance(testTick)
	rows := frameRows(t, readMessage(t, conn))
	if len(rows) != 10 {
		t.Fatalf("frame height: got %d rows, want 10", len(rows))
	}
	for i, row := range rows {
		if len(row) != 40 {
			t.Errorf("row %d: got %d cells, want 40", i, len(row))
		}
	}
}

func TestSecondAnnounceResizes(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dialSocket(t)

	announce(t, conn, 40, 10)
	ts.waitForSessions(t, 1)
	ts.fakeClock.Advance(testTick)
	readMessage(t, conn)

	announce(t, conn, 60, 5)
	for attempt := 0; ; attempt++ {
		if attempt >= 20 {
			t.Fatal("resize never took effect")
		}
		ts.fakeClock.Advance(testTick)
		rows := frameRows(t, readMessage(t, conn))
		if len(rows) == 10 {
			continue // resize not yet applied
		}
		if len(rows) != 5 || len(rows[0]) != 60 {
			t.Fatalf("post-resize frame: got %dx%d, want 60x5", len(rows[0]), len(rows))
		}
		return
	}
}

func TestInvalidViewportClampedToDefault(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dialSocket(t)

	announce(t, conn, 0, -4)
	ts.waitForSessions(t, 1)

	ts.fakeClock.Advance(testTick)
	rows := frameRows(t, readMessage(t, conn))
	if len(rows) != 24 || len(rows[0]) != 80 {
		t.Errorf("clamped frame: got %dx%d, want 80x24", len(rows[0]), len(rows))
	}
}

func TestMalformedJSONGetsErrorAndClose(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)

	// An unaffected bystander session.
	bystander := ts.dialSocket(t)
	announce(t, bystander, 40, 10)
	ts.waitForSessions(t, 1)

	offender := ts.dialSocket(t)
	if err := offender.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("sending malformed payload: %v", err)
	}

	reply := readMessage(t, offender)
	if reply.Code != codeError {
		t.Errorf("reply to malformed payload: got code %d, want %d", reply.Code, codeError)
	}
	offender.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := offender.ReadMessage(); err == nil {
		t.Error("connection still open after protocol error")
	}

	// The bystander keeps streaming.
	ts.fakeClock.Advance(testTick)
	rows := frameRows(t, readMessage(t, bystander))
	if len(rows) != 10 {
		t.Errorf("bystander frame height: got %d, want 10", len(rows))
	}
}

func TestUnknownCodeGetsError(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dialSocket(t)

	if err := conn.WriteJSON(message{Code: 7}); err != nil {
		t.Fatalf("sending unknown code: %v", err)
	}
	if reply := readMessage(t, conn); reply.Code != codeError {
		t.Errorf("reply to unknown code: got %d, want %d", reply.Code, codeError)
	}
}

func TestSocketCloseTearsDownSession(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)
	conn := ts.dialSocket(t)
	announce(t, conn, 40, 10)
	ts.waitForSessions(t, 1)

	conn.Close()
	ts.waitForSessions(t, 0)
}

func TestIndexPage(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/", ts.server.Addr()))
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /: got status %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("content type: got %q, want text/html", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "/ws") {
		t.Error("index page does not reference the websocket endpoint")
	}

	// Unknown paths 404 rather than serving the page.
	notFound, err := http.Get(fmt.Sprintf("http://%s/other", ts.server.Addr()))
	if err != nil {
		t.Fatalf("GET /other: %v", err)
	}
	notFound.Body.Close()
	if notFound.StatusCode != http.StatusNotFound {
		t.Errorf("GET /other: got status %d, want 404", notFound.StatusCode)
	}
}
