// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

package telnet

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/nyanstream/nyanstream/frame"
	"github.com/nyanstream/nyanstream/lib/clock"
	"github.com/nyanstream/nyanstream/lib/testutil"
	"github.com/nyanstream/nyanstream/stream"
)

const (
	testTick    = 90 * time.Millisecond
	testTimeout = 5 * time.Second
)

// testServer wires a fake-clock manager to a telnet server on an
// OS-assigned port and tears both down with the test.
type testServer struct {
	manager   *stream.Manager
	server    *Server
	fakeClock *clock.FakeClock
}

func startTestServer(t *testing.T, negotiationTimeout time.Duration) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	manager := stream.NewManager(stream.Config{
		Clock:        fakeClock,
		TickInterval: testTick,
		Logger:       logger,
	})
	server := NewServer(ServerConfig{
		Address:            "127.0.0.1:0",
		Manager:            manager,
		NegotiationTimeout: negotiationTimeout,
		Logger:             logger,
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

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ts.server.Addr().String())
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForSessions polls until the manager holds want sessions.
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

// readHandshake consumes the server's fixed option negotiation bytes.
func readHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	buf := make([]byte, len(handshake))
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("reading handshake: %v", err)
	}
}

// readFrame reads one delivered frame (height CRLF-terminated rows)
// and returns the rows with escape sequences stripped.
func readFrame(t *testing.T, reader *bufio.Reader, conn net.Conn, height int) []string {
	t.Helper()
	rows := make([]string, height)
	for i := range rows {
		rows[i] = readRow(t, reader, conn)
	}
	return rows
}

func nawsReport(width, height int) []byte {
	return []byte{
		iac, will, optNAWS,
		iac, sb, optNAWS, byte(width >> 8), byte(width), byte(height >> 8), byte(height), iac, se,
	}
}

func TestStreamingAfterWindowSizeReport(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t, testTimeout)
	conn := ts.dial(t)
	readHandshake(t, conn)

	if _, err := conn.Write(nawsReport(40, 10)); err != nil {
		t.Fatalf("sending NAWS: %v", err)
	}
	ts.waitForSessions(t, 1)

	ts.fakeClock.Advance(testTick)
	rows := readFrame(t, bufio.NewReader(conn), conn, 10)
	for i, row := range rows {
		if len(row) != 40 {
			t.Errorf("row %d: got %d cells, want 40", i, len(row))
		}
	}
}

func TestNegotiationTimeoutFallsBackToDefaultViewport(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t, 50*time.Millisecond)
	conn := ts.dial(t)
	readHandshake(t, conn)

	// Send nothing: the server must proceed with 80x24 once the
	// negotiation window lapses.
	ts.waitForSessions(t, 1)

	ts.fakeClock.Advance(testTick)
	rows := readFrame(t, bufio.NewReader(conn), conn, frame.DefaultViewport.Height)
	for i, row := range rows {
		if len(row) != frame.DefaultViewport.Width {
			t.Errorf("row %d: got %d cells, want %d", i, len(row), frame.DefaultViewport.Width)
		}
	}
}

func TestResizeMidStream(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t, testTimeout)
	conn := ts.dial(t)
	readHandshake(t, conn)
	reader := bufio.NewReader(conn)

	conn.Write(nawsReport(40, 10))
	ts.waitForSessions(t, 1)

	ts.fakeClock.Advance(testTick)
	readFrame(t, reader, conn, 10)

	// The resize lands asynchronously once the server's reader
	// goroutine decodes the subnegotiation; frames keep the old
	// size until then and the new one from the following tick.
	conn.Write(nawsReport(60, 5))
	for attempt := 0; ; attempt++ {
		if attempt >= 20 {
			t.Fatal("resize never took effect")
		}
		ts.fakeClock.Advance(testTick)
		first := readRow(t, reader, conn)
		if len(first) == 40 {
			readFrame(t, reader, conn, 9) // rest of an old-size frame
			continue
		}
		if len(first) != 60 {
			t.Fatalf("post-resize row width: got %d, want 60", len(first))
		}
		for i := range 4 {
			if row := readRow(t, reader, conn); len(row) != 60 {
				t.Errorf("post-resize row %d: got %d cells, want 60", i+1, len(row))
			}
		}
		return
	}
}

func TestResizePackedWithInitialReport(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t, testTimeout)
	conn := ts.dial(t)
	readHandshake(t, conn)
	reader := bufio.NewReader(conn)

	// Two size reports in one segment: the second must win, whether
	// it lands during negotiation or in the streaming reader.
	conn.Write(append(nawsReport(40, 10), nawsReport(60, 5)...))
	ts.waitForSessions(t, 1)

	for attempt := 0; ; attempt++ {
		if attempt >= 20 {
			t.Fatal("second size report never took effect")
		}
		ts.fakeClock.Advance(testTick)
		first := readRow(t, reader, conn)
		if len(first) == 40 {
			readFrame(t, reader, conn, 9)
			continue
		}
		if len(first) != 60 {
			t.Fatalf("row width: got %d, want 60", len(first))
		}
		for i := range 4 {
			if row := readRow(t, reader, conn); len(row) != 60 {
				t.Errorf("row %d: got %d cells, want 60", i+1, len(row))
			}
		}
		return
	}
}

// readRow reads one CRLF-terminated row and strips escape sequences.
func readRow(t *testing.T, reader *bufio.Reader, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading row: %v", err)
	}
	return ansi.Strip(strings.TrimSuffix(line, "\r\n"))
}

func TestClientDisconnectTearsDownSession(t *testing.T) {
	t.Parallel()

	ts := startTestServer(t, testTimeout)
	conn := ts.dial(t)
	readHandshake(t, conn)
	conn.Write(nawsReport(40, 10))
	ts.waitForSessions(t, 1)

	conn.Close()
	ts.waitForSessions(t, 0)
}
