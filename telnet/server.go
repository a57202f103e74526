// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package telnet streams the animation to telnet clients.
//
// Each connection walks a fixed state machine: Connecting (accept and
// send the option handshake), Negotiating (bounded wait for the
// client's window-size report), Streaming (session registered, frames
// flowing, resizes applied live), Closed. Negotiation never blocks
// forever: on timeout the default viewport applies and streaming
// starts anyway.
package telnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/nyanstream/nyanstream/frame"
	"github.com/nyanstream/nyanstream/lib/netutil"
	"github.com/nyanstream/nyanstream/stream"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the TCP listen address (e.g., ":2323"). Required.
	Address string

	// Manager receives the per-connection sessions. Required.
	Manager *stream.Manager

	// FrameLimit bounds frames delivered per session; zero means
	// unlimited.
	FrameLimit uint64

	// NegotiationTimeout bounds the Negotiating state. Defaults to
	// 500ms if zero.
	NegotiationTimeout time.Duration

	// WriteTimeout bounds a single frame write. Defaults to 2s if
	// zero.
	WriteTimeout time.Duration

	// ClearScreen prefixes every frame with a full screen erase.
	ClearScreen bool

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Server accepts telnet connections and streams frames to each.
type Server struct {
	address            string
	manager            *stream.Manager
	frameLimit         uint64
	negotiationTimeout time.Duration
	writeTimeout       time.Duration
	clearScreen        bool
	logger             *slog.Logger

	// ready is closed after the listener is bound and the server is
	// accepting connections.
	ready chan struct{}

	// addr is the resolved listen address, available after ready is
	// closed. Useful when Address uses port 0.
	addr net.Addr
}

// NewServer creates a telnet server. Call Serve to start accepting
// connections. Panics if a required field is missing.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		panic("telnet.Server: Address is required")
	}
	if config.Manager == nil {
		panic("telnet.Server: Manager is required")
	}
	if config.Logger == nil {
		panic("telnet.Server: Logger is required")
	}

	negotiationTimeout := config.NegotiationTimeout
	if negotiationTimeout == 0 {
		negotiationTimeout = 500 * time.Millisecond
	}
	writeTimeout := config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 2 * time.Second
	}

	return &Server{
		address:            config.Address,
		manager:            config.Manager,
		frameLimit:         config.FrameLimit,
		negotiationTimeout: negotiationTimeout,
		writeTimeout:       writeTimeout,
		clearScreen:        config.ClearScreen,
		logger:             config.Logger,
		ready:              make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound and
// accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve accepts connections until ctx is cancelled, then waits for
// per-connection goroutines to wind down. A failed bind is the only
// fatal error.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("telnet server listening", "address", s.addr.String())

	var connections sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		connections.Add(1)
		go func() {
			defer connections.Done()
			s.handle(ctx, conn)
		}()
	}

	connections.Wait()
	return nil
}

// handle owns one connection from accept to close.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	logger := s.logger.With("peer", peer)
	logger.Info("telnet client connected")

	// Connecting: claim echo and go-ahead, request window size.
	if _, err := conn.Write(handshake); err != nil {
		logger.Debug("handshake write failed", "error", err)
		return
	}

	// Negotiating: bounded wait for a NAWS report. Timeout or junk
	// falls back to the default viewport — negotiation failure is
	// not fatal.
	dec := &decoder{}
	viewport, err := s.negotiate(conn, dec)
	if err != nil {
		if !netutil.IsExpectedCloseError(err) {
			logger.Debug("negotiation read failed", "error", err)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			viewport = frame.DefaultViewport
		} else {
			return
		}
	}
	logger.Info("telnet client streaming", "viewport", viewport.String())

	// Streaming: register the session and keep reading so live
	// window resizes keep working and a client close is noticed.
	sink := &connSink{
		conn:         conn,
		writeTimeout: s.writeTimeout,
		clearScreen:  s.clearScreen,
	}
	id := s.manager.Register(sink, viewport, s.frameLimit)
	defer s.manager.Disconnect(id)

	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			// Closed: peer FIN, I/O error, or our own sink
			// teardown closing the socket under this read.
			if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
				logger.Debug("read failed", "error", err)
			}
			return
		}
		for _, b := range buf[:n] {
			if vp, ok := dec.feed(b); ok {
				s.manager.Resize(id, vp)
			}
		}
	}
}

// negotiate reads until the decoder yields a NAWS viewport or the
// negotiation deadline passes. The returned viewport is already
// clamped.
func (s *Server) negotiate(conn net.Conn, dec *decoder) (frame.Viewport, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.negotiationTimeout)); err != nil {
		return frame.Viewport{}, err
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return frame.Viewport{}, err
		}
		// A client may pack several size reports into one segment;
		// the last one wins, the same as the streaming loop.
		var viewport frame.Viewport
		reported := false
		for _, b := range buf[:n] {
			if vp, ok := dec.feed(b); ok {
				viewport = vp
				reported = true
			}
		}
		if reported {
			return viewport.Clamp(), nil
		}
	}
}

// connSink writes frames to the raw connection as a cursor-home (and
// optional screen erase) followed by the colored rows.
type connSink struct {
	conn         net.Conn
	writeTimeout time.Duration
	clearScreen  bool
}

func (c *connSink) Deliver(f frame.Frame) error {
	prefix := ansi.CursorPosition(1, 1)
	if c.clearScreen {
		// ED 2: erase the whole screen before the redraw.
		prefix = ansi.EraseDisplay(2) + ansi.CursorPosition(1, 1)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(prefix + f.Text() + "\r\n"))
	return err
}

func (c *connSink) Close() error { return c.conn.Close() }
