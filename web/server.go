// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package web streams the animation over a websocket control protocol
// and serves the static page that opens it.
//
// The control protocol is three JSON message codes over UTF-8 text
// frames:
//
//	server → client  {"code":0}                       ready; viewport unknown
//	client → server  {"code":1,"width":W,"height":H}  viewport announce or resize
//	server → client  {"code":1,"frame":"..."}         one rendered frame
//	server → client  {"code":2}                       protocol error; connection closes
//
// The first code-1 from the client registers the session; every later
// one is a resize. Anything unparseable earns a code-2 and a close —
// never a crash, and never any effect on other sessions.
package web

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nyanstream/nyanstream/frame"
	"github.com/nyanstream/nyanstream/lib/netutil"
	"github.com/nyanstream/nyanstream/stream"
)

//go:embed index.html
var indexPage []byte

// message is the wire envelope for every direction of the control
// protocol.
type message struct {
	Code   int    `json:"code"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Frame  string `json:"frame,omitempty"`
}

// Control protocol codes.
const (
	codeReady = 0
	codeFrame = 1 // doubles as the client's viewport announce
	codeError = 2
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the TCP listen address (e.g., ":3000"). Required.
	Address string

	// Manager receives the per-socket sessions. Required.
	Manager *stream.Manager

	// FrameLimit bounds frames delivered per session; zero means
	// unlimited.
	FrameLimit uint64

	// WriteTimeout bounds a single websocket write. Defaults to 2s
	// if zero.
	WriteTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown. Defaults to 10 seconds if
	// zero.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Server serves the static page on / and the frame stream on /ws.
type Server struct {
	address         string
	manager         *stream.Manager
	frameLimit      uint64
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	upgrader        websocket.Upgrader

	// ready is closed after the listener is bound and the server is
	// accepting connections.
	ready chan struct{}

	// addr is the resolved listen address, available after ready is
	// closed.
	addr net.Addr
}

// NewServer creates an HTTP server. Call Serve to start accepting
// connections. Panics if a required field is missing.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		panic("web.Server: Address is required")
	}
	if config.Manager == nil {
		panic("web.Server: Manager is required")
	}
	if config.Logger == nil {
		panic("web.Server: Logger is required")
	}

	writeTimeout := config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 2 * time.Second
	}
	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		address:         config.Address,
		manager:         config.Manager,
		frameLimit:      config.FrameLimit,
		writeTimeout:    writeTimeout,
		shutdownTimeout: shutdownTimeout,
		logger:          config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
		},
		ready: make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the server is bound and
// accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve starts accepting HTTP connections. Blocks until ctx is
// cancelled, then performs graceful shutdown. A failed bind is the
// only fatal error.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleSocket)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		// Websocket connections outlive Shutdown's patience; a
		// hard close is fine, their sessions tear down on the
		// read error.
		server.Close()
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage)
}

// handleSocket owns one websocket connection: ready message, session
// registration on the first viewport announce, resizes thereafter,
// teardown on close or protocol error.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Debug("websocket upgrade failed", "peer", r.RemoteAddr, "error", err)
		return
	}

	logger := s.logger.With("peer", r.RemoteAddr)
	logger.Info("websocket client connected")

	sink := &socketSink{conn: conn, writeTimeout: s.writeTimeout}
	defer sink.Close()

	// Ready: the server does not yet know the viewport.
	if err := sink.write(message{Code: codeReady}); err != nil {
		logger.Debug("ready message failed", "error", err)
		return
	}

	var id stream.SessionID
	registered := false
	defer func() {
		if registered {
			s.manager.Disconnect(id)
		}
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if isSocketClosed(err) {
				logger.Debug("websocket closed", "error", err)
				return
			}
			// Malformed payload: code 2, then close. The
			// deferred teardown affects only this session.
			logger.Debug("malformed websocket message", "error", err)
			sink.write(message{Code: codeError})
			return
		}

		if msg.Code != codeFrame {
			logger.Debug("unexpected message code", "code", msg.Code)
			sink.write(message{Code: codeError})
			return
		}

		viewport := frame.Viewport{Width: msg.Width, Height: msg.Height}
		if registered {
			s.manager.Resize(id, viewport)
			continue
		}
		id = s.manager.Register(sink, viewport, s.frameLimit)
		registered = true
	}
}

// isSocketClosed reports whether a read error means the peer is gone
// rather than that it sent garbage.
func isSocketClosed(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) || netutil.IsExpectedCloseError(err)
}

// socketSink delivers frames as code-1 JSON messages. The websocket
// permits one concurrent writer, so the ready/error messages from the
// read loop and frame deliveries from the manager share a mutex.
type socketSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func (s *socketSink) Deliver(f frame.Frame) error {
	return s.write(message{Code: codeFrame, Frame: f.Text()})
}

func (s *socketSink) write(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *socketSink) Close() error {
	s.closeOnce.Do(func() { s.conn.Close() })
	return nil
}
