// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream drives the shared animation heartbeat and fans frames
// out to every live session.
//
// One Manager owns the session set and the single tick source. Every
// session observes the same frame index progression, so simultaneously
// connected clients stay visually in sync; per-session state is only
// the viewport, the delivery count, and the frame budget. Transport
// adapters own their connections and relay events (register, resize,
// disconnect) to the Manager; the Manager is the single writer of
// session liveness and counters.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nyanstream/nyanstream/frame"
	"github.com/nyanstream/nyanstream/lib/clock"
	"github.com/nyanstream/nyanstream/lib/netutil"
)

// SessionID identifies one registered session. IDs are never reused.
type SessionID uint64

// Sink delivers rendered frames to one consumer. Implementations own
// the underlying connection and must bound Deliver with a write
// deadline so a stalled client cannot hold up the tick for others.
//
// Deliver is never called concurrently for the same Sink. Close may
// race with Deliver and must be safe to call more than once.
type Sink interface {
	Deliver(f frame.Frame) error
	Close() error
}

// Config configures a Manager.
type Config struct {
	// Clock is the time source. Required.
	Clock clock.Clock

	// TickInterval is the animation heartbeat. Required.
	TickInterval time.Duration

	// ShowCounter enables the elapsed counter row on rendered
	// frames.
	ShowCounter bool

	// StopWhenIdle makes Run return once at least one session has
	// been registered and the set becomes empty again. Local mode
	// uses this to exit after its single session reaches the frame
	// budget; server modes leave it false and keep ticking for
	// future connections.
	StopWhenIdle bool

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Manager owns the session set and renders one frame per live session
// per tick.
type Manager struct {
	clock        clock.Clock
	tickInterval time.Duration
	showCounter  bool
	stopWhenIdle bool
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[SessionID]*session
	nextID   SessionID
	everHad  bool
}

// session is the Manager-owned per-consumer state. All fields are
// guarded by Manager.mu.
type session struct {
	id         SessionID
	sink       Sink
	viewport   frame.Viewport
	framesSent uint64
	frameLimit uint64 // 0 means unlimited
}

// NewManager creates a Manager. Panics if a required field is missing,
// matching the constructor contract of the server types.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		panic("stream.Manager: Clock is required")
	}
	if cfg.TickInterval <= 0 {
		panic("stream.Manager: TickInterval must be positive")
	}
	if cfg.Logger == nil {
		panic("stream.Manager: Logger is required")
	}
	return &Manager{
		clock:        cfg.Clock,
		tickInterval: cfg.TickInterval,
		showCounter:  cfg.ShowCounter,
		stopWhenIdle: cfg.StopWhenIdle,
		logger:       cfg.Logger,
		sessions:     make(map[SessionID]*session),
	}
}

// Register adds a session delivering to sink at the given viewport.
// frameLimit bounds the number of frames the session receives; zero
// means unlimited. The viewport is clamped, never rejected.
func (m *Manager) Register(sink Sink, vp frame.Viewport, frameLimit uint64) SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.sessions[id] = &session{
		id:         id,
		sink:       sink,
		viewport:   vp.Clamp(),
		frameLimit: frameLimit,
	}
	m.everHad = true
	m.logger.Info("session registered", "session", id, "viewport", vp.Clamp().String(), "frame_limit", frameLimit)
	return id
}

// Resize updates a session's viewport. The new size applies from the
// next tick; a frame already being delivered is unaffected. Unknown
// sessions are ignored (the session may have been torn down
// concurrently).
func (m *Manager) Resize(id SessionID, vp frame.Viewport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.viewport = vp.Clamp()
	m.logger.Debug("session resized", "session", id, "viewport", s.viewport.String())
}

// Disconnect removes a session and closes its sink. Safe to call for
// an already-removed session.
func (m *Manager) Disconnect(id SessionID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		s.sink.Close()
		m.logger.Info("session disconnected", "session", id, "frames_sent", s.framesSent)
	}
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run drives the tick loop until ctx is cancelled (or, with
// StopWhenIdle, until the session set drains). All remaining sinks are
// closed on return.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.tickInterval)
	defer ticker.Stop()

	var index uint64
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case <-ticker.C:
			m.tick(index)
			index++
			if m.stopWhenIdle && m.drained() {
				return nil
			}
		}
	}
}

// delivery is the per-session snapshot a tick works from. Snapshotting
// under the lock and delivering outside it keeps slow writes from
// blocking registration, resizes, and disconnects.
type delivery struct {
	id       SessionID
	sink     Sink
	viewport frame.Viewport
}

// tick renders and delivers frame index to every live session. Each
// session is rendered and written on its own goroutine: rendering is
// pure so it parallelizes freely, and a sink blocked in a bounded
// write cannot delay its neighbors. Each session sees each index at
// most once.
func (m *Manager) tick(index uint64) {
	m.mu.Lock()
	deliveries := make([]delivery, 0, len(m.sessions))
	for _, s := range m.sessions {
		deliveries = append(deliveries, delivery{id: s.id, sink: s.sink, viewport: s.viewport})
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := frame.Render(index, d.viewport, m.showCounter)
			if err := d.sink.Deliver(f); err != nil {
				m.deliveryFailed(d.id, err)
				return
			}
			m.recordDelivered(d.id)
		}()
	}
	wg.Wait()
}

// recordDelivered counts a successful delivery and retires the session
// once its frame budget is spent.
func (m *Manager) recordDelivered(id SessionID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.framesSent++
	exhausted := s.frameLimit > 0 && s.framesSent >= s.frameLimit
	if exhausted {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if exhausted {
		s.sink.Close()
		m.logger.Info("session frame budget exhausted", "session", id, "frames_sent", s.framesSent)
	}
}

// deliveryFailed tears down a session whose sink reported a write
// error. Expected teardown errors (peer went away) log at debug.
func (m *Manager) deliveryFailed(id SessionID, err error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.sink.Close()
	if netutil.IsExpectedCloseError(err) {
		m.logger.Debug("session closed by peer", "session", id, "frames_sent", s.framesSent)
	} else {
		m.logger.Warn("frame delivery failed", "session", id, "error", err)
	}
}

// drained reports whether at least one session was ever registered and
// none remain.
func (m *Manager) drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.everHad && len(m.sessions) == 0
}

// closeAll closes every remaining sink during shutdown.
func (m *Manager) closeAll() {
	m.mu.Lock()
	remaining := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.sessions = make(map[SessionID]*session)
	m.mu.Unlock()

	for _, s := range remaining {
		s.sink.Close()
	}
}
