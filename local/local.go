// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package local renders the animation straight to the host terminal.
//
// Local mode is a single session fed by the same Manager tick loop the
// network modes use: the viewport comes from the terminal size
// (refreshed on SIGWINCH), frames go to stdout, and the optional
// global frame budget ends the run with a clean exit.
package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/nyanstream/nyanstream/frame"
	"github.com/nyanstream/nyanstream/stream"
)

// Config configures a local run.
type Config struct {
	// Manager drives the session. It should be configured with
	// StopWhenIdle so the run ends when the frame budget is spent.
	// Required.
	Manager *stream.Manager

	// FrameLimit bounds the run; zero streams until interrupted.
	FrameLimit uint64

	// ClearScreen erases the terminal once before the first frame.
	ClearScreen bool

	// Input is the key source for quit handling. Defaults to
	// os.Stdin.
	Input io.Reader

	// Output receives frames. Defaults to os.Stdout.
	Output *os.File

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// Run streams to the terminal until the frame budget is spent, a quit
// key is pressed, or ctx is cancelled. The terminal is restored on
// return.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Manager == nil {
		panic("local.Run: Manager is required")
	}
	if cfg.Logger == nil {
		panic("local.Run: Logger is required")
	}
	input := cfg.Input
	if input == nil {
		input = os.Stdin
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	viewport := frame.DefaultViewport
	fd := int(output.Fd())
	interactive := term.IsTerminal(fd)

	out := termenv.NewOutput(output)
	if interactive {
		if width, height, err := term.GetSize(fd); err == nil {
			viewport = frame.Viewport{Width: width, Height: height}.Clamp()
		}

		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			defer term.Restore(int(os.Stdin.Fd()), oldState)
		}

		out.AltScreen()
		out.HideCursor()
		defer func() {
			out.ShowCursor()
			out.ExitAltScreen()
		}()
	}
	if cfg.ClearScreen {
		out.ClearScreen()
	}

	id := cfg.Manager.Register(&consoleSink{writer: output}, viewport, cfg.FrameLimit)
	defer cfg.Manager.Disconnect(id)

	if interactive {
		go watchResize(ctx, cfg.Manager, id, fd)
	}
	go watchQuit(ctx, cancel, input, cfg.Logger)

	return cfg.Manager.Run(ctx)
}

// watchResize forwards SIGWINCH into viewport updates.
func watchResize(ctx context.Context, manager *stream.Manager, id stream.SessionID, fd int) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			if width, height, err := term.GetSize(fd); err == nil {
				manager.Resize(id, frame.Viewport{Width: width, Height: height})
			}
		}
	}
}

// watchQuit cancels the run on q, Escape, or Ctrl-C. In raw mode the
// terminal delivers Ctrl-C as a plain byte rather than SIGINT, so it
// is handled here alongside the letter keys.
func watchQuit(ctx context.Context, cancel context.CancelFunc, input io.Reader, logger *slog.Logger) {
	buf := make([]byte, 32)
	for {
		n, err := input.Read(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				logger.Debug("input read failed", "error", err)
			}
			return
		}
		for _, b := range buf[:n] {
			if isQuitKey(b) {
				cancel()
				return
			}
		}
	}
}

func isQuitKey(b byte) bool {
	switch b {
	case 'q', 'Q', 0x1b /* Escape */, 0x03 /* Ctrl-C */ :
		return true
	}
	return false
}

// consoleSink writes each frame from the home position. The screen is
// not erased per frame: every cell of the viewport is rewritten, so
// homing the cursor is enough and avoids flicker.
type consoleSink struct {
	writer io.Writer
}

func (c *consoleSink) Deliver(f frame.Frame) error {
	_, err := io.WriteString(c.writer, ansi.CursorPosition(1, 1)+f.Text()+"\r\n")
	return err
}

func (c *consoleSink) Close() error { return nil }
