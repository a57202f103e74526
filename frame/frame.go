// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame renders the nyancat animation as ANSI-colored text.
//
// Rendering is a pure function of (index, viewport, counter flag):
// there is no hidden state, so the same inputs always produce
// byte-identical output and concurrent renders need no locking. The
// shared animation phase that keeps simultaneously connected clients
// in sync is carried entirely by the frame index the caller supplies.
package frame

import (
	"fmt"
	"strings"
	"time"
)

// DefaultViewport applies when a transport cannot determine the
// client's real dimensions.
var DefaultViewport = Viewport{Width: 80, Height: 24}

// NominalTickInterval is the cadence the animation is designed for.
// The counter converts a frame index to elapsed animation time at this
// rate; a caller ticking at a different interval still gets a
// deterministic counter, just one that reports animation time rather
// than wall time.
const NominalTickInterval = 90 * time.Millisecond

// Period is the full animation cycle in ticks: content at index i
// equals content at i+Period (the lcm of the two cat poses, the
// six-color phase rotation, and the 32-tick starfield drift).
const Period = 96

// Viewport is the width and height a client's display occupies.
type Viewport struct {
	Width  int
	Height int
}

// Valid reports whether both dimensions are positive.
func (v Viewport) Valid() bool { return v.Width > 0 && v.Height > 0 }

// Clamp returns v unchanged when valid, and DefaultViewport otherwise.
// Transports apply this before a viewport ever reaches Render, so a
// zero or negative dimension from a client is corrected, never fatal.
func (v Viewport) Clamp() Viewport {
	if !v.Valid() {
		return DefaultViewport
	}
	return v
}

func (v Viewport) String() string { return fmt.Sprintf("%dx%d", v.Width, v.Height) }

// Frame is one fully rendered instant of the animation. Lines holds
// exactly Viewport.Height rows, each exactly Viewport.Width cells wide
// once escape sequences are stripped. A Frame is immutable once
// produced.
type Frame struct {
	Index uint64
	Lines []string
}

// Text joins the frame's rows with CRLF line endings, the form both
// raw-mode terminals and telnet clients expect.
func (f Frame) Text() string { return strings.Join(f.Lines, "\r\n") }

// Render produces the frame for the given tick index and viewport.
// The native art is cropped to the viewport through a centered window
// when the viewport is smaller, and centered with blank padding when
// larger. When showCounter is set, the bottom row carries the elapsed
// counter instead of animation cells; the rows above are unaffected.
func Render(index uint64, vp Viewport, showCounter bool) Frame {
	vp = vp.Clamp()
	grid := compose(index)

	// Centered source window (or padding when the viewport exceeds
	// the native size). Negative source coordinates are blank.
	minRow := (nativeHeight - vp.Height) / 2
	minCol := (nativeWidth - vp.Width) / 2

	lines := make([]string, vp.Height)
	for y := range vp.Height {
		var b strings.Builder
		srcRow := minRow + y
		for x := range vp.Width {
			srcCol := minCol + x
			if srcRow < 0 || srcRow >= nativeHeight || srcCol < 0 || srcCol >= nativeWidth {
				b.WriteByte(' ')
				continue
			}
			b.WriteString(colorize(grid[srcRow][srcCol], srcRow, srcCol, index))
		}
		lines[y] = b.String()
	}

	if showCounter {
		lines[vp.Height-1] = counterLine(index, vp.Width)
	}

	return Frame{Index: index, Lines: lines}
}

// counterLine renders the elapsed counter, padded with plain spaces to
// the full viewport width.
func counterLine(index uint64, width int) string {
	seconds := float64(index) * NominalTickInterval.Seconds()
	text := fmt.Sprintf("You have nyaned for %.1f seconds!", seconds)
	if len(text) > width {
		text = text[:width]
	}
	return styleCounter(text) + strings.Repeat(" ", width-len(text))
}
