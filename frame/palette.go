// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/termenv"
)

// PaletteSize is the number of rainbow hues. The color phase of a
// frame is index mod PaletteSize: each tick rotates every band to the
// next hue, producing the rainbow-shift illusion.
const PaletteSize = 6

// profile is fixed to TrueColor rather than detected from the
// environment: frames travel over the network to clients whose
// terminals the server cannot see, and a fixed profile keeps Render
// deterministic.
var profile = termenv.TrueColor

// rainbow is the fixed hue table, evenly spaced around the HSV wheel.
var rainbow = buildRainbow()

func buildRainbow() [PaletteSize]termenv.Color {
	var table [PaletteSize]termenv.Color
	for i := range table {
		hue := float64(i) * (360.0 / PaletteSize)
		table[i] = profile.Color(colorful.Hsv(hue, 0.95, 1.0).Hex())
	}
	return table
}

// Sprite and backdrop colors.
var (
	colorStar     = profile.Color("#ffffff")
	colorDough    = profile.Color("#ffcc99")
	colorSprinkle = profile.Color("#ff3399")
	colorOutline  = profile.Color("#bbbbbb")
	colorEye      = profile.Color("#ffffff")
	colorCheek    = profile.Color("#ff9999")

	counterForeground = profile.Color("#ffffff")
	counterBackground = profile.Color("#00005b")
)

// colorize styles a single glyph cell. Rainbow cells take their hue
// from the band the cell sits in (following the trail jiggle) rotated
// by the frame's color phase; every other glyph has a fixed color.
// Spaces pass through unstyled.
func colorize(glyph byte, row, col int, index uint64) string {
	switch glyph {
	case ' ':
		return " "
	case '=':
		band := row - trailTopRow - trailJig(index, col)
		hue := rainbow[(uint64(band)+index)%PaletteSize]
		return styled(glyph, hue)
	case '*':
		return styled(glyph, colorStar)
	case '@':
		return styled(glyph, colorDough)
	case '$':
		return styled(glyph, colorSprinkle)
	case 'o':
		return styled(glyph, colorEye)
	case '%':
		return styled(glyph, colorCheek)
	default:
		// Outline and face punctuation.
		return styled(glyph, colorOutline)
	}
}

func styled(glyph byte, color termenv.Color) string {
	return profile.String(string(glyph)).Foreground(color).String()
}

func styleCounter(text string) string {
	return profile.String(text).Foreground(counterForeground).Background(counterBackground).String()
}
