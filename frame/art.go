// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

package frame

// Native art dimensions. Viewports larger than this are padded,
// smaller ones crop a centered window.
const (
	nativeWidth  = 64
	nativeHeight = 16
)

// Trail geometry: six rainbow bands trailing the cat, jiggling in
// eight-column segments that alternate one row up and down per tick.
const (
	trailWidth   = 34
	trailTopRow  = 4
	trailSegment = 8
	trailBands   = 6
)

// Sprite placement. The sprite bobs one row down on odd poses,
// matching the trail jiggle.
const (
	spriteRow = 3
	spriteCol = 36
)

// catPoses holds the two animation poses of the pop-tart cat. Rows may
// be ragged; compose treats missing trailing cells as transparent.
// Spaces are transparent so the starfield shows through around the
// sprite.
var catPoses = [2][]string{
	{
		`,--------------,`,
		`|@@@@$@@@@@$@@@|  ,-^--^,`,
		`|@$@@@@@@@@@@@$| (  o  o)`,
		`|@@@@@@$@@@@@@@|-(   .   )`,
		`|@@@$@@@@@@$@@@| ( %   % )`,
		"|@@@@@@@@@$@@@@|  `------'",
		`'--------------'`,
		`   ''    ''      ''   ''`,
	},
	{
		`,--------------,`,
		`|@@@@$@@@@@$@@@|  ,-^--^,`,
		`|@$@@@@@@@@@@@$| (  o  o)`,
		`|@@@@@@$@@@@@@@|-(   o   )`,
		`|@@@$@@@@@@$@@@| ( %   % )`,
		"|@@@@@@@@@$@@@@|  `------'",
		`'--------------'`,
		`  ''    ''        ''   ''`,
	},
}

// starSeeds are the home positions of the background stars. Each star
// drifts left two columns per tick, wrapping at the native width.
var starSeeds = [...]struct{ row, col int }{
	{0, 6}, {1, 44}, {2, 21}, {5, 58}, {8, 2}, {12, 38}, {13, 12}, {15, 52},
}

// starDrift is the leftward star movement per tick, in columns.
const starDrift = 2

// compose builds the native glyph grid for one tick. Draw order:
// stars, then the rainbow trail, then the cat sprite, so the sprite
// overdraws the trail and both overdraw stars.
func compose(index uint64) [][]byte {
	grid := make([][]byte, nativeHeight)
	for row := range grid {
		grid[row] = make([]byte, nativeWidth)
		for col := range grid[row] {
			grid[row][col] = ' '
		}
	}

	for _, seed := range starSeeds {
		col := (seed.col + nativeWidth - int(index*starDrift)%nativeWidth) % nativeWidth
		grid[seed.row][col] = '*'
	}

	for col := range trailWidth {
		jig := int(index+uint64(col/trailSegment)) % 2
		for band := range trailBands {
			grid[trailTopRow+band+jig][col] = '='
		}
	}

	pose := catPoses[index%2]
	bob := int(index % 2)
	for rowOffset, row := range pose {
		for colOffset := range len(row) {
			glyph := row[colOffset]
			if glyph == ' ' {
				continue
			}
			targetRow := spriteRow + bob + rowOffset
			targetCol := spriteCol + colOffset
			if targetRow >= nativeHeight || targetCol >= nativeWidth {
				continue
			}
			grid[targetRow][targetCol] = glyph
		}
	}

	return grid
}

// trailJig returns the vertical offset of the trail segment containing
// col at the given tick. Exposed to colorize so band colors follow the
// jiggle.
func trailJig(index uint64, col int) int {
	return int(index+uint64(col/trailSegment)) % 2
}
