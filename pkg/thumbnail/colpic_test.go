// OpenNeptune Display Connector
// Copyright (c) 2025 The OpenNeptune3D Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of the OpenNeptune Display Connector.
//
// The display connector is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The display connector is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package thumbnail

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestToRGB565(t *testing.T) {
	t.Parallel()

	red := solid(1, 1, color.NRGBA{R: 255, A: 255})
	assert.Equal(t, []uint16{0xF800}, toRGB565(red, color.RGBA{}))

	white := solid(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	assert.Equal(t, []uint16{0xFFFF}, toRGB565(white, color.RGBA{}))

	// Fully transparent pixels take the background color.
	clear := solid(1, 1, color.NRGBA{})
	assert.Equal(t, []uint16{0xF800}, toRGB565(clear, color.RGBA{R: 255}))
}

func TestBuildPaletteOrdersByFrequency(t *testing.T) {
	t.Parallel()

	pixels := []uint16{7, 7, 7, 3, 3, 9}
	palette := buildPalette(pixels)

	require.Len(t, palette, 3)
	assert.Equal(t, uint16(7), palette[0].color16)
	assert.Equal(t, 3, palette[0].qty)
	assert.Equal(t, uint16(3), palette[1].color16)
	assert.Equal(t, uint16(9), palette[2].color16)
}

func TestReducePaletteMergesNearestNeighbor(t *testing.T) {
	t.Parallel()

	// 0x0001 and 0x0002 differ only in blue; the rare 0x0002 must fold
	// into 0x0001 rather than into distant 0xF800.
	pixels := []uint16{0xF800, 0xF800, 0xF800, 0x0001, 0x0001, 0x0002}
	palette := buildPalette(pixels)
	palette = reducePalette(palette, pixels, 2)

	require.Len(t, palette, 2)
	assert.Equal(t, []uint16{0xF800, 0xF800, 0xF800, 0x0001, 0x0001, 0x0001}, pixels)
}

func TestRLEEncode(t *testing.T) {
	t.Parallel()

	palette := buildPalette([]uint16{5, 5, 5, 8})

	// Short run: count in the top 3 bits, index in the bottom 5.
	out := rleEncode([]uint16{5, 5, 5, 8}, palette)
	assert.Equal(t, []byte{3<<5 | 0, 1<<5 | 1}, out)

	// Long run: bare index byte followed by the count.
	long := make([]uint16, 20)
	for i := range long {
		long[i] = 5
	}
	out = rleEncode(long, buildPalette(long))
	assert.Equal(t, []byte{0, 20}, out)
}

func TestRLEEncodeSwitchesPaletteBlock(t *testing.T) {
	t.Parallel()

	// 40 distinct colors with descending frequency puts color 39 in the
	// second 32-entry block, which needs a block-switch marker.
	var pixels []uint16
	for c := 0; c < 40; c++ {
		for n := 0; n < 40-c; n++ {
			pixels = append(pixels, uint16(c))
		}
	}
	palette := buildPalette(pixels)
	out := rleEncode([]uint16{39}, palette)

	assert.Equal(t, []byte{7<<5 | 1, 1<<5 | 7}, out)
}

func TestArmor(t *testing.T) {
	t.Parallel()

	// Zero bytes become four '0' characters (offset 48).
	assert.Equal(t, []byte("0000"), armor([]byte{0, 0, 0}))

	// Input is padded to a multiple of three.
	assert.Len(t, armor([]byte{1}), 4)

	// A six-bit group of 44 would armor to '\'; it is remapped to 126.
	out := armor([]byte{44 << 2, 0, 0})
	assert.Equal(t, byte(126), out[0])
}

func TestEncodeProducesPrintableStream(t *testing.T) {
	t.Parallel()

	img := solid(8, 8, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	out := Encode(img, color.RGBA{})

	require.NotEmpty(t, out)
	assert.Zero(t, len(out)%4)
	for _, b := range out {
		assert.GreaterOrEqual(t, b, byte(48))
		assert.NotEqual(t, byte('\\'), b)
	}
}
