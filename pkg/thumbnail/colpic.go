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
	"encoding/binary"
	"image"
	"image/color"
	"sort"
)

// The panel's ColPic image format: a 32 byte header, an RGB565 palette
// of at most 1024 entries, and a run-length encoded pixel stream,
// armored into printable ASCII for transport inside a text command.

const (
	paletteMax = 1024
	headerSize = 32
)

type paletteEntry struct {
	color16 uint16
	a0      int // 5 bit red
	a1      int // 6 bit green
	a2      int // 5 bit blue
	qty     int
}

// toRGB565 flattens img row-major into 16 bit colors, alpha-blending
// translucent pixels over bg.
func toRGB565(img image.Image, bg color.RGBA) []uint16 {
	bounds := img.Bounds()
	out := make([]uint16, 0, bounds.Dx()*bounds.Dy())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			r, g, b := c.R, c.G, c.B
			if c.A != 255 {
				alpha := float64(c.A) / 255.0
				r = uint8(float64(r)*alpha + (1-alpha)*float64(bg.R))
				g = uint8(float64(g)*alpha + (1-alpha)*float64(bg.G))
				b = uint8(float64(b)*alpha + (1-alpha)*float64(bg.B))
			}
			out = append(out, uint16(r>>3)<<11|uint16(g>>2)<<5|uint16(b>>3))
		}
	}
	return out
}

// buildPalette counts unique colors, most frequent first. Ties keep
// ascending color order so the output is deterministic.
func buildPalette(pixels []uint16) []paletteEntry {
	counts := make(map[uint16]int)
	for _, c := range pixels {
		counts[c]++
	}

	palette := make([]paletteEntry, 0, len(counts))
	for c, qty := range counts {
		palette = append(palette, paletteEntry{
			color16: c,
			a0:      int(c>>11) & 31,
			a1:      int(c>>5) & 63,
			a2:      int(c) & 31,
			qty:     qty,
		})
	}
	sort.Slice(palette, func(i, j int) bool {
		return palette[i].color16 < palette[j].color16
	})
	sort.SliceStable(palette, func(i, j int) bool {
		return palette[i].qty > palette[j].qty
	})
	return palette
}

// reducePalette merges the least frequent colors into their nearest
// kept neighbor until the palette fits, rewriting pixels in place.
// Distance is the absolute per-channel difference in 565 space.
func reducePalette(palette []paletteEntry, pixels []uint16, max int) []paletteEntry {
	for len(palette) > max {
		last := palette[len(palette)-1]
		palette = palette[:len(palette)-1]

		best := 0
		bestDist := 1 << 30
		for i, p := range palette {
			dist := abs(last.a0-p.a0) + abs(last.a1-p.a1) + abs(last.a2-p.a2)
			if dist < bestDist {
				bestDist = dist
				best = i
			}
		}
		replacement := palette[best].color16
		for i, c := range pixels {
			if c == last.color16 {
				pixels[i] = replacement
			}
		}
	}
	return palette
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// rleEncode writes the pixel stream as palette references. Each byte
// carries a run length (1..6) in the top 3 bits and a palette index
// modulo 32 in the bottom 5; a 7 in the top bits switches the current
// 32-entry palette block, and runs longer than 6 take a two byte form
// (index, then count up to 255).
func rleEncode(pixels []uint16, palette []paletteEntry) []byte {
	index := make(map[uint16]int, len(palette))
	for i, p := range palette {
		if _, seen := index[p.color16]; !seen {
			index[p.color16] = i
		}
	}

	var out []byte
	lastBlock := 0
	for src := 0; src < len(pixels); {
		run := 1
		for src+run < len(pixels) && run < 255 && pixels[src+run] == pixels[src] {
			run++
		}

		idx := index[pixels[src]]
		tid := idx % 32
		block := idx / 32

		if block != lastBlock {
			out = append(out, byte(7<<5|block))
			lastBlock = block
		}
		if run <= 6 {
			out = append(out, byte(run<<5|tid))
		} else {
			out = append(out, byte(tid), byte(run))
		}
		src += run
	}
	return out
}

// armor expands every 3 bytes into 4 printable characters (6 bits each,
// offset by 48). A resulting backslash would need escaping panel-side,
// so it is substituted with 126.
func armor(data []byte) []byte {
	for len(data)%3 != 0 {
		data = append(data, 0)
	}

	out := make([]byte, 0, len(data)/3*4)
	for i := 0; i < len(data); i += 3 {
		quad := [4]byte{
			data[i] >> 2,
			(data[i]&0x03)<<4 | data[i+1]>>4,
			(data[i+1]&0x0F)<<2 | data[i+2]>>6,
			data[i+2] & 0x3F,
		}
		for _, b := range quad {
			b += 48
			if b == '\\' {
				b = 126
			}
			out = append(out, b)
		}
	}
	return out
}

// Encode converts img to an armored ColPic stream ready to be chunked
// into panel write commands.
func Encode(img image.Image, bg color.RGBA) []byte {
	pixels := toRGB565(img, bg)
	palette := buildPalette(pixels)
	palette = reducePalette(palette, pixels, paletteMax)

	listDataSize := len(palette) * 2
	rle := rleEncode(pixels, palette)

	out := make([]byte, headerSize+listDataSize+len(rle))
	out[0] = 3 // encoding version
	binary.LittleEndian.PutUint32(out[4:8], uint32(img.Bounds().Dx()))
	binary.LittleEndian.PutUint32(out[8:12], uint32(img.Bounds().Dy()))
	copy(out[12:16], []byte{60, 195, 221, 5})
	binary.LittleEndian.PutUint32(out[16:20], uint32(listDataSize))
	binary.LittleEndian.PutUint32(out[20:24], uint32(len(rle)))
	for i, p := range palette {
		binary.LittleEndian.PutUint16(out[headerSize+i*2:], p.color16)
	}
	copy(out[headerSize+listDataSize:], rle)

	return armor(out)
}
