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

package tjc

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeTouchEvent(t *testing.T) {
	t.Parallel()

	var d Decoder
	msgs, err := d.Feed([]byte{0x65, 0x02, 0x15, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TouchEvent{Page: 2, Component: 21}, msgs[0])
}

func TestDecodeTouchEventExtraByte(t *testing.T) {
	t.Parallel()

	// Some panels pad touch frames with a stray byte before the
	// terminator. The decoder retries once with the longer length.
	var d Decoder
	msgs, err := d.Feed([]byte{0x65, 0x02, 0x15, 0x00, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TouchEvent{Page: 2, Component: 21}, msgs[0])
}

func TestDecodeKeyboardInputWithoutTerminator(t *testing.T) {
	t.Parallel()

	// Keyboard widgets send a short numeric frame with no terminator.
	var d Decoder
	msgs, err := d.Feed([]byte{0x71, 0x01, 0x05, 0x2C, 0x01})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, InputEvent{
		Type:      EventNumericInput,
		Page:      1,
		Component: 5,
		Value:     300,
	}, msgs[0])
}

func TestDecodeTerminatedNumericDataIsReply(t *testing.T) {
	t.Parallel()

	// A full, terminated 0x71 frame is the response to a get command,
	// not an input event.
	var d Decoder
	msgs, err := d.Feed([]byte{0x71, 0x0A, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, Reply{0x71, 0x0A, 0x00, 0x00, 0x00}, msgs[0])
}

func TestDecodeSliderInput(t *testing.T) {
	t.Parallel()

	var d Decoder
	msgs, err := d.Feed([]byte{0x69, 0x06, 0x03, 0x64, 0x00, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, InputEvent{
		Type:      EventSliderInput,
		Page:      6,
		Component: 3,
		Value:     100,
	}, msgs[0])
}

func TestDecodeTouchCoordinate(t *testing.T) {
	t.Parallel()

	var d Decoder
	msgs, err := d.Feed([]byte{0x67, 0x01, 0x2C, 0x00, 0xC8, 0x01, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TouchCoordinateEvent{
		Type:  EventTouchCoordinate,
		X:     300,
		Y:     200,
		Phase: 1,
	}, msgs[0])
}

func TestDecodeLifecycleEvents(t *testing.T) {
	t.Parallel()

	for _, tag := range []byte{0x86, 0x87, 0x88, 0x89} {
		var d Decoder
		msgs, err := d.Feed([]byte{tag, 0xFF, 0xFF, 0xFF})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, LifecycleEvent{Type: EventType(tag)}, msgs[0])
	}
}

func TestDecodeStringReply(t *testing.T) {
	t.Parallel()

	var d Decoder
	msgs, err := d.Feed([]byte{0x70, 'o', 'k', 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, Reply{0x70, 'o', 'k'}, msgs[0])
}

func TestJunkDataDiscarded(t *testing.T) {
	t.Parallel()

	var d Decoder
	msgs, err := d.Feed(junkData)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// The filler must not poison subsequent frames.
	msgs, err = d.Feed([]byte{0x88, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, LifecycleEvent{Type: EventStartup}, msgs[0])
}

func TestStrayTerminatorSkipped(t *testing.T) {
	t.Parallel()

	var d Decoder
	msgs, err := d.Feed([]byte{0xFF, 0xFF, 0xFF, 0x65, 0x01, 0x00, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, TouchEvent{Page: 1, Component: 0}, msgs[0])
}

func TestFeedByteAtATime(t *testing.T) {
	t.Parallel()

	stream := []byte{
		0x65, 0x02, 0x15, 0xFF, 0xFF, 0xFF,
		0x69, 0x06, 0x03, 0x64, 0x00, 0xFF, 0xFF, 0xFF,
	}

	var d Decoder
	var msgs []Message
	for _, b := range stream {
		got, err := d.Feed([]byte{b})
		require.NoError(t, err)
		msgs = append(msgs, got...)
	}
	require.Len(t, msgs, 2)
	assert.Equal(t, TouchEvent{Page: 2, Component: 21}, msgs[0])
	assert.Equal(t, InputEvent{Type: EventSliderInput, Page: 6, Component: 3, Value: 100}, msgs[1])
}

func TestDesyncClearsBuffer(t *testing.T) {
	t.Parallel()

	var d Decoder
	_, err := d.Feed([]byte{0x66, 0x01, 0x02, 0x03, 0x04})
	require.ErrorIs(t, err, ErrDesync)

	// After the error the decoder starts clean.
	msgs, err := d.Feed([]byte{0x88, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, LifecycleEvent{Type: EventStartup}, msgs[0])
}

func TestEncodeCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]byte{'p', 'a', 'g', 'e', ' ', '1', 0xFF, 0xFF, 0xFF},
		EncodeCommand("page 1"))
}

// TestFeedChunkingInvariant checks that the decoder yields the same
// messages no matter how a well-formed stream is split across reads.
func TestFeedChunkingInvariant(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "frames")
		var stream []byte
		for i := 0; i < n; i++ {
			switch rapid.IntRange(0, 4).Draw(t, "kind") {
			case 0:
				stream = append(stream,
					0x65,
					rapid.Byte().Draw(t, "page"),
					rapid.Byte().Draw(t, "component"),
					0xFF, 0xFF, 0xFF)
			case 1:
				stream = append(stream,
					0x69,
					rapid.Byte().Draw(t, "page"),
					rapid.Byte().Draw(t, "component"),
					rapid.Byte().Draw(t, "lo"),
					rapid.Byte().Draw(t, "hi"),
					0xFF, 0xFF, 0xFF)
			case 2:
				stream = append(stream,
					rapid.SampledFrom([]byte{0x86, 0x87, 0x88, 0x89}).Draw(t, "tag"),
					0xFF, 0xFF, 0xFF)
			case 3:
				stream = append(stream,
					0x67,
					rapid.Byte().Draw(t, "xh"), rapid.Byte().Draw(t, "xl"),
					rapid.Byte().Draw(t, "yh"), rapid.Byte().Draw(t, "yl"),
					byte(rapid.IntRange(0, 1).Draw(t, "phase")),
					0xFF, 0xFF, 0xFF)
			case 4:
				stream = append(stream, 0x70)
				stream = append(stream,
					rapid.SliceOfN(rapid.SampledFrom([]byte("0123456789abcdef")), 0, 8).Draw(t, "text")...)
				stream = append(stream, 0xFF, 0xFF, 0xFF)
			}
		}

		var whole Decoder
		want, err := whole.Feed(stream)
		if err != nil {
			t.Fatalf("whole feed: %v", err)
		}

		var chunked Decoder
		var got []Message
		for len(stream) > 0 {
			cut := rapid.IntRange(1, len(stream)).Draw(t, "cut")
			msgs, err := chunked.Feed(stream[:cut])
			if err != nil {
				t.Fatalf("chunked feed: %v", err)
			}
			got = append(got, msgs...)
			stream = stream[cut:]
		}

		if len(want) != len(got) {
			t.Fatalf("message count mismatch: %d vs %d", len(want), len(got))
		}
		for i := range want {
			if !reflect.DeepEqual(want[i], got[i]) {
				t.Fatalf("message %d mismatch: %#v vs %#v", i, want[i], got[i])
			}
		}
	})
}
