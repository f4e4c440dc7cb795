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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDesync is returned by Feed when a frame of known, complete length
// does not carry the terminator where it must be. The decoder drops its
// buffer so the caller can resynchronize the link.
var ErrDesync = errors.New("frame terminator missing")

// Decoder turns a raw serial byte stream into Messages. It keeps partial
// frames buffered between calls, so feeding a stream in arbitrary chunks
// yields the same messages as feeding it whole.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends p to the internal buffer and decodes every complete frame
// in it. Partial frames are kept for the next call. On ErrDesync the
// messages decoded before the bad frame are still returned and the
// buffer is discarded.
func (d *Decoder) Feed(p []byte) ([]Message, error) {
	d.buf = append(d.buf, p...)

	var msgs []Message
	for {
		msg, ok, err := d.next()
		if err != nil {
			d.buf = nil
			return msgs, err
		}
		if !ok {
			return msgs, nil
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
}

// next decodes one frame from the front of the buffer. It returns
// ok=false when the buffer holds no complete frame yet. A nil message
// with ok=true means a frame was consumed but carried nothing (stray
// terminator, filler).
func (d *Decoder) next() (Message, bool, error) {
	if len(d.buf) == 0 {
		return nil, false, nil
	}

	tag := d.buf[0]
	if expected, fixed := packetLengths[tag]; fixed {
		return d.nextFixed(tag, expected)
	}
	return d.nextVariable()
}

func (d *Decoder) nextFixed(tag byte, expected int) (Message, bool, error) {
	if len(d.buf) < expected {
		// TJC keyboard widgets send a five byte numeric frame with
		// neither the full payload nor a terminator.
		if tag == 0x71 && len(d.buf) == 5 {
			expected = 5
		} else {
			return nil, false, nil
		}
	}

	frame := d.buf[:expected]
	if tag == 0x71 && !bytes.HasSuffix(frame, Terminator) {
		// Keyboard input: re-tag as numeric input and terminate it
		// ourselves so it parses like any other frame.
		patched := make([]byte, 0, len(frame)+len(Terminator))
		patched = append(patched, frame...)
		patched = append(patched, Terminator...)
		patched[0] = byte(EventNumericInput)
		d.buf = d.buf[expected:]
		return parseFrame(patched[:len(patched)-len(Terminator)]), true, nil
	}

	if bytes.HasSuffix(frame, Terminator) {
		d.buf = d.buf[expected:]
		return parseFrame(frame[:expected-len(Terminator)]), true, nil
	}

	// Touch frames occasionally arrive one byte long. Retry once with
	// the extra byte before declaring the link desynchronized.
	if tag == byte(EventTouch) {
		if len(d.buf) < expected+1 {
			return nil, false, nil
		}
		ext := d.buf[:expected+1]
		if bytes.HasSuffix(ext, Terminator) {
			d.buf = d.buf[expected+1:]
			return parseFrame(ext[:len(ext)-len(Terminator)]), true, nil
		}
	}

	return nil, false, fmt.Errorf("%w: tag 0x%02X", ErrDesync, tag)
}

func (d *Decoder) nextVariable() (Message, bool, error) {
	idx := bytes.Index(d.buf, Terminator)
	if idx < 0 {
		// Power-up filler has no terminator at all. Anything else
		// might still be completed by the next read.
		if bytes.HasPrefix(d.buf, junkData) {
			d.buf = nil
		}
		return nil, false, nil
	}

	frame := d.buf[:idx]
	d.buf = d.buf[idx+len(Terminator):]

	if len(frame) == 0 || bytes.HasPrefix(frame, junkData) {
		return nil, true, nil
	}
	return parseFrame(frame), true, nil
}

// parseFrame decodes a terminator-stripped frame. Frames too short for
// their declared type are dropped rather than surfaced as garbage.
func parseFrame(frame []byte) Message {
	tag := frame[0]
	payload := frame[1:]

	if !isEventTag(tag) {
		return Reply(frame)
	}

	switch EventType(tag) {
	case EventTouch:
		if len(payload) < 2 {
			return nil
		}
		return TouchEvent{Page: payload[0], Component: payload[1]}
	case EventTouchCoordinate, EventTouchSleep:
		if len(payload) < 5 {
			return nil
		}
		return TouchCoordinateEvent{
			Type:  EventType(tag),
			X:     binary.BigEndian.Uint16(payload[0:2]),
			Y:     binary.BigEndian.Uint16(payload[2:4]),
			Phase: payload[4],
		}
	case EventSliderInput, EventNumericInput:
		if len(payload) < 4 {
			return nil
		}
		return InputEvent{
			Type:      EventType(tag),
			Page:      payload[0],
			Component: payload[1],
			Value:     binary.LittleEndian.Uint16(payload[2:4]),
		}
	default:
		return LifecycleEvent{Type: EventType(tag)}
	}
}

// EncodeCommand frames an instruction for the panel. Commands are ASCII
// followed by the terminator.
func EncodeCommand(cmd string) []byte {
	out := make([]byte, 0, len(cmd)+len(Terminator))
	out = append(out, cmd...)
	out = append(out, Terminator...)
	return out
}
