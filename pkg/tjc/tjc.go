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

// Package tjc implements the binary serial protocol spoken by TJC (and
// compatible Nextion-family) touchscreen panels: a framed event/reply
// stream with a three byte terminator.
package tjc

// EventType identifies an asynchronous event frame by its type tag.
// Values above 0xFF are synthetic events that never appear on the wire.
type EventType int

const (
	EventTouch           EventType = 0x65 // touch event (page, component)
	EventTouchCoordinate EventType = 0x67 // touch coordinate while awake
	EventTouchSleep      EventType = 0x68 // touch coordinate while asleep
	EventSliderInput     EventType = 0x69 // slider value
	EventNumericInput    EventType = 0x72 // numeric/keyboard input
	EventAutoSleep       EventType = 0x86 // panel entered sleep mode
	EventAutoWake        EventType = 0x87 // panel woke from sleep
	EventStartup         EventType = 0x88 // panel finished booting
	EventSDCardUpgrade   EventType = 0x89 // panel started an SD card upgrade

	// EventReconnected is synthesized by the transport after a successful
	// reconnect. It is never decoded from the wire.
	EventReconnected EventType = 0x666
)

// Terminator ends every frame in both directions.
var Terminator = []byte{0xFF, 0xFF, 0xFF}

// junkData is a filler sequence some panels emit on power-up. It carries
// no information and is dropped without comment.
var junkData = []byte{0x5A, 0xA5, 0x06, 0x83, 0x10, 0x3E, 0x01, 0x00}

// packetLengths maps a frame's type tag to its total length on the wire,
// terminator included. Tags not listed here are variable length.
var packetLengths = map[byte]int{
	0x00: 6, // startup (invalid instruction on some firmwares)
	0x24: 4, // serial buffer overflow
	0x65: 6, // touch event
	0x66: 5, // current page number
	0x67: 9, // touch coordinate (awake)
	0x68: 9, // touch coordinate (sleep)
	0x69: 8, // slider value
	0x71: 8, // numeric data enclosed
	0x86: 4, // auto entered sleep mode
	0x87: 4, // auto wake from sleep
	0x88: 4, // panel ready
	0x89: 4, // start microSD upgrade
	0xFD: 4, // transparent data finished
	0xFE: 4, // transparent data ready
}

// A Message is one decoded frame: either an asynchronous event
// (TouchEvent, TouchCoordinateEvent, InputEvent, LifecycleEvent) or a
// Reply correlated to the oldest pending command.
type Message interface {
	message()
}

// TouchEvent reports a component press on a page.
type TouchEvent struct {
	Page      uint8
	Component uint8
}

// TouchCoordinateEvent reports a raw touch position. Phase 0 is a press,
// 1 a release. Type is EventTouchCoordinate or EventTouchSleep.
type TouchCoordinateEvent struct {
	Type  EventType
	X     uint16
	Y     uint16
	Phase uint8
}

// InputEvent reports a numeric, keyboard or slider input value. Type is
// EventNumericInput or EventSliderInput.
type InputEvent struct {
	Type      EventType
	Page      uint8
	Component uint8
	Value     uint16
}

// LifecycleEvent reports a panel state change carrying no payload:
// startup, sleep, wake, SD upgrade or a synthetic reconnect.
type LifecycleEvent struct {
	Type EventType
}

// Reply is an opaque command response, terminator stripped. The first
// byte is the panel's return code.
type Reply []byte

func (TouchEvent) message()           {}
func (TouchCoordinateEvent) message() {}
func (InputEvent) message()           {}
func (LifecycleEvent) message()       {}
func (Reply) message()               {}

// Panel return codes that matter to the transport layer. The rest of the
// code space is treated as opaque.
const (
	ReplySuccess         = 0x01
	ReplyInvalidVariable = 0x1A
	ReplyStringData      = 0x70
)

func isEventTag(tag byte) bool {
	switch EventType(tag) {
	case EventTouch, EventTouchCoordinate, EventTouchSleep,
		EventSliderInput, EventNumericInput, EventAutoSleep,
		EventAutoWake, EventStartup, EventSDCardUpgrade:
		return true
	default:
		return false
	}
}
