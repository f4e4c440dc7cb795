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

package hmi

import (
	"testing"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/tjc"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// newConnectedClient wires a client directly to port, skipping Connect.
func newConnectedClient(port SerialPort, handler EventHandler) *Client {
	c := NewClient("/dev/mock", handler)
	c.port = port
	go c.readLoop(port, make(chan struct{}))
	return c
}

func TestConnectInitializesLink(t *testing.T) {
	t.Parallel()

	port := newMockPort(true)
	c := NewClient("/dev/mock", nil)
	c.portFactory = func(_ string, _ *serial.Mode) (SerialPort, error) {
		return port, nil
	}

	require.NoError(t, c.Connect())
	assert.True(t, c.Connected())

	writes := port.written()
	assert.Contains(t, writes, "connect")
	assert.Contains(t, writes, "bkcmd=3")
	assert.Contains(t, writes, "get sleep")
	require.NoError(t, c.Close())
}

func TestConnectProbesNextBaudRate(t *testing.T) {
	t.Parallel()

	// The first port is dead, the second answers. Connect must move on
	// to the next candidate rate after the probe timeout.
	clk := clockwork.NewFakeClock()
	live := newMockPort(true)
	var opened []int
	c := NewClient("/dev/mock", nil)
	c.clock = clk
	c.portFactory = func(_ string, mode *serial.Mode) (SerialPort, error) {
		opened = append(opened, mode.BaudRate)
		if len(opened) == 1 {
			return newMockPort(false), nil
		}
		return live, nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Connect() }()

	clk.BlockUntil(1)
	clk.Advance(probeTimeout)

	require.NoError(t, <-done)
	assert.Equal(t, []int{115200, 9600}, opened)
	require.NoError(t, c.Close())
}

func TestWriteAcknowledged(t *testing.T) {
	t.Parallel()

	port := newMockPort(true)
	c := newConnectedClient(port, nil)
	defer c.Close() //nolint:errcheck

	require.NoError(t, c.Write(`main.temp.txt="25.0"`, 0, ""))
	assert.Contains(t, port.written(), `main.temp.txt="25.0"`)
}

func TestWriteSwallowsMissingWidgetReply(t *testing.T) {
	t.Parallel()

	// 0x1A means the widget is not on the current page. A background
	// update racing a page change hits this constantly; not an error.
	port := newMockPort(true)
	port.ackCode = tjc.ReplyInvalidVariable
	c := newConnectedClient(port, nil)
	defer c.Close() //nolint:errcheck

	require.NoError(t, c.Write(`printing.fan.val=50`, 0, ""))
}

func TestWriteQueuedUnderForeignBlock(t *testing.T) {
	t.Parallel()

	port := newMockPort(true)
	c := newConnectedClient(port, nil)
	defer c.Close() //nolint:errcheck

	c.mu.Lock()
	c.blockKey = "thumbnail"
	c.mu.Unlock()

	// Queued, not sent and not an error.
	require.NoError(t, c.Write("vis cp0,1", 0, ""))
	assert.Empty(t, port.written())

	c.release()
	assert.Equal(t, []string{"vis cp0,1"}, port.written())
}

func TestWriteClaimsAndReleasesBlockingKey(t *testing.T) {
	t.Parallel()

	port := newMockPort(true)
	c := newConnectedClient(port, nil)
	defer c.Close() //nolint:errcheck

	require.NoError(t, c.Write("cle 2,255", 0, "leveling"))

	c.mu.Lock()
	held := c.blockKey
	c.mu.Unlock()
	assert.Empty(t, held)
}

func TestNavigateToHoldsBlockThroughSettle(t *testing.T) {
	t.Parallel()

	port := newMockPort(true)
	c := newConnectedClient(port, nil)
	defer c.Close() //nolint:errcheck

	require.NoError(t, c.NavigateTo("19"))
	assert.Equal(t, []string{"page 19"}, port.written())
}

func TestWriteTimeoutReturnsLinkTimeout(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	dead := newMockPort(false)
	c := newConnectedClient(dead, nil)
	c.clock = clk
	// Reconnect after the timeout lands on a live port again.
	c.portFactory = func(_ string, _ *serial.Mode) (SerialPort, error) {
		return newMockPort(true), nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Write("page 1", 0, "") }()

	clk.BlockUntil(1)
	clk.Advance(DefaultWriteTimeout)

	require.ErrorIs(t, <-done, ErrLinkTimeout)

	// The timeout schedules a reconnect; wait for it to finish before
	// tearing down.
	require.Eventually(t, func() bool {
		return c.Connected() && !c.reconnecting.Load()
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())
}

func TestEventDispatch(t *testing.T) {
	t.Parallel()

	events := make(chan tjc.Message, 1)
	port := newMockPort(false)
	c := newConnectedClient(port, func(msg tjc.Message) { events <- msg })
	defer c.Close() //nolint:errcheck

	port.push([]byte{0x65, 0x02, 0x15, 0xFF, 0xFF, 0xFF})

	select {
	case msg := <-events:
		assert.Equal(t, tjc.TouchEvent{Page: 2, Component: 21}, msg)
	case <-time.After(time.Second):
		t.Fatal("touch event never dispatched")
	}
}

func TestGetReturnsReply(t *testing.T) {
	t.Parallel()

	port := newMockPort(false)
	c := newConnectedClient(port, nil)
	defer c.Close() //nolint:errcheck

	go func() {
		// Answer the get with a numeric data reply.
		time.Sleep(10 * time.Millisecond)
		port.push([]byte{0x71, 0x01, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF})
	}()

	reply, err := c.Get("sleep", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, reply)
	assert.Equal(t, byte(0x71), reply[0])
}
