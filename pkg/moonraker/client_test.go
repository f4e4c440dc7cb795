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

package moonraker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer plays the Moonraker side of a net.Pipe. Every request is
// answered by the handler for its method, or with an empty result.
type fakePeer struct {
	conn     net.Conn
	handlers map[string]func(id string, params json.RawMessage) []byte
	methods  chan string
}

func newFakePeer(conn net.Conn) *fakePeer {
	p := &fakePeer{
		conn:     conn,
		handlers: make(map[string]func(string, json.RawMessage) []byte),
		methods:  make(chan string, 16),
	}
	go p.serve()
	return p
}

func okResult(id string) []byte {
	return []byte(`{"jsonrpc":"2.0","id":"` + id + `","result":{}}`)
}

func (p *fakePeer) serve() {
	reader := bufio.NewReader(p.conn)
	for {
		frame, err := reader.ReadBytes(terminator)
		if err != nil {
			return
		}
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(bytes.TrimSuffix(frame, []byte{terminator}), &req); err != nil {
			continue
		}
		p.methods <- req.Method

		var reply []byte
		if h, ok := p.handlers[req.Method]; ok {
			reply = h(req.ID, req.Params)
		} else {
			reply = okResult(req.ID)
		}
		if reply != nil {
			_, _ = p.conn.Write(append(reply, terminator))
		}
	}
}

func (p *fakePeer) push(frame string) {
	_, _ = p.conn.Write(append([]byte(frame), terminator))
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakePeer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	peer := newFakePeer(serverSide)

	opts = append(opts, WithDialer(func() (net.Conn, error) {
		return clientSide, nil
	}))
	c := NewClient("", opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	// Connect identifies itself first.
	require.Equal(t, "server.connection.identify", <-peer.methods)
	return c, peer
}

func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func TestCallReturnsResult(t *testing.T) {
	t.Parallel()

	c, peer := newTestClient(t)
	peer.handlers["printer.info"] = func(id string, _ json.RawMessage) []byte {
		return []byte(`{"jsonrpc":"2.0","id":"` + id + `","result":{"state":"ready","software_version":"v0.12.0"}}`)
	}

	info, err := c.PrinterInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", info.State)
	assert.Equal(t, "v0.12.0", info.SoftwareVersion)
	assert.Zero(t, c.pendingCount())
}

func TestCallReturnsPeerError(t *testing.T) {
	t.Parallel()

	c, peer := newTestClient(t)
	peer.handlers["printer.print.start"] = func(id string, _ json.RawMessage) []byte {
		return []byte(`{"jsonrpc":"2.0","id":"` + id + `","error":{"code":400,"message":"Print already in progress"}}`)
	}

	err := c.PrintStart(context.Background(), "x.gcode")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 400, rpcErr.Code)
	assert.NotErrorIs(t, err, ErrRequestTimeout)
	assert.Zero(t, c.pendingCount())
}

func TestCallTimesOutDistinctly(t *testing.T) {
	t.Parallel()

	c, peer := newTestClient(t, WithRequestTimeout(50*time.Millisecond))
	peer.handlers["test.hang"] = func(_ string, _ json.RawMessage) []byte {
		return nil // never answer
	}

	_, err := c.Call(context.Background(), "test.hang", nil)
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Zero(t, c.pendingCount())
}

func TestSweepTimesOutStalePending(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	c := NewClient("", WithClock(clk), WithRequestTimeout(time.Second))

	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending["stale"] = pendingCall{ch: ch, issuedAt: clk.Now()}
	c.mu.Unlock()

	go c.sweepLoop()
	defer close(c.done)

	clk.BlockUntil(1)
	clk.Advance(sweepInterval)

	select {
	case res := <-ch:
		require.ErrorIs(t, res.err, ErrRequestTimeout)
	case <-time.After(time.Second):
		t.Fatal("stale pending entry never swept")
	}
	assert.Zero(t, c.pendingCount())
}

func TestStatusNotificationDispatch(t *testing.T) {
	t.Parallel()

	type update struct {
		delta     map[string]json.RawMessage
		eventtime float64
	}
	updates := make(chan update, 1)

	c, peer := newTestClient(t, WithStatusHandler(func(delta map[string]json.RawMessage, eventtime float64) {
		updates <- update{delta, eventtime}
	}))
	defer func() { _ = c.Close() }()

	peer.push(`{"jsonrpc":"2.0","method":"notify_status_update","params":[{"extruder":{"temperature":210.4}},3621.5]}`)

	select {
	case u := <-updates:
		require.Contains(t, u.delta, "extruder")
		assert.InDelta(t, 3621.5, u.eventtime, 0.001)
	case <-time.After(time.Second):
		t.Fatal("status update never dispatched")
	}
}

func TestGcodeResponseDispatch(t *testing.T) {
	t.Parallel()

	lines := make(chan string, 2)
	c, peer := newTestClient(t, WithGcodeHandler(func(line string) { lines <- line }))
	defer func() { _ = c.Close() }()

	peer.push(`{"jsonrpc":"2.0","method":"notify_gcode_response","params":["ok","B:60.0 /60.0"]}`)

	assert.Equal(t, "ok", <-lines)
	assert.Equal(t, "B:60.0 /60.0", <-lines)
}

func TestReconnectAfterSocketLoss(t *testing.T) {
	t.Parallel()

	reconnected := make(chan struct{}, 1)

	clientSide, serverSide := net.Pipe()
	_ = newFakePeer(serverSide)

	dials := 0
	c := NewClient("",
		WithReconnectHandler(func() { reconnected <- struct{}{} }),
		WithDialer(func() (net.Conn, error) {
			dials++
			if dials == 1 {
				return clientSide, nil
			}
			cs, ss := net.Pipe()
			newFakePeer(ss)
			return cs, nil
		}))
	require.NoError(t, c.Connect(context.Background()))
	defer func() { _ = c.Close() }()

	// Kill the first connection out from under the client.
	_ = serverSide.Close()

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("client never reconnected")
	}
	assert.True(t, c.Connected())
	assert.Equal(t, 2, dials)
}
