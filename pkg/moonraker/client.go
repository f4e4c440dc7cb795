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

// Package moonraker is a JSON-RPC 2.0 client for the Moonraker API
// socket. Each message on the wire is a JSON document followed by a
// single 0x03 byte. Requests are correlated to responses by id; frames
// without an id are push notifications.
package moonraker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/helpers/syncutil"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRequestTimeout means the peer never answered within the
	// request budget. Distinct from an RPCError the peer returned.
	ErrRequestTimeout = errors.New("rpc request timed out")

	// ErrClosed means the socket is not currently connected.
	ErrClosed = errors.New("rpc socket closed")
)

// Version is reported to the peer during identification.
const Version = "1.0.0"

const (
	terminator = 0x03

	// Moonraker can legitimately sit on a request for a long time, for
	// example a gcode script that runs a full bed level.
	DefaultRequestTimeout = 1200 * time.Second

	sweepInterval  = 60 * time.Second
	reconnectDelay = 2 * time.Second
)

// RPCError is an error object returned by the peer.
type RPCError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	Params  any    `json:"params,omitempty"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      string `json:"id,omitempty"`
}

type response struct {
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Params  json.RawMessage `json:"params"`
	Error   *RPCError       `json:"error"`
	JSONRPC string          `json:"jsonrpc"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	ch       chan callResult
	issuedAt time.Time
}

// StatusHandler receives telemetry deltas from notify_status_update.
type StatusHandler func(delta map[string]json.RawMessage, eventtime float64)

// GcodeHandler receives console lines from notify_gcode_response.
type GcodeHandler func(line string)

// Dialer opens the stream to the peer. Injected in tests.
type Dialer func() (net.Conn, error)

// Client maintains a persistent connection to Moonraker's unix socket,
// reconnecting on failure. All methods are safe for concurrent use.
type Client struct {
	dial    Dialer
	clock   clockwork.Clock
	timeout time.Duration

	onStatus    StatusHandler
	onGcode     GcodeHandler
	onReconnect func() // re-subscribe hook, runs after every reconnect

	mu      syncutil.Mutex // protects conn, pending, closing
	conn    net.Conn
	pending map[string]pendingCall
	closing bool

	writeMu syncutil.Mutex // serializes frame writes

	sweepOnce    sync.Once
	done         chan struct{}
	reconnecting atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithStatusHandler registers the telemetry delta handler.
func WithStatusHandler(h StatusHandler) Option {
	return func(c *Client) { c.onStatus = h }
}

// WithGcodeHandler registers the console line handler.
func WithGcodeHandler(h GcodeHandler) Option {
	return func(c *Client) { c.onGcode = h }
}

// WithReconnectHandler registers a hook that runs after every
// successful reconnect, once the client has re-identified itself.
func WithReconnectHandler(h func()) Option {
	return func(c *Client) { c.onReconnect = h }
}

// WithClock injects a clock for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithRequestTimeout overrides the per-call budget.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDialer overrides how the socket is opened.
func WithDialer(dial Dialer) Option {
	return func(c *Client) { c.dial = dial }
}

// NewClient returns a client for the Moonraker socket at socketPath.
func NewClient(socketPath string, opts ...Option) *Client {
	c := &Client{
		dial: func() (net.Conn, error) {
			conn, err := net.Dial("unix", socketPath)
			if err != nil {
				return nil, fmt.Errorf("failed to dial %s: %w", socketPath, err)
			}
			return conn, nil
		},
		clock:   clockwork.NewRealClock(),
		timeout: DefaultRequestTimeout,
		pending: make(map[string]pendingCall),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the socket, starts the read loop and identifies the
// client to the peer. Identification failures are non-fatal.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)

	c.identify(ctx)
	return nil
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close shuts the client down. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]pendingCall)
	c.mu.Unlock()

	close(c.done)
	for _, p := range pending {
		p.ch <- callResult{err: ErrClosed}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("failed to close rpc socket: %w", err)
		}
	}
	return nil
}

// Call performs one request/response exchange. It fails with
// ErrRequestTimeout if the peer never answers, or with the peer's
// *RPCError if it answers with an error object. The pending entry is
// removed on every outcome.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.conn == nil || c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	conn := c.conn
	c.pending[id] = pendingCall{ch: ch, issuedAt: c.clock.Now()}
	c.mu.Unlock()

	c.sweepOnce.Do(func() { go c.sweepLoop() })

	if err := c.writeFrame(conn, request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}); err != nil {
		c.removePending(id)
		go c.reconnect()
		return nil, err
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.removePending(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.clock.After(c.timeout):
		c.removePending(id)
		return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	}
}

func (c *Client) writeFrame(conn net.Conn, req request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	payload = append(payload, terminator)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// sweepLoop forcibly times out pending entries the socket never
// answered, so a dead peer cannot accumulate them without bound.
func (c *Client) sweepLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.clock.After(sweepInterval):
		}

		now := c.clock.Now()
		var stale []pendingCall
		c.mu.Lock()
		for id, p := range c.pending {
			if now.Sub(p.issuedAt) > c.timeout {
				stale = append(stale, p)
				delete(c.pending, id)
			}
		}
		c.mu.Unlock()
		for _, p := range stale {
			p.ch <- callResult{err: ErrRequestTimeout}
		}
	}
}

// readLoop parses 0x03-delimited frames until the socket dies, then
// schedules a reconnect. Pending calls are deliberately left for the
// sweep rather than force-failed, matching the peer's at-most-once
// answer semantics across brief outages.
func (c *Client) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		frame, err := reader.ReadBytes(terminator)
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			current := c.conn == conn
			c.mu.Unlock()
			if closing || !current {
				return
			}
			log.Error().Err(err).Msg("moonraker socket read failed")
			go c.reconnect()
			return
		}
		c.handleFrame(bytes.TrimSuffix(frame, []byte{terminator}))
	}
}

func (c *Client) handleFrame(frame []byte) {
	var resp response
	if err := json.Unmarshal(frame, &resp); err != nil {
		log.Warn().Err(err).Msg("undecodable rpc frame")
		return
	}

	if resp.ID != "" {
		c.mu.Lock()
		p, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			// Answer to a call that already timed out.
			log.Debug().Str("id", resp.ID).Msg("reply for unknown request id")
			return
		}
		if resp.Error != nil {
			p.ch <- callResult{err: resp.Error}
		} else {
			p.ch <- callResult{result: resp.Result}
		}
		return
	}

	switch resp.Method {
	case "notify_status_update":
		c.dispatchStatus(resp.Params)
	case "notify_gcode_response":
		c.dispatchGcode(resp.Params)
	case "":
		log.Warn().Msg("rpc frame with neither id nor method")
	default:
		log.Trace().Str("method", resp.Method).Msg("ignoring notification")
	}
}

func (c *Client) dispatchStatus(params json.RawMessage) {
	if c.onStatus == nil {
		return
	}
	// Params are [delta, eventtime].
	var parts []json.RawMessage
	if err := json.Unmarshal(params, &parts); err != nil || len(parts) == 0 {
		log.Warn().Err(err).Msg("malformed status update")
		return
	}
	var delta map[string]json.RawMessage
	if err := json.Unmarshal(parts[0], &delta); err != nil {
		log.Warn().Err(err).Msg("malformed status delta")
		return
	}
	var eventtime float64
	if len(parts) > 1 {
		_ = json.Unmarshal(parts[1], &eventtime)
	}
	c.onStatus(delta, eventtime)
}

func (c *Client) dispatchGcode(params json.RawMessage) {
	if c.onGcode == nil {
		return
	}
	var lines []string
	if err := json.Unmarshal(params, &lines); err != nil {
		log.Warn().Err(err).Msg("malformed gcode response")
		return
	}
	for _, line := range lines {
		c.onGcode(line)
	}
}

// identify introduces the client to Moonraker. A 400 means we already
// identified on this connection, which can happen after a fast
// reconnect and is harmless.
func (c *Client) identify(ctx context.Context) {
	_, err := c.Call(ctx, "server.connection.identify", map[string]any{
		"client_name": "display-connector",
		"version":     Version,
		"type":        "display",
		"url":         "https://github.com/OpenNeptune3D/display-connector",
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == 400 {
			log.Debug().Msg("already identified")
			return
		}
		log.Warn().Err(err).Msg("failed to identify to moonraker")
	}
}

// reconnect closes the dead socket and retries until the peer is back.
// Concurrent attempts are coalesced.
func (c *Client) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	closing := c.closing
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if closing {
		return
	}

	for {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}

		err := c.Connect(context.Background())
		if err == nil {
			log.Info().Msg("moonraker reconnected")
			if c.onReconnect != nil {
				c.onReconnect()
			}
			return
		}
		log.Error().Err(err).Msg("moonraker reconnect failed")
		c.clock.Sleep(reconnectDelay)
	}
}
