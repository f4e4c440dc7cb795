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

// Package hmi owns the serial connection to the touchscreen panel:
// connect with baud rate probing, command/reply exchange with a
// blocking-key write queue, and delivery of decoded panel events to a
// registered handler.
package hmi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/helpers/syncutil"
	"github.com/OpenNeptune3D/display-connector/pkg/tjc"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

var (
	// ErrLinkTimeout means a command went unanswered within its budget.
	// The client schedules a reconnect when this happens.
	ErrLinkTimeout = errors.New("panel did not answer in time")

	// ErrTransportClosed means the serial link is not currently open.
	ErrTransportClosed = errors.New("serial link closed")
)

const (
	// DefaultWriteTimeout bounds a command/reply exchange when the
	// caller does not supply its own budget.
	DefaultWriteTimeout = 5 * time.Second

	// BlockKeyNavigation serializes page changes against every other
	// write so commands cannot land on the wrong page mid-transition.
	BlockKeyNavigation = "navigation"

	probeTimeout   = 1 * time.Second
	initTimeout    = 2 * time.Second
	settleDelay    = 200 * time.Millisecond
	reconnectDelay = 1 * time.Second
	readTimeout    = 100 * time.Millisecond
)

// baudRates are tried in priority order at connect time. 115200 is what
// every stock panel ships with, the rest cover reflashed firmwares.
var baudRates = []int{115200, 9600, 57600, 38400, 19200, 4800, 2400, 921600, 460800, 230400}

// EventHandler receives every asynchronous panel event, including the
// synthetic reconnect notification.
type EventHandler func(msg tjc.Message)

type queuedWrite struct {
	cmd     string
	key     string
	timeout time.Duration
}

// Client is the HMI transport. Writes that share no blocking key are
// serialized only by the physical link; writes under a blocking key
// additionally keep unrelated commands queued until the key is released.
type Client struct {
	path        string
	handler     EventHandler
	portFactory SerialPortFactory
	clock       clockwork.Clock

	mu            syncutil.Mutex // protects port, blockKey, queue, everConnected, closing
	port          SerialPort
	blockKey      string
	queue         []queuedWrite
	everConnected bool
	closing       bool

	linkMu  syncutil.Mutex // serializes command/reply exchanges on the wire
	replies chan tjc.Reply

	reconnecting atomic.Bool
}

// NewClient returns a transport for the panel at path. Connect must be
// called before any write.
func NewClient(path string, handler EventHandler) *Client {
	return &Client{
		path:        path,
		handler:     handler,
		portFactory: DefaultSerialPortFactory,
		clock:       clockwork.NewRealClock(),
		replies:     make(chan tjc.Reply, 8),
	}
}

// Connect probes the candidate baud rates until the panel answers, then
// initializes the link. On anything but the first connect a reconnect
// event is synthesized to the handler.
func (c *Client) Connect() error {
	for _, baud := range baudRates {
		port, err := c.portFactory(c.path, &serial.Mode{BaudRate: baud})
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", c.path, err)
		}
		if err := port.SetReadTimeout(readTimeout); err != nil {
			_ = port.Close()
			return fmt.Errorf("failed to set read timeout: %w", err)
		}

		alive := make(chan struct{})
		c.mu.Lock()
		c.port = port
		c.mu.Unlock()
		go c.readLoop(port, alive)

		if _, err := port.Write(tjc.EncodeCommand("connect")); err != nil {
			log.Debug().Err(err).Int("baud", baud).Msg("probe write failed")
			c.dropPort(port)
			continue
		}

		select {
		case <-alive:
		case <-c.clock.After(probeTimeout):
			log.Debug().Int("baud", baud).Msg("no answer, trying next baud rate")
			c.dropPort(port)
			continue
		}

		log.Info().Str("device", c.path).Int("baud", baud).Msg("panel connected")

		// Full return codes make every write awaitable. Some firmwares
		// never acknowledge this one, which is fine.
		if _, err := c.command("bkcmd=3", initTimeout); err != nil && !errors.Is(err, ErrLinkTimeout) {
			log.Warn().Err(err).Msg("link init failed")
		}
		if _, err := c.command("get sleep", initTimeout); err != nil {
			log.Debug().Err(err).Msg("sleep state query failed")
		}

		c.mu.Lock()
		reconnected := c.everConnected
		c.everConnected = true
		c.mu.Unlock()
		if reconnected && c.handler != nil {
			c.handler(tjc.LifecycleEvent{Type: tjc.EventReconnected})
		}
		return nil
	}
	return fmt.Errorf("no panel found on %s at any baud rate", c.path)
}

func (c *Client) dropPort(port SerialPort) {
	c.mu.Lock()
	if c.port == port {
		c.port = nil
	}
	c.mu.Unlock()
	_ = port.Close()
}

// Connected reports whether the serial link is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Close tears the link down for good. No reconnect is attempted.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	port := c.port
	c.port = nil
	c.mu.Unlock()
	if port != nil {
		if err := port.Close(); err != nil {
			return fmt.Errorf("failed to close serial port: %w", err)
		}
	}
	return nil
}

// Write sends a panel instruction and awaits its acknowledgement. If a
// foreign blocking key is held the command is queued and sent after the
// key is released; queueing is not an error and the queued command's
// outcome is only logged. Supplying a key claims the block for the
// duration of the call when no key is held.
func (c *Client) Write(cmd string, timeout time.Duration, key string) error {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	c.mu.Lock()
	if c.blockKey != "" && c.blockKey != key {
		c.queue = append(c.queue, queuedWrite{cmd: cmd, key: key, timeout: timeout})
		c.mu.Unlock()
		return nil
	}
	claimed := false
	if key != "" && c.blockKey == "" {
		c.blockKey = key
		claimed = true
	}
	c.mu.Unlock()

	err := c.send(cmd, timeout)
	if claimed {
		c.release()
	}
	return err
}

// NavigateTo issues a page change under the navigation blocking key and
// holds the block through a short settle delay. The panel needs idle
// time after a page swap before further commands are reliable.
func (c *Client) NavigateTo(pageAddr string) error {
	cmd := "page " + pageAddr

	c.mu.Lock()
	if c.blockKey != "" && c.blockKey != BlockKeyNavigation {
		c.queue = append(c.queue, queuedWrite{cmd: cmd, key: BlockKeyNavigation, timeout: DefaultWriteTimeout})
		c.mu.Unlock()
		return nil
	}
	claimed := false
	if c.blockKey == "" {
		c.blockKey = BlockKeyNavigation
		claimed = true
	}
	c.mu.Unlock()

	err := c.send(cmd, DefaultWriteTimeout)
	if err == nil {
		c.clock.Sleep(settleDelay)
	}
	if claimed {
		c.release()
	}
	return err
}

// Get evaluates an expression on the panel and returns the raw reply.
func (c *Client) Get(expr string, timeout time.Duration) (tjc.Reply, error) {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	reply, err := c.command("get "+expr, timeout)
	if err != nil {
		if errors.Is(err, ErrLinkTimeout) {
			go c.reconnect()
		}
		return nil, err
	}
	return reply, nil
}

// send performs one command/reply exchange and schedules a reconnect on
// timeout. A "variable not found" return code is expected when a
// background update races a page change and is swallowed.
func (c *Client) send(cmd string, timeout time.Duration) error {
	reply, err := c.command(cmd, timeout)
	if err != nil {
		if errors.Is(err, ErrLinkTimeout) {
			go c.reconnect()
		}
		return err
	}
	if len(reply) > 0 && reply[0] == tjc.ReplyInvalidVariable {
		log.Debug().Str("cmd", cmd).Msg("target widget not on current page")
	}
	return nil
}

// command is the raw exchange: write the framed instruction, await one
// reply. It never triggers a reconnect itself.
func (c *Client) command(cmd string, timeout time.Duration) (tjc.Reply, error) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()

	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return nil, ErrTransportClosed
	}

	// A reply left over from a previous timed-out exchange would be
	// mis-correlated. Drain before sending.
	for {
		select {
		case <-c.replies:
			continue
		default:
		}
		break
	}

	if _, err := port.Write(tjc.EncodeCommand(cmd)); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}

	select {
	case reply := <-c.replies:
		return reply, nil
	case <-c.clock.After(timeout):
		return nil, fmt.Errorf("%q: %w", cmd, ErrLinkTimeout)
	}
}

// release frees the blocking key and drains the queue accumulated while
// it was held.
func (c *Client) release() {
	c.mu.Lock()
	c.blockKey = ""
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.blockKey != "" || len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		w := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.Write(w.cmd, w.timeout, w.key); err != nil {
			log.Error().Err(err).Str("cmd", w.cmd).Msg("failed to send queued command")
		}
	}
}

// readLoop pumps the port into the decoder, fanning replies to the
// pending exchange and events to the handler. The first decoded message
// closes alive, which is how baud probing detects a live link.
func (c *Client) readLoop(port SerialPort, alive chan struct{}) {
	var first sync.Once
	var dec tjc.Decoder
	buf := make([]byte, 1024)

	for {
		n, err := port.Read(buf)
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			current := c.port == port
			c.mu.Unlock()
			if closing || !current {
				return
			}
			log.Error().Err(err).Msg("failed to read from serial port")
			go c.reconnect()
			return
		}
		if n == 0 {
			continue
		}

		msgs, err := dec.Feed(buf[:n])
		if err != nil {
			log.Warn().Err(err).Msg("dropping serial buffer")
		}
		for _, msg := range msgs {
			first.Do(func() { close(alive) })
			switch m := msg.(type) {
			case tjc.Reply:
				select {
				case c.replies <- m:
				default:
					log.Debug().Hex("reply", m).Msg("unsolicited panel reply")
				}
			default:
				if c.handler != nil {
					c.handler(m)
				}
			}
		}
	}
}

// reconnect closes the current port and retries Connect until it
// succeeds or the client is shut down. Concurrent calls are coalesced.
func (c *Client) reconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	c.mu.Lock()
	port := c.port
	c.port = nil
	closing := c.closing
	c.mu.Unlock()
	if port != nil {
		_ = port.Close()
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
		err := c.Connect()
		if err == nil {
			return
		}
		log.Error().Err(err).Msg("panel reconnect failed")
		c.clock.Sleep(reconnectDelay)
	}
}
