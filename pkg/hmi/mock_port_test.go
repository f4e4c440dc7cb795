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
	"errors"
	"strings"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/helpers/syncutil"
)

// mockPort is an in-memory serial port. With autoAck set it answers
// every write with the given return code frame, imitating a panel
// running with bkcmd=3.
type mockPort struct {
	mu      syncutil.Mutex
	rx      []byte
	writes  []string
	closed  bool
	autoAck bool
	ackCode byte
}

func newMockPort(autoAck bool) *mockPort {
	return &mockPort{autoAck: autoAck, ackCode: 0x01}
}

func (m *mockPort) Read(p []byte) (int, error) {
	for i := 0; i < 100; i++ {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, errors.New("port closed")
		}
		if len(m.rx) > 0 {
			n := copy(p, m.rx)
			m.rx = m.rx[n:]
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	return 0, nil // read timeout
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("port closed")
	}
	m.writes = append(m.writes, strings.TrimSuffix(string(p), "\xff\xff\xff"))
	if m.autoAck {
		m.rx = append(m.rx, m.ackCode, 0xFF, 0xFF, 0xFF)
	}
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (*mockPort) SetReadTimeout(_ time.Duration) error {
	return nil
}

// push queues raw bytes for the client to read, as if the panel sent
// them unprompted.
func (m *mockPort) push(b []byte) {
	m.mu.Lock()
	m.rx = append(m.rx, b...)
	m.mu.Unlock()
}

func (m *mockPort) written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}
