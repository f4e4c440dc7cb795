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

package wifi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusParsesActiveNetwork(t *testing.T) {
	t.Parallel()

	n := &NMCLI{run: func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("no:Neighbor:90\nyes:Workshop:72\nno:Guest:40\n"), nil
	}}

	status, err := n.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, "Workshop", status.SSID)
	assert.Equal(t, 3, status.Signal)
}

func TestStatusWithoutActiveNetwork(t *testing.T) {
	t.Parallel()

	n := &NMCLI{run: func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("no:Neighbor:90\n"), nil
	}}

	status, err := n.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Zero(t, status.Signal)
}

func TestStatusPropagatesCommandError(t *testing.T) {
	t.Parallel()

	n := &NMCLI{run: func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return nil, errors.New("nmcli not installed")
	}}

	_, err := n.Status(context.Background())
	require.Error(t, err)
}

func TestSignalCategories(t *testing.T) {
	t.Parallel()

	cases := map[int]int{0: 0, 10: 1, 25: 2, 49: 2, 50: 3, 74: 3, 75: 4, 100: 4}
	for signal, want := range cases {
		assert.Equal(t, want, category(signal), "signal %d", signal)
	}
}
