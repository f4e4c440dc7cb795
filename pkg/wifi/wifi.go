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

// Package wifi probes the host's wireless status for the settings
// screen, shelling out to NetworkManager.
package wifi

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Status is one wireless snapshot. Signal is a 0..4 bar category, not a
// raw percentage; the panel only has five signal icons.
type Status struct {
	SSID      string
	Signal    int
	Connected bool
}

// Prober reports the current wireless status.
type Prober interface {
	Status(ctx context.Context) (Status, error)
}

// CommandRunner executes an external command. Injected in tests.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return out, nil
}

// NMCLI probes via `nmcli dev wifi`.
type NMCLI struct {
	run CommandRunner
}

// NewNMCLI returns the default prober.
func NewNMCLI() *NMCLI {
	return &NMCLI{run: defaultRunner}
}

var _ Prober = (*NMCLI)(nil)

// Status lists visible networks in terse mode and picks the active one.
func (n *NMCLI) Status(ctx context.Context) (Status, error) {
	out, err := n.run(ctx, "nmcli", "-t", "-f", "ACTIVE,SSID,SIGNAL", "dev", "wifi")
	if err != nil {
		return Status{}, err
	}
	return parseNMCLI(string(out)), nil
}

func parseNMCLI(out string) Status {
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), ":", 3)
		if len(parts) != 3 || parts[0] != "yes" {
			continue
		}
		signal, _ := strconv.Atoi(parts[2])
		return Status{
			Connected: true,
			SSID:      parts[1],
			Signal:    category(signal),
		}
	}
	return Status{}
}

// category buckets a 0..100 signal into the panel's five bar icons.
func category(signal int) int {
	switch {
	case signal >= 75:
		return 4
	case signal >= 50:
		return 3
	case signal >= 25:
		return 2
	case signal > 0:
		return 1
	default:
		return 0
	}
}
