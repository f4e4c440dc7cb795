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

package mapping

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collector() (WriteFunc, *[]string) {
	var cmds []string
	return func(cmd string) error {
		cmds = append(cmds, cmd)
		return nil
	}, &cmds
}

func TestTemperatureLeaf(t *testing.T) {
	t.Parallel()

	tree := NewNode().Add("extruder.temperature",
		NewLeaf(Text, Temperature, "printing.extruder_temp"))
	write, cmds := collector()
	e := NewEngine(tree, write)

	e.Apply(context.Background(), map[string]any{
		"extruder": map[string]any{"temperature": 25.5},
	})

	assert.Equal(t, []string{`printing.extruder_temp.txt="25.5°C"`}, *cmds)
}

func TestLayerLeafResolvesDependency(t *testing.T) {
	t.Parallel()

	tree := NewNode().Add("print_stats.info.current_layer",
		NewLeaf(Text, Layer, "printing.layer").
			WithRequires("print_stats.info.total_layer"))
	write, cmds := collector()
	e := NewEngine(tree, write)

	// Total arrives first and is remembered in the snapshot.
	e.Apply(context.Background(), map[string]any{
		"print_stats": map[string]any{"info": map[string]any{"total_layer": 10.0}},
	})
	require.Empty(t, *cmds)

	e.Apply(context.Background(), map[string]any{
		"print_stats": map[string]any{"info": map[string]any{"current_layer": 3.0}},
	})
	assert.Equal(t, []string{`printing.layer.txt="3/10"`}, *cmds)
}

func TestLeafMirrorsAllTargets(t *testing.T) {
	t.Parallel()

	tree := NewNode().Add("heater_bed.temperature",
		NewLeaf(Text, Temperature, "main.bed_temp", "printing.bed_temp"))
	write, cmds := collector()
	e := NewEngine(tree, write)

	e.Apply(context.Background(), map[string]any{
		"heater_bed": map[string]any{"temperature": 60.0},
	})

	assert.Equal(t, []string{
		`main.bed_temp.txt="60.0°C"`,
		`printing.bed_temp.txt="60.0°C"`,
	}, *cmds)
}

func TestFailedWriteDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	tree := NewNode().
		Add("extruder.temperature", NewLeaf(Text, Temperature, "a.t")).
		Add("extruder.target", NewLeaf(Text, Temperature, "b.t"))

	var cmds []string
	e := NewEngine(tree, func(cmd string) error {
		cmds = append(cmds, cmd)
		return errors.New("widget not on page")
	})

	e.Apply(context.Background(), map[string]any{
		"extruder": map[string]any{"temperature": 200.0, "target": 210.0},
	})

	assert.Len(t, cmds, 2)
}

func TestNumericLeafCommand(t *testing.T) {
	t.Parallel()

	tree := NewNode().Add("display_status.progress",
		NewLeaf(Numeric, Percent, "printing.progress"))
	write, cmds := collector()
	e := NewEngine(tree, write)

	e.Apply(context.Background(), map[string]any{
		"display_status": map[string]any{"progress": 0.62},
	})

	assert.Equal(t, []string{"printing.progress.val=62"}, *cmds)
}

func TestBoolTelemetryRendersOnOff(t *testing.T) {
	t.Parallel()

	tree := NewNode().Add("filament_switch_sensor runout.filament_detected",
		NewLeaf(Numeric, OnOff, "settings.filament_sensor"))
	write, cmds := collector()
	e := NewEngine(tree, write)

	e.Apply(context.Background(), map[string]any{
		"filament_switch_sensor runout": map[string]any{"filament_detected": true},
	})

	assert.Equal(t, []string{"settings.filament_sensor.val=1"}, *cmds)
}

func TestSetTreeSwapsRouting(t *testing.T) {
	t.Parallel()

	write, cmds := collector()
	e := NewEngine(NewNode().Add("fan.speed", NewLeaf(Numeric, Percent, "a.fan")), write)

	e.SetTree(NewNode().Add("fan.speed", NewLeaf(Numeric, Percent, "b.fan")))
	e.Apply(context.Background(), map[string]any{
		"fan": map[string]any{"speed": 0.5},
	})

	assert.Equal(t, []string{"b.fan.val=50"}, *cmds)
}

func TestSnapshotSeedsAbsentFields(t *testing.T) {
	t.Parallel()

	tree := NewNode()
	write, _ := collector()
	e := NewEngine(tree, write)

	e.Apply(context.Background(), map[string]any{
		"print_stats": map[string]any{"filename": "x.gcode", "state": "printing"},
	})
	e.Apply(context.Background(), map[string]any{
		"print_stats": map[string]any{"state": "paused"},
	})

	name, ok := e.Snapshot("print_stats.filename")
	require.True(t, ok)
	assert.Equal(t, "x.gcode", name)
	state, _ := e.Snapshot("print_stats.state")
	assert.Equal(t, "paused", state)
}

func TestFilenameFormatter(t *testing.T) {
	t.Parallel()

	clean := regexp.MustCompile(`(.*)_.*?_(?:[0-9]+h|[0-9]+m|[0-9]+s)+\.gcode`)
	format := Filename(clean)

	assert.Equal(t, "benchy", format("gcodes/benchy_PLA_1h22m.gcode"))
	assert.Equal(t, "plain", format("plain.gcode"))
}

func TestForModelPatches(t *testing.T) {
	t.Parallel()

	tree := ForModel("N4Pro", "elegoo", ZDisplayLayer, "runout", nil)

	// Dual bed patch present.
	outer := tree.Lookup("heater_generic heater_bed_outer.temperature")
	require.NotNil(t, outer)
	require.NotEmpty(t, outer.Leaves)

	// Layer mode replaces the live Z position branch.
	assert.Nil(t, tree.Lookup("motion_report.live_position"))

	// Sensor branch renamed to the configured Klipper section.
	assert.Nil(t, tree.Lookup("filament_switch_sensor fila"))
	assert.NotNil(t, tree.Lookup("filament_switch_sensor runout"))
}
