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
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Z display modes for the printing page.
const (
	ZDisplayMM    = "mm"
	ZDisplayLayer = "layer"
)

// elegooPages maps logical pages to the wire page numbers of the stock
// Elegoo firmware, whose widgets are addressed positionally.
var elegooPages = map[string]int{
	"main":              1,
	"files":             2,
	"leveling":          3,
	"prepare_move":      8,
	"prepare_temp":      9,
	"prepare_extruder":  10,
	"settings":          11,
	"printing":          19,
	"printing_filament": 27,
	"printing_adjust":   127,
	"printing_speed":    135,
	"printing_kamp":     104,
	"overlay_loading":   130,
}

// elegoo addresses a widget on the stock firmware by page and
// component number.
func elegoo(page string, component int) string {
	return fmt.Sprintf("p[%d].b[%d]", elegooPages[page], component)
}

// named addresses a widget on the OpenNeptune firmware, which exposes
// proper object names.
func named(page, widget string) string {
	return page + "." + widget
}

type addressFunc func(page string, widget string, component int) string

// base builds the model-independent mapping shared by every display
// variant. addr decides the address style.
func base(addr addressFunc, clean *regexp.Regexp) *Node {
	tree := NewNode()

	tree.Add("extruder.temperature",
		NewLeaf(Text, Temperature,
			addr("main", "extruder_temp", 5),
			addr("printing", "extruder_temp", 11),
			addr("prepare_temp", "extruder_temp", 3)))
	tree.Add("extruder.target",
		NewLeaf(Text, Temperature,
			addr("printing", "extruder_target", 12)))

	tree.Add("heater_bed.temperature",
		NewLeaf(Text, Temperature,
			addr("main", "bed_temp", 6),
			addr("printing", "bed_temp", 13),
			addr("prepare_temp", "bed_temp", 4)))
	tree.Add("heater_bed.target",
		NewLeaf(Text, Temperature,
			addr("printing", "bed_target", 14)))

	tree.Add("fan.speed",
		NewLeaf(Numeric, Percent,
			addr("printing", "fan_speed", 15)))

	tree.Add("display_status.progress",
		NewLeaf(Numeric, Percent,
			addr("main", "progress", 12),
			addr("printing", "progress", 22)))
	tree.Add("display_status.message",
		NewLeaf(Text, nil,
			addr("printing", "message", 23)))

	tree.Add("print_stats.filename",
		NewLeaf(Text, Filename(clean),
			addr("main", "filename", 11),
			addr("printing", "filename", 10)))
	tree.Add("print_stats.print_duration",
		NewLeaf(Text, Duration,
			addr("printing", "elapsed", 20)))
	tree.Add("print_stats.info.current_layer",
		NewLeaf(Text, Layer,
			addr("printing", "layer", 21)).
			WithRequires("print_stats.info.total_layer"))

	tree.Add("motion_report.live_position",
		NewLeaf(Text, ZFromPosition,
			addr("printing", "z_pos", 24)))

	tree.Add("gcode_move.speed_factor",
		NewLeaf(Text, SpeedFactor,
			addr("printing_speed", "speed", 3)))
	tree.Add("gcode_move.extrude_factor",
		NewLeaf(Text, SpeedFactor,
			addr("printing_speed", "flow", 4)))

	tree.Add("output_pin Part_Light.value",
		NewLeaf(Numeric, OnOff,
			addr("settings", "part_light", 5)))
	tree.Add("output_pin Frame_Light.value",
		NewLeaf(Numeric, OnOff,
			addr("settings", "frame_light", 6)))

	tree.Add("filament_switch_sensor fila.filament_detected",
		NewLeaf(Numeric, OnOff,
			addr("settings", "filament_sensor", 7)))

	return tree
}

// ElegooTree is the mapping for stock Elegoo firmware panels.
func ElegooTree(clean *regexp.Regexp) *Node {
	return base(func(page, _ string, component int) string {
		return elegoo(page, component)
	}, clean)
}

// OpenNeptuneTree is the mapping for the OpenNeptune firmware, which
// addresses widgets by name.
func OpenNeptuneTree(clean *regexp.Regexp) *Node {
	return base(func(page, widget string, _ int) string {
		return named(page, widget)
	}, clean)
}

// PatchDualBed adds the outer bed heater branch. The N4Pro splits its
// bed into an inner and an outer zone; the outer reports as a generic
// heater.
func PatchDualBed(tree *Node, addrNamed bool) {
	onMain := "p[1].b[7]"
	onPrinting := "p[19].b[16]"
	if addrNamed {
		onMain = named("main", "outer_bed_temp")
		onPrinting = named("printing", "outer_bed_temp")
	}
	tree.Add("heater_generic heater_bed_outer.temperature",
		NewLeaf(Text, Temperature, onMain, onPrinting))
}

// PatchZDisplay switches the printing page's Z widget between live
// height (the default) and layer progress.
func PatchZDisplay(tree *Node, mode string, addrNamed bool) {
	if mode != ZDisplayLayer {
		return
	}
	target := "p[19].b[24]"
	if addrNamed {
		target = named("printing", "z_pos")
	}
	tree.Remove("motion_report.live_position")
	tree.Add("print_stats.info.current_layer",
		NewLeaf(Text, Layer, target).
			WithRequires("print_stats.info.total_layer"))
}

// PatchFilamentSensor renames the filament sensor branch to the name
// configured in the printer's Klipper config.
func PatchFilamentSensor(tree *Node, sensor string) {
	if sensor == "" || sensor == "fila" {
		return
	}
	tree.Rename("filament_switch_sensor fila", "filament_switch_sensor "+sensor)
}

// ForModel builds the mapping tree for a printer model and display
// firmware combination, applying the model patches.
func ForModel(model, displayType, zDisplay, filamentSensor string, clean *regexp.Regexp) *Node {
	namedStyle := strings.EqualFold(displayType, "openneptune")

	var tree *Node
	if namedStyle {
		tree = OpenNeptuneTree(clean)
	} else {
		tree = ElegooTree(clean)
	}

	if strings.EqualFold(model, "n4pro") {
		PatchDualBed(tree, namedStyle)
	}
	if zDisplay != "" {
		PatchZDisplay(tree, zDisplay, namedStyle)
	}
	PatchFilamentSensor(tree, filamentSensor)
	return tree
}

// CompileClean prefers the print screen override over the general
// pattern. A broken pattern is logged and ignored rather than fatal.
func CompileClean(general, override string) *regexp.Regexp {
	pattern := general
	if override != "" {
		pattern = override
	}
	if pattern == "" {
		return nil
	}
	clean, err := regexp.Compile(pattern)
	if err != nil {
		log.Warn().Err(err).Str("pattern", pattern).Msg("invalid clean filename regex")
		return nil
	}
	return clean
}
