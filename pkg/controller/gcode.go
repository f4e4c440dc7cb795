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

package controller

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/OpenNeptune3D/display-connector/pkg/config"
	"github.com/OpenNeptune3D/display-connector/pkg/display"
	"github.com/OpenNeptune3D/display-connector/pkg/nav"
	"github.com/rs/zerolog/log"
)

// levelingState tracks the active leveling flow. Klipper reports
// progress only through console output, so the controller scrapes the
// gcode response stream while a flow is running.
type levelingState struct {
	mode            string // "", "screw", "zprobe", "full_bed", "kamp"
	fullBedCols     int
	fullBedRows     int
	screwProbeCount int
	zProbeDistance  string
	meshCountX      int
	meshCountY      int
	probedCount     int
	lastPosition    string
}

// screwIndexes maps Klipper's screw names to the HMI's widget slots.
var screwIndexes = map[string]int{
	"front left screw":  0,
	"front right screw": 1,
	"rear right screw":  2,
	"rear left screw":   3,
}

// HandleGcode is the console output entry point, wired to the RPC
// client's gcode response notifications.
func (c *Controller) HandleGcode(line string) {
	if strings.HasPrefix(line, "!!") {
		log.Warn().Str("line", line).Msg("printer error output")
		return
	}

	c.mu.Lock()
	mode := c.leveling.mode
	c.mu.Unlock()

	switch mode {
	case "screw":
		c.handleScrewLine(line)
		return
	case "zprobe":
		c.handleZProbeLine(line)
		return
	}

	switch {
	case strings.Contains(line, "Adapted probe count:"):
		c.parseMeshCounts(line)
	case strings.HasPrefix(line, "// Adapted mesh bounds"):
		c.beginMeshOverlay()
	case strings.HasPrefix(line, "// probe at"):
		c.handleMeshProbe(line)
	case strings.HasPrefix(line, "// Mesh Bed Leveling Complete"):
		c.finishMeshLeveling()
	}
}

func (c *Controller) handleScrewLine(line string) {
	if strings.Contains(line, "probe at") {
		c.mu.Lock()
		c.leveling.screwProbeCount++
		count := c.leveling.screwProbeCount
		c.mu.Unlock()
		screw := int(math.Ceil(float64(count) / 3.0))
		if err := c.disp.SetText("t_status", fmt.Sprintf("Probing screw %d...", screw)); err != nil {
			log.Debug().Err(err).Msg("failed to render screw progress")
		}
		return
	}

	// "// front right screw : x,y : adjust CW 01:15" or
	// "// front left screw (base) : x,y"
	name, rest, ok := strings.Cut(strings.TrimPrefix(line, "// "), ":")
	if !ok {
		return
	}
	base := strings.Contains(name, "(base)")
	name = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(name), "(base)"))
	index, known := screwIndexes[name]
	if !known {
		return
	}
	adjust := "base"
	if !base {
		_, after, found := strings.Cut(rest, "adjust")
		if !found {
			return
		}
		adjust = strings.TrimSpace(after)
	}
	if err := c.disp.RenderScrewAdjust(index, adjust); err != nil {
		log.Debug().Err(err).Msg("failed to render screw adjustment")
	}
}

func (c *Controller) handleZProbeLine(line string) {
	if !strings.Contains(line, "Z position:") {
		return
	}
	// "// Z position: ?? --> 1.250 <-- ??"
	_, after, ok := strings.Cut(line, "->")
	if !ok {
		return
	}
	distance, _, ok := strings.Cut(after, "<-")
	if !ok {
		return
	}
	distance = strings.TrimSpace(strings.Trim(strings.TrimSpace(distance), "-<>"))

	c.mu.Lock()
	c.leveling.zProbeDistance = distance
	c.mu.Unlock()

	if err := c.disp.SetText("t_zoffset", distance); err != nil {
		log.Debug().Err(err).Msg("failed to render probe distance")
	}
}

func (c *Controller) parseMeshCounts(line string) {
	// "// Adapted probe count: (5, 5)"
	_, after, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	parts := strings.Split(after, ",")
	if len(parts) != 2 {
		return
	}
	x, errX := strconv.Atoi(strings.Trim(strings.TrimSpace(parts[0]), "()"))
	y, errY := strconv.Atoi(strings.Trim(strings.TrimSpace(parts[1]), "()"))
	if errX != nil || errY != nil {
		return
	}
	c.mu.Lock()
	c.leveling.meshCountX = x
	c.leveling.meshCountY = y
	c.mu.Unlock()
}

// beginMeshOverlay switches to the mesh overlay when adaptive leveling
// starts mid-print.
func (c *Controller) beginMeshOverlay() {
	c.mu.Lock()
	if c.leveling.mode == "" {
		c.leveling.mode = "kamp"
	}
	c.leveling.probedCount = 0
	c.leveling.lastPosition = ""
	c.mu.Unlock()

	if c.machine.Current() == nav.PagePrintingKAMP {
		return
	}
	if err := c.machine.Navigate(nav.PagePrintingKAMP, true); err != nil && !errors.Is(err, nav.ErrBlocked) {
		log.Error().Err(err).Msg("failed to show leveling overlay")
	}
}

func (c *Controller) handleMeshProbe(line string) {
	if c.machine.Current() != nav.PagePrintingKAMP {
		// Manual probe from the console; not our flow.
		return
	}
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return
	}
	position := fields[3]

	c.mu.Lock()
	if position == c.leveling.lastPosition {
		c.mu.Unlock()
		return
	}
	c.leveling.lastPosition = position
	c.leveling.probedCount++
	probed := c.leveling.probedCount
	total := c.leveling.meshCountX * c.leveling.meshCountY
	c.mu.Unlock()

	if probed > 1 {
		if err := c.disp.MarkKAMPPoint(probed-2, display.KAMPProbed); err != nil {
			log.Debug().Err(err).Msg("failed to mark probed point")
		}
	}
	if err := c.disp.MarkKAMPPoint(probed-1, display.KAMPActive); err != nil {
		log.Debug().Err(err).Msg("failed to mark active point")
	}
	if err := c.disp.KAMPText(fmt.Sprintf("Probing... (%d/%d)", probed, total)); err != nil {
		log.Debug().Err(err).Msg("failed to render probe progress")
	}
}

// finishMeshLeveling ends the mesh flow. With bed_leveling_return set
// to "auto" the UI returns to the printing page on its own; "confirm"
// keeps the overlay up until the operator taps SAVE.
func (c *Controller) finishMeshLeveling() {
	if c.machine.Current() != nav.PagePrintingKAMP {
		return
	}

	c.mu.Lock()
	mode := c.leveling.mode
	c.leveling.mode = ""
	c.leveling.probedCount = 0
	c.mu.Unlock()

	if mode == "full_bed" || c.cfg.LevelingReturn() == config.LevelingReturnConfirm {
		// Keep the mesh on screen; saveLevelingConfig releases the
		// interlock when the operator confirms.
		if err := c.disp.KAMPText("Leveling complete"); err != nil {
			log.Debug().Err(err).Msg("failed to render completion")
		}
		return
	}

	c.machine.SetLevelingActive(false)
	if err := c.machine.Navigate(nav.PagePrinting, true); err != nil && !errors.Is(err, nav.ErrBlocked) {
		log.Error().Err(err).Msg("failed to return to printing page")
	}
}

// StartScrewLeveling kicks off the screws tune flow and arms the
// console scraper for it.
func (c *Controller) StartScrewLeveling() {
	c.mu.Lock()
	c.leveling.mode = "screw"
	c.leveling.screwProbeCount = 0
	c.mu.Unlock()
	c.sendGcode("BED_LEVEL_SCREWS_TUNE")
}

// StartZProbeCalibration begins interactive z offset calibration.
func (c *Controller) StartZProbeCalibration() {
	c.mu.Lock()
	if c.leveling.mode == "zprobe" {
		c.mu.Unlock()
		return
	}
	c.leveling.mode = "zprobe"
	c.leveling.zProbeDistance = "0.0"
	c.mu.Unlock()
	c.sendGcode("CALIBRATE_PROBE_Z_OFFSET")
}
