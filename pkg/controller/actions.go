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
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/mapping"
	"github.com/OpenNeptune3D/display-connector/pkg/nav"
	"github.com/OpenNeptune3D/display-connector/pkg/tjc"
	"github.com/rs/zerolog/log"
)

const actionTimeout = 30 * time.Second

type actionKey struct {
	page      nav.PageID
	component uint8
}

type actionFunc func(c *Controller)

// touchActions maps a (page, component) press to its handler. Component
// ids follow the panel HMI layout and are identical on both firmwares.
var touchActions = map[actionKey]actionFunc{
	// Main
	{nav.PageMain, 1}: func(c *Controller) { c.navigate(nav.PageFiles) },
	{nav.PageMain, 2}: func(c *Controller) { c.navigate(nav.PagePrepareMove) },
	{nav.PageMain, 3}: func(c *Controller) { c.navigate(nav.PageSettings) },
	{nav.PageMain, 4}: func(c *Controller) { c.navigate(nav.PageLeveling) },

	// File picker
	{nav.PageFiles, 1}:  func(c *Controller) { c.filesPage(-1) },
	{nav.PageFiles, 2}:  func(c *Controller) { c.filesPage(+1) },
	{nav.PageFiles, 7}:  func(c *Controller) { c.openFile(0) },
	{nav.PageFiles, 8}:  func(c *Controller) { c.openFile(1) },
	{nav.PageFiles, 9}:  func(c *Controller) { c.openFile(2) },
	{nav.PageFiles, 10}: func(c *Controller) { c.openFile(3) },
	{nav.PageFiles, 11}: func(c *Controller) { c.openFile(4) },

	// Leveling picker
	{nav.PageLeveling, 7}: func(c *Controller) { c.navigate(nav.PageLevelingScrew) },
	{nav.PageLeveling, 8}: func(c *Controller) { c.navigate(nav.PageLevelingZOffset) },
	{nav.PageLeveling, 9}: func(c *Controller) { c.beginFullBedLevel() },

	// Prepare: move
	{nav.PagePrepareMove, 1}:  func(c *Controller) { c.setMoveDistance("0.1") },
	{nav.PagePrepareMove, 2}:  func(c *Controller) { c.setMoveDistance("1") },
	{nav.PagePrepareMove, 3}:  func(c *Controller) { c.setMoveDistance("10") },
	{nav.PagePrepareMove, 4}:  func(c *Controller) { c.sendGcode("G28 X") },
	{nav.PagePrepareMove, 5}:  func(c *Controller) { c.sendGcode("G28 Y") },
	{nav.PagePrepareMove, 6}:  func(c *Controller) { c.moveAxis("Z", "+") },
	{nav.PagePrepareMove, 7}:  func(c *Controller) { c.moveAxis("Y", "-") },
	{nav.PagePrepareMove, 8}:  func(c *Controller) { c.moveAxis("X", "+") },
	{nav.PagePrepareMove, 9}:  func(c *Controller) { c.moveAxis("X", "-") },
	{nav.PagePrepareMove, 10}: func(c *Controller) { c.moveAxis("Y", "+") },
	{nav.PagePrepareMove, 11}: func(c *Controller) { c.moveAxis("Z", "-") },
	{nav.PagePrepareMove, 12}: func(c *Controller) { c.sendGcode("G28") },
	{nav.PagePrepareMove, 13}: func(c *Controller) { c.sendGcode("G28 Z") },
	{nav.PagePrepareMove, 14}: func(c *Controller) { c.sendGcode("M84") },
	{nav.PagePrepareMove, 15}: func(c *Controller) { c.navigate(nav.PagePrepareTemp) },
	{nav.PagePrepareMove, 16}: func(c *Controller) { c.navigate(nav.PagePrepareExtruder) },

	// Prepare: temperature
	{nav.PagePrepareTemp, 1}: func(c *Controller) { c.sendGcode("SET_HEATER_TEMPERATURE HEATER=extruder") },
	{nav.PagePrepareTemp, 2}: func(c *Controller) { c.sendGcode("SET_HEATER_TEMPERATURE HEATER=heater_bed") },
	{nav.PagePrepareTemp, 3}: func(c *Controller) { c.presetTemps("pla") },
	{nav.PagePrepareTemp, 4}: func(c *Controller) { c.presetTemps("abs") },
	{nav.PagePrepareTemp, 5}: func(c *Controller) { c.presetTemps("petg") },
	{nav.PagePrepareTemp, 6}: func(c *Controller) { c.presetTemps("tpu") },
	{nav.PagePrepareTemp, 7}: func(c *Controller) { c.navigate(nav.PagePrepareMove) },
	{nav.PagePrepareTemp, 8}: func(c *Controller) { c.navigate(nav.PagePrepareExtruder) },

	// Prepare: extruder
	{nav.PagePrepareExtruder, 1}: func(c *Controller) { c.extrudeFilament("+") },
	{nav.PagePrepareExtruder, 2}: func(c *Controller) { c.extrudeFilament("-") },
	{nav.PagePrepareExtruder, 3}: func(c *Controller) { c.navigate(nav.PagePrepareMove) },
	{nav.PagePrepareExtruder, 4}: func(c *Controller) { c.navigate(nav.PagePrepareTemp) },

	// Settings
	{nav.PageSettings, 1}: func(c *Controller) { c.navigate(nav.PageSettingsLanguage) },
	{nav.PageSettings, 2}: func(c *Controller) { c.navigate(nav.PageSettingsTemperature) },
	{nav.PageSettings, 3}: func(c *Controller) { c.toggleLight("Part_Light") },
	{nav.PageSettings, 4}: func(c *Controller) { c.toggleFan() },
	{nav.PageSettings, 5}: func(c *Controller) { c.sendGcode("M84") },
	{nav.PageSettings, 6}: func(c *Controller) { c.toggleFilamentSensor() },

	// Settings: temperature presets
	{nav.PageSettingsTemperature, 1}: func(c *Controller) { c.presetTemps("pla") },
	{nav.PageSettingsTemperature, 2}: func(c *Controller) { c.presetTemps("abs") },
	{nav.PageSettingsTemperature, 3}: func(c *Controller) { c.presetTemps("petg") },
	{nav.PageSettingsTemperature, 4}: func(c *Controller) { c.presetTemps("tpu") },

	// Confirm print
	{nav.PageConfirmPrint, 0}: func(c *Controller) { c.printOpenedFile() },
	{nav.PageConfirmPrint, 1}: func(c *Controller) { c.goBack() },

	// Printing
	{nav.PagePrinting, 0}: func(c *Controller) { c.navigate(nav.PagePrintingFilament) },
	{nav.PagePrinting, 1}: func(c *Controller) { c.pauseResume() },
	{nav.PagePrinting, 2}: func(c *Controller) { c.stopPrint() },
	{nav.PagePrinting, 3}: func(c *Controller) { c.toggleLight("Part_Light") },
	{nav.PagePrinting, 4}: func(c *Controller) { c.emergencyStop() },
	{nav.PagePrinting, 5}: func(c *Controller) { c.navigate(nav.PagePrintingSpeed) },
	{nav.PagePrinting, 6}: func(c *Controller) { c.navigate(nav.PagePrintingAdjust) },

	// Print completed
	{nav.PagePrintingComplete, 0}: func(c *Controller) { c.confirmComplete() },
	{nav.PagePrintingComplete, 1}: func(c *Controller) { c.printOpenedFile() },

	// Printing: heater targets
	{nav.PagePrintingFilament, 1}:  func(c *Controller) { c.selectHeater("extruder") },
	{nav.PagePrintingFilament, 2}:  func(c *Controller) { c.selectHeater("heater_bed") },
	{nav.PagePrintingFilament, 3}:  func(c *Controller) { c.setTempIncrement(1) },
	{nav.PagePrintingFilament, 4}:  func(c *Controller) { c.setTempIncrement(5) },
	{nav.PagePrintingFilament, 5}:  func(c *Controller) { c.setTempIncrement(10) },
	{nav.PagePrintingFilament, 6}:  func(c *Controller) { c.adjustTemp(-1) },
	{nav.PagePrintingFilament, 7}:  func(c *Controller) { c.adjustTemp(+1) },
	{nav.PagePrintingFilament, 8}:  func(c *Controller) { c.resetTemp() },
	{nav.PagePrintingFilament, 9}:  func(c *Controller) { c.selectHeater("heater_bed_outer") },
	{nav.PagePrintingFilament, 12}: func(c *Controller) { c.navigate(nav.PagePrintingSpeed) },
	{nav.PagePrintingFilament, 13}: func(c *Controller) { c.navigate(nav.PagePrintingAdjust) },

	// Printing: z offset and toggles
	{nav.PagePrintingAdjust, 1}:  func(c *Controller) { c.setZOffsetIncrement("0.01") },
	{nav.PagePrintingAdjust, 2}:  func(c *Controller) { c.setZOffsetIncrement("0.1") },
	{nav.PagePrintingAdjust, 3}:  func(c *Controller) { c.setZOffsetIncrement("1") },
	{nav.PagePrintingAdjust, 4}:  func(c *Controller) { c.adjustZOffset("+") },
	{nav.PagePrintingAdjust, 5}:  func(c *Controller) { c.adjustZOffset("-") },
	{nav.PagePrintingAdjust, 7}:  func(c *Controller) { c.toggleLight("Frame_Light") },
	{nav.PagePrintingAdjust, 8}:  func(c *Controller) { c.toggleFilamentSensor() },
	{nav.PagePrintingAdjust, 9}:  func(c *Controller) { c.navigate(nav.PagePrintingFilament) },
	{nav.PagePrintingAdjust, 10}: func(c *Controller) { c.navigate(nav.PagePrintingSpeed) },

	// Printing: speed, flow, fan
	{nav.PagePrintingSpeed, 1}:  func(c *Controller) { c.selectSpeedType("print") },
	{nav.PagePrintingSpeed, 2}:  func(c *Controller) { c.selectSpeedType("flow") },
	{nav.PagePrintingSpeed, 3}:  func(c *Controller) { c.selectSpeedType("fan") },
	{nav.PagePrintingSpeed, 4}:  func(c *Controller) { c.setSpeedIncrement(1) },
	{nav.PagePrintingSpeed, 5}:  func(c *Controller) { c.setSpeedIncrement(5) },
	{nav.PagePrintingSpeed, 6}:  func(c *Controller) { c.setSpeedIncrement(10) },
	{nav.PagePrintingSpeed, 7}:  func(c *Controller) { c.adjustSpeed(-1) },
	{nav.PagePrintingSpeed, 8}:  func(c *Controller) { c.adjustSpeed(+1) },
	{nav.PagePrintingSpeed, 9}:  func(c *Controller) { c.resetSpeed() },
	{nav.PagePrintingSpeed, 12}: func(c *Controller) { c.navigate(nav.PagePrintingFilament) },
	{nav.PagePrintingSpeed, 13}: func(c *Controller) { c.navigate(nav.PagePrintingAdjust) },

	// Screw leveling
	{nav.PageLevelingScrew, 5}: func(c *Controller) { c.retryScrewLeveling() },

	// Z probe calibration
	{nav.PageLevelingZOffset, 0}: func(c *Controller) { c.abortZProbe() },
	{nav.PageLevelingZOffset, 1}: func(c *Controller) { c.setZProbeStep("0.01") },
	{nav.PageLevelingZOffset, 2}: func(c *Controller) { c.setZProbeStep("0.1") },
	{nav.PageLevelingZOffset, 3}: func(c *Controller) { c.setZProbeStep("1") },
	{nav.PageLevelingZOffset, 5}: func(c *Controller) { c.adjustZProbe("+") },
	{nav.PageLevelingZOffset, 6}: func(c *Controller) { c.adjustZProbe("-") },
	{nav.PageLevelingZOffset, 7}: func(c *Controller) { c.saveZProbe() },
}

// touchRegion is a rectangle on pages that only report raw coordinates.
type touchRegion struct {
	x0, y0, x1, y1 uint16
	action         actionFunc
}

// coordinateActions covers widgets the HMI never wired to touch events.
// Regions are checked in order, first hit wins.
var coordinateActions = map[nav.PageID][]touchRegion{
	nav.PageMain: {
		{200, 0, 260, 50, func(c *Controller) { c.navigate(nav.PageShutdownDialog) }},
	},
	nav.PageShutdownDialog: {
		{24, 104, 248, 154, func(c *Controller) { c.shutdownHost() }},
		{24, 158, 248, 208, func(c *Controller) { c.rebootHost() }},
		{24, 212, 248, 262, func(c *Controller) { c.rebootKlipper() }},
		{0, 0, 272, 480, func(c *Controller) { c.goBack() }},
	},
	nav.PagePrintingKAMP: {
		{40, 400, 230, 450, func(c *Controller) { c.saveLevelingConfig() }},
	},
}

func (c *Controller) handleTouch(ev tjc.TouchEvent) {
	page, ok := c.disp.PageForWire(ev.Page)
	if !ok {
		log.Debug().Uint8("page", ev.Page).Uint8("component", ev.Component).
			Msg("touch on unknown page")
		return
	}
	action, ok := touchActions[actionKey{page, ev.Component}]
	if !ok {
		log.Debug().Str("page", string(page)).Uint8("component", ev.Component).
			Msg("unbound touch")
		return
	}
	action(c)
}

// HandleCoordinate resolves raw touch coordinates against the current
// page's regions. Called for awake coordinate events.
func (c *Controller) handleCoordinate(ev tjc.TouchCoordinateEvent) {
	if ev.Phase != 1 {
		// Only releases trigger region actions.
		return
	}
	current := c.machine.Current()
	for _, region := range coordinateActions[current] {
		if ev.X >= region.x0 && ev.X <= region.x1 && ev.Y >= region.y0 && ev.Y <= region.y1 {
			region.action(c)
			return
		}
	}
}

func (c *Controller) handleInput(ev tjc.InputEvent) {
	page, ok := c.disp.PageForWire(ev.Page)
	if !ok {
		return
	}
	switch {
	case page == nav.PagePrepareTemp && ev.Component == 0:
		c.sendGcode(fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=extruder TARGET=%d", ev.Value))
	case page == nav.PagePrepareTemp && ev.Component == 1:
		c.sendGcode(fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=heater_bed TARGET=%d", ev.Value))
	case page == nav.PagePrepareExtruder && ev.Component == 2:
		c.mu.Lock()
		c.ui.extrudeAmount = int(ev.Value)
		c.mu.Unlock()
	case page == nav.PagePrepareExtruder && ev.Component == 3:
		c.mu.Lock()
		c.ui.extrudeSpeed = int(ev.Value)
		c.mu.Unlock()
	case page == nav.PagePrintingSpeed && ev.Component == 1:
		c.sendSpeedUpdate("print", float64(ev.Value)/100.0)
	case page == nav.PagePrintingSpeed && ev.Component == 2:
		c.sendSpeedUpdate("flow", float64(ev.Value)/100.0)
	default:
		log.Debug().Str("page", string(page)).Uint8("component", ev.Component).
			Uint16("value", ev.Value).Msg("unbound input")
	}
}

func (c *Controller) navigate(page nav.PageID) {
	if err := c.machine.Navigate(page, false); err != nil && !errors.Is(err, nav.ErrBlocked) {
		log.Error().Err(err).Str("page", string(page)).Msg("failed to navigate")
	}
}

func (c *Controller) goBack() {
	if err := c.machine.GoBack(); err != nil {
		log.Error().Err(err).Msg("failed to navigate back")
	}
}

func (c *Controller) sendGcode(script string) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.printer.GcodeScript(ctx, script); err != nil {
		log.Error().Err(err).Str("script", script).Msg("failed to run gcode")
	}
}

func (c *Controller) moveAxis(axis, direction string) {
	c.mu.Lock()
	distance := c.ui.moveDistance
	prepare := c.cfg.Prepare()
	c.mu.Unlock()

	speed := prepare.XYMoveSpeed
	if axis == "Z" {
		speed = prepare.ZMoveSpeed
	}
	c.sendGcode(fmt.Sprintf("G91\nG1 %s%s%s F%d\nG90", axis, direction, distance, speed*60))
}

func (c *Controller) setMoveDistance(distance string) {
	c.mu.Lock()
	c.ui.moveDistance = distance
	c.mu.Unlock()
	if err := c.disp.SetText("distance", distance); err != nil {
		log.Debug().Err(err).Msg("failed to render move distance")
	}
}

func (c *Controller) extrudeFilament(direction string) {
	c.mu.Lock()
	printing := c.printState == "printing"
	c.mu.Unlock()
	if printing {
		return
	}
	if direction == "+" {
		c.sendGcode("LOAD_FILAMENT")
		return
	}
	c.sendGcode("UNLOAD_FILAMENT")
}

func (c *Controller) presetTemps(material string) {
	temps, ok := c.cfg.MaterialTemps(material)
	if !ok {
		log.Warn().Str("material", material).Msg("no temperature preset")
		return
	}
	c.sendGcode(fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=extruder TARGET=%d", temps.Extruder))
	c.sendGcode(fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=heater_bed TARGET=%d", temps.HeaterBed))
	if c.cfg.General().PrinterModel == "N4Pro" {
		c.sendGcode(fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=heater_bed_outer TARGET=%d", temps.HeaterBed))
	}
}

func (c *Controller) toggleLight(name string) {
	c.mu.Lock()
	on := !c.ui.lights[name]
	c.ui.lights[name] = on
	c.mu.Unlock()

	state := "OFF"
	if on {
		state = "ON"
	}
	c.sendGcode(name + "_" + state)
}

func (c *Controller) toggleFan() {
	c.mu.Lock()
	on := !c.ui.fanOn
	c.ui.fanOn = on
	c.mu.Unlock()

	if on {
		c.sendGcode("M106 S255")
		return
	}
	c.sendGcode("M106 S0")
}

func (c *Controller) toggleFilamentSensor() {
	c.mu.Lock()
	on := !c.ui.sensorOn
	c.ui.sensorOn = on
	c.mu.Unlock()

	sensor := c.cfg.General().FilamentSensorName
	enable := "0"
	if on {
		enable = "1"
	}
	c.sendGcode(fmt.Sprintf("SET_FILAMENT_SENSOR SENSOR=%s ENABLE=%s", sensor, enable))
}

func (c *Controller) selectHeater(heater string) {
	c.mu.Lock()
	c.ui.selectedHeater = heater
	target := c.ui.heaterTargets[heater]
	c.mu.Unlock()

	c.renderHeaterTarget(target)
}

// renderHeaterTarget shows the selected heater's target as whole
// degrees on the filament page.
func (c *Controller) renderHeaterTarget(target int) {
	if err := c.disp.SetText("t_target", mapping.TemperatureInt(target)); err != nil {
		log.Debug().Err(err).Msg("failed to render target temperature")
	}
}

func (c *Controller) setTempIncrement(step int) {
	c.mu.Lock()
	c.ui.tempIncrement = step
	c.mu.Unlock()
}

func (c *Controller) adjustTemp(direction int) {
	c.mu.Lock()
	heater := c.ui.selectedHeater
	target := c.ui.heaterTargets[heater] + c.ui.tempIncrement*direction
	if target < 0 {
		target = 0
	}
	c.ui.heaterTargets[heater] = target
	c.mu.Unlock()

	c.renderHeaterTarget(target)
	c.sendGcode(fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=%s TARGET=%d", heater, target))
}

func (c *Controller) resetTemp() {
	c.mu.Lock()
	heater := c.ui.selectedHeater
	c.ui.heaterTargets[heater] = 0
	c.mu.Unlock()

	c.sendGcode(fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=%s TARGET=0", heater))
}

func (c *Controller) selectSpeedType(speedType string) {
	c.mu.Lock()
	c.ui.selectedSpeedType = speedType
	c.mu.Unlock()
}

func (c *Controller) setSpeedIncrement(step int) {
	c.mu.Lock()
	c.ui.speedIncrement = step
	c.mu.Unlock()
}

func (c *Controller) adjustSpeed(direction int) {
	c.mu.Lock()
	speedType := c.ui.selectedSpeedType
	factor := c.ui.targetSpeeds[speedType] + float64(c.ui.speedIncrement*direction)/100.0
	c.mu.Unlock()

	c.sendSpeedUpdate(speedType, factor)
}

func (c *Controller) resetSpeed() {
	c.mu.Lock()
	speedType := c.ui.selectedSpeedType
	c.mu.Unlock()

	// Fan resets to off, the factors back to 100%.
	reset := 1.0
	if speedType == "fan" {
		reset = 0.0
	}
	c.sendSpeedUpdate(speedType, reset)
}

// sendSpeedUpdate applies a speed factor change. Fan is clamped to its
// valid duty range before conversion; the panel slider can overshoot.
func (c *Controller) sendSpeedUpdate(speedType string, factor float64) {
	var script string
	switch speedType {
	case "print":
		script = fmt.Sprintf("M220 S%.0f", factor*100.0)
	case "flow":
		script = fmt.Sprintf("M221 S%.0f", factor*100.0)
	case "fan":
		factor = math.Min(math.Max(factor, 0.0), 1.0)
		script = fmt.Sprintf("M106 S%d", int(math.Round(factor*255)))
	default:
		return
	}

	c.mu.Lock()
	c.ui.targetSpeeds[speedType] = factor
	c.mu.Unlock()

	c.sendGcode(script)
}

func (c *Controller) setZOffsetIncrement(distance string) {
	c.mu.Lock()
	c.ui.zOffsetIncrement = distance
	c.mu.Unlock()
}

func (c *Controller) adjustZOffset(direction string) {
	c.mu.Lock()
	distance := c.ui.zOffsetIncrement
	c.mu.Unlock()
	c.sendGcode(fmt.Sprintf("SET_GCODE_OFFSET Z_ADJUST=%s%s MOVE=1", direction, distance))
}

func (c *Controller) setZProbeStep(step string) {
	c.mu.Lock()
	c.ui.zProbeStep = step
	c.mu.Unlock()
}

func (c *Controller) adjustZProbe(direction string) {
	c.mu.Lock()
	step := c.ui.zProbeStep
	c.mu.Unlock()
	c.sendGcode(fmt.Sprintf("TESTZ Z=%s%s", direction, step))
}

func (c *Controller) abortZProbe() {
	c.mu.Lock()
	c.leveling.mode = ""
	c.mu.Unlock()
	c.sendGcode("ABORT")
	c.goBack()
}

func (c *Controller) saveZProbe() {
	c.mu.Lock()
	c.leveling.mode = ""
	c.mu.Unlock()
	c.sendGcode("ACCEPT")
	c.sendGcode("SAVE_CONFIG")
	c.goBack()
}

func (c *Controller) saveLevelingConfig() {
	c.machine.SetLevelingActive(false)
	c.sendGcode("SAVE_CONFIG")
	c.goBack()
}

func (c *Controller) pauseResume() {
	c.mu.Lock()
	state := c.printState
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if state == "paused" {
		if err := c.printer.PrintResume(ctx); err != nil {
			log.Error().Err(err).Msg("failed to resume print")
		}
		return
	}
	if err := c.printer.PrintPause(ctx); err != nil {
		log.Error().Err(err).Msg("failed to pause print")
	}
}

func (c *Controller) stopPrint() {
	c.navigate(nav.PageOverlayLoading)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	log.Info().Msg("stopping print")
	if err := c.printer.PrintCancel(ctx); err != nil {
		log.Error().Err(err).Msg("failed to cancel print")
	}
}

func (c *Controller) emergencyStop() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	log.Info().Msg("emergency stop")
	if err := c.printer.EmergencyStop(ctx); err != nil {
		log.Error().Err(err).Msg("failed to emergency stop")
	}
}

func (c *Controller) printOpenedFile() {
	c.mu.Lock()
	file := c.files.selected
	if file == "" {
		file = c.currentFile
	}
	c.mu.Unlock()
	if file == "" {
		log.Warn().Msg("no file selected to print")
		return
	}

	c.navigate(nav.PageOverlayLoading)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.printer.PrintStart(ctx, file); err != nil {
		log.Error().Err(err).Str("file", file).Msg("failed to start print")
		c.goBack()
	}
}

func (c *Controller) confirmComplete() {
	c.sendGcode("SDCARD_RESET_FILE")
	if err := c.machine.Navigate(nav.PageMain, true); err != nil && !errors.Is(err, nav.ErrBlocked) {
		log.Error().Err(err).Msg("failed to return to main page")
	}
}

func (c *Controller) beginFullBedLevel() {
	c.mu.Lock()
	c.leveling.mode = "full_bed"
	c.leveling.meshCountX = c.leveling.fullBedCols
	c.leveling.meshCountY = c.leveling.fullBedRows
	c.leveling.probedCount = 0
	c.leveling.lastPosition = ""
	c.mu.Unlock()
	c.machine.SetLevelingActive(true)
	c.navigate(nav.PagePrintingKAMP)
	c.sendGcode("AUTO_FULL_BED_LEVEL")
}

func (c *Controller) retryScrewLeveling() {
	c.StartScrewLeveling()
}

func (c *Controller) shutdownHost() {
	log.Info().Msg("shutting down host")
	c.disp.ShowShutdownScreen()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.printer.MachineShutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shut down host")
	}
}

func (c *Controller) rebootHost() {
	log.Info().Msg("rebooting host")
	c.disp.ShowRebootScreen()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.printer.MachineReboot(ctx); err != nil {
		log.Error().Err(err).Msg("failed to reboot host")
	}
}

func (c *Controller) rebootKlipper() {
	log.Info().Msg("restarting klipper")
	c.navigate(nav.PageOverlayLoading)

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := c.printer.MachineServiceRestart(ctx, "klipper"); err != nil {
		log.Error().Err(err).Msg("failed to restart klipper")
	}
}
