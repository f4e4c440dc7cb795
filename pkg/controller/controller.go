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

// Package controller ties the pieces together: panel events in, printer
// telemetry in, navigation and widget updates out.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/OpenNeptune3D/display-connector/pkg/config"
	"github.com/OpenNeptune3D/display-connector/pkg/display"
	"github.com/OpenNeptune3D/display-connector/pkg/helpers/syncutil"
	"github.com/OpenNeptune3D/display-connector/pkg/mapping"
	"github.com/OpenNeptune3D/display-connector/pkg/moonraker"
	"github.com/OpenNeptune3D/display-connector/pkg/nav"
	"github.com/OpenNeptune3D/display-connector/pkg/tjc"
	"github.com/OpenNeptune3D/display-connector/pkg/wifi"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Printer is the Moonraker surface the controller drives.
// *moonraker.Client satisfies it.
type Printer interface {
	GcodeScript(ctx context.Context, script string) error
	PrinterInfo(ctx context.Context) (*moonraker.PrinterInfo, error)
	PrinterObjectsSubscribe(ctx context.Context, objects map[string]any) (map[string]json.RawMessage, error)
	FileMetadata(ctx context.Context, filename string) (*moonraker.FileMetadata, error)
	GetDirectory(ctx context.Context, path string) (*moonraker.DirectoryListing, error)
	PrintStart(ctx context.Context, filename string) error
	PrintPause(ctx context.Context) error
	PrintResume(ctx context.Context) error
	PrintCancel(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	MachineShutdown(ctx context.Context) error
	MachineReboot(ctx context.Context) error
	MachineServiceRestart(ctx context.Context, service string) error
	SystemIPs(ctx context.Context) (map[string]string, error)
}

// ThumbnailLoader produces the armored preview stream for a file.
// *thumbnail.Pipeline satisfies it.
type ThumbnailLoader interface {
	Load(ctx context.Context, filename string, meta *moonraker.FileMetadata) ([]byte, error)
}

// Controller is the single owner of all UI state.
type Controller struct {
	cfg     *config.Instance
	printer Printer
	disp    *display.Communicator
	machine *nav.Machine
	engine  *mapping.Engine
	thumbs  ThumbnailLoader
	wifi    wifi.Prober
	clock   clockwork.Clock

	mu          syncutil.Mutex // protects printState, currentFile, files, ui
	printState  string
	currentFile string
	machineSize string
	files       fileBrowser
	ui          uiState
	leveling    levelingState

	thumbMu     syncutil.Mutex // protects thumbCancel, thumbDone
	thumbCancel context.CancelFunc
	thumbDone   chan struct{}
}

// uiState is the panel-side adjustment state: selected increments,
// selected heater and the like. It has no printer-side counterpart.
type uiState struct {
	moveDistance      string
	zOffsetIncrement  string
	zProbeStep        string
	selectedHeater    string
	tempIncrement     int
	heaterTargets     map[string]int
	selectedSpeedType string
	speedIncrement    int
	targetSpeeds      map[string]float64
	extrudeAmount     int
	extrudeSpeed      int
	lights            map[string]bool
	fanOn             bool
	sensorOn          bool
}

func newUIState(prepare config.Prepare) uiState {
	return uiState{
		moveDistance:      prepare.MoveDistance,
		zOffsetIncrement:  "0.01",
		zProbeStep:        "0.1",
		selectedHeater:    "extruder",
		tempIncrement:     1,
		heaterTargets:     map[string]int{},
		selectedSpeedType: "print",
		speedIncrement:    1,
		targetSpeeds:      map[string]float64{"print": 1.0, "flow": 1.0, "fan": 0.0},
		extrudeAmount:     prepare.ExtrudeAmount,
		extrudeSpeed:      prepare.ExtrudeSpeed,
		lights:            map[string]bool{},
		sensorOn:          true,
	}
}

// New wires a controller. engine may be nil in tests that exercise
// only navigation and actions.
func New(
	cfg *config.Instance,
	printer Printer,
	disp *display.Communicator,
	engine *mapping.Engine,
	thumbs ThumbnailLoader,
	prober wifi.Prober,
	clock clockwork.Clock,
) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Controller{
		cfg:     cfg,
		printer: printer,
		disp:    disp,
		engine:  engine,
		thumbs:  thumbs,
		wifi:    prober,
		clock:   clock,
		ui:      newUIState(cfg.Prepare()),
	}
	c.machine = &nav.Machine{
		Show:           c.disp.ShowPage,
		Enter:          c.enterPage,
		BeforeNavigate: c.cancelThumbnail,
		FilesBack:      c.filesBack,
	}
	return c
}

// Machine exposes the navigation state machine, mainly for start-up
// and tests.
func (c *Controller) Machine() *nav.Machine {
	return c.machine
}

// SubscriptionObjects is the status object set the controller needs.
// Values are nil for "all fields".
func (c *Controller) SubscriptionObjects() map[string]any {
	objects := map[string]any{
		"gcode_move":             nil,
		"motion_report":          nil,
		"fan":                    nil,
		"heater_bed":             nil,
		"extruder":               nil,
		"display_status":         nil,
		"print_stats":            nil,
		"output_pin Part_Light":  nil,
		"output_pin Frame_Light": nil,
		"configfile":             nil,
	}
	general := c.cfg.General()
	if general.PrinterModel == "N4Pro" {
		objects["heater_generic heater_bed_outer"] = nil
	}
	sensor := general.FilamentSensorName
	if sensor == "" {
		sensor = "fila"
	}
	objects["filament_switch_sensor "+sensor] = nil
	return objects
}

// Startup subscribes to telemetry, seeds the snapshot and lands on the
// main page.
func (c *Controller) Startup(ctx context.Context) error {
	snapshot, err := c.printer.PrinterObjectsSubscribe(ctx, c.SubscriptionObjects())
	if err != nil {
		return err
	}
	c.HandleStatus(snapshot, 0)

	if brightness := c.cfg.General().DisplayBrightness; brightness > 0 {
		if err := c.disp.SetBrightness(brightness); err != nil {
			log.Debug().Err(err).Msg("failed to set backlight")
		}
	}

	if err := c.machine.Navigate(nav.PageMain, true); err != nil && !errors.Is(err, nav.ErrBlocked) {
		return err
	}
	return nil
}

// Resubscribe is the Moonraker reconnect hook: subscriptions do not
// survive the socket.
func (c *Controller) Resubscribe() {
	snapshot, err := c.printer.PrinterObjectsSubscribe(context.Background(), c.SubscriptionObjects())
	if err != nil {
		log.Error().Err(err).Msg("failed to resubscribe after reconnect")
		return
	}
	c.HandleStatus(snapshot, 0)
}

// HandleEvent is the panel event entry point, wired to the HMI client.
func (c *Controller) HandleEvent(msg tjc.Message) {
	switch ev := msg.(type) {
	case tjc.TouchEvent:
		c.handleTouch(ev)
	case tjc.InputEvent:
		c.handleInput(ev)
	case tjc.TouchCoordinateEvent:
		if ev.Type == tjc.EventTouchSleep {
			if err := c.disp.Wake(); err != nil {
				log.Debug().Err(err).Msg("failed to wake panel")
			}
			return
		}
		c.handleCoordinate(ev)
	case tjc.LifecycleEvent:
		c.handleLifecycle(ev)
	}
}

func (c *Controller) handleLifecycle(ev tjc.LifecycleEvent) {
	switch ev.Type {
	case tjc.EventStartup, tjc.EventReconnected:
		// The panel lost its widget state; repaint the current page.
		current := c.machine.Current()
		if current == "" {
			current = nav.PageMain
		}
		if err := c.disp.ShowPage(current); err != nil {
			log.Error().Err(err).Msg("failed to repaint after panel restart")
			return
		}
		if err := c.enterPage(current); err != nil {
			log.Error().Err(err).Msg("failed to rerun page side effects")
		}
	case tjc.EventAutoSleep, tjc.EventAutoWake:
		log.Debug().Int("event", int(ev.Type)).Msg("panel sleep state changed")
	case tjc.EventSDCardUpgrade:
		log.Warn().Msg("panel entered SD card upgrade mode")
	default:
	}
}

// HandleStatus is the telemetry entry point, wired to the RPC client.
func (c *Controller) HandleStatus(delta map[string]json.RawMessage, _ float64) {
	decoded := make(map[string]any, len(delta))
	for key, raw := range delta {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			log.Warn().Err(err).Str("object", key).Msg("undecodable status object")
			continue
		}
		decoded[key] = value
	}

	if c.engine != nil {
		c.engine.Apply(context.Background(), decoded)
		c.renderTimeRemaining()
	}

	if cfgData, ok := decoded["configfile"].(map[string]any); ok {
		c.handleConfigChange(cfgData)
	}

	stats, ok := decoded["print_stats"].(map[string]any)
	if !ok {
		return
	}
	if filename, ok := stats["filename"].(string); ok {
		c.mu.Lock()
		c.currentFile = filename
		c.mu.Unlock()
	}
	if state, ok := stats["state"].(string); ok {
		c.handleStateChange(state)
	}
}

// handleConfigChange picks the build volume and the full-bed probe
// counts out of a configfile update. Klipper pushes the whole config
// once on subscribe and again after SAVE_CONFIG.
func (c *Controller) handleConfigChange(data map[string]any) {
	sections, ok := data["config"].(map[string]any)
	if !ok {
		return
	}
	axisMax := func(section string) int {
		s, ok := sections[section].(map[string]any)
		if !ok {
			return 0
		}
		return int(mapping.AsFloat(s["position_max"]))
	}
	x, y, z := axisMax("stepper_x"), axisMax("stepper_y"), axisMax("stepper_z")
	if x > 0 && y > 0 && z > 0 {
		c.mu.Lock()
		c.machineSize = fmt.Sprintf("%dx%dx%d", x, y, z)
		c.mu.Unlock()
	}

	mesh, ok := sections["bed_mesh"].(map[string]any)
	if !ok {
		return
	}
	counts, ok := mesh["probe_count"].(string)
	if !ok {
		return
	}
	sx, sy, ok := strings.Cut(counts, ",")
	if !ok {
		return
	}
	cols, errX := strconv.Atoi(strings.TrimSpace(sx))
	rows, errY := strconv.Atoi(strings.TrimSpace(sy))
	if errX != nil || errY != nil {
		return
	}
	c.mu.Lock()
	c.leveling.fullBedCols = cols
	c.leveling.fullBedRows = rows
	c.mu.Unlock()
}

// renderTimeRemaining extrapolates the time left from the progress
// fraction and elapsed print time. Klipper reports neither directly.
func (c *Controller) renderTimeRemaining() {
	if c.machine.Current() != nav.PagePrinting {
		return
	}
	progress, ok := c.engine.Snapshot("display_status.progress")
	if !ok {
		return
	}
	elapsed, ok := c.engine.Snapshot("print_stats.print_duration")
	if !ok {
		return
	}
	p := mapping.AsFloat(progress)
	if p <= 0 {
		return
	}
	remaining := mapping.AsFloat(elapsed) * (1 - p) / p
	if err := c.disp.SetText("t_remain", mapping.Duration(remaining)); err != nil {
		log.Debug().Err(err).Msg("failed to render time remaining")
	}
}

// handleStateChange navigates on print state transitions. The printing
// page becomes the new root so back-presses cannot escape into stale
// prepare screens mid-print.
func (c *Controller) handleStateChange(state string) {
	c.mu.Lock()
	prev := c.printState
	c.printState = state
	c.mu.Unlock()
	if state == prev {
		return
	}

	switch state {
	case "printing":
		if err := c.machine.Navigate(nav.PagePrinting, true); err != nil && !errors.Is(err, nav.ErrBlocked) {
			log.Error().Err(err).Msg("failed to navigate to printing page")
		}
	case "paused":
		// Stay on the printing family, just flip the button artwork.
	case "complete":
		if err := c.machine.Navigate(nav.PagePrintingComplete, false); err != nil && !errors.Is(err, nav.ErrBlocked) {
			log.Error().Err(err).Msg("failed to navigate to finish page")
		}
	case "standby", "cancelled", "error":
		if prev == "printing" || prev == "paused" {
			if err := c.machine.Navigate(nav.PageMain, true); err != nil && !errors.Is(err, nav.ErrBlocked) {
				log.Error().Err(err).Msg("failed to navigate to main page")
			}
		}
	}

	if err := c.disp.PrintStateIcons(state); err != nil {
		log.Debug().Err(err).Msg("failed to update state icons")
	}
}

// enterPage runs a page's on-enter side effects.
func (c *Controller) enterPage(page nav.PageID) error {
	switch page {
	case nav.PageMain:
		c.renderMainScreen()
	case nav.PageFiles:
		c.refreshFileList()
	case nav.PagePrinting:
		c.mu.Lock()
		file := c.currentFile
		c.mu.Unlock()
		if file != "" {
			c.startThumbnail(file, nav.PagePrinting)
		}
	case nav.PageSettings:
		c.renderNetworkStatus()
	case nav.PageLevelingScrew:
		c.StartScrewLeveling()
	case nav.PageLevelingZOffset:
		c.StartZProbeCalibration()
	case nav.PagePrintingKAMP:
		c.machine.SetLevelingActive(true)
		c.mu.Lock()
		cols, rows := c.leveling.meshCountX, c.leveling.meshCountY
		c.mu.Unlock()
		if err := c.disp.DrawKAMPGrid(cols, rows); err != nil {
			log.Warn().Err(err).Msg("failed to draw mesh grid")
		}
	default:
	}
	return nil
}

// renderMainScreen paints the model name banner. The special value
// MODEL_NAME substitutes the configured printer model.
func (c *Controller) renderMainScreen() {
	screen := c.cfg.MainScreen()
	name := screen.DisplayName
	if name == "MODEL_NAME" {
		name = c.cfg.General().PrinterModel
	}
	if name == "" {
		return
	}
	if err := c.disp.SetText("t_model", name); err != nil {
		log.Debug().Err(err).Msg("failed to render model name")
		return
	}
	if screen.DisplayNameLineColor != 0 {
		if err := c.disp.SetVal("line_color", screen.DisplayNameLineColor); err != nil {
			log.Debug().Err(err).Msg("failed to render banner color")
		}
	}
}

func (c *Controller) renderNetworkStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if c.wifi != nil {
		status, err := c.wifi.Status(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("wifi probe failed")
		} else {
			if err := c.disp.SetText("ssid", status.SSID); err == nil {
				_ = c.disp.SetVal("signal", status.Signal)
			}
		}
	}
	c.mu.Lock()
	size := c.machineSize
	c.mu.Unlock()
	if size != "" {
		if err := c.disp.SetText("t_size", size); err != nil {
			log.Debug().Err(err).Msg("failed to render machine size")
		}
	}

	ips, err := c.printer.SystemIPs(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("failed to query host addresses")
		return
	}
	for _, iface := range []string{"wlan0", "eth0"} {
		if ip, ok := ips[iface]; ok {
			if err := c.disp.SetText("ip", ip); err != nil {
				log.Debug().Err(err).Msg("failed to render ip")
			}
			return
		}
	}
}

// startThumbnail kicks off the single in-flight preview load. A newer
// request supersedes the old one; it is cancelled and awaited, never
// queued behind.
func (c *Controller) startThumbnail(filename string, target nav.PageID) {
	c.cancelThumbnail()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.thumbMu.Lock()
	c.thumbCancel = cancel
	c.thumbDone = done
	c.thumbMu.Unlock()

	go func() {
		defer close(done)
		data, err := c.thumbs.Load(ctx, filename, nil)
		if ctx.Err() != nil {
			// Cancelled: no display write of any kind.
			return
		}
		if err != nil {
			log.Debug().Err(err).Str("file", filename).Msg("thumbnail degraded to hidden")
			c.disp.HideThumbnail()
			return
		}
		if c.machine.Current() != target {
			// Navigation outpaced the fetch; drop silently.
			return
		}
		if err := c.disp.ShowThumbnail(data); err != nil {
			log.Debug().Err(err).Msg("failed to render thumbnail")
		}
	}()
}

// cancelThumbnail stops the in-flight load and waits until it has
// observed the cancel. Runs before every navigation.
func (c *Controller) cancelThumbnail() {
	c.thumbMu.Lock()
	cancel := c.thumbCancel
	done := c.thumbDone
	c.thumbCancel = nil
	c.thumbDone = nil
	c.thumbMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
