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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OpenNeptune3D/display-connector/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	CfgEnv  = "DISPLAY_CONNECTOR_CFG"
	CfgFile = "display_connector.toml"

	// Bed leveling completion behavior (see Leveling.Return).
	LevelingReturnAuto    = "auto"
	LevelingReturnConfirm = "confirm"

	ZDisplayMM    = "mm"
	ZDisplayLayer = "layer"
)

type Values struct {
	General      General             `toml:"general"`
	Files        Files               `toml:"files,omitempty"`
	MainScreen   MainScreen          `toml:"main_screen,omitempty"`
	PrintScreen  PrintScreen         `toml:"print_screen,omitempty"`
	Thumbnails   Thumbnails          `toml:"thumbnails,omitempty"`
	Temperatures map[string]Material `toml:"temperatures,omitempty"`
	Prepare      Prepare             `toml:"prepare,omitempty"`
	Leveling     Leveling            `toml:"leveling,omitempty"`
	DebugLogging bool                `toml:"debug_logging"`
}

type General struct {
	SerialPort         string `toml:"serial_port,omitempty"`
	PrinterModel       string `toml:"printer_model,omitempty"`
	DisplayType        string `toml:"display_type,omitempty"`
	MoonrakerSocket    string `toml:"moonraker_socket,omitempty"`
	MoonrakerURL       string `toml:"moonraker_url,omitempty"`
	CleanFilenameRegex string `toml:"clean_filename_regex,omitempty"`
	FilamentSensorName string `toml:"filament_sensor_name,omitempty"`
	DisplayBrightness  int    `toml:"display_brightness,omitempty"`
}

type Files struct {
	SortBy           string `toml:"sort_by,omitempty"`
	SortOrder        string `toml:"sort_order,omitempty"`
	SortFoldersFirst bool   `toml:"sort_folders_first"`
}

type MainScreen struct {
	// DisplayName overrides the model name shown on the main screen. The
	// special value "MODEL_NAME" renders the detected printer model.
	DisplayName          string `toml:"display_name,omitempty"`
	DisplayNameLineColor int    `toml:"display_name_line_color,omitempty"`
}

type PrintScreen struct {
	// ZDisplay selects what the z widget shows: "mm" or "layer".
	ZDisplay           string `toml:"z_display,omitempty"`
	CleanFilenameRegex string `toml:"clean_filename_regex,omitempty"`
}

type Thumbnails struct {
	// BackgroundColor is an RGB hex value blended under transparent
	// thumbnail pixels.
	BackgroundColor string `toml:"background_color,omitempty"`
}

type Material struct {
	Extruder  int `toml:"extruder"`
	HeaterBed int `toml:"heater_bed"`
}

type Prepare struct {
	MoveDistance  string `toml:"move_distance,omitempty"`
	XYMoveSpeed   int    `toml:"xy_move_speed,omitempty"`
	ZMoveSpeed    int    `toml:"z_move_speed,omitempty"`
	ExtrudeAmount int    `toml:"extrude_amount,omitempty"`
	ExtrudeSpeed  int    `toml:"extrude_speed,omitempty"`
}

type Leveling struct {
	// Return controls what happens when adaptive bed leveling completes:
	// "auto" navigates back to the printing page, "confirm" waits for the
	// operator to tap SAVE.
	Return string `toml:"bed_leveling_return,omitempty"`
}

var BaseDefaults = Values{
	General: General{
		DisplayType:        "elegoo",
		MoonrakerSocket:    "~/printer_data/comms/moonraker.sock",
		MoonrakerURL:       "http://localhost:7125",
		CleanFilenameRegex: `(.*)_.*?_(?:[0-9]+h|[0-9]+m|[0-9]+s)+\.gcode`,
		FilamentSensorName: "filament_sensor",
		DisplayBrightness:  100,
	},
	Files: Files{
		SortBy:           "modified",
		SortOrder:        "desc",
		SortFoldersFirst: true,
	},
	MainScreen: MainScreen{
		DisplayName:          "MODEL_NAME",
		DisplayNameLineColor: 1725,
	},
	PrintScreen: PrintScreen{
		ZDisplay: ZDisplayMM,
	},
	Thumbnails: Thumbnails{
		BackgroundColor: "29354a",
	},
	Temperatures: map[string]Material{
		"pla":  {Extruder: 210, HeaterBed: 60},
		"abs":  {Extruder: 240, HeaterBed: 110},
		"petg": {Extruder: 240, HeaterBed: 80},
		"tpu":  {Extruder: 240, HeaterBed: 60},
	},
	Prepare: Prepare{
		MoveDistance:  "1",
		XYMoveSpeed:   130,
		ZMoveSpeed:    10,
		ExtrudeAmount: 50,
		ExtrudeSpeed:  300,
	},
	Leveling: Leveling{
		Return: LevelingReturnAuto,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		mu:       syncutil.RWMutex{},
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top. Fields not
	// present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c.vals = newVals

	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(c.cfgPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Instance) General() General {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.General
}

func (c *Instance) Files() Files {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Files
}

func (c *Instance) MainScreen() MainScreen {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.MainScreen
}

func (c *Instance) PrintScreen() PrintScreen {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.PrintScreen
}

func (c *Instance) Thumbnails() Thumbnails {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Thumbnails
}

func (c *Instance) Prepare() Prepare {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Prepare
}

func (c *Instance) LevelingReturn() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Leveling.Return == "" {
		return LevelingReturnAuto
	}
	return c.vals.Leveling.Return
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

// MaterialTemps returns the preset temperatures for a material and whether
// a preset exists for it.
func (c *Instance) MaterialTemps(material string) (Material, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.vals.Temperatures[material]
	return m, ok
}

// SetMaterialTemps updates a material preset in memory. Call Save to
// persist it.
func (c *Instance) SetMaterialTemps(material string, m Material) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vals.Temperatures == nil {
		c.vals.Temperatures = make(map[string]Material)
	}
	c.vals.Temperatures[material] = m
}
