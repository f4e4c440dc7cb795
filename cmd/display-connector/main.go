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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/OpenNeptune3D/display-connector/pkg/config"
	"github.com/OpenNeptune3D/display-connector/pkg/controller"
	"github.com/OpenNeptune3D/display-connector/pkg/display"
	"github.com/OpenNeptune3D/display-connector/pkg/helpers"
	"github.com/OpenNeptune3D/display-connector/pkg/hmi"
	"github.com/OpenNeptune3D/display-connector/pkg/mapping"
	"github.com/OpenNeptune3D/display-connector/pkg/moonraker"
	"github.com/OpenNeptune3D/display-connector/pkg/thumbnail"
	"github.com/OpenNeptune3D/display-connector/pkg/tjc"
	"github.com/OpenNeptune3D/display-connector/pkg/wifi"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultSerialPort = "/dev/ttyS1"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir := flag.String(
		"data",
		"",
		"data directory for config and logs (default ~/printer_data/display_connector)",
	)
	serialPort := flag.String(
		"serial",
		"",
		"serial port of the touchscreen (overrides config)",
	)
	daemonMode := flag.Bool(
		"daemon",
		false,
		"log to stderr in addition to the log file",
	)
	flag.Parse()

	dir := *dataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, "printer_data", "display_connector")
	}

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{os.Stderr}
	}
	if err := helpers.InitLogging(dir, logWriters); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}

	cfg, err := config.NewConfig(dir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	general := cfg.General()

	port := *serialPort
	if port == "" {
		port = general.SerialPort
	}
	if port == "" {
		port = defaultSerialPort
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	// The event sources are created before the controller exists, so
	// their handlers go through this indirection.
	var ctrl *controller.Controller

	panel := hmi.NewClient(port, func(msg tjc.Message) {
		if ctrl != nil {
			ctrl.HandleEvent(msg)
		}
	})

	socketPath := expandHome(general.MoonrakerSocket)
	rpc := moonraker.NewClient(socketPath,
		moonraker.WithStatusHandler(func(delta map[string]json.RawMessage, eventtime float64) {
			if ctrl != nil {
				ctrl.HandleStatus(delta, eventtime)
			}
		}),
		moonraker.WithGcodeHandler(func(line string) {
			if ctrl != nil {
				ctrl.HandleGcode(line)
			}
		}),
		moonraker.WithReconnectHandler(func() {
			if ctrl != nil {
				ctrl.Resubscribe()
			}
		}),
	)

	disp := display.NewCommunicator(panel, display.Firmware(general.DisplayType))

	clean := mapping.CompileClean(general.CleanFilenameRegex, cfg.PrintScreen().CleanFilenameRegex)
	tree := mapping.ForModel(
		general.PrinterModel,
		general.DisplayType,
		cfg.PrintScreen().ZDisplay,
		general.FilamentSensorName,
		clean,
	)
	engine := mapping.NewEngine(tree, func(cmd string) error {
		return panel.Write(cmd, 0, "") //nolint:wrapcheck
	})

	thumbs := thumbnail.NewPipeline(
		rpc,
		general.MoonrakerURL,
		parseHexColor(cfg.Thumbnails().BackgroundColor),
	)

	ctrl = controller.New(cfg, rpc, disp, engine, thumbs, wifi.NewNMCLI(), nil)

	if err := panel.Connect(); err != nil {
		return fmt.Errorf("failed to connect to panel: %w", err)
	}
	defer func() {
		if closeErr := panel.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close panel link")
		}
	}()

	if err := ctrl.WaitForSocket(ctx, socketPath); err != nil {
		return fmt.Errorf("failed waiting for moonraker socket: %w", err)
	}
	if err := rpc.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to moonraker: %w", err)
	}
	defer func() {
		if closeErr := rpc.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close moonraker link")
		}
	}()

	ctrl.CheckKlipperVersion(ctx, "v0.11.0")

	if err := ctrl.Startup(ctx); err != nil {
		return fmt.Errorf("failed to start UI: %w", err)
	}
	log.Info().Str("port", port).Str("socket", socketPath).Msg("display connector running")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ctrl.WatchConfig(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("service stopped: %w", err)
	}
	log.Info().Msg("shutting down")
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// parseHexColor decodes an RGB hex triplet like "29354a". Failures fall
// back to black.
func parseHexColor(s string) color.RGBA {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{A: 0xFF}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{A: 0xFF}
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xFF,
	}
}
