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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/mapping"
	"github.com/OpenNeptune3D/display-connector/pkg/nav"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// socketPollInterval paces the wait for Moonraker's unix socket to
// appear when the service starts before Klipper does.
const socketPollInterval = 2 * time.Second

// WatchConfig reloads the config file when it changes on disk. Editors
// and scp replace the file, so Create events on the path count too.
func (c *Controller) WatchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close config watcher")
		}
	}()

	cfgPath := c.cfg.Path()
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != cfgPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c.reloadConfig()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// reloadConfig re-reads the config file behind the loading overlay and
// rebuilds the mapping tree, so keys that shape it (printer model,
// z display mode, filament sensor name, clean regexes) take effect
// without a restart.
func (c *Controller) reloadConfig() {
	c.navigate(nav.PageOverlayLoading)
	defer c.goBack()

	if err := c.cfg.Load(); err != nil {
		log.Error().Err(err).Msg("failed to reload config")
		return
	}
	c.rebuildMapping()
	log.Info().Msg("config reloaded")
}

func (c *Controller) rebuildMapping() {
	if c.engine == nil {
		return
	}
	general := c.cfg.General()
	clean := mapping.CompileClean(general.CleanFilenameRegex, c.cfg.PrintScreen().CleanFilenameRegex)
	c.engine.SetTree(mapping.ForModel(
		general.PrinterModel,
		general.DisplayType,
		c.cfg.PrintScreen().ZDisplay,
		general.FilamentSensorName,
		clean,
	))
}

// WaitForSocket blocks until the Moonraker unix socket exists. It
// polls rather than watches: the comms directory itself may not exist
// yet on a fresh boot.
func (c *Controller) WaitForSocket(ctx context.Context, path string) error {
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		log.Debug().Str("path", path).Msg("waiting for moonraker socket")
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		case <-c.clock.After(socketPollInterval):
		}
	}
}

// CheckKlipperVersion warns on the panel when the printer is running a
// Klipper build without the macros this UI depends on.
func (c *Controller) CheckKlipperVersion(ctx context.Context, minimum string) {
	info, err := c.printer.PrinterInfo(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to query printer info")
		return
	}
	if info.SoftwareVersion >= minimum {
		return
	}
	log.Warn().Str("version", info.SoftwareVersion).Str("minimum", minimum).
		Msg("unsupported klipper version")
	if err := c.disp.ShowFirmwareWarning(info.SoftwareVersion, minimum); err != nil {
		log.Debug().Err(err).Msg("failed to show firmware warning")
	}
}
