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

package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
)

// PrinterInfo is the printer.info result.
type PrinterInfo struct {
	State           string `json:"state"`
	StateMessage    string `json:"state_message"`
	SoftwareVersion string `json:"software_version"`
	Hostname        string `json:"hostname"`
}

// Thumbnail describes one preview image embedded in a gcode file.
type Thumbnail struct {
	RelativePath string `json:"relative_path"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Size         int    `json:"size"`
}

// FileMetadata is the server.files.metadata result, trimmed to the
// fields the display uses.
type FileMetadata struct {
	Filename         string      `json:"filename"`
	Thumbnails       []Thumbnail `json:"thumbnails"`
	EstimatedTime    float64     `json:"estimated_time"`
	LayerHeight      float64     `json:"layer_height"`
	FirstLayerHeight float64     `json:"first_layer_height"`
	ObjectHeight     float64     `json:"object_height"`
	Modified         float64     `json:"modified"`
	Size             int64       `json:"size"`
}

// DirEntry is one subdirectory in a directory listing.
type DirEntry struct {
	Dirname  string  `json:"dirname"`
	Modified float64 `json:"modified"`
}

// FileEntry is one file in a directory listing.
type FileEntry struct {
	Filename string  `json:"filename"`
	Modified float64 `json:"modified"`
	Size     int64   `json:"size"`
}

// DirectoryListing is the server.files.get_directory result.
type DirectoryListing struct {
	Dirs  []DirEntry  `json:"dirs"`
	Files []FileEntry `json:"files"`
}

// GcodeScript runs a gcode script on the printer. The call does not
// return until the script has finished executing.
func (c *Client) GcodeScript(ctx context.Context, script string) error {
	_, err := c.Call(ctx, "printer.gcode.script", map[string]any{"script": script})
	if err != nil {
		return fmt.Errorf("failed to run %q: %w", script, err)
	}
	return nil
}

// PrinterInfo queries Klipper's state and version.
func (c *Client) PrinterInfo(ctx context.Context) (*PrinterInfo, error) {
	result, err := c.Call(ctx, "printer.info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query printer info: %w", err)
	}
	var info PrinterInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("failed to parse printer info: %w", err)
	}
	return &info, nil
}

// PrinterObjectsSubscribe subscribes to status updates for the given
// objects and returns the full initial snapshot.
func (c *Client) PrinterObjectsSubscribe(ctx context.Context, objects map[string]any) (map[string]json.RawMessage, error) {
	result, err := c.Call(ctx, "printer.objects.subscribe", map[string]any{"objects": objects})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to printer objects: %w", err)
	}
	var parsed struct {
		Status map[string]json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse subscription snapshot: %w", err)
	}
	return parsed.Status, nil
}

// FileMetadata fetches slicer metadata for a gcode file.
func (c *Client) FileMetadata(ctx context.Context, filename string) (*FileMetadata, error) {
	result, err := c.Call(ctx, "server.files.metadata", map[string]any{"filename": filename})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata for %s: %w", filename, err)
	}
	var meta FileMetadata
	if err := json.Unmarshal(result, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", filename, err)
	}
	return &meta, nil
}

// GetDirectory lists one level of the gcodes file tree.
func (c *Client) GetDirectory(ctx context.Context, path string) (*DirectoryListing, error) {
	result, err := c.Call(ctx, "server.files.get_directory", map[string]any{"path": path})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	var listing DirectoryListing
	if err := json.Unmarshal(result, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse listing of %s: %w", path, err)
	}
	return &listing, nil
}

// PrintStart starts printing a file.
func (c *Client) PrintStart(ctx context.Context, filename string) error {
	_, err := c.Call(ctx, "printer.print.start", map[string]any{"filename": filename})
	if err != nil {
		return fmt.Errorf("failed to start print of %s: %w", filename, err)
	}
	return nil
}

// PrintPause pauses the running print.
func (c *Client) PrintPause(ctx context.Context) error {
	_, err := c.Call(ctx, "printer.print.pause", nil)
	if err != nil {
		return fmt.Errorf("failed to pause print: %w", err)
	}
	return nil
}

// PrintResume resumes a paused print.
func (c *Client) PrintResume(ctx context.Context) error {
	_, err := c.Call(ctx, "printer.print.resume", nil)
	if err != nil {
		return fmt.Errorf("failed to resume print: %w", err)
	}
	return nil
}

// PrintCancel aborts the running print.
func (c *Client) PrintCancel(ctx context.Context) error {
	_, err := c.Call(ctx, "printer.print.cancel", nil)
	if err != nil {
		return fmt.Errorf("failed to cancel print: %w", err)
	}
	return nil
}

// EmergencyStop halts the printer immediately.
func (c *Client) EmergencyStop(ctx context.Context) error {
	_, err := c.Call(ctx, "printer.emergency_stop", nil)
	if err != nil {
		return fmt.Errorf("failed to send emergency stop: %w", err)
	}
	return nil
}

// FirmwareRestart restarts the Klipper firmware.
func (c *Client) FirmwareRestart(ctx context.Context) error {
	_, err := c.Call(ctx, "printer.firmware_restart", nil)
	if err != nil {
		return fmt.Errorf("failed to restart firmware: %w", err)
	}
	return nil
}

// MachineShutdown powers the host down.
func (c *Client) MachineShutdown(ctx context.Context) error {
	_, err := c.Call(ctx, "machine.shutdown", nil)
	if err != nil {
		return fmt.Errorf("failed to shut down machine: %w", err)
	}
	return nil
}

// MachineReboot reboots the host.
func (c *Client) MachineReboot(ctx context.Context) error {
	_, err := c.Call(ctx, "machine.reboot", nil)
	if err != nil {
		return fmt.Errorf("failed to reboot machine: %w", err)
	}
	return nil
}

// MachineServiceRestart restarts a host systemd service.
func (c *Client) MachineServiceRestart(ctx context.Context, service string) error {
	_, err := c.Call(ctx, "machine.services.restart", map[string]any{"service": service})
	if err != nil {
		return fmt.Errorf("failed to restart service %s: %w", service, err)
	}
	return nil
}

// SystemIPs returns the host's non-link-local IP addresses keyed by
// interface name, from machine.system_info.
func (c *Client) SystemIPs(ctx context.Context) (map[string]string, error) {
	result, err := c.Call(ctx, "machine.system_info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query system info: %w", err)
	}
	var parsed struct {
		SystemInfo struct {
			Network map[string]struct {
				IPAddresses []struct {
					Family      string `json:"family"`
					Address     string `json:"address"`
					IsLinkLocal bool   `json:"is_link_local"`
				} `json:"ip_addresses"`
			} `json:"network"`
		} `json:"system_info"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse system info: %w", err)
	}

	ips := make(map[string]string)
	for iface, net := range parsed.SystemInfo.Network {
		for _, addr := range net.IPAddresses {
			if addr.IsLinkLocal || addr.Family != "ipv4" {
				continue
			}
			ips[iface] = addr.Address
			break
		}
	}
	return ips, nil
}
