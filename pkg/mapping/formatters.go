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
	"path"
	"regexp"
	"strconv"
	"strings"
)

// AsFloat coerces a JSON-decoded value to float64.
func AsFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// AsString coerces a JSON-decoded value to a string.
func AsString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Temperature renders degrees Celsius with one decimal.
func Temperature(value any, _ ...any) string {
	return fmt.Sprintf("%.1f°C", AsFloat(value))
}

// TemperatureInt renders whole degrees for the compact widgets.
func TemperatureInt(value any, _ ...any) string {
	return strconv.Itoa(int(AsFloat(value) + 0.5))
}

// Percent renders a 0..1 fraction as a whole percentage for a val
// widget (progress bars take a bare number).
func Percent(value any, _ ...any) string {
	p := AsFloat(value) * 100
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return strconv.Itoa(int(p))
}

// SpeedFactor renders a 1.0-based multiplier as a percentage.
func SpeedFactor(value any, _ ...any) string {
	return strconv.Itoa(int(AsFloat(value)*100 + 0.5))
}

// Duration renders seconds as "H:MM" with sub-hour times as "MMm".
func Duration(value any, _ ...any) string {
	total := int(AsFloat(value))
	if total < 0 {
		total = 0
	}
	h := total / 3600
	m := (total % 3600) / 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%d:%02dh", h, m)
}

// Layer combines the current layer with the total from the snapshot,
// as "current/total".
func Layer(value any, deps ...any) string {
	total := 0
	if len(deps) > 0 {
		total = int(AsFloat(deps[0]))
	}
	return fmt.Sprintf("%d/%d", int(AsFloat(value)), total)
}

// Position renders an axis position in millimeters.
func Position(value any, _ ...any) string {
	return fmt.Sprintf("%.1fmm", AsFloat(value))
}

// ZOffset renders the gcode z offset with three decimals.
func ZOffset(value any, _ ...any) string {
	return fmt.Sprintf("%.3f", AsFloat(value))
}

// ZFromPosition picks the Z coordinate out of a position vector and
// renders it in millimeters.
func ZFromPosition(value any, _ ...any) string {
	if arr, ok := value.([]any); ok && len(arr) > 2 {
		return fmt.Sprintf("%.2f", AsFloat(arr[2]))
	}
	return "0.00"
}

// OnOff renders a 0/1 output pin value for a val widget.
func OnOff(value any, _ ...any) string {
	if AsFloat(value) > 0 {
		return "1"
	}
	return "0"
}

// Filename builds a display-name formatter. The slicer-added suffix
// matching clean (print settings, duration) is stripped along with the
// directory and extension.
func Filename(clean *regexp.Regexp) Formatter {
	return func(value any, _ ...any) string {
		name := path.Base(AsString(value))
		name = strings.TrimSuffix(name, path.Ext(name))
		if clean != nil {
			if m := clean.FindStringSubmatch(name + ".gcode"); len(m) > 1 {
				name = m[1]
			}
		}
		return name
	}
}
