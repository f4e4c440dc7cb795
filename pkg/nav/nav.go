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

// Package nav is the page-stack state machine. It only ever deals in
// logical page identifiers; translating those to wire addresses is the
// display layer's job.
package nav

import (
	"errors"
	"fmt"

	"github.com/OpenNeptune3D/display-connector/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// PageID is a logical page name, distinct from the numeric or string
// page address used on the serial wire.
type PageID string

const (
	PageMain                PageID = "main"
	PageFiles               PageID = "files"
	PagePrepareMove         PageID = "prepare_move"
	PagePrepareTemp         PageID = "prepare_temp"
	PagePrepareExtruder     PageID = "prepare_extruder"
	PageSettings            PageID = "settings"
	PageSettingsLanguage    PageID = "settings_language"
	PageSettingsTemperature PageID = "settings_temperature"
	PageConfirmPrint        PageID = "confirm_print"
	PageLeveling            PageID = "leveling"
	PageLevelingScrew       PageID = "leveling_screw"
	PageLevelingZOffset     PageID = "leveling_z_offset"
	PagePrinting            PageID = "printing"
	PagePrintingFilament    PageID = "printing_filament"
	PagePrintingAdjust      PageID = "printing_adjust"
	PagePrintingSpeed       PageID = "printing_speed"
	PagePrintingComplete    PageID = "printing_complete"
	PagePrintingKAMP        PageID = "printing_kamp"
	PageOverlayLoading      PageID = "overlay_loading"
	PageShutdownDialog      PageID = "shutdown_dialog"
	PageShuttingDown        PageID = "shutting_down"
	PageRebooting           PageID = "rebooting"
)

// ErrBlocked is returned when a guarded multi-step operation (bed
// leveling through the mesh overlay) refuses the transition. This is an
// expected interlock, not a fault; callers log it at debug and move on.
var ErrBlocked = errors.New("navigation blocked")

// printingFamily are the pages that render on top of the printing
// screen. Navigating to one of them pushes the printing page first if
// it is not already on the stack top.
var printingFamily = map[PageID]bool{
	PagePrinting:         true,
	PagePrintingFilament: true,
	PagePrintingAdjust:   true,
	PagePrintingSpeed:    true,
	PagePrintingKAMP:     true,
	PagePrintingComplete: true,
}

// tabbedFamilies group mutually exclusive sibling tabs. Moving between
// siblings replaces the stack top instead of pushing, so back
// navigation skips the tabs visited in between.
var tabbedFamilies = []map[PageID]bool{
	{PagePrepareMove: true, PagePrepareTemp: true, PagePrepareExtruder: true},
	{PagePrintingFilament: true, PagePrintingAdjust: true, PagePrintingSpeed: true},
}

// transitionPages never stay exposed: going back pops through them.
var transitionPages = map[PageID]bool{
	PageOverlayLoading: true,
}

func tabbedSiblings(a, b PageID) bool {
	for _, family := range tabbedFamilies {
		if family[a] && family[b] {
			return true
		}
	}
	return false
}

// Machine drives page transitions. Show issues the physical page
// change, Enter runs the target page's on-enter side effects; both run
// outside the history lock.
type Machine struct {
	// Show issues the physical navigation command for a page.
	Show func(page PageID) error
	// Enter runs a page's on-enter side effects (populate file list,
	// draw the leveling overlay, start a dependent background task).
	Enter func(page PageID) error
	// BeforeNavigate runs before any transition. The controller hangs
	// thumbnail cancellation here; it must not return until the load
	// task has observed the cancel.
	BeforeNavigate func()
	// FilesBack handles back-presses on the file browser. Returning
	// true means a directory level was ascended and the stack must not
	// be popped.
	FilesBack func() bool

	mu             syncutil.Mutex // protects history, levelingActive
	history        []PageID
	levelingActive bool
}

// SetLevelingActive toggles the bed-leveling interlock. While active,
// navigation away from the mesh overlay is refused unless the target is
// the printing page.
func (m *Machine) SetLevelingActive(active bool) {
	m.mu.Lock()
	m.levelingActive = active
	m.mu.Unlock()
}

// Current returns the page on top of the stack, or "" before the first
// navigation.
func (m *Machine) Current() PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return ""
	}
	return m.history[len(m.history)-1]
}

// History returns a copy of the stack, oldest first.
func (m *Machine) History() []PageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PageID, len(m.history))
	copy(out, m.history)
	return out
}

// Navigate moves to target. Navigating to the current page is a no-op.
// With clearHistory the stack is emptied first, making target the new
// root.
func (m *Machine) Navigate(target PageID, clearHistory bool) error {
	if m.BeforeNavigate != nil {
		m.BeforeNavigate()
	}

	m.mu.Lock()
	current := m.top()

	if m.levelingActive && current == PagePrintingKAMP && target != PagePrinting {
		m.mu.Unlock()
		log.Debug().Str("target", string(target)).Msg("navigation blocked during leveling")
		return fmt.Errorf("%w: leveling in progress", ErrBlocked)
	}

	// Overlay pages only render correctly on top of the printing page.
	needsParent := printingFamily[target] && target != PagePrinting &&
		!printingFamily[current]
	if needsParent {
		if clearHistory {
			m.history = m.history[:0]
		}
		m.history = append(m.history, PagePrinting)
		m.mu.Unlock()
		if err := m.show(PagePrinting); err != nil {
			return err
		}
		clearHistory = false
		m.mu.Lock()
		current = m.top()
	}

	if current == target {
		m.mu.Unlock()
		return nil
	}

	switch {
	case tabbedSiblings(current, target):
		m.history[len(m.history)-1] = target
	case clearHistory && target != PagePrintingKAMP:
		m.history = append(m.history[:0], target)
	default:
		m.history = append(m.history, target)
	}
	m.mu.Unlock()

	return m.show(target)
}

// GoBack pops the current page and returns to the one beneath it,
// popping through transition overlays. On the file browser it first
// tries to ascend a directory instead. With one entry left it is a
// no-op.
func (m *Machine) GoBack() error {
	if m.BeforeNavigate != nil {
		m.BeforeNavigate()
	}

	m.mu.Lock()
	current := m.top()
	if current == PageFiles && m.FilesBack != nil {
		m.mu.Unlock()
		if m.FilesBack() {
			return nil
		}
		m.mu.Lock()
	}

	if len(m.history) <= 1 {
		m.mu.Unlock()
		log.Debug().Msg("back pressed at root page")
		return nil
	}

	m.history = m.history[:len(m.history)-1]
	for len(m.history) > 1 && transitionPages[m.top()] {
		m.history = m.history[:len(m.history)-1]
	}
	target := m.top()
	m.mu.Unlock()

	return m.show(target)
}

// top requires m.mu held.
func (m *Machine) top() PageID {
	if len(m.history) == 0 {
		return ""
	}
	return m.history[len(m.history)-1]
}

// show issues the physical page change and runs on-enter side effects.
func (m *Machine) show(page PageID) error {
	if m.Show != nil {
		if err := m.Show(page); err != nil {
			return fmt.Errorf("failed to show page %s: %w", page, err)
		}
	}
	if m.Enter != nil {
		if err := m.Enter(page); err != nil {
			return fmt.Errorf("failed to enter page %s: %w", page, err)
		}
	}
	return nil
}
