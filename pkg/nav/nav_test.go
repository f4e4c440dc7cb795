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

package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorded builds a machine that records every physical page change.
func recorded() (*Machine, *[]PageID) {
	var shown []PageID
	m := &Machine{
		Show: func(page PageID) error {
			shown = append(shown, page)
			return nil
		},
	}
	return m, &shown
}

func TestNavigateIsIdempotent(t *testing.T) {
	t.Parallel()

	m, shown := recorded()
	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.Navigate(PageMain, false))

	assert.Equal(t, []PageID{PageMain}, m.History())
	assert.Equal(t, []PageID{PageMain}, *shown)
}

func TestNavigateThenGoBack(t *testing.T) {
	t.Parallel()

	m, shown := recorded()
	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.Navigate(PageSettings, false))
	require.NoError(t, m.GoBack())

	assert.Equal(t, []PageID{PageMain}, m.History())
	assert.Equal(t, []PageID{PageMain, PageSettings, PageMain}, *shown)
}

func TestTabbedSiblingsReplaceInPlace(t *testing.T) {
	t.Parallel()

	m, _ := recorded()
	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.Navigate(PagePrepareMove, false))
	require.NoError(t, m.Navigate(PagePrepareTemp, false))
	require.NoError(t, m.Navigate(PagePrepareExtruder, false))

	assert.Equal(t, []PageID{PageMain, PagePrepareExtruder}, m.History())
}

func TestGoBackAtRootIsNoOp(t *testing.T) {
	t.Parallel()

	m, shown := recorded()
	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.GoBack())

	assert.Equal(t, []PageID{PageMain}, m.History())
	assert.Equal(t, []PageID{PageMain}, *shown)
}

func TestOverlayPushesPrintingParent(t *testing.T) {
	t.Parallel()

	m, shown := recorded()
	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.Navigate(PagePrintingKAMP, false))

	assert.Equal(t, []PageID{PageMain, PagePrinting, PagePrintingKAMP}, m.History())
	assert.Equal(t, []PageID{PageMain, PagePrinting, PagePrintingKAMP}, *shown)
}

func TestClearHistoryMakesTargetRoot(t *testing.T) {
	t.Parallel()

	m, _ := recorded()
	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.Navigate(PageSettings, false))
	require.NoError(t, m.Navigate(PagePrinting, true))

	assert.Equal(t, []PageID{PagePrinting}, m.History())
}

func TestLevelingGuardBlocksNavigation(t *testing.T) {
	t.Parallel()

	m, _ := recorded()
	require.NoError(t, m.Navigate(PagePrintingKAMP, false))
	m.SetLevelingActive(true)

	err := m.Navigate(PageMain, false)
	require.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, PagePrintingKAMP, m.Current())

	// The printing page is the designated escape.
	require.NoError(t, m.Navigate(PagePrinting, false))
	assert.Equal(t, PagePrinting, m.Current())
}

func TestGoBackPopsTransitionPages(t *testing.T) {
	t.Parallel()

	m, shown := recorded()
	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.Navigate(PageOverlayLoading, false))
	require.NoError(t, m.Navigate(PageFiles, false))
	require.NoError(t, m.GoBack())

	// The loading overlay must not be re-exposed.
	assert.Equal(t, []PageID{PageMain}, m.History())
	assert.Equal(t, PageMain, (*shown)[len(*shown)-1])
}

func TestFilesBackAscendsDirectory(t *testing.T) {
	t.Parallel()

	m, shown := recorded()
	ascended := 0
	atRoot := false
	m.FilesBack = func() bool {
		if atRoot {
			return false
		}
		ascended++
		return true
	}

	require.NoError(t, m.Navigate(PageMain, false))
	require.NoError(t, m.Navigate(PageFiles, false))

	// In a subdirectory: back reloads the parent listing, no pop.
	require.NoError(t, m.GoBack())
	assert.Equal(t, 1, ascended)
	assert.Equal(t, []PageID{PageMain, PageFiles}, m.History())

	// At the gcodes root: back pops as usual.
	atRoot = true
	require.NoError(t, m.GoBack())
	assert.Equal(t, []PageID{PageMain}, m.History())
	assert.Equal(t, PageMain, (*shown)[len(*shown)-1])
}

func TestBeforeNavigateRunsFirst(t *testing.T) {
	t.Parallel()

	var order []string
	m := &Machine{
		Show: func(page PageID) error {
			order = append(order, "show "+string(page))
			return nil
		},
		BeforeNavigate: func() {
			order = append(order, "cancel")
		},
	}

	require.NoError(t, m.Navigate(PageMain, false))
	assert.Equal(t, []string{"cancel", "show main"}, order)
}
