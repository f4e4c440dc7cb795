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
	"path"
	"sort"
	"strings"

	"github.com/OpenNeptune3D/display-connector/pkg/display"
	"github.com/OpenNeptune3D/display-connector/pkg/nav"
	"github.com/rs/zerolog/log"
)

// browserEntry is one directory or gcode file in the browser.
type browserEntry struct {
	name     string // display name
	fullPath string // path relative to the gcodes root
	isDir    bool
	modified float64
	size     int64
}

// fileBrowser is the file picker's position: which directory, which
// page of it, and the file awaiting print confirmation.
type fileBrowser struct {
	currentDir string
	page       int
	entries    []browserEntry
	selected   string
}

// refreshFileList reloads the current directory and renders the
// current page of it.
func (c *Controller) refreshFileList() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	c.mu.Lock()
	dir := c.files.currentDir
	c.mu.Unlock()

	listing, err := c.printer.GetDirectory(ctx, path.Join("gcodes", dir))
	if err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("failed to list directory")
		return
	}

	entries := make([]browserEntry, 0, len(listing.Dirs)+len(listing.Files))
	for _, d := range listing.Dirs {
		if strings.HasPrefix(d.Dirname, ".") {
			continue
		}
		entries = append(entries, browserEntry{
			name:     d.Dirname,
			fullPath: path.Join(dir, d.Dirname),
			isDir:    true,
			modified: d.Modified,
		})
	}
	for _, f := range listing.Files {
		if !strings.HasSuffix(f.Filename, ".gcode") {
			continue
		}
		entries = append(entries, browserEntry{
			name:     strings.TrimSuffix(f.Filename, ".gcode"),
			fullPath: path.Join(dir, f.Filename),
			modified: f.Modified,
			size:     f.Size,
		})
	}
	c.sortEntries(entries)

	c.mu.Lock()
	c.files.entries = entries
	if c.files.page*display.FilesPerPage >= len(entries) {
		c.files.page = 0
	}
	c.mu.Unlock()

	c.renderFilePage()
}

// sortEntries orders the listing per the files config section.
func (c *Controller) sortEntries(entries []browserEntry) {
	files := c.cfg.Files()
	less := func(a, b browserEntry) bool {
		var cmp bool
		switch files.SortBy {
		case "name":
			cmp = a.name < b.name
		case "size":
			cmp = a.size < b.size
		default:
			cmp = a.modified < b.modified
		}
		if files.SortOrder == "desc" {
			return !cmp
		}
		return cmp
	}
	if files.SortFoldersFirst {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].isDir != entries[j].isDir {
				return entries[i].isDir
			}
			return less(entries[i], entries[j])
		})
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
}

func (c *Controller) renderFilePage() {
	c.mu.Lock()
	start := c.files.page * display.FilesPerPage
	rows := make([]display.FileRow, 0, display.FilesPerPage)
	for i := start; i < len(c.files.entries) && i < start+display.FilesPerPage; i++ {
		entry := c.files.entries[i]
		rows = append(rows, display.FileRow{Name: entry.name, IsDir: entry.isDir})
	}
	dir := c.files.currentDir
	page := c.files.page
	pages := 1
	if n := len(c.files.entries); n > 0 {
		pages = (n-1)/display.FilesPerPage + 1
	}
	c.mu.Unlock()

	title := "Files"
	if dir != "" {
		title = path.Base(dir)
	}
	if err := c.disp.SetText("t_title", fmt.Sprintf("%s (%d/%d)", title, page+1, pages)); err != nil {
		log.Debug().Err(err).Msg("failed to render file list title")
	}
	if err := c.disp.RenderFileList(rows); err != nil {
		log.Error().Err(err).Msg("failed to render file list")
	}
}

// filesPage moves the browser one page forward or back, clamped to the
// listing.
func (c *Controller) filesPage(delta int) {
	c.mu.Lock()
	lastPage := 0
	if n := len(c.files.entries); n > 0 {
		lastPage = (n - 1) / display.FilesPerPage
	}
	page := c.files.page + delta
	if page < 0 {
		page = 0
	}
	if page > lastPage {
		page = lastPage
	}
	changed := page != c.files.page
	c.files.page = page
	c.mu.Unlock()

	if changed {
		c.renderFilePage()
	}
}

// openFile acts on the row at index on the current page: descend into
// a directory or select a file for printing.
func (c *Controller) openFile(index int) {
	c.mu.Lock()
	pos := c.files.page*display.FilesPerPage + index
	if pos >= len(c.files.entries) {
		c.mu.Unlock()
		return
	}
	entry := c.files.entries[pos]
	if entry.isDir {
		c.files.currentDir = entry.fullPath
		c.files.page = 0
	} else {
		c.files.selected = entry.fullPath
		c.currentFile = entry.fullPath
	}
	c.mu.Unlock()

	if entry.isDir {
		c.refreshFileList()
		return
	}
	c.navigate(nav.PageConfirmPrint)
}

// filesBack is the navigation hook consulted when the operator presses
// back on the files page. Inside a subdirectory it ascends instead of
// leaving the browser.
func (c *Controller) filesBack() bool {
	c.mu.Lock()
	if c.files.currentDir == "" {
		c.mu.Unlock()
		return false
	}
	c.files.currentDir = path.Dir(c.files.currentDir)
	if c.files.currentDir == "." {
		c.files.currentDir = ""
	}
	c.files.page = 0
	c.mu.Unlock()

	c.refreshFileList()
	return true
}
