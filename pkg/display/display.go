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

// Package display renders logical UI operations as panel commands:
// page changes, file listings, leveling overlays, thumbnails and the
// various status screens. It knows the wire page addresses of both
// display firmwares; everything above it deals in nav.PageID only.
package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/nav"
	"github.com/OpenNeptune3D/display-connector/pkg/tjc"
	"github.com/rs/zerolog/log"
)

// Writer is the transport surface the communicator needs. *hmi.Client
// satisfies it.
type Writer interface {
	Write(cmd string, timeout time.Duration, key string) error
	NavigateTo(pageAddr string) error
	Get(expr string, timeout time.Duration) (tjc.Reply, error)
}

// Firmware identifies the panel firmware flavor.
type Firmware string

const (
	// FirmwareElegoo is the stock firmware, addressed positionally.
	FirmwareElegoo Firmware = "elegoo"
	// FirmwareOpenNeptune exposes named pages and widgets.
	FirmwareOpenNeptune Firmware = "openneptune"
)

// FilesPerPage is how many rows the file browser shows at once.
const FilesPerPage = 5

// elegooAddrs maps logical pages to the stock firmware's numeric page
// ids.
var elegooAddrs = map[nav.PageID]string{
	nav.PageMain:                "1",
	nav.PageFiles:               "2",
	nav.PageLeveling:            "3",
	nav.PageLevelingScrew:       "4",
	nav.PageLevelingZOffset:     "5",
	nav.PagePrepareMove:         "8",
	nav.PagePrepareTemp:         "9",
	nav.PagePrepareExtruder:     "10",
	nav.PageSettings:            "11",
	nav.PageSettingsLanguage:    "12",
	nav.PageSettingsTemperature: "32",
	nav.PageConfirmPrint:        "18",
	nav.PagePrinting:            "19",
	nav.PagePrintingComplete:    "24",
	nav.PagePrintingFilament:    "27",
	nav.PageShutdownDialog:      "30",
	nav.PageShuttingDown:        "31",
	nav.PageRebooting:           "63",
	nav.PagePrintingKAMP:        "104",
	nav.PagePrintingAdjust:      "127",
	nav.PageOverlayLoading:      "130",
	nav.PagePrintingSpeed:       "135",
}

// openNeptuneAddrs maps logical pages to the OpenNeptune firmware's
// page names.
var openNeptuneAddrs = map[nav.PageID]string{
	nav.PageMain:                "main",
	nav.PageFiles:               "file1",
	nav.PageLeveling:            "leveling",
	nav.PageLevelingScrew:       "leveling_screw",
	nav.PageLevelingZOffset:     "leveling_zoffset",
	nav.PagePrepareMove:         "premove",
	nav.PagePrepareTemp:         "pretemp",
	nav.PagePrepareExtruder:     "preextruder",
	nav.PageSettings:            "set",
	nav.PageSettingsLanguage:    "language",
	nav.PageSettingsTemperature: "tempset",
	nav.PageConfirmPrint:        "askprint",
	nav.PagePrinting:            "printpause",
	nav.PagePrintingComplete:    "printfinish",
	nav.PagePrintingFilament:    "adjustfila",
	nav.PageShutdownDialog:      "askpower",
	nav.PageShuttingDown:        "poweroff",
	nav.PageRebooting:           "reboot",
	nav.PagePrintingKAMP:        "leveldata_36",
	nav.PagePrintingAdjust:      "adjustzoffset",
	nav.PageOverlayLoading:      "wait",
	nav.PagePrintingSpeed:       "adjustspeed",
}

// wirePages maps the panel's numeric page ids back to logical pages.
// Touch events always carry the numeric page index, even on firmware
// that is addressed by name; the OpenNeptune HMI keeps the stock page
// order.
var wirePages = func() map[uint8]nav.PageID {
	m := make(map[uint8]nav.PageID, len(elegooAddrs))
	for page, addr := range elegooAddrs {
		n, err := strconv.Atoi(addr)
		if err != nil {
			continue
		}
		m[uint8(n)] = page
	}
	return m
}()

// FileRow is one file browser line.
type FileRow struct {
	Name  string
	IsDir bool
}

// Communicator renders UI operations on one panel.
type Communicator struct {
	hmi      Writer
	firmware Firmware
	addrs    map[nav.PageID]string

	// Mesh overlay geometry, set by DrawKAMPGrid.
	kampBox  int
	kampCols int
	kampRows int
	kampXOff int
}

// NewCommunicator builds a communicator for the given firmware flavor.
func NewCommunicator(hmi Writer, firmware Firmware) *Communicator {
	addrs := elegooAddrs
	if firmware == FirmwareOpenNeptune {
		addrs = openNeptuneAddrs
	}
	return &Communicator{hmi: hmi, firmware: firmware, addrs: addrs}
}

// PageAddress translates a logical page to its wire address.
func (c *Communicator) PageAddress(page nav.PageID) (string, error) {
	addr, ok := c.addrs[page]
	if !ok {
		return "", fmt.Errorf("no wire address for page %s", page)
	}
	return addr, nil
}

// PageForWire translates the numeric page id carried by touch events
// back to the logical page.
func (c *Communicator) PageForWire(id uint8) (nav.PageID, bool) {
	page, ok := wirePages[id]
	return page, ok
}

// ShowPage issues the physical page change.
func (c *Communicator) ShowPage(page nav.PageID) error {
	addr, err := c.PageAddress(page)
	if err != nil {
		return err
	}
	return c.hmi.NavigateTo(addr) //nolint:wrapcheck // transport error is already descriptive
}

// SetText writes a string widget. Quotes are stripped, they would
// terminate the panel-side literal.
func (c *Communicator) SetText(widget, value string) error {
	value = strings.ReplaceAll(value, `"`, "")
	//nolint:wrapcheck // transport error is already descriptive
	return c.hmi.Write(fmt.Sprintf("%s.txt=\"%s\"", widget, value), 0, "")
}

// SetVal writes a numeric widget.
func (c *Communicator) SetVal(widget string, value int) error {
	//nolint:wrapcheck // transport error is already descriptive
	return c.hmi.Write(fmt.Sprintf("%s.val=%d", widget, value), 0, "")
}

// SetPic switches a picture widget to another resource id.
func (c *Communicator) SetPic(widget string, pic int) error {
	//nolint:wrapcheck // transport error is already descriptive
	return c.hmi.Write(fmt.Sprintf("%s.pic=%d", widget, pic), 0, "")
}

// Wake brings the panel out of sleep mode.
func (c *Communicator) Wake() error {
	return c.hmi.Write("sleep=0", 0, "") //nolint:wrapcheck
}

// SetBrightness sets the backlight, 0..100.
func (c *Communicator) SetBrightness(percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return c.SetVal("dim", percent)
}

// RenderFileList paints one page of the file browser: name rows, a
// folder icon flag per row, and blanks for the remainder.
func (c *Communicator) RenderFileList(rows []FileRow) error {
	for i := 0; i < FilesPerPage; i++ {
		name := ""
		dir := 0
		if i < len(rows) {
			name = rows[i].Name
			if rows[i].IsDir {
				dir = 1
			}
		}
		if err := c.SetText(fmt.Sprintf("t%d", i), name); err != nil {
			return err
		}
		if err := c.SetVal(fmt.Sprintf("dir%d", i), dir); err != nil {
			return err
		}
	}
	return nil
}

// Mesh overlay colors, RGB565. The stock firmware has no grid widgets
// on the leveling page, so the overlay is drawn with raw fill/xstr
// commands instead.
const (
	kampBackground = 10665
	kampPending    = 17037
	KAMPActive     = 65504 // point being probed
	KAMPProbed     = 2016  // point done
)

// DrawKAMPGrid paints the mesh overlay background and one pending box
// per probe point. Box size and origin are kept for MarkKAMPPoint.
func (c *Communicator) DrawKAMPGrid(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	if err := c.hmi.Write(fmt.Sprintf("fill 0,45,272,340,%d", kampBackground), 0, ""); err != nil {
		return err //nolint:wrapcheck
	}
	if err := c.hmi.Write(fmt.Sprintf(`xstr 0,0,272,50,1,65535,%d,1,1,1,"Creating Bed Mesh"`, kampBackground), 0, ""); err != nil {
		return err //nolint:wrapcheck
	}

	const maxSize = 264 // display width minus 4px padding
	const spacing = 2
	box := maxSize / cols
	if r := maxSize / rows; r < box {
		box = r
	}
	box -= spacing
	if box > 40 {
		box = 40
	}
	c.kampBox = box
	c.kampCols = cols
	c.kampRows = rows
	c.kampXOff = 4 + (maxSize-(cols*(box+spacing)-spacing))/2

	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			if err := c.drawKAMPBox(x, y, kampPending); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkKAMPPoint recolors one probe point's box. Probing walks the bed
// in a serpentine path starting at the front left, so the linear probe
// index alternates direction per row and rows count up from the bottom
// of the grid.
func (c *Communicator) MarkKAMPPoint(index, color int) error {
	if c.kampCols == 0 || c.kampBox <= 0 {
		return nil
	}
	row := index / c.kampCols
	col := index % c.kampCols
	if row%2 == 1 {
		col = c.kampCols - 1 - col
	}
	return c.drawKAMPBox(col, (c.kampRows-1)-row, color)
}

// KAMPText renders the progress line under the mesh grid.
func (c *Communicator) KAMPText(text string) error {
	cmd := fmt.Sprintf(`xstr 0,310,320,30,1,65535,%d,1,1,1,"%s"`, kampBackground, text)
	return c.hmi.Write(cmd, 0, "") //nolint:wrapcheck
}

func (c *Communicator) drawKAMPBox(x, y, color int) error {
	cmd := fmt.Sprintf("fill %d,%d,%d,%d,%d",
		c.kampXOff+x*(c.kampBox+2), 47+y*(c.kampBox+2), c.kampBox, c.kampBox, color)
	return c.hmi.Write(cmd, 0, "") //nolint:wrapcheck
}

// RenderScrewAdjust shows a screw's dial reading ("CW 1/4" style) on
// the screw leveling page.
func (c *Communicator) RenderScrewAdjust(screw int, adjust string) error {
	return c.SetText(fmt.Sprintf("screw%d", screw), adjust)
}

// PrintStateIcons flips the pause/resume button artwork on the printing
// page for the given print state.
func (c *Communicator) PrintStateIcons(state string) error {
	// Resource ids are shared between both firmwares.
	pic := 28 // pause icon
	if state == "paused" {
		pic = 29 // resume icon
	}
	return c.SetPic("b_pause", pic)
}

// ShowFirmwareWarning renders the persistent banner for an unsupported
// panel firmware version. It stays up until the next page change.
func (c *Communicator) ShowFirmwareWarning(current, wanted string) error {
	if err := c.hmi.Write("vis warn,1", 0, ""); err != nil {
		return err //nolint:wrapcheck
	}
	return c.SetText("warn", fmt.Sprintf("Display firmware %s, expected %s", current, wanted))
}

// thumbnailChunk is the longest string literal a single write command
// can carry.
const thumbnailChunk = 1024

// ShowThumbnail uploads an armored ColPic stream into the preview
// widget, chunked to the panel's command length limit, then reveals it.
func (c *Communicator) ShowThumbnail(data []byte) error {
	if err := c.hmi.Write("cp0.close()", 0, ""); err != nil {
		return err //nolint:wrapcheck
	}
	for len(data) > 0 {
		n := len(data)
		if n > thumbnailChunk {
			n = thumbnailChunk
		}
		cmd := fmt.Sprintf("cp0.write(\"%s\")", data[:n])
		if err := c.hmi.Write(cmd, 0, ""); err != nil {
			return err //nolint:wrapcheck
		}
		data = data[n:]
	}
	return c.hmi.Write("vis cp0,1", 0, "") //nolint:wrapcheck
}

// HideThumbnail blanks the preview region. Always safe to call; used as
// the degraded path for every thumbnail failure.
func (c *Communicator) HideThumbnail() {
	if err := c.hmi.Write("vis cp0,0", 0, ""); err != nil {
		log.Debug().Err(err).Msg("failed to hide thumbnail")
	}
}

// ShowShutdownScreen renders the power-off page. The host is about to
// go away, so failures are only logged.
func (c *Communicator) ShowShutdownScreen() {
	if err := c.ShowPage(nav.PageShuttingDown); err != nil {
		log.Warn().Err(err).Msg("failed to show shutdown screen")
	}
}

// ShowRebootScreen renders the reboot page.
func (c *Communicator) ShowRebootScreen() {
	if err := c.ShowPage(nav.PageRebooting); err != nil {
		log.Warn().Err(err).Msg("failed to show reboot screen")
	}
}
