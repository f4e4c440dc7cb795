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

// Package thumbnail turns a gcode file's embedded preview into the
// panel's ColPic format: pick the best-fit preview from the job
// metadata, fetch it from Moonraker's file server, and re-encode it off
// the control flow on a small worker pool.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	// Slicer previews are PNGs, a few tools embed JPEGs.
	_ "image/jpeg"
	_ "image/png"

	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/OpenNeptune3D/display-connector/pkg/moonraker"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// ErrUnavailable covers every way a preview can fail to materialize:
// no embedded thumbnail, fetch error, decode error, encode timeout.
// The display reacts to all of them the same way, by hiding the
// thumbnail region.
var ErrUnavailable = errors.New("thumbnail unavailable")

const (
	// preferredWidth is the panel's thumbnail region width; an exact
	// match skips scaling artifacts.
	preferredWidth = 160

	fetchTimeout  = 5 * time.Second
	encodeTimeout = 10 * time.Second
	encodeWorkers = 2
)

// MetadataFetcher provides job metadata. *moonraker.Client satisfies it.
type MetadataFetcher interface {
	FileMetadata(ctx context.Context, filename string) (*moonraker.FileMetadata, error)
}

// Pipeline fetches and re-encodes previews. Safe for concurrent use;
// at most encodeWorkers encodes run at once.
type Pipeline struct {
	meta       MetadataFetcher
	httpClient *http.Client
	baseURL    string
	background color.RGBA
	workers    chan struct{}
}

// NewPipeline builds a pipeline fetching images from the Moonraker
// file server at baseURL. Translucent previews are blended over bg.
func NewPipeline(meta MetadataFetcher, baseURL string, bg color.RGBA) *Pipeline {
	return &Pipeline{
		meta:       meta,
		httpClient: &http.Client{Timeout: fetchTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		background: bg,
		workers:    make(chan struct{}, encodeWorkers),
	}
}

// Load produces the armored ColPic stream for filename's preview. The
// context cancels the whole pipeline; every failure is ErrUnavailable.
func (p *Pipeline) Load(ctx context.Context, filename string, meta *moonraker.FileMetadata) ([]byte, error) {
	if meta == nil {
		var err error
		meta, err = p.meta.FileMetadata(ctx, filename)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	best := bestFit(meta.Thumbnails)
	if best == nil {
		return nil, fmt.Errorf("%w: no preview embedded in %s", ErrUnavailable, filename)
	}

	img, err := p.fetch(ctx, filename, best.RelativePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return p.encode(ctx, img)
}

// bestFit prefers an exact panel-width preview, then the widest.
func bestFit(thumbs []moonraker.Thumbnail) *moonraker.Thumbnail {
	var widest *moonraker.Thumbnail
	for i := range thumbs {
		t := &thumbs[i]
		if t.Width == preferredWidth {
			return t
		}
		if widest == nil || t.Width > widest.Width {
			widest = t
		}
	}
	return widest
}

func (p *Pipeline) fetch(ctx context.Context, filename, relative string) (image.Image, error) {
	// Thumbnail paths are relative to the gcode file's directory.
	full := path.Join(path.Dir(filename), relative)
	var escaped []string
	for _, seg := range strings.Split(full, "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	target := p.baseURL + "/server/files/gcodes/" + strings.Join(escaped, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to decode preview: %w", err)
	}
	return img, nil
}

// encode runs the CPU-bound re-encode on the worker pool, bounded by
// its own timeout so a pathological image cannot stall navigation.
func (p *Pipeline) encode(ctx context.Context, img image.Image) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, encodeTimeout)
	defer cancel()

	select {
	case p.workers <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}

	done := make(chan []byte, 1)
	go func() {
		defer func() { <-p.workers }()
		done <- Encode(scale(img), p.background)
	}()

	select {
	case data := <-done:
		return data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

// scale fits img into the panel's square thumbnail region, preserving
// aspect ratio.
func scale(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= preferredWidth && bounds.Dy() <= preferredWidth {
		return img
	}

	w, h := bounds.Dx(), bounds.Dy()
	if w >= h {
		h = h * preferredWidth / w
		w = preferredWidth
	} else {
		w = w * preferredWidth / h
		h = preferredWidth
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
