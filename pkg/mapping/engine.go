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
	"context"
	"fmt"
	"strings"

	"github.com/OpenNeptune3D/display-connector/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// WriteFunc issues one widget-update command on the panel link.
type WriteFunc func(cmd string) error

// Engine replays telemetry deltas against a mapping tree. The snapshot
// it maintains is the canonical last-known state, used to resolve
// cross-field dependencies and to seed fields briefly absent from an
// update.
type Engine struct {
	write   WriteFunc
	limiter *rate.Limiter

	mu       syncutil.Mutex // protects snapshot and tree
	tree     *Node
	snapshot map[string]any
}

// writesPerSecond paces widget updates so a telemetry burst cannot
// overrun the serial link's effective throughput.
const writesPerSecond = 50

// NewEngine builds an engine over tree, issuing commands through write.
func NewEngine(tree *Node, write WriteFunc) *Engine {
	return &Engine{
		write:    write,
		tree:     tree,
		limiter:  rate.NewLimiter(rate.Limit(writesPerSecond), writesPerSecond),
		snapshot: make(map[string]any),
	}
}

// Snapshot resolves a dot-separated path in the running snapshot.
func (e *Engine) Snapshot(path string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return resolve(e.snapshot, path)
}

// Apply merges delta into the snapshot and issues the widget updates
// the mapping tree declares for the changed fields. A failed write is
// logged and does not stop sibling leaves: telemetry must be maximally
// delivered even when some targets are off-screen.
func (e *Engine) Apply(ctx context.Context, delta map[string]any) {
	e.mu.Lock()
	mergeInto(e.snapshot, delta)
	tree := e.tree
	e.mu.Unlock()

	e.walk(ctx, delta, tree)
}

// SetTree swaps the mapping tree. Used on config reload, when keys
// that shape the tree (printer model, z display mode, filament sensor
// name) may have changed. In-flight walks finish on the old tree.
func (e *Engine) SetTree(tree *Node) {
	e.mu.Lock()
	e.tree = tree
	e.mu.Unlock()
}

func (e *Engine) walk(ctx context.Context, delta map[string]any, node *Node) {
	if node == nil {
		return
	}
	for key, value := range delta {
		child, ok := node.Children[key]
		if !ok {
			continue
		}
		for _, leaf := range child.Leaves {
			e.eval(ctx, leaf, value)
		}
		if nested, ok := value.(map[string]any); ok {
			e.walk(ctx, nested, child)
		}
	}
}

func (e *Engine) eval(ctx context.Context, leaf *Leaf, value any) {
	deps := make([]any, 0, len(leaf.Requires))
	if len(leaf.Requires) > 0 {
		e.mu.Lock()
		for _, path := range leaf.Requires {
			v, _ := resolve(e.snapshot, path)
			deps = append(deps, v)
		}
		e.mu.Unlock()
	}

	var rendered string
	if leaf.Format != nil {
		rendered = leaf.Format(value, deps...)
	} else {
		rendered = defaultFormat(value)
	}

	for _, target := range leaf.Targets {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
		cmd := leaf.command(target, rendered)
		if err := e.write(cmd); err != nil {
			log.Debug().Err(err).Str("cmd", cmd).Msg("widget update failed")
		}
	}
}

func (l *Leaf) command(target, rendered string) string {
	switch l.Kind {
	case Numeric:
		return fmt.Sprintf("%s.val=%s", target, rendered)
	case Picture:
		return fmt.Sprintf("%s.pic=%s", target, rendered)
	default:
		// Double quotes would terminate the panel-side string early.
		return fmt.Sprintf("%s.txt=\"%s\"", target, strings.ReplaceAll(rendered, `"`, ""))
	}
}

// mergeInto deep-merges src into dst, overwriting scalars.
func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
			fresh := make(map[string]any, len(srcMap))
			mergeInto(fresh, srcMap)
			dst[key] = fresh
			continue
		}
		dst[key] = value
	}
}

// resolve walks a dot-separated path through nested maps.
func resolve(snapshot map[string]any, path string) (any, bool) {
	var cur any = snapshot
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func defaultFormat(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
