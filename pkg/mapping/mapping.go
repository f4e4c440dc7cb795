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

// Package mapping projects printer telemetry onto widget updates. A
// tree mirrors the shape of Moonraker's status objects; its leaves name
// the widgets a value lands on and how it is formatted on the way.
package mapping

import "strings"

// FieldKind selects the widget attribute a leaf writes.
type FieldKind int

const (
	// Text writes target.txt="value".
	Text FieldKind = iota
	// Numeric writes target.val=value.
	Numeric
	// Picture writes target.pic=value.
	Picture
)

// Formatter renders a telemetry value for the panel. deps carry the
// resolved values of the leaf's required fields, in declaration order.
type Formatter func(value any, deps ...any) string

// Leaf maps one telemetry field to one or more widget addresses. The
// same logical value is often mirrored on several pages. Immutable
// after construction.
type Leaf struct {
	Format   Formatter
	Targets  []string
	Requires []string
	Kind     FieldKind
}

// NewLeaf builds a leaf writing to targets. With a nil formatter the
// raw value is rendered with a default representation.
func NewLeaf(kind FieldKind, format Formatter, targets ...string) *Leaf {
	return &Leaf{Kind: kind, Format: format, Targets: targets}
}

// WithRequires declares cross-field dependencies, as dot-separated
// paths into the running snapshot.
func (l *Leaf) WithRequires(paths ...string) *Leaf {
	l.Requires = paths
	return l
}

// Node is one level of the mapping tree: either nested children keyed
// by telemetry path segment, leaves, or both.
type Node struct {
	Children map[string]*Node
	Leaves   []*Leaf
}

// NewNode returns an empty tree node.
func NewNode() *Node {
	return &Node{Children: make(map[string]*Node)}
}

// Child returns the node at the given path, creating intermediate
// nodes as needed. Path segments are separate arguments.
func (n *Node) Child(path ...string) *Node {
	cur := n
	for _, seg := range path {
		if cur.Children == nil {
			cur.Children = make(map[string]*Node)
		}
		next, ok := cur.Children[seg]
		if !ok {
			next = NewNode()
			cur.Children[seg] = next
		}
		cur = next
	}
	return cur
}

// Add appends leaves at the given dot-separated path.
func (n *Node) Add(path string, leaves ...*Leaf) *Node {
	node := n.Child(strings.Split(path, ".")...)
	node.Leaves = append(node.Leaves, leaves...)
	return n
}

// Lookup returns the node at path, or nil.
func (n *Node) Lookup(path string) *Node {
	cur := n
	for _, seg := range strings.Split(path, ".") {
		if cur == nil || cur.Children == nil {
			return nil
		}
		cur = cur.Children[seg]
	}
	return cur
}

// Remove deletes the subtree at path. Used by per-model patches.
func (n *Node) Remove(path string) {
	segs := strings.Split(path, ".")
	cur := n
	for _, seg := range segs[:len(segs)-1] {
		if cur == nil || cur.Children == nil {
			return
		}
		cur = cur.Children[seg]
	}
	if cur != nil && cur.Children != nil {
		delete(cur.Children, segs[len(segs)-1])
	}
}

// Rename moves the direct child old to new. Used when a branch's
// telemetry key is configuration-dependent (filament sensor name).
func (n *Node) Rename(old, newName string) {
	if n.Children == nil {
		return
	}
	if child, ok := n.Children[old]; ok {
		delete(n.Children, old)
		n.Children[newName] = child
	}
}
