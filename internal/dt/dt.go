// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dt provides the device tree lookups required by firewall
// controllers and their consumers, on top of the u-root flattened device
// tree parser.
package dt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	udt "github.com/u-root/u-root/pkg/dt"
)

// Node is a device tree node.
type Node = udt.Node

// Property is a device tree node property.
type Property = udt.Property

// Tree represents an indexed device tree.
type Tree struct {
	// Root is the device tree root node
	Root *Node

	parents  map[*Node]*Node
	phandles map[uint32]*Node
}

// Parse decodes a flattened device tree blob.
func Parse(buf []byte) (*Tree, error) {
	fdt, err := udt.ReadFDT(bytes.NewReader(buf))

	if err != nil {
		return nil, fmt.Errorf("could not parse device tree, %v", err)
	}

	return New(fdt.RootNode), nil
}

// New indexes a device tree starting from its root node.
func New(root *Node) *Tree {
	t := &Tree{
		Root:     root,
		parents:  make(map[*Node]*Node),
		phandles: make(map[uint32]*Node),
	}

	t.index(root)

	return t
}

func (t *Tree) index(n *Node) {
	if ph, ok := U32(n, "phandle"); ok {
		t.phandles[ph] = n
	}

	for _, c := range n.Children {
		t.parents[c] = n
		t.index(c)
	}
}

// Phandle returns the node referenced by a phandle.
func (t *Tree) Phandle(ph uint32) (n *Node, ok bool) {
	n, ok = t.phandles[ph]
	return
}

// Parent returns the parent of a node, the root node has none.
func (t *Tree) Parent(n *Node) *Node {
	return t.parents[n]
}

// Path returns the full path of a node.
func (t *Tree) Path(n *Node) string {
	var names []string

	for ; n != nil && n != t.Root; n = t.parents[n] {
		names = append([]string{n.Name}, names...)
	}

	return "/" + strings.Join(names, "/")
}

// Walk calls fn for every node in depth first order, stopping at the first
// error.
func (t *Tree) Walk(fn func(n *Node) error) error {
	return walk(t.Root, fn)
}

func walk(n *Node, fn func(n *Node) error) (err error) {
	if err = fn(n); err != nil {
		return
	}

	for _, c := range n.Children {
		if err = walk(c, fn); err != nil {
			return
		}
	}

	return
}

// Compatible returns all nodes matching a compatible string.
func (t *Tree) Compatible(compat string) (nodes []*Node) {
	t.Walk(func(n *Node) error {
		if IsCompatible(n, compat) {
			nodes = append(nodes, n)
		}

		return nil
	})

	return
}

// Lookup returns a node property.
func Lookup(n *Node, name string) (*Property, bool) {
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			return &n.Properties[i], true
		}
	}

	return nil, false
}

// Has returns whether a node carries a property.
func Has(n *Node, name string) bool {
	_, ok := Lookup(n, name)
	return ok
}

// Cells returns a property as a list of big-endian 32-bit cells.
func Cells(n *Node, name string) ([]uint32, bool) {
	p, ok := Lookup(n, name)

	if !ok || len(p.Value)%4 != 0 {
		return nil, false
	}

	cells := make([]uint32, len(p.Value)/4)

	for i := range cells {
		cells[i] = binary.BigEndian.Uint32(p.Value[i*4:])
	}

	return cells, true
}

// U32 returns a single cell property.
func U32(n *Node, name string) (uint32, bool) {
	cells, ok := Cells(n, name)

	if !ok || len(cells) != 1 {
		return 0, false
	}

	return cells[0], true
}

// Strings returns a string list property.
func Strings(n *Node, name string) ([]string, bool) {
	p, ok := Lookup(n, name)

	if !ok {
		return nil, false
	}

	s := strings.TrimSuffix(string(p.Value), "\x00")

	if len(s) == 0 {
		return nil, true
	}

	return strings.Split(s, "\x00"), true
}

// IsCompatible returns whether a node matches a compatible string.
func IsCompatible(n *Node, compat string) bool {
	list, _ := Strings(n, "compatible")

	for _, c := range list {
		if c == compat {
			return true
		}
	}

	return false
}

// Enabled returns whether a node status is absent or okay.
func Enabled(n *Node) bool {
	status, ok := Strings(n, "status")

	if !ok || len(status) == 0 {
		return true
	}

	return status[0] == "okay" || status[0] == "ok"
}

// CellCount returns the value of a #*-cells property of a node, or def when
// missing.
func CellCount(n *Node, name string, def uint32) uint32 {
	if n == nil {
		return def
	}

	if v, ok := U32(n, name); ok {
		return v
	}

	return def
}

// Reg represents one address/size pair of a reg property.
type Reg struct {
	Address uint64
	Size    uint64
}

// Reg decodes a node reg property according to the #address-cells and
// #size-cells of its parent.
func (t *Tree) Reg(n *Node) (regs []Reg, err error) {
	parent := t.Parent(n)
	ac := CellCount(parent, "#address-cells", 2)
	sc := CellCount(parent, "#size-cells", 1)

	cells, ok := Cells(n, "reg")

	if !ok {
		return nil, fmt.Errorf("%s: missing reg", t.Path(n))
	}

	stride := int(ac + sc)

	if stride == 0 || len(cells)%stride != 0 || ac > 2 || sc > 2 {
		return nil, fmt.Errorf("%s: invalid reg", t.Path(n))
	}

	for i := 0; i < len(cells); i += stride {
		regs = append(regs, Reg{
			Address: Join(cells[i : i+int(ac)]),
			Size:    Join(cells[i+int(ac) : i+stride]),
		})
	}

	return
}

// Join combines up to two big-endian cells in a single value.
func Join(cells []uint32) (v uint64) {
	for _, c := range cells {
		v = v<<32 | uint64(c)
	}

	return
}
