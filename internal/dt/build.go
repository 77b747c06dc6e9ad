// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dt

import (
	"encoding/binary"
	"strings"
)

// NewNode returns a node with the given properties.
func NewNode(name string, props ...Property) *Node {
	return &Node{
		Name:       name,
		Properties: props,
	}
}

// Add appends children to a node and returns it.
func Add(n *Node, children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// CellsProp returns a property holding big-endian 32-bit cells.
func CellsProp(name string, cells ...uint32) Property {
	buf := make([]byte, 4*len(cells))

	for i, c := range cells {
		binary.BigEndian.PutUint32(buf[i*4:], c)
	}

	return Property{
		Name:  name,
		Value: buf,
	}
}

// StringProp returns a property holding a string list.
func StringProp(name string, s ...string) Property {
	return Property{
		Name:  name,
		Value: []byte(strings.Join(s, "\x00") + "\x00"),
	}
}

// FlagProp returns an empty property.
func FlagProp(name string) Property {
	return Property{
		Name:  name,
		Value: []byte{},
	}
}
