// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides 32-bit register access over a peripheral register
// window.
//
// Peripheral drivers never dereference addresses directly, they operate on an
// IO implementation which is either the native memory mapped window (see
// mem.Window) or a simulated register bank.
package reg

import (
	"github.com/usbarmory/tamago/bits"
)

// IO represents a peripheral register window, offsets are relative to the
// peripheral base address.
type IO interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
}

// Read returns the register value at the given offset.
func Read(io IO, off uint32) uint32 {
	return io.Read32(off)
}

// Write sets the register value at the given offset.
func Write(io IO, off uint32, val uint32) {
	io.Write32(off, val)
}

// Get returns the register field at a specific bit position and with a bitmask
// applied.
func Get(io IO, off uint32, pos int, mask int) uint32 {
	r := io.Read32(off)
	return bits.Get(&r, pos, mask)
}

// IsSet returns whether an individual register bit is set.
func IsSet(io IO, off uint32, pos int) bool {
	return Get(io, off, pos, 1) == 1
}

// Set modifies an individual register bit at the position argument.
func Set(io IO, off uint32, pos int) {
	r := io.Read32(off)
	bits.Set(&r, pos)
	io.Write32(off, r)
}

// Clear clears an individual register bit at the position argument.
func Clear(io IO, off uint32, pos int) {
	r := io.Read32(off)
	bits.Clear(&r, pos)
	io.Write32(off, r)
}

// SetTo modifies an individual register bit at the position argument to the
// specified boolean value.
func SetTo(io IO, off uint32, pos int, val bool) {
	r := io.Read32(off)
	bits.SetTo(&r, pos, val)
	io.Write32(off, r)
}

// SetN modifies a register field at a specific bit position and with a bitmask
// applied.
func SetN(io IO, off uint32, pos int, mask int, val uint32) {
	r := io.Read32(off)
	bits.SetN(&r, pos, mask, val&uint32(mask))
	io.Write32(off, r)
}

// SetBits sets all bits of mask in the register (io_setbits32).
func SetBits(io IO, off uint32, mask uint32) {
	io.Write32(off, io.Read32(off)|mask)
}

// ClearBits clears all bits of mask in the register (io_clrbits32).
func ClearBits(io IO, off uint32, mask uint32) {
	io.Write32(off, io.Read32(off)&^mask)
}

// ClearSetBits clears the bits of clr and then sets the bits of set in a
// single register write (io_clrsetbits32).
func ClearSetBits(io IO, off uint32, clr uint32, set uint32) {
	io.Write32(off, (io.Read32(off)&^clr)|set)
}

// Mask returns the contiguous bitmask covering bits msb down to lsb.
func Mask(msb int, lsb int) uint32 {
	return (^uint32(0) >> (31 - msb)) &^ ((uint32(1) << lsb) - 1)
}

// Bit returns a mask with only bit n set.
func Bit(n int) uint32 {
	return uint32(1) << n
}
