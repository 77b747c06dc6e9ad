// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim provides simulated STM32MP firewall register banks.
//
// A Bank behaves as a peripheral register window where writes may be
// filtered by hooks modelling hardware side effects, such as semaphore
// arbitration between compartments or sticky lock bits. Each compartment
// accesses the bank through its own Port.
package sim

import (
	"sync"
)

// Hook filters a register write issued by compartment cid, it returns the
// value actually latched by the register.
type Hook func(b *Bank, cid uint8, old uint32, val uint32) uint32

// Bank represents a simulated register window.
type Bank struct {
	sync.Mutex

	// Name identifies the simulated peripheral
	Name string

	regs   map[uint32]uint32
	hooks  map[uint32][]Hook
	writes int
}

// NewBank returns an empty register bank.
func NewBank(name string) *Bank {
	return &Bank{
		Name:  name,
		regs:  make(map[uint32]uint32),
		hooks: make(map[uint32][]Hook),
	}
}

// Hook registers a write filter on a register offset, filters run in
// registration order.
func (b *Bank) Hook(off uint32, h Hook) {
	b.Lock()
	defer b.Unlock()

	b.hooks[off] = append(b.hooks[off], h)
}

// Poke sets a register value bypassing all hooks.
func (b *Bank) Poke(off uint32, val uint32) {
	b.Lock()
	defer b.Unlock()

	b.regs[off] = val
}

// Peek returns a register value, it is equivalent to Read32 but documents
// test intent.
func (b *Bank) Peek(off uint32) uint32 {
	return b.Read32(off)
}

// Value returns a register value, it must only be called from a Hook.
func (b *Bank) Value(off uint32) uint32 {
	return b.regs[off]
}

// Writes returns the number of register writes issued so far.
func (b *Bank) Writes() int {
	b.Lock()
	defer b.Unlock()

	return b.writes
}

// Read32 implements reg.IO for the Secure World compartment.
func (b *Bank) Read32(off uint32) uint32 {
	b.Lock()
	defer b.Unlock()

	return b.regs[off]
}

// Write32 implements reg.IO for the Secure World compartment.
func (b *Bank) Write32(off uint32, val uint32) {
	b.write(secureCID, off, val)
}

func (b *Bank) write(cid uint8, off uint32, val uint32) {
	b.Lock()
	defer b.Unlock()

	b.writes++

	for _, h := range b.hooks[off] {
		val = h(b, cid, b.regs[off], val)
	}

	b.regs[off] = val
}

// Port returns the view of the bank from compartment cid.
func (b *Bank) Port(cid uint8) *Port {
	return &Port{
		bank: b,
		CID:  cid,
	}
}

// Port represents a bank accessed by a specific compartment.
type Port struct {
	bank *Bank

	// CID is the compartment issuing accesses
	CID uint8
}

// Read32 implements reg.IO.
func (p *Port) Read32(off uint32) uint32 {
	return p.bank.Read32(off)
}

// Write32 implements reg.IO.
func (p *Port) Write32(off uint32, val uint32) {
	p.bank.write(p.CID, off, val)
}
