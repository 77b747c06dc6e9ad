// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package firewall implements the firewall controller abstraction shared by
// STM32MP access control drivers and their consumers.
//
// A controller implements Controller and any subset of the capability
// interfaces defined in this package, invoking a capability which the
// controller lacks returns rif.ErrNotSupported.
package firewall

import (
	"fmt"

	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

// Controller represents a firewall controller.
type Controller interface {
	Name() string
}

// Configurer is implemented by controllers able to program a resource.
type Configurer interface {
	SetConf(q *Query) error
}

// AccessChecker is implemented by controllers able to validate a consumer
// request against the current hardware configuration.
type AccessChecker interface {
	CheckAccess(q *Query) error
}

// Acquirer is implemented by controllers able to grant the Secure World
// access to a resource.
type Acquirer interface {
	AcquireAccess(q *Query) error
}

// Releaser is implemented by controllers holding resources after a
// successful AcquireAccess.
type Releaser interface {
	ReleaseAccess(q *Query) error
}

// MemoryConfigurer is implemented by controllers able to program a memory
// range.
type MemoryConfigurer interface {
	SetMemoryConf(q *Query, addr uint64, size uint64) error
}

// MemoryChecker is implemented by controllers able to validate accesses to a
// memory range.
type MemoryChecker interface {
	CheckMemoryAccess(q *Query, addr uint64, size uint64, read bool, write bool) error
}

// MemoryAcquirer is implemented by controllers able to grant the Secure World
// access to a memory range.
type MemoryAcquirer interface {
	AcquireMemoryAccess(q *Query, addr uint64, size uint64, read bool, write bool) error
}

// MemoryReleaser is implemented by controllers holding memory ranges after a
// successful AcquireMemoryAccess.
type MemoryReleaser interface {
	ReleaseMemoryAccess(q *Query, addr uint64, size uint64, read bool, write bool) error
}

// Query represents a consumer request to a firewall controller, its
// arguments are the controller specific cells of an access-controllers
// entry.
type Query struct {
	Controller Controller
	Args       []uint32
}

// NewQuery returns a query for a controller.
func NewQuery(ctrl Controller, args ...uint32) *Query {
	return &Query{
		Controller: ctrl,
		Args:       args,
	}
}

func (q *Query) String() string {
	return fmt.Sprintf("%s%#x", q.Controller.Name(), q.Args)
}

// Arg returns the first query argument, a query without arguments is
// invalid.
func (q *Query) Arg() (uint32, error) {
	if len(q.Args) == 0 {
		return 0, rif.ErrBadParameters
	}

	return q.Args[0], nil
}

// SetConf programs the queried resource.
func (q *Query) SetConf() error {
	if c, ok := q.Controller.(Configurer); ok {
		return c.SetConf(q)
	}

	return rif.ErrNotSupported
}

// CheckAccess validates the query against the current hardware
// configuration, no register is written.
func (q *Query) CheckAccess() error {
	if c, ok := q.Controller.(AccessChecker); ok {
		return c.CheckAccess(q)
	}

	return rif.ErrNotSupported
}

// AcquireAccess grants the Secure World access to the queried resource.
func (q *Query) AcquireAccess() error {
	if c, ok := q.Controller.(Acquirer); ok {
		return c.AcquireAccess(q)
	}

	return rif.ErrNotSupported
}

// ReleaseAccess releases a resource taken with AcquireAccess, it is a no-op
// on controllers which do not hold resources.
func (q *Query) ReleaseAccess() error {
	if c, ok := q.Controller.(Releaser); ok {
		return c.ReleaseAccess(q)
	}

	return nil
}

// SetMemoryConf programs the queried memory range.
func (q *Query) SetMemoryConf(addr uint64, size uint64) error {
	if c, ok := q.Controller.(MemoryConfigurer); ok {
		return c.SetMemoryConf(q, addr, size)
	}

	return rif.ErrNotSupported
}

// CheckMemoryAccess validates read and/or write accesses to a memory range.
func (q *Query) CheckMemoryAccess(addr uint64, size uint64, read bool, write bool) error {
	if c, ok := q.Controller.(MemoryChecker); ok {
		return c.CheckMemoryAccess(q, addr, size, read, write)
	}

	return rif.ErrNotSupported
}

// AcquireMemoryAccess grants the Secure World access to a memory range.
func (q *Query) AcquireMemoryAccess(addr uint64, size uint64, read bool, write bool) error {
	if c, ok := q.Controller.(MemoryAcquirer); ok {
		return c.AcquireMemoryAccess(q, addr, size, read, write)
	}

	return rif.ErrNotSupported
}

// ReleaseMemoryAccess releases a memory range taken with
// AcquireMemoryAccess, it is a no-op on controllers which do not hold
// memory ranges.
func (q *Query) ReleaseMemoryAccess(addr uint64, size uint64, read bool, write bool) error {
	if c, ok := q.Controller.(MemoryReleaser); ok {
		return c.ReleaseMemoryAccess(q, addr, size, read, write)
	}

	return nil
}

// AltConf represents an alternate firewall configuration of a device.
type AltConf struct {
	Name    string
	Queries []*Query
}

// Set applies all queries of the alternate configuration, stopping at the
// first failure.
func (c *AltConf) Set() (err error) {
	for _, q := range c.Queries {
		if err = q.SetConf(); err != nil {
			return
		}
	}

	return
}

// SetMemory applies all queries of the alternate configuration to a memory
// range, stopping at the first failure.
func (c *AltConf) SetMemory(addr uint64, size uint64) (err error) {
	for _, q := range c.Queries {
		if err = q.SetMemoryConf(addr, size); err != nil {
			return
		}
	}

	return
}
