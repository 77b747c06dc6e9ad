// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package platform implements the STM32MP boot time firewall configuration.
//
// Boot probes every firewall controller found in the device tree, registers
// them as access-controllers providers and power transition handlers, and
// finally acquires the resources of consumer devices. Any error returned by
// Boot is a rif.ConfigurationError which must stop the boot process.
package platform

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/etzpc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/hpdma"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pwr"
	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rifsc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/risaf"
)

// Options represents the boot options.
type Options struct {
	// Bus maps controller registers, Native when nil
	Bus Bus
	// Insecure relaxes boot time checks
	Insecure bool
	// Debug enables register read-back verification
	Debug bool
	// Validator is an optional ETZPC DECPROT configuration hook
	Validator etzpc.Validator
}

// Controller represents a firewall controller handling power transitions.
type Controller interface {
	firewall.Controller
	PM(op pm.Op, hint pm.Hint) error
}

// Platform represents a booted STM32MP firewall configuration.
type Platform struct {
	Tree     *dt.Tree
	Context  *rif.Context
	Firewall *firewall.Registry
	PM       pm.Registry

	RIFSC *rifsc.RIFSC
	ETZPC *etzpc.ETZPC
	RISAF []*risaf.RISAF
	PWR   *pwr.PWR
	HPDMA []*hpdma.HPDMA

	// Devices holds the consumer devices granted to the Secure World
	Devices []*dt.Node
	// Skipped holds the optional consumer devices denied to the Secure
	// World
	Skipped []*dt.Node

	opts  Options
	buses []*dt.Node
	log   *logrus.Entry
}

// Boot probes all firewall controllers of a device tree and acquires the
// resources of its consumer devices.
func Boot(tree *dt.Tree, opts Options) (p *Platform, err error) {
	if opts.Bus == nil {
		opts.Bus = Native{}
	}

	p = &Platform{
		Tree:     tree,
		Firewall: firewall.NewRegistry(tree),
		opts:     opts,
		log:      logrus.WithField("fw", "platform"),
	}

	// without a RIFSC the Secure World is the only trusted domain
	p.Context = &rif.Context{
		CID:      rif.CID1,
		TDCID:    true,
		Insecure: opts.Insecure,
		Debug:    opts.Debug,
	}

	for _, probe := range []func() error{
		p.probeRIFSC,
		p.probeETZPC,
		p.probeRISAF,
		p.probePWR,
		p.probeHPDMA,
		p.probeDevices,
	} {
		if err = probe(); err != nil {
			return nil, err
		}
	}

	p.log.Infof("firewall configuration complete, %d devices granted, %d skipped", len(p.Devices), len(p.Skipped))

	return
}

func (p *Platform) nodes(compat ...string) (nodes []*dt.Node) {
	for _, c := range compat {
		for _, n := range p.Tree.Compatible(c) {
			if dt.Enabled(n) {
				nodes = append(nodes, n)
			}
		}
	}

	return
}

func (p *Platform) mapNode(n *dt.Node) (io reg.IO, base uint64, err error) {
	regs, err := p.Tree.Reg(n)

	if err != nil || len(regs) == 0 {
		return nil, 0, rif.Configurationf("%s: invalid reg, %v", n.Name, err)
	}

	base = regs[0].Address

	if io, err = p.opts.Bus.Map(n, base); err != nil {
		return nil, 0, rif.Configurationf("%s: %v", n.Name, err)
	}

	return
}

func (p *Platform) register(n *dt.Node, ctrl Controller) error {
	if err := p.Firewall.Register(n, ctrl); err != nil {
		return rif.Configurationf("%v", err)
	}

	p.PM.Register(ctrl.Name(), ctrl.PM)

	if len(n.Children) > 0 {
		p.buses = append(p.buses, n)
	}

	return nil
}

func (p *Platform) probeRIFSC() (err error) {
	nodes := p.nodes(rifsc.Compatible)

	switch len(nodes) {
	case 0:
		p.log.Debugf("no RIFSC, Secure World is TDCID")
		return
	case 1:
	default:
		return rif.Configurationf("multiple RIFSC instances")
	}

	n := nodes[0]
	io, _, err := p.mapNode(n)

	if err != nil {
		return
	}

	p.Context.TDCID = rifsc.IsTDCID(io, p.Context.CID)
	p.log.Infof("TDCID: %v", p.Context.TDCID)

	cfg, err := rifsc.ParseConfig(n)

	if err != nil {
		return
	}

	if p.RIFSC, err = rifsc.New(p.Context, io, cfg); err != nil {
		return
	}

	return p.register(n, p.RIFSC)
}

func (p *Platform) probeETZPC() (err error) {
	for _, n := range p.nodes(etzpc.Compatible) {
		if p.ETZPC != nil {
			return rif.Configurationf("multiple ETZPC instances")
		}

		io, _, err := p.mapNode(n)

		if err != nil {
			return err
		}

		cfg, err := etzpc.ParseConfig(n)

		if err != nil {
			return err
		}

		cfg.Validate = p.opts.Validator

		if p.ETZPC, err = etzpc.New(p.Context, io, cfg); err != nil {
			return err
		}

		if err = p.register(n, p.ETZPC); err != nil {
			return err
		}
	}

	return
}

func (p *Platform) probeRISAF() (err error) {
	nodes := p.nodes(risaf.Compatible, risaf.CompatibleEnc)

	if len(nodes) > 0 && !p.Context.TDCID {
		p.log.Warnf("RISAF configuration skipped, not TDCID")
		return
	}

	for _, n := range nodes {
		cfg, err := risaf.ParseConfig(p.Tree, n)

		if err != nil {
			return err
		}

		io, _, err := p.mapNode(n)

		if err != nil {
			return err
		}

		r, err := risaf.New(p.Context, io, cfg)

		if err != nil {
			return err
		}

		if err = p.register(n, r); err != nil {
			return err
		}

		p.RISAF = append(p.RISAF, r)
	}

	return
}

func (p *Platform) probePWR() (err error) {
	for _, n := range p.nodes(pwr.Compatible) {
		io, _, err := p.mapNode(n)

		if err != nil {
			return err
		}

		cfg, err := pwr.ParseConfig(n)

		if err != nil {
			return err
		}

		if p.PWR, err = pwr.New(p.Context, io, cfg); err != nil {
			return err
		}

		if err = p.register(n, p.PWR); err != nil {
			return err
		}
	}

	return
}

func (p *Platform) probeHPDMA() (err error) {
	for _, n := range p.nodes(hpdma.Compatible) {
		io, _, err := p.mapNode(n)

		if err != nil {
			return err
		}

		cfg, err := hpdma.ParseConfig(n)

		if err != nil {
			return err
		}

		h, err := hpdma.New(p.Context, io, cfg)

		if err != nil {
			return err
		}

		if err = p.register(n, h); err != nil {
			return err
		}

		p.HPDMA = append(p.HPDMA, h)
	}

	return
}

func (p *Platform) isBus(n *dt.Node) bool {
	for _, bus := range p.buses {
		if bus == n {
			return true
		}
	}

	return false
}

// probeDevices acquires the resources of firewall bus children, which are
// mandatory, and of any other consumer device, which is skipped on denied
// access.
func (p *Platform) probeDevices() (err error) {
	for _, bus := range p.buses {
		ctrl, _ := p.controller(bus)

		probe, err := p.Firewall.ProbeBus(bus, ctrl, p.Context.Insecure)

		if err != nil {
			return err
		}

		p.Devices = append(p.Devices, probe...)
	}

	return p.Tree.Walk(func(n *dt.Node) error {
		if !dt.Has(n, "access-controllers") || !dt.Enabled(n) || p.isBus(p.Tree.Parent(n)) {
			return nil
		}

		err := p.Firewall.AcquireDevice(n, p.Context.Insecure)

		switch {
		case errors.Is(err, rif.ErrAccessDenied):
			p.log.Warnf("%s: skipped, %v", p.Tree.Path(n), err)
			p.Skipped = append(p.Skipped, n)
		case err != nil:
			return rif.Configurationf("%s: %v", p.Tree.Path(n), err)
		default:
			p.Devices = append(p.Devices, n)
		}

		return nil
	})
}

func (p *Platform) controller(n *dt.Node) (firewall.Controller, bool) {
	for _, ctrl := range p.Firewall.Controllers() {
		if node, ok := p.Firewall.Node(ctrl); ok && node == n {
			return ctrl, true
		}
	}

	return nil, false
}

// Device returns a consumer device node by name.
func (p *Platform) Device(name string) (*dt.Node, error) {
	var dev *dt.Node

	p.Tree.Walk(func(n *dt.Node) error {
		if n.Name == name && dt.Has(n, "access-controllers") {
			dev = n
		}

		return nil
	})

	if dev == nil {
		return nil, fmt.Errorf("device %s not found, %w", name, rif.ErrItemNotFound)
	}

	return dev, nil
}

// AcquireDevice acquires the resources of a consumer device.
func (p *Platform) AcquireDevice(n *dt.Node) error {
	return p.Firewall.AcquireDevice(n, p.Context.Insecure)
}

// ReleaseDevice releases the resources of a consumer device, a release
// failure is returned as rif.ConfigurationError.
func (p *Platform) ReleaseDevice(n *dt.Node) (err error) {
	for i := 0; ; i++ {
		q, err := p.Firewall.GetByIndex(n, i)

		if errors.Is(err, rif.ErrItemNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		if err = q.ReleaseAccess(); err != nil {
			return rif.Configurationf("%s: %v, %w", n.Name, q, err)
		}
	}
}

// Suspend invokes the suspend handlers of all controllers.
func (p *Platform) Suspend(hint pm.Hint) error {
	return p.PM.Suspend(hint)
}

// Resume invokes the resume handlers of all controllers, a failure leaves
// the firewall configuration undefined and is returned as
// rif.ConfigurationError.
func (p *Platform) Resume(hint pm.Hint) error {
	if err := p.PM.Resume(hint); err != nil {
		return rif.Configurationf("%w", err)
	}

	return nil
}

// Port returns the register view of a controller as seen by another
// compartment, it is only available on simulated buses.
func (p *Platform) Port(ctrl firewall.Controller, cid uint8) (reg.IO, error) {
	s, ok := p.opts.Bus.(*Simulated)

	if !ok {
		return nil, fmt.Errorf("%s: not simulated, %w", ctrl.Name(), rif.ErrNotSupported)
	}

	n, ok := p.Firewall.Node(ctrl)

	if !ok {
		return nil, fmt.Errorf("%s: %w", ctrl.Name(), rif.ErrItemNotFound)
	}

	regs, err := p.Tree.Reg(n)

	if err != nil || len(regs) == 0 {
		return nil, fmt.Errorf("%s: invalid reg, %v", n.Name, err)
	}

	b, ok := s.Bank(regs[0].Address)

	if !ok {
		return nil, fmt.Errorf("%s: %w", n.Name, rif.ErrItemNotFound)
	}

	return b.Port(cid), nil
}
