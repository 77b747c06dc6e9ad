// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"math"
	"sync"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/etzpc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/hpdma"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pwr"
	"github.com/usbarmory/GoTEE-stm32mp/internal/reg"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rifsc"
	"github.com/usbarmory/GoTEE-stm32mp/internal/risaf"
	"github.com/usbarmory/GoTEE-stm32mp/internal/sim"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

// Bus maps the register window of a controller node.
type Bus interface {
	Map(n *dt.Node, base uint64) (reg.IO, error)
}

// Native maps controller registers at their physical address, it must only
// be used when running on the target SoC.
type Native struct{}

// Map implements Bus.
func (Native) Map(n *dt.Node, base uint64) (reg.IO, error) {
	if base > math.MaxUint32-mem.PeripheralSize {
		return nil, fmt.Errorf("%s: invalid register window %#x", n.Name, base)
	}

	return &mem.Window{Base: uint32(base), Size: mem.PeripheralSize}, nil
}

// Simulated maps controller registers to simulated register banks, each
// controller node gets its own bank.
type Simulated struct {
	sync.Mutex

	// TDCID is the compartment latched as Trusted Domain CID
	TDCID uint8

	RIFSC sim.RIFSC
	ETZPC sim.ETZPC
	RISAF sim.RISAF

	banks map[uint64]*sim.Bank
}

// DefaultSimulated returns a simulated STM32MP25 with the Secure World as
// TDCID.
func DefaultSimulated() *Simulated {
	return &Simulated{
		TDCID: 1,
		RIFSC: sim.RIFSC{NbRISUP: 128, NbRIMU: 16, NbRISAL: 3},
		ETZPC: sim.ETZPC{NbPerSec: 64, NbAHBSec: 32},
		RISAF: sim.RISAF{NbRegions: 15, Granularity: 12, Width: 20},
	}
}

// Map implements Bus.
func (s *Simulated) Map(n *dt.Node, base uint64) (io reg.IO, err error) {
	s.Lock()
	defer s.Unlock()

	if s.banks == nil {
		s.banks = make(map[uint64]*sim.Bank)
	}

	if b, ok := s.banks[base]; ok {
		return b, nil
	}

	var b *sim.Bank

	switch {
	case dt.IsCompatible(n, rifsc.Compatible):
		c := s.RIFSC
		c.TDCID = s.TDCID
		b = sim.NewRIFSC(c)
	case dt.IsCompatible(n, etzpc.Compatible):
		b = sim.NewETZPC(s.ETZPC)
	case dt.IsCompatible(n, risaf.Compatible), dt.IsCompatible(n, risaf.CompatibleEnc):
		c := s.RISAF
		c.Encryption = dt.IsCompatible(n, risaf.CompatibleEnc)
		b = sim.NewRISAF(c)
	case dt.IsCompatible(n, pwr.Compatible):
		b = sim.NewPWR(sim.PWR{TDCID: s.TDCID})
	case dt.IsCompatible(n, hpdma.Compatible):
		b = sim.NewHPDMA(sim.HPDMA{TDCID: s.TDCID})
	default:
		return nil, fmt.Errorf("%s: no simulated device", n.Name)
	}

	s.banks[base] = b

	return b, nil
}

// Bank returns the simulated register bank mapped at a base address.
func (s *Simulated) Bank(base uint64) (b *sim.Bank, ok bool) {
	s.Lock()
	defer s.Unlock()

	b, ok = s.banks[base]
	return
}
