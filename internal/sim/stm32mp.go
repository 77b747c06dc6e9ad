// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

const all = 0xffffffff

func bit(n uint32) uint32 {
	return 1 << n
}

// lockedBy returns a guard preserving the whole register when bit n of the
// lock register is set or when cid is not the TDCID.
func lockedBy(lock uint32, n uint32, tdcid uint8) func(*Bank, uint8) uint32 {
	return func(b *Bank, cid uint8) uint32 {
		if b.Value(lock)&bit(n) != 0 || cid != tdcid {
			return all
		}

		return 0
	}
}

// lockedBits returns a guard preserving the bits set in the lock register.
func lockedBits(lock uint32) func(*Bank, uint8) uint32 {
	return func(b *Bank, _ uint8) uint32 {
		return b.Value(lock)
	}
}

// RIFSC represents the simulated RIFSC capabilities.
type RIFSC struct {
	NbRISUP uint32
	NbRIMU  uint32
	NbRISAL uint32
	// TDCID is the compartment latched as Trusted Domain CID
	TDCID uint8
	// Disabled RIF capabilities
	NoCID  bool
	NoSec  bool
	NoPriv bool
}

// NewRIFSC returns a simulated RIFSC register bank.
func NewRIFSC(c RIFSC) *Bank {
	b := NewBank("rifsc")

	var hw1 uint32

	if !c.NoCID {
		hw1 |= 1
	}

	if !c.NoSec {
		hw1 |= 1 << 4
	}

	if !c.NoPriv {
		hw1 |= 1 << 8
	}

	b.regs[0xff0] = hw1
	b.regs[0xfec] = c.NbRISUP&0xffff | (c.NbRIMU&0xff)<<16 | (c.NbRISAL&0xff)<<24
	b.regs[0xff4] = 0x00000031
	b.regs[0xc00] = uint32(c.TDCID&0x7) << 4

	// RISC_CR and RIMC_CR global locks
	b.Sticky(0x000, bit(0))
	b.Sticky(0xc00, bit(0))
	b.ReadOnly(0xc00, 0x70)

	for w := uint32(0); w < (c.NbRISUP+31)/32; w++ {
		lock := 0x50 + 4*w

		b.Sticky(lock, all)
		b.Guard(0x10+4*w, lockedBits(lock))
		b.Guard(0x30+4*w, lockedBits(lock))
	}

	for i := uint32(0); i < c.NbRISUP; i++ {
		cidcfgr := 0x100 + 8*i

		b.Guard(cidcfgr, lockedBy(0x50+4*(i/32), i%32, c.TDCID))
		b.Semaphore(cidcfgr+4, cidcfgr, 0x70)
	}

	for i := uint32(0); i < c.NbRIMU; i++ {
		b.Guard(0xc10+4*i, func(b *Bank, cid uint8) uint32 {
			if b.Value(0xc00)&bit(0) != 0 || cid != c.TDCID {
				return all
			}

			return 0
		})
	}

	return b
}

// ETZPC represents the simulated ETZPC capabilities.
type ETZPC struct {
	NbPerSec uint32
	NbAHBSec uint32
}

// NewETZPC returns a simulated ETZPC register bank.
func NewETZPC(c ETZPC) *Bank {
	b := NewBank("etzpc")

	b.regs[0x3f0] = 2 | (c.NbPerSec&0xff)<<8 | (c.NbAHBSec&0xff)<<16
	b.regs[0x3f4] = 0x00000020

	for _, off := range []uint32{0x000, 0x004} {
		tzma := off

		b.Sticky(tzma, bit(31))
		b.Guard(tzma, func(b *Bank, _ uint8) uint32 {
			if b.Value(tzma)&bit(31) != 0 {
				return all
			}

			return 0
		})
	}

	n := c.NbPerSec + c.NbAHBSec

	for w := uint32(0); w < (n+31)/32; w++ {
		b.Sticky(0x30+4*w, all)
	}

	for w := uint32(0); w < (n+15)/16; w++ {
		lock := 0x30 + 4*(w/2)
		first := (w % 2) * 16

		b.Guard(0x10+4*w, func(b *Bank, _ uint8) (m uint32) {
			l := b.Value(lock)

			for i := uint32(0); i < 16; i++ {
				if l&bit(first+i) != 0 {
					m |= 3 << (2 * i)
				}
			}

			return
		})
	}

	return b
}

// RISAF represents the simulated RISAF capabilities.
type RISAF struct {
	NbRegions uint32
	// Granularity is log2 of the region address granularity
	Granularity uint32
	// Width is the number of significant address bits
	Width uint32
	// Encryption reports the support of region encryption
	Encryption bool
}

// NewRISAF returns a simulated RISAF register bank.
func NewRISAF(c RISAF) *Bank {
	b := NewBank("risaf")

	b.regs[0xff0] = c.NbRegions&0xff | (c.Granularity&0xff)<<16 | (c.Width&0xff)<<24
	b.regs[0xff4] = 0x00000012
	b.regs[0xff8] = 0x00000012
	b.regs[0xffc] = 0xa3c5dd01

	if !c.Encryption {
		b.regs[0x004] = bit(2)
	}

	b.Sticky(0x000, bit(0))
	b.ReadOnly(0x004, all)
	b.ReadOnly(0x008, all)
	b.ClearOnWrite(0x00c, 0x008)

	globalLock := func(b *Bank, _ uint8) uint32 {
		if b.Value(0x000)&bit(0) != 0 {
			return all
		}

		return 0
	}

	for r := uint32(1); r <= c.NbRegions; r++ {
		base := 0x40 + 0x40*(r-1)

		for _, off := range []uint32{0x0, 0x4, 0x8, 0xc} {
			b.Guard(base+off, globalLock)
		}
	}

	return b
}

// IllegalAccess latches an illegal access event, as raised by the RISAF on a
// denied transaction.
func (b *Bank) IllegalAccess(status uint32, addr uint32) {
	b.Lock()
	defer b.Unlock()

	b.regs[0x008] |= 1 << 1
	b.regs[0x020] = status
	b.regs[0x024] = addr
}

// PWR represents the simulated PWR capabilities.
type PWR struct {
	TDCID uint8
}

// NewPWR returns a simulated PWR register bank.
func NewPWR(c PWR) *Bank {
	b := NewBank("pwr")

	for x := uint32(0); x < 7; x++ {
		b.Guard(0x108+4*x, func(_ *Bank, cid uint8) uint32 {
			if cid != c.TDCID {
				return all
			}

			return 0
		})
	}

	for x := uint32(1); x <= 6; x++ {
		cidcfgr := 0x188 + 8*(x-1)

		b.Guard(cidcfgr, func(_ *Bank, cid uint8) uint32 {
			if cid != c.TDCID {
				return all
			}

			return 0
		})
		b.Semaphore(cidcfgr+4, cidcfgr, 0x70)
	}

	return b
}

// HPDMA represents the simulated HPDMA capabilities.
type HPDMA struct {
	TDCID uint8
}

// NewHPDMA returns a simulated HPDMA register bank.
func NewHPDMA(c HPDMA) *Bank {
	b := NewBank("hpdma")

	b.Sticky(0x008, 0xffff)
	b.Guard(0x000, lockedBits(0x008))
	b.Guard(0x004, lockedBits(0x008))

	for x := uint32(0); x < 16; x++ {
		cidcfgr := 0x54 + 0x80*x

		b.Guard(cidcfgr, lockedBy(0x008, x, c.TDCID))
		b.Semaphore(cidcfgr+4, cidcfgr, 0x30)
	}

	return b
}
