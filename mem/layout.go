// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

// STM32MP1 internal memories, protected by ETZPC.
const (
	// Boot ROM (TZMA0)
	ROMStart = 0x00000000
	ROMSize  = 0x00020000 // 128KB

	// System RAM (TZMA1)
	SYSRAMStart = 0x2ffc0000
	SYSRAMSize  = 0x00040000 // 256KB

	SRAM1Start = 0x30000000
	SRAM1Size  = 0x00020000 // 128KB

	SRAM2Start = 0x30020000
	SRAM2Size  = 0x00020000 // 128KB

	SRAM3Start = 0x30040000
	SRAM3Size  = 0x00010000 // 64KB

	SRAM4Start = 0x30050000
	SRAM4Size  = 0x00010000 // 64KB

	RETRAMStart = 0x38000000
	RETRAMSize  = 0x00010000 // 64KB
)

// STM32MP2 external memory, protected by RISAF4.
const (
	DDRStart = 0x80000000
	DDRSize  = 0x80000000 // 2GB

	// Secure World OS, never reprogrammed by the RISAF driver
	TZDRAMStart = 0x82000000
	TZDRAMSize  = 0x02000000 // 32MB
)

// Peripheral register windows.
const (
	// STM32MP2
	HPDMA1Base = 0x40400000
	HPDMA2Base = 0x40410000
	HPDMA3Base = 0x40420000
	RIFSCBase  = 0x42080000
	RISAF1Base = 0x420a0000
	RISAF2Base = 0x420b0000
	RISAF4Base = 0x420d0000
	RISAF5Base = 0x420e0000
	PWRBase    = 0x44210000

	// STM32MP1
	ETZPCBase = 0x5c007000

	// all controllers decode a 4KB window
	PeripheralSize = 0x1000
)

// SmallPageSize is the TZMA allocation unit.
const SmallPageSize = 0x1000
