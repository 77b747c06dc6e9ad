// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package risaf

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/internal/sim"
	"github.com/usbarmory/GoTEE-stm32mp/mem"
)

var (
	secure = RegionConfig{ID: 1, Enabled: true, Sec: true, Priv: 0x02, Read: 0x06, Write: 0x02}
	shared = RegionConfig{ID: 2, Enabled: true, Read: 0xff, Write: 0xff}
)

func ddrConfig(regions ...Region) *Config {
	return &Config{
		Name:    "risaf@420d0000",
		Base:    mem.RISAF4Base,
		MemBase: mem.DDRStart,
		MemSize: mem.DDRSize,
		Regions: regions,
	}
}

func ddrBank(enc bool) *sim.Bank {
	return sim.NewRISAF(sim.RISAF{NbRegions: 15, Granularity: 12, Width: 19, Encryption: enc})
}

func testRISAF(t *testing.T, cfg *Config) (*RISAF, *sim.Bank) {
	t.Helper()

	b := ddrBank(cfg.Encryption)
	r, err := New(rif.DefaultContext(true), b, cfg)

	if err != nil {
		t.Fatal(err)
	}

	return r, b
}

func query(r *RISAF, c RegionConfig) *firewall.Query {
	return firewall.NewQuery(r, c.Cell())
}

func TestRegionConfigCell(t *testing.T) {
	for _, c := range []RegionConfig{
		secure,
		shared,
		{ID: 15, Enabled: true, Sec: true, Enc: ENC_EN, Priv: 0xff},
		{},
	} {
		if diff := cmp.Diff(c, ParseRegionConfig(c.Cell())); diff != "" {
			t.Errorf("cell round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestConfigure(t *testing.T) {
	r, b := testRISAF(t, ddrConfig(
		Region{RegionConfig: secure, Start: 0x90000000, Size: 0x100000},
		Region{RegionConfig: shared, Start: 0xc0000000, Size: 0x1000},
	))

	if r.Granularity() != 0x1000 {
		t.Fatalf("granularity %#x", r.Granularity())
	}

	for _, tt := range []struct {
		off  uint32
		want uint32
	}{
		{offset(1, RISAF_REG_STARTR), 0x10000000},
		{offset(1, RISAF_REG_ENDR), 0x100ff000},
		{offset(1, RISAF_REG_CFGR), 0x00020101},
		{offset(1, RISAF_REG_CIDCFGR), 0x00020006},
		{offset(2, RISAF_REG_STARTR), 0x40000000},
		{offset(2, RISAF_REG_ENDR), 0x40000000},
		{offset(2, RISAF_REG_CFGR), 0x00000001},
		{offset(2, RISAF_REG_CIDCFGR), 0x00ff00ff},
	} {
		if got := b.Peek(tt.off); got != tt.want {
			t.Errorf("register %#x = %#x, want %#x", tt.off, got, tt.want)
		}
	}

	if v := r.Version(); v.Major != 1 || v.Minor != 2 {
		t.Errorf("version %d.%d", v.Major, v.Minor)
	}

	if r.EncryptionEnabled() {
		t.Error("encryption reported without hardware support")
	}
}

func TestOverlap(t *testing.T) {
	b := sim.NewRISAF(sim.RISAF{NbRegions: 4, Granularity: 11, Width: 20})

	_, err := New(rif.DefaultContext(true), b, &Config{
		Name:    "risaf",
		MemSize: 0x10000,
		Regions: []Region{
			{RegionConfig: RegionConfig{ID: 1, Enabled: true, Sec: true}, Start: 0x1000, Size: 0x1000},
			{RegionConfig: RegionConfig{ID: 2, Enabled: true}, Start: 0x1800, Size: 0x1000},
		},
	})

	if !rif.IsConfigurationError(err) {
		t.Fatalf("got %v", err)
	}

	if b.Writes() != 0 {
		t.Fatalf("%d registers written before validation", b.Writes())
	}
}

func TestDuplicateRegion(t *testing.T) {
	b := sim.NewRISAF(sim.RISAF{NbRegions: 4, Granularity: 11, Width: 20})

	_, err := New(rif.DefaultContext(true), b, &Config{
		Name:    "risaf",
		MemSize: 0x10000,
		Regions: []Region{
			{RegionConfig: RegionConfig{ID: 1, Enabled: true, Sec: true}, Start: 0x1000, Size: 0x1000},
			{RegionConfig: RegionConfig{ID: 1, Enabled: true}, Start: 0x4000, Size: 0x1000},
		},
	})

	if !rif.IsConfigurationError(err) {
		t.Fatalf("got %v", err)
	}

	if b.Writes() != 0 {
		t.Fatalf("%d registers written before validation", b.Writes())
	}
}

func TestValidation(t *testing.T) {
	for _, tt := range []struct {
		name string
		rg   Region
	}{
		{"below memory", Region{RegionConfig: secure, Start: mem.DDRStart - 0x1000, Size: 0x2000}},
		{"above memory", Region{RegionConfig: secure, Start: mem.DDRStart + mem.DDRSize - 0x1000, Size: 0x2000}},
		{"unaligned start", Region{RegionConfig: secure, Start: mem.DDRStart + 0x800, Size: 0x1000}},
		{"unaligned size", Region{RegionConfig: secure, Start: mem.DDRStart, Size: 0x1800}},
		{"empty", Region{RegionConfig: secure, Start: mem.DDRStart}},
		{"region 0", Region{RegionConfig: RegionConfig{ID: 0}, Start: mem.DDRStart, Size: 0x1000}},
		{"region 16", Region{RegionConfig: RegionConfig{ID: 16}, Start: mem.DDRStart, Size: 0x1000}},
	} {
		b := ddrBank(false)

		if _, err := New(rif.DefaultContext(true), b, ddrConfig(tt.rg)); !rif.IsConfigurationError(err) {
			t.Errorf("%s: got %v", tt.name, err)
		}

		if b.Writes() != 0 {
			t.Errorf("%s: registers written", tt.name)
		}
	}
}

func TestEncryption(t *testing.T) {
	enc := RegionConfig{ID: 3, Enabled: true, Sec: true, Enc: ENC_EN}
	rg := Region{RegionConfig: enc, Start: 0xa0000000, Size: 0x10000}

	if _, err := New(rif.DefaultContext(true), ddrBank(false), ddrConfig(rg)); !rif.IsConfigurationError(err) {
		t.Fatalf("encryption without support: got %v", err)
	}

	cfg := ddrConfig(rg)
	cfg.Encryption = true

	r, b := testRISAF(t, cfg)

	if !r.EncryptionEnabled() {
		t.Fatal("encryption not reported")
	}

	if b.Peek(offset(3, RISAF_REG_CFGR))&(1<<CFGR_ENC) == 0 {
		t.Fatal("encryption not set")
	}

	rg.Sec = false
	cfg.Regions = []Region{rg}

	if _, err := New(rif.DefaultContext(true), ddrBank(true), cfg); !rif.IsConfigurationError(err) {
		t.Fatalf("encryption on non-secure region: got %v", err)
	}

	rg.Sec = true
	rg.Enc = ENC_MCE
	cfg.Regions = []Region{rg}

	if _, err := New(rif.DefaultContext(true), ddrBank(true), cfg); !errors.Is(err, rif.ErrNotSupported) {
		t.Fatalf("MCE encryption: got %v", err)
	}
}

func TestAccess(t *testing.T) {
	r, _ := testRISAF(t, ddrConfig(
		Region{RegionConfig: secure, Start: 0x90000000, Size: 0x100000},
		Region{RegionConfig: shared, Start: 0xc0000000, Size: 0x1000},
	))

	if err := query(r, secure).AcquireMemoryAccess(0x90000000, 0x1000, true, true); err != nil {
		t.Fatal(err)
	}

	if err := query(r, shared).AcquireMemoryAccess(0xc0000000, 0x1000, true, false); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("non-secure region: got %v", err)
	}

	for _, tt := range []struct {
		req  RegionConfig
		want error
	}{
		{secure, nil},
		{RegionConfig{ID: 1, Sec: true, Read: 0x02}, nil},
		{RegionConfig{ID: 1, Read: 0x08}, rif.ErrAccessDenied},
		{RegionConfig{ID: 1, Write: 0x04}, rif.ErrAccessDenied},
		{RegionConfig{ID: 1, Priv: 0x04}, rif.ErrAccessDenied},
		{RegionConfig{ID: 2, Sec: true}, rif.ErrAccessDenied},
		{RegionConfig{ID: 2, Read: 0x80, Write: 0x80}, nil},
		{RegionConfig{ID: 0}, rif.ErrBadParameters},
	} {
		if err := query(r, tt.req).CheckMemoryAccess(0, 0, true, true); !errors.Is(err, tt.want) {
			t.Errorf("CheckMemoryAccess(%v) = %v, want %v", tt.req, err, tt.want)
		}
	}
}

func TestSetMemoryConf(t *testing.T) {
	r, b := testRISAF(t, ddrConfig(
		Region{RegionConfig: secure, Start: 0x90000000, Size: 0x100000},
	))

	update := secure
	update.Write = 0x06

	if err := query(r, update).SetMemoryConf(0x90000000, 0x100000); err != nil {
		t.Fatal(err)
	}

	if got := b.Peek(offset(1, RISAF_REG_CIDCFGR)); got != 0x00060006 {
		t.Fatalf("CIDCFGR = %#x", got)
	}

	if got := r.Regions()[0].Write; got != 0x06 {
		t.Fatalf("region table not updated, write %#x", got)
	}

	if err := query(r, update).SetMemoryConf(0x90000000, 0x1000); !errors.Is(err, rif.ErrBadParameters) {
		t.Fatalf("range mismatch: got %v", err)
	}

	if err := query(r, shared).SetMemoryConf(0xc0000000, 0x1000); !errors.Is(err, rif.ErrItemNotFound) {
		t.Fatalf("unknown region: got %v", err)
	}

	r.GlobalLock()

	if !r.Locked() {
		t.Fatal("global lock not set")
	}

	if err := query(r, secure).SetMemoryConf(0x90000000, 0x100000); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("locked: got %v", err)
	}
}

func TestIllegalAccess(t *testing.T) {
	r, b := testRISAF(t, ddrConfig())

	if ev := r.IllegalAccesses(); len(ev) != 0 {
		t.Fatalf("unexpected events %v", ev)
	}

	b.IllegalAccess(0x12, 0x1000)

	want := []IllegalAccess{{Status: 0x12, Addr: mem.DDRStart + 0x1000}}

	if diff := cmp.Diff(want, r.IllegalAccesses()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	r.DumpErroneousData()
	r.ClearIllegalAccessFlags()

	if b.Peek(RISAF_IASR) != 0 {
		t.Fatal("illegal access flags not cleared")
	}
}

func TestPM(t *testing.T) {
	regions := []Region{
		{RegionConfig: secure, Start: 0x90000000, Size: 0x100000},
		{RegionConfig: shared, Start: 0xc0000000, Size: 0x1000},
	}

	r, b := testRISAF(t, ddrConfig(regions...))

	writes := b.Writes()

	if err := r.PM(pm.Suspend, pm.ClockState); err != nil {
		t.Fatal(err)
	}

	if err := r.PM(pm.Resume, pm.ClockState); err != nil {
		t.Fatal(err)
	}

	if b.Writes() != writes {
		t.Fatal("registers written without context loss")
	}

	if err := r.PM(pm.Suspend, pm.ContextState); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(regions, r.Regions()); diff != "" {
		t.Fatalf("read back mismatch (-want +got):\n%s", diff)
	}

	for id := uint32(1); id <= 2; id++ {
		for _, off := range []uint32{RISAF_REG_CFGR, RISAF_REG_STARTR, RISAF_REG_ENDR, RISAF_REG_CIDCFGR} {
			b.Poke(offset(id, off), 0)
		}
	}

	if err := r.PM(pm.Resume, pm.ContextState); err != nil {
		t.Fatal(err)
	}

	if got := b.Peek(offset(1, RISAF_REG_CFGR)); got != 0x00020101 {
		t.Fatalf("region 1 not restored, CFGR %#x", got)
	}

	if got := b.Peek(offset(2, RISAF_REG_STARTR)); got != 0x40000000 {
		t.Fatalf("region 2 not restored, STARTR %#x", got)
	}
}

func TestParseConfig(t *testing.T) {
	reserved := dt.Add(dt.NewNode("reserved-memory",
		dt.CellsProp("#address-cells", 1),
		dt.CellsProp("#size-cells", 1),
	),
		dt.NewNode("fw@90000000",
			dt.CellsProp("phandle", 0x10),
			dt.CellsProp("reg", 0x90000000, 0x100000),
			dt.CellsProp("st,protreg", secure.Cell()),
		),
		dt.NewNode("tee@82000000",
			dt.CellsProp("phandle", 0x11),
			dt.CellsProp("reg", mem.TZDRAMStart, mem.TZDRAMSize),
			dt.CellsProp("st,protreg", shared.Cell()),
		),
		dt.NewNode("empty@c0000000",
			dt.CellsProp("phandle", 0x12),
			dt.CellsProp("reg", 0xc0000000, 0x1000),
		),
	)

	n := dt.NewNode("risaf@420d0000",
		dt.StringProp("compatible", CompatibleEnc),
		dt.CellsProp("reg", 0, mem.RISAF4Base, mem.PeripheralSize),
		dt.CellsProp("memory-region", 0x10, 0x11, 0x12, 0x13),
		dt.CellsProp("st,mem-map", 0, mem.DDRStart, 0, mem.DDRSize),
	)

	tree := dt.New(dt.Add(dt.NewNode(""), reserved, n))
	cfg, err := ParseConfig(tree, n)

	if err != nil {
		t.Fatal(err)
	}

	want := &Config{
		Name:       "risaf@420d0000",
		Base:       mem.RISAF4Base,
		MemBase:    mem.DDRStart,
		MemSize:    mem.DDRSize,
		Encryption: true,
		Regions:    []Region{{RegionConfig: secure, Start: 0x90000000, Size: 0x100000}},
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}
