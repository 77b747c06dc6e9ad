// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rifsc

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/internal/sim"
)

var (
	static1 = rif.CIDConfig{Enabled: true, SCID: rif.CID1}
	static0 = rif.CIDConfig{Enabled: true, SCID: rif.CID0}
	shared  = rif.CIDConfig{Enabled: true, Semaphore: true, Whitelist: 0b110}
)

func testRIFSC(t *testing.T, tdcid uint8, insecure bool, cfg *Config) (*RIFSC, *sim.Bank, error) {
	t.Helper()

	b := sim.NewRIFSC(sim.RIFSC{
		NbRISUP: 128,
		NbRIMU:  16,
		NbRISAL: 3,
		TDCID:   tdcid,
	})

	ctx := rif.DefaultContext(IsTDCID(b, rif.CID1))
	ctx.Insecure = insecure

	r, err := New(ctx, b, cfg)

	return r, b, err
}

func mustRIFSC(t *testing.T, cfg *Config) (*RIFSC, *sim.Bank) {
	t.Helper()

	r, b, err := testRIFSC(t, rif.CID1, false, cfg)

	if err != nil {
		t.Fatal(err)
	}

	return r, b
}

func query(r *RIFSC, c rif.ResourceConfig) *firewall.Query {
	return firewall.NewQuery(r, c.Cell())
}

func TestCapabilities(t *testing.T) {
	r, _ := mustRIFSC(t, &Config{})

	want := Capabilities{
		Major:   3,
		Minor:   1,
		NbRISUP: 128,
		NbRIMU:  16,
		NbRISAL: 3,
		RIFEn:   true,
		SecEn:   true,
		PrivEn:  true,
	}

	if diff := cmp.Diff(want, r.Capabilities()); diff != "" {
		t.Fatalf("capabilities mismatch (-want +got):\n%s", diff)
	}

	if !r.ctx.TDCID {
		t.Fatal("TDCID not detected")
	}
}

func TestStaticCheckAccess(t *testing.T) {
	res := rif.ResourceConfig{ID: 5, Sec: true, CID: static1}
	r, _ := mustRIFSC(t, &Config{RISUP: []rif.ResourceConfig{res}})

	if err := query(r, rif.ResourceConfig{ID: 5, Sec: true, CID: static1}).CheckAccess(); err != nil {
		t.Fatalf("CID1 check, got %v", err)
	}

	cid2 := rif.CIDConfig{Enabled: true, SCID: rif.CID2}

	if err := query(r, rif.ResourceConfig{ID: 5, Sec: true, CID: cid2}).CheckAccess(); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("CID2 check, got %v", err)
	}

	// non-secure request on a secure peripheral
	if err := query(r, rif.ResourceConfig{ID: 5, CID: static1}).CheckAccess(); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("non-secure check, got %v", err)
	}

	if err := query(r, rif.ResourceConfig{ID: 5}).AcquireAccess(); err != nil {
		t.Fatalf("acquire, got %v", err)
	}
}

func TestLockedSetConf(t *testing.T) {
	res := rif.ResourceConfig{ID: 5, Sec: true, CID: static1}
	r, b := mustRIFSC(t, &Config{RISUP: []rif.ResourceConfig{res}})

	res.Lock = true

	if err := query(r, res).SetConf(); err != nil {
		t.Fatal(err)
	}

	if !r.Locked(5) {
		t.Fatal("peripheral not locked")
	}

	want := r.Resource(5)
	writes := b.Writes()

	changed := res
	changed.Priv = true

	if err := query(r, changed).SetConf(); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("conflicting set, got %v", err)
	}

	unlocked := res
	unlocked.Lock = false

	if err := query(r, unlocked).SetConf(); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("unlocked set, got %v", err)
	}

	if err := query(r, res).SetConf(); err != nil {
		t.Fatalf("identical set, got %v", err)
	}

	if b.Writes() != writes {
		t.Fatalf("locked peripheral written, %d writes", b.Writes()-writes)
	}

	if diff := cmp.Diff(want, r.Resource(5)); diff != "" {
		t.Fatalf("locked configuration changed (-want +got):\n%s", diff)
	}

	if err := r.ReconfigureRISUP(5, rif.CID2, true, false, true); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("reconfigure, got %v", err)
	}
}

func TestSemaphore(t *testing.T) {
	res := rif.ResourceConfig{ID: 7, Sec: true, CID: shared}
	r, b := mustRIFSC(t, &Config{RISUP: []rif.ResourceConfig{res}})

	// secure semaphore resources are taken at setup
	if owner, taken := r.Semaphore(7); !taken || owner != rif.CID1 {
		t.Fatalf("semaphore not held, owner %d", owner)
	}

	other := b.Port(rif.CID2)

	if err := rif.AcquireSemaphore(other, semcr(7), MaxCID, rif.CID2); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("CID2 acquire, got %v", err)
	}

	q := query(r, rif.ResourceConfig{ID: 7})

	if err := q.ReleaseAccess(); err != nil {
		t.Fatal(err)
	}

	if _, taken := r.Semaphore(7); taken {
		t.Fatal("semaphore not released")
	}

	if err := rif.AcquireSemaphore(other, semcr(7), MaxCID, rif.CID2); err != nil {
		t.Fatalf("CID2 acquire, got %v", err)
	}

	if err := q.AcquireAccess(); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("CID1 acquire, got %v", err)
	}

	// releasing a semaphore held by another CID leaves it untouched
	if err := q.ReleaseAccess(); err != nil {
		t.Fatal(err)
	}

	if owner, _ := r.Semaphore(7); owner != rif.CID2 {
		t.Fatalf("semaphore stolen, owner %d", owner)
	}
}

func TestSemaphoreRace(t *testing.T) {
	res := rif.ResourceConfig{ID: 9, CID: rif.CIDConfig{Enabled: true, Semaphore: true, Whitelist: 0xfe}}
	_, b := mustRIFSC(t, &Config{RISUP: []rif.ResourceConfig{res}})

	for round := 0; round < 16; round++ {
		var g errgroup.Group
		var winners int32

		for cid := uint8(1); cid <= MaxCID; cid++ {
			port := b.Port(cid)
			cid := cid

			g.Go(func() error {
				if rif.AcquireSemaphore(port, semcr(9), MaxCID, cid) == nil {
					atomic.AddInt32(&winners, 1)
				}

				return nil
			})
		}

		g.Wait()

		if winners != 1 {
			t.Fatalf("round %d: %d winners", round, winners)
		}

		owner, _ := rif.SemaphoreOwner(b.Peek(semcr(9)), MaxCID)

		if err := rif.ReleaseSemaphore(b.Port(owner), semcr(9), MaxCID, owner); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNonTDCID(t *testing.T) {
	res := rif.ResourceConfig{ID: 5, Sec: true, CID: static1}
	r, b, err := testRIFSC(t, rif.CID2, false, &Config{
		RISUP: []rif.ResourceConfig{res},
		RIMU:  []RIMU{{ID: 1, Attr: 1 << RIMC_ATTR_CIDSEL}},
	})

	if err != nil {
		t.Fatal(err)
	}

	if r.ctx.TDCID {
		t.Fatal("unexpected TDCID")
	}

	if b.Peek(cidcfgr(5)) != 0 || b.Peek(RIMC_ATTR0+4) != 0 {
		t.Fatal("CID filtering programmed by non-TDCID")
	}

	// the TDCID assigns the peripheral
	b.Port(rif.CID2).Write32(cidcfgr(5), static1.Word())

	if err := query(r, res).SetConf(); err != nil {
		t.Fatal(err)
	}

	mismatch := res
	mismatch.CID = static0

	if err := query(r, mismatch).SetConf(); !errors.Is(err, rif.ErrBadParameters) {
		t.Fatalf("mismatching CID, got %v", err)
	}

	if err := query(r, rif.ResourceConfig{ID: RIMU_ID_OFFSET + 1}).SetConf(); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("RIMU set, got %v", err)
	}
}

func TestErratumAHBRISAB(t *testing.T) {
	sdmmc := rif.ResourceConfig{ID: SDMMC1_ID, Sec: true, CID: static0}
	cidsel := uint32(1 << RIMC_ATTR_CIDSEL)

	for _, tc := range []struct {
		name  string
		risup []rif.ResourceConfig
		rimu  RIMU
		fail  bool
	}{
		{"explicit CID", nil, RIMU{ID: 1, Attr: cidsel | rif.CID2<<RIMC_ATTR_MCID}, false},
		{"explicit CID0", nil, RIMU{ID: 1, Attr: cidsel}, true},
		{"no inheritance support", nil, RIMU{ID: 11}, true},
		{"inherited CID0", []rif.ResourceConfig{sdmmc}, RIMU{ID: 1}, true},
		{"inherited CID1", []rif.ResourceConfig{{ID: SDMMC1_ID, Sec: true, CID: static1}}, RIMU{ID: 1}, false},
		{"unconfigured peripheral", nil, RIMU{ID: 1}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				RISUP:          tc.risup,
				RIMU:           []RIMU{tc.rimu},
				ErrataAHBRISAB: true,
			}

			_, b, err := testRIFSC(t, rif.CID1, false, cfg)

			if tc.fail != rif.IsConfigurationError(err) {
				t.Fatalf("got %v", err)
			}

			if !tc.fail && b.Peek(RIMC_ATTR0+4*tc.rimu.ID) != tc.rimu.Attr {
				t.Fatal("RIMU not programmed")
			}
		})
	}

	// insecure platforms only log the erratum
	if _, _, err := testRIFSC(t, rif.CID1, true, &Config{
		RISUP:          []rif.ResourceConfig{sdmmc},
		RIMU:           []RIMU{{ID: 1}},
		ErrataAHBRISAB: true,
	}); err != nil {
		t.Fatalf("insecure, got %v", err)
	}
}

func TestRISALAndGlobalLock(t *testing.T) {
	_, b := mustRIFSC(t, &Config{
		RISAL: []RISAL{
			{ID: 1, Block: RISAL_BLOCK_A, Attr: 0x123},
			{ID: 3, Block: RISAL_BLOCK_B, Attr: 0x456},
		},
		GLock: RIMU_GLOCK | RISUP_GLOCK,
	})

	if b.Peek(RISAL_CFGR0_A) != 0x123 || b.Peek(RISAL_CFGR0_B+2*RISAL_STRIDE) != 0x456 {
		t.Fatal("RISAL not programmed")
	}

	if b.Peek(RISC_CR)&1 == 0 || b.Peek(RIMC_CR)&1 == 0 {
		t.Fatal("global locks not set")
	}

	if _, _, err := testRIFSC(t, rif.CID1, false, &Config{RISAL: []RISAL{{ID: 4}}}); !rif.IsConfigurationError(err) {
		t.Fatalf("out of range RISAL, got %v", err)
	}
}

func TestPM(t *testing.T) {
	res := rif.ResourceConfig{ID: 7, Sec: true, CID: shared}
	r, b := mustRIFSC(t, &Config{RISUP: []rif.ResourceConfig{res}})

	var reg pm.Registry
	reg.Register(r.Name(), r.PM)

	if err := reg.Suspend(pm.ContextState); err != nil {
		t.Fatal(err)
	}

	// context loss
	b.Poke(semcr(7), 0)
	b.Poke(cidcfgr(7), 0)

	if err := reg.Resume(pm.ContextState); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(res, r.Resource(7)); diff != "" {
		t.Fatalf("configuration not restored (-want +got):\n%s", diff)
	}

	if owner, taken := r.Semaphore(7); !taken || owner != rif.CID1 {
		t.Fatal("semaphore not restored")
	}

	// another CID grabbed the semaphore during the transition
	if err := reg.Suspend(pm.ContextState); err != nil {
		t.Fatal(err)
	}

	b.Poke(semcr(7), 1|rif.CID2<<rif.SEMCR_SEMCID)

	if err := reg.Resume(pm.ContextState); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("resume, got %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	res := rif.ResourceConfig{ID: 5, Sec: true, Lock: true, CID: static1}
	rimu := RIMU{ID: 2, Attr: 1<<RIMC_ATTR_CIDSEL | rif.CID1<<RIMC_ATTR_MCID}

	n := dt.NewNode("rifsc@42080000",
		dt.StringProp("compatible", Compatible),
		dt.CellsProp("st,protreg", res.Cell()),
		dt.CellsProp("st,rimu", rimu.Cell()),
		dt.CellsProp("st,risal", 0x12|0xabc<<RISAL_CFGR),
		dt.CellsProp("st,glocked", RIMU_GLOCK),
		dt.FlagProp("st,errata-ahbrisab"),
	)

	cfg, err := ParseConfig(n)

	if err != nil {
		t.Fatal(err)
	}

	want := &Config{
		RISUP:          []rif.ResourceConfig{res},
		RIMU:           []RIMU{rimu},
		RISAL:          []RISAL{{ID: 2, Block: RISAL_BLOCK_B, Attr: 0xabc}},
		GLock:          RIMU_GLOCK,
		ErrataAHBRISAB: true,
	}

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("configuration mismatch (-want +got):\n%s", diff)
	}

	if _, err = ParseConfig(dt.NewNode("rifsc", dt.CellsProp("st,rimu", 0x10))); !rif.IsConfigurationError(err) {
		t.Fatalf("invalid RIMU, got %v", err)
	}
}

func TestReconfigureRIMU(t *testing.T) {
	r, b := mustRIFSC(t, &Config{})

	if err := r.ReconfigureRIMU(3, rif.CID2, true, true, false); err != nil {
		t.Fatal(err)
	}

	if got, want := b.Peek(RIMC_ATTR0+4*3), uint32(1<<RIMC_ATTR_CIDSEL|2<<RIMC_ATTR_MCID|1<<RIMC_ATTR_MSEC); got != want {
		t.Fatalf("RIMC_ATTR3 = %#x, want %#x", got, want)
	}

	if err := r.ReconfigureRIMU(16, rif.CID2, true, true, false); !errors.Is(err, rif.ErrBadParameters) {
		t.Fatalf("out of range RIMU: got %v", err)
	}

	b.Write32(RIMC_CR, 1<<RIMC_CR_GLOCK)

	if err := r.ReconfigureRIMU(3, rif.CID4, true, true, false); !errors.Is(err, rif.ErrAccessDenied) {
		t.Fatalf("global lock: got %v", err)
	}
}
