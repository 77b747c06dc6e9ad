// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-stm32mp/internal/firewall"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rifsc"
)

func init() {
	Add(Cmd{
		Name:    "race",
		Args:    2,
		Pattern: regexp.MustCompile(`^race (\d+) (\d+)$`),
		Syntax:  "<id> <rounds>",
		Help:    "RIFSC semaphore contention between CID1 and CID2",
		Fn:      raceCmd,
	})
}

// RaceResult represents the outcome of a semaphore race.
type RaceResult struct {
	Rounds int
	// Wins counts the rounds won by each compartment
	Wins map[uint8]int
}

// Race contends the semaphore of a RIFSC peripheral between the Secure World
// (CID1), through its firewall controller, and the Normal World (CID2),
// through a simulated register port. A semaphore held by the Secure World
// beforehand is taken again once the race completes.
func Race(id uint32, rounds int) (res *RaceResult, err error) {
	if plat == nil {
		return nil, errNoPlatform
	}

	if plat.RIFSC == nil {
		return nil, fmt.Errorf("no RIFSC, %w", rif.ErrNotSupported)
	}

	port, err := plat.Port(plat.RIFSC, rif.CID2)

	if err != nil {
		return
	}

	q := firewall.NewQuery(plat.RIFSC, id)

	if id >= plat.RIFSC.Capabilities().NbRISUP {
		return nil, fmt.Errorf("peripheral %d: %w", id, rif.ErrBadParameters)
	}

	if c := plat.RIFSC.Resource(id).CID; !c.Enabled || !c.Semaphore {
		return nil, fmt.Errorf("peripheral %d: not in semaphore mode, %w", id, rif.ErrBadParameters)
	}

	owner, held := plat.RIFSC.Semaphore(id)
	held = held && owner == plat.Context.CID

	if held {
		if err = q.ReleaseAccess(); err != nil {
			return
		}

		defer func() {
			if e := q.AcquireAccess(); e != nil && err == nil {
				err = fmt.Errorf("could not restore semaphore %d, %w", id, e)
			}
		}()
	}

	var secure, nonSecure int64
	off := uint32(rifsc.RISC_PER0_SEMCR + rifsc.RISC_PERx_STRIDE*id)

	g := new(errgroup.Group)

	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if q.AcquireAccess() != nil {
				runtime.Gosched()
				continue
			}

			atomic.AddInt64(&secure, 1)

			if err := q.ReleaseAccess(); err != nil {
				return err
			}
		}

		return nil
	})

	g.Go(func() error {
		for i := 0; i < rounds; i++ {
			if rif.AcquireSemaphore(port, off, rifsc.MaxCID, rif.CID2) != nil {
				runtime.Gosched()
				continue
			}

			atomic.AddInt64(&nonSecure, 1)

			if err := rif.ReleaseSemaphore(port, off, rifsc.MaxCID, rif.CID2); err != nil {
				return err
			}
		}

		return nil
	})

	if err = g.Wait(); err != nil {
		return
	}

	res = &RaceResult{
		Rounds: rounds,
		Wins: map[uint8]int{
			rif.CID1: int(secure),
			rif.CID2: int(nonSecure),
		},
	}

	return
}

func raceCmd(_ *term.Terminal, arg []string) (string, error) {
	id, err := strconv.ParseUint(arg[0], 10, 8)

	if err != nil {
		return "", fmt.Errorf("invalid id, %v", err)
	}

	rounds, err := strconv.Atoi(arg[1])

	if err != nil {
		return "", fmt.Errorf("invalid rounds, %v", err)
	}

	res, err := Race(uint32(id), rounds)

	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d rounds, CID1 won %d, CID2 won %d", res.Rounds, res.Wins[rif.CID1], res.Wins[rif.CID2]), nil
}
