// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"regexp"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-stm32mp/internal/pm"
)

// lowPower is the state lost in the deepest low power mode.
const lowPower = pm.ClockState | pm.PowerState | pm.IOState | pm.ContextState

func init() {
	Add(Cmd{
		Name:    "pm",
		Args:    1,
		Pattern: regexp.MustCompile(`^pm (suspend|resume|cycle)$`),
		Syntax:  "<suspend|resume|cycle>",
		Help:    "power transition with context loss",
		Fn:      pmCmd,
	})
}

// Cycle runs a suspend/resume sequence, the firewall configuration is
// undefined after a resume failure which therefore panics.
func Cycle(suspend bool, resume bool) error {
	if plat == nil {
		return errNoPlatform
	}

	if suspend {
		if err := plat.Suspend(lowPower); err != nil {
			return fmt.Errorf("suspend aborted, %v", err)
		}
	}

	if resume {
		if err := plat.Resume(lowPower); err != nil {
			panic(err)
		}
	}

	return nil
}

func pmCmd(_ *term.Terminal, arg []string) (string, error) {
	suspend := arg[0] == "suspend" || arg[0] == "cycle"
	resume := arg[0] == "resume" || arg[0] == "cycle"

	if err := Cycle(suspend, resume); err != nil {
		return "", err
	}

	return fmt.Sprintf("pm %s: ok (%v)", arg[0], plat.PM.Names()), nil
}
