// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pm implements low power state transitions for firewall controller
// drivers.
//
// Drivers register a callback which is invoked with the Suspend operation in
// reverse registration order and with the Resume operation in registration
// order.
package pm

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Op represents a power state transition.
type Op int

const (
	Suspend Op = iota
	Resume
)

func (op Op) String() string {
	switch op {
	case Suspend:
		return "suspend"
	case Resume:
		return "resume"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Hint represents the state lost across a transition.
type Hint uint32

const (
	// ClockState reports gated clocks
	ClockState Hint = 1 << iota
	// PowerState reports powered down regulators
	PowerState
	// IOState reports reset pin configuration
	IOState
	// ContextState reports lost register content
	ContextState
)

// Is returns whether a state is part of the hint.
func (h Hint) Is(state Hint) bool {
	return h&state != 0
}

// Callback represents a driver power transition handler.
type Callback func(op Op, hint Hint) error

type entry struct {
	name string
	cb   Callback
}

// Registry represents the set of registered power transition handlers.
type Registry struct {
	sync.Mutex

	entries []entry
}

// Register adds a power transition handler.
func (r *Registry) Register(name string, cb Callback) {
	r.Lock()
	defer r.Unlock()

	r.entries = append(r.entries, entry{name, cb})
}

// Names returns the registered handler names in registration order.
func (r *Registry) Names() (names []string) {
	r.Lock()
	defer r.Unlock()

	for _, e := range r.entries {
		names = append(names, e.name)
	}

	return
}

// Suspend invokes all handlers in reverse registration order, on failure
// already suspended handlers are resumed.
func (r *Registry) Suspend(hint Hint) error {
	r.Lock()
	defer r.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]

		if err := e.cb(Suspend, hint); err != nil {
			for _, s := range r.entries[i+1:] {
				if rerr := s.cb(Resume, hint); rerr != nil {
					log.Errorf("%s: resume after failed suspend, %v", s.name, rerr)
				}
			}

			return fmt.Errorf("%s: suspend failed, %w", e.name, err)
		}
	}

	return nil
}

// Resume invokes all handlers in registration order, stopping at the first
// failure.
func (r *Registry) Resume(hint Hint) error {
	r.Lock()
	defer r.Unlock()

	for _, e := range r.entries {
		if err := e.cb(Resume, hint); err != nil {
			return fmt.Errorf("%s: resume failed, %w", e.name, err)
		}
	}

	return nil
}
