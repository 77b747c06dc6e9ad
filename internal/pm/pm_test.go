// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOrder(t *testing.T) {
	var r Registry
	var calls []string

	for _, name := range []string{"rifsc", "risaf", "hpdma"} {
		name := name

		r.Register(name, func(op Op, hint Hint) error {
			if !hint.Is(ContextState) {
				t.Errorf("%s: missing hint", name)
			}

			calls = append(calls, op.String()+" "+name)
			return nil
		})
	}

	if err := r.Suspend(ContextState); err != nil {
		t.Fatal(err)
	}

	if err := r.Resume(ContextState); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"suspend hpdma", "suspend risaf", "suspend rifsc",
		"resume rifsc", "resume risaf", "resume hpdma",
	}

	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestSuspendRollback(t *testing.T) {
	var r Registry
	var calls []string

	fail := errors.New("busy")

	r.Register("first", func(op Op, _ Hint) error {
		calls = append(calls, op.String()+" first")
		return nil
	})

	r.Register("second", func(op Op, _ Hint) error {
		if op == Suspend {
			return fail
		}

		calls = append(calls, op.String()+" second")
		return nil
	})

	r.Register("third", func(op Op, _ Hint) error {
		calls = append(calls, op.String()+" third")
		return nil
	})

	if err := r.Suspend(ClockState); !errors.Is(err, fail) {
		t.Fatalf("got %v", err)
	}

	if diff := cmp.Diff([]string{"suspend third", "resume third"}, calls); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
}
