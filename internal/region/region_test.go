// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package region

import (
	"errors"
	"testing"
)

func TestInsert(t *testing.T) {
	s := New()

	for _, r := range []Range{
		{Start: 0x1000, Size: 0x1000},
		{Start: 0x3000, Size: 0x1000},
		{Start: 0x2000, Size: 0x1000},
	} {
		if err := s.Insert(r); err != nil {
			t.Fatal(err)
		}
	}

	for _, r := range []Range{
		{Start: 0x0800, Size: 0x1000},
		{Start: 0x1fff, Size: 0x2},
		{Start: 0x3fff, Size: 0x1},
		{Start: 0x0000, Size: 0x10000},
		{Start: 0x2800, Size: 0x10},
	} {
		if err := s.Insert(r); !errors.Is(err, ErrOverlap) {
			t.Errorf("%v: got %v", r, err)
		}
	}

	if err := s.Insert(Range{Start: 0x4000}); err == nil || errors.Is(err, ErrOverlap) {
		t.Errorf("empty range, got %v", err)
	}

	if s.Len() != 3 {
		t.Fatalf("unexpected length %d", s.Len())
	}

	var prev uint64

	for _, r := range s.Ranges() {
		if r.Start < prev {
			t.Fatalf("unordered ranges %v", s.Ranges())
		}

		prev = r.Start
	}
}

func TestFind(t *testing.T) {
	s := New()

	if err := s.Insert(Range{Start: 0x80000000, Size: 0x2000000, Value: "tee"}); err != nil {
		t.Fatal(err)
	}

	if r, found := s.Find(0x81ffffff); !found || r.Value != "tee" {
		t.Fatalf("lookup failed, %v %v", r, found)
	}

	for _, addr := range []uint64{0x7fffffff, 0x82000000} {
		if _, found := s.Find(addr); found {
			t.Errorf("%#x found", addr)
		}
	}
}
