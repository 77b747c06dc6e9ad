// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package region implements an ordered set of non-overlapping physical
// address ranges.
package region

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

const degree = 8

// ErrOverlap is returned when inserting a range which intersects an existing
// one.
var ErrOverlap = errors.New("overlapping range")

// Range represents a physical address range.
type Range struct {
	Start uint64
	Size  uint64
	// Value is an arbitrary payload
	Value interface{}
}

// End returns the last address of the range.
func (r Range) End() uint64 {
	return r.Start + r.Size - 1
}

// Less implements btree.Item.
func (r Range) Less(than btree.Item) bool {
	return r.Start < than.(Range).Start
}

func (r Range) String() string {
	return fmt.Sprintf("%#x-%#x", r.Start, r.End())
}

// Set represents an ordered collection of disjoint ranges.
type Set struct {
	t *btree.BTree
}

// New returns an empty range set.
func New() *Set {
	return &Set{
		t: btree.New(degree),
	}
}

// Overlapping returns the first range of the set which intersects r.
func (s *Set) Overlapping(r Range) (o Range, found bool) {
	s.t.DescendLessOrEqual(r, func(i btree.Item) bool {
		if p := i.(Range); p.End() >= r.Start {
			o = p
			found = true
		}

		return false
	})

	if found {
		return
	}

	s.t.AscendGreaterOrEqual(r, func(i btree.Item) bool {
		if n := i.(Range); n.Start <= r.End() {
			o = n
			found = true
		}

		return false
	})

	return
}

// Insert adds a range to the set, empty, wrapping and overlapping ranges are
// rejected.
func (s *Set) Insert(r Range) error {
	if r.Size == 0 || r.End() < r.Start {
		return fmt.Errorf("invalid range %#x/%#x", r.Start, r.Size)
	}

	if o, found := s.Overlapping(r); found {
		return fmt.Errorf("%v with %v, %w", r, o, ErrOverlap)
	}

	s.t.ReplaceOrInsert(r)

	return nil
}

// Find returns the range containing addr.
func (s *Set) Find(addr uint64) (r Range, found bool) {
	s.t.DescendLessOrEqual(Range{Start: addr}, func(i btree.Item) bool {
		if p := i.(Range); addr <= p.End() {
			r = p
			found = true
		}

		return false
	})

	return
}

// Ranges returns all ranges in ascending address order.
func (s *Set) Ranges() (ranges []Range) {
	s.t.Ascend(func(i btree.Item) bool {
		ranges = append(ranges, i.(Range))
		return true
	})

	return
}

// Len returns the number of ranges in the set.
func (s *Set) Len() int {
	return s.t.Len()
}
