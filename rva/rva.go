// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rva provides ranges of relative virtual addresses and sets
// of such ranges.
//
// An RVA is a byte offset from a binary's preferred load base. All
// ranges are half-open: [Start, End).
package rva

import (
	"fmt"
	"math"
)

// A Range is a contiguous range of RVAs.
//
// Range is an immutable value type. All methods require that the Range
// is well-formed (Start <= End).
type Range struct {
	// Start is the inclusive start of the range.
	Start uint32

	// End is the exclusive end of the range.
	End uint32

	// VirtualOnly indicates the bytes of this range exist only in
	// memory and occupy no space on disk (for example, uninitialized
	// data in .bss).
	VirtualOnly bool
}

// FromSize returns the range of size bytes starting at start. It panics
// if the range would overflow the 32-bit address space.
func FromSize(start, size uint32) Range {
	if !Fits(start, size) {
		panic(fmt.Sprintf("range [%#x,+%#x) overflows the address space", start, size))
	}
	return Range{Start: start, End: start + size}
}

// Fits reports whether a range of size bytes starting at start can be
// represented, that is, whether it ends at or below math.MaxUint32.
func Fits(start, size uint32) bool {
	return uint64(start)+uint64(size) <= math.MaxUint32
}

// WellFormed reports whether r.Start <= r.End.
func (r Range) WellFormed() bool {
	return r.Start <= r.End
}

// Size returns the number of bytes in r, regardless of whether they
// are backed on disk.
func (r Range) Size() uint32 {
	return r.End - r.Start
}

// Empty reports whether r contains no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Contains reports whether addr falls within r.
func (r Range) Contains(addr uint32) bool {
	return r.Start <= addr && addr < r.End
}

// ContainsSpan reports whether all size bytes starting at addr fall
// within r. A zero-sized span is contained if addr is.
func (r Range) ContainsSpan(addr, size uint32) bool {
	if size == 0 {
		return r.Contains(addr)
	}
	end := addr + size
	if end < addr {
		return false
	}
	return r.Start <= addr && end <= r.End
}

// Overlaps reports whether r and o share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// IsSupersetOf reports whether o lies entirely within r.
func (r Range) IsSupersetOf(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Intersect returns the intersection of r and o. If they do not
// overlap, the result is empty. The result keeps r's VirtualOnly flag.
func (r Range) Intersect(o Range) Range {
	if r.Start < o.Start {
		r.Start = o.Start
	}
	if r.End > o.End {
		r.End = o.End
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

func (r Range) String() string {
	if r.VirtualOnly {
		return fmt.Sprintf("[%#x,%#x) virtual", r.Start, r.End)
	}
	return fmt.Sprintf("[%#x,%#x)", r.Start, r.End)
}
