// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rva

import (
	"sort"
	"strings"
)

// A Set is a sorted, coalesced collection of Ranges. Sets are created
// by Coalesce and never modified afterward, so they are safe for
// concurrent use.
//
// Ranges in a Set are non-overlapping and sorted by Start. Two
// neighboring ranges with the same VirtualOnly flag are separated by
// more than the padding tolerance the Set was coalesced with.
type Set struct {
	ranges []Range
}

// Coalesce sorts ranges by start address and merges ranges that
// overlap or whose start lies within maxPadding bytes of the end of
// the preceding range. A maxPadding of 0 merges only ranges that
// overlap or exactly abut. Larger tolerances bridge small alignment
// gaps; the merged range then covers the gap.
//
// Only ranges with the same VirtualOnly flag are merged. Empty ranges
// are dropped. Coalesce does not modify ranges.
func Coalesce(ranges []Range, maxPadding uint32) Set {
	sorted := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if !r.Empty() {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return Set{}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := sorted[:1]
	for _, r := range sorted[1:] {
		prev := &out[len(out)-1]
		if prev.VirtualOnly == r.VirtualOnly && withinPadding(prev.End, r.Start, maxPadding) {
			if r.End > prev.End {
				prev.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return Set{out}
}

// withinPadding reports whether start lies no more than pad bytes past
// end. Starts before end (overlap) always qualify.
func withinPadding(end, start, pad uint32) bool {
	if start <= end {
		return true
	}
	return start-end <= pad
}

// Ranges returns the ranges of s in increasing address order. The
// caller must not modify the returned slice.
func (s Set) Ranges() []Range {
	return s.ranges
}

// Len returns the number of ranges in s.
func (s Set) Len() int {
	return len(s.ranges)
}

// Size returns the number of bytes in s that are backed on disk.
func (s Set) Size() uint32 {
	var n uint32
	for _, r := range s.ranges {
		if !r.VirtualOnly {
			n += r.Size()
		}
	}
	return n
}

// VirtualSize returns the number of bytes in s in memory.
func (s Set) VirtualSize() uint32 {
	var n uint32
	for _, r := range s.ranges {
		n += r.Size()
	}
	return n
}

// find returns the index of the range containing addr, or -1.
func (s Set) find(addr uint32) int {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return addr < s.ranges[i].End
	})
	if i < len(s.ranges) && s.ranges[i].Start <= addr {
		return i
	}
	return -1
}

// Contains reports whether addr falls within some range of s.
func (s Set) Contains(addr uint32) bool {
	return s.find(addr) >= 0
}

// ContainsSpan reports whether the size bytes starting at addr fall
// entirely within a single range of s.
func (s Set) ContainsSpan(addr, size uint32) bool {
	i := s.find(addr)
	return i >= 0 && s.ranges[i].ContainsSpan(addr, size)
}

// Overlaps reports whether any range of s shares a byte with r.
func (s Set) Overlaps(r Range) bool {
	if r.Empty() {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool {
		return r.Start < s.ranges[i].End
	})
	return i < len(s.ranges) && s.ranges[i].Overlaps(r)
}

func (s Set) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, r := range s.ranges {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(r.String())
	}
	buf.WriteByte('}')
	return buf.String()
}
