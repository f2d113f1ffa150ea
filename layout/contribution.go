// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import "github.com/aclements/go-binlayout/rva"

// A ContributionBuilder accumulates the RVA ranges one owner occupies
// within one section, COFF group, or compiland. Once all ranges have
// been added, Freeze produces the immutable Contribution.
type ContributionBuilder struct {
	name   string
	ranges []rva.Range
	frozen *Contribution
}

// NewContribution returns an open ContributionBuilder.
func NewContribution(name string) *ContributionBuilder {
	return &ContributionBuilder{name: name}
}

// Name returns the name of the contribution.
func (b *ContributionBuilder) Name() string {
	return b.name
}

// AddRange appends r to the contribution. It fails with a FrozenError
// after Freeze.
func (b *ContributionBuilder) AddRange(r rva.Range) error {
	if b.frozen != nil {
		return &FrozenError{"contribution " + b.name, "add range"}
	}
	b.ranges = append(b.ranges, r)
	return nil
}

// AddRanges appends all of rs to the contribution. It fails with a
// FrozenError after Freeze.
func (b *ContributionBuilder) AddRanges(rs []rva.Range) error {
	if b.frozen != nil {
		return &FrozenError{"contribution " + b.name, "add ranges"}
	}
	b.ranges = append(b.ranges, rs...)
	return nil
}

// RangesBeforeFreeze returns the ranges added so far, uncoalesced and
// in insertion order. The caller must not modify the returned slice.
//
// This is the one accessor that reads a contribution before it is
// frozen. It exists for attribution passes that must run while the
// session is still constructing. The result is only complete once the
// owner has received every raw range, and callers are responsible for
// ensuring that.
func (b *ContributionBuilder) RangesBeforeFreeze() []rva.Range {
	return b.ranges
}

// Freeze coalesces the accumulated ranges and returns the immutable
// Contribution. Freeze is idempotent: later calls return the same
// Contribution.
func (b *ContributionBuilder) Freeze() *Contribution {
	if b.frozen == nil {
		b.frozen = &Contribution{name: b.name, set: rva.Coalesce(b.ranges, 0)}
	}
	return b.frozen
}

// A Contribution is the frozen set of RVA ranges attributed to one
// owner within one section, COFF group, or compiland. It is immutable
// and safe for concurrent use.
type Contribution struct {
	name string
	set  rva.Set
}

// Name returns the name of the contribution.
func (c *Contribution) Name() string {
	return c.name
}

// Size returns the number of on-disk bytes in the contribution.
func (c *Contribution) Size() uint32 {
	return c.set.Size()
}

// VirtualSize returns the number of in-memory bytes in the
// contribution.
func (c *Contribution) VirtualSize() uint32 {
	return c.set.VirtualSize()
}

// Ranges returns the coalesced ranges of the contribution in address
// order. No two returned ranges with the same VirtualOnly flag abut.
// The caller must not modify the returned slice.
func (c *Contribution) Ranges() []rva.Range {
	return c.set.Ranges()
}

// Contains reports whether the size bytes at addr lie within a single
// range of the contribution.
func (c *Contribution) Contains(addr, size uint32) bool {
	return c.set.ContainsSpan(addr, size)
}

func (c *Contribution) String() string {
	return c.name + " " + c.set.String()
}
