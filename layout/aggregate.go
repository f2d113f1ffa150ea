// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"
	"sort"
)

// owner is the open state shared by every aggregate: one contribution
// per section and one per COFF group, created on demand.
type owner struct {
	sess     *Session
	entity   string
	sections map[SectionID]*ContributionBuilder
	groups   map[COFFGroupID]*ContributionBuilder
}

func newOwner(sess *Session, entity string) owner {
	return owner{
		sess:     sess,
		entity:   entity,
		sections: make(map[SectionID]*ContributionBuilder),
		groups:   make(map[COFFGroupID]*ContributionBuilder),
	}
}

func (o *owner) sectionContribution(id SectionID) (*ContributionBuilder, error) {
	if c, ok := o.sections[id]; ok {
		return c, nil
	}
	if id < 0 || int(id) >= len(o.sess.sections) {
		return nil, &InvariantError{o.entity, fmt.Sprintf("unknown section ID %d", id)}
	}
	c := NewContribution(o.entity + " in " + o.sess.sections[id].hdr.Name)
	o.sections[id] = c
	return c, nil
}

func (o *owner) groupContribution(id COFFGroupID) (*ContributionBuilder, error) {
	if c, ok := o.groups[id]; ok {
		return c, nil
	}
	if id < 0 || int(id) >= len(o.sess.groups) {
		return nil, &InvariantError{o.entity, fmt.Sprintf("unknown COFF group ID %d", id)}
	}
	c := NewContribution(o.entity + " in " + o.sess.groups[id].hdr.Name)
	o.groups[id] = c
	return c, nil
}

// freeze freezes every contribution and sums them. Sizes are taken
// from the section contributions; with debug checks enabled the COFF
// group contributions must add up to exactly the same sizes.
func (o *owner) freeze() (contributions, error) {
	var fz contributions
	fz.sections = make(map[SectionID]*Contribution, len(o.sections))
	fz.groups = make(map[COFFGroupID]*Contribution, len(o.groups))

	var size, virtualSize uint64
	for id, c := range o.sections {
		f := c.Freeze()
		fz.sections[id] = f
		size += uint64(f.Size())
		virtualSize += uint64(f.VirtualSize())
	}
	var groupSize, groupVirtualSize uint64
	for id, c := range o.groups {
		f := c.Freeze()
		fz.groups[id] = f
		groupSize += uint64(f.Size())
		groupVirtualSize += uint64(f.VirtualSize())
	}
	if debugChecks && (size != groupSize || virtualSize != groupVirtualSize) {
		return fz, &InvariantError{o.entity, fmt.Sprintf("section contributions total %#x/%#x bytes, COFF group contributions total %#x/%#x",
			size, virtualSize, groupSize, groupVirtualSize)}
	}
	if size > 1<<32-1 || virtualSize > 1<<32-1 {
		return fz, &InvariantError{o.entity, "size overflows the address space"}
	}
	fz.size, fz.virtualSize = uint32(size), uint32(virtualSize)
	return fz, nil
}

// contributions is the frozen state shared by every aggregate. Its
// methods are promoted to Compiland, Library, and SourceFile.
type contributions struct {
	sections          map[SectionID]*Contribution
	groups            map[COFFGroupID]*Contribution
	size, virtualSize uint32
}

// Size returns the number of on-disk bytes attributed to the owner.
func (c *contributions) Size() uint32 { return c.size }

// VirtualSize returns the number of in-memory bytes attributed to the
// owner.
func (c *contributions) VirtualSize() uint32 { return c.virtualSize }

// SectionContributions returns the owner's contributions keyed by
// section. The caller must not modify the returned map.
func (c *contributions) SectionContributions() map[SectionID]*Contribution {
	return c.sections
}

// COFFGroupContributions returns the owner's contributions keyed by
// COFF group. The caller must not modify the returned map.
func (c *contributions) COFFGroupContributions() map[COFFGroupID]*Contribution {
	return c.groups
}

// SectionIDs returns the IDs of the sections the owner contributes to,
// in ascending order.
func (c *contributions) SectionIDs() []SectionID {
	ids := make([]SectionID, 0, len(c.sections))
	for id := range c.sections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Contains reports whether the size bytes at addr lie entirely within
// a single range attributed to the owner.
func (c *contributions) Contains(addr, size uint32) bool {
	for _, contrib := range c.sections {
		if contrib.Contains(addr, size) {
			return true
		}
	}
	return false
}
