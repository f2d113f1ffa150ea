// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"
	"math"
	"sort"

	"github.com/aclements/go-binlayout/rva"
)

// A SectionHeader describes a binary section as recorded in the
// image's section table.
type SectionHeader struct {
	// Name is the section name, such as ".text".
	Name string

	// RVA is the address at which the section is loaded.
	RVA uint32

	// Size is the size of the section on disk. It must be a multiple
	// of FileAlignment.
	Size uint32

	// VirtualSize is the size of the section in memory, before
	// rounding up to SectionAlignment.
	VirtualSize uint32

	// FileAlignment and SectionAlignment are the binary's on-disk and
	// in-memory alignments. Both must be powers of 2.
	FileAlignment    uint32
	SectionAlignment uint32

	Characteristics Characteristics
}

// TailSlopVirtualSize returns the in-memory padding between the end of
// the section's contents and the next SectionAlignment boundary.
func (h *SectionHeader) TailSlopVirtualSize() uint32 {
	return roundUp2(h.VirtualSize, h.SectionAlignment) - h.VirtualSize
}

// VirtualSizeIncludingPadding returns VirtualSize rounded up to the
// section alignment.
func (h *SectionHeader) VirtualSizeIncludingPadding() uint32 {
	return h.VirtualSize + h.TailSlopVirtualSize()
}

// A SectionBuilder is a binary section under construction. COFF
// groups are added to it, and Freeze computes the padding between and
// after them.
type SectionBuilder struct {
	sess   *Session
	id     SectionID
	hdr    SectionHeader
	groups []*COFFGroupBuilder

	frozen    *Section
	freezeErr error
}

// NewSection constructs a section and records it in s. It fails with an
// InvariantError if the alignments are not powers of 2 or if hdr.Size
// is not a multiple of the file alignment; either means the section
// table was mis-modelled. With debug checks enabled, constructing two
// sections with the same name or RVA fails with an ExistsError.
func (s *Session) NewSection(hdr SectionHeader) (*SectionBuilder, error) {
	entity := "section " + hdr.Name
	if !isPow2(hdr.FileAlignment) || !isPow2(hdr.SectionAlignment) {
		return nil, &InvariantError{entity, fmt.Sprintf("alignments %#x/%#x are not powers of 2", hdr.FileAlignment, hdr.SectionAlignment)}
	}
	if hdr.Size%hdr.FileAlignment != 0 {
		return nil, &InvariantError{entity, fmt.Sprintf("size %#x is not a multiple of file alignment %#x", hdr.Size, hdr.FileAlignment)}
	}
	align := uint64(hdr.SectionAlignment)
	padded := (uint64(hdr.VirtualSize) + align - 1) &^ (align - 1)
	if padded > math.MaxUint32 || !rva.Fits(hdr.RVA, uint32(padded)) || !rva.Fits(hdr.RVA, hdr.Size) {
		return nil, &InvariantError{entity, "extends past the end of the address space"}
	}
	b := &SectionBuilder{sess: s, hdr: hdr}
	id, err := s.recordSection(b)
	if err != nil {
		return nil, err
	}
	b.id = id
	return b, nil
}

// ID returns the section's ID within its Session.
func (b *SectionBuilder) ID() SectionID { return b.id }

// Name returns the section's name.
func (b *SectionBuilder) Name() string { return b.hdr.Name }

// RVA returns the address at which the section is loaded.
func (b *SectionBuilder) RVA() uint32 { return b.hdr.RVA }

// Size returns the size of the section on disk.
func (b *SectionBuilder) Size() uint32 { return b.hdr.Size }

// VirtualSize returns the size of the section in memory.
func (b *SectionBuilder) VirtualSize() uint32 { return b.hdr.VirtualSize }

// TailSlopVirtualSize returns the in-memory alignment padding after the
// section's contents.
func (b *SectionBuilder) TailSlopVirtualSize() uint32 { return b.hdr.TailSlopVirtualSize() }

// VirtualSizeIncludingPadding returns the section's in-memory size
// rounded up to the section alignment.
func (b *SectionBuilder) VirtualSizeIncludingPadding() uint32 {
	return b.hdr.VirtualSizeIncludingPadding()
}

// AddCOFFGroup adds g to the section. It fails with a FrozenError after
// Freeze.
func (b *SectionBuilder) AddCOFFGroup(g *COFFGroupBuilder) error {
	if b.frozen != nil || b.freezeErr != nil {
		return &FrozenError{"section " + b.hdr.Name, "add COFF group " + g.hdr.Name}
	}
	if err := g.setSection(b.id); err != nil {
		return err
	}
	b.groups = append(b.groups, g)
	return nil
}

// Freeze resolves the sizes of the section's COFF groups, assigns each
// group the padding that follows it, and returns the immutable
// Section.
//
// Freeze fails with a LayoutError if the in-memory gap between two
// RVA-adjacent groups exceeds the file alignment, and with an
// InvariantError if the groups' bytes plus padding do not add up to
// the section's sizes. Freeze is idempotent, including its failures.
func (b *SectionBuilder) Freeze() (*Section, error) {
	if b.frozen == nil && b.freezeErr == nil {
		b.frozen, b.freezeErr = b.freeze()
	}
	return b.frozen, b.freezeErr
}

func (b *SectionBuilder) freeze() (*Section, error) {
	hdr := &b.hdr
	entity := "section " + hdr.Name

	groups := append([]*COFFGroupBuilder(nil), b.groups...)
	for _, g := range groups {
		g.freeze()
	}
	sort.SliceStable(groups, func(i, j int) bool {
		gi, gj := groups[i], groups[j]
		if gi.hdr.RVA != gj.hdr.RVA {
			return gi.hdr.RVA < gj.hdr.RVA
		}
		return gi.virtualSize < gj.virtualSize
	})

	// On-disk offsets are clamped to the section's on-disk extent so
	// virtual-only groups past the raw data are not charged as file
	// padding.
	fileEnd := hdr.RVA + hdr.Size
	onDisk := func(addr uint32) uint32 {
		if addr > fileEnd {
			return fileEnd
		}
		return addr
	}
	sub := func(a, b uint32) uint32 {
		if a < b {
			return 0
		}
		return a - b
	}

	for i := 0; i+1 < len(groups); i++ {
		prev, next := groups[i], groups[i+1]
		prevEnd := prev.hdr.RVA + prev.virtualSize
		if next.hdr.RVA < prevEnd {
			return nil, &InvariantError{entity, fmt.Sprintf("COFF groups %s and %s overlap", prev.hdr.Name, next.hdr.Name)}
		}
		gapVirtual := next.hdr.RVA - prevEnd
		if gapVirtual > hdr.FileAlignment {
			return nil, &LayoutError{
				Section:   hdr.Name,
				Prev:      prev.hdr.Name,
				Next:      next.hdr.Name,
				Gap:       gapVirtual,
				Alignment: hdr.FileAlignment,
			}
		}
		gapSize := sub(onDisk(next.hdr.RVA), onDisk(prev.hdr.RVA+prev.size))
		if err := prev.setTailSlop(gapSize, gapVirtual); err != nil {
			return nil, err
		}
	}

	if len(groups) > 0 {
		// The last group's padding runs to the end of the section,
		// including the section's own alignment padding in memory.
		last := groups[len(groups)-1]
		lastEnd := last.hdr.RVA + last.virtualSize
		paddedEnd := hdr.RVA + hdr.VirtualSizeIncludingPadding()
		if lastEnd > paddedEnd {
			return nil, &InvariantError{entity, fmt.Sprintf("COFF group %s ends at %#x, past the end of the section at %#x", last.hdr.Name, lastEnd, paddedEnd)}
		}
		tailSize := sub(fileEnd, onDisk(last.hdr.RVA+last.size))
		if err := last.setTailSlop(tailSize, paddedEnd-lastEnd); err != nil {
			return nil, err
		}
	}

	sec := &Section{id: b.id, hdr: b.hdr, groups: make([]*COFFGroup, len(groups))}
	for i, g := range groups {
		fg, err := g.finish()
		if err != nil {
			return nil, err
		}
		sec.groups[i] = fg
	}
	if debugChecks {
		if err := sec.reconcile(); err != nil {
			return nil, err
		}
	}
	b.sess.recordSectionFrozen(sec)
	return sec, nil
}

// A Section is a frozen binary section. It is immutable and safe for
// concurrent use.
type Section struct {
	id     SectionID
	hdr    SectionHeader
	groups []*COFFGroup // Sorted by RVA
}

// reconcile checks that every byte of the section, on disk and in
// memory, is accounted to exactly one COFF group or its tail slop.
func (s *Section) reconcile() error {
	if len(s.groups) == 0 {
		// Nothing was attributed, so there's nothing to reconcile.
		return nil
	}
	var size, virtualSize uint64
	for _, g := range s.groups {
		size += uint64(g.size) + uint64(g.tailSlopSize)
		virtualSize += uint64(g.virtualSize) + uint64(g.tailSlopVirtualSize)
	}
	entity := "section " + s.hdr.Name
	if size != uint64(s.hdr.Size) {
		return &InvariantError{entity, fmt.Sprintf("COFF groups account for %#x bytes on disk, section size is %#x", size, s.hdr.Size)}
	}
	if want := uint64(s.hdr.VirtualSizeIncludingPadding()); virtualSize != want {
		return &InvariantError{entity, fmt.Sprintf("COFF groups account for %#x bytes in memory, section padded virtual size is %#x", virtualSize, want)}
	}
	return nil
}

// ID returns the section's ID within its Session.
func (s *Section) ID() SectionID { return s.id }

// Name returns the section's name.
func (s *Section) Name() string { return s.hdr.Name }

// RVA returns the address at which the section is loaded.
func (s *Section) RVA() uint32 { return s.hdr.RVA }

// Size returns the size of the section on disk.
func (s *Section) Size() uint32 { return s.hdr.Size }

// VirtualSize returns the size of the section in memory.
func (s *Section) VirtualSize() uint32 { return s.hdr.VirtualSize }

// FileAlignment returns the binary's on-disk alignment.
func (s *Section) FileAlignment() uint32 { return s.hdr.FileAlignment }

// SectionAlignment returns the binary's in-memory alignment.
func (s *Section) SectionAlignment() uint32 { return s.hdr.SectionAlignment }

// Characteristics returns the section's IMAGE_SCN_* flags.
func (s *Section) Characteristics() Characteristics { return s.hdr.Characteristics }

// TailSlopVirtualSize returns the in-memory alignment padding after the
// section's contents.
func (s *Section) TailSlopVirtualSize() uint32 { return s.hdr.TailSlopVirtualSize() }

// VirtualSizeIncludingPadding returns the section's in-memory size
// rounded up to the section alignment.
func (s *Section) VirtualSizeIncludingPadding() uint32 {
	return s.hdr.VirtualSizeIncludingPadding()
}

// COFFGroups returns the section's COFF groups in RVA order. The
// caller must not modify the returned slice.
func (s *Section) COFFGroups() []*COFFGroup {
	return s.groups
}

// Range returns the in-memory extent of the section, excluding
// alignment padding.
func (s *Section) Range() rva.Range {
	return rva.FromSize(s.hdr.RVA, s.hdr.VirtualSize)
}

func (s *Section) paddedRange() rva.Range {
	return rva.FromSize(s.hdr.RVA, s.hdr.VirtualSizeIncludingPadding())
}

// Contains reports whether the size bytes at addr lie within the
// section's in-memory extent, excluding alignment padding.
func (s *Section) Contains(addr, size uint32) bool {
	return s.Range().ContainsSpan(addr, size)
}

func (s *Section) String() string {
	return fmt.Sprintf("%s [%#x,+%#x)", s.hdr.Name, s.hdr.RVA, s.hdr.VirtualSize)
}

func isPow2(x uint32) bool {
	return x != 0 && x&(x-1) == 0
}

// roundUp2 rounds x up to a multiple of y, where y must be a power of
// 2.
func roundUp2(x, y uint32) uint32 {
	if y&(y-1) != 0 {
		panic("y must be a power of 2")
	}
	return (x + y - 1) &^ (y - 1)
}
