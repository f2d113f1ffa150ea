// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"

	"github.com/aclements/go-binlayout/rva"
)

// virtualOnlyMinAlignment is the smallest section alignment at which
// uninitialized data is left out of the file. Below page alignment,
// the loader maps the file directly and zero bytes must be on disk.
const virtualOnlyMinAlignment = 4096

// A COFFGroupHeader describes a COFF group as reported by the symbol
// provider, before its on-disk and in-memory sizes are resolved.
type COFFGroupHeader struct {
	// Name is the group name, such as ".rdata$r".
	Name string

	// RVA is the address at which the group starts.
	RVA uint32

	// RawSize is the size of the group as reported by the linker. It
	// is resolved into an on-disk size and an in-memory size when
	// the owning section freezes.
	RawSize uint32

	// FileAlignment and SectionAlignment are the binary's alignments.
	FileAlignment    uint32
	SectionAlignment uint32

	Characteristics Characteristics
}

// A COFFGroupBuilder is a COFF group under construction. It is added
// to exactly one SectionBuilder, which freezes it.
type COFFGroupBuilder struct {
	id      COFFGroupID
	hdr     COFFGroupHeader
	section SectionID

	// Set by freeze.
	resolved          bool
	size, virtualSize uint32

	// Tail slop is assigned once by the owning section.
	tailSlopSet                       bool
	tailSlopSize, tailSlopVirtualSize uint32

	frozen *COFFGroup
}

// NewCOFFGroup constructs a COFF group and records it in s. With debug
// checks enabled, constructing two groups with the same name fails
// with an ExistsError.
func (s *Session) NewCOFFGroup(hdr COFFGroupHeader) (*COFFGroupBuilder, error) {
	if !rva.Fits(hdr.RVA, hdr.RawSize) {
		return nil, &InvariantError{"COFF group " + hdr.Name, fmt.Sprintf("[%#x,+%#x) extends past the end of the address space", hdr.RVA, hdr.RawSize)}
	}
	b := &COFFGroupBuilder{hdr: hdr, section: NoSection}
	id, err := s.recordCOFFGroup(b)
	if err != nil {
		return nil, err
	}
	b.id = id
	return b, nil
}

// ID returns the group's ID within its Session.
func (b *COFFGroupBuilder) ID() COFFGroupID { return b.id }

// Name returns the group's name.
func (b *COFFGroupBuilder) Name() string { return b.hdr.Name }

// RVA returns the address at which the group starts.
func (b *COFFGroupBuilder) RVA() uint32 { return b.hdr.RVA }

// Characteristics returns the group's IMAGE_SCN_* flags.
func (b *COFFGroupBuilder) Characteristics() Characteristics { return b.hdr.Characteristics }

// RawSize returns the linker-reported size of the group. Once the
// group is frozen the raw size has been split into Size and
// VirtualSize, and RawSize fails with a FrozenError.
func (b *COFFGroupBuilder) RawSize() (uint32, error) {
	if b.resolved {
		return 0, &FrozenError{b.entity(), "read raw size"}
	}
	return b.hdr.RawSize, nil
}

func (b *COFFGroupBuilder) entity() string {
	return "COFF group " + b.hdr.Name
}

// setSection records the group's owning section. A group belongs to
// exactly one section.
func (b *COFFGroupBuilder) setSection(id SectionID) error {
	if b.resolved {
		return &FrozenError{b.entity(), "set section"}
	}
	if b.section != NoSection && b.section != id {
		return &InvariantError{b.entity(), "added to a second section"}
	}
	b.section = id
	return nil
}

// freeze resolves the on-disk and in-memory sizes of the group. It is
// idempotent.
func (b *COFFGroupBuilder) freeze() {
	if b.resolved {
		return
	}
	b.resolved = true
	b.virtualSize = b.hdr.RawSize
	if b.virtualOnly() {
		b.size = 0
	} else {
		b.size = b.hdr.RawSize
	}
}

// virtualOnly reports whether the group's bytes exist only in memory.
func (b *COFFGroupBuilder) virtualOnly() bool {
	c := b.hdr.Characteristics
	return b.hdr.SectionAlignment >= virtualOnlyMinAlignment &&
		c.UninitializedData() && !c.InitializedData()
}

// setTailSlop assigns the padding that follows the group. The owning
// section calls this exactly once while it freezes.
func (b *COFFGroupBuilder) setTailSlop(size, virtualSize uint32) error {
	if !b.resolved {
		return &NotReadyError{b.entity(), "set tail slop"}
	}
	if b.tailSlopSet {
		return &InvariantError{b.entity(), fmt.Sprintf("tail slop assigned twice (%#x/%#x, then %#x/%#x)",
			b.tailSlopSize, b.tailSlopVirtualSize, size, virtualSize)}
	}
	b.tailSlopSet = true
	b.tailSlopSize, b.tailSlopVirtualSize = size, virtualSize
	return nil
}

// finish produces the immutable view of the group.
func (b *COFFGroupBuilder) finish() (*COFFGroup, error) {
	if b.frozen != nil {
		return b.frozen, nil
	}
	if !b.resolved || !b.tailSlopSet {
		return nil, &NotReadyError{b.entity(), "finish"}
	}
	b.frozen = &COFFGroup{
		id:                  b.id,
		hdr:                 b.hdr,
		section:             b.section,
		size:                b.size,
		virtualSize:         b.virtualSize,
		tailSlopSize:        b.tailSlopSize,
		tailSlopVirtualSize: b.tailSlopVirtualSize,
	}
	return b.frozen, nil
}

// A COFFGroup is a frozen COFF group. It is immutable and safe for
// concurrent use.
type COFFGroup struct {
	id      COFFGroupID
	hdr     COFFGroupHeader
	section SectionID

	size, virtualSize                 uint32
	tailSlopSize, tailSlopVirtualSize uint32
}

// ID returns the group's ID within its Session.
func (g *COFFGroup) ID() COFFGroupID { return g.id }

// Name returns the group's name.
func (g *COFFGroup) Name() string { return g.hdr.Name }

// RVA returns the address at which the group starts.
func (g *COFFGroup) RVA() uint32 { return g.hdr.RVA }

// Characteristics returns the group's IMAGE_SCN_* flags.
func (g *COFFGroup) Characteristics() Characteristics { return g.hdr.Characteristics }

// Section returns the ID of the section containing the group. Resolve
// it with Session.Section.
func (g *COFFGroup) Section() SectionID { return g.section }

// Size returns the number of bytes the group occupies on disk. This is
// 0 for groups that contain only uninitialized data.
func (g *COFFGroup) Size() uint32 { return g.size }

// VirtualSize returns the number of bytes the group occupies in memory.
func (g *COFFGroup) VirtualSize() uint32 { return g.virtualSize }

// VirtualOnly reports whether the group occupies memory but not disk.
func (g *COFFGroup) VirtualOnly() bool { return g.size == 0 && g.virtualSize != 0 }

// TailSlopSize returns the on-disk padding between the end of this
// group and the next group, or the end of the section.
func (g *COFFGroup) TailSlopSize() uint32 { return g.tailSlopSize }

// TailSlopVirtualSize returns the in-memory padding between the end of
// this group and the next group, or the end of the section's padded
// extent.
func (g *COFFGroup) TailSlopVirtualSize() uint32 { return g.tailSlopVirtualSize }

// Range returns the in-memory extent of the group, excluding tail
// slop. The range is marked VirtualOnly if the group is.
func (g *COFFGroup) Range() rva.Range {
	r := rva.FromSize(g.hdr.RVA, g.virtualSize)
	r.VirtualOnly = g.VirtualOnly()
	return r
}

// Contains reports whether the size bytes at addr lie within the
// group, excluding tail slop.
func (g *COFFGroup) Contains(addr, size uint32) bool {
	return g.Range().ContainsSpan(addr, size)
}

func (g *COFFGroup) String() string {
	return fmt.Sprintf("%s [%#x,+%#x)", g.hdr.Name, g.hdr.RVA, g.virtualSize)
}
