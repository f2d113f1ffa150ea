// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"
	"sort"

	"github.com/aclements/go-binlayout/rva"
)

// A SourceFileBuilder is a source file under construction. Unlike a
// compiland, a source file (typically a header) may contribute code to
// many compilands, so its contributions are also keyed by compiland.
type SourceFileBuilder struct {
	owner
	id         SourceFileID
	name       string
	compilands map[uint32]*ContributionBuilder

	frozen    *SourceFile
	freezeErr error
}

// NewSourceFile constructs a source file and records it in s. With
// debug checks enabled, constructing two source files with the same
// name fails with an ExistsError.
func (s *Session) NewSourceFile(name string) (*SourceFileBuilder, error) {
	b := &SourceFileBuilder{
		owner:      newOwner(s, "source file "+name),
		name:       name,
		compilands: make(map[uint32]*ContributionBuilder),
	}
	id, err := s.recordSourceFile(b)
	if err != nil {
		return nil, err
	}
	b.id = id
	return b, nil
}

// ID returns the source file's ID within its Session.
func (b *SourceFileBuilder) ID() SourceFileID { return b.id }

// Name returns the source file's path.
func (b *SourceFileBuilder) Name() string { return b.name }

func (b *SourceFileBuilder) isFrozen() bool {
	return b.frozen != nil || b.freezeErr != nil
}

// ContributionForSection returns the source file's contribution to
// section id, creating it if necessary. It fails with a FrozenError
// after Freeze.
func (b *SourceFileBuilder) ContributionForSection(id SectionID) (*ContributionBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add section contribution"}
	}
	return b.sectionContribution(id)
}

// ContributionForCOFFGroup returns the source file's contribution to
// COFF group id, creating it if necessary. It fails with a FrozenError
// after Freeze.
func (b *SourceFileBuilder) ContributionForCOFFGroup(id COFFGroupID) (*ContributionBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add COFF group contribution"}
	}
	return b.groupContribution(id)
}

// ContributionForCompiland returns the source file's contribution to
// the compiland with the given symbol index, creating it if necessary.
// The compiland must already exist in the Session.
func (b *SourceFileBuilder) ContributionForCompiland(symIndex uint32) (*ContributionBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add compiland contribution"}
	}
	if c, ok := b.compilands[symIndex]; ok {
		return c, nil
	}
	cb, ok := b.sess.compilands[symIndex]
	if !ok {
		return nil, &InvariantError{b.entity, fmt.Sprintf("unknown compiland with symbol index %d", symIndex)}
	}
	c := NewContribution(b.entity + " in " + cb.name)
	b.compilands[symIndex] = c
	return c, nil
}

// AddRange attributes r to the source file within compiland symIndex,
// section sec, and COFF group grp.
func (b *SourceFileBuilder) AddRange(symIndex uint32, sec SectionID, grp COFFGroupID, r rva.Range) error {
	cc, err := b.ContributionForCompiland(symIndex)
	if err != nil {
		return err
	}
	sc, err := b.ContributionForSection(sec)
	if err != nil {
		return err
	}
	gc, err := b.ContributionForCOFFGroup(grp)
	if err != nil {
		return err
	}
	for _, c := range []*ContributionBuilder{cc, sc, gc} {
		if err := c.AddRange(r); err != nil {
			return err
		}
	}
	return nil
}

// Freeze freezes every contribution of the source file and returns the
// immutable SourceFile. Freeze is idempotent.
//
// With debug checks enabled, the compiland-keyed total may differ from
// the section-keyed total by at most one word per compiland. Ranges
// that are disjoint within each compiland can abut once pooled into a
// section and coalesce there, so the two totals need not match
// exactly. The bound is a heuristic, not a proven limit.
func (b *SourceFileBuilder) Freeze() (*SourceFile, error) {
	if !b.isFrozen() {
		b.frozen, b.freezeErr = b.freeze()
	}
	return b.frozen, b.freezeErr
}

func (b *SourceFileBuilder) freeze() (*SourceFile, error) {
	fz, err := b.owner.freeze()
	if err != nil {
		return nil, err
	}
	sf := &SourceFile{
		contributions: fz,
		id:            b.id,
		name:          b.name,
		compilands:    make(map[uint32]*Contribution, len(b.compilands)),
	}
	var size, virtualSize uint64
	for symIndex, c := range b.compilands {
		f := c.Freeze()
		sf.compilands[symIndex] = f
		size += uint64(f.Size())
		virtualSize += uint64(f.VirtualSize())
	}
	if debugChecks && len(b.compilands) > 0 {
		slop := uint64(b.sess.bytesPerWord) * uint64(len(b.compilands))
		if absDiff(size, uint64(fz.size)) > slop || absDiff(virtualSize, uint64(fz.virtualSize)) > slop {
			return nil, &InvariantError{b.entity, fmt.Sprintf("compiland contributions total %#x/%#x bytes, section contributions total %#x/%#x, beyond slop %#x",
				size, virtualSize, fz.size, fz.virtualSize, slop)}
		}
	}
	return sf, nil
}

func absDiff(a, b uint64) uint64 {
	if a < b {
		return b - a
	}
	return a - b
}

// A SourceFile is a frozen source file. It is immutable and safe for
// concurrent use.
type SourceFile struct {
	contributions
	id         SourceFileID
	name       string
	compilands map[uint32]*Contribution
}

// ID returns the source file's ID within its Session.
func (f *SourceFile) ID() SourceFileID { return f.id }

// Name returns the source file's path.
func (f *SourceFile) Name() string { return f.name }

// CompilandContributions returns the source file's contributions keyed
// by compiland symbol index. The caller must not modify the returned
// map.
func (f *SourceFile) CompilandContributions() map[uint32]*Contribution {
	return f.compilands
}

// Compilands returns the symbol indexes of the compilands the source
// file contributes to, in ascending order.
func (f *SourceFile) Compilands() []uint32 {
	out := make([]uint32, 0, len(f.compilands))
	for symIndex := range f.compilands {
		out = append(out, symIndex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *SourceFile) String() string { return f.name }
