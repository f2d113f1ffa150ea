// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"strings"

	"github.com/aclements/go-binlayout/rva"
)

// A CommandLine records how a compiland was built.
type CommandLine struct {
	// Tool is the compiler or assembler that produced the object,
	// such as "cl.exe" or "GNU C17".
	Tool string

	FrontEndVersion string
	BackEndVersion  string

	// Flags are the options passed to Tool, in order.
	Flags []string
}

func (c CommandLine) String() string {
	parts := append([]string{c.Tool}, c.Flags...)
	return strings.Join(parts, " ")
}

// A CompilandBuilder is a compiland (one object file linked into the
// binary) under construction. Ranges are added per section and per
// COFF group; Freeze sums them.
type CompilandBuilder struct {
	owner
	lib      LibraryID
	name     string
	symIndex uint32
	cmdline  CommandLine

	frozen    *Compiland
	freezeErr error
}

// Name returns the compiland's name, usually the path of its object
// file.
func (b *CompilandBuilder) Name() string { return b.name }

// SymIndex returns the symbol index that identifies the compiland in
// its Session.
func (b *CompilandBuilder) SymIndex() uint32 { return b.symIndex }

func (b *CompilandBuilder) isFrozen() bool {
	return b.frozen != nil || b.freezeErr != nil
}

// ContributionForSection returns the compiland's contribution to
// section id, creating it if necessary. It fails with a FrozenError
// after Freeze.
func (b *CompilandBuilder) ContributionForSection(id SectionID) (*ContributionBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add section contribution"}
	}
	return b.sectionContribution(id)
}

// ContributionForCOFFGroup returns the compiland's contribution to COFF
// group id, creating it if necessary. It fails with a FrozenError after
// Freeze.
func (b *CompilandBuilder) ContributionForCOFFGroup(id COFFGroupID) (*ContributionBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add COFF group contribution"}
	}
	return b.groupContribution(id)
}

// AddRange attributes r to the compiland within both section sec and
// COFF group grp.
func (b *CompilandBuilder) AddRange(sec SectionID, grp COFFGroupID, r rva.Range) error {
	sc, err := b.ContributionForSection(sec)
	if err != nil {
		return err
	}
	gc, err := b.ContributionForCOFFGroup(grp)
	if err != nil {
		return err
	}
	if err := sc.AddRange(r); err != nil {
		return err
	}
	return gc.AddRange(r)
}

// ContainsBeforeFreeze reports whether addr lies in any range added to
// the compiland so far.
//
// It reads unfrozen state and is only meaningful once every raw range
// of the compiland has been added; callers must guarantee that.
func (b *CompilandBuilder) ContainsBeforeFreeze(addr uint32) bool {
	for _, c := range b.sections {
		for _, r := range c.RangesBeforeFreeze() {
			if r.Contains(addr) {
				return true
			}
		}
	}
	return false
}

// Freeze freezes every contribution of the compiland and returns the
// immutable Compiland. Freeze is idempotent.
func (b *CompilandBuilder) Freeze() (*Compiland, error) {
	if !b.isFrozen() {
		fz, err := b.owner.freeze()
		if err != nil {
			b.freezeErr = err
		} else {
			b.frozen = &Compiland{
				contributions: fz,
				lib:           b.lib,
				name:          b.name,
				symIndex:      b.symIndex,
				cmdline:       b.cmdline,
			}
		}
	}
	return b.frozen, b.freezeErr
}

// A Compiland is a frozen compiland. It is immutable and safe for
// concurrent use.
type Compiland struct {
	contributions
	lib      LibraryID
	name     string
	symIndex uint32
	cmdline  CommandLine
}

// Name returns the compiland's name.
func (c *Compiland) Name() string { return c.name }

// SymIndex returns the symbol index that identifies the compiland.
func (c *Compiland) SymIndex() uint32 { return c.symIndex }

// Library returns the ID of the library the compiland was linked from.
func (c *Compiland) Library() LibraryID { return c.lib }

// CommandLine returns how the compiland was built.
func (c *Compiland) CommandLine() CommandLine { return c.cmdline }

func (c *Compiland) String() string { return c.name }
