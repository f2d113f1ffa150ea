// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"fmt"
	"sort"
)

// A LibraryBuilder is a static library (or import library) under
// construction. Its compilands are created through NewCompiland.
type LibraryBuilder struct {
	owner
	id         LibraryID
	name       string
	compilands []*CompilandBuilder

	// direct is set if ranges were attributed to the library itself
	// rather than through a compiland.
	direct bool

	frozen    *Library
	freezeErr error
}

// NewLibrary constructs a library and records it in s. With debug
// checks enabled, constructing two libraries with the same name fails
// with an ExistsError.
func (s *Session) NewLibrary(name string) (*LibraryBuilder, error) {
	b := &LibraryBuilder{owner: newOwner(s, "library "+name), name: name}
	id, err := s.recordLibrary(b)
	if err != nil {
		return nil, err
	}
	b.id = id
	return b, nil
}

// ID returns the library's ID within its Session.
func (b *LibraryBuilder) ID() LibraryID { return b.id }

// Name returns the library's name.
func (b *LibraryBuilder) Name() string { return b.name }

func (b *LibraryBuilder) isFrozen() bool {
	return b.frozen != nil || b.freezeErr != nil
}

// NewCompiland constructs a compiland belonging to the library.
// symIndex must be unique across the Session; a duplicate fails with an
// ExistsError in every build. It fails with a FrozenError after Freeze.
func (b *LibraryBuilder) NewCompiland(name string, symIndex uint32, cmdline CommandLine) (*CompilandBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add compiland " + name}
	}
	c := &CompilandBuilder{
		owner:    newOwner(b.sess, "compiland "+name),
		lib:      b.id,
		name:     name,
		symIndex: symIndex,
		cmdline:  cmdline,
	}
	if err := b.sess.recordCompiland(c); err != nil {
		return nil, err
	}
	b.compilands = append(b.compilands, c)
	return c, nil
}

// ContributionForSection returns the library's own contribution to
// section id, creating it if necessary. Freeze adds every compiland's
// ranges to it; callers need this only for bytes that belong to the
// library but to none of its compilands. It fails with a FrozenError
// after Freeze.
func (b *LibraryBuilder) ContributionForSection(id SectionID) (*ContributionBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add section contribution"}
	}
	b.direct = true
	return b.sectionContribution(id)
}

// ContributionForCOFFGroup is like ContributionForSection, for COFF
// group id.
func (b *LibraryBuilder) ContributionForCOFFGroup(id COFFGroupID) (*ContributionBuilder, error) {
	if b.isFrozen() {
		return nil, &FrozenError{b.entity, "add COFF group contribution"}
	}
	b.direct = true
	return b.groupContribution(id)
}

// Freeze freezes every compiland of the library, rolls their
// contributions up into the library's, and returns the immutable
// Library. Freeze is idempotent.
func (b *LibraryBuilder) Freeze() (*Library, error) {
	if !b.isFrozen() {
		b.frozen, b.freezeErr = b.freeze()
	}
	return b.frozen, b.freezeErr
}

func (b *LibraryBuilder) freeze() (*Library, error) {
	lib := &Library{id: b.id, name: b.name}
	var compilandSize uint64
	for _, cb := range b.compilands {
		c, err := cb.Freeze()
		if err != nil {
			return nil, err
		}
		lib.compilands = append(lib.compilands, c)
		compilandSize += uint64(c.Size())

		for id, contrib := range c.sections {
			lc, err := b.sectionContribution(id)
			if err != nil {
				return nil, err
			}
			if err := lc.AddRanges(contrib.Ranges()); err != nil {
				return nil, err
			}
		}
		for id, contrib := range c.groups {
			lc, err := b.groupContribution(id)
			if err != nil {
				return nil, err
			}
			if err := lc.AddRanges(contrib.Ranges()); err != nil {
				return nil, err
			}
		}
	}
	sort.Slice(lib.compilands, func(i, j int) bool {
		return lib.compilands[i].symIndex < lib.compilands[j].symIndex
	})

	fz, err := b.owner.freeze()
	if err != nil {
		return nil, err
	}
	lib.contributions = fz
	if debugChecks && !b.direct && uint64(fz.size) != compilandSize {
		return nil, &InvariantError{b.entity, fmt.Sprintf("size %#x differs from its compilands' total %#x", fz.size, compilandSize)}
	}
	return lib, nil
}

// A Library is a frozen library. It is immutable and safe for
// concurrent use.
type Library struct {
	contributions
	id         LibraryID
	name       string
	compilands []*Compiland // Sorted by symbol index
}

// ID returns the library's ID within its Session.
func (l *Library) ID() LibraryID { return l.id }

// Name returns the library's name.
func (l *Library) Name() string { return l.name }

// Compilands returns the library's compilands ordered by symbol index.
// The caller must not modify the returned slice.
func (l *Library) Compilands() []*Compiland { return l.compilands }

func (l *Library) String() string { return l.name }
