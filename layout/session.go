// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout models the physical and virtual layout of a linked PE
// binary: its sections, the COFF groups within them, and the
// compilands, libraries, and source files that contribute bytes to
// them.
//
// Every entity is built in two phases. A builder type (SectionBuilder,
// CompilandBuilder, and so on) accepts raw data; its Freeze method
// validates and aggregates that data and returns an immutable view
// (Section, Compiland, ...). Views are safe for concurrent use.
//
// All builders for one binary are created through a Session, which
// records every entity constructed, hands out stable IDs that stand in
// for back-references, and indexes symbols by RVA. Construction must
// happen on a single goroutine, in dependency order: COFF groups and
// sections first, then compilands and libraries, then source files.
package layout

import (
	"fmt"
	"sort"

	"github.com/aclements/go-binlayout/rva"
	"github.com/aclements/go-binlayout/symtab"
)

// SectionID identifies a section within a Session. IDs are dense and
// assigned in construction order starting at 0.
type SectionID int

// COFFGroupID identifies a COFF group within a Session.
type COFFGroupID int

// LibraryID identifies a library within a Session.
type LibraryID int

// SourceFileID identifies a source file within a Session.
type SourceFileID int

// NoSection is a placeholder SectionID meaning "no section".
const NoSection SectionID = -1

// A Session records every entity constructed for one binary and
// answers lookups across them. The zero Session is not usable; call
// NewSession.
//
// A Session is not safe for concurrent mutation. Once construction is
// complete, its lookup methods may be called concurrently.
type Session struct {
	bytesPerWord uint32

	sections    []*SectionBuilder
	groups      []*COFFGroupBuilder
	libraries   []*LibraryBuilder
	sourceFiles []*SourceFileBuilder
	compilands  map[uint32]*CompilandBuilder

	// sectionsByRVA and groupsByRVA hold the frozen entities, sorted by
	// RVA. They are populated as sections freeze.
	sectionsByRVA []*Section
	groupsByRVA   []*COFFGroup

	// Duplicate detection indexes. Only maintained with debugChecks.
	sectionNames    map[string]SectionID
	sectionRVAs     map[uint32]SectionID
	groupNames      map[string]COFFGroupID
	libraryNames    map[string]LibraryID
	sourceFileNames map[string]SourceFileID

	symbols symtab.Table
}

// NewSession returns an empty Session for a binary whose architecture
// has the given word size in bytes. The word size bounds the
// reconciliation slop allowed for source files.
func NewSession(bytesPerWord int) *Session {
	if bytesPerWord <= 0 {
		panic(fmt.Sprintf("bad word size %d", bytesPerWord))
	}
	s := &Session{bytesPerWord: uint32(bytesPerWord)}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.sections = nil
	s.groups = nil
	s.libraries = nil
	s.sourceFiles = nil
	s.compilands = make(map[uint32]*CompilandBuilder)
	s.sectionsByRVA = nil
	s.groupsByRVA = nil
	s.sectionNames = make(map[string]SectionID)
	s.sectionRVAs = make(map[uint32]SectionID)
	s.groupNames = make(map[string]COFFGroupID)
	s.libraryNames = make(map[string]LibraryID)
	s.sourceFileNames = make(map[string]SourceFileID)
	s.symbols = symtab.Table{}
}

// Close discards every entity and index recorded in s. s may be reused
// afterward as if newly created.
func (s *Session) Close() {
	s.reset()
}

// BytesPerWord returns the word size s was created with.
func (s *Session) BytesPerWord() int {
	return int(s.bytesPerWord)
}

func (s *Session) recordSection(b *SectionBuilder) (SectionID, error) {
	id := SectionID(len(s.sections))
	if debugChecks {
		if _, ok := s.sectionNames[b.hdr.Name]; ok {
			return NoSection, &ExistsError{"section", b.hdr.Name}
		}
		if other, ok := s.sectionRVAs[b.hdr.RVA]; ok {
			return NoSection, &ExistsError{"section", fmt.Sprintf("at RVA %#x (%s and %s)", b.hdr.RVA, s.sections[other].hdr.Name, b.hdr.Name)}
		}
		s.sectionNames[b.hdr.Name] = id
		s.sectionRVAs[b.hdr.RVA] = id
	}
	s.sections = append(s.sections, b)
	return id, nil
}

func (s *Session) recordCOFFGroup(b *COFFGroupBuilder) (COFFGroupID, error) {
	id := COFFGroupID(len(s.groups))
	if debugChecks {
		// COFF groups are only checked by name: an empty group
		// legitimately shares its RVA with the group that follows it.
		if _, ok := s.groupNames[b.hdr.Name]; ok {
			return -1, &ExistsError{"COFF group", b.hdr.Name}
		}
		s.groupNames[b.hdr.Name] = id
	}
	s.groups = append(s.groups, b)
	return id, nil
}

func (s *Session) recordLibrary(b *LibraryBuilder) (LibraryID, error) {
	id := LibraryID(len(s.libraries))
	if debugChecks {
		if _, ok := s.libraryNames[b.name]; ok {
			return -1, &ExistsError{"library", b.name}
		}
		s.libraryNames[b.name] = id
	}
	s.libraries = append(s.libraries, b)
	return id, nil
}

func (s *Session) recordCompiland(b *CompilandBuilder) error {
	// Compilands are keyed by symbol index in every build: later
	// lookups depend on the key being unique.
	if other, ok := s.compilands[b.symIndex]; ok {
		return &ExistsError{"compiland", fmt.Sprintf("with symbol index %d (%s and %s)", b.symIndex, other.name, b.name)}
	}
	s.compilands[b.symIndex] = b
	return nil
}

func (s *Session) recordSourceFile(b *SourceFileBuilder) (SourceFileID, error) {
	id := SourceFileID(len(s.sourceFiles))
	if debugChecks {
		if _, ok := s.sourceFileNames[b.name]; ok {
			return -1, &ExistsError{"source file", b.name}
		}
		s.sourceFileNames[b.name] = id
	}
	s.sourceFiles = append(s.sourceFiles, b)
	return id, nil
}

// recordSectionFrozen indexes a newly frozen section and its COFF
// groups by RVA.
func (s *Session) recordSectionFrozen(sec *Section) {
	i := sort.Search(len(s.sectionsByRVA), func(i int) bool {
		return sec.hdr.RVA < s.sectionsByRVA[i].hdr.RVA
	})
	s.sectionsByRVA = append(s.sectionsByRVA, nil)
	copy(s.sectionsByRVA[i+1:], s.sectionsByRVA[i:])
	s.sectionsByRVA[i] = sec

	s.groupsByRVA = append(s.groupsByRVA, sec.groups...)
	sort.SliceStable(s.groupsByRVA, func(i, j int) bool {
		gi, gj := s.groupsByRVA[i], s.groupsByRVA[j]
		if gi.hdr.RVA != gj.hdr.RVA {
			return gi.hdr.RVA < gj.hdr.RVA
		}
		// Empty groups sort before the group they share an RVA with.
		return gi.virtualSize < gj.virtualSize
	})
}

// Section returns the frozen section with the given ID. It fails with
// a NotReadyError if the section has not been frozen yet. It panics if
// id is out of range.
func (s *Session) Section(id SectionID) (*Section, error) {
	b := s.sections[id]
	if b.frozen == nil {
		return nil, &NotReadyError{"section " + b.hdr.Name, "Section"}
	}
	return b.frozen, nil
}

// Sections returns all frozen sections in RVA order. The caller must
// not modify the returned slice.
func (s *Session) Sections() []*Section {
	return s.sectionsByRVA
}

// COFFGroup returns the frozen COFF group with the given ID. It fails
// with a NotReadyError if the group's section has not been frozen yet.
// It panics if id is out of range.
func (s *Session) COFFGroup(id COFFGroupID) (*COFFGroup, error) {
	b := s.groups[id]
	if b.frozen == nil {
		return nil, &NotReadyError{"COFF group " + b.hdr.Name, "COFFGroup"}
	}
	return b.frozen, nil
}

// COFFGroups returns all frozen COFF groups in RVA order. The caller
// must not modify the returned slice.
func (s *Session) COFFGroups() []*COFFGroup {
	return s.groupsByRVA
}

// Compiland returns the frozen compiland with the given symbol index.
// It fails with a NotReadyError if the compiland exists but has not
// been frozen, and returns nil, nil if no such compiland was
// constructed.
func (s *Session) Compiland(symIndex uint32) (*Compiland, error) {
	b, ok := s.compilands[symIndex]
	if !ok {
		return nil, nil
	}
	if b.frozen == nil {
		return nil, &NotReadyError{"compiland " + b.name, "Compiland"}
	}
	return b.frozen, nil
}

// Library returns the frozen library with the given ID. It fails with
// a NotReadyError if the library has not been frozen yet.
func (s *Session) Library(id LibraryID) (*Library, error) {
	b := s.libraries[id]
	if b.frozen == nil {
		return nil, &NotReadyError{"library " + b.name, "Library"}
	}
	return b.frozen, nil
}

// SourceFile returns the frozen source file with the given ID. It
// fails with a NotReadyError if the source file has not been frozen
// yet.
func (s *Session) SourceFile(id SourceFileID) (*SourceFile, error) {
	b := s.sourceFiles[id]
	if b.frozen == nil {
		return nil, &NotReadyError{"source file " + b.name, "SourceFile"}
	}
	return b.frozen, nil
}

// SectionContaining returns the frozen section whose in-memory extent
// (including trailing alignment padding) contains addr, or nil.
func (s *Session) SectionContaining(addr uint32) *Section {
	i := sort.Search(len(s.sectionsByRVA), func(i int) bool {
		return addr < s.sectionsByRVA[i].hdr.RVA
	}) - 1
	if i < 0 {
		return nil
	}
	sec := s.sectionsByRVA[i]
	if !sec.paddedRange().Contains(addr) {
		return nil
	}
	return sec
}

// COFFGroupContaining returns the frozen, non-empty COFF group whose
// in-memory extent contains addr, or nil. Tail slop is not considered
// part of a group.
func (s *Session) COFFGroupContaining(addr uint32) *COFFGroup {
	i := sort.Search(len(s.groupsByRVA), func(i int) bool {
		return addr < s.groupsByRVA[i].hdr.RVA
	}) - 1
	if i < 0 {
		return nil
	}
	g := s.groupsByRVA[i]
	if !g.Range().Contains(addr) {
		return nil
	}
	return g
}

// COFFGroupsOverlapping returns the frozen COFF groups whose in-memory
// extents overlap r, in RVA order.
func (s *Session) COFFGroupsOverlapping(r rva.Range) []*COFFGroup {
	// Group extents do not overlap one another, so their ends are
	// sorted like their starts.
	i := sort.Search(len(s.groupsByRVA), func(i int) bool {
		return r.Start < s.groupsByRVA[i].Range().End
	})
	var out []*COFFGroup
	for ; i < len(s.groupsByRVA); i++ {
		g := s.groupsByRVA[i]
		if g.hdr.RVA >= r.End {
			break
		}
		if g.Range().Overlaps(r) {
			out = append(out, g)
		}
	}
	return out
}

// InitializeRVARanges builds the symbol lookup table from an unsorted
// map of RVA to symbol-index IDs and the set of RVAs that carry a
// label. It should be called once, after all sections are frozen;
// calling it again replaces the table. Lookups before initialization
// find nothing.
func (s *Session) InitializeRVARanges(symbolIndicesByRVA map[uint32][]uint32, labelRVAs []uint32) {
	s.symbols = symtab.NewTable(symbolIndicesByRVA, labelRVAs)
}

// TryFindSymbolIndicesInRange returns the table entries whose RVA
// falls within r, along with the inclusive bounds [min, max] of those
// entries in the sorted table. ok is false if no recorded RVA falls
// within r. An empty r is treated as a point query at r.Start.
func (s *Session) TryFindSymbolIndicesInRange(r rva.Range) (entries []symtab.Entry, min, max int, ok bool) {
	return s.symbols.InRange(r.Start, r.End)
}

// LabelExistsAt reports whether a label was recorded at addr.
func (s *Session) LabelExistsAt(addr uint32) bool {
	return s.symbols.Label(addr)
}
