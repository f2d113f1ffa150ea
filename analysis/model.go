// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analysis

import (
	"context"
	"sort"

	"github.com/aclements/go-binlayout/input"
	"github.com/aclements/go-binlayout/internal/imap"
	"github.com/aclements/go-binlayout/layout"
	"github.com/aclements/go-binlayout/rva"
	"github.com/aclements/go-binlayout/symtab"
	"golang.org/x/sync/errgroup"
)

// A Model is the frozen layout of one binary. It is immutable and safe
// for concurrent queries until Close.
type Model struct {
	sess        *layout.Session
	libraries   []*layout.Library
	compilands  []*layout.Compiland
	sourceFiles []*layout.SourceFile
	symNames    map[uint32]string
	workers     int

	// symbols holds each named or unnamed symbol with a size running
	// to the next symbol RVA or the end of its section.
	symbols *symtab.Index
	symIdx  []uint32

	// byCompiland maps addresses to compilands.
	byCompiland imap.Map[*layout.Compiland]
}

func newModel(sess *layout.Session, in *input.Binary, opts Options, libs []*layout.Library, files []*layout.SourceFile) *Model {
	m := &Model{
		sess:        sess,
		libraries:   libs,
		sourceFiles: files,
		symNames:    make(map[uint32]string),
		workers:     max(opts.Workers, 1),
	}
	for _, s := range in.Symbols {
		if s.Name != "" {
			m.symNames[s.Index] = s.Name
		}
	}
	m.indexSymbols(in.Symbols)
	for _, lib := range libs {
		m.compilands = append(m.compilands, lib.Compilands()...)
	}
	sort.Slice(m.compilands, func(i, j int) bool {
		return m.compilands[i].SymIndex() < m.compilands[j].SymIndex()
	})

	for _, c := range m.compilands {
		var rs []rva.Range
		for _, contrib := range c.SectionContributions() {
			rs = append(rs, contrib.Ranges()...)
		}
		for _, r := range rva.Coalesce(rs, opts.MergeTolerance).Ranges() {
			m.byCompiland.Insert(imap.Interval{Low: uint64(r.Start), High: uint64(r.End)}, c)
		}
	}
	return m
}

func (m *Model) indexSymbols(in []input.Symbol) {
	in = append([]input.Symbol(nil), in...)
	sort.Slice(in, func(i, j int) bool {
		if in[i].RVA != in[j].RVA {
			return in[i].RVA < in[j].RVA
		}
		return in[i].Index < in[j].Index
	})
	syms := make([]symtab.Sym, len(in))
	m.symIdx = make([]uint32, len(in))
	for i, s := range in {
		m.symIdx[i] = s.Index
		syms[i] = symtab.Sym{Name: s.Name, RVA: s.RVA, Local: s.Name == ""}
		sec := m.sess.SectionContaining(s.RVA)
		if sec == nil {
			continue
		}
		end := uint64(sec.RVA()) + uint64(sec.VirtualSizeIncludingPadding())
		for _, next := range in[i+1:] {
			if next.RVA != s.RVA {
				end = min(end, uint64(next.RVA))
				break
			}
		}
		syms[i].Size = uint32(end - uint64(s.RVA))
	}
	m.symbols = symtab.NewIndex(syms)
}

// Close releases the model's session. The Model must not be used
// afterwards.
func (m *Model) Close() {
	m.sess.Close()
}

// Session returns the session holding the frozen entities.
func (m *Model) Session() *layout.Session { return m.sess }

// Sections returns the frozen sections ordered by RVA.
func (m *Model) Sections() []*layout.Section { return m.sess.Sections() }

// Libraries returns the frozen libraries in construction order.
func (m *Model) Libraries() []*layout.Library { return m.libraries }

// Compilands returns the frozen compilands ordered by symbol index.
func (m *Model) Compilands() []*layout.Compiland { return m.compilands }

// SourceFiles returns the frozen source files in construction order.
func (m *Model) SourceFiles() []*layout.SourceFile { return m.sourceFiles }

// SectionAt returns the section whose padded extent contains addr.
func (m *Model) SectionAt(addr uint32) *layout.Section {
	return m.sess.SectionContaining(addr)
}

// COFFGroupAt returns the COFF group containing addr. Tail slop belongs
// to no group.
func (m *Model) COFFGroupAt(addr uint32) *layout.COFFGroup {
	return m.sess.COFFGroupContaining(addr)
}

// CompilandAt returns the compiland that contributed addr, or nil.
// Gaps up to the merge tolerance between one compiland's ranges are
// attributed to it.
func (m *Model) CompilandAt(addr uint32) *layout.Compiland {
	_, c, _ := m.byCompiland.Find(uint64(addr))
	return c
}

// LibraryAt returns the library of the compiland at addr, or nil.
func (m *Model) LibraryAt(addr uint32) *layout.Library {
	c := m.CompilandAt(addr)
	if c == nil {
		return nil
	}
	lib, _ := m.sess.Library(c.Library())
	return lib
}

// SourceFilesAt returns the source files that contributed addr.
func (m *Model) SourceFilesAt(addr uint32) []*layout.SourceFile {
	var out []*layout.SourceFile
	for _, f := range m.sourceFiles {
		if f.Contains(addr, 1) {
			out = append(out, f)
		}
	}
	return out
}

// A Symbol is a symbol index recorded at an RVA.
type Symbol struct {
	RVA   uint32
	Index uint32
	Name  string
}

// Symbols returns the symbols whose RVA falls in r, in address order.
// An empty r is a point query at r.Start.
func (m *Model) Symbols(r rva.Range) []Symbol {
	entries, _, _, ok := m.sess.TryFindSymbolIndicesInRange(r)
	if !ok {
		return nil
	}
	var out []Symbol
	for _, e := range entries {
		for _, id := range e.IDs {
			out = append(out, Symbol{RVA: e.RVA, Index: id, Name: m.symNames[id]})
		}
	}
	return out
}

func (m *Model) symbol(id symtab.SymID) (Symbol, bool) {
	if id == symtab.NoSym {
		return Symbol{}, false
	}
	s := m.symbols.Syms()[id]
	return Symbol{RVA: s.RVA, Index: m.symIdx[id], Name: s.Name}, true
}

// SymbolAt returns the symbol whose extent contains addr. A symbol
// extends to the next symbol RVA or the end of its section. Among
// symbols recorded at one RVA the lowest index wins.
func (m *Model) SymbolAt(addr uint32) (Symbol, bool) {
	return m.symbol(m.symbols.Addr(addr))
}

// SymbolNamed returns the named symbol. If several share the name, the
// one with the highest RVA wins.
func (m *Model) SymbolNamed(name string) (Symbol, bool) {
	return m.symbol(m.symbols.Name(name))
}

// An Attribution describes the owners of a range. Owners are found at
// the range's start.
type Attribution struct {
	Range       rva.Range
	Section     *layout.Section
	COFFGroup   *layout.COFFGroup
	Compiland   *layout.Compiland
	Library     *layout.Library
	SourceFiles []*layout.SourceFile
	Symbols     []Symbol

	// Enclosing is the symbol whose extent contains the range's
	// start, or nil.
	Enclosing *Symbol

	// Label reports whether a label was recorded at the range's
	// start.
	Label bool
}

// Attribute returns the owners of r.
func (m *Model) Attribute(r rva.Range) Attribution {
	at := Attribution{
		Range:       r,
		Section:     m.SectionAt(r.Start),
		COFFGroup:   m.COFFGroupAt(r.Start),
		Compiland:   m.CompilandAt(r.Start),
		Library:     m.LibraryAt(r.Start),
		SourceFiles: m.SourceFilesAt(r.Start),
		Symbols:     m.Symbols(r),
		Label:       m.sess.LabelExistsAt(r.Start),
	}
	if s, ok := m.SymbolAt(r.Start); ok {
		at.Enclosing = &s
	}
	return at
}

// AttributeAll attributes each range in rs, in parallel. Results are in
// the order of rs. It stops early if ctx is canceled.
func (m *Model) AttributeAll(ctx context.Context, rs []rva.Range) ([]Attribution, error) {
	out := make([]Attribution, len(rs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, r := range rs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = m.Attribute(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
