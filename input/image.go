// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package input

import (
	"fmt"
	"sort"

	"github.com/aclements/go-binlayout/asm"
	"github.com/aclements/go-binlayout/dbg"
	"github.com/aclements/go-binlayout/layout"
	"github.com/aclements/go-binlayout/obj"
	"github.com/sirupsen/logrus"
)

// UnknownLibrary names the library of compilation units without a
// compilation directory.
const UnknownLibrary = "<unknown>"

// FromImage imports the contributions of a PE image. Sections come
// from the section table, with one COFF group covering each section's
// initialized data and a "$bss" group for its uninitialized tail.
// Compilands and source files come from d, which may be nil if the
// image has no DWARF. Each compilation unit is one compiland in the
// library named by its compilation directory; its symbol index is its
// 1-based position in the debug info. Labels are the branch targets in
// code sections plus the function table entries.
func FromImage(img *obj.Image, d *dbg.Data, log logrus.FieldLogger) (*Binary, error) {
	b := &Binary{
		Arch:             img.Arch.Name,
		BytesPerWord:     img.Arch.Layout.WordSize(),
		FileAlignment:    img.FileAlignment,
		SectionAlignment: img.SectionAlignment,
	}

	var labels []uint32
	for _, s := range img.Sections() {
		if s.Discardable() || s.RVA == 0 {
			log.WithField("section", s.Name).Debug("skipping non-loaded section")
			continue
		}
		b.Sections = append(b.Sections, importSection(b, s, log))

		if !s.Code() || s.RawSize == 0 {
			continue
		}
		data, err := s.Data(s.RVA, min(s.VirtualSize, s.RawSize))
		if err != nil {
			return nil, err
		}
		targets, err := asm.Labels(img.Arch, data.P, uint64(s.RVA))
		if err != nil {
			return nil, fmt.Errorf("disassembling %s: %w", s.Name, err)
		}
		for _, t := range targets {
			labels = append(labels, uint32(t))
		}
		log.WithFields(logrus.Fields{"section": s.Name, "labels": len(targets)}).Debug("found branch targets")
	}
	starts, err := img.FunctionStarts()
	if err != nil {
		return nil, err
	}
	labels = append(labels, starts...)
	b.Labels = dedup(labels)

	for i := obj.SymID(0); i < img.NumSyms(); i++ {
		sym := img.Sym(i)
		if sym.Section == nil || (sym.Kind != obj.SymText && sym.Kind != obj.SymData) {
			continue
		}
		b.Symbols = append(b.Symbols, Symbol{RVA: sym.Value, Index: uint32(i), Name: sym.Name})
	}

	if d == nil {
		log.Warn("image has no DWARF; compilands and source files are unknown")
		return b, nil
	}
	if err := importDWARF(b, img.ImageBase, d, log); err != nil {
		return nil, err
	}
	return b, nil
}

func importSection(b *Binary, s *obj.Section, log logrus.FieldLogger) Section {
	flags := layout.Characteristics(s.Characteristics)
	sec := Section{
		Name:        s.Name,
		RVA:         s.RVA,
		Size:        s.RawSize,
		VirtualSize: s.VirtualSize,
		Flags:       Characteristics(flags),
	}
	initSize := min(s.VirtualSize, s.RawSize)
	if initSize > 0 {
		sec.COFFGroups = append(sec.COFFGroups, COFFGroup{Name: s.Name, RVA: s.RVA, Size: initSize})
	}
	if s.VirtualSize > s.RawSize {
		if b.SectionAlignment < 4096 {
			// Below page alignment the loader maps the file directly,
			// so a group here could not be virtual-only and would
			// claim bytes the file does not have.
			log.WithField("section", s.Name).Warn("uninitialized tail with sub-page section alignment; not modeled")
			return sec
		}
		name := s.Name
		if initSize > 0 {
			name += "$bss"
		}
		bss := flags&^(layout.CntInitializedData|layout.CntCode) | layout.CntUninitializedData
		sec.COFFGroups = append(sec.COFFGroups, COFFGroup{
			Name:  name,
			RVA:   s.RVA + s.RawSize,
			Size:  s.VirtualSize - s.RawSize,
			Flags: Characteristics(bss),
		})
	}
	return sec
}

func importDWARF(b *Binary, imageBase uint64, d *dbg.Data, log logrus.FieldLogger) error {
	toRVA := func(lo, hi uint64) (Range, bool) {
		if lo < imageBase || hi <= lo || hi-imageBase > 1<<32 {
			return Range{}, false
		}
		return Range{RVA: uint32(lo - imageBase), Size: uint32(hi - lo)}, true
	}

	files := make(map[string]*SourceFile)
	for i, cu := range d.Units() {
		symIndex := uint32(i + 1)
		lib := cu.CompDir()
		if lib == "" {
			lib = UnknownLibrary
		}
		c := Compiland{
			Name:        cu.Name(),
			Library:     lib,
			SymIndex:    symIndex,
			CommandLine: cu.Producer(),
		}
		rs, err := d.Ranges(cu)
		if err != nil {
			return fmt.Errorf("compilation unit %s: %w", cu.Name(), err)
		}
		for _, r := range rs {
			if rr, ok := toRVA(r[0], r[1]); ok {
				c.Ranges = append(c.Ranges, rr)
			} else {
				log.WithFields(logrus.Fields{"compiland": c.Name, "low": r[0], "high": r[1]}).Warn("range outside image")
			}
		}
		sortRanges(c.Ranges)
		b.Compilands = append(b.Compilands, c)

		frs, err := d.FileRanges(cu)
		if err != nil {
			return fmt.Errorf("compilation unit %s: %w", cu.Name(), err)
		}
		for _, fr := range frs {
			rr, ok := toRVA(fr.Low, fr.High)
			if !ok {
				continue
			}
			rr.Compiland = symIndex
			f := files[fr.File]
			if f == nil {
				f = &SourceFile{Name: fr.File}
				files[fr.File] = f
			}
			f.Ranges = append(f.Ranges, rr)
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.SourceFiles = append(b.SourceFiles, *files[name])
	}
	log.WithFields(logrus.Fields{"compilands": len(b.Compilands), "sourceFiles": len(b.SourceFiles)}).Debug("imported DWARF")
	return nil
}

func dedup(xs []uint32) []uint32 {
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	out := xs[:0]
	for i, x := range xs {
		if i == 0 || x != xs[i-1] {
			out = append(out, x)
		}
	}
	return out
}
