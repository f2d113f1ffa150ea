// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package input describes the raw contributions of a linked binary:
// its sections and COFF groups, the address ranges each compiland and
// source file contributed, and the symbol indices and labels by RVA.
//
// A Binary is read from a YAML manifest with LoadManifest or imported
// from a PE image and its DWARF debug info with FromImage.
package input

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aclements/go-binlayout/arch"
	"github.com/aclements/go-binlayout/layout"
	"github.com/aclements/go-binlayout/rva"
	"gopkg.in/yaml.v3"
)

// A Binary is the decoded contribution stream of one linked image.
type Binary struct {
	// Arch is the architecture name, such as "amd64".
	Arch string `yaml:"arch"`

	// BytesPerWord overrides the word size derived from Arch if
	// non-zero.
	BytesPerWord int `yaml:"bytes_per_word,omitempty"`

	FileAlignment    uint32 `yaml:"file_alignment"`
	SectionAlignment uint32 `yaml:"section_alignment"`

	Sections    []Section    `yaml:"sections"`
	Compilands  []Compiland  `yaml:"compilands,omitempty"`
	SourceFiles []SourceFile `yaml:"source_files,omitempty"`
	Symbols     []Symbol     `yaml:"symbols,omitempty"`

	// Labels are the RVAs of code labels, such as branch targets.
	Labels []uint32 `yaml:"labels,omitempty"`
}

// A Section is one section header with the COFF groups it contains.
type Section struct {
	Name string `yaml:"name"`
	RVA  uint32 `yaml:"rva"`

	// Size is the on-disk size, a multiple of the file alignment.
	Size        uint32          `yaml:"size"`
	VirtualSize uint32          `yaml:"virtual_size"`
	Flags       Characteristics `yaml:"characteristics"`
	COFFGroups  []COFFGroup     `yaml:"coff_groups,omitempty"`
}

// A COFFGroup is a linker-reported COFF group. If Flags is zero, the
// group inherits its section's characteristics.
type COFFGroup struct {
	Name  string          `yaml:"name"`
	RVA   uint32          `yaml:"rva"`
	Size  uint32          `yaml:"size"`
	Flags Characteristics `yaml:"characteristics,omitempty"`
}

// A Compiland is one object file linked into the binary.
type Compiland struct {
	Name        string  `yaml:"name"`
	Library     string  `yaml:"library"`
	SymIndex    uint32  `yaml:"sym_index"`
	CommandLine string  `yaml:"command_line,omitempty"`
	Ranges      []Range `yaml:"ranges,omitempty"`
}

// A SourceFile lists the ranges a source file contributed, each
// attributed to a compiland by symbol index.
type SourceFile struct {
	Name   string  `yaml:"name"`
	Ranges []Range `yaml:"ranges"`
}

// A Range is a raw address range. Compiland is only meaningful for
// source file ranges: it is the symbol index of the compiland the
// range belongs to, or 0 to attribute the range to whichever
// compiland contains it.
type Range struct {
	RVA       uint32 `yaml:"rva"`
	Size      uint32 `yaml:"size"`
	Compiland uint32 `yaml:"compiland,omitempty"`
}

// A Symbol associates a symbol index with an RVA.
type Symbol struct {
	RVA   uint32 `yaml:"rva"`
	Index uint32 `yaml:"index"`
	Name  string `yaml:"name,omitempty"`
}

// WordSize returns the word size used for the source file slop
// tolerance.
func (b *Binary) WordSize() (int, error) {
	if b.BytesPerWord > 0 {
		return b.BytesPerWord, nil
	}
	a := arch.ByName(b.Arch)
	if a == nil {
		return 0, fmt.Errorf("unknown architecture %q and no bytes_per_word", b.Arch)
	}
	return a.Layout.WordSize(), nil
}

// SymbolIndicesByRVA groups the symbol indices of b by RVA.
func (b *Binary) SymbolIndicesByRVA() map[uint32][]uint32 {
	m := make(map[uint32][]uint32)
	for _, s := range b.Symbols {
		m[s.RVA] = append(m[s.RVA], s.Index)
	}
	return m
}

// Validate checks the structural consistency of b that the layout
// package does not: names are set, every range fits in the 32-bit
// address space, compiland symbol indices are non-zero, and every
// source file range names a listed compiland.
func (b *Binary) Validate() error {
	if _, err := b.WordSize(); err != nil {
		return err
	}
	for i, s := range b.Sections {
		if s.Name == "" {
			return fmt.Errorf("section %d has no name", i)
		}
		if !rva.Fits(s.RVA, max(s.Size, s.VirtualSize)) {
			return fmt.Errorf("section %s: %s", s.Name, overflow(s.RVA, max(s.Size, s.VirtualSize)))
		}
		for j, g := range s.COFFGroups {
			if g.Name == "" {
				return fmt.Errorf("section %s: COFF group %d has no name", s.Name, j)
			}
			if !rva.Fits(g.RVA, g.Size) {
				return fmt.Errorf("section %s: COFF group %s: %s", s.Name, g.Name, overflow(g.RVA, g.Size))
			}
		}
	}
	compilands := make(map[uint32]bool)
	for i, c := range b.Compilands {
		if c.Name == "" {
			return fmt.Errorf("compiland %d has no name", i)
		}
		if c.SymIndex == 0 {
			return fmt.Errorf("compiland %s: symbol index 0 is reserved", c.Name)
		}
		compilands[c.SymIndex] = true
		for _, r := range c.Ranges {
			if !rva.Fits(r.RVA, r.Size) {
				return fmt.Errorf("compiland %s: %s", c.Name, overflow(r.RVA, r.Size))
			}
		}
	}
	for _, f := range b.SourceFiles {
		for _, r := range f.Ranges {
			if !rva.Fits(r.RVA, r.Size) {
				return fmt.Errorf("source file %s: %s", f.Name, overflow(r.RVA, r.Size))
			}
			if r.Compiland != 0 && !compilands[r.Compiland] {
				return fmt.Errorf("source file %s: range at %#x names unknown compiland %d", f.Name, r.RVA, r.Compiland)
			}
		}
	}
	return nil
}

func overflow(start, size uint32) string {
	return fmt.Sprintf("range [%#x,+%#x) extends past the end of the address space", start, size)
}

// Characteristics is a layout.Characteristics that encodes in YAML as
// a list of flag names, such as [code, execute, read].
type Characteristics layout.Characteristics

var flagNames = []struct {
	name string
	bit  layout.Characteristics
}{
	{"code", layout.CntCode},
	{"initialized", layout.CntInitializedData},
	{"uninitialized", layout.CntUninitializedData},
	{"execute", layout.MemExecute},
	{"read", layout.MemRead},
	{"write", layout.MemWrite},
}

// UnmarshalYAML accepts either a sequence of flag names or an integer
// bit mask.
func (c *Characteristics) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var v uint32
		if err := n.Decode(&v); err != nil {
			return err
		}
		*c = Characteristics(v)
		return nil
	}
	var names []string
	if err := n.Decode(&names); err != nil {
		return err
	}
	var out layout.Characteristics
next:
	for _, name := range names {
		for _, f := range flagNames {
			if strings.EqualFold(f.name, name) {
				out |= f.bit
				continue next
			}
		}
		return fmt.Errorf("line %d: unknown section characteristic %q", n.Line, name)
	}
	*c = Characteristics(out)
	return nil
}

// MarshalYAML encodes c as a list of flag names. Bits without a name
// are dropped.
func (c Characteristics) MarshalYAML() (any, error) {
	var names []string
	for _, f := range flagNames {
		if layout.Characteristics(c)&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names, nil
}

// IsZero lets omitempty drop unset characteristics.
func (c Characteristics) IsZero() bool { return c == 0 }

// sortRanges sorts rs by RVA.
func sortRanges(rs []Range) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].RVA < rs[j].RVA })
}
