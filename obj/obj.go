// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj reads the section table, symbols, and unwind data of PE
// images.
package obj

import (
	"debug/dwarf"
	"debug/pe"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aclements/go-binlayout/arch"
)

// Open attempts to open r as a PE image.
func Open(r io.ReaderAt) (*Image, error) {
	var magic [2]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil || string(magic[:]) != "MZ" {
		return nil, fmt.Errorf("unrecognized object file format")
	}
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	img, err := newImage(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return img, nil
}

// OpenFile opens the named file as a PE image.
func OpenFile(name string) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	img, err := Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	img.closer = f
	return img, nil
}

// An Image is a linked PE executable or DLL.
type Image struct {
	// Arch is the machine architecture of this image.
	Arch *arch.Arch

	// ImageBase is the preferred load address. RVAs are relative to
	// it.
	ImageBase uint64

	// FileAlignment and SectionAlignment are the alignments from the
	// optional header.
	FileAlignment, SectionAlignment uint32

	f        *pe.File
	closer   io.Closer
	sections []*Section
	syms     []Sym
	dirs     []pe.DataDirectory
}

func newImage(f *pe.File) (*Image, error) {
	img := &Image{f: f}
	img.Arch = arch.ByMachine(f.Machine)
	if img.Arch == nil {
		return nil, fmt.Errorf("unsupported machine %#x", f.Machine)
	}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.ImageBase = uint64(oh.ImageBase)
		img.FileAlignment, img.SectionAlignment = oh.FileAlignment, oh.SectionAlignment
		img.dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		img.ImageBase = oh.ImageBase
		img.FileAlignment, img.SectionAlignment = oh.FileAlignment, oh.SectionAlignment
		img.dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	default:
		return nil, fmt.Errorf("missing optional header")
	}

	for i, ps := range f.Sections {
		img.sections = append(img.sections, &Section{
			Image:           img,
			Name:            ps.Name,
			ID:              SectionID(i),
			RawID:           i + 1,
			RVA:             ps.VirtualAddress,
			VirtualSize:     ps.VirtualSize,
			RawSize:         ps.Size,
			Characteristics: ps.Characteristics,
			raw:             ps,
		})
	}

	for _, ps := range f.Symbols {
		sym := Sym{Name: ps.Name, Class: StorageClass(ps.StorageClass)}
		switch {
		case sym.Class == ClassFile:
			continue
		case ps.SectionNumber == 0:
			sym.Kind = SymUndef
		case ps.SectionNumber == -1:
			sym.Kind = SymAbsolute
			sym.Value = ps.Value
		case ps.SectionNumber > 0 && int(ps.SectionNumber) <= len(img.sections):
			sec := img.sections[ps.SectionNumber-1]
			sym.Section = sec
			sym.Value = sec.RVA + ps.Value
			switch {
			case sym.Class == ClassStatic && ps.Value == 0 && ps.Name == sec.Name:
				sym.Kind = SymSection
			case sec.Code():
				sym.Kind = SymText
			default:
				sym.Kind = SymData
			}
		default:
			sym.Kind = SymUnknown
		}
		img.syms = append(img.syms, sym)
	}
	SynthesizeSizes(img.syms)
	return img, nil
}

// Close closes this image, releasing any OS resources used by it.
func (img *Image) Close() error {
	err := img.f.Close()
	if img.closer != nil {
		if err2 := img.closer.Close(); err == nil {
			err = err2
		}
	}
	return err
}

// Sections returns the sections of img in section table order, indexed
// by SectionID.
func (img *Image) Sections() []*Section {
	return img.sections
}

// Section returns the i'th section. If i is out of range, it panics.
func (img *Image) Section(i SectionID) *Section {
	return img.sections[i]
}

// ResolveRVA returns the section whose virtual extent contains rva, or
// nil if no section does.
func (img *Image) ResolveRVA(rva uint32) *Section {
	for _, s := range img.sections {
		if s.RVA != 0 && rva >= s.RVA && rva-s.RVA < s.VirtualSize {
			return s
		}
	}
	return nil
}

// NumSyms returns the number of symbols, excluding file records.
func (img *Image) NumSyms() SymID {
	return SymID(len(img.syms))
}

// Sym returns the i'th symbol. If i is out of range, it panics.
func (img *Image) Sym(i SymID) Sym {
	return img.syms[i]
}

// DWARF returns the DWARF debug info in img's .debug_* sections.
func (img *Image) DWARF() (*dwarf.Data, error) {
	return img.f.DWARF()
}

// HasDWARF reports whether img has a .debug_info section.
func (img *Image) HasDWARF() bool {
	return img.f.Section(".debug_info") != nil
}

// Directory returns the i'th data directory entry, or a zero entry if
// the image has fewer directories.
func (img *Image) Directory(i int) pe.DataDirectory {
	if i < 0 || i >= len(img.dirs) {
		return pe.DataDirectory{}
	}
	return img.dirs[i]
}

// FunctionStarts returns the sorted, distinct begin RVAs of the
// function table in the exception directory. Images without table
// based unwinding return nil.
func (img *Image) FunctionStarts() ([]uint32, error) {
	entrySize := img.Arch.FunctionEntrySize
	dir := img.Directory(pe.IMAGE_DIRECTORY_ENTRY_EXCEPTION)
	if entrySize == 0 || dir.Size == 0 {
		return nil, nil
	}
	sec := img.ResolveRVA(dir.VirtualAddress)
	if sec == nil {
		return nil, fmt.Errorf("exception directory at %#x is outside all sections", dir.VirtualAddress)
	}
	d, err := sec.Data(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, err
	}
	var starts []uint32
	for r := NewReader(d); r.Avail() >= entrySize; {
		starts = append(starts, r.Uint32())
		r.Skip(entrySize - 4)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	out := starts[:0]
	for i, s := range starts {
		if i == 0 || s != starts[i-1] {
			out = append(out, s)
		}
	}
	return out, nil
}

// SectionID is an index for a section in an image. These indexes are
// compact and start at 0. Section.RawID is the 1-based PE section
// number.
type SectionID int

// A Section is one entry of a PE section table.
type Section struct {
	// Image is the image containing this section.
	Image *Image

	// Name is the full name of this section, with long names resolved
	// through the string table.
	Name string

	// ID is the obj-internal index of this section.
	ID SectionID

	// RawID is the 1-based section number used by COFF symbols.
	RawID int

	// RVA is the address at which this section begins, relative to
	// the image base.
	RVA uint32

	// VirtualSize is the size of this section in memory, in bytes.
	VirtualSize uint32

	// RawSize is the size of this section on disk. It is a multiple
	// of the file alignment and may be larger or smaller than
	// VirtualSize.
	RawSize uint32

	// Characteristics holds the IMAGE_SCN_* flags.
	Characteristics uint32

	raw *pe.Section
}

// Code reports whether s contains executable code.
func (s *Section) Code() bool {
	return s.Characteristics&pe.IMAGE_SCN_CNT_CODE != 0
}

// ReadOnly reports whether s is not writable.
func (s *Section) ReadOnly() bool {
	return s.Characteristics&pe.IMAGE_SCN_MEM_WRITE == 0
}

// ZeroInitialized reports whether s holds only uninitialized data.
func (s *Section) ZeroInitialized() bool {
	return s.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0 &&
		s.Characteristics&pe.IMAGE_SCN_CNT_INITIALIZED_DATA == 0
}

// Discardable reports whether s can be discarded after loading.
// Debug info sections are discardable.
func (s *Section) Discardable() bool {
	return s.Characteristics&pe.IMAGE_SCN_MEM_DISCARDABLE != 0
}

// Bounds returns the starting RVA and virtual size of s.
func (s *Section) Bounds() (rva, size uint32) {
	return s.RVA, s.VirtualSize
}

// Data reads size bytes of s starting at rva. Bytes past the end of
// the on-disk data read as zero. It panics if the requested byte range
// is out of range for the section.
func (s *Section) Data(rva, size uint32) (*Data, error) {
	if rva < s.RVA || uint64(rva)+uint64(size) > uint64(s.RVA)+uint64(max(s.VirtualSize, s.RawSize)) {
		panic(fmt.Sprintf("requested data [%#x, %#x) is outside section %s [%#x, %#x)", rva, uint64(rva)+uint64(size), s.Name, s.RVA, s.RVA+s.VirtualSize))
	}
	d := &Data{Addr: rva, P: make([]byte, size), Layout: s.Image.Arch.Layout}
	off := rva - s.RVA
	if off < s.RawSize {
		n := min(size, s.RawSize-off)
		if _, err := s.raw.ReadAt(d.P[:n], int64(off)); err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading section %s: %w", s.Name, err)
		}
	}
	return d, nil
}

// String returns the name of s.
func (s *Section) String() string {
	return s.Name
}
