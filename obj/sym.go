// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"fmt"
	"strconv"
)

// A SymID is the index of a symbol in an image's symbol list. File
// records and auxiliary symbol records are not counted.
type SymID uint32

// NoSym is a placeholder SymID used to indicate "no symbol".
const NoSym = ^SymID(0)

func (id SymID) String() string {
	if id == NoSym {
		return "NoSym"
	}
	return strconv.FormatUint(uint64(id), 10)
}

// A Sym is a COFF symbol in an image.
type Sym struct {
	Name string

	// Section is the section this symbol is defined in, or nil. A
	// symbol has data if and only if Section is non-nil.
	Section *Section

	// Value is the RVA of this symbol if it has data. For absolute
	// symbols, this is the symbol's value.
	Value uint32

	// Size is the size of this symbol in bytes. COFF symbols carry no
	// size, so this is set by SynthesizeSizes.
	Size uint32

	Kind  SymKind
	Class StorageClass

	// SizeSynthesized is set when Size was derived from neighboring
	// symbols rather than recorded.
	SizeSynthesized bool
}

// SymKind is the nm-style category of a symbol.
type SymKind uint8

const (
	SymUnknown  SymKind = '?' // section number out of range
	SymUndef    SymKind = 'U' // resolved from an import
	SymText     SymKind = 'T' // in a code section
	SymData     SymKind = 'D' // in any other section, including .bss
	SymAbsolute SymKind = 'A' // Value is not an address
	SymSection  SymKind = 'S' // the static symbol naming a section
)

func (k SymKind) String() string {
	return string([]byte{byte(k)})
}

// A StorageClass is a COFF symbol storage class
// (IMAGE_SYM_CLASS_*). Only the classes the reader distinguishes are
// named.
type StorageClass uint8

const (
	ClassExternal StorageClass = 2
	ClassStatic   StorageClass = 3
	ClassFile     StorageClass = 103
)

func (c StorageClass) String() string {
	switch c {
	case ClassExternal:
		return "external"
	case ClassStatic:
		return "static"
	case ClassFile:
		return "file"
	}
	return "class(" + strconv.Itoa(int(c)) + ")"
}

// Local reports whether s's name is only meaningful within its
// defining object file.
func (s *Sym) Local() bool {
	return s.Class == ClassStatic
}

// String returns the name of symbol s.
func (s *Sym) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// Data reads the bytes of s. If s is not backed by data, it returns
// an ErrNoData error.
func (s *Sym) Data() (*Data, error) {
	if s.Section == nil {
		switch s.Kind {
		case SymUndef:
			return nil, &ErrNoData{"undefined symbol"}
		case SymAbsolute:
			return nil, &ErrNoData{"absolute symbol"}
		}
		return nil, &ErrNoData{"unknown reason"}
	}
	return s.Section.Data(s.Value, s.Size)
}

// Bounds returns the starting RVA and size in bytes of symbol s.
// For undefined symbols, it returns 0, 0.
func (s *Sym) Bounds() (rva, size uint32) {
	if s.Section == nil {
		return 0, 0
	}
	return s.Value, s.Size
}

// An ErrNoData error indicates that an entity is not backed by data.
type ErrNoData struct {
	Detail string
}

func (e *ErrNoData) Error() string {
	return fmt.Sprintf("no data: %s", e.Detail)
}
