// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package petest synthesizes small PE images for tests.
package petest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
)

// Section characteristic combinations used by typical linkers.
const (
	Text    = pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ
	RData   = pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ
	Data    = pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE
	BSS     = pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE
	Discard = pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_DISCARDABLE
)

// COFF symbol storage classes.
const (
	ClassExternal = 2
	ClassStatic   = 3
	ClassFile     = 103
)

// A Section is one section of a synthesized image.
type Section struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32 // Defaults to len(Data)
	Data            []byte
	Characteristics uint32
}

// A Symbol is one COFF symbol. SectionNumber is 1-based.
type Symbol struct {
	Name          string
	Value         uint32
	SectionNumber int16
	StorageClass  uint8
}

// An Image describes a PE image to synthesize.
type Image struct {
	Machine          uint16
	ImageBase        uint64
	FileAlignment    uint32
	SectionAlignment uint32
	Sections         []Section
	Symbols          []Symbol
	// Directories maps IMAGE_DIRECTORY_ENTRY_* indexes to entries.
	Directories map[int]pe.DataDirectory
}

// Bytes encodes img as a PE file.
func (img *Image) Bytes() []byte {
	fa, sa := img.FileAlignment, img.SectionAlignment
	if fa == 0 {
		fa = 0x200
	}
	if sa == 0 {
		sa = 0x1000
	}
	is64 := img.Machine != pe.IMAGE_FILE_MACHINE_I386
	optSize := 224
	if is64 {
		optSize = 240
	}

	var strtab stringTable
	hdrEnd := 0x40 + 4 + 20 + optSize + 40*len(img.Sections)
	sizeOfHeaders := roundUp(uint32(hdrEnd), fa)

	var shdrs []pe.SectionHeader32
	offset := sizeOfHeaders
	var imageEnd, codeSize, dataSize, bssSize uint32
	for _, s := range img.Sections {
		var sh pe.SectionHeader32
		if len(s.Name) > 8 {
			copy(sh.Name[:], fmt.Sprintf("/%d", strtab.add(s.Name)))
		} else {
			copy(sh.Name[:], s.Name)
		}
		sh.VirtualSize = s.VirtualSize
		if sh.VirtualSize == 0 {
			sh.VirtualSize = uint32(len(s.Data))
		}
		sh.VirtualAddress = s.VirtualAddress
		if len(s.Data) > 0 {
			sh.SizeOfRawData = roundUp(uint32(len(s.Data)), fa)
			sh.PointerToRawData = offset
			offset += sh.SizeOfRawData
		}
		sh.Characteristics = s.Characteristics
		if end := roundUp(sh.VirtualAddress+sh.VirtualSize, sa); end > imageEnd {
			imageEnd = end
		}
		switch {
		case s.Characteristics&pe.IMAGE_SCN_CNT_CODE != 0:
			codeSize += sh.SizeOfRawData
		case s.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0:
			bssSize += sh.VirtualSize
		default:
			dataSize += sh.SizeOfRawData
		}
		shdrs = append(shdrs, sh)
	}

	var syms []pe.COFFSymbol
	for _, s := range img.Symbols {
		var cs pe.COFFSymbol
		if len(s.Name) > 8 {
			binary.LittleEndian.PutUint32(cs.Name[4:], strtab.add(s.Name))
		} else {
			copy(cs.Name[:], s.Name)
		}
		cs.Value = s.Value
		cs.SectionNumber = s.SectionNumber
		cs.StorageClass = s.StorageClass
		syms = append(syms, cs)
	}

	fh := pe.FileHeader{
		Machine:              img.Machine,
		NumberOfSections:     uint16(len(img.Sections)),
		SizeOfOptionalHeader: uint16(optSize),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE,
	}
	if len(syms) > 0 || len(strtab.b) > 0 {
		fh.PointerToSymbolTable = offset
		fh.NumberOfSymbols = uint32(len(syms))
	}
	var dirs [16]pe.DataDirectory
	for i, d := range img.Directories {
		dirs[i] = d
	}

	var buf bytes.Buffer
	dos := make([]byte, 0x40)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], 0x40)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")
	write(&buf, fh)
	if is64 {
		write(&buf, pe.OptionalHeader64{
			Magic:                   0x20b,
			SizeOfCode:              codeSize,
			SizeOfInitializedData:   dataSize,
			SizeOfUninitializedData: bssSize,
			ImageBase:               img.ImageBase,
			SectionAlignment:        sa,
			FileAlignment:           fa,
			MajorSubsystemVersion:   6,
			SizeOfImage:             imageEnd,
			SizeOfHeaders:           sizeOfHeaders,
			Subsystem:               pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
			NumberOfRvaAndSizes:     16,
			DataDirectory:           dirs,
		})
	} else {
		write(&buf, pe.OptionalHeader32{
			Magic:                   0x10b,
			SizeOfCode:              codeSize,
			SizeOfInitializedData:   dataSize,
			SizeOfUninitializedData: bssSize,
			ImageBase:               uint32(img.ImageBase),
			SectionAlignment:        sa,
			FileAlignment:           fa,
			MajorSubsystemVersion:   6,
			SizeOfImage:             imageEnd,
			SizeOfHeaders:           sizeOfHeaders,
			Subsystem:               pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
			NumberOfRvaAndSizes:     16,
			DataDirectory:           dirs,
		})
	}
	for _, sh := range shdrs {
		write(&buf, sh)
	}
	pad(&buf, sizeOfHeaders)
	for i, s := range img.Sections {
		if len(s.Data) == 0 {
			continue
		}
		buf.Write(s.Data)
		pad(&buf, shdrs[i].PointerToRawData+shdrs[i].SizeOfRawData)
	}
	if fh.PointerToSymbolTable != 0 {
		for _, cs := range syms {
			write(&buf, cs)
		}
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(4+len(strtab.b)))
		buf.Write(l[:])
		buf.Write(strtab.b)
	}
	return buf.Bytes()
}

type stringTable struct {
	b []byte
}

// add appends s and returns its offset, which counts the 4-byte
// length prefix.
func (t *stringTable) add(s string) uint32 {
	off := uint32(4 + len(t.b))
	t.b = append(t.b, s...)
	t.b = append(t.b, 0)
	return off
}

func write(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}

func pad(buf *bytes.Buffer, to uint32) {
	for uint32(buf.Len()) < to {
		buf.WriteByte(0)
	}
}

func roundUp(x, align uint32) uint32 {
	return (x + align - 1) &^ (align - 1)
}
