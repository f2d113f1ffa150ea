// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package petest

import (
	"encoding/binary"
	"sort"
)

// A CU is a DWARF compile unit with a contiguous PC range.
type CU struct {
	Name     string
	CompDir  string
	Producer string
	Low      uint64
	High     uint64
	Lines    []Line
}

// A Line is one row of a line table. File should be absolute.
type Line struct {
	Addr uint64
	File string
	Line int
}

// DWARF encodes cus as version 4 .debug_abbrev, .debug_info, and
// .debug_line contents with 8-byte addresses.
func DWARF(cus []CU) (abbrev, info, line []byte) {
	abbrev = []byte{
		1, 0x11, 0, // Abbrev 1: DW_TAG_compile_unit, no children
		0x25, 0x08, // DW_AT_producer, DW_FORM_string
		0x03, 0x08, // DW_AT_name, DW_FORM_string
		0x1b, 0x08, // DW_AT_comp_dir, DW_FORM_string
		0x11, 0x01, // DW_AT_low_pc, DW_FORM_addr
		0x12, 0x07, // DW_AT_high_pc, DW_FORM_data8
		0x10, 0x17, // DW_AT_stmt_list, DW_FORM_sec_offset
		0, 0,
		0,
	}
	for _, cu := range cus {
		var die []byte
		die = append(die, 1)
		die = cstring(die, cu.Producer)
		die = cstring(die, cu.Name)
		die = cstring(die, cu.CompDir)
		die = u64(die, cu.Low)
		die = u64(die, cu.High-cu.Low)
		die = u32(die, uint32(len(line)))

		var unit []byte
		unit = u16(unit, 4)
		unit = u32(unit, 0) // Abbrev offset
		unit = append(unit, 8)
		unit = append(unit, die...)
		info = u32(info, uint32(len(unit)))
		info = append(info, unit...)

		line = append(line, lineProgram(cu)...)
	}
	return
}

// DWARFSections returns the DWARF for cus as discardable sections
// starting at rva, each aligned to align.
func DWARFSections(cus []CU, rva, align uint32) []Section {
	abbrev, info, line := DWARF(cus)
	var secs []Section
	for _, s := range []struct {
		name string
		data []byte
	}{{".debug_abbrev", abbrev}, {".debug_info", info}, {".debug_line", line}} {
		secs = append(secs, Section{Name: s.name, VirtualAddress: rva, Data: s.data, Characteristics: Discard})
		rva = roundUp(rva+uint32(len(s.data)), align)
	}
	return secs
}

func lineProgram(cu CU) []byte {
	rows := append([]Line(nil), cu.Lines...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Addr < rows[j].Addr })

	files := map[string]int{}
	var names []string
	for _, r := range rows {
		if _, ok := files[r.File]; !ok {
			names = append(names, r.File)
			files[r.File] = len(names)
		}
	}

	var hdr []byte
	hdr = append(hdr, 1, 1, 1, 0xfb, 14, 13) // min_inst, max_ops, default_is_stmt, line_base, line_range, opcode_base
	hdr = append(hdr, 0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1)
	hdr = append(hdr, 0) // No include directories
	for _, name := range names {
		hdr = cstring(hdr, name)
		hdr = append(hdr, 0, 0, 0)
	}
	hdr = append(hdr, 0)

	var prog []byte
	file, ln := 1, 1
	for _, r := range rows {
		prog = setAddress(prog, r.Addr)
		if f := files[r.File]; f != file {
			prog = append(prog, 0x04)
			prog = uleb(prog, uint64(f))
			file = f
		}
		if r.Line != ln {
			prog = append(prog, 0x03)
			prog = sleb(prog, int64(r.Line-ln))
			ln = r.Line
		}
		prog = append(prog, 0x01)
	}
	prog = setAddress(prog, cu.High)
	prog = append(prog, 0, 1, 1) // DW_LNE_end_sequence

	var unit []byte
	unit = u16(unit, 4)
	unit = u32(unit, uint32(len(hdr)))
	unit = append(unit, hdr...)
	unit = append(unit, prog...)
	return append(u32(nil, uint32(len(unit))), unit...)
}

func setAddress(b []byte, addr uint64) []byte {
	b = append(b, 0, 9, 2)
	return u64(b, addr)
}

func cstring(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0)
}

func u16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }
func u32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }
func u64(b []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(b, v) }

func uleb(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

func sleb(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
