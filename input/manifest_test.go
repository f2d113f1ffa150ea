// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package input

import (
	"bytes"
	"strings"
	"testing"

	"github.com/aclements/go-binlayout/layout"
	"github.com/google/go-cmp/cmp"
)

const testManifest = `
arch: amd64
file_alignment: 0x200
section_alignment: 0x1000
sections:
  - name: .text
    rva: 0x1000
    size: 0x400
    virtual_size: 0x310
    characteristics: [code, execute, read]
    coff_groups:
      - {name: .text$mn, rva: 0x1000, size: 0x300}
      - {name: .text$x, rva: 0x1300, size: 0x10}
compilands:
  - name: a.obj
    library: a.lib
    sym_index: 1
    command_line: cl 19.29 /O2
    ranges:
      - {rva: 0x1000, size: 0x200}
source_files:
  - name: a.c
    ranges:
      - {rva: 0x1000, size: 0x1f8, compiland: 1}
symbols:
  - {rva: 0x1000, index: 10, name: main}
  - {rva: 0x1000, index: 11}
labels: [0x1040]
`

func TestLoadManifest(t *testing.T) {
	b, err := LoadManifest(strings.NewReader(testManifest))
	if err != nil {
		t.Fatal(err)
	}
	want := &Binary{
		Arch:             "amd64",
		FileAlignment:    0x200,
		SectionAlignment: 0x1000,
		Sections: []Section{{
			Name: ".text", RVA: 0x1000, Size: 0x400, VirtualSize: 0x310,
			Flags: Characteristics(layout.CntCode | layout.MemExecute | layout.MemRead),
			COFFGroups: []COFFGroup{
				{Name: ".text$mn", RVA: 0x1000, Size: 0x300},
				{Name: ".text$x", RVA: 0x1300, Size: 0x10},
			},
		}},
		Compilands: []Compiland{{
			Name: "a.obj", Library: "a.lib", SymIndex: 1, CommandLine: "cl 19.29 /O2",
			Ranges: []Range{{RVA: 0x1000, Size: 0x200}},
		}},
		SourceFiles: []SourceFile{{
			Name:   "a.c",
			Ranges: []Range{{RVA: 0x1000, Size: 0x1f8, Compiland: 1}},
		}},
		Symbols: []Symbol{{RVA: 0x1000, Index: 10, Name: "main"}, {RVA: 0x1000, Index: 11}},
		Labels:  []uint32{0x1040},
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
	if ws, err := b.WordSize(); ws != 8 || err != nil {
		t.Errorf("WordSize = %d, %v", ws, err)
	}
	if diff := cmp.Diff(map[uint32][]uint32{0x1000: {10, 11}}, b.SymbolIndicesByRVA()); diff != "" {
		t.Errorf("SymbolIndicesByRVA mismatch (-want +got):\n%s", diff)
	}

	// Round trip through WriteManifest.
	var buf bytes.Buffer
	if err := WriteManifest(&buf, b); err != nil {
		t.Fatal(err)
	}
	b2, err := LoadManifest(&buf)
	if err != nil {
		t.Fatalf("reloading written manifest: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(b, b2); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	for _, test := range []struct {
		name, manifest, want string
	}{
		{"unknown field", "arch: amd64\nbogus: 1\n", "field bogus not found"},
		{"bad flag", "arch: amd64\nsections:\n  - {name: .text, characteristics: [sparkly]}\n", `unknown section characteristic "sparkly"`},
		{"unknown arch", "arch: vax\n", `unknown architecture "vax"`},
		{"unnamed section", "arch: amd64\nsections:\n  - {rva: 0x1000}\n", "section 0 has no name"},
		{"reserved index", "arch: amd64\ncompilands:\n  - {name: a.obj, library: a.lib}\n", "symbol index 0 is reserved"},
		{"compiland range overflow", "arch: amd64\ncompilands:\n  - {name: c.obj, library: c.lib, sym_index: 3, ranges: [{rva: 0xffffff00, size: 0x200}]}\n", "compiland c.obj: range [0xffffff00,+0x200) extends past the end of the address space"},
		{"source range overflow", "arch: amd64\nsource_files:\n  - {name: a.c, ranges: [{rva: 0xffffffff, size: 1}]}\n", "source file a.c: range [0xffffffff,+0x1)"},
		{"group overflow", "arch: amd64\nsections:\n  - {name: .data, rva: 0x1000, coff_groups: [{name: .data$x, rva: 0xfffffff0, size: 0x10}]}\n", "COFF group .data$x: range [0xfffffff0,+0x10)"},
		{"section overflow", "arch: amd64\nsections:\n  - {name: .data, rva: 0xfffff000, size: 0x1000}\n", "section .data: range [0xfffff000,+0x1000)"},
		{"unknown compiland", "arch: amd64\nsource_files:\n  - {name: a.c, ranges: [{rva: 0x1000, size: 4, compiland: 7}]}\n", "unknown compiland 7"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := LoadManifest(strings.NewReader(test.manifest))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("got error %v, want one containing %q", err, test.want)
			}
		})
	}
}

func TestCharacteristicsMask(t *testing.T) {
	b, err := LoadManifest(strings.NewReader("bytes_per_word: 4\nsections:\n  - {name: .data, characteristics: 0xc0000040}\n"))
	if err != nil {
		t.Fatal(err)
	}
	c := layout.Characteristics(b.Sections[0].Flags)
	if !c.InitializedData() || !c.Readable() || !c.Writable() || c.Code() {
		t.Errorf("got characteristics %v", c)
	}
}
