// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aclements/go-binlayout/input"
	"github.com/aclements/go-binlayout/layout"
	"github.com/aclements/go-binlayout/rva"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const (
	textFlags = input.Characteristics(layout.CntCode | layout.MemExecute | layout.MemRead)
	dataFlags = input.Characteristics(layout.CntInitializedData | layout.MemRead | layout.MemWrite)
	bssFlags  = input.Characteristics(layout.CntUninitializedData | layout.MemRead | layout.MemWrite)
)

func testBinary() *input.Binary {
	return &input.Binary{
		Arch:             "amd64",
		FileAlignment:    0x200,
		SectionAlignment: 0x1000,
		Sections: []input.Section{
			{
				Name: ".text", RVA: 0x1000, Size: 0x400, VirtualSize: 0x310, Flags: textFlags,
				COFFGroups: []input.COFFGroup{
					{Name: ".text$mn", RVA: 0x1000, Size: 0x300},
					{Name: ".text$x", RVA: 0x1300, Size: 0x10},
				},
			},
			{
				Name: ".data", RVA: 0x2000, Size: 0x200, VirtualSize: 0x280, Flags: dataFlags,
				COFFGroups: []input.COFFGroup{
					{Name: ".data", RVA: 0x2000, Size: 0x100},
					{Name: ".bss", RVA: 0x2200, Size: 0x80, Flags: bssFlags},
				},
			},
		},
		Compilands: []input.Compiland{
			{
				Name: "a.obj", Library: "a.lib", SymIndex: 1, CommandLine: "cl 19.29 /O2",
				Ranges: []input.Range{{RVA: 0x1000, Size: 0x100}, {RVA: 0x1300, Size: 0x10}, {RVA: 0x2000, Size: 0x40}},
			},
			{
				Name: "b.obj", Library: "a.lib", SymIndex: 2,
				Ranges: []input.Range{{RVA: 0x1100, Size: 0x1f0}},
			},
			{
				// The first 0x100 bytes are outside every COFF group.
				Name: "c.obj", Library: "c.lib", SymIndex: 3,
				Ranges: []input.Range{{RVA: 0x2100, Size: 0x180}},
			},
		},
		SourceFiles: []input.SourceFile{
			{Name: "a.c", Ranges: []input.Range{{RVA: 0x1000, Size: 0x100, Compiland: 1}, {RVA: 0x2000, Size: 0x40}}},
			{Name: "b.h", Ranges: []input.Range{{RVA: 0x10f0, Size: 0x20}}},
			{Name: "c.c", Ranges: []input.Range{{RVA: 0x2200, Size: 0x80, Compiland: 3}}},
		},
		Symbols: []input.Symbol{
			{RVA: 0x1000, Index: 10, Name: "main"},
			{RVA: 0x1100, Index: 11, Name: "b_func"},
			{RVA: 0x1100, Index: 12},
			{RVA: 0x2200, Index: 13, Name: "buf"},
		},
		Labels: []uint32{0x1000, 0x1100},
	}
}

func build(t *testing.T, in *input.Binary, opts Options) *Model {
	t.Helper()
	m, err := Build(in, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return m
}

// name returns the name of a possibly nil entity.
func name[E any, P interface {
	*E
	String() string
}](p P) string {
	if p == nil {
		return ""
	}
	return p.String()
}

func TestBuild(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	m := build(t, testBinary(), Options{Log: log})

	var libs []string
	for _, l := range m.Libraries() {
		libs = append(libs, l.Name())
	}
	if diff := cmp.Diff([]string{"a.lib", "c.lib"}, libs); diff != "" {
		t.Errorf("libraries mismatch (-want +got):\n%s", diff)
	}
	a := m.Libraries()[0]
	if a.Size() != 0x340 || a.VirtualSize() != 0x340 {
		t.Errorf("a.lib size %#x/%#x, want 0x340/0x340", a.Size(), a.VirtualSize())
	}
	c := m.Libraries()[1]
	if c.Size() != 0 || c.VirtualSize() != 0x80 {
		t.Errorf("c.lib size %#x/%#x, want 0/0x80", c.Size(), c.VirtualSize())
	}

	comps := m.Compilands()
	if len(comps) != 3 || comps[0].Name() != "a.obj" || comps[2].Name() != "c.obj" {
		t.Fatalf("got compilands %v", comps)
	}
	if cl := comps[0].CommandLine(); cl.Tool != "cl" || cl.FrontEndVersion != "19.29" {
		t.Errorf("a.obj command line %+v", cl)
	}

	bh := m.SourceFiles()[1]
	if diff := cmp.Diff([]uint32{1, 2}, bh.Compilands()); diff != "" {
		t.Errorf("b.h compilands mismatch (-want +got):\n%s", diff)
	}
	if bh.Size() != 0x20 {
		t.Errorf("b.h size %#x, want 0x20", bh.Size())
	}

	dropped := false
	for _, e := range hook.AllEntries() {
		if e.Data["compiland"] == "c.obj" && e.Data["dropped"] == uint32(0x100) {
			dropped = true
		}
	}
	if !dropped {
		t.Errorf("bytes of c.obj outside COFF groups were not logged")
	}
}

func TestSourceFileNamedCompiland(t *testing.T) {
	in := testBinary()
	// The range runs from a.obj into b.obj but names a.obj.
	in.SourceFiles = append(in.SourceFiles, input.SourceFile{
		Name:   "x.h",
		Ranges: []input.Range{{RVA: 0x10f0, Size: 0x110, Compiland: 1}},
	})
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	m := build(t, in, Options{Log: log})

	xh := m.SourceFiles()[3]
	if diff := cmp.Diff([]uint32{1}, xh.Compilands()); diff != "" {
		t.Errorf("x.h compilands mismatch (-want +got):\n%s", diff)
	}
	want := []rva.Range{{Start: 0x10f0, End: 0x1100}}
	if diff := cmp.Diff(want, xh.CompilandContributions()[1].Ranges()); diff != "" {
		t.Errorf("x.h ranges in a.obj mismatch (-want +got):\n%s", diff)
	}
	if xh.Size() != 0x10 {
		t.Errorf("x.h size %#x, want 0x10", xh.Size())
	}
	if files := m.SourceFilesAt(0x1150); len(files) != 0 {
		t.Errorf("SourceFilesAt(0x1150) = %v, want none", files)
	}

	logged := false
	for _, e := range hook.AllEntries() {
		if e.Data["sourceFile"] == "x.h" && e.Data["dropped"] == uint32(0x100) {
			logged = true
		}
	}
	if !logged {
		t.Errorf("bytes of x.h owned by b.obj were not logged as unowned")
	}
}

func TestSectionsByRVA(t *testing.T) {
	in := testBinary()
	in.Sections[0], in.Sections[1] = in.Sections[1], in.Sections[0]
	m := build(t, in, Options{})
	var got []string
	for _, s := range m.Sections() {
		got = append(got, s.Name())
	}
	if diff := cmp.Diff([]string{".text", ".data"}, got); diff != "" {
		t.Errorf("Sections mismatch (-want +got):\n%s", diff)
	}
}

func TestCompilandAt(t *testing.T) {
	for _, test := range []struct {
		tolerance uint32
		addr      uint32
		want      string
	}{
		{0, 0x1000, "a.obj"},
		{0, 0x10ff, "a.obj"},
		{0, 0x1100, "b.obj"},
		{0, 0x12ef, "b.obj"},
		{0, 0x12f8, ""},
		{0, 0x1305, "a.obj"},
		{0, 0x2100, ""},
		{0, 0x2210, "c.obj"},
		{0, 0x5000, ""},
		// The tolerance bridges a.obj's gap around b.obj.
		{0x200, 0x12f8, "a.obj"},
		{0x200, 0x1100, "b.obj"},
	} {
		m := build(t, testBinary(), Options{MergeTolerance: test.tolerance})
		got := ""
		if c := m.CompilandAt(test.addr); c != nil {
			got = c.Name()
		}
		if got != test.want {
			t.Errorf("tolerance %#x: CompilandAt(%#x) = %q, want %q", test.tolerance, test.addr, got, test.want)
		}
	}
}

func TestQueries(t *testing.T) {
	m := build(t, testBinary(), Options{})
	if got := name(m.LibraryAt(0x1100)); got != "a.lib" {
		t.Errorf("LibraryAt(0x1100) = %q", got)
	}
	if got := m.LibraryAt(0x12f8); got != nil {
		t.Errorf("LibraryAt(0x12f8) = %v, want nil", got)
	}
	if got := m.SectionAt(0x2fff); got == nil || got.Name() != ".data" {
		t.Errorf("SectionAt(0x2fff) = %v", got)
	}
	if got := m.COFFGroupAt(0x2250); got == nil || got.Name() != ".bss" {
		t.Errorf("COFFGroupAt(0x2250) = %v", got)
	}

	files := func(addr uint32) []string {
		var out []string
		for _, f := range m.SourceFilesAt(addr) {
			out = append(out, f.Name())
		}
		return out
	}
	if diff := cmp.Diff([]string{"a.c", "b.h"}, files(0x10f8)); diff != "" {
		t.Errorf("SourceFilesAt(0x10f8) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b.h"}, files(0x1108)); diff != "" {
		t.Errorf("SourceFilesAt(0x1108) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a.c"}, files(0x2010)); diff != "" {
		t.Errorf("SourceFilesAt(0x2010) mismatch (-want +got):\n%s", diff)
	}

	want := []Symbol{{0x1000, 10, "main"}, {0x1100, 11, "b_func"}, {0x1100, 12, ""}}
	if diff := cmp.Diff(want, m.Symbols(rva.FromSize(0x1000, 0x101))); diff != "" {
		t.Errorf("Symbols mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want[1:], m.Symbols(rva.Range{Start: 0x1100, End: 0x1100})); diff != "" {
		t.Errorf("point Symbols mismatch (-want +got):\n%s", diff)
	}
	if got := m.Symbols(rva.FromSize(0x1001, 0x10)); got != nil {
		t.Errorf("Symbols between RVAs = %v, want nil", got)
	}
}

func TestSymbolAt(t *testing.T) {
	m := build(t, testBinary(), Options{})
	for _, tc := range []struct {
		addr uint32
		want Symbol
		ok   bool
	}{
		{0x0fff, Symbol{}, false},
		{0x1000, Symbol{0x1000, 10, "main"}, true},
		{0x10ff, Symbol{0x1000, 10, "main"}, true},
		{0x1100, Symbol{0x1100, 11, "b_func"}, true},
		// b_func runs to the end of .text's padding.
		{0x1fff, Symbol{0x1100, 11, "b_func"}, true},
		{0x2000, Symbol{}, false},
		{0x2fff, Symbol{0x2200, 13, "buf"}, true},
		{0x3000, Symbol{}, false},
	} {
		got, ok := m.SymbolAt(tc.addr)
		if ok != tc.ok || got != tc.want {
			t.Errorf("SymbolAt(%#x) = %v, %v; want %v, %v", tc.addr, got, ok, tc.want, tc.ok)
		}
	}

	if got, ok := m.SymbolNamed("buf"); !ok || got != (Symbol{0x2200, 13, "buf"}) {
		t.Errorf("SymbolNamed(buf) = %v, %v", got, ok)
	}
	if _, ok := m.SymbolNamed(""); ok {
		t.Errorf("SymbolNamed(\"\") found an unnamed symbol")
	}
}

func TestAttribute(t *testing.T) {
	m := build(t, testBinary(), Options{Workers: 2})
	at := m.Attribute(rva.FromSize(0x1100, 4))
	got := []string{at.Section.Name(), at.COFFGroup.Name(), name(at.Compiland), name(at.Library)}
	if diff := cmp.Diff([]string{".text", ".text$mn", "b.obj", "a.lib"}, got); diff != "" {
		t.Errorf("Attribute mismatch (-want +got):\n%s", diff)
	}
	if !at.Label || len(at.Symbols) != 2 || len(at.SourceFiles) != 1 {
		t.Errorf("got label %v, symbols %v, source files %v", at.Label, at.Symbols, at.SourceFiles)
	}
	if at.Enclosing == nil || at.Enclosing.Name != "b_func" {
		t.Errorf("Enclosing = %v, want b_func", at.Enclosing)
	}

	rs := []rva.Range{rva.FromSize(0x1000, 1), rva.FromSize(0x1100, 1), rva.FromSize(0x2200, 1), rva.FromSize(0x9000, 1)}
	all, err := m.AttributeAll(context.Background(), rs)
	if err != nil {
		t.Fatal(err)
	}
	var owners []string
	for _, a := range all {
		owners = append(owners, name(a.Compiland))
	}
	if diff := cmp.Diff([]string{"a.obj", "b.obj", "c.obj", ""}, owners); diff != "" {
		t.Errorf("AttributeAll mismatch (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.AttributeAll(ctx, rs); !errors.Is(err, context.Canceled) {
		t.Errorf("AttributeAll with canceled context: got %v", err)
	}
}

func TestBuildErrors(t *testing.T) {
	t.Run("gap", func(t *testing.T) {
		in := testBinary()
		in.Sections[0].COFFGroups[1].RVA = 0x1600
		_, err := Build(in, Options{})
		var le *layout.LayoutError
		if !errors.As(err, &le) || !strings.HasPrefix(err.Error(), "section .text: ") {
			t.Errorf("got %v, want LayoutError for .text", err)
		}
	})
	t.Run("duplicate compiland", func(t *testing.T) {
		in := testBinary()
		in.Compilands[1].SymIndex = 1
		_, err := Build(in, Options{})
		var ee *layout.ExistsError
		if !errors.As(err, &ee) || !strings.HasPrefix(err.Error(), "compiland b.obj: ") {
			t.Errorf("got %v, want ExistsError for b.obj", err)
		}
	})
	t.Run("compiland range overflow", func(t *testing.T) {
		in := testBinary()
		in.Compilands[2].Ranges = append(in.Compilands[2].Ranges, input.Range{RVA: 0xffffff00, Size: 0x200})
		_, err := Build(in, Options{})
		if err == nil || !strings.HasPrefix(err.Error(), "compiland c.obj: range [0xffffff00,+0x200)") {
			t.Errorf("got %v, want overflow error for c.obj", err)
		}
	})
	t.Run("source range overflow", func(t *testing.T) {
		in := testBinary()
		in.SourceFiles[0].Ranges = append(in.SourceFiles[0].Ranges, input.Range{RVA: 0xffffffff, Size: 1})
		_, err := Build(in, Options{})
		if err == nil || !strings.HasPrefix(err.Error(), "source file a.c: range [0xffffffff,+0x1)") {
			t.Errorf("got %v, want overflow error for a.c", err)
		}
	})
	t.Run("group overflow", func(t *testing.T) {
		in := testBinary()
		in.Sections[1].COFFGroups[1].RVA = 0xffffffc0
		_, err := Build(in, Options{})
		var ie *layout.InvariantError
		if !errors.As(err, &ie) {
			t.Errorf("got %v, want InvariantError", err)
		}
	})
	t.Run("unknown arch", func(t *testing.T) {
		in := testBinary()
		in.Arch = "vax"
		if _, err := Build(in, Options{}); err == nil {
			t.Errorf("Build succeeded with unknown architecture")
		}
	})
}
