// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"errors"
	"testing"

	"github.com/aclements/go-binlayout/rva"
	"github.com/google/go-cmp/cmp"
)

// textSession returns a Session with a frozen .text section at 0x1000
// made of COFF groups .text$mn [0x1000,0x1300) and .text$x
// [0x1300,0x1400).
func textSession(t *testing.T) (sess *Session, text SectionID, mn, x COFFGroupID) {
	t.Helper()
	sess, sb := buildSection(t, SectionHeader{
		Name:             ".text",
		RVA:              0x1000,
		Size:             0x400,
		VirtualSize:      0x400,
		FileAlignment:    testFileAlign,
		SectionAlignment: testSectionAlign,
		Characteristics:  CntCode | MemExecute | MemRead,
	},
		testGroup{".text$mn", 0x1000, 0x300, CntCode},
		testGroup{".text$x", 0x1300, 0x100, CntCode},
	)
	if _, err := sb.Freeze(); err != nil {
		t.Fatal(err)
	}
	return sess, sb.ID(), 0, 1
}

func TestCompilandFreeze(t *testing.T) {
	sess, text, mn, x := textSession(t)
	lib, err := sess.NewLibrary("libcmt.lib")
	if err != nil {
		t.Fatal(err)
	}
	cb, err := lib.NewCompiland("a.obj", 7, CommandLine{Tool: "cl.exe", Flags: []string{"/O2"}})
	if err != nil {
		t.Fatal(err)
	}
	must(t, cb.AddRange(text, mn, rva.FromSize(0x1000, 0x10)))
	must(t, cb.AddRange(text, mn, rva.FromSize(0x1010, 0x20))) // Abuts
	must(t, cb.AddRange(text, x, rva.FromSize(0x1300, 0x8)))

	if !cb.ContainsBeforeFreeze(0x1015) || cb.ContainsBeforeFreeze(0x1100) {
		t.Errorf("ContainsBeforeFreeze gave wrong answers")
	}
	if _, err := sess.Compiland(7); !isNotReady(err) {
		t.Errorf("Session.Compiland before freeze: got %v, want NotReadyError", err)
	}

	c, err := cb.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if c.Size() != 0x38 || c.VirtualSize() != 0x38 {
		t.Errorf("size = %#x/%#x, want 0x38/0x38", c.Size(), c.VirtualSize())
	}
	wantRanges := []rva.Range{{Start: 0x1000, End: 0x1030}, {Start: 0x1300, End: 0x1308}}
	if diff := cmp.Diff(wantRanges, c.SectionContributions()[text].Ranges()); diff != "" {
		t.Errorf("section ranges mismatch (-want +got):\n%s", diff)
	}
	if len(c.COFFGroupContributions()) != 2 {
		t.Errorf("got %d COFF group contributions, want 2", len(c.COFFGroupContributions()))
	}
	if !c.Contains(0x1000, 0x30) || c.Contains(0x1000, 0x31) {
		t.Errorf("Contains gave wrong answers")
	}
	if c.Library() != lib.ID() || c.SymIndex() != 7 || c.CommandLine().String() != "cl.exe /O2" {
		t.Errorf("compiland metadata wrong: lib %d sym %d cmd %q", c.Library(), c.SymIndex(), c.CommandLine())
	}
	if got, err := sess.Compiland(7); err != nil || got != c {
		t.Errorf("Session.Compiland after freeze = %v, %v", got, err)
	}
	if got, err := sess.Compiland(8); got != nil || err != nil {
		t.Errorf("Session.Compiland(unknown) = %v, %v, want nil, nil", got, err)
	}

	if err := cb.AddRange(text, mn, rva.FromSize(0x1100, 1)); !isFrozen(err) {
		t.Errorf("AddRange after freeze: got %v, want FrozenError", err)
	}
	if c2, _ := cb.Freeze(); c2 != c {
		t.Errorf("second Freeze returned a different Compiland")
	}
}

func TestCompilandGroupMismatch(t *testing.T) {
	if !debugChecks {
		t.Skip("cross-check is compiled out")
	}
	sess, text, mn, _ := textSession(t)
	lib, _ := sess.NewLibrary("x.lib")
	cb, _ := lib.NewCompiland("a.obj", 1, CommandLine{})
	sc, _ := cb.ContributionForSection(text)
	gc, _ := cb.ContributionForCOFFGroup(mn)
	must(t, sc.AddRange(rva.FromSize(0x1000, 0x10)))
	must(t, gc.AddRange(rva.FromSize(0x1000, 0x8)))
	_, err := cb.Freeze()
	var ie *InvariantError
	if !errors.As(err, &ie) {
		t.Errorf("Freeze error = %v, want InvariantError", err)
	}
}

func TestLibraryRollUp(t *testing.T) {
	sess, text, mn, x := textSession(t)
	lib, _ := sess.NewLibrary("libcmt.lib")
	a, _ := lib.NewCompiland("a.obj", 1, CommandLine{})
	b, _ := lib.NewCompiland("b.obj", 2, CommandLine{})
	must(t, a.AddRange(text, mn, rva.FromSize(0x1000, 0x100)))
	must(t, b.AddRange(text, mn, rva.FromSize(0x1100, 0x100)))
	must(t, b.AddRange(text, x, rva.FromSize(0x1300, 0x40)))

	// Compilands may freeze before their library.
	if _, err := a.Freeze(); err != nil {
		t.Fatal(err)
	}
	l, err := lib.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if l.Size() != 0x240 {
		t.Errorf("library size = %#x, want 0x240", l.Size())
	}
	var sum uint32
	for _, c := range l.Compilands() {
		sum += c.Size()
	}
	if sum != l.Size() {
		t.Errorf("library size %#x != sum of compilands %#x", l.Size(), sum)
	}
	wantRanges := []rva.Range{{Start: 0x1000, End: 0x1200}, {Start: 0x1300, End: 0x1340}}
	if diff := cmp.Diff(wantRanges, l.SectionContributions()[text].Ranges()); diff != "" {
		t.Errorf("library ranges mismatch (-want +got):\n%s", diff)
	}
	if got := l.Compilands(); len(got) != 2 || got[0].Name() != "a.obj" || got[1].Name() != "b.obj" {
		t.Errorf("Compilands() = %v", got)
	}
	if _, err := lib.NewCompiland("c.obj", 3, CommandLine{}); !isFrozen(err) {
		t.Errorf("NewCompiland after freeze: got %v, want FrozenError", err)
	}
	if got, err := sess.Library(lib.ID()); err != nil || got != l {
		t.Errorf("Session.Library = %v, %v", got, err)
	}
}

func TestLibraryOverlappingCompilands(t *testing.T) {
	if !debugChecks {
		t.Skip("roll-up check is compiled out")
	}
	sess, text, mn, _ := textSession(t)
	lib, _ := sess.NewLibrary("x.lib")
	a, _ := lib.NewCompiland("a.obj", 1, CommandLine{})
	b, _ := lib.NewCompiland("b.obj", 2, CommandLine{})
	must(t, a.AddRange(text, mn, rva.FromSize(0x1000, 0x100)))
	must(t, b.AddRange(text, mn, rva.FromSize(0x1080, 0x100)))
	_, err := lib.Freeze()
	var ie *InvariantError
	if !errors.As(err, &ie) {
		t.Errorf("Freeze error = %v, want InvariantError", err)
	}
}

func TestSourceFileSlop(t *testing.T) {
	sess, text, mn, _ := textSession(t)
	lib, _ := sess.NewLibrary("x.lib")
	a, _ := lib.NewCompiland("a.obj", 1, CommandLine{})
	b, _ := lib.NewCompiland("b.obj", 2, CommandLine{})

	// A header contributes an inline function to both compilands. The
	// copies abut in .text.
	sf, err := sess.NewSourceFile(`c:\inc\util.h`)
	if err != nil {
		t.Fatal(err)
	}
	must(t, sf.AddRange(a.SymIndex(), text, mn, rva.FromSize(0x1000, 0x20)))
	must(t, sf.AddRange(b.SymIndex(), text, mn, rva.FromSize(0x1020, 0x20)))
	f, err := sf.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if f.Size() != 0x40 {
		t.Errorf("size = %#x, want 0x40", f.Size())
	}
	if diff := cmp.Diff([]uint32{1, 2}, f.Compilands()); diff != "" {
		t.Errorf("Compilands mismatch (-want +got):\n%s", diff)
	}
	if got := f.CompilandContributions()[2].Ranges(); len(got) != 1 || got[0] != rva.FromSize(0x1020, 0x20) {
		t.Errorf("compiland 2 ranges = %v", got)
	}
	if !f.Contains(0x1010, 0x20) {
		t.Errorf("Contains across compilands = false, want true")
	}
	if got, err := sess.SourceFile(sf.ID()); err != nil || got != f {
		t.Errorf("Session.SourceFile = %v, %v", got, err)
	}
}

func TestSourceFileSlopExceeded(t *testing.T) {
	if !debugChecks {
		t.Skip("slop check is compiled out")
	}
	sess, text, mn, _ := textSession(t)
	lib, _ := sess.NewLibrary("x.lib")
	a, _ := lib.NewCompiland("a.obj", 1, CommandLine{})
	sf, _ := sess.NewSourceFile("a.c")
	cc, _ := sf.ContributionForCompiland(a.SymIndex())
	must(t, cc.AddRange(rva.FromSize(0x1000, 0x40)))
	must(t, sf.AddRange(a.SymIndex(), text, mn, rva.FromSize(0x1000, 0x10)))
	// 0x40 bytes by compiland against 0x10 by section; slop is 8.
	_, err := sf.Freeze()
	var ie *InvariantError
	if !errors.As(err, &ie) {
		t.Errorf("Freeze error = %v, want InvariantError", err)
	}
}

func TestSourceFileUnknownCompiland(t *testing.T) {
	sess, _, _, _ := textSession(t)
	sf, _ := sess.NewSourceFile("a.c")
	var ie *InvariantError
	if _, err := sf.ContributionForCompiland(99); !errors.As(err, &ie) {
		t.Errorf("ContributionForCompiland(99) = %v, want InvariantError", err)
	}
}

func TestEmptyAggregates(t *testing.T) {
	sess, _, _, _ := textSession(t)
	lib, _ := sess.NewLibrary("empty.lib")
	cb, _ := lib.NewCompiland("empty.obj", 1, CommandLine{})
	sfb, _ := sess.NewSourceFile("empty.c")

	c, err := cb.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	l, err := lib.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	f, err := sfb.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	for _, agg := range []interface {
		Size() uint32
		VirtualSize() uint32
		SectionContributions() map[SectionID]*Contribution
	}{c, l, f} {
		if agg.Size() != 0 || agg.VirtualSize() != 0 || len(agg.SectionContributions()) != 0 {
			t.Errorf("%v: size %#x/%#x, %d contributions, want empty", agg, agg.Size(), agg.VirtualSize(), len(agg.SectionContributions()))
		}
	}
}

func TestAggregateFrozen(t *testing.T) {
	sess, text, mn, _ := textSession(t)
	lib, _ := sess.NewLibrary("x.lib")
	cb, _ := lib.NewCompiland("a.obj", 1, CommandLine{})
	sfb, _ := sess.NewSourceFile("a.c")
	if _, err := lib.Freeze(); err != nil {
		t.Fatal(err)
	}
	if _, err := sfb.Freeze(); err != nil {
		t.Fatal(err)
	}
	for label, err := range map[string]error{
		"compiland section":     second(cb.ContributionForSection(text)),
		"compiland COFF group":  second(cb.ContributionForCOFFGroup(mn)),
		"library section":       second(lib.ContributionForSection(text)),
		"library COFF group":    second(lib.ContributionForCOFFGroup(mn)),
		"source file section":   second(sfb.ContributionForSection(text)),
		"source file group":     second(sfb.ContributionForCOFFGroup(mn)),
		"source file compiland": second(sfb.ContributionForCompiland(1)),
	} {
		if !isFrozen(err) {
			t.Errorf("%s after freeze: got %v, want FrozenError", label, err)
		}
	}
}

func TestContributionForIdempotent(t *testing.T) {
	sess, text, _, _ := textSession(t)
	lib, _ := sess.NewLibrary("x.lib")
	cb, _ := lib.NewCompiland("a.obj", 1, CommandLine{})
	c1, _ := cb.ContributionForSection(text)
	c2, _ := cb.ContributionForSection(text)
	if c1 != c2 {
		t.Errorf("ContributionForSection returned distinct contributions")
	}
	var ie *InvariantError
	if _, err := cb.ContributionForSection(42); !errors.As(err, &ie) {
		t.Errorf("ContributionForSection(42) = %v, want InvariantError", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func second[T any](_ T, err error) error {
	return err
}
