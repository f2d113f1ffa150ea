// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aclements/go-binlayout/internal/config"
	"github.com/google/subcommands"
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
      - {rva: 0x1000, size: 0x100}
  - name: b.obj
    library: b.lib
    sym_index: 2
    ranges:
      - {rva: 0x1100, size: 0x210}
source_files:
  - name: a.c
    ranges:
      - {rva: 0x1000, size: 0x100}
symbols:
  - {rva: 0x1000, index: 10, name: main}
  - {rva: 0x1100, index: 11}
`

func run(t *testing.T, args ...string) (string, subcommands.ExitStatus) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for i, a := range args {
		if a == "MANIFEST" {
			args[i] = path
		}
	}
	var out bytes.Buffer
	fs := flag.NewFlagSet("layoutdump", flag.ContinueOnError)
	cdr := newCommander(fs, &out)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	status := cdr.Execute(context.Background(), config.Default())
	return out.String(), status
}

// fields splits tabwriter output into space-separated fields per line.
func fields(out string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		rows = append(rows, strings.Fields(line))
	}
	return rows
}

func TestSections(t *testing.T) {
	out, status := run(t, "sections", "-manifest", "MANIFEST")
	if status != subcommands.ExitSuccess {
		t.Fatalf("exit status %v", status)
	}
	rows := fields(out)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4:\n%s", len(rows), out)
	}
	if got := strings.Join(rows[1][:5], " "); got != ".text 0x1000 0x400 0x310 0xcf0" {
		t.Errorf("section row %q", got)
	}
	if got := strings.Join(rows[3][:6], " "); got != ".text$x 0x1300 0x10 0x10 0xf0 0xcf0" {
		t.Errorf("group row %q", got)
	}
}

func TestLibraries(t *testing.T) {
	out, status := run(t, "libraries", "-manifest", "MANIFEST")
	if status != subcommands.ExitSuccess {
		t.Fatalf("exit status %v", status)
	}
	want := "NAME COMPILANDS SIZE VSIZE\na.lib 1 0x100 0x100\nb.lib 1 0x210 0x210"
	var got []string
	for _, row := range fields(out) {
		got = append(got, strings.Join(row, " "))
	}
	if strings.Join(got, "\n") != want {
		t.Errorf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestLookup(t *testing.T) {
	out, status := run(t, "lookup", "-manifest", "MANIFEST", "0x1000+0x200", "0x1305", "0x9000")
	if status != subcommands.ExitSuccess {
		t.Fatalf("exit status %v", status)
	}
	rows := fields(out)
	want := [][]string{
		{"RANGE", "SECTION", "GROUP", "COMPILAND", "LIBRARY", "SOURCE", "SYMBOLS"},
		{"[0x1000,0x1200)", ".text", ".text$mn", "a.obj", "a.lib", "a.c", "main,#11"},
		{"[0x1305,0x1306)", ".text", ".text$x", "b.obj", "b.lib", "-", "-"},
		{"[0x9000,0x9001)", "-", "-", "-", "-", "-", "-"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d:\n%s", len(rows), len(want), out)
	}
	for i := range want {
		if strings.Join(rows[i], " ") != strings.Join(want[i], " ") {
			t.Errorf("row %d: got %q, want %q", i, rows[i], want[i])
		}
	}
}

func TestLookupUsage(t *testing.T) {
	if _, status := run(t, "lookup", "-manifest", "MANIFEST"); status != subcommands.ExitUsageError {
		t.Errorf("lookup without addresses: status %v", status)
	}
	if _, status := run(t, "lookup", "-manifest", "MANIFEST", "zzz"); status != subcommands.ExitFailure {
		t.Errorf("lookup with bad address: status %v", status)
	}
	if _, status := run(t, "sections"); status != subcommands.ExitFailure {
		t.Errorf("sections without input: status %v", status)
	}
}

func TestExport(t *testing.T) {
	out, status := run(t, "export", "-manifest", "MANIFEST")
	if status != subcommands.ExitSuccess {
		t.Fatalf("exit status %v", status)
	}
	for _, want := range []string{"name: .text$mn", "library: b.lib", "- code"} {
		if !strings.Contains(out, want) {
			t.Errorf("export output missing %q:\n%s", want, out)
		}
	}
}

func TestParseRange(t *testing.T) {
	for _, test := range []struct {
		in   string
		want string
	}{
		{"0x1000", "[0x1000,0x1001)"},
		{"4096+16", "[0x1000,0x1010)"},
		{"0xfffffff0+0xf", "[0xfffffff0,0xffffffff)"},
	} {
		r, err := parseRange(test.in)
		if err != nil || r.String() != test.want {
			t.Errorf("parseRange(%q) = %v, %v, want %s", test.in, r, err, test.want)
		}
	}
	for _, bad := range []string{"", "x", "0x1000+", "0xffffffff", "0x100000000"} {
		if _, err := parseRange(bad); err == nil {
			t.Errorf("parseRange(%q) succeeded", bad)
		}
	}
}
