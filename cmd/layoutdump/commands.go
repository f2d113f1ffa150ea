// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/aclements/go-binlayout/analysis"
	"github.com/aclements/go-binlayout/input"
	"github.com/aclements/go-binlayout/internal/config"
	"github.com/aclements/go-binlayout/rva"
	"github.com/google/subcommands"
)

func newTable(out io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

// withModel runs fn over the model selected by in, reporting errors.
func withModel(in *inputFlags, f *flag.FlagSet, args []any, fn func(m *analysis.Model) error) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	m, err := in.model(conf)
	if err != nil {
		return failf("%v", err)
	}
	defer m.Close()
	if err := fn(m); err != nil {
		return failf("%s: %v", f.Name(), err)
	}
	return subcommands.ExitSuccess
}

// sectionsCmd implements subcommands.Command for the "sections" command.
type sectionsCmd struct {
	inputFlags
	out io.Writer
}

func (*sectionsCmd) Name() string     { return "sections" }
func (*sectionsCmd) Synopsis() string { return "list sections with their COFF groups and slop" }
func (*sectionsCmd) Usage() string {
	return "sections [-manifest file | -binary file]\n"
}

func (c *sectionsCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withModel(&c.inputFlags, f, args, func(m *analysis.Model) error {
		tw := newTable(c.out, "NAME", "RVA", "SIZE", "VSIZE", "TAIL", "VTAIL", "FLAGS")
		for _, s := range m.Sections() {
			fmt.Fprintf(tw, "%s\t%#x\t%#x\t%#x\t\t%#x\t%v\n", s.Name(), s.RVA(), s.Size(), s.VirtualSize(), s.TailSlopVirtualSize(), s.Characteristics())
			for _, g := range s.COFFGroups() {
				fmt.Fprintf(tw, "  %s\t%#x\t%#x\t%#x\t%#x\t%#x\t%v\n", g.Name(), g.RVA(), g.Size(), g.VirtualSize(), g.TailSlopSize(), g.TailSlopVirtualSize(), g.Characteristics())
			}
		}
		return tw.Flush()
	})
}

// compilandsCmd implements subcommands.Command for the "compilands" command.
type compilandsCmd struct {
	inputFlags
	out io.Writer
}

func (*compilandsCmd) Name() string     { return "compilands" }
func (*compilandsCmd) Synopsis() string { return "list compilands with their sizes" }
func (*compilandsCmd) Usage() string {
	return "compilands [-manifest file | -binary file]\n"
}

func (c *compilandsCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withModel(&c.inputFlags, f, args, func(m *analysis.Model) error {
		tw := newTable(c.out, "INDEX", "NAME", "LIBRARY", "SIZE", "VSIZE", "COMMAND")
		for _, comp := range m.Compilands() {
			lib, err := m.Session().Library(comp.Library())
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%#x\t%#x\t%s\n", comp.SymIndex(), comp.Name(), lib.Name(), comp.Size(), comp.VirtualSize(), comp.CommandLine())
		}
		return tw.Flush()
	})
}

// librariesCmd implements subcommands.Command for the "libraries" command.
type librariesCmd struct {
	inputFlags
	out io.Writer
}

func (*librariesCmd) Name() string     { return "libraries" }
func (*librariesCmd) Synopsis() string { return "list libraries with their sizes" }
func (*librariesCmd) Usage() string {
	return "libraries [-manifest file | -binary file]\n"
}

func (c *librariesCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withModel(&c.inputFlags, f, args, func(m *analysis.Model) error {
		tw := newTable(c.out, "NAME", "COMPILANDS", "SIZE", "VSIZE")
		for _, lib := range m.Libraries() {
			fmt.Fprintf(tw, "%s\t%d\t%#x\t%#x\n", lib.Name(), len(lib.Compilands()), lib.Size(), lib.VirtualSize())
		}
		return tw.Flush()
	})
}

// sourceFilesCmd implements subcommands.Command for the "sourcefiles" command.
type sourceFilesCmd struct {
	inputFlags
	out io.Writer
}

func (*sourceFilesCmd) Name() string     { return "sourcefiles" }
func (*sourceFilesCmd) Synopsis() string { return "list source files with their sizes" }
func (*sourceFilesCmd) Usage() string {
	return "sourcefiles [-manifest file | -binary file]\n"
}

func (c *sourceFilesCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	return withModel(&c.inputFlags, f, args, func(m *analysis.Model) error {
		tw := newTable(c.out, "NAME", "COMPILANDS", "SIZE", "VSIZE")
		for _, sf := range m.SourceFiles() {
			fmt.Fprintf(tw, "%s\t%v\t%#x\t%#x\n", sf.Name(), sf.Compilands(), sf.Size(), sf.VirtualSize())
		}
		return tw.Flush()
	})
}

// lookupCmd implements subcommands.Command for the "lookup" command.
type lookupCmd struct {
	inputFlags
	out io.Writer
}

func (*lookupCmd) Name() string     { return "lookup" }
func (*lookupCmd) Synopsis() string { return "show the owners of addresses" }
func (*lookupCmd) Usage() string {
	return `lookup [-manifest file | -binary file] <rva>[+size]...

Reports the section, COFF group, compiland, library, source files, and
symbols at each RVA. size defaults to 1.
`
}

func parseRange(s string) (rva.Range, error) {
	start, size, hasSize := strings.Cut(s, "+")
	a, err := strconv.ParseUint(start, 0, 32)
	if err != nil {
		return rva.Range{}, fmt.Errorf("bad RVA %q", start)
	}
	n := uint64(1)
	if hasSize {
		if n, err = strconv.ParseUint(size, 0, 32); err != nil {
			return rva.Range{}, fmt.Errorf("bad size %q", size)
		}
	}
	if a+n > math.MaxUint32 {
		return rva.Range{}, fmt.Errorf("range %s overflows the address space", s)
	}
	return rva.FromSize(uint32(a), uint32(n)), nil
}

func (c *lookupCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	var rs []rva.Range
	for _, arg := range f.Args() {
		r, err := parseRange(arg)
		if err != nil {
			return failf("%v", err)
		}
		rs = append(rs, r)
	}
	return withModel(&c.inputFlags, f, args, func(m *analysis.Model) error {
		attrs, err := m.AttributeAll(ctx, rs)
		if err != nil {
			return err
		}
		tw := newTable(c.out, "RANGE", "SECTION", "GROUP", "COMPILAND", "LIBRARY", "SOURCE", "SYMBOLS")
		for _, a := range attrs {
			section, group, comp, lib := "-", "-", "-", "-"
			if a.Section != nil {
				section = a.Section.Name()
			}
			if a.COFFGroup != nil {
				group = a.COFFGroup.Name()
			}
			if a.Compiland != nil {
				comp = a.Compiland.Name()
			}
			if a.Library != nil {
				lib = a.Library.Name()
			}
			var files, syms []string
			for _, sf := range a.SourceFiles {
				files = append(files, sf.Name())
			}
			for _, s := range a.Symbols {
				if s.Name != "" {
					syms = append(syms, s.Name)
				} else {
					syms = append(syms, "#"+strconv.FormatUint(uint64(s.Index), 10))
				}
			}
			fmt.Fprintf(tw, "%v\t%s\t%s\t%s\t%s\t%s\t%s\n", a.Range, section, group, comp, lib, orDash(files), orDash(syms))
		}
		return tw.Flush()
	})
}

func orDash(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ",")
}

// exportCmd implements subcommands.Command for the "export" command.
type exportCmd struct {
	inputFlags
	out io.Writer
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write the raw contributions as a YAML manifest" }
func (*exportCmd) Usage() string {
	return "export [-manifest file | -binary file]\n"
}

func (c *exportCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	b, err := c.load()
	if err != nil {
		return failf("%v", err)
	}
	if err := input.WriteManifest(c.out, b); err != nil {
		return failf("%v", err)
	}
	return subcommands.ExitSuccess
}
