// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analysis builds a frozen layout model of a binary from its
// raw contributions and answers attribution queries against it.
package analysis

import (
	"fmt"
	"io"
	"time"

	"github.com/aclements/go-binlayout/input"
	"github.com/aclements/go-binlayout/internal/imap"
	"github.com/aclements/go-binlayout/layout"
	"github.com/aclements/go-binlayout/rva"
	"github.com/sirupsen/logrus"
)

// Options configures Build.
type Options struct {
	// Log receives progress and skipped contributions. If nil,
	// logging is discarded.
	Log logrus.FieldLogger

	// MergeTolerance is the largest gap, in bytes, bridged between
	// ranges of one compiland in the attribution index.
	MergeTolerance uint32

	// Workers bounds the parallelism of AttributeAll. Values below 1
	// mean 1.
	Workers int
}

type builder struct {
	in   *input.Binary
	opts Options
	log  logrus.FieldLogger
	sess *layout.Session

	libs       []*layout.LibraryBuilder
	compilands map[uint32]*layout.CompilandBuilder

	// preIndex maps addresses to the symbol index of the compiland
	// that contributed them, before freezing.
	preIndex imap.Map[uint32]

	sourceFiles []*layout.SourceFileBuilder

	frozenLibs  []*layout.Library
	frozenFiles []*layout.SourceFile
}

// Build constructs the layout model of in. It builds sections and
// their COFF groups, freezes the sections, initializes the symbol
// table, attributes compiland and source file ranges, and freezes
// libraries and source files, in that order. It stops at the first
// error.
func Build(in *input.Binary, opts Options) (*Model, error) {
	if opts.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Log = l
	}
	ws, err := in.WordSize()
	if err != nil {
		return nil, err
	}
	b := &builder{
		in:         in,
		opts:       opts,
		log:        opts.Log,
		sess:       layout.NewSession(ws),
		compilands: make(map[uint32]*layout.CompilandBuilder),
	}
	m, err := b.build()
	if err != nil {
		b.sess.Close()
		return nil, err
	}
	return m, nil
}

func (b *builder) build() (*Model, error) {
	for _, pass := range []struct {
		name string
		fn   func() error
	}{
		{"sections", b.buildSections},
		{"symbols", b.buildSymbols},
		{"compilands", b.buildCompilands},
		{"source files", b.buildSourceFiles},
		{"freeze libraries", b.freezeLibraries},
		{"freeze source files", b.freezeSourceFiles},
	} {
		start := time.Now()
		if err := pass.fn(); err != nil {
			return nil, err
		}
		b.log.WithFields(logrus.Fields{"pass": pass.name, "elapsed": time.Since(start)}).Debug("pass done")
	}
	return newModel(b.sess, b.in, b.opts, b.frozenLibs, b.frozenFiles), nil
}

func (b *builder) buildSections() error {
	for _, s := range b.in.Sections {
		flags := layout.Characteristics(s.Flags)
		sb, err := b.sess.NewSection(layout.SectionHeader{
			Name:             s.Name,
			RVA:              s.RVA,
			Size:             s.Size,
			VirtualSize:      s.VirtualSize,
			FileAlignment:    b.in.FileAlignment,
			SectionAlignment: b.in.SectionAlignment,
			Characteristics:  flags,
		})
		if err != nil {
			return fmt.Errorf("section %s: %w", s.Name, err)
		}
		for _, g := range s.COFFGroups {
			gflags := layout.Characteristics(g.Flags)
			if gflags == 0 {
				gflags = flags
			}
			gb, err := b.sess.NewCOFFGroup(layout.COFFGroupHeader{
				Name:             g.Name,
				RVA:              g.RVA,
				RawSize:          g.Size,
				FileAlignment:    b.in.FileAlignment,
				SectionAlignment: b.in.SectionAlignment,
				Characteristics:  gflags,
			})
			if err != nil {
				return fmt.Errorf("section %s: COFF group %s: %w", s.Name, g.Name, err)
			}
			if err := sb.AddCOFFGroup(gb); err != nil {
				return fmt.Errorf("section %s: %w", s.Name, err)
			}
		}
		if _, err := sb.Freeze(); err != nil {
			return fmt.Errorf("section %s: %w", s.Name, err)
		}
	}
	b.log.WithField("sections", len(b.in.Sections)).Debug("froze sections")
	return nil
}

func (b *builder) buildSymbols() error {
	b.sess.InitializeRVARanges(b.in.SymbolIndicesByRVA(), b.in.Labels)
	return nil
}

// rawRange converts an input range. Build does not assume its input
// was validated.
func rawRange(r input.Range) (rva.Range, error) {
	if !rva.Fits(r.RVA, r.Size) {
		return rva.Range{}, fmt.Errorf("range [%#x,+%#x) extends past the end of the address space", r.RVA, r.Size)
	}
	return rva.FromSize(r.RVA, r.Size), nil
}

// split cuts r at COFF group boundaries. Bytes outside every group are
// dropped. Pieces in virtual-only groups are marked VirtualOnly.
func (b *builder) split(r rva.Range, fn func(g *layout.COFFGroup, piece rva.Range) error) (dropped uint32, err error) {
	covered := uint32(0)
	for _, g := range b.sess.COFFGroupsOverlapping(r) {
		gr := g.Range()
		piece := r.Intersect(gr)
		if piece.Empty() {
			continue
		}
		piece.VirtualOnly = gr.VirtualOnly
		covered += piece.Size()
		if err := fn(g, piece); err != nil {
			return 0, err
		}
	}
	return r.Size() - covered, nil
}

func (b *builder) buildCompilands() error {
	libs := make(map[string]*layout.LibraryBuilder)
	for _, c := range b.in.Compilands {
		lib := libs[c.Library]
		if lib == nil {
			var err error
			lib, err = b.sess.NewLibrary(c.Library)
			if err != nil {
				return fmt.Errorf("library %s: %w", c.Library, err)
			}
			libs[c.Library] = lib
			b.libs = append(b.libs, lib)
		}
		cb, err := lib.NewCompiland(c.Name, c.SymIndex, input.ParseCommandLine(c.CommandLine))
		if err != nil {
			return fmt.Errorf("compiland %s: %w", c.Name, err)
		}
		b.compilands[c.SymIndex] = cb

		for _, raw := range c.Ranges {
			r, err := rawRange(raw)
			if err != nil {
				return fmt.Errorf("compiland %s: %w", c.Name, err)
			}
			dropped, err := b.split(r, func(g *layout.COFFGroup, piece rva.Range) error {
				b.preIndex.Insert(imap.Interval{Low: uint64(piece.Start), High: uint64(piece.End)}, c.SymIndex)
				return cb.AddRange(g.Section(), g.ID(), piece)
			})
			if err != nil {
				return fmt.Errorf("compiland %s: %w", c.Name, err)
			}
			if dropped > 0 {
				b.log.WithFields(logrus.Fields{"compiland": c.Name, "range": r, "dropped": dropped}).Debug("skipping bytes outside any COFF group")
			}
		}
	}
	b.log.WithFields(logrus.Fields{"libraries": len(b.libs), "compilands": len(b.compilands)}).Debug("attributed compilands")
	return nil
}

func (b *builder) buildSourceFiles() error {
	for _, f := range b.in.SourceFiles {
		sf, err := b.sess.NewSourceFile(f.Name)
		if err != nil {
			return fmt.Errorf("source file %s: %w", f.Name, err)
		}
		b.sourceFiles = append(b.sourceFiles, sf)

		for _, raw := range f.Ranges {
			r, err := rawRange(raw)
			if err != nil {
				return fmt.Errorf("source file %s: %w", f.Name, err)
			}
			var unowned uint32
			dropped, err := b.split(r, func(g *layout.COFFGroup, piece rva.Range) error {
				// Split at compiland boundaries. preIndex is complete
				// since buildCompilands added every compiland range. A
				// range that names its compiland keeps only the bytes
				// that compiland contributed.
				owned := uint32(0)
				for it := b.preIndex.Iter(uint64(piece.Start)); it.Valid() && it.Key().Low < uint64(piece.End); it.Next() {
					owner := it.Value()
					if raw.Compiland != 0 && owner != raw.Compiland {
						continue
					}
					k := it.Key()
					sub := piece.Intersect(rva.Range{Start: uint32(k.Low), End: uint32(k.High)})
					owned += sub.Size()
					if err := sf.AddRange(owner, g.Section(), g.ID(), sub); err != nil {
						return err
					}
				}
				unowned += piece.Size() - owned
				return nil
			})
			if err != nil {
				return fmt.Errorf("source file %s: %w", f.Name, err)
			}
			if dropped+unowned > 0 {
				b.log.WithFields(logrus.Fields{"sourceFile": f.Name, "range": r, "dropped": dropped + unowned}).Debug("skipping bytes not owned by a compiland")
			}
		}
	}
	return nil
}

func (b *builder) freezeLibraries() error {
	for _, lib := range b.libs {
		l, err := lib.Freeze()
		if err != nil {
			return fmt.Errorf("library %s: %w", lib.Name(), err)
		}
		b.frozenLibs = append(b.frozenLibs, l)
	}
	return nil
}

func (b *builder) freezeSourceFiles() error {
	for _, sf := range b.sourceFiles {
		f, err := sf.Freeze()
		if err != nil {
			return fmt.Errorf("source file %s: %w", sf.Name(), err)
		}
		b.frozenFiles = append(b.frozenFiles, f)
	}
	return nil
}
