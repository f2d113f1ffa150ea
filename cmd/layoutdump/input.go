// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/aclements/go-binlayout/analysis"
	"github.com/aclements/go-binlayout/dbg"
	"github.com/aclements/go-binlayout/input"
	"github.com/aclements/go-binlayout/internal/config"
	"github.com/aclements/go-binlayout/obj"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// inputFlags selects the binary a command operates on.
type inputFlags struct {
	manifest string
	binary   string
}

func (in *inputFlags) SetFlags(f *flag.FlagSet) {
	f.StringVar(&in.manifest, "manifest", "", "read raw contributions from a YAML manifest `file`")
	f.StringVar(&in.binary, "binary", "", "import raw contributions from a PE `file` and its DWARF")
}

// load decodes the selected input.
func (in *inputFlags) load() (*input.Binary, error) {
	switch {
	case in.manifest != "" && in.binary != "":
		return nil, errors.New("-manifest and -binary are mutually exclusive")
	case in.manifest != "":
		f, err := os.Open(in.manifest)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		b, err := input.LoadManifest(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.manifest, err)
		}
		return b, nil
	case in.binary != "":
		img, err := obj.OpenFile(in.binary)
		if err != nil {
			return nil, err
		}
		defer img.Close()
		var d *dbg.Data
		if img.HasDWARF() {
			dw, err := img.DWARF()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", in.binary, err)
			}
			if d, err = dbg.New(dw); err != nil {
				return nil, fmt.Errorf("%s: %w", in.binary, err)
			}
		}
		return input.FromImage(img, d, logrus.WithField("binary", in.binary))
	}
	return nil, errors.New("one of -manifest or -binary is required")
}

// model loads the selected input and builds its layout model.
func (in *inputFlags) model(conf *config.Config) (*analysis.Model, error) {
	b, err := in.load()
	if err != nil {
		return nil, err
	}
	if conf.BytesPerWord != 0 {
		b.BytesPerWord = conf.BytesPerWord
	}
	return analysis.Build(b, analysis.Options{
		Log:            logrus.StandardLogger(),
		MergeTolerance: uint32(conf.MergeTolerance),
		Workers:        conf.Workers,
	})
}

// failf logs an error and returns the failure exit status.
func failf(format string, args ...any) subcommands.ExitStatus {
	logrus.Errorf(format, args...)
	return subcommands.ExitFailure
}
