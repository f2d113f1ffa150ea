// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command layoutdump reconstructs the layout of a linked PE binary and
// reports how its bytes divide among sections, COFF groups, libraries,
// compilands, and source files.
//
// Usage:
//
//	layoutdump [-config file] <command> [-manifest file | -binary file] [args]
//
// The input is either a YAML manifest of raw contributions or a PE
// image with DWARF debug info.
package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/aclements/go-binlayout/internal/config"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "", "path to a TOML configuration `file`")
	logLevel   = flag.String("log-level", "", "override the configured log level")
)

func main() {
	cdr := newCommander(flag.CommandLine, os.Stdout)
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatal(err)
	}
	if *logLevel != "" {
		conf.LogLevel = *logLevel
	}
	if err := conf.ConfigureLogger(logrus.StandardLogger()); err != nil {
		logrus.Fatal(err)
	}
	os.Exit(int(cdr.Execute(context.Background(), conf)))
}

func newCommander(fs *flag.FlagSet, out io.Writer) *subcommands.Commander {
	cdr := subcommands.NewCommander(fs, "layoutdump")
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")
	cdr.Register(&sectionsCmd{out: out}, "")
	cdr.Register(&compilandsCmd{out: out}, "")
	cdr.Register(&librariesCmd{out: out}, "")
	cdr.Register(&sourceFilesCmd{out: out}, "")
	cdr.Register(&lookupCmd{out: out}, "")
	cdr.Register(&exportCmd{out: out}, "")
	return cdr
}
