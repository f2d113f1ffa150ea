// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch provides basic descriptions of CPU architectures.
package arch

import "debug/pe"

// An Arch describes a CPU architecture.
type Arch struct {
	// Layout is the byte order and word size of this architecture.
	Layout Layout

	// Name is the GOARCH-style name of this architecture.
	Name string

	// Machine is the IMAGE_FILE_MACHINE_* value PE images use for
	// this architecture.
	Machine uint16

	// FunctionEntrySize is the size in bytes of one entry in the PE
	// exception directory (.pdata), or 0 if the architecture has no
	// table-based unwinding.
	FunctionEntrySize int
}

var (
	AMD64 = &Arch{Layout{0, 8}, "amd64", pe.IMAGE_FILE_MACHINE_AMD64, 12}
	I386  = &Arch{Layout{0, 4}, "386", pe.IMAGE_FILE_MACHINE_I386, 0}
	ARM64 = &Arch{Layout{0, 8}, "arm64", pe.IMAGE_FILE_MACHINE_ARM64, 8}
)

var all = []*Arch{AMD64, I386, ARM64}

// ByMachine returns the Arch for a PE machine type, or nil if it is
// not supported.
func ByMachine(machine uint16) *Arch {
	for _, a := range all {
		if a.Machine == machine {
			return a
		}
	}
	return nil
}

// ByName returns the Arch with the given name, or nil if it is not
// supported.
func ByName(name string) *Arch {
	for _, a := range all {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// String returns the name of a.
func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.Name
}
