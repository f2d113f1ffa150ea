// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"debug/pe"
	"strings"
)

// Characteristics is the set of IMAGE_SCN_* flags of a section or COFF
// group.
type Characteristics uint32

const (
	CntCode              Characteristics = pe.IMAGE_SCN_CNT_CODE
	CntInitializedData   Characteristics = pe.IMAGE_SCN_CNT_INITIALIZED_DATA
	CntUninitializedData Characteristics = pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA
	MemExecute           Characteristics = pe.IMAGE_SCN_MEM_EXECUTE
	MemRead              Characteristics = pe.IMAGE_SCN_MEM_READ
	MemWrite             Characteristics = pe.IMAGE_SCN_MEM_WRITE
)

// Code indicates the region contains executable code.
func (c Characteristics) Code() bool { return c&CntCode != 0 }

// InitializedData indicates the region contains initialized data.
func (c Characteristics) InitializedData() bool { return c&CntInitializedData != 0 }

// UninitializedData indicates the region contains zero-initialized data.
func (c Characteristics) UninitializedData() bool { return c&CntUninitializedData != 0 }

// Executable indicates the region is mapped executable.
func (c Characteristics) Executable() bool { return c&MemExecute != 0 }

// Readable indicates the region is mapped readable.
func (c Characteristics) Readable() bool { return c&MemRead != 0 }

// Writable indicates the region is mapped writable.
func (c Characteristics) Writable() bool { return c&MemWrite != 0 }

// String returns a string representation of the flags set in c, in the
// style of dumpbin.
func (c Characteristics) String() string {
	if c == 0 {
		return "{}"
	}
	var buf strings.Builder
	var sep byte = '{'
	add := func(set bool, name string) {
		if set {
			buf.WriteByte(sep)
			buf.WriteString(name)
			sep = ','
		}
	}
	add(c.Code(), "Code")
	add(c.InitializedData(), "Initialized")
	add(c.UninitializedData(), "Uninitialized")
	add(c.Executable(), "Execute")
	add(c.Readable(), "Read")
	add(c.Writable(), "Write")
	if sep == '{' {
		buf.WriteByte(sep)
	}
	buf.WriteByte('}')
	return buf.String()
}
