// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dbg indexes the compilation units and line tables in DWARF
// debug info by address.
package dbg

import (
	"debug/dwarf"
)

// Data wraps dwarf.Data to provide address lookups over compilation
// units and their line tables. Line tables are decoded lazily and
// cached, so Data is safe for concurrent use.
type Data struct {
	dw *dwarf.Data

	cuRanges entryMap
	units    []CU

	cus map[CU]*cuData
}

type cuData struct {
	lineTable lineTableCache
}

// New returns a new Data wrapping dw.
func New(dw *dwarf.Data) (*Data, error) {
	// Index the CU ranges eagerly. This is pretty cheap, almost
	// everything else depends on this, and it will catch basic encoding
	// errors right away.
	cuRanges, units, err := cuRanges(dw)
	if err != nil {
		return nil, err
	}
	cus := make(map[CU]*cuData, len(units))
	for _, cu := range units {
		cus[cu] = new(cuData)
	}
	return &Data{dw: dw, cuRanges: cuRanges, units: units, cus: cus}, nil
}

// Units returns the compilation units of d in the order they appear in
// the debug info.
func (d *Data) Units() []CU {
	return d.units
}
