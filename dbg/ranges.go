// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"debug/dwarf"

	"github.com/aclements/go-binlayout/internal/imap"
)

type entryMap struct {
	m imap.Map[*dwarf.Entry]
}

func (m *entryMap) add(dw *dwarf.Data, ent *dwarf.Entry) error {
	rs, err := dw.Ranges(ent)
	if err != nil {
		return err
	}
	for _, r := range rs {
		m.m.Insert(imap.Interval{Low: r[0], High: r[1]}, ent)
	}
	return nil
}

func (m *entryMap) find(addr uint64) *dwarf.Entry {
	_, val, _ := m.m.Find(addr)
	return val
}

// cuRanges indexes the PC ranges in dw.
func cuRanges(dw *dwarf.Data) (entryMap, []CU, error) {
	var out entryMap
	var units []CU
	dr := dw.Reader()
	for {
		ent, err := dr.Next()
		if err != nil {
			return entryMap{}, nil, err
		}
		if ent == nil {
			break
		}
		// Only read the top level.
		dr.SkipChildren()

		if ent.Tag != dwarf.TagCompileUnit {
			continue
		}
		if err := out.add(dw, ent); err != nil {
			return entryMap{}, nil, err
		}
		units = append(units, CU{ent})
	}

	return out, units, nil
}

// CU is a DWARF compilation unit entry.
type CU struct {
	*dwarf.Entry
}

func (cu CU) str(attr dwarf.Attr) string {
	s, _ := cu.Val(attr).(string)
	return s
}

// Name returns the primary source file name of cu.
func (cu CU) Name() string { return cu.str(dwarf.AttrName) }

// CompDir returns the compilation directory of cu.
func (cu CU) CompDir() string { return cu.str(dwarf.AttrCompDir) }

// Producer returns the producer string of cu, which typically names
// the compiler and its flags.
func (cu CU) Producer() string { return cu.str(dwarf.AttrProducer) }

// Ranges returns the PC ranges covered by cu.
func (d *Data) Ranges(cu CU) ([][2]uint64, error) {
	return d.dw.Ranges(cu.Entry)
}

// AddrToCU returns the DWARF compilation unit containing address addr,
// or CU{}, false if no CU contains addr.
func (d *Data) AddrToCU(addr uint64) (CU, bool) {
	entry := d.cuRanges.find(addr)
	if entry == nil {
		return CU{}, false
	}
	return CU{entry}, true
}
