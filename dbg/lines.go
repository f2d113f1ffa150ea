// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"debug/dwarf"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aclements/go-binlayout/internal/imap"
)

// A FileRange is a PC range whose line table rows all name File.
type FileRange struct {
	File      string
	Low, High uint64
}

type lineTableCache struct {
	once sync.Once
	err  error

	// ranges lists the file ranges of the CU in line table order,
	// with abutting rows for the same file merged.
	ranges []FileRange

	// byAddr maps PCs to file names.
	byAddr imap.Map[string]
}

// ensure decodes cu's line table if necessary.
func (lc *lineTableCache) ensure(dw *dwarf.Data, cu CU) (*lineTableCache, error) {
	lc.once.Do(func() {
		lr, err := dw.LineReader(cu.Entry)
		if err != nil {
			lc.err = fmt.Errorf("decoding line table header: %w", err)
			return
		}
		if lr == nil {
			// No line table.
			return
		}

		var line, prev dwarf.LineEntry
		havePrev := false
		for {
			if err := lr.Next(&line); err != nil {
				if err == io.EOF {
					break
				}
				lc.err = err
				return
			}
			if havePrev && line.Address > prev.Address && prev.File != nil {
				lc.add(prev.File.Name, prev.Address, line.Address)
			}
			// A line table can consist of multiple sequences, which
			// don't have to be in address order. EndSequence closes
			// the last row of a sequence.
			prev, havePrev = line, !line.EndSequence
		}
	})
	if lc.err != nil {
		return nil, lc.err
	}
	return lc, nil
}

func (lc *lineTableCache) add(file string, low, high uint64) {
	if n := len(lc.ranges); n > 0 {
		last := &lc.ranges[n-1]
		if last.File == file && last.High == low {
			last.High = high
			lc.byAddr.Insert(imap.Interval{Low: low, High: high}, file)
			return
		}
	}
	lc.ranges = append(lc.ranges, FileRange{file, low, high})
	lc.byAddr.Insert(imap.Interval{Low: low, High: high}, file)
}

func (d *Data) lineTable(cu CU) (*lineTableCache, error) {
	cuData, ok := d.cus[cu]
	if !ok {
		return nil, fmt.Errorf("CU at offset %#x is not from this Data", cu.Offset)
	}
	return cuData.lineTable.ensure(d.dw, cu)
}

// FileRanges returns the PC ranges attributed to each source file by
// cu's line table, in line table order.
func (d *Data) FileRanges(cu CU) ([]FileRange, error) {
	lc, err := d.lineTable(cu)
	if err != nil {
		return nil, err
	}
	return lc.ranges, nil
}

// Files returns the sorted, distinct names of the files that
// contribute code to cu.
func (d *Data) Files(cu CU) ([]string, error) {
	rs, err := d.FileRanges(cu)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var files []string
	for _, r := range rs {
		if !seen[r.File] {
			seen[r.File] = true
			files = append(files, r.File)
		}
	}
	sort.Strings(files)
	return files, nil
}

// AddrToFile returns the source file the line table attributes addr
// to.
func (d *Data) AddrToFile(addr uint64) (string, bool, error) {
	cu, ok := d.AddrToCU(addr)
	if !ok {
		return "", false, nil
	}
	lc, err := d.lineTable(cu)
	if err != nil {
		return "", false, err
	}
	_, file, ok := lc.byAddr.Find(addr)
	return file, ok, nil
}
