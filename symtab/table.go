// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symtab

import "sort"

// An Entry is one RVA in a Table with the symbol indexes recorded at
// it.
type Entry struct {
	RVA uint32
	IDs []uint32 // Ascending
}

// Table maps RVAs to the symbol indexes recorded at them. It answers
// range queries against the sorted RVAs and point queries for labels.
//
// The zero Table is empty, and every lookup on it finds nothing.
type Table struct {
	entries []Entry // Sorted by RVA
	labels  map[uint32]struct{}
}

// NewTable builds a Table from an unsorted map of RVA to symbol indexes
// and a list of RVAs that carry a label. Neither argument is retained.
func NewTable(byRVA map[uint32][]uint32, labelRVAs []uint32) Table {
	var t Table
	if len(byRVA) > 0 {
		t.entries = make([]Entry, 0, len(byRVA))
		for addr, ids := range byRVA {
			ids = append([]uint32(nil), ids...)
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			t.entries = append(t.entries, Entry{addr, ids})
		}
		sort.Slice(t.entries, func(i, j int) bool {
			return t.entries[i].RVA < t.entries[j].RVA
		})
	}
	if len(labelRVAs) > 0 {
		t.labels = make(map[uint32]struct{}, len(labelRVAs))
		for _, addr := range labelRVAs {
			t.labels[addr] = struct{}{}
		}
	}
	return t
}

// Len returns the number of distinct RVAs in t.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns all entries of t, sorted by RVA. The caller must not
// modify the returned slice.
func (t *Table) Entries() []Entry {
	return t.entries
}

// InRange returns the entries whose RVA lies in [start, end), along with
// the inclusive bounds [min, max] of those entries within Entries. If
// end <= start, InRange looks up start alone. ok is false if no entry
// falls in the range: the range lies before the first RVA, after the
// last, or strictly between two consecutive RVAs.
func (t *Table) InRange(start, end uint32) (entries []Entry, min, max int, ok bool) {
	if end <= start {
		if start == ^uint32(0) {
			// [start, start+1) would overflow.
			n := len(t.entries)
			if n == 0 || t.entries[n-1].RVA != start {
				return nil, 0, 0, false
			}
			return t.entries[n-1:], n - 1, n - 1, true
		}
		end = start + 1
	}
	min = sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].RVA >= start
	})
	lim := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].RVA >= end
	})
	if min >= lim {
		return nil, 0, 0, false
	}
	return t.entries[min:lim], min, lim - 1, true
}

// Label reports whether a label was recorded at addr.
func (t *Table) Label(addr uint32) bool {
	_, ok := t.labels[addr]
	return ok
}
