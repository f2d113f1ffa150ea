// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package imap implements a map from disjoint address intervals to
// values. Inserting an interval paints over whatever it overlaps, and
// abutting intervals with equal values are merged.
package imap

// Map maps disjoint intervals to values of type V. The zero Map is
// empty and ready to use.
type Map[V comparable] struct {
	tree avlTree[V]
}

type avlNode[V comparable] struct {
	key         uint64 // Interval low
	left, right *avlNode[V]
	parent      *avlNode[V]
	heightCache int

	high  uint64
	value V
}

func (n *avlNode[V]) interval() Interval {
	return Interval{n.key, n.high}
}

// Insert maps every address in key to value, replacing any existing
// mappings in key. Inserting an empty interval does nothing.
func (m *Map[V]) Insert(key Interval, value V) {
	if key.Empty() {
		return
	}
	low, high := key.Low, key.High

	// Find the node that overlaps or just abuts the new range. If an
	// existing range abuts the new range, we'll extend the existing
	// range.
	n := m.tree.Search(func(n *avlNode[V]) bool {
		return low <= n.high
	})
	pred := n

	// Split intervals that intersect low or high (one interval could do
	// both) and delete fully overlapping intervals.
	for n != nil && n.key < high {
		// Fetch the next node in case we delete this node.
		nNext := n.Next()

		l, h := n.interval().Subtract(Interval{low, high})
		lok := !l.Empty()
		hok := !h.Empty()
		if lok && !hok {
			// n overlaps the low end of the new interval.
			n.high = l.High
		} else if !lok && hok {
			// n overlaps the high end of the new interval.
			n.key = h.Low
			break
		} else if lok && hok {
			// The new interval falls in the middle of n. Split n.
			if n.value == value {
				return
			}
			n.high = l.High
			n2 := m.tree.Insert(h.Low)
			n2.high, n2.value = h.High, n.value
			n = n2
			break
		} else {
			// The new interval covers n.
			m.tree.Delete(n)
		}

		n = nNext
	}

	// Merge with abutting intervals if possible.
	if pred != nil && pred.high == low && pred.value == value {
		pred.high = high
		if n != nil && n.key == high && n.value == value {
			// Merged right into the successor as well.
			pred.high = n.high
			m.tree.Delete(n)
		}
		return
	}
	if n != nil && n.key == high && n.value == value {
		n.key = low
		return
	}

	n = m.tree.Insert(low)
	n.high, n.value = high, value
}

// Find returns the value at addr and the interval over which value is
// the same (which may be smaller than the interval originally
// inserted). ok is false if no interval contains addr.
func (m *Map[V]) Find(addr uint64) (key Interval, value V, ok bool) {
	n := m.tree.Search(func(n *avlNode[V]) bool {
		return addr < n.high
	})
	if n != nil && n.key <= addr {
		return n.interval(), n.value, true
	}
	return Interval{}, value, false
}

// Len returns the number of disjoint intervals in m.
func (m *Map[V]) Len() int {
	n := 0
	for it := m.Iter(0); it.Valid(); it.Next() {
		n++
	}
	return n
}
