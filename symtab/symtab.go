// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab implements symbol lookup by name and RVA.
//
// Table indexes symbol indexes by the exact RVA they were recorded at
// and answers range queries. Index maps an arbitrary RVA to the symbol
// whose extent contains it.
package symtab

import (
	"fmt"
	"sort"
)

// A SymID is the index of a symbol in the slice passed to NewIndex.
type SymID int

// NoSym is the SymID returned when no symbol matches.
const NoSym SymID = -1

// A Sym is a symbol with an extent in the binary's address space.
type Sym struct {
	Name string
	RVA  uint32
	Size uint32

	// Local symbols are not indexed by name.
	Local bool
}

func (s Sym) String() string {
	return fmt.Sprintf("%s [%#x,+%#x)", s.Name, s.RVA, s.Size)
}

// Index facilitates fast symbol lookup by name and RVA.
type Index struct {
	syms []Sym

	// addr contains boundaries of symbols in syms, ordered by address.
	// The boundary from symbol to NoSym is not explicitly represented,
	// since lookup can check the size of the symbol.
	//
	// If symbols overlap, this may contain the same symbol multiple
	// times. E.g., given one symbol strictly nested in another, the
	// outer symbol will appear both at its beginning address and at the
	// end address of the inner symbol.
	addr []symAddr

	name map[string]SymID
}

type symAddr struct {
	// addr is the address of this symbol boundary. Usually this is
	// beginning of the symbol, except in the case of overlapping
	// symbols. It is 64 bits so a symbol may end at 1<<32.
	addr uint64
	id   SymID
}

// NewIndex creates an index for syms. The returned Index retains syms.
func NewIndex(syms []Sym) *Index {
	name := make(map[string]SymID)
	var ids []SymID
	for i, s := range syms {
		if !s.Local {
			name[s.Name] = SymID(i)
		}
		// Symbols of size 0 can't be the result of a lookup and would
		// confuse the boundary computation.
		if s.Size != 0 {
			ids = append(ids, SymID(i))
		}
	}
	return &Index{syms, makeAddrIndex(syms, ids), name}
}

func makeAddrIndex(syms []Sym, ids []SymID) []symAddr {
	// Sort by starting address then priority, with low priority symbols
	// before higher priority so the higher priority ones override the
	// lower priority as we loop over the slice.
	sort.Slice(ids, func(i, j int) bool {
		si, sj := &syms[ids[i]], &syms[ids[j]]
		if si.RVA != sj.RVA {
			return si.RVA < sj.RVA
		}
		// Prefer smaller symbols.
		if si.Size != sj.Size {
			return si.Size > sj.Size
		}
		// Then prefer lower IDs.
		return ids[i] > ids[j]
	})

	// Walk every symbol boundary, keeping a stack of the symbols live
	// at the current address with the lowest end address on top. The
	// stack is almost always shallow.
	var out []symAddr
	stack := make([]symAddr, 0, 8) // addr is *end* address
	drainStack := func(addr uint64) {
		for len(stack) > 0 {
			endAddr := stack[len(stack)-1].addr
			if endAddr > addr {
				return
			}
			// Pop all of the symbols that end at the next boundary.
			for len(stack) > 0 && stack[len(stack)-1].addr == endAddr {
				stack = stack[:len(stack)-1]
			}
			// At endAddr, we drop to the symbol at top of stack, or to
			// NoSym, which has no explicit marker.
			if len(stack) > 0 {
				out = append(out, symAddr{endAddr, stack[len(stack)-1].id})
			}
		}
	}
	for _, id := range ids {
		sym := syms[id]
		start := uint64(sym.RVA)
		drainStack(start)
		if len(out) > 0 && out[len(out)-1].addr == start {
			out[len(out)-1] = symAddr{start, id}
		} else {
			out = append(out, symAddr{start, id})
		}
		stack = append(stack, symAddr{start + uint64(sym.Size), id})
		// Insertion sort from the back. Usually this won't take any steps.
		for i := len(stack) - 1; i >= 1 && stack[i].addr > stack[i-1].addr; i-- {
			stack[i], stack[i-1] = stack[i-1], stack[i]
		}
	}
	drainStack(^uint64(0))

	return out
}

// Syms returns all symbols in the index, indexed by SymID. The caller
// must not modify the returned slice.
func (x *Index) Syms() []Sym {
	return x.syms
}

// Name returns the non-local symbol with the given name, or NoSym. If
// several symbols share the name, the last one wins.
func (x *Index) Name(name string) SymID {
	if i, ok := x.name[name]; ok {
		return i
	}
	return NoSym
}

// Addr returns the symbol containing addr, or NoSym.
//
// If symbols overlap, Addr prefers the symbol with the latest starting
// address, then the smallest size, then the lowest SymID.
func (x *Index) Addr(addr uint32) SymID {
	a := uint64(addr)
	i := sort.Search(len(x.addr), func(i int) bool {
		return a < x.addr[i].addr
	}) - 1
	if i < 0 {
		return NoSym
	}
	id := x.addr[i].id
	sym := &x.syms[id]
	if uint64(sym.RVA)+uint64(sym.Size) <= a {
		return NoSym
	}
	return id
}
