// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"fmt"

	"github.com/aclements/go-binlayout/arch"
)

// Data represents byte data in an image.
type Data struct {
	// Addr is the RVA at which this data starts.
	Addr uint32

	// P stores the raw byte data. Callers must not modify this.
	P []byte

	// Layout specifies the byte order and word size of this data,
	// inferred from the image's machine type.
	Layout arch.Layout
}

// A Reader decodes fixed-size values from a Data.
type Reader struct {
	d *Data
	p int // Offset into P
}

func NewReader(d *Data) *Reader {
	return &Reader{d, 0}
}

// Addr returns the current position of r's cursor as an RVA.
func (r *Reader) Addr() uint32 {
	return r.d.Addr + uint32(r.p)
}

// SetOffset moves r's cursor to the given offset from the beginning of
// r's data.
func (r *Reader) SetOffset(offset int) {
	if offset < 0 || offset > len(r.d.P) {
		panic(fmt.Sprintf("offset %d out of data's range [0,%d]", offset, len(r.d.P)))
	}
	r.p = offset
}

// Skip advances r's cursor by n bytes.
func (r *Reader) Skip(n int) {
	r.SetOffset(r.p + n)
}

// Avail returns the number of bytes remaining in r's Data.
func (r *Reader) Avail() int {
	return len(r.d.P) - r.p
}

func (r *Reader) Uint8() uint8 {
	o := r.p
	r.p++
	return r.d.P[o]
}

func (r *Reader) Uint32() uint32 {
	o := r.p
	r.p += 4
	return r.d.Layout.Uint32(r.d.P[o : o+4])
}

func (r *Reader) Uint64() uint64 {
	o := r.p
	r.p += 8
	return r.d.Layout.Uint64(r.d.P[o : o+8])
}
