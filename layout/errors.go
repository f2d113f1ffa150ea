// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import "fmt"

// None of the errors in this package describe malformed input that a
// caller can recover from. Each one means an assumption about the
// binary's layout failed, so every size computed afterward would be
// wrong. Callers should abandon the analysis.

// A NotReadyError indicates a post-freeze accessor was used before the
// entity was frozen.
type NotReadyError struct {
	Entity string
	Op     string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: %s is not available until frozen", e.Entity, e.Op)
}

// A FrozenError indicates a mutating operation was applied to an
// entity that has already been frozen.
type FrozenError struct {
	Entity string
	Op     string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("%s: cannot %s after freeze", e.Entity, e.Op)
}

// An InvariantError indicates a consistency check of the layout model
// failed: byte accounting did not reconcile, or a write-once field was
// written twice.
type InvariantError struct {
	Entity string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Entity, e.Detail)
}

// A LayoutError indicates that two RVA-adjacent COFF groups in a
// section are separated by more than the file alignment. This almost
// always means a contribution between them was dropped upstream.
type LayoutError struct {
	Section   string
	Prev      string
	Next      string
	Gap       uint32
	Alignment uint32
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("section %s: gap of %#x bytes between COFF groups %s and %s exceeds file alignment %#x",
		e.Section, e.Gap, e.Prev, e.Next, e.Alignment)
}

// An ExistsError indicates an entity was constructed twice in the same
// Session.
type ExistsError struct {
	Kind string
	Key  string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Key)
}
