// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package asm abstracts disassembling machine code from various
// architectures.
package asm

import (
	"fmt"
	"sort"

	"github.com/aclements/go-binlayout/arch"
)

// Disasm disassembles machine code for the given architecture. pc is
// the address at which text begins.
func Disasm(arch *arch.Arch, text []byte, pc uint64) (Seq, error) {
	switch arch.Name {
	case "amd64":
		return disasmX86(text, pc, 64), nil
	case "386":
		return disasmX86(text, pc, 32), nil
	case "arm64":
		return disasmARM64(text, pc), nil
	}
	return nil, fmt.Errorf("unsupported assembly architecture: %s", arch)
}

// Labels disassembles text and returns the sorted, distinct targets of
// direct jumps and calls that land within text. pc is the address at
// which text begins.
//
// Data interleaved with code decodes as garbage and may contribute
// spurious labels.
func Labels(arch *arch.Arch, text []byte, pc uint64) ([]uint64, error) {
	seq, err := Disasm(arch, text, pc)
	if err != nil {
		return nil, err
	}
	end := pc + uint64(len(text))
	seen := make(map[uint64]bool)
	var out []uint64
	for i := 0; i < seq.Len(); i++ {
		inst := seq.Get(i)
		c := inst.Control()
		if c.Type != ControlJump && c.Type != ControlCall {
			continue
		}
		target := c.TargetPC
		if target == NoTarget || target == inst.PC() || target < pc || target >= end {
			continue
		}
		if !seen[target] {
			seen[target] = true
			out = append(out, target)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Seq is a sequence of instructions.
type Seq interface {
	Len() int
	Get(i int) Inst
}

// Inst is a single machine instruction.
type Inst interface {
	// PC returns the address of this instruction.
	PC() uint64

	// Len returns the length of this instruction in bytes.
	Len() int

	// Control returns the control-flow effects of this
	// instruction.
	Control() Control
}

// Control captures control-flow effects of an instruction.
type Control struct {
	Type        ControlType
	Conditional bool

	// TargetPC is the destination of a direct jump or call, or
	// NoTarget if the destination is not encoded in the
	// instruction.
	TargetPC uint64
}

// NoTarget is the TargetPC of instructions whose destination is
// unknown.
const NoTarget = ^uint64(0)

type ControlType uint8

const (
	ControlNone ControlType = iota
	ControlJump
	ControlCall
	ControlRet

	// ControlJumpUnknown is a jump with an unknown target. This
	// means the control analysis could be incomplete, since this
	// could jump to an instruction in the analyzed function.
	ControlJumpUnknown

	// ControlExit is like a call that never returns.
	ControlExit
)
