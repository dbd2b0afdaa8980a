// Copyright (C) 2024 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package asm assembles opcode.Instruction streams from the higher-level
// operations a bytecode compiler would emit: pushing a typed value that
// might not fit in one PUSH_I immediate (spanning PUSH_I/EXTEND pairs), and
// picking the compact LOAD_C/LOAD_V/STORE_V forms when an address fits in
// their immediate field.
//
// Grounded on gapis/replay/asm/instructions_test.go, which only exists as a
// test file in the retrieval pack: the encoder here is written from the
// expectations that test encodes, not adapted from an existing
// implementation. It is used by this repository's own interpreter tests to
// build fixtures without hand-packing 32-bit words, mirroring the role the
// teacher's asm package plays for gapil's replay-emitting compiler plugin
// (gapil/compiler/plugins/replay/replay.go). The teacher's pointer-interning
// indirection (ObservedPointer/TemporaryPointer/PointerIndex, resolved at
// encode time by a PointerResolver) belongs to the bytecode compiler, which
// is out of scope per spec.md §1, and is not reproduced.
package asm

import (
	"github.com/google/gapir/pkg/opcode"
	"github.com/google/gapir/pkg/protocol"
	"github.com/google/gapir/pkg/value"
)

// Program is an in-progress instruction stream.
type Program struct {
	Instructions []opcode.Instruction
}

func (p *Program) emit(i opcode.Instruction) { p.Instructions = append(p.Instructions, i) }

// Words encodes the assembled program to its 32-bit wire form.
func (p *Program) Words() []uint32 {
	out := make([]uint32, len(p.Instructions))
	for i, inst := range p.Instructions {
		out[i] = opcode.Encode(inst)
	}
	return out
}

const (
	maxImm20 = 0xfffff
	maxImm26 = 0x3ffffff
)

// Push encodes v as one PUSH_I, followed by as many EXTEND instructions as
// needed to carry the remaining bits.
func (p *Program) Push(v value.Value) {
	switch v.Type() {
	case protocol.Type_Float:
		p.pushFloat(v.Bits())
	case protocol.Type_Double:
		p.pushDouble(v.Bits())
	default:
		p.pushInt(v.Type(), v.Bits())
	}
}

// pushInt decomposes bits into base-2^26 digits, least significant first,
// stopping once the remainder fits in the 20-bit PUSH_I immediate. Digits
// are then emitted most-significant-first: one PUSH_I carrying the
// remainder, followed by an EXTEND per remaining digit.
func (p *Program) pushInt(t protocol.Type, bits uint64) {
	signed := t.IsSigned()
	v := int64(bits)
	if signed {
		// Bits() zero-extends the narrower signed types; widen them back
		// to 64 bits so the arithmetic shifts below see the sign.
		shift := uint(64 - 8*t.Size())
		v = v << shift >> shift
	}

	var extends []uint32
	for {
		if signed && v >= -0x80000 && v <= 0x7ffff {
			break
		}
		if !signed && uint64(v) <= maxImm20 {
			break
		}
		extends = append(extends, uint32(uint64(v)&maxImm26))
		if signed {
			v >>= 26
		} else {
			v = int64(uint64(v) >> 26)
		}
	}

	p.emit(opcode.PushI{DataType: t, Value: uint32(v) & maxImm20})
	for i := len(extends) - 1; i >= 0; i-- {
		p.emit(opcode.Extend{Value: extends[i]})
	}
}

func (p *Program) pushFloat(bits uint64) {
	b := uint32(bits)
	lead := b >> 23
	mantissa := b & 0x7fffff
	p.emit(opcode.PushI{DataType: protocol.Type_Float, Value: lead & maxImm20})
	if mantissa != 0 {
		p.emit(opcode.Extend{Value: mantissa})
	}
}

func (p *Program) pushDouble(bits uint64) {
	lead := bits >> 52
	mantissa := bits & 0xfffffffffffff
	p.emit(opcode.PushI{DataType: protocol.Type_Double, Value: uint32(lead) & maxImm20})
	if mantissa != 0 {
		p.emit(opcode.Extend{Value: uint32(mantissa >> 26)})
		p.emit(opcode.Extend{Value: uint32(mantissa & maxImm26)})
	}
}

// Call emits a CALL instruction.
func (p *Program) Call(pushReturn bool, apiIndex uint8, functionID uint16) {
	p.emit(opcode.Call{PushReturn: pushReturn, ApiIndex: apiIndex, FunctionID: functionID})
}

func (p *Program) Pop(count uint32)    { p.emit(opcode.Pop{Count: count}) }
func (p *Program) Copy(count uint32)   { p.emit(opcode.Copy{Count: count}) }
func (p *Program) Clone(index uint32)  { p.emit(opcode.Clone{Index: index}) }
func (p *Program) Strcpy(max uint32)   { p.emit(opcode.Strcpy{MaxSize: max}) }
func (p *Program) Label(id uint32)     { p.emit(opcode.Label{Value: id}) }
func (p *Program) JumpLabel(id uint32) { p.emit(opcode.JumpLabel{Value: id}) }
func (p *Program) JumpNZ(id uint32)    { p.emit(opcode.JumpNZ{Value: id}) }
func (p *Program) JumpZ(id uint32)     { p.emit(opcode.JumpZ{Value: id}) }
func (p *Program) SwitchThread(id uint32) { p.emit(opcode.SwitchThread{Value: id}) }
func (p *Program) Wait(id uint32)      { p.emit(opcode.Wait{Value: id}) }
func (p *Program) Add(count uint32)    { p.emit(opcode.Add{Count: count}) }

// Load emits the compact LOAD_C/LOAD_V form when the address fits in 20
// bits, else pushes the full address and emits a generic LOAD.
func (p *Program) Load(t protocol.Type, ptr value.Value) {
	switch addr := ptr.(type) {
	case value.ConstantPointer:
		if uint32(addr) <= maxImm20 {
			p.emit(opcode.LoadC{DataType: t, Address: uint32(addr)})
			return
		}
	case value.VolatilePointer:
		if uint32(addr) <= maxImm20 {
			p.emit(opcode.LoadV{DataType: t, Address: uint32(addr)})
			return
		}
	}
	p.Push(ptr)
	p.emit(opcode.Load{DataType: t})
}

// Store emits STORE_V when the volatile address fits in 26 bits, else
// pushes the full address and emits a generic STORE. The value to store
// must already have been pushed by the caller.
func (p *Program) Store(ptr value.VolatilePointer) {
	if uint32(ptr) <= maxImm26 {
		p.emit(opcode.StoreV{Address: uint32(ptr)})
		return
	}
	p.Push(ptr)
	p.emit(opcode.Store{})
}

// Resource pushes dst then emits a RESOURCE instruction for the given pool
// index.
func (p *Program) Resource(id uint32, dst value.Value) {
	p.Push(dst)
	p.emit(opcode.Resource{ID: id})
}

// Post pushes src and count then emits POST.
func (p *Program) Post(src value.Value, count uint32) {
	p.Push(src)
	p.Push(value.Uint32(count))
	p.emit(opcode.Post{})
}

// Notification pushes src, id and count then emits NOTIFICATION.
func (p *Program) Notification(src value.Value, id, count uint32) {
	p.Push(src)
	p.Push(value.Uint32(id))
	p.Push(value.Uint32(count))
	p.emit(opcode.Notification{})
}
