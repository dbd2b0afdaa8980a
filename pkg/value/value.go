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

// Package value implements the fourteen base types a Stack value can carry
// (spec §3 "Typed stack value"), each as a distinct Go type so the
// interpreter and assembler get compile-time checked call sites instead of
// juggling protocol.Type and raw bits by hand.
//
// Grounded on the call shapes of gapis/replay/asm/instructions_test.go
// (value.U32, value.S32, value.F32, value.F64, value.VolatilePointer, ...).
// The teacher's value package additionally carries ObservedPointer,
// TemporaryPointer and PointerIndex for the bytecode *compiler*'s pointer
// interning; those concepts belong to the compiler (out of scope per
// spec.md §1) and are not reproduced here.
package value

import (
	"math"

	"github.com/google/gapir/pkg/protocol"
)

// Value is any typed bytecode value: it knows its own tag and can render
// itself as the raw bit pattern the stack and opcode stream store.
type Value interface {
	Type() protocol.Type
	Bits() uint64
}

type (
	Bool            bool
	Int8            int8
	Int16           int16
	Int32           int32
	Int64           int64
	Uint8           uint8
	Uint16          uint16
	Uint32          uint32
	Uint64          uint64
	Float           float32
	Double          float64
	AbsolutePointer uint64
	ConstantPointer uint32
	VolatilePointer uint32
)

// Convenience aliases matching the teacher's shorthand constructors.
type (
	B  = Bool
	S8 = Int8
	S16 = Int16
	S32 = Int32
	S64 = Int64
	U8 = Uint8
	U16 = Uint16
	U32 = Uint32
	U64 = Uint64
	F32 = Float
	F64 = Double
)

func (v Bool) Type() protocol.Type   { return protocol.Type_Bool }
func (v Int8) Type() protocol.Type   { return protocol.Type_Int8 }
func (v Int16) Type() protocol.Type  { return protocol.Type_Int16 }
func (v Int32) Type() protocol.Type  { return protocol.Type_Int32 }
func (v Int64) Type() protocol.Type  { return protocol.Type_Int64 }
func (v Uint8) Type() protocol.Type  { return protocol.Type_Uint8 }
func (v Uint16) Type() protocol.Type { return protocol.Type_Uint16 }
func (v Uint32) Type() protocol.Type { return protocol.Type_Uint32 }
func (v Uint64) Type() protocol.Type { return protocol.Type_Uint64 }
func (v Float) Type() protocol.Type  { return protocol.Type_Float }
func (v Double) Type() protocol.Type { return protocol.Type_Double }
func (v AbsolutePointer) Type() protocol.Type { return protocol.Type_AbsolutePointer }
func (v ConstantPointer) Type() protocol.Type { return protocol.Type_ConstantPointer }
func (v VolatilePointer) Type() protocol.Type { return protocol.Type_VolatilePointer }

func (v Bool) Bits() uint64 {
	if v {
		return 1
	}
	return 0
}
func (v Int8) Bits() uint64            { return uint64(uint8(v)) }
func (v Int16) Bits() uint64           { return uint64(uint16(v)) }
func (v Int32) Bits() uint64           { return uint64(uint32(v)) }
func (v Int64) Bits() uint64           { return uint64(v) }
func (v Uint8) Bits() uint64           { return uint64(v) }
func (v Uint16) Bits() uint64          { return uint64(v) }
func (v Uint32) Bits() uint64          { return uint64(v) }
func (v Uint64) Bits() uint64          { return uint64(v) }
func (v Float) Bits() uint64           { return uint64(math.Float32bits(float32(v))) }
func (v Double) Bits() uint64          { return math.Float64bits(float64(v)) }
func (v AbsolutePointer) Bits() uint64 { return uint64(v) }
func (v ConstantPointer) Bits() uint64 { return uint64(v) }
func (v VolatilePointer) Bits() uint64 { return uint64(v) }

// FromBits reconstructs a Value of the given type from its raw bit pattern,
// as read back off the stack or out of memory.
func FromBits(t protocol.Type, bits uint64) Value {
	switch t {
	case protocol.Type_Bool:
		return Bool(bits != 0)
	case protocol.Type_Int8:
		return Int8(int8(uint8(bits)))
	case protocol.Type_Int16:
		return Int16(int16(uint16(bits)))
	case protocol.Type_Int32:
		return Int32(int32(uint32(bits)))
	case protocol.Type_Int64:
		return Int64(int64(bits))
	case protocol.Type_Uint8:
		return Uint8(uint8(bits))
	case protocol.Type_Uint16:
		return Uint16(uint16(bits))
	case protocol.Type_Uint32:
		return Uint32(uint32(bits))
	case protocol.Type_Uint64:
		return Uint64(bits)
	case protocol.Type_Float:
		return Float(math.Float32frombits(uint32(bits)))
	case protocol.Type_Double:
		return Double(math.Float64frombits(bits))
	case protocol.Type_AbsolutePointer:
		return AbsolutePointer(bits)
	case protocol.Type_ConstantPointer:
		return ConstantPointer(uint32(bits))
	case protocol.Type_VolatilePointer:
		return VolatilePointer(uint32(bits))
	default:
		return nil
	}
}
