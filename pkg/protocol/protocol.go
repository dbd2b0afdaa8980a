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

// Package protocol defines the bytecode's type tags and opcode numbers
// (spec §4.K). The retrieval pack only carries this package's test-visible
// usages (gapis/replay/asm/instructions_test.go,
// gapil/compiler/plugins/replay/replay.go); the enumerations here are
// reconstructed from those usages rather than adapted from an existing
// source file.
package protocol

// Type is the tag of a typed stack value, opcode immediate, or memory load.
type Type uint8

const (
	Type_Bool Type = iota
	Type_Int8
	Type_Int16
	Type_Int32
	Type_Int64
	Type_Uint8
	Type_Uint16
	Type_Uint32
	Type_Uint64
	Type_Float
	Type_Double
	Type_AbsolutePointer
	Type_ConstantPointer
	Type_VolatilePointer
)

var typeNames = [...]string{
	"Bool", "Int8", "Int16", "Int32", "Int64",
	"Uint8", "Uint16", "Uint32", "Uint64",
	"Float", "Double",
	"AbsolutePointer", "ConstantPointer", "VolatilePointer",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Type(?)"
}

// Valid reports whether t is one of the fourteen defined base types. An
// opcode's 6-bit type field can encode values outside this range; the
// interpreter rejects those rather than indexing typeNames out of bounds.
func (t Type) Valid() bool {
	return t <= Type_VolatilePointer
}

// IsPointer reports whether t is one of the three pointer variants.
func (t Type) IsPointer() bool {
	switch t {
	case Type_AbsolutePointer, Type_ConstantPointer, Type_VolatilePointer:
		return true
	default:
		return false
	}
}

// IsSigned reports whether t is a signed integer type.
func (t Type) IsSigned() bool {
	switch t {
	case Type_Int8, Type_Int16, Type_Int32, Type_Int64:
		return true
	default:
		return false
	}
}

// Size returns the size in bytes of a value of this type.
func (t Type) Size() int {
	switch t {
	case Type_Bool, Type_Int8, Type_Uint8:
		return 1
	case Type_Int16, Type_Uint16:
		return 2
	case Type_Int32, Type_Uint32, Type_Float,
		Type_ConstantPointer, Type_VolatilePointer:
		return 4
	case Type_Int64, Type_Uint64, Type_Double, Type_AbsolutePointer:
		return 8
	default:
		return 0
	}
}

// Opcode is the 6-bit operation code occupying the top bits of an encoded
// instruction word.
type Opcode uint8

const (
	OpCall Opcode = iota
	OpPushI
	OpLoadC
	OpLoadV
	OpLoad
	OpPop
	OpStoreV
	OpStore
	OpResource
	OpPost
	OpCopy
	OpClone
	OpStrcpy
	OpExtend
	OpLabel
	OpSwitchThread
	OpJumpLabel
	OpJumpNZ
	OpJumpZ
	OpNotification
	OpWait
	OpAdd
	OpInlineResource
)

var opcodeNames = [...]string{
	"Call", "PushI", "LoadC", "LoadV", "Load", "Pop", "StoreV", "Store",
	"Resource", "Post", "Copy", "Clone", "Strcpy", "Extend", "Label",
	"SwitchThread", "JumpLabel", "JumpNZ", "JumpZ", "Notification", "Wait",
	"Add", "InlineResource",
}

func (c Opcode) String() string {
	if int(c) < len(opcodeNames) {
		return opcodeNames[c]
	}
	return "Opcode(?)"
}

// Global builtin function ids (spec §4.L).
const (
	PostFunctionID         = 0xff00
	ResourceFunctionID     = 0xff01
	NotificationFunctionID = 0xff02
	WaitFunctionID         = 0xff03
)

// GlobalAPIIndex is the API index reserved for core builtins (spec §4.C).
const GlobalAPIIndex = 0

// NumAPIs is the number of distinct API indices a function table can serve.
const NumAPIs = 16

// ObservedPointerSentinel is the address that marks "never observed by the
// tracer" (spec §3 "Address classification").
const ObservedPointerSentinel = 0xBADF00D
