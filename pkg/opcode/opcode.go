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

// Package opcode encodes and decodes the 32-bit instruction words of the
// bytecode virtual machine (spec §4.K "Opcode encoding"). Like pkg/value,
// this package's non-test source does not exist in the retrieval pack; it
// is written fresh, in the bit-packing idiom shown by
// gapil/compiler/plugins/replay/replay.go's packC/packCX/packCYZ helpers
// and exercised by gapis/replay/asm/instructions_test.go.
package opcode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gapir/pkg/protocol"
)

// Instruction is one decoded opcode. The concrete type identifies which
// opcode it is; see the Call/PushI/... types below.
type Instruction interface {
	fmt.Stringer
	isInstruction()
}

type (
	Call struct {
		PushReturn bool
		ApiIndex   uint8
		FunctionID uint16
	}
	PushI struct {
		DataType protocol.Type
		Value    uint32
	}
	LoadC          struct{ DataType protocol.Type; Address uint32 }
	LoadV          struct{ DataType protocol.Type; Address uint32 }
	Load           struct{ DataType protocol.Type }
	Pop            struct{ Count uint32 }
	StoreV         struct{ Address uint32 }
	Store          struct{}
	Resource       struct{ ID uint32 }
	Post           struct{}
	Copy           struct{ Count uint32 }
	Clone          struct{ Index uint32 }
	Strcpy         struct{ MaxSize uint32 }
	Extend         struct{ Value uint32 }
	Label          struct{ Value uint32 }
	SwitchThread   struct{ Value uint32 }
	JumpLabel      struct{ Value uint32 }
	JumpNZ         struct{ Value uint32 }
	JumpZ          struct{ Value uint32 }
	Notification   struct{}
	Wait           struct{ Value uint32 }
	Add            struct{ Count uint32 }
	InlineResource struct {
		NumValuePatchUps uint32
		DataSize         uint32
	}
)

func (Call) isInstruction()           {}
func (PushI) isInstruction()          {}
func (LoadC) isInstruction()          {}
func (LoadV) isInstruction()          {}
func (Load) isInstruction()           {}
func (Pop) isInstruction()            {}
func (StoreV) isInstruction()         {}
func (Store) isInstruction()          {}
func (Resource) isInstruction()       {}
func (Post) isInstruction()           {}
func (Copy) isInstruction()           {}
func (Clone) isInstruction()          {}
func (Strcpy) isInstruction()         {}
func (Extend) isInstruction()         {}
func (Label) isInstruction()          {}
func (SwitchThread) isInstruction()   {}
func (JumpLabel) isInstruction()      {}
func (JumpNZ) isInstruction()         {}
func (JumpZ) isInstruction()          {}
func (Notification) isInstruction()   {}
func (Wait) isInstruction()           {}
func (Add) isInstruction()            {}
func (InlineResource) isInstruction() {}

func (i Call) String() string { return fmt.Sprintf("CALL api=%d id=0x%x push=%v", i.ApiIndex, i.FunctionID, i.PushReturn) }
func (i PushI) String() string { return fmt.Sprintf("PUSH_I %v 0x%x", i.DataType, i.Value) }
func (i LoadC) String() string { return fmt.Sprintf("LOAD_C %v 0x%x", i.DataType, i.Address) }
func (i LoadV) String() string { return fmt.Sprintf("LOAD_V %v 0x%x", i.DataType, i.Address) }
func (i Load) String() string  { return fmt.Sprintf("LOAD %v", i.DataType) }
func (i Pop) String() string   { return fmt.Sprintf("POP %d", i.Count) }
func (i StoreV) String() string { return fmt.Sprintf("STORE_V 0x%x", i.Address) }
func (i Store) String() string  { return "STORE" }
func (i Resource) String() string { return fmt.Sprintf("RESOURCE %d", i.ID) }
func (i Post) String() string     { return "POST" }
func (i Copy) String() string     { return fmt.Sprintf("COPY %d", i.Count) }
func (i Clone) String() string    { return fmt.Sprintf("CLONE %d", i.Index) }
func (i Strcpy) String() string   { return fmt.Sprintf("STRCPY %d", i.MaxSize) }
func (i Extend) String() string   { return fmt.Sprintf("EXTEND 0x%x", i.Value) }
func (i Label) String() string    { return fmt.Sprintf("LABEL %d", i.Value) }
func (i SwitchThread) String() string { return fmt.Sprintf("SWITCH_THREAD %d", i.Value) }
func (i JumpLabel) String() string    { return fmt.Sprintf("JUMP_LABEL %d", i.Value) }
func (i JumpNZ) String() string       { return fmt.Sprintf("JUMP_NZ %d", i.Value) }
func (i JumpZ) String() string        { return fmt.Sprintf("JUMP_Z %d", i.Value) }
func (i Notification) String() string { return "NOTIFICATION" }
func (i Wait) String() string         { return fmt.Sprintf("WAIT %d", i.Value) }
func (i Add) String() string          { return fmt.Sprintf("ADD %d", i.Count) }
func (i InlineResource) String() string {
	return fmt.Sprintf("INLINE_RESOURCE size=%d patchups=%d", i.DataSize, i.NumValuePatchUps)
}

// packC places a 6-bit opcode in bits 26..31.
func packC(c protocol.Opcode) uint32 {
	if uint32(c) > 0x3f {
		panic(fmt.Sprintf("opcode %v exceeds 6 bits", c))
	}
	return uint32(c) << 26
}

// packCX places a 26-bit immediate in bits 0..25, alongside the opcode.
func packCX(c protocol.Opcode, x uint32) uint32 {
	if x > 0x3ffffff {
		panic(fmt.Sprintf("immediate 0x%x exceeds 26 bits", x))
	}
	return packC(c) | x
}

// packCYZ places a 6-bit y in bits 20..25 and a 20-bit z in bits 0..19.
func packCYZ(c protocol.Opcode, y, z uint32) uint32 {
	if y > 0x3f {
		panic(fmt.Sprintf("y 0x%x exceeds 6 bits", y))
	}
	if z > 0xfffff {
		panic(fmt.Sprintf("z 0x%x exceeds 20 bits", z))
	}
	return packC(c) | (y << 20) | z
}

func opcodeOf(word uint32) protocol.Opcode { return protocol.Opcode(word >> 26) }
func xOf(word uint32) uint32               { return word & 0x3ffffff }
func yOf(word uint32) uint32               { return (word >> 20) & 0x3f }
func zOf(word uint32) uint32               { return word & 0xfffff }

// PackAPIIndexFunctionID packs a CALL opcode's api index (bits 16..19) and
// 16-bit function id (bits 0..15) into the 26-bit x field, leaving bit 24
// free for the pushReturn flag.
func PackAPIIndexFunctionID(apiIndex uint8, functionID uint16) uint32 {
	return (uint32(apiIndex) << 16) | uint32(functionID)
}

// Encode packs i into its 32-bit instruction word.
func Encode(i Instruction) uint32 {
	switch i := i.(type) {
	case Call:
		x := PackAPIIndexFunctionID(i.ApiIndex, i.FunctionID)
		if i.PushReturn {
			x |= 1 << 24
		}
		return packCX(protocol.OpCall, x)
	case PushI:
		return packCYZ(protocol.OpPushI, uint32(i.DataType), i.Value)
	case LoadC:
		return packCYZ(protocol.OpLoadC, uint32(i.DataType), i.Address)
	case LoadV:
		return packCYZ(protocol.OpLoadV, uint32(i.DataType), i.Address)
	case Load:
		return packCYZ(protocol.OpLoad, uint32(i.DataType), 0)
	case Pop:
		return packCX(protocol.OpPop, i.Count)
	case StoreV:
		return packCX(protocol.OpStoreV, i.Address)
	case Store:
		return packC(protocol.OpStore)
	case Resource:
		return packCX(protocol.OpResource, i.ID)
	case Post:
		return packC(protocol.OpPost)
	case Copy:
		return packCX(protocol.OpCopy, i.Count)
	case Clone:
		return packCX(protocol.OpClone, i.Index)
	case Strcpy:
		return packCX(protocol.OpStrcpy, i.MaxSize)
	case Extend:
		return packCX(protocol.OpExtend, i.Value)
	case Label:
		return packCX(protocol.OpLabel, i.Value)
	case SwitchThread:
		return packCX(protocol.OpSwitchThread, i.Value)
	case JumpLabel:
		return packCX(protocol.OpJumpLabel, i.Value)
	case JumpNZ:
		return packCX(protocol.OpJumpNZ, i.Value)
	case JumpZ:
		return packCX(protocol.OpJumpZ, i.Value)
	case Notification:
		return packC(protocol.OpNotification)
	case Wait:
		return packCX(protocol.OpWait, i.Value)
	case Add:
		return packCX(protocol.OpAdd, i.Count)
	case InlineResource:
		return packCYZ(protocol.OpInlineResource, i.NumValuePatchUps, i.DataSize)
	default:
		panic(fmt.Sprintf("unknown instruction type %T", i))
	}
}

// Decode unpacks a single instruction word.
func Decode(word uint32) (Instruction, error) {
	c := opcodeOf(word)
	switch c {
	case protocol.OpCall:
		x := xOf(word)
		return Call{
			PushReturn: x&(1<<24) != 0,
			ApiIndex:   uint8((x >> 16) & 0xf),
			FunctionID: uint16(x & 0xffff),
		}, nil
	case protocol.OpPushI:
		return PushI{DataType: protocol.Type(yOf(word)), Value: zOf(word)}, nil
	case protocol.OpLoadC:
		return LoadC{DataType: protocol.Type(yOf(word)), Address: zOf(word)}, nil
	case protocol.OpLoadV:
		return LoadV{DataType: protocol.Type(yOf(word)), Address: zOf(word)}, nil
	case protocol.OpLoad:
		return Load{DataType: protocol.Type(yOf(word))}, nil
	case protocol.OpPop:
		return Pop{Count: xOf(word)}, nil
	case protocol.OpStoreV:
		return StoreV{Address: xOf(word)}, nil
	case protocol.OpStore:
		return Store{}, nil
	case protocol.OpResource:
		return Resource{ID: xOf(word)}, nil
	case protocol.OpPost:
		return Post{}, nil
	case protocol.OpCopy:
		return Copy{Count: xOf(word)}, nil
	case protocol.OpClone:
		return Clone{Index: xOf(word)}, nil
	case protocol.OpStrcpy:
		return Strcpy{MaxSize: xOf(word)}, nil
	case protocol.OpExtend:
		return Extend{Value: xOf(word)}, nil
	case protocol.OpLabel:
		return Label{Value: xOf(word)}, nil
	case protocol.OpSwitchThread:
		return SwitchThread{Value: xOf(word)}, nil
	case protocol.OpJumpLabel:
		return JumpLabel{Value: xOf(word)}, nil
	case protocol.OpJumpNZ:
		return JumpNZ{Value: xOf(word)}, nil
	case protocol.OpJumpZ:
		return JumpZ{Value: xOf(word)}, nil
	case protocol.OpNotification:
		return Notification{}, nil
	case protocol.OpWait:
		return Wait{Value: xOf(word)}, nil
	case protocol.OpAdd:
		return Add{Count: xOf(word)}, nil
	case protocol.OpInlineResource:
		return InlineResource{NumValuePatchUps: yOf(word), DataSize: zOf(word)}, nil
	default:
		return nil, fmt.Errorf("unknown opcode 0x%x in word 0x%08x", c, word)
	}
}

// Disassemble decodes every 4-byte word of r, in the given byte order, into
// a slice of Instructions. Used by tests that compare an assembled stream
// against expected instructions.
func Disassemble(r io.Reader, order binary.ByteOrder) ([]Instruction, error) {
	out := []Instruction{}
	for {
		var word uint32
		err := binary.Read(r, order, &word)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		inst, err := Decode(word)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
}
