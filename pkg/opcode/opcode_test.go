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

package opcode_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/google/gapir/pkg/opcode"
	"github.com/google/gapir/pkg/protocol"
)

func roundtrip(t *testing.T, insts ...opcode.Instruction) {
	t.Helper()
	buf := &bytes.Buffer{}
	for _, i := range insts {
		if err := binary.Write(buf, binary.LittleEndian, opcode.Encode(i)); err != nil {
			t.Fatalf("encode %v: %v", i, err)
		}
	}
	got, err := opcode.Disassemble(buf, binary.LittleEndian)
	if err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	if diff := cmp.Diff(insts, got); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestCallRoundtrip(t *testing.T) {
	roundtrip(t, opcode.Call{PushReturn: true, ApiIndex: 3, FunctionID: 0x1234})
	roundtrip(t, opcode.Call{PushReturn: false, ApiIndex: 0, FunctionID: protocol.PostFunctionID})
}

func TestPushILoadStoreRoundtrip(t *testing.T) {
	roundtrip(t,
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 0xfffff},
		opcode.LoadC{DataType: protocol.Type_Int32, Address: 0x10},
		opcode.LoadV{DataType: protocol.Type_Float, Address: 0x20},
		opcode.Load{DataType: protocol.Type_Double},
		opcode.StoreV{Address: 0x30},
		opcode.Store{},
	)
}

func TestMiscOpcodesRoundtrip(t *testing.T) {
	roundtrip(t,
		opcode.Pop{Count: 5},
		opcode.Resource{ID: 7},
		opcode.Post{},
		opcode.Copy{Count: 16},
		opcode.Clone{Index: 2},
		opcode.Strcpy{MaxSize: 64},
		opcode.Extend{Value: 0x3ffffff},
		opcode.Label{Value: 1},
		opcode.SwitchThread{Value: 2},
		opcode.JumpLabel{Value: 1},
		opcode.JumpNZ{Value: 1},
		opcode.JumpZ{Value: 1},
		opcode.Notification{},
		opcode.Wait{Value: 9},
		opcode.Add{Count: 3},
		opcode.InlineResource{NumValuePatchUps: 3, DataSize: 0x100},
	)
}

func TestPackOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on oversized immediate")
		}
	}()
	opcode.Encode(opcode.Pop{Count: 0x4000000})
}

func TestDecodeUnknownOpcode(t *testing.T) {
	// All 41 opcode-field values above the last defined opcode are unknown.
	word := uint32(0x3f) << 26
	if _, err := opcode.Decode(word); err == nil {
		t.Fatal("expected error decoding unknown opcode")
	}
}
