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

package interpreter_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/gapir/pkg/arena"
	"github.com/google/gapir/pkg/interpreter"
	"github.com/google/gapir/pkg/opcode"
	"github.com/google/gapir/pkg/protocol"
	"github.com/google/gapir/pkg/stack"
	"github.com/google/gapir/pkg/value"
)

const captureFunctionID = 0x1000

// newTestInterpreter builds an Interpreter over a small arena laid out with
// a volatile region, plus a global builtin at captureFunctionID that pops
// whatever is on top and records it into *captured.
func newTestInterpreter(t *testing.T, volatileSize int) (*interpreter.Interpreter, *value.Value) {
	t.Helper()
	a := arena.New([]int{1 << 16})
	if err := a.SetReplayDataSize(0, 0); err != nil {
		t.Fatalf("SetReplayDataSize: %v", err)
	}
	if err := a.SetVolatileMemory(volatileSize); err != nil {
		t.Fatalf("SetVolatileMemory: %v", err)
	}
	ip := interpreter.New(context.Background(), a, 64)
	var captured value.Value
	ip.RegisterBuiltin(protocol.GlobalAPIIndex, captureFunctionID, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		captured = s.PopAny()
		return !s.Invalid()
	})
	return ip, &captured
}

func encode(insts ...opcode.Instruction) []uint32 {
	words := make([]uint32, len(insts))
	for i, inst := range insts {
		words[i] = opcode.Encode(inst)
	}
	return words
}

func captureCall() opcode.Call {
	return opcode.Call{ApiIndex: protocol.GlobalAPIIndex, FunctionID: captureFunctionID}
}

func TestAddInt32(t *testing.T) {
	ip, captured := newTestInterpreter(t, 0)
	program := encode(
		opcode.PushI{DataType: protocol.Type_Int32, Value: 5},
		opcode.PushI{DataType: protocol.Type_Int32, Value: 7},
		opcode.Add{Count: 2},
		captureCall(),
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Int32(12); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPushISignExtension(t *testing.T) {
	ip, captured := newTestInterpreter(t, 0)
	// Bit 19 set marks a negative 20-bit immediate; -1 encodes as all-ones.
	program := encode(
		opcode.PushI{DataType: protocol.Type_Int32, Value: 0xfffff},
		captureCall(),
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Int32(-1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPushIExtendFloat(t *testing.T) {
	ip, captured := newTestInterpreter(t, 0)
	// -2.0f is 0xC0000000; its top 9 bits (sign+exponent) are 0x180, mantissa 0.
	program := encode(
		opcode.PushI{DataType: protocol.Type_Float, Value: 0x180},
		opcode.Extend{Value: 0},
		captureCall(),
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Float(-2.0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPushIExtendDouble(t *testing.T) {
	ip, captured := newTestInterpreter(t, 0)
	// 1.0 is 0x3FF0000000000000; top 12 bits (sign+exponent) are 0x3FF.
	program := encode(
		opcode.PushI{DataType: protocol.Type_Double, Value: 0x3ff},
		opcode.Extend{Value: 0},
		captureCall(),
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Double(1.0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStoreVThenLoadV(t *testing.T) {
	ip, captured := newTestInterpreter(t, 64)
	program := encode(
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 42},
		opcode.StoreV{Address: 0},
		opcode.LoadV{DataType: protocol.Type_Uint32, Address: 0},
		captureCall(),
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Uint32(42); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStorePopsAddressThenValue(t *testing.T) {
	ip, _ := newTestInterpreter(t, 64)
	program := encode(
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 99},
		opcode.PushI{DataType: protocol.Type_VolatilePointer, Value: 8},
		opcode.Store{},
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	abs := ip.Arena().VolatileToAbsolute(8)
	got := binary.LittleEndian.Uint32(ip.Arena().At(abs, 4))
	if got != 99 {
		t.Errorf("got %d, want 99", got)
	}
}

func TestCloneThenStoreWritesClonedPointerTarget(t *testing.T) {
	ip, _ := newTestInterpreter(t, 64)
	program := encode(
		opcode.PushI{DataType: protocol.Type_VolatilePointer, Value: 100},
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 0xbeef},
		opcode.Clone{Index: 1}, // re-pushes the VolatilePointer sitting 1 slot below top
		opcode.Store{},
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	abs := ip.Arena().VolatileToAbsolute(100)
	got := binary.LittleEndian.Uint32(ip.Arena().At(abs, 4))
	if got != 0xbeef {
		t.Errorf("got 0x%x, want 0xbeef", got)
	}
}

func TestCopy(t *testing.T) {
	ip, _ := newTestInterpreter(t, 64)
	srcAbs := ip.Arena().VolatileToAbsolute(0)
	copy(ip.Arena().At(srcAbs, 4), []byte{1, 2, 3, 4})
	program := encode(
		opcode.PushI{DataType: protocol.Type_VolatilePointer, Value: 0},
		opcode.PushI{DataType: protocol.Type_VolatilePointer, Value: 32},
		opcode.Copy{Count: 4},
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	dstAbs := ip.Arena().VolatileToAbsolute(32)
	got := ip.Arena().At(dstAbs, 4)
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestJumpZSkipsToLabel(t *testing.T) {
	ip, captured := newTestInterpreter(t, 0)
	program := encode(
		opcode.PushI{DataType: protocol.Type_Int32, Value: 0},
		opcode.JumpZ{Value: 1},
		opcode.PushI{DataType: protocol.Type_Int32, Value: 111},
		captureCall(),
		opcode.JumpLabel{Value: 1},
		opcode.PushI{DataType: protocol.Type_Int32, Value: 222},
		captureCall(),
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Int32(222); got != want {
		t.Errorf("got %v, want %v, jump did not skip the intervening instructions", got, want)
	}
}

func TestJumpNZFallsThroughWhenZero(t *testing.T) {
	ip, captured := newTestInterpreter(t, 0)
	program := encode(
		opcode.PushI{DataType: protocol.Type_Int32, Value: 0},
		opcode.JumpNZ{Value: 1},
		opcode.PushI{DataType: protocol.Type_Int32, Value: 333},
		captureCall(),
		opcode.JumpLabel{Value: 1},
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Int32(333); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResourceDispatchesThroughGlobalBuiltin(t *testing.T) {
	a := arena.New([]int{1 << 16})
	if err := a.SetReplayDataSize(0, 0); err != nil {
		t.Fatalf("SetReplayDataSize: %v", err)
	}
	if err := a.SetVolatileMemory(0); err != nil {
		t.Fatalf("SetVolatileMemory: %v", err)
	}
	ip := interpreter.New(context.Background(), a, 64)
	var gotID uint32
	ip.RegisterBuiltin(protocol.GlobalAPIIndex, protocol.ResourceFunctionID, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		v := s.Pop(protocol.Type_Uint32)
		if v == nil {
			return false
		}
		gotID = uint32(v.(value.Uint32))
		return true
	})
	program := encode(opcode.Resource{ID: 55})
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if gotID != 55 {
		t.Errorf("got resource id %d, want 55", gotID)
	}
}

func TestSwitchThreadHandsOffExecution(t *testing.T) {
	ip, captured := newTestInterpreter(t, 0)
	program := encode(
		opcode.PushI{DataType: protocol.Type_Int32, Value: 1},
		opcode.SwitchThread{Value: 7},
		opcode.PushI{DataType: protocol.Type_Int32, Value: 2},
		captureCall(),
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
	if got, want := *captured, value.Int32(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	ip.Close()
}

func TestInlineResourceCopiesBlob(t *testing.T) {
	a := arena.New([]int{1 << 16})
	if err := a.SetReplayDataSize(0, 0); err != nil {
		t.Fatalf("SetReplayDataSize: %v", err)
	}
	if err := a.SetVolatileMemory(256); err != nil {
		t.Fatalf("SetVolatileMemory: %v", err)
	}
	ip := interpreter.New(context.Background(), a, 64)

	program := []uint32{
		opcode.Encode(opcode.PushI{DataType: protocol.Type_VolatilePointer, Value: 16}),
		opcode.Encode(opcode.InlineResource{NumValuePatchUps: 0, DataSize: 8}),
		0xDEADBEEF,
		0xCAFEBABE,
		0, // numPointerPatchUps
	}
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}

	abs := ip.Arena().VolatileToAbsolute(16)
	got := ip.Arena().At(abs, 8)
	want := make([]byte, 8)
	binary.LittleEndian.PutUint32(want[0:4], 0xDEADBEEF)
	binary.LittleEndian.PutUint32(want[4:8], 0xCAFEBABE)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestAddRequiresAtLeastTwoValuesElseNoop(t *testing.T) {
	ip, _ := newTestInterpreter(t, 0)
	program := encode(
		opcode.PushI{DataType: protocol.Type_Int32, Value: 9},
		opcode.Add{Count: 1},
	)
	if !ip.Run(program) {
		t.Fatal("Run failed")
	}
}

func TestUnknownOpcodeFails(t *testing.T) {
	ip, _ := newTestInterpreter(t, 0)
	program := []uint32{0x3f << 26}
	if ip.Run(program) {
		t.Fatal("Run should have failed on an unknown opcode")
	}
}

func TestPopUnderflowFails(t *testing.T) {
	ip, _ := newTestInterpreter(t, 0)
	program := encode(opcode.Pop{Count: 1})
	if ip.Run(program) {
		t.Fatal("Run should have failed popping an empty stack")
	}
}
