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

package replaycontext

import (
	"context"
	"testing"

	"github.com/google/gapir/pkg/arena"
	"github.com/google/gapir/pkg/opcode"
	"github.com/google/gapir/pkg/protocol"
	"github.com/google/gapir/pkg/renderer"
	"github.com/google/gapir/pkg/replayservice"
	"github.com/google/gapir/pkg/replaysrv"
	"github.com/google/gapir/pkg/rescache"
	"github.com/google/gapir/pkg/resload"
)

type fakeService struct {
	payload *replaysrv.Payload

	posts         [][]replaysrv.PostDataPiece
	notifications []struct{ id, label uint64 }
	errMsgs       []struct {
		severity replaysrv.Severity
		msg      string
	}
	fenceErr error
}

func (f *fakeService) GetPayload(ctx context.Context, id string) (*replaysrv.Payload, error) {
	return f.payload, nil
}
func (f *fakeService) GetResources(ctx context.Context, ids []string, expectedTotalSize uint64) ([]byte, error) {
	return make([]byte, expectedTotalSize), nil
}
func (f *fakeService) GetFenceReady(ctx context.Context, id uint32) error { return f.fenceErr }
func (f *fakeService) SendPosts(pieces []replaysrv.PostDataPiece) bool {
	f.posts = append(f.posts, pieces)
	return true
}
func (f *fakeService) SendErrorMsg(seqNum uint64, severity replaysrv.Severity, apiIndex uint32, label uint64, msg string, data []byte) bool {
	f.errMsgs = append(f.errMsgs, struct {
		severity replaysrv.Severity
		msg      string
	}{severity, msg})
	return true
}
func (f *fakeService) SendReplayStatus(label uint64, total, finished uint32) bool { return true }
func (f *fakeService) SendNotificationData(id, label uint64, data []byte) bool {
	f.notifications = append(f.notifications, struct{ id, label uint64 }{id, label})
	return true
}
func (f *fakeService) SendCrashDump(filepath string, data []byte) bool { return true }
func (f *fakeService) SendReplayFinished() bool                        { return true }

func encode(insts ...opcode.Instruction) []byte {
	words := make([]byte, 0, len(insts)*4)
	for _, i := range insts {
		w := opcode.Encode(i)
		words = append(words, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return words
}

func newTestContext(t *testing.T, opcodes []byte, newRenderer NewRenderer) (*Context, *fakeService) {
	t.Helper()
	svc := &fakeService{payload: &replaysrv.Payload{
		StackSize:          64,
		VolatileMemorySize: 4096,
		Opcodes:            opcodes,
	}}
	mem := arena.New([]int{1 << 20})
	loader := resload.New(rescache.NewMemory(1<<20, ServiceFetcher{Service: svc}, nil), ServiceFetcher{Service: svc})
	c := Create(context.Background(), svc, "session-1", loader, mem, newRenderer)
	t.Cleanup(c.Close)
	if err := c.Initialize("replay-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c, svc
}

func TestInterpretFlushesPostedData(t *testing.T) {
	program := encode(
		opcode.PushI{DataType: protocol.Type_VolatilePointer, Value: 0},
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 4},
		opcode.Post{},
	)
	c, svc := newTestContext(t, program, nil)

	abs := c.memory.VolatileToAbsolute(0)
	copy(c.memory.At(abs, 4), []byte{1, 2, 3, 4})

	if !c.Interpret(true, false) {
		t.Fatal("Interpret failed")
	}
	if len(svc.posts) != 1 || len(svc.posts[0]) != 1 {
		t.Fatalf("got %d post batches, want 1 batch of 1 piece: %v", len(svc.posts), svc.posts)
	}
	if got, want := svc.posts[0][0].Bytes, []byte{1, 2, 3, 4}; string(got) != string(want) {
		t.Errorf("got posted bytes %v, want %v", got, want)
	}
}

func TestInterpretWaitDispatchesFenceReady(t *testing.T) {
	program := encode(
		opcode.Wait{Value: 7},
	)
	c, _ := newTestContext(t, program, nil)

	if !c.Interpret(true, false) {
		t.Fatal("Interpret failed")
	}
}

func TestInterpretWaitFailsOnFenceError(t *testing.T) {
	program := encode(
		opcode.Wait{Value: 7},
	)
	c, svc := newTestContext(t, program, nil)
	svc.fenceErr = context.DeadlineExceeded

	if c.Interpret(true, false) {
		t.Fatal("expected Interpret to fail when the fence errors")
	}
}

func fakeRendererConstructor(fail bool) NewRenderer {
	return func(apiIndex uint8) renderer.Renderer {
		f := renderer.NewFake(apiIndex)
		f.FailValidation = fail
		return f
	}
}

// alwaysFailRenderer fails instance/device creation regardless of whether
// validation was requested, to exercise the path where the validation-
// dropped retry also fails.
type alwaysFailRenderer struct {
	renderer.Fake
}

func (r *alwaysFailRenderer) Api() renderer.Api { return r }

func (r *alwaysFailRenderer) CreateVkInstance(withValidation bool) (uint64, bool, bool) {
	r.Fake.CreateVkInstance(withValidation)
	return 0, true, false
}

func (r *alwaysFailRenderer) CreateVkDevice(withValidation bool) (uint64, bool) {
	r.Fake.CreateVkDevice(withValidation)
	return 0, false
}

func alwaysFailRendererConstructor() NewRenderer {
	return func(apiIndex uint8) renderer.Renderer {
		return &alwaysFailRenderer{Fake: *renderer.NewFake(apiIndex)}
	}
}

func TestCreateVkInstanceRetriesWithoutValidationWhenPossible(t *testing.T) {
	program := encode(
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 1}, // withValidation = true
		opcode.Call{ApiIndex: vulkanAPIIndex, FunctionID: renderer.FuncCreateVkInstance, PushReturn: false},
	)
	c, _ := newTestContext(t, program, fakeRendererConstructor(true))

	if !c.Interpret(true, false) {
		t.Fatal("expected Interpret to succeed once the validation-dropped retry succeeds")
	}
	calls := c.vulkanRenderer.Api().(*renderer.Fake).Calls
	count := 0
	for _, name := range calls {
		if name == "CreateVkInstance" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected CreateVkInstance to be called twice (initial + validation-dropped retry), got %d calls: %v", count, calls)
	}
}

func TestCreateVkInstanceTotalFailureStillSucceedsAtInstructionLevel(t *testing.T) {
	program := encode(
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 1}, // withValidation = true
		opcode.Call{ApiIndex: vulkanAPIIndex, FunctionID: renderer.FuncCreateVkInstance, PushReturn: false},
	)
	c, _ := newTestContext(t, program, alwaysFailRendererConstructor())

	if !c.Interpret(true, false) {
		t.Fatal("expected CreateVkInstance to still succeed at the instruction level on total failure, pushing an error code instead")
	}
}

func TestCreateVkDeviceFailsInstructionOnTotalFailure(t *testing.T) {
	program := encode(
		opcode.PushI{DataType: protocol.Type_Uint32, Value: 1}, // withValidation = true
		opcode.Call{ApiIndex: vulkanAPIIndex, FunctionID: renderer.FuncCreateVkDevice, PushReturn: false},
	)
	c, _ := newTestContext(t, program, alwaysFailRendererConstructor())

	if c.Interpret(true, false) {
		t.Fatal("expected CreateVkDevice's retry failure to fail the interpreter step outright")
	}
}

func TestOnDebugMessageForwardsToService(t *testing.T) {
	svc := &fakeService{}
	c := Create(context.Background(), svc, "session-2", nil, nil, nil)
	defer c.Close()
	c.OnDebugMessage(uint32(replaysrv.SeverityError), 1, "driver hiccup\n")

	if len(svc.errMsgs) != 1 {
		t.Fatalf("got %d error messages, want 1", len(svc.errMsgs))
	}
	if svc.errMsgs[0].msg != "driver hiccup" {
		t.Errorf("got message %q, want trimmed %q", svc.errMsgs[0].msg, "driver hiccup")
	}
	if svc.errMsgs[0].severity != replaysrv.SeverityError {
		t.Errorf("got severity %v, want %v", svc.errMsgs[0].severity, replaysrv.SeverityError)
	}
}

func TestCloseUnregistersCrashReporter(t *testing.T) {
	svc := &fakeService{}
	c := Create(context.Background(), svc, "session-3", nil, nil, nil)
	c.Close()
}

var _ replayservice.Service = (*fakeService)(nil)
