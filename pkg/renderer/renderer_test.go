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

package renderer_test

import (
	"testing"

	"github.com/google/gapir/pkg/renderer"
)

func TestFakeCreateVkInstanceFailsOnlyWithValidationRequested(t *testing.T) {
	f := renderer.NewFake(1)
	f.FailValidation = true

	if _, missingLayer, ok := f.CreateVkInstance(true); ok || !missingLayer {
		t.Fatalf("expected validation-requested create to fail with missingLayer=true, got ok=%v missingLayer=%v", ok, missingLayer)
	}
	if _, _, ok := f.CreateVkInstance(false); !ok {
		t.Fatal("expected create without validation to succeed")
	}
}

func TestFakeCreateVkDeviceDoesNotDistinguishMissingLayer(t *testing.T) {
	f := renderer.NewFake(1)
	f.FailValidation = true

	if _, ok := f.CreateVkDevice(true); ok {
		t.Fatal("expected validation-requested device create to fail")
	}
	if _, ok := f.CreateVkDevice(false); !ok {
		t.Fatal("expected device create without validation to succeed")
	}
}

func TestFakeIsValidUntilInvalidated(t *testing.T) {
	f := renderer.NewFake(0)
	if !f.IsValid() {
		t.Fatal("new fake should be valid")
	}
	f.SetInvalid()
	if f.IsValid() {
		t.Fatal("fake should be invalid after SetInvalid")
	}
}

func TestFakeRecordsCalls(t *testing.T) {
	f := renderer.NewFake(0)
	f.EnumeratePhysicalDevices()
	f.WaitForFences(1)
	want := []string{"EnumeratePhysicalDevices", "WaitForFences"}
	if len(f.Calls) != len(want) {
		t.Fatalf("got %v, want %v", f.Calls, want)
	}
	for i := range want {
		if f.Calls[i] != want[i] {
			t.Fatalf("got %v, want %v", f.Calls, want)
		}
	}
}

type recordingListener struct {
	severity uint32
	apiIndex uint8
	msg      string
}

func (r *recordingListener) OnDebugMessage(severity uint32, apiIndex uint8, msg string) {
	r.severity, r.apiIndex, r.msg = severity, apiIndex, msg
}

func TestBaseForwardsDebugMessageToListener(t *testing.T) {
	f := renderer.NewFake(3)
	l := &recordingListener{}
	f.SetListener(l)
	f.DebugMessage(2, 3, "driver hiccup")
	if l.severity != 2 || l.apiIndex != 3 || l.msg != "driver hiccup" {
		t.Fatalf("listener did not receive forwarded message: %+v", l)
	}
}
