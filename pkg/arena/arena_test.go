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

package arena_test

import (
	"testing"

	"github.com/google/gapir/pkg/arena"
)

func newTestArena(t *testing.T) *arena.Arena {
	t.Helper()
	a := arena.New([]int{4096})
	if err := a.SetReplayDataSize(512, 256); err != nil {
		t.Fatalf("SetReplayDataSize: %v", err)
	}
	if err := a.SetVolatileMemory(1024); err != nil {
		t.Fatalf("SetVolatileMemory: %v", err)
	}
	return a
}

func TestCandidateSizeFallback(t *testing.T) {
	a := arena.New([]int{1 << 40, 4096})
	if a.Size() != 4096 {
		t.Errorf("Size() = %d, want 4096 (should have fallen back)", a.Size())
	}
}

func TestAllCandidatesFailPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when no candidate size succeeds")
		}
	}()
	arena.New([]int{-1})
}

func TestAddressClassification(t *testing.T) {
	a := newTestArena(t)

	if !a.IsVolatileAddress(0) {
		t.Error("offset 0 should be volatile")
	}
	if !a.IsVolatileAddress(1023) {
		t.Error("offset 1023 should be volatile")
	}
	if a.IsVolatileAddress(1024) {
		t.Error("offset 1024 should not be volatile (out of range)")
	}
	if a.IsConstantAddress(1024) {
		t.Error("absolute offset 1024 is not inside the constant region base")
	}
}

func TestOffsetTranslationRoundtrip(t *testing.T) {
	a := newTestArena(t)

	for _, off := range []uint32{0, 10, 511} {
		abs := a.ConstantToAbsolute(off)
		if !a.IsConstantAddress(abs) {
			t.Errorf("ConstantToAbsolute(%d) = %d is not a constant address", off, abs)
		}
		if got := a.AbsoluteToConstant(abs); got != off {
			t.Errorf("AbsoluteToConstant(ConstantToAbsolute(%d)) = %d", off, got)
		}
	}

	for _, off := range []uint32{0, 10, 1023} {
		abs := a.VolatileToAbsolute(off)
		if !a.IsVolatileAddress(abs) {
			t.Errorf("VolatileToAbsolute(%d) = %d is not a volatile address", off, abs)
		}
		if got := a.AbsoluteToVolatile(abs); got != off {
			t.Errorf("AbsoluteToVolatile(VolatileToAbsolute(%d)) = %d", off, got)
		}
	}
}

func TestIsObservedSentinel(t *testing.T) {
	if arena.IsObserved(0xBADF00D) {
		t.Error("the sentinel address should report as not observed")
	}
	if !arena.IsObserved(0x1000) {
		t.Error("a non-sentinel address should report as observed")
	}
}

func TestVolatileOverlapRejected(t *testing.T) {
	a := arena.New([]int{4096})
	if err := a.SetReplayDataSize(512, 256); err != nil {
		t.Fatalf("SetReplayDataSize: %v", err)
	}
	if err := a.SetVolatileMemory(4096 - 512 - 256 + 1); err == nil {
		t.Error("expected error when volatile region overlaps constant region")
	}
}
