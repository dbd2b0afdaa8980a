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

// Package stack implements the interpreter's typed value stack (spec §4.B):
// a fixed-capacity stack of tagged 64-bit values with a sticky invalid
// latch. Once invalid, every further operation is a no-op that returns a
// zero value and keeps the latch set — the interpreter checks Invalid()
// once per instruction rather than threading an error return through every
// stack call, matching how the teacher's own VM-ish code (the bytecode
// compiler's emitted state machine, gapil/compiler/plugins/replay) treats a
// single sticky failure flag as cheaper than per-call error propagation.
package stack

import (
	"fmt"
	"strings"

	"github.com/google/gapir/pkg/arena"
	"github.com/google/gapir/pkg/protocol"
	"github.com/google/gapir/pkg/value"
)

// entry is one tagged 64-bit stack slot.
type entry struct {
	typ  protocol.Type
	bits uint64
}

// Stack is a fixed-depth typed value stack bound to a memory manager for
// pointer-validity checks on push.
type Stack struct {
	arena    *arena.Arena
	entries  []entry
	capacity int
	invalid  bool
}

// New constructs a Stack with the given capacity, bound to a for pointer
// range checks.
func New(capacity int, a *arena.Arena) *Stack {
	return &Stack{arena: a, capacity: capacity, entries: make([]entry, 0, capacity)}
}

// Invalid reports whether the sticky invalid latch has been set.
func (s *Stack) Invalid() bool { return s.invalid }

// Invalidate sets the sticky latch directly, for interpreter-detected
// faults (unknown opcode, unknown function id) that have nothing to do with
// a particular stack operation.
func (s *Stack) Invalidate() { s.invalid = true }

// Len returns the number of occupied slots.
func (s *Stack) Len() int { return len(s.entries) }

// Push sets the current slot to v and increments top. Pushing a
// ConstantPointer or VolatilePointer validates that its offset resolves
// into the expected sub-range; AbsolutePointer carries an already-resolved
// host address and is not range-checked. On any failure the stack becomes
// invalid and the push is dropped.
func (s *Stack) Push(v value.Value) {
	if s.invalid {
		return
	}
	if len(s.entries) >= s.capacity {
		s.invalid = true
		return
	}
	switch p := v.(type) {
	case value.ConstantPointer:
		if !s.arena.IsConstantAddress(uint64(p)) {
			s.invalid = true
			return
		}
	case value.VolatilePointer:
		if !s.arena.IsVolatileAddress(uint64(p)) {
			s.invalid = true
			return
		}
	}
	s.entries = append(s.entries, entry{typ: v.Type(), bits: v.Bits()})
}

// PushRaw pushes a type-tagged raw 64-bit value without pointer validation,
// for callers (ADD, CLONE, the interpreter's memory-read path) that already
// know the bits are well-formed.
func (s *Stack) PushRaw(t protocol.Type, bits uint64) {
	if s.invalid {
		return
	}
	if len(s.entries) >= s.capacity {
		s.invalid = true
		return
	}
	s.entries = append(s.entries, entry{typ: t, bits: bits})
}

// Pop fails (invalidates, returns nil) if the stack is empty or the top's
// tag does not match t.
func (s *Stack) Pop(t protocol.Type) value.Value {
	if s.invalid {
		return nil
	}
	if len(s.entries) == 0 {
		s.invalid = true
		return nil
	}
	top := s.entries[len(s.entries)-1]
	if top.typ != t {
		s.invalid = true
		return nil
	}
	s.entries = s.entries[:len(s.entries)-1]
	return value.FromBits(t, top.bits)
}

// PopAny pops whatever type sits on top, failing only on underflow.
func (s *Stack) PopAny() value.Value {
	if s.invalid {
		return nil
	}
	if len(s.entries) == 0 {
		s.invalid = true
		return nil
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return value.FromBits(top.typ, top.bits)
}

// PopBaseValue is a type-erased pop returning the raw 64-bit value.
func (s *Stack) PopBaseValue() uint64 {
	if s.invalid {
		return 0
	}
	if len(s.entries) == 0 {
		s.invalid = true
		return 0
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top.bits
}

// PopAddress pops whichever pointer type sits on top and converts it to an
// absolute arena offset via the memory manager. Fails if the top is not one
// of the three pointer types.
func (s *Stack) PopAddress() (abs uint64, ok bool) {
	if s.invalid {
		return 0, false
	}
	if len(s.entries) == 0 {
		s.invalid = true
		return 0, false
	}
	top := s.entries[len(s.entries)-1]
	if !top.typ.IsPointer() {
		s.invalid = true
		return 0, false
	}
	s.entries = s.entries[:len(s.entries)-1]
	switch top.typ {
	case protocol.Type_ConstantPointer:
		return s.arena.ConstantToAbsolute(uint32(top.bits)), true
	case protocol.Type_VolatilePointer:
		return s.arena.VolatileToAbsolute(uint32(top.bits)), true
	default: // AbsolutePointer
		return top.bits, true
	}
}

// TopType peeks at the top entry's type without popping, for CLONE/ADD, which
// need to know the type being duplicated/summed before consuming it.
func (s *Stack) TopType() (protocol.Type, bool) {
	if s.invalid || len(s.entries) == 0 {
		return 0, false
	}
	return s.entries[len(s.entries)-1].typ, true
}

// Discard pops and drops n slots.
func (s *Stack) Discard(n uint32) {
	if s.invalid {
		return
	}
	if uint32(len(s.entries)) < n {
		s.invalid = true
		return
	}
	s.entries = s.entries[:len(s.entries)-int(n)]
}

// Clone duplicates the single entry n slots below top, pushing the copy
// onto a new top.
func (s *Stack) Clone(n uint32) {
	if s.invalid {
		return
	}
	index := len(s.entries) - int(n) - 1
	if index < 0 {
		s.invalid = true
		return
	}
	if len(s.entries)+1 > s.capacity {
		s.invalid = true
		return
	}
	s.entries = append(s.entries, s.entries[index])
}

// PrintStack renders a human-readable dump, safe to call on an invalid
// stack.
func (s *Stack) PrintStack() string {
	var b strings.Builder
	if s.invalid {
		b.WriteString("[INVALID] ")
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		fmt.Fprintf(&b, "%d: %v 0x%x\n", i, e.typ, e.bits)
	}
	return b.String()
}
