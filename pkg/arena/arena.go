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

// Package arena implements the replay daemon's memory manager (spec §4.A): a
// single contiguous region carved into three non-overlapping sub-ranges —
// volatile (low), constant (middle), opcode (high) — with offset/absolute
// translation and range-containment address classification.
//
// Grounded on core/memory/arena/arena.go's role (arena owns every
// allocation, Writer/Reader walk it at an Offset) but not its
// implementation: the teacher's arena is a cgo wrapper around a C allocator
// (core/memory/arena/cc/arena.h), which buys alignment control and
// under/over-allocation leak checking this daemon does not need — the whole
// arena is one fixed-size []byte carved into three ranges up front, never
// individually freed until the whole arena is dropped. Reimplementing this
// on cgo would make the module require a C toolchain to build for no
// corresponding benefit, so Component A is pure Go over a []byte.
package arena

import (
	"fmt"

	"github.com/google/gapir/pkg/protocol"
)

// Arena is the replay daemon's single memory region.
type Arena struct {
	buf []byte

	opcodeBase   int
	opcodeSize   int
	constantBase int
	constantSize int
	volatileBase int
	volatileSize int
}

// Stats mirrors the teacher's Arena.Stats shape for diagnostics logging.
type Stats struct {
	Size         int
	VolatileSize int
	ConstantSize int
	OpcodeSize   int
}

func (s Stats) String() string {
	return fmt.Sprintf("{size: %d, volatile: %d, constant: %d, opcode: %d}",
		s.Size, s.VolatileSize, s.ConstantSize, s.OpcodeSize)
}

// New attempts each candidate size in order (largest first), probing each
// by first allocating size*1.3 then releasing and reallocating exactly
// size, and returns the first that succeeds. Fails fatally — via panic,
// matching the teacher's "fails fatally" construction failures elsewhere in
// gapir/api.go — if none succeed.
func New(candidateSizes []int) *Arena {
	for _, size := range candidateSizes {
		if a := tryAllocate(size); a != nil {
			return a
		}
	}
	panic("arena: failed to allocate memory manager for any candidate size")
}

func tryAllocate(size int) (a *Arena) {
	defer func() {
		if recover() != nil {
			a = nil
		}
	}()
	probe := make([]byte, int(float64(size)*1.3))
	_ = probe
	probe = nil
	return &Arena{buf: make([]byte, size)}
}

// Size returns the total arena size in bytes.
func (a *Arena) Size() int { return len(a.buf) }

// Stats returns the current sub-region sizing.
func (a *Arena) Stats() Stats {
	return Stats{
		Size:         len(a.buf),
		VolatileSize: a.volatileSize,
		ConstantSize: a.constantSize,
		OpcodeSize:   a.opcodeSize,
	}
}

// SetReplayDataSize lays out the constant and opcode sub-regions, advancing
// downward from the arena end: opcode at the very top, constant directly
// below it. Returns an error if the two regions don't fit.
func (a *Arena) SetReplayDataSize(constantSize, opcodeSize int) error {
	if constantSize+opcodeSize > len(a.buf) {
		return fmt.Errorf("arena: constant+opcode size %d exceeds arena size %d", constantSize+opcodeSize, len(a.buf))
	}
	a.opcodeSize = opcodeSize
	a.opcodeBase = len(a.buf) - opcodeSize
	a.constantSize = constantSize
	a.constantBase = a.opcodeBase - constantSize
	return nil
}

// SetVolatileMemory reserves volSize bytes below the constant region. Fails
// if it would overlap the constant region.
func (a *Arena) SetVolatileMemory(volSize int) error {
	if a.constantBase == 0 && a.constantSize == 0 && a.opcodeSize == 0 {
		return fmt.Errorf("arena: SetReplayDataSize must be called before SetVolatileMemory")
	}
	if volSize > a.constantBase {
		return fmt.Errorf("arena: volatile size %d overlaps constant region at %d", volSize, a.constantBase)
	}
	a.volatileSize = volSize
	a.volatileBase = 0
	return nil
}

// ConstantBytes returns the writable slice backing the constant sub-region,
// for populating it from a payload.
func (a *Arena) ConstantBytes() []byte {
	return a.buf[a.constantBase : a.constantBase+a.constantSize]
}

// OpcodeBytes returns the writable slice backing the opcode sub-region.
func (a *Arena) OpcodeBytes() []byte {
	return a.buf[a.opcodeBase : a.opcodeBase+a.opcodeSize]
}

// VolatileSize returns the size in bytes of the volatile sub-region.
func (a *Arena) VolatileSize() int { return a.volatileSize }

// IsConstantAddressWithSize reports whether [p,p+size) lies entirely within
// the constant sub-region.
func (a *Arena) IsConstantAddressWithSize(p uint64, size int) bool {
	return inRange(p, size, uint64(a.constantBase), a.constantSize, len(a.buf))
}

// IsConstantAddress reports whether p lies within the constant sub-region.
func (a *Arena) IsConstantAddress(p uint64) bool {
	return a.IsConstantAddressWithSize(p, 1)
}

// IsVolatileAddressWithSize reports whether [p,p+size) lies entirely within
// the volatile sub-region.
func (a *Arena) IsVolatileAddressWithSize(p uint64, size int) bool {
	return inRange(p, size, uint64(a.volatileBase), a.volatileSize, len(a.buf))
}

// IsVolatileAddress reports whether p lies within the volatile sub-region.
func (a *Arena) IsVolatileAddress(p uint64) bool {
	return a.IsVolatileAddressWithSize(p, 1)
}

func inRange(p uint64, size int, base uint64, regionSize, _ int) bool {
	if size < 0 {
		return false
	}
	if p < base {
		return false
	}
	end := base + uint64(regionSize)
	return p+uint64(size) <= end
}

// IsObserved reports whether p is something other than the
// never-observed-by-the-tracer sentinel. Per spec §3, writes through the
// sentinel are errors; reads return indeterminate data rather than erroring.
func IsObserved(p uint64) bool {
	return p != protocol.ObservedPointerSentinel
}

// ConstantToAbsolute translates a constant-region offset to an absolute
// arena offset.
func (a *Arena) ConstantToAbsolute(off uint32) uint64 {
	return uint64(a.constantBase) + uint64(off)
}

// AbsoluteToConstant is the inverse of ConstantToAbsolute.
func (a *Arena) AbsoluteToConstant(abs uint64) uint32 {
	return uint32(abs - uint64(a.constantBase))
}

// VolatileToAbsolute translates a volatile-region offset to an absolute
// arena offset.
func (a *Arena) VolatileToAbsolute(off uint32) uint64 {
	return uint64(a.volatileBase) + uint64(off)
}

// AbsoluteToVolatile is the inverse of VolatileToAbsolute.
func (a *Arena) AbsoluteToVolatile(abs uint64) uint32 {
	return uint32(abs - uint64(a.volatileBase))
}

// At returns a slice of size bytes at the given absolute arena offset, for
// direct memory access by the interpreter's LOAD/STORE/COPY/STRCPY
// handling.
func (a *Arena) At(abs uint64, size int) []byte {
	return a.buf[abs : abs+uint64(size)]
}
