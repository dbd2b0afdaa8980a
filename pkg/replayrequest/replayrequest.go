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

// Package replayrequest implements Component J: it fetches a Payload from
// the Replay Service, lays it out in the Memory Manager's arena, and
// exposes the views the interpreter and context need. Grounded on
// gapir/cc/replay_request.{h,cpp}.
package replayrequest

import (
	"context"

	"github.com/pkg/errors"

	"github.com/google/gapir/pkg/arena"
	"github.com/google/gapir/pkg/replayservice"
	"github.com/google/gapir/pkg/rescache"
)

// Request holds the views into the arena materialized from a loaded
// Payload: stack size in words, volatile memory size in bytes, the
// constant and opcode sub-regions, and the resource list.
type Request struct {
	StackSize          uint32
	VolatileMemorySize uint32
	Constants          []byte
	Opcodes            []byte
	Resources          []rescache.Resource
}

// Create fetches the Payload named id from svc and lays it out in a.
func Create(ctx context.Context, svc replayservice.Service, id string, a *arena.Arena) (*Request, error) {
	payload, err := svc.GetPayload(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "replayrequest: getting payload")
	}

	if err := a.SetReplayDataSize(len(payload.Constants), len(payload.Opcodes)); err != nil {
		return nil, errors.Wrap(err, "replayrequest: sizing replay data")
	}
	if err := a.SetVolatileMemory(int(payload.VolatileMemorySize)); err != nil {
		return nil, errors.Wrap(err, "replayrequest: sizing volatile memory")
	}

	copy(a.ConstantBytes(), payload.Constants)
	copy(a.OpcodeBytes(), payload.Opcodes)

	resources := make([]rescache.Resource, len(payload.Resources))
	for i, r := range payload.Resources {
		resources[i] = rescache.Resource{ID: r.ID, Size: r.Size}
	}

	return &Request{
		StackSize:          payload.StackSize,
		VolatileMemorySize: payload.VolatileMemorySize,
		Constants:          a.ConstantBytes(),
		Opcodes:            a.OpcodeBytes(),
		Resources:          resources,
	}, nil
}

// InstructionCount returns the number of 32-bit opcode words in the
// request.
func (r *Request) InstructionCount() uint32 {
	return uint32(len(r.Opcodes) / 4)
}
