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

// Package postbuffer implements Component I, the delayed-flush buffer that
// batches many small readback postbacks into fewer, larger
// PostData messages. Grounded on gapir/cc/post_buffer.{h,cpp}.
package postbuffer

import "github.com/google/gapir/pkg/replaysrv"

// Callback flushes a batch of post data pieces to the controller, typically
// the Replay Service's sendPosts.
type Callback func(pieces []replaysrv.PostDataPiece) bool

// Buffer batches post data pieces, flushing when their combined size would
// exceed capacity or on an explicit Flush call.
type Buffer struct {
	capacity uint32
	callback Callback

	pieces []replaysrv.PostDataPiece
	offset uint32
	seq    uint64
}

// New constructs a Buffer with the given capacity in bytes.
func New(capacity uint32, callback Callback) *Buffer {
	return &Buffer{capacity: capacity, callback: callback}
}

// Push enqueues count bytes read from data. If the buffer is currently empty
// and count exceeds half the capacity, data is written out immediately as a
// single-entry batch rather than copied into the buffer. If the buffer
// cannot fit count more bytes, it is flushed first.
func (b *Buffer) Push(data []byte) bool {
	count := uint32(len(data))

	if b.offset == 0 && count > b.capacity/2 {
		seq := b.seq
		b.seq++
		return b.callback([]replaysrv.PostDataPiece{{ID: seq, Bytes: data}})
	}

	if b.offset+count <= b.capacity {
		b.pieces = append(b.pieces, replaysrv.PostDataPiece{ID: b.seq, Bytes: data})
		b.seq++
		b.offset += count
		return true
	}

	if !b.Flush() {
		return false
	}
	return b.Push(data)
}

// Flush sends any buffered pieces through the callback and clears the
// buffer. It is a no-op if the buffer is empty.
func (b *Buffer) Flush() bool {
	if b.offset == 0 {
		return true
	}
	pieces := b.pieces
	b.pieces = nil
	b.offset = 0
	return b.callback(pieces)
}
