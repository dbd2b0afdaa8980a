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

package postbuffer_test

import (
	"testing"

	"github.com/google/gapir/pkg/postbuffer"
	"github.com/google/gapir/pkg/replaysrv"
)

func TestPushBuffersUntilFlush(t *testing.T) {
	var flushes [][]replaysrv.PostDataPiece
	b := postbuffer.New(100, func(pieces []replaysrv.PostDataPiece) bool {
		flushes = append(flushes, pieces)
		return true
	})

	b.Push([]byte{1, 2, 3})
	b.Push([]byte{4, 5})
	if len(flushes) != 0 {
		t.Fatalf("expected no flush yet, got %d", len(flushes))
	}
	if !b.Flush() {
		t.Fatal("Flush returned false")
	}
	if len(flushes) != 1 || len(flushes[0]) != 2 {
		t.Fatalf("flushes = %+v", flushes)
	}
	if flushes[0][0].ID != 0 || flushes[0][1].ID != 1 {
		t.Errorf("expected monotonic sequence numbers 0,1; got %d,%d", flushes[0][0].ID, flushes[0][1].ID)
	}
}

func TestPushLargeIntoEmptyBufferBypassesBuffering(t *testing.T) {
	var flushes [][]replaysrv.PostDataPiece
	b := postbuffer.New(10, func(pieces []replaysrv.PostDataPiece) bool {
		flushes = append(flushes, pieces)
		return true
	})

	// capacity/2 == 5, so a 6-byte push into an empty buffer writes
	// immediately as its own single-entry batch.
	b.Push([]byte{1, 2, 3, 4, 5, 6})
	if len(flushes) != 1 || len(flushes[0]) != 1 {
		t.Fatalf("expected one immediate single-entry flush, got %+v", flushes)
	}
}

func TestPushFlushesWhenFull(t *testing.T) {
	var flushCount int
	b := postbuffer.New(4, func(pieces []replaysrv.PostDataPiece) bool {
		flushCount++
		return true
	})

	b.Push([]byte{1, 2}) // offset=2, fits
	b.Push([]byte{3, 4}) // offset=4, fits exactly
	b.Push([]byte{5, 6}) // does not fit (4+2>4), flush then retry
	if flushCount != 1 {
		t.Fatalf("expected exactly one flush before the third push is buffered, got %d", flushCount)
	}
	if !b.Flush() {
		t.Fatal("final Flush returned false")
	}
	if flushCount != 2 {
		t.Fatalf("expected a second flush for the retried push, got %d", flushCount)
	}
}

func TestSequenceNumbersMonotonicAcrossFlushes(t *testing.T) {
	var ids []uint64
	b := postbuffer.New(4, func(pieces []replaysrv.PostDataPiece) bool {
		for _, p := range pieces {
			ids = append(ids, p.ID)
		}
		return true
	})
	for i := 0; i < 5; i++ {
		b.Push([]byte{1, 2})
		b.Flush()
	}
	for i, id := range ids {
		if id != uint64(i) {
			t.Errorf("ids[%d] = %d, want %d", i, id, i)
		}
	}
}
