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

// Package rescache implements Components D and E: a bounded in-memory MRU
// resource cache with a speculative-prefetch miss path, and an append-only
// on-disk archive cache. Grounded on gapis/replay/ (which caches resolved
// resources before handing them to the replay builder) and on
// core/os/file's append/truncate idiom for crash-safe writes, since the
// retrieval pack carries no single file implementing this exact MRU +
// archive pair.
package rescache

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/google/gapir/internal/endian"
)

// Resource identifies one opaque, lazily-fetched blob.
type Resource struct {
	ID   string
	Size uint32
}

// Fetcher fetches the concatenated bytes of a batch of resources, in order.
type Fetcher interface {
	Fetch(ctx context.Context, resources []Resource) ([]byte, error)
}

// Anticipator proposes resources likely to be needed soon, bounded by a
// total size budget, to ride along with an unavoidable miss-path fetch.
type Anticipator func(missed Resource, budget uint32) []Resource

// Cache is the common surface both the in-memory and on-disk
// implementations satisfy.
type Cache interface {
	HasCache(r Resource) bool
	LoadCache(ctx context.Context, r Resource, dst []byte) (bool, error)
	// Lookup is a pure hit check: on a hit it copies into dst and reports
	// true without ever invoking a fallback fetch. Component F (the cached
	// resource loader) uses this to batch misses itself, rather than
	// letting the cache's own miss path (used when a cache is driven
	// directly, e.g. by a single-resource RESOURCE builtin call) fetch one
	// resource at a time.
	Lookup(r Resource, dst []byte) bool
	PutCache(r Resource, data []byte) bool
	Resize(newLimit uint64)
	Clear()
}

// Memory is a bounded MRU resource cache (Component D).
type Memory struct {
	mu    sync.Mutex
	limit uint64
	bytes uint64

	order *list.List // MRU at front
	index map[string]*list.Element

	fetch       Fetcher
	anticipate  Anticipator
	hits, total uint64
}

type memEntry struct {
	id   string
	data []byte
}

// NewMemory constructs an in-memory cache bounded at limit bytes, using
// fetch as its miss-path fallback and anticipate (optional, may be nil) to
// propose speculative prefetch candidates.
func NewMemory(limit uint64, fetch Fetcher, anticipate Anticipator) *Memory {
	return &Memory{
		limit:      limit,
		order:      list.New(),
		index:      map[string]*list.Element{},
		fetch:      fetch,
		anticipate: anticipate,
	}
}

// HasCache is a membership test.
func (c *Memory) HasCache(r Resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[r.ID]
	return ok
}

// PutCache copies data into cache storage, evicting LRU entries as needed.
// Returns false without modifying the cache if data alone exceeds limit.
func (c *Memory) PutCache(r Resource, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(r, data)
}

func (c *Memory) putLocked(r Resource, data []byte) bool {
	if uint64(len(data)) > c.limit {
		return false
	}
	if el, ok := c.index[r.ID]; ok {
		c.order.MoveToFront(el)
		return true
	}
	for c.bytes+uint64(len(data)) > c.limit && c.order.Len() > 0 {
		c.evictOldest()
	}
	el := c.order.PushFront(&memEntry{id: r.ID, data: data})
	c.index[r.ID] = el
	c.bytes += uint64(len(data))
	return true
}

func (c *Memory) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*memEntry)
	c.bytes -= uint64(len(e.data))
	delete(c.index, e.id)
	c.order.Remove(oldest)
}

// LoadCache copies the resource into dst on a hit, promoting it to MRU, and
// invokes the miss path otherwise.
func (c *Memory) LoadCache(ctx context.Context, r Resource, dst []byte) (bool, error) {
	if c.Lookup(r, dst) {
		return true, nil
	}
	return c.missPath(ctx, r, dst)
}

// Lookup is the pure hit-check half of LoadCache, with no miss-path fetch.
func (c *Memory) Lookup(r Resource, dst []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	el, ok := c.index[r.ID]
	if !ok {
		return false
	}
	c.hits++
	e := el.Value.(*memEntry)
	c.order.MoveToFront(el)
	copy(dst, e.data)
	return true
}

// missPath implements spec §4.D's "Miss path": speculative prefetch budget,
// anticipated resources appended before the miss, a single batch fetch, and
// insertion in order so the missed resource lands last (most-recently-used).
func (c *Memory) missPath(ctx context.Context, r Resource, dst []byte) (bool, error) {
	if c.fetch == nil {
		return false, errors.Errorf("rescache: no fetcher configured for miss on %q", r.ID)
	}

	speculative := uint32(0)
	if c.limit > uint64(r.Size) {
		speculative = uint32((c.limit - uint64(r.Size)) / 10)
	}

	var batch []Resource
	if c.anticipate != nil {
		batch = c.anticipate(r, speculative)
	}
	batch = append(batch, r)

	data, err := c.fetch.Fetch(ctx, batch)
	if err != nil {
		return false, errors.Wrapf(err, "rescache: batch fetch for miss on %q", r.ID)
	}

	c.mu.Lock()
	offset := 0
	var missedSlice []byte
	for _, res := range batch {
		if offset+int(res.Size) > len(data) {
			c.mu.Unlock()
			return false, errors.Errorf("rescache: fetch returned %d bytes, short for resource %q", len(data), res.ID)
		}
		slice := data[offset : offset+int(res.Size)]
		c.putLocked(res, slice)
		if res.ID == r.ID {
			missedSlice = slice
		}
		offset += int(res.Size)
	}
	c.mu.Unlock()

	if missedSlice == nil {
		return false, errors.Errorf("rescache: missed resource %q not present in its own fetch batch", r.ID)
	}
	copy(dst, missedSlice)
	return true, nil
}

// Resize evicts LRU entries until live bytes fit newLimit; growing only
// changes the bound.
func (c *Memory) Resize(newLimit uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = newLimit
	for c.bytes > c.limit && c.order.Len() > 0 {
		c.evictOldest()
	}
}

// Clear drops everything.
func (c *Memory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = map[string]*list.Element{}
	c.bytes = 0
}

// Stats reports hit/access counters for progress reporting.
type Stats struct {
	Hits, Total uint64
}

// Stats returns the current hit/access counters.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Total: c.total}
}

// Archive is the append-only on-disk cache (Component E): a <prefix>.data
// file of concatenated resource bytes and a <prefix>.index file of packed
// index records.
type Archive struct {
	mu        sync.Mutex
	dataFile  *os.File
	indexFile *os.File
	dataEnd   int64
	indexEnd  int64
	index     map[string]indexRecord
}

type indexRecord struct {
	offset int64
	size   uint32
}

// OpenArchive opens (creating if absent) prefix+".data" and
// prefix+".index", loading the index into memory. A truncated trailing
// index record stops loading at the last complete record, per spec §6.
func OpenArchive(prefix string) (*Archive, error) {
	dataFile, err := os.OpenFile(prefix+".data", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "rescache: open archive data file")
	}
	indexFile, err := os.OpenFile(prefix+".index", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		dataFile.Close()
		return nil, errors.Wrap(err, "rescache: open archive index file")
	}

	a := &Archive{dataFile: dataFile, indexFile: indexFile, index: map[string]indexRecord{}}
	if err := a.loadIndex(); err != nil {
		dataFile.Close()
		indexFile.Close()
		return nil, err
	}
	if info, err := dataFile.Stat(); err == nil {
		a.dataEnd = info.Size()
	}
	return a, nil
}

func (a *Archive) loadIndex() error {
	if _, err := a.indexFile.Seek(0, 0); err != nil {
		return err
	}
	r := endian.NewReader(a.indexFile)
	for {
		idLen := r.Uint32()
		if r.Err() != nil {
			break
		}
		id := make([]byte, idLen)
		r.Data(id)
		offset := r.Uint64()
		size := r.Uint32()
		if r.Err() != nil {
			break
		}
		a.index[string(id)] = indexRecord{offset: int64(offset), size: size}
		a.indexEnd += int64(4 + int(idLen) + 8 + 4)
	}
	return nil
}

// HasCache is a membership test.
func (a *Archive) HasCache(r Resource) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.index[r.ID]
	return ok
}

// PutCache ignores the call if the id is already present (spec §8 property
// 5, "on-disk idempotence"); otherwise appends the bytes and a matching
// index record, committing both with Sync. Any write failure truncates
// both files back to their pre-write lengths.
func (a *Archive) PutCache(r Resource, data []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.index[r.ID]; ok {
		return true
	}

	preData, preIndex := a.dataEnd, a.indexEnd
	ok := a.writeLocked(r, data)
	if !ok {
		a.dataFile.Truncate(preData)
		a.indexFile.Truncate(preIndex)
		a.dataEnd, a.indexEnd = preData, preIndex
	}
	return ok
}

func (a *Archive) writeLocked(r Resource, data []byte) bool {
	if _, err := a.dataFile.WriteAt(data, a.dataEnd); err != nil {
		return false
	}
	offset := a.dataEnd
	a.dataEnd += int64(len(data))

	w := endian.NewWriter(a.indexFile)
	if _, err := a.indexFile.Seek(a.indexEnd, 0); err != nil {
		return false
	}
	w.Uint32(uint32(len(r.ID)))
	w.Data([]byte(r.ID))
	w.Uint64(uint64(offset))
	w.Uint32(r.Size)
	if w.Err() != nil {
		return false
	}
	if err := a.dataFile.Sync(); err != nil {
		return false
	}
	if err := a.indexFile.Sync(); err != nil {
		return false
	}
	a.indexEnd += int64(4 + len(r.ID) + 8 + 4)
	a.index[r.ID] = indexRecord{offset: offset, size: uint32(len(data))}
	return true
}

// LoadCache seeks and reads by size, verifying the record's size matches
// the expected resource size. The archive has no fallback fetcher of its
// own, so a miss simply reports false.
func (a *Archive) LoadCache(ctx context.Context, r Resource, dst []byte) (bool, error) {
	a.mu.Lock()
	rec, ok := a.index[r.ID]
	a.mu.Unlock()
	if !ok {
		return false, nil
	}
	if rec.size != r.Size {
		return false, fmt.Errorf("rescache: archive record for %q has size %d, want %d", r.ID, rec.size, r.Size)
	}
	if _, err := a.dataFile.ReadAt(dst[:rec.size], rec.offset); err != nil {
		return false, errors.Wrapf(err, "rescache: reading archived resource %q", r.ID)
	}
	return true, nil
}

// Lookup is equivalent to LoadCache for the archive, which never fetches on
// a miss; it swallows any read error into a plain miss since Lookup has no
// error return.
func (a *Archive) Lookup(r Resource, dst []byte) bool {
	hit, err := a.LoadCache(context.Background(), r, dst)
	return hit && err == nil
}

// Resize is a no-op: the archive advertises unbounded capacity.
func (a *Archive) Resize(uint64) {}

// Clear is unsupported for an append-only archive; present only to satisfy
// the Cache interface uniformly. Callers that need to wipe the archive
// should delete the underlying files instead.
func (a *Archive) Clear() {}

// Close closes the underlying files.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err1 := a.dataFile.Close()
	err2 := a.indexFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
