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

package rescache_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/google/gapir/pkg/rescache"
)

type fakeFetcher struct {
	data map[string][]byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, resources []rescache.Resource) ([]byte, error) {
	var out []byte
	for _, r := range resources {
		out = append(out, f.data[r.ID]...)
	}
	return out, nil
}

func TestMemoryHitPromotesToMRU(t *testing.T) {
	c := rescache.NewMemory(1024, nil, nil)
	c.PutCache(rescache.Resource{ID: "a", Size: 4}, []byte{1, 2, 3, 4})

	dst := make([]byte, 4)
	hit, err := c.LoadCache(context.Background(), rescache.Resource{ID: "a", Size: 4}, dst)
	if err != nil || !hit {
		t.Fatalf("LoadCache = %v, %v; want hit, nil", hit, err)
	}
	if !bytes.Equal(dst, []byte{1, 2, 3, 4}) {
		t.Errorf("dst = %v", dst)
	}
}

func TestMemoryEvictsLRU(t *testing.T) {
	c := rescache.NewMemory(8, nil, nil)
	c.PutCache(rescache.Resource{ID: "a", Size: 4}, []byte{1, 1, 1, 1})
	c.PutCache(rescache.Resource{ID: "b", Size: 4}, []byte{2, 2, 2, 2})
	// Touch "a" so "b" becomes the LRU entry.
	c.LoadCache(context.Background(), rescache.Resource{ID: "a", Size: 4}, make([]byte, 4))
	c.PutCache(rescache.Resource{ID: "c", Size: 4}, []byte{3, 3, 3, 3})

	if c.HasCache(rescache.Resource{ID: "b", Size: 4}) {
		t.Error("expected b to have been evicted as least-recently-used")
	}
	if !c.HasCache(rescache.Resource{ID: "a", Size: 4}) || !c.HasCache(rescache.Resource{ID: "c", Size: 4}) {
		t.Error("expected a and c to remain cached")
	}
}

func TestMemoryPutOversizeRejected(t *testing.T) {
	c := rescache.NewMemory(2, nil, nil)
	if c.PutCache(rescache.Resource{ID: "a", Size: 4}, []byte{1, 2, 3, 4}) {
		t.Error("expected PutCache to reject a resource larger than the cache limit")
	}
}

func TestMemoryMissPathFetchesAndAnticipates(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string][]byte{
		"missed":     {9, 9, 9, 9},
		"anticipate": {5, 5, 5, 5},
	}}
	anticipated := rescache.Resource{ID: "anticipate", Size: 4}
	anticipator := func(missed rescache.Resource, budget uint32) []rescache.Resource {
		return []rescache.Resource{anticipated}
	}
	c := rescache.NewMemory(1024, fetcher, anticipator)

	dst := make([]byte, 4)
	hit, err := c.LoadCache(context.Background(), rescache.Resource{ID: "missed", Size: 4}, dst)
	if err != nil || !hit {
		t.Fatalf("LoadCache = %v, %v", hit, err)
	}
	if !bytes.Equal(dst, []byte{9, 9, 9, 9}) {
		t.Errorf("dst = %v", dst)
	}
	if !c.HasCache(anticipated) {
		t.Error("expected the anticipated resource to have been cached too")
	}
}

func TestMemoryMissWithoutFetcherErrors(t *testing.T) {
	c := rescache.NewMemory(1024, nil, nil)
	_, err := c.LoadCache(context.Background(), rescache.Resource{ID: "x", Size: 1}, make([]byte, 1))
	if err == nil {
		t.Error("expected an error when no fetcher is configured")
	}
}

func TestArchivePutLoadIdempotent(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "archive")

	a, err := rescache.OpenArchive(prefix)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer a.Close()

	r := rescache.Resource{ID: "x", Size: 4}
	if !a.PutCache(r, []byte{1, 2, 3, 4}) {
		t.Fatal("first PutCache failed")
	}
	if !a.PutCache(r, []byte{9, 9, 9, 9}) {
		t.Fatal("second PutCache (duplicate id) failed")
	}

	dst := make([]byte, 4)
	hit, err := a.LoadCache(context.Background(), r, dst)
	if err != nil || !hit {
		t.Fatalf("LoadCache = %v, %v", hit, err)
	}
	if !bytes.Equal(dst, []byte{1, 2, 3, 4}) {
		t.Errorf("dst = %v, want bytes from the first put", dst)
	}
}

func TestArchiveReopenPreservesIndex(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "archive")

	a, err := rescache.OpenArchive(prefix)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	a.PutCache(rescache.Resource{ID: "x", Size: 4}, []byte{1, 2, 3, 4})
	a.Close()

	b, err := rescache.OpenArchive(prefix)
	if err != nil {
		t.Fatalf("reopen OpenArchive: %v", err)
	}
	defer b.Close()
	if !b.HasCache(rescache.Resource{ID: "x", Size: 4}) {
		t.Error("expected reopened archive to remember the previously put resource")
	}
}
