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

package crashupload

import (
	"context"
	"strings"
	"testing"

	"github.com/google/gapir/internal/crash"
	"github.com/google/gapir/pkg/replaysrv"
)

type fakeService struct {
	filepath string
	data     []byte
}

func (f *fakeService) GetPayload(ctx context.Context, id string) (*replaysrv.Payload, error) {
	return nil, nil
}
func (f *fakeService) GetResources(ctx context.Context, ids []string, expectedTotalSize uint64) ([]byte, error) {
	return nil, nil
}
func (f *fakeService) GetFenceReady(ctx context.Context, id uint32) error { return nil }
func (f *fakeService) SendPosts(pieces []replaysrv.PostDataPiece) bool    { return true }
func (f *fakeService) SendErrorMsg(seqNum uint64, severity replaysrv.Severity, apiIndex uint32, label uint64, msg string, data []byte) bool {
	return true
}
func (f *fakeService) SendReplayStatus(label uint64, total, finished uint32) bool { return true }
func (f *fakeService) SendNotificationData(id, label uint64, data []byte) bool    { return true }
func (f *fakeService) SendCrashDump(filepath string, data []byte) bool {
	f.filepath = filepath
	f.data = data
	return true
}
func (f *fakeService) SendReplayFinished() bool { return true }

// TestReportFormatsPanicAndCallstack exercises the report function directly
// rather than through crash.Go/crash.Crash: the latter re-panics the
// process once its reporters have run, which is the real production
// behavior but not something a test can safely trigger.
func TestReportFormatsPanicAndCallstack(t *testing.T) {
	svc := &fakeService{}
	stack := crash.Capture()

	report("session-1", "boom", stack, svc)

	if svc.filepath != "session-1" {
		t.Errorf("got filepath %q, want %q", svc.filepath, "session-1")
	}
	if !strings.Contains(string(svc.data), "boom") {
		t.Errorf("crash dump %q does not mention panic value", svc.data)
	}
	if !strings.Contains(string(svc.data), "session-1") {
		t.Errorf("crash dump %q does not mention the label", svc.data)
	}
}

func TestCloseUnregistersCleanly(t *testing.T) {
	svc := &fakeService{}
	u := New("session-2", svc)
	u.Close()
	// A second Close must not panic: crash.Register's returned unregister
	// function deletes by id and is safe to call on an id already removed.
	u.Close()
}
