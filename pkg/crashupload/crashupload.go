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

// Package crashupload implements Component M (spec §4.M, §7 "Crash"):
// registering a reporter with internal/crash that, on an uncaught panic,
// forwards the panic value and callstack to the replay service as a crash
// dump. Grounded on gapir/cc/crash_uploader.{h,cpp}, which registers a
// core::CrashHandler callback that reads a written minidump file back off
// disk and forwards its bytes over the service. This port never writes an
// intermediate minidump file: internal/crash already hands the reporter a
// symbolised Callstack in memory, so there is nothing to read back.
package crashupload

import (
	"fmt"
	"strings"

	"github.com/google/gapir/internal/crash"
	"github.com/google/gapir/pkg/replayservice"
)

// Uploader forwards uncaught panics to a replay service as crash dumps,
// for the lifetime between New and Close.
type Uploader struct {
	unregister func()
}

// New registers a crash.Reporter that serialises the panic and its
// callstack and sends them to srv as a crash dump.
func New(label string, srv replayservice.Service) *Uploader {
	u := &Uploader{}
	u.unregister = crash.Register(func(e interface{}, s crash.Callstack) {
		report(label, e, s, srv)
	})
	return u
}

// Close unregisters the uploader's reporter.
func (u *Uploader) Close() {
	u.unregister()
}

func report(label string, e interface{}, s crash.Callstack, srv replayservice.Service) {
	var b strings.Builder
	fmt.Fprintf(&b, "--- CRASH DURING REPLAY ---\n")
	fmt.Fprintf(&b, "%s: %v\n", label, e)
	for _, f := range s.Frames() {
		fmt.Fprintf(&b, "  %s\n    %s:%d\n", f.Function, f.File, f.Line)
	}
	srv.SendCrashDump(label, []byte(b.String()))
}
