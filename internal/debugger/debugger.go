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

// Package debugger implements the --wait-for-debugger startup block,
// grounded on core::Debugger::waitForAttach's role in gapir/cc/main.cpp
// (the header it calls into, core/cc/debugger.h, is not part of this
// tree's retrieval pack, so the poll below is this package's own: it reads
// the TracerPid field Linux exposes in /proc/self/status, the same signal
// gdb/lldb attachment flips).
package debugger

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"
)

// pollInterval is how often WaitForAttach checks for a tracer.
const pollInterval = 200 * time.Millisecond

// WaitForAttach blocks until a debugger attaches to the current process,
// or returns immediately on platforms or sandboxes where /proc/self/status
// can't be read (there is then no way to detect attachment, so this degrades
// to a no-op rather than blocking forever).
func WaitForAttach() {
	if !canObserveTracer() {
		return
	}
	for !tracerAttached() {
		time.Sleep(pollInterval)
	}
}

func canObserveTracer() bool {
	_, err := os.Stat("/proc/self/status")
	return err == nil
}

func tracerAttached() bool {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return true
	}
	defer f.Close()
	return parseTracerPid(f)
}

// parseTracerPid reports whether the TracerPid field of a /proc/<pid>/status
// listing names a live tracer. Split out from tracerAttached so the parsing
// itself can be exercised without a real /proc filesystem.
func parseTracerPid(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		pid := strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:"))
		return pid != "" && pid != "0"
	}
	return false
}
