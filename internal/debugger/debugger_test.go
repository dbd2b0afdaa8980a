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

package debugger

import (
	"strings"
	"testing"
)

func TestParseTracerPidNoTracer(t *testing.T) {
	status := "Name:\tgapir\nState:\tR (running)\nTracerPid:\t0\nUid:\t1000\n"
	if parseTracerPid(strings.NewReader(status)) {
		t.Fatal("expected no tracer attached when TracerPid is 0")
	}
}

func TestParseTracerPidAttached(t *testing.T) {
	status := "Name:\tgapir\nTracerPid:\t4821\nUid:\t1000\n"
	if !parseTracerPid(strings.NewReader(status)) {
		t.Fatal("expected tracer attached when TracerPid is non-zero")
	}
}

func TestParseTracerPidMissingField(t *testing.T) {
	status := "Name:\tgapir\nUid:\t1000\n"
	if parseTracerPid(strings.NewReader(status)) {
		t.Fatal("expected no tracer attached when the field is absent")
	}
}
