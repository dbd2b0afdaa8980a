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

package log

import (
	"fmt"
	"io"
	"sync"
)

// WriterHandler returns a Handler that writes each message as a line to w.
// Writes are serialized so interleaved goroutines (the watchdog, the
// interpreter threads, the communication thread) never tear a line.
func WriterHandler(w io.Writer) Handler {
	var mu sync.Mutex
	return NewHandler(func(m *Message) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, m.String())
	}, nil)
}

// Broadcast returns a Handler that forwards every message to all of hs.
func Broadcast(hs ...Handler) Handler {
	return NewHandler(func(m *Message) {
		for _, h := range hs {
			h.Handle(m)
		}
	}, func() {
		for _, h := range hs {
			h.Close()
		}
	})
}
