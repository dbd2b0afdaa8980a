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

import "context"

// delegate matches the logging methods of *testing.T / *testing.B.
type delegate interface {
	Log(...interface{})
	Error(...interface{})
}

// Testing returns a context wired to a Handler that routes messages to t,
// for use at the top of table-driven tests.
func Testing(t delegate) context.Context {
	ctx := context.Background()
	return PutHandler(ctx, NewHandler(func(m *Message) {
		if m.Severity >= Error {
			t.Error(m.String())
		} else {
			t.Log(m.String())
		}
	}, nil))
}
