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

// Severity defines the severity of a logging message. Values are ordered
// least to most severe so that a filter threshold is a simple comparison.
type Severity int32

const (
	Verbose Severity = 0
	Debug   Severity = 1
	Info    Severity = 2
	Warning Severity = 3
	Error   Severity = 4
	Fatal   Severity = 5
)

func (s Severity) String() string {
	switch s {
	case Verbose:
		return "Verbose"
	case Debug:
		return "Debug"
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Fatal:
		return "Fatal"
	default:
		return "?"
	}
}

// Short returns the severity as a single upper-case letter, as accepted by
// the --log-level command line flag.
func (s Severity) Short() string {
	if s.String() == "?" {
		return "?"
	}
	return s.String()[:1]
}

// ParseSeverity parses the single-letter severity codes accepted by
// --log-level (F|E|W|I|D|V).
func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "F":
		return Fatal, true
	case "E":
		return Error, true
	case "W":
		return Warning, true
	case "I":
		return Info, true
	case "D":
		return Debug, true
	case "V":
		return Verbose, true
	default:
		return 0, false
	}
}
