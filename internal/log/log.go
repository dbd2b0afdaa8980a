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
	"context"
	"fmt"
)

// Logger is a bound (context, severity) pair ready to emit messages.
type Logger struct {
	ctx context.Context
	sev Severity
}

// From builds a Logger at Info severity for ctx. Use the level-specific
// helpers (I, W, E, D, F) for most call sites.
func From(ctx context.Context) Logger { return Logger{ctx: ctx, sev: Info} }

// At returns a copy of the logger at the given severity.
func (l Logger) At(sev Severity) Logger { l.sev = sev; return l }

// Active reports whether this logger's severity passes ctx's filter.
func (l Logger) Active() bool { return l.sev >= minSeverity(l.ctx) }

func (l Logger) emit(text string) {
	if !l.Active() {
		return
	}
	h := GetHandler(l.ctx)
	if h == nil {
		return
	}
	h.Handle(&Message{
		Severity: l.sev,
		Process:  processOf(l.ctx),
		Text:     text,
		Values:   flatten(l.ctx),
	})
}

// Log emits msg verbatim.
func (l Logger) Log(msg string) { l.emit(msg) }

// Logf formats and emits a message.
func (l Logger) Logf(format string, args ...interface{}) { l.emit(fmt.Sprintf(format, args...)) }

func log(ctx context.Context, sev Severity, format string, args ...interface{}) {
	From(ctx).At(sev).Logf(format, args...)
}

// D, I, W, E, F log at Debug, Info, Warning, Error and Fatal severity
// respectively. F logs at Error severity instead when fatal is false; it
// never stops the process.
func D(ctx context.Context, format string, args ...interface{})  { log(ctx, Debug, format, args...) }
func I(ctx context.Context, format string, args ...interface{})  { log(ctx, Info, format, args...) }
func W(ctx context.Context, format string, args ...interface{})  { log(ctx, Warning, format, args...) }
func E(ctx context.Context, format string, args ...interface{})  { log(ctx, Error, format, args...) }
func F(ctx context.Context, fatal bool, format string, args ...interface{}) {
	sev := Error
	if fatal {
		sev = Fatal
	}
	log(ctx, sev, format, args...)
}
