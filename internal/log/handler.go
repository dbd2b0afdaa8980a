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

// Package log provides a small context-carried logging system modelled on
// gapid's core/log: severities, a pluggable Handler, and key-value
// annotations bound to a context.Context via log.V{...}.Bind(ctx).
package log

import "context"

// Handler receives every Message that passes the active Filter.
type Handler interface {
	Handle(*Message)
	Close()
}

type funcHandler struct {
	handle func(*Message)
	close  func()
}

func (h funcHandler) Handle(m *Message) { h.handle(m) }
func (h funcHandler) Close() {
	if h.close != nil {
		h.close()
	}
}

// NewHandler returns a Handler that calls handle for each message and close
// when the handler is closed. close may be nil.
func NewHandler(handle func(*Message), close func()) Handler {
	return funcHandler{handle, close}
}

type ctxKey string

const (
	handlerKey ctxKey = "log.handler"
	filterKey  ctxKey = "log.filter"
	processKey ctxKey = "log.process"
	valuesKey  ctxKey = "log.values"
)

// PutHandler returns a new context with the Handler assigned to h.
func PutHandler(ctx context.Context, h Handler) context.Context {
	return context.WithValue(ctx, handlerKey, h)
}

// GetHandler returns the Handler assigned to ctx, or nil.
func GetHandler(ctx context.Context) Handler {
	h, _ := ctx.Value(handlerKey).(Handler)
	return h
}

// PutFilter returns a new context that only passes messages at or above
// level to the handler. A nil level removes any filtering (everything
// passes).
func PutFilter(ctx context.Context, level *Severity) context.Context {
	return context.WithValue(ctx, filterKey, level)
}

func minSeverity(ctx context.Context) Severity {
	if lvl, ok := ctx.Value(filterKey).(*Severity); ok && lvl != nil {
		return *lvl
	}
	return Verbose
}

// PutProcess tags log messages emitted from ctx with the given process name,
// as the daemon does for its "gapir" subprocess log lines.
func PutProcess(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, processKey, name)
}

func processOf(ctx context.Context) string {
	name, _ := ctx.Value(processKey).(string)
	return name
}
