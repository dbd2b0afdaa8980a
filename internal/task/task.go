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

// Package task provides small concurrency helpers shared by the watchdog,
// the interpreter's thread pool and the replay service's communication
// thread.
package task

import (
	"context"
	"time"

	"github.com/google/gapir/internal/crash"
)

// Task is a unit of cancellable work.
type Task func(context.Context) error

// Retry repeatedly calls f until it reports done, maxAttempts is reached
// (if > 0), or ctx is cancelled. It sleeps retryDelay between attempts.
func Retry(ctx context.Context, maxAttempts int, retryDelay time.Duration, f func(context.Context) (done bool, err error)) error {
	count := 0
	for {
		done, err := f(ctx)
		if done {
			return err
		}
		count++
		if maxAttempts > 0 && count >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// Async runs t on a new goroutine and returns a function that cancels its
// context and blocks until it returns.
func Async(ctx context.Context, t Task) (stop func() error) {
	errc := make(chan error, 1)
	ctx, cancel := context.WithCancel(ctx)
	crash.Go(func() {
		errc <- t(ctx)
	})
	return func() error {
		cancel()
		return <-errc
	}
}

// Once wraps a Task so only its first invocation runs the inner task; later
// calls replay the first result.
func Once(t Task) Task {
	done := false
	var err error
	return func(ctx context.Context) error {
		if !done {
			err = t(ctx)
			done = true
		}
		return err
	}
}
