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

// Command gapir is the replay daemon: it binds a TCP port, serves the
// bidirectional Replay Service, and runs one replaycontext.Context per
// accepted session. Grounded on gapir/cc/main.cpp's Setup/main for the
// flag surface, the startup sequence and the "Bound on port" stdout
// contract, translated into a flag.FlagSet the way cmd/gapit and cmd/robot
// build their command lines.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gapir/internal/debugger"
	"github.com/google/gapir/internal/log"
	"github.com/google/gapir/pkg/arena"
	"github.com/google/gapir/pkg/auth"
	"github.com/google/gapir/pkg/replaycontext"
	"github.com/google/gapir/pkg/replayservice"
	"github.com/google/gapir/pkg/replaysrv"
	"github.com/google/gapir/pkg/renderer"
	"github.com/google/gapir/pkg/rescache"
	"github.com/google/gapir/pkg/resload"
	"github.com/google/gapir/pkg/server"
)

// version is printed by --version. gapir has no release process of its
// own in this tree, so unlike GAPID_VERSION_AND_BUILD this is a fixed
// string rather than a build-time substitution.
const version = "1.0.0"

// memorySizes mirrors gapir/cc/main.cpp's candidate arena sizes: try the
// largest first, falling back until one can be allocated.
var memorySizes = []int{
	2 * 1024 * 1024 * 1024,
	1 * 1024 * 1024 * 1024,
	512 * 1024 * 1024,
	256 * 1024 * 1024,
	128 * 1024 * 1024,
}

// resourceCacheLimit bounds the in-memory resource cache backing each
// session's loader. handleReplay builds a fresh cache for every accepted
// session, so cached resources are not shared across replays.
const resourceCacheLimit = 512 * 1024 * 1024

func main() {
	authTokenFile := flag.String("auth-token-file", "", "file containing the session auth token")
	cachePath := flag.String("cache", "", "resource disk cache directory")
	port := flag.Int("port", 0, "TCP port to bind; 0 picks a free port")
	logLevel := flag.String("log-level", "I", "minimum log severity to emit: F|E|W|I|D|V")
	logPath := flag.String("log", "", "path to a log file; messages are always also written to stderr")
	idleTimeoutMs := flag.Int("idle-timeout-ms", 0, "shut down after this many milliseconds without a Ping; 0 disables")
	waitForDebugger := flag.Bool("wait-for-debugger", false, "block at startup until a debugger attaches")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("GAPIR version %s\n", version)
		return
	}

	if *waitForDebugger {
		fmt.Fprintln(os.Stderr, "Waiting for debugger to attach")
		debugger.WaitForAttach()
	}

	sev, ok := log.ParseSeverity(*logLevel)
	if !ok {
		fmt.Fprintln(os.Stderr, "Usage: --log-level <F|E|W|I|D|V>")
		os.Exit(1)
	}

	ctx, closeLog := setupLogging(sev, *logPath)
	defer closeLog()

	if *cachePath != "" {
		// The disk-backed resource cache (gapir/cc/resource_disk_cache.cc)
		// was never ported: every session here runs against the in-memory
		// cache only, matching the C++'s own createResourceProvider, which
		// treats a non-null cachePath as a fatal misconfiguration.
		log.F(ctx, true, "Disk cache is currently out of service. Got %s", *cachePath)
		os.Exit(1)
	}

	authToken := auth.NoAuth
	if *authTokenFile != "" {
		token, err := auth.ReadTokenFile(*authTokenFile)
		if err != nil {
			log.F(ctx, true, "reading auth token file %q: %v", *authTokenFile, err)
			os.Exit(1)
		}
		authToken = token
	}

	memory := arena.New(memorySizes)
	log.I(ctx, "Allocated replay arena: %v", memory.Stats())

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", *port))
	if err != nil {
		log.F(ctx, true, "binding listener: %v", err)
		os.Exit(1)
	}

	idleTimeout := time.Duration(*idleTimeoutMs) * time.Millisecond
	srv := server.New(authToken, idleTimeout, func(rctx context.Context, stream replaysrv.ReplayStream) {
		handleReplay(rctx, stream, memory)
	})

	// The following message is parsed by launchers to detect the selected
	// port. DO NOT CHANGE!
	fmt.Printf("Bound on port '%d'\n", listener.Addr().(*net.TCPAddr).Port)

	log.I(ctx, "Server setup done, start to wait")
	if err := srv.Serve(ctx, listener); err != nil {
		log.E(ctx, "server exited: %v", err)
	}
}

func setupLogging(sev log.Severity, logPath string) (context.Context, func()) {
	handlers := []log.Handler{log.WriterHandler(os.Stderr)}
	closers := []func(){}
	if logPath != "" {
		f, err := os.Create(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening log file %q: %v\n", logPath, err)
			os.Exit(1)
		}
		handlers = append(handlers, log.WriterHandler(f))
		closers = append(closers, func() { f.Close() })
	}

	ctx := context.Background()
	ctx = log.PutHandler(ctx, log.Broadcast(handlers...))
	ctx = log.PutFilter(ctx, &sev)
	ctx = log.PutProcess(ctx, "gapir")

	return ctx, func() {
		for _, c := range closers {
			c()
		}
	}
}

// handleReplay runs one accepted replay session end to end: it reads the
// first inbound message for the replay ID the rest of the protocol never
// repeats (replaysrv.ReplayRequest's doc comment), wraps the remainder of
// the stream as a replayservice.Service, then drives a replaycontext.Context
// through initialize/prefetch/interpret, matching the per-connection
// handler gapir/cc/main.cpp's Setup passes to Server::createAndStart.
func handleReplay(ctx context.Context, stream replaysrv.ReplayStream, memory *arena.Arena) {
	first, err := stream.Recv()
	if err != nil {
		log.E(ctx, "replay session: reading initial request: %v", err)
		return
	}
	if first.ReplayID == "" {
		log.E(ctx, "replay session: first message carried no ReplayID")
		return
	}
	replayID := first.ReplayID

	svc := replayservice.NewGRPCService(ctx, stream)
	fetcher := replaycontext.ServiceFetcher{Service: svc}
	cache := rescache.NewMemory(resourceCacheLimit, fetcher, nil)
	loader := resload.New(cache, fetcher)

	rc := replaycontext.Create(ctx, svc, replayID, loader, memory, newRenderer)
	defer rc.Close()

	if err := rc.Initialize(replayID); err != nil {
		log.E(ctx, "replay %s: initialize failed: %v", replayID, err)
		return
	}
	rc.Prefetch(ctx, cache)

	log.I(ctx, "Replay %s started", replayID)
	ok := rc.Interpret(true, false)
	log.I(ctx, "Replay %s %s", replayID, map[bool]string{true: "finished successfully", false: "failed"}[ok])

	svc.SendReplayFinished()
}

// newRenderer is the graphics backend this daemon binds to. A real driver
// binding (EGL/Vulkan window system integration) is out of scope here, so
// every session gets the fake renderer that records calls and reports
// success, the same one pkg/renderer's own test suite exercises.
func newRenderer(apiIndex uint8) renderer.Renderer {
	return renderer.NewFake(apiIndex)
}
