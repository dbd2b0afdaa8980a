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

// Package server implements Component H, the listening endpoint that
// accepts replay sessions, checks their auth token, and watches for idle
// shutdown. Grounded on gapir/cc/server.{h,cpp} for the session/watchdog
// design and on core/net/grpcutil/server.go for the idiomatic Go shape of
// "build a grpc.Server, register services, serve a net.Listener". The
// watchdog itself runs on internal/task's Async helper rather than a bare
// crash.Go, so Shutdown can cancel it deterministically instead of closing
// an ad hoc channel.
package server

import (
	"context"
	"math"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/google/gapir/internal/crash"
	"github.com/google/gapir/internal/log"
	"github.com/google/gapir/internal/task"
	"github.com/google/gapir/pkg/auth"
	"github.com/google/gapir/pkg/replaysrv"
)

// shutdownGrace is how long a shutdown gives in-flight RPCs to finish
// cleanly before the listener is torn down, mirroring the C++
// kShutdownTimeout.
const shutdownGrace = time.Second

// ReplayHandler processes one accepted replay session's bidirectional
// stream. It is called on its own goroutine per session.
type ReplayHandler func(context.Context, replaysrv.ReplayStream)

// Server is a replay daemon's listening endpoint: one auth-checked,
// idle-watched gRPC server exposing the Replay Service.
type Server struct {
	grpcServer *grpc.Server
	authToken  auth.Token

	secCounter   int32
	shuttingDown int32
	stopWatchdog func() error
}

// New constructs a Server that invokes handleReplay for each accepted
// replay session. If idleTimeout is positive, the server shuts itself down
// after that much time elapses without a Ping. An empty authToken disables
// authentication, matching spec §6/§9.
func New(authToken auth.Token, idleTimeout time.Duration, handleReplay ReplayHandler) *Server {
	s := &Server{
		authToken: authToken,
	}
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(math.MaxInt32),
		grpc.MaxSendMsgSize(math.MaxInt32),
		grpc.StreamInterceptor(auth.StreamServerInterceptor(authToken)),
		grpc.UnaryInterceptor(auth.UnaryServerInterceptor(authToken)),
	)
	replaysrv.RegisterReplayServer(s.grpcServer, &serviceImpl{server: s, handleReplay: handleReplay})

	if idleTimeout > 0 {
		s.stopWatchdog = task.Async(context.Background(), func(ctx context.Context) error {
			s.watchdog(ctx, idleTimeout)
			return nil
		})
	}
	return s
}

// watchdog increments secCounter once per second; once it exceeds
// idleTimeout (expressed as a number of one-second ticks) without a Ping
// resetting it, the server shuts itself down.
func (s *Server) watchdog(ctx context.Context, idleTimeout time.Duration) {
	limit := int32(idleTimeout / time.Second)
	if limit <= 0 {
		limit = 1
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.AddInt32(&s.secCounter, 1) > limit {
				s.Shutdown()
				return
			}
		}
	}
}

func (s *Server) feedWatchdog() { atomic.StoreInt32(&s.secCounter, 0) }

// Shutdown asks the gRPC server to drain within shutdownGrace, detached so
// the caller (typically an RPC handler) doesn't block on its own shutdown.
func (s *Server) Shutdown() {
	if !atomic.CompareAndSwapInt32(&s.shuttingDown, 0, 1) {
		return
	}
	if s.stopWatchdog != nil {
		go s.stopWatchdog()
	}
	crash.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	})
}

// Serve blocks accepting connections on listener until the server shuts
// down.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	log.I(ctx, "Starting grpc server on %v", listener.Addr())
	return s.grpcServer.Serve(listener)
}

// serviceImpl adapts Server to the replaysrv.ReplayServer interface. Ping
// and Shutdown don't need their own auth check: the interceptors installed
// in New already reject unauthenticated calls before a handler runs.
type serviceImpl struct {
	server       *Server
	handleReplay ReplayHandler
}

func (si *serviceImpl) Replay(stream replaysrv.ReplayStream) error {
	si.handleReplay(stream.Context(), stream)
	return nil
}

func (si *serviceImpl) Ping(ctx context.Context, _ *replaysrv.PingRequest) (*replaysrv.PingResponse, error) {
	si.server.feedWatchdog()
	return &replaysrv.PingResponse{}, nil
}

func (si *serviceImpl) Shutdown(ctx context.Context, _ *replaysrv.ShutdownRequest) (*replaysrv.ShutdownResponse, error) {
	si.server.Shutdown()
	return &replaysrv.ShutdownResponse{}, nil
}
