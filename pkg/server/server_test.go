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

package server_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/google/gapir/pkg/auth"
	"github.com/google/gapir/pkg/replaysrv"
	"github.com/google/gapir/pkg/server"
)

func startServer(t *testing.T, token auth.Token, idleTimeout time.Duration, handle server.ReplayHandler) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := server.New(token, idleTimeout, handle)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx, lis)
	return lis.Addr().String(), func() {
		s.Shutdown()
		cancel()
	}
}

func dial(t *testing.T, addr string, token auth.Token) *grpc.ClientConn {
	t.Helper()
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if token != auth.NoAuth {
		opts = append(opts, grpc.WithUnaryInterceptor(auth.ClientInterceptor(token)), grpc.WithStreamInterceptor(auth.StreamClientInterceptor(token)))
	}
	cc, err := grpc.Dial(addr, opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return cc
}

func TestPingAcceptsGoodTokenAndRejectsBadToken(t *testing.T) {
	addr, stop := startServer(t, "secret", 0, func(ctx context.Context, s replaysrv.ReplayStream) {})
	defer stop()

	cc := dial(t, addr, "secret")
	defer cc.Close()
	client := replaysrv.NewReplayClient(cc)

	if _, err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping with correct token: %v", err)
	}

	badCC := dial(t, addr, "wrong")
	defer badCC.Close()
	badClient := replaysrv.NewReplayClient(badCC)
	_, err := badClient.Ping(context.Background())
	if err == nil {
		t.Fatal("expected Ping with wrong token to fail")
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("expected codes.Unauthenticated, got %v", status.Code(err))
	}
}

func TestIdleWatchdogShutsDownWithoutPing(t *testing.T) {
	addr, stop := startServer(t, auth.NoAuth, 200*time.Millisecond, func(ctx context.Context, s replaysrv.ReplayStream) {})
	defer stop()

	cc := dial(t, addr, auth.NoAuth)
	defer cc.Close()
	client := replaysrv.NewReplayClient(cc)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		// Probe with a Replay stream rather than Ping: a Ping would reset
		// the idle counter this test is waiting on.
		stream, err := client.Replay(context.Background())
		if err != nil {
			return
		}
		if _, err := stream.Recv(); err != io.EOF {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("server did not shut down after the idle timeout elapsed")
}

func TestReplayHandlerInvokedPerSession(t *testing.T) {
	invoked := make(chan struct{}, 1)
	addr, stop := startServer(t, auth.NoAuth, 0, func(ctx context.Context, s replaysrv.ReplayStream) {
		invoked <- struct{}{}
	})
	defer stop()

	cc := dial(t, addr, auth.NoAuth)
	defer cc.Close()
	client := replaysrv.NewReplayClient(cc)

	stream, err := client.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	stream.CloseSend()

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("replay handler was never invoked")
	}
}
