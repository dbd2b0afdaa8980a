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

// Package auth checks the shared-secret auth token a client must present on
// every RPC of the Replay Service (spec §6 "Session establishment", §9
// "Shared secret authentication"). Grounded on core/app/auth/auth.go, with
// two deliberate departures: the metadata key is this system's own
// "gapir-auth-token" rather than the teacher's "auth_token", and the token
// comparison uses crypto/subtle's constant-time compare rather than the
// teacher's direct `!=`, since spec §9 calls out timing-safe comparison as a
// requirement this port must satisfy that the distilled teacher call site
// did not.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// metadataKey is the gRPC metadata key carrying the auth token.
const metadataKey = "gapir-auth-token"

// Token is the shared secret a client must present to the server.
type Token string

// NoAuth disables authentication entirely.
const NoAuth = Token("")

// ErrInvalidToken is returned when a connection presents a missing or
// incorrect token.
var ErrInvalidToken = errors.New("invalid auth token")

// GenToken returns a random base64-encoded token suitable for a fresh
// server instance.
func GenToken() Token {
	var buf [18]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return Token(base64.StdEncoding.EncodeToString(buf[:]))
}

// ReadTokenFile reads a token written by --auth-token-file, trimming
// surrounding whitespace the way a shell heredoc or editor save would leave
// it.
func ReadTokenFile(path string) (Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NoAuth, err
	}
	return Token(strings.TrimSpace(string(data))), nil
}

func (t Token) equal(other string) bool {
	a, b := []byte(string(t)), []byte(other)
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Check verifies ctx carries the expected token in its incoming metadata.
// A NoAuth token disables the check entirely.
func Check(ctx context.Context, want Token) error {
	if want == NoAuth {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ErrInvalidToken
	}
	got := md.Get(metadataKey)
	if len(got) != 1 || !want.equal(got[0]) {
		return ErrInvalidToken
	}
	return nil
}

// StreamServerInterceptor returns a grpc.StreamServerInterceptor that
// enforces Check on every streaming call, covering the Replay Service's
// bidirectional-streaming Replay method.
func StreamServerInterceptor(want Token) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := Check(ss.Context(), want); err != nil {
			return status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(srv, ss)
	}
}

// UnaryServerInterceptor returns a grpc.UnaryServerInterceptor that
// enforces Check, covering the Ping/Shutdown unary methods.
func UnaryServerInterceptor(want Token) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := Check(ctx, want); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

// ClientInterceptor attaches token to outgoing unary RPC metadata.
func ClientInterceptor(token Token) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if token != NoAuth {
			ctx = metadata.AppendToOutgoingContext(ctx, metadataKey, string(token))
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor attaches token to an outgoing streaming RPC.
func StreamClientInterceptor(token Token) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		if token != NoAuth {
			ctx = metadata.AppendToOutgoingContext(ctx, metadataKey, string(token))
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}
