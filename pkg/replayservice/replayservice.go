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

// Package replayservice implements Component G, the abstraction over the
// bidirectional replay message stream that the interpreter's builtins talk
// to. Grounded on gapir/cc/replay_service.h (the Service interface) and
// gapir/cc/grpc_replay_service.{h,cpp} (the communication-thread
// demultiplexing a single stream into a request-kind queue and a
// data-kind queue, so a blocking getPayload/getResources/getFenceReady call
// never steals a message meant for a different blocking call). The C++
// deque-plus-semaphore pair becomes a pair of buffered Go channels filled by
// one goroutine per session.
package replayservice

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/google/gapir/internal/crash"
	"github.com/google/gapir/pkg/replaysrv"
)

func postPath(dir string, id uint64) string {
	return filepath.Join(dir, strconv.FormatUint(id, 10)+".bin")
}

// Service is everything the interpreter's context/builtins need from the
// replay stream.
type Service interface {
	GetPayload(ctx context.Context, id string) (*replaysrv.Payload, error)
	GetResources(ctx context.Context, ids []string, expectedTotalSize uint64) ([]byte, error)
	GetFenceReady(ctx context.Context, id uint32) error

	SendPosts(pieces []replaysrv.PostDataPiece) bool
	SendErrorMsg(seqNum uint64, severity replaysrv.Severity, apiIndex uint32, label uint64, msg string, data []byte) bool
	SendReplayStatus(label uint64, total, finished uint32) bool
	SendNotificationData(id uint64, label uint64, data []byte) bool
	SendCrashDump(filepath string, data []byte) bool
	SendReplayFinished() bool
}

// stream is the subset of replaysrv.ReplayStream the gRPC-backed Service
// needs; satisfied directly by a *replaysrv.ReplayStream from the server.
type stream interface {
	Send(*replaysrv.ReplayResponse) error
	Recv() (*replaysrv.ReplayRequest, error)
}

// GRPCService is the concrete Service backed by a live bidirectional
// stream, demultiplexed by one communication goroutine per session.
type GRPCService struct {
	stream stream

	requests chan *replaysrv.ReplayRequest // Payload / Resources
	fences   chan *replaysrv.ReplayRequest // FenceReady
	done     chan struct{}
}

// NewGRPCService starts the communication goroutine over s and returns the
// Service. The caller must eventually cancel ctx to stop the goroutine.
func NewGRPCService(ctx context.Context, s stream) *GRPCService {
	g := &GRPCService{
		stream:   s,
		requests: make(chan *replaysrv.ReplayRequest, 8),
		fences:   make(chan *replaysrv.ReplayRequest, 8),
		done:     make(chan struct{}),
	}
	crash.Go(func() { g.communicate(ctx) })
	return g
}

func (g *GRPCService) communicate(ctx context.Context) {
	defer close(g.done)
	for {
		req, err := g.stream.Recv()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if req.FenceReady != nil {
			g.fences <- req
		} else {
			g.requests <- req
		}
	}
}

func (g *GRPCService) GetPayload(ctx context.Context, id string) (*replaysrv.Payload, error) {
	if err := g.stream.Send(&replaysrv.ReplayResponse{PayloadRequest: true}); err != nil {
		return nil, errors.Wrap(err, "replayservice: send PayloadRequest")
	}
	req, err := g.awaitRequest(ctx)
	if err != nil {
		return nil, err
	}
	if req.Payload == nil {
		return nil, errors.New("replayservice: expected Payload, got a different request kind")
	}
	return req.Payload, nil
}

func (g *GRPCService) GetResources(ctx context.Context, ids []string, expectedTotalSize uint64) ([]byte, error) {
	err := g.stream.Send(&replaysrv.ReplayResponse{ResourceRequest: &replaysrv.ResourceRequest{
		IDs:               ids,
		ExpectedTotalSize: expectedTotalSize,
	}})
	if err != nil {
		return nil, errors.Wrap(err, "replayservice: send ResourceRequest")
	}
	req, err := g.awaitRequest(ctx)
	if err != nil {
		return nil, err
	}
	if req.Resources == nil {
		return nil, errors.New("replayservice: expected Resources, got a different request kind")
	}
	if uint64(len(req.Resources.Data)) != expectedTotalSize {
		return nil, errors.Errorf("replayservice: got %d bytes of resources, expected %d", len(req.Resources.Data), expectedTotalSize)
	}
	return req.Resources.Data, nil
}

func (g *GRPCService) GetFenceReady(ctx context.Context, id uint32) error {
	req, err := awaitChan(ctx, g.fences, g.done)
	if err != nil {
		return err
	}
	if req.FenceReady.ID != id {
		return errors.Errorf("replayservice: fence id mismatch, got %d want %d", req.FenceReady.ID, id)
	}
	return nil
}

func (g *GRPCService) awaitRequest(ctx context.Context) (*replaysrv.ReplayRequest, error) {
	return awaitChan(ctx, g.requests, g.done)
}

// awaitChan receives from c, preferring an already-buffered message over a
// concurrently closed done: the communication goroutine closes done only
// after the stream ends, but messages it queued before that point must
// still be delivered to a caller blocked here.
func awaitChan(ctx context.Context, c <-chan *replaysrv.ReplayRequest, done <-chan struct{}) (*replaysrv.ReplayRequest, error) {
	select {
	case req := <-c:
		return req, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case req := <-c:
		return req, nil
	case <-done:
		select {
		case req := <-c:
			return req, nil
		default:
			return nil, io.ErrUnexpectedEOF
		}
	}
}

func (g *GRPCService) SendPosts(pieces []replaysrv.PostDataPiece) bool {
	return g.stream.Send(&replaysrv.ReplayResponse{PostData: &replaysrv.PostData{Pieces: pieces}}) == nil
}

func (g *GRPCService) SendErrorMsg(seqNum uint64, severity replaysrv.Severity, apiIndex uint32, label uint64, msg string, data []byte) bool {
	return g.stream.Send(&replaysrv.ReplayResponse{Notification: &replaysrv.Notification{
		ID: seqNum, Severity: severity, APIIndex: apiIndex, Label: label, Msg: msg, Data: data,
	}}) == nil
}

func (g *GRPCService) SendReplayStatus(label uint64, total, finished uint32) bool {
	return g.stream.Send(&replaysrv.ReplayResponse{ReplayStatus: &replaysrv.ReplayStatus{
		Label: label, TotalInstructions: total, FinishedInstructions: finished,
	}}) == nil
}

func (g *GRPCService) SendNotificationData(id uint64, label uint64, data []byte) bool {
	return g.stream.Send(&replaysrv.ReplayResponse{Notification: &replaysrv.Notification{
		ID: id, Label: label, Data: data,
	}}) == nil
}

func (g *GRPCService) SendCrashDump(filepath string, data []byte) bool {
	return g.stream.Send(&replaysrv.ReplayResponse{CrashDump: &replaysrv.CrashDump{
		Filepath: filepath, Bytes: data,
	}}) == nil
}

func (g *GRPCService) SendReplayFinished() bool {
	return g.stream.Send(&replaysrv.ReplayResponse{Finished: true}) == nil
}

// ArchiveService reads a Payload from a local file instead of a stream and
// writes each post-data piece to its own file under a directory, mirroring
// gapir/cc/archive_replay_service.{h,cpp}. Every other outbound message is
// a no-op, and GetResources/GetFenceReady are not implemented: an archive
// replay carries pre-bound constants and opcodes with no interactive
// resource or fence exchange.
type ArchiveService struct {
	filePrefix  string
	postbackDir string
}

// NewArchiveService constructs a Service reading payload from filePrefix and
// (if postbackDir is non-empty) writing posts under postbackDir.
func NewArchiveService(filePrefix, postbackDir string) *ArchiveService {
	return &ArchiveService{filePrefix: filePrefix, postbackDir: postbackDir}
}

func (a *ArchiveService) GetPayload(ctx context.Context, id string) (*replaysrv.Payload, error) {
	data, err := os.ReadFile(a.filePrefix)
	if err != nil {
		return nil, errors.Wrapf(err, "replayservice: reading archive %q", a.filePrefix)
	}
	req := new(replaysrv.ReplayRequest)
	if err := req.Unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "replayservice: decoding archived payload")
	}
	if req.Payload == nil {
		return nil, errors.New("replayservice: archive did not contain a Payload")
	}
	return req.Payload, nil
}

func (a *ArchiveService) GetResources(ctx context.Context, ids []string, expectedTotalSize uint64) ([]byte, error) {
	return nil, errors.New("replayservice: archive service has no resource stream")
}

func (a *ArchiveService) GetFenceReady(ctx context.Context, id uint32) error {
	return errors.New("replayservice: archive service has no fence stream")
}

func (a *ArchiveService) SendPosts(pieces []replaysrv.PostDataPiece) bool {
	if a.postbackDir == "" {
		return true
	}
	for _, p := range pieces {
		if err := os.WriteFile(postPath(a.postbackDir, p.ID), p.Bytes, 0644); err != nil {
			return false
		}
	}
	return true
}

func (a *ArchiveService) SendErrorMsg(seqNum uint64, severity replaysrv.Severity, apiIndex uint32, label uint64, msg string, data []byte) bool {
	return true
}
func (a *ArchiveService) SendReplayStatus(label uint64, total, finished uint32) bool { return true }
func (a *ArchiveService) SendNotificationData(id uint64, label uint64, data []byte) bool {
	return true
}
func (a *ArchiveService) SendCrashDump(filepath string, data []byte) bool { return true }
func (a *ArchiveService) SendReplayFinished() bool                       { return true }
