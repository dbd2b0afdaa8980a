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

// Package replaysrv defines the wire messages and gRPC service surface of
// the Replay Service (spec §6, grounded on gapir/cc/grpc_replay_service.cpp
// and gapir/cc/replay_service.h). Upstream generates these message types
// from gapir/replay_service/service.proto with protoc; that toolchain isn't
// available here, so the message shapes below are hand-authored against the
// same field lists the .proto would describe, and serialized with a small
// custom grpc codec (encoding.Codec, the same extension point protobuf's own
// codec is registered under) instead of generated marshal/unmarshal code.
package replaysrv

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/google/gapir/internal/endian"
)

// Severity orders notification severities from most to least urgent, the
// same ordering gapis/service/severity uses.
type Severity uint32

const (
	SeverityFatal Severity = iota
	SeverityError
	SeverityWarning
	SeverityInfo
	SeverityDebug
	SeverityVerbose
)

// ResourceInfo names one resource and its expected size in bytes.
type ResourceInfo struct {
	ID   string
	Size uint32
}

// Payload is the inbound message answering a PayloadRequest.
type Payload struct {
	StackSize          uint32
	VolatileMemorySize uint32
	Constants          []byte
	Opcodes            []byte
	Resources          []ResourceInfo
}

// Resources is the inbound message answering a ResourceRequest.
type Resources struct {
	Data []byte
}

// FenceReady is the inbound message answering a fence wait.
type FenceReady struct {
	ID uint32
}

// ResourceRequest is the outbound request for concatenated resource bytes.
type ResourceRequest struct {
	IDs               []string
	ExpectedTotalSize uint64
}

// PostDataPiece is one readback result within a PostData batch.
type PostDataPiece struct {
	ID    uint64
	Bytes []byte
}

// PostData is an outbound batch of readback results.
type PostData struct {
	Pieces []PostDataPiece
}

// Notification carries a side-channel diagnostic or application message.
type Notification struct {
	ID       uint64
	Severity Severity
	APIIndex uint32
	Label    uint64
	Msg      string
	Data     []byte
}

// ReplayStatus reports progress through the opcode stream.
type ReplayStatus struct {
	Label               uint64
	TotalInstructions   uint32
	FinishedInstructions uint32
}

// CrashDump carries a minidump file to upload.
type CrashDump struct {
	Filepath string
	Bytes    []byte
}

// ReplayRequest is the inbound oneof: exactly one of Payload, Resources or
// FenceReady is set. The first ReplayRequest on a stream instead carries
// ReplayID, naming the replay the controller wants executed.
type ReplayRequest struct {
	ReplayID  string
	Payload   *Payload
	Resources *Resources
	FenceReady *FenceReady
}

// ReplayResponse is the outbound oneof: exactly one field is set.
type ReplayResponse struct {
	PayloadRequest  bool
	ResourceRequest *ResourceRequest
	PostData        *PostData
	Notification    *Notification
	ReplayStatus    *ReplayStatus
	CrashDump       *CrashDump
	Finished        bool
}

// message tags identify which oneof field follows in the wire encoding.
const (
	tagReplayID = iota + 1
	tagPayload
	tagResources
	tagFenceReady

	tagPayloadRequest
	tagResourceRequest
	tagPostData
	tagNotification
	tagReplayStatus
	tagCrashDump
	tagFinished
)

func writeBytes(w *endian.Writer, b []byte) {
	w.Uint32(uint32(len(b)))
	w.Data(b)
}

func readBytes(r *endian.Reader) []byte {
	n := r.Uint32()
	b := make([]byte, n)
	r.Data(b)
	return b
}

func writeString(w *endian.Writer, s string) { writeBytes(w, []byte(s)) }
func readString(r *endian.Reader) string     { return string(readBytes(r)) }

// Marshal encodes r for the wire.
func (r *ReplayRequest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	w := endian.NewWriter(&buf)
	switch {
	case r.Payload != nil:
		w.Uint32(tagPayload)
		w.Uint32(r.Payload.StackSize)
		w.Uint32(r.Payload.VolatileMemorySize)
		writeBytes(w, r.Payload.Constants)
		writeBytes(w, r.Payload.Opcodes)
		w.Uint32(uint32(len(r.Payload.Resources)))
		for _, res := range r.Payload.Resources {
			writeString(w, res.ID)
			w.Uint32(res.Size)
		}
	case r.Resources != nil:
		w.Uint32(tagResources)
		writeBytes(w, r.Resources.Data)
	case r.FenceReady != nil:
		w.Uint32(tagFenceReady)
		w.Uint32(r.FenceReady.ID)
	default:
		w.Uint32(tagReplayID)
		writeString(w, r.ReplayID)
	}
	return buf.Bytes(), w.Err()
}

// Unmarshal decodes into r, replacing its contents.
func (r *ReplayRequest) Unmarshal(data []byte) error {
	*r = ReplayRequest{}
	rd := endian.NewReader(bytes.NewReader(data))
	switch tag := rd.Uint32(); tag {
	case tagReplayID:
		r.ReplayID = readString(rd)
	case tagPayload:
		p := &Payload{}
		p.StackSize = rd.Uint32()
		p.VolatileMemorySize = rd.Uint32()
		p.Constants = readBytes(rd)
		p.Opcodes = readBytes(rd)
		n := rd.Uint32()
		p.Resources = make([]ResourceInfo, n)
		for i := range p.Resources {
			p.Resources[i].ID = readString(rd)
			p.Resources[i].Size = rd.Uint32()
		}
		r.Payload = p
	case tagResources:
		r.Resources = &Resources{Data: readBytes(rd)}
	case tagFenceReady:
		r.FenceReady = &FenceReady{ID: rd.Uint32()}
	default:
		return errors.Errorf("replaysrv: unknown ReplayRequest tag %d", tag)
	}
	return rd.Err()
}

// Marshal encodes r for the wire.
func (r *ReplayResponse) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	w := endian.NewWriter(&buf)
	switch {
	case r.ResourceRequest != nil:
		w.Uint32(tagResourceRequest)
		w.Uint32(uint32(len(r.ResourceRequest.IDs)))
		for _, id := range r.ResourceRequest.IDs {
			writeString(w, id)
		}
		w.Uint64(r.ResourceRequest.ExpectedTotalSize)
	case r.PostData != nil:
		w.Uint32(tagPostData)
		w.Uint32(uint32(len(r.PostData.Pieces)))
		for _, p := range r.PostData.Pieces {
			w.Uint64(p.ID)
			writeBytes(w, p.Bytes)
		}
	case r.Notification != nil:
		w.Uint32(tagNotification)
		n := r.Notification
		w.Uint64(n.ID)
		w.Uint32(uint32(n.Severity))
		w.Uint32(n.APIIndex)
		w.Uint64(n.Label)
		writeString(w, n.Msg)
		writeBytes(w, n.Data)
	case r.ReplayStatus != nil:
		w.Uint32(tagReplayStatus)
		w.Uint64(r.ReplayStatus.Label)
		w.Uint32(r.ReplayStatus.TotalInstructions)
		w.Uint32(r.ReplayStatus.FinishedInstructions)
	case r.CrashDump != nil:
		w.Uint32(tagCrashDump)
		writeString(w, r.CrashDump.Filepath)
		writeBytes(w, r.CrashDump.Bytes)
	case r.Finished:
		w.Uint32(tagFinished)
	default:
		w.Uint32(tagPayloadRequest)
	}
	return buf.Bytes(), w.Err()
}

// Unmarshal decodes into r, replacing its contents.
func (r *ReplayResponse) Unmarshal(data []byte) error {
	*r = ReplayResponse{}
	rd := endian.NewReader(bytes.NewReader(data))
	switch tag := rd.Uint32(); tag {
	case tagPayloadRequest:
		r.PayloadRequest = true
	case tagResourceRequest:
		n := rd.Uint32()
		ids := make([]string, n)
		for i := range ids {
			ids[i] = readString(rd)
		}
		total := rd.Uint64()
		r.ResourceRequest = &ResourceRequest{IDs: ids, ExpectedTotalSize: total}
	case tagPostData:
		n := rd.Uint32()
		pieces := make([]PostDataPiece, n)
		for i := range pieces {
			pieces[i].ID = rd.Uint64()
			pieces[i].Bytes = readBytes(rd)
		}
		r.PostData = &PostData{Pieces: pieces}
	case tagNotification:
		note := &Notification{}
		note.ID = rd.Uint64()
		note.Severity = Severity(rd.Uint32())
		note.APIIndex = rd.Uint32()
		note.Label = rd.Uint64()
		note.Msg = readString(rd)
		note.Data = readBytes(rd)
		r.Notification = note
	case tagReplayStatus:
		r.ReplayStatus = &ReplayStatus{
			Label:                rd.Uint64(),
			TotalInstructions:    rd.Uint32(),
			FinishedInstructions: rd.Uint32(),
		}
	case tagCrashDump:
		r.CrashDump = &CrashDump{Filepath: readString(rd), Bytes: readBytes(rd)}
	case tagFinished:
		r.Finished = true
	default:
		return errors.Errorf("replaysrv: unknown ReplayResponse tag %d", tag)
	}
	return rd.Err()
}

// wireMessage is implemented by both ReplayRequest and ReplayResponse, and
// by the Ping/Shutdown request/response pairs below.
type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// codecName is registered as a grpc encoding.Codec so the generated-less
// message types above can still travel over a real grpc.Server/ClientConn.
const codecName = "gapir-wire"

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, errors.Errorf("replaysrv: %T does not implement wireMessage", v)
	}
	return m.Marshal()
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(wireMessage)
	if !ok {
		return errors.Errorf("replaysrv: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

func (codec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(codec{})
}

// PingRequest and PingResponse back the unary Ping RPC.
type PingRequest struct{}
type PingResponse struct{}

func (*PingRequest) Marshal() ([]byte, error)     { return nil, nil }
func (*PingRequest) Unmarshal([]byte) error       { return nil }
func (*PingResponse) Marshal() ([]byte, error)    { return nil, nil }
func (*PingResponse) Unmarshal([]byte) error      { return nil }

// ShutdownRequest and ShutdownResponse back the unary Shutdown RPC.
type ShutdownRequest struct{}
type ShutdownResponse struct{}

func (*ShutdownRequest) Marshal() ([]byte, error)  { return nil, nil }
func (*ShutdownRequest) Unmarshal([]byte) error    { return nil }
func (*ShutdownResponse) Marshal() ([]byte, error) { return nil, nil }
func (*ShutdownResponse) Unmarshal([]byte) error   { return nil }

// ReplayServer is implemented by the Replay Service to serve the three RPCs.
type ReplayServer interface {
	Replay(stream ReplayStream) error
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Shutdown(context.Context, *ShutdownRequest) (*ShutdownResponse, error)
}

// ReplayStream is the server side of the bidirectional Replay RPC.
type ReplayStream interface {
	Context() context.Context
	Send(*ReplayResponse) error
	Recv() (*ReplayRequest, error)
}

type replayServerStream struct {
	grpc.ServerStream
}

func (s *replayServerStream) Send(m *ReplayResponse) error { return s.ServerStream.SendMsg(m) }
func (s *replayServerStream) Recv() (*ReplayRequest, error) {
	m := new(ReplayRequest)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func replayHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ReplayServer).Replay(&replayServerStream{stream})
}

func pingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(ReplayServer).Ping(ctx, in)
}

func shutdownHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ShutdownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(ReplayServer).Shutdown(ctx, in)
}

// ServiceDesc describes the Replay Service for registration on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "gapir.ReplayService",
	HandlerType: (*ReplayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Shutdown", Handler: shutdownHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Replay",
			Handler:       replayHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "gapir/replay_service.proto",
}

// RegisterReplayServer registers impl to serve the Replay Service RPCs.
func RegisterReplayServer(s *grpc.Server, impl ReplayServer) {
	s.RegisterService(&ServiceDesc, impl)
}

// NewReplayClient dials the Replay Service reachable through cc.
func NewReplayClient(cc grpc.ClientConnInterface) ReplayClient {
	return &replayClient{cc}
}

// ReplayClient is the client side of the Replay Service.
type ReplayClient interface {
	Replay(ctx context.Context, opts ...grpc.CallOption) (ReplayClientStream, error)
	Ping(ctx context.Context, opts ...grpc.CallOption) (*PingResponse, error)
	Shutdown(ctx context.Context, opts ...grpc.CallOption) (*ShutdownResponse, error)
}

// ReplayClientStream is the client side of the bidirectional Replay RPC.
type ReplayClientStream interface {
	Send(*ReplayRequest) error
	Recv() (*ReplayResponse, error)
	CloseSend() error
}

type replayClient struct {
	cc grpc.ClientConnInterface
}

func (c *replayClient) Ping(ctx context.Context, opts ...grpc.CallOption) (*PingResponse, error) {
	out := new(PingResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/gapir.ReplayService/Ping", new(PingRequest), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *replayClient) Shutdown(ctx context.Context, opts ...grpc.CallOption) (*ShutdownResponse, error) {
	out := new(ShutdownResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/gapir.ReplayService/Shutdown", new(ShutdownRequest), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *replayClient) Replay(ctx context.Context, opts ...grpc.CallOption) (ReplayClientStream, error) {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/gapir.ReplayService/Replay", opts...)
	if err != nil {
		return nil, err
	}
	return &replayClientStream{stream}, nil
}

type replayClientStream struct {
	grpc.ClientStream
}

func (s *replayClientStream) Send(m *ReplayRequest) error { return s.ClientStream.SendMsg(m) }
func (s *replayClientStream) Recv() (*ReplayResponse, error) {
	m := new(ReplayResponse)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
