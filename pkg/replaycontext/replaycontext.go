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

// Package replaycontext implements Component L (spec §4.L): it composes
// the memory manager, interpreter, post buffer, cached resource loader and
// replay service into one replay session, and registers the global and
// graphics builtins the interpreter dispatches into. Grounded on
// gapir/cc/context.{h,cpp}.
package replaycontext

import (
	"bytes"
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/google/gapir/internal/crash"
	"github.com/google/gapir/internal/endian"
	"github.com/google/gapir/internal/log"
	"github.com/google/gapir/pkg/arena"
	"github.com/google/gapir/pkg/crashupload"
	"github.com/google/gapir/pkg/functable"
	"github.com/google/gapir/pkg/interpreter"
	"github.com/google/gapir/pkg/postbuffer"
	"github.com/google/gapir/pkg/protocol"
	"github.com/google/gapir/pkg/renderer"
	"github.com/google/gapir/pkg/replayrequest"
	"github.com/google/gapir/pkg/replayservice"
	"github.com/google/gapir/pkg/replaysrv"
	"github.com/google/gapir/pkg/rescache"
	"github.com/google/gapir/pkg/resload"
	"github.com/google/gapir/pkg/stack"
	"github.com/google/gapir/pkg/value"
)

// postBufferCapacity is the Post Buffer's flush threshold (spec §4.L).
const postBufferCapacity = 2 * 1024 * 1024

// vulkanAPIIndex is the one graphics API index this core binds a renderer
// for. Real API index assignment is the bytecode compiler's job (out of
// scope per spec §1); this port only needs one concrete value to exercise
// the api-request callback and retry logic against.
const vulkanAPIIndex uint8 = 1

// Graphics builtin return codes pushed onto the stack, standing in for the
// real driver's richer result enum (e.g. VkResult) that's out of scope here.
const (
	resultSuccess              = int32(0)
	resultErrorLayerNotPresent = int32(1)
	resultErrorGeneric         = int32(2)
)

// NewRenderer constructs (or reports invalid for) the renderer bound to
// apiIndex, deferred to the caller since real driver/window-system
// construction is outside the core (spec §4.N).
type NewRenderer func(apiIndex uint8) renderer.Renderer

// ServiceFetcher adapts a replayservice.Service into a rescache.Fetcher,
// grounded on the PassThroughResourceLoader gapir/cc/replay_service.cpp
// builds to service both the primary loader and Context::prefetch.
type ServiceFetcher struct {
	Service replayservice.Service
}

// Fetch requests the concatenated bytes of resources from the service.
func (f ServiceFetcher) Fetch(ctx context.Context, resources []rescache.Resource) ([]byte, error) {
	ids := make([]string, len(resources))
	var total uint64
	for i, r := range resources {
		ids[i] = r.ID
		total += uint64(r.Size)
	}
	data, err := f.Service.GetResources(ctx, ids, total)
	if err != nil {
		return nil, errors.Wrap(err, "replaycontext: fetching resources")
	}
	return data, nil
}

// Context composes one replay session: the arena, the loaded request, the
// interpreter, the post buffer, and the graphics renderer it lazily binds.
type Context struct {
	ctx     context.Context
	service replayservice.Service
	memory  *arena.Arena
	loader  *resload.Loader

	postBuffer  *postbuffer.Buffer
	request     *replayrequest.Request
	interpreter *interpreter.Interpreter
	uploader    *crashupload.Uploader

	newRenderer       NewRenderer
	vulkanRenderer    renderer.Renderer
	sentDebugMessages uint64
}

// Create composes a Context around an already-authenticated service
// connection, a cached resource loader, and a sized-on-demand arena. label
// identifies the session in crash dumps uploaded through service.
func Create(ctx context.Context, service replayservice.Service, label string, loader *resload.Loader, memory *arena.Arena, newRenderer NewRenderer) *Context {
	c := &Context{
		ctx:         ctx,
		service:     service,
		memory:      memory,
		loader:      loader,
		newRenderer: newRenderer,
	}
	c.postBuffer = postbuffer.New(postBufferCapacity, func(pieces []replaysrv.PostDataPiece) bool {
		return service.SendPosts(pieces)
	})
	c.uploader = crashupload.New(label, service)
	return c
}

// Close releases the crash reporter registered for this session's lifetime.
func (c *Context) Close() {
	c.uploader.Close()
}

// Initialize fetches the Payload named id, sizing the arena and laying out
// its constants/opcodes. Unlike the C++'s per-replay mPostBuffer->resetCount(),
// this port does not reset the post buffer's sequence counter here: spec §5
// "Ordering guarantees" requires post sequence numbers monotone across the
// entire session, not just within one replay, so the counter is left alone
// across repeated Initialize calls on the same Context.
func (c *Context) Initialize(id string) error {
	req, err := replayrequest.Create(c.ctx, c.service, id, c.memory)
	if err != nil {
		return errors.Wrap(err, "replaycontext: initialize")
	}
	c.request = req
	return nil
}

// Prefetch warms cache with every resource this replay's request lists,
// using the cache's own configured fetcher. A no-op if Initialize hasn't
// run or the request lists no resources.
func (c *Context) Prefetch(ctx context.Context, cache rescache.Cache) {
	if c.request == nil || len(c.request.Resources) == 0 {
		return
	}
	for _, r := range c.request.Resources {
		dst := make([]byte, r.Size)
		if _, err := cache.LoadCache(ctx, r, dst); err != nil {
			log.W(ctx, "replaycontext: prefetch %q failed: %v", r.ID, err)
		}
	}
}

// Interpret runs the loaded request's opcode stream, flushing the post
// buffer on success. cleanup tears down the interpreter afterwards instead
// of keeping it warm for the next replay on this Context; isPrewarm
// suppresses progress notifications for a PrewarmReplay-style priming run.
func (c *Context) Interpret(cleanup, isPrewarm bool) bool {
	if c.request == nil {
		log.E(c.ctx, "replaycontext: interpret called before initialize")
		return false
	}
	if c.interpreter == nil {
		c.interpreter = interpreter.New(c.ctx, c.memory, c.request.StackSize)
		c.registerBuiltins(c.interpreter)
	}
	ip := c.interpreter
	ip.SetApiRequestCallback(c.requestAPI)
	ip.SetCheckReplayStatusCallback(func(label uint64, total, current uint32) {
		if isPrewarm {
			return
		}
		if total < 100 || current%(total/100) == 0 || total-current <= 3 {
			c.service.SendReplayStatus(label, total, current)
		}
	})

	unregister := crash.Register(func(e interface{}, s crash.Callstack) {
		label, instr := ip.LastState()
		log.E(c.ctx, "replay crashed label=%d instruction=%d: %v", label, instr, e)
	})
	defer unregister()

	words := decodeWords(c.request.Opcodes)
	ok := ip.Run(words) && c.postBuffer.Flush()
	if cleanup {
		c.interpreter = nil
	} else {
		ip.ResetInstructions()
	}
	return ok
}

func decodeWords(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	r := endian.NewReader(bytes.NewReader(data))
	for i := range words {
		words[i] = r.Uint32()
	}
	return words
}

// OnDebugMessage implements renderer.Listener: it logs and forwards the
// renderer's message to the controller as an error notification, tagged
// with the interpreter's current label the way gapir/cc/context.cpp's
// onDebugMessage does.
func (c *Context) OnDebugMessage(severity uint32, apiIndex uint8, msg string) {
	msg = strings.TrimRight(msg, "\n")
	var label uint64
	if c.interpreter != nil {
		label = uint64(c.interpreter.GetLabel())
	}
	log.D(c.ctx, "[%d] renderer: %s", label, msg)
	seq := c.sentDebugMessages
	c.sentDebugMessages++
	c.service.SendErrorMsg(seq, replaysrv.Severity(severity), uint32(apiIndex), label, msg, nil)
}

func (c *Context) registerBuiltins(ip *interpreter.Interpreter) {
	ip.RegisterBuiltin(protocol.GlobalAPIIndex, protocol.PostFunctionID, c.post)
	ip.RegisterBuiltin(protocol.GlobalAPIIndex, protocol.ResourceFunctionID, c.loadResource)
	ip.RegisterBuiltin(protocol.GlobalAPIIndex, protocol.NotificationFunctionID, c.notify)
	ip.RegisterBuiltin(protocol.GlobalAPIIndex, protocol.WaitFunctionID, c.wait)
}

func (c *Context) post(label uint32, s *stack.Stack, pushReturn bool) bool {
	count, addr, ok := popCountThenAddress(s)
	if !ok {
		log.W(c.ctx, "replaycontext: post: invalid stack")
		return false
	}
	data := c.memory.At(addr, int(count))
	buf := make([]byte, count)
	copy(buf, data)
	return c.postBuffer.Push(buf)
}

func (c *Context) loadResource(label uint32, s *stack.Stack, pushReturn bool) bool {
	idVal := s.Pop(protocol.Type_Uint32)
	dst, okAddr := s.PopAddress()
	if idVal == nil || !okAddr || s.Invalid() {
		log.W(c.ctx, "replaycontext: resource: invalid stack")
		return false
	}
	idx := uint32(idVal.(value.Uint32))
	if int(idx) >= len(c.request.Resources) {
		log.W(c.ctx, "replaycontext: resource: id %d out of range", idx)
		return false
	}
	r := c.request.Resources[idx]
	dstBytes := c.memory.At(dst, int(r.Size))
	if err := c.loader.Load(c.ctx, []rescache.Resource{r}, dstBytes); err != nil {
		log.W(c.ctx, "replaycontext: resource: loading %q: %v", r.ID, err)
		return false
	}
	return true
}

func (c *Context) notify(label uint32, s *stack.Stack, pushReturn bool) bool {
	count := s.Pop(protocol.Type_Uint32)
	id := s.Pop(protocol.Type_Uint32)
	addr, okAddr := s.PopAddress()
	if count == nil || id == nil || !okAddr || s.Invalid() {
		log.W(c.ctx, "replaycontext: notification: invalid stack")
		return false
	}
	n := uint32(count.(value.Uint32))
	data := c.memory.At(addr, int(n))
	buf := make([]byte, n)
	copy(buf, data)
	return c.service.SendNotificationData(uint64(id.(value.Uint32)), uint64(label), buf)
}

func (c *Context) wait(label uint32, s *stack.Stack, pushReturn bool) bool {
	id := s.Pop(protocol.Type_Uint32)
	if id == nil || s.Invalid() {
		log.W(c.ctx, "replaycontext: wait: invalid stack")
		return false
	}
	fenceID := uint32(id.(value.Uint32))
	if err := c.service.GetFenceReady(c.ctx, fenceID); err != nil {
		log.W(c.ctx, "replaycontext: wait: fence %d: %v", fenceID, err)
		return false
	}
	return true
}

// requestAPI is the interpreter's ApiRequestCallback: it lazily constructs
// (once) and binds the one renderer this core supports.
func (c *Context) requestAPI(ip *interpreter.Interpreter, apiIndex uint8) bool {
	if apiIndex != vulkanAPIIndex {
		return false
	}
	if c.vulkanRenderer == nil {
		if c.newRenderer == nil {
			return false
		}
		r := c.newRenderer(apiIndex)
		if r == nil || !r.IsValid() {
			return false
		}
		r.SetListener(c)
		c.vulkanRenderer = r
	}
	ip.SetRendererFunctions(apiIndex, c.buildRendererTable(c.vulkanRenderer.Api()))
	log.I(c.ctx, "Bound renderer for api index %d", apiIndex)
	return true
}

// buildRendererTable registers the graphics builtins spec §4.L names
// against api, mirroring gapir/cc/context.cpp's registerCallbacks.
// CreateVkInstance/CreateVkDevice implement the validation-layer retry
// policy spec §9 Open Question (i) calls out as asymmetric: instance
// creation reports a missing-layer failure distinctly and still pushes a
// return code to the bytecode on total failure, device creation does not
// distinguish the cause and fails the interpreter step outright.
func (c *Context) buildRendererTable(api renderer.Api) *functable.Table {
	t := functable.New()

	t.Insert(vulkanAPIIndex, renderer.FuncCreateVkInstance, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		flag := s.Pop(protocol.Type_Uint32)
		if flag == nil || s.Invalid() {
			return false
		}
		withValidation := uint32(flag.(value.Uint32)) != 0
		_, missingLayer, ok := api.CreateVkInstance(withValidation)
		if ok {
			if pushReturn {
				s.Push(value.Int32(resultSuccess))
			}
			return true
		}
		if !withValidation {
			c.debugWarn(vulkanAPIIndex, "Failed to create VkInstance")
			return false
		}
		c.debugWarn(vulkanAPIIndex, "Failed to create VkInstance with validation layers or debug extensions, dropping them and retrying")
		_, missingLayer, ok = api.CreateVkInstance(false)
		result := resultSuccess
		if !ok {
			if missingLayer {
				c.debugWarn(vulkanAPIIndex, "Failed to create VkInstance: some layer(s) are missing.")
				result = resultErrorLayerNotPresent
			} else {
				result = resultErrorGeneric
			}
			c.debugWarn(vulkanAPIIndex, "Failed to create VkInstance, even when validation layers and debug report extension have been dropped.")
		}
		if pushReturn {
			s.Push(value.Int32(result))
		}
		return true
	})

	t.Insert(vulkanAPIIndex, renderer.FuncCreateVkDevice, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		flag := s.Pop(protocol.Type_Uint32)
		if flag == nil || s.Invalid() {
			return false
		}
		withValidation := uint32(flag.(value.Uint32)) != 0
		_, ok := api.CreateVkDevice(withValidation)
		if ok {
			if pushReturn {
				s.Push(value.Int32(resultSuccess))
			}
			return true
		}
		if !withValidation {
			c.debugWarn(vulkanAPIIndex, "Failed to create VkDevice")
			return false
		}
		c.debugWarn(vulkanAPIIndex, "Failed to create VkDevice with validation layers, dropping them and retrying")
		if _, ok := api.CreateVkDevice(false); ok {
			if pushReturn {
				s.Push(value.Int32(resultSuccess))
			}
			return true
		}
		c.debugWarn(vulkanAPIIndex, "Failed to create VkDevice")
		return false
	})

	t.Insert(vulkanAPIIndex, renderer.FuncRegisterVkInstance, popHandle(api.RegisterVkInstance))
	t.Insert(vulkanAPIIndex, renderer.FuncUnregisterVkInstance, popHandle(api.UnregisterVkInstance))
	t.Insert(vulkanAPIIndex, renderer.FuncDestroyVkInstance, popHandle(api.DestroyVkInstance))
	t.Insert(vulkanAPIIndex, renderer.FuncRegisterVkDevice, popHandle(api.RegisterVkDevice))
	t.Insert(vulkanAPIIndex, renderer.FuncUnregisterVkDevice, popHandle(api.UnregisterVkDevice))
	t.Insert(vulkanAPIIndex, renderer.FuncDestroyVkDebugReportCallback, popHandle(api.DestroyVkDebugReportCallback))

	t.Insert(vulkanAPIIndex, renderer.FuncRegisterCommandBuffers, popHandleAndCount(api.RegisterCommandBuffers))
	t.Insert(vulkanAPIIndex, renderer.FuncUnregisterCommandBuffers, popHandleAndCount(api.UnregisterCommandBuffers))

	t.Insert(vulkanAPIIndex, renderer.FuncCreateSwapchain, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		h := s.Pop(protocol.Type_Uint64)
		if h == nil || s.Invalid() {
			return false
		}
		out, ok := api.CreateSwapchain(uint64(h.(value.Uint64)))
		if !ok {
			return false
		}
		if pushReturn {
			s.Push(value.Uint64(out))
		}
		return true
	})

	t.Insert(vulkanAPIIndex, renderer.FuncAllocateImageMemory, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		size := s.Pop(protocol.Type_Uint64)
		if size == nil || s.Invalid() {
			return false
		}
		out, ok := api.AllocateImageMemory(uint64(size.(value.Uint64)))
		if !ok {
			return false
		}
		if pushReturn {
			s.Push(value.Uint64(out))
		}
		return true
	})

	t.Insert(vulkanAPIIndex, renderer.FuncEnumeratePhysicalDevices, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		count, ok := api.EnumeratePhysicalDevices()
		if !ok {
			return false
		}
		if pushReturn {
			s.Push(value.Uint32(count))
		}
		return true
	})

	t.Insert(vulkanAPIIndex, renderer.FuncGetFenceStatus, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		h := s.Pop(protocol.Type_Uint64)
		if h == nil || s.Invalid() {
			return false
		}
		status, ok := api.GetFenceStatus(uint64(h.(value.Uint64)))
		if !ok {
			return false
		}
		if pushReturn {
			s.Push(value.Uint32(status))
		}
		return true
	})

	t.Insert(vulkanAPIIndex, renderer.FuncGetEventStatus, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		h := s.Pop(protocol.Type_Uint64)
		if h == nil || s.Invalid() {
			return false
		}
		status, ok := api.GetEventStatus(uint64(h.(value.Uint64)))
		if !ok {
			return false
		}
		if pushReturn {
			s.Push(value.Uint32(status))
		}
		return true
	})

	t.Insert(vulkanAPIIndex, renderer.FuncWaitForFences, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		count := s.Pop(protocol.Type_Uint32)
		if count == nil || s.Invalid() {
			return false
		}
		return api.WaitForFences(uint32(count.(value.Uint32)))
	})

	t.Insert(vulkanAPIIndex, renderer.FuncCreateVkDebugReportCallback, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		flag := s.Pop(protocol.Type_Uint32)
		if flag == nil || s.Invalid() {
			return false
		}
		handle, ok := api.CreateVkDebugReportCallback(uint32(flag.(value.Uint32)) != 0)
		if !ok {
			c.debugWarn(vulkanAPIIndex, "Failed to create debug report callback, VK_EXT_debug_report extension may not be supported on this replay device")
			return false
		}
		if pushReturn {
			s.Push(value.Uint64(handle))
		}
		return true
	})

	return t
}

func (c *Context) debugWarn(apiIndex uint8, msg string) {
	c.OnDebugMessage(uint32(replaysrv.SeverityWarning), apiIndex, msg)
}

// popHandle builds a builtin that pops a single u64 handle and calls fn.
func popHandle(fn func(handle uint64) bool) functable.Builtin {
	return func(label uint32, s *stack.Stack, pushReturn bool) bool {
		h := s.Pop(protocol.Type_Uint64)
		if h == nil || s.Invalid() {
			return false
		}
		return fn(uint64(h.(value.Uint64)))
	}
}

// popHandleAndCount builds a builtin that pops a u32 count then a u64
// handle (count was pushed last, so it pops first) and calls fn.
func popHandleAndCount(fn func(handle uint64, count uint32) bool) functable.Builtin {
	return func(label uint32, s *stack.Stack, pushReturn bool) bool {
		count := s.Pop(protocol.Type_Uint32)
		h := s.Pop(protocol.Type_Uint64)
		if count == nil || h == nil || s.Invalid() {
			return false
		}
		return fn(uint64(h.(value.Uint64)), uint32(count.(value.Uint32)))
	}
}

func popCountThenAddress(s *stack.Stack) (count uint32, addr uint64, ok bool) {
	c := s.Pop(protocol.Type_Uint32)
	a, okAddr := s.PopAddress()
	if c == nil || !okAddr || s.Invalid() {
		return 0, 0, false
	}
	return uint32(c.(value.Uint32)), a, true
}
