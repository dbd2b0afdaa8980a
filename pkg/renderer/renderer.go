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

// Package renderer implements Component N (spec §4.N): the thin, opaque
// contract between the interpreter and a graphics-API-specific provider of
// a builtin table. Grounded on gapir/cc/renderer.h, whose Renderer class
// exposes exactly api(), setListener/getListener and isValid() and leaves
// everything else (context creation, window-system surface management,
// driver loading) outside the VM's view.
//
// This package only carries the façade and a fake implementation used by
// this repo's own tests; a real graphics backend is Non-goal territory
// (spec §1) and lives outside the core.
package renderer

// Listener receives debug messages a renderer's driver reports out of band
// from the normal builtin call/return path.
type Listener interface {
	OnDebugMessage(severity uint32, apiIndex uint8, msg string)
}

// Api is the graphics-API-specific surface a Renderer exposes to the
// Context when it wires up the graphics builtins named in spec §4.L.
// CreateVkInstance and CreateVkDevice report whether a validation-layer or
// debug-extension request specifically caused the failure, since the
// retry policy (spec §9 Open Question (i)) is asymmetric between the two:
// instance creation distinguishes a missing-layer failure from every other
// kind, device creation does not.
type Api interface {
	ID() uint8

	CreateVkInstance(withValidation bool) (handle uint64, missingLayer bool, ok bool)
	CreateVkDevice(withValidation bool) (handle uint64, ok bool)
	RegisterVkInstance(handle uint64) bool
	UnregisterVkInstance(handle uint64) bool
	DestroyVkInstance(handle uint64) bool
	RegisterVkDevice(handle uint64) bool
	UnregisterVkDevice(handle uint64) bool
	RegisterCommandBuffers(handle uint64, count uint32) bool
	UnregisterCommandBuffers(handle uint64, count uint32) bool
	CreateSwapchain(handle uint64) (handle2 uint64, ok bool)
	AllocateImageMemory(size uint64) (handle uint64, ok bool)
	EnumeratePhysicalDevices() (count uint32, ok bool)
	GetFenceStatus(fence uint64) (status uint32, ok bool)
	GetEventStatus(event uint64) (status uint32, ok bool)
	WaitForFences(count uint32) bool
	CreateVkDebugReportCallback(withDebug bool) (handle uint64, ok bool)
	DestroyVkDebugReportCallback(handle uint64) bool
}

// Renderer is an off-screen rendering context for one API index. The VM
// never sees more of it than this: a FunctionTable (built by the Context
// around an Api, not exposed here) and this validity/listener surface.
type Renderer interface {
	Api() Api
	SetListener(l Listener)
	IsValid() bool
}

// Base is embeddable by a concrete Renderer to get listener bookkeeping and
// a DebugMessage helper for free, mirroring the non-virtual half of the
// C++ Renderer base class.
type Base struct {
	listener Listener
}

// SetListener installs l, replacing any previously installed listener.
func (b *Base) SetListener(l Listener) { b.listener = l }

// DebugMessage forwards to the installed listener, if any.
func (b *Base) DebugMessage(severity uint32, apiIndex uint8, msg string) {
	if b.listener != nil {
		b.listener.OnDebugMessage(severity, apiIndex, msg)
	}
}

// Function ids for the graphics builtins spec §4.L lists as "assigned
// opaque ids by the compiler". The real bytecode compiler is out of scope
// (spec §1 Non-goals), so this port is the one assigning them, scoped to
// the renderer package that also defines what they dispatch to.
const (
	FuncCreateVkInstance = iota
	FuncCreateVkDevice
	FuncRegisterVkInstance
	FuncDestroyVkInstance
	FuncUnregisterVkInstance
	FuncRegisterVkDevice
	FuncUnregisterVkDevice
	FuncRegisterCommandBuffers
	FuncUnregisterCommandBuffers
	FuncCreateSwapchain
	FuncAllocateImageMemory
	FuncEnumeratePhysicalDevices
	FuncGetFenceStatus
	FuncGetEventStatus
	FuncWaitForFences
	FuncCreateVkDebugReportCallback
	FuncDestroyVkDebugReportCallback
)

// FunctionNames maps the ids above to the names spec §4.L gives them, for
// logging.
var FunctionNames = map[uint16]string{
	FuncCreateVkInstance:             "CreateVkInstance",
	FuncCreateVkDevice:               "CreateVkDevice",
	FuncRegisterVkInstance:           "RegisterVkInstance",
	FuncDestroyVkInstance:            "DestroyVkInstance",
	FuncUnregisterVkInstance:         "UnregisterVkInstance",
	FuncRegisterVkDevice:             "RegisterVkDevice",
	FuncUnregisterVkDevice:           "UnregisterVkDevice",
	FuncRegisterCommandBuffers:       "RegisterCommandBuffers",
	FuncUnregisterCommandBuffers:     "UnregisterCommandBuffers",
	FuncCreateSwapchain:              "CreateSwapchain",
	FuncAllocateImageMemory:          "AllocateImageMemory",
	FuncEnumeratePhysicalDevices:     "EnumeratePhysicalDevices",
	FuncGetFenceStatus:               "GetFenceStatus",
	FuncGetEventStatus:               "GetEventStatus",
	FuncWaitForFences:                "WaitForFences",
	FuncCreateVkDebugReportCallback:  "CreateVkDebugReportCallback",
	FuncDestroyVkDebugReportCallback: "DestroyVkDebugReportCallback",
}

// Fake is a Renderer whose Api records calls and returns scripted results,
// used by this repo's own tests and by pkg/replaycontext's tests in place
// of a real graphics driver.
type Fake struct {
	Base
	apiIndex uint8
	valid    bool

	// FailValidation makes CreateVkInstance/CreateVkDevice fail whenever
	// called with withValidation true, so the Context's retry-without-
	// validation policy has something to exercise.
	FailValidation bool

	nextHandle uint64
	Calls      []string
}

// NewFake constructs a valid Fake renderer for the given API index.
func NewFake(apiIndex uint8) *Fake {
	return &Fake{apiIndex: apiIndex, valid: true, nextHandle: 1}
}

// Api returns the Fake itself, which also implements Api.
func (f *Fake) Api() Api { return f }

// IsValid reports whether the fake renderer is usable. SetInvalid clears it
// to exercise the builtin-dispatch-fails-gracefully path.
func (f *Fake) IsValid() bool { return f.valid }

// SetInvalid marks the fake renderer unusable, as if its context had been
// lost.
func (f *Fake) SetInvalid() { f.valid = false }

func (f *Fake) ID() uint8 { return f.apiIndex }

func (f *Fake) handle() uint64 {
	h := f.nextHandle
	f.nextHandle++
	return h
}

func (f *Fake) record(name string) { f.Calls = append(f.Calls, name) }

func (f *Fake) CreateVkInstance(withValidation bool) (uint64, bool, bool) {
	f.record("CreateVkInstance")
	if withValidation && f.FailValidation {
		return 0, true, false
	}
	return f.handle(), false, true
}

func (f *Fake) CreateVkDevice(withValidation bool) (uint64, bool) {
	f.record("CreateVkDevice")
	if withValidation && f.FailValidation {
		return 0, false
	}
	return f.handle(), true
}

func (f *Fake) RegisterVkInstance(handle uint64) bool {
	f.record("RegisterVkInstance")
	return true
}

func (f *Fake) UnregisterVkInstance(handle uint64) bool {
	f.record("UnregisterVkInstance")
	return true
}

func (f *Fake) DestroyVkInstance(handle uint64) bool {
	f.record("DestroyVkInstance")
	return true
}

func (f *Fake) RegisterVkDevice(handle uint64) bool {
	f.record("RegisterVkDevice")
	return true
}

func (f *Fake) UnregisterVkDevice(handle uint64) bool {
	f.record("UnregisterVkDevice")
	return true
}

func (f *Fake) RegisterCommandBuffers(handle uint64, count uint32) bool {
	f.record("RegisterCommandBuffers")
	return true
}

func (f *Fake) UnregisterCommandBuffers(handle uint64, count uint32) bool {
	f.record("UnregisterCommandBuffers")
	return true
}

func (f *Fake) CreateSwapchain(handle uint64) (uint64, bool) {
	f.record("CreateSwapchain")
	return f.handle(), true
}

func (f *Fake) AllocateImageMemory(size uint64) (uint64, bool) {
	f.record("AllocateImageMemory")
	return f.handle(), true
}

func (f *Fake) EnumeratePhysicalDevices() (uint32, bool) {
	f.record("EnumeratePhysicalDevices")
	return 1, true
}

func (f *Fake) GetFenceStatus(fence uint64) (uint32, bool) {
	f.record("GetFenceStatus")
	return 0, true
}

func (f *Fake) GetEventStatus(event uint64) (uint32, bool) {
	f.record("GetEventStatus")
	return 0, true
}

func (f *Fake) WaitForFences(count uint32) bool {
	f.record("WaitForFences")
	return true
}

func (f *Fake) CreateVkDebugReportCallback(withDebug bool) (uint64, bool) {
	f.record("CreateVkDebugReportCallback")
	if withDebug && f.FailValidation {
		return 0, false
	}
	return f.handle(), true
}

func (f *Fake) DestroyVkDebugReportCallback(handle uint64) bool {
	f.record("DestroyVkDebugReportCallback")
	return true
}
