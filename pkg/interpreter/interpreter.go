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

// Package interpreter implements Component K, the fetch-decode-execute
// loop of the bytecode virtual machine (spec §4.K). Grounded on
// gapir/cc/interpreter.{h,cpp}: the opcode semantics, the lazy jump table,
// and the builtin-dispatch order (global table, then renderer table, then
// the api-request callback) are ported field for field. The C++ thread
// pool plus std::promise pair becomes a small pool of dedicated goroutines
// (one per virtual thread id, each pinned with runtime.LockOSThread since
// a real graphics context is only current on the OS thread that created
// it) feeding into a buffered result channel in place of the promise.
package interpreter

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"

	"github.com/google/gapir/internal/crash"
	"github.com/google/gapir/internal/log"
	"github.com/google/gapir/pkg/arena"
	"github.com/google/gapir/pkg/functable"
	"github.com/google/gapir/pkg/opcode"
	"github.com/google/gapir/pkg/protocol"
	"github.com/google/gapir/pkg/stack"
	"github.com/google/gapir/pkg/value"
)

// Debug function ids, reserved above the synthetic global builtin range;
// never emitted by a real opcode stream.
const printStackFunctionID = 0xff80

// ApiRequestCallback is asked to populate the renderer function table for
// an api index the interpreter has not seen yet. It returns true if the
// request was fulfilled.
type ApiRequestCallback func(i *Interpreter, apiIndex uint8) bool

// CheckReplayStatusCallback is invoked before every CALL with the current
// label, the total instruction count and the index of the instruction
// about to run, so the caller can decide when to report progress.
type CheckReplayStatusCallback func(label uint64, total, current uint32)

type execResult int

const (
	resultSuccess execResult = iota
	resultError
	resultChangeThread
)

// Interpreter runs one opcode stream against a fixed-depth value stack and
// an arena-backed memory manager.
type Interpreter struct {
	ctx      context.Context
	arena    *arena.Arena
	stack    *stack.Stack
	builtins *functable.Table
	renderers [protocol.NumAPIs]*functable.Table

	apiRequest  ApiRequestCallback
	checkStatus CheckReplayStatusCallback

	instructions       []uint32
	instructionCount   uint32
	currentInstruction uint32
	lastInstruction    uint32
	nextThread         uint32
	label              uint32

	jumpLabels jumpTable

	threadsMu sync.Mutex
	threads   map[uint32]*workerThread
}

// New constructs an Interpreter with a stack of the given depth, bound to
// arena for pointer validation and memory access.
func New(ctx context.Context, a *arena.Arena, stackDepth uint32) *Interpreter {
	ip := &Interpreter{
		ctx:      ctx,
		arena:    a,
		stack:    stack.New(int(stackDepth), a),
		builtins: functable.New(),
		threads:  map[uint32]*workerThread{},
	}
	ip.builtins.Insert(protocol.GlobalAPIIndex, printStackFunctionID, func(label uint32, s *stack.Stack, pushReturn bool) bool {
		log.I(ctx, "%s", s.PrintStack())
		return true
	})
	return ip
}

// SetApiRequestCallback installs the callback asked to populate an
// unregistered api's renderer function table.
func (ip *Interpreter) SetApiRequestCallback(cb ApiRequestCallback) { ip.apiRequest = cb }

// SetCheckReplayStatusCallback installs the per-CALL progress callback.
func (ip *Interpreter) SetCheckReplayStatusCallback(cb CheckReplayStatusCallback) {
	ip.checkStatus = cb
}

// RegisterBuiltin adds fn to the global builtin table under (api, id).
func (ip *Interpreter) RegisterBuiltin(api uint8, id uint16, fn functable.Builtin) {
	ip.builtins.Insert(api, id, fn)
}

// SetRendererFunctions installs t as the renderer function table for api.
// A nil t removes the current table for that api index.
func (ip *Interpreter) SetRendererFunctions(api uint8, t *functable.Table) {
	ip.renderers[api] = t
}

// RegisterApi asks the api-request callback to populate api's renderer
// table, if one is installed.
func (ip *Interpreter) RegisterApi(api uint8) bool {
	return ip.apiRequest != nil && ip.apiRequest(ip, api)
}

// GetLabel returns the most recently reached label.
func (ip *Interpreter) GetLabel() uint32 { return ip.label }

// Arena returns the memory manager backing this interpreter.
func (ip *Interpreter) Arena() *arena.Arena { return ip.arena }

// LastState returns the label and instruction index active when the
// interpreter last stepped, for a crash handler to report alongside a
// recovered panic.
func (ip *Interpreter) LastState() (label, instruction uint32) {
	return ip.label, ip.lastInstruction
}

// ResetInstructions clears the current instruction stream and jump table
// so the interpreter can be reused for the next batch of opcodes.
func (ip *Interpreter) ResetInstructions() {
	ip.instructions = nil
	ip.instructionCount = 0
	ip.currentInstruction = 0
	ip.jumpLabels = jumpTable{}
}

// Close tears down every per-thread worker goroutine. Call once after Run
// has returned; the interpreter must not be reused afterwards unless
// ResetInstructions and a fresh Run follow.
func (ip *Interpreter) Close() {
	ip.threadsMu.Lock()
	defer ip.threadsMu.Unlock()
	for _, w := range ip.threads {
		close(w.jobs)
	}
	ip.threads = map[uint32]*workerThread{}
}

// Run interprets instructions from the start, returning true if execution
// reached the end of the stream (possibly after migrating across threads)
// without an interpretation error.
func (ip *Interpreter) Run(instructions []uint32) bool {
	ip.instructions = instructions
	ip.instructionCount = uint32(len(instructions))
	ip.currentInstruction = 0
	ip.jumpLabels = jumpTable{}

	done := make(chan execResult, 1)
	ip.exec(done)
	return <-done == resultSuccess
}

func (ip *Interpreter) exec(done chan execResult) {
	for ; ip.currentInstruction < ip.instructionCount; ip.currentInstruction++ {
		ip.lastInstruction = ip.currentInstruction
		switch ip.interpret(ip.instructions[ip.currentInstruction]) {
		case resultSuccess:
			continue
		case resultError:
			log.W(ip.ctx, "interpreter stopped at opcode %d (%#08x), last label %d",
				ip.currentInstruction, ip.instructions[ip.currentInstruction], ip.label)
			done <- resultError
			return
		case resultChangeThread:
			next := ip.nextThread
			ip.currentInstruction++
			ip.worker(next).enqueue(func() { ip.exec(done) })
			return
		}
	}
	done <- resultSuccess
}

// workerThread is one virtual thread's dedicated goroutine. Jobs are
// enqueued from a throwaway goroutine rather than sent directly, so that
// switching to the thread already running never deadlocks against its own
// blocked send.
type workerThread struct {
	jobs chan func()
}

func newWorkerThread() *workerThread {
	w := &workerThread{jobs: make(chan func())}
	crash.Go(func() {
		runtime.LockOSThread()
		for job := range w.jobs {
			job()
		}
	})
	return w
}

func (w *workerThread) enqueue(job func()) {
	crash.Go(func() { w.jobs <- job })
}

func (ip *Interpreter) worker(id uint32) *workerThread {
	ip.threadsMu.Lock()
	defer ip.threadsMu.Unlock()
	w, ok := ip.threads[id]
	if !ok {
		w = newWorkerThread()
		ip.threads[id] = w
	}
	return w
}

// jumpTable maps a JUMP_LABEL id to its instruction index, built lazily as
// jumps are taken. Go's map has no ordered iteration, so the "resume from
// the highest-numbered known label" rule (spec §4.K) is kept as an
// explicitly tracked running max instead of reaching for a sorted
// container, the same way this interpreter prefers a tracked running
// offset over a heavier structure elsewhere (see pkg/postbuffer's
// sequence counter).
type jumpTable struct {
	byID     map[uint32]uint32
	haveMax  bool
	maxID    uint32
	maxInstr uint32
}

func (j *jumpTable) record(id, instr uint32) {
	if j.byID == nil {
		j.byID = map[uint32]uint32{}
	}
	j.byID[id] = instr
	if !j.haveMax || id > j.maxID {
		j.haveMax = true
		j.maxID = id
		j.maxInstr = instr
	}
}

func (j *jumpTable) resumeFrom() uint32 {
	if !j.haveMax {
		return 0
	}
	return j.maxInstr + 1
}

// updateJumpTable scans forward from the highest-numbered known label
// looking for jumpLabel, recording every JUMP_LABEL it passes.
func (ip *Interpreter) updateJumpTable(jumpLabel uint32) bool {
	instruction := ip.jumpLabels.resumeFrom()
	for ; instruction < ip.instructionCount; instruction++ {
		word := ip.instructions[instruction]
		if protocol.Opcode(word>>26) == protocol.OpJumpLabel {
			id := word & 0x3ffffff
			ip.jumpLabels.record(id, instruction)
			if id == jumpLabel {
				return true
			}
		}
	}
	return false
}

func (ip *Interpreter) successOrError() execResult {
	if ip.stack.Invalid() {
		return resultError
	}
	return resultSuccess
}

func isReadAddress(abs uint64) bool {
	return arena.IsObserved(abs)
}

func (ip *Interpreter) isWriteAddress(abs uint64) bool {
	return arena.IsObserved(abs) && !ip.arena.IsConstantAddressWithSize(abs, 1)
}

func readBits(src []byte, size int) uint64 {
	var buf [8]byte
	copy(buf[:size], src)
	return binary.LittleEndian.Uint64(buf[:])
}

func writeBits(dst []byte, bits uint64, size int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bits)
	copy(dst, buf[:size])
}

func (ip *Interpreter) interpret(word uint32) execResult {
	instr, err := opcode.Decode(word)
	if err != nil {
		log.W(ip.ctx, "unknown opcode %#08x", word)
		return resultError
	}
	switch instr := instr.(type) {
	case opcode.Call:
		return ip.call(instr)
	case opcode.PushI:
		return ip.pushI(instr)
	case opcode.LoadC:
		return ip.loadC(instr)
	case opcode.LoadV:
		return ip.loadV(instr)
	case opcode.Load:
		return ip.load(instr)
	case opcode.Pop:
		ip.stack.Discard(instr.Count)
		return ip.successOrError()
	case opcode.StoreV:
		return ip.storeV(instr)
	case opcode.Store:
		return ip.store()
	case opcode.Resource:
		return ip.resource(instr)
	case opcode.InlineResource:
		return ip.inlineResource(instr)
	case opcode.Post:
		return ip.dispatch(protocol.GlobalAPIIndex, protocol.PostFunctionID, false)
	case opcode.Copy:
		return ip.copyOp(instr)
	case opcode.Clone:
		ip.stack.Clone(instr.Index)
		return ip.successOrError()
	case opcode.Strcpy:
		return ip.strcpyOp(instr)
	case opcode.Extend:
		return ip.extend(instr)
	case opcode.Add:
		return ip.addOp(instr)
	case opcode.Label:
		ip.label = instr.Value
		return resultSuccess
	case opcode.SwitchThread:
		ip.nextThread = instr.Value
		return resultChangeThread
	case opcode.JumpLabel:
		return ip.successOrError()
	case opcode.JumpNZ:
		return ip.jumpIf(instr.Value, func(v int32) bool { return v != 0 })
	case opcode.JumpZ:
		return ip.jumpIf(instr.Value, func(v int32) bool { return v == 0 })
	case opcode.Notification:
		return ip.dispatch(protocol.GlobalAPIIndex, protocol.NotificationFunctionID, false)
	case opcode.Wait:
		return ip.wait(instr)
	default:
		log.W(ip.ctx, "unhandled instruction %v", instr)
		return resultError
	}
}

func (ip *Interpreter) dispatch(apiIndex uint8, functionID uint16, pushReturn bool) execResult {
	label := ip.label
	if ip.checkStatus != nil {
		ip.checkStatus(uint64(label), ip.instructionCount, ip.currentInstruction)
	}
	fn := ip.builtins.Lookup(apiIndex, functionID)
	if fn == nil {
		if r := ip.renderers[apiIndex]; r != nil {
			fn = r.Lookup(apiIndex, functionID)
		} else if ip.apiRequest != nil && ip.apiRequest(ip, apiIndex) {
			if r := ip.renderers[apiIndex]; r != nil {
				fn = r.Lookup(apiIndex, functionID)
			}
		} else {
			log.W(ip.ctx, "[%d] error setting up renderer functions for api %d", label, apiIndex)
		}
	}
	if fn == nil {
		log.W(ip.ctx, "[%d] invalid function id 0x%x in api %d", label, functionID, apiIndex)
		return resultError
	}
	if !fn(label, ip.stack, pushReturn) {
		log.W(ip.ctx, "[%d] error raised when calling function id 0x%x", label, functionID)
		return resultError
	}
	return resultSuccess
}

func (ip *Interpreter) call(instr opcode.Call) execResult {
	return ip.dispatch(instr.ApiIndex, instr.FunctionID, instr.PushReturn)
}

func (ip *Interpreter) pushI(instr opcode.PushI) execResult {
	if !instr.DataType.Valid() {
		log.W(ip.ctx, "pushI: invalid type %d", instr.DataType)
		return resultError
	}
	data := uint64(instr.Value)
	switch instr.DataType {
	case protocol.Type_Int32, protocol.Type_Int64:
		if data&0x80000 != 0 {
			data |= 0xfffffffffff00000
		}
	case protocol.Type_Float:
		data <<= 23
	case protocol.Type_Double:
		data <<= 52
	}
	ip.stack.PushRaw(instr.DataType, data)
	return ip.successOrError()
}

func (ip *Interpreter) loadC(instr opcode.LoadC) execResult {
	if !instr.DataType.Valid() {
		log.W(ip.ctx, "loadC: invalid type %d", instr.DataType)
		return resultError
	}
	abs := ip.arena.ConstantToAbsolute(instr.Address)
	size := instr.DataType.Size()
	if !ip.arena.IsConstantAddressWithSize(abs, size) {
		log.W(ip.ctx, "loadC: not a constant address %d", abs)
		return resultError
	}
	ip.stack.PushRaw(instr.DataType, readBits(ip.arena.At(abs, size), size))
	return ip.successOrError()
}

func (ip *Interpreter) loadV(instr opcode.LoadV) execResult {
	if !instr.DataType.Valid() {
		log.W(ip.ctx, "loadV: invalid type %d", instr.DataType)
		return resultError
	}
	abs := ip.arena.VolatileToAbsolute(instr.Address)
	size := instr.DataType.Size()
	if !ip.arena.IsVolatileAddressWithSize(abs, size) {
		log.W(ip.ctx, "loadV: not a volatile address %d", abs)
		return resultError
	}
	ip.stack.PushRaw(instr.DataType, readBits(ip.arena.At(abs, size), size))
	return ip.successOrError()
}

func (ip *Interpreter) load(instr opcode.Load) execResult {
	if !instr.DataType.Valid() {
		log.W(ip.ctx, "load: invalid type %d", instr.DataType)
		return resultError
	}
	abs, ok := ip.stack.PopAddress()
	if !ok || ip.stack.Invalid() {
		return resultError
	}
	if !isReadAddress(abs) {
		log.W(ip.ctx, "load: not a readable address %d", abs)
		return resultError
	}
	size := instr.DataType.Size()
	ip.stack.PushRaw(instr.DataType, readBits(ip.arena.At(abs, size), size))
	return ip.successOrError()
}

func (ip *Interpreter) storeV(instr opcode.StoreV) execResult {
	t, ok := ip.stack.TopType()
	if !ok {
		return resultError
	}
	abs := ip.arena.VolatileToAbsolute(instr.Address)
	if !ip.arena.IsVolatileAddressWithSize(abs, t.Size()) {
		log.W(ip.ctx, "storeV: not a volatile address %d", abs)
		return resultError
	}
	v := ip.stack.PopAny()
	if ip.stack.Invalid() {
		return resultError
	}
	writeBits(ip.arena.At(abs, t.Size()), v.Bits(), t.Size())
	return resultSuccess
}

func (ip *Interpreter) store() execResult {
	abs, ok := ip.stack.PopAddress()
	if !ok || ip.stack.Invalid() {
		return resultError
	}
	if !ip.isWriteAddress(abs) {
		log.W(ip.ctx, "store: not a writable address %d", abs)
		return resultError
	}
	t, ok := ip.stack.TopType()
	if !ok {
		return resultError
	}
	v := ip.stack.PopAny()
	if ip.stack.Invalid() {
		return resultError
	}
	writeBits(ip.arena.At(abs, t.Size()), v.Bits(), t.Size())
	return resultSuccess
}

func (ip *Interpreter) resource(instr opcode.Resource) execResult {
	ip.stack.PushRaw(protocol.Type_Uint32, uint64(instr.ID))
	return ip.dispatch(protocol.GlobalAPIIndex, protocol.ResourceFunctionID, false)
}

func (ip *Interpreter) wait(instr opcode.Wait) execResult {
	ip.stack.PushRaw(protocol.Type_Uint32, uint64(instr.Value))
	return ip.dispatch(protocol.GlobalAPIIndex, protocol.WaitFunctionID, false)
}

// inlineResource pops a destination, copies the blob embedded in the
// following instruction words there, then applies the two patch-up
// tables. The layout (blob, value patch-ups, pointer-patch-up count,
// pointer patch-ups) is spec §9 Open Question (ii)'s resolution; patched
// values are written as full arena-absolute offsets, matching how this
// port represents AbsolutePointer.
func (ip *Interpreter) inlineResource(instr opcode.InlineResource) execResult {
	dest, ok := ip.stack.PopAddress()
	if !ok || ip.stack.Invalid() {
		return resultError
	}
	if !ip.isWriteAddress(dest) {
		log.W(ip.ctx, "inlineResource: target is invalid %d", dest)
		return resultError
	}

	dataSize := instr.DataSize
	roundedWords := (dataSize + 3) / 4
	base := ip.currentInstruction + 1

	dst := ip.arena.At(dest, int(dataSize))
	var word [4]byte
	for w := uint32(0); w < roundedWords; w++ {
		binary.LittleEndian.PutUint32(word[:], ip.instructions[base+w])
		copy(dst[w*4:], word[:])
	}

	off := base + roundedWords
	for i := uint32(0); i < instr.NumValuePatchUps; i++ {
		destOff := ip.instructions[off+i*2]
		volOff := ip.instructions[off+i*2+1]
		patchDst := ip.arena.VolatileToAbsolute(destOff)
		patchVal := ip.arena.VolatileToAbsolute(volOff)
		writeBits(ip.arena.At(patchDst, 8), patchVal, 8)
	}
	off += instr.NumValuePatchUps * 2

	numPointerPatchUps := ip.instructions[off]
	off++
	for i := uint32(0); i < numPointerPatchUps; i++ {
		destOff := ip.instructions[off+i*2]
		srcOff := ip.instructions[off+i*2+1]
		patchDst := ip.arena.VolatileToAbsolute(destOff)
		patchSrc := ip.arena.VolatileToAbsolute(srcOff)
		val := readBits(ip.arena.At(patchSrc, 8), 8)
		writeBits(ip.arena.At(patchDst, 8), val, 8)
	}
	off += numPointerPatchUps * 2

	ip.currentInstruction = off - 1
	return resultSuccess
}

func (ip *Interpreter) copyOp(instr opcode.Copy) execResult {
	count := instr.Count
	target, okT := ip.stack.PopAddress()
	source, okS := ip.stack.PopAddress()
	if !okT || !okS || ip.stack.Invalid() {
		return resultError
	}
	if !ip.isWriteAddress(target) {
		log.W(ip.ctx, "copy: target is invalid %d (%d bytes)", target, count)
		return resultError
	}
	if !isReadAddress(source) {
		log.W(ip.ctx, "copy: source is invalid %d (%d bytes)", source, count)
		return resultError
	}
	copy(ip.arena.At(target, int(count)), ip.arena.At(source, int(count)))
	return resultSuccess
}

// strcpyOp requires that the whole count is written to target, even if
// source is shorter: the tail is zero-filled.
func (ip *Interpreter) strcpyOp(instr opcode.Strcpy) execResult {
	count := instr.MaxSize
	target, okT := ip.stack.PopAddress()
	source, okS := ip.stack.PopAddress()
	if !okT || !okS || ip.stack.Invalid() {
		return resultError
	}
	if !ip.isWriteAddress(target) {
		log.W(ip.ctx, "strcpy: target is invalid %d", target)
		return resultError
	}
	if !isReadAddress(source) {
		log.W(ip.ctx, "strcpy: source is invalid %d", source)
		return resultError
	}
	if count == 0 {
		return resultSuccess
	}
	dst := ip.arena.At(target, int(count))
	src := ip.arena.At(source, int(count-1))
	i := uint32(0)
	for ; i < count-1; i++ {
		if src[i] == 0 {
			break
		}
		dst[i] = src[i]
	}
	for ; i < count; i++ {
		dst[i] = 0
	}
	return resultSuccess
}

func (ip *Interpreter) extend(instr opcode.Extend) execResult {
	data := uint64(instr.Value)
	t, ok := ip.stack.TopType()
	if !ok {
		return resultError
	}
	bits := ip.stack.PopBaseValue()
	if ip.stack.Invalid() {
		return resultError
	}
	switch t {
	case protocol.Type_Float:
		bits |= data & 0x007fffff
	case protocol.Type_Double:
		exponent := bits & 0xfff0000000000000
		bits <<= 26
		bits |= data
		bits &= 0x000fffffffffffff
		bits |= exponent
	default:
		bits = (bits << 26) | data
	}
	ip.stack.PushRaw(t, bits)
	return resultSuccess
}

func (ip *Interpreter) jumpIf(jumpID uint32, shouldJump func(int32) bool) execResult {
	v := ip.stack.Pop(protocol.Type_Int32)
	if v == nil {
		return resultError
	}
	if ip.stack.Len() != 0 {
		log.W(ip.ctx, "jump: stack not empty before jumping to label %d", jumpID)
		return resultError
	}
	if shouldJump(int32(v.(value.Int32))) {
		target, ok := ip.jumpLabels.byID[jumpID]
		if !ok {
			ok = ip.updateJumpTable(jumpID)
			target = ip.jumpLabels.byID[jumpID]
		}
		if !ok {
			log.W(ip.ctx, "jump: unknown label %d", jumpID)
		}
		// The -1 compensates for the for loop's unconditional increment of
		// the current instruction once this opcode finishes.
		ip.currentInstruction = target - 1
	}
	return ip.successOrError()
}

func sumInt8(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum int8
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Int8)
		if v == nil {
			return nil, false
		}
		sum += int8(v.(value.Int8))
	}
	return value.Int8(sum), true
}

func sumInt16(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum int16
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Int16)
		if v == nil {
			return nil, false
		}
		sum += int16(v.(value.Int16))
	}
	return value.Int16(sum), true
}

func sumInt32(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum int32
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Int32)
		if v == nil {
			return nil, false
		}
		sum += int32(v.(value.Int32))
	}
	return value.Int32(sum), true
}

func sumInt64(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum int64
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Int64)
		if v == nil {
			return nil, false
		}
		sum += int64(v.(value.Int64))
	}
	return value.Int64(sum), true
}

func sumUint8(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum uint8
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Uint8)
		if v == nil {
			return nil, false
		}
		sum += uint8(v.(value.Uint8))
	}
	return value.Uint8(sum), true
}

func sumUint16(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum uint16
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Uint16)
		if v == nil {
			return nil, false
		}
		sum += uint16(v.(value.Uint16))
	}
	return value.Uint16(sum), true
}

func sumUint32(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum uint32
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Uint32)
		if v == nil {
			return nil, false
		}
		sum += uint32(v.(value.Uint32))
	}
	return value.Uint32(sum), true
}

func sumUint64(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum uint64
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Uint64)
		if v == nil {
			return nil, false
		}
		sum += uint64(v.(value.Uint64))
	}
	return value.Uint64(sum), true
}

func sumFloat(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum float32
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Float)
		if v == nil {
			return nil, false
		}
		sum += float32(v.(value.Float))
	}
	return value.Float(sum), true
}

func sumDouble(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum float64
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_Double)
		if v == nil {
			return nil, false
		}
		sum += float64(v.(value.Double))
	}
	return value.Double(sum), true
}

func sumConstantPointer(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum uint32
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_ConstantPointer)
		if v == nil {
			return nil, false
		}
		sum += uint32(v.(value.ConstantPointer))
	}
	return value.ConstantPointer(sum), true
}

func sumAbsolutePointer(s *stack.Stack, count uint32) (value.Value, bool) {
	var sum uint64
	for i := uint32(0); i < count; i++ {
		v := s.Pop(protocol.Type_AbsolutePointer)
		if v == nil {
			return nil, false
		}
		sum += uint64(v.(value.AbsolutePointer))
	}
	return value.AbsolutePointer(sum), true
}

// addOp sums count values of the top-of-stack's type. VolatilePointer is
// deliberately unsupported, matching the teacher's own switch, which never
// had a case for it.
func (ip *Interpreter) addOp(instr opcode.Add) execResult {
	count := instr.Count
	if count < 2 {
		return ip.successOrError()
	}
	t, ok := ip.stack.TopType()
	if !ok {
		return resultError
	}
	var result value.Value
	var okSum bool
	switch t {
	case protocol.Type_Int8:
		result, okSum = sumInt8(ip.stack, count)
	case protocol.Type_Int16:
		result, okSum = sumInt16(ip.stack, count)
	case protocol.Type_Int32:
		result, okSum = sumInt32(ip.stack, count)
	case protocol.Type_Int64:
		result, okSum = sumInt64(ip.stack, count)
	case protocol.Type_Uint8:
		result, okSum = sumUint8(ip.stack, count)
	case protocol.Type_Uint16:
		result, okSum = sumUint16(ip.stack, count)
	case protocol.Type_Uint32:
		result, okSum = sumUint32(ip.stack, count)
	case protocol.Type_Uint64:
		result, okSum = sumUint64(ip.stack, count)
	case protocol.Type_Float:
		result, okSum = sumFloat(ip.stack, count)
	case protocol.Type_Double:
		result, okSum = sumDouble(ip.stack, count)
	case protocol.Type_AbsolutePointer:
		result, okSum = sumAbsolutePointer(ip.stack, count)
	case protocol.Type_ConstantPointer:
		result, okSum = sumConstantPointer(ip.stack, count)
	default:
		log.W(ip.ctx, "add: cannot add values of type %v", t)
		return resultError
	}
	if !okSum {
		return resultError
	}
	ip.stack.PushRaw(result.Type(), result.Bits())
	return resultSuccess
}
