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

package value_test

import (
	"testing"

	"github.com/google/gapir/pkg/protocol"
	"github.com/google/gapir/pkg/value"
)

func TestBitsRoundtrip(t *testing.T) {
	for _, v := range []value.Value{
		value.Bool(true),
		value.Int8(-5),
		value.Int16(-500),
		value.Int32(-100000),
		value.Int64(-1),
		value.Uint8(0xff),
		value.Uint16(0xffff),
		value.Uint32(0xffffffff),
		value.Uint64(0xffffffffffffffff),
		value.Float(3.5),
		value.Double(-1.25),
		value.AbsolutePointer(0xdeadbeef),
		value.ConstantPointer(0x100),
		value.VolatilePointer(0x200),
	} {
		got := value.FromBits(v.Type(), v.Bits())
		if got != v {
			t.Errorf("FromBits(%v.Type(), %v.Bits()) = %#v, want %#v", v, v, got, v)
		}
	}
}

func TestTypeClassification(t *testing.T) {
	if !protocol.Type_VolatilePointer.IsPointer() {
		t.Error("VolatilePointer should be a pointer type")
	}
	if protocol.Type_Uint32.IsPointer() {
		t.Error("Uint32 should not be a pointer type")
	}
	if !protocol.Type_Int32.IsSigned() {
		t.Error("Int32 should be signed")
	}
	if protocol.Type_Uint32.IsSigned() {
		t.Error("Uint32 should not be signed")
	}
}
