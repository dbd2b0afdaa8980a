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

// Package endian provides the packed little-endian readers and writers used
// by the on-disk archive cache index (spec §6 "Archive Cache") and the
// bytecode word stream. Grounded on core/data/endian/endian.go's
// reader/writer shape (a struct wrapping an io.Reader/io.Writer, an sticky
// error, and typed Data/UintN accessors), trimmed to the one byte order the
// wire protocol actually uses: every multi-byte field in this system's
// protocol is little-endian, so unlike the teacher's endian package (which
// picks a byte.Order from a target device.Endian, since traced devices can
// be big-endian ARM or little-endian x86) there is nothing to parameterize.
package endian

import (
	"encoding/binary"
	"io"
)

// Reader reads little-endian packed values from an io.Reader, latching the
// first error so call sites can chain several reads before checking Err.
type Reader struct {
	r   io.Reader
	err error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

func (r *Reader) Data(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.r, p)
}

func (r *Reader) Uint32() uint32 {
	var buf [4]byte
	r.Data(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (r *Reader) Uint64() uint64 {
	var buf [8]byte
	r.Data(buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// Writer writes little-endian packed values to an io.Writer, latching the
// first error.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Err returns the first error encountered, if any.
func (w *Writer) Err() error { return w.err }

func (w *Writer) Data(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *Writer) Uint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Data(buf[:])
}

func (w *Writer) Uint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.Data(buf[:])
}
