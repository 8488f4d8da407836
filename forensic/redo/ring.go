// Copyright 2024 The zbdba Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package redo

import (
	"github.com/pkg/errors"

	"github.com/zbdba/innodb-forensic/forensic/utils"
)

// ErrRingEmpty reports a read from an empty ring.
var ErrRingEmpty = errors.New("ring buffer is empty")

// RingReader is a cursor over the circular record region of a 10.8
// redo log. It borrows the underlying bytes; reads wrap at the end.
type RingReader struct {
	buf []byte
	pos int
}

func NewRingReader(buf []byte, pos int) *RingReader {
	if len(buf) > 0 {
		pos %= len(buf)
	}
	return &RingReader{buf: buf, pos: pos}
}

// Clone returns an independent cursor over the same bytes.
func (r *RingReader) Clone() *RingReader {
	return &RingReader{buf: r.buf, pos: r.pos}
}

func (r *RingReader) Len() int {
	return len(r.buf)
}

func (r *RingReader) Pos() int {
	return r.pos
}

func (r *RingReader) Advance(n int) {
	r.pos = (r.pos + n) % len(r.buf)
}

// Distance is the forward ring distance from r to other.
func (r *RingReader) Distance(other *RingReader) int {
	d := other.pos - r.pos
	if d < 0 {
		d += len(r.buf)
	}
	return d
}

func (r *RingReader) PeekByte() (byte, error) {
	if len(r.buf) == 0 {
		return 0, ErrRingEmpty
	}
	return r.buf[r.pos], nil
}

func (r *RingReader) ReadByte() (byte, error) {
	b, err := r.PeekByte()
	if err != nil {
		return 0, err
	}
	r.Advance(1)
	return b, nil
}

// Bytes copies out n bytes from the cursor without consuming them.
func (r *RingReader) Bytes(n int) []byte {
	out := make([]byte, n)
	first := len(r.buf) - r.pos
	if first >= n {
		copy(out, r.buf[r.pos:r.pos+n])
		return out
	}
	copy(out, r.buf[r.pos:])
	copy(out[first:], r.buf[:n-first])
	return out
}

func (r *RingReader) Read4() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, errors.Wrap(ErrRingEmpty, "RingReader.Read4")
	}
	v := utils.MachReadFrom4(r.Bytes(4))
	r.Advance(4)
	return v, nil
}

func (r *RingReader) Read8() (uint64, error) {
	if len(r.buf) < 8 {
		return 0, errors.Wrap(ErrRingEmpty, "RingReader.Read8")
	}
	v := utils.MachReadFrom8(r.Bytes(8))
	r.Advance(8)
	return v, nil
}

// ReadVarint consumes one mlog variable-length integer.
func (r *RingReader) ReadVarint() (uint32, int, error) {
	peek := 5
	if peek > len(r.buf) {
		peek = len(r.buf)
	}
	v, n, err := utils.MlogDecodeVarint(r.Bytes(peek))
	if err != nil {
		return 0, 0, err
	}
	r.Advance(n)
	return v, n, nil
}

// Crc32c checksums the next n bytes without consuming them.
func (r *RingReader) Crc32c(n int) uint32 {
	first := len(r.buf) - r.pos
	if first >= n {
		return utils.Crc32c(r.buf[r.pos : r.pos+n])
	}
	crc := utils.Crc32cUpdate(0, r.buf[r.pos:])
	return utils.Crc32cUpdate(crc, r.buf[:n-first])
}
