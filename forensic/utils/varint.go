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

package utils

import (
	"github.com/pkg/errors"
)

// ErrTruncatedOperand reports an encoded integer that runs past the
// end of the buffer.
var ErrTruncatedOperand = errors.New("truncated compressed operand")

// ErrOverlongEncoding reports an encoded integer that uses more bytes
// than the value requires (or the reserved 0xf1..0xff first byte of the
// mlog encoding).
var ErrOverlongEncoding = errors.New("overlong compressed encoding")

// The additive variable-length integer encoding of the MariaDB 10.8
// redo log. Each boundary is the smallest value that needs the next
// encoded width.
const (
	MlogMin2Byte = uint32(1) << 7
	MlogMin3Byte = MlogMin2Byte + uint32(1)<<14
	MlogMin4Byte = MlogMin3Byte + uint32(1)<<21
	MlogMin5Byte = MlogMin4Byte + uint32(1)<<28
)

// MlogDecodeVarintLength returns the encoded width in bytes, derived
// from the leading byte alone.
func MlogDecodeVarintLength(b byte) int {
	n := 1
	for b&0x80 != 0 {
		n++
		b <<= 1
	}
	return n
}

// MlogDecodeVarint decodes an additive variable-length integer and
// returns the value and the number of bytes consumed.
func MlogDecodeVarint(buf []byte) (uint32, int, error) {
	if len(buf) == 0 {
		return 0, 0, errors.Wrap(ErrTruncatedOperand, "MlogDecodeVarint")
	}

	b0 := uint32(buf[0])
	if b0 > 0xf0 {
		// 0xf1..0xff leading bytes are reserved.
		return 0, 0, errors.Wrapf(ErrOverlongEncoding, "MlogDecodeVarint: leading byte 0x%02x", b0)
	}
	n := MlogDecodeVarintLength(buf[0])
	if len(buf) < n {
		return 0, 0, errors.Wrapf(ErrTruncatedOperand, "MlogDecodeVarint: need %d bytes, have %d", n, len(buf))
	}

	switch n {
	case 1:
		return b0, 1, nil
	case 2:
		return MlogMin2Byte + ((b0&^0x80)<<8 | uint32(buf[1])), 2, nil
	case 3:
		return MlogMin3Byte + ((b0&^0xc0)<<16 | uint32(buf[1])<<8 | uint32(buf[2])), 3, nil
	case 4:
		return MlogMin4Byte + ((b0&^0xe0)<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])), 4, nil
	case 5:
		rest := MachReadFrom4(buf[1:])
		if rest > ^MlogMin5Byte {
			return 0, 0, errors.Wrap(ErrOverlongEncoding, "MlogDecodeVarint: 5-byte value overflows")
		}
		return MlogMin5Byte + rest, 5, nil
	}

	return 0, 0, errors.Wrapf(ErrOverlongEncoding, "MlogDecodeVarint: leading byte 0x%02x", b0)
}

// MlogEncodedLength returns the number of bytes MlogEncodeVarint will
// emit for v.
func MlogEncodedLength(v uint32) int {
	switch {
	case v < MlogMin2Byte:
		return 1
	case v < MlogMin3Byte:
		return 2
	case v < MlogMin4Byte:
		return 3
	case v < MlogMin5Byte:
		return 4
	}
	return 5
}

// MlogEncodeVarint appends the encoded form of v to dst.
func MlogEncodeVarint(dst []byte, v uint32) []byte {
	switch {
	case v < MlogMin2Byte:
	case v < MlogMin3Byte:
		v -= MlogMin2Byte
		dst = append(dst, byte(0x80|v>>8))
	case v < MlogMin4Byte:
		v -= MlogMin3Byte
		dst = append(dst, byte(0xc0|v>>16), byte(v>>8))
	case v < MlogMin5Byte:
		v -= MlogMin4Byte
		dst = append(dst, byte(0xe0|v>>24), byte(v>>16), byte(v>>8))
	default:
		v -= MlogMin5Byte
		dst = append(dst, 0xf0, byte(v>>24), byte(v>>16), byte(v>>8))
	}
	return append(dst, byte(v))
}

// MachParseCompressed decodes the pre-10.8 compressed integer form:
// the leading byte selects the width, the value bits are masked in
// place instead of being additive. Kept for recognising legacy
// structures. Returns the value and the bytes consumed.
func MachParseCompressed(data []byte, pos uint64) (uint64, uint64, error) {
	if pos >= uint64(len(data)) {
		return 0, 0, errors.Wrap(ErrTruncatedOperand, "MachParseCompressed")
	}

	flag := uint64(data[pos])
	var need uint64
	switch {
	case flag < 0x80:
		return flag, 1, nil
	case flag < 0xC0:
		need = 2
	case flag < 0xE0:
		need = 3
	case flag < 0xF0:
		need = 4
	default:
		need = 5
	}

	if pos+need > uint64(len(data)) {
		return 0, need, errors.Wrapf(ErrTruncatedOperand,
			"MachParseCompressed: need %d bytes at %d", need, pos)
	}

	switch need {
	case 2:
		return uint64(MachReadFrom2(data[pos:])) & 0x7FFF, 2, nil
	case 3:
		return uint64(MachReadFrom3(data[pos:])) & 0x3FFFFF, 3, nil
	case 4:
		return uint64(MachReadFrom4(data[pos:])) & 0x1FFFFFFF, 4, nil
	}
	return uint64(MachReadFrom4(data[pos+1:])), 5, nil
}

// MachParseCompressedStrict is MachParseCompressed plus a check that
// the encoded form is the shortest one for the value.
func MachParseCompressedStrict(data []byte, pos uint64) (uint64, uint64, error) {
	v, n, err := MachParseCompressed(data, pos)
	if err != nil {
		return v, n, err
	}
	if MachGetCompressedSize(v) != n {
		return v, n, errors.Wrapf(ErrOverlongEncoding,
			"MachParseCompressedStrict: value %d in %d bytes", v, n)
	}
	return v, n, nil
}

// MachGetCompressedSize returns the shortest pre-10.8 compressed
// width for n.
func MachGetCompressedSize(n uint64) uint64 {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	case n < 0x200000:
		return 3
	case n < 0x10000000:
		return 4
	}
	return 5
}

// The MEMMOVE source offset is a nonzero signed delta relative to the
// target offset: +x is (x-1)<<1 and -x is ((x-1)<<1)|1.

func EncodeSignedDelta(d int32) uint32 {
	if d > 0 {
		return uint32(d-1) << 1
	}
	return uint32(-d-1)<<1 | 1
}

func DecodeSignedDelta(u uint32) int32 {
	m := int32(u>>1) + 1
	if u&1 != 0 {
		return -m
	}
	return m
}
