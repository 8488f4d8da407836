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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMlogVarintRoundTrip(t *testing.T) {
	nums := []uint32{
		0, 1, 0x7F,
		MlogMin2Byte, 0x1234, MlogMin3Byte - 1,
		MlogMin3Byte, 0x123456, MlogMin4Byte - 1,
		MlogMin4Byte, 0x12345678, MlogMin5Byte - 1,
		MlogMin5Byte, 0xFFFFFFFE,
	}
	for _, num := range nums {
		buf := MlogEncodeVarint(nil, num)
		require.Equal(t, MlogEncodedLength(num), len(buf), "encoded length of %#x", num)

		v, n, err := MlogDecodeVarint(buf)
		require.NoError(t, err, "decode %#x", num)
		assert.Equal(t, num, v)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, len(buf), MlogDecodeVarintLength(buf[0]))
	}
}

func TestMlogVarintTruncated(t *testing.T) {
	buf := MlogEncodeVarint(nil, 0x123456)
	_, _, err := MlogDecodeVarint(buf[:2])
	assert.True(t, errors.Is(err, ErrTruncatedOperand))

	_, _, err = MlogDecodeVarint(nil)
	assert.True(t, errors.Is(err, ErrTruncatedOperand))
}

func TestMlogVarintReserved(t *testing.T) {
	// 0xf1..0xff leading bytes are reserved.
	_, _, err := MlogDecodeVarint([]byte{0xf8, 0, 0, 0, 0})
	assert.True(t, errors.Is(err, ErrOverlongEncoding))

	// 5-byte payload past the representable range.
	_, _, err = MlogDecodeVarint([]byte{0xf0, 0xff, 0xff, 0xff, 0xff})
	assert.True(t, errors.Is(err, ErrOverlongEncoding))
}

func TestMachParseCompressedRoundTrip(t *testing.T) {
	cases := []struct {
		value uint64
		bytes []byte
	}{
		{0x35, []byte{0x35}},
		{0x7F, []byte{0x7F}},
		{0x80, []byte{0x80, 0x80}},
		{0x3FFF, []byte{0xBF, 0xFF}},
		{0x4000, []byte{0xC0, 0x40, 0x00}},
		{0x1FFFFF, []byte{0xDF, 0xFF, 0xFF}},
		{0x200000, []byte{0xE0, 0x20, 0x00, 0x00}},
		{0xFFFFFFF, []byte{0xEF, 0xFF, 0xFF, 0xFF}},
		{0x10000000, []byte{0xF0, 0x10, 0x00, 0x00, 0x00}},
		{0xFFFFFFFF, []byte{0xF0, 0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, c := range cases {
		v, n, err := MachParseCompressed(c.bytes, 0)
		require.NoError(t, err, "value %#x", c.value)
		assert.Equal(t, c.value, v)
		assert.Equal(t, uint64(len(c.bytes)), n)
		assert.Equal(t, uint64(len(c.bytes)), MachGetCompressedSize(c.value))
	}
}

func TestMachParseCompressedStrict(t *testing.T) {
	// 5 encoded in two bytes is valid but overlong.
	v, n, err := MachParseCompressed([]byte{0x80, 0x05}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
	assert.Equal(t, uint64(2), n)

	_, _, err = MachParseCompressedStrict([]byte{0x80, 0x05}, 0)
	assert.True(t, errors.Is(err, ErrOverlongEncoding))

	_, _, err = MachParseCompressedStrict([]byte{0x05}, 0)
	assert.NoError(t, err)
}

func TestMachParseCompressedTruncated(t *testing.T) {
	_, _, err := MachParseCompressed([]byte{0xC0, 0x01}, 0)
	assert.True(t, errors.Is(err, ErrTruncatedOperand))

	_, _, err = MachParseCompressed([]byte{0x01}, 1)
	assert.True(t, errors.Is(err, ErrTruncatedOperand))
}

func TestSignedDeltaRoundTrip(t *testing.T) {
	for _, d := range []int32{1, -1, 2, -2, 100, -100, 1 << 20, -(1 << 20)} {
		assert.Equal(t, d, DecodeSignedDelta(EncodeSignedDelta(d)))
	}

	// the documented mapping: +1,+2,+3 -> 0,2,4 and -1,-2,-3 -> 1,3,5
	assert.Equal(t, uint32(0), EncodeSignedDelta(1))
	assert.Equal(t, uint32(2), EncodeSignedDelta(2))
	assert.Equal(t, uint32(1), EncodeSignedDelta(-1))
	assert.Equal(t, uint32(5), EncodeSignedDelta(-3))
}
