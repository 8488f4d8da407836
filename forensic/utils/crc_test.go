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

	"github.com/stretchr/testify/assert"
)

func TestCrc32cVectors(t *testing.T) {
	assert.Equal(t, uint32(0), Crc32c(nil))
	assert.Equal(t, uint32(0), Crc32c([]byte{}))
	assert.Equal(t, uint32(0xE3069283), Crc32c([]byte("123456789")))
	// RFC 3720 appendix B: 32 bytes of zeros.
	assert.Equal(t, uint32(0x8A9136AA), Crc32c(make([]byte, 32)))
}

func TestCrc32cFileCheckpointVector(t *testing.T) {
	// A FILE_CHECKPOINT record body for LSN 0xde3d; the on-disk chain
	// checksum of these 11 bytes is 0x1fa35297.
	body := []byte{0xfa, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xde, 0x3d}
	assert.Equal(t, uint32(0x1fa35297), Crc32c(body))
}

func TestCrc32cUpdateComposes(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	for _, split := range []int{0, 1, 7, len(data)} {
		crc := Crc32cUpdate(Crc32cUpdate(0, data[:split]), data[split:])
		assert.Equal(t, Crc32c(data), crc, "split at %d", split)
	}
}

func TestInnodbCrc32LegacyDeterministic(t *testing.T) {
	// The legacy variant only needs to be stable and distinct from the
	// reflected one.
	data := []byte("123456789")
	first := InnodbCrc32Legacy(data)
	assert.Equal(t, first, InnodbCrc32Legacy(data))
	assert.NotEqual(t, Crc32c(data), first)
	assert.NotEqual(t, uint32(0), first)
}

func TestBufCalcPageCrc32Spans(t *testing.T) {
	page := make([]byte, 512)
	for i := range page {
		page[i] = byte(i)
	}

	want := Crc32cUpdate(Crc32cUpdate(0, page[4:26]), page[38:len(page)-8])
	assert.Equal(t, want, BufCalcPageCrc32(page))

	// bytes outside the two spans do not contribute
	page[0] ^= 0xff
	page[30] ^= 0xff
	page[len(page)-1] ^= 0xff
	assert.Equal(t, want, BufCalcPageCrc32(page))
}
