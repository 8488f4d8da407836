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

package ibdata

import (
	"testing"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbdba/innodb-forensic/forensic/utils"
)

// the full_crc32 system tablespace flags used throughout the tests:
// PAGE_SSIZE=5 (16k) with the format marker.
const testFlags = uint32(0x15)

const testPageSize = 16384

// newTestPage builds an empty page image with a framed FIL header.
func newTestPage(spaceID, pageNo uint32, pageType uint16) []byte {
	buf := make([]byte, testPageSize)
	utils.MachWriteTo4(buf[FIL_PAGE_OFFSET:], pageNo)
	utils.MachWriteTo4(buf[FIL_PAGE_PREV:], FIL_NULL)
	utils.MachWriteTo4(buf[FIL_PAGE_NEXT:], FIL_NULL)
	utils.MachWriteTo8(buf[FIL_PAGE_LSN:], 0x2ED55)
	utils.MachWriteTo2(buf[FIL_PAGE_TYPE:], pageType)
	utils.MachWriteTo4(buf[FIL_PAGE_SPACE_ID:], spaceID)
	return buf
}

// sealPage writes the full_crc32 trailer.
func sealPage(buf []byte) []byte {
	utils.MachWriteTo4(buf[len(buf)-FIL_PAGE_FCRC32_END_LSN:], uint32(0x2ED55))
	utils.MachWriteTo4(buf[len(buf)-FIL_PAGE_FCRC32_CHECKSUM:],
		utils.Crc32c(buf[:len(buf)-FIL_PAGE_FCRC32_CHECKSUM]))
	return buf
}

func TestParsePageFullCrc32(t *testing.T) {
	buf := sealPage(newTestPage(0, 5, FIL_PAGE_TYPE_TRX_SYS))

	page, err := ParsePage(buf, testFlags)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), page.SpaceID)
	assert.Equal(t, uint32(5), page.PageNo)
	assert.Equal(t, uint32(FIL_NULL), page.PrevPage)
	assert.Equal(t, uint32(FIL_NULL), page.NextPage)
	assert.Equal(t, uint64(0x2ED55), page.PageLsn)
	assert.Equal(t, ClassTrxSys, page.Class())
}

func TestParsePageChecksumAdvisory(t *testing.T) {
	buf := sealPage(newTestPage(0, 3, FIL_PAGE_UNDO_LOG))
	buf[4096] ^= 0xff

	page, err := ParsePage(buf, testFlags)
	require.Error(t, err)

	var mismatch *ChecksumMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.NotEqual(t, mismatch.Expected, mismatch.Found)

	// the header is still decoded for forensic use
	require.NotNil(t, page)
	assert.Equal(t, uint32(3), page.PageNo)
	assert.Equal(t, ClassUndo, page.Class())
}

func TestParsePageAllZeroIsClean(t *testing.T) {
	page, err := ParsePage(make([]byte, testPageSize), testFlags)
	require.NoError(t, err)
	assert.Equal(t, ClassAllocated, page.Class())
}

func TestParsePageWrongSize(t *testing.T) {
	_, err := ParsePage(make([]byte, 512), testFlags)
	assert.True(t, errors.Is(err, ErrPageTooShort))
}

func TestParsePageLegacyChecksum(t *testing.T) {
	buf := newTestPage(7, 1, FIL_PAGE_INDEX)
	crc := utils.BufCalcPageCrc32(buf)
	utils.MachWriteTo4(buf[FIL_PAGE_SPACE_OR_CHKSUM:], crc)
	utils.MachWriteTo4(buf[len(buf)-FIL_PAGE_DATA_END:], crc)

	page, err := ParsePage(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, ClassIndex, page.Class())

	buf[5000] ^= 0x01
	_, err = ParsePage(buf, 0)
	var mismatch *ChecksumMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestClassifyPageType(t *testing.T) {
	assert.Equal(t, ClassFspHdr, ClassifyPageType(FIL_PAGE_TYPE_FSP_HDR))
	assert.Equal(t, ClassXDes, ClassifyPageType(FIL_PAGE_TYPE_XDES))
	assert.Equal(t, ClassIndex, ClassifyPageType(FIL_PAGE_RTREE))
	assert.Equal(t, ClassInode, ClassifyPageType(FIL_PAGE_INODE))
	assert.Equal(t, ClassFreeList, ClassifyPageType(FIL_PAGE_IBUF_FREE_LIST))
	assert.Equal(t, ClassBlob, ClassifyPageType(FIL_PAGE_TYPE_ZBLOB2))
	assert.Equal(t, ClassOther, ClassifyPageType(12345))
	assert.Equal(t, "FSP_HDR", ClassFspHdr.String())
}

// newCompressedPage packs stream into a page_compressed image:
// 2-byte stream length, the stream, padding to a 256-byte boundary,
// then the trailer checksum.
func newCompressedPage(t *testing.T, stream []byte) []byte {
	t.Helper()

	storedSize := (FIL_PAGE_DATA + FIL_PAGE_COMP_METADATA_LEN + len(stream) +
		FIL_PAGE_FCRC32_CHECKSUM + 255) &^ 255
	require.LessOrEqual(t, storedSize, testPageSize)

	buf := newTestPage(1, 4, 0)
	utils.MachWriteTo2(buf[FIL_PAGE_TYPE:],
		uint16(1<<FIL_PAGE_COMPRESS_FCRC32_MARKER|storedSize>>8))
	utils.MachWriteTo2(buf[FIL_PAGE_DATA:], uint16(len(stream)))
	copy(buf[FIL_PAGE_DATA+FIL_PAGE_COMP_METADATA_LEN:], stream)
	utils.MachWriteTo4(buf[storedSize-FIL_PAGE_FCRC32_CHECKSUM:],
		utils.Crc32c(buf[:storedSize-FIL_PAGE_FCRC32_CHECKSUM]))
	return buf
}

func TestDecompressPayloadLz4(t *testing.T) {
	raw := make([]byte, 2048)
	for i := range raw {
		raw[i] = byte(i / 64)
	}

	comp := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, comp)
	require.NoError(t, err)
	require.NotZero(t, n)

	flags := testFlags | uint32(PAGE_LZ4_ALGORITHM)<<FSP_FLAGS_FCRC32_POS_COMPRESSED_ALGO
	page, err := ParsePage(newCompressedPage(t, comp[:n]), flags)
	require.NoError(t, err)

	out, err := page.DecompressPayload()
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecompressPayloadSnappy(t *testing.T) {
	raw := []byte("page image page image page image page image")
	stream := snappy.Encode(nil, raw)

	flags := testFlags | uint32(PAGE_SNAPPY_ALGORITHM)<<FSP_FLAGS_FCRC32_POS_COMPRESSED_ALGO
	page, err := ParsePage(newCompressedPage(t, stream), flags)
	require.NoError(t, err)

	out, err := page.DecompressPayload()
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecompressPayloadUnsupportedAlgo(t *testing.T) {
	flags := testFlags | uint32(PAGE_ZLIB_ALGORITHM)<<FSP_FLAGS_FCRC32_POS_COMPRESSED_ALGO
	page, err := ParsePage(newCompressedPage(t, []byte{0x01, 0x02}), flags)
	require.NoError(t, err)

	_, err = page.DecompressPayload()
	assert.Error(t, err)
}

func TestDecompressPayloadNotCompressed(t *testing.T) {
	page, err := ParsePage(sealPage(newTestPage(1, 4, 0)), testFlags)
	require.NoError(t, err)
	_, err = page.DecompressPayload()
	assert.Error(t, err)
}

func TestFullCrc32SizeMarker(t *testing.T) {
	buf := newTestPage(1, 2, 0)
	// compressed size 0x10 << 8 = 4096 bytes, marker bit set
	utils.MachWriteTo2(buf[FIL_PAGE_TYPE:], 1<<FIL_PAGE_COMPRESS_FCRC32_MARKER|0x10)
	utils.MachWriteTo4(buf[4096-FIL_PAGE_FCRC32_CHECKSUM:],
		utils.Crc32c(buf[:4096-FIL_PAGE_FCRC32_CHECKSUM]))

	page, err := ParsePage(buf, testFlags)
	require.NoError(t, err)

	size, compressed, corrupted := page.FullCrc32Size()
	assert.Equal(t, 4096, size)
	assert.True(t, compressed)
	assert.False(t, corrupted)
}
