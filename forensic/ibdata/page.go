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
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zbdba/innodb-forensic/forensic/utils"
)

// ErrPageTooShort reports a buffer whose size is not the page size of
// the tablespace.
var ErrPageTooShort = errors.New("page buffer does not match the page size")

// ErrUnexpectedPageType reports a page whose FIL_PAGE_TYPE does not
// match what the caller asked to decode.
var ErrUnexpectedPageType = errors.New("unexpected page type")

// ChecksumMismatchError is advisory: the page header is still decoded
// and returned alongside it so corrupt pages can be inspected.
type ChecksumMismatchError struct {
	Expected uint32
	Found    uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("page checksum mismatch: expected 0x%08x, found 0x%08x",
		e.Expected, e.Found)
}

// PageClass is the coarse classification of FIL_PAGE_TYPE.
type PageClass int

const (
	ClassAllocated PageClass = iota
	ClassFspHdr
	ClassTrxSys
	ClassSys
	ClassIndex
	ClassUndo
	ClassInode
	ClassFreeList
	ClassXDes
	ClassBlob
	ClassOther
)

func (c PageClass) String() string {
	switch c {
	case ClassAllocated:
		return "ALLOCATED"
	case ClassFspHdr:
		return "FSP_HDR"
	case ClassTrxSys:
		return "TRX_SYS"
	case ClassSys:
		return "SYS"
	case ClassIndex:
		return "INDEX"
	case ClassUndo:
		return "UNDO"
	case ClassInode:
		return "INODE"
	case ClassFreeList:
		return "IBUF_FREE_LIST"
	case ClassXDes:
		return "XDES"
	case ClassBlob:
		return "BLOB"
	}
	return "OTHER"
}

// ClassifyPageType maps a raw FIL_PAGE_TYPE to its class. The
// full_crc32 compression marker bit is not masked off, so a type
// carrying it classifies as ClassOther.
func ClassifyPageType(t uint16) PageClass {
	switch t {
	case FIL_PAGE_TYPE_ALLOCATED:
		return ClassAllocated
	case FIL_PAGE_TYPE_FSP_HDR:
		return ClassFspHdr
	case FIL_PAGE_TYPE_TRX_SYS:
		return ClassTrxSys
	case FIL_PAGE_TYPE_SYS:
		return ClassSys
	case FIL_PAGE_INDEX, FIL_PAGE_RTREE, FIL_PAGE_TYPE_INSTANT:
		return ClassIndex
	case FIL_PAGE_UNDO_LOG:
		return ClassUndo
	case FIL_PAGE_INODE:
		return ClassInode
	case FIL_PAGE_IBUF_FREE_LIST:
		return ClassFreeList
	case FIL_PAGE_TYPE_XDES:
		return ClassXDes
	case FIL_PAGE_TYPE_BLOB, FIL_PAGE_TYPE_ZBLOB, FIL_PAGE_TYPE_ZBLOB2:
		return ClassBlob
	}
	return ClassOther
}

// PageBuf is a decoded FIL header over a borrowed page image. The
// decoder never copies the page.
type PageBuf struct {
	SpaceID  uint32 `json:"space_id"`
	PageNo   uint32 `json:"page_no"`
	PrevPage uint32 `json:"prev_page"`
	NextPage uint32 `json:"next_page"`
	PageLsn  uint64 `json:"page_lsn"`
	PageType uint16 `json:"page_type"`

	// legacy checksum slot, or the encryption key version under
	// full_crc32.
	HeadChecksum uint32 `json:"head_checksum"`
	FootChecksum uint32 `json:"foot_checksum"`
	FootLsn      uint32 `json:"foot_lsn"`

	Flags uint32 `json:"flags"`

	buf []byte
}

// ParsePage decodes the FIL header and trailer of one page and
// verifies the checksum under the scheme the tablespace flags select.
// A *ChecksumMismatchError is returned together with the decoded page;
// every other error comes without one.
func ParsePage(buf []byte, flags uint32) (*PageBuf, error) {
	size := LogicalSize(flags)
	if size == 0 {
		size = UNIV_PAGE_SIZE_ORIG
	}
	if len(buf) != size {
		return nil, errors.Wrapf(ErrPageTooShort, "ParsePage: got %d bytes, page size %d",
			len(buf), size)
	}

	p := &PageBuf{
		HeadChecksum: utils.MachReadFrom4(buf[FIL_PAGE_SPACE_OR_CHKSUM:]),
		PageNo:       utils.MachReadFrom4(buf[FIL_PAGE_OFFSET:]),
		PrevPage:     utils.MachReadFrom4(buf[FIL_PAGE_PREV:]),
		NextPage:     utils.MachReadFrom4(buf[FIL_PAGE_NEXT:]),
		PageLsn:      utils.MachReadFrom8(buf[FIL_PAGE_LSN:]),
		PageType:     utils.MachReadFrom2(buf[FIL_PAGE_TYPE:]),
		SpaceID:      utils.MachReadFrom4(buf[FIL_PAGE_SPACE_ID:]),
		FootLsn:      utils.MachReadFrom4(buf[len(buf)-FIL_PAGE_FCRC32_END_LSN:]),
		FootChecksum: utils.MachReadFrom4(buf[len(buf)-FIL_PAGE_FCRC32_CHECKSUM:]),
		Flags:        flags,
		buf:          buf,
	}

	return p, p.verifyChecksum()
}

// Buf exposes the borrowed page image.
func (p *PageBuf) Buf() []byte {
	return p.buf
}

// PageSize is the size of the underlying image.
func (p *PageBuf) PageSize() int {
	return len(p.buf)
}

// Class is the page type classification.
func (p *PageBuf) Class() PageClass {
	t := p.PageType
	if FullCrc32(p.Flags) && t&(1<<FIL_PAGE_COMPRESS_FCRC32_MARKER) != 0 {
		return ClassOther
	}
	return ClassifyPageType(t)
}

func (p *PageBuf) verifyChecksum() error {
	if FullCrc32(p.Flags) {
		size, _, corrupted := p.FullCrc32Size()
		if corrupted {
			return &ChecksumMismatchError{Expected: 0, Found: p.FootChecksum}
		}

		stored := utils.MachReadFrom4(p.buf[size-FIL_PAGE_FCRC32_CHECKSUM:])

		// a page full of NUL bytes carries no checksum and is fine
		if stored == 0 && size == len(p.buf) && allZero(p.buf) {
			return nil
		}

		if want := utils.Crc32c(p.buf[:size-FIL_PAGE_FCRC32_CHECKSUM]); want != stored {
			return &ChecksumMismatchError{Expected: want, Found: stored}
		}
		return nil
	}

	// Legacy scheme: two checksum fields bracket the page. Zip pages
	// carry their own scheme and are not verified here.
	if ZipSize(p.Flags) != 0 {
		return nil
	}

	field1 := p.HeadChecksum
	field2 := utils.MachReadFrom4(p.buf[len(p.buf)-FIL_PAGE_DATA_END:])

	if field1 == 0 && field2 == 0 && allZero(p.buf) {
		return nil
	}

	crc := utils.BufCalcPageCrc32(p.buf)
	if field1 == crc && field2 == crc {
		return nil
	}

	// very old pages stored the legacy non-reflected variant
	if legacy := utils.InnodbCrc32Legacy(p.buf[4:26]); field1 == legacy {
		return nil
	}

	return &ChecksumMismatchError{Expected: crc, Found: field1}
}

// FullCrc32Size returns the payload size of a full_crc32 page, whether
// it is page_compressed, and whether the size marker itself is
// corrupt.
func (p *PageBuf) FullCrc32Size() (size int, compressed, corrupted bool) {
	size = len(p.buf)
	t := uint32(p.PageType)
	if t&(1<<FIL_PAGE_COMPRESS_FCRC32_MARKER) == 0 {
		return size, false, false
	}

	t &^= 1 << FIL_PAGE_COMPRESS_FCRC32_MARKER
	t <<= 8
	if int(t) < size {
		return int(t), true, false
	}
	return size, false, true
}

// DecompressPayload inflates the page_compressed payload of a
// full_crc32 page using the algorithm from the tablespace flags. The
// stream length is taken from the FIL_PAGE_COMP_SIZE metadata word,
// since the page-type marker only carries it at 256-byte granularity.
// Only the LZ4 and snappy algorithms are wired; the rest are reported
// as unsupported.
func (p *PageBuf) DecompressPayload() ([]byte, error) {
	size, compressed, corrupted := p.FullCrc32Size()
	if corrupted {
		return nil, errors.Errorf("DecompressPayload: corrupt compressed size marker 0x%04x", p.PageType)
	}
	if !compressed {
		return nil, errors.New("DecompressPayload: page is not page_compressed")
	}

	window := p.buf[FIL_PAGE_DATA : size-FIL_PAGE_FCRC32_CHECKSUM]
	streamLen := int(utils.MachReadFrom2(window[FIL_PAGE_COMP_SIZE:]))
	if FIL_PAGE_COMP_METADATA_LEN+streamLen > len(window) {
		return nil, errors.Errorf(
			"DecompressPayload: stream of %d bytes exceeds the %d-byte window",
			streamLen, len(window))
	}
	src := window[FIL_PAGE_COMP_METADATA_LEN : FIL_PAGE_COMP_METADATA_LEN+streamLen]
	dst := make([]byte, len(p.buf)-FIL_PAGE_DATA)

	switch algo := CompressedAlgo(p.Flags); algo {
	case PAGE_LZ4_ALGORITHM:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, errors.Wrap(err, "DecompressPayload: lz4")
		}
		return dst[:n], nil
	case PAGE_SNAPPY_ALGORITHM:
		out, err := snappy.Decode(dst, src)
		if err != nil {
			return nil, errors.Wrap(err, "DecompressPayload: snappy")
		}
		return out, nil
	default:
		return nil, errors.Errorf("DecompressPayload: algorithm %d not supported", algo)
	}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
