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

// The byte offsets on a file page.
// storage/innobase/include/fil0fil.h
const (
	// checksum in legacy tablespaces; encryption key version in
	// full_crc32 tablespaces.
	FIL_PAGE_SPACE_OR_CHKSUM = 0

	// page offset inside space.
	FIL_PAGE_OFFSET = 4

	// offset of the 'natural' predecessor, or FIL_NULL.
	FIL_PAGE_PREV = 8

	// offset of the 'natural' successor, or FIL_NULL.
	FIL_PAGE_NEXT = 12

	// lsn of the end of the newest modification log record to the page.
	FIL_PAGE_LSN = 16

	// file page type, 2 bytes.
	FIL_PAGE_TYPE = 24

	// flush lsn on the first system tablespace page, key version +
	// checksum elsewhere (pre-full_crc32).
	FIL_PAGE_FILE_FLUSH_LSN_OR_KEY_VERSION = 26

	// space id of the page, starting from 4.1.x.
	FIL_PAGE_SPACE_ID = 34

	// start of the data on the page.
	FIL_PAGE_DATA = 38

	// size of the legacy page trailer (4-byte old checksum + 4-byte
	// low word of FIL_PAGE_LSN).
	FIL_PAGE_DATA_END = 8

	// full_crc32 trailer: low word of FIL_PAGE_LSN, then the checksum.
	FIL_PAGE_FCRC32_END_LSN  = 8
	FIL_PAGE_FCRC32_CHECKSUM = 4

	// bit set in FIL_PAGE_TYPE of full_crc32 page_compressed pages;
	// the low byte then carries the compressed size in 256-byte units.
	FIL_PAGE_COMPRESS_FCRC32_MARKER = 15

	// the exact compressed stream size stored at the start of the
	// payload of page_compressed pages.
	FIL_PAGE_COMP_SIZE         = 0
	FIL_PAGE_COMP_METADATA_LEN = 2
)

// 'null' (undefined) page offset in the context of file spaces.
const FIL_NULL = 0xFFFFFFFF

// File page types (values of FIL_PAGE_TYPE).
const (
	FIL_PAGE_TYPE_ALLOCATED = 0
	FIL_PAGE_UNDO_LOG       = 2
	FIL_PAGE_INODE          = 3
	FIL_PAGE_IBUF_FREE_LIST = 4
	FIL_PAGE_IBUF_BITMAP    = 5
	FIL_PAGE_TYPE_SYS       = 6
	FIL_PAGE_TYPE_TRX_SYS   = 7
	FIL_PAGE_TYPE_FSP_HDR   = 8
	FIL_PAGE_TYPE_XDES      = 9
	FIL_PAGE_TYPE_BLOB      = 10
	FIL_PAGE_TYPE_ZBLOB     = 11
	FIL_PAGE_TYPE_ZBLOB2    = 12
	FIL_PAGE_TYPE_UNKNOWN   = 13
	FIL_PAGE_TYPE_INSTANT   = 18
	FIL_PAGE_RTREE          = 17854
	FIL_PAGE_INDEX          = 17855
)

// fil_addr_t layout.
const (
	FIL_ADDR_PAGE = 0 // page offset
	FIL_ADDR_BYTE = 4 // byte offset within page
	FIL_ADDR_SIZE = 6
)

// File list node sizes (fut0lst.h).
const (
	FLST_BASE_NODE_SIZE = 4 + 2*FIL_ADDR_SIZE
	FLST_NODE_SIZE      = 2 * FIL_ADDR_SIZE
)

// File segment header (fsp0types.h).
const (
	FSEG_HDR_SPACE   = 0
	FSEG_HDR_PAGE_NO = 4
	FSEG_HDR_OFFSET  = 8
	FSEG_HEADER_SIZE = 10

	FSEG_PAGE_DATA = FIL_PAGE_DATA
)

// Fixed page numbers in the system tablespace (fsp0types.h).
const (
	FSP_XDES_OFFSET            = 0
	FSP_FIRST_INODE_PAGE_NO    = 2
	FSP_IBUF_HEADER_PAGE_NO    = 3
	FSP_IBUF_TREE_ROOT_PAGE_NO = 4
	FSP_TRX_SYS_PAGE_NO        = 5
	FSP_FIRST_RSEG_PAGE_NO     = 6
	FSP_DICT_HDR_PAGE_NO       = 7
)

// All persistent tablespaces have a smaller space id than this.
const SRV_SPACE_ID_UPPER_BOUND = 0xFFFFFFF0

// The FSP header (fsp0fsp.h), relative to FSP_HEADER_OFFSET.
const (
	FSP_HEADER_OFFSET = FIL_PAGE_DATA

	FSP_SPACE_ID        = 0
	FSP_NOT_USED        = 4
	FSP_SIZE            = 8
	FSP_FREE_LIMIT      = 12
	FSP_SPACE_FLAGS     = 16
	FSP_FRAG_N_USED     = 20
	FSP_FREE            = 24
	FSP_FREE_FRAG       = 24 + FLST_BASE_NODE_SIZE
	FSP_FULL_FRAG       = 24 + 2*FLST_BASE_NODE_SIZE
	FSP_SEG_ID          = 24 + 3*FLST_BASE_NODE_SIZE
	FSP_SEG_INODES_FULL = 32 + 3*FLST_BASE_NODE_SIZE
	FSP_SEG_INODES_FREE = 32 + 4*FLST_BASE_NODE_SIZE

	FSP_HEADER_SIZE = 32 + 5*FLST_BASE_NODE_SIZE
)

// The transaction system header page (trx0sys.h), relative to
// FSEG_PAGE_DATA.
const (
	TRX_SYS_TRX_ID_STORE = 0
	TRX_SYS_FSEG_HEADER  = 8
	TRX_SYS_RSEGS        = 8 + FSEG_HEADER_SIZE

	TRX_SYS_RSEG_SPACE     = 0
	TRX_SYS_RSEG_PAGE_NO   = 4
	TRX_SYS_RSEG_SLOT_SIZE = 8

	TRX_SYS_N_RSEGS = 128

	// MySQL binlog coordinate block, at page_size - 1000 (absolute).
	TRX_SYS_MYSQL_LOG_INFO_END    = 1000
	TRX_SYS_MYSQL_LOG_MAGIC_N_FLD = 0
	TRX_SYS_MYSQL_LOG_OFFSET      = 4
	TRX_SYS_MYSQL_LOG_NAME        = 12
	TRX_SYS_MYSQL_LOG_NAME_LEN    = 512
	TRX_SYS_MYSQL_LOG_MAGIC_N     = 873422344

	// WSREP XID block, at max(page_size-3500, 1596) (absolute).
	TRX_SYS_WSREP_XID_MAGIC_N_FLD = 0
	TRX_SYS_WSREP_XID_MAGIC_N     = 0x77737265
	TRX_SYS_WSREP_XID_FORMAT      = 4
	TRX_SYS_WSREP_XID_GTRID_LEN   = 8
	TRX_SYS_WSREP_XID_BQUAL_LEN   = 12
	TRX_SYS_WSREP_XID_DATA        = 16

	XIDDATASIZE = 128

	TRX_SYS_WSREP_XID_LEN = TRX_SYS_WSREP_XID_DATA + XIDDATASIZE

	// Doublewrite descriptor, at page_size - 200 (absolute).
	TRX_SYS_DOUBLEWRITE_END     = 200
	TRX_SYS_DOUBLEWRITE_FSEG    = 0
	TRX_SYS_DOUBLEWRITE_MAGIC   = FSEG_HEADER_SIZE
	TRX_SYS_DOUBLEWRITE_BLOCK1  = FSEG_HEADER_SIZE + 4
	TRX_SYS_DOUBLEWRITE_BLOCK2  = FSEG_HEADER_SIZE + 8
	TRX_SYS_DOUBLEWRITE_REPEAT  = FSEG_HEADER_SIZE + 12
	TRX_SYS_DOUBLEWRITE_MAGIC_N = 536853297
)

// The rollback segment header page (trx0rseg.h), relative to
// FSEG_PAGE_DATA.
const (
	TRX_RSEG_FORMAT       = 0
	TRX_RSEG_HISTORY_SIZE = 4
	TRX_RSEG_HISTORY      = 8
	TRX_RSEG_FSEG_HEADER  = 8 + FLST_BASE_NODE_SIZE
	TRX_RSEG_UNDO_SLOTS   = 8 + FLST_BASE_NODE_SIZE + FSEG_HEADER_SIZE

	TRX_RSEG_SLOT_SIZE = 4

	// relative to the max_trx_id field
	TRX_RSEG_BINLOG_OFFSET      = 8
	TRX_RSEG_BINLOG_NAME_OFFSET = 16
	TRX_RSEG_BINLOG_NAME_LEN    = 512
	TRX_RSEG_WSREP_XID_INFO     = 16 + 512
	TRX_RSEG_WSREP_XID_FORMAT   = TRX_RSEG_WSREP_XID_INFO
	TRX_RSEG_WSREP_XID_GTRID    = TRX_RSEG_WSREP_XID_INFO + 4
	TRX_RSEG_WSREP_XID_BQUAL    = TRX_RSEG_WSREP_XID_INFO + 8
	TRX_RSEG_WSREP_XID_DATA     = TRX_RSEG_WSREP_XID_INFO + 12
	TRX_RSEG_WSREP_XID_LEN      = TRX_RSEG_WSREP_XID_DATA - TRX_RSEG_WSREP_XID_INFO + XIDDATASIZE
)

// The undo log page header (trx0undo.h), relative to FSEG_PAGE_DATA.
const (
	TRX_UNDO_PAGE_TYPE  = 0
	TRX_UNDO_PAGE_START = 2
	TRX_UNDO_PAGE_FREE  = 4
	TRX_UNDO_PAGE_NODE  = 6

	TRX_UNDO_PAGE_HDR_SIZE = 6 + FLST_NODE_SIZE
)

// TrxRsegNSlots is the number of undo log slots in a rollback segment
// header; half of them may hold active transactions.
func TrxRsegNSlots(pageSize int) int {
	return pageSize / 16
}

// TrxRsegMaxTrxIDOffset is the offset of the max_trx_id field,
// relative to FSEG_PAGE_DATA.
func TrxRsegMaxTrxIDOffset(pageSize int) int {
	return TRX_RSEG_UNDO_SLOTS + TrxRsegNSlots(pageSize)*TRX_RSEG_SLOT_SIZE
}

// TrxSysWsrepXidInfo is the absolute page offset of the WSREP XID
// block on the TRX_SYS page.
func TrxSysWsrepXidInfo(pageSize int) int {
	if pageSize-3500 > 1596 {
		return pageSize - 3500
	}
	return 1596
}
