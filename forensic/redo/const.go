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

// Redo log format tags stored in the file header.
// storage/innobase/include/log0log.h
const (
	// The original (not version-tagged) InnoDB redo log format.
	FORMAT_3_23 = 0
	// The MySQL 5.7.9/MariaDB 10.2.2 log format.
	FORMAT_10_2 = 1
	// The MariaDB 10.3.2 log format.
	FORMAT_10_3 = 103
	// The MariaDB 10.4.0 log format.
	FORMAT_10_4 = 104
	// The MariaDB 10.5.1 physical redo log format.
	FORMAT_10_5 = 0x50485953
	// The MariaDB 10.8.0 variable-block-size redo log format ("Phys").
	FORMAT_10_8 = 0x50687973

	// Encrypted MariaDB redo log flag, ORed into the format.
	FORMAT_ENCRYPTED = 1 << 31
)

// Fixed offsets of the 10.8 redo log file.
const (
	// file header fields
	LOG_HEADER_FORMAT    = 0
	LOG_HEADER_START_LSN = 8
	LOG_HEADER_CREATOR   = 16
	LOG_HEADER_CREATOR_END = 48
	LOG_HEADER_CRC       = 48

	// the two checkpoint blocks
	CHECKPOINT_1 = 0x1000
	CHECKPOINT_2 = 0x2000

	// checkpoint slot fields
	CHECKPOINT_LSN     = 0
	CHECKPOINT_END_LSN = 8
	CHECKPOINT_CRC     = 16

	// start of the record ring; also the smallest possible LSN in the
	// 10.8 format
	START_OFFSET = 0x3000
	FIRST_LSN    = START_OFFSET
)

// Mini-transaction framing.
const (
	// 0x00 and 0x01 terminate a chain; which one is expected depends
	// on the ring generation of the terminator's LSN.
	MTR_END_MARKER = 1

	// maximum guaranteed size of a mini-transaction
	MTR_SIZE_MAX = 1 << 20

	// space id of the system tablespace
	TRX_SYS_SPACE = 0

	// a FILE_CHECKPOINT mini-transaction on disk:
	// opcode, space id, page no, 8-byte LSN, terminator, CRC-32C
	SIZE_OF_FILE_CHECKPOINT = 1 + 2 + 8 + 1 + 4
)

// Page-level record types: the high nibble of the first record byte
// when its 0x80 bit is clear.
// storage/innobase/include/mtr0types.h
const (
	// Free a page. The next record for the page (if any) must be
	// INIT_PAGE.
	FREE_PAGE = 0x00
	// Zero-initialize a page.
	INIT_PAGE = 0x10
	// Extended record; a subtype byte follows the page identifier.
	EXTENDED = 0x20
	// Write a string of bytes: byte offset, then the bytes.
	WRITE = 0x30
	// Like WRITE, but a data length precedes the fill pattern.
	MEMSET = 0x40
	// Like MEMSET, but a signed source offset replaces the pattern.
	MEMMOVE = 0x50
	// Reserved for future use.
	RESERVED = 0x60
	// Optional record that may be ignored in crash recovery.
	OPTION = 0x70
)

// File-level record types: the high nibble when the chain carries
// file operations (0x80 bit set on the first record).
const (
	FILE_CREATE     = 0x80
	FILE_DELETE     = 0x90
	FILE_RENAME     = 0xA0
	FILE_MODIFY     = 0xB0
	FILE_CHECKPOINT = 0xF0
)

// The legacy (pre-10.8) 512-byte block framing, kept for dumping old
// log files.
// storage/innobase/include/os0file.h, log0log.h
const (
	OS_FILE_LOG_BLOCK_SIZE = 512

	LOG_BLOCK_HDR_NO         = 0
	LOG_BLOCK_HDR_DATA_LEN   = 4
	LOG_BLOCK_FIRST_REC_GROUP = 6
	LOG_BLOCK_CHECKPOINT_NO  = 8
	LOG_BLOCK_HDR_SIZE       = 12
	LOG_BLOCK_TRL_SIZE       = 4

	// the flush bit on the legacy block number
	LOG_BLOCK_FLUSH_BIT_MASK = 0x80000000

	// blocks of a legacy log start after the header block and the two
	// checkpoint blocks plus one unused block
	LEGACY_BLOCK_REGION = 4 * OS_FILE_LOG_BLOCK_SIZE
)

// OpName names a record's operation for dumps.
func OpName(op byte) string {
	switch op {
	case FREE_PAGE:
		return "FREE_PAGE"
	case INIT_PAGE:
		return "INIT_PAGE"
	case EXTENDED:
		return "EXTENDED"
	case WRITE:
		return "WRITE"
	case MEMSET:
		return "MEMSET"
	case MEMMOVE:
		return "MEMMOVE"
	case RESERVED:
		return "RESERVED"
	case OPTION:
		return "OPTION"
	case FILE_CREATE:
		return "FILE_CREATE"
	case FILE_DELETE:
		return "FILE_DELETE"
	case FILE_RENAME:
		return "FILE_RENAME"
	case FILE_MODIFY:
		return "FILE_MODIFY"
	case FILE_CHECKPOINT:
		return "FILE_CHECKPOINT"
	}
	return "UNKNOWN"
}
