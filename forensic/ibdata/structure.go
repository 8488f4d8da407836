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
	"encoding/hex"
	"fmt"

	"github.com/zbdba/innodb-forensic/forensic/utils"
)

// FilAddr is an on-disk file address: a page number and a byte offset
// within that page.
type FilAddr struct {
	Page    uint32 `json:"page"`
	Boffset uint16 `json:"boffset"`
}

// IsNull reports the (FIL_NULL, 0xFFFF) null address.
func (a FilAddr) IsNull() bool {
	return a.Page == FIL_NULL && a.Boffset == 0xFFFF
}

func (a FilAddr) String() string {
	if a.IsNull() {
		return "NULL"
	}
	return fmt.Sprintf("(%d, %d)", a.Page, a.Boffset)
}

func parseFilAddr(b []byte) FilAddr {
	return FilAddr{
		Page:    utils.MachReadFrom4(b[FIL_ADDR_PAGE:]),
		Boffset: utils.MachReadFrom2(b[FIL_ADDR_BYTE:]),
	}
}

// FlstBaseNode is the head of an on-disk doubly-linked file list.
type FlstBaseNode struct {
	Len   uint32  `json:"len"`
	First FilAddr `json:"first"`
	Last  FilAddr `json:"last"`
}

func parseFlstBaseNode(b []byte) FlstBaseNode {
	return FlstBaseNode{
		Len:   utils.MachReadFrom4(b),
		First: parseFilAddr(b[4:]),
		Last:  parseFilAddr(b[4+FIL_ADDR_SIZE:]),
	}
}

// Consistent reports whether the stored length agrees with the
// first/last pointers; an inconsistency is flagged, never fatal.
func (n FlstBaseNode) Consistent() bool {
	if n.Len == 0 {
		return n.First.IsNull() && n.Last.IsNull()
	}
	return !n.First.IsNull() && !n.Last.IsNull()
}

// FlstNode is a link of an on-disk file list.
type FlstNode struct {
	Prev FilAddr `json:"prev"`
	Next FilAddr `json:"next"`
}

func parseFlstNode(b []byte) FlstNode {
	return FlstNode{
		Prev: parseFilAddr(b),
		Next: parseFilAddr(b[FIL_ADDR_SIZE:]),
	}
}

// FsegHeader points to the inode describing a file segment.
type FsegHeader struct {
	SpaceID uint32 `json:"space_id"`
	PageNo  uint32 `json:"page_no"`
	Offset  uint16 `json:"offset"`
}

func parseFsegHeader(b []byte) FsegHeader {
	return FsegHeader{
		SpaceID: utils.MachReadFrom4(b[FSEG_HDR_SPACE:]),
		PageNo:  utils.MachReadFrom4(b[FSEG_HDR_PAGE_NO:]),
		Offset:  utils.MachReadFrom2(b[FSEG_HDR_OFFSET:]),
	}
}

// FspHeader is the file space header on page 0 of every tablespace.
type FspHeader struct {
	SpaceID       uint32       `json:"space_id"`
	NotUsed       uint32       `json:"not_used"`
	SpacePages    uint32       `json:"space_pages"`
	FreeLimit     uint32       `json:"free_limit"`
	Flags         uint32       `json:"flags"`
	FreeFragPages uint32       `json:"free_frag_pages"`
	Free          FlstBaseNode `json:"free"`
	FreeFrag      FlstBaseNode `json:"free_frag"`
	FullFrag      FlstBaseNode `json:"full_frag"`
	SegID         uint64       `json:"seg_id"`
	SegInodesFull FlstBaseNode `json:"seg_inodes_full"`
	SegInodesFree FlstBaseNode `json:"seg_inodes_free"`
}

// RsegSlot is one rollback segment directory entry on the TRX_SYS
// page; (FIL_NULL, FIL_NULL) means unused.
type RsegSlot struct {
	SpaceID uint32 `json:"space_id"`
	PageNo  uint32 `json:"page_no"`
}

// IsEmpty reports an unused slot.
func (s RsegSlot) IsEmpty() bool {
	return s.SpaceID == FIL_NULL && s.PageNo == FIL_NULL
}

// MysqlLog is a binary log coordinate persisted by InnoDB.
type MysqlLog struct {
	LogName   string `json:"log_name"`
	LogOffset uint64 `json:"log_offset"`
}

// WsrepXid is a Galera XID persisted next to the binlog coordinate.
type WsrepXid struct {
	Format   uint32 `json:"format"`
	GtridLen uint32 `json:"gtrid_len"`
	BqualLen uint32 `json:"bqual_len"`
	XidData  []byte `json:"-"`
}

func (x WsrepXid) String() string {
	return fmt.Sprintf("WsrepXid{format: %d, gtrid_len: %d, bqual_len: %d, xid: %s}",
		x.Format, x.GtridLen, x.BqualLen, hex.EncodeToString(x.XidData))
}

// Doublewrite is the doublewrite buffer descriptor on the TRX_SYS
// page. Every field after the fseg header appears twice; both copies
// must match.
type Doublewrite struct {
	Fseg         FsegHeader `json:"fseg"`
	Magic        uint32     `json:"magic"`
	Block1       uint32     `json:"block1"`
	Block2       uint32     `json:"block2"`
	MagicRepeat  uint32     `json:"magic_repeat"`
	Block1Repeat uint32     `json:"block1_repeat"`
	Block2Repeat uint32     `json:"block2_repeat"`
}

// Consistent reports whether the two copies agree.
func (d Doublewrite) Consistent() bool {
	return d.Magic == d.MagicRepeat &&
		d.Block1 == d.Block1Repeat &&
		d.Block2 == d.Block2Repeat
}

// TrxSys is the decoded transaction system header page.
type TrxSys struct {
	IDStore     uint64      `json:"id_store"`
	FsegHeader  FsegHeader  `json:"fseg_header"`
	Rsegs       []RsegSlot  `json:"rsegs"`
	WsrepXid    *WsrepXid   `json:"wsrep_xid,omitempty"`
	MysqlLog    *MysqlLog   `json:"mysql_log,omitempty"`
	Doublewrite Doublewrite `json:"doublewrite"`
}

// ActiveRsegs returns the used rollback segment slots with their slot
// numbers.
func (t *TrxSys) ActiveRsegs() map[int]RsegSlot {
	active := make(map[int]RsegSlot)
	for i, s := range t.Rsegs {
		if !s.IsEmpty() {
			active[i] = s
		}
	}
	return active
}

// TrxRseg is a decoded rollback segment header page.
type TrxRseg struct {
	Format      uint32         `json:"format"`
	HistorySize uint32         `json:"history_size"`
	History     FlstBaseNode   `json:"history"`
	FsegHeader  FsegHeader     `json:"fseg_header"`
	UndoSlots   map[int]uint32 `json:"undo_slots"`
	MaxTrxID    uint64         `json:"max_trx_id"`
	MysqlLog    *MysqlLog      `json:"mysql_log,omitempty"`
	WsrepXid    *WsrepXid      `json:"wsrep_xid,omitempty"`
}

// UndoPageHeader is the undo log page header of pages referenced from
// rollback segment slots.
type UndoPageHeader struct {
	PageType uint16   `json:"page_type"`
	Start    uint16   `json:"start"`
	Free     uint16   `json:"free"`
	Node     FlstNode `json:"node"`
}
