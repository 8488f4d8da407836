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
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/zbdba/innodb-forensic/forensic/logs"
	"github.com/zbdba/innodb-forensic/forensic/utils"
)

// ErrInvalidMagic reports a structure whose magic field does not carry
// the expected value.
var ErrInvalidMagic = errors.New("invalid magic")

// ErrOutOfRange reports a structure that does not fit in its page.
var ErrOutOfRange = errors.New("structure out of page range")

// Parse decodes the pages of interest of one tablespace. It holds no
// state beyond what the first page determines.
type Parse struct {
	PageSize int
	Flags    uint32

	// Diagnostics collects non-fatal findings (checksum mismatches,
	// inconsistent list heads, magic disagreements) for the caller.
	Diagnostics []string
}

func NewParse() *Parse {
	return &Parse{}
}

func (p *Parse) diag(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.Diagnostics = append(p.Diagnostics, msg)
	logs.Warn(msg)
}

// Tablespace is an open tablespace file plus the geometry read from
// its first page.
type Tablespace struct {
	Path     string
	SpaceID  uint32
	Flags    uint32
	PageSize int
	Pages    uint32

	file *os.File
}

// OpenTablespace opens path read-only and reads the geometry from
// page 0. The FIL space id and the FSP header space id must agree.
func OpenTablespace(path string) (*Tablespace, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "OpenTablespace: %s", path)
	}

	head := make([]byte, FSP_HEADER_OFFSET+FSP_HEADER_SIZE)
	if _, err := file.ReadAt(head, 0); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "OpenTablespace: read first page of %s", path)
	}

	filSpaceID := utils.MachReadFrom4(head[FIL_PAGE_SPACE_ID:])
	fspSpaceID := utils.MachReadFrom4(head[FSP_HEADER_OFFSET+FSP_SPACE_ID:])
	flags := utils.MachReadFrom4(head[FSP_HEADER_OFFSET+FSP_SPACE_FLAGS:])

	if filSpaceID != fspSpaceID {
		file.Close()
		return nil, errors.Errorf(
			"OpenTablespace: inconsistent space id, FIL header %d vs FSP header %d",
			filSpaceID, fspSpaceID)
	}
	if filSpaceID >= SRV_SPACE_ID_UPPER_BOUND {
		file.Close()
		return nil, errors.Errorf("OpenTablespace: bad space id %d", filSpaceID)
	}
	if !IsValidFlags(flags, filSpaceID != 0, UNIV_PAGE_SIZE_ORIG) {
		file.Close()
		return nil, errors.Errorf("OpenTablespace: invalid tablespace flags 0x%x", flags)
	}

	pageSize := LogicalSize(flags)
	if pageSize == 0 {
		pageSize = UNIV_PAGE_SIZE_ORIG
	}

	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "OpenTablespace: stat")
	}
	if st.Size()%int64(pageSize) != 0 {
		file.Close()
		return nil, errors.Errorf(
			"OpenTablespace: file size %d is not a multiple of page size %d",
			st.Size(), pageSize)
	}

	return &Tablespace{
		Path:     path,
		SpaceID:  filSpaceID,
		Flags:    flags,
		PageSize: pageSize,
		Pages:    uint32(st.Size() / int64(pageSize)),
		file:     file,
	}, nil
}

func (t *Tablespace) Close() error {
	return t.file.Close()
}

// ReadPage reads and frames one page. Like ParsePage, it returns a
// *ChecksumMismatchError together with the decoded page; any other
// error comes without one.
func (t *Tablespace) ReadPage(pageNo uint32) (*PageBuf, error) {
	if pageNo >= t.Pages {
		return nil, errors.Wrapf(ErrOutOfRange,
			"ReadPage: page %d of %d in %s", pageNo, t.Pages, t.Path)
	}
	buf := make([]byte, t.PageSize)
	if _, err := t.file.ReadAt(buf, int64(pageNo)*int64(t.PageSize)); err != nil {
		return nil, errors.Wrapf(err, "ReadPage: page %d of %s", pageNo, t.Path)
	}
	return ParsePage(buf, t.Flags)
}

// ParseFspHeader decodes the file space header of page 0.
func (p *Parse) ParseFspHeader(page *PageBuf) (*FspHeader, error) {
	if page.Class() != ClassFspHdr {
		return nil, errors.Wrapf(ErrUnexpectedPageType,
			"ParseFspHeader: page %d has type %d", page.PageNo, page.PageType)
	}

	b := page.Buf()[FSP_HEADER_OFFSET:]
	h := &FspHeader{
		SpaceID:       utils.MachReadFrom4(b[FSP_SPACE_ID:]),
		NotUsed:       utils.MachReadFrom4(b[FSP_NOT_USED:]),
		SpacePages:    utils.MachReadFrom4(b[FSP_SIZE:]),
		FreeLimit:     utils.MachReadFrom4(b[FSP_FREE_LIMIT:]),
		Flags:         utils.MachReadFrom4(b[FSP_SPACE_FLAGS:]),
		FreeFragPages: utils.MachReadFrom4(b[FSP_FRAG_N_USED:]),
		Free:          parseFlstBaseNode(b[FSP_FREE:]),
		FreeFrag:      parseFlstBaseNode(b[FSP_FREE_FRAG:]),
		FullFrag:      parseFlstBaseNode(b[FSP_FULL_FRAG:]),
		SegID:         utils.MachReadFrom8(b[FSP_SEG_ID:]),
		SegInodesFull: parseFlstBaseNode(b[FSP_SEG_INODES_FULL:]),
		SegInodesFree: parseFlstBaseNode(b[FSP_SEG_INODES_FREE:]),
	}

	if h.Flags != page.Flags {
		p.diag("ParseFspHeader: FSP flags 0x%x disagree with file flags 0x%x",
			h.Flags, page.Flags)
	}
	p.checkList("FSP_FREE", h.Free)
	p.checkList("FSP_FREE_FRAG", h.FreeFrag)
	p.checkList("FSP_FULL_FRAG", h.FullFrag)
	p.checkList("FSP_SEG_INODES_FULL", h.SegInodesFull)
	p.checkList("FSP_SEG_INODES_FREE", h.SegInodesFree)

	return h, nil
}

func (p *Parse) checkList(where string, n FlstBaseNode) {
	if !n.Consistent() {
		p.diag("%s: list head inconsistent, len %d but first %s last %s",
			where, n.Len, n.First, n.Last)
	}
}

// ParseTrxSys decodes the transaction system header page (page 5 of
// the system tablespace).
func (p *Parse) ParseTrxSys(page *PageBuf) (*TrxSys, error) {
	if page.Class() != ClassTrxSys {
		return nil, errors.Wrapf(ErrUnexpectedPageType,
			"ParseTrxSys: page %d has type %d", page.PageNo, page.PageType)
	}

	buf := page.Buf()
	pageSize := page.PageSize()
	b := buf[FSEG_PAGE_DATA:]

	t := &TrxSys{
		IDStore:    utils.MachReadFrom8(b[TRX_SYS_TRX_ID_STORE:]),
		FsegHeader: parseFsegHeader(b[TRX_SYS_FSEG_HEADER:]),
	}

	for i := 0; i < TRX_SYS_N_RSEGS; i++ {
		slot := b[TRX_SYS_RSEGS+i*TRX_SYS_RSEG_SLOT_SIZE:]
		t.Rsegs = append(t.Rsegs, RsegSlot{
			SpaceID: utils.MachReadFrom4(slot[TRX_SYS_RSEG_SPACE:]),
			PageNo:  utils.MachReadFrom4(slot[TRX_SYS_RSEG_PAGE_NO:]),
		})
	}

	// WSREP XID block, present iff the magic matches.
	wsrep := buf[TrxSysWsrepXidInfo(pageSize):]
	if utils.MachReadFrom4(wsrep[TRX_SYS_WSREP_XID_MAGIC_N_FLD:]) == TRX_SYS_WSREP_XID_MAGIC_N {
		t.WsrepXid = parseWsrepXid(wsrep[TRX_SYS_WSREP_XID_FORMAT:])
	}

	// MySQL binlog coordinate, present iff the magic matches.
	mlog := buf[pageSize-TRX_SYS_MYSQL_LOG_INFO_END:]
	if utils.MachReadFrom4(mlog[TRX_SYS_MYSQL_LOG_MAGIC_N_FLD:]) == TRX_SYS_MYSQL_LOG_MAGIC_N {
		t.MysqlLog = parseMysqlLog(mlog)
	}

	dblwr := buf[pageSize-TRX_SYS_DOUBLEWRITE_END:]
	t.Doublewrite = Doublewrite{
		Fseg:         parseFsegHeader(dblwr[TRX_SYS_DOUBLEWRITE_FSEG:]),
		Magic:        utils.MachReadFrom4(dblwr[TRX_SYS_DOUBLEWRITE_MAGIC:]),
		Block1:       utils.MachReadFrom4(dblwr[TRX_SYS_DOUBLEWRITE_BLOCK1:]),
		Block2:       utils.MachReadFrom4(dblwr[TRX_SYS_DOUBLEWRITE_BLOCK2:]),
		MagicRepeat:  utils.MachReadFrom4(dblwr[TRX_SYS_DOUBLEWRITE_REPEAT:]),
		Block1Repeat: utils.MachReadFrom4(dblwr[TRX_SYS_DOUBLEWRITE_REPEAT+4:]),
		Block2Repeat: utils.MachReadFrom4(dblwr[TRX_SYS_DOUBLEWRITE_REPEAT+8:]),
	}
	if t.Doublewrite.Magic != TRX_SYS_DOUBLEWRITE_MAGIC_N {
		p.diag("ParseTrxSys: doublewrite magic 0x%x, want 0x%x",
			t.Doublewrite.Magic, uint32(TRX_SYS_DOUBLEWRITE_MAGIC_N))
	}
	if !t.Doublewrite.Consistent() {
		p.diag("ParseTrxSys: doublewrite copies disagree: (0x%x,%d,%d) vs (0x%x,%d,%d)",
			t.Doublewrite.Magic, t.Doublewrite.Block1, t.Doublewrite.Block2,
			t.Doublewrite.MagicRepeat, t.Doublewrite.Block1Repeat, t.Doublewrite.Block2Repeat)
	}

	return t, nil
}

func parseMysqlLog(b []byte) *MysqlLog {
	name := b[TRX_SYS_MYSQL_LOG_NAME : TRX_SYS_MYSQL_LOG_NAME+TRX_SYS_MYSQL_LOG_NAME_LEN]
	return &MysqlLog{
		LogName:   cString(name),
		LogOffset: utils.MachReadFrom8(b[TRX_SYS_MYSQL_LOG_OFFSET:]),
	}
}

// parseWsrepXid decodes the format/gtrid/bqual/data block; b starts at
// the format field. Returns nil when the format says not present.
func parseWsrepXid(b []byte) *WsrepXid {
	format := utils.MachReadFrom4(b)
	if format == 0 {
		return nil
	}
	data := make([]byte, XIDDATASIZE)
	copy(data, b[12:12+XIDDATASIZE])
	return &WsrepXid{
		Format:   format,
		GtridLen: utils.MachReadFrom4(b[4:]),
		BqualLen: utils.MachReadFrom4(b[8:]),
		XidData:  data,
	}
}

// ParseRseg decodes a rollback segment header page.
func (p *Parse) ParseRseg(page *PageBuf) (*TrxRseg, error) {
	switch page.Class() {
	case ClassSys, ClassAllocated, ClassUndo:
		// RSEG pages are typed SYS in the system tablespace and have
		// carried other types in undo tablespaces.
	default:
		return nil, errors.Wrapf(ErrUnexpectedPageType,
			"ParseRseg: page %d has type %d", page.PageNo, page.PageType)
	}

	pageSize := page.PageSize()
	b := page.Buf()[FSEG_PAGE_DATA:]

	r := &TrxRseg{
		Format:      utils.MachReadFrom4(b[TRX_RSEG_FORMAT:]),
		HistorySize: utils.MachReadFrom4(b[TRX_RSEG_HISTORY_SIZE:]),
		History:     parseFlstBaseNode(b[TRX_RSEG_HISTORY:]),
		FsegHeader:  parseFsegHeader(b[TRX_RSEG_FSEG_HEADER:]),
		UndoSlots:   make(map[int]uint32),
	}
	p.checkList("TRX_RSEG_HISTORY", r.History)

	for i := 0; i < TrxRsegNSlots(pageSize); i++ {
		pageNo := utils.MachReadFrom4(b[TRX_RSEG_UNDO_SLOTS+i*TRX_RSEG_SLOT_SIZE:])
		if pageNo != FIL_NULL {
			r.UndoSlots[i] = pageNo
		}
	}

	maxTrxOff := TrxRsegMaxTrxIDOffset(pageSize)
	r.MaxTrxID = utils.MachReadFrom8(b[maxTrxOff:])
	if r.Format != 0 && r.MaxTrxID != 0 {
		// pre-10.3.5 format should not carry the field; surface both
		// readings and let the operator decide.
		p.diag("ParseRseg: page %d format 0x%x but max_trx_id %d is set",
			page.PageNo, r.Format, r.MaxTrxID)
	}

	// binlog coordinate after max_trx_id, present iff the name is
	// non-empty
	binlog := b[maxTrxOff:]
	name := binlog[TRX_RSEG_BINLOG_NAME_OFFSET : TRX_RSEG_BINLOG_NAME_OFFSET+TRX_RSEG_BINLOG_NAME_LEN]
	if name[0] != 0 {
		r.MysqlLog = &MysqlLog{
			LogName:   cString(name),
			LogOffset: utils.MachReadFrom8(binlog[TRX_RSEG_BINLOG_OFFSET:]),
		}
	}

	r.WsrepXid = parseWsrepXid(binlog[TRX_RSEG_WSREP_XID_FORMAT:])

	return r, nil
}

// ParseUndoPageHeader decodes the undo log page header of a page
// referenced from a rollback segment undo slot.
func (p *Parse) ParseUndoPageHeader(page *PageBuf) (*UndoPageHeader, error) {
	b := page.Buf()[FSEG_PAGE_DATA:]
	return &UndoPageHeader{
		PageType: utils.MachReadFrom2(b[TRX_UNDO_PAGE_TYPE:]),
		Start:    utils.MachReadFrom2(b[TRX_UNDO_PAGE_START:]),
		Free:     utils.MachReadFrom2(b[TRX_UNDO_PAGE_FREE:]),
		Node:     parseFlstNode(b[TRX_UNDO_PAGE_NODE:]),
	}, nil
}

// RsegReport ties a decoded rollback segment to the slot that
// referenced it, plus the undo page headers its slots point at.
type RsegReport struct {
	Slot      int                     `json:"slot"`
	SpaceID   uint32                  `json:"space_id"`
	PageNo    uint32                  `json:"page_no"`
	Rseg      *TrxRseg                `json:"rseg"`
	UndoPages map[int]*UndoPageHeader `json:"undo_pages,omitempty"`
}

// TablespaceReport is the result of a full read-tablespace walk.
type TablespaceReport struct {
	Path        string       `json:"path"`
	SpaceID     uint32       `json:"space_id"`
	Flags       uint32       `json:"flags"`
	PageSize    int          `json:"page_size"`
	Pages       uint32       `json:"pages"`
	Fsp         *FspHeader   `json:"fsp"`
	TrxSys      *TrxSys      `json:"trx_sys,omitempty"`
	Rsegs       []RsegReport `json:"rsegs,omitempty"`
	Diagnostics []string     `json:"diagnostics,omitempty"`
}

// ParseTablespaceFile decodes the pages of interest of the system
// tablespace at path: the FSP header, the TRX_SYS page, and every
// rollback segment page the TRX_SYS directory references. Rollback
// segments in undo tablespaces are resolved as <undoDir>/undo%03d.
func (p *Parse) ParseTablespaceFile(path, undoDir string) (*TablespaceReport, error) {
	ts, err := OpenTablespace(path)
	if err != nil {
		return nil, err
	}
	defer ts.Close()

	p.PageSize = ts.PageSize
	p.Flags = ts.Flags
	logs.Info("parsing tablespace", path, "space id", ts.SpaceID,
		"flags", fmt.Sprintf("0x%x", ts.Flags), "pages", ts.Pages)

	report := &TablespaceReport{
		Path:     path,
		SpaceID:  ts.SpaceID,
		Flags:    ts.Flags,
		PageSize: ts.PageSize,
		Pages:    ts.Pages,
	}

	page0, err := ts.ReadPage(0)
	if err != nil {
		if !p.demoteChecksum(err, 0) {
			return nil, err
		}
	}
	report.Fsp, err = p.ParseFspHeader(page0)
	if err != nil {
		return nil, err
	}

	if ts.SpaceID != 0 {
		// not the system tablespace; nothing more to walk
		report.Diagnostics = p.Diagnostics
		return report, nil
	}

	sysPage, err := ts.ReadPage(FSP_TRX_SYS_PAGE_NO)
	if err != nil && !p.demoteChecksum(err, FSP_TRX_SYS_PAGE_NO) {
		return nil, err
	}
	report.TrxSys, err = p.ParseTrxSys(sysPage)
	if err != nil {
		return nil, err
	}

	undoSpaces := make(map[uint32]*Tablespace)
	defer func() {
		for _, u := range undoSpaces {
			u.Close()
		}
	}()

	for slot := 0; slot < len(report.TrxSys.Rsegs); slot++ {
		ref := report.TrxSys.Rsegs[slot]
		if ref.IsEmpty() {
			continue
		}
		var space *Tablespace
		if ref.SpaceID == 0 {
			space = ts
		} else {
			space = undoSpaces[ref.SpaceID]
			if space == nil {
				if undoDir == "" {
					p.diag("rseg slot %d references space %d but no --undo-log-dir given",
						slot, ref.SpaceID)
					continue
				}
				undoPath := filepath.Join(undoDir, fmt.Sprintf("undo%03d", ref.SpaceID))
				space, err = OpenTablespace(undoPath)
				if err != nil {
					p.diag("rseg slot %d: %v", slot, err)
					continue
				}
				undoSpaces[ref.SpaceID] = space
			}
		}

		rsegPage, err := space.ReadPage(ref.PageNo)
		if err != nil && !p.demoteChecksum(err, ref.PageNo) {
			p.diag("rseg slot %d: %v", slot, err)
			continue
		}
		rseg, err := p.ParseRseg(rsegPage)
		if err != nil {
			p.diag("rseg slot %d: %v", slot, err)
			continue
		}
		entry := RsegReport{
			Slot:    slot,
			SpaceID: ref.SpaceID,
			PageNo:  ref.PageNo,
			Rseg:    rseg,
		}

		for undoSlot, pageNo := range rseg.UndoSlots {
			undoPage, err := space.ReadPage(pageNo)
			if err != nil && !p.demoteChecksum(err, pageNo) {
				p.diag("rseg slot %d undo slot %d: %v", slot, undoSlot, err)
				continue
			}
			hdr, err := p.ParseUndoPageHeader(undoPage)
			if err != nil {
				p.diag("rseg slot %d undo slot %d: %v", slot, undoSlot, err)
				continue
			}
			if entry.UndoPages == nil {
				entry.UndoPages = make(map[int]*UndoPageHeader)
			}
			entry.UndoPages[undoSlot] = hdr
		}

		report.Rsegs = append(report.Rsegs, entry)
	}

	report.Diagnostics = p.Diagnostics
	return report, nil
}

// demoteChecksum turns an advisory checksum mismatch into a
// diagnostic. Returns false for any other error.
func (p *Parse) demoteChecksum(err error, pageNo uint32) bool {
	var mismatch *ChecksumMismatchError
	if errors.As(err, &mismatch) {
		p.diag("page %d: %v", pageNo, mismatch)
		return true
	}
	return false
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
