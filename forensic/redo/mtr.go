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
	"fmt"

	"github.com/pkg/errors"

	"github.com/zbdba/innodb-forensic/forensic/utils"
)

// ErrEndOfLog reports that the cursor stands on an end-of-log marker
// (or on a terminator of an older ring generation).
var ErrEndOfLog = errors.New("end of log")

// ErrUnknownOpcodeLen reports a record whose length cannot be
// computed; the stream cannot continue past it.
var ErrUnknownOpcodeLen = errors.New("unknown opcode without a computable length")

// ChainCrcMismatchError reports a chain whose stored checksum does not
// match its bytes.
type ChainCrcMismatchError struct {
	Lsn      uint64
	Len      uint32
	Expected uint32
	Found    uint32
}

func (e *ChainCrcMismatchError) Error() string {
	return fmt.Sprintf(
		"mtr chain at lsn %d (0x%x) len %d checksum mismatch: expected 0x%08x, found 0x%08x",
		e.Lsn, e.Lsn, e.Len, e.Expected, e.Found)
}

// SequenceBit is the terminator byte value expected at lsn: 1 on even
// ring generations, 0 on odd ones.
func SequenceBit(firstLsn, capacity, lsn uint64) byte {
	if (lsn-firstLsn)/capacity&1 == 0 {
		return 1
	}
	return 0
}

// Reader iterates MTR chains over the record ring.
type Reader struct {
	ring     *RingReader
	firstLsn uint64
	capacity uint64
	lsn      uint64
}

// NewReader positions a chain reader at lsn.
func NewReader(ring []byte, firstLsn, lsn uint64) *Reader {
	capacity := uint64(len(ring))
	return &Reader{
		ring:     NewRingReader(ring, int((lsn-firstLsn)%capacity)),
		firstLsn: firstLsn,
		capacity: capacity,
		lsn:      lsn,
	}
}

// Lsn is the LSN the next ParseNext will start at.
func (rd *Reader) Lsn() uint64 {
	return rd.lsn
}

// ParseNext decodes the chain at the cursor and advances past it.
// ErrEndOfLog marks the end of the current generation's records; a
// *ChainCrcMismatchError stops the scan on a torn chain.
func (rd *Reader) ParseNext() (*MtrChain, error) {
	start := rd.ring.Clone()
	startLsn := rd.lsn

	if err := rd.checkNotEndMarker(start); err != nil {
		return nil, err
	}

	// First pass: walk record lengths to the terminator.
	walker := start.Clone()
	if err := rd.findEndMarker(walker); err != nil {
		return nil, errors.Wrapf(err, "Mtr.parseNext: chain at lsn %d", startLsn)
	}

	termOffset := start.Distance(walker)
	termLsn := startLsn + uint64(termOffset)
	termByte, _ := walker.PeekByte()

	if termByte != SequenceBit(rd.firstLsn, rd.capacity, termLsn) {
		// a leftover chain from the previous ring generation
		return nil, errors.Wrapf(ErrEndOfLog,
			"Mtr.parseNext: stale terminator 0x%02x at lsn %d", termByte, termLsn)
	}

	chainCrc := start.Crc32c(termOffset)
	walker.Advance(1)
	storedCrc, err := walker.Read4()
	if err != nil {
		return nil, errors.Wrap(err, "Mtr.parseNext: chain checksum")
	}
	if chainCrc != storedCrc {
		return nil, &ChainCrcMismatchError{
			Lsn:      startLsn,
			Len:      uint32(termOffset) + 1 + 4,
			Expected: chainCrc,
			Found:    storedCrc,
		}
	}

	chain := &MtrChain{
		StartLsn: startLsn,
		Len:      uint32(termOffset) + 1 + 4,
		Marker:   termByte,
		Checksum: chainCrc,
	}

	// Second pass: decode the records inside [start, start+termOffset).
	if err := rd.decodeRecords(chain, start.Clone(), termOffset); err != nil {
		return nil, err
	}

	rd.ring = walker
	rd.lsn = startLsn + uint64(chain.Len)
	return chain, nil
}

func (rd *Reader) checkNotEndMarker(r *RingReader) error {
	b, err := r.PeekByte()
	if err != nil {
		return errors.Wrap(err, "Mtr.parseNext")
	}
	if b <= MTR_END_MARKER {
		return errors.Wrapf(ErrEndOfLog, "Mtr.parseNext: marker 0x%02x at lsn %d", b, rd.lsn)
	}
	return nil
}

// findEndMarker advances r over whole records until it stands on a
// byte <= MTR_END_MARKER.
func (rd *Reader) findEndMarker(r *RingReader) error {
	payload := uint32(0)
	for {
		if payload >= MTR_SIZE_MAX {
			return errors.Wrap(ErrUnknownOpcodeLen, "findEndMarker: runaway chain")
		}

		b, err := r.PeekByte()
		if err != nil {
			return err
		}
		if b <= MTR_END_MARKER {
			return nil
		}
		r.Advance(1)

		rlen := uint32(b & 0xf)
		if rlen == 0 {
			// length extension: the varint bytes count toward the
			// remaining record length
			addlen, _, err := utils.MlogDecodeVarint(r.Bytes(5))
			if err != nil {
				return errors.Wrap(err, "findEndMarker: length extension")
			}
			rlen = addlen + 15
		}
		payload += rlen
		r.Advance(int(rlen))
	}
}

// decodeRecords splits the chain body into records. The page identity
// of a record with the 0x80 bit set inside a page-op chain is carried
// over from the previous record.
func (rd *Reader) decodeRecords(chain *MtrChain, r *RingReader, bodyLen int) error {
	type lastContext struct {
		spaceID uint32
		pageNo  uint32
	}
	var last *lastContext
	gotPageOp := false

	consumed := 0
	for consumed < bodyLen {
		recStart := r.Clone()
		recLsn := chain.StartLsn + uint64(consumed)

		b, err := r.ReadByte()
		if err != nil {
			return errors.Wrap(err, "decodeRecords")
		}

		rlen := uint32(b & 0xf)
		if rlen == 0 {
			addlen, n, err := utils.MlogDecodeVarint(r.Bytes(5))
			if err != nil {
				return errors.Wrapf(err, "decodeRecords: length extension at lsn %d", recLsn)
			}
			r.Advance(n)
			rlen = addlen + 15 - uint32(n)
		}

		m := &Mtr{
			Lsn:   recLsn,
			First: b,
		}

		body := r.Clone()

		pageOp := b&0x80 == 0
		if len(chain.Records) == 0 {
			gotPageOp = pageOp
		}

		// rem shrinks as the ids are read; rlen keeps the full
		// payload length for the final skip.
		rem := rlen
		switch {
		case pageOp:
			m.Op = b & 0x70
			if err := rd.readPageID(body, m, &rem); err != nil {
				return errors.Wrapf(err, "decodeRecords: page id at lsn %d", recLsn)
			}
			last = &lastContext{spaceID: m.SpaceID, pageNo: m.PageNo}
			rd.decodePageOp(m, body, rem)

		case gotPageOp:
			// same-page continuation
			if last == nil {
				return errors.Errorf(
					"decodeRecords: same-page record at lsn %d without a previous page", recLsn)
			}
			m.Op = b & 0x70
			m.SamePage = true
			m.SpaceID = last.spaceID
			m.PageNo = last.pageNo
			rd.decodePageOp(m, body, rem)

		default:
			m.Op = b & 0xf0
			if err := rd.decodeFileOp(m, body, rem, b); err != nil {
				return errors.Wrapf(err, "decodeRecords: file op at lsn %d", recLsn)
			}
		}

		r.Advance(int(rlen))
		m.Len = uint32(recStart.Distance(r))
		consumed += int(m.Len)
		chain.Records = append(chain.Records, m)
	}

	return nil
}

func (rd *Reader) readPageID(body *RingReader, m *Mtr, rlen *uint32) error {
	spaceID, n, err := body.ReadVarint()
	if err != nil {
		return err
	}
	*rlen -= uint32(n)

	pageNo, n, err := body.ReadVarint()
	if err != nil {
		return err
	}
	*rlen -= uint32(n)

	m.SpaceID = spaceID
	m.PageNo = pageNo
	return nil
}

// decodePageOp fills the family-specific operands from the remaining
// rlen payload bytes. Operand corruption is not fatal: the record
// length is known, so the raw bytes are kept and the stream skips on.
func (rd *Reader) decodePageOp(m *Mtr, body *RingReader, rlen uint32) {
	payload := body.Bytes(int(rlen))

	switch m.Op {
	case FREE_PAGE, INIT_PAGE:
		// no operands

	case WRITE:
		off, n, err := utils.MlogDecodeVarint(payload)
		if err != nil {
			m.Data = payload
			return
		}
		m.Offset = off
		m.Data = payload[n:]
		m.DataLen = uint32(len(payload) - n)

	case MEMSET:
		off, n, err := utils.MlogDecodeVarint(payload)
		if err != nil {
			m.Data = payload
			return
		}
		length, n2, err := utils.MlogDecodeVarint(payload[n:])
		if err != nil {
			m.Data = payload
			return
		}
		m.Offset = off
		m.DataLen = length
		m.Data = payload[n+n2:]

	case MEMMOVE:
		off, n, err := utils.MlogDecodeVarint(payload)
		if err != nil {
			m.Data = payload
			return
		}
		length, n2, err := utils.MlogDecodeVarint(payload[n:])
		if err != nil {
			m.Data = payload
			return
		}
		delta, _, err := utils.MlogDecodeVarint(payload[n+n2:])
		if err != nil {
			m.Data = payload
			return
		}
		m.Offset = off
		m.DataLen = length
		m.SourceDelta = utils.DecodeSignedDelta(delta)

	case EXTENDED, OPTION:
		if len(payload) > 0 {
			m.Subtype = payload[0]
			m.Data = payload[1:]
		}

	default:
		// RESERVED: keep the raw payload
		m.Data = payload
	}
}

func (rd *Reader) decodeFileOp(m *Mtr, body *RingReader, rlen uint32, b byte) error {
	switch m.Op {
	case FILE_CREATE, FILE_DELETE, FILE_RENAME, FILE_MODIFY, FILE_CHECKPOINT:
	default:
		// length is known, so the record can be skipped
		m.Unknown = true
		return nil
	}

	if err := rd.readPageID(body, m, &rlen); err != nil {
		return err
	}

	if m.Op == FILE_CHECKPOINT {
		if rlen == 8 {
			lsn, err := body.Read8()
			if err != nil {
				return err
			}
			m.FileCheckpointLsn = lsn
			return nil
		}
		if rlen == 0 && b == FILE_CHECKPOINT+2 && m.SpaceID == 0 && m.PageNo == 0 {
			// dummy padding record
			return nil
		}
		return errors.Errorf("malformed FILE_CHECKPOINT record, %d payload bytes", rlen)
	}

	name := body.Bytes(int(rlen))
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	m.FileName = string(name)
	return nil
}

// BuildFileCheckpoint renders the on-disk bytes of a FILE_CHECKPOINT
// mini-transaction for lsn: opcode and ids, the 8-byte LSN, the
// sequence-bit terminator and the chain checksum.
func BuildFileCheckpoint(firstLsn, capacity, lsn uint64) []byte {
	buf := make([]byte, SIZE_OF_FILE_CHECKPOINT)

	buf[0] = FILE_CHECKPOINT + 10 // body: 2 id bytes + 8-byte LSN
	buf[1] = 0                    // space id
	buf[2] = 0                    // page no
	utils.MachWriteTo8(buf[3:], lsn)

	buf[11] = SequenceBit(firstLsn, capacity, lsn+1+2+8)
	utils.MachWriteTo4(buf[12:], utils.Crc32c(buf[:11]))

	return buf
}
