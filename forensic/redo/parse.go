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
	"os"

	"github.com/pkg/errors"

	"github.com/zbdba/innodb-forensic/forensic/logs"
	"github.com/zbdba/innodb-forensic/forensic/utils"
)

// ErrUnsupportedFormat reports a redo log whose header format tag is
// not one this tool decodes records of.
var ErrUnsupportedFormat = errors.New("unsupported redo log format")

// ErrEncryptedLog reports an encrypted record region; the header and
// checkpoint slots are still surfaced.
var ErrEncryptedLog = errors.New("encrypted redo log records are not decoded")

// ErrHeaderCrcMismatch reports a corrupt file header.
var ErrHeaderCrcMismatch = errors.New("redo header checksum mismatch")

// Parse decodes one redo log file held in memory.
type Parse struct {
	Path   string
	Header *Header

	buf []byte
}

// NewParse decodes the header region of an in-memory redo log image.
func NewParse(buf []byte) (*Parse, error) {
	if len(buf) <= START_OFFSET {
		return nil, errors.Errorf("NewParse: file of %d bytes is shorter than the %d-byte header region",
			len(buf), START_OFFSET)
	}

	p := &Parse{buf: buf}
	if err := p.readHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewParseFromFile reads path and decodes its header region.
func NewParseFromFile(path string) (*Parse, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "NewParseFromFile: %s", path)
	}
	p, err := NewParse(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "NewParseFromFile: %s", path)
	}
	p.Path = path
	return p, nil
}

// The redo log header: format tag, start LSN, creator string and a
// CRC-32C over the preceding bytes.
func (p *Parse) readHeader() error {
	h := &Header{
		Version:  utils.MachReadFrom4(p.buf[LOG_HEADER_FORMAT:]),
		FirstLsn: utils.MachReadFrom8(p.buf[LOG_HEADER_START_LSN:]),
		Creator:  cString(p.buf[LOG_HEADER_CREATOR:LOG_HEADER_CREATOR_END]),
		Crc:      utils.MachReadFrom4(p.buf[LOG_HEADER_CRC:]),
	}
	h.Encrypted = h.Version&FORMAT_ENCRYPTED != 0
	h.CrcValid = utils.Crc32c(p.buf[:LOG_HEADER_CRC]) == h.Crc
	p.Header = h

	logs.Debug("redo header: format", h.Format(), "first_lsn", h.FirstLsn,
		"creator", h.Creator, "crc_valid", h.CrcValid)

	if h.IsPhysical() && !h.CrcValid {
		return errors.Wrapf(ErrHeaderCrcMismatch,
			"readHeader: stored 0x%08x, computed 0x%08x",
			h.Crc, utils.Crc32c(p.buf[:LOG_HEADER_CRC]))
	}
	return nil
}

// Capacity is the size of the record ring.
func (p *Parse) Capacity() uint64 {
	return uint64(len(p.buf) - START_OFFSET)
}

// LsnToOffset maps an LSN to its byte position in the file.
func (p *Parse) LsnToOffset(lsn uint64) uint64 {
	return START_OFFSET + (lsn-p.Header.FirstLsn)%p.Capacity()
}

// OffsetToLsn is the inverse of LsnToOffset for the first ring
// generation, i.e. for LSNs in [first_lsn, first_lsn+capacity).
func (p *Parse) OffsetToLsn(offset uint64) uint64 {
	return p.Header.FirstLsn + (offset - START_OFFSET)
}

// readCheckpointSlot decodes one checkpoint block.
func (p *Parse) readCheckpointSlot(offset int) CheckpointSlot {
	b := p.buf[offset:]
	s := CheckpointSlot{
		Lsn:      utils.MachReadFrom8(b[CHECKPOINT_LSN:]),
		EndLsn:   utils.MachReadFrom8(b[CHECKPOINT_END_LSN:]),
		Checksum: utils.MachReadFrom4(b[CHECKPOINT_CRC:]),
	}
	s.CrcValid = utils.Crc32c(b[:CHECKPOINT_CRC]) == s.Checksum
	return s
}

// ReadCheckpoint decodes both checkpoint slots and elects the active
// one: the CRC-valid slot with the larger checkpoint LSN. With no
// valid slot the coordinate is absent and scanning starts at
// first_lsn.
func (p *Parse) ReadCheckpoint() CheckpointCoordinate {
	c := CheckpointCoordinate{
		Slots: [2]CheckpointSlot{
			p.readCheckpointSlot(CHECKPOINT_1),
			p.readCheckpointSlot(CHECKPOINT_2),
		},
	}

	for i := range c.Slots {
		s := c.Slots[i]
		if !s.CrcValid {
			logs.Warn("checkpoint slot", i, "has an invalid checksum, ignoring")
			continue
		}
		if c.Active == nil || s.Lsn > c.Active.Lsn {
			c.Active = &c.Slots[i]
		}
	}
	return c
}

// Reader returns a chain reader positioned at lsn.
func (p *Parse) Reader(lsn uint64) *Reader {
	return NewReader(p.buf[START_OFFSET:], p.Header.FirstLsn, lsn)
}

// Scan decodes the whole file: checkpoint coordinate, every MTR chain
// from the active checkpoint (or first_lsn), and the file-checkpoint
// anchor. Pre-10.8 files get a legacy block dump instead of chains.
func (p *Parse) Scan() (*Report, error) {
	report := &Report{
		Path:   p.Path,
		Header: p.Header,
	}

	if !p.Header.IsPhysical() {
		switch p.Header.Format() {
		case FORMAT_10_2, FORMAT_10_3, FORMAT_10_4, FORMAT_10_5:
			logs.Info("pre-10.8 redo log, dumping the legacy block region only")
			report.LegacyBlocks = p.ReadLegacyBlocks()
			return report, nil
		}
		return nil, errors.Wrapf(ErrUnsupportedFormat, "Scan: format 0x%x", p.Header.Format())
	}

	report.Checkpoint = p.ReadCheckpoint()

	if p.Header.Encrypted {
		report.StoppedReason = ErrEncryptedLog.Error()
		return report, nil
	}

	start := p.Header.FirstLsn
	if report.Checkpoint.Active != nil {
		start = report.Checkpoint.Active.Lsn
	}

	rd := p.Reader(start)
	for {
		chain, err := rd.ParseNext()
		if err != nil {
			report.StoppedAt = rd.Lsn()
			if !errors.Is(err, ErrEndOfLog) {
				report.StoppedReason = err.Error()
				logs.Warn("scan stopped:", err.Error())
			}
			break
		}

		logs.Debug("chain", len(report.Chains), "at lsn", chain.StartLsn,
			"len", chain.Len, "records", len(chain.Records))

		report.Chains = append(report.Chains, ChainSummary{
			Index:    len(report.Chains),
			StartLsn: chain.StartLsn,
			EndLsn:   chain.EndLsn(),
			Len:      chain.Len,
			Records:  chain.Records,
		})

		if fc := chain.FileCheckpoint(); fc != nil && report.Checkpoint.Active != nil &&
			fc.FileCheckpointLsn == report.Checkpoint.Active.Lsn {
			report.AnchorLsn = fc.Lsn
			report.AnchorOffset = p.LsnToOffset(fc.Lsn)
		}
	}

	return report, nil
}

// ReadLegacyBlocks walks the 512-byte blocks of a pre-10.8 log file.
// A block with a bad trailer CRC is still yielded, flagged.
func (p *Parse) ReadLegacyBlocks() []LegacyBlock {
	var out []LegacyBlock

	for off := LEGACY_BLOCK_REGION; off+OS_FILE_LOG_BLOCK_SIZE <= len(p.buf); off += OS_FILE_LOG_BLOCK_SIZE {
		d := p.buf[off : off+OS_FILE_LOG_BLOCK_SIZE]

		hdrNo := utils.MachReadFrom4(d[LOG_BLOCK_HDR_NO:])
		b := LegacyBlock{
			BlockNo:       hdrNo &^ LOG_BLOCK_FLUSH_BIT_MASK,
			FlushBit:      hdrNo&LOG_BLOCK_FLUSH_BIT_MASK != 0,
			DataLen:       utils.MachReadFrom2(d[LOG_BLOCK_HDR_DATA_LEN:]),
			FirstRecGroup: utils.MachReadFrom2(d[LOG_BLOCK_FIRST_REC_GROUP:]),
			CheckpointNo:  utils.MachReadFrom4(d[LOG_BLOCK_CHECKPOINT_NO:]),
			Checksum:      utils.MachReadFrom4(d[OS_FILE_LOG_BLOCK_SIZE-LOG_BLOCK_TRL_SIZE:]),
			Payload:       d[LOG_BLOCK_HDR_SIZE : OS_FILE_LOG_BLOCK_SIZE-LOG_BLOCK_TRL_SIZE],
		}

		if b.DataLen == 0 {
			// past the written region
			break
		}

		b.CrcValid = utils.Crc32c(d[:OS_FILE_LOG_BLOCK_SIZE-LOG_BLOCK_TRL_SIZE]) == b.Checksum
		if !b.CrcValid {
			logs.Warn("legacy block", b.BlockNo, "checksum mismatch")
		}
		out = append(out, b)
	}
	return out
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
