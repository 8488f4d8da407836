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

// ErrLsnOutsideCapacity reports a checkpoint LSN the file cannot hold.
var ErrLsnOutsideCapacity = errors.New("lsn outside the log capacity")

// ErrPostWriteInvariant reports a forged file that fails re-decoding.
var ErrPostWriteInvariant = errors.New("post-write invariant violation")

// the creator string stamped into freshly built headers
const logHeaderCreator = "innodb-forensic"

// BuildHeader renders an unencrypted 10.8 file header block.
func BuildHeader(firstLsn uint64, creator string) []byte {
	buf := make([]byte, LOG_HEADER_CRC+4)
	utils.MachWriteTo4(buf[LOG_HEADER_FORMAT:], FORMAT_10_8)
	utils.MachWriteTo8(buf[LOG_HEADER_START_LSN:], firstLsn)
	copy(buf[LOG_HEADER_CREATOR:LOG_HEADER_CREATOR_END], creator)
	utils.MachWriteTo4(buf[LOG_HEADER_CRC:], utils.Crc32c(buf[:LOG_HEADER_CRC]))
	return buf
}

// BuildCheckpointSlot renders one checkpoint block.
func BuildCheckpointSlot(lsn, endLsn uint64) []byte {
	buf := make([]byte, CHECKPOINT_CRC+4)
	utils.MachWriteTo8(buf[CHECKPOINT_LSN:], lsn)
	utils.MachWriteTo8(buf[CHECKPOINT_END_LSN:], endLsn)
	utils.MachWriteTo4(buf[CHECKPOINT_CRC:], utils.Crc32c(buf[:CHECKPOINT_CRC]))
	return buf
}

// WriteCheckpoint forges a file checkpoint at lsn into the sibling
// <path>.new. When path exists it is copied and patched (its header
// and first_lsn are kept); otherwise a fresh log of size bytes is
// built. All invariants are validated before the .new file is
// created, and the result is re-decoded before the fsync'ed file is
// handed back.
func WriteCheckpoint(path string, size int64, lsn uint64) (string, error) {
	var img []byte
	firstLsn := uint64(FIRST_LSN)

	src, err := os.ReadFile(path)
	switch {
	case err == nil:
		p, err := NewParse(src)
		if err != nil {
			return "", err
		}
		if !p.Header.IsPhysical() {
			return "", errors.Wrapf(ErrUnsupportedFormat,
				"WriteCheckpoint: format 0x%x", p.Header.Format())
		}
		firstLsn = p.Header.FirstLsn
		img = src

	case os.IsNotExist(err):
		if size <= START_OFFSET {
			return "", errors.Errorf(
				"WriteCheckpoint: size %d cannot hold the %d-byte header region",
				size, START_OFFSET)
		}
		img = make([]byte, size)
		copy(img, BuildHeader(firstLsn, logHeaderCreator))

	default:
		return "", errors.Wrapf(err, "WriteCheckpoint: %s", path)
	}

	capacity := uint64(len(img) - START_OFFSET)

	// the record and its end marker must land inside the addressable
	// window before anything is created on disk
	if lsn < firstLsn || lsn+SIZE_OF_FILE_CHECKPOINT+1 >= firstLsn+capacity {
		return "", errors.Wrapf(ErrLsnOutsideCapacity,
			"WriteCheckpoint: lsn %d, window [%d, %d)", lsn, firstLsn, firstLsn+capacity)
	}

	// both slots carry the same coordinate when forging
	slot := BuildCheckpointSlot(lsn, lsn)
	copy(img[CHECKPOINT_1:], slot)
	copy(img[CHECKPOINT_2:], slot)

	record := append(BuildFileCheckpoint(firstLsn, capacity, lsn), 0x00)
	writeRing(img[START_OFFSET:], int((lsn-firstLsn)%capacity), record)

	newPath := path + ".new"
	if err := flushFile(newPath, img); err != nil {
		return "", err
	}

	if err := verifyCheckpoint(img, lsn); err != nil {
		return newPath, err
	}

	logs.Info("wrote file checkpoint at lsn", lsn, "to", newPath)
	return newPath, nil
}

// writeRing writes data into the circular record region at pos.
func writeRing(ring []byte, pos int, data []byte) {
	for len(data) > 0 {
		n := copy(ring[pos:], data)
		data = data[n:]
		pos = (pos + n) % len(ring)
	}
}

// flushFile writes img to path and forces it to stable storage before
// closing; the caller swaps the file into place afterwards.
func flushFile(path string, img []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "flushFile: %s", path)
	}

	if _, err := f.Write(img); err != nil {
		f.Close()
		return errors.Wrapf(err, "flushFile: write %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flushFile: fsync %s", path)
	}
	return errors.Wrapf(f.Close(), "flushFile: close %s", path)
}

// verifyCheckpoint re-decodes the forged image and checks the writer's
// guarantees: both slots CRC-valid and equal to lsn, the
// FILE_CHECKPOINT record present at the mapped position, and nothing
// decodable after it.
func verifyCheckpoint(img []byte, lsn uint64) error {
	p, err := NewParse(img)
	if err != nil {
		return errors.Wrap(ErrPostWriteInvariant, err.Error())
	}

	coord := p.ReadCheckpoint()
	for i, s := range coord.Slots {
		if !s.CrcValid || s.Lsn != lsn || s.EndLsn != lsn {
			return errors.Wrapf(ErrPostWriteInvariant,
				"checkpoint slot %d is %s, want lsn %d", i, s, lsn)
		}
	}

	rd := p.Reader(lsn)
	chain, err := rd.ParseNext()
	if err != nil {
		return errors.Wrapf(ErrPostWriteInvariant, "re-decode at lsn %d: %v", lsn, err)
	}
	fc := chain.FileCheckpoint()
	if fc == nil || fc.FileCheckpointLsn != lsn || fc.Lsn != lsn {
		return errors.Wrapf(ErrPostWriteInvariant,
			"no file checkpoint for lsn %d at offset %d", lsn, p.LsnToOffset(lsn))
	}

	// the forged record must be the last one in the log
	if _, err := rd.ParseNext(); !errors.Is(err, ErrEndOfLog) {
		return errors.Wrapf(ErrPostWriteInvariant,
			"records decodable past the forged checkpoint at lsn %d", chain.EndLsn())
	}

	return nil
}
