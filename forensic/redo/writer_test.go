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
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbdba/innodb-forensic/forensic/utils"
)

func TestWriteCheckpointFreshFile(t *testing.T) {
	const lsn = uint64(83366)
	path := filepath.Join(t.TempDir(), "ib_logfile0")

	newPath, err := WriteCheckpoint(path, testLogSize, lsn)
	require.NoError(t, err)
	assert.Equal(t, path+".new", newPath)

	p, err := NewParseFromFile(newPath)
	require.NoError(t, err)

	coord := p.ReadCheckpoint()
	require.NotNil(t, coord.Active)
	assert.Equal(t, lsn, coord.Active.Lsn)
	assert.Equal(t, lsn, coord.Active.EndLsn)
	assert.Equal(t, coord.Slots[0], coord.Slots[1])

	report, err := p.Scan()
	require.NoError(t, err)
	require.Len(t, report.Chains, 1)
	assert.Equal(t, lsn, report.AnchorLsn)
	assert.Equal(t, p.LsnToOffset(lsn), report.AnchorOffset)

	// the forged record is the last one in the log
	assert.Equal(t, lsn+16, report.StoppedAt)
}

func TestWriteCheckpointForgedBytes(t *testing.T) {
	// The 17 bytes written for LSN 83366 (0x145A6): opcode, two NUL
	// ids, the big-endian LSN, the sequence marker, the chain CRC and
	// the end-of-log byte.
	const lsn = uint64(83366)
	path := filepath.Join(t.TempDir(), "ib_logfile0")

	newPath, err := WriteCheckpoint(path, testLogSize, lsn)
	require.NoError(t, err)

	img, err := os.ReadFile(newPath)
	require.NoError(t, err)

	p, err := NewParse(img)
	require.NoError(t, err)
	off := p.LsnToOffset(lsn)

	got := img[off : off+17]
	assert.Equal(t, []byte{
		0xFA,
		0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x45, 0xA6,
		0x01,
	}, got[:12])
	// chain checksum over the 11 record bytes, then the end marker
	var crcBuf [4]byte
	utils.MachWriteTo4(crcBuf[:], utils.Crc32c(got[:11]))
	assert.Equal(t, crcBuf[:], got[12:16])
	assert.Equal(t, byte(0x00), got[16])
}

func TestWriteCheckpointPatchesExistingFile(t *testing.T) {
	// an existing log with a graceful-shutdown checkpoint at 84875
	// gets re-anchored at 84793
	dir := t.TempDir()
	path := filepath.Join(dir, "ib_logfile0")

	img := newLogImage(testLogSize, 84875)
	placeCheckpointRecord(img, 84875)
	require.NoError(t, os.WriteFile(path, img, 0644))

	newPath, err := WriteCheckpoint(path, 0, 84793)
	require.NoError(t, err)

	p, err := NewParseFromFile(newPath)
	require.NoError(t, err)

	// the source header is untouched
	assert.Equal(t, "MariaDB 11.4.2", p.Header.Creator)
	assert.True(t, p.Header.CrcValid)

	report, err := p.Scan()
	require.NoError(t, err)
	require.NotNil(t, report.Checkpoint.Active)
	assert.Equal(t, uint64(84793), report.Checkpoint.Active.Lsn)
	assert.Equal(t, uint64(84793), report.AnchorLsn)

	// the original file is untouched
	orig, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, img, orig)
}

func TestWriteCheckpointLsnBelowFirstLsn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ib_logfile0")

	_, err := WriteCheckpoint(path, testLogSize, 0)
	assert.True(t, errors.Is(err, ErrLsnOutsideCapacity))

	// no .new file may exist after a rejected write
	_, statErr := os.Stat(path + ".new")
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteCheckpointLsnPastCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ib_logfile0")

	_, err := WriteCheckpoint(path, testLogSize, uint64(testLogSize)+1)
	assert.True(t, errors.Is(err, ErrLsnOutsideCapacity))

	_, statErr := os.Stat(path + ".new")
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteCheckpointNearRingEdge(t *testing.T) {
	// place the record close to the end of the ring; the capacity check
	// keeps the 17 written bytes from wrapping, so they end 3 bytes short
	// of the ring edge
	path := filepath.Join(t.TempDir(), "ib_logfile0")
	capacity := uint64(testLogSize - START_OFFSET)
	lsn := uint64(FIRST_LSN) + capacity - 20

	newPath, err := WriteCheckpoint(path, testLogSize, lsn)
	require.NoError(t, err)

	p, err := NewParseFromFile(newPath)
	require.NoError(t, err)

	chain, err := p.Reader(lsn).ParseNext()
	require.NoError(t, err)
	require.Len(t, chain.Records, 1)
	assert.Equal(t, lsn, chain.Records[0].FileCheckpointLsn)
}

func TestWriteCheckpointRoundTripSweep(t *testing.T) {
	// forge-then-decode across the addressable window
	path := filepath.Join(t.TempDir(), "ib_logfile0")
	capacity := uint64(testLogSize - START_OFFSET)

	lsns := []uint64{
		FIRST_LSN,
		FIRST_LSN + 1,
		FIRST_LSN + capacity/3,
		FIRST_LSN + capacity - SIZE_OF_FILE_CHECKPOINT - 2,
	}
	for _, lsn := range lsns {
		newPath, err := WriteCheckpoint(path, testLogSize, lsn)
		require.NoError(t, err, "lsn %d", lsn)

		p, err := NewParseFromFile(newPath)
		require.NoError(t, err)
		report, err := p.Scan()
		require.NoError(t, err)
		require.NotNil(t, report.Checkpoint.Active, "lsn %d", lsn)
		assert.Equal(t, lsn, report.Checkpoint.Active.Lsn)
		assert.Equal(t, lsn, report.AnchorLsn, "lsn %d", lsn)
		require.NoError(t, os.Remove(newPath))
	}
}
