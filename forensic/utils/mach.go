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

package utils

// InnoDB stores all on-disk integers big-endian ("mach" encoding).

func MachReadFrom1(b []byte) uint8 {
	return b[0]
}

func MachReadFrom2(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func MachReadFrom3(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func MachReadFrom4(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func MachReadFrom7(b []byte) uint64 {
	return uint64(MachReadFrom3(b))<<32 | uint64(MachReadFrom4(b[3:]))
}

func MachReadFrom8(b []byte) uint64 {
	return uint64(MachReadFrom4(b))<<32 | uint64(MachReadFrom4(b[4:]))
}

func MachWriteTo2(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func MachWriteTo4(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func MachWriteTo8(b []byte, v uint64) {
	MachWriteTo4(b, uint32(v>>32))
	MachWriteTo4(b[4:], uint32(v))
}

func MachReadFromSigned4(b []byte) int32 {
	return int32(MachReadFrom4(b))
}

func MachReadFromSigned8(b []byte) int64 {
	return int64(MachReadFrom8(b))
}
