// Copyright 2024 The gVisor Authors.
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

package pmu

import "encoding/binary"

// Record sizes (§6): little-endian, tightly packed, 8-byte aligned.
const (
	headerSize       = 16 // type(1) reserved_flags(1) event_id(2) reserved(4) timestamp(8)
	tickRecordSize   = headerSize
	valueRecordSize  = headerSize + 8
	pcRecordSize     = headerSize + 16
	bufferHeaderSize = 24 // version(2) arch(2) flags(4) ticks_per_second(8) capture_end(8)

	// maxRecordSize is the largest record any record kind can produce;
	// AssignBuffer's minimum-size check (§4.3) is expressed in terms of
	// it.
	maxRecordSize = pcRecordSize
)

// writeHeader writes a Header at buf[cursor:] and returns the advanced
// cursor. It does not itself advance past a body; callers append the
// body's bytes directly after calling this.
func writeHeader(buf []byte, cursor int, recType uint8, event EventID, timestamp uint64) int {
	buf[cursor+0] = recType
	buf[cursor+1] = 0 // reserved_flags
	binary.LittleEndian.PutUint16(buf[cursor+2:], uint16(event))
	binary.LittleEndian.PutUint32(buf[cursor+4:], 0) // reserved
	binary.LittleEndian.PutUint64(buf[cursor+8:], timestamp)
	return cursor + headerSize
}

// writeTickRecord appends a Tick record (header only) at cursor and
// returns the advanced cursor.
func writeTickRecord(buf []byte, cursor int, event EventID, timestamp uint64) int {
	return writeHeader(buf, cursor, RecordTypeTick, event, timestamp)
}

// writeValueRecord appends a Value record at cursor and returns the
// advanced cursor.
func writeValueRecord(buf []byte, cursor int, event EventID, timestamp uint64, value uint64) int {
	cursor = writeHeader(buf, cursor, RecordTypeValue, event, timestamp)
	binary.LittleEndian.PutUint64(buf[cursor:], value)
	return cursor + 8
}

// writePcRecord appends a Pc record at cursor and returns the advanced
// cursor.
func writePcRecord(buf []byte, cursor int, event EventID, timestamp uint64, aspace, pc uint64) int {
	cursor = writeHeader(buf, cursor, RecordTypePc, event, timestamp)
	binary.LittleEndian.PutUint64(buf[cursor:], aspace)
	binary.LittleEndian.PutUint64(buf[cursor+8:], pc)
	return cursor + 16
}

// writeBufferHeader writes the BufferHeader at offset 0 of buf.
func writeBufferHeader(buf []byte, ticksPerSecond uint64, flags uint32, captureEnd uint64) {
	binary.LittleEndian.PutUint16(buf[0:], bufferHeaderVersion)
	binary.LittleEndian.PutUint16(buf[2:], archX8664)
	binary.LittleEndian.PutUint32(buf[4:], flags)
	binary.LittleEndian.PutUint64(buf[8:], ticksPerSecond)
	binary.LittleEndian.PutUint64(buf[16:], captureEnd)
}

// setBufferHeaderFlags ORs bits into the BufferHeader.flags field
// in-place, used by the PMI handler to set bufferFlagFull without
// rewriting the whole header.
func setBufferHeaderFlags(buf []byte, bits uint32) {
	cur := binary.LittleEndian.Uint32(buf[4:])
	binary.LittleEndian.PutUint32(buf[4:], cur|bits)
}

// setBufferHeaderCaptureEnd updates the BufferHeader.capture_end field
// in-place.
func setBufferHeaderCaptureEnd(buf []byte, captureEnd uint64) {
	binary.LittleEndian.PutUint64(buf[16:], captureEnd)
}

// decodedHeader is the parsed form of a Header, used by tests to
// inspect buffer contents.
type decodedHeader struct {
	Type      uint8
	EventID   EventID
	Timestamp uint64
}

func decodeHeader(buf []byte, cursor int) decodedHeader {
	return decodedHeader{
		Type:      buf[cursor],
		EventID:   EventID(binary.LittleEndian.Uint16(buf[cursor+2:])),
		Timestamp: binary.LittleEndian.Uint64(buf[cursor+8:]),
	}
}

func decodeValueBody(buf []byte, cursor int) uint64 {
	return binary.LittleEndian.Uint64(buf[cursor+headerSize:])
}

func decodePcBody(buf []byte, cursor int) (aspace, pc uint64) {
	return binary.LittleEndian.Uint64(buf[cursor+headerSize:]), binary.LittleEndian.Uint64(buf[cursor+headerSize+8:])
}
