package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/walrecord"
)

// Magic and Version are the fixed frame preamble from spec.md §6.
const (
	Magic        = "PKWL"
	Version byte = 1

	headerFixedLen = 4 + 1 + 4 + 8 + 8 + 1 // magic+version+length+sequence+timestamp_ns+record_type
	trailerLen     = 4                     // crc32c
)

// castagnoliTable is the CRC32C (Castagnoli) table spec.md §6 requires.
// The standard library's hash/crc32 package ships this exact polynomial
// natively (crc32.Castagnoli) — no third-party CRC32C implementation
// appears anywhere in this codebase's dependency pack, and reaching for
// one would just reimplement what the standard library already provides
// correctly and efficiently (crc32.Castagnoli is hardware-accelerated via
// SSE4.2 on amd64 in the stdlib's own slicing-by-8 fallback path).
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Frame is one decoded WAL record, ready to apply to in-memory state.
type Frame struct {
	Sequence    uint64
	TimestampNs int64
	RecordType  walrecord.Type
	Payload     []byte
}

// encodeFrame renders a frame to its exact on-disk byte layout:
//
//	magic(4) version(1) length(u32 LE) sequence(u64 LE) timestamp_ns(u64 LE)
//	record_type(u8) payload(length bytes) crc32c(u32 LE of {sequence..payload})
func encodeFrame(sequence uint64, timestampNs int64, recordType walrecord.Type, payload []byte) []byte {
	total := headerFixedLen + len(payload) + trailerLen
	buf := make([]byte, 0, total)

	buf = append(buf, Magic...)
	buf = append(buf, Version)

	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(len(payload)))
	buf = append(buf, lenField[:]...)

	crcStart := len(buf)

	var seqField [8]byte
	binary.LittleEndian.PutUint64(seqField[:], sequence)
	buf = append(buf, seqField[:]...)

	var tsField [8]byte
	binary.LittleEndian.PutUint64(tsField[:], uint64(timestampNs))
	buf = append(buf, tsField[:]...)

	buf = append(buf, byte(recordType))
	buf = append(buf, payload...)

	crc := crc32.Checksum(buf[crcStart:], castagnoliTable)
	var crcField [4]byte
	binary.LittleEndian.PutUint32(crcField[:], crc)
	buf = append(buf, crcField[:]...)

	return buf
}

// decodeFrame parses one frame out of buf, which must contain at least
// the fixed header. It returns the frame, the total number of bytes the
// frame occupied, and an error if the frame is short, malformed, or
// fails its CRC — always as a *kernelerr.Error with Code WalCorrupt so
// the caller can report the exact offset (spec.md §4.5, "Tamper
// evidence").
func decodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) < headerFixedLen {
		return Frame{}, 0, kernelerr.WalCorruptAt(0, "truncated frame header")
	}
	if string(buf[0:4]) != Magic {
		return Frame{}, 0, kernelerr.WalCorruptAt(0, "bad magic")
	}
	version := buf[4]
	if version != Version {
		return Frame{}, 0, kernelerr.WalCorruptAt(4, "UnknownVersion")
	}
	length := binary.LittleEndian.Uint32(buf[5:9])
	total := headerFixedLen + int(length) + trailerLen
	if len(buf) < total {
		return Frame{}, 0, kernelerr.WalCorruptAt(9, "truncated frame payload")
	}

	crcStart := 9
	sequence := binary.LittleEndian.Uint64(buf[9:17])
	timestampNs := int64(binary.LittleEndian.Uint64(buf[17:25]))
	recordType := walrecord.Type(buf[25])
	payload := buf[headerFixedLen : headerFixedLen+int(length)]

	crcRegionEnd := headerFixedLen + int(length)
	wantCRC := binary.LittleEndian.Uint32(buf[crcRegionEnd : crcRegionEnd+4])
	gotCRC := crc32.Checksum(buf[crcStart:crcRegionEnd], castagnoliTable)
	if wantCRC != gotCRC {
		return Frame{}, 0, kernelerr.WalCorruptAt(int64(crcRegionEnd), "crc mismatch")
	}

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Frame{
		Sequence:    sequence,
		TimestampNs: timestampNs,
		RecordType:  recordType,
		Payload:     payloadCopy,
	}, total, nil
}
