package wal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/wal"
	"github.com/poskernel/core/internal/walrecord"
)

func TestAppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.OpenForAppend(dir, 0, 0)
	require.NoError(t, err)

	seq, err := log.Append(walrecord.TxBegin, walrecord.TxBeginPayload{
		TxID: "TX1", SessionID: "S1", Currency: "SGD", DecimalPlaces: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq) // sequence 1 was the genesis TerminalOpen

	seq, err = log.Append(walrecord.LineAdd, walrecord.LineAddPayload{
		TxID: "TX1", LineNumber: 1, LineItemID: "A", ProductSKU: "KOPI001", Quantity: 1, UnitPriceMinor: 140,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	require.NoError(t, log.Close())

	var types []walrecord.Type
	lastSeq, err := wal.Replay(dir, func(f wal.DecodedFrame) error {
		types = append(types, f.RecordType)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lastSeq)
	assert.Equal(t, []walrecord.Type{walrecord.TerminalOpen, walrecord.TxBegin, walrecord.LineAdd}, types)

	var decoded walrecord.LineAddPayload
	_, err = wal.Replay(dir, func(f wal.DecodedFrame) error {
		if f.RecordType == walrecord.LineAdd {
			return wal.DecodePayload(f.Payload, &decoded)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "KOPI001", decoded.ProductSKU)
	assert.Equal(t, int64(140), decoded.UnitPriceMinor)
}

func TestReplayDetectsCRCCorruption(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.OpenForAppend(dir, 0, 0)
	require.NoError(t, err)
	_, err = log.Append(walrecord.TxBegin, walrecord.TxBeginPayload{TxID: "TX1", SessionID: "S1", Currency: "SGD", DecimalPlaces: 2})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	path := filepath.Join(dir, "transaction.wal")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 30)
	data[len(data)-1] ^= 0xFF // flip a byte in the trailing CRC of the last frame
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = wal.Replay(dir, func(wal.DecodedFrame) error { return nil })
	require.Error(t, err)
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.WalCorrupt, code)
}

func TestReplayDetectsTruncatedFinalFrame(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.OpenForAppend(dir, 0, 0)
	require.NoError(t, err)
	_, err = log.Append(walrecord.TxBegin, walrecord.TxBeginPayload{TxID: "TX1", SessionID: "S1", Currency: "SGD", DecimalPlaces: 2})
	require.NoError(t, err)
	_, err = log.Append(walrecord.TxComplete, walrecord.TxCompletePayload{TxID: "TX1"})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	path := filepath.Join(dir, "transaction.wal")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Cut 20 bytes off the end, leaving only the first part of the final
	// frame. Replay accepts no partial frame at the tail: it reports
	// WalCorrupt.
	truncated := data[:len(data)-20]
	require.NoError(t, os.WriteFile(path, truncated, 0o644))

	_, err = wal.Replay(dir, func(wal.DecodedFrame) error { return nil })
	require.Error(t, err)
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.WalCorrupt, code)
}

func TestEmptyDirYieldsNoFrames(t *testing.T) {
	dir := t.TempDir()
	has, err := wal.HasSegments(dir)
	require.NoError(t, err)
	assert.False(t, has)

	lastSeq, err := wal.Replay(dir, func(wal.DecodedFrame) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(0), lastSeq)
}

func TestRotationCreatesNewSegmentWithContinuationOpen(t *testing.T) {
	dir := t.TempDir()

	log, err := wal.OpenForAppend(dir, 0, 40) // tiny threshold forces rotation quickly
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := log.Append(walrecord.TenderAdd, walrecord.TenderAddPayload{TxID: "TX1", Kind: "cash", AmountMinor: uint64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(entries), 1, "expected rotation to create additional segment files")

	var opens int
	_, err = wal.Replay(dir, func(f wal.DecodedFrame) error {
		if f.RecordType == walrecord.TerminalOpen {
			opens++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, opens, 1, "expected more than the genesis TerminalOpen across rotated segments")
}
