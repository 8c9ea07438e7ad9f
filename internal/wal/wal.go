// Package wal implements the per-terminal write-ahead log (spec.md §4.5):
// an append-only, checksummed, sequenced, fsync-on-commit record of every
// state-changing action. Nothing in this package ever rewrites a byte
// that has already been fsynced — rotation starts a new file, it never
// edits an old one.
package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rlp "github.com/luxfi/geth/rlp"

	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/walrecord"
)

const baseFileName = "transaction.wal"

// SchemaVersion is carried in every TerminalOpen record; recovery refuses
// to replay a version it does not understand (spec.md §9).
const SchemaVersion uint32 = 1

// Log is the active, append-only WAL writer for one terminal. All of its
// exported methods are safe to call from multiple goroutines within this
// process — the spec's "single writer per terminal" guarantee is about
// cross-process ownership (TerminalLock), not about this type being
// single-threaded internally.
type Log struct {
	mu sync.Mutex

	dir          string
	file         *os.File
	segmentIndex int // 0 = base file, n = transaction.wal.n
	segmentBytes int64
	bytesWritten int64

	lastSequence uint64
}

// OpenForAppend opens (or creates) the active segment in dir, ready to
// append starting right after lastSequence (the sequence Recovery left
// off at). segmentBytes of 0 disables rotation.
func OpenForAppend(dir string, lastSequence uint64, segmentBytes int64) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: creating terminal dir: %w", err)
	}

	segments, err := segmentFiles(dir)
	if err != nil {
		return nil, err
	}

	l := &Log{dir: dir, segmentBytes: segmentBytes, lastSequence: lastSequence}

	var path string
	var idx int
	if len(segments) == 0 {
		path = filepath.Join(dir, baseFileName)
		idx = 0
	} else {
		last := segments[len(segments)-1]
		path = filepath.Join(dir, last)
		idx = segmentIndexOf(last)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	l.file = f
	l.segmentIndex = idx
	l.bytesWritten = info.Size()

	if len(segments) == 0 {
		if err := l.appendLocked(walrecord.TerminalOpen, walrecord.TerminalOpenPayload{SchemaVersion: SchemaVersion}); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Close closes the active segment. It does not fsync: Append already
// fsynced every frame before returning.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Append encodes record with RLP, frames it, writes it, and fsyncs
// before returning — the durability contract of spec.md §4.5 steps 2-3.
// It returns the sequence number the record was committed at. A write or
// fsync failure is returned as *kernelerr.Error{Code: IoFatal}; the
// caller (the kernel) is responsible for entering read-only mode for
// this terminal afterward, since the WAL itself cannot know whether
// other callers are mid-mutation.
func (l *Log) Append(recordType walrecord.Type, record interface{}) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(recordType, record)
}

func (l *Log) appendLocked(recordType walrecord.Type, record interface{}) (uint64, error) {
	payload, err := rlp.EncodeToBytes(record)
	if err != nil {
		return 0, kernelerr.Wrap(kernelerr.Internal, "encoding wal record", err)
	}

	sequence := l.lastSequence + 1
	frame := encodeFrame(sequence, time.Now().UnixNano(), recordType, payload)

	if _, err := l.file.Write(frame); err != nil {
		return 0, kernelerr.Wrap(kernelerr.IoFatal, "writing wal frame", err)
	}
	if err := l.file.Sync(); err != nil {
		return 0, kernelerr.Wrap(kernelerr.IoFatal, "fsync wal frame", err)
	}

	l.lastSequence = sequence
	l.bytesWritten += int64(len(frame))

	if recordType != walrecord.TerminalOpen {
		if err := l.maybeRotateLocked(); err != nil {
			return 0, err
		}
	}
	return sequence, nil
}

func (l *Log) maybeRotateLocked() error {
	if l.segmentBytes <= 0 || l.bytesWritten < l.segmentBytes {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return kernelerr.Wrap(kernelerr.IoFatal, "closing segment before rotation", err)
	}

	l.segmentIndex++
	path := filepath.Join(l.dir, fmt.Sprintf("%s.%d", baseFileName, l.segmentIndex))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kernelerr.Wrap(kernelerr.IoFatal, "opening rotated segment", err)
	}
	l.file = f
	l.bytesWritten = 0

	// The new segment's first record carries the continuation sequence
	// (spec.md §4.5, "Rotation").
	if _, err := l.appendLocked(walrecord.TerminalOpen, walrecord.TerminalOpenPayload{SchemaVersion: SchemaVersion}); err != nil {
		return err
	}
	return nil
}

// LastSequence returns the sequence number of the most recently committed
// frame.
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSequence
}

func segmentIndexOf(name string) int {
	if name == baseFileName {
		return 0
	}
	suffix := strings.TrimPrefix(name, baseFileName+".")
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return n
}

// segmentFiles lists a terminal's WAL segments in replay order: the base
// file first, then rotated segments in increasing numeric order — the
// same order they were created in (spec.md §4.5: "Recovery scans files
// in lexicographic order by creation timestamp").
func segmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: reading %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == baseFileName || strings.HasPrefix(name, baseFileName+".") {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return segmentIndexOf(names[i]) < segmentIndexOf(names[j])
	})
	return names, nil
}

// HasSegments reports whether a terminal directory already has a WAL.
func HasSegments(dir string) (bool, error) {
	segments, err := segmentFiles(dir)
	if err != nil {
		return false, err
	}
	return len(segments) > 0, nil
}

// DecodedFrame is a Frame with its absolute byte offset within its
// segment file, for corruption reporting.
type DecodedFrame struct {
	Frame
	SegmentFile string
	Offset      int64
}

// Replay streams every frame across a terminal's WAL segments, in order,
// calling onFrame for each. It enforces strict sequence monotonicity
// across segment boundaries and verifies every CRC. On the first
// violation it stops and returns a *kernelerr.Error{Code: WalCorrupt}
// naming the segment file and byte offset (spec.md §4.6).
func Replay(dir string, onFrame func(DecodedFrame) error) (lastSequence uint64, err error) {
	segments, err := segmentFiles(dir)
	if err != nil {
		return 0, err
	}

	var expected uint64 = 1
	first := true

	for _, name := range segments {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("wal: opening %s: %w", path, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return 0, fmt.Errorf("wal: reading %s: %w", path, err)
		}

		var offset int64
		for len(data) > 0 {
			frame, n, decodeErr := decodeFrame(data)
			if decodeErr != nil {
				if kerr, ok := decodeErr.(*kernelerr.Error); ok {
					kerr.Offset += offset
					kerr.Message = fmt.Sprintf("%s: %s (segment %s, offset %d)", kerr.Code, kerr.Reason, name, kerr.Offset)
				}
				return 0, decodeErr
			}

			if frame.Sequence != expected {
				return 0, kernelerr.WalCorruptAt(offset, fmt.Sprintf("expected sequence %d, got %d in segment %s", expected, frame.Sequence, name))
			}
			first = false

			decoded := DecodedFrame{Frame: frame, SegmentFile: name, Offset: offset}
			if err := onFrame(decoded); err != nil {
				return 0, err
			}

			expected = frame.Sequence + 1
			offset += int64(n)
			data = data[n:]
		}
	}

	if first {
		return 0, nil
	}
	return expected - 1, nil
}

// Verify walks every frame in dir without applying any of them and
// returns how many frames passed — a read-only corruption check.
// Recovery and the inspect-wal CLI tool call Replay directly, which
// applies the same checks.
func Verify(dir string) (framesOK uint64, err error) {
	var count uint64
	_, err = Replay(dir, func(DecodedFrame) error {
		count++
		return nil
	})
	return count, err
}

// DecodePayload decodes an RLP payload into dst (a pointer), dispatched
// by the record type stored alongside it.
func DecodePayload(payload []byte, dst interface{}) error {
	if err := rlp.DecodeBytes(payload, dst); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "decoding wal payload", err)
	}
	return nil
}
