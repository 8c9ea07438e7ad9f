package terminal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/poskernel/core/internal/kernelerr"
)

const lockFileName = "terminal.lock"

// lockPayload is the JSON body written into terminal.lock: the owning
// process's identity, used to tell a live owner from a crash-orphaned
// lock (spec.md §4.8).
type lockPayload struct {
	PID         int   `json:"pid"`
	StartedAtNs int64 `json:"started_at_ns"`
}

// Lock is the exclusive, cross-process ownership lock for one terminal
// (spec.md §4.8). Exactly one process may hold it at a time. A process
// that dies without releasing it leaves its lock file behind, but the OS
// drops the flock itself, so the next acquirer takes the flock directly
// and overwrites the recorded owner. The recorded PID and start time are
// consulted only when the flock is still held (see tryReclaim).
type Lock struct {
	path      string
	flock     *flock.Flock
	Reclaimed bool
}

// Acquire attempts to take ownership of the terminal at dir (the
// terminal's data directory). On failure to acquire immediately, it
// inspects the existing lock file: if the recorded owner process no
// longer exists, or exists but its start time no longer matches (a PID
// reused by an unrelated process), the lock is reclaimed. Otherwise it
// fails with TerminalBusy.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("terminal: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, lockFileName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("terminal: locking %s: %w", path, err)
	}
	reclaimed := false
	if !ok {
		reclaimed, err = tryReclaim(path, fl)
		if err != nil {
			return nil, err
		}
		if !reclaimed {
			return nil, kernelerr.New(kernelerr.TerminalBusy, "terminal is owned by another live process")
		}
	}

	started, err := processStartTime(os.Getpid())
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("terminal: reading own start time: %w", err)
	}
	payload := lockPayload{PID: os.Getpid(), StartedAtNs: started}
	body, err := json.Marshal(payload)
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("terminal: encoding lock payload: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("terminal: writing lock payload: %w", err)
	}

	return &Lock{path: path, flock: fl, Reclaimed: reclaimed}, nil
}

// tryReclaim reads the existing lock file's recorded owner and, if that
// owner is provably dead (no such PID, or the PID exists but its process
// start time no longer matches what was recorded — meaning the PID was
// recycled), truncates and relocks. It returns false, nil if the owner
// is still alive and the lock should be left alone.
func tryReclaim(path string, fl *flock.Flock) (bool, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No payload to judge staleness by; try once more for a lock
			// that was released between our TryLock and this read.
			return fl.TryLock()
		}
		return false, fmt.Errorf("terminal: reading lock file: %w", err)
	}

	var recorded lockPayload
	if err := json.Unmarshal(body, &recorded); err != nil {
		// An unparsable lock file cannot be trusted to belong to a live
		// owner; treat it as stale rather than refusing service forever.
		return fl.TryLock()
	}

	liveStart, err := processStartTime(recorded.PID)
	if err != nil || liveStart != recorded.StartedAtNs {
		// Either the PID doesn't exist anymore, or it exists but belongs
		// to a different process than the one that wrote this lock.
		if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("terminal: truncating stale lock: %w", err)
		}
		return fl.TryLock()
	}

	return false, nil
}

// Release unlocks and removes the lock file, the graceful-shutdown path
// of spec.md §4.8. On abnormal process exit the OS releases the flock
// automatically and the lock file is left behind; the next Acquire locks
// it and overwrites its payload.
func (l *Lock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("terminal: unlocking: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("terminal: removing lock file: %w", err)
	}
	return nil
}

// ReleaseLockOnly unlocks the flock without removing the lock file,
// mirroring what the OS does on an abnormal process exit: the file stays
// in place with the old payload, and the next Acquire takes the free
// flock directly and overwrites that payload without calling tryReclaim.
func (l *Lock) ReleaseLockOnly() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("terminal: unlocking: %w", err)
	}
	return nil
}

// processStartTime returns a value that is stable for the lifetime of
// pid and changes (or becomes unreadable) once that PID is recycled by
// the OS for a different process. Linux exposes this as field 22 of
// /proc/<pid>/stat (the process's start time in clock ticks since boot);
// on any other platform, or if /proc is unavailable, we fall back to
// treating "process exists" as the signal, which is weaker but matches
// spec.md's "if the PID does not exist" clause — PID recycling races on
// non-Linux platforms are accepted as an out-of-scope corner case.
func processStartTime(pid int) (int64, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("terminal: invalid pid %d", pid)
	}
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	body, err := os.ReadFile(statPath)
	if err != nil {
		if err := processExists(pid); err != nil {
			return 0, err
		}
		// /proc unavailable on this platform; fall back to a constant so
		// "exists" is the only signal used.
		return 1, nil
	}
	return parseStatStartTime(body)
}

// parseStatStartTime extracts field 22 (starttime) from the contents of
// /proc/<pid>/stat. The second field, the command name in parentheses,
// may itself contain spaces or parentheses, so splitting is anchored on
// the last ')' rather than by naive whitespace splitting.
func parseStatStartTime(body []byte) (int64, error) {
	s := string(body)
	close := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ')' {
			close = i
			break
		}
	}
	if close < 0 || close+2 >= len(s) {
		return 0, fmt.Errorf("terminal: malformed /proc stat line")
	}
	rest := s[close+2:]
	var fields []string
	start := 0
	for i := 0; i <= len(rest); i++ {
		if i == len(rest) || rest[i] == ' ' {
			if i > start {
				fields = append(fields, rest[start:i])
			}
			start = i + 1
		}
	}
	// fields[0] is state (field 3); starttime is field 22, i.e. index 19
	// in this zero-based slice starting from field 3.
	const starttimeIndex = 22 - 3
	if len(fields) <= starttimeIndex {
		return 0, fmt.Errorf("terminal: /proc stat line too short")
	}
	var v int64
	_, err := fmt.Sscanf(fields[starttimeIndex], "%d", &v)
	if err != nil {
		return 0, fmt.Errorf("terminal: parsing starttime field: %w", err)
	}
	return v, nil
}

func processExists(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	// On Unix, FindProcess always succeeds; signal 0 is the portable
	// liveness probe.
	return proc.Signal(syscall.Signal(0))
}
