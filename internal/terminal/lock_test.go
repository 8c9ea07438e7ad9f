package terminal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/terminal"
)

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := terminal.Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	lock2, err := terminal.Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestAcquireFailsWhileHeldByThisLiveProcess(t *testing.T) {
	dir := t.TempDir()

	lock, err := terminal.Acquire(dir)
	require.NoError(t, err)
	defer lock.Release()

	// This process's own PID is still alive (it's us), so a second
	// acquisition attempt must not be able to reclaim the lock — it was
	// written by a start-time that matches the live process exactly.
	_, err = terminal.Acquire(dir)
	require.Error(t, err)
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.TerminalBusy, code)
}
