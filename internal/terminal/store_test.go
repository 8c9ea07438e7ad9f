package terminal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/terminal"
	"github.com/poskernel/core/internal/txn"
)

func TestCloseSessionRejectsWhileTxBuilding(t *testing.T) {
	store := terminal.NewStore()
	store.PutSession(&terminal.Session{SessionID: "S1"})

	tx, err := txn.New("TX1", "S1", "SGD", 2)
	require.NoError(t, err)
	store.PutTransaction(tx)

	err = store.CloseSession("S1")
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.SessionBusy, code)
}

func TestCloseSessionSucceedsOnceTxSettled(t *testing.T) {
	store := terminal.NewStore()
	store.PutSession(&terminal.Session{SessionID: "S1"})

	tx, err := txn.New("TX1", "S1", "SGD", 2)
	require.NoError(t, err)
	require.NoError(t, tx.Cancel(""))
	store.PutTransaction(tx)

	require.NoError(t, store.CloseSession("S1"))
	sess, ok := store.Session("S1")
	require.True(t, ok)
	assert.True(t, sess.Closed)
}

func TestCloseSessionNotFound(t *testing.T) {
	store := terminal.NewStore()
	err := store.CloseSession("missing")
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.SessionNotFound, code)
}

func TestTransactionsForSession(t *testing.T) {
	store := terminal.NewStore()
	store.PutSession(&terminal.Session{SessionID: "S1"})
	tx1, _ := txn.New("TX1", "S1", "SGD", 2)
	tx2, _ := txn.New("TX2", "S1", "SGD", 2)
	store.PutTransaction(tx1)
	store.PutTransaction(tx2)

	ids := store.TransactionsForSession("S1")
	assert.ElementsMatch(t, []string{"TX1", "TX2"}, ids)
}
