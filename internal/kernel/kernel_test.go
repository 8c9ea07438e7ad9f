package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poskernel/core/internal/kernel"
	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/lineitem"
	"github.com/poskernel/core/internal/money"
	"github.com/poskernel/core/internal/txn"
)

func sgd(t *testing.T, minor int64) money.Money {
	t.Helper()
	m, err := money.New("SGD", 2, minor)
	require.NoError(t, err)
	return m
}

func openKernel(t *testing.T) (*kernel.Kernel, string) {
	t.Helper()
	root := t.TempDir()
	k, err := kernel.Open(root, "T1", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k, root
}

// TestSimpleSaleThroughRequestSurface is scenario S1.
func TestSimpleSaleThroughRequestSurface(t *testing.T) {
	k, _ := openKernel(t)

	session, err := k.CreateSession("op1")
	require.NoError(t, err)
	txID, err := k.BeginTx(session, "SGD", 2)
	require.NoError(t, err)

	snap, err := k.AddLine(txID, lineitem.ProductRef{SKU: "KOPI001"}, 1, sgd(t, 140), "")
	require.NoError(t, err)
	assert.Equal(t, int64(140), snap.Total.MinorUnits)

	snap, err = k.AddTender(txID, "cash", sgd(t, 200))
	require.NoError(t, err)
	assert.Equal(t, txn.Completed, snap.State)
	assert.True(t, snap.HasChange)
	assert.Equal(t, int64(60), snap.ChangeDue.MinorUnits)
}

// TestHierarchicalSetVoidCascade is scenario S2.
func TestHierarchicalSetVoidCascade(t *testing.T) {
	k, _ := openKernel(t)

	session, err := k.CreateSession("op1")
	require.NoError(t, err)
	txID, err := k.BeginTx(session, "SGD", 2)
	require.NoError(t, err)

	snap, err := k.AddLine(txID, lineitem.ProductRef{SKU: "TSET001"}, 1, sgd(t, 740), "")
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	a := snap.Lines[0].LineItemID
	assert.Equal(t, uint32(1), snap.Lines[0].LineNumber)

	snap, err = k.AddChildLine(txID, a, lineitem.ProductRef{SKU: "TEH002"}, 1, sgd(t, 0), lineitem.Modification, "")
	require.NoError(t, err)
	b := snap.Lines[1].LineItemID
	assert.Equal(t, uint32(2), snap.Lines[1].LineNumber)

	snap, err = k.AddChildLine(txID, b, lineitem.ProductRef{SKU: "NOSUGAR"}, 1, sgd(t, 0), lineitem.Modification, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), snap.Lines[2].LineNumber)
	assert.Equal(t, int64(740), snap.Total.MinorUnits)

	voided, snap, err := k.VoidLine(txID, a, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b, snap.Lines[2].LineItemID}, voided)
	assert.True(t, snap.Total.IsZero())
	for _, line := range snap.Lines {
		assert.True(t, line.IsVoided)
	}
}

// TestVoidAfterPaymentRejected is scenario S3.
func TestVoidAfterPaymentRejected(t *testing.T) {
	k, _ := openKernel(t)

	session, err := k.CreateSession("op1")
	require.NoError(t, err)
	txID, err := k.BeginTx(session, "SGD", 2)
	require.NoError(t, err)

	snap, err := k.AddLine(txID, lineitem.ProductRef{SKU: "KOPI001"}, 1, sgd(t, 140), "")
	require.NoError(t, err)
	lineID := snap.Lines[0].LineItemID

	_, err = k.AddTender(txID, "cash", sgd(t, 200))
	require.NoError(t, err)

	_, _, err = k.VoidLine(txID, lineID, "")
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.InvalidState, code)

	snap, err = k.GetTx(txID)
	require.NoError(t, err)
	assert.Equal(t, int64(140), snap.Total.MinorUnits)
}

// TestRecoveryRoundTrip is scenario S4: kill the process after the first
// add_child_line (simulated by opening a fresh Kernel over the same data
// directory without calling Close on the first one), then confirm the
// restarted kernel sees exactly the state committed so far.
func TestRecoveryRoundTrip(t *testing.T) {
	root := t.TempDir()

	k1, err := kernel.Open(root, "T1", 0, nil)
	require.NoError(t, err)

	session, err := k1.CreateSession("op1")
	require.NoError(t, err)
	txID, err := k1.BeginTx(session, "SGD", 2)
	require.NoError(t, err)

	snap, err := k1.AddLine(txID, lineitem.ProductRef{SKU: "TSET001"}, 1, sgd(t, 740), "")
	require.NoError(t, err)
	a := snap.Lines[0].LineItemID

	_, err = k1.AddChildLine(txID, a, lineitem.ProductRef{SKU: "TEH002"}, 1, sgd(t, 0), lineitem.Modification, "")
	require.NoError(t, err)

	// Simulate a hard kill: release only the OS lock (as the OS would on
	// process death) without running the graceful WAL-close/registry
	// cleanup path.
	require.NoError(t, k1.SimulateCrash())

	k2, err := kernel.Open(root, "T1", 0, nil)
	require.NoError(t, err)
	defer k2.Close()

	snap, err = k2.GetTx(txID)
	require.NoError(t, err)
	assert.Equal(t, txn.Building, snap.State)
	require.Len(t, snap.Lines, 2)
	assert.False(t, snap.Lines[0].IsVoided)
	assert.False(t, snap.Lines[1].IsVoided)
	assert.Equal(t, int64(740), snap.Total.MinorUnits)

	_, snap, err = k2.VoidLine(txID, a, "")
	require.NoError(t, err)
	assert.True(t, snap.Total.IsZero())
}

// TestCurrencyRigorRejectsMismatchedTenderWithoutWalFrame is scenario S6.
func TestCurrencyRigorRejectsMismatchedTenderWithoutWalFrame(t *testing.T) {
	k, _ := openKernel(t)

	session, err := k.CreateSession("op1")
	require.NoError(t, err)
	txID, err := k.BeginTx(session, "JPY", 0)
	require.NoError(t, err)

	jpy, err := money.New("JPY", 0, 150)
	require.NoError(t, err)
	_, err = k.AddLine(txID, lineitem.ProductRef{SKU: "X"}, 1, jpy, "")
	require.NoError(t, err)

	usd, err := money.New("USD", 2, 200)
	require.NoError(t, err)
	_, err = k.AddTender(txID, "cash", usd)
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.CurrencyMismatch, code)

	snap, err := k.GetTx(txID)
	require.NoError(t, err)
	assert.Equal(t, txn.Building, snap.State)
}

func TestCloseSessionRejectsWhileBuilding(t *testing.T) {
	k, _ := openKernel(t)
	session, err := k.CreateSession("op1")
	require.NoError(t, err)
	_, err = k.BeginTx(session, "SGD", 2)
	require.NoError(t, err)

	err = k.CloseSession(session)
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.SessionBusy, code)
}

func TestAddChildLineRejectsSaleItemType(t *testing.T) {
	k, _ := openKernel(t)
	session, err := k.CreateSession("op1")
	require.NoError(t, err)
	txID, err := k.BeginTx(session, "SGD", 2)
	require.NoError(t, err)
	snap, err := k.AddLine(txID, lineitem.ProductRef{SKU: "A"}, 1, sgd(t, 100), "")
	require.NoError(t, err)

	_, err = k.AddChildLine(txID, snap.Lines[0].LineItemID, lineitem.ProductRef{SKU: "B"}, 1, sgd(t, 0), lineitem.Sale, "")
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.InvalidItemType, code)
}

func TestSecondOpenOnSameTerminalFailsTerminalBusy(t *testing.T) {
	root := t.TempDir()
	k1, err := kernel.Open(root, "T1", 0, nil)
	require.NoError(t, err)
	defer k1.Close()

	_, err = kernel.Open(root, "T1", 0, nil)
	code, ok := kernelerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kernelerr.TerminalBusy, code)
}
