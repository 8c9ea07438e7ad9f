// Package kernel implements the RequestSurface (spec.md §4.10): the
// single entry point every transport (HTTP/JSON, JSON-RPC, an in-process
// caller) drives. Kernel owns one terminal's WAL, its in-memory Store,
// and the reader-writer discipline that makes mutations on that
// terminal serialize while reads proceed concurrently (spec.md §5).
package kernel

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/poskernel/core/internal/ids"
	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/lineitem"
	"github.com/poskernel/core/internal/metrics"
	"github.com/poskernel/core/internal/money"
	"github.com/poskernel/core/internal/terminal"
	"github.com/poskernel/core/internal/txn"
	"github.com/poskernel/core/internal/wal"
	"github.com/poskernel/core/internal/walrecord"
	log "github.com/poskernel/core/log"
)

// DefaultSegmentBytes is the rotation threshold used when a caller does
// not override it via configuration.
const DefaultSegmentBytes int64 = 64 << 20 // 64 MiB

// Kernel is the live owner of one terminal. Exactly one process may hold
// a Kernel for a given terminal at a time — Open acquires the
// cross-process terminal.Lock and fails with TerminalBusy otherwise.
type Kernel struct {
	terminalID string
	dir        string

	mu      sync.RWMutex
	store   *terminal.Store
	log     *wal.Log
	lock    *terminal.Lock
	ioFatal bool

	registry *terminal.Registry
	metrics  *metrics.Registry
}

// Open acquires the terminal, replays its WAL, and opens the log for
// further appends. root is the data directory (spec.md §6); terminalID
// names the subdirectory under <root>/terminals/.
func Open(root, terminalID string, segmentBytes int64, metricsReg *metrics.Registry) (*Kernel, error) {
	dir := filepath.Join(root, "terminals", terminalID)

	lock, err := terminal.Acquire(dir)
	if err != nil {
		return nil, err
	}

	if metricsReg == nil {
		metricsReg = metrics.New()
	}
	if lock.Reclaimed {
		metricsReg.LockReclamations.Inc()
		log.Warn("reclaimed stale terminal lock from a dead owner", "terminal", terminalID)
	}

	registry, err := terminal.OpenRegistry(filepath.Join(root, "shared", "coordination"))
	if err != nil {
		lock.Release()
		return nil, err
	}
	if err := registry.Upsert(terminal.RegistryEntry{TerminalID: terminalID, PID: os.Getpid(), StartedAtNs: time.Now().UnixNano()}); err != nil {
		lock.Release()
		return nil, err
	}

	rec, err := terminal.Recover(dir)
	if err != nil {
		registry.Remove(terminalID)
		lock.Release()
		return nil, err
	}

	if segmentBytes <= 0 {
		segmentBytes = DefaultSegmentBytes
	}
	walLog, err := wal.OpenForAppend(dir, rec.LastSequence, segmentBytes)
	if err != nil {
		registry.Remove(terminalID)
		lock.Release()
		return nil, err
	}

	for _, tx := range rec.Store.AllTransactions() {
		if tx.State == txn.Building || tx.State == txn.ReadyForPayment {
			metricsReg.OpenTransactions.WithLabelValues(terminalID).Inc()
		}
	}

	k := &Kernel{
		terminalID: terminalID,
		dir:        dir,
		store:      rec.Store,
		log:        walLog,
		lock:       lock,
		registry:   registry,
		metrics:    metricsReg,
	}
	log.Info("terminal recovered and opened", "terminal", terminalID, "lastSequence", rec.LastSequence)
	return k, nil
}

// Close releases the terminal lock, removes this terminal's registry
// entry, and closes the WAL — the graceful-shutdown path of spec.md
// §4.8.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var firstErr error
	if err := k.log.Close(); err != nil {
		firstErr = err
	}
	if err := k.registry.Remove(k.terminalID); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := k.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SimulateCrash releases only the OS-level file lock, exactly what
// happens when a process dies without running its deferred cleanup —
// the registry entry is left stale and the WAL file is left exactly as
// fsynced. It exists for recovery tests (spec.md §8 scenario "recovery
// round-trip"); production callers use Close.
func (k *Kernel) SimulateCrash() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lock.ReleaseLockOnly()
}

// append runs the spec.md §4.5 durability contract for one WAL record:
// encode, write, fsync. Callers
// apply the in-memory mutation only after append succeeds. A write or
// fsync failure sets ioFatal and every subsequent mutation is rejected
// with IoFatal until the process restarts and recovers fresh (spec.md
// §4.10, "Failure semantics").
func (k *Kernel) append(recordType walrecord.Type, record interface{}) error {
	if k.ioFatal {
		return kernelerr.New(kernelerr.IoFatal, "terminal is in read-only mode after a prior fsync failure")
	}
	start := time.Now()
	_, err := k.log.Append(recordType, record)
	k.metrics.WalCommitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if code, ok := kernelerr.CodeOf(err); ok && code == kernelerr.IoFatal {
			k.ioFatal = true
			k.metrics.WalFsyncFailures.Inc()
			log.Error("wal commit failed, entering read-only mode", "terminal", k.terminalID, "error", err)
		}
		return err
	}
	return nil
}

func (k *Kernel) recordOp(operation string, err error) {
	k.metrics.RequestsTotal.WithLabelValues(operation).Inc()
	if err != nil {
		code, ok := kernelerr.CodeOf(err)
		if !ok {
			code = kernelerr.Internal
		}
		k.metrics.RequestFailuresTotal.WithLabelValues(operation, string(code)).Inc()
	}
}

// CreateSession opens a new operator session on this terminal.
func (k *Kernel) CreateSession(operatorID string) (sessionID string, err error) {
	defer func() { k.recordOp("create_session", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	sessionID, err = ids.New()
	if err != nil {
		return "", kernelerr.Wrap(kernelerr.Internal, "allocating session id", err)
	}
	if err = k.append(walrecord.SessionOpen, walrecord.SessionOpenPayload{SessionID: sessionID, OperatorID: operatorID}); err != nil {
		return "", err
	}
	k.store.PutSession(&terminal.Session{SessionID: sessionID, OperatorID: operatorID})
	return sessionID, nil
}

// CloseSession closes a session once none of its transactions are still
// Building.
func (k *Kernel) CloseSession(sessionID string) (err error) {
	defer func() { k.recordOp("close_session", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.store.Session(sessionID); !ok {
		return kernelerr.New(kernelerr.SessionNotFound, "session not found")
	}
	for _, txID := range k.store.TransactionsForSession(sessionID) {
		tx, ok := k.store.Transaction(txID)
		if ok && tx.State == txn.Building {
			return kernelerr.New(kernelerr.SessionBusy, "session has a transaction still building")
		}
	}
	if err = k.append(walrecord.SessionClose, walrecord.SessionClosePayload{SessionID: sessionID}); err != nil {
		return err
	}
	return k.store.CloseSession(sessionID)
}

// BeginTx opens a new transaction under an existing session.
func (k *Kernel) BeginTx(sessionID, currency string, decimalPlaces uint8) (txID string, err error) {
	defer func() { k.recordOp("begin_tx", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.store.Session(sessionID); !ok {
		return "", kernelerr.New(kernelerr.SessionNotFound, "session not found")
	}

	txID, err = ids.New()
	if err != nil {
		return "", kernelerr.Wrap(kernelerr.Internal, "allocating transaction id", err)
	}
	tx, err := txn.New(txID, sessionID, currency, decimalPlaces)
	if err != nil {
		return "", err
	}
	if err = k.append(walrecord.TxBegin, walrecord.TxBeginPayload{TxID: txID, SessionID: sessionID, Currency: currency, DecimalPlaces: decimalPlaces}); err != nil {
		return "", err
	}
	k.store.PutTransaction(tx)
	k.metrics.OpenTransactions.WithLabelValues(k.terminalID).Inc()
	return txID, nil
}

func (k *Kernel) transaction(txID string) (*txn.Transaction, error) {
	tx, ok := k.store.Transaction(txID)
	if !ok {
		return nil, kernelerr.New(kernelerr.TxNotFound, "transaction not found")
	}
	return tx, nil
}

// AddLine adds a top-level sale line.
func (k *Kernel) AddLine(txID string, product lineitem.ProductRef, quantity int32, unitPrice money.Money, prepNotes string) (snap TxSnapshot, err error) {
	defer func() { k.recordOp("add_line", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.transaction(txID)
	if err != nil {
		return TxSnapshot{}, err
	}
	lineItemID, err := ids.New()
	if err != nil {
		return TxSnapshot{}, kernelerr.Wrap(kernelerr.Internal, "allocating line item id", err)
	}
	lineNumber := tx.PeekNextLineNumber()

	if err = validateAddSale(tx, product, quantity, unitPrice); err != nil {
		return TxSnapshot{}, err
	}

	payload := walrecord.LineAddPayload{
		TxID: txID, LineNumber: lineNumber, LineItemID: lineItemID,
		ProductSKU: product.SKU, ProductName: product.Name, ProductDescription: product.Description,
		ItemType: uint8(lineitem.Sale), Quantity: uint32(quantity), UnitPriceMinor: unitPrice.MinorUnits, PrepNotes: prepNotes,
	}
	if err = k.append(walrecord.LineAdd, payload); err != nil {
		return TxSnapshot{}, err
	}
	if _, err = tx.AddSale(lineItemID, tx.NextLineNumber(), product, quantity, unitPrice, prepNotes); err != nil {
		// Unreachable in practice: validateAddSale already checked every
		// precondition AddSale itself enforces. If this ever fires, the
		// WAL and memory have diverged — that is an IoFatal-class bug,
		// surfaced rather than silently ignored.
		return TxSnapshot{}, kernelerr.Wrap(kernelerr.Internal, "wal record committed but apply failed", err)
	}
	return snapshotOf(tx), nil
}

// AddChildLine adds a child line beneath parentID.
func (k *Kernel) AddChildLine(txID, parentID string, product lineitem.ProductRef, quantity int32, unitPrice money.Money, itemType lineitem.ItemType, prepNotes string) (snap TxSnapshot, err error) {
	defer func() { k.recordOp("add_child_line", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.transaction(txID)
	if err != nil {
		return TxSnapshot{}, err
	}
	lineItemID, err := ids.New()
	if err != nil {
		return TxSnapshot{}, kernelerr.Wrap(kernelerr.Internal, "allocating line item id", err)
	}
	lineNumber := tx.PeekNextLineNumber()

	if err = validateAddChild(tx, parentID, product, quantity, unitPrice, itemType); err != nil {
		return TxSnapshot{}, err
	}

	payload := walrecord.LineAddPayload{
		TxID: txID, LineNumber: lineNumber, LineItemID: lineItemID, ParentLineItemID: parentID,
		ProductSKU: product.SKU, ProductName: product.Name, ProductDescription: product.Description,
		ItemType: uint8(itemType), Quantity: uint32(quantity), UnitPriceMinor: unitPrice.MinorUnits, PrepNotes: prepNotes,
	}
	if err = k.append(walrecord.LineAdd, payload); err != nil {
		return TxSnapshot{}, err
	}
	if _, err = tx.AddChild(lineItemID, tx.NextLineNumber(), parentID, product, quantity, unitPrice, itemType, prepNotes); err != nil {
		return TxSnapshot{}, kernelerr.Wrap(kernelerr.Internal, "wal record committed but apply failed", err)
	}
	return snapshotOf(tx), nil
}

// UpdateLineQty changes a line's quantity.
func (k *Kernel) UpdateLineQty(txID, lineItemID string, newQuantity int32) (snap TxSnapshot, err error) {
	defer func() { k.recordOp("update_line_qty", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.transaction(txID)
	if err != nil {
		return TxSnapshot{}, err
	}
	if err = validateUpdateQuantity(tx, lineItemID, newQuantity); err != nil {
		return TxSnapshot{}, err
	}
	if err = k.append(walrecord.LineUpdateQty, walrecord.LineUpdateQtyPayload{TxID: txID, LineItemID: lineItemID, NewQty: uint32(newQuantity)}); err != nil {
		return TxSnapshot{}, err
	}
	if err = tx.UpdateQuantity(lineItemID, newQuantity); err != nil {
		return TxSnapshot{}, kernelerr.Wrap(kernelerr.Internal, "wal record committed but apply failed", err)
	}
	return snapshotOf(tx), nil
}

// UpdateLinePrepNotes changes a line's free-text preparation notes.
func (k *Kernel) UpdateLinePrepNotes(txID, lineItemID, notes string) (err error) {
	defer func() { k.recordOp("update_line_prep_notes", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.transaction(txID)
	if err != nil {
		return err
	}
	if tx.State != txn.Building {
		return kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, not Building", tx.State)
	}
	if _, ok := tx.Graph.Get(lineItemID); !ok {
		return kernelerr.New(kernelerr.LineNotFound, "line item not found")
	}
	if err = k.append(walrecord.LineUpdatePrepNotes, walrecord.LineUpdatePrepNotesPayload{TxID: txID, LineItemID: lineItemID, Notes: notes}); err != nil {
		return err
	}
	return tx.UpdatePrepNotes(lineItemID, notes)
}

// VoidLine voids a line and cascades to its descendants.
func (k *Kernel) VoidLine(txID, lineItemID, reason string) (voided []string, snap TxSnapshot, err error) {
	defer func() { k.recordOp("void_line", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.transaction(txID)
	if err != nil {
		return nil, TxSnapshot{}, err
	}
	if tx.State != txn.Building {
		return nil, TxSnapshot{}, kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, not Building", tx.State)
	}
	item, ok := tx.Graph.Get(lineItemID)
	if !ok {
		return nil, TxSnapshot{}, kernelerr.New(kernelerr.LineNotFound, "line item not found")
	}
	if item.IsVoided {
		// Idempotent: no WAL entry, matching spec.md §4.3.
		return nil, snapshotOf(tx), nil
	}

	cascaded := previewVoidCascade(tx, lineItemID)
	if err = k.append(walrecord.LineVoid, walrecord.LineVoidPayload{TxID: txID, LineItemID: lineItemID, Reason: reason, CascadedIDs: cascaded}); err != nil {
		return nil, TxSnapshot{}, err
	}
	voided, err = tx.Void(lineItemID, reason)
	if err != nil {
		return nil, TxSnapshot{}, kernelerr.Wrap(kernelerr.Internal, "wal record committed but apply failed", err)
	}
	return voided, snapshotOf(tx), nil
}

// AddTender applies a payment toward a transaction's total.
func (k *Kernel) AddTender(txID, kind string, amount money.Money) (snap TxSnapshot, err error) {
	defer func() { k.recordOp("add_tender", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.transaction(txID)
	if err != nil {
		return TxSnapshot{}, err
	}
	if tx.State != txn.Building && tx.State != txn.ReadyForPayment {
		return TxSnapshot{}, kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, cannot accept tender", tx.State)
	}
	if amount.Currency != tx.Currency {
		return TxSnapshot{}, kernelerr.Newf(kernelerr.CurrencyMismatch, "tender currency %s does not match transaction currency %s", amount.Currency, tx.Currency)
	}
	if amount.DecimalPlaces != tx.DecimalPlaces {
		return TxSnapshot{}, kernelerr.Newf(kernelerr.DecimalPlacesMismatch, "tender decimal_places %d does not match transaction decimal_places %d", amount.DecimalPlaces, tx.DecimalPlaces)
	}

	if err = k.append(walrecord.TenderAdd, walrecord.TenderAddPayload{TxID: txID, Kind: kind, AmountMinor: uint64(amount.MinorUnits)}); err != nil {
		return TxSnapshot{}, err
	}
	wasOpen := tx.State != txn.Completed
	if err = tx.AddTender(kind, amount, txn.IsCashLike(kind)); err != nil {
		return TxSnapshot{}, kernelerr.Wrap(kernelerr.Internal, "wal record committed but apply failed", err)
	}
	if wasOpen && tx.State == txn.Completed {
		if err = k.append(walrecord.TxComplete, walrecord.TxCompletePayload{TxID: txID}); err != nil {
			// The transaction already completed in memory; a failure here
			// only affects the audit marker and flips the terminal
			// read-only, it does not roll back the completed sale.
			return TxSnapshot{}, err
		}
		k.metrics.OpenTransactions.WithLabelValues(k.terminalID).Dec()
	}
	return snapshotOf(tx), nil
}

// GetTx returns a read-only snapshot of a transaction. Reads take the
// shared (read) side of the lock, so they proceed concurrently with
// each other and are only ordered against writers (spec.md §5).
func (k *Kernel) GetTx(txID string) (snap TxSnapshot, err error) {
	defer func() { k.recordOp("get_tx", err) }()

	k.mu.RLock()
	defer k.mu.RUnlock()

	tx, ok := k.store.Transaction(txID)
	if !ok {
		return TxSnapshot{}, kernelerr.New(kernelerr.TxNotFound, "transaction not found")
	}
	return snapshotOf(tx), nil
}

// CancelTx cancels a transaction that has not yet completed.
func (k *Kernel) CancelTx(txID, reason string) (err error) {
	defer func() { k.recordOp("cancel_tx", err) }()

	k.mu.Lock()
	defer k.mu.Unlock()

	tx, err := k.transaction(txID)
	if err != nil {
		return err
	}
	if tx.State == txn.Completed {
		return kernelerr.New(kernelerr.InvalidState, "transaction is Completed, cannot cancel")
	}
	if err = k.append(walrecord.TxCancel, walrecord.TxCancelPayload{TxID: txID, Reason: reason}); err != nil {
		return err
	}
	wasOpen := tx.State != txn.Completed && tx.State != txn.Cancelled
	if err = tx.Cancel(reason); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "wal record committed but apply failed", err)
	}
	if wasOpen {
		k.metrics.OpenTransactions.WithLabelValues(k.terminalID).Dec()
	}
	return nil
}

// previewVoidCascade computes which line IDs a void would cascade to
// without mutating anything, so the WAL record can carry the final
// cascade list even though it is written before the mutation is applied
// (spec.md §4.5 step order: validate, encode, write, apply).
func previewVoidCascade(tx *txn.Transaction, lineItemID string) []string {
	var ids []string
	var visit func(id string)
	visit = func(id string) {
		item, ok := tx.Graph.Get(id)
		if !ok || item.IsVoided {
			return
		}
		ids = append(ids, id)
		for _, child := range tx.Graph.Items() {
			if child.ParentLineItemID == id && !child.IsVoided {
				visit(child.LineItemID)
			}
		}
	}
	visit(lineItemID)
	return ids
}

func validateAddSale(tx *txn.Transaction, product lineitem.ProductRef, quantity int32, unitPrice money.Money) error {
	if tx.State != txn.Building {
		return kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, not Building", tx.State)
	}
	if unitPrice.Currency != tx.Currency || unitPrice.DecimalPlaces != tx.DecimalPlaces {
		return kernelerr.New(kernelerr.CurrencyMismatch, "unit price currency/decimal_places do not match transaction")
	}
	if quantity < 1 {
		return kernelerr.New(kernelerr.InvalidQuantity, "quantity must be >= 1")
	}
	return nil
}

func validateAddChild(tx *txn.Transaction, parentID string, product lineitem.ProductRef, quantity int32, unitPrice money.Money, itemType lineitem.ItemType) error {
	if tx.State != txn.Building {
		return kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, not Building", tx.State)
	}
	if itemType == lineitem.Sale {
		return kernelerr.New(kernelerr.InvalidItemType, "child lines cannot use item_type Sale")
	}
	parent, ok := tx.Graph.Get(parentID)
	if !ok {
		return kernelerr.New(kernelerr.LineNotFound, "parent line item not found")
	}
	if parent.IsVoided {
		return kernelerr.New(kernelerr.ParentVoided, "parent line item is voided")
	}
	if unitPrice.Currency != tx.Currency || unitPrice.DecimalPlaces != tx.DecimalPlaces {
		return kernelerr.New(kernelerr.CurrencyMismatch, "unit price currency/decimal_places do not match transaction")
	}
	if quantity < 1 {
		return kernelerr.New(kernelerr.InvalidQuantity, "quantity must be >= 1")
	}
	return nil
}

func validateUpdateQuantity(tx *txn.Transaction, lineItemID string, newQuantity int32) error {
	if tx.State != txn.Building {
		return kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, not Building", tx.State)
	}
	item, ok := tx.Graph.Get(lineItemID)
	if !ok || item.IsVoided {
		return kernelerr.New(kernelerr.LineNotFound, "line item not found")
	}
	if newQuantity < 1 {
		return kernelerr.New(kernelerr.InvalidQuantity, "new_quantity must be >= 1")
	}
	return nil
}
