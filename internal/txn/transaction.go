// Package txn implements the transaction lifecycle state machine
// (spec.md §4.4): Building -> ReadyForPayment -> Completed/Cancelled. It
// owns a LineItemGraph and the tender ledger, and it is the single place
// that decides whether a mutation is currently legal — the WAL and the
// kernel apply its verdicts, they do not second-guess them.
package txn

import (
	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/lineitem"
	"github.com/poskernel/core/internal/money"
)

// State is one of the four lifecycle states from spec.md §3.
type State uint8

const (
	Building State = iota
	ReadyForPayment
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Building:
		return "Building"
	case ReadyForPayment:
		return "ReadyForPayment"
	case Completed:
		return "Completed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Tender is one payment applied toward a transaction's total.
type Tender struct {
	Kind   string
	Amount money.Money
}

// Transaction is the authoritative in-memory state for one sale. It is
// reused both for live mutation (kernel writes a WAL frame, then calls
// the same method) and for WAL replay (recovery calls the same method
// with WAL writes suppressed by construction — Transaction itself never
// touches the WAL).
type Transaction struct {
	TransactionID string
	SessionID     string
	Currency      string
	DecimalPlaces uint8
	State         State
	CancelReason  string

	Graph   *lineitem.Graph
	Tenders []Tender

	nextLineNumber uint32
}

// New begins a transaction in the Building state.
func New(transactionID, sessionID, currency string, decimalPlaces uint8) (*Transaction, error) {
	if len(currency) != 3 {
		return nil, kernelerr.Newf(kernelerr.InvalidCurrency, "currency %q must be a 3-letter ISO 4217 code", currency)
	}
	return &Transaction{
		TransactionID:  transactionID,
		SessionID:      sessionID,
		Currency:       currency,
		DecimalPlaces:  decimalPlaces,
		State:          Building,
		Graph:          lineitem.New(currency, decimalPlaces),
		nextLineNumber: 1,
	}, nil
}

// NextLineNumber allocates (and consumes) the next 1-based insertion
// ordinal. Line numbers are never reused, even after void (spec.md §4.2).
func (t *Transaction) NextLineNumber() uint32 {
	n := t.nextLineNumber
	t.nextLineNumber++
	return n
}

// PeekNextLineNumber previews the next ordinal without consuming it — the
// kernel needs this to build a WAL record before deciding the mutation
// actually happened (validate first, allocate after validation passes).
func (t *Transaction) PeekNextLineNumber() uint32 { return t.nextLineNumber }

// ObserveLineNumber advances the internal line-number counter so it stays
// ahead of a number assigned by WAL replay. AddSale/AddChild take their
// line number as an argument (the kernel allocates it before the WAL
// write); recovery must keep this transaction's own counter in sync so
// that subsequent live allocations never collide with a replayed one.
func (t *Transaction) ObserveLineNumber(n uint32) {
	if n >= t.nextLineNumber {
		t.nextLineNumber = n + 1
	}
}

func (t *Transaction) requireBuilding() error {
	if t.State != Building {
		return kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, not Building", t.State)
	}
	return nil
}

// AddSale adds a top-level line. Only legal in Building.
func (t *Transaction) AddSale(lineItemID string, lineNumber uint32, product lineitem.ProductRef, quantity int32, unitPrice money.Money, notes string) (*lineitem.Item, error) {
	if err := t.requireBuilding(); err != nil {
		return nil, err
	}
	return t.Graph.AddSale(lineItemID, lineNumber, product, quantity, unitPrice, notes)
}

// AddChild adds a child line under parentID. Only legal in Building.
func (t *Transaction) AddChild(lineItemID string, lineNumber uint32, parentID string, product lineitem.ProductRef, quantity int32, unitPrice money.Money, itemType lineitem.ItemType, notes string) (*lineitem.Item, error) {
	if err := t.requireBuilding(); err != nil {
		return nil, err
	}
	return t.Graph.AddChild(lineItemID, lineNumber, parentID, product, quantity, unitPrice, itemType, notes)
}

// UpdateQuantity updates a line's quantity. Only legal in Building — once
// the first tender lands, the graph is frozen (spec.md §4.4).
func (t *Transaction) UpdateQuantity(lineItemID string, newQuantity int32) error {
	if err := t.requireBuilding(); err != nil {
		return err
	}
	return t.Graph.UpdateQuantity(lineItemID, newQuantity)
}

// UpdatePrepNotes updates a line's free-text notes. Only legal in Building.
func (t *Transaction) UpdatePrepNotes(lineItemID, notes string) error {
	if err := t.requireBuilding(); err != nil {
		return err
	}
	return t.Graph.UpdatePrepNotes(lineItemID, notes)
}

// Void voids a line and its descendants. Only legal in Building.
func (t *Transaction) Void(lineItemID, reason string) ([]string, error) {
	if err := t.requireBuilding(); err != nil {
		return nil, err
	}
	return t.Graph.Void(lineItemID, reason)
}

// Total is the sum of non-voided extended prices.
func (t *Transaction) Total() (money.Money, error) {
	return t.Graph.Total()
}

// Tendered is the sum of all tenders applied so far.
func (t *Transaction) Tendered() (money.Money, error) {
	sum, err := money.New(t.Currency, t.DecimalPlaces, 0)
	if err != nil {
		return money.Money{}, err
	}
	for _, tender := range t.Tenders {
		sum, err = sum.Add(tender.Amount)
		if err != nil {
			return money.Money{}, err
		}
	}
	return sum, nil
}

// ChangeDue is tendered-total, defined only once tendered >= total
// (spec.md §3).
func (t *Transaction) ChangeDue() (money.Money, bool, error) {
	tendered, err := t.Tendered()
	if err != nil {
		return money.Money{}, false, err
	}
	total, err := t.Total()
	if err != nil {
		return money.Money{}, false, err
	}
	diff, err := tendered.Sub(total)
	if err != nil {
		return money.Money{}, false, err
	}
	if diff.IsNegative() {
		return money.Money{}, false, nil
	}
	return diff, true, nil
}

// AddTender applies a payment. Legal in Building or ReadyForPayment
// (spec.md §4.10). The first tender moves Building -> ReadyForPayment (if
// still underpaid) or straight to Completed (if it covers the total);
// spec.md §9 resolves the open question on overpayment as "yes for
// cash-like tenders" — the kernel caller decides which kinds are
// cash-like via IsCashLike.
func (t *Transaction) AddTender(kind string, amount money.Money, cashLike bool) error {
	if t.State != Building && t.State != ReadyForPayment {
		return kernelerr.Newf(kernelerr.InvalidState, "transaction is %s, cannot accept tender", t.State)
	}
	if amount.Currency != t.Currency || amount.DecimalPlaces != t.DecimalPlaces {
		if amount.Currency != t.Currency {
			return kernelerr.Newf(kernelerr.CurrencyMismatch, "tender currency %s does not match transaction currency %s", amount.Currency, t.Currency)
		}
		return kernelerr.Newf(kernelerr.DecimalPlacesMismatch, "tender decimal_places %d does not match transaction decimal_places %d", amount.DecimalPlaces, t.DecimalPlaces)
	}

	t.Tenders = append(t.Tenders, Tender{Kind: kind, Amount: amount})

	tendered, err := t.Tendered()
	if err != nil {
		return err
	}
	total, err := t.Total()
	if err != nil {
		return err
	}
	diff, err := tendered.Sub(total)
	if err != nil {
		return err
	}

	switch {
	case diff.IsNegative():
		t.State = ReadyForPayment
	case cashLike || diff.IsZero():
		t.State = Completed
	default:
		// Non-cash-like overpayment: spec.md §9 leaves the exact
		// disposition implementation-defined. We stay in
		// ReadyForPayment rather than silently completing a card
		// transaction for more than its total.
		t.State = ReadyForPayment
	}
	return nil
}

// IsCashLike reports whether a tender kind settles immediately for an
// exact amount never being expected — overpayment on such a tender
// completes the transaction outright rather than waiting in
// ReadyForPayment for exact change to be tendered again. Only "cash" is
// cash-like; for every other kind (card, wallet, voucher, ...) AddTender
// completes the transaction only when the tendered sum equals the total
// exactly, and an overpayment is recorded but leaves it in
// ReadyForPayment.
func IsCashLike(kind string) bool {
	return kind == "cash"
}

// Cancel transitions to Cancelled. Legal from any non-Completed state
// (spec.md §4.10: "not Completed").
func (t *Transaction) Cancel(reason string) error {
	if t.State == Completed {
		return kernelerr.Newf(kernelerr.InvalidState, "transaction is Completed, cannot cancel")
	}
	t.State = Cancelled
	t.CancelReason = reason
	return nil
}
