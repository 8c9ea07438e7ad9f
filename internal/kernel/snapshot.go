package kernel

import (
	"github.com/poskernel/core/internal/lineitem"
	"github.com/poskernel/core/internal/money"
	"github.com/poskernel/core/internal/txn"
)

// LineSnapshot is one rendered line in a TxSnapshot — every field a
// receipt renderer or client UI needs, including voided lines (spec.md
// §4.10: "the full line list (including voided)").
type LineSnapshot struct {
	LineItemID       string
	LineNumber       uint32
	ParentLineItemID string
	Product          lineitem.ProductRef
	Quantity         int32
	UnitPrice        money.Money
	ExtendedPrice    money.Money
	ItemType         lineitem.ItemType
	PrepNotes        string
	IsVoided         bool
	VoidReason       string
}

// TxSnapshot is the read-only view of a transaction returned by GetTx
// and by every mutating operation's "updated totals" result (spec.md
// §4.10).
type TxSnapshot struct {
	TransactionID string
	SessionID     string
	Currency      string
	DecimalPlaces uint8
	State         txn.State
	CancelReason  string

	Lines []LineSnapshot

	Total      money.Money
	Tendered   money.Money
	ChangeDue  money.Money
	HasChange  bool
}

func snapshotOf(tx *txn.Transaction) TxSnapshot {
	items := tx.Graph.Items()
	lines := make([]LineSnapshot, 0, len(items))
	for _, item := range items {
		extended, err := item.ExtendedPrice()
		if err != nil {
			// Quantity*unit_price already overflow-checked at insertion;
			// this recomputation cannot fail in practice.
			extended = item.UnitPrice
		}
		lines = append(lines, LineSnapshot{
			LineItemID:       item.LineItemID,
			LineNumber:       item.LineNumber,
			ParentLineItemID: item.ParentLineItemID,
			Product:          item.Product,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			ExtendedPrice:    extended,
			ItemType:         item.ItemType,
			PrepNotes:        item.PreparationNotes,
			IsVoided:         item.IsVoided,
			VoidReason:       item.VoidReason,
		})
	}

	total, _ := tx.Total()
	tendered, _ := tx.Tendered()
	changeDue, hasChange, _ := tx.ChangeDue()

	return TxSnapshot{
		TransactionID: tx.TransactionID,
		SessionID:     tx.SessionID,
		Currency:      tx.Currency,
		DecimalPlaces: tx.DecimalPlaces,
		State:         tx.State,
		CancelReason:  tx.CancelReason,
		Lines:         lines,
		Total:         total,
		Tendered:      tendered,
		ChangeDue:     changeDue,
		HasChange:     hasChange,
	}
}
