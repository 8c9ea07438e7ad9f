package terminal

import (
	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/lineitem"
	"github.com/poskernel/core/internal/money"
	"github.com/poskernel/core/internal/txn"
	"github.com/poskernel/core/internal/wal"
	"github.com/poskernel/core/internal/walrecord"
)

// Recovered is the result of replaying one terminal's WAL: a populated
// Store and the sequence number the log had committed through (spec.md
// §4.6).
type Recovered struct {
	Store        *Store
	LastSequence uint64
}

// Recover replays every frame in a terminal's WAL directory into a fresh
// Store, applying each record with the same mutators the live kernel
// uses but with WAL writes suppressed — Recover never touches the WAL
// itself, it only reads it (spec.md §4.6 step 3). An absent WAL is not
// an error: it means a brand-new terminal, and an empty Store is
// returned.
func Recover(dir string) (*Recovered, error) {
	store := NewStore()

	lastSequence, err := wal.Replay(dir, func(f wal.DecodedFrame) error {
		return apply(store, f)
	})
	if err != nil {
		return nil, err
	}
	return &Recovered{Store: store, LastSequence: lastSequence}, nil
}

// apply replays one decoded WAL frame into store. It mirrors exactly the
// state transitions the kernel performed live, in the same order, so
// the resulting Store is indistinguishable from one built by live
// traffic (spec.md §4.6 step 3, "using the same mutators the runtime
// uses").
func apply(store *Store, f wal.DecodedFrame) error {
	switch f.RecordType {
	case walrecord.TerminalOpen:
		var p walrecord.TerminalOpenPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		if p.SchemaVersion != wal.SchemaVersion {
			return kernelerr.WalCorruptAt(f.Offset, "UnknownVersion")
		}
		return nil

	case walrecord.SessionOpen:
		var p walrecord.SessionOpenPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		store.PutSession(&Session{SessionID: p.SessionID, OperatorID: p.OperatorID})
		return nil

	case walrecord.SessionClose:
		var p walrecord.SessionClosePayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		return store.CloseSession(p.SessionID)

	case walrecord.TxBegin:
		var p walrecord.TxBeginPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		tx, err := txn.New(p.TxID, p.SessionID, p.Currency, p.DecimalPlaces)
		if err != nil {
			return err
		}
		store.PutTransaction(tx)
		return nil

	case walrecord.LineAdd:
		var p walrecord.LineAddPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		tx, ok := store.Transaction(p.TxID)
		if !ok {
			return kernelerr.Newf(kernelerr.TxNotFound, "wal replay: LineAdd references unknown tx %s", p.TxID)
		}
		price, err := money.New(tx.Currency, tx.DecimalPlaces, p.UnitPriceMinor)
		if err != nil {
			return err
		}
		product := lineitem.ProductRef{SKU: p.ProductSKU, Name: p.ProductName, Description: p.ProductDescription}
		itemType := lineitem.ItemType(p.ItemType)
		quantity := int32(p.Quantity)
		if itemType == lineitem.Sale {
			_, err = tx.AddSale(p.LineItemID, p.LineNumber, product, quantity, price, p.PrepNotes)
		} else {
			_, err = tx.AddChild(p.LineItemID, p.LineNumber, p.ParentLineItemID, product, quantity, price, itemType, p.PrepNotes)
		}
		if err != nil {
			return err
		}
		tx.ObserveLineNumber(p.LineNumber)
		return nil

	case walrecord.LineUpdateQty:
		var p walrecord.LineUpdateQtyPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		tx, ok := store.Transaction(p.TxID)
		if !ok {
			return kernelerr.Newf(kernelerr.TxNotFound, "wal replay: LineUpdateQty references unknown tx %s", p.TxID)
		}
		return tx.UpdateQuantity(p.LineItemID, int32(p.NewQty))

	case walrecord.LineUpdatePrepNotes:
		var p walrecord.LineUpdatePrepNotesPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		tx, ok := store.Transaction(p.TxID)
		if !ok {
			return kernelerr.Newf(kernelerr.TxNotFound, "wal replay: LineUpdatePrepNotes references unknown tx %s", p.TxID)
		}
		return tx.UpdatePrepNotes(p.LineItemID, p.Notes)

	case walrecord.LineVoid:
		var p walrecord.LineVoidPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		tx, ok := store.Transaction(p.TxID)
		if !ok {
			return kernelerr.Newf(kernelerr.TxNotFound, "wal replay: LineVoid references unknown tx %s", p.TxID)
		}
		_, err := tx.Void(p.LineItemID, p.Reason)
		return err

	case walrecord.TenderAdd:
		var p walrecord.TenderAddPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		tx, ok := store.Transaction(p.TxID)
		if !ok {
			return kernelerr.Newf(kernelerr.TxNotFound, "wal replay: TenderAdd references unknown tx %s", p.TxID)
		}
		amount, err := money.New(tx.Currency, tx.DecimalPlaces, int64(p.AmountMinor))
		if err != nil {
			return err
		}
		return tx.AddTender(p.Kind, amount, txn.IsCashLike(p.Kind))

	case walrecord.TxComplete:
		// TxComplete is a derived marker only — AddTender already drove the
		// state machine to Completed live. Nothing further to apply.
		return nil

	case walrecord.TxCancel:
		var p walrecord.TxCancelPayload
		if err := wal.DecodePayload(f.Payload, &p); err != nil {
			return err
		}
		tx, ok := store.Transaction(p.TxID)
		if !ok {
			return kernelerr.Newf(kernelerr.TxNotFound, "wal replay: TxCancel references unknown tx %s", p.TxID)
		}
		return tx.Cancel(p.Reason)

	default:
		return kernelerr.Newf(kernelerr.WalCorrupt, "wal replay: unknown record type %d", f.RecordType)
	}
}
