// Package walrecord defines the WAL's record payloads (spec.md §4.5).
// Each payload is RLP-encoded — the same recursive length-prefixed binary
// format the teacher codebase uses throughout for transactions and
// blocks, and exactly what spec.md asks for: "a length-prefixed,
// self-describing binary encoding — callers need no JSON parser for
// recovery". Optional fields (ParentLineItemID, OperatorID, Reason, ...)
// use RLP's native empty-string encoding as the presence signal: every
// domain value that is legitimately optional (operator id, void reason,
// prep notes, a parent reference) is never a meaningful empty string when
// present, so "" unambiguously means absent.
package walrecord

import (
	"io"

	rlp "github.com/luxfi/geth/rlp"
)

// Type identifies which payload struct follows a frame header.
type Type uint8

const (
	TerminalOpen Type = iota + 1
	SessionOpen
	SessionClose
	TxBegin
	LineAdd
	LineUpdateQty
	LineUpdatePrepNotes
	LineVoid
	TenderAdd
	TxComplete
	TxCancel
)

func (t Type) String() string {
	switch t {
	case TerminalOpen:
		return "TerminalOpen"
	case SessionOpen:
		return "SessionOpen"
	case SessionClose:
		return "SessionClose"
	case TxBegin:
		return "TxBegin"
	case LineAdd:
		return "LineAdd"
	case LineUpdateQty:
		return "LineUpdateQty"
	case LineUpdatePrepNotes:
		return "LineUpdatePrepNotes"
	case LineVoid:
		return "LineVoid"
	case TenderAdd:
		return "TenderAdd"
	case TxComplete:
		return "TxComplete"
	case TxCancel:
		return "TxCancel"
	default:
		return "Unknown"
	}
}

// TerminalOpenPayload opens a terminal's WAL, or begins a rotated segment
// (spec.md §4.5, "Rotation").
type TerminalOpenPayload struct {
	TerminalID    string
	SchemaVersion uint32
}

type SessionOpenPayload struct {
	SessionID  string
	OperatorID string // "" = absent
}

type SessionClosePayload struct {
	SessionID string
}

type TxBeginPayload struct {
	TxID          string
	SessionID     string
	Currency      string
	DecimalPlaces uint8
}

// LineAddPayload carries a line's unit price as a signed quantity
// (negative for a Discount line, which subtracts from the transaction
// total) but go-ethereum's rlp package refuses any signed integer kind
// outright, regardless of the runtime value. EncodeRLP/DecodeRLP below
// ship UnitPriceMinor as a sign flag plus an unsigned magnitude instead.
type LineAddPayload struct {
	TxID               string
	LineNumber         uint32
	LineItemID         string
	ParentLineItemID   string // "" = top-level
	ProductSKU         string
	ProductName        string // "" = absent
	ProductDescription string // "" = absent
	ItemType           uint8
	Quantity           uint32 // always >= 1 at add time (spec validates before append)
	UnitPriceMinor     int64
	PrepNotes          string // "" = absent
}

type lineAddPayloadWire struct {
	TxID               string
	LineNumber         uint32
	LineItemID         string
	ParentLineItemID   string
	ProductSKU         string
	ProductName        string
	ProductDescription string
	ItemType           uint8
	Quantity           uint32
	UnitPriceNegative  bool
	UnitPriceMagnitude uint64
	PrepNotes          string
}

func (p LineAddPayload) EncodeRLP(w io.Writer) error {
	neg := p.UnitPriceMinor < 0
	magnitude := p.UnitPriceMinor
	if neg {
		magnitude = -magnitude
	}
	return rlp.Encode(w, lineAddPayloadWire{
		TxID:               p.TxID,
		LineNumber:         p.LineNumber,
		LineItemID:         p.LineItemID,
		ParentLineItemID:   p.ParentLineItemID,
		ProductSKU:         p.ProductSKU,
		ProductName:        p.ProductName,
		ProductDescription: p.ProductDescription,
		ItemType:           p.ItemType,
		Quantity:           p.Quantity,
		UnitPriceNegative:  neg,
		UnitPriceMagnitude: uint64(magnitude),
		PrepNotes:          p.PrepNotes,
	})
}

func (p *LineAddPayload) DecodeRLP(s *rlp.Stream) error {
	var w lineAddPayloadWire
	if err := s.Decode(&w); err != nil {
		return err
	}
	unitPrice := int64(w.UnitPriceMagnitude)
	if w.UnitPriceNegative {
		unitPrice = -unitPrice
	}
	*p = LineAddPayload{
		TxID:               w.TxID,
		LineNumber:         w.LineNumber,
		LineItemID:         w.LineItemID,
		ParentLineItemID:   w.ParentLineItemID,
		ProductSKU:         w.ProductSKU,
		ProductName:        w.ProductName,
		ProductDescription: w.ProductDescription,
		ItemType:           w.ItemType,
		Quantity:           w.Quantity,
		UnitPriceMinor:     unitPrice,
		PrepNotes:          w.PrepNotes,
	}
	return nil
}

type LineUpdateQtyPayload struct {
	TxID       string
	LineItemID string
	NewQty     uint32 // always >= 1 (spec validates before append)
}

type LineUpdatePrepNotesPayload struct {
	TxID       string
	LineItemID string
	Notes      string
}

type LineVoidPayload struct {
	TxID         string
	LineItemID   string
	Reason       string // "" = absent
	CascadedIDs  []string
}

type TenderAddPayload struct {
	TxID        string
	Kind        string
	AmountMinor uint64 // the tender's int64 minor units, bit for bit; replay converts back with int64()
}

type TxCompletePayload struct {
	TxID string
}

type TxCancelPayload struct {
	TxID   string
	Reason string // "" = absent
}
