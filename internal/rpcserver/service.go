// Package rpcserver exposes the RequestSurface (spec.md §4.10) as a
// JSON-RPC 2.0 service over HTTP — the reference transport spec.md §6
// describes. Every method follows the shape the teacher codebase's own
// JSON-RPC services use: func(r *http.Request, args *X, reply *Y) error,
// registered with gorilla/rpc's json2 codec.
package rpcserver

import (
	"net/http"

	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/poskernel/core/internal/kernel"
	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/lineitem"
	"github.com/poskernel/core/internal/money"
)

// Service wraps one terminal's Kernel and exposes its RequestSurface as
// JSON-RPC methods. The method names below (CreateSession, BeginTx, ...)
// are the wire method names, reachable as "Service.CreateSession" etc.
// per gorilla/rpc's ReceiverMethod convention.
type Service struct {
	kernel *kernel.Kernel
}

// NewService returns a Service bound to a single, already-opened Kernel.
func NewService(k *kernel.Kernel) *Service {
	return &Service{kernel: k}
}

// NewHandler builds the complete http.Handler for the reference
// transport: JSON-RPC 2.0 over a single POST endpoint.
func NewHandler(k *kernel.Kernel) http.Handler {
	server := gorillarpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	if err := server.RegisterService(NewService(k), ""); err != nil {
		// RegisterService only fails on a malformed service (no exported
		// methods with the right shape) — a build-time invariant, not a
		// runtime condition; surfacing it as a panic matches how
		// net/rpc's own RegisterName misuse is normally caught in tests.
		panic("rpcserver: " + err.Error())
	}
	return server
}

type (
	// MoneyArg mirrors money.Money over the wire — plain fields so
	// encoding/json round-trips it without custom marshalers.
	MoneyArg struct {
		Currency      string `json:"currency"`
		DecimalPlaces uint8  `json:"decimal_places"`
		MinorUnits    int64  `json:"minor_units"`
	}

	ProductArg struct {
		SKU         string `json:"sku"`
		Name        string `json:"name,omitempty"`
		Description string `json:"description,omitempty"`
	}

	LineSnapshotReply struct {
		LineItemID       string     `json:"line_item_id"`
		LineNumber       uint32     `json:"line_number"`
		ParentLineItemID string     `json:"parent_line_item_id,omitempty"`
		Product          ProductArg `json:"product"`
		Quantity         int32      `json:"quantity"`
		UnitPrice        MoneyArg   `json:"unit_price"`
		ExtendedPrice    MoneyArg   `json:"extended_price"`
		ItemType         string     `json:"item_type"`
		PrepNotes        string     `json:"prep_notes,omitempty"`
		IsVoided         bool       `json:"is_voided"`
		VoidReason       string     `json:"void_reason,omitempty"`
	}

	TxReply struct {
		TransactionID string              `json:"transaction_id"`
		SessionID     string              `json:"session_id"`
		Currency      string              `json:"currency"`
		DecimalPlaces uint8               `json:"decimal_places"`
		State         string              `json:"state"`
		CancelReason  string              `json:"cancel_reason,omitempty"`
		Lines         []LineSnapshotReply `json:"lines"`
		Total         MoneyArg            `json:"total"`
		Tendered      MoneyArg            `json:"tendered"`
		ChangeDue     MoneyArg            `json:"change_due,omitempty"`
		HasChangeDue  bool                `json:"has_change_due"`
	}
)

func toMoneyArg(m money.Money) MoneyArg {
	return MoneyArg{Currency: m.Currency, DecimalPlaces: m.DecimalPlaces, MinorUnits: m.MinorUnits}
}

func fromMoneyArg(a MoneyArg) (money.Money, error) {
	return money.New(a.Currency, a.DecimalPlaces, a.MinorUnits)
}

func toTxReply(snap kernel.TxSnapshot) TxReply {
	lines := make([]LineSnapshotReply, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lines = append(lines, LineSnapshotReply{
			LineItemID:       l.LineItemID,
			LineNumber:       l.LineNumber,
			ParentLineItemID: l.ParentLineItemID,
			Product:          ProductArg{SKU: l.Product.SKU, Name: l.Product.Name, Description: l.Product.Description},
			Quantity:         l.Quantity,
			UnitPrice:        toMoneyArg(l.UnitPrice),
			ExtendedPrice:    toMoneyArg(l.ExtendedPrice),
			ItemType:         l.ItemType.String(),
			PrepNotes:        l.PrepNotes,
			IsVoided:         l.IsVoided,
			VoidReason:       l.VoidReason,
		})
	}
	reply := TxReply{
		TransactionID: snap.TransactionID,
		SessionID:     snap.SessionID,
		Currency:      snap.Currency,
		DecimalPlaces: snap.DecimalPlaces,
		State:         snap.State.String(),
		CancelReason:  snap.CancelReason,
		Lines:         lines,
		Total:         toMoneyArg(snap.Total),
		Tendered:      toMoneyArg(snap.Tendered),
		HasChangeDue:  snap.HasChange,
	}
	if snap.HasChange {
		reply.ChangeDue = toMoneyArg(snap.ChangeDue)
	}
	return reply
}

func asRPCError(err error) error {
	if err == nil {
		return nil
	}
	code, ok := kernelerr.CodeOf(err)
	if !ok {
		return err
	}
	// json2 surfaces the returned error's Error() string as the JSON-RPC
	// error message; prefixing with the stable Code lets clients switch
	// on it without parsing free text.
	return &json2.Error{Message: string(code) + ": " + err.Error()}
}

// --- RequestSurface methods (spec.md §4.10) ---

type CreateSessionArgs struct {
	OperatorID string `json:"operator_id,omitempty"`
}
type CreateSessionReply struct {
	SessionID string `json:"session_id"`
}

func (s *Service) CreateSession(_ *http.Request, args *CreateSessionArgs, reply *CreateSessionReply) error {
	sessionID, err := s.kernel.CreateSession(args.OperatorID)
	if err != nil {
		return asRPCError(err)
	}
	reply.SessionID = sessionID
	return nil
}

type CloseSessionArgs struct {
	SessionID string `json:"session_id"`
}
type CloseSessionReply struct{}

func (s *Service) CloseSession(_ *http.Request, args *CloseSessionArgs, _ *CloseSessionReply) error {
	return asRPCError(s.kernel.CloseSession(args.SessionID))
}

type BeginTxArgs struct {
	SessionID     string `json:"session_id"`
	Currency      string `json:"currency"`
	DecimalPlaces uint8  `json:"decimal_places"`
}
type BeginTxReply struct {
	TransactionID string  `json:"transaction_id"`
	Tx            TxReply `json:"tx"`
}

func (s *Service) BeginTx(_ *http.Request, args *BeginTxArgs, reply *BeginTxReply) error {
	txID, err := s.kernel.BeginTx(args.SessionID, args.Currency, args.DecimalPlaces)
	if err != nil {
		return asRPCError(err)
	}
	snap, err := s.kernel.GetTx(txID)
	if err != nil {
		return asRPCError(err)
	}
	reply.TransactionID = txID
	reply.Tx = toTxReply(snap)
	return nil
}

type AddLineArgs struct {
	TxID      string     `json:"tx_id"`
	Product   ProductArg `json:"product"`
	Quantity  int32      `json:"quantity"`
	UnitPrice MoneyArg   `json:"unit_price"`
	PrepNotes string     `json:"prep_notes,omitempty"`
}
type TxOpReply struct {
	Tx TxReply `json:"tx"`
}

func (s *Service) AddLine(_ *http.Request, args *AddLineArgs, reply *TxOpReply) error {
	price, err := fromMoneyArg(args.UnitPrice)
	if err != nil {
		return asRPCError(err)
	}
	product := lineitem.ProductRef{SKU: args.Product.SKU, Name: args.Product.Name, Description: args.Product.Description}
	snap, err := s.kernel.AddLine(args.TxID, product, args.Quantity, price, args.PrepNotes)
	if err != nil {
		return asRPCError(err)
	}
	reply.Tx = toTxReply(snap)
	return nil
}

type AddChildLineArgs struct {
	TxID      string     `json:"tx_id"`
	ParentID  string     `json:"parent_line_item_id"`
	Product   ProductArg `json:"product"`
	Quantity  int32      `json:"quantity"`
	UnitPrice MoneyArg   `json:"unit_price"`
	ItemType  string     `json:"item_type"`
	PrepNotes string     `json:"prep_notes,omitempty"`
}

func (s *Service) AddChildLine(_ *http.Request, args *AddChildLineArgs, reply *TxOpReply) error {
	price, err := fromMoneyArg(args.UnitPrice)
	if err != nil {
		return asRPCError(err)
	}
	itemType, err := parseItemType(args.ItemType)
	if err != nil {
		return asRPCError(err)
	}
	product := lineitem.ProductRef{SKU: args.Product.SKU, Name: args.Product.Name, Description: args.Product.Description}
	snap, err := s.kernel.AddChildLine(args.TxID, args.ParentID, product, args.Quantity, price, itemType, args.PrepNotes)
	if err != nil {
		return asRPCError(err)
	}
	reply.Tx = toTxReply(snap)
	return nil
}

type UpdateLineQtyArgs struct {
	TxID       string `json:"tx_id"`
	LineItemID string `json:"line_item_id"`
	NewQty     int32  `json:"new_quantity"`
}

func (s *Service) UpdateLineQty(_ *http.Request, args *UpdateLineQtyArgs, reply *TxOpReply) error {
	snap, err := s.kernel.UpdateLineQty(args.TxID, args.LineItemID, args.NewQty)
	if err != nil {
		return asRPCError(err)
	}
	reply.Tx = toTxReply(snap)
	return nil
}

type UpdateLinePrepNotesArgs struct {
	TxID       string `json:"tx_id"`
	LineItemID string `json:"line_item_id"`
	Notes      string `json:"notes"`
}
type UpdateLinePrepNotesReply struct{}

func (s *Service) UpdateLinePrepNotes(_ *http.Request, args *UpdateLinePrepNotesArgs, _ *UpdateLinePrepNotesReply) error {
	return asRPCError(s.kernel.UpdateLinePrepNotes(args.TxID, args.LineItemID, args.Notes))
}

type VoidLineArgs struct {
	TxID       string `json:"tx_id"`
	LineItemID string `json:"line_item_id"`
	Reason     string `json:"reason,omitempty"`
}
type VoidLineReply struct {
	VoidedLineItemIDs []string `json:"voided_line_item_ids"`
	Tx                TxReply  `json:"tx"`
}

func (s *Service) VoidLine(_ *http.Request, args *VoidLineArgs, reply *VoidLineReply) error {
	voided, snap, err := s.kernel.VoidLine(args.TxID, args.LineItemID, args.Reason)
	if err != nil {
		return asRPCError(err)
	}
	reply.VoidedLineItemIDs = voided
	reply.Tx = toTxReply(snap)
	return nil
}

type AddTenderArgs struct {
	TxID   string   `json:"tx_id"`
	Kind   string   `json:"kind"`
	Amount MoneyArg `json:"amount"`
}

func (s *Service) AddTender(_ *http.Request, args *AddTenderArgs, reply *TxOpReply) error {
	amount, err := fromMoneyArg(args.Amount)
	if err != nil {
		return asRPCError(err)
	}
	snap, err := s.kernel.AddTender(args.TxID, args.Kind, amount)
	if err != nil {
		return asRPCError(err)
	}
	reply.Tx = toTxReply(snap)
	return nil
}

type GetTxArgs struct {
	TxID string `json:"tx_id"`
}

func (s *Service) GetTx(_ *http.Request, args *GetTxArgs, reply *TxOpReply) error {
	snap, err := s.kernel.GetTx(args.TxID)
	if err != nil {
		return asRPCError(err)
	}
	reply.Tx = toTxReply(snap)
	return nil
}

type CancelTxArgs struct {
	TxID   string `json:"tx_id"`
	Reason string `json:"reason,omitempty"`
}
type CancelTxReply struct{}

func (s *Service) CancelTx(_ *http.Request, args *CancelTxArgs, _ *CancelTxReply) error {
	return asRPCError(s.kernel.CancelTx(args.TxID, args.Reason))
}

func parseItemType(s string) (lineitem.ItemType, error) {
	switch s {
	case "Modification":
		return lineitem.Modification, nil
	case "AutomaticInclusion":
		return lineitem.AutomaticInclusion, nil
	case "Discount":
		return lineitem.Discount, nil
	case "Tax":
		return lineitem.Tax, nil
	case "Fee":
		return lineitem.Fee, nil
	default:
		return 0, kernelerr.Newf(kernelerr.InvalidItemType, "unknown item_type %q", s)
	}
}
