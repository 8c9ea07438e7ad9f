// Package lineitem implements the LineItemGraph (spec.md §4.3): an
// ordered collection of line items with a parent→children relation, void
// cascade semantics, and derived totals. Cycles are impossible by
// construction — a child's parent must already exist in the graph before
// the child can be added, and parents are never reparented (spec.md §9).
package lineitem

import (
	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/money"
)

// ItemType classifies a line. Only Sale lines are top-level; every other
// kind must have a parent (spec.md §3, LineItem invariants).
type ItemType uint8

const (
	Sale ItemType = iota
	Modification
	AutomaticInclusion
	Discount
	Tax
	Fee
)

func (t ItemType) String() string {
	switch t {
	case Sale:
		return "Sale"
	case Modification:
		return "Modification"
	case AutomaticInclusion:
		return "AutomaticInclusion"
	case Discount:
		return "Discount"
	case Tax:
		return "Tax"
	case Fee:
		return "Fee"
	default:
		return "Unknown"
	}
}

// ProductRef echoes the catalog's product metadata through the kernel
// without interpreting it (spec.md §3).
type ProductRef struct {
	SKU         string
	Name        string
	Description string
}

// Item is one line in a transaction: a top-level Sale, or a child
// (Modification/AutomaticInclusion/Discount/Tax/Fee) of another line.
type Item struct {
	LineItemID       string
	LineNumber       uint32
	ParentLineItemID string // "" means no parent
	Product          ProductRef
	Quantity         int32
	UnitPrice        money.Money
	ItemType         ItemType
	PreparationNotes string
	IsVoided         bool
	VoidReason       string
}

// ExtendedPrice is unit_price * quantity, recomputed on every read —
// spec.md §3 is explicit that it is "never stored separately on the
// wire".
func (it *Item) ExtendedPrice() (money.Money, error) {
	return it.UnitPrice.MulByQuantity(it.Quantity)
}

// Graph is the per-transaction line-item collection. It knows the
// transaction's currency and decimal places (every line must match) but
// nothing about transaction *state* — the caller (the txn package) is
// responsible for rejecting mutations once the transaction has left
// Building, per spec.md §4.4.
type Graph struct {
	currency      string
	decimalPlaces uint8

	items    []*Item            // insertion order, includes voided
	byID     map[string]*Item
	children map[string][]string // parent line_item_id -> child line_item_ids, insertion order
}

// New creates an empty graph for the given transaction currency.
func New(currency string, decimalPlaces uint8) *Graph {
	return &Graph{
		currency:      currency,
		decimalPlaces: decimalPlaces,
		byID:          make(map[string]*Item),
		children:      make(map[string][]string),
	}
}

func (g *Graph) validatePrice(unitPrice money.Money) error {
	if unitPrice.Currency != g.currency {
		return kernelerr.Newf(kernelerr.CurrencyMismatch, "unit price currency %s does not match transaction currency %s", unitPrice.Currency, g.currency)
	}
	if unitPrice.DecimalPlaces != g.decimalPlaces {
		return kernelerr.Newf(kernelerr.DecimalPlacesMismatch, "unit price decimal_places %d does not match transaction decimal_places %d", unitPrice.DecimalPlaces, g.decimalPlaces)
	}
	return nil
}

func (g *Graph) validateQuantity(qty int32) error {
	if qty < 1 {
		return kernelerr.Newf(kernelerr.InvalidQuantity, "quantity %d must be >= 1", qty)
	}
	return nil
}

// AddSale inserts a new top-level line. lineItemID and lineNumber are
// allocated by the caller (the IdAllocator and the owning Transaction's
// line-number counter respectively) so that replay from the WAL can
// reproduce the exact same identifiers.
func (g *Graph) AddSale(lineItemID string, lineNumber uint32, product ProductRef, quantity int32, unitPrice money.Money, notes string) (*Item, error) {
	if err := g.validateQuantity(quantity); err != nil {
		return nil, err
	}
	if err := g.validatePrice(unitPrice); err != nil {
		return nil, err
	}
	item := &Item{
		LineItemID:       lineItemID,
		LineNumber:       lineNumber,
		Product:          product,
		Quantity:         quantity,
		UnitPrice:        unitPrice,
		ItemType:         Sale,
		PreparationNotes: notes,
	}
	g.insert(item)
	return item, nil
}

// AddChild inserts a new child line under parentID. itemType must not be
// Sale (spec.md §4.3: "fails with InvalidItemType if item_type == Sale").
func (g *Graph) AddChild(lineItemID string, lineNumber uint32, parentID string, product ProductRef, quantity int32, unitPrice money.Money, itemType ItemType, notes string) (*Item, error) {
	if itemType == Sale {
		return nil, kernelerr.New(kernelerr.InvalidItemType, "child lines cannot have item_type Sale")
	}
	parent, ok := g.byID[parentID]
	if !ok {
		return nil, kernelerr.Newf(kernelerr.LineNotFound, "parent line %s not found", parentID)
	}
	if parent.IsVoided {
		return nil, kernelerr.Newf(kernelerr.ParentVoided, "parent line %s is voided", parentID)
	}
	if err := g.validateQuantity(quantity); err != nil {
		return nil, err
	}
	if err := g.validatePrice(unitPrice); err != nil {
		return nil, err
	}
	item := &Item{
		LineItemID:       lineItemID,
		LineNumber:       lineNumber,
		ParentLineItemID: parentID,
		Product:          product,
		Quantity:         quantity,
		UnitPrice:        unitPrice,
		ItemType:         itemType,
		PreparationNotes: notes,
	}
	g.insert(item)
	g.children[parentID] = append(g.children[parentID], lineItemID)
	return item, nil
}

func (g *Graph) insert(item *Item) {
	g.items = append(g.items, item)
	g.byID[item.LineItemID] = item
}

// Get returns the line with the given id, if present.
func (g *Graph) Get(lineItemID string) (*Item, bool) {
	item, ok := g.byID[lineItemID]
	return item, ok
}

// UpdateQuantity changes a non-voided line's quantity and implicitly its
// extended price (recomputed on read, never stored).
func (g *Graph) UpdateQuantity(lineItemID string, newQuantity int32) error {
	item, ok := g.byID[lineItemID]
	if !ok {
		return kernelerr.Newf(kernelerr.LineNotFound, "line %s not found", lineItemID)
	}
	if item.IsVoided {
		return kernelerr.Newf(kernelerr.LineNotFound, "line %s is voided", lineItemID)
	}
	if err := g.validateQuantity(newQuantity); err != nil {
		return err
	}
	item.Quantity = newQuantity
	return nil
}

// UpdatePrepNotes replaces a line's free-text preparation notes.
func (g *Graph) UpdatePrepNotes(lineItemID, notes string) error {
	item, ok := g.byID[lineItemID]
	if !ok {
		return kernelerr.Newf(kernelerr.LineNotFound, "line %s not found", lineItemID)
	}
	item.PreparationNotes = notes
	return nil
}

// Void marks lineItemID and every descendant voided, in pre-order. It is
// idempotent on an already-voided line: calling it again returns an empty
// slice and mutates nothing (spec.md §8 round-trip law).
func (g *Graph) Void(lineItemID, reason string) ([]string, error) {
	item, ok := g.byID[lineItemID]
	if !ok {
		return nil, kernelerr.Newf(kernelerr.LineNotFound, "line %s not found", lineItemID)
	}
	if item.IsVoided {
		return nil, nil
	}

	var cascaded []string
	var visit func(id string)
	visit = func(id string) {
		node := g.byID[id]
		if node.IsVoided {
			return
		}
		node.IsVoided = true
		if id == lineItemID {
			node.VoidReason = reason
		}
		cascaded = append(cascaded, id)
		for _, childID := range g.children[id] {
			visit(childID)
		}
	}
	visit(lineItemID)
	return cascaded, nil
}

// IterDisplay returns a pre-order traversal (insertion order among
// siblings) suitable for receipt rendering: every top-level Sale line
// followed immediately by its descendants.
func (g *Graph) IterDisplay() []*Item {
	var out []*Item
	var visit func(id string)
	visit = func(id string) {
		node := g.byID[id]
		out = append(out, node)
		for _, childID := range g.children[id] {
			visit(childID)
		}
	}
	for _, item := range g.items {
		if item.ParentLineItemID == "" {
			visit(item.LineItemID)
		}
	}
	return out
}

// Items returns every line in raw insertion order, including voided
// lines — the full audit trail (spec.md §3: "voided lines remain in the
// graph").
func (g *Graph) Items() []*Item {
	out := make([]*Item, len(g.items))
	copy(out, g.items)
	return out
}

// Total sums extended_price over non-voided lines, in insertion order
// (spec.md §4.3).
func (g *Graph) Total() (money.Money, error) {
	total, err := money.New(g.currency, g.decimalPlaces, 0)
	if err != nil {
		return money.Money{}, err
	}
	for _, item := range g.items {
		if item.IsVoided {
			continue
		}
		extended, err := item.ExtendedPrice()
		if err != nil {
			return money.Money{}, err
		}
		total, err = total.Add(extended)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}
