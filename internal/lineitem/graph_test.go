package lineitem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poskernel/core/internal/kernelerr"
	"github.com/poskernel/core/internal/lineitem"
	"github.com/poskernel/core/internal/money"
)

func price(t *testing.T, minor int64) money.Money {
	t.Helper()
	m, err := money.New("SGD", 2, minor)
	require.NoError(t, err)
	return m
}

func TestHierarchicalSetWithModificationVoidCascades(t *testing.T) {
	g := lineitem.New("SGD", 2)

	a, err := g.AddSale("A", 1, lineitem.ProductRef{SKU: "TSET001"}, 1, price(t, 740), "")
	require.NoError(t, err)

	b, err := g.AddChild("B", 2, a.LineItemID, lineitem.ProductRef{SKU: "TEH002"}, 1, price(t, 0), lineitem.Modification, "")
	require.NoError(t, err)

	_, err = g.AddChild("C", 3, b.LineItemID, lineitem.ProductRef{SKU: "NOSUGAR"}, 1, price(t, 0), lineitem.Modification, "")
	require.NoError(t, err)

	total, err := g.Total()
	require.NoError(t, err)
	assert.Equal(t, int64(740), total.MinorUnits)

	cascaded, err := g.Void("A", "customer changed mind")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, cascaded)

	total, err = g.Total()
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	for _, id := range []string{"A", "B", "C"} {
		item, ok := g.Get(id)
		require.True(t, ok)
		assert.True(t, item.IsVoided)
	}
}

func TestVoidIsIdempotent(t *testing.T) {
	g := lineitem.New("SGD", 2)
	_, err := g.AddSale("A", 1, lineitem.ProductRef{SKU: "KOPI001"}, 1, price(t, 140), "")
	require.NoError(t, err)

	cascaded, err := g.Void("A", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, cascaded)

	cascaded, err = g.Void("A", "")
	require.NoError(t, err)
	assert.Empty(t, cascaded)
}

func TestAddChildRejectsSaleItemType(t *testing.T) {
	g := lineitem.New("SGD", 2)
	a, err := g.AddSale("A", 1, lineitem.ProductRef{SKU: "TSET001"}, 1, price(t, 740), "")
	require.NoError(t, err)

	_, err = g.AddChild("B", 2, a.LineItemID, lineitem.ProductRef{SKU: "X"}, 1, price(t, 0), lineitem.Sale, "")
	require.Error(t, err)
	code, _ := kernelerr.CodeOf(err)
	assert.Equal(t, kernelerr.InvalidItemType, code)
}

func TestAddChildRejectsMissingOrVoidedParent(t *testing.T) {
	g := lineitem.New("SGD", 2)
	_, err := g.AddChild("B", 1, "missing", lineitem.ProductRef{SKU: "X"}, 1, price(t, 0), lineitem.Modification, "")
	code, _ := kernelerr.CodeOf(err)
	assert.Equal(t, kernelerr.LineNotFound, code)

	a, err := g.AddSale("A", 1, lineitem.ProductRef{SKU: "TSET001"}, 1, price(t, 740), "")
	require.NoError(t, err)
	_, err = g.Void(a.LineItemID, "")
	require.NoError(t, err)

	_, err = g.AddChild("B", 2, a.LineItemID, lineitem.ProductRef{SKU: "X"}, 1, price(t, 0), lineitem.Modification, "")
	code, _ = kernelerr.CodeOf(err)
	assert.Equal(t, kernelerr.ParentVoided, code)
}

func TestUpdateQuantityRejectsLessThanOne(t *testing.T) {
	g := lineitem.New("SGD", 2)
	a, err := g.AddSale("A", 1, lineitem.ProductRef{SKU: "KOPI001"}, 2, price(t, 140), "")
	require.NoError(t, err)

	err = g.UpdateQuantity(a.LineItemID, 0)
	code, _ := kernelerr.CodeOf(err)
	assert.Equal(t, kernelerr.InvalidQuantity, code)

	err = g.UpdateQuantity(a.LineItemID, 5)
	require.NoError(t, err)
	ext, err := a.ExtendedPrice()
	require.NoError(t, err)
	assert.Equal(t, int64(700), ext.MinorUnits)
}

func TestIterDisplayIsPreOrderBySiblingInsertion(t *testing.T) {
	g := lineitem.New("SGD", 2)
	a, _ := g.AddSale("A", 1, lineitem.ProductRef{SKU: "A"}, 1, price(t, 100), "")
	_, _ = g.AddSale("D", 2, lineitem.ProductRef{SKU: "D"}, 1, price(t, 100), "")
	_, _ = g.AddChild("B", 3, a.LineItemID, lineitem.ProductRef{SKU: "B"}, 1, price(t, 0), lineitem.Modification, "")
	_, _ = g.AddChild("C", 4, a.LineItemID, lineitem.ProductRef{SKU: "C"}, 1, price(t, 0), lineitem.Modification, "")

	var ids []string
	for _, item := range g.IterDisplay() {
		ids = append(ids, item.LineItemID)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)
}

func TestAddSaleRejectsCurrencyMismatch(t *testing.T) {
	g := lineitem.New("SGD", 2)
	usd, err := money.New("USD", 2, 100)
	require.NoError(t, err)
	_, err = g.AddSale("A", 1, lineitem.ProductRef{SKU: "X"}, 1, usd, "")
	code, _ := kernelerr.CodeOf(err)
	assert.Equal(t, kernelerr.CurrencyMismatch, code)
}
