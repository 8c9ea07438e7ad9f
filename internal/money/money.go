// Package money implements the kernel's authoritative arithmetic over
// integer minor-unit amounts. It deliberately knows nothing about
// formatting, rounding, parsing, or locale: those are collaborator
// responsibilities (spec.md §9, "culture-neutral is a contract").
package money

import (
	"fmt"
	"math"

	"github.com/poskernel/core/internal/kernelerr"
)

// Money is an exact amount in a currency's minor units (e.g. cents for
// USD, whole yen for JPY). DecimalPlaces is supplied by the caller and
// never inferred from Currency — a JPY amount with DecimalPlaces=2 and
// one with DecimalPlaces=0 are both representable and simply cannot be
// added together.
type Money struct {
	Currency      string
	DecimalPlaces uint8
	MinorUnits    int64
}

// New constructs a Money value after validating the currency code and
// decimal-place range. It performs no rounding and no lookup of "real"
// decimal places for the currency — the caller supplies the exact value.
func New(currency string, decimalPlaces uint8, minorUnits int64) (Money, error) {
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}
	if decimalPlaces > 4 {
		return Money{}, kernelerr.Newf(kernelerr.InvalidCurrency, "decimal_places %d out of range 0..=4", decimalPlaces)
	}
	return Money{Currency: currency, DecimalPlaces: decimalPlaces, MinorUnits: minorUnits}, nil
}

func validateCurrency(currency string) error {
	if len(currency) != 3 {
		return kernelerr.Newf(kernelerr.InvalidCurrency, "currency %q must be a 3-letter ISO 4217 code", currency)
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return kernelerr.Newf(kernelerr.InvalidCurrency, "currency %q must be uppercase ASCII", currency)
		}
	}
	return nil
}

func (m Money) sameDenomination(other Money) error {
	if m.Currency != other.Currency {
		return kernelerr.Newf(kernelerr.CurrencyMismatch, "currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	if m.DecimalPlaces != other.DecimalPlaces {
		return kernelerr.Newf(kernelerr.DecimalPlacesMismatch, "decimal_places mismatch: %d vs %d", m.DecimalPlaces, other.DecimalPlaces)
	}
	return nil
}

// Add returns m+other. Both values must share currency and decimal places.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameDenomination(other); err != nil {
		return Money{}, err
	}
	sum, ok := addOverflow(m.MinorUnits, other.MinorUnits)
	if !ok {
		return Money{}, kernelerr.New(kernelerr.Arithmetic, "overflow in Money.Add")
	}
	return Money{Currency: m.Currency, DecimalPlaces: m.DecimalPlaces, MinorUnits: sum}, nil
}

// Sub returns m-other. Both values must share currency and decimal places.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameDenomination(other); err != nil {
		return Money{}, err
	}
	diff, ok := addOverflow(m.MinorUnits, -other.MinorUnits)
	if !ok {
		return Money{}, kernelerr.New(kernelerr.Arithmetic, "overflow in Money.Sub")
	}
	return Money{Currency: m.Currency, DecimalPlaces: m.DecimalPlaces, MinorUnits: diff}, nil
}

// MulByQuantity scales m by an integer quantity (line-item extension:
// extended_price = unit_price * quantity).
func (m Money) MulByQuantity(qty int32) (Money, error) {
	product, ok := mulOverflow(m.MinorUnits, int64(qty))
	if !ok {
		return Money{}, kernelerr.New(kernelerr.Arithmetic, "overflow in Money.MulByQuantity")
	}
	return Money{Currency: m.Currency, DecimalPlaces: m.DecimalPlaces, MinorUnits: product}, nil
}

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.MinorUnits < 0 }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.MinorUnits == 0 }

// Equal is structural equality: same currency, same decimal places, same
// minor units.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.DecimalPlaces == other.DecimalPlaces && m.MinorUnits == other.MinorUnits
}

func (m Money) String() string {
	return fmt.Sprintf("%s %d (dp=%d)", m.Currency, m.MinorUnits, m.DecimalPlaces)
}

func addOverflow(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func mulOverflow(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if product/b != a {
		return 0, false
	}
	if product == math.MinInt64 && (a == -1 || b == -1) {
		return 0, false
	}
	return product, true
}
