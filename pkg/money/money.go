package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies lists currencies whose minor unit equals the major
// unit. Gateways expect these amounts unscaled; everything else scales by 100.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
	"CLP": {},
}

// IsZeroDecimal reports whether the currency has no fractional minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[normalize(currency)]
	return ok
}

// Scale returns the number of fraction digits used for internal arithmetic.
func Scale(currency string) int32 {
	if IsZeroDecimal(currency) {
		return 0
	}
	return 2
}

// ToMinorUnits converts a decimal amount into the gateway's minor-unit
// convention. The conversion rejects amounts with more precision than the
// currency carries, silently rounding here is how double charges start.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	scale := Scale(currency)
	scaled := amount.Shift(scale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-minor-unit precision for %s", amount, normalize(currency))
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s overflows minor units for %s", amount, normalize(currency))
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts a gateway minor-unit amount back into a decimal.
// ToMinorUnits(FromMinorUnits(x)) == x for every currency.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-Scale(currency))
}

// ValidateAmount checks the amount is positive and representable in the
// currency's minor units.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if normalize(currency) == "" {
		return fmt.Errorf("currency code is required")
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}
	if _, err := ToMinorUnits(amount, currency); err != nil {
		return err
	}
	return nil
}

// Format renders an amount at the currency's native scale, e.g. "12.34" for
// USD and "1500" for JPY.
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Scale(currency))
}

func normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
