package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceTable maps an ISO currency code to a plan price. Stored as jsonb so a
// plan can be sold in several currencies without a join.
type PriceTable map[string]decimal.Decimal

// Value implements driver.Valuer.
func (p PriceTable) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal price table: %w", err)
	}
	return raw, nil
}

// Scan implements sql.Scanner.
func (p *PriceTable) Scan(src any) error {
	if src == nil {
		*p = PriceTable{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported price table source %T", src)
	}
	if len(raw) == 0 {
		*p = PriceTable{}
		return nil
	}
	return json.Unmarshal(raw, p)
}

// Price returns the price for the currency and whether one is defined.
func (p PriceTable) Price(currency string) (decimal.Decimal, bool) {
	price, ok := p[currency]
	return price, ok
}
