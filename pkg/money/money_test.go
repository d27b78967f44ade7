package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnitsScalesByCurrency(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"12.34", "USD", 1234},
		{"0.01", "EUR", 1},
		{"100.00", "GBP", 10000},
		{"1500", "JPY", 1500},
		{"50000", "KRW", 50000},
		{"21000", "VND", 21000},
		{"990", "CLP", 990},
	}
	for _, tc := range cases {
		amount := decimal.RequireFromString(tc.amount)
		got, err := ToMinorUnits(amount, tc.currency)
		require.NoError(t, err, "%s %s", tc.amount, tc.currency)
		require.Equal(t, tc.want, got, "%s %s", tc.amount, tc.currency)
	}
}

func TestMinorUnitRoundTrip(t *testing.T) {
	amounts := []string{"12.34", "0.01", "999999.99", "10.00"}
	for _, raw := range amounts {
		amount := decimal.RequireFromString(raw)
		minor, err := ToMinorUnits(amount, "USD")
		require.NoError(t, err)
		back := FromMinorUnits(minor, "USD")
		require.True(t, amount.Equal(back), "USD %s -> %d -> %s", raw, minor, back)
	}

	for _, minor := range []int64{1500, 1, 999999} {
		back := FromMinorUnits(minor, "JPY")
		again, err := ToMinorUnits(back, "JPY")
		require.NoError(t, err)
		require.Equal(t, minor, again)
	}
}

func TestToMinorUnitsRejectsSubMinorPrecision(t *testing.T) {
	_, err := ToMinorUnits(decimal.RequireFromString("12.345"), "USD")
	require.Error(t, err)

	_, err = ToMinorUnits(decimal.RequireFromString("1500.5"), "JPY")
	require.Error(t, err)
}

func TestIsZeroDecimal(t *testing.T) {
	for _, c := range []string{"JPY", "KRW", "VND", "CLP", "jpy"} {
		require.True(t, IsZeroDecimal(c), c)
	}
	for _, c := range []string{"USD", "EUR", "CNY", ""} {
		require.False(t, IsZeroDecimal(c), c)
	}
}

func TestValidateAmount(t *testing.T) {
	require.NoError(t, ValidateAmount(decimal.RequireFromString("9.99"), "USD"))
	require.Error(t, ValidateAmount(decimal.Zero, "USD"))
	require.Error(t, ValidateAmount(decimal.RequireFromString("-1"), "USD"))
	require.Error(t, ValidateAmount(decimal.RequireFromString("9.99"), ""))
	require.Error(t, ValidateAmount(decimal.RequireFromString("9.999"), "USD"))
}

func TestFormat(t *testing.T) {
	require.Equal(t, "12.34", Format(decimal.RequireFromString("12.34"), "USD"))
	require.Equal(t, "1500", Format(decimal.RequireFromString("1500"), "JPY"))
	require.Equal(t, "10.00", Format(decimal.RequireFromString("10"), "EUR"))
}
