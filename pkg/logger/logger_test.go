package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{ServiceName: "billing-test", Level: zerolog.InfoLevel, Output: &buf})

	ctx := logg.WithProvider(context.Background(), "stripe")
	ctx = logg.WithPaymentID(ctx, "pay_123")
	logg.Info(ctx, "gateway call complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "stripe", entry["provider"])
	require.Equal(t, "pay_123", entry["payment_id"])
	require.Equal(t, "billing-test", entry["service"])
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
	require.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
}
