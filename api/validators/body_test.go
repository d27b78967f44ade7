package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
)

type chargePayload struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,currency"`
}

func decode(t *testing.T, body string, dest any) error {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/payments", strings.NewReader(body))
	return DecodeJSONBody(req, dest)
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var payload chargePayload
	err := decode(t, `{"amount":"12.99","currency":"usd"}`, &payload)

	require.NoError(t, err)
	assert.Equal(t, "12.99", payload.Amount)
	assert.Equal(t, "usd", payload.Currency)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	var payload chargePayload
	err := decode(t, `{"amount":"12.99","currency":"USD","amnt":"oops"}`, &payload)

	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestDecodeJSONBodyRejectsBadCurrency(t *testing.T) {
	cases := []string{"US", "USDT", "U$D", ""}
	for _, code := range cases {
		var payload chargePayload
		err := decode(t, `{"amount":"5.00","currency":"`+code+`"}`, &payload)

		require.Error(t, err, "currency %q", code)
		appErr := pkgerrors.As(err)
		require.NotNil(t, appErr)

		details, ok := appErr.Details().(map[string]string)
		require.True(t, ok)
		assert.Contains(t, details, "currency")
	}
}

func TestDecodeJSONBodyReportsJSONFieldNames(t *testing.T) {
	var payload chargePayload
	err := decode(t, `{"currency":"EUR"}`, &payload)

	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)

	details, ok := appErr.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["amount"])
}
