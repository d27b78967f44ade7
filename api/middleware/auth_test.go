package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/vidorahq/vidora-billing/pkg/auth"
	"github.com/vidorahq/vidora-billing/pkg/config"
	"github.com/vidorahq/vidora-billing/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-signing-secret",
		Issuer:            "vidora-billing-test",
		ExpirationMinutes: 15,
	}
}

func mintToken(t *testing.T, role enums.StaffRole) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, err := pkgAuth.MintAccessToken(testJWTConfig(), time.Now(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Email:  "ops@vidora.tv",
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token, userID
}

func TestAuthSeedsContextFromClaims(t *testing.T) {
	token, userID := mintToken(t, enums.StaffRoleBillingOps)

	var gotUser string
	var gotRole enums.StaffRole
	handler := Auth(testJWTConfig(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d", w.Code)
	}
	if gotUser != userID.String() {
		t.Fatalf("expected user %s in context but got %q", userID, gotUser)
	}
	if gotRole != enums.StaffRoleBillingOps {
		t.Fatalf("unexpected role %q", gotRole)
	}
}

func TestAuthRejectsMissingAndMalformedTokens(t *testing.T) {
	handler := Auth(testJWTConfig(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	}))

	for _, header := range []string{"", "Bearer ", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401 but got %d", header, w.Code)
		}
	}
}

func TestRequireRefundApproverBlocksSupport(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RequireRefundApprover(nil)(next)

	cases := []struct {
		role enums.StaffRole
		want int
	}{
		{enums.StaffRoleAdmin, http.StatusOK},
		{enums.StaffRoleBillingOps, http.StatusOK},
		{enums.StaffRoleSupport, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refund-requests/x/first-approve", nil)
		req = req.WithContext(WithRole(req.Context(), tc.role))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("role %s: expected %d but got %d", tc.role, tc.want, w.Code)
		}
	}
}
