package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateBundledMigrations(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("bundled migrations invalid: %v", err)
	}
}

func TestSubscriptionMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_subscriptions_and_payments.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_live_per_user",
		"WHERE status IN ('trialing', 'active', 'past_due')",
		"CHECK (current_period_end > current_period_start)",
		"CHECK (refunded_amount <= amount)",
		"DROP TABLE IF EXISTS subscriptions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestRefundMigrationEnforcesDistinctApprovers(t *testing.T) {
	content := readMigration(t, "*_create_refund_requests.sql")

	checks := []string{
		"CHECK (second_approver_id IS NULL OR second_approver_id <> first_approver_id)",
		"CHECK (second_approver_id IS NULL OR first_approver_id IS NOT NULL)",
		"idx_refund_requests_one_open_per_payment",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q", pattern)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
