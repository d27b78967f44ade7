package enums

import "fmt"

// RefundReason categorizes why staff opened a refund request.
type RefundReason string

const (
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
	RefundReasonDuplicateCharge     RefundReason = "duplicate_charge"
	RefundReasonFraudulent          RefundReason = "fraudulent"
	RefundReasonServiceIssue        RefundReason = "service_issue"
	RefundReasonOther               RefundReason = "other"
)

var validRefundReasons = []RefundReason{
	RefundReasonRequestedByCustomer,
	RefundReasonDuplicateCharge,
	RefundReasonFraudulent,
	RefundReasonServiceIssue,
	RefundReasonOther,
}

// String implements fmt.Stringer.
func (r RefundReason) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundReason.
func (r RefundReason) IsValid() bool {
	for _, candidate := range validRefundReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// RequiresDetail reports whether a free-text detail must accompany the reason.
func (r RefundReason) RequiresDetail() bool {
	return r == RefundReasonOther
}

// ParseRefundReason converts raw input into a RefundReason.
func ParseRefundReason(value string) (RefundReason, error) {
	for _, candidate := range validRefundReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund reason %q", value)
}
