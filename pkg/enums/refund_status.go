package enums

import "fmt"

// RefundStatus tracks a refund request through the dual-approval workflow.
type RefundStatus string

const (
	RefundStatusPending       RefundStatus = "pending"
	RefundStatusFirstApproved RefundStatus = "first_approved"
	RefundStatusApproved      RefundStatus = "approved"
	RefundStatusProcessing    RefundStatus = "processing"
	RefundStatusCompleted     RefundStatus = "completed"
	RefundStatusFailed        RefundStatus = "failed"
	RefundStatusRejected      RefundStatus = "rejected"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusFirstApproved,
	RefundStatusApproved,
	RefundStatusProcessing,
	RefundStatusCompleted,
	RefundStatusFailed,
	RefundStatusRejected,
}

// refundTransitions is the closed transition table. Anything not listed is
// disallowed, including skipping first_approved.
var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusPending:       {RefundStatusFirstApproved, RefundStatusRejected},
	RefundStatusFirstApproved: {RefundStatusApproved, RefundStatusRejected},
	RefundStatusApproved:      {RefundStatusProcessing},
	RefundStatusProcessing:    {RefundStatusCompleted, RefundStatusFailed},
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the request can never change state again.
func (r RefundStatus) IsTerminal() bool {
	switch r {
	case RefundStatusCompleted, RefundStatusFailed, RefundStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the workflow allows moving to next.
func (r RefundStatus) CanTransitionTo(next RefundStatus) bool {
	for _, candidate := range refundTransitions[r] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
