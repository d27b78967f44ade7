package enums

import "fmt"

// PaymentPurpose records why a charge was attempted.
type PaymentPurpose string

const (
	PaymentPurposeSubscription PaymentPurpose = "subscription"
	PaymentPurposeRenewal      PaymentPurpose = "renewal"
	PaymentPurposeUpgrade      PaymentPurpose = "upgrade"
	PaymentPurposeOneTime      PaymentPurpose = "one_time"
)

var validPaymentPurposes = []PaymentPurpose{
	PaymentPurposeSubscription,
	PaymentPurposeRenewal,
	PaymentPurposeUpgrade,
	PaymentPurposeOneTime,
}

// String implements fmt.Stringer.
func (p PaymentPurpose) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentPurpose.
func (p PaymentPurpose) IsValid() bool {
	for _, candidate := range validPaymentPurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentPurpose converts raw input into a PaymentPurpose.
func ParsePaymentPurpose(value string) (PaymentPurpose, error) {
	for _, candidate := range validPaymentPurposes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment purpose %q", value)
}
