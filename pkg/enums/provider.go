package enums

import "fmt"

// Provider tags which external payment gateway owns a record.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
	ProviderAlipay Provider = "alipay"
)

var validProviders = []Provider{
	ProviderStripe,
	ProviderPayPal,
	ProviderAlipay,
}

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known Provider.
func (p Provider) IsValid() bool {
	for _, candidate := range validProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProvider converts raw input into a Provider.
func ParseProvider(value string) (Provider, error) {
	for _, candidate := range validProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", value)
}

// Providers returns the closed set of supported providers.
func Providers() []Provider {
	out := make([]Provider, len(validProviders))
	copy(out, validProviders)
	return out
}
