package enums

import "fmt"

// PaymentPurpose records what a payment was collected for.
type PaymentPurpose string

const (
	PaymentPurposeSubscription PaymentPurpose = "SUBSCRIPTION"
	PaymentPurposeOther        PaymentPurpose = "OTHER"
)

var validPaymentPurposes = []PaymentPurpose{
	PaymentPurposeSubscription,
	PaymentPurposeOther,
}

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
