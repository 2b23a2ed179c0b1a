package enums

import (
	"fmt"
	"strings"
)

// BillingDuration is the billing cadence of a plan.
type BillingDuration string

const (
	BillingDurationMonthly BillingDuration = "MONTHLY"
	BillingDurationYearly  BillingDuration = "YEARLY"
)

var validBillingDurations = []BillingDuration{
	BillingDurationMonthly,
	BillingDurationYearly,
}

func (d BillingDuration) String() string {
	return string(d)
}

// IsValid reports whether the value is a known BillingDuration.
func (d BillingDuration) IsValid() bool {
	for _, candidate := range validBillingDurations {
		if candidate == d {
			return true
		}
	}
	return false
}

// Lower returns the lowercase form used in generated payment references.
func (d BillingDuration) Lower() string {
	return strings.ToLower(string(d))
}

// ParseBillingDuration converts raw input into a BillingDuration.
func ParseBillingDuration(value string) (BillingDuration, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validBillingDurations {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing duration %q", value)
}
