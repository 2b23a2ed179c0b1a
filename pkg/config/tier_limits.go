package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/settla/settla-backend/pkg/enums"
)

// TierLimit is the per-tier entitlement row consulted by the feature gate.
type TierLimit struct {
	MaxListings   int              `json:"max_listings"`
	FeaturedSlots int              `json:"featured_slots"`
	Visibility    enums.Visibility `json:"visibility"`
}

// TierLimits maps lowercase tier names to their limits.
type TierLimits map[string]TierLimit

// DefaultTierLimits returns the built-in limits table.
func DefaultTierLimits() TierLimits {
	return TierLimits{
		string(enums.TierBasic):      {MaxListings: 5, FeaturedSlots: 1, Visibility: enums.VisibilityLow},
		string(enums.TierPremium):    {MaxListings: 30, FeaturedSlots: 2, Visibility: enums.VisibilityMedium},
		string(enums.TierEnterprise): {MaxListings: 100, FeaturedSlots: 5, Visibility: enums.VisibilityHigh},
	}
}

// Decode implements envconfig.Decoder. The value is a JSON object keyed by tier
// name; entries it names replace the defaults, the rest are kept.
func (t *TierLimits) Decode(value string) error {
	merged := DefaultTierLimits()
	if strings.TrimSpace(value) == "" {
		*t = merged
		return nil
	}

	var overrides map[string]TierLimit
	if err := json.Unmarshal([]byte(value), &overrides); err != nil {
		return fmt.Errorf("%s: %w", EnvBillingTierLimits, err)
	}
	for name, limit := range overrides {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return fmt.Errorf("%s: empty tier name", EnvBillingTierLimits)
		}
		if limit.MaxListings < 0 || limit.FeaturedSlots < 0 {
			return fmt.Errorf("%s: tier %q limits must not be negative", EnvBillingTierLimits, key)
		}
		if !limit.Visibility.IsValid() {
			return fmt.Errorf("%s: tier %q has invalid visibility %q", EnvBillingTierLimits, key, limit.Visibility)
		}
		merged[key] = limit
	}
	*t = merged
	return nil
}
