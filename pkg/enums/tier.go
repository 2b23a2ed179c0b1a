package enums

import (
	"fmt"
	"strings"
)

// TierName is the closed set of subscription tiers.
type TierName string

const (
	TierBasic      TierName = "basic"
	TierPremium    TierName = "premium"
	TierEnterprise TierName = "enterprise"
)

var validTierNames = []TierName{
	TierBasic,
	TierPremium,
	TierEnterprise,
}

// TierNames returns the known tier names ordered by rank.
func TierNames() []TierName {
	out := make([]TierName, len(validTierNames))
	copy(out, validTierNames)
	return out
}

func (t TierName) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TierName.
func (t TierName) IsValid() bool {
	for _, candidate := range validTierNames {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTierName converts raw input into a TierName. Matching ignores case and
// surrounding whitespace since tier names are typed by admins.
func ParseTierName(value string) (TierName, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validTierNames {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tier name %q", value)
}
