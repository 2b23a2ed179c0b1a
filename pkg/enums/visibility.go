package enums

import "fmt"

// Visibility is the listing exposure level granted by a tier.
type Visibility string

const (
	VisibilityLow    Visibility = "low"
	VisibilityMedium Visibility = "medium"
	VisibilityHigh   Visibility = "high"
)

var validVisibilities = []Visibility{
	VisibilityLow,
	VisibilityMedium,
	VisibilityHigh,
}

func (v Visibility) String() string {
	return string(v)
}

// IsValid reports whether the value is a known Visibility.
func (v Visibility) IsValid() bool {
	for _, candidate := range validVisibilities {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVisibility converts raw input into a Visibility.
func ParseVisibility(value string) (Visibility, error) {
	for _, candidate := range validVisibilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid visibility %q", value)
}
