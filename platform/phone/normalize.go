// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// Normalizer formats numbers relative to a default region for inputs without a country code.
type Normalizer struct {
	region string
}

// NewNormalizer creates a Normalizer. An empty region falls back to US.
func NewNormalizer(region string) Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = defaultRegion
	}
	return Normalizer{region: region}
}

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func (n Normalizer) NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, n.regionOrDefault())
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// IsPlausible reports whether input parses to a number with a sane digit count.
// It is looser than IsValidNumber so that feeds with unassigned ranges still count as a contact channel.
func (n Normalizer) IsPlausible(input string) bool {
	number, err := phonenumbers.Parse(strings.TrimSpace(input), n.regionOrDefault())
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(number)
}

func (n Normalizer) regionOrDefault() string {
	if n.region == "" {
		return defaultRegion
	}
	return n.region
}
