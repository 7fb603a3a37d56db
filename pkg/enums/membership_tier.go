package enums

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MembershipTier determines the point earn rate applied at settlement.
type MembershipTier string

const (
	MembershipTierBronze MembershipTier = "bronze"
	MembershipTierSilver MembershipTier = "silver"
	MembershipTierGold   MembershipTier = "gold"
	MembershipTierVIP    MembershipTier = "vip"
)

var validMembershipTiers = []MembershipTier{
	MembershipTierBronze,
	MembershipTierSilver,
	MembershipTierGold,
	MembershipTierVIP,
}

var tierEarnRates = map[MembershipTier]decimal.Decimal{
	MembershipTierBronze: decimal.NewFromFloat(0.01),
	MembershipTierSilver: decimal.NewFromFloat(0.02),
	MembershipTierGold:   decimal.NewFromFloat(0.03),
	MembershipTierVIP:    decimal.NewFromFloat(0.05),
}

// String implements fmt.Stringer.
func (m MembershipTier) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MembershipTier.
func (m MembershipTier) IsValid() bool {
	for _, candidate := range validMembershipTiers {
		if candidate == m {
			return true
		}
	}
	return false
}

// EarnRate returns the fraction of the cash-paid amount earned as points.
// Unknown tiers fall back to the bronze rate.
func (m MembershipTier) EarnRate() decimal.Decimal {
	if rate, ok := tierEarnRates[m]; ok {
		return rate
	}
	return tierEarnRates[MembershipTierBronze]
}

// ParseMembershipTier converts raw input into a MembershipTier.
func ParseMembershipTier(value string) (MembershipTier, error) {
	for _, candidate := range validMembershipTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid membership tier %q", value)
}
