package enums

import "fmt"

// PointHistoryType classifies entries in the point ledger.
type PointHistoryType string

const (
	PointHistoryTypeEarn         PointHistoryType = "earn"
	PointHistoryTypeUse          PointHistoryType = "use"
	PointHistoryTypeCancelRefund PointHistoryType = "cancel_refund"
	PointHistoryTypeCancelDeduct PointHistoryType = "cancel_deduct"
)

var validPointHistoryTypes = []PointHistoryType{
	PointHistoryTypeEarn,
	PointHistoryTypeUse,
	PointHistoryTypeCancelRefund,
	PointHistoryTypeCancelDeduct,
}

// String implements fmt.Stringer.
func (p PointHistoryType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PointHistoryType.
func (p PointHistoryType) IsValid() bool {
	for _, candidate := range validPointHistoryTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsCredit reports whether entries of this type add to the balance.
func (p PointHistoryType) IsCredit() bool {
	return p == PointHistoryTypeEarn || p == PointHistoryTypeCancelRefund
}

// ParsePointHistoryType converts raw input into a PointHistoryType.
func ParsePointHistoryType(value string) (PointHistoryType, error) {
	for _, candidate := range validPointHistoryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid point history type %q", value)
}
