package enums

import "fmt"

// PaymentLogType classifies entries in the payment audit trail.
type PaymentLogType string

const (
	PaymentLogTypeRequest PaymentLogType = "request"
	PaymentLogTypeApprove PaymentLogType = "approve"
	PaymentLogTypeCancel  PaymentLogType = "cancel"
	PaymentLogTypeWebhook PaymentLogType = "webhook"
	PaymentLogTypeError   PaymentLogType = "error"
)

var validPaymentLogTypes = []PaymentLogType{
	PaymentLogTypeRequest,
	PaymentLogTypeApprove,
	PaymentLogTypeCancel,
	PaymentLogTypeWebhook,
	PaymentLogTypeError,
}

// String implements fmt.Stringer.
func (p PaymentLogType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentLogType.
func (p PaymentLogType) IsValid() bool {
	for _, candidate := range validPaymentLogTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentLogType converts raw input into a PaymentLogType.
func ParsePaymentLogType(value string) (PaymentLogType, error) {
	for _, candidate := range validPaymentLogTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment log type %q", value)
}
