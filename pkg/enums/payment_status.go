package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a payment attempt.
type PaymentStatus string

const (
	PaymentStatusReady             PaymentStatus = "ready"
	PaymentStatusInProgress        PaymentStatus = "in_progress"
	PaymentStatusWaitingForDeposit PaymentStatus = "waiting_for_deposit"
	PaymentStatusDone              PaymentStatus = "done"
	PaymentStatusCanceled          PaymentStatus = "canceled"
	PaymentStatusPartialCanceled   PaymentStatus = "partial_canceled"
	PaymentStatusAborted           PaymentStatus = "aborted"
	PaymentStatusExpired           PaymentStatus = "expired"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusReady,
	PaymentStatusInProgress,
	PaymentStatusWaitingForDeposit,
	PaymentStatusDone,
	PaymentStatusCanceled,
	PaymentStatusPartialCanceled,
	PaymentStatusAborted,
	PaymentStatusExpired,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from the status.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusCanceled, PaymentStatusAborted, PaymentStatusExpired:
		return true
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
