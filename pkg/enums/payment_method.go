package enums

import "fmt"

// PaymentMethod identifies how the buyer pays the cash portion of an order.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodVirtualAccount PaymentMethod = "virtual_account"
	PaymentMethodTransfer       PaymentMethod = "transfer"
	PaymentMethodEasyPay        PaymentMethod = "easy_pay"
	PaymentMethodMobile         PaymentMethod = "mobile"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodVirtualAccount,
	PaymentMethodTransfer,
	PaymentMethodEasyPay,
	PaymentMethodMobile,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// tossMethodLabels maps the provider's Korean method labels onto the enum.
var tossMethodLabels = map[string]PaymentMethod{
	"카드":     PaymentMethodCard,
	"가상계좌":   PaymentMethodVirtualAccount,
	"계좌이체":   PaymentMethodTransfer,
	"간편결제":   PaymentMethodEasyPay,
	"휴대폰":    PaymentMethodMobile,
	"CARD":   PaymentMethodCard,
	"MOBILE": PaymentMethodMobile,
}

// PaymentMethodFromToss converts the method label a gateway response carries.
// Unknown labels fall back to card.
func PaymentMethodFromToss(label string) PaymentMethod {
	if method, ok := tossMethodLabels[label]; ok {
		return method
	}
	if method, err := ParsePaymentMethod(label); err == nil {
		return method
	}
	return PaymentMethodCard
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
