package toss

import (
	"errors"
	"fmt"
)

// Synthetic codes for failures that never reached the provider. Only these
// are safe to retry; any code returned by the provider is a terminal verdict.
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeTimeout      = "TIMEOUT"
)

// Commonly handled provider codes.
const (
	CodeAlreadyProcessedPayment = "ALREADY_PROCESSED_PAYMENT"
	CodeNotFoundPayment         = "NOT_FOUND_PAYMENT"
	CodeProviderError           = "PROVIDER_ERROR"
)

// APIError carries the machine-readable code from a failed gateway call.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error implements error.
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("toss: %s: %s", e.Code, e.Message)
}

// Retryable reports whether the call may be safely retried. True only for
// transport-level failures where the provider never recorded a verdict.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Code == CodeNetworkError || e.Code == CodeTimeout
}

// IsRetryable reports whether err is a retryable gateway failure.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// AsAPIError extracts the typed gateway error, if any.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

var userMessages = map[string]string{
	CodeAlreadyProcessedPayment:        "이미 처리된 결제입니다.",
	CodeNotFoundPayment:                "존재하지 않는 결제 정보입니다.",
	CodeProviderError:                  "결제사에서 오류가 발생했습니다.",
	"INVALID_REQUEST":                  "잘못된 요청입니다.",
	"INVALID_API_KEY":                  "잘못된 시크릿키 연동 정보입니다.",
	"UNAUTHORIZED_KEY":                 "인증되지 않은 시크릿키 혹은 클라이언트키입니다.",
	"INVALID_CARD_NUMBER":              "카드번호를 다시 확인해주세요.",
	"INVALID_CARD_EXPIRATION":          "카드 정보를 다시 확인해주세요. (유효기간)",
	"INVALID_STOPPED_CARD":             "정지된 카드입니다.",
	"INVALID_REJECT_CARD":              "카드 사용이 거절되었습니다. 카드사 문의가 필요합니다.",
	"INVALID_CARD_LOST_OR_STOLEN":      "분실 혹은 도난 카드입니다.",
	"REJECT_CARD_PAYMENT":              "한도초과 혹은 잔액부족으로 결제에 실패했습니다.",
	"REJECT_CARD_COMPANY":              "결제 승인이 거절되었습니다.",
	"REJECT_ACCOUNT_PAYMENT":           "잔액부족으로 결제에 실패했습니다.",
	"BELOW_MINIMUM_AMOUNT":             "신용카드는 결제금액이 100원 이상, 계좌는 200원이상부터 결제가 가능합니다.",
	"EXCEED_MAX_DAILY_PAYMENT_COUNT":   "하루 결제 가능 횟수를 초과했습니다.",
	"EXCEED_MAX_PAYMENT_AMOUNT":        "하루 결제 가능 금액을 초과했습니다.",
	"EXCEED_MAX_ONE_DAY_AMOUNT":        "일일 한도를 초과했습니다.",
	"NOT_AVAILABLE_BANK":               "은행 서비스 시간이 아닙니다.",
	"NOT_AVAILABLE_PAYMENT":            "결제가 불가능한 시간대입니다.",
	"FDS_ERROR":                        "위험거래가 감지되어 결제가 제한되었습니다.",
	"CARD_PROCESSING_ERROR":            "카드사에서 오류가 발생했습니다.",
	"FAILED_INTERNAL_SYSTEM_PROCESSING": "내부 시스템 처리 작업이 실패했습니다. 잠시 후 다시 시도해주세요.",
	"UNKNOWN_PAYMENT_ERROR":            "결제에 실패했어요. 같은 문제가 반복된다면 은행이나 카드사로 문의해주세요.",
}

const defaultUserMessage = "결제에 실패했습니다. 잠시 후 다시 시도해주세요."

// UserMessage maps a gateway error code to a buyer-facing message, falling
// back to a generic one for unknown codes.
func UserMessage(code string) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return defaultUserMessage
}
