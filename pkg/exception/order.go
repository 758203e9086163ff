package exception

import "errors"

var (
	ErrOrderQueueFull          = errors.New("order: queue full")
	ErrOrderInvalidRequest     = errors.New("order: invalid request")
	ErrOrderUnsupportedAction  = errors.New("order: unsupported action")
	ErrOrderNilDelegator       = errors.New("order: nil delegator")
	ErrOrderRejected           = errors.New("order: rejected by exchange")
	ErrOrderUnknown            = errors.New("order: not tracked")
	ErrOrderDuplicate          = errors.New("order: already tracked")
	ErrOrderTerminal           = errors.New("order: terminal state reached")
	ErrOrderRiskDenied         = errors.New("order: denied by risk limits")
	ErrOrderEmptyResponseID    = errors.New("order: empty response order id")
	ErrOrderDecodeResponseBody = errors.New("order: decode response body")
)
