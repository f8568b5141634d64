package payment

import (
	"context"
	"errors"
	"fmt"
)

// ErrGatewayNotConfigured is returned when no gateway credentials are available.
var ErrGatewayNotConfigured = errors.New("payment gateway not configured")

// OrderRequest captures what the gateway needs to open a remote order.
// Amount is expressed in the gateway's minor currency unit.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// OrderResponse is the subset of the gateway order the checkout flow relies on.
type OrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway abstracts the remote payment processor that owns orders and charges.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
}

// GatewayError reports a non-2xx answer from the gateway. Error returns the
// gateway's own description so it can be shown to the buyer unchanged.
type GatewayError struct {
	Status      int
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Description != "" {
		return e.Description
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("payment gateway returned status %d", e.Status)
}
