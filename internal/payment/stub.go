package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/noah-isme/backend-tiket/internal/common"
)

// Stub is an offline gateway for local development. Order identifiers are
// derived from the receipt so repeated runs are reproducible.
type Stub struct{}

// CreateOrder synthesises a created order without any network call.
func (Stub) CreateOrder(_ context.Context, req OrderRequest) (OrderResponse, error) {
	if strings.TrimSpace(req.Receipt) == "" {
		return OrderResponse{}, errors.New("receipt is required")
	}
	if req.Amount <= 0 {
		return OrderResponse{}, errors.New("amount must be positive")
	}
	return OrderResponse{
		ID:       "order_" + common.Sha256Hex(req.Receipt)[:14],
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}
