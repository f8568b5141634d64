package payment

import (
	"errors"

	"github.com/noah-isme/backend-tiket/internal/common"
)

var (
	// ErrMissingField is returned when any part of the payment assertion is empty.
	ErrMissingField = errors.New("missing payment fields")
	// ErrVerifierNotConfigured is returned when no signing secret is available.
	ErrVerifierNotConfigured = errors.New("payment verifier not configured")
)

// Outcome is the result of checking a payment assertion.
type Outcome int

const (
	Rejected Outcome = iota
	Accepted
)

func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "rejected"
}

// Verifier checks the signature the gateway's checkout widget hands back to the
// browser after a charge.
type Verifier struct {
	Secret string
}

// Sign returns hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func (v Verifier) Sign(orderID, paymentID string) string {
	return common.HmacSHA256Hex(v.Secret, []byte(orderID+"|"+paymentID))
}

// Verify reports whether signature was produced for the order/payment pair.
// A mismatch is a normal Rejected outcome, not an error.
func (v Verifier) Verify(orderID, paymentID, signature string) (Outcome, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return Rejected, ErrMissingField
	}
	if v.Secret == "" {
		return Rejected, ErrVerifierNotConfigured
	}
	if !common.EqualHex(v.Sign(orderID, paymentID), signature) {
		return Rejected, nil
	}
	return Accepted, nil
}
