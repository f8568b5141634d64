package payment_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/payment"
)

func TestVerifierAcceptsValidSignature(t *testing.T) {
	v := payment.Verifier{Secret: "s3cr3t"}
	sig := common.HmacSHA256Hex("s3cr3t", []byte("order_A|pay_B"))
	require.Equal(t, sig, v.Sign("order_A", "pay_B"))

	outcome, err := v.Verify("order_A", "pay_B", sig)
	require.NoError(t, err)
	require.Equal(t, payment.Accepted, outcome)
}

func TestVerifierRejectsAnySingleBitFlip(t *testing.T) {
	v := payment.Verifier{Secret: "s3cr3t"}
	sig := v.Sign("order_A", "pay_B")
	raw, err := hex.DecodeString(sig)
	require.NoError(t, err)

	for i := 0; i < len(raw)*8; i++ {
		flipped := append([]byte(nil), raw...)
		flipped[i/8] ^= 1 << (i % 8)
		outcome, err := v.Verify("order_A", "pay_B", hex.EncodeToString(flipped))
		require.NoError(t, err)
		require.Equal(t, payment.Rejected, outcome, "bit %d", i)
	}
}

func TestVerifierIsCaseSensitive(t *testing.T) {
	v := payment.Verifier{Secret: "s3cr3t"}
	sig := v.Sign("order_A", "pay_B")
	upper := []byte(sig)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 'a' + 'A'
		}
	}
	require.NotEqual(t, sig, string(upper))
	outcome, err := v.Verify("order_A", "pay_B", string(upper))
	require.NoError(t, err)
	require.Equal(t, payment.Rejected, outcome)
}

func TestVerifierSwappedIdentifiersReject(t *testing.T) {
	v := payment.Verifier{Secret: "s3cr3t"}
	outcome, err := v.Verify("pay_B", "order_A", v.Sign("order_A", "pay_B"))
	require.NoError(t, err)
	require.Equal(t, payment.Rejected, outcome)
}

func TestVerifierMissingFields(t *testing.T) {
	v := payment.Verifier{Secret: "s3cr3t"}
	sig := v.Sign("order_A", "pay_B")
	cases := [][3]string{
		{"", "pay_B", sig},
		{"order_A", "", sig},
		{"order_A", "pay_B", ""},
	}
	for _, c := range cases {
		outcome, err := v.Verify(c[0], c[1], c[2])
		require.ErrorIs(t, err, payment.ErrMissingField)
		require.Equal(t, payment.Rejected, outcome)
	}

	// missing fields win over a missing secret
	_, err := payment.Verifier{}.Verify("", "pay_B", sig)
	require.ErrorIs(t, err, payment.ErrMissingField)
}

func TestVerifierWithoutSecret(t *testing.T) {
	outcome, err := payment.Verifier{}.Verify("order_A", "pay_B", "abc")
	require.ErrorIs(t, err, payment.ErrVerifierNotConfigured)
	require.Equal(t, payment.Rejected, outcome)
}
