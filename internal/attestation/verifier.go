package attestation

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks receipts against the shared key and a maximum age.
type Verifier struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewVerifier derives the receipt key from sharedKey.
func NewVerifier(sharedKey []byte, ttl time.Duration) (*Verifier, error) {
	key, err := deriveReceiptKey(sharedKey)
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key, ttl: ttl, now: time.Now}, nil
}

// Verify parses receipt and returns its claims when the signature is valid,
// the receipt has not expired and it is no older than the configured TTL.
func (v *Verifier) Verify(_ context.Context, receipt string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(receipt, &claims,
		func(*jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(maxClockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return nil, ErrReceiptExpired
	case err != nil:
		return nil, ErrInvalidReceipt
	}

	// The issuer picks the expiry; the key manager still bounds the age.
	if claims.IssuedAt == nil || v.now().Sub(claims.IssuedAt.Time) > v.ttl {
		return nil, ErrReceiptExpired
	}

	return &claims, nil
}
