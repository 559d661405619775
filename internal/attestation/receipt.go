// Package attestation turns receipts issued by the external attestation
// service into key manager sessions.
//
// The attestation service verifies the enclave quote and issues a receipt: an
// HS256 JWT whose key is derived with HKDF from the secret shared with this
// service. The key manager only checks the receipt; it never sees the quote.
package attestation

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

const (
	receiptKeyInfo = "attestation-receipt-v1"
	// maxClockSkew tolerates issuers whose clock runs slightly ahead.
	maxClockSkew = 30 * time.Second
)

var (
	// ErrInvalidReceipt indicates a malformed receipt or a bad signature.
	ErrInvalidReceipt = apperrors.Wrap(apperrors.ErrUnauthorized, "invalid attestation receipt")

	// ErrReceiptExpired indicates a receipt older than the configured TTL or issued in the future.
	ErrReceiptExpired = apperrors.Wrap(apperrors.ErrUnauthorized, "attestation receipt expired")

	// ErrInvalidReceiptKey indicates the shared receipt key is too short.
	ErrInvalidReceiptKey = apperrors.New("attestation receipt key must be at least 32 bytes")

	errMissingSubject = apperrors.New("receipt has no identity or runtime")
)

// Claims is what the attestation service vouches for. The registered claims
// carry the receipt id (jti), issue time and expiry.
type Claims struct {
	jwt.RegisteredClaims
	Identity    string `json:"identity"`
	RuntimeID   string `json:"runtime_id"`
	Measurement string `json:"measurement,omitempty"`
	REK         []byte `json:"rek,omitempty"`
}

// Validate is called by the JWT parser after the registered claims pass.
func (c *Claims) Validate() error {
	if c.Identity == "" || c.RuntimeID == "" {
		return errMissingSubject
	}
	return nil
}

// Session converts verified claims into an authenticated session.
func (c *Claims) Session() *domain.Session {
	return &domain.Session{
		Identity:      c.Identity,
		RuntimeID:     c.RuntimeID,
		Measurement:   strings.ToLower(c.Measurement),
		REK:           c.REK,
		Authenticated: true,
	}
}

func deriveReceiptKey(sharedKey []byte) ([]byte, error) {
	if len(sharedKey) < 32 {
		return nil, ErrInvalidReceiptKey
	}

	kdf := hkdf.New(sha256.New, sharedKey, nil, []byte(receiptKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive receipt key: %w", err)
	}
	return key, nil
}

// Signer issues receipts. It is used by the issue-receipt command and by tests;
// in production the attestation service holds the shared key.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner derives the receipt key from sharedKey. Issued receipts expire
// ttl after their issue time.
func NewSigner(sharedKey []byte, ttl time.Duration) (*Signer, error) {
	key, err := deriveReceiptKey(sharedKey)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue fills the id, issue time and expiry when unset and returns the
// signed receipt.
func (s *Signer) Issue(claims Claims) (string, error) {
	if claims.ID == "" {
		claims.ID = uuid.Must(uuid.NewV7()).String()
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(s.now())
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(claims.IssuedAt.Add(s.ttl))
	}

	receipt, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}
	return receipt, nil
}
