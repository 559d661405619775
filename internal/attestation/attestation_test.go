package attestation

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/keymanager/internal/errors"
)

func newPair(t *testing.T, ttl time.Duration) (*Signer, *Verifier) {
	t.Helper()
	key := bytes.Repeat([]byte{0x5a}, 32)
	signer, err := NewSigner(key, ttl)
	require.NoError(t, err)
	verifier, err := NewVerifier(key, ttl)
	require.NoError(t, err)
	return signer, verifier
}

func testClaims() Claims {
	return Claims{
		Identity:    "node-a",
		RuntimeID:   "rt-1",
		Measurement: strings.Repeat("AB", 32),
		REK:         bytes.Repeat([]byte{1}, 32),
	}
}

func TestReceipt_IssueAndVerify(t *testing.T) {
	signer, verifier := newPair(t, time.Minute)

	receipt, err := signer.Issue(testClaims())
	require.NoError(t, err)
	assert.Len(t, strings.Split(receipt, "."), 3)

	claims, err := verifier.Verify(context.Background(), receipt)
	require.NoError(t, err)
	assert.Equal(t, "node-a", claims.Identity)
	assert.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))

	session := claims.Session()
	assert.True(t, session.Authenticated)
	assert.False(t, session.Authorized)
	assert.Equal(t, "rt-1", session.RuntimeID)
	assert.Equal(t, strings.Repeat("ab", 32), session.Measurement)
	assert.True(t, session.HasREK())
}

func TestReceipt_Tampering(t *testing.T) {
	signer, verifier := newPair(t, time.Minute)
	receipt, err := signer.Issue(testClaims())
	require.NoError(t, err)
	parts := strings.Split(receipt, ".")
	require.Len(t, parts, 3)

	forgedClaims := testClaims()
	forgedClaims.RuntimeID = "rt-2"
	forgedClaims.IssuedAt = jwt.NewNumericDate(time.Now())
	forgedClaims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Minute))
	forgedBody, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &forgedClaims).SigningString()
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &forgedClaims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		receipt string
	}{
		{name: "changed runtime", receipt: forgedBody + "." + parts[2]},
		{name: "unsigned", receipt: unsigned},
		{name: "missing signature", receipt: parts[0] + "." + parts[1]},
		{name: "bad signature encoding", receipt: parts[0] + "." + parts[1] + ".***"},
		{name: "empty", receipt: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.receipt)
			assert.ErrorIs(t, err, ErrInvalidReceipt)
			assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
		})
	}
}

func TestReceipt_WrongKey(t *testing.T) {
	signer, _ := newPair(t, time.Minute)
	other, err := NewVerifier(bytes.Repeat([]byte{0x01}, 32), time.Minute)
	require.NoError(t, err)

	receipt, err := signer.Issue(testClaims())
	require.NoError(t, err)

	_, err = other.Verify(context.Background(), receipt)
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestReceipt_Expiry(t *testing.T) {
	signer, verifier := newPair(t, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return now }

	t.Run("too old", func(t *testing.T) {
		claims := testClaims()
		claims.IssuedAt = jwt.NewNumericDate(now.Add(-2 * time.Minute))
		receipt, err := signer.Issue(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(context.Background(), receipt)
		assert.ErrorIs(t, err, ErrReceiptExpired)
	})

	t.Run("issuer expiry longer than the local ttl", func(t *testing.T) {
		claims := testClaims()
		claims.IssuedAt = jwt.NewNumericDate(now.Add(-2 * time.Minute))
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))
		receipt, err := signer.Issue(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(context.Background(), receipt)
		assert.ErrorIs(t, err, ErrReceiptExpired)
	})

	t.Run("from the future", func(t *testing.T) {
		claims := testClaims()
		claims.IssuedAt = jwt.NewNumericDate(now.Add(time.Hour))
		receipt, err := signer.Issue(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(context.Background(), receipt)
		assert.ErrorIs(t, err, ErrReceiptExpired)
	})

	t.Run("within ttl and skew", func(t *testing.T) {
		claims := testClaims()
		claims.IssuedAt = jwt.NewNumericDate(now.Add(10 * time.Second))
		receipt, err := signer.Issue(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(context.Background(), receipt)
		assert.NoError(t, err)
	})
}

func TestReceipt_RequiresIdentity(t *testing.T) {
	signer, verifier := newPair(t, time.Minute)

	for _, mutate := range []func(*Claims){
		func(c *Claims) { c.Identity = "" },
		func(c *Claims) { c.RuntimeID = "" },
	} {
		claims := testClaims()
		mutate(&claims)

		receipt, err := signer.Issue(claims)
		require.NoError(t, err)

		_, err = verifier.Verify(context.Background(), receipt)
		assert.ErrorIs(t, err, ErrInvalidReceipt)
	}
}

func TestNewSigner_ShortKey(t *testing.T) {
	_, err := NewSigner([]byte("short"), time.Minute)
	assert.ErrorIs(t, err, ErrInvalidReceiptKey)

	_, err = NewVerifier([]byte("short"), time.Minute)
	assert.ErrorIs(t, err, ErrInvalidReceiptKey)
}
