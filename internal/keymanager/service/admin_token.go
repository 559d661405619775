package service

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/allisson/go-pwdhash"

	apperrors "github.com/allisson/keymanager/internal/errors"
)

// AdminTokenService issues and verifies the bearer token of the admin API.
// Only the Argon2id hash of the token is configured on the server.
type AdminTokenService struct {
	hasher *pwdhash.PasswordHasher
}

// NewAdminTokenService creates an AdminTokenService using the Moderate Argon2id policy.
func NewAdminTokenService() *AdminTokenService {
	hasher, err := pwdhash.New(
		pwdhash.WithPolicy(pwdhash.PolicyModerate),
	)
	if err != nil {
		// This should never happen with valid policy
		panic(err)
	}

	return &AdminTokenService{hasher: hasher}
}

// GenerateToken creates a random 32-byte token and its hash.
func (s *AdminTokenService) GenerateToken() (plainToken string, tokenHash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", apperrors.Wrap(err, "failed to generate admin token")
	}

	plainToken = base64.RawURLEncoding.EncodeToString(randomBytes)

	tokenHash, err = s.HashToken(plainToken)
	if err != nil {
		return "", "", err
	}

	return plainToken, tokenHash, nil
}

// HashToken hashes a plain token using Argon2id.
func (s *AdminTokenService) HashToken(plainToken string) (string, error) {
	tokenHash, err := s.hasher.Hash([]byte(plainToken))
	if err != nil {
		return "", apperrors.Wrap(err, "failed to hash admin token")
	}
	return tokenHash, nil
}

// CompareToken reports whether plainToken matches tokenHash in constant time.
func (s *AdminTokenService) CompareToken(plainToken, tokenHash string) bool {
	if plainToken == "" || tokenHash == "" {
		return false
	}
	ok, err := s.hasher.Verify([]byte(plainToken), tokenHash)
	if err != nil {
		return false
	}
	return ok
}
