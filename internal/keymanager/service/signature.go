package service

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedKey is returned for public keys other than ed25519 and ECDSA P-256.
	ErrUnsupportedKey = errors.New("unsupported signer key type")

	// ErrSignatureMismatch is returned when a signature does not verify.
	ErrSignatureMismatch = errors.New("signature does not verify")
)

// SignatureVerifier verifies policy signatures made with ed25519 or ECDSA P-256
// keys. Public keys are PKIX (DER) encoded.
type SignatureVerifier struct{}

// NewSignatureVerifier creates a SignatureVerifier.
func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{}
}

// Verify checks signature over message. ECDSA signatures are ASN.1 encoded
// over the SHA-256 digest of message.
func (v *SignatureVerifier) Verify(publicKey, message, signature []byte) error {
	parsed, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("failed to parse signer key: %w", err)
	}

	switch key := parsed.(type) {
	case ed25519.PublicKey:
		if !ed25519.Verify(key, message, signature) {
			return ErrSignatureMismatch
		}
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() {
			return ErrUnsupportedKey
		}
		digest := sha256.Sum256(message)
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return ErrSignatureMismatch
		}
	default:
		return ErrUnsupportedKey
	}

	return nil
}

// Sign produces a signature Verify accepts, using an ed25519 or ECDSA P-256
// private key. It returns the PKIX encoded public key with the signature.
func Sign(signer crypto.Signer, message []byte) (publicKey, signature []byte, err error) {
	publicKey, err = x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode signer key: %w", err)
	}

	switch key := signer.(type) {
	case ed25519.PrivateKey:
		signature = ed25519.Sign(key, message)
	case *ecdsa.PrivateKey:
		if key.Curve != elliptic.P256() {
			return nil, nil, ErrUnsupportedKey
		}
		digest := sha256.Sum256(message)
		signature, err = ecdsa.SignASN1(rand.Reader, key, digest[:])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to sign: %w", err)
		}
	default:
		return nil, nil, ErrUnsupportedKey
	}

	return publicKey, signature, nil
}
