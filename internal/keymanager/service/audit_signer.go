package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	apperrors "github.com/allisson/keymanager/internal/errors"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

const auditSigningInfo = "keymanager/audit-log: v1"

// ErrAuditSignatureInvalid indicates an audit entry whose signature does not match its content.
var ErrAuditSignatureInvalid = apperrors.New("audit log signature is invalid")

// SealingKeys is the view of the sealing key chain the audit signer needs.
type SealingKeys interface {
	ActiveKeyID() string
	Get(id string) (*cryptoDomain.SealingKey, bool)
}

// auditSigningBody is the canonical CBOR array an audit signature covers.
type auditSigningBody struct {
	_                 struct{} `cbor:",toarray"`
	Sequence          uint64
	ID                []byte
	Action            string
	Identity          string
	RuntimeID         string
	Kind              string
	Version           uint64
	Outcome           string
	CreatedAtMicros   int64
	PreviousSignature []byte
}

// AuditSigner signs audit entries with HMAC-SHA256 under a key derived from a
// sealing key, so the trail needs no key material of its own.
type AuditSigner struct {
	keys SealingKeys
	enc  cbor.EncMode
}

// NewAuditSigner creates an AuditSigner over keys.
func NewAuditSigner(keys SealingKeys) (*AuditSigner, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encoder: %w", err)
	}
	return &AuditSigner{keys: keys, enc: enc}, nil
}

// Sign stamps entry with the active sealing key id and its signature.
func (a *AuditSigner) Sign(entry *domain.AuditLog) error {
	entry.SigningKeyID = a.keys.ActiveKeyID()
	signature, err := a.compute(entry)
	if err != nil {
		return err
	}
	entry.Signature = signature
	return nil
}

// Verify recomputes the signature of entry with the key it names.
func (a *AuditSigner) Verify(entry *domain.AuditLog) error {
	expected, err := a.compute(entry)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, entry.Signature) {
		return ErrAuditSignatureInvalid
	}
	return nil
}

func (a *AuditSigner) compute(entry *domain.AuditLog) ([]byte, error) {
	body, err := a.enc.Marshal(auditSigningBody{
		Sequence:          entry.Sequence,
		ID:                entry.ID[:],
		Action:            string(entry.Action),
		Identity:          entry.Identity,
		RuntimeID:         entry.RuntimeID,
		Kind:              string(entry.Kind),
		Version:           entry.Version,
		Outcome:           entry.Outcome,
		CreatedAtMicros:   entry.CreatedAt.UnixMicro(),
		PreviousSignature: entry.PreviousSignature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit log: %w", err)
	}

	signingKey, err := a.deriveKey(entry.SigningKeyID)
	if err != nil {
		return nil, err
	}
	defer cryptoDomain.Zero(signingKey)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(body)
	return mac.Sum(nil), nil
}

func (a *AuditSigner) deriveKey(keyID string) ([]byte, error) {
	key, ok := a.keys.Get(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: sealing key %q", cryptoDomain.ErrSealingKeyNotFound, keyID)
	}

	buf, err := key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open sealing key: %w", err)
	}
	defer buf.Destroy()

	signingKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, buf.Bytes(), nil, []byte(auditSigningInfo)), signingKey); err != nil {
		return nil, fmt.Errorf("failed to derive audit signing key: %w", err)
	}
	return signingKey, nil
}
