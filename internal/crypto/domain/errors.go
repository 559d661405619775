package domain

import (
	"github.com/allisson/keymanager/internal/errors"
)

// Cryptographic operation error definitions.
//
// These errors wrap the categories from internal/errors so that the HTTP
// layer can map them without knowing about crypto.
var (
	// ErrUnsupportedAlgorithm indicates the requested AEAD algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.Wrap(errors.ErrInvalidInput, "unsupported algorithm")

	// ErrInvalidKeySize indicates a symmetric key is not exactly 32 bytes.
	ErrInvalidKeySize = errors.Wrap(errors.ErrInvalidInput, "invalid key size")

	// ErrDecryptionFailed indicates a decryption operation failed.
	//
	// The cause (wrong key, tampered ciphertext, wrong AAD) is deliberately not
	// distinguished.
	ErrDecryptionFailed = errors.Wrap(errors.ErrInvalidInput, "decryption failed")

	// ErrSealingKeysNotSet indicates SEALING_KEYS is empty.
	ErrSealingKeysNotSet = errors.New("SEALING_KEYS is not set")

	// ErrActiveSealingKeyIDNotSet indicates ACTIVE_SEALING_KEY_ID is empty.
	ErrActiveSealingKeyIDNotSet = errors.New("ACTIVE_SEALING_KEY_ID is not set")

	// ErrInvalidSealingKeysFormat indicates an entry of SEALING_KEYS is not "id:base64".
	ErrInvalidSealingKeysFormat = errors.New("invalid SEALING_KEYS format")

	// ErrInvalidSealingKeyBase64 indicates a sealing key is not valid base64.
	ErrInvalidSealingKeyBase64 = errors.New("invalid sealing key base64")

	// ErrActiveSealingKeyNotFound indicates the active key id is not in the keychain.
	ErrActiveSealingKeyNotFound = errors.New("active sealing key not found")

	// ErrSealingKeyNotFound indicates a stored record references an unknown sealing key.
	ErrSealingKeyNotFound = errors.Wrap(errors.ErrNotFound, "sealing key not found")

	// ErrUnsupportedKMSScheme indicates KMS_KEY_URI names no registered keeper.
	ErrUnsupportedKMSScheme = errors.New("unsupported KMS key URI")

	// ErrInvalidPublicKey indicates a REK or RSK public key has the wrong encoding or size.
	ErrInvalidPublicKey = errors.Wrap(errors.ErrInvalidInput, "invalid public key")

	// ErrInvalidPrivateKey indicates a configured node private key is malformed.
	ErrInvalidPrivateKey = errors.New("invalid private key")
)
