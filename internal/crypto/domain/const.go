package domain

// Algorithm represents the AEAD algorithm used to seal records at rest.
//
// Both algorithms take 32-byte keys and 12-byte nonces and append a 16-byte
// authentication tag to the ciphertext.
type Algorithm string

const (
	// AESGCM represents AES-256-GCM. Preferred on CPUs with AES-NI.
	AESGCM Algorithm = "aes-gcm"

	// ChaCha20 represents ChaCha20-Poly1305. Preferred where AES is not
	// hardware accelerated.
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the length of every symmetric key handled by this package.
const KeySize = 32

// ParseAlgorithm converts a configuration value to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AESGCM:
		return AESGCM, nil
	case ChaCha20:
		return ChaCha20, nil
	default:
		return "", ErrUnsupportedAlgorithm
	}
}
