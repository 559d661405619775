package domain

// Sealed is record material encrypted under a sealing key.
type Sealed struct {
	KeyID      string
	Algorithm  Algorithm
	Ciphertext []byte
	Nonce      []byte
}
