package commands

import (
	"encoding/base64"
	"fmt"
	"io"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
)

type keyPairOutput struct {
	EnvVar     string `json:"env_var"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// RunCreateREK generates the x25519 runtime encryption key a replica uses to
// open secrets exported to it. The public half goes into attestation receipts.
func RunCreateREK(writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	pub, priv, err := cryptoService.GenerateREK()
	if err != nil {
		return err
	}
	defer cryptoDomain.Zero(priv)

	return writeKeyPair(writer, format, keyPairOutput{
		EnvVar:     "NODE_REK_PRIVATE_KEY",
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	})
}

// RunCreateRSK generates the ed25519 runtime signing key used for signed status reports.
func RunCreateRSK(writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	pub, seed, err := cryptoService.GenerateRSK()
	if err != nil {
		return err
	}
	defer cryptoDomain.Zero(seed)

	return writeKeyPair(writer, format, keyPairOutput{
		EnvVar:     "NODE_RSK_PRIVATE_KEY",
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(seed),
	})
}

func writeKeyPair(writer io.Writer, format string, out keyPairOutput) error {
	if format == "json" {
		return writeJSON(writer, out)
	}

	_, _ = fmt.Fprintf(writer, "# Public key (share with peers): %s\n", out.PublicKey)
	_, _ = fmt.Fprintf(writer, "%s=\"%s\"\n", out.EnvVar, out.PrivateKey)
	return nil
}
