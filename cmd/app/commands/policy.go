package commands

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
	keymanagerService "github.com/allisson/keymanager/internal/keymanager/service"
)

const pemTypePrivateKey = "PRIVATE KEY"

// RunCreatePolicySigner generates an ed25519 policy signing key. The private
// key is written as PKCS#8 PEM; the base64 PKIX public key belongs in
// POLICY_TRUSTED_SIGNERS.
func RunCreatePolicySigner(writer io.Writer, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate policy signing key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("failed to encode policy signing key: %w", err)
	}
	pkix, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to encode policy verification key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der})
	publicKey := base64.StdEncoding.EncodeToString(pkix)

	if format == "json" {
		return writeJSON(writer, map[string]string{
			"private_key_pem": string(privatePEM),
			"public_key":      publicKey,
		})
	}

	_, _ = fmt.Fprintf(writer, "# Add to POLICY_TRUSTED_SIGNERS: %s\n", publicKey)
	_, _ = fmt.Fprint(writer, string(privatePEM))
	return nil
}

// RunSignPolicy adds a signature to a policy document read from reader and
// writes the request body accepted by PUT /v1/runtimes/:runtime/policy.
//
// The document is either a bare policy or an already signed request, so several
// signers can sign in turn. keyPEM holds a PKCS#8 ed25519 or P-256 private key.
func RunSignPolicy(
	codec *keymanagerService.PolicyCodec,
	logger *slog.Logger,
	reader io.Reader,
	writer io.Writer,
	keyPEM []byte,
) error {
	signer, err := parsePolicySigner(keyPEM)
	if err != nil {
		return err
	}

	document, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read policy document: %w", err)
	}
	request, err := parsePolicyDocument(document)
	if err != nil {
		return err
	}

	body, err := codec.SigningBody(request.Policy)
	if err != nil {
		return err
	}
	publicKey, signature, err := keymanagerService.Sign(signer, body)
	if err != nil {
		return err
	}
	request.Signatures = append(request.Signatures, dto.PolicySignatureRequest{
		PublicKey: publicKey,
		Signature: signature,
	})

	logger.Info("policy signed",
		slog.String("runtime_id", request.Policy.RuntimeID),
		slog.Uint64("serial", request.Policy.Serial),
		slog.Int("signatures", len(request.Signatures)))

	return writeJSON(writer, request)
}

func parsePolicySigner(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != pemTypePrivateKey {
		return nil, errors.New("policy signing key must be a PKCS#8 PEM private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy signing key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, keymanagerService.ErrUnsupportedKey
	}
	return signer, nil
}

func parsePolicyDocument(document []byte) (*dto.SubmitPolicyRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(document, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}

	request := &dto.SubmitPolicyRequest{}
	if _, signed := fields["policy"]; signed {
		if err := json.Unmarshal(document, request); err != nil {
			return nil, fmt.Errorf("failed to parse signed policy: %w", err)
		}
	} else {
		var policy domain.Policy
		if err := json.Unmarshal(document, &policy); err != nil {
			return nil, fmt.Errorf("failed to parse policy: %w", err)
		}
		request.Policy = policy
	}

	if err := request.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return request, nil
}
