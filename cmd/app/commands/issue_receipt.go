package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"time"

	validation "github.com/jellydator/validation"

	"github.com/allisson/keymanager/internal/attestation"
	customValidation "github.com/allisson/keymanager/internal/validation"
)

// ReceiptParams are the claims of a receipt issued from the command line.
type ReceiptParams struct {
	Identity    string
	RuntimeID   string
	Measurement string
	// REK is the base64 public runtime encryption key, optional.
	REK string
}

// Validate checks the claims before anything is signed.
func (p ReceiptParams) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Identity, validation.Required, customValidation.NoWhitespace),
		validation.Field(&p.RuntimeID, validation.Required, customValidation.Identifier),
		validation.Field(&p.Measurement, validation.Required, customValidation.Measurement),
		validation.Field(&p.REK, customValidation.Base64),
	)
	return customValidation.WrapValidationError(err)
}

// RunIssueReceipt signs an attestation receipt with the shared receipt key.
// It stands in for the attestation service in development and tests; the
// receipt is sent in the X-Attestation-Receipt header.
func RunIssueReceipt(
	logger *slog.Logger,
	writer io.Writer,
	sharedKey string,
	ttl time.Duration,
	params ReceiptParams,
) error {
	if sharedKey == "" {
		return fmt.Errorf("ATTESTATION_RECEIPT_KEY is required to issue receipts")
	}
	key, err := base64.StdEncoding.DecodeString(sharedKey)
	if err != nil {
		return fmt.Errorf("failed to decode attestation receipt key: %w", err)
	}

	signer, err := attestation.NewSigner(key, ttl)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	var rek []byte
	if params.REK != "" {
		if rek, err = base64.StdEncoding.DecodeString(params.REK); err != nil {
			return fmt.Errorf("failed to decode runtime encryption key: %w", err)
		}
	}
	receipt, err := signer.Issue(attestation.Claims{
		Identity:    params.Identity,
		RuntimeID:   params.RuntimeID,
		Measurement: params.Measurement,
		REK:         rek,
	})
	if err != nil {
		return err
	}

	logger.Info("attestation receipt issued",
		slog.String("identity", params.Identity),
		slog.String("runtime_id", params.RuntimeID),
		slog.Duration("ttl", ttl))

	_, _ = fmt.Fprintln(writer, receipt)
	return nil
}
