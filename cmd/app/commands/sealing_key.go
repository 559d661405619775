package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"time"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
)

// RunCreateSealingKey generates a 32-byte sealing key for records at rest.
// If keyID is empty a default ID in format "sealing-key-YYYY-MM-DD" is used.
//
// With kmsProvider and kmsKeyURI the key is wrapped by the KMS before output and
// the container unwraps it on startup. Without them the raw key is printed, which
// is only suitable for local development.
//
// Output format:
//   - SEALING_KEYS="<keyID>:<base64>"
//   - ACTIVE_SEALING_KEY_ID="<keyID>"
//   - KMS_PROVIDER and KMS_KEY_URI when a KMS is used
func RunCreateSealingKey(
	ctx context.Context,
	kmsService cryptoService.KMSService,
	logger *slog.Logger,
	writer io.Writer,
	keyID, kmsProvider, kmsKeyURI string,
) error {
	if (kmsProvider == "") != (kmsKeyURI == "") {
		return fmt.Errorf("--kms-provider and --kms-key-uri must be set together")
	}

	if keyID == "" {
		keyID = fmt.Sprintf("sealing-key-%s", time.Now().Format("2006-01-02"))
	}

	sealingKey := make([]byte, cryptoDomain.KeySize)
	if _, err := rand.Read(sealingKey); err != nil {
		return fmt.Errorf("failed to generate sealing key: %w", err)
	}
	defer cryptoDomain.Zero(sealingKey)

	if kmsKeyURI == "" {
		logger.Warn("sealing key printed without KMS wrapping: use only for local development")

		_, _ = fmt.Fprintln(writer, "# Sealing Key Configuration (plaintext)")
		_, _ = fmt.Fprintln(writer, "# Copy these environment variables to your .env file or secrets manager")
		_, _ = fmt.Fprintln(writer)
		_, _ = fmt.Fprintf(writer, "SEALING_KEYS=\"%s:%s\"\n", keyID, base64.StdEncoding.EncodeToString(sealingKey))
		_, _ = fmt.Fprintf(writer, "ACTIVE_SEALING_KEY_ID=\"%s\"\n", keyID)
		return nil
	}

	keeper, err := kmsService.OpenKeeper(ctx, kmsKeyURI)
	if err != nil {
		return fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	defer func() {
		if closeErr := keeper.Close(); closeErr != nil {
			logger.Warn("failed to close KMS keeper", slog.Any("error", closeErr))
		}
	}()

	ciphertext, err := keeper.Encrypt(ctx, sealingKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt sealing key with KMS: %w", err)
	}
	encodedKey := base64.StdEncoding.EncodeToString(ciphertext)

	logger.Info("sealing key created", slog.String("key_id", keyID), slog.String("kms_provider", kmsProvider))

	_, _ = fmt.Fprintln(writer, "# Sealing Key Configuration (KMS Mode)")
	_, _ = fmt.Fprintln(writer, "# Copy these environment variables to your .env file or secrets manager")
	_, _ = fmt.Fprintln(writer)
	_, _ = fmt.Fprintf(writer, "KMS_PROVIDER=\"%s\"\n", kmsProvider)
	_, _ = fmt.Fprintf(writer, "KMS_KEY_URI=\"%s\"\n", kmsKeyURI)
	_, _ = fmt.Fprintf(writer, "SEALING_KEYS=\"%s:%s\"\n", keyID, encodedKey)
	_, _ = fmt.Fprintf(writer, "ACTIVE_SEALING_KEY_ID=\"%s\"\n", keyID)
	_, _ = fmt.Fprintln(writer)
	_, _ = fmt.Fprintln(writer, "# To rotate, append the new key and switch the active id; old records stay readable:")
	_, _ = fmt.Fprintf(writer, "# SEALING_KEYS=\"%s:%s,new-key:base64-encoded-kms-ciphertext\"\n", keyID, encodedKey)
	_, _ = fmt.Fprintln(writer, "# ACTIVE_SEALING_KEY_ID=\"new-key\"")

	return nil
}
