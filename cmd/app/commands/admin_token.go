package commands

import (
	"fmt"
	"io"
	"log/slog"

	keymanagerService "github.com/allisson/keymanager/internal/keymanager/service"
)

// RunHashAdminToken prints the Argon2id hash of an admin bearer token. When
// plainToken is empty a random token is generated and printed once.
func RunHashAdminToken(
	tokenService *keymanagerService.AdminTokenService,
	logger *slog.Logger,
	writer io.Writer,
	plainToken, format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	generated := plainToken == ""
	var tokenHash string
	var err error
	if generated {
		plainToken, tokenHash, err = tokenService.GenerateToken()
	} else {
		tokenHash, err = tokenService.HashToken(plainToken)
	}
	if err != nil {
		return err
	}

	logger.Info("admin token hashed", slog.Bool("generated", generated))

	if format == "json" {
		out := map[string]string{"admin_token_hash": tokenHash}
		if generated {
			out["admin_token"] = plainToken
		}
		return writeJSON(writer, out)
	}

	if generated {
		_, _ = fmt.Fprintln(writer, "# Admin token (shown only once, send it as a Bearer token):")
		_, _ = fmt.Fprintf(writer, "# %s\n", plainToken)
	}
	_, _ = fmt.Fprintf(writer, "ADMIN_TOKEN_HASH=\"%s\"\n", tokenHash)
	return nil
}
