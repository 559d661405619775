package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/keymanager/cmd/app/commands"
	"github.com/allisson/keymanager/internal/app"
	"github.com/allisson/keymanager/internal/config"
)

func getAccessCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "hash-admin-token",
			Usage: "Hash an admin bearer token for ADMIN_TOKEN_HASH, generating one if omitted",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "token",
					Aliases: []string{"t"},
					Usage:   "Plain admin token (omit to generate a random one)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunHashAdminToken(
					container.AdminTokenService(),
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("token"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "create-policy-signer",
			Usage: "Generate an ed25519 policy signing key",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunCreatePolicySigner(commands.DefaultIO().Writer, cmd.String("format"))
			},
		},
		{
			Name:  "sign-policy",
			Usage: "Add a signature to a policy document",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "key",
					Aliases:  []string{"k"},
					Required: true,
					Usage:    "Path to the PKCS#8 PEM policy signing key",
				},
				&cli.StringFlag{
					Name:    "input",
					Aliases: []string{"in"},
					Value:   "-",
					Usage:   "Policy or signed policy JSON file ('-' reads stdin)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				keyPEM, err := os.ReadFile(cmd.String("key"))
				if err != nil {
					return fmt.Errorf("failed to read policy signing key: %w", err)
				}

				input := commands.DefaultIO()
				if path := cmd.String("input"); path != "-" {
					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("failed to open policy document: %w", err)
					}
					defer func() { _ = f.Close() }()
					input.Reader = f
				}

				codec, err := container.PolicyCodec()
				if err != nil {
					return err
				}

				return commands.RunSignPolicy(codec, container.Logger(), input.Reader, input.Writer, keyPEM)
			},
		},
		{
			Name:  "issue-receipt",
			Usage: "Issue an attestation receipt with ATTESTATION_RECEIPT_KEY (development only)",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "identity",
					Required: true,
					Usage:    "Enclave identity",
				},
				&cli.StringFlag{
					Name:     "runtime",
					Required: true,
					Usage:    "Runtime ID",
				},
				&cli.StringFlag{
					Name:     "measurement",
					Required: true,
					Usage:    "Hex enclave measurement",
				},
				&cli.StringFlag{
					Name:  "rek",
					Usage: "Base64 public runtime encryption key",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunIssueReceipt(
					container.Logger(),
					commands.DefaultIO().Writer,
					cfg.AttestationReceiptKey,
					cfg.AttestationReceiptTTL,
					commands.ReceiptParams{
						Identity:    cmd.String("identity"),
						RuntimeID:   cmd.String("runtime"),
						Measurement: cmd.String("measurement"),
						REK:         cmd.String("rek"),
					},
				)
			},
		},
	}
}
