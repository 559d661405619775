package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/keymanager/cmd/app/commands"
	"github.com/allisson/keymanager/internal/app"
	"github.com/allisson/keymanager/internal/config"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
)

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create-sealing-key",
			Usage: "Generate a sealing key for records at rest",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "id",
					Aliases: []string{"i"},
					Value:   "",
					Usage:   "Sealing key ID (e.g., prod-sealing-key-2026)",
				},
				&cli.StringFlag{
					Name:  "kms-provider",
					Value: "",
					Usage: "KMS provider (localsecrets, gcpkms, awskms, azurekeyvault, hashivault)",
				},
				&cli.StringFlag{
					Name:  "kms-key-uri",
					Value: "",
					Usage: "KMS key URI (e.g., base64key://, gcpkms://projects/.../cryptoKeys/...)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunCreateSealingKey(
					ctx,
					cryptoService.NewKMSService(),
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("id"),
					cmd.String("kms-provider"),
					cmd.String("kms-key-uri"),
				)
			},
		},
		{
			Name:  "create-rek",
			Usage: "Generate a node runtime encryption key (x25519)",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunCreateREK(commands.DefaultIO().Writer, cmd.String("format"))
			},
		},
		{
			Name:  "create-rsk",
			Usage: "Generate a runtime signing key (ed25519) for signed status",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunCreateRSK(commands.DefaultIO().Writer, cmd.String("format"))
			},
		},
	}
}
