// Package main is artifyctl, the operator CLI for Artify: schema migrations,
// API keys, test tokens and record lookups.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artify-labs/artify/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.NewWithWriter(logger.Config{Level: "warn", Format: "text"}, os.Stderr)

	if err := newApp(os.Stdout, openPostgres).Run(ctx, os.Args); err != nil {
		slog.Error("artifyctl failed", "error", err)
		os.Exit(1)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "dotenv file to load before reading the environment",
		Value: ".env",
	}
}

func newApp(out io.Writer, open opener) *cli.Command {
	a := &app{out: out, open: open}

	return &cli.Command{
		Name:  "artifyctl",
		Usage: "Operate an Artify deployment",
		Flags: []cli.Flag{envFlag()},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "migrations directory",
						Value: "migrations",
					},
				},
				Commands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply every pending migration",
						Action: a.migrateUp,
					},
					{
						Name:  "down",
						Usage: "Revert applied migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "steps",
								Usage: "number of migrations to revert",
								Value: 1,
							},
						},
						Action: a.migrateDown,
					},
					{
						Name:   "version",
						Usage:  "Print the applied schema version",
						Action: a.migrateVersion,
					},
				},
			},
			{
				Name:  "keys",
				Usage: "Manage API keys",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Create an API key; the raw key is printed once",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "owner", Usage: "owner the key submits as", Required: true},
							&cli.StringFlag{Name: "name", Usage: "label for the key", Required: true},
							&cli.StringSliceFlag{Name: "scope", Usage: "scope to grant (repeatable); default submit and read"},
						},
						Action: a.keysCreate,
					},
					{
						Name:  "list",
						Usage: "List an owner's active API keys",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "owner", Usage: "key owner", Required: true},
						},
						Action: a.keysList,
					},
					{
						Name:      "revoke",
						Usage:     "Revoke an API key",
						ArgsUsage: "<key-id>",
						Action:    a.keysRevoke,
					},
				},
			},
			{
				Name:  "token",
				Usage: "Issue JWTs signed with JWT_SECRET",
				Commands: []*cli.Command{
					{
						Name:  "issue",
						Usage: "Print a bearer token for an owner",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "owner", Usage: "token subject", Required: true},
							&cli.StringSliceFlag{Name: "scope", Usage: "scope to grant (repeatable); default submit and read"},
							&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour},
						},
						Action: a.tokenIssue,
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Print a record as JSON",
				ArgsUsage: "<job-id>",
				Action:    a.status,
			},
		},
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
