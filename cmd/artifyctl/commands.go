package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/artify-labs/artify/internal/auth"
	"github.com/artify-labs/artify/internal/config"
	"github.com/artify-labs/artify/internal/store"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// opener connects to the record store described by cfg. The returned func
// releases it.
type opener func(ctx context.Context, cfg *config.Config) (store.Store, func(), error)

func openPostgres(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

type app struct {
	out  io.Writer
	open opener
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(cmd.String("env"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (a *app) withStore(ctx context.Context, cmd *cli.Command, fn func(store.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, release, err := a.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()
	return fn(st)
}

// ─── migrate ─────────────────────────────────────────────────────────────────

func (a *app) migrateUp(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := store.RunMigrations(cfg.Database.URL, cmd.String("dir")); err != nil {
		return err
	}
	a.printf("migrations applied\n")
	return nil
}

func (a *app) migrateDown(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	steps := int(cmd.Int("steps"))
	if err := store.RollbackMigrations(cfg.Database.URL, cmd.String("dir"), steps); err != nil {
		return err
	}
	a.printf("reverted %d migration(s)\n", steps)
	return nil
}

func (a *app) migrateVersion(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	version, dirty, err := store.MigrationVersion(cfg.Database.URL, cmd.String("dir"))
	if err != nil {
		return err
	}
	a.printf("version %d", version)
	if dirty {
		a.printf(" (dirty)")
	}
	a.printf("\n")
	return nil
}

// ─── keys ────────────────────────────────────────────────────────────────────

func (a *app) keysCreate(ctx context.Context, cmd *cli.Command) error {
	scopes, err := parseScopes(cmd.StringSlice("scope"))
	if err != nil {
		return err
	}

	raw, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   cmd.String("owner"),
		Name:      cmd.String("name"),
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return a.withStore(ctx, cmd, func(st store.Store) error {
		if err := st.CreateAPIKey(ctx, key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				return fmt.Errorf("owner %q already has a key named %q", key.OwnerID, key.Name)
			}
			return fmt.Errorf("create api key: %w", err)
		}
		a.printf("id:     %s\nowner:  %s\nscopes: %s\nkey:    %s\n", key.ID, key.OwnerID, strings.Join(key.Scopes, ","), raw)
		a.printf("\nStore the key now; it cannot be shown again.\n")
		return nil
	})
}

func (a *app) keysList(ctx context.Context, cmd *cli.Command) error {
	return a.withStore(ctx, cmd, func(st store.Store) error {
		keys, err := st.ListAPIKeys(ctx, cmd.String("owner"))
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		if len(keys) == 0 {
			a.printf("no keys\n")
			return nil
		}

		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
		for _, k := range keys {
			lastUsed := "never"
			if k.LastUsedAt != nil {
				lastUsed = k.LastUsedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
		}
		return tw.Flush()
	})
}

func (a *app) keysRevoke(ctx context.Context, cmd *cli.Command) error {
	id, err := uuid.Parse(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("key id must be a UUID: %w", err)
	}
	return a.withStore(ctx, cmd, func(st store.Store) error {
		if err := st.RevokeAPIKey(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no active key %s", id)
			}
			return fmt.Errorf("revoke api key: %w", err)
		}
		a.printf("revoked %s\n", id)
		return nil
	})
}

// ─── token ───────────────────────────────────────────────────────────────────

func (a *app) tokenIssue(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	scopes, err := parseScopes(cmd.StringSlice("scope"))
	if err != nil {
		return err
	}

	token, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer).
		Issue(cmd.String("owner"), scopes, cmd.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	a.printf("%s\n", token)
	return nil
}

// ─── status ──────────────────────────────────────────────────────────────────

func (a *app) status(ctx context.Context, cmd *cli.Command) error {
	id, err := uuid.Parse(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("job id must be a UUID: %w", err)
	}
	return a.withStore(ctx, cmd, func(st store.Store) error {
		rec, err := st.GetRecord(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("job %s not found", id)
			}
			return fmt.Errorf("get record: %w", err)
		}
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	})
}

func parseScopes(in []string) ([]string, error) {
	if len(in) == 0 {
		return append([]string(nil), auth.DefaultScopes...), nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		switch s {
		case auth.ScopeSubmit, auth.ScopeRead:
			out = append(out, s)
		default:
			return nil, fmt.Errorf("unknown scope %q: must be %s or %s", s, auth.ScopeSubmit, auth.ScopeRead)
		}
	}
	return out, nil
}
