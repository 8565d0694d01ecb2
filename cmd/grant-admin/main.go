// Command grant-admin adds or removes an admin membership row for an
// identity service user id. It applies the embedded schema first, so it can
// also bootstrap an empty database.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/laptop-admin/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		table       string
		revoke      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&table, "table", "admins", "admin membership table name")
	flag.BoolVar(&revoke, "revoke", false, "remove the membership instead of adding it")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() != 1 {
		slog.Error("usage: grant-admin [flags] <user-uuid>")
		os.Exit(2)
	}
	uid, err := uuid.Parse(flag.Arg(0))
	if err != nil {
		slog.Error("user id must be a UUID", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, table, uid, revoke); err != nil {
		slog.Error("grant-admin failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, table string, uid uuid.UUID, revoke bool) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	admins := postgres.NewAdminRepository(pool, table)
	if revoke {
		removed, err := admins.Revoke(ctx, uid)
		if err != nil {
			return errors.Wrap(err, "revoke admin")
		}
		slog.Info("admin revoked", slog.String("user", uid.String()), slog.Bool("changed", removed))
		return nil
	}

	added, err := admins.Grant(ctx, uid)
	if err != nil {
		return errors.Wrap(err, "grant admin")
	}
	slog.Info("admin granted", slog.String("user", uid.String()), slog.Bool("changed", added))
	return nil
}
