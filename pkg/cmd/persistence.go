package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/flywheelhq/flywheel/pkg/persistence"
	"github.com/flywheelhq/flywheel/pkg/persistence/memory"
	"github.com/flywheelhq/flywheel/pkg/persistence/postgresql"
)

// NewPersistence picks the store from the database URL scheme. Anything that
// is not postgres falls back to the in-memory store, which only suits local
// runs and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Store {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewStore(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return store
	default:
		logger.WarnContext(ctx, "No database URL configured, using in-memory store")

		return memory.NewStore()
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return scheme
}
