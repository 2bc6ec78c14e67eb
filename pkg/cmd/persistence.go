package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weirlabs/weir/pkg/persistence"
	"github.com/weirlabs/weir/pkg/persistence/file"
	"github.com/weirlabs/weir/pkg/persistence/postgresql"
)

// NewPersistence picks a persistence backend from the database URL scheme.
// postgres:// and postgresql:// select PostgreSQL, anything else is treated
// as a directory for the file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to PostgreSQL: %w", err))
		}

		return store
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
