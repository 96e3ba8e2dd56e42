// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/flowmod/flowmod/pkg/persistence"
	"github.com/flowmod/flowmod/pkg/persistence/file"
	"github.com/flowmod/flowmod/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL
// scheme. Postgres URLs get the SQL backend; anything else is treated as a
// filesystem path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
