package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/file"
	"github.com/dukex/drip/pkg/persistence/memory"
	"github.com/dukex/drip/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"memory", "file", "postgres", "postgresql"}

// NewPersistence opens the store named by the URL scheme: memory://, file://<dir> or
// postgres://... A URL without a scheme is a file store directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		postgres, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return postgres, nil
	case "file":
		store, err := file.NewPersistence(location)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q, expected one of %s",
			provider, strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, location, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, location
}
