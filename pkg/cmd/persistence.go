// Package cmd provides shared construction helpers for the trellis
// binaries: persistence by URL scheme, event bus by driver, and the
// node-definition registry.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trellisflow/trellis/pkg/persistence"
	"github.com/trellisflow/trellis/pkg/persistence/file"
	"github.com/trellisflow/trellis/pkg/persistence/postgresql"
)

// NewPersistence selects a storage driver from the database URL
// scheme. A bare path (no scheme) is treated as a file root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return file.NewPersistence(databaseURL), nil
	}

	switch scheme {
	case "file":
		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported persistence scheme %q", scheme)
	}
}
