package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/soulbound/pkg/config"
	"github.com/Mindburn-Labs/soulbound/pkg/store"
)

// openStore connects to Postgres when DATABASE_URL is set and otherwise
// falls back to lite mode: a SQLite file under DATA_DIR.
func openStore(ctx context.Context, cfg *config.Config, stdout io.Writer) (store.Store, error) {
	if !cfg.LiteMode() {
		st, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		_, _ = fmt.Fprintln(stdout, "[soulbound] postgres: connected")
		return st, nil
	}

	_, _ = fmt.Fprintf(stdout, "DATABASE_URL not set. Falling back to %sLite Mode%s (SQLite).\n", ColorBold+ColorCyan, ColorReset)
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	path := cfg.SQLitePath()
	_, _ = fmt.Fprintf(stdout, "[soulbound] lite mode: using sqlite at %s\n", path)
	return store.OpenSQLite(ctx, path)
}
