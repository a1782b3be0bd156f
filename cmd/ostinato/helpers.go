package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledgerbeat/ostinato/internal/cache"
	"github.com/ledgerbeat/ostinato/internal/config"
	"github.com/ledgerbeat/ostinato/internal/engine"
	"github.com/ledgerbeat/ostinato/internal/recurring"
	"github.com/ledgerbeat/ostinato/internal/service"
	"github.com/ledgerbeat/ostinato/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/ostinato/ostinato.db"
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initListingCache connects the Redis listing cache when one is configured.
// Without redis.addr everything keeps working straight off storage.
func initListingCache() service.ListingCache {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		return cache.Noop{}
	}

	redisCache, err := cache.NewRedis(cache.Config{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		TTL:      viper.GetDuration("redis.ttl"),
	})
	if err != nil {
		slog.Warn("Listing cache unavailable, continuing without it", "error", err)
		return cache.Noop{}
	}

	return redisCache
}

// initDefinitionService builds the lifecycle service over storage and the
// listing cache. The caller owns closing the returned storage.
func initDefinitionService(ctx context.Context) (*recurring.Service, service.Storage, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc, err := recurring.NewService(store, initListingCache())
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return svc, store, nil
}

// newEngine builds the batch driver, honoring an explicit worker count.
func newEngine(store service.Storage, workers int) *engine.Engine {
	if workers > 0 {
		return engine.NewWithConfig(store, engine.Config{Workers: workers})
	}
	return engine.New(store)
}

// resolveOwner returns the owner scope for a command, preferring the flag
// over configuration.
func resolveOwner(cmd *cobra.Command) (string, error) {
	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		owner = viper.GetString("owner")
	}
	if strings.TrimSpace(owner) == "" {
		return "", fmt.Errorf("owner is required: pass --owner or set owner in the config file")
	}
	return owner, nil
}

// resolveDefinitionID expands a shortened definition id to the stored one.
// Exact matches win; otherwise a unique prefix of the owner's definitions
// resolves, the way short commit hashes do.
func resolveDefinitionID(ctx context.Context, svc *recurring.Service, owner, id string) (string, error) {
	defs, err := svc.List(ctx, owner, true)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, def := range defs {
		if def.ID == id {
			return id, nil
		}
		if strings.HasPrefix(def.ID, id) {
			matches = append(matches, def.ID)
		}
	}

	switch len(matches) {
	case 0:
		// Not found here; the service reports it properly.
		return id, nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("definition id %q is ambiguous (%d matches); use more characters", id, len(matches))
	}
}

// parseDate parses a YYYY-MM-DD flag value as a UTC date.
func parseDate(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", value, err)
	}
	return t, nil
}

// parseInstant accepts either a date or a full RFC 3339 timestamp.
func parseInstant(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid instant %q (use YYYY-MM-DD or RFC 3339): %w", value, err)
	}
	return t, nil
}

// shortID trims a uuid for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
