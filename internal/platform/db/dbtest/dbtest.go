// Package dbtest gives integration tests a throwaway Postgres schema with the
// service migrations applied. Tests that use it are skipped unless
// NOTIFY_TEST_DATABASE_URL names a database they may create schemas in.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/notify/internal/platform/db"
)

// EnvURL is the environment variable holding the test database URL.
const EnvURL = "NOTIFY_TEST_DATABASE_URL"

// MigrationsDir locates the migrations directory relative to this file.
func MigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	// internal/platform/db/dbtest -> module root
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "..", "migrations")
}

// New creates a fresh schema, migrates it and returns a pool whose
// search_path is that schema. The schema is dropped when the test ends.
func New(t testing.TB) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set; skipping Postgres integration test", EnvURL)
	}
	ctx := context.Background()
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := db.NewPool(ctx, url, 2, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := db.NewMigrator(admin, MigrationsDir()).Up(ctx, schema); err != nil {
		admin.Close()
		t.Fatalf("migrate schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		admin.Close()
		t.Fatalf("parse %s: %v", EnvURL, err)
	}
	cfg.MaxConns = 8
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		admin.Close()
		t.Fatalf("create pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		drop := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pgx.Identifier{schema}.Sanitize())
		if _, err := admin.Exec(ctx, drop); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})
	return pool
}
