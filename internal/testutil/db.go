package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/listsweep/internal/config"
	"github.com/vdavid/listsweep/migrations"
)

const (
	testDBName     = "listsweep_test"
	testDBUser     = "listsweep"
	testDBPassword = "listsweep"
)

// StartPostgres runs a throwaway Postgres container and returns a config pointing at it.
// The schema is not applied. The container is terminated when the test ends.
func StartPostgres(t *testing.T) *config.Config {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("Postgres container did not start: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Postgres container did not stop: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("No container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("No mapped Postgres port: %v", err)
	}

	return &config.Config{
		Environment: "test",
		Store:       config.StorePostgres,
		DBHost:      host,
		DBPort:      port.Port(),
		DBUsername:  testDBUser,
		DBPassword:  testDBPassword,
		DBName:      testDBName,
		DBSSLMode:   "disable",
	}
}

// NewTestDB starts Postgres, applies the embedded schema and returns a pool.
func NewTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	cfg := StartPostgres(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.GetDatabaseURL())
	if err != nil {
		t.Fatalf("Pool not created: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := applySchema(ctx, pool); err != nil {
		t.Fatalf("Schema not applied: %v", err)
	}
	return pool
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	ups, err := migrations.Up()
	if err != nil {
		return err
	}
	for _, m := range ups {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s: %w", m.Name, err)
		}
	}
	return nil
}
