package launch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DatabaseTarget describes a connection string without its credentials.
func DatabaseTarget(dsn string) string {
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return "unparseable database url"
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
}

// WaitForDatabase pings PostgreSQL until it answers or timeout elapses. The
// delay between attempts doubles up to two seconds.
func WaitForDatabase(ctx context.Context, dsn string, timeout time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("configure database pool: %w", err)
	}
	defer pool.Close()

	delay := 100 * time.Millisecond
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := pool.Ping(pingCtx)
		pingCancel()
		if err == nil {
			log.Info("database reachable", "target", DatabaseTarget(dsn), "attempts", attempt)
			return nil
		}
		log.Warn("database not ready", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for database after %d attempts: %w", attempt, err)
		case <-time.After(delay):
		}
		if delay < 2*time.Second {
			delay *= 2
		}
	}
}

// Migrator applies goose migrations from a directory.
type Migrator struct {
	dsn           string
	migrationsDir string
	timeout       time.Duration
	log           *slog.Logger
}

// NewMigrator validates the migration directory.
func NewMigrator(dsn, migrationsDir string, timeout time.Duration, log *slog.Logger) (Migrator, error) {
	if dsn == "" {
		return Migrator{}, errors.New("empty database dsn")
	}
	if migrationsDir == "" {
		return Migrator{}, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return Migrator{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return Migrator{dsn: dsn, migrationsDir: migrationsDir, timeout: timeout, log: log}, nil
}

// Up applies pending migrations.
func (m Migrator) Up(ctx context.Context) error {
	db, err := sql.Open("pgx", m.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.log.Info("applying migrations", "dir", m.migrationsDir)
	if err := goose.UpContext(runCtx, db, m.migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.log.Info("migrations applied")
	return nil
}
