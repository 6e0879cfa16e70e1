package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"github.com/GNGRRNNR/tiger-claw-timing/config"
	"github.com/GNGRRNNR/tiger-claw-timing/models"
)

// Setup opens the local scan store selected by cfg.StoreDriver. SQLite is the
// default; PostgreSQL lets several devices at one checkpoint share a store.
func Setup(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)
	switch cfg.StoreDriver {
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DatabaseURL)))
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		db, err = OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s store: %w", cfg.StoreDriver, err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) a SQLite file with WAL journaling and
// full fsync on commit, so an acknowledged insert survives power loss.
func OpenSQLite(path string) (*bun.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	q.Add("_pragma", "busy_timeout(5000)")
	dsn := "file:" + path + "?" + q.Encode()

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite doesn't support multiple writers
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// CreateTables creates all tables and indexes. Safe to call repeatedly.
func CreateTables(ctx context.Context, db bun.IDB) error {
	tables := []interface{}{
		(*models.Scan)(nil),
		(*models.Operator)(nil),
		(*models.Installation)(nil),
	}

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		name    string
		columns []string
	}{
		{"scans_status_idx", []string{"status"}},
		{"scans_bib_idx", []string{"bib"}},
		{"scans_checkpoint_idx", []string{"checkpoint"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model((*models.Scan)(nil)).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}
