package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ruteri/hybrid-tag/interfaces"
	_ "modernc.org/sqlite"
)

// SQLDialect selects the database driver and its SQL flavour.
type SQLDialect string

const (
	DialectSQLite   SQLDialect = "sqlite"
	DialectPostgres SQLDialect = "postgres"
)

type sqlStatements struct {
	driver string
	schema string
	load   string
	save   string
}

var dialects = map[SQLDialect]sqlStatements{
	DialectSQLite: {
		driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS tag_records (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		load: `SELECT data FROM tag_records WHERE name = ?`,
		save: `INSERT INTO tag_records (name, data, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
	},
	DialectPostgres: {
		driver: "pgx",
		schema: `CREATE TABLE IF NOT EXISTS tag_records (
			name       TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		load: `SELECT data FROM tag_records WHERE name = $1`,
		save: `INSERT INTO tag_records (name, data, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
	},
}

// SQLBackend implements a key-value store as a single table in SQLite or PostgreSQL.
type SQLBackend struct {
	db          *sql.DB
	dialect     SQLDialect
	stmts       sqlStatements
	log         *slog.Logger
	locationURI string
}

// NewSQLBackend opens the database at dsn and creates the records table if needed.
func NewSQLBackend(dialect SQLDialect, dsn, locationURI string, log *slog.Logger) (*SQLBackend, error) {
	stmts, ok := dialects[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}

	db, err := sql.Open(stmts.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, stmts.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", interfaces.ErrBackendUnavailable, err)
	}

	return &SQLBackend{
		db:          db,
		dialect:     dialect,
		stmts:       stmts,
		log:         log,
		locationURI: locationURI,
	}, nil
}

// Load returns the record stored under name.
func (b *SQLBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, b.stmts.load, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Loaded record from database",
		slog.String("dialect", string(b.dialect)),
		slog.String("name", name),
		slog.Int("size", len(data)))

	return data, nil
}

// Save upserts the record stored under name.
func (b *SQLBackend) Save(ctx context.Context, name string, data []byte) error {
	if err := interfaces.ValidateRecordName(name); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, b.stmts.save, name, data, time.Now().Unix()); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Saved record to database",
		slog.String("dialect", string(b.dialect)),
		slog.String("name", name))

	return nil
}

// Available pings the database.
func (b *SQLBackend) Available(ctx context.Context) bool {
	if err := b.db.PingContext(ctx); err != nil {
		b.log.Debug("Database unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *SQLBackend) Name() string {
	return fmt.Sprintf("sql-%s", b.dialect)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *SQLBackend) LocationURI() string {
	return b.locationURI
}

// Close closes the underlying database handle.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}
