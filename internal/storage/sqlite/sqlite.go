package sqlite

import (
	"context"
	"database/sql"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// Store implements the chat store contract on a single-connection
// SQLite database.
type Store struct {
	Db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, err
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL for better concurrency
	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)

	// Wait up to 5s if locked
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	return &Store{
		Db: db,
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.Db.Close()
}

// Migrate applies sql/schema.sql relative to the working directory.
func (s *Store) Migrate() error {
	return s.MigrateFile("sql/schema.sql")
}

func (s *Store) MigrateFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	stmts := strings.Split(string(b), ";\n")

	for _, stmt := range stmts {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err = s.Db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}
