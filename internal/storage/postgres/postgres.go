package postgres

import (
	"context"
	"database/sql"
	"os"
	"strings"

	_ "github.com/lib/pq"
)

// Store implements the chat store contract on PostgreSQL.
type Store struct {
	Db *sql.DB
}

func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, err
	}
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
	stmts := strings.Split(string(b), ";")

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
