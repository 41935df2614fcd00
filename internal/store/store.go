package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store persists tenants, console login sessions, devices and channels in
// SQLite.
type Store struct {
	db          *sql.DB
	importBatch int
}

type Option func(*Store)

// WithImportBatchSize sets how many channel rows ReplaceChannels writes per
// multi-row INSERT.
func WithImportBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.importBatch = n
		}
	}
}

const defaultImportBatch = 100

func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	s := &Store{db: db, importBatch: defaultImportBatch}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
