package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/storage"
)

//go:embed schema.sql
var schema string

var _ storage.Store = (*Store)(nil)

// Store is the SQLite PersistentStore.
type Store struct {
	db dbHandle
}

// New opens (creating if needed) a file-backed database in WAL mode.
// Explicit transactions begin IMMEDIATE so read-then-write sequences hold the
// write lock from the start.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

// NewInMemory opens a private in-memory database. Every connection to
// ":memory:" is a separate database, so the pool is pinned to one.
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: &queryLogger{inner: db}}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func toMS(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMS(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func payloadValue(p core.Payload) sql.NullString {
	if p.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}

func payloadFrom(v sql.NullString) core.Payload {
	if !v.Valid || v.String == "" {
		return nil
	}
	return core.Payload(v.String)
}

func encodeList[T any](v []T) string {
	if v == nil {
		v = []T{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func decodeList[T any](raw sql.NullString) []T {
	out := []T{}
	if raw.Valid && raw.String != "" {
		_ = json.Unmarshal([]byte(raw.String), &out)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
