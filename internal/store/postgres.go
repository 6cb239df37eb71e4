package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists governance surfaces in a single jsonb table.
// Each surface is one row holding the full document, matching the
// read/merge/write semantics of the Store contract.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn and initializes the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS surfaces (
			name TEXT PRIMARY KEY,
			doc JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create surfaces table: %w", err)
	}
	return nil
}

// Load reads the full document for a surface. Missing surfaces are
// empty, not an error.
func (s *PostgresStore) Load(ctx context.Context, surface string) ([]json.RawMessage, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM surfaces WHERE name = $1`, surface).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load surface %s: %w", surface, err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(doc, &records); err != nil {
		return nil, fmt.Errorf("corrupt surface %s: %w", surface, err)
	}
	return records, nil
}

// AppendOrReplace writes the full document for a surface.
func (s *PostgresStore) AppendOrReplace(ctx context.Context, surface string, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	doc, err := json.Marshal(records)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO surfaces (name, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`, surface, doc)
	if err != nil {
		return fmt.Errorf("failed to write surface %s: %w", surface, err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
