package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HerbHall/hostagent/internal/store"
)

// IdentityStore persists the resource id across restarts.
type IdentityStore interface {
	// Load returns the stored resource id, or "" when none is stored.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, resourceID string) error
}

const identityOwner = "agent"

var identityMigrations = []store.Migration{
	{
		Version:     1,
		Description: "create agent_identity table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE agent_identity (
					id            INTEGER PRIMARY KEY CHECK (id = 1),
					resource_id   TEXT     NOT NULL,
					registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)
			`)
			return err
		},
	},
}

// SQLiteIdentityStore keeps the resource id in the agent state database.
type SQLiteIdentityStore struct {
	db *store.SQLiteStore
}

var _ IdentityStore = (*SQLiteIdentityStore)(nil)

// NewSQLiteIdentityStore migrates the identity schema and returns the
// store.
func NewSQLiteIdentityStore(ctx context.Context, db *store.SQLiteStore) (*SQLiteIdentityStore, error) {
	if err := db.Migrate(ctx, identityOwner, identityMigrations); err != nil {
		return nil, fmt.Errorf("migrate identity store: %w", err)
	}
	return &SQLiteIdentityStore{db: db}, nil
}

// Load returns the stored resource id, or "" if the host never registered.
func (s *SQLiteIdentityStore) Load(ctx context.Context) (string, error) {
	var id string
	err := s.db.DB().QueryRowContext(ctx,
		"SELECT resource_id FROM agent_identity WHERE id = 1",
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load identity: %w", err)
	}
	return id, nil
}

// Save stores resourceID, replacing any previous identity.
func (s *SQLiteIdentityStore) Save(ctx context.Context, resourceID string) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_identity (id, resource_id) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET
				resource_id = excluded.resource_id,
				registered_at = CURRENT_TIMESTAMP
		`, resourceID)
		if err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
		return nil
	})
}
