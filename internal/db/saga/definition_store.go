package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"helmsman/internal/saga"
	"helmsman/internal/workflow"
)

// DefinitionStore persists workflow definitions in Postgres. Steps are kept
// as a JSON column; definitions are immutable once registered.
type DefinitionStore struct {
	db *sql.DB
}

// NewDefinitionStore constructs a DefinitionStore backed by Postgres.
func NewDefinitionStore(db *sql.DB) *DefinitionStore {
	return &DefinitionStore{db: db}
}

// NewDefinitionStoreWithSchema initializes the schema then returns the store.
func NewDefinitionStoreWithSchema(ctx context.Context, db *sql.DB) (*DefinitionStore, error) {
	store := NewDefinitionStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the workflow_definitions table if it does not exist.
func (s *DefinitionStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_definitions (
			name TEXT PRIMARY KEY,
			steps JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Register inserts a new definition; a duplicate name is rejected.
func (s *DefinitionStore) Register(ctx context.Context, def workflow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (name, steps)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`,
		def.Name, steps,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("workflow %q: %w", def.Name, saga.ErrAlreadyExists)
	}
	return nil
}

// Get returns the named definition or saga.ErrNotFound.
func (s *DefinitionStore) Get(ctx context.Context, name string) (*workflow.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT steps FROM workflow_definitions WHERE name = $1`, name)

	var steps []byte
	if err := row.Scan(&steps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %q: %w", name, saga.ErrNotFound)
		}
		return nil, err
	}

	def := workflow.Definition{Name: name}
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for %q: %w", name, err)
	}
	return &def, nil
}

// List returns every registered definition ordered by name.
func (s *DefinitionStore) List(ctx context.Context) ([]workflow.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, steps FROM workflow_definitions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []workflow.Definition
	for rows.Next() {
		var def workflow.Definition
		var steps []byte
		if err := rows.Scan(&def.Name, &steps); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &def.Steps); err != nil {
			return nil, fmt.Errorf("decode steps for %q: %w", def.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}
