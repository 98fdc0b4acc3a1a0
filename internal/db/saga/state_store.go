package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"helmsman/internal/saga"
)

// StateStore persists saga instances in Postgres. Step history, payload and
// compensation failures live in JSON columns; every update writes the full
// snapshot conditioned on the stored version.
type StateStore struct {
	db *sql.DB
}

// NewStateStore constructs a StateStore backed by Postgres.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// NewStateStoreWithSchema initializes the schema then returns the store.
func NewStateStoreWithSchema(ctx context.Context, db *sql.DB) (*StateStore, error) {
	store := NewStateStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the saga_states table if it does not exist. Rows are
// never deleted here; terminal sagas are retained for audit.
func (s *StateStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saga_states (
			saga_id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			payload JSONB,
			status TEXT NOT NULL,
			current_step_index INT NOT NULL DEFAULT 0,
			completed_steps JSONB NOT NULL DEFAULT '[]',
			last_error TEXT NOT NULL DEFAULT '',
			compensation_failures JSONB NOT NULL DEFAULT '[]',
			correlation_id TEXT NOT NULL DEFAULT '',
			initiated_by TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Create persists the initial state; a duplicate saga_id fails with
// saga.ErrConflict.
func (s *StateStore) Create(ctx context.Context, state *saga.State) error {
	completed, failures, err := encodeHistory(state)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_states (
			saga_id, workflow_name, payload, status, current_step_index,
			completed_steps, last_error, compensation_failures,
			correlation_id, initiated_by, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (saga_id) DO NOTHING`,
		state.SagaID, state.WorkflowName, []byte(state.Payload), state.Status,
		state.CurrentStepIndex, completed, state.LastError, failures,
		state.CorrelationID, state.InitiatedBy,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("saga %s: %w", state.SagaID, saga.ErrConflict)
	}
	state.Version = 1
	return nil
}

// FindByID returns the saga or saga.ErrNotFound.
func (s *StateStore) FindByID(ctx context.Context, sagaID string) (*saga.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT saga_id, workflow_name, payload, status, current_step_index,
			completed_steps, last_error, compensation_failures,
			correlation_id, initiated_by, version, created_at, updated_at
		FROM saga_states
		WHERE saga_id = $1`, sagaID)

	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("saga %s: %w", sagaID, saga.ErrNotFound)
		}
		return nil, err
	}
	return state, nil
}

// Update writes the full snapshot conditioned on state.Version and bumps the
// version on success. A missing row or stale version fails with
// saga.ErrConflict.
func (s *StateStore) Update(ctx context.Context, state *saga.State) error {
	completed, failures, err := encodeHistory(state)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE saga_states
		SET payload = $3, status = $4, current_step_index = $5,
			completed_steps = $6, last_error = $7, compensation_failures = $8,
			version = version + 1, updated_at = NOW()
		WHERE saga_id = $1 AND version = $2`,
		state.SagaID, state.Version, []byte(state.Payload), state.Status,
		state.CurrentStepIndex, completed, state.LastError, failures,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("saga %s version %d: %w", state.SagaID, state.Version, saga.ErrConflict)
	}
	state.Version++
	return nil
}

// FindIncomplete returns every saga whose status is not terminal.
func (s *StateStore) FindIncomplete(ctx context.Context) ([]*saga.State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT saga_id, workflow_name, payload, status, current_step_index,
			completed_steps, last_error, compensation_failures,
			correlation_id, initiated_by, version, created_at, updated_at
		FROM saga_states
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at`,
		saga.StatusCompleted, saga.StatusFailed, saga.StatusCompensated,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*saga.State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*saga.State, error) {
	var state saga.State
	var payload, completed, failures []byte
	var status string

	if err := row.Scan(
		&state.SagaID, &state.WorkflowName, &payload, &status,
		&state.CurrentStepIndex, &completed, &state.LastError, &failures,
		&state.CorrelationID, &state.InitiatedBy, &state.Version,
		&state.CreatedAt, &state.UpdatedAt,
	); err != nil {
		return nil, err
	}

	state.Status = saga.Status(status)
	state.Payload = json.RawMessage(payload)
	if len(completed) > 0 {
		if err := json.Unmarshal(completed, &state.CompletedSteps); err != nil {
			return nil, fmt.Errorf("decode completed steps for %s: %w", state.SagaID, err)
		}
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &state.CompensationFailures); err != nil {
			return nil, fmt.Errorf("decode compensation failures for %s: %w", state.SagaID, err)
		}
	}
	return &state, nil
}

func encodeHistory(state *saga.State) (completed, failures []byte, err error) {
	steps := state.CompletedSteps
	if steps == nil {
		steps = []saga.CompletedStep{}
	}
	completed, err = json.Marshal(steps)
	if err != nil {
		return nil, nil, fmt.Errorf("encode completed steps: %w", err)
	}

	fails := state.CompensationFailures
	if fails == nil {
		fails = []saga.CompensationFailure{}
	}
	failures, err = json.Marshal(fails)
	if err != nil {
		return nil, nil, fmt.Errorf("encode compensation failures: %w", err)
	}
	return completed, failures, nil
}
