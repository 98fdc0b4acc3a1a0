package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status captures the current state of a saga instance.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompensating Status = "compensating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensated  Status = "compensated"
)

// Terminal reports whether the engine takes no further action on this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated:
		return true
	}
	return false
}

// TerminalStatuses lists every status the engine never acts on again.
func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusCompensated}
}

// CompletedStep records one successfully executed forward step. Entries are
// appended in execution order and consumed last-in-first-out during
// compensation.
type CompletedStep struct {
	Name       string          `json:"name"`
	Output     json.RawMessage `json:"output,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// CompensationFailure records a compensation call that did not succeed.
// Failures never stop the compensation sweep; they are carried on the final
// failed state for operator visibility.
type CompensationFailure struct {
	Step    string `json:"step"`
	Service string `json:"service"`
	Method  string `json:"method"`
	Reason  string `json:"reason"`
}

// State is the persisted progress record of one saga instance.
type State struct {
	SagaID               string                `json:"saga_id"`
	WorkflowName         string                `json:"workflow_name"`
	Payload              json.RawMessage       `json:"payload,omitempty"`
	Status               Status                `json:"status"`
	CurrentStepIndex     int                   `json:"current_step_index"`
	CompletedSteps       []CompletedStep       `json:"completed_steps,omitempty"`
	LastError            string                `json:"last_error,omitempty"`
	CompensationFailures []CompensationFailure `json:"compensation_failures,omitempty"`
	CorrelationID        string                `json:"correlation_id,omitempty"`
	InitiatedBy          string                `json:"initiated_by,omitempty"`
	Version              int64                 `json:"version"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Payload = append(json.RawMessage(nil), s.Payload...)
	dup.CompletedSteps = make([]CompletedStep, len(s.CompletedSteps))
	for i, step := range s.CompletedSteps {
		step.Output = append(json.RawMessage(nil), step.Output...)
		dup.CompletedSteps[i] = step
	}
	dup.CompensationFailures = append([]CompensationFailure(nil), s.CompensationFailures...)
	return &dup
}

// StateStore persists saga instances. Update is a conditional write on
// (saga_id, version): it fails with ErrConflict when the stored version does
// not match state.Version, and bumps state.Version on success. Every
// status/step/payload change is one full-snapshot write.
type StateStore interface {
	Create(ctx context.Context, state *State) error
	FindByID(ctx context.Context, sagaID string) (*State, error)
	Update(ctx context.Context, state *State) error
	FindIncomplete(ctx context.Context) ([]*State, error)
}

var (
	// ErrNotFound marks lookups for unknown sagas or workflow definitions.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a duplicate workflow definition registration.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict marks a duplicate saga id or a lost optimistic-version race.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks a malformed start request or definition.
	ErrValidation = errors.New("validation")
)
