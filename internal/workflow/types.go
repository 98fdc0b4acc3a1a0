package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"helmsman/internal/saga"
)

// Backoff selects how retry delays grow between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Duration wraps time.Duration so definition documents can carry values like
// "2s" or "150ms".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(val)
	return nil
}

// RetryPolicy configures attempt scheduling for one step.
type RetryPolicy struct {
	MaxAttempts     int      `json:"max_attempts"`
	Backoff         Backoff  `json:"backoff"`
	InitialInterval Duration `json:"initial_interval"`
	MaxDelay        Duration `json:"max_delay,omitempty"`
}

// Compensation names the remote call that undoes a step.
type Compensation struct {
	Service string `json:"service"`
	Method  string `json:"method"`
}

// Step is one ordered unit of a workflow definition.
type Step struct {
	Name       string        `json:"name"`
	Service    string        `json:"service"`
	Method     string        `json:"method"`
	Compensate *Compensation `json:"compensate,omitempty"`
	Timeout    Duration      `json:"timeout"`
	Retry      *RetryPolicy  `json:"retry,omitempty"`
}

// Definition is the immutable named template of ordered steps a saga
// instance executes. Registered definitions are never mutated or deleted.
type Definition struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Validate checks structural requirements before registration.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: definition name is required", saga.ErrValidation)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: definition %q has no steps", saga.ErrValidation, d.Name)
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("%w: definition %q step %d has no name", saga.ErrValidation, d.Name, i)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("%w: definition %q has duplicate step %q", saga.ErrValidation, d.Name, step.Name)
		}
		seen[step.Name] = struct{}{}

		if step.Service == "" || step.Method == "" {
			return fmt.Errorf("%w: step %q needs service and method", saga.ErrValidation, step.Name)
		}
		if step.Timeout <= 0 {
			return fmt.Errorf("%w: step %q needs a positive timeout", saga.ErrValidation, step.Name)
		}
		if step.Compensate != nil && (step.Compensate.Service == "" || step.Compensate.Method == "") {
			return fmt.Errorf("%w: step %q compensation needs service and method", saga.ErrValidation, step.Name)
		}
		if err := step.Retry.validate(step.Name); err != nil {
			return err
		}
	}
	return nil
}

func (p *RetryPolicy) validate(stepName string) error {
	if p == nil {
		return nil
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: step %q retry needs max_attempts >= 1", saga.ErrValidation, stepName)
	}
	switch p.Backoff {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("%w: step %q has unknown backoff %q", saga.ErrValidation, stepName, p.Backoff)
	}
	if p.InitialInterval < 0 {
		return fmt.Errorf("%w: step %q retry needs initial_interval >= 0", saga.ErrValidation, stepName)
	}
	return nil
}

// StepByName returns the step with the given name, if any.
func (d Definition) StepByName(name string) (Step, bool) {
	for _, step := range d.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return Step{}, false
}

// DefinitionStore holds named, immutable workflow templates.
type DefinitionStore interface {
	// Register persists a new definition; a duplicate name fails with
	// saga.ErrAlreadyExists.
	Register(ctx context.Context, def Definition) error
	// Get returns the definition or saga.ErrNotFound.
	Get(ctx context.Context, name string) (*Definition, error)
	// List returns all registered definitions.
	List(ctx context.Context) ([]Definition, error)
}
