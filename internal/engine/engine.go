package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"helmsman/internal/invoke"
	"helmsman/internal/lease"
	"helmsman/internal/observability"
	"helmsman/internal/saga"
	"helmsman/internal/workflow"
)

const releaseTimeout = 5 * time.Second

// Engine drives one saga instance through its steps, retries, and
// compensation. It holds no per-saga state of its own; everything it needs
// lives in the persisted saga.State, so any number of sagas can run through
// one Engine concurrently and a crashed run can be resumed by recovery.
type Engine struct {
	definitions workflow.DefinitionStore
	states      saga.StateStore
	invoker     invoke.Invoker
	leases      lease.Manager
	leaseTTL    time.Duration
	storeRetry  Policy
	metrics     *observability.Metrics
	events      Publisher
	log         zerolog.Logger
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLeases makes each run take an exclusive per-saga lease for up to ttl.
func WithLeases(manager lease.Manager, ttl time.Duration) Option {
	return func(e *Engine) {
		e.leases = manager
		e.leaseTTL = ttl
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

func WithEvents(events Publisher) Option {
	return func(e *Engine) { e.events = events }
}

// WithSleep overrides the retry sleep function (for testing).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithClock overrides the wall clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStoreRetry overrides the retry policy wrapped around state writes.
func WithStoreRetry(policy Policy) Option {
	return func(e *Engine) { e.storeRetry = policy }
}

// NewEngine constructs an Engine.
func NewEngine(definitions workflow.DefinitionStore, states saga.StateStore, invoker invoke.Invoker, opts ...Option) *Engine {
	e := &Engine{
		definitions: definitions,
		states:      states,
		invoker:     invoker,
		log:         zerolog.Nop(),
		now:         time.Now,
		storeRetry: Policy{
			MaxAttempts: 3,
			Backoff:     workflow.BackoffFixed,
			Initial:     50 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	// A conflict means another run owns the saga now; retrying the write
	// cannot win it back.
	if e.storeRetry.ShouldRetry == nil {
		e.storeRetry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, saga.ErrConflict) &&
				!errors.Is(err, saga.ErrNotFound) &&
				!errors.Is(err, context.Canceled)
		}
	}
	return e
}

// Run executes the saga until it reaches a terminal status or this run loses
// ownership. Invoking Run on an already-terminal saga performs no remote
// calls and changes no state.
func (e *Engine) Run(ctx context.Context, sagaID string) error {
	state, err := e.states.FindByID(ctx, sagaID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return nil
	}

	if e.leases != nil {
		held, ok, err := e.leases.Acquire(ctx, sagaID, e.leaseTTL)
		if err != nil {
			return fmt.Errorf("acquire lease for %s: %w", sagaID, err)
		}
		if !ok {
			e.log.Debug().Str("saga_id", sagaID).Msg("saga already owned by another run")
			return nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := held.Release(releaseCtx); err != nil {
				e.log.Warn().Err(err).Str("saga_id", sagaID).Msg("release lease")
			}
		}()

		// Reload under the lease; a racing run may have advanced the saga
		// between the first read and the acquire.
		state, err = e.states.FindByID(ctx, sagaID)
		if err != nil {
			return err
		}
		if state.Status.Terminal() {
			return nil
		}
	}

	def, err := e.definitions.Get(ctx, state.WorkflowName)
	if err != nil {
		e.log.Error().Err(err).Str("saga_id", sagaID).Str("workflow", state.WorkflowName).
			Msg("saga references unknown workflow definition")
		return err
	}

	log := e.log.With().Str("saga_id", state.SagaID).Str("workflow", state.WorkflowName).Logger()

	switch state.Status {
	case saga.StatusPending, saga.StatusRunning:
		return e.runForward(ctx, log, def, state)
	case saga.StatusCompensating:
		// A crash mid-sweep resumes here; compensations are at-least-once.
		return e.runCompensation(ctx, log, def, state)
	default:
		return nil
	}
}

func (e *Engine) runForward(ctx context.Context, log zerolog.Logger, def *workflow.Definition, state *saga.State) error {
	if state.Status != saga.StatusRunning {
		state.Status = saga.StatusRunning
		if err := e.persist(ctx, state); err != nil {
			return err
		}
		e.metrics.SagaStarted()
		e.publish(state, "", "")
	}

	for state.CurrentStepIndex < len(def.Steps) {
		step := def.Steps[state.CurrentStepIndex]
		output, err := e.executeStep(ctx, log, step, state.Payload)
		if err != nil {
			log.Warn().Err(err).Str("step", step.Name).Msg("step failed, compensating")
			state.Status = saga.StatusCompensating
			state.LastError = fmt.Sprintf("step %s: %v", step.Name, err)
			if perr := e.persist(ctx, state); perr != nil {
				return perr
			}
			e.publish(state, step.Name, state.LastError)
			return e.runCompensation(ctx, log, def, state)
		}

		state.CompletedSteps = append(state.CompletedSteps, saga.CompletedStep{
			Name:       step.Name,
			Output:     output,
			ExecutedAt: e.now().UTC(),
		})
		state.CurrentStepIndex++
		if len(output) > 0 {
			state.Payload = output
		}
		if err := e.persist(ctx, state); err != nil {
			return err
		}
		e.publish(state, step.Name, "")
		log.Debug().Str("step", step.Name).Int("index", state.CurrentStepIndex).Msg("step completed")
	}

	state.Status = saga.StatusCompleted
	if err := e.persist(ctx, state); err != nil {
		return err
	}
	e.metrics.SagaCompleted()
	e.publish(state, "", "")
	log.Info().Int("steps", len(state.CompletedSteps)).Msg("saga completed")
	return nil
}

// executeStep invokes one forward step under its retry policy. Each attempt
// carries the step's own timeout.
func (e *Engine) executeStep(ctx context.Context, log zerolog.Logger, step workflow.Step, payload json.RawMessage) (json.RawMessage, error) {
	policy := PolicyFor(step.Retry)
	policy.Sleep = e.sleep

	attempt := 0
	var output []byte
	err := policy.Do(ctx, func() error {
		attempt++
		span := e.metrics.StartStep(step.Name)
		callCtx, cancel := context.WithTimeout(ctx, step.Timeout.Std())
		defer cancel()

		out, err := e.invoker.Call(callCtx, step.Service, step.Method, payload)
		span.End(err)
		if err != nil {
			log.Debug().Err(err).Str("step", step.Name).Int("attempt", attempt).Msg("step attempt failed")
			return err
		}
		output = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// runCompensation walks the completed steps in reverse and invokes each
// declared compensation once. A failed compensation is recorded and the
// sweep continues: every prior step produced a real side effect, so every
// prior step must get its undo attempted.
func (e *Engine) runCompensation(ctx context.Context, log zerolog.Logger, def *workflow.Definition, state *saga.State) error {
	for i := len(state.CompletedSteps) - 1; i >= 0; i-- {
		done := state.CompletedSteps[i]
		step, ok := def.StepByName(done.Name)
		if !ok || step.Compensate == nil {
			continue
		}

		input := done.Output
		if len(input) == 0 {
			input = state.Payload
		}

		callCtx, cancel := context.WithTimeout(ctx, step.Timeout.Std())
		_, err := e.invoker.Call(callCtx, step.Compensate.Service, step.Compensate.Method, input)
		cancel()
		e.metrics.CompensationAttempt(err != nil)
		if err != nil {
			log.Error().Err(err).Str("step", done.Name).Msg("compensation failed")
			state.CompensationFailures = append(state.CompensationFailures, saga.CompensationFailure{
				Step:    done.Name,
				Service: step.Compensate.Service,
				Method:  step.Compensate.Method,
				Reason:  err.Error(),
			})
			continue
		}
		log.Debug().Str("step", done.Name).Msg("compensated")
	}

	state.Status = saga.StatusFailed
	if err := e.persist(ctx, state); err != nil {
		return err
	}
	e.metrics.SagaFailed()
	e.publish(state, "", state.LastError)
	log.Warn().Str("cause", state.LastError).
		Int("failed_compensations", len(state.CompensationFailures)).
		Msg("saga failed")
	return nil
}

// persist writes the full state snapshot, retrying transient store failures.
// Persistence can fail after a real remote side effect, so it gets its own
// retry budget before the run gives up and leaves the saga to recovery.
func (e *Engine) persist(ctx context.Context, state *saga.State) error {
	retry := e.storeRetry
	if e.sleep != nil {
		retry.Sleep = e.sleep
	}
	return retry.Do(ctx, func() error {
		return e.states.Update(ctx, state)
	})
}

func (e *Engine) publish(state *saga.State, step, detail string) {
	if e.events == nil {
		return
	}
	e.events.Publish(Event{
		SagaID:   state.SagaID,
		Workflow: state.WorkflowName,
		Status:   state.Status,
		Step:     step,
		Detail:   detail,
		At:       e.now().UTC(),
	})
}
