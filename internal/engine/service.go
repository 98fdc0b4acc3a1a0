package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"helmsman/internal/observability"
	"helmsman/internal/saga"
	"helmsman/internal/workflow"
)

// StartRequest asks for a new saga instance of a named workflow.
type StartRequest struct {
	WorkflowName  string
	Payload       json.RawMessage
	CorrelationID string
	InitiatedBy   string
}

// Service is the orchestrator surface: it starts sagas, answers state
// lookups, and relaunches incomplete sagas after a restart. Execution is
// fire-and-forget; StartSaga returns as soon as the instance is persisted
// and scheduled.
type Service struct {
	definitions workflow.DefinitionStore
	states      saga.StateStore
	engine      *Engine
	pool        *Pool
	metrics     *observability.Metrics
	log         zerolog.Logger
	runCtx      context.Context
	newID       func() string
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

func WithServiceMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = metrics }
}

// WithRunContext sets the context spawned engine runs inherit. It outlives
// individual StartSaga calls; cancel it to wind down all running sagas.
func WithRunContext(ctx context.Context) ServiceOption {
	return func(s *Service) { s.runCtx = ctx }
}

// WithIDGenerator overrides saga id generation (for testing).
func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *Service) { s.newID = newID }
}

// WithServiceClock overrides the wall clock (for testing).
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(definitions workflow.DefinitionStore, states saga.StateStore, engine *Engine, pool *Pool, opts ...ServiceOption) *Service {
	s := &Service{
		definitions: definitions,
		states:      states,
		engine:      engine,
		pool:        pool,
		log:         zerolog.Nop(),
		runCtx:      context.Background(),
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSaga validates the request, persists a pending instance, schedules
// the engine for it, and returns the new saga id. No remote side effects
// happen before the create succeeds, so a persistence failure here is safe
// for the caller to retry.
func (s *Service) StartSaga(ctx context.Context, req StartRequest) (string, error) {
	if req.WorkflowName == "" {
		return "", fmt.Errorf("%w: workflow name is required", saga.ErrValidation)
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("%w: payload is not valid JSON", saga.ErrValidation)
	}

	if _, err := s.definitions.Get(ctx, req.WorkflowName); err != nil {
		return "", err
	}

	now := s.now().UTC()
	state := &saga.State{
		SagaID:        s.newID(),
		WorkflowName:  req.WorkflowName,
		Payload:       payload,
		Status:        saga.StatusPending,
		CorrelationID: req.CorrelationID,
		InitiatedBy:   req.InitiatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.states.Create(ctx, state); err != nil {
		return "", err
	}

	s.launch(state.SagaID)
	s.log.Info().Str("saga_id", state.SagaID).Str("workflow", req.WorkflowName).
		Str("correlation_id", req.CorrelationID).Msg("saga started")
	return state.SagaID, nil
}

// GetSaga returns the current persisted state of a saga instance.
func (s *Service) GetSaga(ctx context.Context, sagaID string) (*saga.State, error) {
	return s.states.FindByID(ctx, sagaID)
}

// Recover relaunches the engine for every non-terminal saga instance and
// returns how many were scheduled. Sagas whose workflow definition is gone
// are logged and skipped; they need operator attention, not a crash.
func (s *Service) Recover(ctx context.Context) (int, error) {
	incomplete, err := s.states.FindIncomplete(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, state := range incomplete {
		if _, err := s.definitions.Get(ctx, state.WorkflowName); err != nil {
			s.log.Warn().Err(err).Str("saga_id", state.SagaID).Str("workflow", state.WorkflowName).
				Msg("skipping recovery of saga with missing workflow definition")
			continue
		}
		s.launch(state.SagaID)
		count++
	}

	s.metrics.SagasRecovered(count)
	if count > 0 {
		s.log.Info().Int("count", count).Msg("recovered incomplete sagas")
	}
	return count, nil
}

// LoadDefinitions bulk-registers workflow definition documents from dir.
func (s *Service) LoadDefinitions(ctx context.Context, dir string) (int, error) {
	return workflow.LoadAll(ctx, s.definitions, dir)
}

// RegisterDefinition registers a single workflow definition.
func (s *Service) RegisterDefinition(ctx context.Context, def workflow.Definition) error {
	return s.definitions.Register(ctx, def)
}

// Definitions lists every registered workflow definition.
func (s *Service) Definitions(ctx context.Context) ([]workflow.Definition, error) {
	return s.definitions.List(ctx)
}

// Drain waits for all in-flight engine runs to finish or ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	return s.pool.Drain(ctx)
}

func (s *Service) launch(sagaID string) {
	s.pool.Go(s.runCtx, func(ctx context.Context) {
		if err := s.engine.Run(ctx, sagaID); err != nil {
			s.log.Error().Err(err).Str("saga_id", sagaID).Msg("engine run ended with error")
		}
	})
}
