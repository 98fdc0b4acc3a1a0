package engine

import (
	"time"

	"helmsman/internal/saga"
)

// Event is one observable saga transition: a status change or a completed
// step. Events are a side channel for operators; saga outcomes stay
// observable through GetSaga regardless of whether anyone listens.
type Event struct {
	SagaID   string      `json:"saga_id"`
	Workflow string      `json:"workflow"`
	Status   saga.Status `json:"status"`
	Step     string      `json:"step,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	At       time.Time   `json:"at"`
}

// Publisher receives engine events. Implementations must not block; a slow
// consumer drops events rather than stalling saga execution.
type Publisher interface {
	Publish(event Event)
}
