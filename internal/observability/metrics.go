package observability

import (
	"sync"
	"time"
)

type StepSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec            int64                   `json:"uptime_sec"`
	SagasStarted         int64                   `json:"sagas_started"`
	SagasCompleted       int64                   `json:"sagas_completed"`
	SagasFailed          int64                   `json:"sagas_failed"`
	SagasRecovered       int64                   `json:"sagas_recovered"`
	CompensationAttempts int64                   `json:"compensation_attempts"`
	CompensationFailures int64                   `json:"compensation_failures"`
	Steps                map[string]StepSnapshot `json:"steps"`
}

type stepStats struct {
	count        int64
	errors       int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// Metrics aggregates saga lifecycle and step latency counters. All methods
// are safe on a nil receiver so collaborators can run unmetered.
type Metrics struct {
	mu                   sync.Mutex
	start                time.Time
	sagasStarted         int64
	sagasCompleted       int64
	sagasFailed          int64
	sagasRecovered       int64
	compensationAttempts int64
	compensationFailures int64
	steps                map[string]*stepStats
}

// StepSpan measures one step invocation attempt.
type StepSpan struct {
	metrics *Metrics
	step    string
	start   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		start: time.Now(),
		steps: make(map[string]*stepStats),
	}
}

func (m *Metrics) SagaStarted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagasStarted++
	m.mu.Unlock()
}

func (m *Metrics) SagaCompleted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagasCompleted++
	m.mu.Unlock()
}

func (m *Metrics) SagaFailed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagasFailed++
	m.mu.Unlock()
}

func (m *Metrics) SagasRecovered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mu.Lock()
	m.sagasRecovered += int64(count)
	m.mu.Unlock()
}

func (m *Metrics) CompensationAttempt(failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.compensationAttempts++
	if failed {
		m.compensationFailures++
	}
	m.mu.Unlock()
}

// StartStep opens a span for one step invocation attempt.
func (m *Metrics) StartStep(step string) *StepSpan {
	if m == nil {
		return &StepSpan{}
	}
	return &StepSpan{
		metrics: m,
		step:    step,
		start:   time.Now(),
	}
}

func (s *StepSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.finishStep(s.step, time.Since(s.start), err != nil)
}

func (m *Metrics) finishStep(step string, dur time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.steps[step]
	if stats == nil {
		stats = &stepStats{}
		m.steps[step] = stats
	}
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	stats.lastLatency = dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		UptimeSec:            int64(time.Since(m.start).Seconds()),
		SagasStarted:         m.sagasStarted,
		SagasCompleted:       m.sagasCompleted,
		SagasFailed:          m.sagasFailed,
		SagasRecovered:       m.sagasRecovered,
		CompensationAttempts: m.compensationAttempts,
		CompensationFailures: m.compensationFailures,
		Steps:                make(map[string]StepSnapshot, len(m.steps)),
	}

	for step, stats := range m.steps {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency) / float64(time.Millisecond) / float64(stats.count)
		}
		snap.Steps[step] = StepSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency) / float64(time.Millisecond),
			LastLatencyMs: float64(stats.lastLatency) / float64(time.Millisecond),
		}
	}
	return snap
}
