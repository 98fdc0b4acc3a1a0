package invoke

import (
	"context"
	"fmt"
	"sync"
)

// Handler services one (service, method) target in memory.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// NewInMemoryInvoker constructs an in-memory invoker.
func NewInMemoryInvoker() *InMemoryInvoker {
	return &InMemoryInvoker{handlers: make(map[string]Handler)}
}

// InMemoryInvoker dispatches calls to registered handlers. It backs local
// development without downstream services and doubles as a test collaborator.
type InMemoryInvoker struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []string
}

// Register installs a handler for service/method, replacing any previous one.
func (i *InMemoryInvoker) Register(service, method string, handler Handler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[service+"/"+method] = handler
}

func (i *InMemoryInvoker) Call(ctx context.Context, service, method string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Retryable(service, method, err)
	}

	target := service + "/" + method

	i.mu.Lock()
	handler, ok := i.handlers[target]
	i.calls = append(i.calls, target)
	i.mu.Unlock()

	if !ok {
		return nil, Fatal(service, method, fmt.Errorf("no handler for %s", target))
	}
	return handler(ctx, payload)
}

// Calls returns the targets invoked so far, in order (for testing/inspection).
func (i *InMemoryInvoker) Calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.calls...)
}
