package invoke

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Resolver maps a logical service name to a dial target. Service discovery
// lives behind this function; a static map suffices for tests and small
// deployments.
type Resolver func(service string) (string, error)

// StaticResolver resolves service names from a fixed address map.
func StaticResolver(addrs map[string]string) Resolver {
	return func(service string) (string, error) {
		addr, ok := addrs[service]
		if !ok {
			return "", fmt.Errorf("no address for service %q", service)
		}
		return addr, nil
	}
}

// GRPCInvoker calls downstream services over gRPC. Payloads travel as opaque
// JSON inside BytesValue envelopes; the remote method is addressed as
// /<service>/<method>. Connections are cached per service.
type GRPCInvoker struct {
	resolve Resolver
	dial    func(target string) (*grpc.ClientConn, error)

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCInvoker constructs a gRPC-backed invoker.
func NewGRPCInvoker(resolve Resolver) *GRPCInvoker {
	return &GRPCInvoker{
		resolve: resolve,
		dial: func(target string) (*grpc.ClientConn, error) {
			return grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
		},
		conns: make(map[string]*grpc.ClientConn),
	}
}

func (g *GRPCInvoker) Call(ctx context.Context, service, method string, payload []byte) ([]byte, error) {
	conn, err := g.conn(service)
	if err != nil {
		return nil, Fatal(service, method, err)
	}

	in := wrapperspb.Bytes(payload)
	out := &wrapperspb.BytesValue{}
	if err := conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, Classify(service, method, err)
	}
	return out.Value, nil
}

func (g *GRPCInvoker) conn(service string) (*grpc.ClientConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if conn, ok := g.conns[service]; ok {
		return conn, nil
	}

	target, err := g.resolve(service)
	if err != nil {
		return nil, err
	}
	conn, err := g.dial(target)
	if err != nil {
		return nil, err
	}
	g.conns[service] = conn
	return conn, nil
}

// Close releases all cached connections.
func (g *GRPCInvoker) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for service, conn := range g.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.conns, service)
	}
	return firstErr
}

// Classify converts a transport error into a StepError. Timeouts and
// transport-level failures retry; application-level rejections do not.
func Classify(service, method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(service, method, err)
	}
	if errors.Is(err, context.Canceled) {
		return Fatal(service, method, err)
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Unknown:
		return Retryable(service, method, err)
	default:
		return Fatal(service, method, err)
	}
}
