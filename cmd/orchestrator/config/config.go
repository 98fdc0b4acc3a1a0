package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// OrchestratorConfig selects the orchestrator's backing infrastructure and
// execution limits. DatabaseURL and RedisURL are optional; when absent the
// orchestrator runs on in-memory stores and leases.
type OrchestratorConfig struct {
	DatabaseURL    string
	RedisURL       string
	ServiceAddrs   map[string]string
	MaxConcurrent  int64
	LeaseTTL       time.Duration
	DefinitionsDir string
}

// ObservabilityConfig holds the HTTP address for the metrics and event feed
// endpoints.
type ObservabilityConfig struct {
	Addr string
}

// LoadOrchestrator reads orchestrator settings from env.
func LoadOrchestrator() (OrchestratorConfig, error) {
	cfg := OrchestratorConfig{
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		DefinitionsDir: strings.TrimSpace(os.Getenv("SAGA_DEFINITIONS_DIR")),
	}

	var err error
	if cfg.ServiceAddrs, err = parseServiceAddrs("SAGA_SERVICE_ADDRS"); err != nil {
		return cfg, err
	}
	if cfg.MaxConcurrent, err = optionalInt64("SAGA_MAX_CONCURRENT", 16); err != nil {
		return cfg, err
	}
	if cfg.LeaseTTL, err = optionalDuration("SAGA_LEASE_TTL", 30*time.Second); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadObservability reads the metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr := strings.TrimSpace(os.Getenv("OBS_ADDR"))
	if addr == "" {
		addr = ":9090"
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// parseServiceAddrs parses "name=host:port,name2=host:port" into a map of
// downstream step service targets.
func parseServiceAddrs(name string) (map[string]string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}

	addrs := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		service, addr, ok := strings.Cut(pair, "=")
		service = strings.TrimSpace(service)
		addr = strings.TrimSpace(addr)
		if !ok || service == "" || addr == "" {
			return nil, fmt.Errorf("%s: malformed entry %q, want name=host:port", name, pair)
		}
		if _, dup := addrs[service]; dup {
			return nil, fmt.Errorf("%s: duplicate service %q", name, service)
		}
		addrs[service] = addr
	}
	if len(addrs) == 0 {
		return nil, nil
	}
	return addrs, nil
}

func optionalInt64(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 1 {
		return 0, fmt.Errorf("%s must be >= 1", name)
	}
	return val, nil
}

func optionalDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("%s must be > 0", name)
	}
	return val, nil
}
