package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"helmsman/internal/saga"
)

// LoadAll registers every definition document found in dir and returns how
// many were newly registered. Files already registered under the same name
// are skipped, so reloading the same directory at boot is harmless. A
// malformed or invalid document aborts the load.
func LoadAll(ctx context.Context, store DefinitionStore, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read definitions dir: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return count, fmt.Errorf("read %s: %w", path, err)
		}

		var def Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return count, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := def.Validate(); err != nil {
			return count, fmt.Errorf("%s: %w", path, err)
		}

		if err := store.Register(ctx, def); err != nil {
			if errors.Is(err, saga.ErrAlreadyExists) {
				continue
			}
			return count, fmt.Errorf("register %s: %w", path, err)
		}
		count++
	}
	return count, nil
}
