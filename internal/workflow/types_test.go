package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"helmsman/internal/saga"
)

func validDefinition() Definition {
	return Definition{
		Name: "order-fulfillment",
		Steps: []Step{
			{
				Name:       "reserve-inventory",
				Service:    "inventory",
				Method:     "Reserve",
				Compensate: &Compensation{Service: "inventory", Method: "Release"},
				Timeout:    Duration(2 * time.Second),
				Retry: &RetryPolicy{
					MaxAttempts:     3,
					Backoff:         BackoffExponential,
					InitialInterval: Duration(100 * time.Millisecond),
				},
			},
			{
				Name:    "ship-order",
				Service: "shipping",
				Method:  "Ship",
				Timeout: Duration(5 * time.Second),
			},
		},
	}
}

func TestDefinition_Validate(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDefinition_ValidateRejects(t *testing.T) {
	cases := map[string]func(*Definition){
		"empty name":          func(d *Definition) { d.Name = "" },
		"no steps":            func(d *Definition) { d.Steps = nil },
		"unnamed step":        func(d *Definition) { d.Steps[0].Name = "" },
		"duplicate step":      func(d *Definition) { d.Steps[1].Name = d.Steps[0].Name },
		"missing service":     func(d *Definition) { d.Steps[0].Service = "" },
		"missing method":      func(d *Definition) { d.Steps[0].Method = "" },
		"zero timeout":        func(d *Definition) { d.Steps[0].Timeout = 0 },
		"bad compensation":    func(d *Definition) { d.Steps[0].Compensate.Method = "" },
		"zero max attempts":   func(d *Definition) { d.Steps[0].Retry.MaxAttempts = 0 },
		"unknown backoff":     func(d *Definition) { d.Steps[0].Retry.Backoff = "linear" },
		"negative interval":   func(d *Definition) { d.Steps[0].Retry.InitialInterval = Duration(-time.Second) },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := validDefinition()
			mutate(&def)
			err := def.Validate()
			if !errors.Is(err, saga.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	step := Step{
		Name:    "s",
		Service: "svc",
		Method:  "m",
		Timeout: Duration(1500 * time.Millisecond),
	}

	data, err := json.Marshal(step)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Step
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Timeout.Std() != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", decoded.Timeout.Std())
	}
}

func TestDuration_UnmarshalRejectsGarbage(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := json.Unmarshal([]byte(`42`), &d); err == nil {
		t.Fatalf("expected type error")
	}
}

func TestInMemoryDefinitionStore_RegisterAndGet(t *testing.T) {
	store := NewInMemoryDefinitionStore()

	if err := store.Register(context.Background(), validDefinition()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	def, err := store.Get(context.Background(), "order-fulfillment")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("unexpected steps: %+v", def.Steps)
	}
}

func TestInMemoryDefinitionStore_RegisterDuplicate(t *testing.T) {
	store := NewInMemoryDefinitionStore()

	if err := store.Register(context.Background(), validDefinition()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := store.Register(context.Background(), validDefinition())
	if !errors.Is(err, saga.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestInMemoryDefinitionStore_GetMissing(t *testing.T) {
	store := NewInMemoryDefinitionStore()

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, saga.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryDefinitionStore_ListSorted(t *testing.T) {
	store := NewInMemoryDefinitionStore()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		def := validDefinition()
		def.Name = name
		if err := store.Register(context.Background(), def); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	defs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(defs) != 3 || defs[0].Name != "alpha" || defs[1].Name != "bravo" || defs[2].Name != "charlie" {
		t.Fatalf("unexpected list order: %+v", defs)
	}
}

func TestDefinition_StepByName(t *testing.T) {
	def := validDefinition()

	step, ok := def.StepByName("ship-order")
	if !ok || step.Service != "shipping" {
		t.Fatalf("unexpected step: %+v ok=%v", step, ok)
	}
	if _, ok := def.StepByName("missing"); ok {
		t.Fatalf("expected miss for unknown step")
	}
}
