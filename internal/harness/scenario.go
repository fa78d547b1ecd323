package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/cache"
	"github.com/roach88/fieldsync/internal/connectivity"
)

// Scenario is a scripted run of the sync engine against fakes.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Signal is the connectivity signal at start. Default: wifi.
	Signal string `yaml:"signal,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is a single scenario step. Exactly one field is set.
type Step struct {
	// Signal pushes a connectivity event and waits for any drain it starts.
	Signal string `yaml:"signal,omitempty"`

	// Advance moves the wall clock forward.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Provider replaces the provider's outcome script.
	Provider []ProviderOutcome `yaml:"provider,omitempty"`

	// Fetch reads through the engine.
	Fetch *FetchStep `yaml:"fetch,omitempty"`

	// Submit writes through the engine.
	Submit *SubmitStep `yaml:"submit,omitempty"`

	// Drain replays the offline queue synchronously.
	Drain bool `yaml:"drain,omitempty"`

	// Clear removes cache entries or queued actions.
	Clear *ClearStep `yaml:"clear,omitempty"`

	// ExpectQueue checks the queued action types, in order.
	ExpectQueue *[]string `yaml:"expect_queue,omitempty"`
}

// ProviderOutcome is one scripted provider response.
type ProviderOutcome struct {
	// Status defaults to 200 when Error is empty.
	Status int `yaml:"status,omitempty"`

	// Body is marshaled to JSON.
	Body any `yaml:"body,omitempty"`

	// Error is transient or permanent.
	Error string `yaml:"error,omitempty"`
}

// FetchStep names the entry to fetch.
type FetchStep struct {
	Category string `yaml:"category"`
	Key      string `yaml:"key"`
}

// SubmitStep describes a write.
type SubmitStep struct {
	Type    string `yaml:"type"`
	Payload any    `yaml:"payload,omitempty"`
}

// ClearStep selects what to clear. Exactly one field is set.
type ClearStep struct {
	Category string `yaml:"category,omitempty"`
	All      bool   `yaml:"all,omitempty"`
	Queue    bool   `yaml:"queue,omitempty"`
}

// Step kinds.
const (
	StepSignal      = "signal"
	StepAdvance     = "advance"
	StepProvider    = "provider"
	StepFetch       = "fetch"
	StepSubmit      = "submit"
	StepDrain       = "drain"
	StepClear       = "clear"
	StepExpectQueue = "expect_queue"
)

// Kind returns the step kind, or "" if no field is set.
func (s *Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s *Step) kinds() []string {
	var kinds []string
	if s.Signal != "" {
		kinds = append(kinds, StepSignal)
	}
	if s.Advance != 0 {
		kinds = append(kinds, StepAdvance)
	}
	if s.Provider != nil {
		kinds = append(kinds, StepProvider)
	}
	if s.Fetch != nil {
		kinds = append(kinds, StepFetch)
	}
	if s.Submit != nil {
		kinds = append(kinds, StepSubmit)
	}
	if s.Drain {
		kinds = append(kinds, StepDrain)
	}
	if s.Clear != nil {
		kinds = append(kinds, StepClear)
	}
	if s.ExpectQueue != nil {
		kinds = append(kinds, StepExpectQueue)
	}
	return kinds
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is trace_contains, trace_order, trace_count or final_state.
	Type string `yaml:"type"`

	// Event is a "step:outcome" label (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Result is a subset the matching event's result must contain
	// (trace_contains).
	Result map[string]any `yaml:"result,omitempty"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected label order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Expect is a subset of the final state snapshot (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Signal != "" {
		if _, err := connectivity.ParseSignal(s.Signal); err != nil {
			return fmt.Errorf("signal: %w", err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("steps[%d]: empty step", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: exactly one step kind allowed, got %v", index, kinds)
	}

	switch kinds[0] {
	case StepSignal:
		if _, err := connectivity.ParseSignal(s.Signal); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case StepAdvance:
		if s.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be positive", index)
		}
	case StepProvider:
		for j, o := range s.Provider {
			switch o.Error {
			case "", "transient", "permanent":
			default:
				return fmt.Errorf("steps[%d].provider[%d]: unknown error %q", index, j, o.Error)
			}
		}
	case StepFetch:
		if err := cache.Category(s.Fetch.Category).Validate(); err != nil {
			return fmt.Errorf("steps[%d].fetch: %w", index, err)
		}
		if s.Fetch.Key == "" {
			return fmt.Errorf("steps[%d].fetch: key is required", index)
		}
	case StepSubmit:
		if s.Submit.Type == "" {
			return fmt.Errorf("steps[%d].submit: type is required", index)
		}
	case StepClear:
		n := 0
		if s.Clear.Category != "" {
			n++
		}
		if s.Clear.All {
			n++
		}
		if s.Clear.Queue {
			n++
		}
		if n != 1 {
			return fmt.Errorf("steps[%d].clear: exactly one of category, all, queue is required", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
