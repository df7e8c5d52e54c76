package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/statesync/internal/state"
)

// Scenario defines an end-to-end sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Devices lists the client installations taking part.
	Devices []Device `yaml:"devices"`

	// Steps run in order. Each acts on exactly one device.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state of devices and server.
	Assertions []Assertion `yaml:"assertions"`
}

// Device is one client installation.
type Device struct {
	// Name is how steps and assertions refer to the device.
	Name string `yaml:"name"`

	// Client is the sync identity the device uses.
	Client string `yaml:"client"`
}

// Step actions.
const (
	ActionUpsert   = "upsert"
	ActionDelete   = "delete"
	ActionSettings = "settings"
	ActionSync     = "sync"
)

// Step is a single local edit or sync cycle on one device.
type Step struct {
	Device string `yaml:"device"`

	// Action is one of upsert, delete, settings, sync.
	Action string `yaml:"action"`

	// Collection is required by upsert and delete.
	Collection string `yaml:"collection,omitempty"`

	// Entity is the record to upsert. It must carry an id.
	Entity map[string]any `yaml:"entity,omitempty"`

	// ID is the id to delete.
	ID string `yaml:"id,omitempty"`

	// Value replaces the device's settings. Null clears them.
	Value any `yaml:"value,omitempty"`

	// Expect checks the outcome of a sync step.
	Expect *SyncExpect `yaml:"expect,omitempty"`
}

// SyncExpect lists expected totals for a sync step. Omitted fields are not
// checked.
type SyncExpect struct {
	Pushed   *int `yaml:"pushed,omitempty"`
	Received *int `yaml:"received,omitempty"`
	Dropped  *int `yaml:"dropped,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "converged": devices and their server documents agree
	// - "entity": a live entity exists and its fields match
	// - "deleted": an id is tombstoned
	// - "settings": settings equal Value
	Type string `yaml:"type"`

	// Devices are compared by converged. Empty means all devices.
	Devices []string `yaml:"devices,omitempty"`

	// Device selects a device's local state (entity, deleted, settings).
	Device string `yaml:"device,omitempty"`

	// Client selects the server document for a client id instead.
	Client string `yaml:"client,omitempty"`

	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`

	// Fields is a subset match against the entity (used by entity).
	Fields map[string]any `yaml:"fields,omitempty"`

	// Value is the expected settings value (used by settings).
	Value any `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged = "converged"
	AssertEntity    = "entity"
	AssertDeleted   = "deleted"
	AssertSettings  = "settings"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
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
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	devices := make(map[string]bool, len(s.Devices))
	clients := make(map[string]bool)
	for i, d := range s.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
		if d.Client == "" {
			return fmt.Errorf("devices[%d]: client is required", i)
		}
		if devices[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate device %q", i, d.Name)
		}
		devices[d.Name] = true
		clients[d.Client] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, devices); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, devices, clients); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, devices map[string]bool) error {
	if !devices[step.Device] {
		return fmt.Errorf("steps[%d]: unknown device %q", index, step.Device)
	}
	if step.Expect != nil && step.Action != ActionSync {
		return fmt.Errorf("steps[%d]: expect is only allowed on sync steps", index)
	}

	switch step.Action {
	case ActionUpsert:
		if err := validateCollection(step.Collection); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if _, ok := state.EntityID(step.Entity); !ok {
			return fmt.Errorf("steps[%d]: entity with a usable id is required for upsert", index)
		}
	case ActionDelete:
		if err := validateCollection(step.Collection); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for delete", index)
		}
	case ActionSettings, ActionSync:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, step.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, devices, clients map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertConverged:
		for _, d := range a.Devices {
			if !devices[d] {
				return fmt.Errorf("assertions[%d]: unknown device %q", index, d)
			}
		}
		return nil
	case AssertEntity, AssertDeleted:
		if err := validateCollection(a.Collection); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertSettings:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	switch {
	case a.Device != "" && a.Client != "":
		return fmt.Errorf("assertions[%d]: device and client are mutually exclusive", index)
	case a.Device != "":
		if !devices[a.Device] {
			return fmt.Errorf("assertions[%d]: unknown device %q", index, a.Device)
		}
	case a.Client != "":
		if !clients[a.Client] {
			return fmt.Errorf("assertions[%d]: no device uses client %q", index, a.Client)
		}
	default:
		return fmt.Errorf("assertions[%d]: device or client is required for %s", index, a.Type)
	}
	return nil
}

func validateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("collection is required")
	}
	if !slices.Contains(state.Collections, state.CollectionName(name)) {
		return fmt.Errorf("unknown collection %q", name)
	}
	return nil
}
