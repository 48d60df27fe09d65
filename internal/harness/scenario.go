package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a fresh agent, a scripted
// origin, and a sequence of steps with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Pages maps origin paths to response bodies the fake origin serves.
	Pages map[string]string `yaml:"pages,omitempty"`

	// Manifest lists paths precached into the generation before the first
	// step, mirroring install-time precache.
	Manifest []string `yaml:"manifest,omitempty"`

	// Steps is the scripted sequence.
	Steps []Step `yaml:"steps"`
}

// Step is one scripted action. Exactly one field should be set.
type Step struct {
	// Fetch sends one request through the interceptor.
	Fetch *FetchStep `yaml:"fetch,omitempty"`

	// Offline toggles origin reachability.
	Offline *bool `yaml:"offline,omitempty"`

	// Enqueue appends one offline action to the durable queue.
	Enqueue *EnqueueStep `yaml:"enqueue,omitempty"`

	// Drain runs one drain cycle.
	Drain *DrainStep `yaml:"drain,omitempty"`

	// Push delivers one push payload to the gateway.
	Push *PushStep `yaml:"push,omitempty"`

	// Click delivers one notification interaction.
	Click *ClickStep `yaml:"click,omitempty"`
}

// FetchStep sends a GET through the interceptor.
type FetchStep struct {
	// Path is the origin-relative request path.
	Path string `yaml:"path"`

	// Navigate marks the request as a page navigation, which qualifies it
	// for the cached-shell fallback.
	Navigate bool `yaml:"navigate,omitempty"`

	// Expect validates the response. Nil skips validation.
	Expect *FetchExpect `yaml:"expect,omitempty"`
}

// FetchExpect validates one fetch outcome.
type FetchExpect struct {
	// Status is the expected response status.
	Status int `yaml:"status"`

	// Cache is the expected cache marker: "", "HIT", "SHELL" or "OFFLINE".
	Cache string `yaml:"cache,omitempty"`
}

// EnqueueStep appends one offline action.
type EnqueueStep struct {
	Type    string `yaml:"type"`
	Payload string `yaml:"payload"`
}

// DrainStep runs one drain cycle and optionally validates the report.
type DrainStep struct {
	Expect *DrainExpect `yaml:"expect,omitempty"`
}

// DrainExpect validates a drain report.
type DrainExpect struct {
	Replayed int `yaml:"replayed"`
	Retried  int `yaml:"retried"`
	Buried   int `yaml:"buried"`
}

// PushStep delivers one push payload. An empty payload exercises the
// all-defaults path.
type PushStep struct {
	Payload string `yaml:"payload,omitempty"`
}

// ClickStep delivers one notification interaction.
type ClickStep struct {
	Action string `yaml:"action,omitempty"`
	Tag    string `yaml:"tag,omitempty"`
	URL    string `yaml:"url,omitempty"`
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: no steps", s.Name)
	}
	return &s, nil
}
