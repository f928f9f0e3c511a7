package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/randalmurphal/awe/internal/errors"
)

// EnvAdaptersJSON registers extra providers at startup. The value is a JSON
// object keyed by provider name:
//
//	{"myagent": {"prompt_flag": "-p", "model_flag": "-m",
//	             "capabilities": {"claude_team_agents": false}}}
const EnvAdaptersJSON = "AWE_PROVIDER_ADAPTERS_JSON"

type registryEntry struct {
	PromptFlag   string       `json:"prompt_flag"`
	ModelFlag    string       `json:"model_flag"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry maps provider keys to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns a registry with the built-in adapters plus any
// providers declared in AWE_PROVIDER_ADAPTERS_JSON.
func NewRegistry() (*Registry, error) {
	r := &Registry{adapters: map[string]Adapter{
		"claude": claudeAdapter{},
		"codex":  codexAdapter{},
		"gemini": geminiAdapter{},
	}}
	raw := os.Getenv(EnvAdaptersJSON)
	if raw == "" {
		return r, nil
	}
	var extra map[string]registryEntry
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, fmt.Sprintf("parse %s", EnvAdaptersJSON))
	}
	for name, e := range extra {
		if name == "" {
			return nil, errors.Validation(EnvAdaptersJSON, "empty provider name")
		}
		r.adapters[name] = genericAdapter{
			name:       name,
			caps:       e.Capabilities,
			promptFlag: e.PromptFlag,
			modelFlag:  e.ModelFlag,
		}
	}
	return r, nil
}

// Lookup returns the adapter for the provider key. Unknown providers get a
// bare generic adapter so user-supplied commands still run.
func (r *Registry) Lookup(name string) Adapter {
	if a, ok := r.adapters[name]; ok {
		return a
	}
	return genericAdapter{name: name}
}

// Known reports whether the provider is registered.
func (r *Registry) Known(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// Names returns the registered provider keys, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// KnownSet returns the provider keys as a membership map, the shape task
// validation wants.
func (r *Registry) KnownSet() map[string]bool {
	set := make(map[string]bool, len(r.adapters))
	for n := range r.adapters {
		set[n] = true
	}
	return set
}
