// Package backends turns configured backend entries into orchestrator providers.
package backends

import (
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/config"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine/mock"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine/oaihttp"
)

// Build constructs one provider per configured backend, keeping config order. Disabled and
// credential-less backends are kept so the orchestrator can report them as skipped.
func Build(cfgs []config.BackendConfig) ([]engine.Provider, error) {
	out := make([]engine.Provider, 0, len(cfgs))
	seen := map[string]bool{}
	for _, b := range cfgs {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			return nil, fmt.Errorf("backend id required")
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate backend id: %s", id)
		}
		seen[id] = true

		var be engine.Backend
		switch strings.ToLower(strings.TrimSpace(b.Type)) {
		case "mock":
			be = mock.New()
		case "openai_http", "oai_http":
			e, err := oaihttp.New(b)
			if err != nil {
				return nil, fmt.Errorf("backend %s: %w", id, err)
			}
			be = e
		default:
			return nil, fmt.Errorf("unsupported backend type %q for backend %q", b.Type, id)
		}

		out = append(out, engine.Provider{
			Descriptor: Describe(b),
			Backend:    be,
		})
	}
	return out, nil
}

// Describe is the static descriptor for a backend entry.
func Describe(b config.BackendConfig) engine.Descriptor {
	models := make(map[engine.Tier]string, len(b.Models))
	for tier, m := range b.Models {
		if m = strings.TrimSpace(m); m != "" {
			models[engine.Tier(strings.ToLower(strings.TrimSpace(tier)))] = m
		}
	}
	return engine.Descriptor{
		ID:             strings.TrimSpace(b.ID),
		Priority:       b.Priority,
		Timeout:        b.Timeout.Duration,
		Models:         models,
		Enabled:        b.IsEnabled(),
		HasCredentials: b.HasCredentials(),
	}
}
