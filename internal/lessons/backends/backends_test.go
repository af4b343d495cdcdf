package backends

import (
	"testing"
	"time"

	"github.com/yungbote/neurobridge-lessons/internal/lessons/config"
	"github.com/yungbote/neurobridge-lessons/internal/lessons/engine"
)

func TestBuild_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	providers, err := Build(config.Default().Backends)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	byID := map[string]engine.Provider{}
	for _, p := range providers {
		if p.Backend == nil {
			t.Fatalf("provider %s has no backend", p.ID)
		}
		byID[p.ID] = p
	}
	openai, ok := byID["openai"]
	if !ok || !openai.Enabled || !openai.HasCredentials || openai.Timeout != 30*time.Second {
		t.Fatalf("unexpected openai provider %+v", openai.Descriptor)
	}
	if openai.Model(engine.TierFast) == "" {
		t.Fatalf("openai has no fast model")
	}
	if gemini := byID["gemini"]; gemini.HasCredentials {
		t.Fatalf("gemini must report missing credentials")
	}
	if mock := byID["mock"]; mock.Enabled || !mock.HasCredentials {
		t.Fatalf("mock must be disabled by default and need no key: %+v", mock.Descriptor)
	}
}

func TestBuild_Errors(t *testing.T) {
	cases := map[string][]config.BackendConfig{
		"missing id": {{Type: "mock"}},
		"duplicate":  {{ID: "a", Type: "mock"}, {ID: "a", Type: "mock"}},
		"bad type":   {{ID: "a", Type: "grpc"}},
		"no url":     {{ID: "a", Type: "oai_http"}},
	}
	for name, cfgs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Build(cfgs); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDescribe_NormalizesTiers(t *testing.T) {
	d := Describe(config.BackendConfig{ID: " x ", Models: map[string]string{"Complex": "big", "fast": " "}})
	if d.ID != "x" || d.Models[engine.TierComplex] != "big" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if _, ok := d.Models[engine.TierFast]; ok {
		t.Fatalf("blank model must be dropped")
	}
}
