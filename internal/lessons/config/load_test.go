package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LOG_MODE", "LESSONS_HTTP_ADDR", "REDIS_ADDR", "LESSONS_CACHE_BACKEND", "LESSONS_STORE_DSN", "LESSONS_MIN_TOKENS", "LESSONS_ENABLE_MOCK"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LESSONS_CONFIG_PATH", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.SlideTTL.Duration != 10*time.Minute || cfg.Cache.LessonTTL.Duration != 30*time.Minute {
		t.Fatalf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Generation.MinTokens != 500 {
		t.Fatalf("min tokens=%d", cfg.Generation.MinTokens)
	}
	if len(cfg.Backends) != 4 || cfg.Backends[0].ID != "openai" || cfg.Backends[3].ID != "mock" {
		t.Fatalf("unexpected backends %+v", cfg.Backends)
	}
	if cfg.Backends[3].IsEnabled() {
		t.Fatalf("mock backend must be opt-in")
	}
	if cfg.Backends[0].ChatCompletionsPath != "/v1/chat/completions" || cfg.Backends[0].JSONSchema.Mode != "auto" {
		t.Fatalf("oai_http defaults not applied: %+v", cfg.Backends[0])
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	p := writeConfig(t, "lessons.yaml", `
env: production
http:
  addr: ":9000"
cache:
  backend: memory
  capacity: 50
  slide_ttl: 2m
  lesson_ttl: 20m
backends:
  - id: local
    type: oai_http
    base_url: http://vllm:8000/
    models:
      simple: qwen
      complex: qwen
    priority: 5
    timeout: 10s
  - id: mock
    type: mock
    models:
      fast: mock-1
    priority: 1
    enabled: true
`)
	clearEnv(t)
	t.Setenv("LESSONS_CONFIG_PATH", p)
	t.Setenv("LESSONS_HTTP_ADDR", ":7000")
	t.Setenv("LESSONS_MIN_TOKENS", "300")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "production" {
		t.Fatalf("env=%q", cfg.Env)
	}
	if cfg.HTTP.Addr != ":7000" {
		t.Fatalf("addr=%q", cfg.HTTP.Addr)
	}
	if cfg.Generation.MinTokens != 300 {
		t.Fatalf("min tokens=%d", cfg.Generation.MinTokens)
	}
	if cfg.Cache.Capacity != 50 || cfg.Cache.SlideTTL.Duration != 2*time.Minute {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
	if len(cfg.Backends) != 2 || cfg.Backends[0].ID != "mock" {
		t.Fatalf("backends must be sorted by priority: %+v", cfg.Backends)
	}
	local := cfg.Backends[1]
	if local.BaseURL != "http://vllm:8000" || local.Timeout.Duration != 10*time.Second || !local.IsEnabled() {
		t.Fatalf("local=%+v", local)
	}
	if !local.HasCredentials() {
		t.Fatalf("backend without api_key_env needs no credentials")
	}
}

func TestLoad_JSON(t *testing.T) {
	p := writeConfig(t, "lessons.json", `{
		"cache": {"slide_ttl": "1m", "lesson_ttl": 600000000000},
		"backends": [{"id": "a", "type": "mock", "models": {"simple": "m"}, "timeout": "3s"}]
	}`)
	clearEnv(t)
	t.Setenv("LESSONS_CONFIG_PATH", p)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.LessonTTL.Duration != 10*time.Minute || cfg.Cache.SlideTTL.Duration != time.Minute {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
	if cfg.Backends[0].Timeout.Duration != 3*time.Second {
		t.Fatalf("timeout=%s", cfg.Backends[0].Timeout.Duration)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown cache backend": `{"cache": {"backend": "memcached"}}`,
		"redis without addr":    `{"cache": {"backend": "redis"}}`,
		"lesson ttl too short":  `{"cache": {"slide_ttl": "1h", "lesson_ttl": "1m"}}`,
		"missing base url":      `{"backends": [{"id": "x", "type": "oai_http", "models": {"simple": "m"}}]}`,
		"bad tier":              `{"backends": [{"id": "x", "type": "mock", "models": {"huge": "m"}}]}`,
		"duplicate ids":         `{"backends": [{"id": "x", "type": "mock", "models": {"simple": "m"}}, {"id": "x", "type": "mock", "models": {"simple": "m"}}]}`,
		"bad schema mode":       `{"backends": [{"id": "x", "type": "oai_http", "base_url": "http://h", "models": {"simple": "m"}, "json_schema": {"mode": "xml"}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("LESSONS_CONFIG_PATH", writeConfig(t, "lessons.json", body))
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBackendCredentials(t *testing.T) {
	b := BackendConfig{ID: "openai", Type: "oai_http", APIKeyEnv: "LESSONS_TEST_KEY"}
	t.Setenv("LESSONS_TEST_KEY", "")
	if b.HasCredentials() {
		t.Fatalf("empty key must count as missing")
	}
	t.Setenv("LESSONS_TEST_KEY", "sk-test")
	if !b.HasCredentials() || b.APIKey() != "sk-test" {
		t.Fatalf("key not picked up")
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"1m30s"`), &d); err != nil || d.Duration != 90*time.Second {
		t.Fatalf("d=%v err=%v", d.Duration, err)
	}
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Fatalf("expected parse error")
	}
	b, _ := json.Marshal(Duration{Duration: 2 * time.Second})
	if string(b) != `"2s"` {
		t.Fatalf("marshal=%s", b)
	}
}
