package config

import (
	"os"
	"strings"
	"time"
)

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `json:"max_request_bytes" yaml:"max_request_bytes"`

	// CORSOrigins lists browser origins allowed to call the API. Empty allows localhost dev origins only.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

type CacheConfig struct {
	// Backend is "memory" (per process) or "redis" (shared between replicas).
	Backend   string   `json:"backend" yaml:"backend"`
	Capacity  int      `json:"capacity" yaml:"capacity"`
	SlideTTL  Duration `json:"slide_ttl" yaml:"slide_ttl"`
	LessonTTL Duration `json:"lesson_ttl" yaml:"lesson_ttl"`
	RedisAddr string   `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	KeyPrefix string   `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

type StoreConfig struct {
	// DSN selects the lesson store. Empty disables persistence; "postgres://" and "host=" DSNs
	// use Postgres, anything else is treated as a sqlite path.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type GenerationConfig struct {
	MinTokens   int     `json:"min_tokens" yaml:"min_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`

	// Sessions idle longer than SessionIdleTTL are closed by the sweeper.
	SessionIdleTTL Duration `json:"session_idle_ttl" yaml:"session_idle_ttl"`
	SweepInterval  Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

type JSONSchemaConfig struct {
	// Mode controls how structured output is requested from an OpenAI-compatible backend.
	// - "none": ignore schema hints
	// - "response_format": send response_format json_schema (OpenAI, Gemini compat)
	// - "guided_json": send guided decoding fields (vLLM-style)
	// - "prompt": append the schema text as a system instruction and retry on invalid JSON
	// - "auto": response_format first, then prompt on retry
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Total attempts per backend call = 1 + MaxRetries.
	MaxRetries     int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	MaxPromptBytes int `json:"max_prompt_bytes,omitempty" yaml:"max_prompt_bytes,omitempty"`
}

type BackendConfig struct {
	ID string `json:"id" yaml:"id"`

	// Type is "oai_http" or "mock".
	Type string `json:"type" yaml:"type"`

	BaseURL             string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	ChatCompletionsPath string `json:"chat_completions_path,omitempty" yaml:"chat_completions_path,omitempty"`

	// APIKeyEnv names the env var holding the credential. Empty means the backend needs none.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	// Models maps a complexity tier (simple, complex, fast) to an upstream model name.
	Models map[string]string `json:"models" yaml:"models"`

	Priority int      `json:"priority" yaml:"priority"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`
	Enabled  *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	JSONSchema JSONSchemaConfig `json:"json_schema,omitempty" yaml:"json_schema,omitempty"`
}

// IsEnabled defaults to true for real backends; the mock must be opted into.
func (b BackendConfig) IsEnabled() bool {
	if b.Enabled != nil {
		return *b.Enabled
	}
	return b.Type != "mock"
}

func (b BackendConfig) APIKey() string {
	if strings.TrimSpace(b.APIKeyEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(b.APIKeyEnv))
}

// HasCredentials reports whether the backend can be called at all.
func (b BackendConfig) HasCredentials() bool {
	if b.Type == "mock" || strings.TrimSpace(b.APIKeyEnv) == "" {
		return true
	}
	return b.APIKey() != ""
}

type Config struct {
	Env        string           `json:"env" yaml:"env"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Backends   []BackendConfig  `json:"backends" yaml:"backends"`
}
