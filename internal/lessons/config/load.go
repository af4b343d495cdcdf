package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-lessons/internal/platform/envutil"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.parse(u)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n)
		return nil
	}
	if err := d.parse(s); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (d *Duration) parse(s string) error {
	if strings.TrimSpace(s) == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func enabled(v bool) *bool { return &v }

func Default() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   1 << 20,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			Capacity:  1000,
			SlideTTL:  Duration{Duration: 10 * time.Minute},
			LessonTTL: Duration{Duration: 30 * time.Minute},
			KeyPrefix: "lessons:",
		},
		Generation: GenerationConfig{
			MinTokens:      500,
			Temperature:    0.7,
			MaxTokens:      2048,
			SessionIdleTTL: Duration{Duration: 30 * time.Minute},
			SweepInterval:  Duration{Duration: time.Minute},
		},
		Backends: []BackendConfig{
			{
				ID:        "openai",
				Type:      "oai_http",
				BaseURL:   "https://api.openai.com",
				APIKeyEnv: "OPENAI_API_KEY",
				Models: map[string]string{
					"simple":  "gpt-4o-mini",
					"complex": "gpt-5-chat-latest",
					"fast":    "gpt-4o-mini",
				},
				Priority: 1,
				Timeout:  Duration{Duration: 30 * time.Second},
			},
			{
				ID:                  "gemini",
				Type:                "oai_http",
				BaseURL:             "https://generativelanguage.googleapis.com/v1beta/openai",
				ChatCompletionsPath: "/chat/completions",
				APIKeyEnv:           "GEMINI_API_KEY",
				Models: map[string]string{
					"simple":  "gemini-2.0-flash-exp",
					"complex": "gemini-2.0-flash-exp",
					"fast":    "gemini-2.0-flash-exp",
				},
				Priority: 2,
				Timeout:  Duration{Duration: 45 * time.Second},
			},
			{
				ID:                  "anthropic",
				Type:                "oai_http",
				BaseURL:             "https://api.anthropic.com/v1",
				ChatCompletionsPath: "/chat/completions",
				APIKeyEnv:           "ANTHROPIC_API_KEY",
				Models: map[string]string{
					"simple":  "claude-3-haiku-20240307",
					"complex": "claude-3-sonnet-20240229",
					"fast":    "claude-3-haiku-20240307",
				},
				Priority:   3,
				Timeout:    Duration{Duration: 60 * time.Second},
				JSONSchema: JSONSchemaConfig{Mode: "prompt"},
			},
			{
				ID:       "mock",
				Type:     "mock",
				Models:   map[string]string{"simple": "mock-1", "complex": "mock-1", "fast": "mock-1"},
				Priority: 99,
				Timeout:  Duration{Duration: 5 * time.Second},
				Enabled:  enabled(false),
			},
		},
	}
}

// Load reads the config file (LESSONS_CONFIG_PATH, else ./config/lessons.yaml or .json),
// applies env overrides, fills defaults and validates. The result is read-only.
func Load() (*Config, error) {
	cfg := Default()

	cfgPath := strings.TrimSpace(os.Getenv("LESSONS_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			for _, name := range []string{"lessons.yaml", "lessons.yml", "lessons.json"} {
				p := filepath.Join(wd, "config", name)
				if _, err := os.Stat(p); err == nil {
					cfgPath = p
					break
				}
			}
		}
	}

	if cfgPath != "" {
		loaded, err := readFile(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = mergeDefaults(loaded)
	}

	applyEnv(cfg)
	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var loaded Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &loaded); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &loaded); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return &loaded, nil
}

// mergeDefaults keeps the default backend list when the file declares none.
func mergeDefaults(loaded *Config) *Config {
	if len(loaded.Backends) == 0 {
		loaded.Backends = Default().Backends
	}
	return loaded
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", cfg.Env)
	cfg.HTTP.Addr = envutil.String("LESSONS_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Cache.RedisAddr = envutil.String("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.Backend = envutil.String("LESSONS_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Store.DSN = envutil.String("LESSONS_STORE_DSN", cfg.Store.DSN)
	cfg.Generation.MinTokens = envutil.Int("LESSONS_MIN_TOKENS", cfg.Generation.MinTokens)
	if envutil.Has("LESSONS_ENABLE_MOCK") {
		on := envutil.Bool("LESSONS_ENABLE_MOCK", false)
		for i := range cfg.Backends {
			if cfg.Backends[i].Type == "mock" {
				cfg.Backends[i].Enabled = &on
			}
		}
	}
}

func normalize(cfg *Config) error {
	def := Default()
	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = def.HTTP.Addr
	}
	if cfg.HTTP.ReadHeaderTimeout.Duration <= 0 {
		cfg.HTTP.ReadHeaderTimeout = def.HTTP.ReadHeaderTimeout
	}
	if cfg.HTTP.IdleTimeout.Duration <= 0 {
		cfg.HTTP.IdleTimeout = def.HTTP.IdleTimeout
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = def.HTTP.ShutdownTimeout
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = def.HTTP.MaxRequestBytes
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	switch cfg.Cache.Backend {
	case "":
		cfg.Cache.Backend = "memory"
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
			return errors.New("cache.backend=redis requires cache.redis_addr or REDIS_ADDR")
		}
	default:
		return fmt.Errorf("invalid cache.backend=%q", cfg.Cache.Backend)
	}
	if cfg.Cache.Capacity <= 0 {
		cfg.Cache.Capacity = def.Cache.Capacity
	}
	if cfg.Cache.SlideTTL.Duration <= 0 {
		cfg.Cache.SlideTTL = def.Cache.SlideTTL
	}
	if cfg.Cache.LessonTTL.Duration <= 0 {
		cfg.Cache.LessonTTL = def.Cache.LessonTTL
	}
	if cfg.Cache.LessonTTL.Duration < cfg.Cache.SlideTTL.Duration {
		return fmt.Errorf("cache.lesson_ttl (%s) must not be shorter than cache.slide_ttl (%s)",
			cfg.Cache.LessonTTL.Duration, cfg.Cache.SlideTTL.Duration)
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = def.Cache.KeyPrefix
	}

	if cfg.Generation.MinTokens <= 0 {
		cfg.Generation.MinTokens = def.Generation.MinTokens
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return fmt.Errorf("invalid generation.temperature=%v", cfg.Generation.Temperature)
	}
	if cfg.Generation.MaxTokens <= 0 {
		cfg.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if cfg.Generation.SessionIdleTTL.Duration <= 0 {
		cfg.Generation.SessionIdleTTL = def.Generation.SessionIdleTTL
	}
	if cfg.Generation.SweepInterval.Duration <= 0 {
		cfg.Generation.SweepInterval = def.Generation.SweepInterval
	}

	if len(cfg.Backends) == 0 {
		return errors.New("config must define at least one backend")
	}
	seen := map[string]bool{}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.ID = strings.TrimSpace(b.ID)
		if b.ID == "" {
			return errors.New("backend id is required")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true

		b.Type = strings.ToLower(strings.TrimSpace(b.Type))
		switch b.Type {
		case "mock":
		case "oai_http", "openai_http":
			b.Type = "oai_http"
			b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
			if b.BaseURL == "" {
				return fmt.Errorf("backend %q (oai_http) missing base_url", b.ID)
			}
			if strings.TrimSpace(b.ChatCompletionsPath) == "" {
				b.ChatCompletionsPath = "/v1/chat/completions"
			}
			if err := normalizeJSONSchema(b); err != nil {
				return err
			}
		default:
			return fmt.Errorf("backend %q has unsupported type %q", b.ID, b.Type)
		}
		if b.Timeout.Duration <= 0 {
			b.Timeout = Duration{Duration: 30 * time.Second}
		}
		if len(b.Models) == 0 {
			return fmt.Errorf("backend %q defines no models", b.ID)
		}
		for tier := range b.Models {
			switch tier {
			case "simple", "complex", "fast":
			default:
				return fmt.Errorf("backend %q has unknown model tier %q", b.ID, tier)
			}
		}
	}
	sort.SliceStable(cfg.Backends, func(i, j int) bool {
		return cfg.Backends[i].Priority < cfg.Backends[j].Priority
	})
	return nil
}

func normalizeJSONSchema(b *BackendConfig) error {
	b.JSONSchema.Mode = strings.ToLower(strings.TrimSpace(b.JSONSchema.Mode))
	switch b.JSONSchema.Mode {
	case "", "auto":
		b.JSONSchema.Mode = "auto"
	case "none", "response_format", "guided_json", "prompt":
	default:
		return fmt.Errorf("backend %q invalid json_schema.mode=%q", b.ID, b.JSONSchema.Mode)
	}
	if b.JSONSchema.MaxRetries < 0 {
		return fmt.Errorf("backend %q invalid json_schema.max_retries", b.ID)
	}
	if b.JSONSchema.MaxRetries == 0 {
		b.JSONSchema.MaxRetries = 1
	}
	if b.JSONSchema.MaxPromptBytes < 0 {
		return fmt.Errorf("backend %q invalid json_schema.max_prompt_bytes", b.ID)
	}
	if b.JSONSchema.MaxPromptBytes == 0 {
		b.JSONSchema.MaxPromptBytes = 64 << 10
	}
	return nil
}
