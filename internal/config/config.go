// Package config loads and validates the gateway's provider configuration.
//
// Configuration lives in a YAML document (default: providers.yaml) under a
// top-level `providers:` list. Each entry's api_key may be left blank in the
// file and supplied instead via a `<PROVIDER_NAME>_API_KEY` environment
// variable (upper-cased, non-alphanumerics replaced with `_`) — the same
// env-var-overrides-file precedence the gateway's ambient config loading
// uses elsewhere, layered over the YAML document with viper.
//
// A .env file in the working directory, if present, is loaded into the
// process environment before viper reads anything.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/llm-cost-router/internal/providers"
)

// Closed set of supported provider types (config-load-time validation).
var validTypes = map[string]bool{
	providers.TypeGoogleGemini: true,
	providers.TypeMistral:      true,
	providers.TypeDeepSeek:     true,
}

// defaultMaxRetries holds each provider type's default retry count, used
// when a provider entry omits max_retries.
var defaultMaxRetries = map[string]int{
	providers.TypeMistral:      1,
	providers.TypeDeepSeek:     2,
	providers.TypeGoogleGemini: 2,
}

const defaultTimeout = 30 * time.Second

// ProviderEntry mirrors one element of the YAML `providers:` list.
//
// CostPer1kTokens and MaxRetries are pointers so an absent key can be told
// apart from an explicit zero: config_loader.py's validation checks dict key
// presence (`field not in provider`), not truthiness, so a present
// `cost_per_1k_tokens: 0` or `max_retries: 0` must be honored rather than
// treated as missing.
type ProviderEntry struct {
	Name                      string   `mapstructure:"name"`
	Type                      string   `mapstructure:"type"`
	Endpoint                  string   `mapstructure:"endpoint"`
	Model                     string   `mapstructure:"model"`
	APIKey                    string   `mapstructure:"api_key"`
	CostPer1kTokens           *float64 `mapstructure:"cost_per_1k_tokens"`
	PromptCostPer1kTokens     float64  `mapstructure:"prompt_cost_per_1k_tokens"`
	CompletionCostPer1kTokens float64  `mapstructure:"completion_cost_per_1k_tokens"`
	TimeoutSeconds            float64  `mapstructure:"timeout"`
	MaxRetries                *int     `mapstructure:"max_retries"`
}

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// UsageLogPath is the durable append-only usage log file path.
	UsageLogPath string

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any origin.
	CORSOrigins []string

	// Providers is the validated, defaults-applied provider list.
	Providers []providers.Config
}

// Load reads providers.yaml (or the path in CONFIG_FILE) plus environment
// overrides, validates it, and returns a ready-to-use Config. Any validation
// failure here is config-invalid — fatal at startup.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName(configFileBase())
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("USAGE_LOG_PATH", "logs/usage.log")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	var raw struct {
		Providers []ProviderEntry `mapstructure:"providers"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: decoding providers: %w", err)
	}

	provs, err := buildProviders(raw.Providers)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:         v.GetInt("PORT"),
		LogLevel:     strings.ToLower(v.GetString("LOG_LEVEL")),
		UsageLogPath: v.GetString("USAGE_LOG_PATH"),
		CORSOrigins:  v.GetStringSlice("CORS_ORIGINS"),
		Providers:    provs,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildProviders validates each entry against the required-field list and
// the closed type set, applies env-var api_key overrides and per-type
// defaults, and returns the resulting provider configs. Mirrors
// config_loader.py's _validate_config semantics exactly.
func buildProviders(entries []ProviderEntry) ([]providers.Config, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("config: providers list must not be empty")
	}

	out := make([]providers.Config, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("config: provider missing required field: name")
		}
		if e.Type == "" {
			return nil, fmt.Errorf("config: provider %q missing required field: type", e.Name)
		}
		if e.Endpoint == "" {
			return nil, fmt.Errorf("config: provider %q missing required field: endpoint", e.Name)
		}
		if e.Model == "" {
			return nil, fmt.Errorf("config: provider %q missing required field: model", e.Name)
		}
		if e.CostPer1kTokens == nil {
			return nil, fmt.Errorf("config: provider %q missing required field: cost_per_1k_tokens", e.Name)
		}
		if !validTypes[e.Type] {
			return nil, fmt.Errorf("config: provider %q has invalid type: %s", e.Name, e.Type)
		}

		apiKey := e.APIKey
		if apiKey == "" {
			apiKey = os.Getenv(envKeyFor(e.Name))
		}

		timeout := defaultTimeout
		if e.TimeoutSeconds > 0 {
			timeout = time.Duration(e.TimeoutSeconds * float64(time.Second))
		}

		maxRetries := defaultMaxRetries[e.Type]
		if e.MaxRetries != nil {
			maxRetries = *e.MaxRetries
		}

		out = append(out, providers.Config{
			Name:                      e.Name,
			Type:                      e.Type,
			Endpoint:                  e.Endpoint,
			Model:                     e.Model,
			APIKey:                    apiKey,
			CostPer1kTokens:           *e.CostPer1kTokens,
			PromptCostPer1kTokens:     e.PromptCostPer1kTokens,
			CompletionCostPer1kTokens: e.CompletionCostPer1kTokens,
			Timeout:                   timeout,
			MaxRetries:                maxRetries,
		})
	}

	return out, nil
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// envKeyFor derives the environment variable name used to override a
// provider's api_key, e.g. "mistral-primary" -> "MISTRAL_PRIMARY_API_KEY".
func envKeyFor(providerName string) string {
	normalized := nonAlnum.ReplaceAllString(providerName, "_")
	return strings.ToUpper(normalized) + "_API_KEY"
}

// validate checks constraints beyond per-provider field validation.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q; must be one of: debug, info, warn, error", c.LogLevel)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be configured")
	}
	return nil
}

func configFileBase() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return strings.TrimSuffix(strings.TrimSuffix(path, ".yaml"), ".yml")
	}
	return "providers"
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
