package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/relay/pkg/model"
	"github.com/germanamz/relay/pkg/modeladapter"
	"github.com/germanamz/relay/pkg/modeladapter/extra"
	"github.com/germanamz/relay/pkg/variant"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Dir resolves relative template, schema and tool paths. LoadConfig sets
	// it to the config file's directory.
	Dir             string                    `yaml:"-"`
	Gateway         GatewayConfig             `yaml:"gateway"`
	Models          map[string]ModelConfig    `yaml:"models"`
	EmbeddingModels map[string]ModelConfig    `yaml:"embedding_models"`
	Tools           map[string]ToolConfig     `yaml:"tools"`
	Functions       map[string]FunctionConfig `yaml:"functions"`
}

// GatewayConfig holds process-wide settings.
type GatewayConfig struct {
	// Bind is the HTTP listen address of "relay serve".
	Bind  string      `yaml:"bind"`
	Cache CacheConfig `yaml:"cache"`
	// BatchStore is the SQLite database path for batch rows. Empty disables
	// batch inference.
	BatchStore string `yaml:"batch_store"`
}

// CacheConfig sizes the shared inference response cache. A zero Size
// disables caching.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// RateLimitConfig throttles requests to one provider.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`   // Requests per second (0 = no limit).
	Burst int     `yaml:"burst"` // Burst size (default 1).
}

// ProviderConfig describes one backend of a model.
type ProviderConfig struct {
	Kind string `yaml:"kind"`
	// Model is the backend's own model name.
	Model string `yaml:"model"`
	// Credentials is a credential location: "none", "dynamic::<name>" or
	// "env::<VAR>".
	Credentials string          `yaml:"credentials"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// ModelConfig describes a model and its providers in fallback order.
type ModelConfig struct {
	Routing   []string                  `yaml:"routing"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ToolConfig describes a tool functions may offer.
type ToolConfig struct {
	Description string `yaml:"description"`
	// Parameters is the path to the tool's JSON schema.
	Parameters string `yaml:"parameters"`
	Strict     bool   `yaml:"strict"`
}

// FunctionConfig describes a function and its variants. Schema paths are
// optional except OutputSchema, which json functions may set.
type FunctionConfig struct {
	Type              modeladapter.FunctionType `yaml:"type"`
	SystemSchema      string                    `yaml:"system_schema"`
	UserSchema        string                    `yaml:"user_schema"`
	AssistantSchema   string                    `yaml:"assistant_schema"`
	OutputSchema      string                    `yaml:"output_schema"`
	Tools             []string                  `yaml:"tools"`
	ToolChoice        modeladapter.ToolChoice   `yaml:"tool_choice"`
	ParallelToolCalls *bool                     `yaml:"parallel_tool_calls"`
	Variants          map[string]VariantConfig  `yaml:"variants"`
}

// VariantConfig describes a chat completion variant. Template fields are
// paths to template files.
type VariantConfig struct {
	Type              string              `yaml:"type"`
	Weight            *float64            `yaml:"weight"`
	Model             string              `yaml:"model"`
	SystemTemplate    string              `yaml:"system_template"`
	UserTemplate      string              `yaml:"user_template"`
	AssistantTemplate string              `yaml:"assistant_template"`
	Params            variant.Params      `yaml:",inline"`
	Retries           variant.RetryConfig `yaml:"retries"`
	ExtraBody         extra.Body          `yaml:"extra_body"`
	ExtraHeaders      extra.Headers       `yaml:"extra_headers"`
}

// VariantTypeChatCompletion is the only supported variant type.
const VariantTypeChatCompletion = "chat_completion"

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, err
	}

	cfg.Dir = filepath.Dir(path)

	return cfg, nil
}

// ParseConfig parses YAML configuration after expanding environment
// variables. Relative paths resolve against the working directory.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Path resolves p against the config directory.
func (c Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}

	return filepath.Join(c.Dir, p)
}

// Validate checks that the configuration is internally consistent. It does not
// read referenced files; New does that.
func (c Config) Validate() error {
	if c.Gateway.Cache.Size < 0 {
		return errors.New("engine: config: gateway.cache.size must be non-negative")
	}

	for _, name := range sortedKeys(c.Models) {
		if err := c.Models[name].validate("models." + name); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(c.EmbeddingModels) {
		if err := c.EmbeddingModels[name].validate("embedding_models." + name); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(c.Tools) {
		if c.Tools[name].Parameters == "" {
			return fmt.Errorf("engine: config: tools.%s: parameters is required", name)
		}
	}

	if len(c.Functions) == 0 {
		return errors.New("engine: config: at least one function is required")
	}

	for _, name := range sortedKeys(c.Functions) {
		if err := c.validateFunction(name, c.Functions[name]); err != nil {
			return err
		}
	}

	return nil
}

func (m ModelConfig) validate(prefix string) error {
	if len(m.Routing) == 0 {
		return fmt.Errorf("engine: config: %s: routing is required", prefix)
	}

	for _, p := range m.Routing {
		if _, ok := m.Providers[p]; !ok {
			return fmt.Errorf("engine: config: %s: routing names unknown provider %q", prefix, p)
		}
	}

	for _, name := range sortedKeys(m.Providers) {
		p := m.Providers[name]
		if p.Kind == "" {
			return fmt.Errorf("engine: config: %s.providers.%s: kind is required", prefix, name)
		}

		if _, err := modeladapter.ParseCredentialLocation(p.Credentials); err != nil {
			return fmt.Errorf("engine: config: %s.providers.%s: %w", prefix, name, err)
		}

		if p.RateLimit.RPS < 0 || p.RateLimit.Burst < 0 {
			return fmt.Errorf("engine: config: %s.providers.%s: rate_limit must be non-negative", prefix, name)
		}
	}

	return nil
}

func (c Config) validateFunction(name string, f FunctionConfig) error {
	prefix := "functions." + name

	if !f.Type.Valid() {
		return fmt.Errorf("engine: config: %s: unknown type %q", prefix, f.Type)
	}

	if f.Type == modeladapter.FunctionTypeChat && f.OutputSchema != "" {
		return fmt.Errorf("engine: config: %s: output_schema is only allowed for json functions", prefix)
	}

	if f.Type == modeladapter.FunctionTypeJSON && len(f.Tools) > 0 {
		return fmt.Errorf("engine: config: %s: tools are only allowed for chat functions", prefix)
	}

	for _, tool := range f.Tools {
		if _, ok := c.Tools[tool]; !ok {
			return fmt.Errorf("engine: config: %s: unknown tool %q", prefix, tool)
		}
	}

	if name, ok := f.ToolChoice.Specific(); ok && !slices.Contains(f.Tools, name) {
		return fmt.Errorf("engine: config: %s: tool_choice names unknown tool %q", prefix, name)
	}

	if len(f.Variants) == 0 {
		return fmt.Errorf("engine: config: %s: at least one variant is required", prefix)
	}

	for _, vname := range sortedKeys(f.Variants) {
		v := f.Variants[vname]
		if v.Type != VariantTypeChatCompletion {
			return fmt.Errorf("engine: config: %s.variants.%s: unknown type %q", prefix, vname, v.Type)
		}

		if v.Model == "" {
			return fmt.Errorf("engine: config: %s.variants.%s: model is required", prefix, vname)
		}
	}

	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// cacheOptions converts caller cache parameters.
func cacheOptions(p CacheParams) model.CacheOptions {
	opts := model.CacheOptions{Mode: p.Enabled}
	if p.MaxAgeS != nil {
		opts.MaxAge = time.Duration(*p.MaxAgeS) * time.Second
	}

	return opts
}
