package app

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vandamme-proxy/vandamme/internal/conversion"
	"github.com/vandamme-proxy/vandamme/internal/provider"
	"github.com/vandamme-proxy/vandamme/internal/tokensource"
)

// EnvPrefix prefixes environment variables that override configuration keys.
// Nested keys are separated by a double underscore: VDM_SERVER__PORT=9000.
const EnvPrefix = "VDM_"

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "vandamme.toml"

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Log       LogConfig                 `koanf:"log"`
	Defaults  DefaultsConfig            `koanf:"defaults"`
	Timeouts  TimeoutsConfig            `koanf:"timeouts"`
	Streaming StreamingConfig           `koanf:"streaming"`
	Providers map[string]ProviderConfig `koanf:"providers" validate:"required,min=1,dive"`
}

type ServerConfig struct {
	Host            string `koanf:"host" validate:"required"`
	Port            int    `koanf:"port" validate:"min=0,max=65535"`
	MaxRequestBytes int64  `koanf:"max_request_bytes" validate:"min=1"`
	Metrics         bool   `koanf:"metrics"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level    string `koanf:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format   string `koanf:"format" validate:"oneof=text json"`
	Exporter string `koanf:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

type DefaultsConfig struct {
	Provider string `koanf:"provider"`
}

type TimeoutsConfig struct {
	Request       time.Duration `koanf:"request"`
	StreamConnect time.Duration `koanf:"stream_connect"`
}

type StreamingConfig struct {
	// ToolArguments selects how non-string tool argument fragments are rendered.
	ToolArguments string `koanf:"tool_arguments" validate:"oneof=json stringify"`
}

// ProviderConfig describes one upstream.
type ProviderConfig struct {
	Kind             string            `koanf:"kind" validate:"required,oneof=openai anthropic"`
	BaseURL          string            `koanf:"base_url" validate:"required,url"`
	APIKeySource     string            `koanf:"api_key_source" validate:"oneof=config env keyring"`
	APIKeys          []string          `koanf:"api_keys" validate:"required_if=APIKeySource config,dive,required"`
	AnthropicVersion string            `koanf:"anthropic_version"`
	Aliases          map[string]string `koanf:"aliases" validate:"dive,keys,required,endkeys,required"`
}

// NewKeyStore returns the store the provider's keys are read from. lookup resolves
// environment variables, usually os.LookupEnv.
func (p ProviderConfig) NewKeyStore(name string, lookup func(string) (string, bool)) tokensource.Store {
	switch tokensource.StorageType(p.APIKeySource) {
	case tokensource.StorageTypeEnv:
		return tokensource.NewEnvStore(name, lookup)
	case tokensource.StorageTypeKeyring:
		return tokensource.NewKeyringStore(name)
	default:
		return tokensource.NewStaticStore(p.APIKeys)
	}
}

// ArgumentsMode maps the configured tool argument rendering.
func (s StreamingConfig) ArgumentsMode() conversion.ArgumentsMode {
	if s.ToolArguments == "stringify" {
		return conversion.ArgumentsStringify
	}
	return conversion.ArgumentsJSON
}

// DefaultProvider returns the configured default provider, or the only provider
// when exactly one is configured.
func (c *Config) DefaultProvider() string {
	if c.Defaults.Provider != "" {
		return c.Defaults.Provider
	}
	if len(c.Providers) == 1 {
		for name := range c.Providers {
			return name
		}
	}
	return ""
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":              "127.0.0.1",
		"server.port":              8082,
		"server.max_request_bytes": int64(32 << 20),
		"server.metrics":           true,
		"log.level":                "info",
		"log.format":               "text",
		"log.exporter":             "none",
		"timeouts.request":         "90s",
		"timeouts.stream_connect":  "30s",
		"streaming.tool_arguments": "json",
	}
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// Path is the TOML file. When empty, DefaultConfigFile is used if it exists.
	Path string
	// DotEnv is loaded into the process environment before reading it. Existing
	// variables are never overridden. Missing files are ignored.
	DotEnv string
	// Environ returns the environment; os.Environ when nil.
	Environ func() []string
	// Overrides are applied last, keyed like "server.port".
	Overrides map[string]any
}

// Load reads the configuration from defaults, the TOML file, the environment and
// overrides, in increasing precedence, and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	if opts.DotEnv != "" {
		if err := godotenv.Load(opts.DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.DotEnv, err)
		}
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := opts.Path
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyBaseURLOverrides(&cfg, lookupIn(environ()))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnv maps VDM_PROVIDERS__OPENAI__BASE_URL to providers.openai.base_url.
// List-valued keys accept comma-separated values.
func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if strings.HasSuffix(key, ".api_keys") {
		return key, tokensource.ParseKeys(value)
	}
	return key, value
}

// applyBaseURLOverrides honors <NAME>_BASE_URL for each provider.
func applyBaseURLOverrides(cfg *Config, lookup func(string) (string, bool)) {
	for name, p := range cfg.Providers {
		if v, ok := lookup(tokensource.EnvVariable(name, "BASE_URL")); ok && strings.TrimSpace(v) != "" {
			p.BaseURL = strings.TrimSpace(v)
			cfg.Providers[name] = p
		}
	}
}

func lookupIn(environ []string) func(string) (string, bool) {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if p.APIKeySource == "" {
			p.APIKeySource = string(tokensource.StorageTypeConfig)
			c.Providers[name] = p
		}
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Timeouts.Request < 0 || c.Timeouts.StreamConnect < 0 {
		return errors.New("invalid config: timeouts cannot be negative")
	}

	def := c.DefaultProvider()
	if def == "" {
		return errors.New("invalid config: defaults.provider is required when more than one provider is configured")
	}
	if _, ok := c.Providers[def]; !ok {
		names := make([]string, 0, len(c.Providers))
		for name := range c.Providers {
			names = append(names, name)
		}
		slices.Sort(names)
		return fmt.Errorf("invalid config: default provider %q is not configured (available: %s)", def, strings.Join(names, ", "))
	}
	return nil
}

// providerConfig returns the provider config for name, without keys.
func (c *Config) providerConfig(name string) provider.Config {
	p := c.Providers[name]
	return provider.Config{
		Name:                 name,
		Kind:                 provider.Kind(p.Kind),
		BaseURL:              p.BaseURL,
		AnthropicVersion:     p.AnthropicVersion,
		Aliases:              p.Aliases,
		RequestTimeout:       c.Timeouts.Request,
		StreamConnectTimeout: c.Timeouts.StreamConnect,
	}
}
