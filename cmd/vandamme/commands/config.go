package commands

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/vandamme-proxy/vandamme/internal/app"
)

// environ is the environment configuration is read from.
var environ = os.Environ

// flagKeys maps CLI flags to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"log-format":       "log.format",
	"host":             "server.host",
	"port":             "server.port",
	"default-provider": "defaults.provider",
}

// loadConfig reads the configuration with explicitly set flags taking precedence.
func loadConfig(cmd *cli.Command, environ func() []string) (*app.Config, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if !cmd.IsSet(flag) {
			continue
		}
		if flag == "port" {
			overrides[key] = cmd.Int(flag)
		} else {
			overrides[key] = cmd.String(flag)
		}
	}

	return app.Load(app.LoadOptions{
		Path:      cmd.String("config"),
		DotEnv:    cmd.String("env-file"),
		Environ:   environ,
		Overrides: overrides,
	})
}

// configCommand returns the 'config' subcommand for inspecting configuration.
func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the configuration",
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Validate the configuration and exit",
				Action: configCheckAction,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration with API keys redacted",
				Action: configShowAction,
			},
		},
	}
}

func configCheckAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, environ)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "configuration OK: %d provider(s), default %q\n", len(cfg.Providers), cfg.DefaultProvider())
	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		p := cfg.Providers[name]
		fmt.Fprintf(w, "  %s: %s %s (keys from %s)\n", name, p.Kind, p.BaseURL, p.APIKeySource)
	}
	return nil
}

type shownProvider struct {
	Kind             string            `yaml:"kind"`
	BaseURL          string            `yaml:"base_url"`
	APIKeySource     string            `yaml:"api_key_source"`
	APIKeys          int               `yaml:"api_keys,omitempty"`
	AnthropicVersion string            `yaml:"anthropic_version,omitempty"`
	Aliases          map[string]string `yaml:"aliases,omitempty"`
}

func configShowAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, environ)
	if err != nil {
		return err
	}

	providers := make(map[string]shownProvider, len(cfg.Providers))
	for name, p := range cfg.Providers {
		providers[name] = shownProvider{
			Kind:             p.Kind,
			BaseURL:          p.BaseURL,
			APIKeySource:     p.APIKeySource,
			APIKeys:          len(p.APIKeys),
			AnthropicVersion: p.AnthropicVersion,
			Aliases:          p.Aliases,
		}
	}

	out, err := yaml.Marshal(map[string]any{
		"server": map[string]any{
			"address":           cfg.Server.Addr(),
			"max_request_bytes": cfg.Server.MaxRequestBytes,
			"metrics":           cfg.Server.Metrics,
		},
		"log": map[string]any{
			"level":    cfg.Log.Level,
			"format":   cfg.Log.Format,
			"exporter": cfg.Log.Exporter,
		},
		"default_provider": cfg.DefaultProvider(),
		"timeouts": map[string]any{
			"request":        cfg.Timeouts.Request.String(),
			"stream_connect": cfg.Timeouts.StreamConnect.String(),
		},
		"tool_arguments": cfg.Streaming.ToolArguments,
		"providers":      providers,
	})
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = cmd.Root().Writer.Write(out)
	return err
}
