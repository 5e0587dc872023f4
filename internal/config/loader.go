package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the LLM provider names the registry knows how to
// construct. Used by [Validate] to reject typos early.
var ValidProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment-provided secrets onto cfg:
//
//   - DATABASE_URL overrides database.url
//   - CRON_SECRET overrides server.cron_secret
//   - <NAME>_API_KEY fills a provider entry's empty api_key
//     (e.g., OPENAI_API_KEY, ANTHROPIC_API_KEY)
//
// File values win over the environment only for provider API keys; the two
// top-level secrets always prefer the environment so deployments can rotate
// them without editing config files.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Server.CronSecret = v
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].APIKey != "" {
			continue
		}
		envKey := strings.ToUpper(cfg.Providers[i].Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns an
// error listing the first failure found per field.
func Validate(cfg *Config) error {
	var errs []string

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Sprintf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Database.URL == "" {
		errs = append(errs, "database.url is required (or set DATABASE_URL)")
	}

	seen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, prefix+".name is required")
			continue
		}
		if !validProviderName(p.Name) {
			errs = append(errs, fmt.Sprintf("%s.name %q is unknown; valid values: %s", prefix, p.Name, strings.Join(ValidProviderNames, ", ")))
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Sprintf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		if p.Model == "" {
			errs = append(errs, prefix+".model is required")
		}
	}

	if cfg.Sim.MoveChance < 0 || cfg.Sim.MoveChance > 1 {
		errs = append(errs, fmt.Sprintf("sim.move_chance %.2f is out of range [0, 1]", cfg.Sim.MoveChance))
	}
	if cfg.Sim.TemperatureMin > cfg.Sim.TemperatureMax {
		errs = append(errs, fmt.Sprintf("sim.temperature_min %.2f exceeds sim.temperature_max %.2f", cfg.Sim.TemperatureMin, cfg.Sim.TemperatureMax))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validProviderName(name string) bool {
	for _, v := range ValidProviderNames {
		if v == name {
			return true
		}
	}
	return false
}
