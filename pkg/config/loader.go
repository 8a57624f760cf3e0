package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/flowgen/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, FLOWGEN_CONFIG env, ./config.yaml, /etc/flowgen/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. FLOWGEN_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/flowgen/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("FLOWGEN_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/flowgen/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// Unknown keys are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envSource applies one environment variable when it is set.
type envSource struct {
	name  string
	apply func(cfg *Config, v string) error
}

func str(set func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		set(cfg, v)
		return nil
	}
}

func integer(set func(*Config, int)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func boolean(set func(*Config, bool)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(cfg, b)
		return nil
	}
}

func duration(set func(*Config, time.Duration)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(cfg, d)
		return nil
	}
}

// envSources lists the environment overrides in application order. The
// plain names come first so that a FLOWGEN_ variable wins when both are
// set.
var envSources = []envSource{
	{"HOST", str(func(c *Config, v string) { c.Server.Host = v })},
	{"PORT", integer(func(c *Config, n int) { c.Server.Port = n })},
	{"DEBUG", str(func(c *Config, v string) { c.Server.Debug = strings.EqualFold(v, "true") || v == "1" })},
	{"ANTHROPIC_API_KEY", str(func(c *Config, v string) { c.Generator.APIKey = v })},
	{"LIGHTON_API_KEY", str(func(c *Config, v string) { c.Capability.APIKey = v })},

	{"FLOWGEN_HOST", str(func(c *Config, v string) { c.Server.Host = v })},
	{"FLOWGEN_PORT", integer(func(c *Config, n int) { c.Server.Port = n })},
	{"FLOWGEN_SERVER_DEBUG", boolean(func(c *Config, b bool) { c.Server.Debug = b })},

	{"FLOWGEN_GENERATOR_PROVIDER", str(func(c *Config, v string) { c.Generator.Provider = v })},
	{"FLOWGEN_GENERATOR_BASE_URL", str(func(c *Config, v string) { c.Generator.BaseURL = v })},
	{"FLOWGEN_GENERATOR_API_KEY", str(func(c *Config, v string) { c.Generator.APIKey = v })},
	{"FLOWGEN_GENERATOR_MODEL", str(func(c *Config, v string) { c.Generator.Model = v })},
	{"FLOWGEN_GENERATOR_MAX_TOKENS", integer(func(c *Config, n int) { c.Generator.MaxTokens = n })},

	{"FLOWGEN_VALIDATOR_SYNTAX", str(func(c *Config, v string) { c.Validator.Syntax = v })},

	{"FLOWGEN_EXECUTOR_TIMEOUT", duration(func(c *Config, d time.Duration) { c.Executor.Timeout = d })},
	{"FLOWGEN_EXECUTOR_MAX_CONCURRENT", integer(func(c *Config, n int) { c.Executor.MaxConcurrent = n })},

	{"FLOWGEN_SANDBOX_RUNTIME", str(func(c *Config, v string) { c.Sandbox.Runtime = v })},
	{"FLOWGEN_SANDBOX_LOCAL_INSECURE", boolean(func(c *Config, b bool) { c.Sandbox.Local.Insecure = b })},
	{"FLOWGEN_SANDBOX_LOCAL_NETWORK", str(func(c *Config, v string) { c.Sandbox.Local.Network = v })},
	{"FLOWGEN_SANDBOX_REMOTE_URL", str(func(c *Config, v string) { c.Sandbox.Remote.URL = v })},
	{"FLOWGEN_SANDBOX_DOCKER_IMAGE", str(func(c *Config, v string) { c.Sandbox.Docker.Image = v })},
	{"FLOWGEN_SANDBOX_K8S_NAMESPACE", str(func(c *Config, v string) { c.Sandbox.Kubernetes.Namespace = v })},
	{"FLOWGEN_SANDBOX_K8S_TEMPLATE", str(func(c *Config, v string) { c.Sandbox.Kubernetes.Template = v })},

	{"FLOWGEN_CAPABILITY_BASE_URL", str(func(c *Config, v string) { c.Capability.BaseURL = v })},
	{"FLOWGEN_CAPABILITY_API_KEY", str(func(c *Config, v string) { c.Capability.APIKey = v })},
	{"FLOWGEN_CAPABILITY_PUBLIC_URL", str(func(c *Config, v string) { c.Capability.PublicURL = v })},
	{"FLOWGEN_CAPABILITY_SIGNING_KEY", str(func(c *Config, v string) { c.Capability.SigningKey = v })},

	{"FLOWGEN_AUTH_TYPE", str(func(c *Config, v string) { c.Auth.Type = v })},
	{"FLOWGEN_API_KEYS", func(c *Config, v string) error {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			return err
		}
		c.Auth.APIKeys = keys
		return nil
	}},
	{"FLOWGEN_RATE_LIMIT_RPM", integer(func(c *Config, n int) { c.Auth.RateLimit.DefaultRPM = n })},

	{"FLOWGEN_MCP_ENABLED", boolean(func(c *Config, b bool) { c.MCP.Enabled = b })},
	{"FLOWGEN_METRICS_ENABLED", boolean(func(c *Config, b bool) { c.Observability.Metrics.Enabled = b })},
}

// applyEnvOverrides maps environment variables to config fields. A set
// variable that does not parse is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	for _, src := range envSources {
		v, ok := os.LookupEnv(src.name)
		if !ok || v == "" {
			continue
		}
		if err := src.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", src.name, err)
		}
		debug.Log("config", "environment override", "var", src.name)
	}
	return nil
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. A file is only read when its value field is empty; the
// content is trimmed of surrounding whitespace.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"generator.api_key_file", cfg.Generator.APIKeyFile, &cfg.Generator.APIKey},
		{"capability.api_key_file", cfg.Capability.APIKeyFile, &cfg.Capability.APIKey},
		{"capability.signing_key_file", cfg.Capability.SigningKeyFile, &cfg.Capability.SigningKey},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, struct {
			name  string
			file  string
			value *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
