package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	switch c.Generator.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("generator.provider must be \"anthropic\" or \"openai\", got %q", c.Generator.Provider))
	}
	if c.Generator.Provider == "openai" && c.Generator.APIKey != "" && c.Generator.BaseURL == "" {
		errs = append(errs, errors.New("generator.base_url is required when generator.provider is \"openai\""))
	}
	if c.Generator.BaseURL != "" {
		errs = append(errs, checkURL("generator.base_url", c.Generator.BaseURL))
	}

	switch c.Validator.Syntax {
	case "lexical", "interpreter", "auto":
	default:
		errs = append(errs, fmt.Errorf("validator.syntax must be \"lexical\", \"interpreter\" or \"auto\", got %q", c.Validator.Syntax))
	}

	if c.Executor.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("executor.timeout must be > 0, got %s", c.Executor.Timeout))
	}
	if c.Executor.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("executor.max_concurrent must be > 0, got %d", c.Executor.MaxConcurrent))
	}

	switch c.Sandbox.Runtime {
	case "docker":
	case "local":
		if !c.Sandbox.Local.Insecure {
			errs = append(errs, errors.New("sandbox.runtime \"local\" does not isolate programs from the server's files; set sandbox.local.insecure to use it"))
		}
		if n := c.Sandbox.Local.Network; n != "host" && n != "none" {
			errs = append(errs, fmt.Errorf("sandbox.local.network must be \"host\" or \"none\", got %q", n))
		}
	case "remote":
		if c.Sandbox.Remote.URL == "" {
			errs = append(errs, errors.New("sandbox.remote.url is required when sandbox.runtime is \"remote\""))
		} else {
			errs = append(errs, checkURL("sandbox.remote.url", c.Sandbox.Remote.URL))
		}
	case "kubernetes":
		if c.Sandbox.Kubernetes.Template == "" {
			errs = append(errs, errors.New("sandbox.kubernetes.template is required when sandbox.runtime is \"kubernetes\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.runtime must be \"local\", \"docker\", \"remote\" or \"kubernetes\", got %q", c.Sandbox.Runtime))
	}

	if c.Capability.Enabled() {
		errs = append(errs, checkURL("capability.base_url", c.Capability.BaseURL))
		if c.Capability.PublicURL != "" {
			errs = append(errs, checkURL("capability.public_url", c.Capability.PublicURL))
		}
		if c.Capability.PollInterval <= 0 || c.Capability.PollTimeout < c.Capability.PollInterval {
			errs = append(errs, fmt.Errorf("capability.poll_timeout (%s) must be >= capability.poll_interval (%s) > 0",
				c.Capability.PollTimeout, c.Capability.PollInterval))
		}
	}
	if n := len(c.Capability.SigningKey); n > 0 && n < 32 {
		errs = append(errs, fmt.Errorf("capability.signing_key must be at least 32 bytes, got %d", n))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, errors.New("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: subject is required", i))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\" or \"apikey\", got %q", c.Auth.Type))
	}

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path must start with \"/\", got %q", c.MCP.Path))
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	return nil
}
