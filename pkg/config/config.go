// Package config provides unified configuration for the flowgen server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (FLOWGEN_ prefix and the plain
//     names HOST, PORT, DEBUG, ANTHROPIC_API_KEY, LIGHTON_API_KEY)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the flowgen server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Generator     GeneratorConfig     `yaml:"generator"`
	Validator     ValidatorConfig     `yaml:"validator"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`             // default: "0.0.0.0"
	Port            int           `yaml:"port"`             // default: 8000
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 10m
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
	Debug           bool          `yaml:"debug"`            // expose error details
}

// GeneratorConfig selects and configures the code generation backend.
type GeneratorConfig struct {
	Provider   string        `yaml:"provider"` // "anthropic" or "openai", default: "anthropic"
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"` // empty disables generation
	APIKeyFile string        `yaml:"api_key_file"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"` // default: 4000
	Timeout    time.Duration `yaml:"timeout"`    // default: 120s
}

// ValidatorConfig holds generated-code validation settings.
type ValidatorConfig struct {
	Syntax string `yaml:"syntax"` // "lexical", "interpreter" or "auto", default: "auto"
	Python string `yaml:"python"` // default: "python3"
}

// ExecutorConfig holds execution settings.
type ExecutorConfig struct {
	Timeout          time.Duration `yaml:"timeout"`            // default: 300s
	MaxConcurrent    int           `yaml:"max_concurrent"`     // default: 4
	MaxWorkflowSteps int           `yaml:"max_workflow_steps"` // default: 50, advisory
}

// SandboxConfig selects the isolation runtime.
type SandboxConfig struct {
	Runtime    string                  `yaml:"runtime"` // "docker", "local", "remote" or "kubernetes", default: "docker"
	Local      LocalSandboxConfig      `yaml:"local"`
	Docker     DockerSandboxConfig     `yaml:"docker"`
	Remote     RemoteSandboxConfig     `yaml:"remote"`
	Kubernetes KubernetesSandboxConfig `yaml:"kubernetes"`
}

// LocalSandboxConfig configures subprocess isolates. Programs share the
// server's file system, so the runtime must be enabled with Insecure.
type LocalSandboxConfig struct {
	Insecure       bool     `yaml:"insecure"`
	Network        string   `yaml:"network"` // "host" or "none", default: "host"
	Python         string   `yaml:"python"`
	TempDir        string   `yaml:"temp_dir"`
	PassEnv        []string `yaml:"pass_env"`
	MaxMemoryMB    int      `yaml:"max_memory_mb"` // default: 512
	MaxOutputBytes int      `yaml:"max_output_bytes"`
}

// DockerSandboxConfig configures container isolates.
type DockerSandboxConfig struct {
	Image     string  `yaml:"image"`
	Network   string  `yaml:"network"`
	MemoryMB  int     `yaml:"memory_mb"`
	PidsLimit int64   `yaml:"pids_limit"`
	CPUs      float64 `yaml:"cpus"`
}

// RemoteSandboxConfig points at a running sandbox server.
type RemoteSandboxConfig struct {
	URL string `yaml:"url"`
}

// KubernetesSandboxConfig configures one SandboxClaim per execution.
type KubernetesSandboxConfig struct {
	Namespace    string        `yaml:"namespace"` // default: "default"
	Template     string        `yaml:"template"`
	Port         int           `yaml:"port"`          // default: 8080
	ReadyTimeout time.Duration `yaml:"ready_timeout"` // default: 2m
}

// CapabilityConfig configures the document platform and the gateway
// that workflow programs call.
type CapabilityConfig struct {
	BaseURL        string        `yaml:"base_url"` // default: "https://paradigm.lighton.ai"
	APIKey         string        `yaml:"api_key"`  // empty disables the gateway
	APIKeyFile     string        `yaml:"api_key_file"`
	PublicURL      string        `yaml:"public_url"` // gateway URL as seen from isolates
	SigningKey     string        `yaml:"signing_key"`
	SigningKeyFile string        `yaml:"signing_key_file"`
	PollInterval   time.Duration `yaml:"poll_interval"` // default: 5s
	PollTimeout    time.Duration `yaml:"poll_timeout"`  // default: 300s
}

// Enabled reports whether the capability gateway should be served.
func (c CapabilityConfig) Enabled() bool {
	return c.APIKey != ""
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none" or "apikey", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // entries for type=apikey
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"`
	Subject     string `yaml:"subject" json:"subject"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// RateLimitConfig sets requests per minute per authenticated subject.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"` // 0 means unlimited
	Tiers      map[string]int `yaml:"tiers"`
}

// MCPConfig holds settings of the MCP endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Generator: GeneratorConfig{
			Provider:  "anthropic",
			MaxTokens: 4000,
			Timeout:   120 * time.Second,
		},
		Validator: ValidatorConfig{
			Syntax: "auto",
			Python: "python3",
		},
		Executor: ExecutorConfig{
			Timeout:          300 * time.Second,
			MaxConcurrent:    4,
			MaxWorkflowSteps: 50,
		},
		Sandbox: SandboxConfig{
			Runtime: "docker",
			Local: LocalSandboxConfig{
				Network:     "host",
				Python:      "python3",
				MaxMemoryMB: 512,
			},
			Kubernetes: KubernetesSandboxConfig{
				Namespace:    "default",
				Port:         8080,
				ReadyTimeout: 2 * time.Minute,
			},
		},
		Capability: CapabilityConfig{
			BaseURL:      "https://paradigm.lighton.ai",
			PollInterval: 5 * time.Second,
			PollTimeout:  300 * time.Second,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}
