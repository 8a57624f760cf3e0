// Command server runs the flowgen workflow API.
//
// Configuration is read from a YAML file (see -config) with environment
// overrides; run with FLOWGEN_DEBUG=all for category debug logs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/flowgen/pkg/auth"
	"github.com/rhuss/flowgen/pkg/auth/apikey"
	"github.com/rhuss/flowgen/pkg/auth/noop"
	"github.com/rhuss/flowgen/pkg/capability"
	"github.com/rhuss/flowgen/pkg/config"
	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/engine"
	"github.com/rhuss/flowgen/pkg/executor"
	"github.com/rhuss/flowgen/pkg/generator"
	"github.com/rhuss/flowgen/pkg/provider"
	"github.com/rhuss/flowgen/pkg/provider/anthropic"
	"github.com/rhuss/flowgen/pkg/provider/openaicompat"
	"github.com/rhuss/flowgen/pkg/sandbox"
	"github.com/rhuss/flowgen/pkg/sandbox/kubernetes"
	"github.com/rhuss/flowgen/pkg/storage/memory"
	"github.com/rhuss/flowgen/pkg/transport"
	transporthttp "github.com/rhuss/flowgen/pkg/transport/http"
	transportmcp "github.com/rhuss/flowgen/pkg/transport/mcp"
	"github.com/rhuss/flowgen/pkg/validator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	debug.Init(debug.Options{})

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := memory.New()
	defer store.Close()

	prov, err := newProvider(cfg.Generator)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	if prov != nil {
		defer prov.Close()
	} else {
		slog.Warn("no generator api key configured, workflow generation is unavailable")
	}

	syntax, err := validator.NewSyntaxChecker(cfg.Validator.Syntax, cfg.Validator.Python)
	if err != nil {
		return fmt.Errorf("creating validator: %w", err)
	}
	gen := generator.New(prov, validator.New(syntax), generator.Config{
		Model:     cfg.Generator.Model,
		MaxTokens: cfg.Generator.MaxTokens,
	})

	runner, err := newRunner(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("creating %s sandbox: %w", cfg.Sandbox.Runtime, err)
	}

	var opts []transporthttp.ServerOption

	var tokens executor.TokenIssuer
	capabilityURL := ""
	if cfg.Capability.Enabled() {
		issuer, err := capability.NewIssuer([]byte(cfg.Capability.SigningKey))
		if err != nil {
			return fmt.Errorf("creating capability issuer: %w", err)
		}
		client := capability.NewClient(capability.ClientConfig{
			BaseURL:      cfg.Capability.BaseURL,
			APIKey:       cfg.Capability.APIKey,
			PollInterval: cfg.Capability.PollInterval,
			PollTimeout:  cfg.Capability.PollTimeout,
		})
		gateway := capability.NewGateway(client, issuer)
		opts = append(opts, transporthttp.WithHandler("/capabilities/", http.StripPrefix("/capabilities", gateway)))
		tokens = issuer
		capabilityURL = gatewayURL(cfg)
		slog.Info("capability gateway enabled", "upstream", cfg.Capability.BaseURL, "url", capabilityURL)
	} else {
		slog.Warn("no capability api key configured, programs run without platform access")
	}

	exec, err := executor.New(store, runner, tokens, executor.Config{
		Timeout:       cfg.Executor.Timeout,
		MaxConcurrent: cfg.Executor.MaxConcurrent,
		CapabilityURL: capabilityURL,
	})
	if err != nil {
		runner.Close()
		return fmt.Errorf("creating executor: %w", err)
	}

	eng, err := engine.New(gen, exec, store, engine.Config{MaxWorkflowSteps: cfg.Executor.MaxWorkflowSteps})
	if err != nil {
		exec.Close()
		return fmt.Errorf("creating engine: %w", err)
	}

	if cfg.MCP.Enabled {
		mcpServer := transportmcp.NewServer(eng, transportmcp.Options{Version: version, Debug: cfg.Server.Debug})
		opts = append(opts, transporthttp.WithHandler(cfg.MCP.Path, transportmcp.NewHandler(mcpServer)))
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithHandler("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()))
	}
	opts = append(opts, transporthttp.WithMiddleware(newAuthMiddleware(cfg)))

	srv := transporthttp.NewServer(eng, store, append([]transporthttp.ServerOption{
		transporthttp.WithAddr(cfg.Server.Addr()),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithDebug(cfg.Server.Debug),
		transporthttp.WithVersion(version),
	}, opts...)...)

	slog.Info("flowgen starting",
		"version", version,
		"addr", cfg.Server.Addr(),
		"generator", cfg.Generator.Provider,
		"sandbox", runner.Name(),
		"auth", cfg.Auth.Type,
		"mcp", cfg.MCP.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		// Cancels running executions once shutdown starts, so blocked
		// execute requests return before the HTTP shutdown deadline.
		<-gctx.Done()
		return exec.Close()
	})
	return g.Wait()
}

// newProvider returns nil when no API key is configured.
func newProvider(cfg config.GeneratorConfig) (provider.Provider, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "anthropic":
		p, err := anthropic.New(anthropic.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return provider.Instrument(p), nil
	case "openai":
		p, err := openaicompat.New(openaicompat.Config{
			Name:    "openai",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return provider.Instrument(p), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newRunner(cfg config.SandboxConfig) (sandbox.Runner, error) {
	switch cfg.Runtime {
	case "local":
		return sandbox.NewLocalRunner(sandbox.LocalConfig{
			Python:         cfg.Local.Python,
			TempDir:        cfg.Local.TempDir,
			PassEnv:        cfg.Local.PassEnv,
			MaxMemoryMB:    cfg.Local.MaxMemoryMB,
			MaxOutputBytes: cfg.Local.MaxOutputBytes,
			Network:        cfg.Local.Network,
		})
	case "docker":
		return sandbox.NewDockerRunner(sandbox.DockerConfig{
			Image:     cfg.Docker.Image,
			Network:   cfg.Docker.Network,
			MemoryMB:  cfg.Docker.MemoryMB,
			PidsLimit: cfg.Docker.PidsLimit,
			CPUs:      cfg.Docker.CPUs,
		})
	case "remote":
		return sandbox.NewRemoteRunner(sandbox.StaticAcquirer(cfg.Remote.URL), nil), nil
	case "kubernetes":
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, err
		}
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes client config: %w", err)
		}
		c, err := ctrlclient.New(restCfg, ctrlclient.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		acq := kubernetes.NewClaimAcquirer(c, kubernetes.Config{
			Template:     cfg.Kubernetes.Template,
			Namespace:    cfg.Kubernetes.Namespace,
			Port:         cfg.Kubernetes.Port,
			ReadyTimeout: cfg.Kubernetes.ReadyTimeout,
		})
		return sandbox.NewRemoteRunner(acq, nil), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
}

// gatewayURL is the capability gateway as seen from inside an isolate.
// Local subprocesses reach the server on loopback; other runtimes need
// capability.public_url.
func gatewayURL(cfg *config.Config) string {
	base := strings.TrimRight(cfg.Capability.PublicURL, "/")
	if base == "" {
		if cfg.Sandbox.Runtime != "local" {
			slog.Warn("capability.public_url is not set, isolates may not reach the gateway",
				"runtime", cfg.Sandbox.Runtime)
		}
		if cfg.Sandbox.Runtime == "local" && cfg.Sandbox.Local.Network == "none" {
			slog.Warn("sandbox.local.network is \"none\", programs cannot reach the capability gateway")
		}
		base = "http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port)
	}
	return base + "/capabilities"
}

func newAuthMiddleware(cfg *config.Config) transport.Middleware {
	chain := &auth.Chain{DefaultDecision: auth.No}
	switch cfg.Auth.Type {
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			keys = append(keys, apikey.Key{
				Key:      k.Key,
				Identity: auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier},
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(keys)}
	default:
		chain.Authenticators = []auth.Authenticator{noop.Authenticator{}}
	}

	var limiter auth.RateLimiter
	if rl := cfg.Auth.RateLimit; rl.DefaultRPM > 0 || len(rl.Tiers) > 0 {
		limiter = auth.NewLimiter(rl.Tiers, rl.DefaultRPM)
	}

	bypass := []string{"/", "/healthz", "/capabilities/"}
	if cfg.Observability.Metrics.Enabled {
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	return auth.Middleware(chain, limiter, bypass)
}
