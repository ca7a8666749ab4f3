// Command agentgwd is the daemon entrypoint: loads configuration,
// assembles the Service, and serves the HTTP façade until signalled to
// stop. Grounded on the teacher's cmd/hector/{main,serve}.go: a kong
// CLI root, a context cancelled on SIGINT/SIGTERM, and component
// construction in dependency order before the server starts accepting
// traffic.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentgw/internal/agentgwerr"
	"github.com/kadirpekel/agentgw/internal/config"
	"github.com/kadirpekel/agentgw/internal/httpapi"
	"github.com/kadirpekel/agentgw/internal/llm"
	"github.com/kadirpekel/agentgw/internal/logging"
	"github.com/kadirpekel/agentgw/internal/scheduler"
	"github.com/kadirpekel/agentgw/internal/service"
	"github.com/kadirpekel/agentgw/internal/skill"
	"github.com/kadirpekel/agentgw/internal/store"
	"github.com/kadirpekel/agentgw/internal/tool"
	"github.com/kadirpekel/agentgw/internal/tools"
	"github.com/kadirpekel/agentgw/internal/vectorstore"
	"github.com/kadirpekel/agentgw/internal/webhook"
)

// CLI is the root command set.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the daemon."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd prints the daemon version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("agentgwd 0.1.0")
	return nil
}

// ServeCmd starts the daemon.
type ServeCmd struct {
	Config string `short:"c" help:"Path to config file." default:"agentgw.yaml" type:"path"`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	svc, sched, dispatcher, err := build(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer dispatcher.Close()

	sched.Start()
	defer sched.Stop()

	srv := httpapi.New(svc,
		httpapi.WithAPIKey(cfg.Server.APIKey),
		httpapi.WithLogger(logger),
		httpapi.WithHealthInfo(cfg.LLMs[cfg.DefaultLLM].Type, cfg.LLMs[cfg.DefaultLLM].Model),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

// build assembles every component in dependency-order, per spec.md
// §2's component list (leaves first).
func build(cfg *config.Config, logger *slog.Logger) (*service.Service, *scheduler.Scheduler, *webhook.Dispatcher, error) {
	messages, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.MaxOpenConns)
	if err != nil {
		return nil, nil, nil, &agentgwerr.ConfigError{Section: "store", Message: "failed to open message store", Err: err}
	}

	emb, err := vectorstore.NewEmbedderFromConfig(cfg.Vector.Embedder)
	if err != nil {
		return nil, nil, nil, &agentgwerr.ConfigError{Section: "vector.embedder", Message: "failed to build embedder", Err: err}
	}
	vectors, err := vectorstore.New(cfg.Vector, emb)
	if err != nil {
		return nil, nil, nil, &agentgwerr.ConfigError{Section: "vector", Message: "failed to build vector store", Err: err}
	}

	registry := tool.NewRegistry()
	registry.Register(tools.ReadFileSpec("./", 0))
	registry.Register(tools.WebRequestSpec(30*time.Second, 0))

	for _, mc := range cfg.MCPServers {
		src, err := tools.NewMCPSource(tools.MCPServerConfig{
			Name: mc.Name, Command: mc.Command, Args: mc.Args, Env: mc.Env, Filter: mc.Filter,
		})
		if err != nil {
			return nil, nil, nil, &agentgwerr.ConfigError{Section: "mcp_servers." + mc.Name, Message: "failed to build MCP source", Err: err}
		}
		specs, err := src.Specs(context.Background())
		if err != nil {
			return nil, nil, nil, &agentgwerr.ConfigError{Section: "mcp_servers." + mc.Name, Message: "failed to discover MCP tools", Err: err}
		}
		for _, spec := range specs {
			registry.Register(spec)
		}
	}

	providers := make(map[string]llm.Provider, len(cfg.LLMs))
	for name, pc := range cfg.LLMs {
		p, err := llm.New(pc)
		if err != nil {
			return nil, nil, nil, &agentgwerr.ConfigError{Section: "llms." + name, Message: "failed to build provider", Err: err}
		}
		providers[name] = p
	}

	knownTools := func() []string {
		names := make([]string, 0)
		for _, s := range registry.All() {
			names = append(names, s.Name)
		}
		names = append(names, "delegate_to_agent")
		return names
	}
	loader := skill.NewLoader(cfg.Skills.Dir, knownTools, logger)
	if err := loader.Load(); err != nil {
		return nil, nil, nil, err
	}
	if cfg.Skills.Watch {
		if err := loader.Watch(context.Background()); err != nil {
			logger.Error("skill watch failed to start", "error", err)
		}
	}

	dispatcher := webhook.New(cfg.Webhooks, logger)

	svc := service.New(service.Deps{
		Tools:     registry,
		Skills:    loader,
		Messages:  messages,
		Vectors:   vectors,
		Providers: providers,
		Default:   cfg.DefaultLLM,
		MaxDepth:  cfg.Orchestration.MaxDepth,
		Webhooks:  dispatcher,
		Logger:    logger,
	})

	registry.Register(tools.DelegateToAgentSpec(cfg.Orchestration.MaxDepth, svc.DelegateFunc()))

	sched, err := scheduler.New(cfg.Scheduler, svc, scheduler.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, &agentgwerr.ConfigError{Section: "scheduler", Message: "failed to build scheduler", Err: err}
	}
	svc.SetScheduler(sched)

	return svc, sched, dispatcher, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentgwd"),
		kong.Description("Local agent-orchestration daemon."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
