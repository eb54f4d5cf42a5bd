package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/turnstile-ai/turnstile/config"
	"github.com/turnstile-ai/turnstile/conversations"
	"github.com/turnstile-ai/turnstile/credentials"
	"github.com/turnstile-ai/turnstile/llm"
	"github.com/turnstile-ai/turnstile/llm/factory"
	turnstilelogger "github.com/turnstile-ai/turnstile/logger"
	"github.com/turnstile-ai/turnstile/mcp"
	"github.com/turnstile-ai/turnstile/migrations"
	"github.com/turnstile-ai/turnstile/pipeline"
	"github.com/turnstile-ai/turnstile/prefs"
	"github.com/turnstile-ai/turnstile/resolver"
	"github.com/turnstile-ai/turnstile/retry"
	"github.com/turnstile-ai/turnstile/runtime"
	"github.com/turnstile-ai/turnstile/server"
	"github.com/turnstile-ai/turnstile/tools"
	"github.com/turnstile-ai/turnstile/traces"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
		configPath = flag.String("config", "", "Path to config file (overrides default)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := turnstilelogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetServerConfigPath()
	}
	appConfig, err := config.LoadServerConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *addr != "" {
		appConfig.Server.Addr = *addr
	}
	if *dbPath != "" {
		appConfig.DBPath = *dbPath
	}

	logger.Info().
		Str("addr", appConfig.Server.Addr).
		Str("db", appConfig.DBPath).
		Msg("turnstiled starting")

	// ---------------------------
	// 1. Open SQLite + Stores
	// ---------------------------

	db, err := sql.Open("sqlite3", appConfig.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, appConfig.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	conversationStore := conversations.NewStore(db)
	prefStore := prefs.NewStore(db)
	traceStore := traces.NewStore(db, logger)

	// ---------------------------
	// 2. Providers + Resolver
	// ---------------------------

	credStore := credentials.NewConfigStore(appConfig.CredentialKeys())
	providerConfig := appConfig.ProviderConfig()
	fillProviderKeys(providerConfig, credStore, logger)

	enabledProviders := appConfig.LLMProviders
	if len(enabledProviders) == 0 {
		enabledProviders = []string{"anthropic"}
	}
	providerRegistry := llm.NewProviderRegistry(providerConfig, enabledProviders)

	modelResolver := resolver.New(prefStore, logger)
	clientFactory := factory.New(logger)

	// ---------------------------
	// 3. Pipeline Stages
	// ---------------------------

	policy := retry.DefaultPolicy(logger)
	stageTimeout := time.Duration(appConfig.StageTimeout) * time.Second
	stages := pipeline.NewStages(
		modelResolver,
		providerRegistry,
		clientFactory,
		llm.DefaultCapabilityTable(),
		policy,
		stageTimeout,
		logger,
	)

	// ---------------------------
	// 4. Tools
	// ---------------------------

	registry := tools.NewRegistry(logger)
	registry.RegisterFilesystemTools(appConfig.WorkspacePath)
	registry.RegisterSystemTools(appConfig.WorkspacePath)
	registry.RegisterNotificationTools(db)

	if appConfig.RemoteTools.BaseURL != "" {
		caller := tools.NewHTTPRemoteCaller(appConfig.RemoteTools.BaseURL)
		caller.AuthToken = appConfig.RemoteTools.AuthToken
		registerRemoteTools(registry, caller)
	}

	mcpManager := mcp.NewManager(logger)
	if len(appConfig.MCPServers) > 0 {
		mcpCtx, cancelMCP := context.WithTimeout(context.Background(), 30*time.Second)
		if err := mcpManager.Connect(mcpCtx, appConfig.MCPServers, registry); err != nil {
			logger.Warn().Err(err).Msg("MCP server registration had failures")
		}
		cancelMCP()
	}
	defer mcpManager.Close()

	toolTimeout := time.Duration(appConfig.ToolTimeout) * time.Second
	executor := tools.NewExecutor(registry, toolTimeout, logger)

	// ---------------------------
	// 5. Orchestrator + Background Jobs
	// ---------------------------

	orchestrator := pipeline.NewOrchestrator(stages, executor, registry, logger)

	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	janitor, err := runtime.NewJanitor(traceStore, appConfig.Traces.PurgeSchedule, appConfig.TraceRetention(), logger)
	if err != nil {
		return fmt.Errorf("failed to create trace janitor: %w", err)
	}
	go janitor.Start(janitorCtx)

	// ---------------------------
	// 6. HTTP Server
	// ---------------------------

	srv := server.New(server.Config{
		Addr:   appConfig.Server.Addr,
		Logger: logger,
	}, orchestrator, conversationStore, traceStore, prefStore, modelResolver)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}

	logger.Info().Msg("turnstiled stopped")
	return nil
}

// fillProviderKeys backfills provider API keys from the credential store so
// env-only deployments work without a config file.
func fillProviderKeys(cfg *llm.ProviderConfig, store credentials.Store, logger zerolog.Logger) {
	ctx := context.Background()
	if cfg.AnthropicAPIKey == "" {
		if key, err := store.APIKey(ctx, "", "anthropic"); err == nil {
			cfg.AnthropicAPIKey = key
		}
	}
	if cfg.OpenAIAPIKey == "" {
		if key, err := store.APIKey(ctx, "", "openai"); err == nil {
			cfg.OpenAIAPIKey = key
		}
	}
	if cfg.GeminiAPIKey == "" {
		if key, err := store.APIKey(ctx, "", "gemini"); err == nil {
			cfg.GeminiAPIKey = key
		}
	}
	logger.Debug().
		Bool("anthropic", cfg.AnthropicAPIKey != "").
		Bool("openai", cfg.OpenAIAPIKey != "").
		Bool("gemini", cfg.GeminiAPIKey != "").
		Msg("Provider credentials resolved")
}

// registerRemoteTools registers the tools served by the remote integration
// backend.
func registerRemoteTools(registry *tools.Registry, caller tools.RemoteCaller) {
	registry.RegisterRemoteTool(llm.ToolSpec{
		Name:        "web_search",
		Description: "Search the web and return relevant results. Use this for questions about current events or information you do not know.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (default 5)",
				},
			},
			Required: []string{"query"},
		},
	}, caller)

	registry.RegisterRemoteTool(llm.ToolSpec{
		Name:        "fetch_url",
		Description: "Fetch the contents of a URL and return the page text.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to fetch",
				},
			},
			Required: []string{"url"},
		},
	}, caller)
}
