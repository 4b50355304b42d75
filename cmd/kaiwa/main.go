// Kaiwa is a conversational LINE bot backed by an OpenAI-compatible
// model with tool use: weather lookup, web search, page scraping, and
// image generation through a ComfyUI render backend.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	kaiwa serve       Start the webhook server
//	kaiwa version     Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrenhsu/kaiwa/internal/agent"
	"github.com/wrenhsu/kaiwa/internal/api"
	"github.com/wrenhsu/kaiwa/internal/assets"
	"github.com/wrenhsu/kaiwa/internal/bot"
	"github.com/wrenhsu/kaiwa/internal/buildinfo"
	"github.com/wrenhsu/kaiwa/internal/comfy"
	"github.com/wrenhsu/kaiwa/internal/config"
	"github.com/wrenhsu/kaiwa/internal/fetch"
	"github.com/wrenhsu/kaiwa/internal/line"
	"github.com/wrenhsu/kaiwa/internal/reply"
	"github.com/wrenhsu/kaiwa/internal/search"
	"github.com/wrenhsu/kaiwa/internal/session"
	"github.com/wrenhsu/kaiwa/internal/tokens"
	"github.com/wrenhsu/kaiwa/internal/tools"
	"github.com/wrenhsu/kaiwa/internal/weather"
	"github.com/wrenhsu/kaiwa/internal/webhook"
)

// main constructs the OS-level environment and delegates to [run] so
// the startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches the subcommand. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// and our surface is two flags and two commands.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Kaiwa - Conversational LINE bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: kaiwa [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the webhook server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/kaiwa/config.yaml, /etc/kaiwa/config.yaml")
	return nil
}

// runServe boots every component and serves webhooks until SIGINT or
// SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)
	slog.SetDefault(logger)

	logger.Info(buildinfo.String())
	logger.Info("config loaded", "path", cfgPath)

	// --- Session store ---
	store, err := newSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// --- Token budget guard ---
	guard, err := tokens.NewGuard(cfg.Tokens.Limit)
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}

	// --- Tool capabilities ---
	weatherClient := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.APIKey)

	comfyClient := comfy.NewClient(cfg.Comfy.URL, cfg.Comfy.WorkflowPath, logger)
	comfyClient.MaxAttempts = cfg.Comfy.MaxAttempts
	comfyClient.Interval = cfg.PollInterval()

	publisher, err := assets.NewPublisher(assets.Config{
		Endpoint:   cfg.Storage.Endpoint,
		PublicBase: cfg.Storage.PublicBase,
		Bucket:     cfg.Storage.Bucket,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		Region:     cfg.Storage.Region,
		UseSSL:     cfg.Storage.UseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("init asset publisher: %w", err)
	}

	var progress *comfy.ProgressListener
	if cfg.Comfy.Progress {
		progress = comfy.NewProgressListener(cfg.Comfy.URL, comfyClient.ClientID(), logger)
	}
	pipeline := comfy.NewPipeline(comfyClient, publisher, progress, logger)

	searchManager := search.NewManager(cfg.Search.Engine)
	searchManager.Register(search.NewDuckDuckGo(""))
	if cfg.Search.GoogleAPIKey != "" && cfg.Search.GoogleCX != "" {
		searchManager.Register(search.NewGoogle(cfg.Search.GoogleAPIKey, cfg.Search.GoogleCX))
	}

	registry := tools.NewRegistry(tools.Deps{
		Weather:  weatherClient,
		Pipeline: pipeline,
		Search:   searchManager,
		Fetcher:  fetch.New(),
		Logger:   logger,
	})

	// --- Agent and delivery ---
	orchestrator := agent.NewOpenAIOrchestrator(
		cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		cfg.LLM.MaxToolRounds, registry, logger)

	router := reply.NewRouter(cfg.Storage.PublicBase)

	lineClient, err := line.NewClient(cfg.Line.ChannelToken, logger)
	if err != nil {
		return err
	}

	b := bot.New(store, guard, orchestrator, router, logger)
	handler := webhook.NewHandler(cfg.Line.ChannelSecret, b, lineClient, logger)
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, handler, logger)

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Kaiwa stopped")
	return nil
}

// newSessionStore selects the conversation backend from config.
func newSessionStore(cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	opts := session.Options{
		HistoryLength: cfg.Session.HistoryLength,
		TTL:           cfg.SessionTTL(),
		SystemPrompt:  agent.SystemPrompt,
	}

	switch cfg.Session.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		logger.Info("session store ready", "backend", "redis", "addr", cfg.Session.Redis.Addr)
		return session.NewRedisStore(client, opts, logger), nil
	case "sqlite":
		store, err := session.NewSQLiteStore(cfg.Session.SQLitePath, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		logger.Info("session store ready", "backend", "sqlite", "path", cfg.Session.SQLitePath)
		return store, nil
	case "memory":
		logger.Info("session store ready", "backend", "memory")
		return session.NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// newLogger standardizes the slog handler configuration.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
