// Sagaforge is a local-model chat backend with a sandboxed workspace.
//
// It serves an HTTP API for chatting with an Ollama model that can read
// and write files inside one allowed directory, drive interactive shell
// sessions, and search the web. Configuration is loaded from a YAML
// file discovered automatically (see [config.DefaultSearchPaths]); with
// no config file the built-in defaults are used.
//
// Usage:
//
//	sagaforge serve              Start the API server
//	sagaforge init [dir]         Initialize a working directory with defaults
//	sagaforge version            Print version and build information
//	sagaforge -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/sagaforge/internal/agent"
	"github.com/nugget/sagaforge/internal/api"
	"github.com/nugget/sagaforge/internal/buildinfo"
	"github.com/nugget/sagaforge/internal/config"
	"github.com/nugget/sagaforge/internal/health"
	"github.com/nugget/sagaforge/internal/history"
	"github.com/nugget/sagaforge/internal/llm"
	"github.com/nugget/sagaforge/internal/models"
	"github.com/nugget/sagaforge/internal/sandbox"
	"github.com/nugget/sagaforge/internal/search"
	"github.com/nugget/sagaforge/internal/terminal"
	"github.com/nugget/sagaforge/internal/tools"
)

// main builds the OS-level environment and delegates to [run], keeping
// os.Exit and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Cancelling ctx triggers a graceful
// shutdown. Structured logs go to stdout. Arguments are parsed by hand
// so run can be called concurrently from tests without the flag
// package's globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

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
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
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
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
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
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Sagaforge - local model chat with a sandboxed workspace")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sagaforge [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/sagaforge/config.yaml, /etc/sagaforge/config.yaml")
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Sagaforge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Everything after this point logs at the configured level and
	// format, optionally teed into a log file.
	level, _ := config.ParseLogLevel(cfg.LogLevel) // checked by Validate
	logOut := stdout
	if cfg.LogFile != "" {
		retention := time.Duration(cfg.LogRetentionDays) * 24 * time.Hour
		f, err := config.OpenLogFile(cfg.LogFile, retention, cfg.LogMaxBytes(), cfg.LogBackups)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = io.MultiWriter(stdout, f)
	}
	logger = newLogger(logOut, level, strings.ToLower(cfg.LogFormat))

	if cfgPath == "" {
		cfgPath = "(built-in defaults)"
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"ollama_url", cfg.Models.OllamaURL,
	)

	// SIGINT and SIGTERM cancel the same ctx every background component
	// watches.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Data directory ---
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Workspace sandbox ---
	root := cfg.Workspace.Path
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}
	sb, err := sandbox.New(root, logger)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", root, err)
	}
	logger.Info("workspace sandbox ready", "root", sb.Root())

	// --- Terminal sessions ---
	// New sessions start in the sandbox root as it is at spawn time.
	term := terminal.NewManager(terminal.Config{
		Shell:          cfg.Terminal.Shell,
		Args:           cfg.Terminal.Args,
		Dir:            sb.Root,
		StopGrace:      cfg.Terminal.StopGrace(),
		IdleTimeout:    cfg.Terminal.IdleTimeout(),
		DefaultTimeout: cfg.Terminal.DefaultTimeout(),
		QuietPeriod:    cfg.Terminal.QuietPeriod(),
	}, logger)
	defer term.Close()
	if idle := cfg.Terminal.IdleTimeout(); idle > 0 {
		go term.RunReaper(ctx, min(idle/2, time.Minute))
		logger.Info("terminal idle reaper enabled", "idle_timeout", idle)
	}

	// --- Ollama ---
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	modelSvc := models.NewService(ollama, cfg.Models.Default, logger)

	monitor := health.NewMonitor(logger)
	monitor.Watch(ctx, "ollama", ollama.Ping, health.DefaultSchedule())

	// --- Chat history ---
	dbPath := filepath.Join(cfg.DataDir, "chat_history.db")
	hist, err := history.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open history database %s: %w", dbPath, err)
	}
	defer hist.Close()
	logger.Info("history database opened", "path", dbPath)

	// --- Tools ---
	gate := tools.NewGate(tools.DefaultConfirmTimeout, logger)
	registry := tools.NewRegistry(gate, logger)
	tools.RegisterFileTools(registry, sb)

	if cfg.Search.Tavily.Configured() {
		searchMgr := search.NewManager(search.NewTavily(cfg.Search.Tavily.APIKey, "", logger))
		tools.RegisterSearchTool(registry, searchMgr, cfg.SearchNeedsConfirmation())
		logger.Info("web search enabled", "providers", searchMgr.Providers(), "confirm", cfg.SearchNeedsConfirmation())
	} else {
		logger.Info("web search disabled (no tavily api key)")
	}

	if cfg.Terminal.AgentTools {
		tools.RegisterTerminalTools(registry, term, tools.CommandPolicy{Denied: cfg.Terminal.DeniedCommands}, true)
		logger.Info("terminal tools exposed to agent", "denied_patterns", len(cfg.Terminal.DeniedCommands))
	}
	logger.Info("tools registered", "tools", registry.Names())

	// --- Agent ---
	contextProvider := agent.NewCompositeContextProvider(logger, agent.NewWorkspaceProvider(sb.Root))
	chat := agent.New(agent.Config{
		BaseURL:      ollama.OpenAIBaseURL(),
		Instructions: cfg.Models.Instructions,
		HistoryRuns:  cfg.Models.NumHistoryRuns,
		MaxSteps:     cfg.Models.MaxSteps,
	}, modelSvc, registry, hist, contextProvider, logger)

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
		Chat:      chat,
		Models:    modelSvc,
		History:   hist,
		Workspace: sb,
		Terminals: term,
		Tools:     registry,
		Health:    monitor,
	}, logger)

	// --- Graceful shutdown ---
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown incomplete", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	monitor.Wait()
	logger.Info("Sagaforge stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Any format other than "json" selects text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration. An explicit
// path must exist. When none is given and no file is found in the
// default locations, the built-in defaults are used and the returned
// path is empty. A .env file next to the config is loaded first so its
// variables can be referenced from the YAML.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil && !errors.Is(err, config.ErrNoConfig) {
		return nil, "", err
	}

	if err := config.LoadDotEnv(cfgPath); err != nil {
		return nil, cfgPath, err
	}

	var cfg *config.Config
	if cfgPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(cfgPath); err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}
