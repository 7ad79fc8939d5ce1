// ABOUTME: Entry point for coven-bot, a multi-session Matrix command bot
// ABOUTME: Wires sessions, permission engine, deduplicator, handlers and hot reload

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-bot/internal/builtins"
	"github.com/2389/coven-bot/internal/config"
	"github.com/2389/coven-bot/internal/dedupe"
	"github.com/2389/coven-bot/internal/permission"
	"github.com/2389/coven-bot/internal/plugins"
	"github.com/2389/coven-bot/internal/server"
	"github.com/2389/coven-bot/internal/session"
	"github.com/2389/coven-bot/internal/store"
	"github.com/2389/coven-bot/internal/transport"
	"github.com/2389/coven-bot/internal/ttlcache"
	"github.com/2389/coven-bot/internal/watcher"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        | |__   ___ | |_
 / __/ _ \ \ / / _ \ '_ \ _____ | '_ \ / _ \| __|
| (_| (_) \ V /  __/ | | |_____|| |_) | (_) | |_
 \___\___/ \_/ \___|_| |_|      |_.__/ \___/ \__|
`

// getConfigPath returns the path to the bot config file.
// Priority: COVEN_BOT_CONFIG env var > XDG_CONFIG_HOME/coven/bot.yaml > ~/.config/coven/bot.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_BOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bot.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "bot.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-bot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the bot")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check bot health")
		fmt.Println("  stats    Show dispatcher statistics")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "stats":
		err = runStats(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Handlers:  %s\n", cfg.Plugins.Dir)
	green.Print("    ▶ ")
	fmt.Printf("Prefixes:  %s\n", strings.Join(cfg.Commands.Prefixes, " "))
	for _, s := range cfg.Sessions {
		green.Print("    ▶ ")
		fmt.Printf("Session:   %s ", s.ID)
		gray.Printf("(%s)\n", s.UserID)
	}
	fmt.Println()

	logger.Info("starting coven-bot",
		"config", configPath,
		"sessions", len(cfg.Sessions),
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	sessions := transport.NewSessions()
	var listeners []*transport.MatrixTransport
	for _, s := range cfg.Sessions {
		mt, err := transport.NewMatrixTransport(transport.MatrixConfig{
			Homeserver:   s.Homeserver,
			UserID:       s.UserID,
			AccessToken:  s.AccessToken,
			AllowedRooms: s.AllowedRooms,
		}, logger)
		if err != nil {
			return fmt.Errorf("session %s: %w", s.ID, err)
		}
		defer mt.Close()
		sessions.Add(s.ID, mt)
		listeners = append(listeners, mt)

		if s.Owner != "" {
			if err := st.UpsertAccount(ctx, &store.Account{Phone: s.Owner, SessionID: s.ID}); err != nil {
				return fmt.Errorf("seeding owner for session %s: %w", s.ID, err)
			}
		}
	}

	engine := permission.NewEngine(sessions, st, permission.Options{
		Cache: ttlcache.Options{
			TTL:       cfg.Cache.TTL,
			HighWater: cfg.Cache.HighWater,
			LowWater:  cfg.Cache.LowWater,
		},
		InvalidationInterval: cfg.Cache.InvalidationInterval,
	}, logger)
	defer engine.Close()

	dedup := dedupe.New(dedupe.Options{
		LockTimeout:   cfg.Dedup.LockTimeout,
		Retention:     cfg.Dedup.Retention,
		SweepInterval: cfg.Dedup.SweepInterval,
		MaxRecords:    cfg.Dedup.MaxRecords,
	}, logger)
	defer dedup.Close()

	registry := plugins.NewRegistry(logger)
	dispatcher := plugins.NewDispatcher(plugins.DispatcherConfig{
		Registry:              registry,
		Engine:                engine,
		Dedup:                 dedup,
		Sessions:              sessions,
		Settings:              st,
		Logger:                logger,
		DedupDenialCategories: cfg.Dispatcher.DedupDenialCategories,
		RetryCategory:         cfg.Dispatcher.RetryCategory,
		MaxAttempts:           cfg.Dispatcher.MaxAttempts,
		RetryBackoff:          cfg.Dispatcher.RetryBackoff,
		ExecTimeout:           cfg.Dispatcher.ExecTimeout,
		NotifyFeatureDisabled: cfg.Dispatcher.NotifyFeatureDisabled,
		ModeCache:             ttlcache.Options{TTL: cfg.Dispatcher.ModeCacheTTL},
	})
	defer dispatcher.Close()

	catalog := builtins.Catalog(builtins.Deps{
		Store:    st,
		Engine:   engine,
		Modes:    dispatcher,
		Registry: registry,
	})
	reloader := plugins.NewReloader(registry, plugins.NewManifestLoader(catalog), cfg.Plugins.QuietPeriod, logger)
	defer reloader.Close()

	if err := os.MkdirAll(cfg.Plugins.Dir, 0755); err != nil {
		return fmt.Errorf("creating handler directory: %w", err)
	}
	if _, err := reloader.LoadDir(cfg.Plugins.Dir); err != nil {
		logger.Warn("some handlers failed to load", "error", err)
	}

	srv := server.New(server.Config{
		HTTPAddr: cfg.Server.HTTPAddr,
		GRPCAddr: cfg.Server.GRPCAddr,
		Stats:    dispatcher,
		Ready:    sessions.Len,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.New(cfg.Plugins.Dir, reloader, cfg.Plugins.PollInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	for i, s := range cfg.Sessions {
		w := session.NewWorker(session.Config{
			SessionID:   s.ID,
			Prefixes:    cfg.Commands.Prefixes,
			Concurrency: cfg.Commands.Concurrency,
			Listener:    listeners[i],
			Dispatcher:  dispatcher,
			Logger:      logger,
		})
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	srv.SetReady(true)

	err = g.Wait()
	logger.Info("coven-bot stopped", "stats", dispatcher.GetStats())
	return err
}

func runHealth(ctx context.Context) error {
	body, err := getEndpoint(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Println(string(body))
	return nil
}

func runStats(ctx context.Context) error {
	body, err := getEndpoint(ctx, "/stats")
	if err != nil {
		return fmt.Errorf("fetching stats: %w", err)
	}

	var stats plugins.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return fmt.Errorf("decoding stats: %w", err)
	}
	printStats(os.Stdout, stats)
	return nil
}

func printStats(w io.Writer, s plugins.Stats) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintln(w, "  Dispatcher")
	cyan.Fprintln(w, "  ----------")
	fmt.Fprintf(w, "  Handlers:    %d (%d commands, %d scanners)\n", s.TotalHandlers, s.TotalCommands, s.TotalScanners)
	fmt.Fprintf(w, "  Cache:       %d entries\n", s.CacheSize)
	fmt.Fprintf(w, "  Locks:       %d\n", s.LockCount)
	fmt.Fprintf(w, "  Dispatched:  %d\n", s.Dispatched)
	fmt.Fprintf(w, "  Executed:    %d\n", s.Executed)
	fmt.Fprintf(w, "  Denied:      %d\n", s.Denied)
	fmt.Fprintf(w, "  Failed:      %d\n", s.Failed)
	fmt.Fprintf(w, "  Scanned:     %d\n", s.Scanned)
}

// getEndpoint fetches a path from the running bot's HTTP server.
func getEndpoint(ctx context.Context, path string) ([]byte, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return nil, fmt.Errorf("server.http_addr is not configured")
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-bot configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Matrix Session ---")
	homeserver := prompt(reader, "Homeserver URL", "https://matrix.org")
	userID := prompt(reader, "Bot user ID", "@coven-bot:matrix.org")
	owner := prompt(reader, "Owner user ID", "")

	fmt.Println("\n--- Storage ---")
	dbPath := prompt(reader, "SQLite database path", "./data/coven-bot.db")
	pluginsDir := prompt(reader, "Handler manifest directory", "./plugins")

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8090")

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-bot configuration\n")
	cfg.WriteString("# Generated by coven-bot init\n\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  - id: \"main\"\n")
	cfg.WriteString(fmt.Sprintf("    homeserver: %q\n", homeserver))
	cfg.WriteString(fmt.Sprintf("    user_id: %q\n", userID))
	cfg.WriteString("    access_token: \"${MATRIX_ACCESS_TOKEN}\"\n")
	if owner != "" {
		cfg.WriteString(fmt.Sprintf("    owner: %q\n", owner))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("plugins:\n")
	cfg.WriteString(fmt.Sprintf("  dir: %q\n", pluginsDir))
	cfg.WriteString("  quiet_period: \"1s\"\n\n")

	cfg.WriteString("commands:\n")
	cfg.WriteString("  prefixes: [\"!\"]\n\n")

	cfg.WriteString("dedup:\n")
	cfg.WriteString("  lock_timeout: \"15s\"\n")
	cfg.WriteString("  retention: \"30s\"\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the bot:")
	fmt.Println("  MATRIX_ACCESS_TOKEN=... coven-bot serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
