// Command studio is the main entry point for the Routine Studio server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/moche-ai/routine-studio/internal/app"
	"github.com/moche-ai/routine-studio/internal/config"
	"github.com/moche-ai/routine-studio/internal/observe"
)

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	// A .env file in the working directory supplies API keys during development.
	// Real deployments export the variables directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "studio: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ─────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist) && *configPath == defaultConfigPath:
			// Running without a config file is supported: the defaults plus
			// environment variables cover a local single-host install.
			cfg = config.Default()
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(os.Stderr, "studio: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
			return 1
		default:
			fmt.Fprintf(os.Stderr, "studio: %v\n", err)
			return 1
		}
	}

	// ── Logger ─────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	slog.Info("studio starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║   Routine Studio — startup summary   ║")
	fmt.Println("╠══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Data dir", cfg.DataDir)
	printRow("Sessions", string(cfg.SessionStore.Driver))
	primary := ""
	if len(cfg.Providers) > 0 {
		primary = cfg.Providers[0].Name + " / " + cfg.Providers[0].Model
	}
	printRow("LLM", primary)
	printRow("LLM fallbacks", strconv.Itoa(max(len(cfg.Providers)-1, 0)))
	printRow("Vision", cfg.Vision.Model)
	printRow("TTS", cfg.TTS.Language)
	printRow("Engine", cfg.Workflow.BaseURL)
	browser := "(disabled)"
	switch {
	case len(cfg.Browser.Command) > 0:
		browser = "stdio: " + cfg.Browser.Command[0]
	case cfg.Browser.URL != "":
		browser = cfg.Browser.URL
	}
	printRow("Browser", browser)
	printRow("Video stages", onOff(cfg.Pipeline.EnableVideo))
	printRow("Quality check", onOff(cfg.Pipeline.EnableQC))
	fmt.Println("╚══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s : %-19s ║\n", label, value)
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, format config.LogFormat) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
