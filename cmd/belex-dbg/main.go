// Command belex-dbg runs a BELEX program under the trace relay and serves
// its execution events to observers over a websocket.
//
//	belex-dbg [flags] SCRIPT [-- SCRIPT_ARGS...]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gsitechorg/open-belex-debug/internal/adapter/program"
	"github.com/gsitechorg/open-belex-debug/internal/adapter/sourceview"
	"github.com/gsitechorg/open-belex-debug/internal/config"
	"github.com/gsitechorg/open-belex-debug/internal/repository"
	"github.com/gsitechorg/open-belex-debug/internal/service"
	handler "github.com/gsitechorg/open-belex-debug/internal/transport/http"
	"github.com/gsitechorg/open-belex-debug/internal/transport/ws"
	"github.com/gsitechorg/open-belex-debug/policy"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "belex-dbg: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("belex-dbg", pflag.ContinueOnError)
	configFile := flags.String("config", "", "YAML or JSONC config file")
	host := flags.String("host", cfg.Host, "address to listen on")
	port := flags.Int("port", cfg.Port, "port to listen on")
	queueCapacity := flags.Int("queue-capacity", cfg.QueueCapacity, "maximum number of pending events")
	databaseURL := flags.String("database-url", cfg.DatabaseURL, "SQLite DSN for trace recording (empty disables recording)")
	compression := flags.String("trace-compression", cfg.TraceCompression, "payload compression for recorded units: none, zstd or lz4")
	policyFile := flags.String("policy-file", cfg.PolicyFile, "rego policy deciding which files load_file may read")
	sourceRoot := flags.String("source-root", cfg.SourceRoot, "directory load_file is confined to")
	shutdownOnDisconnect := flags.Bool("shutdown-on-disconnect", cfg.ShutdownOnDisconnect, "stop when the last observer disconnects")
	captureOutput := flags.Bool("capture-output", cfg.CaptureOutput, "turn program stdout/stderr into events")
	stopGrace := flags.Duration("stop-grace", cfg.StopGrace(), "time between SIGTERM and SIGKILL when stopping the program")
	interpreter := flags.String("interpreter", "", "interpreter for SCRIPT (default: python3 for .py files)")
	logLevel := flags.String("log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	logFormat := flags.String("log-format", cfg.LogFormat, "log format: text or json")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: belex-dbg [flags] SCRIPT [-- SCRIPT_ARGS...]\n\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			return err
		}
	}
	// Flags given explicitly win over the config file.
	overrides := map[string]func(){
		"host":                   func() { cfg.Host = *host },
		"port":                   func() { cfg.Port = *port },
		"queue-capacity":         func() { cfg.QueueCapacity = *queueCapacity },
		"database-url":           func() { cfg.DatabaseURL = *databaseURL },
		"trace-compression":      func() { cfg.TraceCompression = *compression },
		"policy-file":            func() { cfg.PolicyFile = *policyFile },
		"source-root":            func() { cfg.SourceRoot = *sourceRoot },
		"shutdown-on-disconnect": func() { cfg.ShutdownOnDisconnect = *shutdownOnDisconnect },
		"capture-output":         func() { cfg.CaptureOutput = *captureOutput },
		"stop-grace":             func() { cfg.StopGraceMs = int(stopGrace.Milliseconds()) },
		"log-level":              func() { cfg.LogLevel = *logLevel },
		"log-format":             func() { cfg.LogFormat = *logFormat },
	}
	for name, apply := range overrides {
		if flags.Changed(name) {
			apply()
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	positional := flags.Args()
	if len(positional) == 0 {
		flags.Usage()
		return errors.New("missing SCRIPT")
	}
	script, scriptArgs := positional[0], positional[1:]
	info, err := os.Stat(script)
	if err != nil {
		return fmt.Errorf("belex script: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("belex script is not a regular file: %s", script)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	var db store.Store
	if cfg.DatabaseURL != "" {
		enc, err := store.ParseEncoding(cfg.TraceCompression)
		if err != nil {
			return err
		}
		sqlite, err := store.NewSQLiteStore(cfg.DatabaseURL, store.WithCompression(enc))
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer sqlite.Close()
		db = sqlite
		logger.Info("recording traces", "database", cfg.DatabaseURL, "compression", enc)
	}

	// Initialize policy engine and source view
	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	sources, err := sourceview.New(cfg.SourceRoot, policyEngine, logger)
	if err != nil {
		return err
	}

	// Initialize service
	cmd := newCommand(script, scriptArgs, *interpreter, cfg.StopGrace(), logger)
	svc, err := service.New(cmd, service.Options{
		QueueCapacity: cfg.QueueCapacity,
		Store:         db,
		Sources:       sources,
		CaptureOutput: cfg.CaptureOutput,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	cmd.Emit = svc.EmitEvent

	wsServer := ws.NewServer(svc, ws.NewHub(logger), ws.Options{
		ShutdownOnDisconnect: cfg.ShutdownOnDisconnect,
		Logger:               logger,
	})
	e := handler.NewServer(svc, wsServer, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Serve(gctx)
	})
	g.Go(func() error {
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-svc.Done():
		}
		svc.Shutdown()

		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", "error", err)
		}
		return nil
	})

	logger.Info("relay started", "addr", cfg.Addr(), "script", script)
	fmt.Printf("Please open your browser to the following address: http://%s\n", cfg.Addr())

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("relay stopped")
	return nil
}

func newCommand(script string, scriptArgs []string, interpreter string, grace time.Duration, logger *slog.Logger) *program.Command {
	if interpreter == "" && filepath.Ext(script) == ".py" {
		interpreter = "python3"
	}
	if interpreter == "" {
		return &program.Command{Path: script, Args: scriptArgs, StopGrace: grace, Logger: logger}
	}
	// The child inherits the working directory, so a relative script path
	// resolves the same way it did for the relay.
	return &program.Command{
		Path:      interpreter,
		Args:      append([]string{script}, scriptArgs...),
		StopGrace: grace,
		Logger:    logger,
	}
}

// newLogger writes to stderr so relay logs never mix with captured
// program stdout.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
