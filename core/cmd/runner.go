// Package cmd runs a configured bot until its context is cancelled.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/requestbot/core/config"
	"github.com/m3rciful/requestbot/core/logger"
	coretelegram "github.com/m3rciful/requestbot/core/telegram"
)

// ConfigCarrier exposes the embedded core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp builds everything the Telegram runtime needs.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Options wire the load, bootstrap and run steps together.
type Options struct {
	ConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(cfg ConfigCarrier) (TelegramApp, error)

	// Optional overrides; they default to logger.Shutdown and RunTelegram.
	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// ResolveConfigPath returns flag, else the value of envVar, else fallback.
func ResolveConfigPath(flag, envVar, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

// Run loads the config, bootstraps the app and serves updates until ctx is
// cancelled or the process receives SIGINT or SIGTERM.
func Run(ctx context.Context, opts Options) error {
	switch {
	case opts.LoadConfig == nil:
		return errors.New("cmd: LoadConfig is required")
	case opts.Bootstrap == nil:
		return errors.New("cmd: Bootstrap is required")
	case opts.ConfigPath == "":
		return errors.New("cmd: config path is required")
	}
	startedAt := time.Now()

	cfg, err := opts.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("cmd: load config %s: %w", opts.ConfigPath, err)
	}
	if cfg.CoreConfig() == nil {
		return errors.New("cmd: loaded config is missing core configuration")
	}

	application, err := opts.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap: %w", err)
	}
	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
		}
	}()

	runOpts, err := application.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: build telegram options: %w", err)
	}
	runOpts.OnStart = chainHooks(runOpts.OnStart, func(context.Context, coretelegram.Runtime) error {
		logger.L.Info("app ready",
			slog.String("component", "app"),
			slog.String("event", "ready"),
			slog.Duration("startup_duration", time.Since(startedAt)),
		)
		return nil
	})
	runOpts.OnStop = chainHooks(func(context.Context, coretelegram.Runtime) error {
		logger.L.Info("shutting down", slog.String("component", "app"), slog.String("event", "shutdown"))
		return nil
	}, runOpts.OnStop)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, runOpts)
}

type hook = func(context.Context, coretelegram.Runtime) error

// chainHooks runs the non-nil hooks in order and stops at the first error.
func chainHooks(hooks ...hook) hook {
	return func(ctx context.Context, rt coretelegram.Runtime) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, rt); err != nil {
				return err
			}
		}
		return nil
	}
}
