// Package logger provides the bot's structured slog setup: one line per
// event, a fixed key order, per-update correlation ids taken from the
// context and a logger per component.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/requestbot/core/buildinfo"
	coreconfig "github.com/m3rciful/requestbot/core/config"
)

// defaultDebugSample keeps one sampled debug event in fifty.
const defaultDebugSample = "1/50"

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	closed   bool

	sink    *sinkWriter
	logFile io.Closer

	levelVar      slog.LevelVar
	debugSampler  = newSampler(defaultDebugSample)
	traceOverride bool

	// L is the root logger; component loggers below derive from it.
	L *slog.Logger

	// DB logs database connections.
	DB *slog.Logger
	// MIG logs schema migrations.
	MIG *slog.Logger
	// TG logs Telegram transport events.
	TG *slog.Logger
	// TWire logs handler and route wiring.
	TWire *slog.Logger
	// HTTP logs the plain HTTP update endpoint.
	HTTP *slog.Logger
	// SCHED logs scheduled maintenance jobs.
	SCHED *slog.Logger
	// Store logs session store activity.
	Store *slog.Logger
	// SVCRequests logs the request session manager.
	SVCRequests *slog.Logger
)

// Component loggers discard output until InitLogger runs, so packages and
// tests can log unconditionally.
func init() {
	L = slog.New(slog.DiscardHandler)
	deriveComponents()
}

// settings is the resolved logging configuration.
type settings struct {
	format      logFormat
	level       slog.Level
	keyOrder    []string
	debugSample string
	profile     string
	filePath    string
}

func resolve(cfg *coreconfig.Config) settings {
	s := settings{
		format:      selectFormat(cfg),
		level:       selectLevel(cfg),
		keyOrder:    selectKeyOrder(cfg),
		debugSample: debugSampleSpec(cfg),
		profile:     selectProfile(cfg),
	}
	if cfg != nil {
		dir, file := strings.TrimSpace(cfg.Logging.Dir), strings.TrimSpace(cfg.Logging.BotFile)
		if dir != "" && file != "" {
			s.filePath = filepath.Join(dir, file)
		}
	}
	return s
}

// InitLogger installs the structured logger. Only the first call has effect.
// A log file that cannot be opened is reported on stderr and skipped.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		s := resolve(cfg)
		levelVar.Set(s.level)
		debugSampler.Configure(s.debugSample)
		traceOverride = isTruthy(os.Getenv("TRACE")) || isTruthy(os.Getenv("LOG_TRACE"))

		outputs := []io.Writer{os.Stdout}
		if s.filePath != "" {
			f, openErr := openLogFile(s.filePath)
			if openErr != nil {
				// Stdout still works; report and carry on.
				fmt.Fprintf(os.Stderr, "logger: %v\n", openErr)
			} else {
				logFile = f
				outputs = append(outputs, f)
			}
		}
		sink = newSinkWriter(outputs...)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   sink,
			format:   s.format,
			keyOrder: s.keyOrder,
		}))
		slog.SetDefault(L)
		deriveComponents()

		attrs := []slog.Attr{
			slog.String("component", "app"),
			slog.String("event", "startup"),
			slog.String("go_version", runtime.Version()),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
			slog.String("cfg_profile", s.profile),
		}
		if cfg != nil {
			attrs = append(attrs, slog.String("mode", cfg.Telegram.RunMode))
		}
		L.LogAttrs(context.Background(), slog.LevelInfo, "startup", attrs...)
	})
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func deriveComponents() {
	DB = L.With("component", "db")
	MIG = L.With("component", "db.migrate")
	TG = L.With("component", "tg")
	TWire = L.With("component", "tg.wire")
	HTTP = L.With("component", "http")
	SCHED = L.With("component", "scheduler")
	Store = L.With("component", "store")
	SVCRequests = L.With("component", "service.requests")
}

// Shutdown flushes and closes the log outputs. Later calls are no-ops.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if sink != nil {
		errs = append(errs, sink.Close())
	}
	if logFile != nil {
		errs = append(errs, logFile.Close())
	}
	return errors.Join(errs...)
}

func selectFormat(cfg *coreconfig.Config) logFormat {
	if cfg == nil {
		return formatJSON
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "kv", "text", "pretty":
		return formatKV
	case "json":
		return formatJSON
	}
	switch strings.ToLower(cfg.Logging.Profile) {
	case "debug", "dev":
		return formatKV
	}
	return formatJSON
}

func selectKeyOrder(cfg *coreconfig.Config) []string {
	if cfg == nil {
		return defaultKeyOrder
	}
	var order []string
	for _, k := range strings.Split(cfg.Logging.KeysOrder, ",") {
		if k = strings.TrimSpace(k); k != "" && k != "default" {
			order = append(order, k)
		}
	}
	if len(order) == 0 {
		return defaultKeyOrder
	}
	return order
}

func selectLevel(cfg *coreconfig.Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func selectProfile(cfg *coreconfig.Config) string {
	if cfg == nil {
		return ""
	}
	if p := strings.TrimSpace(cfg.Logging.Profile); p != "" {
		return strings.ToLower(p)
	}
	return "prod"
}

func debugSampleSpec(cfg *coreconfig.Config) string {
	if cfg == nil || strings.TrimSpace(cfg.Logging.DebugSample) == "" {
		return defaultDebugSample
	}
	return cfg.Logging.DebugSample
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether a high-volume debug event should be
// logged. TRACE=1 lets every event through.
func ShouldSampleDebug() bool {
	return traceOverride || debugSampler.Allow()
}

// Background returns context.Background().
func Background() context.Context {
	return context.Background()
}

// LogEvent logs attrs under an explicit event name. A nil logg falls back
// to the context logger.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to name.
func Component(name string) *slog.Logger {
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Event logs event at level for component.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), level, event, attrs...)
}

// Debug logs a debug event for component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs an info event for component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs a warning event for component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs an error event for component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}
