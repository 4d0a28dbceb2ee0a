package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/requestbot/core/config"
	"github.com/m3rciful/requestbot/core/logger"
	tghelpers "github.com/m3rciful/requestbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/requestbot/core/telegram/sender"
)

// Middleware is a named global middleware installed with bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds a handler to a tele.Bot.Handle endpoint.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions configure RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	// Bot is used as is when set; otherwise NewBot builds one.
	Bot *tele.Bot

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	// DisableWebhookCleanup keeps a registered webhook when long polling.
	DisableWebhookCleanup bool
	// DisableHelperDispatcher makes helper sends synchronous.
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is what lifecycle hooks get to see.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// NewBot builds a bot for the configured run mode. In http mode handlers run
// synchronously so each request finishes with its update.
func NewBot(cfg *coreconfig.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, errors.New("telegram: nil config provided")
	}
	bot, err := tele.NewBot(tele.Settings{
		Token: cfg.Telegram.Token,
		Poller: BuildPoller(PollerOptions{
			RunMode:                cfg.Telegram.RunMode,
			LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
			Webhook: WebhookOptions{
				Listen:      cfg.Webhook.Listen,
				Port:        cfg.Webhook.Port,
				URL:         cfg.Webhook.URL,
				SecretToken: cfg.Webhook.SecretToken,
			},
		}),
		Client:      BuildHTTPClient(longPollTimeout(cfg.Telegram.LongPollTimeoutSeconds)),
		Synchronous: cfg.Telegram.RunMode == coreconfig.RunModeHTTP,
		OnError:     logBotError,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	return bot, nil
}

func logBotError(err error, c tele.Context) {
	if err == nil {
		return
	}
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.Error(ctx, "tg", "bot.error", slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
}

// RunTelegram installs middlewares and routes, then serves updates until ctx
// is done. OnStop always runs once serving has begun.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if cfg == nil {
		return errors.New("telegram: nil config provided")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	start := time.Now()
	bot := opts.Bot
	if bot == nil {
		var err error
		if bot, err = NewBot(cfg); err != nil {
			return err
		}
	}
	logMode(ctx, cfg, bot, time.Since(start))
	if cfg.Telegram.RunMode == coreconfig.RunModeLongpoll && !opts.DisableWebhookCleanup {
		removeWebhook(ctx, bot)
	}

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	if !opts.DisableHelperDispatcher {
		tghelpers.SetDispatcher(dispatcher)
	}
	defer func() {
		dispatcher.Close()
		if !opts.DisableHelperDispatcher {
			tghelpers.SetDispatcher(nil)
		}
	}()

	install(bot, opts)
	InitBotCommands(bot, opts.Registry, cfg.Telegram.AdminIDs...)

	rt := Runtime{Bot: bot, Dispatcher: dispatcher, Registry: opts.Registry}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runErr := serve(ctx, cfg, bot)
	if opts.OnStop != nil {
		if err := opts.OnStop(context.WithoutCancel(ctx), rt); err != nil {
			return err
		}
	}
	// The caller ending ctx, by cancel or deadline, is a clean shutdown.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(runErr, ctxErr) {
		return nil
	}
	return runErr
}

func install(bot *tele.Bot, opts RunOptions) {
	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
		}
	}
}

// serve blocks until ctx is done or the poller stops by itself.
func serve(ctx context.Context, cfg *coreconfig.Config, bot *tele.Bot) error {
	if cfg.Telegram.RunMode == coreconfig.RunModeHTTP {
		addr := listenAddr(WebhookOptions{Listen: cfg.Webhook.Listen, Port: cfg.Webhook.Port})
		return ServeUpdates(ctx, addr, NewUpdateHandler(bot, ServerOptions{SecretToken: cfg.Webhook.SecretToken}))
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}

func logMode(ctx context.Context, cfg *coreconfig.Config, bot *tele.Bot, took time.Duration) {
	attrs := []slog.Attr{
		slog.String("event", "mode"),
		slog.String("mode", cfg.Telegram.RunMode),
		slog.Duration("duration", took),
	}
	if cfg.Telegram.RunMode == coreconfig.RunModeHTTP {
		// telebot falls back to a long poller that never starts in this mode.
		attrs = append(attrs,
			slog.String("listen", listenAddr(WebhookOptions{Listen: cfg.Webhook.Listen, Port: cfg.Webhook.Port})),
			slog.Bool("secret", cfg.Webhook.SecretToken != ""),
		)
	} else {
		switch p := bot.Poller.(type) {
		case *tele.Webhook:
			attrs = append(attrs, slog.String("listen", p.Listen), slog.Bool("secret", p.SecretToken != ""))
			if p.Endpoint != nil {
				attrs = append(attrs, slog.String("public_url", p.Endpoint.PublicURL))
			}
		case *tele.LongPoller:
			attrs = append(attrs, slog.Duration("timeout", p.Timeout))
		}
	}
	logger.TG.LogAttrs(ctx, slog.LevelInfo, "run mode", attrs...)
}

// removeWebhook clears a leftover webhook, which would otherwise make
// getUpdates fail. Pending updates are kept.
func removeWebhook(ctx context.Context, bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.TG.LogAttrs(ctx, slog.LevelWarn, "webhook removal failed",
			slog.String("event", "delete_webhook"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	logger.TG.LogAttrs(ctx, slog.LevelInfo, "webhook removed", slog.String("event", "delete_webhook"))
}
