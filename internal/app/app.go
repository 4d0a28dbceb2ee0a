// Package app wires configuration, storage, the request manager and the
// Telegram runtime into a runnable bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/bootstrap"
	corecmd "github.com/m3rciful/requestbot/core/cmd"
	coreconfig "github.com/m3rciful/requestbot/core/config"
	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/core/scheduler"
	coretelegram "github.com/m3rciful/requestbot/core/telegram"
	tghelpers "github.com/m3rciful/requestbot/core/telegram/helpers"
	"github.com/m3rciful/requestbot/core/telegram/router"
	"github.com/m3rciful/requestbot/internal/request"
	"github.com/m3rciful/requestbot/internal/request/memstore"
	"github.com/m3rciful/requestbot/internal/request/sqlstore"
	tgadapter "github.com/m3rciful/requestbot/internal/telegram"
)

// App holds the long-lived components of a running bot.
type App struct {
	cfg   *Config
	db    *sqlx.DB
	store request.Store

	// NewBot builds the Telegram client; tests replace it.
	NewBot func(*coreconfig.Config) (*tele.Bot, error)

	manager *request.Manager
	sched   *scheduler.Scheduler
}

// LoadConfig adapts Load to the runner.
func LoadConfig(path string) (corecmd.ConfigCarrier, error) {
	return Load(path)
}

// Bootstrap adapts New to the runner.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	return New(cfg)
}

// New initializes logging and storage for cfg.
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.DatabaseConfig(),
	})
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, db: res.DB, NewBot: coretelegram.NewBot}
	if a.store, err = newStore(cfg, res.DB); err != nil {
		_ = a.closeDB()
		return nil, err
	}
	logger.Store.Info("session store ready",
		slog.String("event", "store.ready"),
		slog.String("driver", cfg.Store.Driver),
	)
	return a, nil
}

func newStore(cfg *Config, db *sqlx.DB) (request.Store, error) {
	if !cfg.UsesDatabase() {
		return memstore.New(), nil
	}
	return sqlstore.New(db)
}

// TelegramRunOptions builds the bot, the request manager and every route.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.CoreConfig()
	bot, err := a.NewBot(core)
	if err != nil {
		return coretelegram.RunOptions{}, err
	}

	oracle := tgadapter.NewOracle(bot, a.cfg.Request.DestinationChannelID, core.Telegram.AdminIDs)
	manager, err := request.NewManager(a.store, oracle, tgadapter.NewPublisher(bot), request.Options{
		DestinationChannelID: a.cfg.Request.DestinationChannelID,
		Cooldown:             a.cfg.Request.Cooldown(),
		AllowedTags:          a.cfg.Request.AllowedTags,
	})
	if err != nil {
		return coretelegram.RunOptions{}, err
	}
	a.manager = manager

	handlers, err := tgadapter.NewHandlers(manager, tgadapter.Options{
		Messages:   a.cfg.Messages,
		ChannelURL: a.cfg.Request.ChannelURL,
	})
	if err != nil {
		return coretelegram.RunOptions{}, err
	}

	reg := coretelegram.NewRegistry()
	if err := handlers.Register(reg); err != nil {
		return coretelegram.RunOptions{}, fmt.Errorf("app: register handlers: %w", err)
	}

	return coretelegram.RunOptions{
		Config:      core,
		Registry:    reg,
		Bot:         bot,
		Middlewares: coretelegram.DefaultMiddlewares(core, handlers.OnRateLimited),
		Routes:      buildRoutes(reg, handlers, oracle, core.Telegram.AdminIDs),
		// Serverless-style deployments must finish replying before the HTTP response.
		DisableHelperDispatcher: core.Telegram.RunMode == coreconfig.RunModeHTTP,
		OnStart:                 a.onStart,
		OnStop:                  a.onStop,
	}, nil
}

func buildRoutes(reg *coretelegram.Registry, h *tgadapter.Handlers, oracle request.MembershipOracle, adminIDs []int64) []coretelegram.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminIDs: adminIDs,
		AdminCheck: func(c tele.Context) bool {
			return oracle.IsAdmin(tghelpers.BuildContext(c), c.Sender().ID)
		},
		OnAdminReject: h.OnAdminReject,
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	return append(routes, router.TextRoutes(h, reg, router.TextOptions{})...)
}

func (a *App) onStart(_ context.Context, _ coretelegram.Runtime) error {
	if !a.cfg.MaintenanceEnabled() {
		return nil
	}
	sched, err := scheduler.New(0)
	if err != nil {
		return err
	}
	if err := sched.AddCron("store.maintenance", a.cfg.Store.MaintenanceCron, a.Maintain); err != nil {
		_ = sched.Stop()
		return err
	}
	sched.Start()
	a.sched = sched
	return nil
}

func (a *App) onStop(_ context.Context, _ coretelegram.Runtime) error {
	var errs []error
	if a.sched != nil {
		errs = append(errs, a.sched.Stop())
		a.sched = nil
	}
	errs = append(errs, a.closeDB())
	return errors.Join(errs...)
}

func (a *App) closeDB() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil {
		return fmt.Errorf("app: close database: %w", err)
	}
	return nil
}
