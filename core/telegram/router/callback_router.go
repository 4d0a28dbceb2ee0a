package router

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/logger"
	tg "github.com/m3rciful/requestbot/core/telegram"
	"github.com/m3rciful/requestbot/core/telegram/callbacks"
	"github.com/m3rciful/requestbot/core/telegram/middleware"
)

// CallbackOptions customises callback routing.
type CallbackOptions struct {
	// NotFound answers keys missing from the registry; it defaults to the
	// registry's own fallback.
	NotFound tele.HandlerFunc
}

// CallbackRoute dispatches every callback query by its registry key. Known
// callbacks are acknowledged before the handler runs.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	notFound := opts.NotFound
	if notFound == nil {
		notFound = reg.CallbackNotFound()
	}
	handler := func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		key, payload := callbacks.ParseCallbackData(cb)
		attrs := []slog.Attr{slog.String("cb_key", key)}
		if payload != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 128)))
		}
		run := begin(c, "callback."+handlerName(key), attrs...)

		h, ok := reg.GetCallback(key)
		if !ok {
			run.attrs = append(run.attrs, slog.String("reason", "not_found"))
			if notFound == nil {
				run.skip()
				return nil
			}
			return run.do(notFound)
		}
		_ = c.Respond()
		return run.do(h)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
