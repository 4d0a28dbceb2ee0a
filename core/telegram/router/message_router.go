package router

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/requestbot/core/telegram"
	tghelpers "github.com/m3rciful/requestbot/core/telegram/helpers"
	"github.com/m3rciful/requestbot/core/telegram/middleware"
)

// InputCollector receives content messages from users it is waiting on.
type InputCollector interface {
	Awaiting(ctx context.Context, userID int64) bool
	CollectInput(c tele.Context) error
}

// TextOptions sets handlers for content nobody is waiting for. Nil handlers
// leave such updates unanswered.
type TextOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// TextRoutes routes plain text and media. Text starting with "/" is a command:
// it is dispatched through reg when public and is never handed to the collector.
func TextRoutes(collector InputCollector, reg *tg.Registry, opts TextOptions) []tg.Route {
	onText := func(c tele.Context) error {
		if strings.HasPrefix(c.Text(), "/") {
			if key, cmd, ok := lookupTextCommand(reg, c.Text()); ok {
				return begin(c, handlerName(key)).do(cmd)
			}
			return fallback(c, "unknown_command", opts.UnknownText)
		}
		if awaiting(c, collector) {
			return begin(c, "input.text").do(collector.CollectInput)
		}
		return fallback(c, "unknown_text", opts.UnknownText)
	}
	onMedia := func(c tele.Context) error {
		if awaiting(c, collector) {
			return begin(c, "input.media").do(collector.CollectInput)
		}
		return fallback(c, "unknown_media", opts.UnknownMedia)
	}
	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(onText)},
		{Endpoint: tele.OnMedia, Handler: wrap(onMedia)},
	}
}

func fallback(c tele.Context, name string, h tele.HandlerFunc) error {
	run := begin(c, name)
	if h == nil {
		run.skip()
		return nil
	}
	return run.do(h)
}

// lookupTextCommand resolves "/cmd@bot args" to a registered public command.
func lookupTextCommand(reg *tg.Registry, text string) (string, tele.HandlerFunc, bool) {
	if reg == nil || !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	name, _, _ := strings.Cut(strings.Fields(text)[0], "@")
	key, cmd, ok := reg.LookupCommand(name)
	if !ok || cmd.Handler == nil || cmd.AdminOnly {
		return "", nil, false
	}
	return key, cmd.Handler, true
}

func awaiting(c tele.Context, collector InputCollector) bool {
	if collector == nil || c.Sender() == nil {
		return false
	}
	return collector.Awaiting(tghelpers.BuildContext(c), c.Sender().ID)
}
