package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/m3rciful/requestbot/core/logger"
	tghelpers "github.com/m3rciful/requestbot/core/telegram/helpers"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware catches panics in handlers and prevents the bot from crashing.
// The panic is logged with the update context and swallowed.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				ctx := tghelpers.BuildContext(c)
				logger.TG.ErrorContext(ctx, "panic recovered",
					slog.String("event", "tg.panic"),
					slog.String("err", fmt.Sprint(r)),
					slog.String("rid", logger.RIDFrom(ctx)),
					slog.String("stack", string(debug.Stack())),
				)
				err = nil
			}
		}()
		return next(c)
	}
}
