package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/logger"
	tghelpers "github.com/m3rciful/requestbot/core/telegram/helpers"
	"github.com/m3rciful/requestbot/core/telegram/middleware"
)

// handlerRun times one handler invocation and emits a single
// "handler.handled" line when it ends.
type handlerRun struct {
	c     tele.Context
	name  string
	start time.Time
	attrs []slog.Attr
}

func begin(c tele.Context, name string, attrs ...slog.Attr) *handlerRun {
	tghelpers.WithHandler(c, name)
	return &handlerRun{c: c, name: name, start: time.Now(), attrs: attrs}
}

// do runs fn and logs its result.
func (r *handlerRun) do(fn tele.HandlerFunc) error {
	err := fn(r.c)
	r.finish("", err)
	return err
}

// skip logs that the update was deliberately left unanswered.
func (r *handlerRun) skip() {
	r.finish("skip", nil)
}

func (r *handlerRun) finish(status string, err error) {
	if status == "" {
		status = logger.StatusOf(err)
	}
	msgs, kb := middleware.GetCounters(r.c)
	attrs := append([]slog.Attr{
		slog.String("status", status),
		slog.String("handler", r.name),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", time.Since(r.start)),
	}, r.attrs...)
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	logger.LogEvent(tghelpers.BuildContext(r.c), logger.Component("tg"), level, "handler.handled", attrs...)
}

// handlerName turns a command or callback key into a log-friendly name.
func handlerName(raw string) string {
	raw = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
	if raw == "" {
		return "unknown"
	}
	return strings.ReplaceAll(raw, " ", "_")
}

// errorCode prefers a Code() method anywhere in the chain, then the type name.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return strings.ToUpper(code)
		}
	}
	name := fmt.Sprintf("%T", err)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToUpper(strings.TrimLeft(name, "*"))
}
