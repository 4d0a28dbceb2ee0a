package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var queue atomic.Pointer[sender.Dispatcher]

// SetDispatcher routes helper sends through d; nil makes them synchronous.
func SetDispatcher(d *sender.Dispatcher) {
	queue.Store(d)
}

// deliver queues send on the wired dispatcher. A full or closed queue
// degrades to an inline send so replies are never dropped.
func deliver(c tele.Context, action, endpoint string, send func() error) error {
	d := queue.Load()
	if d == nil {
		return send()
	}
	ctx := BuildContext(c)
	err := d.Enqueue(ctx, action, endpoint, send)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sender.ErrQueueFull), errors.Is(err, sender.ErrQueueClosed):
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			slog.String("err", err.Error()),
		)
		return send()
	default:
		return err
	}
}

// SendText sends text to the current recipient. Only the first options value is used.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	args := []any{}
	if len(opts) > 0 && opts[0] != nil {
		args = append(args, opts[0])
	}
	return deliver(c, "send.text", "sendMessage", func() error {
		return c.Send(text, args...)
	})
}

// SendHTML sends an HTML formatted message with optional reply markup.
func SendHTML(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	return SendText(c, text, htmlOptions(markup))
}

// EditHTML edits the message behind the current callback in place.
// Edits are synchronous so the caller can fall back to a new message on failure.
func EditHTML(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	return c.Edit(text, htmlOptions(markup))
}

// EditOrSendHTML edits the callback message, or sends a new one when there is nothing to edit.
func EditOrSendHTML(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	if c.Callback() == nil {
		return SendHTML(c, text, markup...)
	}
	if err := EditHTML(c, text, markup...); err != nil {
		logger.Warn(BuildContext(c), "tg.sender", "edit.fallback",
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return SendHTML(c, text, markup...)
	}
	return nil
}

func htmlOptions(markup []*tele.ReplyMarkup) *tele.SendOptions {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if len(markup) > 0 && markup[0] != nil {
		opts.ReplyMarkup = markup[0]
	}
	return opts
}
