package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/core/telegram/commands"
)

// Registry maps slash commands and callback uniques to their handlers.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]commands.Command
	callbacks map[string]tele.HandlerFunc
	notFound  tele.HandlerFunc
}

// NewRegistry returns an empty registry whose unknown-callback fallback
// answers with a short toast.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		notFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

// RegisterCommand adds cmd under name, which must start with a slash.
// Invalid or duplicate registrations are logged, skipped and reported.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	var reason string
	switch {
	case cmd.Handler == nil || cmd.Description == "":
		reason = "invalid"
	case !strings.HasPrefix(name, "/"):
		reason = "no_slash_prefix"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[name]; dup && reason == "" {
		reason = "duplicate"
	}
	if reason != "" {
		wireWarn("register.command.skip", slog.String("name", name), slog.String("reason", reason))
		return fmt.Errorf("telegram: command %q not registered: %s", name, reason)
	}
	r.commands[name] = cmd
	return nil
}

// RegisterCallback maps a callback unique to h.
func (r *Registry) RegisterCallback(key string, h tele.HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reason string
	switch _, dup := r.callbacks[key]; {
	case key == "" || h == nil:
		reason = "invalid"
	case dup:
		reason = "duplicate"
	}
	if reason != "" {
		wireWarn("register.callback.skip", slog.String("key", key), slog.String("reason", reason))
		return fmt.Errorf("telegram: callback %q not registered: %s", key, reason)
	}
	r.callbacks[key] = h
	return nil
}

// Commands returns a snapshot of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.commands)
}

// ListCommands returns the menu entries sorted by name. Hidden commands are
// never listed; publicOnly also drops admin-only ones.
func (r *Registry) ListCommands(publicOnly bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]tele.Command, 0, len(r.commands))
	for name, cmd := range r.commands {
		if cmd.Hidden || (publicOnly && cmd.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: cmd.Description})
	}
	slices.SortFunc(list, func(a, b tele.Command) int { return strings.Compare(a.Text, b.Text) })
	return list
}

// LookupCommand finds a command by name or alias, with or without the slash,
// and returns its canonical name.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	name = "/" + strings.TrimPrefix(name, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if "/"+strings.TrimPrefix(alias, "/") == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// GetCallback returns the handler for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the registered callback uniques in sorted order.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.callbacks))
}

// SetCallbackNotFound replaces the unknown-callback fallback. Nil is ignored.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.notFound = h
	r.mu.Unlock()
}

// CallbackNotFound returns the unknown-callback fallback.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notFound
}

// InitBotCommands publishes the public menu for everyone and the full menu
// in each admin's private chat when admin-only commands exist.
func InitBotCommands(bot *tele.Bot, reg *Registry, adminIDs ...int64) {
	public := reg.ListCommands(true)
	if err := bot.SetCommands(public); err != nil {
		wireWarn("register.commands.set_failed", slog.String("scope", "default"), slog.String("err", err.Error()))
	}
	full := reg.ListCommands(false)
	if len(full) == len(public) {
		return
	}
	for _, id := range adminIDs {
		if id == 0 {
			continue
		}
		scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: id}
		if err := bot.SetCommands(full, scope); err != nil {
			wireWarn("register.commands.set_failed",
				slog.String("scope", "admin"),
				slog.Int64("user_id", id),
				slog.String("err", err.Error()),
			)
		}
	}
}

func wireWarn(event string, attrs ...slog.Attr) {
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelWarn, event, attrs...)
}
