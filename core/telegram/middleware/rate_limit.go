package middleware

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/requestbot/core/config"
	"github.com/m3rciful/requestbot/core/logger"
	tghelpers "github.com/m3rciful/requestbot/core/telegram/helpers"
)

// sweepEvery bounds how often stale throttle entries are dropped.
const sweepEvery = time.Minute

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// throttle remembers when each user was last let through.
type throttle struct {
	interval time.Duration

	mu        sync.Mutex
	seen      map[int64]time.Time
	lastSweep time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval, seen: make(map[int64]time.Time)}
}

// allow records ts for id unless id was let through less than interval ago.
func (t *throttle) allow(id int64, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts.Sub(t.lastSweep) > sweepEvery {
		for k, at := range t.seen {
			if ts.Sub(at) >= t.interval {
				delete(t.seen, k)
			}
		}
		t.lastSweep = ts
	}
	if last, ok := t.seen[id]; ok && ts.Sub(last) < t.interval {
		return false
	}
	t.seen[id] = ts
	return true
}

func (t *throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// RateLimitMiddleware drops updates arriving within Interval of the previous
// one from the same user. It only throttles button mashing; the request
// cooldown lives in the request manager.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limiter := newThrottle(opts.Interval)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := updateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if limiter.allow(user.ID, now()) {
				return next(c)
			}
			logger.TG.WarnContext(tghelpers.BuildContext(c), "rate limit",
				slog.String("event", "tg.rate_limit"),
				slog.Int64("user_id", user.ID),
				slog.String("kind", kind),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return coreconfig.UpdateCallback
	case upd.Message != nil:
		return coreconfig.UpdateMessage
	case upd.Query != nil:
		return coreconfig.UpdateInlineQuery
	}
	return "other"
}
