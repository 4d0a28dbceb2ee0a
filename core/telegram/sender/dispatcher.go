// Package sender delivers outbound Bot API calls off the update goroutine.
// Calls for the same chat run on one worker, so replies keep their order.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/requestbot/core/logger"
	"github.com/m3rciful/requestbot/core/telegram/netutil"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned when the chat's worker queue has no room.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options tune the dispatcher; zero values select defaults.
type Options struct {
	// QueueSize is the total capacity, split evenly across workers.
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds one job including its retries.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 15 * time.Second
	}
	return o
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher runs jobs on a fixed set of workers. Close drains what is queued.
type Dispatcher struct {
	opts   Options
	shards []chan job

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	failed atomic.Uint64
}

// NewDispatcher starts the workers.
func NewDispatcher(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	perShard := max(opts.QueueSize/opts.Workers, 1)
	d := &Dispatcher{opts: opts, shards: make([]chan job, opts.Workers)}
	for i := range d.shards {
		d.shards[i] = make(chan job, perShard)
		d.wg.Add(1)
		go d.work(d.shards[i])
	}
	return d
}

// Enqueue queues run on the worker owning the chat stored in ctx. run may be
// called more than once when a transport failure is retried.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.shardFor(logger.ChatIDFrom(ctx)) <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) shardFor(chatID int64) chan job {
	n := uint64(len(d.shards))
	return d.shards[uint64(chatID)%n]
}

// ErrorCount returns how many jobs failed for good.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.failed.Load()
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, s := range d.shards {
		n += len(s)
	}
	return n
}

// Close rejects new jobs and waits for the queued ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, s := range d.shards {
		close(s)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(queue <-chan job) {
	defer d.wg.Done()
	for j := range queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}

	attempt, err := 1, j.run()
	for ; err != nil && attempt <= d.opts.MaxRetries; attempt++ {
		wait, ok := d.retryDelay(err, attempt)
		if !ok {
			break
		}
		logger.Debug(j.ctx, "tg.sender", "send.retry", append(attrs,
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("err", redact(err)),
		)...)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(wait):
			err = j.run()
		}
		if ctx.Err() != nil && err != nil {
			break
		}
	}

	attrs = append(attrs, slog.Int("attempts", attempt), slog.Duration("duration", time.Since(start)))
	if err != nil {
		d.failed.Add(1)
		logger.Error(j.ctx, "tg.sender", "send.fail", append(attrs,
			slog.String("err", redact(err)),
			slog.String("err_kind", classifyError(err)),
		)...)
		return
	}
	logger.Debug(j.ctx, "tg.sender", "send.ok", attrs...)
}

// retryDelay reports how long to wait before the next attempt. Flood control
// waits exactly as long as Telegram asks; transport failures back off
// exponentially. Everything else is final.
func (d *Dispatcher) retryDelay(err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		wait := time.Duration(flood.RetryAfter) * time.Second
		return wait, wait < d.opts.MaxDuration
	}
	if !netutil.ShouldRetry(err) {
		return 0, false
	}
	return d.opts.RetryBackoff << (attempt - 1), true
}

func classifyError(err error) string {
	var (
		flood  tele.FloodError
		apiErr *tele.Error
		netErr net.Error
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &flood):
		return "flood"
	case errors.As(err, &apiErr):
		if apiErr.Code >= 500 {
			return "http_5xx"
		}
		return "http_4xx"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return "dial"
	}
	return "unknown"
}

// redact hides bot tokens that transport errors embed in request URLs.
func redact(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
