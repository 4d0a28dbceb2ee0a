// Package scheduler runs periodic maintenance jobs on top of gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/m3rciful/requestbot/core/logger"
)

const slowThreshold = 5 * time.Second

// JobFunc is a unit of scheduled work. The context carries the job timeout.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a gocron scheduler with structured logging.
type Scheduler struct {
	s       gocron.Scheduler
	timeout time.Duration
}

// New creates a stopped scheduler in UTC. timeout bounds each job run; 0 means one minute.
func New(timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logAdapter{}),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}
	return &Scheduler{s: s, timeout: timeout}, nil
}

// AddCron schedules job with a five-field cron expression.
func (s *Scheduler) AddCron(name, expr string, job JobFunc) error {
	if expr == "" {
		return errors.New("scheduler: empty cron expression")
	}
	return s.add(name, gocron.CronJob(expr, false), job, slog.String("cron", expr))
}

// AddEvery schedules job at a fixed interval.
func (s *Scheduler) AddEvery(name string, every time.Duration, job JobFunc) error {
	if every <= 0 {
		return errors.New("scheduler: non-positive interval")
	}
	return s.add(name, gocron.DurationJob(every), job, slog.Duration("every", every))
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, job JobFunc, schedule slog.Attr) error {
	if name == "" {
		return errors.New("scheduler: empty job name")
	}
	if job == nil {
		return errors.New("scheduler: nil job function")
	}

	j, err := s.s.NewJob(def,
		gocron.NewTask(s.wrap(name, job)),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: schedule %s: %w", name, err)
	}

	attrs := []any{slog.String("event", "job.scheduled"), slog.String("job", name), schedule}
	if next, err := j.NextRun(); err == nil && !next.IsZero() {
		attrs = append(attrs, slog.Time("next_run", next))
	}
	logger.SCHED.Info("job scheduled", attrs...)
	return nil
}

func (s *Scheduler) wrap(name string, job JobFunc) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		err := job(ctx)
		took := time.Since(start)

		switch {
		case err != nil:
			logger.SCHED.Error("job failed",
				slog.String("event", "job.run"),
				slog.String("job", name),
				slog.String("err", err.Error()),
				slog.Duration("duration", logger.RoundMS(took)),
			)
		case took > slowThreshold:
			logger.SCHED.Warn("slow job",
				slog.String("event", "job.run"),
				slog.String("job", name),
				slog.Duration("duration", logger.RoundMS(took)),
			)
		default:
			logger.SCHED.Debug("job done",
				slog.String("event", "job.run"),
				slog.String("job", name),
				slog.Duration("duration", logger.RoundMS(took)),
			)
		}
	}
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.s.Start()
	logger.SCHED.Info("scheduler started",
		slog.String("event", "start"),
		slog.Int("jobs", len(s.s.Jobs())),
	)
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	logger.SCHED.Info("scheduler stopped", slog.String("event", "stop"))
	return nil
}

// JobNames lists the scheduled job names.
func (s *Scheduler) JobNames() []string {
	jobs := s.s.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// logAdapter routes gocron's own messages to the scheduler component logger.
type logAdapter struct{}

func (logAdapter) Debug(msg string, args ...any) { logger.SCHED.Debug(msg, pairs(args)...) }
func (logAdapter) Info(msg string, args ...any)  { logger.SCHED.Info(msg, pairs(args)...) }
func (logAdapter) Warn(msg string, args ...any)  { logger.SCHED.Warn(msg, pairs(args)...) }
func (logAdapter) Error(msg string, args ...any) { logger.SCHED.Error(msg, pairs(args)...) }

func pairs(args []any) []any {
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			out = append(out, "value", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		out = append(out, key, args[i+1])
	}
	return out
}
