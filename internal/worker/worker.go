// Package worker runs the scheduled inbound sync for every connected user.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mycelian/calsync/internal/syncer"
)

// UserLister returns the users holding at least one active connection.
type UserLister interface {
	ActiveUsers(ctx context.Context) ([]string, error)
}

// Puller runs one inbound sync pass for a user.
type Puller interface {
	SyncIn(ctx context.Context, userID string) *syncer.PullResult
}

// Config controls the schedule and fan-out of a pull cycle.
type Config struct {
	Schedule    string // cron spec, descriptors such as "@every 15m" included
	Concurrency int    // users pulled in parallel per cycle
}

// Worker pulls every active user on a cron schedule. Overlapping cycles are
// skipped, never queued.
type Worker struct {
	users  UserLister
	puller Puller
	cfg    Config
	sched  cron.Schedule
	log    zerolog.Logger
}

// New validates cfg.Schedule and constructs a Worker.
func New(users UserLister, p Puller, cfg Config, log zerolog.Logger) (*Worker, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15m"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid pull schedule %q: %w", cfg.Schedule, err)
	}
	return &Worker{users: users, puller: p, cfg: cfg, sched: sched, log: log.With().Str("component", "pull-worker").Logger()}, nil
}

// Run schedules pull cycles until ctx is canceled, then waits for the running
// cycle to finish.
func (w *Worker) Run(ctx context.Context) error {
	cl := cronLogger{w.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	c.Schedule(w.sched, cron.FuncJob(func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Error().Err(err).Msg("pull cycle")
		}
	}))

	w.log.Info().Str("schedule", w.cfg.Schedule).Int("concurrency", w.cfg.Concurrency).Msg("pull worker starting")
	c.Start()
	<-ctx.Done()
	w.log.Info().Msg("pull worker stopping")
	<-c.Stop().Done()
	return ctx.Err()
}

// CycleStats summarises one pull cycle.
type CycleStats struct {
	Users    int
	Created  int
	Updated  int
	Skipped  int
	Failed   int
	Failures int // providers that could not be pulled
}

// RunOnce pulls every active user once. Per-user failures are logged and
// counted; only failing to list users is an error.
func (w *Worker) RunOnce(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	users, err := w.users.ActiveUsers(ctx)
	if err != nil {
		cyclesTotal.WithLabelValues(resultFailure).Inc()
		return CycleStats{}, fmt.Errorf("list active users: %w", err)
	}

	results := make([]*syncer.PullResult, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			results[i] = w.puller.SyncIn(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	stats := CycleStats{Users: len(users)}
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Err != nil {
			stats.Failures++
			w.log.Warn().Err(res.Err).Str("user_id", res.UserID).Msg("pull skipped user")
			continue
		}
		stats.Created += res.Created
		stats.Updated += res.Updated
		stats.Skipped += res.Skipped
		stats.Failed += res.Failed
		stats.Failures += len(res.Failures)
	}

	cyclesTotal.WithLabelValues(resultSuccess).Inc()
	cycleDuration.Observe(time.Since(start).Seconds())
	w.log.Info().
		Int("users", stats.Users).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("provider_failures", stats.Failures).
		Dur("took", time.Since(start)).
		Msg("pull cycle complete")
	return stats, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
