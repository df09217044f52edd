// Package pushqueue runs outbound sync jobs in the background. Jobs sharing a
// key (the local event id) run in submission order on one worker; different
// keys may run in parallel.
package pushqueue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueClosed reports that the queue has been stopped.
var ErrQueueClosed = errors.New("push queue closed")

// ErrQueueFull is matched by *QueueFullError.
var ErrQueueFull = errors.New("push queue full")

// QueueFullError carries diagnostics while satisfying errors.Is(_, ErrQueueFull).
type QueueFullError struct {
	Shard    int
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("push shard %d full (len=%d cap=%d)", e.Shard, e.Length, e.Capacity)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// Job is one unit of outbound work.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Config groups the queue tunables.
type Config struct {
	Shards         int
	QueueSize      int
	EnqueueTimeout time.Duration

	// ErrorHandler is called with the key and error of every failed job.
	ErrorHandler func(key string, err error)
}

type queuedJob struct {
	ctx context.Context
	key string
	job Job
}

// Queue partitions jobs over worker goroutines by a stable hash of their key.
type Queue struct {
	cfg    Config
	log    zerolog.Logger
	queues []chan queuedJob

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New starts the shard workers.
func New(cfg Config, log zerolog.Logger) *Queue {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	q := &Queue{
		cfg:    cfg,
		log:    log,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := range q.queues {
		ch := make(chan queuedJob, cfg.QueueSize)
		q.queues[i] = ch
		q.wg.Add(1)
		go q.runWorker(i, ch)
	}
	return q
}

// Submit enqueues job on the shard for key. It returns ErrQueueClosed after
// Stop, a *QueueFullError when the shard stays full for EnqueueTimeout, or
// ctx.Err() if ctx ends first.
func (q *Queue) Submit(ctx context.Context, key string, job Job) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	shard := q.shardFor(key)
	ch := q.queues[shard]

	timer := time.NewTimer(q.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, key: key, job: job}:
		submissionsTotal.WithLabelValues(shardLabel(shard)).Inc()
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(shardLabel(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier waits until every job submitted for key before it has run.
func (q *Queue) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	if err := q.Submit(ctx, key, JobFunc(func(context.Context) error {
		close(done)
		return nil
	})); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop drains every shard and waits for the workers. Safe to call twice.
func (q *Queue) Stop() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.log.Info().Int("shards", q.cfg.Shards).Msg("stopping push queue")
	close(q.done)
	q.wg.Wait()
	q.log.Info().Msg("push queue drained")
}

// Close lets Queue satisfy io.Closer.
func (q *Queue) Close() error {
	q.Stop()
	return nil
}

func (q *Queue) runWorker(idx int, ch <-chan queuedJob) {
	defer q.wg.Done()
	label := shardLabel(idx)

	for {
		select {
		case qj := <-ch:
			q.run(label, qj)
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))
		case <-q.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					q.run(label, qj)
					drained++
				default:
					if drained > 0 {
						q.log.Info().Int("shard", idx).Int("jobs", drained).Msg("drained remaining push jobs")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

// run executes one job, keeping a panicking job from killing its shard.
func (q *Queue) run(label string, qj queuedJob) {
	if qj.job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("key", qj.key).Msg("push job panicked")
			q.handleError(qj.key, fmt.Errorf("push job panicked: %v", r))
		}
	}()

	if err := qj.ctx.Err(); err != nil {
		q.handleError(qj.key, err)
		return
	}
	start := time.Now()
	err := qj.job.Run(qj.ctx)
	runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		q.handleError(qj.key, err)
	}
}

func (q *Queue) handleError(key string, err error) {
	if q.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("push queue error handler panicked")
		}
	}()
	q.cfg.ErrorHandler(key, err)
}

func (q *Queue) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(q.cfg.Shards))
}
