// Package syncer decides when provider adapters are called. It fans a
// committed local mutation out to every connected provider and pulls remote
// events back for the CRUD layer to upsert.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/provider"
	"github.com/mycelian/calsync/internal/synclog"
)

const (
	opSyncOut = "sync_out"
	opSyncIn  = "sync_in"
)

// ConnectionLister is the part of the connection store the orchestrator reads.
type ConnectionLister interface {
	ListActive(ctx context.Context, userID string) ([]*model.ProviderConnection, error)
}

// Upserter stores one pulled event locally. Errors wrapping model.ErrConflict,
// such as *model.DuplicateEventError, mean the event was skipped.
type Upserter interface {
	UpsertNormalized(ctx context.Context, ev model.NormalizedEvent) (created bool, err error)
}

// Options tune provider calls.
type Options struct {
	// Timeout bounds each provider call attempt. Zero disables it.
	Timeout time.Duration
	Retry   provider.RetryPolicy
	// LockStripes is the number of per-(event, provider) push locks.
	LockStripes int
}

// Orchestrator drives adapters for one process. It is safe for concurrent use.
type Orchestrator struct {
	conns    ConnectionLister
	registry *provider.Registry
	logs     *synclog.Logger
	log      zerolog.Logger
	opts     Options
	locks    *stripedLock
	now      func() time.Time

	mu       sync.RWMutex
	upserter Upserter
}

// New returns an orchestrator over the adapters in registry.
func New(conns ConnectionLister, registry *provider.Registry, logs *synclog.Logger, log zerolog.Logger, opts Options) *Orchestrator {
	if opts.LockStripes <= 0 {
		opts.LockStripes = 64
	}
	return &Orchestrator{
		conns:    conns,
		registry: registry,
		logs:     logs,
		log:      log.With().Str("component", "syncer").Logger(),
		opts:     opts,
		locks:    newStripedLock(opts.LockStripes),
		now:      time.Now,
	}
}

// SetUpserter wires the CRUD layer that receives pulled events. Without one,
// SyncIn only reports what it pulled.
func (o *Orchestrator) SetUpserter(u Upserter) {
	o.mu.Lock()
	o.upserter = u
	o.mu.Unlock()
}

func (o *Orchestrator) getUpserter() Upserter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.upserter
}

// SyncOutError is returned when every provider a push was attempted on failed.
type SyncOutError struct {
	EventID  int64
	Action   model.Action
	Failures map[model.Provider]error
}

func (e *SyncOutError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, p := range sortedProviders(e.Failures) {
		parts = append(parts, fmt.Sprintf("%s: %v", p, e.Failures[p]))
	}
	return fmt.Sprintf("sync out of event %d (%s) failed for every provider: %s", e.EventID, e.Action, strings.Join(parts, "; "))
}

// Unwrap exposes each provider's error to errors.Is and errors.As.
func (e *SyncOutError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, p := range sortedProviders(e.Failures) {
		out = append(out, e.Failures[p])
	}
	return out
}

func sortedProviders(m map[model.Provider]error) []model.Provider {
	ps := make([]model.Provider, 0, len(m))
	for p := range m {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}

// SyncOut pushes a committed local mutation to each of the user's active,
// push-capable providers. Providers are attempted independently; a failure is
// logged and only returned (as *SyncOutError) when every attempt failed.
func (o *Orchestrator) SyncOut(ctx context.Context, userID string, ev model.LocalEvent, action model.Action) error {
	conns, err := o.conns.ListActive(ctx, userID)
	if err != nil {
		return fmt.Errorf("load connections for %s: %w", userID, err)
	}

	type target struct {
		conn   model.ProviderConnection
		named  provider.Named
		pusher provider.Pusher
	}
	var targets []target
	for _, c := range conns {
		a, ok := o.registry.Puller(c.Provider)
		if !ok {
			o.log.Debug().Str("provider", string(c.Provider)).Msg("no adapter registered")
			continue
		}
		pu, ok := a.(provider.Pusher)
		if !ok {
			continue
		}
		targets = append(targets, target{conn: *c, named: a, pusher: pu})
	}
	if len(targets) == 0 {
		return nil
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			start := time.Now()
			err := o.push(ctx, t.named, t.pusher, t.conn, ev, action)
			callDuration.WithLabelValues(string(t.conn.Provider), provider.OpForAction(action)).Observe(time.Since(start).Seconds())
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[model.Provider]error)
	for i, t := range targets {
		p := t.conn.Provider
		if errs[i] == nil {
			pushTotal.WithLabelValues(string(p), string(action), resultSuccess).Inc()
			continue
		}
		pushTotal.WithLabelValues(string(p), string(action), resultFailure).Inc()
		failures[p] = errs[i]
		o.logs.Error(opSyncOut, p, userID, "push to provider failed",
			synclog.WithEventID(ev.ID), synclog.WithError(errs[i]), synclog.WithMetadata("action", string(action)))
	}

	if len(failures) == len(targets) {
		return &SyncOutError{EventID: ev.ID, Action: action, Failures: failures}
	}
	if len(failures) > 0 {
		o.log.Warn().Int64("event_id", ev.ID).Int("failed", len(failures)).Int("attempted", len(targets)).Msg("partial sync out")
	}
	return nil
}

func (o *Orchestrator) push(ctx context.Context, named provider.Named, pu provider.Pusher, conn model.ProviderConnection, ev model.LocalEvent, action model.Action) error {
	if err := provider.ValidateConnection(named, conn, o.now()); err != nil {
		return err
	}

	unlock := o.locks.lock(fmt.Sprintf("%d/%s", ev.ID, conn.Provider))
	defer unlock()

	return provider.Retry(ctx, o.opts.Retry, func(ctx context.Context) error {
		cctx, cancel := o.withTimeout(ctx)
		defer cancel()
		return pu.PushEvent(cctx, conn, ev, action)
	}, func(attempt int, err error, wait time.Duration) {
		retriesTotal.WithLabelValues(string(conn.Provider), provider.OpForAction(action)).Inc()
		o.logs.Warn(opSyncOut, conn.Provider, conn.UserID, "retrying push",
			synclog.WithEventID(ev.ID), synclog.WithError(err),
			synclog.WithMetadata("attempt", attempt), synclog.WithMetadata("wait", wait.String()))
	})
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.opts.Timeout)
}

// PullResult is the outcome of one SyncIn pass.
type PullResult struct {
	UserID string `json:"userId"`
	// Events holds every normalized event pulled, in connection order.
	Events []model.NormalizedEvent `json:"events"`
	// Failures holds the error of each provider whose pull failed.
	Failures map[model.Provider]error `json:"-"`
	// Err is set when the user's connections could not be loaded at all.
	Err error `json:"-"`

	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// FailureMessages renders Failures for transport.
func (r *PullResult) FailureMessages() map[model.Provider]string {
	out := make(map[model.Provider]string, len(r.Failures))
	for p, err := range r.Failures {
		out[p] = err.Error()
	}
	return out
}

// SyncIn pulls every connected provider concurrently and hands the events to
// the Upserter. It never fails as a whole: per-provider failures are reported
// in PullResult.Failures and duplicates are counted as skipped.
func (o *Orchestrator) SyncIn(ctx context.Context, userID string) *PullResult {
	res := &PullResult{UserID: userID, Failures: make(map[model.Provider]error)}

	conns, err := o.conns.ListActive(ctx, userID)
	if err != nil {
		res.Err = fmt.Errorf("load connections for %s: %w", userID, err)
		o.log.Error().Err(err).Str("user_id", userID).Msg("sync in aborted")
		return res
	}

	type target struct {
		conn   model.ProviderConnection
		puller provider.PullOnly
	}
	var targets []target
	for _, c := range conns {
		if a, ok := o.registry.Puller(c.Provider); ok {
			targets = append(targets, target{conn: *c, puller: a})
		}
	}

	pulled := make([][]model.NormalizedEvent, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			start := time.Now()
			pulled[i], errs[i] = o.pull(ctx, t.puller, t.conn)
			callDuration.WithLabelValues(string(t.conn.Provider), provider.OpList).Observe(time.Since(start).Seconds())
			return nil
		})
	}
	_ = g.Wait()

	up := o.getUpserter()
	for i, t := range targets {
		p := t.conn.Provider
		if errs[i] != nil {
			pullTotal.WithLabelValues(string(p), resultFailure).Inc()
			res.Failures[p] = errs[i]
			o.logs.Error(opSyncIn, p, userID, "pull from provider failed", synclog.WithError(errs[i]))
			continue
		}
		pullTotal.WithLabelValues(string(p), resultSuccess).Inc()
		pulledEvents.WithLabelValues(string(p)).Add(float64(len(pulled[i])))
		res.Events = append(res.Events, pulled[i]...)
		if up != nil {
			o.upsert(ctx, up, userID, p, pulled[i], res)
		}
	}

	o.logs.Info(opSyncIn, "", userID, "sync in finished",
		synclog.WithMetadata("events", len(res.Events)),
		synclog.WithMetadata("created", res.Created),
		synclog.WithMetadata("updated", res.Updated),
		synclog.WithMetadata("skipped", res.Skipped),
		synclog.WithMetadata("failedProviders", len(res.Failures)))
	return res
}

func (o *Orchestrator) pull(ctx context.Context, a provider.PullOnly, conn model.ProviderConnection) ([]model.NormalizedEvent, error) {
	if err := provider.ValidateConnection(a, conn, o.now()); err != nil {
		return nil, err
	}
	var out []model.NormalizedEvent
	err := provider.Retry(ctx, o.opts.Retry, func(ctx context.Context) error {
		cctx, cancel := o.withTimeout(ctx)
		defer cancel()
		evs, err := a.PullEvents(cctx, conn)
		if err != nil {
			return err
		}
		out = evs
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		retriesTotal.WithLabelValues(string(conn.Provider), provider.OpList).Inc()
		o.logs.Warn(opSyncIn, conn.Provider, conn.UserID, "retrying pull",
			synclog.WithError(err), synclog.WithMetadata("attempt", attempt), synclog.WithMetadata("wait", wait.String()))
	})
	return out, err
}

func (o *Orchestrator) upsert(ctx context.Context, up Upserter, userID string, p model.Provider, evs []model.NormalizedEvent, res *PullResult) {
	for _, ev := range evs {
		created, err := up.UpsertNormalized(ctx, ev)
		switch {
		case err == nil && created:
			res.Created++
		case err == nil:
			res.Updated++
		case errors.Is(err, model.ErrConflict):
			res.Skipped++
		default:
			res.Failed++
			o.logs.Error(opSyncIn, p, userID, "upsert of pulled event failed",
				synclog.WithError(err), synclog.WithMetadata("externalId", ev.ExternalID))
		}
	}
}
