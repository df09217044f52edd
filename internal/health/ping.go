package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultProbeTimeout = 2 * time.Second

// PingChecker probes one dependency on an interval and caches the verdict.
// It starts unhealthy until the first probe succeeds.
type PingChecker struct {
	name    string
	ping    func(ctx context.Context) error
	timeout time.Duration
	log     zerolog.Logger

	healthy atomic.Bool
	lastErr atomic.Pointer[string]
}

func NewPingChecker(name string, ping func(ctx context.Context) error, timeout time.Duration, log zerolog.Logger) *PingChecker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &PingChecker{name: name, ping: ping, timeout: timeout, log: log.With().Str("checker", name).Logger()}
}

func (c *PingChecker) Name() string    { return c.name }
func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() }

// LastError returns the message of the most recent failed probe, or "".
func (c *PingChecker) LastError() string {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Probe runs one bounded ping and records the result. Transitions are logged.
func (c *PingChecker) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.ping(pctx)
	was := c.healthy.Swap(err == nil)
	if err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		if was {
			c.log.Error().Stack().Err(err).Msg("health probe failed")
		}
		return false
	}
	c.lastErr.Store(nil)
	if !was {
		c.log.Info().Msg("health probe recovered")
	}
	return true
}

// Start probes immediately, then every interval until ctx is done.
func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Probe(ctx)
		}
	}
}
