package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPingChecker_TracksLastError(t *testing.T) {
	var fail atomic.Bool
	c := NewPingChecker("outlook", func(context.Context) error {
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	}, time.Second, zerolog.Nop())

	assert.False(t, c.IsHealthy(), "unhealthy before the first probe")
	assert.True(t, c.Probe(context.Background()))
	assert.Empty(t, c.LastError())

	fail.Store(true)
	assert.False(t, c.Probe(context.Background()))
	assert.False(t, c.IsHealthy())
	assert.Equal(t, "connection refused", c.LastError())

	fail.Store(false)
	assert.True(t, c.Probe(context.Background()))
	assert.Empty(t, c.LastError())
}

func TestPingChecker_ProbeIsBounded(t *testing.T) {
	c := NewPingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	assert.False(t, c.Probe(context.Background()))
	assert.True(t, time.Since(start) < time.Second)
}
