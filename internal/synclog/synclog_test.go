package synclog

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/calsync/internal/model"
)

func TestLogger_EvictsOldestBeyondCapacity(t *testing.T) {
	l := New(1000, zerolog.Nop())

	first := l.Info("push", model.ProviderOutlook, "u1", "entry-0")
	for i := 1; i <= 1000; i++ {
		l.Info("push", model.ProviderOutlook, "u1", fmt.Sprintf("entry-%d", i))
	}

	require.Equal(t, 1000, l.Len())
	logs := l.GetLogs(Filter{}, 0)
	require.Len(t, logs, 1000)
	for _, e := range logs {
		assert.NotEqual(t, first.ID, e.ID)
	}
	assert.Equal(t, "entry-1", logs[0].Message)
	assert.Equal(t, "entry-1000", logs[len(logs)-1].Message)
}

func TestLogger_GetLogsFiltersAndLimits(t *testing.T) {
	l := New(10, zerolog.Nop())
	l.Info("push", model.ProviderOutlook, "u1", "o1")
	l.Warn("push", model.ProviderGoogle, "u1", "g1")
	l.Error("pull", model.ProviderOutlook, "u2", "o2", WithError(errors.New("boom")))
	l.Info("push", model.ProviderOutlook, "u1", "o3", WithEventID(7), WithMetadata("status", 201))

	outlook := l.GetLogs(Filter{Provider: model.ProviderOutlook}, 0)
	require.Len(t, outlook, 3)
	assert.Equal(t, []string{"o1", "o2", "o3"}, messages(outlook))

	both := l.GetLogs(Filter{Provider: model.ProviderOutlook, UserID: "u1"}, 0)
	assert.Equal(t, []string{"o1", "o3"}, messages(both))

	recent := l.GetLogs(Filter{}, 2)
	assert.Equal(t, []string{"o2", "o3"}, messages(recent), "most recent, chronological")

	assert.Equal(t, "boom", outlook[1].Error)
	assert.Equal(t, model.LogError, outlook[1].Level)
	require.NotNil(t, outlook[2].EventID)
	assert.Equal(t, int64(7), *outlook[2].EventID)
	assert.Equal(t, 201, outlook[2].Metadata["status"])
	assert.NotEmpty(t, outlook[2].ID)
	assert.False(t, outlook[2].Timestamp.IsZero())

	assert.Empty(t, l.GetLogs(Filter{UserID: "nobody"}, 5))
}

func TestLogger_Clear(t *testing.T) {
	l := New(3, zerolog.Nop())
	for i := 0; i < 5; i++ {
		l.Info("push", model.ProviderGoogle, "u1", "x")
	}
	l.Clear()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.GetLogs(Filter{}, 0))

	l.Info("push", model.ProviderGoogle, "u1", "after")
	assert.Equal(t, []string{"after"}, messages(l.GetLogs(Filter{}, 0)))
}

func TestLogger_ConcurrentAppend(t *testing.T) {
	l := New(50, zerolog.Nop())
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Info("push", model.ProviderOutlook, "u1", "x")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

func TestLogger_MirrorsToZerolog(t *testing.T) {
	var buf bytes.Buffer
	l := New(5, zerolog.New(&buf))
	l.Warn("push", model.ProviderOutlook, "u1", "no mapping", WithEventID(3))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"event_id":3`)
	assert.Contains(t, out, `"message":"no mapping"`)
}

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0, zerolog.Nop()).Capacity())
}

func messages(es []model.SyncLogEntry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Message)
	}
	return out
}
