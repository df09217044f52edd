package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/calsync/internal/health"
	"github.com/mycelian/calsync/internal/model"
)

// NewStoreHealthChecker returns a checker named "store" that pings s.
func NewStoreHealthChecker(s Store, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	return health.NewPingChecker("store", pingFunc(s), probeTimeout, log)
}

// pingFunc prefers the store's own HealthPing. Otherwise it issues a read
// that cannot match; a miss still proves the database answered.
func pingFunc(s Store) func(context.Context) error {
	if p, ok := s.(health.HealthPinger); ok {
		return p.HealthPing
	}
	return func(ctx context.Context) error {
		_, err := s.Calendars().Default(ctx, "__health_check__")
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
}
