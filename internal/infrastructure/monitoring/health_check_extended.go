package monitoring

import (
	"context"
	"fmt"
	"time"

	"spacecast/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// StateReporter is anything that exposes a session lifecycle state.
type StateReporter interface {
	State() domain.SessionState
}

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddSpaceCheck passes while the space is initializing or ready.
func (h *HealthChecker) AddSpaceCheck(space StateReporter) {
	h.AddCheck("space", func(ctx context.Context) (bool, error) {
		switch state := space.State(); state {
		case domain.StateInitializing, domain.StateReady:
			return true, nil
		default:
			return false, fmt.Errorf("space is %s", state)
		}
	}, 0)
}
