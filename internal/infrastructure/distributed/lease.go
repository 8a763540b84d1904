package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const leasePrefix = "spacecast:lease:"

var ErrLeaseHeld = errors.New("lease held by another instance")

// releaseScript deletes the key only when we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// renewScript extends the TTL only when we still own the key.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// HostLease keeps two processes from hosting a space with the same
// account at once. The holder renews it at half the TTL until Release.
type HostLease struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHostLease(client *redis.Client, name string, ttl time.Duration, logger *zap.Logger) *HostLease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &HostLease{
		client: client,
		key:    leasePrefix + name,
		value:  uuid.NewString(),
		ttl:    ttl,
		logger: logger.Sugar().With("component", "host_lease", "key", leasePrefix+name),
	}
}

// Acquire takes the lease or returns ErrLeaseHeld.
func (l *HostLease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return nil
	}

	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		return ErrLeaseHeld
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.renew(renewCtx, l.done)

	l.logger.Infow("lease acquired", "ttl", l.ttl)
	return nil
}

func (l *HostLease) renew(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
			if err != nil {
				l.logger.Warnw("lease renewal failed", "error", err)
				continue
			}
			if n == 0 {
				l.logger.Warn("lease lost")
				return
			}
		}
	}
}

// Release stops renewal and deletes the key if we still own it.
func (l *HostLease) Release(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	l.logger.Info("lease released")
	return nil
}
