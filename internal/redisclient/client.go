// Package redisclient constructs the shared-store client and tracks its
// reachability. The client is built once in main and handed to components;
// there is no package-level singleton.
package redisclient

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/config"
	"github.com/mossy-p/roomdrop/internal/retry"
)

// Connect builds a client and verifies the backend answers. A failed ping
// is returned to the caller, who decides whether to run degraded.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Monitor probes the backend on the injected backoff policy and exposes the
// result to the readiness endpoint. Reachability changes are logged once
// per transition.
type Monitor struct {
	client    *redis.Client
	policy    retry.Policy
	logger    *zap.Logger
	reachable atomic.Bool
}

func NewMonitor(client *redis.Client, policy retry.Policy, logger *zap.Logger) *Monitor {
	m := &Monitor{client: client, policy: policy, logger: logger}
	return m
}

// Reachable reports the result of the most recent probe.
func (m *Monitor) Reachable() bool {
	return m.reachable.Load()
}

// Run probes until ctx is cancelled. Probe spacing follows the policy's
// backoff while the backend is down, resetting once it answers.
func (m *Monitor) Run(ctx context.Context) {
	attempt := 0
	for {
		err := m.client.Ping(ctx).Err()
		if err == nil {
			if m.reachable.CompareAndSwap(false, true) {
				m.logger.Info("shared store reachable")
			}
			attempt = 0
		} else {
			if m.reachable.CompareAndSwap(true, false) {
				m.logger.Warn("shared store unreachable", zap.Error(err))
			}
			attempt++
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.policy.Delay(attempt)):
		}
	}
}
