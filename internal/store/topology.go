// Package store adapts the Redis client to the configured deployment topology.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MDrooker/rna-stat-manager/internal/config"
	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
)

// Mode is the deployment shape of the backing store
type Mode string

const (
	ModeSingle  Mode = "single"
	ModeCluster Mode = "cluster"
)

const (
	connectBackoff    = 50 * time.Millisecond
	maxConnectBackoff = time.Second
)

// Topology owns the store connection and reports which mode it runs in.
// The mode is fixed at construction; there is no failover between modes.
type Topology struct {
	client redis.UniversalClient
	mode   Mode
	logger *zap.Logger
}

// NewTopology builds a single-node or cluster client from configuration.
// The connection is established lazily; call Ping to verify it.
func NewTopology(cfg *config.Config, logger *zap.Logger) (*Topology, error) {
	if cfg == nil {
		return nil, serrors.Configuration("config", "is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsCluster() {
		addrs := make([]string, 0, len(cfg.ClusterNodes))
		for _, n := range cfg.ClusterNodes {
			addrs = append(addrs, n.Addr())
		}
		client := redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       addrs,
			Password:    cfg.Redis.Password,
			DialTimeout: cfg.ConnectTimeout(),
			MaxRetries:  cfg.Redis.MaxRetries,
			PoolSize:    cfg.Redis.PoolSize,
		})
		logger.Info("Redis cluster client created",
			zap.Strings("nodes", addrs),
			zap.Duration("connect_timeout", cfg.ConnectTimeout()))
		return &Topology{client: client, mode: ModeCluster, logger: logger}, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.ConnectTimeout(),
		MaxRetries:  cfg.Redis.MaxRetries,
		PoolSize:    cfg.Redis.PoolSize,
	})
	logger.Info("Redis client created",
		zap.String("addr", addr),
		zap.Int("db", cfg.Redis.DB),
		zap.Duration("connect_timeout", cfg.ConnectTimeout()))
	return &Topology{client: client, mode: ModeSingle, logger: logger}, nil
}

// NewTopologyFromClient wraps an already connected client. The mode is
// derived from the concrete client type.
func NewTopologyFromClient(client redis.UniversalClient, logger *zap.Logger) *Topology {
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := ModeSingle
	if _, ok := client.(*redis.ClusterClient); ok {
		mode = ModeCluster
	}
	return &Topology{client: client, mode: mode, logger: logger}
}

// Client returns the shared, goroutine-safe client handle
func (t *Topology) Client() redis.UniversalClient {
	return t.client
}

// Mode returns the topology mode
func (t *Topology) Mode() Mode {
	return t.mode
}

// IsCluster reports whether the store is sharded across nodes
func (t *Topology) IsCluster() bool {
	return t.mode == ModeCluster
}

// Ping checks the store connection
func (t *Topology) Ping(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return serrors.StoreUnavailable("failed to connect to Redis", err).
			WithDetail("mode", string(t.mode))
	}
	return nil
}

// Connect pings the store until it answers or timeout elapses, backing
// off between attempts. The last ping error is returned on timeout.
func (t *Topology) Connect(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := connectBackoff
	for attempt := 1; ; attempt++ {
		err := t.Ping(ctx)
		if err == nil {
			t.logger.Info("Redis connection verified",
				zap.String("mode", string(t.mode)),
				zap.Int("attempts", attempt))
			return nil
		}
		t.logger.Debug("Redis not reachable yet",
			zap.String("mode", string(t.mode)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxConnectBackoff {
			backoff = maxConnectBackoff
		}
	}
}

// Close closes the client
func (t *Topology) Close() error {
	return t.client.Close()
}
