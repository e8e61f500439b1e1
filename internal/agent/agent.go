// Package agent runs the per-host heartbeat process: it keeps this host's
// online marker alive, tracks the fleet census, serves probes and metrics,
// and removes its own instance counters on shutdown.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MDrooker/rna-stat-manager/internal/config"
	"github.com/MDrooker/rna-stat-manager/internal/health"
	"github.com/MDrooker/rna-stat-manager/internal/model"
	"github.com/MDrooker/rna-stat-manager/internal/server"
	"github.com/MDrooker/rna-stat-manager/internal/service"
)

// Counter names written by the agent
const (
	HeartbeatType = "count"
	HeartbeatName = "heartbeats"
)

// Agent owns the heartbeat loops and the HTTP listener
type Agent struct {
	svc        *service.Service
	cfg        config.AgentConfig
	instanceID string
	http       *server.Server
	health     *health.HealthChecker
	logger     *zap.Logger

	mu            sync.RWMutex
	lastHeartbeat time.Time
	lastOnline    int64
	pending       *service.InFlight[int64]
}

// New builds an agent. A blank instance ID in cfg is replaced with a
// random UUID.
func New(svc *service.Service, cfg *config.Config, gatherer prometheus.Gatherer, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	instanceID := cfg.Agent.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	agentCfg := cfg.Agent
	if agentCfg.HeartbeatInterval <= 0 {
		agentCfg.HeartbeatInterval = 10 * time.Second
	}

	a := &Agent{
		svc:        svc,
		cfg:        agentCfg,
		instanceID: instanceID,
		logger:     logger.With(zap.String("instance_id", instanceID)),
	}

	a.health = health.NewHealthChecker(5*time.Second, a.logger)
	a.health.Register("store", svc)
	a.health.Register("heartbeat", health.PingFunc(a.checkHeartbeat))

	a.http = server.NewServer(server.Config{
		Listen:         agentCfg.Listen,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	}, a.health, gatherer, a.logger)
	return a
}

// InstanceID returns the ID this agent scopes its counters under
func (a *Agent) InstanceID() string {
	return a.instanceID
}

// Health returns the agent's health checker
func (a *Agent) Health() *health.HealthChecker {
	return a.health
}

// LastOnline returns the most recent fleet online count
func (a *Agent) LastOnline() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastOnline
}

func (a *Agent) checkHeartbeat(context.Context) error {
	a.mu.RLock()
	last := a.lastHeartbeat
	a.mu.RUnlock()

	if last.IsZero() {
		return errors.New("no heartbeat yet")
	}
	if age := time.Since(last); a.cfg.OnlineTTL > 0 && age > a.cfg.OnlineTTL {
		return fmt.Errorf("last heartbeat %s ago", age.Round(time.Millisecond))
	}
	return nil
}

// Heartbeat refreshes this host's online marker and bumps the instance
// heartbeat counter.
func (a *Agent) Heartbeat(ctx context.Context) error {
	if _, err := a.svc.Fleet.MarkOnline("", a.cfg.OnlineTTL).Await(ctx); err != nil {
		return err
	}

	id, err := model.NewScoped(HeartbeatType, HeartbeatName, model.WithInstance(a.instanceID))
	if err != nil {
		return err
	}
	// the counter is informational; failures surface through the dispatch hook
	pending := a.svc.Counters.Increment(id, service.WithTTL(a.cfg.OnlineTTL)).FireAndForget(ctx)

	a.mu.Lock()
	a.lastHeartbeat = time.Now()
	a.pending = pending
	a.mu.Unlock()
	return nil
}

// RefreshOnline reads the fleet census
func (a *Agent) RefreshOnline(ctx context.Context) (int64, error) {
	n, err := a.svc.Fleet.OnlineCount(ctx)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.lastOnline = n
	a.mu.Unlock()
	return n, nil
}

func (a *Agent) loop(ctx context.Context, name string, fn func(context.Context) error) error {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("Agent loop iteration failed", zap.String("loop", name), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Run serves until ctx is cancelled, then shuts down the listener and
// purges this instance's counters. l may be nil to listen on the
// configured address.
func (a *Agent) Run(ctx context.Context, l net.Listener) error {
	if l == nil {
		var err error
		l, err = net.Listen("tcp", a.cfg.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.Listen, err)
		}
	}

	a.logger.Info("Agent starting",
		zap.String("listen", l.Addr().String()),
		zap.Duration("heartbeat_interval", a.cfg.HeartbeatInterval),
		zap.Duration("online_ttl", a.cfg.OnlineTTL))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.loop(gctx, "heartbeat", a.Heartbeat)
	})
	g.Go(func() error {
		return a.loop(gctx, "online", func(ctx context.Context) error {
			_, err := a.RefreshOnline(ctx)
			return err
		})
	})
	g.Go(func() error {
		return a.http.Serve(l)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return a.http.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	return errors.Join(runErr, a.teardown())
}

func (a *Agent) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return 10 * time.Second
}

// teardown runs on a fresh context since the run context is already done
func (a *Agent) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	a.mu.RLock()
	pending := a.pending
	a.mu.RUnlock()
	if pending != nil {
		// let the last heartbeat increment land before purging
		_, _ = pending.Wait(ctx)
	}

	purged, err := a.svc.Fleet.PurgeInstance(ctx, a.instanceID)
	if err != nil {
		a.logger.Error("Failed to purge instance counters", zap.Error(err))
	}
	if _, oerr := a.svc.Fleet.MarkOffline("").Await(ctx); oerr != nil {
		a.logger.Error("Failed to clear online marker", zap.Error(oerr))
		err = errors.Join(err, oerr)
	}

	a.logger.Info("Agent stopped", zap.Int64("purged", purged))
	return err
}
