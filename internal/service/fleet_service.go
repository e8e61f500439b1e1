package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MDrooker/rna-stat-manager/internal/keyspace"
	"github.com/MDrooker/rna-stat-manager/internal/model"
)

// FleetService holds the fleet-level consumers built on the scanner:
// per-host online markers, the online census and instance teardown.
type FleetService struct {
	counters *CounterService
	scanner  *ScannerService
	keys     *keyspace.KeyNamespace
	d        *dispatcher
	logger   *zap.Logger
}

func (s *FleetService) onlineIdentity(host string) (model.CounterIdentity, error) {
	if host == "" {
		return model.NewScoped(keyspace.OnlineType, keyspace.OnlineName, model.WithLocalHost())
	}
	return model.NewScoped(keyspace.OnlineType, keyspace.OnlineName, model.WithHost(host))
}

// MarkOnline writes the host's online marker with the given expiry.
// An empty host means this machine.
func (s *FleetService) MarkOnline(host string, ttl time.Duration) *Op[Ack] {
	id, err := s.onlineIdentity(host)
	if err != nil {
		return failedOp[Ack](s.d, "set", err)
	}
	return s.counters.Set(id, 1, WithTTL(ttl))
}

// MarkOffline removes the host's online marker
func (s *FleetService) MarkOffline(host string) *Op[int64] {
	id, err := s.onlineIdentity(host)
	if err != nil {
		return failedOp[int64](s.d, "del", err)
	}
	return s.counters.Delete(id)
}

// OnlineCount returns how many online markers currently exist. It counts
// keys, not values, and is only as fresh as the markers' expiry.
func (s *FleetService) OnlineCount(ctx context.Context) (int64, error) {
	res, err := s.scanner.Scan(ctx, s.keys.OnlinePattern())
	if err != nil {
		return 0, err
	}
	n := int64(res.Count)
	s.d.metrics.RecordOnline(n)
	return n, nil
}

// PurgeInstance removes every counter scoped to instanceID, for use when
// an application instance shuts down.
func (s *FleetService) PurgeInstance(ctx context.Context, instanceID string) (int64, error) {
	pattern, err := s.keys.InstancePattern(instanceID)
	if err != nil {
		return 0, err
	}

	n, err := s.scanner.DeleteMatching(ctx, pattern)
	if err != nil {
		return n, err
	}
	s.logger.Info("Instance counters purged",
		zap.String("instance_id", instanceID),
		zap.Int64("deleted", n))
	return n, nil
}
