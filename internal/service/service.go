// Package service implements the counter, hash counter, scanner and fleet
// operations on top of a store topology.
package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MDrooker/rna-stat-manager/internal/config"
	"github.com/MDrooker/rna-stat-manager/internal/keyspace"
	"github.com/MDrooker/rna-stat-manager/internal/metrics"
	"github.com/MDrooker/rna-stat-manager/internal/model"
	"github.com/MDrooker/rna-stat-manager/internal/store"
)

// Options tunes a Service
type Options struct {
	// PageSize is the SCAN COUNT hint, clamped to [MinPageSize, MaxPageSize]
	PageSize int
	// DeleteRate caps pattern deletes in keys per second; 0 is unlimited
	DeleteRate float64

	Workers   int
	QueueSize int

	Metrics         *metrics.Metrics
	OnDispatchError DispatchErrorHook

	// Clock stamps composite Set envelopes; defaults to time.Now
	Clock func() time.Time
}

// Service is the explicitly constructed owner of the counter components.
// All components share the topology's client.
type Service struct {
	Counters *CounterService
	Hashes   *HashCounterService
	Scanner  *ScannerService
	Fleet    *FleetService

	topology     *store.Topology
	keys         *keyspace.KeyNamespace
	d            *dispatcher
	ownsTopology bool
	logger       *zap.Logger
}

// New wires the components over an existing topology. The caller keeps
// ownership of the topology.
func New(topology *store.Topology, keys *keyspace.KeyNamespace, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	d := newDispatcher(opts.Workers, opts.QueueSize, opts.Metrics, opts.OnDispatchError, logger)
	client := topology.Client()

	var limiter *rate.Limiter
	if opts.DeleteRate > 0 {
		burst := int(opts.DeleteRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.DeleteRate), burst)
	}

	counters := &CounterService{client: client, keys: keys, d: d, now: opts.Clock, logger: logger}
	scanner := &ScannerService{
		topology: topology,
		keys:     keys,
		d:        d,
		pageSize: clampPageSize(opts.PageSize),
		limiter:  limiter,
		logger:   logger,
	}

	return &Service{
		Counters: counters,
		Hashes:   &HashCounterService{client: client, keys: keys, d: d, logger: logger},
		Scanner:  scanner,
		Fleet:    &FleetService{counters: counters, scanner: scanner, keys: keys, d: d, logger: logger},
		topology: topology,
		keys:     keys,
		d:        d,
		logger:   logger,
	}
}

// NewFromConfig builds the topology, key namespace and metrics from
// configuration. The returned Service owns the topology and closes it.
// reg may be nil to skip metrics.
func NewFromConfig(cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	topology, err := store.NewTopology(cfg, logger)
	if err != nil {
		return nil, err
	}

	variant, err := model.ParseVariant(cfg.App.KeyVariant)
	if err != nil {
		topology.Close()
		return nil, err
	}
	var nsOpts []keyspace.Option
	if cfg.App.Host != "" {
		nsOpts = append(nsOpts, keyspace.WithHostname(cfg.App.Host))
	}
	keys, err := keyspace.New(cfg.Namespace(), variant, nsOpts...)
	if err != nil {
		topology.Close()
		return nil, err
	}

	var m *metrics.Metrics
	if reg != nil && cfg.Metrics.Enabled {
		m = metrics.NewMetrics(reg)
	}

	svc := New(topology, keys, Options{
		PageSize:   cfg.Scan.PageSize,
		DeleteRate: cfg.Scan.DeleteRate,
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		Metrics:    m,
	}, logger)
	svc.ownsTopology = true

	logger.Info("Stat service initialized",
		zap.String("prefix", keys.Prefix()),
		zap.String("mode", string(topology.Mode())),
		zap.String("hostname", keys.Hostname()))
	return svc, nil
}

// Keys returns the key namespace
func (s *Service) Keys() *keyspace.KeyNamespace {
	return s.keys
}

// Topology returns the store topology
func (s *Service) Topology() *store.Topology {
	return s.topology
}

// Ping checks the store connection
func (s *Service) Ping(ctx context.Context) error {
	return s.topology.Ping(ctx)
}

// Close waits up to timeout for accepted fire-and-forget commands, then
// closes the topology if the Service owns it.
func (s *Service) Close(timeout time.Duration) error {
	err := s.d.stop(timeout)
	if s.ownsTopology {
		if cerr := s.topology.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
