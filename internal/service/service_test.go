package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MDrooker/rna-stat-manager/internal/keyspace"
	"github.com/MDrooker/rna-stat-manager/internal/metrics"
	"github.com/MDrooker/rna-stat-manager/internal/model"
	"github.com/MDrooker/rna-stat-manager/internal/store"
)

const testPrefix = "app:x:y:z:stat"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc     *Service
	mr      *miniredis.Miniredis
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	topo := store.NewTopologyFromClient(client, zap.NewNop())

	keys, err := keyspace.New(model.Namespace{System: "x", Product: "y", Environment: "z"},
		model.VariantStat, keyspace.WithHostname("h1"))
	require.NoError(t, err)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	opts := Options{
		PageSize:  100,
		Workers:   2,
		QueueSize: 64,
		Metrics:   m,
		Clock:     func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc := New(topo, keys, opts, zap.NewNop())
	t.Cleanup(func() {
		_ = svc.Close(time.Second)
		_ = client.Close()
	})
	return &testEnv{svc: svc, mr: mr, metrics: m}
}

func newClusterService(t *testing.T) *Service {
	t.Helper()

	client := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{"127.0.0.1:1"}})
	topo := store.NewTopologyFromClient(client, nil)
	keys, err := keyspace.New(model.Namespace{System: "x", Product: "y", Environment: "z"}, model.VariantStat)
	require.NoError(t, err)

	svc := New(topo, keys, Options{Workers: 1, QueueSize: 1}, nil)
	t.Cleanup(func() {
		_ = svc.Close(time.Second)
		_ = client.Close()
	})
	return svc
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

func mustPort(t *testing.T, raw string) int {
	t.Helper()
	port, err := strconv.Atoi(raw)
	require.NoError(t, err)
	return port
}
