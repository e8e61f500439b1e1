package service

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/keyspace"
	"github.com/MDrooker/rna-stat-manager/internal/model"
	"github.com/MDrooker/rna-stat-manager/internal/store"
)

// Page size bounds for SCAN COUNT hints
const (
	MinPageSize     = 100
	MaxPageSize     = 1000
	DefaultPageSize = 500
)

// ScanResult is the outcome of a full pattern scan
type ScanResult struct {
	Count int
	Keys  []string
}

// ScannerService enumerates keys by glob pattern with SCAN.
//
// Enumeration is weak: a key created or removed while a scan runs may or
// may not be visited. Scans are refused on cluster topologies because a
// single node only sees its own shard.
type ScannerService struct {
	topology *store.Topology
	keys     *keyspace.KeyNamespace
	d        *dispatcher
	pageSize int64
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func clampPageSize(n int) int64 {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n < MinPageSize:
		return MinPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return int64(n)
}

func (s *ScannerService) check(operation, pattern string) error {
	if s.topology.IsCluster() {
		return serrors.UnsupportedInTopology(operation, string(s.topology.Mode()))
	}
	if !s.keys.Owns(pattern) {
		return serrors.InvalidIdentity(pattern, "pattern must start with "+s.keys.Prefix())
	}
	if !model.ContainsGlob(pattern) {
		return serrors.InvalidIdentity(pattern, "scan pattern needs a wildcard")
	}
	return nil
}

// pages walks the keyspace one SCAN page at a time until the cursor
// returns to zero or yield asks to stop.
func (s *ScannerService) pages(ctx context.Context, operation, pattern string, yield func([]string) bool) error {
	client := s.topology.Client()
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, s.pageSize).Result()
		if err != nil {
			return serrors.Classify("scan", pattern, err)
		}
		s.d.metrics.RecordScanPage(operation, len(keys))

		if len(keys) > 0 && !yield(keys) {
			return nil
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Keys iterates the distinct keys matching pattern. An error is yielded
// once as the final element.
func (s *ScannerService) Keys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := s.check("scan", pattern); err != nil {
			yield("", err)
			return
		}

		seen := make(map[string]struct{})
		stopped := false
		err := s.pages(ctx, "scan", pattern, func(page []string) bool {
			for _, k := range page {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				if !yield(k, nil) {
					stopped = true
					return false
				}
			}
			return true
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// Scan collects every distinct key matching pattern. Keys are in SCAN
// order and Count equals len(Keys) regardless of page size.
func (s *ScannerService) Scan(ctx context.Context, pattern string) (result ScanResult, err error) {
	start := time.Now()
	defer func() {
		s.d.metrics.RecordOperation("scan", time.Since(start), errorType(err))
	}()

	var keys []string
	for k, kerr := range s.Keys(ctx, pattern) {
		if kerr != nil {
			return ScanResult{}, kerr
		}
		keys = append(keys, k)
	}
	return ScanResult{Count: len(keys), Keys: keys}, nil
}

// ScanIdentity scans the pattern a wildcard identity resolves to
func (s *ScannerService) ScanIdentity(ctx context.Context, id model.CounterIdentity) (ScanResult, error) {
	pattern, err := s.keys.Pattern(id)
	if err != nil {
		return ScanResult{}, err
	}
	return s.Scan(ctx, pattern)
}

// DeleteMatching removes every key matching pattern, one DEL per key, and
// returns how many keys were removed. Deletes are not batched and not
// atomic with respect to concurrent writers.
func (s *ScannerService) DeleteMatching(ctx context.Context, pattern string) (deleted int64, err error) {
	start := time.Now()
	defer func() {
		s.d.metrics.RecordOperation("delete_matching", time.Since(start), errorType(err))
		s.d.metrics.RecordDeleted(deleted)
	}()

	if err := s.check("delete_matching", pattern); err != nil {
		return 0, err
	}

	client := s.topology.Client()
	var delErr error
	err = s.pages(ctx, "delete_matching", pattern, func(page []string) bool {
		for _, k := range page {
			if s.limiter != nil {
				if werr := s.limiter.Wait(ctx); werr != nil {
					delErr = serrors.StoreUnavailable("delete throttled", werr).WithDetail("key", k)
					return false
				}
			}
			n, derr := client.Del(ctx, k).Result()
			if derr != nil {
				delErr = serrors.Classify("del", k, derr)
				return false
			}
			deleted += n
		}
		return true
	})
	if err == nil {
		err = delErr
	}
	if err != nil {
		return deleted, err
	}

	s.logger.Debug("Deleted keys by pattern",
		zap.String("pattern", pattern),
		zap.Int64("deleted", deleted))
	return deleted, nil
}
