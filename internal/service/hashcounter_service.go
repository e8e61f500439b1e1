package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/keyspace"
	"github.com/MDrooker/rna-stat-manager/internal/model"
)

// HashCounterService performs per-field counter operations on a hash
// record. The TTL covers the whole record.
//
// HINCRBY and EXPIRE go out as one pipeline. The pipeline keeps their
// order but is not a transaction; use AtomicExpiry for MULTI/EXEC.
type HashCounterService struct {
	client redis.UniversalClient
	keys   *keyspace.KeyNamespace
	d      *dispatcher
	logger *zap.Logger
}

// IncrementField adds By(n) (default 1) to one field of the record
func (s *HashCounterService) IncrementField(id model.CounterIdentity, field string, opts ...OpOption) *Op[int64] {
	return s.fieldArith("hincr", id, field, buildOptions(opts), false)
}

// DecrementField subtracts By(n) (default 1) from one field of the record
func (s *HashCounterService) DecrementField(id model.CounterIdentity, field string, opts ...OpOption) *Op[int64] {
	return s.fieldArith("hdecr", id, field, buildOptions(opts), true)
}

func (s *HashCounterService) fieldArith(name string, id model.CounterIdentity, field string, o opOptions, negate bool) *Op[int64] {
	key, err := s.keys.Key(id)
	if err != nil {
		return failedOp[int64](s.d, name, err)
	}
	if field == "" {
		return failedOp[int64](s.d, name, serrors.InvalidIdentity(key, "hash field must not be empty"))
	}

	amount := o.amount
	if negate {
		amount = -amount
	}

	return newOp(s.d, name, key, func(ctx context.Context) (int64, error) {
		var cmd *redis.IntCmd
		batch := func(pipe redis.Pipeliner) error {
			cmd = pipe.HIncrBy(ctx, key, field, amount)
			if o.ttl > 0 {
				pipe.Expire(ctx, key, o.ttl)
			}
			return nil
		}

		var err error
		if o.atomicExpiry {
			_, err = s.client.TxPipelined(ctx, batch)
		} else {
			_, err = s.client.Pipelined(ctx, batch)
		}
		if err != nil {
			if cmd != nil && cmd.Err() == nil {
				s.logger.Warn("Hash field updated but expiry not set",
					zap.String("key", key),
					zap.String("field", field),
					zap.Duration("ttl", o.ttl),
					zap.Error(err))
				return cmd.Val(), serrors.Classify("expire", key, err)
			}
			return 0, serrors.Classify(name, key, err)
		}
		return cmd.Val(), nil
	})
}

// ReadAllFields returns every field of the record. A missing record is an
// empty map.
func (s *HashCounterService) ReadAllFields(ctx context.Context, id model.CounterIdentity) (fields map[string]int64, err error) {
	key, err := s.keys.Key(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		s.d.metrics.RecordOperation("hgetall", time.Since(start), errorType(err))
	}()

	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, serrors.Classify("hgetall", key, err)
	}

	fields = make(map[string]int64, len(raw))
	for f, v := range raw {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return nil, serrors.CorruptedValue(key, v, perr).WithDetail("field", f)
		}
		fields[f] = n
	}
	return fields, nil
}

// DeleteField removes one field and returns the number of fields removed
func (s *HashCounterService) DeleteField(id model.CounterIdentity, field string) *Op[int64] {
	key, err := s.keys.Key(id)
	if err != nil {
		return failedOp[int64](s.d, "hdel", err)
	}
	if field == "" {
		return failedOp[int64](s.d, "hdel", serrors.InvalidIdentity(key, "hash field must not be empty"))
	}

	return newOp(s.d, "hdel", key, func(ctx context.Context) (int64, error) {
		n, err := s.client.HDel(ctx, key, field).Result()
		if err != nil {
			return 0, serrors.Classify("hdel", key, err)
		}
		return n, nil
	})
}
