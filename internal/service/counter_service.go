package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/keyspace"
	"github.com/MDrooker/rna-stat-manager/internal/model"
)

// Ack acknowledges a write that has no numeric result
type Ack struct {
	Key string
}

// Envelope is the stored shape of composite values written by Set.
// SetTime is advisory and expressed in Unix milliseconds.
type Envelope struct {
	Value   json.RawMessage `json:"value"`
	SetTime int64           `json:"setTime"`
}

// Decode unmarshals the enveloped value into dst
func (e *Envelope) Decode(dst interface{}) error {
	return json.Unmarshal(e.Value, dst)
}

// CounterService performs scalar counter operations.
//
// Increment and Decrement with a TTL are two commands (INCRBY then EXPIRE)
// unless AtomicExpiry is given: a crash between them leaves the counter
// without an expiry.
type CounterService struct {
	client redis.UniversalClient
	keys   *keyspace.KeyNamespace
	d      *dispatcher
	now    func() time.Time
	logger *zap.Logger
}

// Get returns the counter value. found is false if the key does not exist.
func (s *CounterService) Get(ctx context.Context, id model.CounterIdentity) (value int64, found bool, err error) {
	key, err := s.keys.Key(id)
	if err != nil {
		return 0, false, err
	}

	start := time.Now()
	defer func() {
		s.d.metrics.RecordOperation("get", time.Since(start), errorType(err))
	}()

	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, serrors.Classify("get", key, err)
	}

	n, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return 0, true, serrors.CorruptedValue(key, raw, perr)
	}
	return n, true, nil
}

// GetRecord returns the stored value as an envelope. Scalars written by
// Set or by arithmetic come back with a zero SetTime.
func (s *CounterService) GetRecord(ctx context.Context, id model.CounterIdentity) (*Envelope, bool, error) {
	key, err := s.keys.Key(id)
	if err != nil {
		return nil, false, err
	}

	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, serrors.Classify("get", key, err)
	}

	var env Envelope
	if json.Unmarshal(raw, &env) == nil && env.Value != nil {
		return &env, true, nil
	}
	if json.Valid(raw) {
		return &Envelope{Value: json.RawMessage(raw)}, true, nil
	}
	quoted, _ := json.Marshal(string(raw))
	return &Envelope{Value: quoted}, true, nil
}

// Increment adds By(n) (default 1) to the counter, creating it at n
func (s *CounterService) Increment(id model.CounterIdentity, opts ...OpOption) *Op[int64] {
	return s.arith("incr", id, buildOptions(opts), false)
}

// Decrement subtracts By(n) (default 1) from the counter
func (s *CounterService) Decrement(id model.CounterIdentity, opts ...OpOption) *Op[int64] {
	return s.arith("decr", id, buildOptions(opts), true)
}

func (s *CounterService) arith(name string, id model.CounterIdentity, o opOptions, negate bool) *Op[int64] {
	key, err := s.keys.Key(id)
	if err != nil {
		return failedOp[int64](s.d, name, err)
	}

	return newOp(s.d, name, key, func(ctx context.Context) (int64, error) {
		if o.ttl > 0 && o.atomicExpiry {
			return s.arithWithExpiry(ctx, name, key, o, negate)
		}

		var cmd *redis.IntCmd
		if negate {
			cmd = s.client.DecrBy(ctx, key, o.amount)
		} else {
			cmd = s.client.IncrBy(ctx, key, o.amount)
		}
		n, err := cmd.Result()
		if err != nil {
			return 0, serrors.Classify(name, key, err)
		}

		if o.ttl > 0 {
			// the arithmetic has been applied; the value is returned with the error
			if err := s.client.Expire(ctx, key, o.ttl).Err(); err != nil {
				s.logger.Warn("Counter updated but expiry not set",
					zap.String("key", key),
					zap.Duration("ttl", o.ttl),
					zap.Error(err))
				return n, serrors.Classify("expire", key, err)
			}
		}
		return n, nil
	})
}

func (s *CounterService) arithWithExpiry(ctx context.Context, name, key string, o opOptions, negate bool) (int64, error) {
	var cmd *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if negate {
			cmd = pipe.DecrBy(ctx, key, o.amount)
		} else {
			cmd = pipe.IncrBy(ctx, key, o.amount)
		}
		pipe.Expire(ctx, key, o.ttl)
		return nil
	})
	if err != nil {
		return 0, serrors.Classify(name, key, err)
	}
	return cmd.Val(), nil
}

// Set overwrites the counter. Scalars are stored as their text form;
// anything else is stored as a JSON envelope {value, setTime}.
func (s *CounterService) Set(id model.CounterIdentity, value interface{}, opts ...OpOption) *Op[Ack] {
	key, err := s.keys.Key(id)
	if err != nil {
		return failedOp[Ack](s.d, "set", err)
	}

	o := buildOptions(opts)
	payload, err := s.encode(value)
	if err != nil {
		return failedOp[Ack](s.d, "set", serrors.InvalidValue(key, err))
	}

	ttl := o.ttl
	if ttl < 0 {
		ttl = 0
	}
	return newOp(s.d, "set", key, func(ctx context.Context) (Ack, error) {
		if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
			return Ack{}, serrors.Classify("set", key, err)
		}
		return Ack{Key: key}, nil
	})
}

func (s *CounterService) encode(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", fmt.Errorf("value must not be nil")
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.Number:
		return v.String(), nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.String:
		return rv.String(), nil
	}

	inner, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("value is not encodable: %w", err)
	}
	env, err := json.Marshal(Envelope{Value: inner, SetTime: s.now().UnixMilli()})
	if err != nil {
		return "", err
	}
	return string(env), nil
}

// Delete removes the counter and returns the number of keys removed
func (s *CounterService) Delete(id model.CounterIdentity) *Op[int64] {
	key, err := s.keys.Key(id)
	if err != nil {
		return failedOp[int64](s.d, "del", err)
	}

	return newOp(s.d, "del", key, func(ctx context.Context) (int64, error) {
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return 0, serrors.Classify("del", key, err)
		}
		return n, nil
	})
}

// TTL returns the remaining expiry of the counter. A negative duration
// means the key has no expiry; found is false when the key is missing.
func (s *CounterService) TTL(ctx context.Context, id model.CounterIdentity) (ttl time.Duration, found bool, err error) {
	key, err := s.keys.Key(id)
	if err != nil {
		return 0, false, err
	}
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, serrors.Classify("ttl", key, err)
	}
	// go-redis reports -2 (missing) and -1 (no expiry) as raw nanosecond values
	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return -1, true, nil
	}
	return d, true, nil
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	return serrors.GetCode(err).String()
}
