package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/model"
)

func TestCounterService_SetThenGet(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("count", "subs")

	ack, err := env.svc.Counters.Set(id, 42).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, testPrefix+":count:subs", ack.Key)

	v, found, err := env.svc.Counters.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), v)
}

func TestCounterService_GetMissingIsAbsent(t *testing.T) {
	env := newTestEnv(t, nil)

	v, found, err := env.svc.Counters.Get(ctxWithTimeout(t), model.MustGlobal("count", "nothing"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, v)
}

func TestCounterService_GetNonInteger(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.mr.Set(testPrefix+":count:subs", "abc"))

	_, found, err := env.svc.Counters.Get(ctxWithTimeout(t), model.MustGlobal("count", "subs"))
	require.Error(t, err)
	assert.True(t, found)
	assert.ErrorIs(t, err, serrors.ErrCorruptedValue)
}

func TestCounterService_IncrementAndDecrement(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustScoped("count", "subs", model.WithInstance("i-1"))

	n, err := env.svc.Counters.Increment(id).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = env.svc.Counters.Increment(id, By(5)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	n, err = env.svc.Counters.Decrement(id, By(2)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = env.svc.Counters.Decrement(id).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	raw, err := env.mr.Get(testPrefix + ":count:subs:i-1")
	require.NoError(t, err)
	assert.Equal(t, "3", raw)
}

func TestCounterService_ConcurrentIncrementsAccumulate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("count", "hits")

	const n = 50
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := env.svc.Counters.Increment(id).Await(gctx)
			return err
		})
	}
	require.NoError(t, g.Wait())

	v, found, err := env.svc.Counters.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(n), v)
}

func TestCounterService_IncrementWithTTLExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustScoped("count", "online", model.WithLocalHost())

	_, err := env.svc.Counters.Increment(id, WithTTL(time.Second)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second, env.mr.TTL(testPrefix+":count:online:h1"))

	ttl, found, err := env.svc.Counters.TTL(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, time.Second, ttl)

	env.mr.FastForward(2 * time.Second)

	_, found, err = env.svc.Counters.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = env.svc.Counters.TTL(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCounterService_AtomicExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("count", "subs")

	n, err := env.svc.Counters.Increment(id, By(3), WithTTL(time.Minute), AtomicExpiry()).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, time.Minute, env.mr.TTL(testPrefix+":count:subs"))

	n, err = env.svc.Counters.Decrement(id, WithTTL(2*time.Minute), AtomicExpiry()).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2*time.Minute, env.mr.TTL(testPrefix+":count:subs"))
}

func TestCounterService_NoTTLLeavesNoExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("count", "subs")

	_, err := env.svc.Counters.Increment(id).Await(ctx)
	require.NoError(t, err)

	ttl, found, err := env.svc.Counters.TTL(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, time.Duration(-1), ttl)
}

func TestCounterService_SetComposite(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("state", "last-deploy")

	type deploy struct {
		Version string `json:"version"`
		Nodes   int    `json:"nodes"`
	}
	_, err := env.svc.Counters.Set(id, deploy{Version: "1.2.3", Nodes: 4}, WithTTL(time.Hour)).Await(ctx)
	require.NoError(t, err)

	raw, err := env.mr.Get(testPrefix + ":state:last-deploy")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":{"version":"1.2.3","nodes":4},"setTime":`+
		itoa(fixedNow.UnixMilli())+`}`, raw)
	assert.Equal(t, time.Hour, env.mr.TTL(testPrefix+":state:last-deploy"))

	rec, found, err := env.svc.Counters.GetRecord(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fixedNow.UnixMilli(), rec.SetTime)

	var got deploy
	require.NoError(t, rec.Decode(&got))
	assert.Equal(t, deploy{Version: "1.2.3", Nodes: 4}, got)

	_, _, err = env.svc.Counters.Get(ctx, id)
	assert.ErrorIs(t, err, serrors.ErrCorruptedValue)
}

func TestCounterService_SetRejectsUnencodableValue(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("state", "broken")

	_, err := env.svc.Counters.Set(id, make(chan int)).Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidValue)
	assert.NotErrorIs(t, err, serrors.ErrInvalidIdentity)

	_, err = env.svc.Counters.Set(id, nil).Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidValue)

	assert.False(t, env.mr.Exists(testPrefix+":state:broken"))
}

func TestCounterService_SetScalars(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)

	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"int", 7, "7"},
		{"int64", int64(-3), "-3"},
		{"uint", uint8(9), "9"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := model.MustGlobal("scalar", tt.name)
			_, err := env.svc.Counters.Set(id, tt.value).Await(ctx)
			require.NoError(t, err)

			raw, err := env.mr.Get(testPrefix + ":scalar:" + tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, raw)
		})
	}

	rec, found, err := env.svc.Counters.GetRecord(ctx, model.MustGlobal("scalar", "string"))
	require.NoError(t, err)
	require.True(t, found)
	var s string
	require.NoError(t, rec.Decode(&s))
	assert.Equal(t, "hello", s)
	assert.Zero(t, rec.SetTime)

	_, err = env.svc.Counters.Set(model.MustGlobal("scalar", "nil"), nil).Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)
}

func TestCounterService_Delete(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("count", "subs")

	_, err := env.svc.Counters.Increment(id).Await(ctx)
	require.NoError(t, err)

	n, err := env.svc.Counters.Delete(id).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = env.svc.Counters.Delete(id).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCounterService_RejectsWildcardIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("count", model.Wildcard)

	_, err := env.svc.Counters.Increment(id).Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	_, err = env.svc.Counters.Set(id, 1).Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	_, err = env.svc.Counters.Delete(id).Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	_, _, err = env.svc.Counters.Get(ctx, id)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	assert.Empty(t, env.mr.Keys())
}

func TestCounterService_FireAndForget(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("count", "subs")

	handle := env.svc.Counters.Increment(id, By(2)).FireAndForget(ctx)
	assert.Equal(t, "incr", handle.Operation())
	assert.Equal(t, testPrefix+":count:subs", handle.Key())

	v, err := handle.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.True(t, handle.Settled())

	raw, err := env.mr.Get(testPrefix + ":count:subs")
	require.NoError(t, err)
	assert.Equal(t, "2", raw)
}

func TestCounterService_FireAndForgetSurvivesCallerCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	id := model.MustGlobal("count", "subs")

	callerCtx, cancel := context.WithCancel(context.Background())
	handle := env.svc.Counters.Increment(id).FireAndForget(callerCtx)
	cancel()

	v, err := handle.Wait(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestCounterService_FireAndForgetErrorsReachHook(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []error
	)
	env := newTestEnv(t, func(o *Options) {
		o.OnDispatchError = func(operation, key string, err error) {
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
		}
	})
	ctx := ctxWithTimeout(t)

	// rejected before dispatch
	bad := env.svc.Counters.Increment(model.MustGlobal("count", "*")).FireAndForget(ctx)
	assert.True(t, bad.Settled())
	_, err := bad.Wait(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	// failed in the store
	env.mr.Close()
	handle := env.svc.Counters.Increment(model.MustGlobal("count", "subs")).FireAndForget(ctx)
	_, err = handle.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrStoreUnavailable)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCounterService_StoreDownIsStoreUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mr.Close()

	_, _, err := env.svc.Counters.Get(ctxWithTimeout(t), model.MustGlobal("count", "subs"))
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrStoreUnavailable)
}

func TestCounterService_WrongTypeIsCommandFailed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mr.HSet(testPrefix+":count:subs", "a", "1")

	_, err := env.svc.Counters.Increment(model.MustGlobal("count", "subs")).Await(ctxWithTimeout(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrCommandFailed)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
