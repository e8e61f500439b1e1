package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/model"
)

func TestHashCounterService_FieldsAreIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("hash", "requests")

	n, err := env.svc.Hashes.IncrementField(id, "a").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = env.svc.Hashes.IncrementField(id, "b", By(10)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	n, err = env.svc.Hashes.IncrementField(id, "a", By(2)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = env.svc.Hashes.DecrementField(id, "b", By(4)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	fields, err := env.svc.Hashes.ReadAllFields(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a": 3, "b": 6}, fields)
}

func TestHashCounterService_TTLCoversRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustScoped("hash", "requests", model.WithLocalHost())
	key := testPrefix + ":hash:requests:h1"

	_, err := env.svc.Hashes.IncrementField(id, "a", WithTTL(30*time.Second)).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, env.mr.TTL(key))

	_, err = env.svc.Hashes.IncrementField(id, "b", WithTTL(time.Minute), AtomicExpiry()).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, env.mr.TTL(key))

	env.mr.FastForward(2 * time.Minute)

	fields, err := env.svc.Hashes.ReadAllFields(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestHashCounterService_MissingRecordIsEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	fields, err := env.svc.Hashes.ReadAllFields(ctxWithTimeout(t), model.MustGlobal("hash", "none"))
	require.NoError(t, err)
	assert.NotNil(t, fields)
	assert.Empty(t, fields)
}

func TestHashCounterService_DeleteField(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("hash", "requests")

	_, err := env.svc.Hashes.IncrementField(id, "a").Await(ctx)
	require.NoError(t, err)
	_, err = env.svc.Hashes.IncrementField(id, "b").Await(ctx)
	require.NoError(t, err)

	n, err := env.svc.Hashes.DeleteField(id, "a").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	fields, err := env.svc.Hashes.ReadAllFields(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"b": 1}, fields)
}

func TestHashCounterService_InvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)

	_, err := env.svc.Hashes.IncrementField(model.MustGlobal("hash", "requests"), "").Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	_, err = env.svc.Hashes.IncrementField(model.MustGlobal("hash", "*"), "a").Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	_, err = env.svc.Hashes.DeleteField(model.MustGlobal("hash", "requests"), "").Await(ctx)
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)

	_, err = env.svc.Hashes.ReadAllFields(ctx, model.MustGlobal("hash", "req?"))
	assert.ErrorIs(t, err, serrors.ErrInvalidIdentity)
}

func TestHashCounterService_NonIntegerField(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mr.HSet(testPrefix+":hash:requests", "a", "1", "b", "lots")

	_, err := env.svc.Hashes.ReadAllFields(ctxWithTimeout(t), model.MustGlobal("hash", "requests"))
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrCorruptedValue)
}

func TestHashCounterService_FireAndForget(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ctxWithTimeout(t)
	id := model.MustGlobal("hash", "requests")

	handles := make([]*InFlight[int64], 0, 20)
	for i := 0; i < 20; i++ {
		handles = append(handles, env.svc.Hashes.IncrementField(id, "a").FireAndForget(ctx))
	}
	for _, h := range handles {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, "20", env.mr.HGet(testPrefix+":hash:requests", "a"))
}
