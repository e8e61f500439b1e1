package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/metrics"
	"github.com/MDrooker/rna-stat-manager/internal/util/workerpool"
)

// DispatchErrorHook receives every fire-and-forget failure. It runs on a
// pool worker and must not block.
type DispatchErrorHook func(operation, key string, err error)

// dispatcher runs operations either inline (Await) or detached on the
// worker pool (FireAndForget).
type dispatcher struct {
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	onError DispatchErrorHook
	logger  *zap.Logger
}

func newDispatcher(workers, queueSize int, m *metrics.Metrics, onError DispatchErrorHook, logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		metrics: m,
		onError: onError,
		logger:  logger,
	}
	d.pool = workerpool.New(workerpool.Config{
		Name:       "fire-and-forget",
		MaxWorkers: workers,
		QueueSize:  queueSize,
		Logger:     logger,
		OnResult:   d.settled,
	})
	return d
}

func (d *dispatcher) settled(task workerpool.Task, err error, _ time.Duration) {
	if err != nil {
		d.metrics.RecordDispatch(task.Operation, "failed")
		d.reportError(task.Operation, task.Key, err)
		return
	}
	d.metrics.RecordDispatch(task.Operation, "ok")
}

func (d *dispatcher) reportError(operation, key string, err error) {
	if d.onError != nil {
		d.onError(operation, key, err)
	}
}

func (d *dispatcher) stop(timeout time.Duration) error {
	return d.pool.Stop(timeout)
}

// Op is one store operation that has not been issued yet. Await issues it
// and waits for the settled value; FireAndForget issues it detached and
// returns an InFlight handle instead of the value.
type Op[T any] struct {
	d    *dispatcher
	name string
	key  string
	err  error
	run  func(ctx context.Context) (T, error)
}

func newOp[T any](d *dispatcher, name, key string, run func(ctx context.Context) (T, error)) *Op[T] {
	return &Op[T]{d: d, name: name, key: key, run: run}
}

// failedOp carries an error found before anything was sent to the store
func failedOp[T any](d *dispatcher, name string, err error) *Op[T] {
	return &Op[T]{d: d, name: name, err: err}
}

// Name returns the operation name used in logs and metrics
func (o *Op[T]) Name() string { return o.name }

// Key returns the resolved store key, empty if resolution failed
func (o *Op[T]) Key() string { return o.key }

// Await issues the operation and blocks until the store replies.
func (o *Op[T]) Await(ctx context.Context) (T, error) {
	if o.err != nil {
		var zero T
		o.d.metrics.RecordOperation(o.name, 0, serrors.GetCode(o.err).String())
		return zero, o.err
	}

	start := time.Now()
	v, err := o.run(ctx)
	errorType := ""
	if err != nil {
		errorType = serrors.GetCode(err).String()
	}
	o.d.metrics.RecordOperation(o.name, time.Since(start), errorType)
	return v, err
}

// FireAndForget hands the operation to the dispatch pool and returns at
// once. The returned handle is not the result: failures are visible only
// through the logger, the dispatch metrics, the DispatchErrorHook, or by
// explicitly waiting on the handle. Caller cancellation does not reach a
// command that was already accepted.
func (o *Op[T]) FireAndForget(ctx context.Context) *InFlight[T] {
	f := &InFlight[T]{operation: o.name, key: o.key, done: make(chan struct{})}

	if o.err != nil {
		o.d.metrics.RecordDispatch(o.name, "rejected")
		o.d.logger.Warn("Fire-and-forget operation rejected",
			zap.String("operation", o.name),
			zap.Error(o.err))
		o.d.reportError(o.name, o.key, o.err)
		f.settle(*new(T), o.err)
		return f
	}

	detached := context.WithoutCancel(ctx)
	task := workerpool.Task{
		Operation: o.name,
		Key:       o.key,
		Context:   detached,
		Fn: func(ctx context.Context) (err error) {
			var v T
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s panicked: %v", o.name, r)
				}
				f.settle(v, err)
			}()
			v, err = o.run(ctx)
			return err
		},
	}

	if err := o.d.pool.Submit(task); err != nil {
		rejected := serrors.DispatchRejected(o.name, err).WithDetail("key", o.key)
		o.d.metrics.RecordDispatch(o.name, "rejected")
		o.d.logger.Warn("Fire-and-forget dispatch rejected",
			zap.String("operation", o.name),
			zap.String("key", o.key),
			zap.Error(err))
		o.d.reportError(o.name, o.key, rejected)
		f.settle(*new(T), rejected)
		return f
	}

	o.d.metrics.RecordDispatch(o.name, "accepted")
	return f
}

// InFlight is the handle of a detached operation; the value is only
// available through Wait.
type InFlight[T any] struct {
	operation string
	key       string
	done      chan struct{}
	value     T
	err       error
}

func (f *InFlight[T]) settle(v T, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

// Operation returns the operation name
func (f *InFlight[T]) Operation() string { return f.operation }

// Key returns the store key the operation targets
func (f *InFlight[T]) Key() string { return f.key }

// Done is closed once the store has replied or the dispatch was rejected
func (f *InFlight[T]) Done() <-chan struct{} { return f.done }

// Settled reports whether the operation has finished
func (f *InFlight[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the operation settles or ctx ends. Giving up on ctx
// does not cancel the store command.
func (f *InFlight[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
