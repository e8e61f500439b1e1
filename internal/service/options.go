package service

import "time"

// OpOption tunes a single mutating operation
type OpOption func(*opOptions)

type opOptions struct {
	amount       int64
	ttl          time.Duration
	atomicExpiry bool
}

func buildOptions(opts []OpOption) opOptions {
	o := opOptions{amount: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// By sets the increment or decrement amount (default 1)
func By(amount int64) OpOption {
	return func(o *opOptions) {
		o.amount = amount
	}
}

// WithTTL sets the key expiry after the write. Non-positive values leave
// the current expiry untouched.
func WithTTL(ttl time.Duration) OpOption {
	return func(o *opOptions) {
		o.ttl = ttl
	}
}

// AtomicExpiry sends the arithmetic and the expiry inside MULTI/EXEC
// instead of as separate commands.
func AtomicExpiry() OpOption {
	return func(o *opOptions) {
		o.atomicExpiry = true
	}
}
