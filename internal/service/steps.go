package service

import (
	"context"
	"errors"
	"time"
)

// StepPolicy retries a best-effort side call (payment intent, contact
// lookup) with doubling backoff.
type StepPolicy struct {
	Attempts int
	Backoff  time.Duration
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// permanent marks err as not worth retrying.
func permanent(err error) error { return permanentError{err} }

// Run calls fn until it succeeds, returns a permanent error, the attempts
// are used up or ctx ends.  The last error is returned.
func (p StepPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.Backoff
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
