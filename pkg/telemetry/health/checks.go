package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

// Pinger is implemented by components that can verify their backend, such
// as the job store and the artifact storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a component by pinging it.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// BreakerCheck fails while a circuit breaker is open.
func BreakerCheck(name string, state func() gobreaker.State) CheckFunc {
	return func(ctx context.Context) error {
		if s := state(); s == gobreaker.StateOpen {
			return fmt.Errorf("%s circuit breaker is %s", name, s)
		}
		return nil
	}
}

// SaturationCheck fails while the worker queue cannot accept new jobs.
func SaturationCheck(saturated func() bool) CheckFunc {
	return func(ctx context.Context) error {
		if saturated() {
			return errors.New("export queue is full")
		}
		return nil
	}
}
