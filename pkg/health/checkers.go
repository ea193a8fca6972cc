package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// BacklogFunc returns the age of the oldest unprocessed item, zero when
// there is none.
type BacklogFunc func(ctx context.Context) (time.Duration, error)

// BacklogCheck fails when the oldest unprocessed item is older than
// maxAge, e.g. outbox events not reaching the broker.
func BacklogCheck(oldest BacklogFunc, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		age, err := oldest(ctx)
		if err != nil {
			return errors.Wrap(err, "backlog")
		}
		if age > maxAge {
			return errors.Errorf("oldest pending item is %s old, limit %s", age.Truncate(time.Second), maxAge)
		}
		return nil
	}
}
