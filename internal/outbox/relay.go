package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Source hands out pending outbox messages.
type Source interface {
	// ProcessPending claims up to limit unsent messages in id order, passes
	// them to fn and marks them sent when fn succeeds. It returns the
	// number of messages marked sent.
	ProcessPending(ctx context.Context, limit int, fn func(ctx context.Context, msgs []Message) error) (int, error)
}

// Publisher delivers messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// RelayConfig controls polling.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay periodically moves pending outbox messages to a Publisher.
type Relay struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	batchSize int
}

// NewRelay creates a Relay. Zero config values fall back to one second and
// 100 messages.
func NewRelay(source Source, publisher Publisher, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Flush publishes pending messages until a batch comes back short, and
// returns how many were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.source.ProcessPending(ctx, r.batchSize, func(ctx context.Context, msgs []Message) error {
			return r.publisher.Publish(ctx, msgs...)
		})
		total += n
		if err != nil {
			return total, errors.Wrap(err, "process pending")
		}
		if n < r.batchSize {
			return total, nil
		}
	}
}

// Run flushes every interval until ctx is cancelled. Failed flushes are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Outbox flush failed", zap.Error(err), zap.Int("published", n))
				continue
			}
			if n > 0 {
				lg.Debug("Outbox flushed", zap.Int("published", n))
			}
		}
	}
}
