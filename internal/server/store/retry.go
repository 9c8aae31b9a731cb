package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/sethvargo/go-retry"
)

// WithRetry wraps a backend with bounded exponential backoff. Only
// storage-level failures are retried; common.ErrorNotFound is a result,
// not a fault, and passes straight through. Exhaustion surfaces as
// common.ErrorInternal so callers never see raw backend errors.
type WithRetry struct {
	inner    Store
	attempts uint64
	base     time.Duration
	log      logging.Logger
}

func NewWithRetry(inner Store, attempts uint64, base time.Duration, log logging.Logger) *WithRetry {
	return &WithRetry{inner: inner, attempts: attempts, base: base, log: log}
}

func (w *WithRetry) backoff() retry.Backoff {
	return retry.WithMaxRetries(w.attempts, retry.NewExponential(w.base))
}

func (w *WithRetry) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, common.ErrorNotFound) {
			return err
		}
		w.log.Warn(ctx, "transient storage failure, retrying", "op", op)
		return retry.RetryableError(err)
	})
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		w.log.Error(ctx, "storage retries exhausted", "op", op)
		return fmt.Errorf("%w: storage unavailable", common.ErrorInternal)
	}
	return err
}

func (w *WithRetry) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := w.do(ctx, "get", func(ctx context.Context) error {
		var err error
		out, err = w.inner.Get(ctx, key)
		return err
	})
	return out, err
}

func (w *WithRetry) Has(ctx context.Context, key string) (bool, error) {
	var out bool
	err := w.do(ctx, "has", func(ctx context.Context) error {
		var err error
		out, err = w.inner.Has(ctx, key)
		return err
	})
	return out, err
}

func (w *WithRetry) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	var out []KV
	err := w.do(ctx, "scan", func(ctx context.Context) error {
		var err error
		out, err = w.inner.ScanPrefix(ctx, prefix)
		return err
	})
	return out, err
}

func (w *WithRetry) PutBatch(ctx context.Context, puts []KV, deletes []string) error {
	// PutBatch is atomic in the backend, so a retried batch either did not
	// land or is re-applied idempotently (same keys, same values).
	return w.do(ctx, "batch", func(ctx context.Context) error {
		return w.inner.PutBatch(ctx, puts, deletes)
	})
}

func (w *WithRetry) Close() error {
	return w.inner.Close()
}
