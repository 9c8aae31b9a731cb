package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky fails the first failures calls of every operation, then delegates
// to an in-memory store.
type flaky struct {
	*Memory
	failures int
	calls    int
}

func (f *flaky) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("%w: connection reset", common.ErrorStore)
	}
	return f.Memory.Get(ctx, key)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Memory: NewMemory(), failures: 2}
	require.NoError(t, Put(ctx, inner.Memory, "did:x", []byte("v")))

	s := NewWithRetry(inner, 3, time.Millisecond, testLogger())
	got, err := s.Get(ctx, "did:x")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetryDoesNotRetryNotFound(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Memory: NewMemory()}

	s := NewWithRetry(inner, 3, time.Millisecond, testLogger())
	_, err := s.Get(ctx, "did:missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetryExhaustionIsInternal(t *testing.T) {
	ctx := context.Background()
	inner := &flaky{Memory: NewMemory(), failures: 100}

	s := NewWithRetry(inner, 2, time.Millisecond, testLogger())
	_, err := s.Get(ctx, "did:x")
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.Equal(t, 3, inner.calls)
}
