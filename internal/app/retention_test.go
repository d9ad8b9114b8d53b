package app

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expiredFunc func(ctx context.Context, before time.Time) (int, error)

func (f expiredFunc) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return f(ctx, before)
}

func TestRetentionSweepUsesMaxAge(t *testing.T) {
	var got time.Time
	r, err := NewRetention(expiredFunc(func(_ context.Context, before time.Time) (int, error) {
		got = before
		return 3, nil
	}), 48*time.Hour, "@hourly", nil)
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC) }

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, time.Date(2026, 5, 8, 12, 0, 0, 0, time.UTC), got)
}

func TestRetentionSweepReportsPartialProgress(t *testing.T) {
	r, err := NewRetention(expiredFunc(func(context.Context, time.Time) (int, error) {
		return 100, stderrors.New("db gone")
	}), time.Hour, "@hourly", nil)
	require.NoError(t, err)

	n, err := r.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 100, n)
}

func TestNewRetentionRejectsBadInput(t *testing.T) {
	noop := expiredFunc(func(context.Context, time.Time) (int, error) { return 0, nil })

	_, err := NewRetention(noop, 0, "@hourly", nil)
	assert.Error(t, err)

	_, err = NewRetention(noop, time.Hour, "every tuesday", nil)
	assert.Error(t, err)
}

func TestRetentionStartStop(t *testing.T) {
	r, err := NewRetention(expiredFunc(func(context.Context, time.Time) (int, error) { return 0, nil }), time.Hour, "@every 1h", nil)
	require.NoError(t, err)
	r.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
