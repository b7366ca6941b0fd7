//go:build !integration

package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
)

func TestDiscountExpiryWorker_RunOnce(t *testing.T) {
	t.Run("should notify each released user after the batch", func(t *testing.T) {
		// --- Arrange ---
		exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			return []*model.ExpiredDiscount{expired(1, "SAVE10"), expired(2, "SAVE10")}, nil
		}}
		n := &MockNotifier{}
		w := NewDiscountExpiryWorker(time.Second, 100, exp, n, nil, newTestLogger())

		// --- Act ---
		count, err := w.RunOnce(context.Background())

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		require.Len(t, n.Users, 2)
		assert.Contains(t, n.Users[0].Text, "SAVE10")
		assert.Equal(t, 1, exp.calls)
	})

	t.Run("should drain full batches", func(t *testing.T) {
		left := 5
		exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			var out []*model.ExpiredDiscount
			for i := 0; i < limit && left > 0; i++ {
				out = append(out, expired(int64(left), "X"))
				left--
			}
			return out, nil
		}}
		w := NewDiscountExpiryWorker(time.Second, 2, exp, nil, nil, newTestLogger())

		count, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 5, count)
		assert.Equal(t, 3, exp.calls)
	})

	t.Run("should finish the pass when the caller is already canceled", func(t *testing.T) {
		exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return []*model.ExpiredDiscount{expired(1, "X")}, nil
		}}
		w := NewDiscountExpiryWorker(time.Second, 100, exp, nil, nil, newTestLogger())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		count, err := w.RunOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("should stop after the in-flight batch when canceled mid-pass", func(t *testing.T) {
		// Arrange
		ctx, cancel := context.WithCancel(context.Background())
		n := &MockNotifier{}
		exp := &MockExpirer{ExpireFunc: func(c context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			cancel()
			require.NoError(t, c.Err())
			return []*model.ExpiredDiscount{expired(1, "X"), expired(2, "X")}, nil
		}}
		w := NewDiscountExpiryWorker(time.Second, 2, exp, n, nil, newTestLogger())

		// Act
		count, err := w.RunOnce(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, 1, exp.calls)
		assert.Len(t, n.Users, 2)
	})

	t.Run("should turn a panic into an error", func(t *testing.T) {
		exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			panic("boom")
		}}
		w := NewDiscountExpiryWorker(time.Second, 100, exp, nil, nil, newTestLogger())

		_, err := w.RunOnce(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("should skip while another replica holds the lock", func(t *testing.T) {
		exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			t.Fatal("must not sweep")
			return nil, nil
		}}
		locker := &MockLocker{TryLockFunc: func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			return "", domain.ErrLockNotAcquired
		}}
		w := NewDiscountExpiryWorker(time.Second, 100, exp, nil, locker, newTestLogger())

		count, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("should sweep without the lock when redis is down", func(t *testing.T) {
		exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			return nil, nil
		}}
		locker := &MockLocker{TryLockFunc: func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			return "", errors.New("connection refused")
		}}
		w := NewDiscountExpiryWorker(time.Second, 100, exp, nil, locker, newTestLogger())

		_, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, exp.calls)
		assert.Empty(t, locker.unlocked)
	})

	t.Run("should release the lock it took", func(t *testing.T) {
		exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
			return nil, nil
		}}
		locker := &MockLocker{TryLockFunc: func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			assert.Equal(t, "lock:discount_sweep", key)
			return "tok", nil
		}}
		w := NewDiscountExpiryWorker(time.Second, 100, exp, nil, locker, newTestLogger())

		_, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"tok"}, locker.unlocked)
	})
}

func TestDiscountExpiryWorker_Run(t *testing.T) {
	exp := &MockExpirer{ExpireFunc: func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
		return nil, errors.New("db down")
	}}
	w := NewDiscountExpiryWorker(10*time.Millisecond, 100, exp, nil, nil, newTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, exp.calls, 1)
}
