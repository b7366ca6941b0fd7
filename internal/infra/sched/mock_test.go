//go:build !integration

package sched

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

type MockExpirer struct {
	ExpireFunc func(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error)
	calls      int
}

func (m *MockExpirer) ExpireDiscounts(ctx context.Context, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
	m.calls++
	return m.ExpireFunc(ctx, now, limit)
}

type MockLocker struct {
	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
	unlocked    []string
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.TryLockFunc(ctx, key, ttl)
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.unlocked = append(m.unlocked, token)
	return nil
}

type sent struct {
	UserID int64
	Text   string
}

type MockNotifier struct {
	mu     sync.Mutex
	Users  []sent
	Admins []string
}

func (m *MockNotifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users = append(m.Users, sent{userID, text})
	return nil
}

func (m *MockNotifier) NotifyAdmins(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Admins = append(m.Admins, text)
	return nil
}

type MockProcessingLister struct {
	ListFunc func(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}

func (m *MockProcessingLister) ListProcessingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return m.ListFunc(ctx, tx, olderThan, limit)
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func expired(userID int64, code string) *model.ExpiredDiscount {
	return &model.ExpiredDiscount{
		ActiveDiscount: model.ActiveDiscount{UserID: userID, PromoCodeID: 1, DiscountPercentage: 10},
		Code:           code,
	}
}
