//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/orryxvpn/remnawave-tg-shop/internal/domain"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/model"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/adapter"
	"github.com/orryxvpn/remnawave-tg-shop/internal/domain/ports/repository"
)

// =============================
// In-memory ledger
// =============================

// memStore keeps every table behind one mutex. Each conditional transition
// checks and writes under the lock, like the single UPDATE statements of the
// Postgres repositories.
type memStore struct {
	mu          sync.Mutex
	seq         int64
	users       map[int64]*model.User
	subs        map[int64]*model.Subscription // by user
	payments    map[int64]*model.Payment
	methods     map[string]*model.UserPaymentMethod
	promos      map[int64]*model.PromoCode
	activations map[[2]int64]*model.PromoCodeActivation
	discounts   map[int64]*model.ActiveDiscount
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[int64]*model.User{},
		subs:        map[int64]*model.Subscription{},
		payments:    map[int64]*model.Payment{},
		methods:     map[string]*model.UserPaymentMethod{},
		promos:      map[int64]*model.PromoCode{},
		activations: map[[2]int64]*model.PromoCodeActivation{},
		discounts:   map[int64]*model.ActiveDiscount{},
	}
}

func (s *memStore) nextID() int64 { s.seq++; return s.seq }

func (s *memStore) status(id int64) model.PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		return p.Status
	}
	return ""
}

func (s *memStore) promo(id int64) model.PromoCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.promos[id]
}

func (s *memStore) discount(userID int64) *model.ActiveDiscount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.discounts[userID]; ok {
		cp := *d
		return &cp
	}
	return nil
}

func (s *memStore) activation(promoID, userID int64) *model.PromoCodeActivation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.activations[[2]int64{promoID, userID}]; ok {
		cp := *a
		return &cp
	}
	return nil
}

// ---- payments ----

type memPaymentRepo struct{ s *memStore }

var _ repository.PaymentRepository = (*memPaymentRepo)(nil)

func (r *memPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = r.s.nextID()
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	cp := *p
	r.s.payments[p.ID] = &cp
	return p.ID, nil
}

func (r *memPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, providerPaymentID string) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memPaymentRepo) providerIDTaken(id int64, providerPaymentID string) bool {
	for _, p := range r.s.payments {
		if p.ID != id && p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID {
			return true
		}
	}
	return false
}

func (r *memPaymentRepo) SetProviderPaymentID(ctx context.Context, tx repository.Tx, id int64, providerPaymentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || !p.Status.IsPending() {
		return domain.ErrNotFound
	}
	if r.providerIDTaken(id, providerPaymentID) {
		return domain.ErrAlreadyExists
	}
	p.ProviderPaymentID = &providerPaymentID
	return nil
}

func (r *memPaymentRepo) ClaimForProcessing(ctx context.Context, tx repository.Tx, id int64, providerPaymentID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || !strings.HasPrefix(string(p.Status), model.PendingStatusPrefix()) {
		return false, nil
	}
	if r.providerIDTaken(id, providerPaymentID) {
		return false, domain.ErrAlreadyExists
	}
	p.Status = model.PaymentStatusProcessing
	p.ProviderPaymentID = &providerPaymentID
	return true, nil
}

func (r *memPaymentRepo) RollbackProcessing(ctx context.Context, tx repository.Tx, id int64, prev model.PaymentStatus) (bool, error) {
	if !prev.IsPending() {
		return false, domain.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || p.Status != model.PaymentStatusProcessing {
		return false, nil
	}
	p.Status = prev
	return true, nil
}

func (r *memPaymentRepo) MarkSucceededOnce(ctx context.Context, tx repository.Tx, id int64, providerPaymentID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || p.Status != model.PaymentStatusProcessing {
		return false, nil
	}
	p.Status = model.PaymentStatusSucceeded
	p.ProviderPaymentID = &providerPaymentID
	return true, nil
}

func (r *memPaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id int64, status model.PaymentStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || !p.Status.IsPending() {
		return false, nil
	}
	p.Status = status
	return true, nil
}

func (r *memPaymentRepo) ListProcessingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.s.payments {
		if p.Status == model.PaymentStatusProcessing && p.UpdatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memMethodRepo struct{ s *memStore }

func (r *memMethodRepo) Upsert(ctx context.Context, tx repository.Tx, m *model.UserPaymentMethod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *m
	r.s.methods[m.ProviderPaymentMethodID] = &cp
	return nil
}

func (r *memMethodRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.UserPaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.UserPaymentMethod
	for _, m := range r.s.methods {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- users / subscriptions ----

type memUserRepo struct{ s *memStore }

func (r *memUserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

type memSubRepo struct{ s *memStore }

func (r *memSubRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subs[userID]
	if !ok || !sub.IsActive {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *memSubRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = r.s.nextID()
	}
	cp := *sub
	r.s.subs[sub.UserID] = &cp
	return sub.ID, nil
}

// ---- promo ledger ----

type memPromoRepo struct{ s *memStore }

var _ repository.PromoCodeRepository = (*memPromoRepo)(nil)

func (r *memPromoRepo) Create(ctx context.Context, tx repository.Tx, p *model.PromoCode) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.promos {
		if e.Code == p.Code {
			return 0, domain.ErrAlreadyExists
		}
	}
	p.ID = r.s.nextID()
	cp := *p
	r.s.promos[p.ID] = &cp
	return p.ID, nil
}

func (r *memPromoRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.promos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPromoRepo) FindActiveByCode(ctx context.Context, tx repository.Tx, code string, typ model.PromoType, now time.Time) (*model.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	code = model.NormalizePromoCode(code)
	for _, p := range r.s.promos {
		if p.Code == code && p.Type == typ && p.IsActive && !p.Expired(now) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrPromoNotFound
}

func (r *memPromoRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.PromoCode{}
	for _, p := range r.s.promos {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPromoRepo) SetActive(ctx context.Context, tx repository.Tx, id int64, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.promos[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.IsActive = active
	return nil
}

func (r *memPromoRepo) FindActivation(ctx context.Context, tx repository.Tx, promoID, userID int64) (*model.PromoCodeActivation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.activations[[2]int64{promoID, userID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memPromoRepo) RecordActivation(ctx context.Context, tx repository.Tx, promoID, userID int64, paymentID *int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := [2]int64{promoID, userID}
	if _, ok := r.s.activations[key]; ok {
		return false, nil
	}
	r.s.activations[key] = &model.PromoCodeActivation{ID: r.s.nextID(), PromoCodeID: promoID, UserID: userID, ActivatedAt: time.Now(), PaymentID: paymentID}
	return true, nil
}

func (r *memPromoRepo) LinkActivationPayment(ctx context.Context, tx repository.Tx, promoID, userID, paymentID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.activations[[2]int64{promoID, userID}]
	if !ok || a.PaymentID != nil {
		return false, nil
	}
	a.PaymentID = &paymentID
	return true, nil
}

func (r *memPromoRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id int64, allowOverflow bool) (bool, int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.promos[id]
	if !ok || (!allowOverflow && p.CurrentActivations >= p.MaxActivations) {
		return false, 0, 0, nil
	}
	p.CurrentActivations++
	return true, p.CurrentActivations, p.MaxActivations, nil
}

func (r *memPromoRepo) DecrementUsage(ctx context.Context, tx repository.Tx, id int64, n int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.promos[id]; ok {
		p.CurrentActivations -= n
		if p.CurrentActivations < 0 {
			p.CurrentActivations = 0
		}
	}
	return nil
}

// ---- reservations ----

type memDiscountRepo struct{ s *memStore }

var _ repository.ActiveDiscountRepository = (*memDiscountRepo)(nil)

func (r *memDiscountRepo) Get(ctx context.Context, tx repository.Tx, userID int64, now time.Time, includeExpired bool) (*model.ActiveDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.discounts[userID]
	if !ok || (!includeExpired && d.Expired(now)) {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memDiscountRepo) Insert(ctx context.Context, tx repository.Tx, d *model.ActiveDiscount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.discounts[d.UserID]; ok {
		return domain.ErrDiscountAlreadyActive
	}
	cp := *d
	r.s.discounts[d.UserID] = &cp
	return nil
}

func (r *memDiscountRepo) Clear(ctx context.Context, tx repository.Tx, userID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.discounts[userID]
	delete(r.s.discounts, userID)
	return ok, nil
}

func (r *memDiscountRepo) ClearIfMatches(ctx context.Context, tx repository.Tx, userID, promoID int64, bound *time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.discounts[userID]
	if !ok || d.PromoCodeID != promoID || (bound != nil && d.ExpiresAt.After(*bound)) {
		return false, nil
	}
	delete(r.s.discounts, userID)
	return true, nil
}

func (r *memDiscountRepo) ListExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ExpiredDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ExpiredDiscount
	for _, d := range r.s.discounts {
		if d.Expired(now) {
			code := ""
			if p, ok := r.s.promos[d.PromoCodeID]; ok {
				code = p.Code
			}
			out = append(out, &model.ExpiredDiscount{ActiveDiscount: *d, Code: code})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memDiscountRepo) ClearByPromoCode(ctx context.Context, tx repository.Tx, promoID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for uid, d := range r.s.discounts {
		if d.PromoCodeID == promoID {
			delete(r.s.discounts, uid)
			n++
		}
	}
	return n, nil
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentProvider ----

type MockProvider struct {
	NotConfigured bool

	CreatePaymentFunc  func(ctx context.Context, req adapter.CreatePaymentRequest) (*adapter.CreatePaymentResult, error)
	GetPaymentInfoFunc func(ctx context.Context, id string) (*model.ProviderPayment, error)
	CancelPaymentFunc  func(ctx context.Context, id, key string) error

	Canceled []string
	mu       sync.Mutex
}

var _ adapter.PaymentProvider = (*MockProvider)(nil)

func (m *MockProvider) Name() string     { return "yookassa" }
func (m *MockProvider) Configured() bool { return !m.NotConfigured }

func (m *MockProvider) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest) (*adapter.CreatePaymentResult, error) {
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, req)
	}
	return &adapter.CreatePaymentResult{ProviderPaymentID: "pay_" + req.IdempotenceKey, Status: "pending", ConfirmationURL: "https://pay.example/confirm"}, nil
}

func (m *MockProvider) GetPaymentInfo(ctx context.Context, id string) (*model.ProviderPayment, error) {
	if m.GetPaymentInfoFunc != nil {
		return m.GetPaymentInfoFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockProvider) CancelPayment(ctx context.Context, id, key string) error {
	m.mu.Lock()
	m.Canceled = append(m.Canceled, id)
	m.mu.Unlock()
	if m.CancelPaymentFunc != nil {
		return m.CancelPaymentFunc(ctx, id, key)
	}
	return nil
}

// ---- Mock SubscriptionActivator ----

type MockActivator struct {
	ActivateFunc func(ctx context.Context, tx repository.Tx, req model.ActivationRequest) (*model.ActivationResult, error)
	calls        int32
}

var _ adapter.SubscriptionActivator = (*MockActivator)(nil)

func (m *MockActivator) ActivateSubscription(ctx context.Context, tx repository.Tx, req model.ActivationRequest) (*model.ActivationResult, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, tx, req)
	}
	end := time.Now().AddDate(0, req.Months, 0)
	return &model.ActivationResult{SubscriptionID: 1, EndDate: &end}, nil
}

func (m *MockActivator) Calls() int { return int(atomic.LoadInt32(&m.calls)) }

// ---- Mock Notifier ----

type sentMessage struct {
	UserID int64
	Text   string
}

type MockNotifier struct {
	mu       sync.Mutex
	ToUsers  []sentMessage
	ToAdmins []string

	NotifyUserErr error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ToUsers = append(m.ToUsers, sentMessage{UserID: userID, Text: text})
	return m.NotifyUserErr
}

func (m *MockNotifier) NotifyAdmins(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ToAdmins = append(m.ToAdmins, text)
	return nil
}

func (m *MockNotifier) UserMessages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.ToUsers...)
}

// ---- Mock RedeemLimiter ----

type MockLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return m.AllowFunc(ctx, key, limit, window)
}

// =============================
// Transaction manager / logger
// =============================

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn with NoTX unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
