package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

type stubStore struct {
	list    []model.RecurringPayment
	err     error
	cursors []int64
}

func (s *stubStore) GetActiveRecurringPayments(_ context.Context, _ time.Time, afterID int64, limit int) ([]model.RecurringPayment, error) {
	s.cursors = append(s.cursors, afterID)
	if s.err != nil {
		return nil, s.err
	}
	var page []model.RecurringPayment
	for _, rp := range s.list {
		if rp.ID <= afterID {
			continue
		}
		if len(page) == limit {
			break
		}
		page = append(page, rp)
	}
	return page, nil
}

type stubEngine struct {
	mu        sync.Mutex
	store     *stubStore
	orders    map[int64]*model.Order
	current   map[int64]model.RecurringPayment
	reloadErr error
	processed []int64
	fail      map[int64][]string
}

// GetRecurringPayment отдаёт актуальную версию подписки: из current, если она там есть, иначе из хранилища.
func (e *stubEngine) GetRecurringPayment(_ context.Context, id int64) (*model.RecurringPayment, error) {
	if e.reloadErr != nil {
		return nil, e.reloadErr
	}
	if rp, ok := e.current[id]; ok {
		return &rp, nil
	}
	if e.store != nil {
		for _, rp := range e.store.list {
			if rp.ID == id {
				found := rp
				return &found, nil
			}
		}
	}
	return nil, errors.New("recurring payment not found")
}

func (e *stubEngine) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	o, ok := e.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return o, nil
}

func (e *stubEngine) ProcessNextRecurringPayment(_ context.Context, rp *model.RecurringPayment, _ *payment.ProcessPaymentResult) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed = append(e.processed, rp.ID)
	return e.fail[rp.ID]
}

type stubCapabilities map[string]payment.RecurringType

func (c stubCapabilities) Capabilities(systemName string) payment.Capabilities {
	return payment.Capabilities{Recurring: c[systemName]}
}

type stubLocker struct {
	held     map[string]bool
	released []string
	err      error
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.released = append(l.released, key)
		return nil
	}, true, nil
}

var testNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func subscription(id, initialOrderID int64, start time.Time, cycles int) model.RecurringPayment {
	rp := model.RecurringPayment{
		ID:             id,
		CycleLength:    1,
		CyclePeriod:    model.CyclePeriodMonths,
		TotalCycles:    12,
		StartDate:      start,
		IsActive:       true,
		InitialOrderID: initialOrderID,
	}
	for i := 0; i < cycles; i++ {
		rp.History = append(rp.History, model.RecurringPaymentHistory{ID: int64(i + 1), RecurringPaymentID: id})
	}
	return rp
}

func newTestScheduler(store *stubStore, engine *stubEngine, opts ...Option) *Scheduler {
	engine.store = store
	caps := stubCapabilities{
		"Payments.Manual":    payment.RecurringManual,
		"Payments.Automatic": payment.RecurringAutomatic,
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(store, engine, caps, zap.NewNop(), time.Minute, opts...)
}

func TestRunOnceProcessesDueManualSubscriptions(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	store := &stubStore{list: []model.RecurringPayment{
		// следующий платёж 2024-03-01, срок наступил
		subscription(1, 10, start, 2),
		// следующий платёж 2024-04-01, ещё рано
		subscription(2, 10, start, 3),
		// шлюз списывает сам
		subscription(3, 20, start, 2),
		// все циклы пройдены
		subscription(4, 10, start, 12),
	}}
	engine := &stubEngine{orders: map[int64]*model.Order{
		10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"},
		20: {ID: 20, PaymentMethodSystemName: "Payments.Automatic"},
	}}

	s := newTestScheduler(store, engine)
	n := s.RunOnce(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, engine.processed)
}

func TestRunOnceSkipsLockedSubscriptions(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{list: []model.RecurringPayment{
		subscription(1, 10, start, 0),
		subscription(2, 10, start, 1),
	}}
	engine := &stubEngine{orders: map[int64]*model.Order{
		10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"},
	}}
	locker := &stubLocker{held: map[string]bool{"recurring:1": true}}

	s := newTestScheduler(store, engine, WithLocker(locker))
	n := s.RunOnce(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{2}, engine.processed)
	assert.Equal(t, []string{"recurring:2"}, locker.released)
}

func TestRunOnceLockError(t *testing.T) {
	store := &stubStore{list: []model.RecurringPayment{
		subscription(1, 10, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 0),
	}}
	engine := &stubEngine{orders: map[int64]*model.Order{
		10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"},
	}}

	s := newTestScheduler(store, engine, WithLocker(&stubLocker{err: errors.New("redis down")}))

	assert.Equal(t, 0, s.RunOnce(context.Background()))
	assert.Empty(t, engine.processed)
}

func TestRunOnceCountsOnlySuccessfulCycles(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{list: []model.RecurringPayment{
		subscription(1, 10, start, 0),
		subscription(2, 10, start, 0),
	}}
	engine := &stubEngine{
		orders: map[int64]*model.Order{10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"}},
		fail:   map[int64][]string{1: {"card declined"}},
	}

	s := newTestScheduler(store, engine)

	assert.Equal(t, 1, s.RunOnce(context.Background()))
	assert.Equal(t, []int64{1, 2}, engine.processed)
}

func TestRunOnceStoreError(t *testing.T) {
	engine := &stubEngine{}
	s := newTestScheduler(&stubStore{err: errors.New("db down")}, engine)

	assert.Equal(t, 0, s.RunOnce(context.Background()))
	assert.Empty(t, engine.processed)
}

func TestRunOnceWalksAllPages(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{list: []model.RecurringPayment{
		subscription(1, 10, start, 0),
		subscription(2, 10, start, 0),
		subscription(3, 10, start, 0),
	}}
	engine := &stubEngine{orders: map[int64]*model.Order{
		10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"},
	}}

	s := newTestScheduler(store, engine, WithBatchSize(2))

	assert.Equal(t, 3, s.RunOnce(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, engine.processed)
	assert.Equal(t, []int64{0, 2}, store.cursors)
}

func TestRunOnceReachesDueSubscriptionBehindSkippedPage(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{list: []model.RecurringPayment{
		subscription(1, 20, start, 0),
		subscription(2, 20, start, 0),
		subscription(3, 10, start, 2),
	}}
	engine := &stubEngine{orders: map[int64]*model.Order{
		10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"},
		20: {ID: 20, PaymentMethodSystemName: "Payments.Automatic"},
	}}

	s := newTestScheduler(store, engine, WithBatchSize(2))

	assert.Equal(t, 1, s.RunOnce(context.Background()))
	assert.Equal(t, []int64{3}, engine.processed)
}

func TestRunOnceSkipsFailedPayments(t *testing.T) {
	failed := subscription(1, 10, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 2)
	failed.LastPaymentFailed = true
	store := &stubStore{list: []model.RecurringPayment{failed}}
	engine := &stubEngine{orders: map[int64]*model.Order{
		10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"},
	}}

	s := newTestScheduler(store, engine)
	for i := 0; i < 3; i++ {
		assert.Zero(t, s.RunOnce(context.Background()))
	}
	assert.Empty(t, engine.processed)
}

func TestRunOnceReloadsSubscriptionUnderLock(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{list: []model.RecurringPayment{
		subscription(1, 10, start, 2),
		subscription(2, 10, start, 2),
	}}
	engine := &stubEngine{
		orders: map[int64]*model.Order{10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"}},
		// цикл подписки 1 уже провёл другой экземпляр
		current: map[int64]model.RecurringPayment{1: subscription(1, 10, start, 3)},
	}
	locker := &stubLocker{}

	s := newTestScheduler(store, engine, WithLocker(locker))

	assert.Equal(t, 1, s.RunOnce(context.Background()))
	assert.Equal(t, []int64{2}, engine.processed)
	assert.Equal(t, []string{"recurring:1", "recurring:2"}, locker.released)
}

func TestRunOnceReloadError(t *testing.T) {
	store := &stubStore{list: []model.RecurringPayment{
		subscription(1, 10, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), 0),
	}}
	engine := &stubEngine{
		orders:    map[int64]*model.Order{10: {ID: 10, PaymentMethodSystemName: "Payments.Manual"}},
		reloadErr: errors.New("db down"),
	}

	s := newTestScheduler(store, engine)

	assert.Zero(t, s.RunOnce(context.Background()))
	assert.Empty(t, engine.processed)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	now := testNow
	l.now = func() time.Time { return now }

	release, ok, err := l.TryLock(ctx, LockKey(7), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, LockKey(7), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.TryLock(ctx, LockKey(8), time.Minute)
	assert.True(t, ok)

	require.NoError(t, release(ctx))
	again, ok, _ := l.TryLock(ctx, LockKey(7), time.Minute)
	require.True(t, ok)

	// просроченную блокировку забирает следующий, и старый release её не снимает
	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(ctx, LockKey(7), time.Minute)
	require.True(t, ok)
	require.NoError(t, again(ctx))
	_, ok, _ = l.TryLock(ctx, LockKey(7), time.Minute)
	assert.False(t, ok)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestScheduler(&stubStore{}, &stubEngine{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
