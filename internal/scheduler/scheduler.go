// Package scheduler запускает очередные циклы подписок, которые списывает сам движок.
package scheduler

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
	"github.com/mmeshcher/order-lifecycle/internal/service"
)

const (
	defaultBatchSize = 100
	defaultLockTTL   = 5 * time.Minute
)

// Store отдаёт активные подписки страницами по возрастанию id, начиная после afterID.
type Store interface {
	GetActiveRecurringPayments(ctx context.Context, startedBefore time.Time, afterID int64, limit int) ([]model.RecurringPayment, error)
}

// Engine создаёт заказы очередных циклов.
type Engine interface {
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetRecurringPayment(ctx context.Context, id int64) (*model.RecurringPayment, error)
	ProcessNextRecurringPayment(ctx context.Context, rp *model.RecurringPayment, prior *payment.ProcessPaymentResult) []string
}

// Capabilities сообщает, как шлюз обрабатывает повторяющиеся платежи.
type Capabilities interface {
	Capabilities(systemName string) payment.Capabilities
}

// Locker не даёт двум экземплярам обработать одну подписку одновременно.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// LockKey возвращает ключ блокировки подписки. Его же берут ручные повторы и обратные вызовы шлюза.
func LockKey(recurringPaymentID int64) string {
	return "recurring:" + strconv.FormatInt(recurringPaymentID, 10)
}

// Scheduler периодически обрабатывает подписки, у которых наступила дата платежа.
type Scheduler struct {
	store    Store
	engine   Engine
	gateways Capabilities
	locker   Locker
	logger   *zap.Logger

	interval  time.Duration
	batchSize int
	lockTTL   time.Duration
	now       func() time.Time
}

// Option настраивает планировщик.
type Option func(*Scheduler)

// WithLocker включает распределённую блокировку подписок.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithBatchSize ограничивает число подписок за один проход.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New создаёт планировщик. interval задаёт период проходов.
func New(store Store, engine Engine, gateways Capabilities, logger *zap.Logger, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		engine:    engine,
		gateways:  gateways,
		logger:    logger,
		interval:  interval,
		batchSize: defaultBatchSize,
		lockTTL:   defaultLockTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Run выполняет проходы до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce обходит все активные подписки страницами по batchSize,
// обрабатывает те, срок которых наступил, и возвращает число созданных заказов.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now().UTC()

	processed := 0
	var afterID int64
	for ctx.Err() == nil {
		list, err := s.store.GetActiveRecurringPayments(ctx, now, afterID, s.batchSize)
		if err != nil {
			s.logger.Error("failed to load recurring payments", zap.Int64("after_id", afterID), zap.Error(err))
			return processed
		}

		for i := range list {
			if ctx.Err() != nil {
				return processed
			}
			rp := &list[i]
			afterID = rp.ID
			if !s.isDue(ctx, rp, now) {
				continue
			}
			if s.process(ctx, rp.ID, now) {
				processed++
			}
		}

		if len(list) < s.batchSize {
			break
		}
	}
	return processed
}

// isDue сообщает, пора ли движку списать очередной цикл.
// Неудачный платёж повторяется только вручную.
func (s *Scheduler) isDue(ctx context.Context, rp *model.RecurringPayment, now time.Time) bool {
	if !rp.IsActive || rp.LastPaymentFailed {
		return false
	}
	next := service.GetNextPaymentDate(rp)
	if next == nil || next.After(now) {
		return false
	}

	initial, err := s.engine.GetOrder(ctx, rp.InitialOrderID)
	if err != nil {
		s.logger.Warn("initial order not loaded",
			zap.Int64("recurring_payment_id", rp.ID),
			zap.Error(err),
		)
		return false
	}
	// Автоматические шлюзы сообщают о циклах сами.
	return s.gateways.Capabilities(initial.PaymentMethodSystemName).Recurring == payment.RecurringManual
}

// process перечитывает подписку под блокировкой: другой экземпляр мог уже провести этот цикл.
func (s *Scheduler) process(ctx context.Context, id int64, now time.Time) bool {
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, LockKey(id), s.lockTTL)
		if err != nil {
			s.logger.Error("failed to lock recurring payment", zap.Int64("recurring_payment_id", id), zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release lock", zap.Int64("recurring_payment_id", id), zap.Error(err))
			}
		}()
	}

	rp, err := s.engine.GetRecurringPayment(ctx, id)
	if err != nil {
		s.logger.Error("failed to reload recurring payment", zap.Int64("recurring_payment_id", id), zap.Error(err))
		return false
	}
	if !s.isDue(ctx, rp, now) {
		return false
	}

	errs := s.engine.ProcessNextRecurringPayment(ctx, rp, nil)
	if len(errs) > 0 {
		s.logger.Warn("recurring cycle failed",
			zap.Int64("recurring_payment_id", rp.ID),
			zap.Strings("errors", errs),
		)
		return false
	}

	s.logger.Info("recurring cycle processed", zap.Int64("recurring_payment_id", rp.ID))
	return true
}
