package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

const recurringColumns = `id, cycle_length, cycle_period, total_cycles, start_date,
	is_active, last_payment_failed, initial_order_id, created_at`

func scanRecurringPayment(row pgx.Row) (*model.RecurringPayment, error) {
	var (
		rp     model.RecurringPayment
		period string
	)
	if err := row.Scan(&rp.ID, &rp.CycleLength, &period, &rp.TotalCycles, &rp.StartDate,
		&rp.IsActive, &rp.LastPaymentFailed, &rp.InitialOrderID, &rp.CreatedOn); err != nil {
		return nil, err
	}
	rp.CyclePeriod = model.CyclePeriod(period)
	return &rp, nil
}

// InsertRecurringPayment сохраняет подписку, созданную при оформлении первого заказа.
func (r *PostgresRepository) InsertRecurringPayment(ctx context.Context, rp *model.RecurringPayment) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO recurring_payments (cycle_length, cycle_period, total_cycles, start_date,
		                                 is_active, last_payment_failed, initial_order_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		rp.CycleLength, string(rp.CyclePeriod), rp.TotalCycles, rp.StartDate,
		rp.IsActive, rp.LastPaymentFailed, rp.InitialOrderID,
	).Scan(&rp.ID, &rp.CreatedOn)
	if err != nil {
		return fmt.Errorf("insert recurring payment: %w", err)
	}
	return nil
}

// UpdateRecurringPayment сохраняет флаги активности и неудачного платежа.
func (r *PostgresRepository) UpdateRecurringPayment(ctx context.Context, rp *model.RecurringPayment) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE recurring_payments SET is_active = $2, last_payment_failed = $3 WHERE id = $1`,
			rp.ID, rp.IsActive, rp.LastPaymentFailed,
		)
		if err != nil {
			return fmt.Errorf("update recurring payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRecurringPaymentNotFound
		}
		return nil
	})
}

// GetRecurringPaymentByID возвращает подписку вместе с историей циклов.
func (r *PostgresRepository) GetRecurringPaymentByID(ctx context.Context, id int64) (*model.RecurringPayment, error) {
	rp, err := scanRecurringPayment(r.pool.QueryRow(ctx,
		`SELECT `+recurringColumns+` FROM recurring_payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecurringPaymentNotFound
		}
		return nil, fmt.Errorf("get recurring payment: %w", err)
	}

	if err := r.loadHistory(ctx, []*model.RecurringPayment{rp}); err != nil {
		return nil, err
	}
	return rp, nil
}

// SearchRecurringPayments возвращает подписки, порождённые заказом.
func (r *PostgresRepository) SearchRecurringPayments(ctx context.Context, initialOrderID int64) ([]model.RecurringPayment, error) {
	return r.queryRecurringPayments(ctx,
		`SELECT `+recurringColumns+`
		 FROM recurring_payments
		 WHERE initial_order_id = $1
		 ORDER BY id`,
		initialOrderID,
	)
}

// GetActiveRecurringPayments возвращает страницу активных подписок с неудалёнными и неотменёнными
// первыми заказами по возрастанию id, начиная после afterID. Срок следующего платежа вычисляет вызывающая сторона.
func (r *PostgresRepository) GetActiveRecurringPayments(ctx context.Context, startedBefore time.Time, afterID int64, limit int) ([]model.RecurringPayment, error) {
	return r.queryRecurringPayments(ctx,
		`SELECT rp.id, rp.cycle_length, rp.cycle_period, rp.total_cycles, rp.start_date,
		        rp.is_active, rp.last_payment_failed, rp.initial_order_id, rp.created_at
		 FROM recurring_payments rp
		 JOIN orders o ON o.id = rp.initial_order_id
		 WHERE rp.is_active AND NOT o.deleted AND o.order_status <> $1 AND rp.start_date <= $2
		   AND rp.id > $3
		 ORDER BY rp.id
		 LIMIT $4`,
		string(model.OrderStatusCancelled), startedBefore, afterID, limit,
	)
}

func (r *PostgresRepository) queryRecurringPayments(ctx context.Context, query string, args ...any) ([]model.RecurringPayment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select recurring payments: %w", err)
	}
	defer rows.Close()

	var list []*model.RecurringPayment
	for rows.Next() {
		rp, err := scanRecurringPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring payment: %w", err)
		}
		list = append(list, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := r.loadHistory(ctx, list); err != nil {
		return nil, err
	}

	res := make([]model.RecurringPayment, 0, len(list))
	for _, rp := range list {
		res = append(res, *rp)
	}
	return res, nil
}

func (r *PostgresRepository) loadHistory(ctx context.Context, list []*model.RecurringPayment) error {
	if len(list) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(list))
	byID := make(map[int64]*model.RecurringPayment, len(list))
	for _, rp := range list {
		ids = append(ids, rp.ID)
		byID[rp.ID] = rp
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, recurring_payment_id, order_id, created_at
		 FROM recurring_payment_history
		 WHERE recurring_payment_id = ANY($1)
		 ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select recurring payment history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h model.RecurringPaymentHistory
		if err := rows.Scan(&h.ID, &h.RecurringPaymentID, &h.OrderID, &h.CreatedOn); err != nil {
			return fmt.Errorf("scan recurring payment history: %w", err)
		}
		rp := byID[h.RecurringPaymentID]
		rp.History = append(rp.History, h)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// InsertRecurringPaymentHistory фиксирует завершённый цикл подписки.
func (r *PostgresRepository) InsertRecurringPaymentHistory(ctx context.Context, h *model.RecurringPaymentHistory) error {
	createdOn := h.CreatedOn
	if createdOn.IsZero() {
		createdOn = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO recurring_payment_history (recurring_payment_id, order_id, created_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		h.RecurringPaymentID, h.OrderID, createdOn,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("insert recurring payment history: %w", err)
	}
	h.CreatedOn = createdOn
	return nil
}
