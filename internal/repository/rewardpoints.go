package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// AddHistoryEntry добавляет запись в журнал бонусных баллов.
func (r *PostgresRepository) AddHistoryEntry(ctx context.Context, e *model.RewardPointsEntry) error {
	createdOn := e.CreatedOn
	if createdOn.IsZero() {
		createdOn = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO reward_points_history (customer_id, store_id, points, used_amount, message, order_guid, created_at, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		e.CustomerID, e.StoreID, e.Points, e.UsedAmount, e.Message, nullUUID(e.OrderGUID), createdOn, e.EndDate,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert reward points entry: %w", err)
	}
	e.CreatedOn = createdOn
	return nil
}

const rewardColumns = `id, customer_id, store_id, points, used_amount, message, order_guid, created_at, end_date`

func scanRewardEntry(row pgx.Row) (*model.RewardPointsEntry, error) {
	var (
		e    model.RewardPointsEntry
		guid uuid.NullUUID
	)
	if err := row.Scan(&e.ID, &e.CustomerID, &e.StoreID, &e.Points, &e.UsedAmount, &e.Message, &guid, &e.CreatedOn, &e.EndDate); err != nil {
		return nil, err
	}
	if guid.Valid {
		g := guid.UUID
		e.OrderGUID = &g
	}
	return &e, nil
}

// GetHistory возвращает записи журнала, связанные с заказом.
func (r *PostgresRepository) GetHistory(ctx context.Context, customerID, storeID int64, orderGUID uuid.UUID) ([]model.RewardPointsEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+rewardColumns+`
		 FROM reward_points_history
		 WHERE customer_id = $1 AND store_id = $2 AND order_guid = $3
		 ORDER BY id`,
		customerID, storeID, orderGUID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reward points history: %w", err)
	}
	defer rows.Close()

	var res []model.RewardPointsEntry
	for rows.Next() {
		e, err := scanRewardEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward points entry: %w", err)
		}
		res = append(res, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetHistoryEntryByID возвращает запись журнала по идентификатору.
func (r *PostgresRepository) GetHistoryEntryByID(ctx context.Context, id int64) (*model.RewardPointsEntry, error) {
	e, err := scanRewardEntry(r.pool.QueryRow(ctx,
		`SELECT `+rewardColumns+` FROM reward_points_history WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardPointsEntryNotFound
		}
		return nil, fmt.Errorf("get reward points entry: %w", err)
	}
	return e, nil
}

// DeleteHistoryEntry удаляет запись журнала, ещё не вступившую в силу.
func (r *PostgresRepository) DeleteHistoryEntry(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM reward_points_history WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reward points entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRewardPointsEntryNotFound
	}
	return nil
}

// GetRewardPointsBalance возвращает баланс по записям, которые уже активны и ещё не истекли.
func (r *PostgresRepository) GetRewardPointsBalance(ctx context.Context, customerID, storeID int64) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0)
		 FROM reward_points_history
		 WHERE customer_id = $1 AND store_id = $2
		   AND created_at <= NOW()
		   AND (end_date IS NULL OR end_date > NOW())`,
		customerID, storeID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sum reward points: %w", err)
	}
	return balance, nil
}
