package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// InsertGiftCard сохраняет подарочную карту, купленную позицией заказа.
func (r *PostgresRepository) InsertGiftCard(ctx context.Context, gc *model.GiftCard) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO gift_cards (purchased_with_order_item_id, gift_card_type, amount, is_activated, coupon_code,
		                         recipient_name, recipient_email, sender_name, sender_email, message, is_recipient_notified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		gc.PurchasedWithOrderItemID, string(gc.GiftCardType), gc.Amount, gc.IsGiftCardActivated, gc.CouponCode,
		gc.RecipientName, gc.RecipientEmail, gc.SenderName, gc.SenderEmail, gc.Message, gc.IsRecipientNotified,
	).Scan(&gc.ID, &gc.CreatedOn)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrGiftCardCodeExists, gc.CouponCode)
		}
		return fmt.Errorf("insert gift card: %w", err)
	}
	return nil
}

// UpdateGiftCard сохраняет признаки активации и уведомления получателя.
func (r *PostgresRepository) UpdateGiftCard(ctx context.Context, gc *model.GiftCard) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE gift_cards SET is_activated = $2, is_recipient_notified = $3 WHERE id = $1`,
		gc.ID, gc.IsGiftCardActivated, gc.IsRecipientNotified,
	)
	if err != nil {
		return fmt.Errorf("update gift card: %w", err)
	}
	return nil
}

// InsertUsageHistory фиксирует списание с подарочной карты в счёт заказа.
func (r *PostgresRepository) InsertUsageHistory(ctx context.Context, u *model.GiftCardUsage) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO gift_card_usage (gift_card_id, used_with_order_id, used_value)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		u.GiftCardID, u.UsedWithOrderID, u.UsedValue,
	).Scan(&u.ID, &u.CreatedOn)
	if err != nil {
		return fmt.Errorf("insert gift card usage: %w", err)
	}
	return nil
}

// DeleteUsageHistory удаляет списания с подарочных карт по заказу.
func (r *PostgresRepository) DeleteUsageHistory(ctx context.Context, orderID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM gift_card_usage WHERE used_with_order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete gift card usage: %w", err)
	}
	return nil
}

// GetAllGiftCards возвращает карты, купленные позициями заказа. activated == nil отключает фильтр.
func (r *PostgresRepository) GetAllGiftCards(ctx context.Context, purchasedWithOrderID int64, activated *bool) ([]model.GiftCard, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT gc.id, gc.purchased_with_order_item_id, gc.gift_card_type, gc.amount, gc.is_activated, gc.coupon_code,
		        gc.recipient_name, gc.recipient_email, gc.sender_name, gc.sender_email, gc.message,
		        gc.is_recipient_notified, gc.created_at
		 FROM gift_cards gc
		 JOIN order_items oi ON oi.id = gc.purchased_with_order_item_id
		 WHERE oi.order_id = $1 AND ($2::boolean IS NULL OR gc.is_activated = $2)
		 ORDER BY gc.id`,
		purchasedWithOrderID, activated,
	)
	if err != nil {
		return nil, fmt.Errorf("select gift cards: %w", err)
	}
	defer rows.Close()

	var res []model.GiftCard
	for rows.Next() {
		var (
			gc     model.GiftCard
			gcType string
		)
		if err := rows.Scan(&gc.ID, &gc.PurchasedWithOrderItemID, &gcType, &gc.Amount, &gc.IsGiftCardActivated, &gc.CouponCode,
			&gc.RecipientName, &gc.RecipientEmail, &gc.SenderName, &gc.SenderEmail, &gc.Message,
			&gc.IsRecipientNotified, &gc.CreatedOn,
		); err != nil {
			return nil, fmt.Errorf("scan gift card: %w", err)
		}
		gc.GiftCardType = model.GiftCardType(gcType)
		res = append(res, gc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
