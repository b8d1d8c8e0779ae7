package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// rewardPointsForOrder возвращает число баллов, положенных за заказ.
func (s *Service) rewardPointsForOrder(ctx context.Context, order *model.Order) (*model.Customer, int, error) {
	cfg := s.settings.RewardPoints
	if !cfg.Enabled || !cfg.PointsForPurchasesAmount.IsPositive() {
		return nil, 0, nil
	}

	customer, err := s.customers.GetCustomer(ctx, order.CustomerID)
	if err != nil {
		return nil, 0, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil || customer.IsGuest {
		return customer, 0, nil
	}

	total := order.OrderTotal
	if cfg.ExcludeShippingFromPoints {
		total = total.Sub(order.OrderShippingInclTax)
	}
	if !total.IsPositive() || total.LessThan(cfg.MinOrderTotalToAwardPoints) {
		return customer, 0, nil
	}

	points := int(total.Div(cfg.PointsForPurchasesAmount).Truncate(0).IntPart()) * cfg.PointsForPurchasesPoints
	return customer, points, nil
}

// AwardRewardPoints начисляет баллы за заказ. Повторный вызов ничего не делает.
func (s *Service) AwardRewardPoints(ctx context.Context, order *model.Order) error {
	customer, points, err := s.rewardPointsForOrder(ctx, order)
	if err != nil {
		return err
	}
	if points == 0 {
		return nil
	}
	if order.RewardPointsHistoryEntryID != nil {
		return nil
	}

	cfg := s.settings.RewardPoints
	now := s.now().UTC()

	createdOn := now
	if delay := cfg.ActivationDelayDuration(); delay > 0 {
		createdOn = now.Add(delay)
	}

	var endDate *time.Time
	if cfg.PurchasesPointsValidityDays > 0 {
		end := createdOn.AddDate(0, 0, cfg.PurchasesPointsValidityDays)
		endDate = &end
	}

	entry := &model.RewardPointsEntry{
		CustomerID: customer.ID,
		StoreID:    order.StoreID,
		Points:     points,
		Message:    fmt.Sprintf("Earned promotion points for order #%s", order.CustomOrderNumber),
		CreatedOn:  createdOn,
		EndDate:    endDate,
	}
	if err := s.rewardPoints.AddHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("award reward points: %w", err)
	}

	order.RewardPointsHistoryEntryID = &entry.ID
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// ReduceRewardPoints отменяет начисленные за заказ баллы.
// Ещё не активированная запись удаляется, иначе добавляется списание.
func (s *Service) ReduceRewardPoints(ctx context.Context, order *model.Order) error {
	customer, points, err := s.rewardPointsForOrder(ctx, order)
	if err != nil {
		return err
	}
	if points == 0 {
		return nil
	}
	if order.RewardPointsHistoryEntryID == nil {
		return nil
	}

	entry, err := s.rewardPoints.GetHistoryEntryByID(ctx, *order.RewardPointsHistoryEntryID)
	if err != nil {
		return fmt.Errorf("load reward points entry: %w", err)
	}

	now := s.now().UTC()
	if entry != nil && entry.CreatedOn.After(now) {
		if err := s.rewardPoints.DeleteHistoryEntry(ctx, entry.ID); err != nil {
			return fmt.Errorf("delete reward points entry: %w", err)
		}
	} else {
		reduce := &model.RewardPointsEntry{
			CustomerID: customer.ID,
			StoreID:    order.StoreID,
			Points:     -points,
			Message:    fmt.Sprintf("Reduced promotion points for order #%s", order.CustomOrderNumber),
			CreatedOn:  now,
		}
		if err := s.rewardPoints.AddHistoryEntry(ctx, reduce); err != nil {
			return fmt.Errorf("reduce reward points: %w", err)
		}
	}

	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// ReturnBackRedeemedRewardPoints возвращает баллы, потраченные покупателем при оформлении заказа.
func (s *Service) ReturnBackRedeemedRewardPoints(ctx context.Context, order *model.Order) error {
	entries, err := s.rewardPoints.GetHistory(ctx, order.CustomerID, order.StoreID, order.OrderGUID)
	if err != nil {
		return fmt.Errorf("load redeemed reward points: %w", err)
	}

	for _, redeemed := range entries {
		entry := &model.RewardPointsEntry{
			CustomerID: order.CustomerID,
			StoreID:    order.StoreID,
			Points:     -redeemed.Points,
			Message:    fmt.Sprintf("Returned back for order #%s", order.CustomOrderNumber),
			CreatedOn:  s.now().UTC(),
		}
		if err := s.rewardPoints.AddHistoryEntry(ctx, entry); err != nil {
			return fmt.Errorf("return reward points: %w", err)
		}
	}

	if len(entries) > 0 {
		if err := s.orders.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
	}
	return nil
}
