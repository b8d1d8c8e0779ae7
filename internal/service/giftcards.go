package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

func (s *Service) setActivatedValueForPurchasedGiftCards(ctx context.Context, order *model.Order, activate bool) error {
	inactive := !activate
	cards, err := s.giftCards.GetAllGiftCards(ctx, order.ID, &inactive)
	if err != nil {
		return fmt.Errorf("load gift cards: %w", err)
	}

	for i := range cards {
		gc := &cards[i]
		if activate {
			notified := gc.IsRecipientNotified
			if gc.GiftCardType == model.GiftCardTypeVirtual && gc.RecipientEmail != "" && gc.SenderEmail != "" {
				var ids []string
				s.notify(ctx, order, `"Gift card" email (to recipient)`, func(ctx context.Context) ([]string, error) {
					var err error
					ids, err = s.notifier.SendGiftCard(ctx, gc)
					return ids, err
				})
				if len(ids) > 0 {
					notified = true
				}
			}
			gc.IsGiftCardActivated = true
			gc.IsRecipientNotified = notified
		} else {
			gc.IsGiftCardActivated = false
		}

		if err := s.giftCards.UpdateGiftCard(ctx, gc); err != nil {
			return fmt.Errorf("update gift card: %w", err)
		}
	}
	return nil
}
