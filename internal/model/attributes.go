package model

import (
	"encoding/json"
	"strings"
)

// GiftCardAttributes содержит данные получателя подарочной карты из атрибутов позиции.
type GiftCardAttributes struct {
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
	SenderName     string `json:"sender_name"`
	SenderEmail    string `json:"sender_email"`
	Message        string `json:"message"`
}

type itemAttributes struct {
	GiftCard           *GiftCardAttributes `json:"gift_card,omitempty"`
	AssociatedProducts []int64             `json:"associated_products,omitempty"`
}

func parseItemAttributes(raw string) itemAttributes {
	var attrs itemAttributes
	if strings.TrimSpace(raw) == "" {
		return attrs
	}
	// Некорректные атрибуты трактуются как пустые.
	_ = json.Unmarshal([]byte(raw), &attrs)
	return attrs
}

// ParseGiftCardAttributes извлекает данные подарочной карты из сериализованных атрибутов.
func ParseGiftCardAttributes(raw string) GiftCardAttributes {
	attrs := parseItemAttributes(raw)
	if attrs.GiftCard == nil {
		return GiftCardAttributes{}
	}
	return *attrs.GiftCard
}

// ParseAssociatedProductIDs возвращает идентификаторы товаров, вложенных в позицию через атрибуты.
func ParseAssociatedProductIDs(raw string) []int64 {
	attrs := parseItemAttributes(raw)
	ids := make([]int64, 0, len(attrs.AssociatedProducts))
	for _, id := range attrs.AssociatedProducts {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
