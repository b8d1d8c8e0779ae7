package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// Шаблоны уведомлений.
const (
	TemplateOrderPlacedStoreOwner        = "OrderPlaced.StoreOwnerNotification"
	TemplateOrderPlacedCustomer          = "OrderPlaced.CustomerNotification"
	TemplateOrderPlacedVendor            = "OrderPlaced.VendorNotification"
	TemplateOrderPlacedAffiliate         = "OrderPlaced.AffiliateNotification"
	TemplateOrderPaidStoreOwner          = "OrderPaid.StoreOwnerNotification"
	TemplateOrderPaidCustomer            = "OrderPaid.CustomerNotification"
	TemplateOrderPaidVendor              = "OrderPaid.VendorNotification"
	TemplateOrderPaidAffiliate           = "OrderPaid.AffiliateNotification"
	TemplateOrderCompletedCustomer       = "OrderCompleted.CustomerNotification"
	TemplateOrderCancelledCustomer       = "OrderCancelled.CustomerNotification"
	TemplateOrderRefundedStoreOwner      = "OrderRefunded.StoreOwnerNotification"
	TemplateOrderRefundedCustomer        = "OrderRefunded.CustomerNotification"
	TemplateShipmentSentCustomer         = "ShipmentSent.CustomerNotification"
	TemplateShipmentDeliveredCustomer    = "ShipmentDelivered.CustomerNotification"
	TemplateRecurringCancelledStoreOwner = "RecurringPaymentCancelled.StoreOwnerNotification"
	TemplateRecurringCancelledCustomer   = "RecurringPaymentCancelled.CustomerNotification"
	TemplateRecurringFailedCustomer      = "RecurringPaymentFailed.CustomerNotification"
	TemplateGiftCardNotification         = "GiftCard.Notification"
)

// Notification описывает сообщение в очереди рассылки.
// Получателя и содержимое письма определяет сервис рассылки по шаблону и ссылкам на сущности.
type Notification struct {
	ID                 string           `json:"id"`
	Template           string           `json:"template"`
	OrderID            int64            `json:"order_id,omitempty"`
	CustomerID         int64            `json:"customer_id,omitempty"`
	VendorID           int64            `json:"vendor_id,omitempty"`
	AffiliateID        int64            `json:"affiliate_id,omitempty"`
	ShipmentID         int64            `json:"shipment_id,omitempty"`
	RecurringPaymentID int64            `json:"recurring_payment_id,omitempty"`
	GiftCardID         int64            `json:"gift_card_id,omitempty"`
	Amount             *decimal.Decimal `json:"amount,omitempty"`
	AttachInvoice      bool             `json:"attach_invoice,omitempty"`
	QueuedAt           time.Time        `json:"queued_at"`
}

// Notifier ставит уведомления о заказах в очередь Kafka.
type Notifier struct {
	writer messageWriter
	now    func() time.Time
	newID  func() string
}

// NewNotifier создаёт диспетчер уведомлений поверх writer.
func NewNotifier(writer messageWriter) *Notifier {
	return &Notifier{writer: writer, now: time.Now, newID: newMessageID}
}

// Close закрывает writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}

func (n *Notifier) enqueue(ctx context.Context, msg Notification) ([]string, error) {
	msg.ID = n.newID()
	msg.QueuedAt = n.now().UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}

	key := msg.ID
	if msg.OrderID != 0 {
		key = strconv.FormatInt(msg.OrderID, 10)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "template", Value: []byte(msg.Template)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("write notification %s: %w", msg.Template, err)
	}
	return []string{msg.ID}, nil
}

func orderNotification(template string, order *model.Order) Notification {
	return Notification{Template: template, OrderID: order.ID, CustomerID: order.CustomerID}
}

// SendOrderPlacedStoreOwner уведомляет владельца магазина о новом заказе.
func (n *Notifier) SendOrderPlacedStoreOwner(ctx context.Context, order *model.Order) ([]string, error) {
	return n.enqueue(ctx, orderNotification(TemplateOrderPlacedStoreOwner, order))
}

// SendOrderPlacedCustomer уведомляет покупателя о новом заказе.
func (n *Notifier) SendOrderPlacedCustomer(ctx context.Context, order *model.Order, attachInvoice bool) ([]string, error) {
	msg := orderNotification(TemplateOrderPlacedCustomer, order)
	msg.AttachInvoice = attachInvoice
	return n.enqueue(ctx, msg)
}

// SendOrderPlacedVendor уведомляет продавца о заказе его товаров.
func (n *Notifier) SendOrderPlacedVendor(ctx context.Context, order *model.Order, vendorID int64) ([]string, error) {
	msg := orderNotification(TemplateOrderPlacedVendor, order)
	msg.VendorID = vendorID
	return n.enqueue(ctx, msg)
}

// SendOrderPlacedAffiliate уведомляет партнёра о заказе.
func (n *Notifier) SendOrderPlacedAffiliate(ctx context.Context, order *model.Order, affiliateID int64) ([]string, error) {
	msg := orderNotification(TemplateOrderPlacedAffiliate, order)
	msg.AffiliateID = affiliateID
	return n.enqueue(ctx, msg)
}

// SendOrderPaidStoreOwner уведомляет владельца магазина об оплате.
func (n *Notifier) SendOrderPaidStoreOwner(ctx context.Context, order *model.Order) ([]string, error) {
	return n.enqueue(ctx, orderNotification(TemplateOrderPaidStoreOwner, order))
}

// SendOrderPaidCustomer уведомляет покупателя об оплате.
func (n *Notifier) SendOrderPaidCustomer(ctx context.Context, order *model.Order, attachInvoice bool) ([]string, error) {
	msg := orderNotification(TemplateOrderPaidCustomer, order)
	msg.AttachInvoice = attachInvoice
	return n.enqueue(ctx, msg)
}

// SendOrderPaidVendor уведомляет продавца об оплате.
func (n *Notifier) SendOrderPaidVendor(ctx context.Context, order *model.Order, vendorID int64) ([]string, error) {
	msg := orderNotification(TemplateOrderPaidVendor, order)
	msg.VendorID = vendorID
	return n.enqueue(ctx, msg)
}

// SendOrderPaidAffiliate уведомляет партнёра об оплате.
func (n *Notifier) SendOrderPaidAffiliate(ctx context.Context, order *model.Order, affiliateID int64) ([]string, error) {
	msg := orderNotification(TemplateOrderPaidAffiliate, order)
	msg.AffiliateID = affiliateID
	return n.enqueue(ctx, msg)
}

// SendOrderCompletedCustomer уведомляет покупателя о выполнении заказа.
func (n *Notifier) SendOrderCompletedCustomer(ctx context.Context, order *model.Order, attachInvoice bool) ([]string, error) {
	msg := orderNotification(TemplateOrderCompletedCustomer, order)
	msg.AttachInvoice = attachInvoice
	return n.enqueue(ctx, msg)
}

// SendOrderCancelledCustomer уведомляет покупателя об отмене заказа.
func (n *Notifier) SendOrderCancelledCustomer(ctx context.Context, order *model.Order) ([]string, error) {
	return n.enqueue(ctx, orderNotification(TemplateOrderCancelledCustomer, order))
}

// SendOrderRefundedStoreOwner уведомляет владельца магазина о возврате.
func (n *Notifier) SendOrderRefundedStoreOwner(ctx context.Context, order *model.Order, amount decimal.Decimal) ([]string, error) {
	msg := orderNotification(TemplateOrderRefundedStoreOwner, order)
	msg.Amount = &amount
	return n.enqueue(ctx, msg)
}

// SendOrderRefundedCustomer уведомляет покупателя о возврате.
func (n *Notifier) SendOrderRefundedCustomer(ctx context.Context, order *model.Order, amount decimal.Decimal) ([]string, error) {
	msg := orderNotification(TemplateOrderRefundedCustomer, order)
	msg.Amount = &amount
	return n.enqueue(ctx, msg)
}

// SendShipmentSentCustomer уведомляет покупателя об отправке.
func (n *Notifier) SendShipmentSentCustomer(ctx context.Context, order *model.Order, shipment *model.Shipment) ([]string, error) {
	msg := orderNotification(TemplateShipmentSentCustomer, order)
	msg.ShipmentID = shipment.ID
	return n.enqueue(ctx, msg)
}

// SendShipmentDeliveredCustomer уведомляет покупателя о доставке.
func (n *Notifier) SendShipmentDeliveredCustomer(ctx context.Context, order *model.Order, shipment *model.Shipment) ([]string, error) {
	msg := orderNotification(TemplateShipmentDeliveredCustomer, order)
	msg.ShipmentID = shipment.ID
	return n.enqueue(ctx, msg)
}

// SendRecurringPaymentCancelledStoreOwner уведомляет владельца магазина об отмене подписки.
func (n *Notifier) SendRecurringPaymentCancelledStoreOwner(ctx context.Context, rp *model.RecurringPayment, initialOrder *model.Order) ([]string, error) {
	msg := orderNotification(TemplateRecurringCancelledStoreOwner, initialOrder)
	msg.RecurringPaymentID = rp.ID
	return n.enqueue(ctx, msg)
}

// SendRecurringPaymentCancelledCustomer уведомляет покупателя об отмене подписки.
func (n *Notifier) SendRecurringPaymentCancelledCustomer(ctx context.Context, rp *model.RecurringPayment, initialOrder *model.Order) ([]string, error) {
	msg := orderNotification(TemplateRecurringCancelledCustomer, initialOrder)
	msg.RecurringPaymentID = rp.ID
	return n.enqueue(ctx, msg)
}

// SendRecurringPaymentFailedCustomer уведомляет покупателя о неудачном платеже подписки.
func (n *Notifier) SendRecurringPaymentFailedCustomer(ctx context.Context, rp *model.RecurringPayment, initialOrder *model.Order) ([]string, error) {
	msg := orderNotification(TemplateRecurringFailedCustomer, initialOrder)
	msg.RecurringPaymentID = rp.ID
	return n.enqueue(ctx, msg)
}

// SendGiftCard отправляет получателю подарочную карту.
func (n *Notifier) SendGiftCard(ctx context.Context, gc *model.GiftCard) ([]string, error) {
	amount := gc.Amount
	return n.enqueue(ctx, Notification{Template: TemplateGiftCardNotification, GiftCardID: gc.ID, Amount: &amount})
}
