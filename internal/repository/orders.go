package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// InsertAddress сохраняет копию адреса, привязанную к заказу.
func (r *PostgresRepository) InsertAddress(ctx context.Context, addr *model.Address) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO addresses (first_name, last_name, email, company, country_code, state_province,
		                        city, address1, address2, zip_postal_code, phone_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		addr.FirstName, addr.LastName, addr.Email, addr.Company, addr.CountryCode, addr.StateProvince,
		addr.City, addr.Address1, addr.Address2, addr.ZipPostalCode, addr.PhoneNumber,
	).Scan(&addr.ID, &addr.CreatedOn)
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

// GetAddressByID возвращает адрес по идентификатору.
func (r *PostgresRepository) GetAddressByID(ctx context.Context, id int64) (*model.Address, error) {
	var a model.Address
	err := r.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, company, country_code, state_province,
		        city, address1, address2, zip_postal_code, phone_number, created_at
		 FROM addresses WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.Company, &a.CountryCode, &a.StateProvince,
		&a.City, &a.Address1, &a.Address2, &a.ZipPostalCode, &a.PhoneNumber, &a.CreatedOn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAddressNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return &a, nil
}

const orderColumns = `id, order_guid, custom_order_number, store_id, customer_id,
	billing_address_id, shipping_address_id, pickup_address_id, pickup_in_store,
	order_status, shipping_status, payment_status,
	payment_method_system_name, customer_currency_code, currency_rate,
	order_subtotal_incl_tax, order_subtotal_excl_tax, order_subtotal_discount_incl_tax, order_subtotal_discount_excl_tax,
	order_shipping_incl_tax, order_shipping_excl_tax, payment_method_fee_incl_tax, payment_method_fee_excl_tax,
	order_tax, order_discount, order_total, refunded_amount,
	reward_points_history_entry_id, redeemed_reward_points_entry_id,
	checkout_attribute_description, affiliate_id, customer_ip,
	authorization_transaction_id, authorization_transaction_code, authorization_transaction_result,
	capture_transaction_id, capture_transaction_result, subscription_transaction_id,
	shipping_method, shipping_rate_computation_method, custom_values,
	paid_at, deleted, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                                      model.Order
		orderStatus, shippingStatus, payStatus string
	)
	err := row.Scan(
		&o.ID, &o.OrderGUID, &o.CustomOrderNumber, &o.StoreID, &o.CustomerID,
		&o.BillingAddressID, &o.ShippingAddressID, &o.PickupAddressID, &o.PickupInStore,
		&orderStatus, &shippingStatus, &payStatus,
		&o.PaymentMethodSystemName, &o.CustomerCurrencyCode, &o.CurrencyRate,
		&o.OrderSubtotalInclTax, &o.OrderSubtotalExclTax, &o.OrderSubtotalDiscountInclTax, &o.OrderSubtotalDiscountExclTax,
		&o.OrderShippingInclTax, &o.OrderShippingExclTax, &o.PaymentMethodFeeInclTax, &o.PaymentMethodFeeExclTax,
		&o.OrderTax, &o.OrderDiscount, &o.OrderTotal, &o.RefundedAmount,
		&o.RewardPointsHistoryEntryID, &o.RedeemedRewardPointsID,
		&o.CheckoutAttributeDescription, &o.AffiliateID, &o.CustomerIP,
		&o.AuthorizationTransactionID, &o.AuthorizationTransactionCode, &o.AuthorizationTransactionResult,
		&o.CaptureTransactionID, &o.CaptureTransactionResult, &o.SubscriptionTransactionID,
		&o.ShippingMethod, &o.ShippingRateComputationMethodSystemName, &o.CustomValues,
		&o.PaidDate, &o.Deleted, &o.CreatedOn,
	)
	if err != nil {
		return nil, err
	}
	o.OrderStatus = model.OrderStatus(orderStatus)
	o.ShippingStatus = model.ShippingStatus(shippingStatus)
	o.PaymentStatus = model.PaymentStatus(payStatus)
	return &o, nil
}

func customValues(order *model.Order) map[string]string {
	if order.CustomValues == nil {
		return map[string]string{}
	}
	return order.CustomValues
}

// InsertOrder сохраняет новый заказ и заполняет его идентификатор и дату создания.
func (r *PostgresRepository) InsertOrder(ctx context.Context, o *model.Order) error {
	createdOn := o.CreatedOn
	if createdOn.IsZero() {
		createdOn = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (order_guid, custom_order_number, store_id, customer_id,
			billing_address_id, shipping_address_id, pickup_address_id, pickup_in_store,
			order_status, shipping_status, payment_status,
			payment_method_system_name, customer_currency_code, currency_rate,
			order_subtotal_incl_tax, order_subtotal_excl_tax, order_subtotal_discount_incl_tax, order_subtotal_discount_excl_tax,
			order_shipping_incl_tax, order_shipping_excl_tax, payment_method_fee_incl_tax, payment_method_fee_excl_tax,
			order_tax, order_discount, order_total, refunded_amount,
			reward_points_history_entry_id, redeemed_reward_points_entry_id,
			checkout_attribute_description, affiliate_id, customer_ip,
			authorization_transaction_id, authorization_transaction_code, authorization_transaction_result,
			capture_transaction_id, capture_transaction_result, subscription_transaction_id,
			shipping_method, shipping_rate_computation_method, custom_values,
			paid_at, deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		         $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
		         $41, $42, $43)
		 RETURNING id, created_at`,
		o.OrderGUID, o.CustomOrderNumber, o.StoreID, o.CustomerID,
		o.BillingAddressID, o.ShippingAddressID, o.PickupAddressID, o.PickupInStore,
		string(o.OrderStatus), string(o.ShippingStatus), string(o.PaymentStatus),
		o.PaymentMethodSystemName, o.CustomerCurrencyCode, o.CurrencyRate,
		o.OrderSubtotalInclTax, o.OrderSubtotalExclTax, o.OrderSubtotalDiscountInclTax, o.OrderSubtotalDiscountExclTax,
		o.OrderShippingInclTax, o.OrderShippingExclTax, o.PaymentMethodFeeInclTax, o.PaymentMethodFeeExclTax,
		o.OrderTax, o.OrderDiscount, o.OrderTotal, o.RefundedAmount,
		o.RewardPointsHistoryEntryID, o.RedeemedRewardPointsID,
		o.CheckoutAttributeDescription, o.AffiliateID, o.CustomerIP,
		o.AuthorizationTransactionID, o.AuthorizationTransactionCode, o.AuthorizationTransactionResult,
		o.CaptureTransactionID, o.CaptureTransactionResult, o.SubscriptionTransactionID,
		o.ShippingMethod, o.ShippingRateComputationMethodSystemName, customValues(o),
		o.PaidDate, o.Deleted, createdOn,
	).Scan(&o.ID, &o.CreatedOn)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrder сохраняет изменяемые поля заказа. Снимок сумм оформления не перезаписывается.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, o *model.Order) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders SET
				custom_order_number = $2,
				order_status = $3, shipping_status = $4, payment_status = $5,
				refunded_amount = $6,
				reward_points_history_entry_id = $7, redeemed_reward_points_entry_id = $8,
				authorization_transaction_id = $9, authorization_transaction_code = $10, authorization_transaction_result = $11,
				capture_transaction_id = $12, capture_transaction_result = $13, subscription_transaction_id = $14,
				paid_at = $15, deleted = $16
			 WHERE id = $1`,
			o.ID,
			o.CustomOrderNumber,
			string(o.OrderStatus), string(o.ShippingStatus), string(o.PaymentStatus),
			o.RefundedAmount,
			o.RewardPointsHistoryEntryID, o.RedeemedRewardPointsID,
			o.AuthorizationTransactionID, o.AuthorizationTransactionCode, o.AuthorizationTransactionResult,
			o.CaptureTransactionID, o.CaptureTransactionResult, o.SubscriptionTransactionID,
			o.PaidDate, o.Deleted,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
				return fmt.Errorf("%w: order %d", ErrRefundExceedsTotal, o.ID)
			}
			return fmt.Errorf("update order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}
		return nil
	})
}

// GetOrderByID возвращает заказ по идентификатору, включая помеченные удалёнными.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// DeleteOrder помечает заказ удалённым. Строка заказа остаётся для истории.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, o *model.Order) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET deleted = TRUE WHERE id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	o.Deleted = true
	return nil
}

// InsertOrderItem сохраняет позицию заказа.
func (r *PostgresRepository) InsertOrderItem(ctx context.Context, item *model.OrderItem) error {
	var weight decimal.NullDecimal
	if item.ItemWeight != nil {
		weight = decimal.NewNullDecimal(*item.ItemWeight)
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO order_items (order_item_guid, order_id, product_id, vendor_id, quantity,
			unit_price_incl_tax, unit_price_excl_tax, price_incl_tax, price_excl_tax,
			discount_amount_incl_tax, discount_amount_excl_tax, original_product_cost,
			attribute_description, attributes, item_weight, is_ship_enabled,
			rental_start_date, rental_end_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id`,
		item.OrderItemGUID, item.OrderID, item.ProductID, item.VendorID, item.Quantity,
		item.UnitPriceInclTax, item.UnitPriceExclTax, item.PriceInclTax, item.PriceExclTax,
		item.DiscountAmountInclTax, item.DiscountAmountExclTax, item.OriginalProductCost,
		item.AttributeDescription, item.AttributesJSON, weight, item.IsShipEnabled,
		item.RentalStartDate, item.RentalEndDate,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

// GetOrderItems возвращает позиции заказа в порядке добавления.
func (r *PostgresRepository) GetOrderItems(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_item_guid, order_id, product_id, vendor_id, quantity,
			unit_price_incl_tax, unit_price_excl_tax, price_incl_tax, price_excl_tax,
			discount_amount_incl_tax, discount_amount_excl_tax, original_product_cost,
			attribute_description, attributes, item_weight, is_ship_enabled,
			rental_start_date, rental_end_date
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var res []model.OrderItem
	for rows.Next() {
		var (
			it     model.OrderItem
			weight decimal.NullDecimal
		)
		if err := rows.Scan(&it.ID, &it.OrderItemGUID, &it.OrderID, &it.ProductID, &it.VendorID, &it.Quantity,
			&it.UnitPriceInclTax, &it.UnitPriceExclTax, &it.PriceInclTax, &it.PriceExclTax,
			&it.DiscountAmountInclTax, &it.DiscountAmountExclTax, &it.OriginalProductCost,
			&it.AttributeDescription, &it.AttributesJSON, &weight, &it.IsShipEnabled,
			&it.RentalStartDate, &it.RentalEndDate,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if weight.Valid {
			w := weight.Decimal
			it.ItemWeight = &w
		}
		res = append(res, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// InsertOrderNote добавляет запись в журнал заказа.
func (r *PostgresRepository) InsertOrderNote(ctx context.Context, note *model.OrderNote) error {
	createdOn := note.CreatedOn
	if createdOn.IsZero() {
		createdOn = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO order_notes (order_id, note, display_to_customer, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		note.OrderID, note.Note, note.DisplayToCustomer, createdOn,
	).Scan(&note.ID)
	if err != nil {
		return fmt.Errorf("insert order note: %w", err)
	}
	note.CreatedOn = createdOn
	return nil
}

// GetOrderNotes возвращает журнал заказа в порядке записи.
func (r *PostgresRepository) GetOrderNotes(ctx context.Context, orderID int64) ([]model.OrderNote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, note, display_to_customer, created_at
		 FROM order_notes
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order notes: %w", err)
	}
	defer rows.Close()

	var res []model.OrderNote
	for rows.Next() {
		var n model.OrderNote
		if err := rows.Scan(&n.ID, &n.OrderID, &n.Note, &n.DisplayToCustomer, &n.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan order note: %w", err)
		}
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// InsertDiscountUsage фиксирует применение скидки к заказу.
func (r *PostgresRepository) InsertDiscountUsage(ctx context.Context, usage *model.DiscountUsage) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO discount_usage (discount_id, order_id) VALUES ($1, $2) RETURNING id, created_at`,
		usage.DiscountID, usage.OrderID,
	).Scan(&usage.ID, &usage.CreatedOn)
	if err != nil {
		return fmt.Errorf("insert discount usage: %w", err)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
