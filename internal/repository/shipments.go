package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// InsertShipment сохраняет отгрузку вместе с позициями в одной транзакции.
func (r *PostgresRepository) InsertShipment(ctx context.Context, shipment *model.Shipment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var weight decimal.NullDecimal
	if shipment.TotalWeight != nil {
		weight = decimal.NewNullDecimal(*shipment.TotalWeight)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO shipments (order_id, tracking_number, total_weight, shipped_at, delivered_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		shipment.OrderID, shipment.TrackingNumber, weight, shipment.ShippedDate, shipment.DeliveryDate,
	).Scan(&shipment.ID, &shipment.CreatedOn)
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}

	for i := range shipment.Items {
		si := &shipment.Items[i]
		si.ShipmentID = shipment.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO shipment_items (shipment_id, order_item_id, quantity, warehouse_id)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			si.ShipmentID, si.OrderItemID, si.Quantity, si.WarehouseID,
		).Scan(&si.ID)
		if err != nil {
			return fmt.Errorf("insert shipment item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetShipmentByID возвращает отгрузку с позициями.
func (r *PostgresRepository) GetShipmentByID(ctx context.Context, id int64) (*model.Shipment, error) {
	list, err := r.queryShipments(ctx,
		`SELECT id, order_id, tracking_number, total_weight, shipped_at, delivered_at, created_at
		 FROM shipments WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrShipmentNotFound
	}
	return &list[0], nil
}

// GetShipmentsByOrderID возвращает отгрузки заказа в порядке создания.
func (r *PostgresRepository) GetShipmentsByOrderID(ctx context.Context, orderID int64) ([]model.Shipment, error) {
	return r.queryShipments(ctx,
		`SELECT id, order_id, tracking_number, total_weight, shipped_at, delivered_at, created_at
		 FROM shipments
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
}

func (r *PostgresRepository) queryShipments(ctx context.Context, query string, args ...any) ([]model.Shipment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select shipments: %w", err)
	}
	defer rows.Close()

	var res []model.Shipment
	for rows.Next() {
		var (
			s      model.Shipment
			weight decimal.NullDecimal
		)
		if err := rows.Scan(&s.ID, &s.OrderID, &s.TrackingNumber, &weight, &s.ShippedDate, &s.DeliveryDate, &s.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		if weight.Valid {
			w := weight.Decimal
			s.TotalWeight = &w
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range res {
		items, err := r.shipmentItems(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}
	return res, nil
}

func (r *PostgresRepository) shipmentItems(ctx context.Context, shipmentID int64) ([]model.ShipmentItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT si.id, si.shipment_id, si.order_item_id, oi.product_id, si.quantity, si.warehouse_id
		 FROM shipment_items si
		 JOIN order_items oi ON oi.id = si.order_item_id
		 WHERE si.shipment_id = $1
		 ORDER BY si.id`,
		shipmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select shipment items: %w", err)
	}
	defer rows.Close()

	var res []model.ShipmentItem
	for rows.Next() {
		var si model.ShipmentItem
		if err := rows.Scan(&si.ID, &si.ShipmentID, &si.OrderItemID, &si.ProductID, &si.Quantity, &si.WarehouseID); err != nil {
			return nil, fmt.Errorf("scan shipment item: %w", err)
		}
		res = append(res, si)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateShipment сохраняет даты отправки и доставки.
func (r *PostgresRepository) UpdateShipment(ctx context.Context, shipment *model.Shipment) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE shipments SET tracking_number = $2, shipped_at = $3, delivered_at = $4 WHERE id = $1`,
		shipment.ID, shipment.TrackingNumber, shipment.ShippedDate, shipment.DeliveryDate,
	)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShipmentNotFound
	}
	return nil
}
