package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// AdjustInventory изменяет остаток товара с учётом комбинации атрибутов и пишет историю движения.
func (r *PostgresRepository) AdjustInventory(ctx context.Context, productID int64, quantityDelta int, attributesJSON, message string) error {
	if quantityDelta == 0 {
		return nil
	}
	return r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`INSERT INTO product_stock (product_id, attributes, stock_quantity)
				 VALUES ($1, $2, $3)
				 ON CONFLICT (product_id, attributes)
				 DO UPDATE SET stock_quantity = product_stock.stock_quantity + EXCLUDED.stock_quantity`,
				productID, attributesJSON, quantityDelta,
			)
			if err != nil {
				return fmt.Errorf("adjust product stock: %w", err)
			}
			return insertStockHistory(ctx, tx, productID, nil, quantityDelta, message)
		})
	})
}

// BookReservedInventory списывает отгруженное количество со склада вместе с резервом.
func (r *PostgresRepository) BookReservedInventory(ctx context.Context, productID, warehouseID int64, quantityDelta int, message string) error {
	return r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			if err := lockWarehouseStock(ctx, tx, productID, warehouseID); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`UPDATE warehouse_stock
				 SET stock_quantity = stock_quantity + $3,
				     reserved_quantity = GREATEST(reserved_quantity + $3, 0)
				 WHERE product_id = $1 AND warehouse_id = $2`,
				productID, warehouseID, quantityDelta,
			)
			if err != nil {
				return fmt.Errorf("book reserved inventory: %w", err)
			}
			return insertStockHistory(ctx, tx, productID, &warehouseID, quantityDelta, message)
		})
	})
}

// ReverseBookedInventory возвращает на склад количество позиции отгрузки.
func (r *PostgresRepository) ReverseBookedInventory(ctx context.Context, item model.ShipmentItem, message string) error {
	if item.WarehouseID == 0 || item.Quantity == 0 {
		return nil
	}
	return r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			if err := lockWarehouseStock(ctx, tx, item.ProductID, item.WarehouseID); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`UPDATE warehouse_stock
				 SET stock_quantity = stock_quantity + $3,
				     reserved_quantity = reserved_quantity + $3
				 WHERE product_id = $1 AND warehouse_id = $2`,
				item.ProductID, item.WarehouseID, item.Quantity,
			)
			if err != nil {
				return fmt.Errorf("reverse booked inventory: %w", err)
			}
			warehouseID := item.WarehouseID
			return insertStockHistory(ctx, tx, item.ProductID, &warehouseID, item.Quantity, message)
		})
	})
}

// lockWarehouseStock создаёт строку остатка при необходимости и блокирует её до конца транзакции.
func lockWarehouseStock(ctx context.Context, tx pgx.Tx, productID, warehouseID int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO warehouse_stock (product_id, warehouse_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		productID, warehouseID,
	)
	if err != nil {
		return fmt.Errorf("ensure warehouse stock: %w", err)
	}

	var dummy int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM warehouse_stock WHERE product_id = $1 AND warehouse_id = $2 FOR UPDATE`,
		productID, warehouseID,
	).Scan(&dummy)
	if err != nil {
		return fmt.Errorf("lock warehouse stock: %w", err)
	}
	return nil
}

func insertStockHistory(ctx context.Context, tx pgx.Tx, productID int64, warehouseID *int64, delta int, message string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO stock_quantity_history (product_id, warehouse_id, quantity_delta, message) VALUES ($1, $2, $3, $4)`,
		productID, warehouseID, delta, message,
	)
	if err != nil {
		return fmt.Errorf("insert stock history: %w", err)
	}
	return nil
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
