package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, order_number, customer_id, status, payment_status, currency, total,
	gateway, transaction_id, stock_restored, version,
	created_at, updated_at, delivered_at, received_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create вставляет заказ с позициями и списывает остатки в одной транзакции.
// Нехватка остатка по любой позиции откатывает всё.
func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_id, status, payment_status, currency, total,
			gateway, transaction_id, stock_restored, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		order.ID, order.OrderNumber, order.CustomerID,
		string(order.Status), string(order.Payment), order.Currency, order.Total,
		order.Gateway, order.TransactionID, order.StockRestored,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, qty, unit_price, created_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			item.ID, order.ID, item.ProductID, item.Qty, item.UnitPrice, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}

		if err = decrementStockTx(ctx, tx, item.ProductID, item.Qty); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByField(ctx, "id", id)
}

func (r *orderRepository) GetByNumber(orderNumber string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByField(ctx, "order_number", orderNumber)
}

func (r *orderRepository) getByField(ctx context.Context, field, value string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE `+field+` = $1
	`, value)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order by %s: %w", field, err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	return r.saveWithRestock(order, nil)
}

// SaveWithRestock сохраняет заказ и возвращает остатки на склад в одной транзакции.
// При конфликте версий ни одна запись не применяется.
func (r *orderRepository) SaveWithRestock(order domain.Order, restock []domain.StockAdjustment) error {
	return r.saveWithRestock(order, restock)
}

func (r *orderRepository) saveWithRestock(order domain.Order, restock []domain.StockAdjustment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    gateway = $3,
		    transaction_id = $4,
		    stock_restored = $5,
		    version = version + 1,
		    updated_at = $6,
		    delivered_at = $7,
		    received_at = $8
		WHERE id = $9
		  AND version = $10
	`,
		string(order.Status),
		string(order.Payment),
		order.Gateway,
		order.TransactionID,
		order.StockRestored,
		order.UpdatedAt,
		nullableTime(order.DeliveredAt),
		nullableTime(order.ReceivedAt),
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := orderExistsTx(ctx, tx, order.ID)
		if existsErr != nil {
			err = existsErr
			return err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	for _, adj := range restock {
		res, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $1,
			    updated_at = NOW()
			WHERE id = $2
		`, adj.Qty, adj.ProductID)
		if err != nil {
			return fmt.Errorf("restock product: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("restock rows affected: %w", err)
		}
		if affected == 0 {
			err = domain.ErrProductNotFound
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}

	return nil
}

// ListExpiredPending возвращает неоплаченные заказы, созданные раньше before.
// Порядок стабильный, чтобы повторные свипы шли по тому же списку.
func (r *orderRepository) ListExpiredPending(before time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		  AND payment_status = $2
		  AND created_at < $3
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`, string(domain.OrderStatusPending), string(domain.PaymentStatusPending), before, limit)
}

func (r *orderRepository) CountExpiredPending(before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE status = $1
		  AND payment_status = $2
		  AND created_at < $3
	`, string(domain.OrderStatusPending), string(domain.PaymentStatusPending), before).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count expired pending orders: %w", err)
	}

	return count, nil
}

// ListDeliveredBefore возвращает доставленные заказы, ожидающие автоподтверждения.
// Для заказов без отметки delivered_at опорой служит updated_at.
func (r *orderRepository) ListDeliveredBefore(before time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.listOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		  AND COALESCE(delivered_at, updated_at) < $2
		ORDER BY COALESCE(delivered_at, updated_at) ASC, id ASC
		LIMIT $3
	`, string(domain.OrderStatusDelivered), before, limit)
}

func (r *orderRepository) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		items, err := r.loadItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, qty, unit_price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.UnitPrice, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		payment     string
		deliveredAt sql.NullTime
		receivedAt  sql.NullTime
	)

	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &status, &payment,
		&order.Currency, &order.Total, &order.Gateway, &order.TransactionID,
		&order.StockRestored, &order.Version,
		&order.CreatedAt, &order.UpdatedAt, &deliveredAt, &receivedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.Payment = domain.PaymentStatus(payment)
	if deliveredAt.Valid {
		t := deliveredAt.Time
		order.DeliveredAt = &t
	}
	if receivedAt.Valid {
		t := receivedAt.Time
		order.ReceivedAt = &t
	}

	return order, nil
}

func decrementStockTx(ctx context.Context, tx *sql.Tx, productID string, qty int32) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND stock >= $1
	`, qty, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := productExistsTx(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrProductNotFound
		}
		return domain.ErrInsufficientStock
	}

	return nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func productExistsTx(ctx context.Context, tx *sql.Tx, productID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, productID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check product exists: %w", err)
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
