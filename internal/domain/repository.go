package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и атомарно списывает остатки по его позициям.
	// Возвращает ошибку, если запись с таким ID или order_number уже существует,
	// либо ErrInsufficientStock, если остатка какого-то товара не хватает;
	// в этом случае ни одна запись не применяется.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetByNumber возвращает заказ по номеру — ключу, которым оперируют callback'и шлюзов.
	GetByNumber(orderNumber string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// SaveWithRestock атомарно сохраняет заказ и возвращает остатки на склад.
	// Обе записи выполняются в одной транзакции; при конфликте версий ни одна не применяется.
	SaveWithRestock(order Order, restock []StockAdjustment) error
	// ListExpiredPending возвращает до limit неоплаченных заказов, созданных раньше before.
	ListExpiredPending(before time.Time, limit int) ([]Order, error)
	// CountExpiredPending возвращает количество заказов, подходящих под expiry-предикат.
	CountExpiredPending(before time.Time) (int, error)
	// ListDeliveredBefore возвращает доставленные заказы, у которых delivered_at
	// (или updated_at, если delivered_at пуст) старше before.
	ListDeliveredBefore(before time.Time, limit int) ([]Order, error)
}

// ProductRepository описывает требования к хранилищу товаров.
type ProductRepository interface {
	// Create сохраняет новый товар.
	Create(product Product) error
	// Get возвращает товар или ErrProductNotFound.
	Get(id string) (Product, error)
	// AdjustStock изменяет остаток на delta; уменьшение ниже нуля возвращает
	// ErrInsufficientStock и не применяется.
	AdjustStock(id string, delta int32) error
}

// PaymentAuditRepository хранит append-only журнал платёжных взаимодействий.
type PaymentAuditRepository interface {
	Append(entry PaymentAuditEntry) error
	List(orderID string) ([]PaymentAuditEntry, error)
}
