package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

// orderRepositoryInMemory — реализация OrderRepository поверх общего Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// Create сохраняет новый заказ и списывает остатки по его позициям.
// Под одним мьютексом либо применяется всё, либо ничего.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	if _, exists := s.orderNumbers[order.OrderNumber]; exists {
		return domain.ErrOrderVersionConflict
	}

	// Проверяем наличие и достаточность остатков до каких-либо мутаций.
	for _, item := range order.Items {
		product, ok := s.products[item.ProductID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if product.Stock < item.Qty {
			return domain.ErrInsufficientStock
		}
	}
	for _, item := range order.Items {
		product := s.products[item.ProductID]
		product.Stock -= item.Qty
		product.UpdatedAt = time.Now().UTC()
		s.products[item.ProductID] = product
	}

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.orders[order.ID] = detachOrder(order)
	s.orderNumbers[order.OrderNumber] = order.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return detachOrder(order), nil
}

// GetByNumber возвращает заказ по номеру — ключу callback'ов шлюзов.
func (r *orderRepositoryInMemory) GetByNumber(orderNumber string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.orderNumbers[orderNumber]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return detachOrder(s.orders[id]), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return r.saveLocked(order)
}

// SaveWithRestock атомарно сохраняет заказ и возвращает остатки на склад.
// Под одним мьютексом либо применяются обе записи, либо ни одна.
func (r *orderRepositoryInMemory) SaveWithRestock(order domain.Order, restock []domain.StockAdjustment) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// Проверяем версию и наличие товаров до каких-либо мутаций.
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	for _, adj := range restock {
		if _, exists := s.products[adj.ProductID]; !exists {
			return domain.ErrProductNotFound
		}
	}

	for _, adj := range restock {
		product := s.products[adj.ProductID]
		product.Stock += adj.Qty
		product.UpdatedAt = time.Now().UTC()
		s.products[adj.ProductID] = product
	}

	return r.saveLocked(order)
}

// ListExpiredPending возвращает неоплаченные pending-заказы, созданные раньше before.
func (r *orderRepositoryInMemory) ListExpiredPending(before time.Time, limit int) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if !isExpirable(order, before) {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// CountExpiredPending возвращает количество заказов под expiry-предикатом.
func (r *orderRepositoryInMemory) CountExpiredPending(before time.Time) (int, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, order := range s.orders {
		if isExpirable(order, before) {
			count++
		}
	}
	return count, nil
}

// ListDeliveredBefore возвращает доставленные заказы старше before.
func (r *orderRepositoryInMemory) ListDeliveredBefore(before time.Time, limit int) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.Status != domain.OrderStatusDelivered {
			continue
		}
		anchor := order.UpdatedAt
		if order.DeliveredAt != nil {
			anchor = *order.DeliveredAt
		}
		if !anchor.Before(before) {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// saveLocked перезаписывает заказ под уже взятым мьютексом.
func (r *orderRepositoryInMemory) saveLocked(order domain.Order) error {
	s := r.store

	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	s.orders[order.ID] = detachOrder(order)
	return nil
}

// detachOrder копирует слайс позиций: заказ в хранилище не должен делить
// память со значением у вызывающего.
func detachOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order
}

func isExpirable(order domain.Order, before time.Time) bool {
	return order.Status == domain.OrderStatusPending &&
		order.Payment == domain.PaymentStatusPending &&
		order.CreatedAt.Before(before)
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
