package memory

import (
	"time"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

// productRepositoryInMemory — реализация ProductRepository поверх общего Store.
type productRepositoryInMemory struct {
	store *Store
}

// NewProductRepository возвращает in-memory репозиторий товаров.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepositoryInMemory{store: store}
}

// Create сохраняет новый товар, если ID ещё не занят.
func (r *productRepositoryInMemory) Create(product domain.Product) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return domain.ErrProductNotFound
	}
	s.products[product.ID] = product
	return nil
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// AdjustStock изменяет остаток товара на delta; уход ниже нуля не применяется.
func (r *productRepositoryInMemory) AdjustStock(id string, delta int32) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Stock+delta < 0 {
		return domain.ErrInsufficientStock
	}
	product.Stock += delta
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
