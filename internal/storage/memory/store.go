package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

// Store — общее in-memory хранилище заказов и товаров.
// Один мьютекс на всё хранилище гарантирует, что запись заказа и возврат
// остатков применяются атомарно, как того требует леджер.
type Store struct {
	mu           sync.RWMutex
	orders       map[string]domain.Order
	orderNumbers map[string]string // order_number -> id
	products     map[string]domain.Product
}

// NewStore создаёт пустое in-memory хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		orders:       make(map[string]domain.Order),
		orderNumbers: make(map[string]string),
		products:     make(map[string]domain.Product),
	}
}
