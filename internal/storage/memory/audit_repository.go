package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

// auditRepositoryInMemory — простое in-memory хранилище журнала платёжных событий.
type auditRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string][]domain.PaymentAuditEntry
}

// NewPaymentAuditRepository создаёт in-memory реализацию журнала.
func NewPaymentAuditRepository() domain.PaymentAuditRepository {
	return &auditRepositoryInMemory{entries: make(map[string][]domain.PaymentAuditEntry)}
}

// Append добавляет запись в журнал заказа; существующие записи не изменяются.
func (r *auditRepositoryInMemory) Append(entry domain.PaymentAuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Occurred.IsZero() {
		entry.Occurred = time.Now().UTC()
	}
	r.entries[entry.OrderID] = append(r.entries[entry.OrderID], entry)
	return nil
}

// List возвращает копию журнала заказа в порядке добавления.
func (r *auditRepositoryInMemory) List(orderID string) ([]domain.PaymentAuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.entries[orderID]
	result := make([]domain.PaymentAuditEntry, len(stored))
	copy(result, stored)
	return result, nil
}

var _ domain.PaymentAuditRepository = (*auditRepositoryInMemory)(nil)
