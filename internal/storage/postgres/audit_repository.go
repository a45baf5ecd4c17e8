package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

type auditRepository struct {
	db *sql.DB
}

// NewPaymentAuditRepository создаёт PostgreSQL-реализацию PaymentAuditRepository.
func NewPaymentAuditRepository(store *Store) domain.PaymentAuditRepository {
	return &auditRepository{db: store.DB()}
}

func (r *auditRepository) Append(entry domain.PaymentAuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Occurred.IsZero() {
		entry.Occurred = time.Now().UTC()
	}

	// Пустой raw пишем как NULL, а не как пустую JSONB-строку.
	var raw any
	if len(entry.Raw) > 0 {
		raw = entry.Raw
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_events (id, order_id, gateway, kind, transaction_id, response_code, raw, occurred)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.OrderID, entry.Gateway, entry.Kind,
		entry.TransactionID, entry.ResponseCode, raw, entry.Occurred); err != nil {
		return fmt.Errorf("append payment event: %w", err)
	}

	return nil
}

func (r *auditRepository) List(orderID string) ([]domain.PaymentAuditEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, gateway, kind, transaction_id, response_code, raw, occurred
		FROM payment_events
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.PaymentAuditEntry, 0)
	for rows.Next() {
		var entry domain.PaymentAuditEntry
		var raw sql.NullString
		if err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Gateway, &entry.Kind,
			&entry.TransactionID, &entry.ResponseCode, &raw, &entry.Occurred); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		if raw.Valid {
			entry.Raw = []byte(raw.String)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment events: %w", err)
	}

	return entries, nil
}

var _ domain.PaymentAuditRepository = (*auditRepository)(nil)
