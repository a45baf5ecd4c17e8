package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

func TestOrderRepository_PostgresCreateGetAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	products := NewProductRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	product := sampleProduct(now, 10)
	if err := products.Create(product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	order := sampleOrder("ORD-PG-1", product.ID, now.Add(-2*time.Minute))
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Создание заказа должно списать остаток.
	gotProduct, err := products.Get(product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if gotProduct.Stock != 8 {
		t.Fatalf("expected stock 8 after create, got %d", gotProduct.Stock)
	}

	got, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.OrderNumber != order.OrderNumber || got.Status != order.Status || got.Payment != order.Payment {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if !got.Total.Equal(order.Total) {
		t.Fatalf("unexpected total: got=%s want=%s", got.Total, order.Total)
	}
	if len(got.Items) != 1 {
		t.Fatalf("unexpected items count: %d", len(got.Items))
	}

	byNumber, err := repo.GetByNumber(order.OrderNumber)
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if byNumber.ID != order.ID {
		t.Fatalf("unexpected order by number: %+v", byNumber)
	}

	got.Payment = domain.PaymentStatusPaid
	got.Status = domain.OrderStatusProcessing
	got.Gateway = "novapay"
	got.TransactionID = "TXN-42"
	got.UpdatedAt = now
	if err := repo.Save(got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Payment != domain.PaymentStatusPaid || updated.TransactionID != "TXN-42" {
		t.Fatalf("unexpected order after save: %+v", updated)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}
}

func TestOrderRepository_PostgresSaveWithRestock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	products := NewProductRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	product := sampleProduct(now, 5)
	if err := products.Create(product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	order := sampleOrder("ORD-PG-RESTOCK", product.ID, now)
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}

	stored.Status = domain.OrderStatusCancelled
	stored.StockRestored = true
	stored.UpdatedAt = now.Add(time.Minute)
	if err := repo.SaveWithRestock(stored, stored.RestockAdjustments()); err != nil {
		t.Fatalf("save with restock: %v", err)
	}

	gotProduct, err := products.Get(product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if gotProduct.Stock != 5 {
		t.Fatalf("expected stock back to 5, got %d", gotProduct.Stock)
	}

	// Повторная попытка со stale-версией не должна трогать остатки.
	if err := repo.SaveWithRestock(stored, stored.RestockAdjustments()); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict on stale restock, got %v", err)
	}
	gotProduct, err = products.Get(product.ID)
	if err != nil {
		t.Fatalf("get product after stale save: %v", err)
	}
	if gotProduct.Stock != 5 {
		t.Fatalf("stale save must not change stock, got %d", gotProduct.Stock)
	}
}

func TestOrderRepository_PostgresExpirySweepQueries(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	products := NewProductRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	product := sampleProduct(now, 100)
	if err := products.Create(product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	old := sampleOrder("ORD-PG-OLD", product.ID, now.Add(-time.Hour))
	fresh := sampleOrder("ORD-PG-FRESH", product.ID, now.Add(-time.Minute))
	paid := sampleOrder("ORD-PG-PAID", product.ID, now.Add(-time.Hour))
	paid.Payment = domain.PaymentStatusPaid
	paid.Status = domain.OrderStatusProcessing

	for _, order := range []domain.Order{old, fresh, paid} {
		if err := repo.Create(order); err != nil {
			t.Fatalf("create order %s: %v", order.OrderNumber, err)
		}
	}

	cutoff := now.Add(-10 * time.Minute)
	expired, err := repo.ListExpiredPending(cutoff, 10)
	if err != nil {
		t.Fatalf("list expired pending: %v", err)
	}
	if len(expired) != 1 || expired[0].OrderNumber != "ORD-PG-OLD" {
		t.Fatalf("unexpected expired orders: %+v", expired)
	}

	count, err := repo.CountExpiredPending(cutoff)
	if err != nil {
		t.Fatalf("count expired pending: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired order, got %d", count)
	}

	// Доставленный заказ без delivered_at должен попадать в выборку по updated_at.
	delivered, err := repo.Get(old.ID)
	if err != nil {
		t.Fatalf("get order for delivery: %v", err)
	}
	delivered.Status = domain.OrderStatusDelivered
	deliveredAt := now.Add(-30 * time.Minute)
	delivered.DeliveredAt = &deliveredAt
	delivered.UpdatedAt = now
	if err := repo.Save(delivered); err != nil {
		t.Fatalf("save delivered order: %v", err)
	}

	receivable, err := repo.ListDeliveredBefore(now.Add(-20*time.Minute), 10)
	if err != nil {
		t.Fatalf("list delivered before: %v", err)
	}
	if len(receivable) != 1 || receivable[0].ID != old.ID {
		t.Fatalf("unexpected delivered orders: %+v", receivable)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	products := NewProductRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	product := sampleProduct(now, 1)
	if err := products.Create(product); err != nil {
		t.Fatalf("create product: %v", err)
	}

	if _, err := repo.Get(uuid.NewString()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := repo.GetByNumber("ORD-MISSING"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound by number, got %v", err)
	}

	base := sampleOrder("ORD-PG-ERRORS", product.ID, now)
	base.Items[0].Qty = 1
	base.Total = base.Items[0].UnitPrice

	if err := repo.Save(base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	if err := repo.Create(base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	dup := base
	dup.ID = uuid.NewString()
	dup.Items = []domain.OrderItem{}
	if err := repo.Create(dup); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected conflict on duplicate order number, got %v", err)
	}

	// Остаток исчерпан первым заказом: второй должен откатиться целиком.
	starved := sampleOrder("ORD-PG-STARVED", product.ID, now)
	if err := repo.Create(starved); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := repo.GetByNumber("ORD-PG-STARVED"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("starved order must not be persisted, got %v", err)
	}

	stale := base
	stale.Status = domain.OrderStatusProcessing
	stale.UpdatedAt = now.Add(time.Minute)
	stale.Version = 42
	if err := repo.Save(stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleProduct(createdAt time.Time, stock int32) domain.Product {
	return domain.Product{
		ID:        uuid.NewString(),
		SKU:       "SKU-" + uuid.NewString()[:8],
		Name:      "integration product",
		Price:     decimal.NewFromFloat(1.50),
		Stock:     stock,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func sampleOrder(orderNumber, productID string, createdAt time.Time) domain.Order {
	unitPrice := decimal.NewFromFloat(1.50)
	items := []domain.OrderItem{
		{
			ID:        uuid.NewString(),
			ProductID: productID,
			Qty:       2,
			UnitPrice: unitPrice,
			CreatedAt: createdAt,
		},
	}

	return domain.Order{
		ID:          uuid.NewString(),
		OrderNumber: orderNumber,
		CustomerID:  "customer-1",
		Status:      domain.OrderStatusPending,
		Payment:     domain.PaymentStatusPending,
		Currency:    "USD",
		Total:       unitPrice.Mul(decimal.NewFromInt(2)),
		Items:       items,
		Version:     0,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}
