package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.SKU, product.Name, product.Price,
		product.Stock, product.CreatedAt, product.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product already exists: %w", err)
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var product domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sku, name, price, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SKU, &product.Name, &product.Price,
		&product.Stock, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	return product, nil
}

// AdjustStock изменяет остаток на delta. Уход ниже нуля отклоняется
// условием в самом запросе, без отдельного чтения.
func (r *productRepository) AdjustStock(id string, delta int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND stock + $1 >= 0
	`, delta, id)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust stock rows affected: %w", err)
	}
	if affected == 0 {
		var stock int32
		err := r.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("check product stock: %w", err)
		}
		return domain.ErrInsufficientStock
	}

	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
