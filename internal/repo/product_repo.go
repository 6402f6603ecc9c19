package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// ProductRepository 定义商品目录只读接口，未找到时返回 nil, nil
type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*domain.Product, error)
}

// productRepo 实现ProductRepository接口
type productRepo struct {
	db *sql.DB
}

// NewProductRepository 创建商品仓储实例
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepo{db: db}
}

const productColumns = `id, title, slug, sku, brand, price, images, category_id, track_inventory, is_active, created_at, updated_at`

// GetByID 根据ID获取商品
func (r *productRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product by id: %w", err)
	}
	return product, nil
}

// GetBySlug 根据slug获取商品
func (r *productRepo) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE slug = ?`
	product, err := scanProduct(r.db.QueryRowContext(ctx, query, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product by slug: %w", err)
	}
	return product, nil
}

// GetByIDs 批量获取商品，不存在的ID直接忽略
func (r *productRepo) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return []*domain.Product{}, nil
	}

	placeholders, args := inClause(ids)
	query := fmt.Sprintf(`SELECT %s FROM products WHERE id IN (%s)`, productColumns, placeholders)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get products by ids: %w", err)
	}
	defer rows.Close()

	products := make([]*domain.Product, 0, len(ids))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	product := &domain.Product{}
	var images []byte
	var categoryID sql.NullInt64
	err := row.Scan(
		&product.ID,
		&product.Title,
		&product.Slug,
		&product.SKU,
		&product.Brand,
		&product.Price,
		&images,
		&categoryID,
		&product.TrackInventory,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if categoryID.Valid {
		id := categoryID.Int64
		product.CategoryID = &id
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &product.Images); err != nil {
			return nil, fmt.Errorf("decode images of product %d: %w", product.ID, err)
		}
	}
	return product, nil
}
