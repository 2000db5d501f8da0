// Package catalog reads product details from the shop's catalog so an
// auction can keep its own copy of them.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/aaronwang/coin-auction/internal/models"
)

// ErrProductNotFound is returned when the catalog has no such product
var ErrProductNotFound = errors.New("product not found")

// Catalog returns a point-in-time snapshot of one product
type Catalog interface {
	Snapshot(ctx context.Context, productID string) (models.ProductSnapshot, error)
}

// PostgresCatalog reads the products table owned by the shop backend
type PostgresCatalog struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewPostgresCatalog creates a catalog reader
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Snapshot reads the product row that a new auction copies its name, image
// and category from. A missing row yields ErrProductNotFound.
func (c *PostgresCatalog) Snapshot(ctx context.Context, productID string) (models.ProductSnapshot, error) {
	query, args, err := c.builder.
		Select("id", "name", "COALESCE(image_url, '')", "COALESCE(category, '')").
		From("products").
		Where("id = ?", productID).
		ToSql()
	if err != nil {
		return models.ProductSnapshot{}, fmt.Errorf("failed to build product select: %w", err)
	}

	var p models.ProductSnapshot
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&p.ProductID, &p.Name, &p.ImageURL, &p.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ProductSnapshot{}, ErrProductNotFound
		}
		return models.ProductSnapshot{}, fmt.Errorf("failed to get product %s: %w", productID, err)
	}
	return p, nil
}
