package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

var stagingColumns = []string{
	"run_id", "shop", "name", "rating", "description", "url",
	"variant", "price", "discounted_price", "discount_percentage", "image_urls",
}

type promoteStatement struct {
	label string
	sql   string
}

// promoteStatements move the staged rows matching filter into the product
// tables. filter is a condition on the staging alias s with one parameter.
// Later rows for the same product or variant win.
func promoteStatements(filter string) []promoteStatement {
	return []promoteStatement{
		{"pet_products", `
		INSERT INTO pet_products (shop, name, rating, description, url, updated_at)
		SELECT DISTINCT ON (s.shop, s.url) s.shop, s.name, s.rating, s.description, s.url, now()
		FROM stg_products s
		WHERE ` + filter + `
		ORDER BY s.shop, s.url, s.staged_at DESC
		ON CONFLICT (shop, url) DO UPDATE SET
			name = EXCLUDED.name,
			rating = EXCLUDED.rating,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`},
		{"pet_product_variants", `
		INSERT INTO pet_product_variants (product_id, variant, image_urls)
		SELECT DISTINCT ON (p.id, COALESCE(s.variant, '')) p.id, COALESCE(s.variant, ''), s.image_urls
		FROM stg_products s
		JOIN pet_products p ON p.shop = s.shop AND p.url = s.url
		WHERE ` + filter + `
		ORDER BY p.id, COALESCE(s.variant, ''), s.staged_at DESC
		ON CONFLICT (product_id, variant) DO UPDATE SET
			image_urls = EXCLUDED.image_urls`},
		{"pet_product_variant_prices", `
		INSERT INTO pet_product_variant_prices (product_variant_id, price, discounted_price, discount_percentage, price_date)
		SELECT DISTINCT ON (v.id) v.id, s.price, s.discounted_price, s.discount_percentage, CURRENT_DATE
		FROM stg_products s
		JOIN pet_products p ON p.shop = s.shop AND p.url = s.url
		JOIN pet_product_variants v ON v.product_id = p.id AND v.variant = COALESCE(s.variant, '')
		WHERE ` + filter + `
		ORDER BY v.id, s.staged_at DESC
		ON CONFLICT (product_variant_id, price_date) DO UPDATE SET
			price = EXCLUDED.price,
			discounted_price = EXCLUDED.discounted_price,
			discount_percentage = EXCLUDED.discount_percentage`},
	}
}

type ProductRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db, outbox: NewOutboxRepository(db)}
}

// StageProducts appends rows to the staging table under runID.
func (r *ProductRepository) StageProducts(ctx context.Context, runID string, rows []models.ProductRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	id, err := uuid.Parse(runID)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	n, err := r.db.pool.CopyFrom(ctx,
		pgx.Identifier{"stg_products"},
		stagingColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return stagingValues(id, rows[i]), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to stage products: %w", err)
	}

	return n, nil
}

// PromoteStaged inserts the run's staged rows into pet_products,
// pet_product_variants and pet_product_variant_prices, then clears them from
// staging. Everything, including the optional outbox event, commits together.
// It returns the number of price rows written.
func (r *ProductRepository) PromoteStaged(ctx context.Context, runID string, event *OutboxEvent) (int64, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	return r.promote(ctx, "s.run_id = $1", id, event)
}

// PromoteShopStaged promotes every row still staged for shop, whichever run
// left it there. Rows stay behind when a run dies between staging and
// promotion; the shop's next products run calls this before it starts.
func (r *ProductRepository) PromoteShopStaged(ctx context.Context, shop string) (int64, error) {
	return r.promote(ctx, "s.shop = $1", shop, nil)
}

func (r *ProductRepository) promote(ctx context.Context, filter string, arg any, event *OutboxEvent) (int64, error) {
	var prices int64

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		for _, stmt := range promoteStatements(filter) {
			tag, err := tx.Exec(ctx, stmt.sql, arg)
			if err != nil {
				return fmt.Errorf("failed to insert into %s: %w", stmt.label, err)
			}
			prices = tag.RowsAffected()
		}

		if _, err := tx.Exec(ctx, `DELETE FROM stg_products s WHERE `+filter, arg); err != nil {
			return fmt.Errorf("failed to clear staged products: %w", err)
		}

		if event != nil {
			return r.outbox.InsertWithTx(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return prices, nil
}

func stagingValues(runID uuid.UUID, row models.ProductRow) []any {
	return []any{
		runID,
		row.Shop,
		row.Name,
		row.Rating,
		row.Description,
		row.URL,
		row.Variant,
		row.Price,
		row.DiscountedPrice,
		row.DiscountPercentage,
		strings.Join(row.ImageURLs, ", "),
	}
}
