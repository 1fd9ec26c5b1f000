package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

type URLRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewURLRepository(db *DB) *URLRepository {
	return &URLRepository{db: db, outbox: NewOutboxRepository(db)}
}

// ReplaceShopURLs drops every URL stored for shop and inserts urls in its
// place. When event is non-nil it is written to the outbox in the same
// transaction.
func (r *URLRepository) ReplaceShopURLs(ctx context.Context, shop string, urls []string, event *OutboxEvent) (int64, error) {
	var inserted int64

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM urls WHERE shop = $1`, shop); err != nil {
			return fmt.Errorf("failed to delete urls for %s: %w", shop, err)
		}

		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"urls"},
			[]string{"shop", "url"},
			pgx.CopyFromSlice(len(urls), func(i int) ([]any, error) {
				return []any{shop, urls[i]}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert urls for %s: %w", shop, err)
		}
		inserted = n

		if event != nil {
			return r.outbox.InsertWithTx(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// UnscrapedURLs returns the shop's URLs that were never scraped or whose last
// scrape failed, in insertion order. DONE URLs come back only after the next
// links run rebuilds the table.
func (r *URLRepository) UnscrapedURLs(ctx context.Context, shop string) ([]models.ProductURL, error) {
	query := `
		SELECT id, shop, url
		FROM urls
		WHERE shop = $1 AND (scrape_status IS NULL OR scrape_status = $2)
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, shop, string(models.URLStatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to select unscraped urls: %w", err)
	}
	defer rows.Close()

	var urls []models.ProductURL
	for rows.Next() {
		var u models.ProductURL
		if err := rows.Scan(&u.ID, &u.Shop, &u.URL); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls = append(urls, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return urls, nil
}

func (r *URLRepository) MarkURL(ctx context.Context, id int64, status models.URLStatus, at time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE urls SET scrape_status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at, id)
	if err != nil {
		return fmt.Errorf("failed to update url scrape status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("url not found: %d", id)
	}

	return nil
}
