package database

import (
	"context"
	"fmt"
)

// ShopLocks hands out one Postgres session advisory lock per shop, so runs
// of the same shop wait for each other across every process sharing the
// database. Each held lock pins one pool connection.
type ShopLocks struct {
	db *DB
}

func NewShopLocks(db *DB) *ShopLocks {
	return &ShopLocks{db: db}
}

// Lock blocks until the shop's lock is free or ctx is done.
func (l *ShopLocks) Lock(ctx context.Context, shop string) (func(), error) {
	conn, err := l.db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	key := shopLockKey(shop)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to lock shop %s: %w", shop, err)
	}

	return func() {
		ctx := context.Background()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// Closing the session drops every lock it holds.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

func shopLockKey(shop string) string {
	return "crawl_run:" + shop
}
