package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/murmur/domain"
	"github.com/google/uuid"
)

// Delivery Queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, username, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, username, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
	sqlCountDeliveries         = `SELECT count(*) FROM delivery_queue`
)

// EnqueueDeliveries stores the items in one transaction.
func (db *DB) EnqueueDeliveries(ctx context.Context, items []domain.DeliveryQueueItem) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			_, err := tx.ExecContext(ctx, sqlInsertDeliveryQueue,
				item.Id.String(),
				item.Username,
				item.InboxURI,
				item.ActivityJSON,
				item.Attempts,
				item.NextRetryAt.UTC(),
				item.CreatedAt.UTC(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadPendingDeliveries returns up to limit items that are due now.
func (db *DB) ReadPendingDeliveries(ctx context.Context, limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingDeliveries, db.timestamp(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.Username, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return items, err
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateDeliveryAttempt records a failed attempt and its next retry time.
func (db *DB) UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpdateDeliveryAttempt, attempts, nextRetry.UTC(), id.String())
		return err
	})
}

// DeleteDelivery removes a delivered or abandoned item.
func (db *DB) DeleteDelivery(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteDelivery, id.String())
		return err
	})
}

// CountDeliveries returns the number of queued items.
func (db *DB) CountDeliveries(ctx context.Context) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountDeliveries).Scan(&count)
	return count, err
}
