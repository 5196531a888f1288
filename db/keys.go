package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/deemkeen/murmur/domain"
)

const (
	sqlSelectKeysByUserId = `SELECT user_id, type, private_key, public_key, created FROM keys WHERE user_id = ?`

	// A concurrent first access may have inserted the same (user, type)
	// already; the loser keeps the winner's row.
	sqlInsertKeyIfAbsent = `INSERT INTO keys (user_id, type, private_key, public_key, created)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, type) DO NOTHING`
)

// ReadKeys returns the stored key rows of a local user keyed by type.
func (db *DB) ReadKeys(ctx context.Context, userId int64) (map[domain.KeyType]domain.Key, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectKeysByUserId, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[domain.KeyType]domain.Key)
	for rows.Next() {
		var key domain.Key
		if err := rows.Scan(&key.UserId, &key.Type, &key.PrivateKey, &key.PublicKey, &key.Created); err != nil {
			return nil, err
		}
		keys[key.Type] = key
	}
	return keys, rows.Err()
}

// InsertKeysIfAbsent persists freshly generated key rows. Rows whose
// (user, type) already exists are left untouched.
func (db *DB) InsertKeysIfAbsent(ctx context.Context, keys []domain.Key) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			_, err := tx.ExecContext(ctx, sqlInsertKeyIfAbsent,
				key.UserId,
				string(key.Type),
				key.PrivateKey,
				key.PublicKey,
				db.timestamp(),
			)
			if err != nil {
				return fmt.Errorf("insert %s key: %w", key.Type, err)
			}
		}
		return nil
	})
}
