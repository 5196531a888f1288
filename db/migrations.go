package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

const (
	sqlCreateUsersTable = `CREATE TABLE IF NOT EXISTS users (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT CHECK (id > 0),
		username TEXT NOT NULL UNIQUE CHECK (trim(lower(username)) = username
		                                     AND username <> ''
		                                     AND length(username) <= 50)
	)`

	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT CHECK (id > 0),
		user_id INTEGER UNIQUE REFERENCES users (id),
		uri TEXT NOT NULL UNIQUE CHECK (uri <> ''),
		handle TEXT NOT NULL CHECK (handle <> ''),
		name TEXT,
		inbox_url TEXT NOT NULL CHECK (inbox_url LIKE 'https://%' OR inbox_url LIKE 'http://%'),
		shared_inbox_url TEXT CHECK (shared_inbox_url LIKE 'https://%' OR shared_inbox_url LIKE 'http://%'),
		url TEXT CHECK (url LIKE 'https://%' OR url LIKE 'http://%'),
		created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateKeysTable = `CREATE TABLE IF NOT EXISTS keys (
		user_id INTEGER NOT NULL REFERENCES users (id),
		type TEXT NOT NULL CHECK (type IN ('RSASSA-PKCS1-v1_5', 'Ed25519')),
		private_key TEXT NOT NULL CHECK (private_key <> ''),
		public_key TEXT NOT NULL CHECK (public_key <> ''),
		created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, type)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		following_id INTEGER NOT NULL REFERENCES actors (id),
		follower_id INTEGER NOT NULL REFERENCES actors (id),
		created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (following_id, follower_id),
		CHECK (following_id <> follower_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_follower_id ON follows(follower_id);
		CREATE INDEX IF NOT EXISTS idx_follows_following_created ON follows(following_id, created DESC);
	`

	sqlCreateFollowRequestsTable = `CREATE TABLE IF NOT EXISTS follow_requests (
		following_id INTEGER NOT NULL REFERENCES actors (id),
		follower_id INTEGER NOT NULL REFERENCES actors (id),
		activity_uri TEXT NOT NULL CHECK (activity_uri <> ''),
		created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (following_id, follower_id)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT CHECK (id > 0),
		uri TEXT NOT NULL UNIQUE CHECK (uri <> ''),
		actor_id INTEGER NOT NULL REFERENCES actors (id),
		content TEXT NOT NULL,
		url TEXT CHECK (url LIKE 'https://%' OR url LIKE 'http://%'),
		created TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_actor_created ON posts(actor_id, created DESC);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations creates the schema. Every statement is idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"users", sqlCreateUsersTable},
			{"actors", sqlCreateActorsTable},
			{"keys", sqlCreateKeysTable},
			{"follows", sqlCreateFollowsTable},
			{"follow_requests", sqlCreateFollowRequestsTable},
			{"posts", sqlCreatePostsTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		indices := []string{sqlCreateFollowsIndices, sqlCreatePostsIndices, sqlCreateDeliveryQueueIndices}
		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	if _, err := tx.Exec(createSQL); err != nil {
		db.logger.Error("creating table failed", zap.String("table", tableName), zap.Error(err))
		return err
	}
	db.logger.Debug("table created or already exists", zap.String("table", tableName))
	return nil
}
