package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deemkeen/murmur/domain"
)

// Follow graph queries. Edges are set members: inserting an existing edge and
// deleting a missing one are both no-ops.
const (
	sqlInsertFollowIfAbsent = `INSERT INTO follows (following_id, follower_id, created)
		VALUES (?, ?, ?)
		ON CONFLICT (following_id, follower_id) DO NOTHING`

	sqlDeleteFollow = `DELETE FROM follows WHERE following_id = ? AND follower_id = ?`

	sqlSelectFollowersByUsername = `SELECT ` + actorColumns + `
		FROM follows
		JOIN actors ON actors.id = follows.follower_id
		JOIN actors AS following ON following.id = follows.following_id
		JOIN users ON users.id = following.user_id
		WHERE users.username = ?
		ORDER BY follows.created DESC, follows.rowid DESC
		LIMIT ? OFFSET ?`

	sqlSelectFollowingByUsername = `SELECT ` + actorColumns + `
		FROM follows
		JOIN actors ON actors.id = follows.following_id
		JOIN actors AS follower ON follower.id = follows.follower_id
		JOIN users ON users.id = follower.user_id
		WHERE users.username = ?
		ORDER BY follows.created DESC, follows.rowid DESC
		LIMIT ? OFFSET ?`

	sqlSelectFollow = `SELECT following_id, follower_id, created FROM follows
		WHERE following_id = ? AND follower_id = ?`

	sqlUpsertFollowRequest = `INSERT INTO follow_requests (following_id, follower_id, activity_uri, created)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (following_id, follower_id) DO UPDATE SET
			activity_uri = excluded.activity_uri,
			created = excluded.created`

	// An empty activity uri matches the pending request of the pair.
	sqlDeleteFollowRequest = `DELETE FROM follow_requests
		WHERE following_id = ?1 AND follower_id = ?2 AND (?3 = '' OR activity_uri = ?3)`

	sqlCountFollowRequests = `SELECT count(*) FROM follow_requests WHERE follower_id = ?`

	sqlHasLocalFollower = `SELECT EXISTS (
		SELECT 1 FROM follows
		JOIN actors ON actors.id = follows.follower_id
		WHERE follows.following_id = ? AND actors.user_id IS NOT NULL)`
)

var (
	// ErrNullEndpoint is returned when an edge would reference a missing actor.
	ErrNullEndpoint = errors.New("db: follow edge endpoint missing")
	// ErrNoFollowRequest is returned when an accept matches no pending request.
	ErrNoFollowRequest = errors.New("db: no pending follow request")
)

// CreateFollow inserts the edge (following, follower). It reports whether a
// new edge was created; an existing edge is left untouched.
func (db *DB) CreateFollow(ctx context.Context, followingId, followerId int64) (bool, error) {
	if followingId <= 0 || followerId <= 0 {
		return false, ErrNullEndpoint
	}
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertFollowIfAbsent, followingId, followerId, db.timestamp())
		if err != nil {
			return fmt.Errorf("insert follow: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	return created, err
}

// AcceptRemoteFollow upserts the remote follower and inserts its edge to the
// local actor in one transaction.
func (db *DB) AcceptRemoteFollow(ctx context.Context, followingId int64, follower domain.RemoteActor) (*domain.Actor, bool, error) {
	if followingId <= 0 {
		return nil, false, ErrNullEndpoint
	}
	var actor *domain.Actor
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		now := db.timestamp()
		a, err := upsertRemoteActor(ctx, tx, follower, now)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, sqlInsertFollowIfAbsent, followingId, a.Id, now)
		if err != nil {
			return fmt.Errorf("insert follow: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		actor = a
		created = n > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return actor, created, nil
}

// DeleteFollow removes the edge if present and reports whether it existed.
func (db *DB) DeleteFollow(ctx context.Context, followingId, followerId int64) (bool, error) {
	var deleted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteFollow, followingId, followerId)
		if err != nil {
			return fmt.Errorf("delete follow: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// ReadFollow returns the edge (following, follower).
func (db *DB) ReadFollow(ctx context.Context, followingId, followerId int64) (*domain.Follow, error) {
	var follow domain.Follow
	err := db.db.QueryRowContext(ctx, sqlSelectFollow, followingId, followerId).
		Scan(&follow.FollowingId, &follow.FollowerId, &follow.Created)
	if err != nil {
		return nil, notFound(err)
	}
	return &follow, nil
}

// ReadFollowers lists the followers of a local user, most recent first.
// A negative limit means no limit.
func (db *DB) ReadFollowers(ctx context.Context, username string, limit, offset int) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectFollowersByUsername, username, limit, offset)
}

// ReadFollowing lists the actors a local user follows, most recent first.
func (db *DB) ReadFollowing(ctx context.Context, username string, limit, offset int) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectFollowingByUsername, username, limit, offset)
}

// HasLocalFollower reports whether any local actor follows the actor.
func (db *DB) HasLocalFollower(ctx context.Context, actorId int64) (bool, error) {
	var exists bool
	err := db.db.QueryRowContext(ctx, sqlHasLocalFollower, actorId).Scan(&exists)
	return exists, err
}

// CreateFollowRequest records an outbound Follow awaiting its Accept. A newer
// request for the same pair replaces the pending activity uri.
func (db *DB) CreateFollowRequest(ctx context.Context, followingId, followerId int64, activityURI string) error {
	if followingId <= 0 || followerId <= 0 {
		return ErrNullEndpoint
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlUpsertFollowRequest, followingId, followerId, activityURI, db.timestamp()); err != nil {
			return fmt.Errorf("insert follow request: %w", err)
		}
		return nil
	})
}

// AcceptFollowRequest turns the pending request (following, follower) into an
// edge. activityURI, when set, must match the id of the requesting Follow.
// Without a pending request nothing changes and ErrNoFollowRequest is
// returned.
func (db *DB) AcceptFollowRequest(ctx context.Context, followingId, followerId int64, activityURI string) (bool, error) {
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteFollowRequest, followingId, followerId, activityURI)
		if err != nil {
			return fmt.Errorf("delete follow request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoFollowRequest
		}

		res, err = tx.ExecContext(ctx, sqlInsertFollowIfAbsent, followingId, followerId, db.timestamp())
		if err != nil {
			return fmt.Errorf("insert follow: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	return created, err
}

// CountFollowRequests counts the unanswered Follows sent by the actor.
func (db *DB) CountFollowRequests(ctx context.Context, followerId int64) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountFollowRequests, followerId).Scan(&count)
	return count, err
}
