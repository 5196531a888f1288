package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/murmur/domain"
)

const actorColumns = `actors.id, actors.user_id, actors.uri, actors.handle, actors.name,
	actors.inbox_url, actors.shared_inbox_url, actors.url, actors.created`

// Users and local actors
const (
	sqlInsertUser = `INSERT INTO users (username) VALUES (?) RETURNING id`

	sqlInsertLocalActor = `INSERT INTO actors (user_id, uri, handle, name, inbox_url, shared_inbox_url, url, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + actorColumns

	sqlSelectUserByUsername = `SELECT id, username FROM users WHERE username = ?`

	sqlSelectLocalActorByUsername = `SELECT ` + actorColumns + ` FROM actors
		JOIN users ON users.id = actors.user_id
		WHERE users.username = ?`

	sqlSelectLocalActors = `SELECT ` + actorColumns + ` FROM actors
		WHERE actors.user_id IS NOT NULL
		ORDER BY actors.id`
)

// Actor directory
const (
	// The WHERE clause keeps a remote party from rewriting a local actor
	// that happens to share its URI.
	sqlUpsertRemoteActor = `INSERT INTO actors (uri, handle, name, inbox_url, shared_inbox_url, url, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO UPDATE SET
			handle = excluded.handle,
			name = excluded.name,
			inbox_url = excluded.inbox_url,
			shared_inbox_url = excluded.shared_inbox_url,
			url = excluded.url
		WHERE actors.user_id IS NULL
		RETURNING ` + actorColumns

	sqlSelectActorByURI = `SELECT ` + actorColumns + ` FROM actors WHERE actors.uri = ?`
	sqlSelectActorById  = `SELECT ` + actorColumns + ` FROM actors WHERE actors.id = ?`

	sqlCountFollowersByUsername = `SELECT count(*) FROM follows
		JOIN actors ON actors.id = follows.following_id
		JOIN users ON users.id = actors.user_id
		WHERE users.username = ?`

	sqlCountFollowingByUsername = `SELECT count(*) FROM follows
		JOIN actors ON actors.id = follows.follower_id
		JOIN users ON users.id = actors.user_id
		WHERE users.username = ?`
)

// ErrLocalActorConflict is returned when a remote upsert targets the URI of a
// local actor.
var ErrLocalActorConflict = errors.New("db: uri belongs to a local actor")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*domain.Actor, error) {
	var actor domain.Actor
	err := row.Scan(
		&actor.Id,
		&actor.UserId,
		&actor.URI,
		&actor.Handle,
		&actor.Name,
		&actor.InboxURL,
		&actor.SharedInboxURL,
		&actor.URL,
		&actor.Created,
	)
	if err != nil {
		return nil, err
	}
	return &actor, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateLocalAccount inserts a user and its local actor in one transaction.
// The actor fields other than UserId and Created are taken from actor.
func (db *DB) CreateLocalAccount(ctx context.Context, username string, actor domain.Actor) (*domain.User, *domain.Actor, error) {
	var user *domain.User
	var created *domain.Actor
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var userId int64
		if err := tx.QueryRowContext(ctx, sqlInsertUser, username).Scan(&userId); err != nil {
			if isUniqueViolation(err) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}

		row := tx.QueryRowContext(ctx, sqlInsertLocalActor,
			userId,
			actor.URI,
			actor.Handle,
			actor.Name,
			actor.InboxURL,
			actor.SharedInboxURL,
			actor.URL,
			db.timestamp(),
		)
		a, err := scanActor(row)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("insert actor: %w", err)
		}

		user = &domain.User{Id: userId, Username: username}
		created = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return user, created, nil
}

// ReadUserByUsername returns the local user with the given username.
func (db *DB) ReadUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := db.db.QueryRowContext(ctx, sqlSelectUserByUsername, username).Scan(&user.Id, &user.Username)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// ReadLocalActor resolves a local username to its actor.
func (db *DB) ReadLocalActor(ctx context.Context, username string) (*domain.Actor, error) {
	actor, err := scanActor(db.db.QueryRowContext(ctx, sqlSelectLocalActorByUsername, username))
	if err != nil {
		return nil, notFound(err)
	}
	return actor, nil
}

// ReadLocalActors lists every local actor in creation order.
func (db *DB) ReadLocalActors(ctx context.Context) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectLocalActors)
}

// ReadActorByURI returns any actor, local or remote, by its canonical URI.
func (db *DB) ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error) {
	actor, err := scanActor(db.db.QueryRowContext(ctx, sqlSelectActorByURI, uri))
	if err != nil {
		return nil, notFound(err)
	}
	return actor, nil
}

// ReadActorById returns any actor by its row id.
func (db *DB) ReadActorById(ctx context.Context, id int64) (*domain.Actor, error) {
	actor, err := scanActor(db.db.QueryRowContext(ctx, sqlSelectActorById, id))
	if err != nil {
		return nil, notFound(err)
	}
	return actor, nil
}

// UpsertRemoteActor inserts the remote actor or refreshes its mutable fields
// in a single statement keyed by URI. The row id and URI never change.
func (db *DB) UpsertRemoteActor(ctx context.Context, remote domain.RemoteActor) (*domain.Actor, error) {
	var actor *domain.Actor
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		a, err := upsertRemoteActor(ctx, tx, remote, db.timestamp())
		if err != nil {
			return err
		}
		actor = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actor, nil
}

func upsertRemoteActor(ctx context.Context, tx *sql.Tx, remote domain.RemoteActor, now time.Time) (*domain.Actor, error) {
	row := tx.QueryRowContext(ctx, sqlUpsertRemoteActor,
		remote.URI,
		remote.Handle,
		nullString(remote.Name),
		remote.InboxURL,
		nullString(remote.SharedInboxURL),
		nullString(remote.URL),
		now,
	)
	actor, err := scanActor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLocalActorConflict
	}
	if err != nil {
		return nil, fmt.Errorf("upsert actor %s: %w", remote.URI, err)
	}
	return actor, nil
}

// CountFollowers counts the actors following the local user.
func (db *DB) CountFollowers(ctx context.Context, username string) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountFollowersByUsername, username).Scan(&count)
	return count, err
}

// CountFollowing counts the actors the local user follows.
func (db *DB) CountFollowing(ctx context.Context, username string) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountFollowingByUsername, username).Scan(&count)
	return count, err
}

func (db *DB) queryActors(ctx context.Context, query string, args ...any) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		actor, err := scanActor(rows)
		if err != nil {
			return actors, err
		}
		actors = append(actors, *actor)
	}
	return actors, rows.Err()
}
