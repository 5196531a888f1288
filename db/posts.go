package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/murmur/domain"
	"github.com/google/uuid"
)

const postColumns = `posts.id, posts.uri, posts.actor_id, posts.content, posts.url, posts.created`

const (
	sqlInsertPost = `INSERT INTO posts (uri, actor_id, content, created) VALUES (?, ?, ?, ?)
		RETURNING ` + postColumns

	sqlUpdatePostLocation = `UPDATE posts SET uri = ?, url = ? WHERE id = ?`

	sqlInsertPostIfAbsent = `INSERT INTO posts (uri, actor_id, content, url, created)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO NOTHING`

	sqlSelectPostByUsername = `SELECT ` + postColumns + `, ` + actorColumns + `
		FROM posts
		JOIN actors ON actors.id = posts.actor_id
		JOIN users ON users.id = actors.user_id
		WHERE users.username = ? AND posts.id = ?`

	sqlSelectPostsByUsername = `SELECT ` + postColumns + `, ` + actorColumns + `
		FROM posts
		JOIN actors ON actors.id = posts.actor_id
		JOIN users ON users.id = actors.user_id
		WHERE users.username = ?
		ORDER BY posts.created DESC, posts.id DESC
		LIMIT ? OFFSET ?`

	sqlCountPostsByUsername = `SELECT count(*)
		FROM posts
		JOIN actors ON actors.id = posts.actor_id
		JOIN users ON users.id = actors.user_id
		WHERE users.username = ?`

	// Both branches are index range scans: posts(actor_id, created) for the
	// author, follows(follower_id) for the followees.
	sqlSelectTimeline = `SELECT ` + postColumns + `, ` + actorColumns + `
		FROM posts
		JOIN actors ON actors.id = posts.actor_id
		WHERE posts.actor_id = ?1
		   OR posts.actor_id IN (SELECT following_id FROM follows WHERE follower_id = ?1)
		ORDER BY posts.created DESC, posts.id DESC
		LIMIT ?2 OFFSET ?3`
)

// Locator computes the canonical uri and url of a freshly inserted post.
type Locator func(post *domain.Post) (uri string, url string)

// CreatePost inserts a local post. The row is first written with a unique
// placeholder uri to obtain its id, then rewritten with the canonical
// location computed by locate. Both steps share one transaction, so no reader
// ever sees the placeholder.
func (db *DB) CreatePost(ctx context.Context, actorId int64, content string, locate Locator) (*domain.Post, error) {
	var post *domain.Post
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		placeholder := "urn:uuid:" + uuid.NewString()
		p, err := scanPost(tx.QueryRowContext(ctx, sqlInsertPost, placeholder, actorId, content, db.timestamp()))
		if err != nil {
			return fmt.Errorf("insert post: %w", err)
		}

		uri, url := locate(p)
		if _, err := tx.ExecContext(ctx, sqlUpdatePostLocation, uri, url, p.Id); err != nil {
			return fmt.Errorf("update post location: %w", err)
		}
		p.URI = uri
		p.URL = url
		post = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// CreateRemotePost stores a post received from a remote actor, keyed by its
// uri. It reports whether a new row was written.
func (db *DB) CreateRemotePost(ctx context.Context, actorId int64, uri, url, content string, published time.Time) (bool, error) {
	if published.IsZero() {
		published = db.timestamp()
	}
	var created bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertPostIfAbsent, uri, actorId, content, nullString(url), published.UTC())
		if err != nil {
			return fmt.Errorf("insert remote post: %w", err)
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

// ReadPost returns a post of a local user joined with its author.
func (db *DB) ReadPost(ctx context.Context, username string, id int64) (*domain.TimelinePost, error) {
	tp, err := scanTimelinePost(db.db.QueryRowContext(ctx, sqlSelectPostByUsername, username, id))
	if err != nil {
		return nil, notFound(err)
	}
	return tp, nil
}

// ReadPostsByUsername lists a local user's own posts, newest first.
func (db *DB) ReadPostsByUsername(ctx context.Context, username string, limit, offset int) ([]domain.TimelinePost, error) {
	return db.queryTimelinePosts(ctx, sqlSelectPostsByUsername, username, limit, offset)
}

// CountPostsByUsername counts a local user's own posts.
func (db *DB) CountPostsByUsername(ctx context.Context, username string) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx, sqlCountPostsByUsername, username).Scan(&count)
	return count, err
}

// ReadTimeline returns the actor's own posts merged with the posts of every
// actor it follows, newest first. A negative limit means no limit.
func (db *DB) ReadTimeline(ctx context.Context, actorId int64, limit, offset int) ([]domain.TimelinePost, error) {
	return db.queryTimelinePosts(ctx, sqlSelectTimeline, actorId, limit, offset)
}

func scanPost(row rowScanner) (*domain.Post, error) {
	var post domain.Post
	var url sql.NullString
	if err := row.Scan(&post.Id, &post.URI, &post.ActorId, &post.Content, &url, &post.Created); err != nil {
		return nil, err
	}
	post.URL = url.String
	return &post, nil
}

func scanTimelinePost(row rowScanner) (*domain.TimelinePost, error) {
	var tp domain.TimelinePost
	var url sql.NullString
	err := row.Scan(
		&tp.Post.Id, &tp.Post.URI, &tp.Post.ActorId, &tp.Post.Content, &url, &tp.Post.Created,
		&tp.Author.Id, &tp.Author.UserId, &tp.Author.URI, &tp.Author.Handle, &tp.Author.Name,
		&tp.Author.InboxURL, &tp.Author.SharedInboxURL, &tp.Author.URL, &tp.Author.Created,
	)
	if err != nil {
		return nil, err
	}
	tp.Post.URL = url.String
	return &tp, nil
}

func (db *DB) queryTimelinePosts(ctx context.Context, query string, args ...any) ([]domain.TimelinePost, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.TimelinePost
	for rows.Next() {
		tp, err := scanTimelinePost(rows)
		if err != nil {
			return posts, err
		}
		posts = append(posts, *tp)
	}
	return posts, rows.Err()
}
