package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow is a directed edge: Follower receives Following's posts.
type Follow struct {
	FollowingId int64
	FollowerId  int64
	Created     time.Time
}

// DeliveryQueueItem is a pending signed delivery of one activity to one inbox.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	Username     string // local sender whose key signs the request
	InboxURI     string
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
