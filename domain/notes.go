package domain

import (
	"fmt"
	"time"
)

// Post is a short post authored by an actor.
type Post struct {
	Id      int64
	URI     string
	ActorId int64
	Content string
	URL     string
	Created time.Time
}

func (p *Post) ToString() string {
	return fmt.Sprintf("\n\tId: %d \n\tURI: %s \n\tContent: %s \n\tCREATED: %s)", p.Id, p.URI, p.Content, p.Created)
}

// TimelinePost is a post joined with its author.
type TimelinePost struct {
	Post   Post
	Author Actor
}
