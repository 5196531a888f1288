package domain

import (
	"database/sql"
	"fmt"
	"time"
)

// User is a local account. The username is immutable once set.
type User struct {
	Id       int64
	Username string
}

// Actor is a participant in the federation, backed by a User when local.
type Actor struct {
	Id             int64
	UserId         sql.NullInt64
	URI            string
	Handle         string
	Name           sql.NullString
	InboxURL       string
	SharedInboxURL sql.NullString
	URL            sql.NullString
	Created        time.Time
}

// IsLocal reports whether the actor is hosted on this server.
func (a *Actor) IsLocal() bool {
	return a.UserId.Valid
}

// DisplayName returns the actor's name, falling back to its handle.
func (a *Actor) DisplayName() string {
	if a.Name.Valid && a.Name.String != "" {
		return a.Name.String
	}
	return a.Handle
}

// Recipient returns the delivery endpoints of the actor.
func (a *Actor) Recipient() Recipient {
	return Recipient{
		ActorURI:       a.URI,
		InboxURL:       a.InboxURL,
		SharedInboxURL: a.SharedInboxURL.String,
	}
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %d \n\tURI: %s \n\tHandle: %s \n\tInbox: %s \n\tCREATED: %s)", a.Id, a.URI, a.Handle, a.InboxURL, a.Created)
}

// RemoteActor carries the observed metadata of a remote actor for an upsert.
type RemoteActor struct {
	URI            string
	Handle         string
	Name           string
	InboxURL       string
	SharedInboxURL string
	URL            string
}

// Recipient is a concrete delivery target. SharedInboxURL is empty when the
// remote server exposes no shared inbox.
type Recipient struct {
	ActorURI       string
	InboxURL       string
	SharedInboxURL string
}
