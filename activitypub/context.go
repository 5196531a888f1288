package activitypub

import (
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/deemkeen/murmur/domain"
	"github.com/google/uuid"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"
	MultikeyContext        = "https://w3id.org/security/multikey/v1"
	PublicCollection       = "https://www.w3.org/ns/activitystreams#Public"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,50}$`)

// ValidUsername reports whether s is acceptable as a local username.
func ValidUsername(s string) bool {
	return usernamePattern.MatchString(s)
}

// URIKind is the logical kind of a local URI.
type URIKind string

const (
	KindActor     URIKind = "actor"
	KindObject    URIKind = "object"
	KindFollowers URIKind = "followers"
	KindInbox     URIKind = "inbox"
	KindOutbox    URIKind = "outbox"
)

// URIRef is a local URI parsed back into its logical reference.
type URIRef struct {
	Kind     URIKind
	Username string
	ID       int64 // post id, set for KindObject only
}

// Context builds and parses the canonical URIs of this server.
type Context struct {
	Scheme string
	Domain string
}

// NewContext returns a Context for the given scheme ("http" or "https") and
// domain (host with optional port).
func NewContext(scheme, domain string) Context {
	return Context{Scheme: scheme, Domain: domain}
}

func (c Context) Origin() string {
	return c.Scheme + "://" + c.Domain
}

func (c Context) ActorURI(username string) string {
	return c.Origin() + "/users/" + username
}

func (c Context) InboxURI(username string) string {
	return c.ActorURI(username) + "/inbox"
}

func (c Context) SharedInboxURI() string {
	return c.Origin() + "/inbox"
}

func (c Context) FollowersURI(username string) string {
	return c.ActorURI(username) + "/followers"
}

func (c Context) OutboxURI(username string) string {
	return c.ActorURI(username) + "/outbox"
}

func (c Context) PostURI(username string, id int64) string {
	return fmt.Sprintf("%s/posts/%d", c.ActorURI(username), id)
}

// KeyID is the id of one of the actor's public keys. The RSA key is the
// primary key most servers look for.
func (c Context) KeyID(username string, keyType domain.KeyType) string {
	if keyType == domain.KeyTypeEd25519 {
		return c.ActorURI(username) + "#ed25519-key"
	}
	return c.ActorURI(username) + "#main-key"
}

func (c Context) Handle(username string) string {
	return "@" + username + "@" + c.Domain
}

// ActivityURI mints a fresh id for an outbound activity.
func (c Context) ActivityURI() string {
	return c.Origin() + "/activities/" + uuid.NewString()
}

// LocalActor returns the actor row of a freshly set up local user.
func (c Context) LocalActor(username, name string) domain.Actor {
	uri := c.ActorURI(username)
	return domain.Actor{
		URI:            uri,
		Handle:         c.Handle(username),
		Name:           nullString(name),
		InboxURL:       c.InboxURI(username),
		SharedInboxURL: nullString(c.SharedInboxURI()),
		URL:            nullString(uri),
	}
}

// ParseURI maps a local URI back to its logical reference. It returns nil
// for foreign or malformed URIs.
func (c Context) ParseURI(raw string) *URIRef {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != c.Scheme || u.Host != c.Domain || u.RawQuery != "" || u.Fragment != "" {
		return nil
	}

	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "users" || !ValidUsername(parts[1]) {
		return nil
	}
	ref := &URIRef{Username: parts[1]}

	switch {
	case len(parts) == 2:
		ref.Kind = KindActor
	case len(parts) == 3 && parts[2] == "inbox":
		ref.Kind = KindInbox
	case len(parts) == 3 && parts[2] == "followers":
		ref.Kind = KindFollowers
	case len(parts) == 3 && parts[2] == "outbox":
		ref.Kind = KindOutbox
	case len(parts) == 4 && parts[2] == "posts":
		id, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil || id <= 0 {
			return nil
		}
		ref.Kind = KindObject
		ref.ID = id
	default:
		return nil
	}
	return ref
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
