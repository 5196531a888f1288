package activitypub

import (
	"bytes"
	"crypto"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/murmur/domain"
)

// Activity is an inbound activity. Actor and Object are kept raw because
// either may be a bare URI or an embedded object.
type Activity struct {
	Context any             `json:"@context,omitempty"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   json.RawMessage `json:"actor"`
	Object  json.RawMessage `json:"object"`
}

// ActorID returns the id of the activity's actor.
func (a *Activity) ActorID() string {
	return refID(a.Actor)
}

// ObjectID returns the id of the activity's object.
func (a *Activity) ObjectID() string {
	return refID(a.Object)
}

// ObjectType returns the type of an embedded object, or "" for a bare URI.
func (a *Activity) ObjectType() string {
	var obj struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(a.Object, &obj) != nil {
		return ""
	}
	return obj.Type
}

// ParseActivity decodes an inbound activity and checks its required fields.
func ParseActivity(body []byte) (*Activity, error) {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActivity, err)
	}
	if activity.Type == "" || activity.ActorID() == "" {
		return nil, fmt.Errorf("%w: missing type or actor", ErrInvalidActivity)
	}
	return &activity, nil
}

// refID extracts the id of a link that is either a string or an object.
func refID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ID
	}
	return ""
}

// PublicKey is the legacy publicKey block of an actor document.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// VerificationMethod is a Multikey entry of assertionMethod.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Person is the actor document served for local users.
type Person struct {
	Context                   []any                `json:"@context"`
	ID                        string               `json:"id"`
	Type                      string               `json:"type"`
	PreferredUsername         string               `json:"preferredUsername"`
	Name                      string               `json:"name,omitempty"`
	URL                       string               `json:"url,omitempty"`
	Inbox                     string               `json:"inbox"`
	Outbox                    string               `json:"outbox"`
	Followers                 string               `json:"followers"`
	Endpoints                 Endpoints            `json:"endpoints"`
	ManuallyApprovesFollowers bool                 `json:"manuallyApprovesFollowers"`
	PublicKey                 *PublicKey           `json:"publicKey,omitempty"`
	AssertionMethod           []VerificationMethod `json:"assertionMethod,omitempty"`
}

// ActorObject is a remote actor document as received. Only the fields the
// directory and signature verification need are decoded.
type ActorObject struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	PreferredUsername string          `json:"preferredUsername"`
	Name              string          `json:"name"`
	URL               json.RawMessage `json:"url"`
	Inbox             string          `json:"inbox"`
	Endpoints         Endpoints       `json:"endpoints"`
	PublicKey         json.RawMessage `json:"publicKey"`
	AssertionMethod   json.RawMessage `json:"assertionMethod"`
}

// embeddedActor returns the actor of the activity when it is embedded with
// enough data to upsert it, else nil.
func (a *Activity) embeddedActor() *ActorObject {
	var obj ActorObject
	if json.Unmarshal(a.Actor, &obj) != nil || obj.ID == "" || obj.Inbox == "" {
		return nil
	}
	return &obj
}

// Remote converts the document into the directory's upsert record.
func (o *ActorObject) Remote() (domain.RemoteActor, error) {
	u, err := url.Parse(o.ID)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return domain.RemoteActor{}, fmt.Errorf("%w: bad actor id %q", ErrInvalidActivity, o.ID)
	}
	if !strings.HasPrefix(o.Inbox, "https://") && !strings.HasPrefix(o.Inbox, "http://") {
		return domain.RemoteActor{}, fmt.Errorf("%w: bad inbox %q", ErrInvalidActivity, o.Inbox)
	}

	username := o.PreferredUsername
	if username == "" {
		username = lastPathSegment(u.Path)
	}
	shared := o.Endpoints.SharedInbox
	if !strings.HasPrefix(shared, "https://") && !strings.HasPrefix(shared, "http://") {
		shared = ""
	}
	return domain.RemoteActor{
		URI:            o.ID,
		Handle:         "@" + username + "@" + u.Host,
		Name:           o.Name,
		InboxURL:       o.Inbox,
		SharedInboxURL: shared,
		URL:            profileURL(o.URL),
	}, nil
}

// PublicKeys returns the keys the actor advertises, keyed by key id.
func (o *ActorObject) PublicKeys() map[string]crypto.PublicKey {
	keys := make(map[string]crypto.PublicKey)
	for _, pk := range decodeOneOrMany[PublicKey](o.PublicKey) {
		if pub, err := ParsePublicKeyPEM(pk.PublicKeyPem); err == nil && pk.ID != "" {
			keys[pk.ID] = pub
		}
	}
	for _, vm := range decodeOneOrMany[VerificationMethod](o.AssertionMethod) {
		if pub, err := ParseMultikey(vm.PublicKeyMultibase); err == nil && vm.ID != "" {
			keys[vm.ID] = pub
		}
	}
	return keys
}

func decodeOneOrMany[T any](raw json.RawMessage) []T {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var many []T
	if json.Unmarshal(raw, &many) == nil {
		return many
	}
	var one T
	if json.Unmarshal(raw, &one) == nil {
		return []T{one}
	}
	return nil
}

func profileURL(raw json.RawMessage) string {
	if s := refID(raw); s != "" {
		return s
	}
	var link struct {
		Href string `json:"href"`
	}
	if json.Unmarshal(raw, &link) == nil && link.Href != "" {
		return link.Href
	}
	var links []json.RawMessage
	if json.Unmarshal(raw, &links) == nil && len(links) > 0 {
		return profileURL(links[0])
	}
	return ""
}

func lastPathSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimPrefix(path, "@")
}

// Note is the object of a post.
type Note struct {
	Context      any      `json:"@context,omitempty"`
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	MediaType    string   `json:"mediaType,omitempty"`
	URL          string   `json:"url,omitempty"`
	Published    string   `json:"published,omitempty"`
	To           []string `json:"to,omitempty"`
	Cc           []string `json:"cc,omitempty"`
}

// OutboundActivity is an activity built by this server.
type OutboundActivity struct {
	Context   any      `json:"@context,omitempty"`
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Actor     string   `json:"actor"`
	Object    any      `json:"object"`
	Published string   `json:"published,omitempty"`
	To        []string `json:"to,omitempty"`
	Cc        []string `json:"cc,omitempty"`
}

// OrderedCollection is served for followers and outbox.
type OrderedCollection struct {
	Context      any    `json:"@context,omitempty"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	TotalItems   int    `json:"totalItems"`
	First        string `json:"first,omitempty"`
	PartOf       string `json:"partOf,omitempty"`
	Next         string `json:"next,omitempty"`
	Prev         string `json:"prev,omitempty"`
	OrderedItems []any  `json:"orderedItems,omitempty"`
}

// NewPerson builds the actor document of a local user. The first key pair
// is published as the legacy publicKey; all pairs appear as Multikeys.
func (c Context) NewPerson(username string, actor *domain.Actor, pairs []domain.KeyPair) (*Person, error) {
	person := &Person{
		Context:           []any{ActivityStreamsContext, SecurityContext, MultikeyContext},
		ID:                actor.URI,
		Type:              "Person",
		PreferredUsername: username,
		Name:              actor.Name.String,
		URL:               actor.URL.String,
		Inbox:             actor.InboxURL,
		Outbox:            c.OutboxURI(username),
		Followers:         c.FollowersURI(username),
		Endpoints:         Endpoints{SharedInbox: actor.SharedInboxURL.String},
	}

	for i, pair := range pairs {
		keyId := c.KeyID(username, pair.Type)
		if i == 0 {
			pemString, err := PublicKeyPEM(pair.PublicKey)
			if err != nil {
				return nil, err
			}
			person.PublicKey = &PublicKey{ID: keyId, Owner: actor.URI, PublicKeyPem: pemString}
		}
		multikey, err := Multikey(pair.PublicKey)
		if err != nil {
			return nil, err
		}
		person.AssertionMethod = append(person.AssertionMethod, VerificationMethod{
			ID:                 keyId,
			Type:               "Multikey",
			Controller:         actor.URI,
			PublicKeyMultibase: multikey,
		})
	}
	return person, nil
}

// NewNote builds the Note object of a local post.
func (c Context) NewNote(username string, post *domain.Post) *Note {
	return &Note{
		ID:           post.URI,
		Type:         "Note",
		AttributedTo: c.ActorURI(username),
		Content:      post.Content,
		MediaType:    "text/html",
		URL:          post.URL,
		Published:    post.Created.UTC().Format(time.RFC3339),
		To:           []string{PublicCollection},
		Cc:           []string{c.FollowersURI(username)},
	}
}

// NewCreate wraps a local post in a Create addressed to the public and the
// author's followers.
func (c Context) NewCreate(username string, post *domain.Post) *OutboundActivity {
	note := c.NewNote(username, post)
	return &OutboundActivity{
		Context:   ActivityStreamsContext,
		ID:        post.URI + "#activity",
		Type:      "Create",
		Actor:     note.AttributedTo,
		Object:    note,
		Published: note.Published,
		To:        note.To,
		Cc:        note.Cc,
	}
}

// NewAccept answers a Follow received by a local user.
func (c Context) NewAccept(username string, follow *Activity) *OutboundActivity {
	return &OutboundActivity{
		Context: ActivityStreamsContext,
		ID:      c.ActivityURI(),
		Type:    "Accept",
		Actor:   c.ActorURI(username),
		Object: map[string]string{
			"id":     follow.ID,
			"type":   "Follow",
			"actor":  follow.ActorID(),
			"object": follow.ObjectID(),
		},
		To: []string{follow.ActorID()},
	}
}

// NewFollow asks the remote actor to accept a local user as follower.
func (c Context) NewFollow(username, target string) *OutboundActivity {
	return &OutboundActivity{
		Context: ActivityStreamsContext,
		ID:      c.ActivityURI(),
		Type:    "Follow",
		Actor:   c.ActorURI(username),
		Object:  target,
		To:      []string{target},
	}
}
