package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testFed = NewContext("https", "local.example")

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := db.Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

type sentActivity struct {
	Username   string
	Activity   map[string]any
	Recipients []domain.Recipient
}

// recordingSender captures activities instead of queueing them.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentActivity
	err  error
}

func (s *recordingSender) Send(ctx context.Context, username string, activity any, recipients []domain.Recipient) error {
	buf, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf, &decoded); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentActivity{Username: username, Activity: decoded, Recipients: recipients})
	return s.err
}

func (s *recordingSender) Sent() []sentActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentActivity(nil), s.sent...)
}

// stubResolver serves actor documents from memory.
type stubResolver struct {
	actors  map[string]*ActorObject
	handles map[string]string
}

func newStubResolver(actors ...*ActorObject) *stubResolver {
	r := &stubResolver{actors: map[string]*ActorObject{}, handles: map[string]string{}}
	for _, a := range actors {
		r.actors[a.ID] = a
	}
	return r
}

func (r *stubResolver) FetchActor(ctx context.Context, uri string) (*ActorObject, error) {
	if a, ok := r.actors[KeyOwner(uri)]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("actor %s not found", uri)
}

func (r *stubResolver) ResolveHandle(ctx context.Context, handle string) (*ActorObject, error) {
	if uri, ok := r.handles[handle]; ok {
		return r.FetchActor(ctx, uri)
	}
	return r.FetchActor(ctx, handle)
}

func remoteActorObject(name string) *ActorObject {
	uri := "https://remote.example/users/" + name
	return &ActorObject{
		ID:                uri,
		Type:              "Person",
		PreferredUsername: name,
		Name:              name,
		Inbox:             uri + "/inbox",
		Endpoints:         Endpoints{SharedInbox: "https://remote.example/inbox"},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	buf, err := json.Marshal(v)
	require.NoError(t, err)
	return buf
}

func followActivity(t *testing.T, id, actor, object string) *Activity {
	t.Helper()
	activity, err := ParseActivity(mustJSON(t, map[string]any{
		"@context": ActivityStreamsContext,
		"id":       id,
		"type":     "Follow",
		"actor":    actor,
		"object":   object,
	}))
	require.NoError(t, err)
	return activity
}

func undoActivity(t *testing.T, actor string, follow map[string]any) *Activity {
	t.Helper()
	activity, err := ParseActivity(mustJSON(t, map[string]any{
		"@context": ActivityStreamsContext,
		"id":       actor + "#undo-" + uuid.NewString(),
		"type":     "Undo",
		"actor":    actor,
		"object":   follow,
	}))
	require.NoError(t, err)
	return activity
}

func mustRemote(t *testing.T, obj *ActorObject) domain.RemoteActor {
	t.Helper()
	remote, err := obj.Remote()
	require.NoError(t, err)
	return remote
}
