package activitypub

import (
	"strings"
	"testing"

	"github.com/deemkeen/murmur/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextURIs(t *testing.T) {
	assert.Equal(t, "https://local.example/users/alice", testFed.ActorURI("alice"))
	assert.Equal(t, "https://local.example/users/alice/inbox", testFed.InboxURI("alice"))
	assert.Equal(t, "https://local.example/inbox", testFed.SharedInboxURI())
	assert.Equal(t, "https://local.example/users/alice/followers", testFed.FollowersURI("alice"))
	assert.Equal(t, "https://local.example/users/alice/outbox", testFed.OutboxURI("alice"))
	assert.Equal(t, "https://local.example/users/alice/posts/42", testFed.PostURI("alice", 42))
	assert.Equal(t, "https://local.example/users/alice#main-key", testFed.KeyID("alice", domain.KeyTypeRSA))
	assert.Equal(t, "https://local.example/users/alice#ed25519-key", testFed.KeyID("alice", domain.KeyTypeEd25519))
	assert.Equal(t, "@alice@local.example", testFed.Handle("alice"))
	assert.NotEqual(t, testFed.ActivityURI(), testFed.ActivityURI())
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri  string
		want *URIRef
	}{
		{"https://local.example/users/alice", &URIRef{Kind: KindActor, Username: "alice"}},
		{"https://local.example/users/alice/inbox", &URIRef{Kind: KindInbox, Username: "alice"}},
		{"https://local.example/users/alice/followers", &URIRef{Kind: KindFollowers, Username: "alice"}},
		{"https://local.example/users/alice/outbox", &URIRef{Kind: KindOutbox, Username: "alice"}},
		{"https://local.example/users/alice/posts/7", &URIRef{Kind: KindObject, Username: "alice", ID: 7}},
		{"https://remote.example/users/alice", nil},
		{"http://local.example/users/alice", nil},
		{"https://local.example/users/Alice", nil},
		{"https://local.example/users/alice/posts/x", nil},
		{"https://local.example/users/alice/posts/0", nil},
		{"https://local.example/users/alice#main-key", nil},
		{"https://local.example/notes/1", nil},
		{"not a uri", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.want, testFed.ParseURI(tt.uri))
		})
	}
}

func TestParseURIRoundTrip(t *testing.T) {
	ref := testFed.ParseURI(testFed.PostURI("bob_1", 99))
	require.NotNil(t, ref)
	assert.Equal(t, "bob_1", ref.Username)
	assert.Equal(t, int64(99), ref.ID)
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("alice"))
	assert.True(t, ValidUsername("a-b_c9"))
	assert.False(t, ValidUsername(""))
	assert.False(t, ValidUsername("Alice"))
	assert.False(t, ValidUsername("al ice"))
	assert.False(t, ValidUsername(strings.Repeat("a", 51)))
	assert.True(t, ValidUsername(strings.Repeat("a", 50)))
}

func TestLocalActor(t *testing.T) {
	actor := testFed.LocalActor("alice", "Alice")
	assert.Equal(t, "https://local.example/users/alice", actor.URI)
	assert.Equal(t, "https://local.example/users/alice/inbox", actor.InboxURL)
	assert.Equal(t, "https://local.example/inbox", actor.SharedInboxURL.String)
	assert.Equal(t, "@alice@local.example", actor.Handle)
	assert.Equal(t, "Alice", actor.Name.String)
}
