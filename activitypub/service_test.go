package activitypub

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/deemkeen/murmur/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupValidation(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()

	_, err := f.service.Setup(ctx, "Bad Name", "Bad")
	require.ErrorIs(t, err, ErrInvalidUsername)
	_, err = f.service.Setup(ctx, "bob", "   ")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = f.service.Setup(ctx, "alice", "Alice Again")
	require.ErrorIs(t, err, db.ErrUsernameTaken)

	actor, err := f.service.Setup(ctx, "bob", " Bob ")
	require.NoError(t, err)
	assert.Equal(t, "Bob", actor.Name.String)
	assert.Equal(t, "https://local.example/users/bob", actor.URI)
}

func TestCreatePostHelloWorld(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()

	post, err := f.service.CreatePost(ctx, "alice", "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", post.Content)
	assert.True(t, strings.HasSuffix(post.URI, fmt.Sprintf("/%d", post.Id)))
	assert.Equal(t, testFed.PostURI("alice", post.Id), post.URI)
	assert.Equal(t, post.URI, post.URL)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	create := sent[0].Activity
	assert.Equal(t, "Create", create["type"])
	assert.Equal(t, post.URI+"#activity", create["id"])
	assert.Equal(t, []any{PublicCollection}, create["to"])
	assert.Equal(t, []any{testFed.FollowersURI("alice")}, create["cc"])
	note := create["object"].(map[string]any)
	assert.Equal(t, post.URI, note["id"])
	assert.Equal(t, "hello world", note["content"])
	assert.Empty(t, sent[0].Recipients, "alice has no followers yet")
}

func TestCreatePostEscapesAndAddressesFollowers(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, followActivity(t, bobURI+"#f", bobURI, testFed.ActorURI("alice"))))
	carol := "https://remote.example/users/carol"
	require.NoError(t, f.processor.Process(ctx, followActivity(t, carol+"#f", carol, testFed.ActorURI("alice"))))

	post, err := f.service.CreatePost(ctx, "alice", `<script>alert("x")</script> & more`)
	require.NoError(t, err)
	assert.Equal(t, "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt; &amp; more", post.Content)

	sent := f.sender.Sent()
	create := sent[len(sent)-1]
	assert.Equal(t, "Create", create.Activity["type"])
	require.Len(t, create.Recipients, 2)
	assert.Equal(t, carol, create.Recipients[0].ActorURI, "most recent follower first")
	assert.Equal(t, []string{"https://remote.example/inbox"}, Inboxes(create.Recipients))
}

func TestCreatePostRejectsEmptyContent(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := f.service.CreatePost(ctx, "alice", content)
		require.ErrorIs(t, err, ErrEmptyContent)
	}
	_, err := f.service.CreatePost(ctx, "nobody", "hi")
	require.ErrorIs(t, err, ErrNotLocalActor)
	assert.Empty(t, f.sender.Sent())
}

func TestCreatePostSurvivesSendFailure(t *testing.T) {
	f := setupInbox(t)
	f.sender.err = fmt.Errorf("queue down")

	post, err := f.service.CreatePost(context.Background(), "alice", "still here")
	require.NoError(t, err)

	read, err := f.db.ReadPost(context.Background(), "alice", post.Id)
	require.NoError(t, err)
	assert.Equal(t, "still here", read.Post.Content)
}

func TestFollowersCountAfterFollowAndUndo(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()
	follow := followActivity(t, bobURI+"#follow-1", bobURI, testFed.ActorURI("alice"))

	require.NoError(t, f.processor.Process(ctx, follow))
	assert.Equal(t, 1, f.followersCount(t))

	followObj := map[string]any{"id": follow.ID, "type": "Follow", "actor": bobURI, "object": testFed.ActorURI("alice")}
	require.NoError(t, f.processor.Process(ctx, undoActivity(t, bobURI, followObj)))
	assert.Equal(t, 0, f.followersCount(t))
}

func TestFollowOutbound(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()
	f.resolver.handles["@bob@remote.example"] = bobURI

	actor, err := f.service.Follow(ctx, "alice", "@bob@remote.example")
	require.NoError(t, err)
	assert.Equal(t, bobURI, actor.URI)
	assert.False(t, actor.IsLocal())

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Follow", sent[0].Activity["type"])
	assert.Equal(t, testFed.ActorURI("alice"), sent[0].Activity["actor"])
	assert.Equal(t, bobURI, sent[0].Activity["object"])

	_, err = f.service.Follow(ctx, "alice", "@ghost@remote.example")
	require.ErrorIs(t, err, ErrUnknownActor)

	alice, err := f.service.ResolveLocal(ctx, "alice")
	require.NoError(t, err)
	pending, err := f.db.CountFollowRequests(ctx, alice.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestFollowLocalActor(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()
	dave, err := f.service.Setup(ctx, "dave", "Dave")
	require.NoError(t, err)
	// A resolver answering with the local document must not be needed.
	f.resolver.actors[dave.URI] = &ActorObject{ID: dave.URI, Type: "Person", PreferredUsername: "dave", Inbox: dave.URI + "/inbox"}

	for _, target := range []string{dave.URI, "@dave@local.example", "acct:dave@LOCAL.example"} {
		actor, err := f.service.Follow(ctx, "alice", target)
		require.NoError(t, err, target)
		assert.Equal(t, dave.Id, actor.Id)
		assert.True(t, actor.IsLocal())
	}

	following, err := f.db.ReadFollowing(ctx, "alice", -1, 0)
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, dave.URI, following[0].URI)
	assert.Empty(t, f.sender.Sent())

	_, err = f.service.Follow(ctx, "alice", "@alice@local.example")
	require.ErrorIs(t, err, ErrInvalidActivity)
	_, err = f.service.Follow(ctx, "alice", "@nobody@local.example")
	require.ErrorIs(t, err, ErrUnknownActor)
	_, err = f.service.Follow(ctx, "alice", testFed.PostURI("dave", 1))
	require.ErrorIs(t, err, ErrUnknownActor)
}

func TestFollowLocalActorAfterRemoteResolution(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()
	dave, err := f.service.Setup(ctx, "dave", "Dave")
	require.NoError(t, err)
	f.resolver.actors[dave.URI] = &ActorObject{ID: dave.URI, Type: "Person", PreferredUsername: "dave", Inbox: dave.URI + "/inbox"}
	f.resolver.handles["@dave@alias.example"] = dave.URI

	actor, err := f.service.Follow(ctx, "alice", "@dave@alias.example")
	require.NoError(t, err)
	assert.Equal(t, dave.Id, actor.Id)

	count, err := f.db.CountFollowing(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProfile(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()
	require.NoError(t, f.processor.Process(ctx, followActivity(t, bobURI+"#f", bobURI, testFed.ActorURI("alice"))))
	_, err := f.service.CreatePost(ctx, "alice", "one")
	require.NoError(t, err)

	profile, err := f.service.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Followers)
	assert.Equal(t, 0, profile.Following)
	assert.Equal(t, 1, profile.Posts)

	_, err = f.service.Profile(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotLocalActor)
}

func TestNewPersonDocument(t *testing.T) {
	f := setupInbox(t)
	ctx := context.Background()

	actor, err := f.service.ResolveLocal(ctx, "alice")
	require.NoError(t, err)
	pairs, err := f.service.KeyPairs(ctx, "alice")
	require.NoError(t, err)

	person, err := testFed.NewPerson("alice", actor, pairs)
	require.NoError(t, err)
	assert.Equal(t, "Person", person.Type)
	assert.Equal(t, "https://local.example/inbox", person.Endpoints.SharedInbox)
	require.NotNil(t, person.PublicKey)
	assert.Equal(t, testFed.KeyID("alice", pairs[0].Type), person.PublicKey.ID)
	require.Len(t, person.AssertionMethod, 2)

	// the document must verify against itself
	obj := &ActorObject{
		ID:              person.ID,
		Inbox:           person.Inbox,
		PublicKey:       mustJSON(t, person.PublicKey),
		AssertionMethod: mustJSON(t, person.AssertionMethod),
	}
	keys := obj.PublicKeys()
	assert.Equal(t, pairs[0].PublicKey, keys[testFed.KeyID("alice", pairs[0].Type)])
	assert.Equal(t, pairs[1].PublicKey, keys[testFed.KeyID("alice", pairs[1].Type)])
}
