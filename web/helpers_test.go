package web

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/deemkeen/murmur/activitypub"
	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/domain"
	"github.com/deemkeen/murmur/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const remoteOrigin = "https://remote.example"

type sent struct {
	Username   string
	Type       string
	Recipients []domain.Recipient
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
}

func (s *recordingSender) Send(ctx context.Context, username string, activity any, recipients []domain.Recipient) error {
	buf, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(buf, &head); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{Username: username, Type: head.Type, Recipients: recipients})
	return nil
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, a := range s.sent {
		types = append(types, a.Type)
	}
	return types
}

// remoteActor is a remote party with its own signing key.
type remoteActor struct {
	doc  *activitypub.ActorObject
	pair domain.KeyPair
}

func (r *remoteActor) keyId() string {
	return r.doc.ID + "#ed25519-key"
}

type stubResolver struct {
	actors map[string]*remoteActor
}

func (r *stubResolver) FetchActor(ctx context.Context, uri string) (*activitypub.ActorObject, error) {
	if a, ok := r.actors[activitypub.KeyOwner(uri)]; ok {
		return a.doc, nil
	}
	return nil, fmt.Errorf("actor %s not found", uri)
}

func (r *stubResolver) ResolveHandle(ctx context.Context, handle string) (*activitypub.ActorObject, error) {
	user, host, _ := strings.Cut(strings.TrimPrefix(handle, "@"), "@")
	return r.FetchActor(ctx, "https://"+host+"/users/"+user)
}

func newRemoteActor(t *testing.T, name string) *remoteActor {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	multikey, err := activitypub.Multikey(pub)
	require.NoError(t, err)

	uri := remoteOrigin + "/users/" + name
	methods, err := json.Marshal([]activitypub.VerificationMethod{{
		ID:                 uri + "#ed25519-key",
		Type:               "Multikey",
		Controller:         uri,
		PublicKeyMultibase: multikey,
	}})
	require.NoError(t, err)

	return &remoteActor{
		doc: &activitypub.ActorObject{
			ID:                uri,
			Type:              "Person",
			PreferredUsername: name,
			Name:              name,
			Inbox:             uri + "/inbox",
			Endpoints:         activitypub.Endpoints{SharedInbox: remoteOrigin + "/inbox"},
			AssertionMethod:   methods,
		},
		pair: domain.KeyPair{Type: domain.KeyTypeEd25519, PrivateKey: priv, PublicKey: pub},
	}
}

type fixture struct {
	router   *gin.Engine
	db       *db.DB
	svc      *activitypub.Service
	sender   *recordingSender
	resolver *stubResolver
	bob      *remoteActor
	carol    *remoteActor
}

func testConfig(verify bool) *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Federation.Domain = "local.example"
	conf.Federation.Scheme = "https"
	conf.Federation.VerifySignatures = verify
	conf.CORS.AllowedOrigins = []string{"*"}
	conf.RateLimit.GlobalRPS = 1000
	conf.RateLimit.GlobalBurst = 1000
	conf.RateLimit.InboxRPS = 1000
	conf.RateLimit.InboxBurst = 1000
	return conf
}

func setupRouter(t *testing.T, verify bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := db.Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		db:     database,
		sender: &recordingSender{},
		bob:    newRemoteActor(t, "bob"),
		carol:  newRemoteActor(t, "carol"),
	}
	f.resolver = &stubResolver{actors: map[string]*remoteActor{
		f.bob.doc.ID:   f.bob,
		f.carol.doc.ID: f.carol,
	}}

	conf := testConfig(verify)
	fed := activitypub.NewContext(conf.Federation.Scheme, conf.Federation.Domain)
	f.svc, err = activitypub.NewService(activitypub.ServiceConfig{
		Database:   database,
		Federation: fed,
		Sender:     f.sender,
		Resolver:   f.resolver,
	})
	require.NoError(t, err)
	inbox := activitypub.NewInboxProcessor(activitypub.InboxConfig{
		Database:   database,
		Federation: fed,
		Sender:     f.sender,
		Resolver:   f.resolver,
	})

	f.router, err = NewRouter(t.Context(), Dependencies{
		Config:   conf,
		Database: database,
		Service:  f.svc,
		Inbox:    inbox,
	})
	require.NoError(t, err)

	_, err = f.svc.Setup(context.Background(), "alice", "Alice")
	require.NoError(t, err)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (f *fixture) postJSON(t *testing.T, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

// signedInboxRequest builds a POST to path on local.example signed with the
// remote actor's key.
func signedInboxRequest(t *testing.T, signer *remoteActor, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://local.example"+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	require.NoError(t, activitypub.SignRequest(req, signer.pair, signer.keyId(), body))
	return req
}

func followBody(t *testing.T, actor, object string) []byte {
	t.Helper()
	buf, err := json.Marshal(map[string]any{
		"@context": activitypub.ActivityStreamsContext,
		"id":       actor + "/follows/" + uuid.NewString(),
		"type":     "Follow",
		"actor":    actor,
		"object":   object,
	})
	require.NoError(t, err)
	return buf
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func httptestBody(buf []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(buf))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// signedlessFollow is a Follow from bob to alice for routers that skip
// signature verification.
func signedlessFollow(t *testing.T, f *fixture) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodPost, "/users/alice/inbox",
		bytes.NewReader(followBody(t, f.bob.doc.ID, aliceURI)))
}
