package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/domain"
	"go.uber.org/zap"
)

type InboxConfig struct {
	Database   *db.DB
	Federation Context
	Sender     Sender
	Resolver   Resolver
	Logger     *zap.Logger
	Clock      func() time.Time
}

// InboxProcessor applies inbound activities to the follow graph and the
// post store. Every handler is idempotent and tolerates reordering.
type InboxProcessor struct {
	db       *db.DB
	fed      Context
	sender   Sender
	resolver Resolver
	logger   *zap.Logger
	now      func() time.Time
}

func NewInboxProcessor(cfg InboxConfig) *InboxProcessor {
	p := &InboxProcessor{
		db:       cfg.Database,
		fed:      cfg.Federation,
		sender:   cfg.Sender,
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("inbox")
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Authenticate verifies the HTTP signature of an inbound request and
// returns the URI of the actor owning the signing key.
func (p *InboxProcessor) Authenticate(ctx context.Context, r *http.Request, body []byte) (string, error) {
	keyId, err := SignatureKeyID(r)
	if err != nil {
		return "", err
	}
	owner := KeyOwner(keyId)

	actor, err := p.resolver.FetchActor(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("%w: fetching key owner %s: %v", ErrInvalidSignature, owner, err)
	}
	pub, ok := actor.PublicKeys()[keyId]
	if !ok {
		return "", fmt.Errorf("%w: key %s not published by %s", ErrInvalidSignature, keyId, actor.ID)
	}
	if err := VerifyRequest(r, body, pub, p.now()); err != nil {
		return "", err
	}
	return actor.ID, nil
}

// Process dispatches one inbound activity. Errors matching IsDiscard mean
// the activity was dropped on purpose.
func (p *InboxProcessor) Process(ctx context.Context, activity *Activity) error {
	log := p.logger.With(zap.String("type", activity.Type), zap.String("id", activity.ID), zap.String("actor", activity.ActorID()))
	log.Debug("received activity")

	var err error
	switch activity.Type {
	case "Follow":
		err = p.HandleFollow(ctx, activity)
	case "Undo":
		err = p.HandleUndo(ctx, activity)
	case "Accept":
		err = p.HandleAccept(ctx, activity)
	case "Create":
		err = p.HandleCreate(ctx, activity)
	default:
		log.Debug("ignoring unsupported activity type")
		return nil
	}

	if IsDiscard(err) {
		log.Debug("discarded activity", zap.Error(err))
	} else if err != nil {
		log.Error("failed to process activity", zap.Error(err))
	}
	return err
}

// HandleFollow records a remote follower of a local actor and answers with
// an Accept. A duplicate Follow leaves the single edge in place and is
// accepted again.
func (p *InboxProcessor) HandleFollow(ctx context.Context, follow *Activity) error {
	local, localErr := p.localActor(ctx, follow.ObjectID())
	remote, remoteErr := p.remoteActor(ctx, follow)
	if localErr != nil && remoteErr != nil {
		p.logger.Warn("follow target and follower both unresolved",
			zap.NamedError("target_error", localErr), zap.NamedError("follower_error", remoteErr))
		return errors.Join(localErr, remoteErr)
	}
	if localErr != nil {
		return localErr
	}
	if remoteErr != nil {
		return remoteErr
	}

	follower, created, err := p.db.AcceptRemoteFollow(ctx, local.Id, remote)
	if errors.Is(err, db.ErrLocalActorConflict) {
		return fmt.Errorf("%w: follower claims local uri %s", ErrInvalidActivity, remote.URI)
	}
	if err != nil {
		return fmt.Errorf("storing follow: %w", err)
	}
	p.logger.Info("accepted follow",
		zap.String("follower", follower.URI), zap.String("following", local.URI), zap.Bool("new", created))

	username := p.fed.ParseURI(follow.ObjectID()).Username
	accept := p.fed.NewAccept(username, follow)
	if err := p.sender.Send(ctx, username, accept, []domain.Recipient{follower.Recipient()}); err != nil {
		p.logger.Warn("failed to queue accept", zap.String("follower", follower.URI), zap.Error(err))
	}
	return nil
}

// HandleUndo removes the edge created by the wrapped Follow. Only the
// follower itself may undo it; undoing a missing edge is a no-op.
func (p *InboxProcessor) HandleUndo(ctx context.Context, undo *Activity) error {
	var follow Activity
	if err := json.Unmarshal(undo.Object, &follow); err != nil || follow.Type != "Follow" {
		return fmt.Errorf("%w: undo object is not a follow", ErrInvalidActivity)
	}
	if follow.ActorID() != undo.ActorID() {
		return fmt.Errorf("%w: %s cannot undo a follow by %s", ErrInvalidActivity, undo.ActorID(), follow.ActorID())
	}

	local, err := p.localActor(ctx, follow.ObjectID())
	if err != nil {
		return err
	}
	follower, err := p.db.ReadActorByURI(ctx, undo.ActorID())
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownActor, undo.ActorID())
	}
	if err != nil {
		return err
	}

	deleted, err := p.db.DeleteFollow(ctx, local.Id, follower.Id)
	if err != nil {
		return fmt.Errorf("removing follow: %w", err)
	}
	p.logger.Info("removed follow",
		zap.String("follower", follower.URI), zap.String("following", local.URI), zap.Bool("existed", deleted))
	return nil
}

// HandleAccept completes an outbound follow: the remote actor accepted a
// Follow sent by a local actor. Only a pending request becomes an edge; a
// repeated Accept for an existing edge is a no-op.
func (p *InboxProcessor) HandleAccept(ctx context.Context, accept *Activity) error {
	var follow Activity
	if err := json.Unmarshal(accept.Object, &follow); err != nil || follow.Type != "Follow" {
		return fmt.Errorf("%w: accept object is not an embedded follow", ErrInvalidActivity)
	}
	if follow.ObjectID() != accept.ActorID() {
		return fmt.Errorf("%w: %s cannot accept a follow of %s", ErrInvalidActivity, accept.ActorID(), follow.ObjectID())
	}

	local, err := p.localActor(ctx, follow.ActorID())
	if err != nil {
		return err
	}
	remote, err := p.db.ReadActorByURI(ctx, accept.ActorID())
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownActor, accept.ActorID())
	}
	if err != nil {
		return err
	}

	created, err := p.db.AcceptFollowRequest(ctx, remote.Id, local.Id, follow.ID)
	if errors.Is(err, db.ErrNoFollowRequest) {
		return p.acceptWithoutRequest(ctx, remote, local, follow.ID)
	}
	if err != nil {
		return fmt.Errorf("storing follow: %w", err)
	}
	p.logger.Info("follow accepted",
		zap.String("follower", local.URI), zap.String("following", remote.URI), zap.Bool("new", created))
	return nil
}

func (p *InboxProcessor) acceptWithoutRequest(ctx context.Context, remote, local *domain.Actor, followID string) error {
	_, err := p.db.ReadFollow(ctx, remote.Id, local.Id)
	if err == nil {
		p.logger.Debug("accept for existing follow", zap.String("follower", local.URI), zap.String("following", remote.URI))
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s never asked to follow %s (follow %q)", ErrInvalidActivity, local.URI, remote.URI, followID)
}

// HandleCreate stores a Note from an actor followed by at least one local
// actor. The note is stored as received.
func (p *InboxProcessor) HandleCreate(ctx context.Context, create *Activity) error {
	var note Note
	if err := json.Unmarshal(create.Object, &note); err != nil || note.Type != "Note" || note.ID == "" {
		return fmt.Errorf("%w: create object is not a note", ErrInvalidActivity)
	}
	if note.AttributedTo != "" && note.AttributedTo != create.ActorID() {
		return fmt.Errorf("%w: note attributed to %s sent by %s", ErrInvalidActivity, note.AttributedTo, create.ActorID())
	}
	if !sameHost(note.ID, create.ActorID()) {
		return fmt.Errorf("%w: note %s not hosted by its author", ErrInvalidActivity, note.ID)
	}

	author, err := p.db.ReadActorByURI(ctx, create.ActorID())
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownActor, create.ActorID())
	}
	if err != nil {
		return err
	}
	if author.IsLocal() {
		return fmt.Errorf("%w: create claims local author %s", ErrInvalidActivity, author.URI)
	}

	followed, err := p.db.HasLocalFollower(ctx, author.Id)
	if err != nil {
		return err
	}
	if !followed {
		return fmt.Errorf("%w: nobody here follows %s", ErrUnknownActor, author.URI)
	}

	published, _ := time.Parse(time.RFC3339, note.Published)
	stored, err := p.db.CreateRemotePost(ctx, author.Id, note.ID, note.URL, note.Content, published)
	if err != nil {
		return fmt.Errorf("storing note: %w", err)
	}
	p.logger.Info("stored remote note", zap.String("uri", note.ID), zap.Bool("new", stored))
	return nil
}

// localActor resolves a URI that must name a local actor.
func (p *InboxProcessor) localActor(ctx context.Context, uri string) (*domain.Actor, error) {
	ref := p.fed.ParseURI(uri)
	if ref == nil || ref.Kind != KindActor {
		return nil, fmt.Errorf("%w: %q", ErrNotLocalActor, uri)
	}
	actor, err := p.db.ReadLocalActor(ctx, ref.Username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotLocalActor, uri)
	}
	return actor, err
}

// remoteActor returns the sender of the activity, taken from the embedded
// actor object when present and fetched otherwise.
func (p *InboxProcessor) remoteActor(ctx context.Context, activity *Activity) (domain.RemoteActor, error) {
	obj := activity.embeddedActor()
	if obj == nil && p.resolver != nil {
		fetched, err := p.resolver.FetchActor(ctx, activity.ActorID())
		if err != nil {
			return domain.RemoteActor{}, fmt.Errorf("%w: %s: %v", ErrUnknownActor, activity.ActorID(), err)
		}
		obj = fetched
	}
	if obj == nil {
		return domain.RemoteActor{}, fmt.Errorf("%w: %s", ErrUnknownActor, activity.ActorID())
	}
	if obj.ID != activity.ActorID() {
		return domain.RemoteActor{}, fmt.Errorf("%w: fetched %s for %s", ErrInvalidActivity, obj.ID, activity.ActorID())
	}
	return obj.Remote()
}
