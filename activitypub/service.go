package activitypub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/domain"
	"github.com/deemkeen/murmur/util"
	"go.uber.org/zap"
)

type ServiceConfig struct {
	Database   *db.DB
	Keys       *KeyStore
	Federation Context
	Sender     Sender
	Resolver   Resolver
	Logger     *zap.Logger
}

// Service implements the operations local users trigger: setup, posting,
// following, and the reads behind the API.
type Service struct {
	db       *db.DB
	keys     *KeyStore
	fed      Context
	sender   Sender
	resolver Resolver
	logger   *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("service: database is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("service: sender is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	keys := cfg.Keys
	if keys == nil {
		keys = NewKeyStore(cfg.Database, logger)
	}
	return &Service{
		db:       cfg.Database,
		keys:     keys,
		fed:      cfg.Federation,
		sender:   cfg.Sender,
		resolver: cfg.Resolver,
		logger:   logger.Named("service"),
	}, nil
}

func (s *Service) Federation() Context {
	return s.fed
}

func (s *Service) Keys() *KeyStore {
	return s.keys
}

// Setup creates a local user and its actor.
func (s *Service) Setup(ctx context.Context, username, name string) (*domain.Actor, error) {
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	_, actor, err := s.db.CreateLocalAccount(ctx, username, s.fed.LocalActor(username, name))
	if err != nil {
		return nil, err
	}
	s.logger.Info("created local actor", zap.String("username", username), zap.String("uri", actor.URI))
	return actor, nil
}

// ResolveLocal returns the actor of a local username.
func (s *Service) ResolveLocal(ctx context.Context, username string) (*domain.Actor, error) {
	actor, err := s.db.ReadLocalActor(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotLocalActor, username)
	}
	return actor, err
}

// KeyPairs returns the key pairs of a local user, creating them on first use.
func (s *Service) KeyPairs(ctx context.Context, username string) ([]domain.KeyPair, error) {
	return s.keys.KeyPairsFor(ctx, username)
}

// CreatePost stores a post of a local user and queues its Create for the
// user's followers. Queueing failures are logged; the post stays.
func (s *Service) CreatePost(ctx context.Context, username, content string) (*domain.Post, error) {
	if util.IsBlank(content) {
		return nil, ErrEmptyContent
	}
	actor, err := s.ResolveLocal(ctx, username)
	if err != nil {
		return nil, err
	}

	post, err := s.db.CreatePost(ctx, actor.Id, util.EscapeContent(content), func(p *domain.Post) (string, string) {
		uri := s.fed.PostURI(username, p.Id)
		return uri, uri
	})
	if err != nil {
		return nil, fmt.Errorf("storing post: %w", err)
	}

	recipients, err := s.FollowersOf(ctx, username)
	if err != nil {
		s.logger.Warn("failed to read followers", zap.String("username", username), zap.Error(err))
		return post, nil
	}
	if err := s.sender.Send(ctx, username, s.fed.NewCreate(username, post), recipients); err != nil {
		s.logger.Warn("failed to queue create", zap.String("post", post.URI), zap.Error(err))
	}
	return post, nil
}

// Follow asks a remote actor to accept the local user as follower. The
// edge appears once the remote Accept arrives. A local target is followed
// directly.
func (s *Service) Follow(ctx context.Context, username, target string) (*domain.Actor, error) {
	local, err := s.ResolveLocal(ctx, username)
	if err != nil {
		return nil, err
	}

	if name, ok := s.localUsername(target); ok {
		return s.followLocal(ctx, local, name)
	}
	if s.resolver == nil {
		return nil, errors.New("no resolver configured")
	}

	obj, err := s.resolver.ResolveHandle(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownActor, target, err)
	}
	if ref := s.fed.ParseURI(obj.ID); ref != nil && ref.Kind == KindActor {
		return s.followLocal(ctx, local, ref.Username)
	}
	remote, err := obj.Remote()
	if err != nil {
		return nil, err
	}
	actor, err := s.db.UpsertRemoteActor(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("storing actor: %w", err)
	}

	follow := s.fed.NewFollow(username, actor.URI)
	if err := s.db.CreateFollowRequest(ctx, actor.Id, local.Id, follow.ID); err != nil {
		return nil, fmt.Errorf("storing follow request: %w", err)
	}
	if err := s.sender.Send(ctx, username, follow, []domain.Recipient{actor.Recipient()}); err != nil {
		return nil, fmt.Errorf("queueing follow: %w", err)
	}
	s.logger.Info("sent follow", zap.String("username", username), zap.String("target", actor.URI))
	return actor, nil
}

// followLocal inserts the edge between two actors of this server.
func (s *Service) followLocal(ctx context.Context, follower *domain.Actor, username string) (*domain.Actor, error) {
	target, err := s.ResolveLocal(ctx, username)
	if errors.Is(err, ErrNotLocalActor) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, username)
	}
	if err != nil {
		return nil, err
	}
	if target.Id == follower.Id {
		return nil, fmt.Errorf("%w: cannot follow yourself", ErrInvalidActivity)
	}
	created, err := s.db.CreateFollow(ctx, target.Id, follower.Id)
	if err != nil {
		return nil, fmt.Errorf("storing follow: %w", err)
	}
	s.logger.Info("followed local actor",
		zap.String("follower", follower.URI), zap.String("following", target.URI), zap.Bool("new", created))
	return target, nil
}

// localUsername recognizes handles and actor URIs of this server without a
// network round trip.
func (s *Service) localUsername(target string) (string, bool) {
	target = strings.TrimSpace(target)
	if ref := s.fed.ParseURI(target); ref != nil {
		if ref.Kind != KindActor {
			return "", true
		}
		return ref.Username, true
	}
	user, host, ok := strings.Cut(strings.TrimPrefix(strings.TrimPrefix(target, "acct:"), "@"), "@")
	if !ok || user == "" || !strings.EqualFold(host, s.fed.Domain) {
		return "", false
	}
	return strings.ToLower(user), true
}

// FollowersOf lists the delivery endpoints of a local user's followers,
// most recent follower first. Deduplication is left to the Sender.
func (s *Service) FollowersOf(ctx context.Context, username string) ([]domain.Recipient, error) {
	followers, err := s.db.ReadFollowers(ctx, username, -1, 0)
	if err != nil {
		return nil, err
	}
	recipients := make([]domain.Recipient, 0, len(followers))
	for i := range followers {
		recipients = append(recipients, followers[i].Recipient())
	}
	return recipients, nil
}

// FollowersCount is the size of the user's followers collection.
func (s *Service) FollowersCount(ctx context.Context, username string) (int, error) {
	return s.db.CountFollowers(ctx, username)
}

// Timeline returns the merged timeline of a local user.
func (s *Service) Timeline(ctx context.Context, username string, limit, offset int) ([]domain.TimelinePost, error) {
	actor, err := s.ResolveLocal(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.db.ReadTimeline(ctx, actor.Id, limit, offset)
}

// Profile is a local actor with its follow counts.
type Profile struct {
	Actor     *domain.Actor
	Followers int
	Following int
	Posts     int
}

func (s *Service) Profile(ctx context.Context, username string) (*Profile, error) {
	actor, err := s.ResolveLocal(ctx, username)
	if err != nil {
		return nil, err
	}
	profile := &Profile{Actor: actor}
	if profile.Followers, err = s.db.CountFollowers(ctx, username); err != nil {
		return nil, err
	}
	if profile.Following, err = s.db.CountFollowing(ctx, username); err != nil {
		return nil, err
	}
	if profile.Posts, err = s.db.CountPostsByUsername(ctx, username); err != nil {
		return nil, err
	}
	return profile, nil
}
