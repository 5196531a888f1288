package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/murmur/activitypub"
	"github.com/deemkeen/murmur/db"
	"github.com/deemkeen/murmur/util"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	activityContentType = "application/activity+json; charset=utf-8"
	maxInboxBodySize    = 1 * 1024 * 1024
	collectionPageSize  = 20
	maxCollectionPage   = 100000
	defaultAPILimit     = 20
	maxAPILimit         = 100
)

// Dependencies are the components the HTTP surface dispatches to.
type Dependencies struct {
	Config   *util.AppConfig
	Database *db.DB
	Service  *activitypub.Service
	Inbox    *activitypub.InboxProcessor
	Logger   *zap.Logger
}

type handler struct {
	conf   *util.AppConfig
	db     *db.DB
	svc    *activitypub.Service
	inbox  *activitypub.InboxProcessor
	fed    activitypub.Context
	logger *zap.Logger
}

// NewRouter builds the gin engine serving the federation endpoints, the JSON
// API and the RSS feeds. Background work of the middleware stops with ctx.
func NewRouter(ctx context.Context, deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil || deps.Database == nil || deps.Service == nil || deps.Inbox == nil {
		return nil, errors.New("web: config, database, service and inbox are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		conf:   deps.Config,
		db:     deps.Database,
		svc:    deps.Service,
		inbox:  deps.Inbox,
		fed:    deps.Service.Federation(),
		logger: logger.Named("http"),
	}
	conf := deps.Config

	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(AccessLog(h.logger))
	g.Use(gzip.Gzip(gzip.DefaultCompression))
	if len(conf.CORS.AllowedOrigins) > 0 {
		g.Use(cors.New(cors.Config{
			AllowOrigins: conf.CORS.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		}))
	}

	globalLimiter := NewRateLimiter(rate.Limit(conf.RateLimit.GlobalRPS), conf.RateLimit.GlobalBurst)
	g.Use(RateLimitMiddleware(ctx, globalLimiter))

	inboxLimiter := NewRateLimiter(rate.Limit(conf.RateLimit.InboxRPS), conf.RateLimit.InboxBurst)
	inboxChain := []gin.HandlerFunc{RateLimitMiddleware(ctx, inboxLimiter), MaxBytesMiddleware(maxInboxBodySize)}

	// Federation
	g.GET("/.well-known/webfinger", h.handleWebFinger)
	g.GET("/users/:username", h.handleActor)
	g.GET("/users/:username/posts/:id", h.handleNote)
	g.GET("/users/:username/followers", h.handleFollowers)
	g.GET("/users/:username/outbox", h.handleOutbox)
	g.GET("/users/:username/feed.rss", h.handleRSS)
	g.POST("/users/:username/inbox", append(inboxChain, h.handleInbox)...)
	g.POST("/inbox", append(inboxChain, h.handleInbox)...)

	// JSON API
	api := g.Group("/api")
	api.POST("/setup", h.apiSetup)
	users := api.Group("/users/:username")
	users.GET("", h.apiProfile)
	users.GET("/posts", h.apiPosts)
	users.POST("/posts", h.apiCreatePost)
	users.GET("/posts/:id", h.apiPost)
	users.GET("/timeline", h.apiTimeline)
	users.GET("/followers", h.apiFollowers)
	users.GET("/following", h.apiFollowing)
	users.POST("/following", h.apiFollow)

	return g, nil
}

// writeError maps the error classes onto status codes. Internal errors are
// logged and answered with a generic body.
func (h *handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, activitypub.ErrInvalidUsername),
		errors.Is(err, activitypub.ErrInvalidName),
		errors.Is(err, activitypub.ErrEmptyContent),
		errors.Is(err, activitypub.ErrInvalidActivity),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, activitypub.ErrNotLocalActor),
		errors.Is(err, activitypub.ErrUnknownActor),
		errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrUsernameTaken),
		errors.Is(err, db.ErrLocalActorConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

// pageParam parses ?page=N. It reports ok=false when no page was requested.
func pageParam(c *gin.Context) (page int, ok bool, err error) {
	raw, present := c.GetQuery("page")
	if !present {
		return 0, false, nil
	}
	page, err = strconv.Atoi(raw)
	if err != nil || page < 1 || page > maxCollectionPage {
		return 0, false, fmt.Errorf("%w: page must be between 1 and %d", errBadRequest, maxCollectionPage)
	}
	return page, true, nil
}

// limitOffset parses ?limit and ?offset for the JSON API.
func limitOffset(c *gin.Context) (limit, offset int, err error) {
	limit, offset = defaultAPILimit, 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxAPILimit {
			return 0, 0, fmt.Errorf("%w: limit must be between 1 and %d", errBadRequest, maxAPILimit)
		}
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must not be negative", errBadRequest)
		}
	}
	return limit, offset, nil
}

func renderActivity(c *gin.Context, status int, v any) {
	c.Header("Content-Type", activityContentType)
	c.JSON(status, v)
}
