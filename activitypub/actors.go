package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxDocumentSize = 1 << 20

// Resolver looks up remote actors on the network.
type Resolver interface {
	// FetchActor dereferences an actor URI.
	FetchActor(ctx context.Context, uri string) (*ActorObject, error)
	// ResolveHandle accepts "@user@host", "user@host", "acct:user@host" or an
	// actor URI.
	ResolveHandle(ctx context.Context, handle string) (*ActorObject, error)
}

// HTTPResolver resolves actors with plain GET requests and WebFinger.
type HTTPResolver struct {
	Client    *http.Client
	UserAgent string
	// Scheme used for WebFinger lookups, "https" unless set.
	Scheme string
	logger *zap.Logger
}

func NewHTTPResolver(userAgent string, logger *zap.Logger) *HTTPResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPResolver{
		Client:    &http.Client{Timeout: 10 * time.Second},
		UserAgent: userAgent,
		Scheme:    "https",
		logger:    logger.Named("resolver"),
	}
}

// FetchActor fetches an actor document from a remote server
func (r *HTTPResolver) FetchActor(ctx context.Context, uri string) (*ActorObject, error) {
	var actor ActorObject
	if err := r.getJSON(ctx, uri, "application/activity+json", &actor); err != nil {
		return nil, err
	}

	// Validate required fields
	if actor.ID == "" || actor.Inbox == "" {
		return nil, fmt.Errorf("actor %s missing required fields", uri)
	}
	if !sameHost(actor.ID, uri) {
		return nil, fmt.Errorf("actor id %s does not match host of %s", actor.ID, uri)
	}

	r.logger.Debug("fetched actor", zap.String("uri", actor.ID))
	return &actor, nil
}

// ResolveHandle finds the actor behind a handle via WebFinger, or fetches it
// directly when given a URI.
func (r *HTTPResolver) ResolveHandle(ctx context.Context, handle string) (*ActorObject, error) {
	handle = strings.TrimSpace(handle)
	if strings.HasPrefix(handle, "https://") || strings.HasPrefix(handle, "http://") {
		return r.FetchActor(ctx, handle)
	}

	user, host, ok := strings.Cut(strings.TrimPrefix(strings.TrimPrefix(handle, "acct:"), "@"), "@")
	if !ok || user == "" || host == "" {
		return nil, fmt.Errorf("malformed handle %q", handle)
	}

	resource := "acct:" + user + "@" + host
	endpoint := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=%s", r.Scheme, host, url.QueryEscape(resource))

	var jrd WebFingerResponse
	if err := r.getJSON(ctx, endpoint, "application/jrd+json", &jrd); err != nil {
		return nil, fmt.Errorf("webfinger %s: %w", resource, err)
	}
	for _, link := range jrd.Links {
		if link.Rel == "self" && isActivityJSON(link.Type) && link.Href != "" {
			return r.FetchActor(ctx, link.Href)
		}
	}
	return nil, fmt.Errorf("webfinger %s: no activitypub self link", resource)
}

func (r *HTTPResolver) getJSON(ctx context.Context, uri, accept string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", r.UserAgent)

	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s failed with status: %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", uri, err)
	}
	return nil
}

// WebFingerResponse is a JRD document.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

func isActivityJSON(contentType string) bool {
	return strings.HasPrefix(contentType, "application/activity+json") ||
		strings.HasPrefix(contentType, "application/ld+json")
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host == ub.Host
}
