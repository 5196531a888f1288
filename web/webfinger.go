package web

import (
	"net/http"
	"strings"

	"github.com/deemkeen/murmur/activitypub"
	"github.com/gin-gonic/gin"
)

const jrdContentType = "application/jrd+json; charset=utf-8"

// handleWebFinger answers acct: lookups and lookups by actor URI for local
// users.
func (h *handler) handleWebFinger(c *gin.Context) {
	resource := c.Query("resource")
	if resource == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource parameter is required"})
		return
	}

	username, ok := h.webFingerUsername(resource)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
		return
	}
	actor, err := h.svc.ResolveLocal(c.Request.Context(), username)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := activitypub.WebFingerResponse{
		Subject: "acct:" + username + "@" + h.fed.Domain,
		Aliases: []string{actor.URI},
		Links: []activitypub.WebFingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actor.URI},
		},
	}
	c.Header("Content-Type", jrdContentType)
	c.JSON(http.StatusOK, resp)
}

func (h *handler) webFingerUsername(resource string) (string, bool) {
	if acct, ok := strings.CutPrefix(resource, "acct:"); ok {
		username, domain, found := strings.Cut(acct, "@")
		if !found || !strings.EqualFold(domain, h.fed.Domain) {
			return "", false
		}
		return username, true
	}
	ref := h.fed.ParseURI(resource)
	if ref == nil || ref.Kind != activitypub.KindActor {
		return "", false
	}
	return ref.Username, true
}
