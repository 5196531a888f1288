package web

import (
	"net/http"

	"github.com/deemkeen/murmur/activitypub"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleInbox serves both the personal inboxes and the shared inbox. The
// processor routes by the activity's object, so the path only has to name
// an existing local user.
func (h *handler) handleInbox(c *gin.Context) {
	ctx := c.Request.Context()
	if username := c.Param("username"); username != "" {
		if _, err := h.svc.ResolveLocal(ctx, username); err != nil {
			h.writeError(c, err)
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	activity, err := activitypub.ParseActivity(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.conf.Federation.VerifySignatures {
		signer, err := h.inbox.Authenticate(ctx, c.Request, body)
		if err != nil {
			h.logger.Info("rejected unsigned or invalid request", zap.String("id", activity.ID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		if signer != activity.ActorID() {
			h.logger.Info("signer does not match actor",
				zap.String("signer", signer), zap.String("actor", activity.ActorID()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signer does not match actor"})
			return
		}
	}

	if err := h.inbox.Process(ctx, activity); err != nil && !activitypub.IsDiscard(err) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusAccepted)
}
