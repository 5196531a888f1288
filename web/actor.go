package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/murmur/activitypub"
	"github.com/gin-gonic/gin"
)

func (h *handler) handleActor(c *gin.Context) {
	username := c.Param("username")
	actor, err := h.svc.ResolveLocal(c.Request.Context(), username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	pairs, err := h.svc.KeyPairs(c.Request.Context(), username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	person, err := h.fed.NewPerson(username, actor, pairs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	renderActivity(c, http.StatusOK, person)
}

func (h *handler) handleNote(c *gin.Context) {
	username := c.Param("username")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid post ID"})
		return
	}
	tp, err := h.db.ReadPost(c.Request.Context(), username, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	note := h.fed.NewNote(username, &tp.Post)
	note.Context = activitypub.ActivityStreamsContext
	renderActivity(c, http.StatusOK, note)
}

// handleFollowers serves the followers collection. Without ?page the
// collection only carries its size and a link to the first page.
func (h *handler) handleFollowers(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.Param("username")
	if _, err := h.svc.ResolveLocal(ctx, username); err != nil {
		h.writeError(c, err)
		return
	}
	page, paged, err := pageParam(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	total, err := h.svc.FollowersCount(ctx, username)
	if err != nil {
		h.writeError(c, err)
		return
	}

	id := h.fed.FollowersURI(username)
	if !paged {
		renderActivity(c, http.StatusOK, collection(id, total))
		return
	}

	followers, err := h.db.ReadFollowers(ctx, username, collectionPageSize, (page-1)*collectionPageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]any, 0, len(followers))
	for _, follower := range followers {
		items = append(items, follower.URI)
	}
	renderActivity(c, http.StatusOK, collectionPage(id, total, page, items))
}

// handleOutbox serves the user's posts wrapped in Create activities.
func (h *handler) handleOutbox(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.Param("username")
	if _, err := h.svc.ResolveLocal(ctx, username); err != nil {
		h.writeError(c, err)
		return
	}
	page, paged, err := pageParam(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	total, err := h.db.CountPostsByUsername(ctx, username)
	if err != nil {
		h.writeError(c, err)
		return
	}

	id := h.fed.OutboxURI(username)
	if !paged {
		renderActivity(c, http.StatusOK, collection(id, total))
		return
	}

	posts, err := h.db.ReadPostsByUsername(ctx, username, collectionPageSize, (page-1)*collectionPageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := make([]any, 0, len(posts))
	for i := range posts {
		create := h.fed.NewCreate(username, &posts[i].Post)
		create.Context = nil
		items = append(items, create)
	}
	renderActivity(c, http.StatusOK, collectionPage(id, total, page, items))
}

func collection(id string, total int) *activitypub.OrderedCollection {
	col := &activitypub.OrderedCollection{
		Context:    activitypub.ActivityStreamsContext,
		ID:         id,
		Type:       "OrderedCollection",
		TotalItems: total,
	}
	if total > 0 {
		col.First = pageURI(id, 1)
	}
	return col
}

func collectionPage(id string, total, page int, items []any) *activitypub.OrderedCollection {
	col := &activitypub.OrderedCollection{
		Context:      activitypub.ActivityStreamsContext,
		ID:           pageURI(id, page),
		Type:         "OrderedCollectionPage",
		TotalItems:   total,
		PartOf:       id,
		OrderedItems: items,
	}
	if page*collectionPageSize < total {
		col.Next = pageURI(id, page+1)
	}
	if page > 1 {
		col.Prev = pageURI(id, page-1)
	}
	return col
}

func pageURI(id string, page int) string {
	return fmt.Sprintf("%s?page=%d", id, page)
}
