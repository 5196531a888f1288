package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deemkeen/murmur/domain"
	"github.com/gin-gonic/gin"
)

type actorView struct {
	URI         string `json:"uri"`
	Handle      string `json:"handle"`
	Name        string `json:"name"`
	Inbox       string `json:"inbox"`
	SharedInbox string `json:"sharedInbox,omitempty"`
	Local       bool   `json:"local"`
}

type profileView struct {
	actorView
	Followers int `json:"followers"`
	Following int `json:"following"`
	Posts     int `json:"posts"`
}

type postView struct {
	ID      int64      `json:"id"`
	URI     string     `json:"uri"`
	URL     string     `json:"url,omitempty"`
	Content string     `json:"content"`
	Created time.Time  `json:"created"`
	Author  *actorView `json:"author,omitempty"`
}

type listView[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newActorView(a *domain.Actor) actorView {
	return actorView{
		URI:         a.URI,
		Handle:      a.Handle,
		Name:        a.DisplayName(),
		Inbox:       a.InboxURL,
		SharedInbox: a.SharedInboxURL.String,
		Local:       a.IsLocal(),
	}
}

func newPostView(p *domain.Post, author *domain.Actor) postView {
	view := postView{ID: p.Id, URI: p.URI, URL: p.URL, Content: p.Content, Created: p.Created}
	if author != nil {
		a := newActorView(author)
		view.Author = &a
	}
	return view
}

func timelineViews(posts []domain.TimelinePost) []postView {
	views := make([]postView, 0, len(posts))
	for i := range posts {
		views = append(views, newPostView(&posts[i].Post, &posts[i].Author))
	}
	return views
}

func actorViews(actors []domain.Actor) []actorView {
	views := make([]actorView, 0, len(actors))
	for i := range actors {
		views = append(views, newActorView(&actors[i]))
	}
	return views
}

type setupRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (h *handler) apiSetup(c *gin.Context) {
	var req setupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	actor, err := h.svc.Setup(c.Request.Context(), req.Username, req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profileView{actorView: newActorView(actor)})
}

func (h *handler) apiProfile(c *gin.Context) {
	profile, err := h.svc.Profile(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileView{
		actorView: newActorView(profile.Actor),
		Followers: profile.Followers,
		Following: profile.Following,
		Posts:     profile.Posts,
	})
}

type postRequest struct {
	Content string `json:"content"`
}

func (h *handler) apiCreatePost(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	post, err := h.svc.CreatePost(c.Request.Context(), c.Param("username"), req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPostView(post, nil))
}

func (h *handler) apiPost(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid post ID"})
		return
	}
	tp, err := h.db.ReadPost(c.Request.Context(), c.Param("username"), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostView(&tp.Post, &tp.Author))
}

func (h *handler) apiPosts(c *gin.Context) {
	limit, offset, err := limitOffset(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	username := c.Param("username")
	if _, err := h.svc.ResolveLocal(ctx, username); err != nil {
		h.writeError(c, err)
		return
	}
	posts, err := h.db.ReadPostsByUsername(ctx, username, limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listView[postView]{Items: timelineViews(posts), Limit: limit, Offset: offset})
}

func (h *handler) apiTimeline(c *gin.Context) {
	limit, offset, err := limitOffset(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	posts, err := h.svc.Timeline(c.Request.Context(), c.Param("username"), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listView[postView]{Items: timelineViews(posts), Limit: limit, Offset: offset})
}

func (h *handler) apiFollowers(c *gin.Context) {
	h.listActors(c, false)
}

func (h *handler) apiFollowing(c *gin.Context) {
	h.listActors(c, true)
}

func (h *handler) listActors(c *gin.Context, following bool) {
	limit, offset, err := limitOffset(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	username := c.Param("username")
	if _, err := h.svc.ResolveLocal(ctx, username); err != nil {
		h.writeError(c, err)
		return
	}

	var actors []domain.Actor
	if following {
		actors, err = h.db.ReadFollowing(ctx, username, limit, offset)
	} else {
		actors, err = h.db.ReadFollowers(ctx, username, limit, offset)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listView[actorView]{Items: actorViews(actors), Limit: limit, Offset: offset})
}

type followRequest struct {
	Handle string `json:"handle"`
}

// apiFollow sends a Follow. The answer is 202 since the edge only appears
// once the remote server accepts.
func (h *handler) apiFollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Handle == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle is required"})
		return
	}
	actor, err := h.svc.Follow(c.Request.Context(), c.Param("username"), req.Handle)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if actor.IsLocal() {
		c.JSON(http.StatusOK, gin.H{"status": "following", "actor": newActorView(actor)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "pending", "actor": newActorView(actor)})
}

