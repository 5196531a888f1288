package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/murmur/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const rssItemLimit = 50

func (h *handler) handleRSS(c *gin.Context) {
	username := c.Param("username")
	rss, err := h.buildRSS(c, username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}

// buildRSS renders the newest posts of a local user as an RSS 2.0 feed.
func (h *handler) buildRSS(c *gin.Context, username string) (string, error) {
	ctx := c.Request.Context()
	actor, err := h.svc.ResolveLocal(ctx, username)
	if err != nil {
		return "", err
	}
	posts, err := h.db.ReadPostsByUsername(ctx, username, rssItemLimit, 0)
	if err != nil {
		return "", err
	}

	author := &feeds.Author{Name: actor.DisplayName(), Email: fmt.Sprintf("%s@%s", username, h.fed.Domain)}
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", util.Name, h.fed.Handle(username)),
		Link:        &feeds.Link{Href: actor.URI},
		Description: fmt.Sprintf("Posts by %s", actor.DisplayName()),
		Author:      author,
		Created:     time.Now(),
	}
	if len(posts) > 0 {
		feed.Created = posts[0].Post.Created
	}

	for _, tp := range posts {
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      tp.Post.URI,
			Title:   tp.Post.Created.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: tp.Post.URL},
			Content: tp.Post.Content,
			Author:  author,
			Created: tp.Post.Created,
		})
	}
	return feed.ToRss()
}
