package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"newsjunkies/models"
	"newsjunkies/services"
	"newsjunkies/store"
)

func feedResponse(posts []models.FeedPost, limit int) models.FeedResponse {
	if posts == nil {
		posts = []models.FeedPost{}
	}
	return models.FeedResponse{Posts: posts, HasMore: limit > 0 && len(posts) >= limit}
}

func queryLimit(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return 0, false
	}
	return n, true
}

// bindFeedQuery читает фильтры ленты из query-параметров; при ошибке отвечает 400
func bindFeedQuery(c *gin.Context) (services.FeedQuery, bool) {
	var q services.FeedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query", "details": err.Error()})
		return q, false
	}
	if q.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return q, false
	}
	switch q.TagMode {
	case "", services.TagsUnion, services.TagsIntersection:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "tag_mode must be union or intersection"})
		return q, false
	}
	return q, true
}

// Feed - общая лента с фильтрами по тегам и заголовку
func (h *Handlers) Feed(c *gin.Context) {
	q, ok := bindFeedQuery(c)
	if !ok {
		return
	}

	ctl, err := h.controller(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if ctl == nil {
		feed, _ := h.anonymous()
		posts, err := feed.GlobalFeed(c.Request.Context(), q)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, feedResponse(posts, feed.Limit(q.Limit)))
		return
	}

	posts, err := ctl.ExecutePosts(c.Request.Context(), store.LoadFeed{Query: q})
	if err != nil {
		respondError(c, err)
		return
	}
	ctl.TrackTags(c.Request.Context(), q.Tags)
	c.JSON(http.StatusOK, feedResponse(posts, ctl.Feed.Limit(q.Limit)))
}

// FollowingFeed - посты тех, на кого подписан пользователь, с теми же фильтрами
func (h *Handlers) FollowingFeed(c *gin.Context) {
	q, ok := bindFeedQuery(c)
	if !ok {
		return
	}
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	posts, err := ctl.ExecutePosts(c.Request.Context(), store.LoadFollowingFeed{Query: q})
	if err != nil {
		respondError(c, err)
		return
	}
	ctl.TrackTags(c.Request.Context(), q.Tags)
	c.JSON(http.StatusOK, feedResponse(posts, ctl.Feed.Limit(q.Limit)))
}

// UserPosts - посты и репосты пользователя
func (h *Handlers) UserPosts(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	userID := c.Param("id")

	ctl, err := h.controller(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if ctl == nil {
		feed, _ := h.anonymous()
		posts, err := feed.UserFeed(c.Request.Context(), userID, limit, "")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, feedResponse(posts, feed.Limit(limit)))
		return
	}

	posts, err := ctl.ExecutePosts(c.Request.Context(), store.LoadUserFeed{UserID: userID, Limit: limit})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feedResponse(posts, ctl.Feed.Limit(limit)))
}
