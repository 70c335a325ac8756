package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"newsjunkies/services"
	"newsjunkies/store"
)

// CreatePost создает новый пост текущего пользователя
func (h *Handlers) CreatePost(c *gin.Context) {
	var in services.PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	posts, err := ctl.ExecutePosts(c.Request.Context(), store.CreatePost{Input: in})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, posts[0])
}

func (h *Handlers) UpdatePost(c *gin.Context) {
	var patch services.PostPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	posts, err := ctl.ExecutePosts(c.Request.Context(), store.UpdatePost{PostID: c.Param("id"), Patch: patch})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posts[0])
}

func (h *Handlers) DeletePost(c *gin.Context) {
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	if err := ctl.Dispatch(c.Request.Context(), store.DeletePost{PostID: c.Param("id")}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handlers) SharePost(c *gin.Context) {
	h.toggleShare(c, true)
}

func (h *Handlers) UnsharePost(c *gin.Context) {
	h.toggleShare(c, false)
}

func (h *Handlers) toggleShare(c *gin.Context, shared bool) {
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	var cmd store.Command = store.SharePost{PostID: c.Param("id")}
	if !shared {
		cmd = store.UnsharePost{PostID: c.Param("id")}
	}
	if err := ctl.Dispatch(c.Request.Context(), cmd); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post_id": c.Param("id"), "is_shared_by_current_user": shared})
}
