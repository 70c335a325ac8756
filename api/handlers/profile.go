package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"newsjunkies/services"
	"newsjunkies/store"
)

// GetProfile - профиль пользователя со счетчиками подписок
func (h *Handlers) GetProfile(c *gin.Context) {
	userID := c.Param("id")
	ctl, err := h.controller(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var st store.ProfileState
	if ctl != nil {
		st, err = ctl.ExecuteProfile(c.Request.Context(), store.LoadProfileWithFollowData{UserID: userID})
		if err != nil {
			respondError(c, err)
			return
		}
	} else {
		st, err = h.anonymousProfile(c, userID)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	if st.Profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListProfiles - профили для страницы поиска людей
func (h *Handlers) ListProfiles(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	maxLimit := h.FeedMax
	if maxLimit <= 0 {
		maxLimit = services.MaxFeedLimit
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	ctl, err := h.controller(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var profiles *services.ProfileCache
	if ctl != nil {
		profiles = ctl.Profiles
	} else {
		_, profiles = h.anonymous()
	}
	list, err := profiles.ListProfiles(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": list})
}

func (h *Handlers) anonymousProfile(c *gin.Context, userID string) (store.ProfileState, error) {
	_, profiles := h.anonymous()
	st := store.ProfileState{Status: store.StatusReady}
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		st.Profile, err = profiles.Get(ctx, userID, false)
		return err
	})
	g.Go(func() error {
		var err error
		st.FollowersCount, st.FollowingCount, err = profiles.FollowCounts(ctx, userID)
		return err
	})
	return st, g.Wait()
}

func (h *Handlers) UpdateProfile(c *gin.Context) {
	var patch services.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	h.profileCommand(c, store.UpdateProfile{Patch: patch})
}

// UploadPicture принимает картинку в поле "picture" multipart-формы
func (h *Handlers) UploadPicture(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUpload+1<<20)
	file, err := c.FormFile("picture")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "picture file is required"})
		return
	}
	if file.Size > h.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "picture is too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read picture"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read picture"})
		return
	}
	h.profileCommand(c, store.UploadPicture{Data: data})
}

func (h *Handlers) DeletePicture(c *gin.Context) {
	h.profileCommand(c, store.DeletePicture{})
}

func (h *Handlers) Follow(c *gin.Context) {
	h.profileCommand(c, store.Follow{FollowingID: c.Param("id")})
}

func (h *Handlers) Unfollow(c *gin.Context) {
	h.profileCommand(c, store.Unfollow{FollowingID: c.Param("id")})
}

func (h *Handlers) profileCommand(c *gin.Context, cmd store.Command) {
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	st, err := ctl.ExecuteProfile(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type TrackTagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

// TrackTag запоминает тег, который пользователь открыл
func (h *Handlers) TrackTag(c *gin.Context) {
	var req TrackTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	if err := ctl.TrackView(c.Request.Context(), req.Tag); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// RecentTags - недавно просмотренные теги текущего пользователя
func (h *Handlers) RecentTags(c *gin.Context) {
	ctl, ok := h.requireController(c)
	if !ok {
		return
	}
	p, err := ctl.Profiles.Get(c.Request.Context(), ctl.UserID(), false)
	if err != nil {
		respondError(c, err)
		return
	}
	tags := []string{}
	if p != nil && p.RecentlyViewedTags != nil {
		tags = p.RecentlyViewedTags
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}
