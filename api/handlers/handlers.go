package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"newsjunkies/api/middleware"
	"newsjunkies/gateway"
	"newsjunkies/services"
	"newsjunkies/session"
)

// BlobReader отдает содержимое блоба (аватарки) по бакету и пути
type BlobReader interface {
	OpenBlob(ctx context.Context, bucket, path string, w io.Writer) error
}

// Handlers - HTTP-обработчики поверх контроллеров пользователей
type Handlers struct {
	registry *session.Registry
	gw       gateway.Gateway
	blobs    BlobReader

	FeedLimit int
	FeedMax   int
	MaxUpload int64
}

func New(registry *session.Registry, gw gateway.Gateway, blobs BlobReader) *Handlers {
	return &Handlers{
		registry:  registry,
		gw:        gw,
		blobs:     blobs,
		MaxUpload: 10 << 20,
	}
}

// controller - контроллер пользователя запроса; nil для анонимного запроса
func (h *Handlers) controller(c *gin.Context) (*session.Controller, error) {
	s, ok := middleware.Session(c)
	if !ok {
		return nil, nil
	}
	return h.registry.Get(c.Request.Context(), s)
}

// requireController - как controller, но без сессии отвечает 401
func (h *Handlers) requireController(c *gin.Context) (*session.Controller, bool) {
	ctl, err := h.controller(c)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if ctl == nil {
		respondError(c, session.ErrNoSession)
		return nil, false
	}
	return ctl, true
}

// anonymous - кеши на один запрос для читателя без сессии
func (h *Handlers) anonymous() (*services.FeedAggregator, *services.ProfileCache) {
	profiles := services.NewProfileCache(h.gw)
	feed := services.NewFeedAggregator(h.gw, profiles, services.NewShareStatusCache(h.gw))
	if h.FeedLimit > 0 {
		feed.DefaultLimit = h.FeedLimit
	}
	if h.FeedMax > 0 {
		feed.MaxLimit = h.FeedMax
	}
	return feed, profiles
}

func respondError(c *gin.Context, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case services.IsRemote(err):
		glog.Warningf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Storage is unavailable"})
	default:
		glog.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
