package handlers

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"newsjunkies/services"
)

// Media отдает загруженные картинки: /media/:bucket/*path
func (h *Handlers) Media(c *gin.Context) {
	bucket := c.Param("bucket")
	path := strings.TrimPrefix(c.Param("path"), "/")
	if h.blobs == nil || bucket != services.PictureBucket || path == "" || strings.Contains(path, "..") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	var buf bytes.Buffer
	if err := h.blobs.OpenBlob(c.Request.Context(), bucket, path, &buf); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}
