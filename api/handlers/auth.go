package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"newsjunkies/api/middleware"
	"newsjunkies/gateway"
)

type AuthResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func authResponse(s *gateway.Session) AuthResponse {
	return AuthResponse{UserID: s.UserID, Email: s.Email, Token: s.AccessToken, ExpiresAt: s.ExpiresAt}
}

func (h *Handlers) SignUp(c *gin.Context) {
	var creds gateway.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	s, err := h.registry.SignUp(c.Request.Context(), creds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, authResponse(s))
}

func (h *Handlers) SignIn(c *gin.Context) {
	var creds gateway.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	s, err := h.registry.SignIn(c.Request.Context(), creds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse(s))
}

func (h *Handlers) SignOut(c *gin.Context) {
	s, ok := middleware.Session(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	h.registry.SignOut(c.Request.Context(), s)
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}
