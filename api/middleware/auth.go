package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"newsjunkies/gateway"
)

const (
	SessionKey = "session"
	UserIDKey  = "user_id"
)

// TokenVerifier проверяет токен сессии
type TokenVerifier interface {
	Verify(token string) (*gateway.Session, error)
}

// bearerToken берет токен из Authorization: Bearer или из ?token= (для websocket)
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return c.Query("token")
}

// AuthMiddleware пропускает только запросы с действующим токеном
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		session, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(SessionKey, session)
		c.Set(UserIDKey, session.UserID)
		c.Next()
	}
}

// OptionalAuthMiddleware - сессия, если токен есть и действителен; иначе анонимный запрос
func OptionalAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if session, err := verifier.Verify(token); err == nil {
				c.Set(SessionKey, session)
				c.Set(UserIDKey, session.UserID)
			}
		}
		c.Next()
	}
}

// Session возвращает сессию, положенную middleware
func Session(c *gin.Context) (*gateway.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*gateway.Session)
	return s, ok && s != nil
}
