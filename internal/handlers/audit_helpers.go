package handlers

import (
	"github.com/gin-gonic/gin"

	"social-chat/internal/middleware"
	"social-chat/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(observability.RequestIDKey); id != "" {
		return id
	}
	id := observability.RequestID(c.Request)
	c.Set(observability.RequestIDKey, id)
	return id
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString(middleware.UserIDKey); userID != "" {
		return &userID
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		return &header
	}
	return nil
}
