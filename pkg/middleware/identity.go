package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/reservation-engine/pkg/response"
)

const (
	// UserIDHeader carries the caller identity set by the upstream gateway
	UserIDHeader = "X-User-ID"
	// ContextKeyUserID is the context key for the caller identity
	ContextKeyUserID = "user_id"
)

// Identity copies X-User-ID into the gin context. Authentication happens
// upstream; requests without the header are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			response.Unauthorized(c, "X-User-ID header is required")
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// GetUserID extracts the caller identity from gin context
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
