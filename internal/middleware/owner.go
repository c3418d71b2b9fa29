package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/voxnote/internal/pkg/errcode"
	"github.com/xxxsen/voxnote/internal/pkg/response"
)

const ContextOwnerIDKey = "owner_id"

// RequireOwner extracts the caller identity from the X-Owner-Id header.
// Ownership scoping in the service layer trusts this value; putting real
// authentication in front of it is a deployment concern.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader("X-Owner-Id")
		if ownerID == "" {
			response.Error(c, errcode.ErrForbidden, "missing owner id")
			c.Abort()
			return
		}
		c.Set(ContextOwnerIDKey, ownerID)
		c.Next()
	}
}
