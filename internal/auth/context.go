package auth

import (
	"github.com/gin-gonic/gin"

	"taskmanager/internal/models"
)

const userKey = "auth.user"

// SetUser stores the authenticated user on the request context.
func SetUser(c *gin.Context, u *models.User) {
	c.Set(userKey, u)
}

// CurrentUser returns the authenticated user or nil for anonymous requests.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}
