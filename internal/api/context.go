package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pipeline/internal/api/middleware"
	"pipeline/internal/applications"
	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

const timezoneHeader = "X-Timezone"

func userIDFromContext(c *gin.Context) (uint, bool) {
	id := c.GetUint(middleware.UserIDKey)
	return id, id != 0
}

// loadActor resolves the caller from the database, so a revoked admin flag
// takes effect before the access token expires.
func loadActor(c *gin.Context, db *gorm.DB) (applications.Actor, bool) {
	id, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return applications.Actor{}, false
	}
	var user database.User
	err := db.WithContext(c.Request.Context()).Select("id", "username", "is_admin").First(&user, id).Error
	if err != nil {
		if errcode.CodeOf(errcode.FromDB("api.loadActor", "user", err)) == errcode.CodeNotFound {
			AbortUnauthorized(c)
			return applications.Actor{}, false
		}
		respondError(c, errcode.Internal("api.loadActor", err))
		return applications.Actor{}, false
	}
	return applications.Actor{ID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin}, true
}
