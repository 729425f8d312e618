package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pipeline/internal/auth"
	"pipeline/internal/database"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey             = "userID"
	IsAdminKey            = "isAdmin"
	MustChangePasswordKey = "mustChangePassword"
)

const accessTokenCookie = "access_token"

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
}

// AuthMiddleware 校验访问令牌（Bearer 头或 access_token Cookie）并将身份注入上下文。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken := bearerToken(c.GetHeader("Authorization"))
		if rawToken == "" {
			if cookie, err := c.Cookie(accessTokenCookie); err == nil {
				rawToken = strings.TrimSpace(cookie)
			}
		}
		if rawToken == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateAccessToken(rawToken)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(IsAdminKey, claims.IsAdmin)
		c.Set(MustChangePasswordKey, claims.MustChangePassword)
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// RequireAdmin 以数据库为准校验管理员身份，token 中的声明可能已过期。
func RequireAdmin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint(UserIDKey)
		if userID == 0 {
			abortUnauthorized(c)
			return
		}
		var user database.User
		err := db.WithContext(c.Request.Context()).Select("id", "is_admin").First(&user, userID).Error
		if err != nil {
			abortUnauthorized(c)
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required", "code": "forbidden"})
			return
		}
		c.Set(IsAdminKey, true)
		c.Next()
	}
}
