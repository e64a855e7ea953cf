package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"talentflex/internal/application"
	"talentflex/internal/auth"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware 校验访问令牌并将 userID 与角色注入上下文。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		rawToken := parts[1]
		if strings.TrimSpace(rawToken) == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		SetCaller(c, claims.UserID, claims.Role)
		c.Next()
	}
}

// SetCaller stores the authenticated caller on the context.
func SetCaller(c *gin.Context, userID string, role application.Role) {
	c.Set(userIDKey, userID)
	c.Set(userRoleKey, role)
}

// Caller 返回当前调用方，未认证时 ok 为 false。
func Caller(c *gin.Context) (userID string, role application.Role, ok bool) {
	userID = c.GetString(userIDKey)
	value, exists := c.Get(userRoleKey)
	if !exists || userID == "" {
		return "", "", false
	}
	role, ok = value.(application.Role)
	return userID, role, ok
}

// RequireRole 拒绝角色不在 roles 中的调用方。必须挂在 AuthMiddleware 之后。
func RequireRole(roles ...application.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, ok := Caller(c)
		if !ok {
			abortUnauthorized(c)
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
