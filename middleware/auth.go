package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/freshgroup/dashboard/backend/auth"
	"github.com/freshgroup/dashboard/backend/logger"
	"github.com/freshgroup/dashboard/backend/models"
)

const (
	// Context keys
	PrincipalKey = "principal"
	RequestIDKey = "request-id"
)

// AuthMiddleware verifies the bearer token and stores the caller's principal.
func AuthMiddleware(issuer *auth.Issuer, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "unauthenticated", "Missing bearer token")
			return
		}

		principal, err := issuer.Parse(strings.TrimSpace(token))
		if err != nil {
			log.Debug("Rejected token", "request_id", GetRequestID(c), "error", err)
			abort(c, http.StatusUnauthorized, "unauthenticated", "Invalid or expired token")
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// RequireRoles rejects principals whose role is not listed.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "authorization_denied", "Your role may not access this resource")
	}
}

// GetPrincipal retrieves the authenticated principal from Gin context
func GetPrincipal(c *gin.Context) auth.Principal {
	v, exists := c.Get(PrincipalKey)
	if !exists {
		return auth.Principal{}
	}
	p, _ := v.(auth.Principal)
	return p
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorBody{Error: models.ErrorDetail{Message: message, Code: code}})
}
