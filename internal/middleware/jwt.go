package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// tokenSource pulls the raw bearer token out of a request.
type tokenSource func(c *gin.Context) string

// headerOrQuery reads the Authorization header, falling back to ?token=
// for EventSource (SSE), which cannot send headers.
func headerOrQuery(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// queryOnly reads ?token=. Browsers cannot set headers on a WebSocket
// upgrade.
func queryOnly(c *gin.Context) string {
	return c.Query("token")
}

// RequireUserJWT validates a participant JWT.
func RequireUserJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireRoleJWT(authService, headerOrQuery, service.RoleUser, response.ErrUserAccessOnly)
}

// RequireAdminJWT validates a proctor JWT.
func RequireAdminJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireRoleJWT(authService, headerOrQuery, service.RoleAdmin, response.ErrAdminAccessOnly)
}

// RequireUserWSAuth validates a participant JWT on a WebSocket upgrade.
func RequireUserWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireRoleJWT(authService, queryOnly, service.RoleUser, response.ErrUserAccessOnly)
}

func requireRoleJWT(authService *service.AuthService, source tokenSource, role service.Role, denied response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := source(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.Role != role {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}
